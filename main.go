package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"wifip2p/config"
	"wifip2p/logger"
)

var (
	dataDirFlag  string
	configFlag   string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "wifip2p",
	Short: "Wi-Fi Direct group formation daemon",
	Long: `wifip2p drives peer discovery, group negotiation and group
lifecycle for a Wi-Fi Direct device, and keeps a local record of
persistent groups and group history.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Data directory (default: per-user config dir, or WIFIP2P_DATA_DIR)")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "TOML file applied over the stored config")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(groupsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the data directory, loads or creates the stored
// config, applies --config overrides and initializes logging.
func loadConfig() (*config.DeviceConfig, string, error) {
	cfg, cfgPath, err := config.LoadOrCreate(dataDirFlag)
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	if configFlag != "" {
		if err := config.ApplyOverrides(cfg, configFlag); err != nil {
			return nil, "", err
		}
	}

	logConfig := logger.DefaultConfig()
	if os.Getenv("WIFIP2P_LOG_LEVEL") == "" {
		logConfig.Level = cfg.LogLevel
	}
	if logLevelFlag != "" {
		logConfig.Level = logLevelFlag
	}
	if err := logger.Init(logConfig); err != nil {
		return nil, "", fmt.Errorf("init logger: %w", err)
	}
	log.Debug().Str("config", cfgPath).Msg("config loaded")

	return cfg, dataDirOf(cfgPath), nil
}
