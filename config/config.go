package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "wifip2p"
	// DefaultInterface is the P2P device interface brought up on enable.
	DefaultInterface = "p2p0"
	// DefaultDeviceType is the WPS primary device type (computer/PC).
	DefaultDeviceType = "1-0050F204-1"
	// DefaultMetricsAddress is where /metrics is served.
	DefaultMetricsAddress = "127.0.0.1:9464"
	// DefaultAnnouncePort is the port advertised to other group members.
	DefaultAnnouncePort = 9999
	// DefaultLogLevel is used when no level is configured.
	DefaultLogLevel = "info"
	// UnsetGroupOwnerIntent lets the driver pick its own intent.
	UnsetGroupOwnerIntent = -1
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
)

// DeviceConfig contains persistent local-device settings.
type DeviceConfig struct {
	DeviceID      string `json:"device_id" toml:"device_id"`
	DeviceName    string `json:"device_name" toml:"device_name"`
	DeviceAddress string `json:"device_address" toml:"device_address"`
	DeviceType    string `json:"device_type" toml:"device_type"`
	CountryCode   string `json:"country_code" toml:"country_code"`
	Interface     string `json:"interface" toml:"interface"`
	// GroupOwnerIntent is -1 when unset, otherwise 0..15.
	GroupOwnerIntent        int    `json:"group_owner_intent" toml:"group_owner_intent"`
	DisablePersistentGroups bool   `json:"disable_persistent_groups" toml:"disable_persistent_groups"`
	MultiChannel            bool   `json:"multi_channel" toml:"multi_channel"`
	AutoAccept              bool   `json:"auto_accept" toml:"auto_accept"`
	MetricsAddress          string `json:"metrics_address" toml:"metrics_address"`
	// AnnouncePort is advertised on the group link; 0 disables the announcer.
	AnnouncePort int    `json:"announce_port" toml:"announce_port"`
	LogLevel     string `json:"log_level" toml:"log_level"`
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If WIFIP2P_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv("WIFIP2P_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory if needed.
func EnsureDataDirectories(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("create directory %q: %w", dataDir, err)
	}
	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*DeviceConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg DeviceConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *DeviceConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures the data directory and config exist, then returns
// both. An empty dataDir resolves the default location.
func LoadOrCreate(dataDir string) (*DeviceConfig, string, error) {
	if dataDir == "" {
		var err error
		dataDir, err = ResolveDataDir()
		if err != nil {
			return nil, "", err
		}
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig()
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

// ApplyOverrides decodes a TOML file over cfg. Keys absent from the file keep
// their current values. The result is validated then normalized but not saved.
func ApplyOverrides(cfg *DeviceConfig, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("parse config overrides: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	normalizeDefaults(cfg)
	return nil
}

// Validate rejects values the machine cannot apply.
func Validate(cfg *DeviceConfig) error {
	if cfg.GroupOwnerIntent < UnsetGroupOwnerIntent || cfg.GroupOwnerIntent > 15 {
		return fmt.Errorf("group owner intent %d out of range", cfg.GroupOwnerIntent)
	}
	if cfg.CountryCode != "" && len(cfg.CountryCode) != 2 {
		return fmt.Errorf("country code %q must be two letters", cfg.CountryCode)
	}
	if cfg.AnnouncePort < 0 || cfg.AnnouncePort > 65535 {
		return fmt.Errorf("announce port %d out of range", cfg.AnnouncePort)
	}
	return nil
}

func defaultConfig() *DeviceConfig {
	cfg := &DeviceConfig{
		DeviceID:         uuid.NewString(),
		DeviceName:       defaultDeviceName(),
		DeviceType:       DefaultDeviceType,
		Interface:        DefaultInterface,
		GroupOwnerIntent: UnsetGroupOwnerIntent,
		MetricsAddress:   DefaultMetricsAddress,
		AnnouncePort:     DefaultAnnouncePort,
		LogLevel:         DefaultLogLevel,
	}
	cfg.DeviceAddress = addressFromDeviceID(cfg.DeviceID)
	return cfg
}

func normalizeDefaults(cfg *DeviceConfig) bool {
	updated := false

	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
		updated = true
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = defaultDeviceName()
		updated = true
	}
	if address := strings.ToLower(strings.TrimSpace(cfg.DeviceAddress)); address != cfg.DeviceAddress {
		cfg.DeviceAddress = address
		updated = true
	}
	if cfg.DeviceAddress == "" {
		cfg.DeviceAddress = addressFromDeviceID(cfg.DeviceID)
		updated = true
	}
	if cfg.DeviceType == "" {
		cfg.DeviceType = DefaultDeviceType
		updated = true
	}
	if code := strings.ToUpper(strings.TrimSpace(cfg.CountryCode)); code != cfg.CountryCode {
		cfg.CountryCode = code
		updated = true
	}
	if cfg.Interface == "" {
		cfg.Interface = DefaultInterface
		updated = true
	}
	if cfg.GroupOwnerIntent < UnsetGroupOwnerIntent || cfg.GroupOwnerIntent > 15 {
		cfg.GroupOwnerIntent = UnsetGroupOwnerIntent
		updated = true
	}
	if cfg.MetricsAddress == "" {
		cfg.MetricsAddress = DefaultMetricsAddress
		updated = true
	}
	if cfg.AnnouncePort < 0 || cfg.AnnouncePort > 65535 {
		cfg.AnnouncePort = DefaultAnnouncePort
		updated = true
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
		updated = true
	}

	return updated
}

func defaultDeviceName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "wifip2p"
}

// addressFromDeviceID derives a stable locally administered address.
func addressFromDeviceID(deviceID string) string {
	id, err := uuid.Parse(deviceID)
	if err != nil {
		id = uuid.New()
	}
	return fmt.Sprintf("02:%02x:%02x:%02x:%02x:%02x", id[0], id[1], id[2], id[3], id[4])
}
