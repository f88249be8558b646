package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/multierr"

	"wifip2p/config"
	"wifip2p/discovery"
	"wifip2p/driver"
	"wifip2p/logger"
	"wifip2p/machine"
	"wifip2p/models"
	"wifip2p/storage"
)

const (
	startupTimeout   = 10 * time.Second
	shutdownTimeout  = 10 * time.Second
	commandTimeout   = 5 * time.Second
	peerPollInterval = 50 * time.Millisecond
)

// runOptions carries the run command flags into the fx graph.
type runOptions struct {
	DataDir  string
	Peers    []driver.SimulatedPeer
	Discover bool
	Connect  string
}

var (
	runSimulate bool
	runPeers    []string
	runDiscover bool
	runConnect  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the group formation machine",
	Long: `Run starts the state machine against a driver, enables P2P and serves
metrics until interrupted.

Peers for the simulated driver are given as addr=name, with a ":go" suffix
for peers that win group owner negotiation:

  wifip2p run --simulate --peer 02:00:00:00:00:20=phone --peer 02:00:00:00:00:30=tv:go`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !runSimulate {
			return errors.New("no driver adapter is built in; use --simulate")
		}

		peers := make([]driver.SimulatedPeer, 0, len(runPeers))
		for _, raw := range runPeers {
			peer, err := parsePeerFlag(raw)
			if err != nil {
				return err
			}
			peers = append(peers, peer)
		}

		cfg, dataDir, err := loadConfig()
		if err != nil {
			return err
		}

		return runDaemon(cfg, runOptions{
			DataDir:  dataDir,
			Peers:    peers,
			Discover: runDiscover,
			Connect:  runConnect,
		})
	},
}

func init() {
	runCmd.Flags().BoolVar(&runSimulate, "simulate", false, "Use the in-process simulated driver")
	runCmd.Flags().StringArrayVar(&runPeers, "peer", nil, "Simulated peer as addr=name[:go] (repeatable)")
	runCmd.Flags().BoolVar(&runDiscover, "discover", true, "Start peer discovery after enabling")
	runCmd.Flags().StringVar(&runConnect, "connect", "", "Connect to this peer address after enabling")
}

func runDaemon(cfg *config.DeviceConfig, opts runOptions) error {
	app := fx.New(
		fx.Supply(cfg, opts),
		fx.Provide(
			newStore,
			newSimulator,
			newRegistry,
			newRouter,
			newMachine,
		),
		fx.Invoke(
			registerAnnouncer,
			registerMetricsServer,
			registerMemberScanner,
			registerStartup,
		),
		fx.StartTimeout(startupTimeout),
		fx.StopTimeout(shutdownTimeout),
		fx.NopLogger,
	)
	if err := app.Err(); err != nil {
		return fmt.Errorf("build app: %w", err)
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), startupTimeout)
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	fmt.Printf("Device Address:  %s\n", cfg.DeviceAddress)
	fmt.Printf("Device Name:     %s\n", cfg.DeviceName)
	fmt.Printf("Interface:       %s\n", cfg.Interface)
	fmt.Printf("Data Directory:  %s\n", opts.DataDir)
	fmt.Printf("Metrics:         http://%s/metrics\n", cfg.MetricsAddress)
	fmt.Println("Status:          running (press Ctrl+C to stop)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	fmt.Println("Status:          shutting down")

	stopCtx, cancelStop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelStop()
	return app.Stop(stopCtx)
}

func newStore(lc fx.Lifecycle, opts runOptions) (*storage.Store, error) {
	store, dbPath, err := storage.Open(opts.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	log := logger.WithComponent("storage")
	log.Debug().Str("path", dbPath).Msg("database opened")
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return store.Close()
		},
	})
	return store, nil
}

func newSimulator(cfg *config.DeviceConfig, opts runOptions) *driver.Simulator {
	return driver.NewSimulator(driver.SimulatorOptions{
		DeviceAddress: cfg.DeviceAddress,
		Peers:         opts.Peers,
		AutoRespond:   true,
		Delay:         50 * time.Millisecond,
		Logger:        logger.WithComponent("driver"),
	})
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

type machineParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.DeviceConfig
	Store     *storage.Store
	Simulator *driver.Simulator
	Registry  *prometheus.Registry
	Router    *notificationRouter
}

func newMachine(p machineParams) (*machine.Machine, error) {
	name := p.Config.DeviceName
	if stored, err := p.Store.DeviceName(); err == nil {
		name = stored
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("read device name: %w", err)
	}

	m, err := machine.New(machine.Options{
		Driver:                  p.Simulator,
		Addressing:              p.Simulator,
		Station:                 p.Simulator,
		Notifier:                p.Router,
		History:                 p.Store,
		Groups:                  p.Store,
		Settings:                p.Store,
		Logger:                  logger.GetLogger(),
		Registerer:              p.Registry,
		Interface:               p.Config.Interface,
		DeviceName:              name,
		DeviceType:              p.Config.DeviceType,
		CountryCode:             p.Config.CountryCode,
		DisablePersistentGroups: p.Config.DisablePersistentGroups,
		MultiChannel:            p.Config.MultiChannel,
	})
	if err != nil {
		return nil, fmt.Errorf("create machine: %w", err)
	}
	p.Simulator.SetSink(m.PostEvent)
	p.Router.attach(m)

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return m.Start()
		},
		OnStop: func(context.Context) error {
			m.Stop()
			return nil
		},
	})
	return m, nil
}

func registerAnnouncer(lc fx.Lifecycle, cfg *config.DeviceConfig, router *notificationRouter) error {
	if cfg.AnnouncePort == 0 {
		return nil
	}
	announcer, err := discovery.NewAnnouncer(discovery.Config{
		DeviceAddress: cfg.DeviceAddress,
		DeviceName:    cfg.DeviceName,
		Port:          cfg.AnnouncePort,
		Logger:        logger.GetLogger(),
	})
	if err != nil {
		return fmt.Errorf("create announcer: %w", err)
	}
	router.setAnnouncer(announcer)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			announcer.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			announcer.Stop()
			return nil
		},
	})
	return nil
}

func newRouter(cfg *config.DeviceConfig) *notificationRouter {
	return newNotificationRouter(logger.WithComponent("notify"), cfg.AutoAccept)
}

func registerMetricsServer(lc fx.Lifecycle, cfg *config.DeviceConfig, reg *prometheus.Registry) {
	log := logger.WithComponent("metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	server := &http.Server{
		Addr:              cfg.MetricsAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			listener, err := net.Listen("tcp", server.Addr)
			if err != nil {
				return fmt.Errorf("listen metrics %s: %w", server.Addr, err)
			}
			go func() {
				if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Msg("metrics server stopped")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}

func registerMemberScanner(lc fx.Lifecycle, cfg *config.DeviceConfig, m *machine.Machine) error {
	if cfg.AnnouncePort == 0 {
		return nil
	}
	log := logger.WithComponent("members")
	scanner, err := discovery.NewMemberScanner(discovery.Config{
		DeviceAddress: cfg.DeviceAddress,
		OnResolved:    m.UpdatePeerAddress,
		Logger:        logger.GetLogger(),
	})
	if err != nil {
		return fmt.Errorf("create member scanner: %w", err)
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			scanner.Start()
			go logMemberEvents(log, scanner.Events())
			return nil
		},
		OnStop: func(context.Context) error {
			scanner.Stop()
			return nil
		},
	})
	return nil
}

func logMemberEvents(log zerolog.Logger, events <-chan discovery.Event) {
	for event := range events {
		switch event.Type {
		case discovery.EventMemberUpserted:
			log.Info().
				Str("device_address", event.Member.DeviceAddress).
				Str("name", event.Member.Name).
				Strs("addresses", event.Member.Addresses).
				Bool("owner", event.Member.IsOwner).
				Msg("group member seen")
		case discovery.EventMemberRemoved:
			log.Info().Str("device_address", event.Member.DeviceAddress).Msg("group member left")
		}
	}
}

// registerStartup enables P2P once every component is running, then kicks
// off the requested discovery and connection.
func registerStartup(lc fx.Lifecycle, cfg *config.DeviceConfig, opts runOptions, m *machine.Machine) {
	log := logger.WithComponent("startup")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				errs := startupSequence(ctx, cfg, opts, m)
				for _, err := range multierr.Errors(errs) {
					log.Warn().Err(err).Msg("startup step failed")
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

func startupSequence(ctx context.Context, cfg *config.DeviceConfig, opts runOptions, m *machine.Machine) error {
	if err := await(ctx, m, m.Enable()); err != nil {
		return fmt.Errorf("enable: %w", err)
	}

	var errs error
	if opts.Discover || opts.Connect != "" {
		errs = multierr.Append(errs, await(ctx, m, m.DiscoverPeers()))
	}
	if opts.Connect != "" {
		if err := waitForPeer(ctx, m, opts.Connect); err != nil {
			return multierr.Append(errs, fmt.Errorf("find %s: %w", opts.Connect, err))
		}
		connectCfg := models.NewConnectionConfig(opts.Connect)
		connectCfg.GroupOwnerIntent = cfg.GroupOwnerIntent
		errs = multierr.Append(errs, await(ctx, m, m.Connect(connectCfg)))
	}
	return errs
}

// waitForPeer polls the peer list until addr has been discovered. Connect
// rejects a target the machine has not seen yet.
func waitForPeer(ctx context.Context, m *machine.Machine, addr string) error {
	addr = models.NormalizeAddress(addr)
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	ticker := time.NewTicker(peerPollInterval)
	defer ticker.Stop()
	for {
		reply, err := m.Await(ctx, m.RequestPeers())
		if err != nil {
			return err
		}
		for _, peer := range reply.Peers {
			if peer.Address == addr {
				return nil
			}
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func await(ctx context.Context, m *machine.Machine, replies <-chan machine.Reply) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	reply, err := m.Await(ctx, replies)
	if err != nil {
		return err
	}
	if !reply.OK {
		return fmt.Errorf("%s failed: %s", reply.Op, reply.Reason)
	}
	return nil
}

// parsePeerFlag reads addr=name[:go].
func parsePeerFlag(raw string) (driver.SimulatedPeer, error) {
	addr, name, ok := strings.Cut(raw, "=")
	addr = models.NormalizeAddress(addr)
	if !ok || addr == "" {
		return driver.SimulatedPeer{}, fmt.Errorf("invalid peer %q: want addr=name", raw)
	}
	if _, err := net.ParseMAC(addr); err != nil {
		return driver.SimulatedPeer{}, fmt.Errorf("invalid peer address %q: %w", addr, err)
	}
	owner := false
	if trimmed, found := strings.CutSuffix(name, ":go"); found {
		name, owner = trimmed, true
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = addr
	}
	return driver.SimulatedPeer{
		Device: models.PeerDevice{
			Address:          addr,
			Name:             name,
			PrimaryType:      config.DefaultDeviceType,
			WPSConfigMethods: models.WPSConfigPushButton | models.WPSConfigDisplay | models.WPSConfigKeypad,
		},
		GroupOwner: owner,
	}, nil
}
