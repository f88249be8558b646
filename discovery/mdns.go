package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"

	"wifip2p/models"
)

const (
	// DefaultService is the mDNS service group members announce on the group link.
	DefaultService = "_wifip2p._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultVersion is the TXT record protocol version.
	DefaultVersion = 1
	// DefaultRefreshInterval is the background member scan interval.
	DefaultRefreshInterval = 10 * time.Second
	// DefaultScanTimeout bounds each member scan.
	DefaultScanTimeout = 3 * time.Second
)

const (
	txtDeviceAddress = "device_address"
	txtVersion       = "version"
	txtRole          = "role"
	txtNetwork       = "network"

	roleOwner  = "owner"
	roleClient = "client"
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
type shutdownFunc func(server *zeroconf.Server)

// Config controls the group announcer and member scanner.
type Config struct {
	Service         string
	Domain          string
	Version         int
	RefreshInterval time.Duration
	ScanTimeout     time.Duration

	DeviceAddress string
	DeviceName    string
	Port          int

	// OnResolved receives the IP learned for a member's device address.
	OnResolved func(deviceAddress, ip string)

	Logger zerolog.Logger

	registerFn registerFunc
	browseFn   browseFunc
	shutdownFn shutdownFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.Version == 0 {
		out.Version = DefaultVersion
	}
	if out.RefreshInterval <= 0 {
		out.RefreshInterval = DefaultRefreshInterval
	}
	if out.ScanTimeout <= 0 {
		out.ScanTimeout = DefaultScanTimeout
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	if out.shutdownFn == nil {
		out.shutdownFn = func(server *zeroconf.Server) { server.Shutdown() }
	}
	out.DeviceAddress = models.NormalizeAddress(out.DeviceAddress)
	return out
}

func (c Config) validateForAnnounce() error {
	if strings.TrimSpace(c.DeviceAddress) == "" {
		return errors.New("device address is required")
	}
	if strings.TrimSpace(c.DeviceName) == "" {
		return errors.New("device name is required")
	}
	if c.Port <= 0 {
		return errors.New("announce port must be > 0")
	}
	return nil
}

func (c Config) validateForScan() error {
	if strings.TrimSpace(c.DeviceAddress) == "" {
		return errors.New("device address is required")
	}
	return nil
}

// Announcer advertises this device on the interface of the current group.
// Updates are applied on its own goroutine so callers never block.
type Announcer struct {
	cfg Config
	log zerolog.Logger

	updates chan *models.Group

	mu      sync.Mutex
	server  *zeroconf.Server
	current string

	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewAnnouncer validates config and returns a stopped announcer.
func NewAnnouncer(config Config) (*Announcer, error) {
	cfg := config.withDefaults()
	if err := cfg.validateForAnnounce(); err != nil {
		return nil, err
	}
	return &Announcer{
		cfg:     cfg,
		log:     cfg.Logger.With().Str("component", "announcer").Logger(),
		updates: make(chan *models.Group, 1),
	}, nil
}

// Start begins applying group updates.
func (a *Announcer) Start() {
	a.startOnce.Do(func() {
		a.ctx, a.cancel = context.WithCancel(context.Background())
		a.wg.Add(1)
		go a.loop()
	})
}

// Stop withdraws any announcement and stops the update loop.
func (a *Announcer) Stop() {
	a.stopOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		a.wg.Wait()
		a.withdraw()
	})
}

// Update replaces the group to announce on. A nil group withdraws the
// announcement. Only the latest pending update is kept.
func (a *Announcer) Update(group *models.Group) {
	group = group.Clone()
	for {
		select {
		case a.updates <- group:
			return
		default:
		}
		select {
		case <-a.updates:
		default:
		}
	}
}

// Announcing reports the "interface/network" pair currently announced, empty when withdrawn.
func (a *Announcer) Announcing() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *Announcer) loop() {
	defer a.wg.Done()
	for {
		select {
		case group := <-a.updates:
			if err := a.apply(group); err != nil {
				a.log.Warn().Err(err).Msg("group announcement failed")
			}
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *Announcer) apply(group *models.Group) error {
	if group == nil {
		a.withdraw()
		return nil
	}
	key := group.Interface + "/" + group.NetworkName
	a.mu.Lock()
	same := a.server != nil && a.current == key
	a.mu.Unlock()
	if same {
		return nil
	}
	a.withdraw()

	var ifaces []net.Interface
	if group.Interface != "" {
		if iface, err := net.InterfaceByName(group.Interface); err == nil {
			ifaces = []net.Interface{*iface}
		} else {
			a.log.Debug().Err(err).Str("interface", group.Interface).Msg("group interface not found, announcing on all")
		}
	}

	role := roleClient
	if group.IsOwner {
		role = roleOwner
	}
	txt := []string{
		txtDeviceAddress + "=" + a.cfg.DeviceAddress,
		txtVersion + "=" + strconv.Itoa(a.cfg.Version),
		txtRole + "=" + role,
		txtNetwork + "=" + group.NetworkName,
	}

	server, err := a.cfg.registerFn(a.cfg.DeviceName, a.cfg.Service, a.cfg.Domain, a.cfg.Port, txt, ifaces)
	if err != nil {
		return fmt.Errorf("register mDNS service: %w", err)
	}

	a.mu.Lock()
	a.server = server
	a.current = key
	a.mu.Unlock()
	a.log.Info().Str("interface", group.Interface).Str("network", group.NetworkName).Msg("announcing on group link")
	return nil
}

func (a *Announcer) withdraw() {
	a.mu.Lock()
	server := a.server
	a.server = nil
	a.current = ""
	a.mu.Unlock()
	if server != nil {
		a.cfg.shutdownFn(server)
	}
}
