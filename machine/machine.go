// Package machine implements the hierarchical state machine that forms,
// runs and tears down Wi-Fi Direct groups.
//
// Every API command and every driver event becomes a message on one queue
// consumed by a single goroutine, which owns the peer, group and client
// registries. Callers receive replies on buffered channels.
package machine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"wifip2p/driver"
	"wifip2p/models"
	"wifip2p/registry"
)

const (
	// DefaultDiscoverTimeout bounds one peer discovery run.
	DefaultDiscoverTimeout = 120 * time.Second
	// DefaultConnectedDiscoverTimeout bounds discovery while a group is formed.
	DefaultConnectedDiscoverTimeout = 25 * time.Second
	// DefaultGroupCreatingTimeout aborts group formation that makes no progress.
	DefaultGroupCreatingTimeout = 120 * time.Second
	// DefaultDisableTimeout forces Disabled when the supplicant never reports disconnection.
	DefaultDisableTimeout = 5 * time.Second
	// DefaultGroupIdleTimeout is applied to a freshly formed group without clients.
	DefaultGroupIdleTimeout = 10 * time.Second
	// ServerAddress is the DHCP server address of a group we own.
	ServerAddress = "192.168.49.1"
	// DefaultInterface is the P2P device interface used when none is configured.
	DefaultInterface = "p2p0"
	// DefaultDeviceType is the WPS primary device type advertised when none is configured.
	DefaultDeviceType = "10-0050F204-5"
	// configMethods are the WPS methods the local device offers.
	configMethods = "virtual_push_button physical_display keypad"
	// wildcardAddress targets a service discovery request at every peer.
	wildcardAddress = "00:00:00:00:00:00"

	listenPeriod   = 500 * time.Millisecond
	listenInterval = 500 * time.Millisecond
)

// ErrStopped is returned by Await when the machine stops before replying.
var ErrStopped = errors.New("machine: stopped")

// History records group lifecycle events. storage.Store implements it.
type History interface {
	RecordGroupEvent(event models.GroupEvent) error
}

// GroupMirror persists the persistent group records outside the driver.
type GroupMirror interface {
	ReplacePersistentGroups(groups []models.PersistentGroup) error
}

// SettingsStore persists device settings changed through the API.
type SettingsStore interface {
	SaveDeviceName(name string) error
}

// Options configures a Machine.
type Options struct {
	Driver     driver.Control
	Addressing driver.Addressing
	Station    driver.Station
	Notifier   Notifier
	History    History
	Groups     GroupMirror
	Settings   SettingsStore

	Clock      clock.Clock
	Logger     zerolog.Logger
	Registerer prometheus.Registerer

	// Interface is the P2P device interface brought up on enable.
	Interface   string
	DeviceName  string
	DeviceType  string
	CountryCode string

	// Unsupported starts the machine in NotSupported.
	Unsupported bool
	// DisablePersistentGroups forces temporary groups for every connection.
	DisablePersistentGroups bool
	// MultiChannel reports that the radio can run the group on a second channel.
	MultiChannel bool

	DiscoverTimeout          time.Duration
	ConnectedDiscoverTimeout time.Duration
	GroupCreatingTimeout     time.Duration
	DisableTimeout           time.Duration
	GroupIdleTimeout         time.Duration
	DepartedCacheSize        int
}

// Machine is the P2P connection state machine.
type Machine struct {
	opts    Options
	log     zerolog.Logger
	clock   clock.Clock
	notify  Notifier
	metrics *metrics

	queueMu sync.Mutex
	queue   []any
	wake    chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup

	timerMu sync.Mutex
	timers  []*clock.Timer

	state       atomic.Int32
	destination State
	hasDest     bool
	deferred    []any

	peers   *registry.PeerRegistry
	groups  *registry.GroupRegistry
	clients *registry.ClientRegistry

	thisDevice models.PeerDevice
	info       models.ConnectionInfo
	saved      *models.ConnectionConfig

	autonomous              bool
	connectToPeer           bool
	negotiationConflict     bool
	temporarilyDisconnected bool
	discoveryBlocked        bool
	discoveryPostponed      bool
	discoveryStarted        bool
	operatingFrequency      int
	removeReason            LinkReason
	lastCountryCode         string
	serviceRequestID        string
	disableWaiters          []*command

	groupCreatingEpoch int
	disableEpoch       int
	discoveryEpoch     int
}

// New validates options and builds a machine in its initial state. The
// machine does not consume messages until Start.
func New(options Options) (*Machine, error) {
	if options.Driver == nil {
		return nil, errors.New("driver is required")
	}
	if options.Addressing == nil {
		return nil, errors.New("addressing is required")
	}
	if options.Clock == nil {
		options.Clock = clock.New()
	}
	if options.Notifier == nil {
		options.Notifier = nopNotifier{}
	}
	if options.Interface == "" {
		options.Interface = DefaultInterface
	}
	if options.DeviceType == "" {
		options.DeviceType = DefaultDeviceType
	}
	if options.DiscoverTimeout <= 0 {
		options.DiscoverTimeout = DefaultDiscoverTimeout
	}
	if options.ConnectedDiscoverTimeout <= 0 {
		options.ConnectedDiscoverTimeout = DefaultConnectedDiscoverTimeout
	}
	if options.GroupCreatingTimeout <= 0 {
		options.GroupCreatingTimeout = DefaultGroupCreatingTimeout
	}
	if options.DisableTimeout <= 0 {
		options.DisableTimeout = DefaultDisableTimeout
	}
	if options.GroupIdleTimeout <= 0 {
		options.GroupIdleTimeout = DefaultGroupIdleTimeout
	}

	m := &Machine{
		opts:    options,
		log:     options.Logger.With().Str("component", "machine").Logger(),
		clock:   options.Clock,
		notify:  options.Notifier,
		metrics: newMetrics(options.Registerer),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		peers:   registry.NewPeerRegistry(options.DepartedCacheSize),
		groups:  registry.NewGroupRegistry(),
		clients: registry.NewClientRegistry(),
		thisDevice: models.PeerDevice{
			Name:        options.DeviceName,
			PrimaryType: options.DeviceType,
			Status:      models.StatusUnavailable,
		},
	}

	initial := StateDisabled
	if options.Unsupported {
		initial = StateNotSupported
	}
	m.state.Store(int32(initial))
	m.metrics.state.Set(float64(initial))
	return m, nil
}

// Start launches the message loop.
func (m *Machine) Start() error {
	m.startOnce.Do(func() {
		m.ctx, m.cancel = context.WithCancel(context.Background())
		m.wg.Add(1)
		go m.loop()
	})
	return nil
}

// Stop halts the message loop and pending timers. Queued messages are dropped.
func (m *Machine) Stop() {
	m.stopOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}
		m.wg.Wait()

		m.timerMu.Lock()
		for _, t := range m.timers {
			t.Stop()
		}
		m.timers = nil
		m.timerMu.Unlock()

		close(m.done)
	})
}

// State returns the current state. It is safe to call from any goroutine.
func (m *Machine) State() State {
	return State(m.state.Load())
}

// PostEvent queues a driver event.
func (m *Machine) PostEvent(ev driver.Event) {
	if ev == nil {
		return
	}
	m.enqueue(ev)
}

// UpdatePeerAddress queues an IP address learned for a group member.
func (m *Machine) UpdatePeerAddress(addr, ip string) {
	m.enqueue(peerAddressResolved{address: addr, ip: ip})
}

// Await waits for a reply, the context or machine shutdown.
func (m *Machine) Await(ctx context.Context, replies <-chan Reply) (Reply, error) {
	select {
	case reply := <-replies:
		return reply, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	case <-m.done:
		return Reply{}, ErrStopped
	}
}

func (m *Machine) enqueue(msg any) {
	m.queueMu.Lock()
	m.queue = append(m.queue, msg)
	m.queueMu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Machine) next() (any, bool) {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	if len(m.queue) == 0 {
		return nil, false
	}
	msg := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	return msg, true
}

func (m *Machine) pending() int {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	return len(m.queue)
}

func (m *Machine) loop() {
	defer m.wg.Done()
	for {
		m.drain()
		select {
		case <-m.wake:
		case <-m.ctx.Done():
			return
		}
	}
}

// drain processes queued messages until the queue is empty and returns how many ran.
func (m *Machine) drain() int {
	count := 0
	for {
		msg, ok := m.next()
		if !ok {
			return count
		}
		m.process(msg)
		count++
	}
}

func (m *Machine) process(msg any) {
	handled := false
	for s := m.State(); ; s = s.Parent() {
		if h := handlers[s].process; h != nil && h(m, msg) {
			handled = true
			break
		}
		if s == StateDefault {
			break
		}
	}
	if !handled {
		m.log.Debug().Str("state", m.State().String()).Str("message", messageName(msg)).Msg("message not handled")
	}
	m.performTransitions()
}

// transitionTo records dest; the transition runs after the current handler returns.
func (m *Machine) transitionTo(dest State) {
	m.destination = dest
	m.hasDest = true
}

// deferMessage holds msg until the next completed transition.
func (m *Machine) deferMessage(msg any) {
	m.deferred = append(m.deferred, msg)
}

// sendMessage queues an internally generated message behind everything already queued.
func (m *Machine) sendMessage(msg any) {
	m.enqueue(msg)
}

func (m *Machine) performTransitions() {
	transitioned := false
	for m.hasDest {
		dest := m.destination
		m.hasDest = false
		from := m.State()

		exits, enters := transitionPath(from, dest)
		for _, s := range exits {
			if h := handlers[s].exit; h != nil {
				h(m)
			}
		}
		for _, s := range enters {
			m.state.Store(int32(s))
			if h := handlers[s].enter; h != nil {
				h(m)
			}
		}
		m.state.Store(int32(dest))
		m.metrics.observeTransition(dest)
		m.log.Debug().Str("from", from.String()).Str("to", dest.String()).Msg("state transition")
		transitioned = true
	}

	if transitioned && len(m.deferred) > 0 {
		deferred := m.deferred
		m.deferred = nil
		m.queueMu.Lock()
		m.queue = append(deferred, m.queue...)
		m.queueMu.Unlock()
	}
}

// startTimer arms a timer of class and returns its epoch.
func (m *Machine) startTimer(class timerClass, d time.Duration) int {
	var epoch int
	switch class {
	case timerGroupCreating:
		m.groupCreatingEpoch++
		epoch = m.groupCreatingEpoch
	case timerDisable:
		m.disableEpoch++
		epoch = m.disableEpoch
	case timerDiscovery:
		m.discoveryEpoch++
		epoch = m.discoveryEpoch
	}

	t := m.clock.AfterFunc(d, func() {
		m.enqueue(timerFired{class: class, epoch: epoch})
	})
	m.timerMu.Lock()
	m.timers = append(m.timers, t)
	if len(m.timers) > 32 {
		m.timers = m.timers[len(m.timers)-32:]
	}
	m.timerMu.Unlock()
	return epoch
}

func (m *Machine) timerCurrent(fired timerFired) bool {
	switch fired.class {
	case timerGroupCreating:
		return fired.epoch == m.groupCreatingEpoch
	case timerDisable:
		return fired.epoch == m.disableEpoch
	case timerDiscovery:
		return fired.epoch == m.discoveryEpoch
	default:
		return false
	}
}

func messageName(msg any) string {
	switch v := msg.(type) {
	case *command:
		return v.op.String()
	case driver.Event:
		return v.EventName()
	case timerFired:
		return "timeout_" + v.class.String()
	case peerAddressResolved:
		return "peer_address_resolved"
	default:
		return "unknown"
	}
}
