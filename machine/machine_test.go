package machine

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wifip2p/driver"
	"wifip2p/models"
)

const (
	phoneAddr  = "02:00:00:00:00:20"
	tvAddr     = "02:00:00:00:00:30"
	laptopAddr = "02:00:00:00:00:40"
)

type recordedHistory struct {
	events []models.GroupEvent
}

func (r *recordedHistory) RecordGroupEvent(ev models.GroupEvent) error {
	r.events = append(r.events, ev)
	return nil
}

func (r *recordedHistory) kinds() []models.GroupEventKind {
	out := make([]models.GroupEventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

type harness struct {
	t       *testing.T
	m       *Machine
	sim     *driver.Simulator
	clock   *clock.Mock
	history *recordedHistory
	notes   []Notification
}

type harnessConfig struct {
	passive bool
	options func(*Options)
	peers   []driver.SimulatedPeer
	nets    []models.NetworkRecord
}

// phone never owns the group it negotiates, tv always does.
func defaultPeers() []driver.SimulatedPeer {
	return []driver.SimulatedPeer{
		{Device: models.PeerDevice{
			Address:          phoneAddr,
			Name:             "phone",
			WPSConfigMethods: models.WPSConfigPushButton | models.WPSConfigKeypad,
		}},
		{Device: models.PeerDevice{
			Address:          tvAddr,
			Name:             "tv",
			WPSConfigMethods: models.WPSConfigPushButton,
		}, GroupOwner: true},
	}
}

func newHarness(t *testing.T, cfg harnessConfig) *harness {
	t.Helper()

	if cfg.peers == nil {
		cfg.peers = defaultPeers()
	}
	mock := clock.NewMock()
	sim := driver.NewSimulator(driver.SimulatorOptions{
		Peers:       cfg.peers,
		Networks:    cfg.nets,
		AutoRespond: !cfg.passive,
		Clock:       mock,
		Logger:      zerolog.Nop(),
	})
	h := &harness{t: t, sim: sim, clock: mock, history: &recordedHistory{}}

	options := Options{
		Driver:     sim,
		Addressing: sim,
		Station:    sim,
		Notifier:   NotifierFunc(func(n Notification) { h.notes = append(h.notes, n) }),
		History:    h.history,
		Clock:      mock,
		Logger:     zerolog.Nop(),
		Registerer: prometheus.NewRegistry(),
	}
	if cfg.options != nil {
		cfg.options(&options)
	}
	m, err := New(options)
	require.NoError(t, err)
	sim.SetSink(m.PostEvent)
	h.m = m
	return h
}

// run drains the queue and asserts the cross-state invariants afterwards.
func (h *harness) run() {
	h.t.Helper()
	h.m.drain()
	h.checkInvariants()
}

func (h *harness) checkInvariants() {
	h.t.Helper()
	active := h.m.groups.Active()
	require.Equal(h.t, active != nil, h.m.info.GroupFormed, "active group and group formed disagree in %s", h.m.State())
	if active != nil {
		for _, c := range active.Clients {
			dev, ok := h.m.peers.Get(c.Address)
			require.True(h.t, ok, "client %s missing from peers", c.Address)
			require.Equal(h.t, models.StatusConnected, dev.Status, "client %s", c.Address)
		}
	}
	switch state := h.m.State(); {
	case state.Within(StateGroupCreating), state == StateUserAuthorizingJoin:
	case state == StateGroupCreated && h.m.connectToPeer:
		// invitation from the formed group still outstanding
	default:
		require.Nil(h.t, h.m.saved, "connection config left over in %s", state)
		require.False(h.t, h.m.connectToPeer, "connect flag left over in %s", state)
	}
}

func (h *harness) reply(ch <-chan Reply) Reply {
	h.t.Helper()
	select {
	case r := <-ch:
		return r
	default:
		h.t.Fatalf("no reply queued")
		return Reply{}
	}
}

func (h *harness) noReply(ch <-chan Reply) {
	h.t.Helper()
	select {
	case r := <-ch:
		h.t.Fatalf("unexpected reply %+v", r)
	default:
	}
}

func (h *harness) post(events ...driver.Event) {
	h.t.Helper()
	for _, ev := range events {
		h.m.PostEvent(ev)
	}
	h.run()
}

// advance moves the mock clock and waits for the timers it fired to reach the queue.
func (h *harness) advance(d time.Duration) {
	h.t.Helper()
	before := h.m.pending()
	h.clock.Add(d)
	require.Eventually(h.t, func() bool { return h.m.pending() > before }, time.Second, time.Millisecond)
	h.run()
}

// runUntil drains repeatedly until cond holds, for timers that land in the queue one by one.
func (h *harness) runUntil(cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		h.run()
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("condition not reached, state %s", h.m.State())
		}
		time.Sleep(time.Millisecond)
	}
}

func (h *harness) enable() {
	h.t.Helper()
	ch := h.m.Enable()
	h.run()
	if h.m.State() == StateEnabling {
		h.post(driver.SupplicantConnected{})
	}
	require.True(h.t, h.reply(ch).OK)
	require.Equal(h.t, StateInactive, h.m.State())
}

// discover makes the default peers known without running a find.
func (h *harness) discover(addrs ...string) {
	h.t.Helper()
	for _, addr := range addrs {
		for _, p := range defaultPeers() {
			if p.Device.Address == addr {
				h.m.PostEvent(driver.DeviceFound{Device: p.Device})
			}
		}
	}
	h.run()
}

func (h *harness) last(kind NotificationKind) (Notification, bool) {
	for i := len(h.notes) - 1; i >= 0; i-- {
		if h.notes[i].Kind == kind {
			return h.notes[i], true
		}
	}
	return Notification{}, false
}

func (h *harness) count(kind NotificationKind) int {
	n := 0
	for _, note := range h.notes {
		if note.Kind == kind {
			n++
		}
	}
	return n
}

func (h *harness) peerStatus(addr string) models.DeviceStatus {
	h.t.Helper()
	dev, ok := h.m.peers.Get(addr)
	require.True(h.t, ok, "peer %s not registered", addr)
	return dev.Status
}

func TestNewRequiresDriverAndAddressing(t *testing.T) {
	sim := driver.NewSimulator(driver.SimulatorOptions{})

	_, err := New(Options{Addressing: sim})
	assert.Error(t, err)
	_, err = New(Options{Driver: sim})
	assert.Error(t, err)

	m, err := New(Options{Driver: sim, Addressing: sim})
	require.NoError(t, err)
	assert.Equal(t, StateDisabled, m.State())
}

func TestEnableInitializesDriver(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.enable()

	assert.Equal(t, 1, h.sim.CallCount("StartDriver"))
	call, ok := h.sim.LastCall("SetInterfaceUp")
	require.True(t, ok)
	assert.Equal(t, []any{DefaultInterface}, call.Args)
	call, ok = h.sim.LastCall("SetDeviceName")
	require.True(t, ok)
	assert.Equal(t, []any{"wifip2p_0001"}, call.Args)
	call, ok = h.sim.LastCall("SetConfigMethods")
	require.True(t, ok)
	assert.Equal(t, []any{configMethods}, call.Args)

	state, ok := h.last(NotifyStateChanged)
	require.True(t, ok)
	assert.True(t, state.Enabled)
	dev, ok := h.last(NotifyThisDeviceChanged)
	require.True(t, ok)
	assert.Equal(t, models.StatusAvailable, dev.Device.Status)
	assert.Equal(t, "02:00:00:00:00:01", dev.Device.Address)
}

func TestEnableAppliesConfiguredCountryCode(t *testing.T) {
	h := newHarness(t, harnessConfig{options: func(o *Options) { o.CountryCode = "de" }})
	h.enable()

	call, ok := h.sim.LastCall("SetCountryCode")
	require.True(t, ok)
	assert.Equal(t, []any{"DE"}, call.Args)

	ch := h.m.SetCountryCode("DE")
	h.run()
	assert.True(t, h.reply(ch).OK)
	assert.Equal(t, 1, h.sim.CallCount("SetCountryCode"), "unchanged code is not pushed again")
}

func TestEnableFailureStaysDisabled(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.sim.FailOn("StartMonitoring")

	ch := h.m.Enable()
	h.run()

	r := h.reply(ch)
	assert.False(t, r.OK)
	assert.Equal(t, ReasonError, r.Reason)
	assert.Equal(t, StateDisabled, h.m.State())
}

func TestDriverStartFailureReturnsToDisabled(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.sim.FailOn("StartDriver")

	ch := h.m.Enable()
	h.run()

	assert.True(t, h.reply(ch).OK, "enable is acknowledged once monitoring starts")
	assert.Equal(t, StateDisabled, h.m.State())
	assert.Equal(t, 1, h.sim.CallCount("StopMonitoring"))
}

func TestDisableWaitsForSupplicant(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.enable()
	h.discover(phoneAddr)

	ch := h.m.Disable()
	h.run()

	assert.True(t, h.reply(ch).OK)
	assert.Equal(t, StateDisabled, h.m.State())
	assert.Equal(t, 1, h.sim.CallCount("StopDriver"))
	assert.Equal(t, 0, h.m.peers.Len())

	state, ok := h.last(NotifyStateChanged)
	require.True(t, ok)
	assert.False(t, state.Enabled)
}

func TestDisableTimeoutForcesDisabled(t *testing.T) {
	h := newHarness(t, harnessConfig{passive: true})
	h.enable()

	ch := h.m.Disable()
	h.run()
	assert.Equal(t, StateDisabling, h.m.State())
	h.noReply(ch)

	enable := h.m.Enable()
	h.run()
	h.noReply(enable)

	h.advance(DefaultDisableTimeout)
	assert.True(t, h.reply(ch).OK)
	// The deferred enable runs once Disabled is reached.
	if h.m.State() == StateEnabling {
		h.post(driver.SupplicantConnected{})
	}
	assert.True(t, h.reply(enable).OK)
	assert.Equal(t, StateInactive, h.m.State())
}

func TestDisabledRepliesBusy(t *testing.T) {
	h := newHarness(t, harnessConfig{})

	discover := h.m.DiscoverPeers()
	listen := h.m.StartListen()
	peers := h.m.RequestPeers()
	disable := h.m.Disable()
	h.run()

	assert.Equal(t, ReasonBusy, h.reply(discover).Reason)
	assert.Equal(t, ReasonBusy, h.reply(listen).Reason)
	assert.True(t, h.reply(peers).OK)
	assert.True(t, h.reply(disable).OK)
	assert.Zero(t, h.sim.CallCount("Find"))
}

func TestNotSupportedRejectsCommands(t *testing.T) {
	h := newHarness(t, harnessConfig{options: func(o *Options) { o.Unsupported = true }})
	require.Equal(t, StateNotSupported, h.m.State())

	enable := h.m.Enable()
	connect := h.m.Connect(models.NewConnectionConfig(phoneAddr))
	create := h.m.CreateGroup(models.TemporaryNetID)
	info := h.m.RequestConnectionInfo()
	h.run()

	assert.Equal(t, ReasonUnsupported, h.reply(enable).Reason)
	assert.Equal(t, ReasonUnsupported, h.reply(connect).Reason)
	assert.Equal(t, ReasonUnsupported, h.reply(create).Reason)
	r := h.reply(info)
	assert.True(t, r.OK)
	assert.False(t, r.Info.GroupFormed)
	assert.Equal(t, StateNotSupported, h.m.State())
	assert.Empty(t, h.sim.Calls())
}

func TestUnexpectedGroupWhileDisabledIsRemoved(t *testing.T) {
	h := newHarness(t, harnessConfig{passive: true})

	h.post(driver.GroupStarted{Group: models.Group{Interface: "p2p-wlan0-9"}})

	call, ok := h.sim.LastCall("GroupRemove")
	require.True(t, ok)
	assert.Equal(t, []any{"p2p-wlan0-9"}, call.Args)
	assert.Equal(t, StateDisabled, h.m.State())
}

func TestStartStopAndAwait(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	require.NoError(t, h.m.Start())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r, err := h.m.Await(ctx, h.m.Enable())
	require.NoError(t, err)
	assert.True(t, r.OK)
	require.Eventually(t, func() bool { return h.m.State() == StateInactive }, time.Second, time.Millisecond)

	h.m.Stop()
	_, err = h.m.Await(ctx, make(chan Reply))
	assert.ErrorIs(t, err, ErrStopped)
}

func TestDeviceNameChangeIsPersisted(t *testing.T) {
	settings := &recordedSettings{}
	h := newHarness(t, harnessConfig{options: func(o *Options) { o.Settings = settings }})
	h.enable()

	empty := h.m.SetDeviceName("  ")
	named := h.m.SetDeviceName("kitchen")
	h.run()

	assert.Equal(t, ReasonError, h.reply(empty).Reason)
	assert.True(t, h.reply(named).OK)
	assert.Equal(t, []string{"kitchen"}, settings.names)
	dev, ok := h.last(NotifyThisDeviceChanged)
	require.True(t, ok)
	assert.Equal(t, "kitchen", dev.Device.Name)
}

type recordedSettings struct {
	names []string
}

func (r *recordedSettings) SaveDeviceName(name string) error {
	r.names = append(r.names, name)
	return nil
}

func TestListenChannelAndCountryCode(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.enable()
	h.sim.ResetCalls()

	listen := h.m.StartListen()
	channel := h.m.SetChannel(1, 6)
	country := h.m.SetCountryCode(" us ")
	again := h.m.SetCountryCode("US")
	blank := h.m.SetCountryCode("")
	h.run()

	assert.True(t, h.reply(listen).OK)
	assert.True(t, h.reply(channel).OK)
	assert.True(t, h.reply(country).OK)
	assert.True(t, h.reply(again).OK)
	assert.Equal(t, ReasonError, h.reply(blank).Reason)
	assert.Equal(t, 1, h.sim.CallCount("ExtListen"))
	call, ok := h.sim.LastCall("SetChannel")
	require.True(t, ok)
	assert.Equal(t, []any{1, 6}, call.Args)
	assert.Equal(t, 1, h.sim.CallCount("SetCountryCode"))

	h.sim.FailOn("ExtListen")
	stop := h.m.StopListen()
	h.run()
	assert.Equal(t, ReasonError, h.reply(stop).Reason)
}

func TestQueriesAnswerSnapshots(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.enable()
	h.discover(phoneAddr)

	peers := h.m.RequestPeers()
	info := h.m.RequestConnectionInfo()
	group := h.m.RequestGroupInfo()
	h.run()

	r := h.reply(peers)
	require.True(t, r.OK)
	require.Len(t, r.Peers, 1)
	assert.Equal(t, phoneAddr, r.Peers[0].Address)
	assert.Equal(t, models.StatusAvailable, r.Peers[0].Status)
	assert.False(t, h.reply(info).Info.GroupFormed)
	assert.Nil(t, h.reply(group).Group)
}
