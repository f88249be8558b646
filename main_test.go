package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"

	"wifip2p/config"
	"wifip2p/driver"
	"wifip2p/logger"
	"wifip2p/machine"
	"wifip2p/models"
)

type fakeAnnouncer struct {
	mu      sync.Mutex
	updates []*models.Group
}

func (f *fakeAnnouncer) Update(group *models.Group) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, group)
}

type fakeResponder struct {
	accepted      int
	channelSwitch int
}

func (f *fakeResponder) AcceptConnection(*models.WPS) { f.accepted++ }
func (f *fakeResponder) AcceptChannelSwitch()         { f.channelSwitch++ }

func TestParsePeerFlag(t *testing.T) {
	peer, err := parsePeerFlag("02:00:00:00:00:20=phone")
	require.NoError(t, err)
	assert.Equal(t, "02:00:00:00:00:20", peer.Device.Address)
	assert.Equal(t, "phone", peer.Device.Name)
	assert.False(t, peer.GroupOwner)
	assert.NotZero(t, peer.Device.WPSConfigMethods&models.WPSConfigPushButton)

	peer, err = parsePeerFlag("02:00:00:00:00:AB=tv:go")
	require.NoError(t, err)
	assert.Equal(t, "02:00:00:00:00:ab", peer.Device.Address)
	assert.Equal(t, "tv", peer.Device.Name)
	assert.True(t, peer.GroupOwner)

	peer, err = parsePeerFlag("02:00:00:00:00:30=")
	require.NoError(t, err)
	assert.Equal(t, "02:00:00:00:00:30", peer.Device.Name)

	for _, raw := range []string{"phone", "=phone", "not-a-mac=phone"} {
		_, err := parsePeerFlag(raw)
		assert.Error(t, err, raw)
	}
}

func TestRouterFollowsGroupForAnnouncer(t *testing.T) {
	announcer := &fakeAnnouncer{}
	router := newNotificationRouter(logger.NewTestLogger(), false)
	router.setAnnouncer(announcer)

	group := &models.Group{NetworkName: "DIRECT-xy", Interface: "p2p-p2p0-0", IsOwner: true}
	router.Notify(machine.Notification{
		Kind:  machine.NotifyConnectionChanged,
		Info:  models.ConnectionInfo{GroupFormed: true, IsGroupOwner: true},
		Group: group,
	})
	router.Notify(machine.Notification{Kind: machine.NotifyConnectionChanged})

	require.Len(t, announcer.updates, 2)
	assert.Equal(t, group, announcer.updates[0])
	assert.Nil(t, announcer.updates[1])
}

func TestRouterAutoAccept(t *testing.T) {
	responder := &fakeResponder{}
	router := newNotificationRouter(logger.NewTestLogger(), true)
	router.attach(responder)

	router.Notify(machine.Notification{Kind: machine.NotifyDecisionRequested, Decision: machine.DecisionNegotiation})
	router.Notify(machine.Notification{Kind: machine.NotifyDecisionRequested, Decision: machine.DecisionJoin, Pin: "12345670"})
	router.Notify(machine.Notification{Kind: machine.NotifyDecisionRequested, Decision: machine.DecisionChannelSwitch})

	assert.Equal(t, 2, responder.accepted)
	assert.Equal(t, 1, responder.channelSwitch)
}

func TestRouterLeavesDecisionPendingWithoutAutoAccept(t *testing.T) {
	responder := &fakeResponder{}
	router := newNotificationRouter(logger.NewTestLogger(), false)
	router.attach(responder)

	router.Notify(machine.Notification{Kind: machine.NotifyDecisionRequested, Decision: machine.DecisionInvitation})

	assert.Zero(t, responder.accepted)
	assert.Zero(t, responder.channelSwitch)
}

func TestRouterLogsInvitationTarget(t *testing.T) {
	var buf bytes.Buffer
	router := newNotificationRouter(zerolog.New(&buf), false)

	router.Notify(machine.Notification{
		Kind:   machine.NotifyInvitationSent,
		Pin:    "12345670",
		Device: models.PeerDevice{Address: "any"},
	})

	out := buf.String()
	assert.Contains(t, out, `"peer":"any"`)
	assert.Contains(t, out, `"pin":"12345670"`)
}

// newSimulatedMachine wires a started machine to a simulator that answers
// after a real delay, the way run --simulate does.
func newSimulatedMachine(t *testing.T, peers ...driver.SimulatedPeer) *machine.Machine {
	t.Helper()
	sim := driver.NewSimulator(driver.SimulatorOptions{
		Peers:       peers,
		AutoRespond: true,
		Delay:       20 * time.Millisecond,
		Logger:      zerolog.Nop(),
	})
	m, err := machine.New(machine.Options{
		Driver:     sim,
		Addressing: sim,
		Station:    sim,
		Logger:     zerolog.Nop(),
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	sim.SetSink(m.PostEvent)
	require.NoError(t, m.Start())
	t.Cleanup(m.Stop)
	return m
}

func TestStartupSequenceConnectsOnceTargetIsFound(t *testing.T) {
	phone, err := parsePeerFlag("02:00:00:00:00:20=phone")
	require.NoError(t, err)
	m := newSimulatedMachine(t, phone)

	cfg := &config.DeviceConfig{GroupOwnerIntent: config.UnsetGroupOwnerIntent}
	opts := runOptions{Connect: "02:00:00:00:00:20"}
	require.NoError(t, startupSequence(context.Background(), cfg, opts, m))

	assert.Eventually(t, func() bool {
		return m.State() == machine.StateGroupCreated
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWaitForPeerGivesUpOnCancel(t *testing.T) {
	m := newSimulatedMachine(t)
	require.NoError(t, await(context.Background(), m, m.Enable()))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := waitForPeer(ctx, m, "02:00:00:00:00:99")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewStoreClosesOnStop(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	store, err := newStore(lc, runOptions{DataDir: t.TempDir()})
	require.NoError(t, err)
	require.NotNil(t, store)

	lc.RequireStart()
	lc.RequireStop()
}

func TestPrintGroups(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printGroups(&out, nil))
	assert.Equal(t, "No persistent groups\n", out.String())

	out.Reset()
	require.NoError(t, printGroups(&out, []models.PersistentGroup{
		{NetworkID: 0, NetworkName: "DIRECT-ab", OwnerAddress: "02:00:00:00:00:10", IsOwner: true, Clients: []string{"02:00:00:00:00:20", "02:00:00:00:00:30"}},
		{NetworkID: 3, NetworkName: "DIRECT-cd", OwnerAddress: "02:00:00:00:00:40"},
	}))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "owner")
	assert.Contains(t, lines[1], "02:00:00:00:00:20,02:00:00:00:00:30")
	assert.Contains(t, lines[2], "client")
	assert.True(t, strings.HasSuffix(lines[2], "-"))
}

func TestPrintHistory(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printHistory(&out, nil))
	assert.Equal(t, "No group events\n", out.String())

	out.Reset()
	require.NoError(t, printHistory(&out, []models.GroupEvent{
		{Kind: models.GroupEventFormed, NetworkName: "DIRECT-ab", PeerAddress: "02:00:00:00:00:20", At: time.Now()},
		{Kind: models.GroupEventFailed, PeerAddress: "02:00:00:00:00:30", Reason: "timeout", At: time.Now()},
	}))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "formed")
	assert.Contains(t, lines[2], "failed")
	assert.Contains(t, lines[2], "timeout")
}
