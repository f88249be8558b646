package machine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wifip2p/driver"
	"wifip2p/models"
)

func lastConnect(t *testing.T, h *harness) models.ConnectionConfig {
	t.Helper()
	call, ok := h.sim.LastCall("Connect")
	require.True(t, ok, "driver connect not called")
	cfg, ok := call.Args[0].(models.ConnectionConfig)
	require.True(t, ok)
	return cfg
}

// connectToNegotiation drives a passive harness from Inactive to GroupNegotiation with addr.
func connectToNegotiation(t *testing.T, h *harness, addr string) {
	t.Helper()
	ch := h.m.Connect(models.NewConnectionConfig(addr))
	h.run()
	require.True(t, h.reply(ch).OK)
	require.Equal(t, StateProvisionDiscovery, h.m.State())

	h.post(driver.ProvisionDiscovery{
		Kind:   driver.ProvisionPushButtonResponse,
		Device: models.PeerDevice{Address: addr},
	})
	require.Equal(t, StateGroupNegotiation, h.m.State())
}

func TestDiscoveryReportsAvailablePeer(t *testing.T) {
	h := newHarness(t, harnessConfig{peers: []driver.SimulatedPeer{{
		Device: models.PeerDevice{Address: "AA:BB:CC:DD:EE:FF", Name: "camera"},
	}}})
	h.enable()

	ch := h.m.DiscoverPeers()
	h.run()
	require.True(t, h.reply(ch).OK)

	call, ok := h.sim.LastCall("Find")
	require.True(t, ok)
	assert.Equal(t, []any{120 * time.Second}, call.Args)

	peers, ok := h.last(NotifyPeersChanged)
	require.True(t, ok)
	require.Len(t, peers.Peers, 1)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", peers.Peers[0].Address)
	assert.Equal(t, models.StatusAvailable, peers.Peers[0].Status)

	discovering, ok := h.last(NotifyDiscoveryChanged)
	require.True(t, ok)
	assert.True(t, discovering.Discovering)
}

func TestDiscoveryTimerClosesWindow(t *testing.T) {
	h := newHarness(t, harnessConfig{passive: true})
	h.enable()

	ch := h.m.DiscoverPeers()
	h.run()
	require.True(t, h.reply(ch).OK)
	require.Equal(t, 1, h.count(NotifyDiscoveryChanged))

	h.advance(DefaultDiscoverTimeout)
	discovering, ok := h.last(NotifyDiscoveryChanged)
	require.True(t, ok)
	assert.False(t, discovering.Discovering)
	assert.Equal(t, 2, h.count(NotifyDiscoveryChanged))
}

func TestBlockedDiscoveryIsBusyAndResumes(t *testing.T) {
	h := newHarness(t, harnessConfig{passive: true})
	h.enable()

	start := h.m.DiscoverPeers()
	block := h.m.BlockDiscovery(true)
	blocked := h.m.DiscoverPeers()
	h.run()
	require.True(t, h.reply(start).OK)
	require.True(t, h.reply(block).OK)
	assert.Equal(t, ReasonBusy, h.reply(blocked).Reason)
	assert.Equal(t, 1, h.sim.CallCount("StopFind"))

	unblock := h.m.BlockDiscovery(false)
	h.run()
	require.True(t, h.reply(unblock).OK)
	assert.Equal(t, 2, h.sim.CallCount("Find"), "postponed discovery resumes")
}

func TestConnectJoinsPeerOwnedGroup(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.enable()
	h.discover(tvAddr)

	ch := h.m.Connect(models.NewConnectionConfig(tvAddr))
	h.run()
	require.True(t, h.reply(ch).OK)

	require.Equal(t, StateGroupCreated, h.m.State())
	assert.Equal(t, 1, h.sim.CallCount("ProvisionDiscovery"))
	assert.Equal(t, 1, h.sim.CallCount("StartClient"))

	var formed *Notification
	for i := range h.notes {
		if h.notes[i].Kind == NotifyConnectionChanged && h.notes[i].Info.GroupFormed {
			formed = &h.notes[i]
			break
		}
	}
	require.NotNil(t, formed, "no connection-changed with a formed group")
	assert.False(t, formed.Info.IsGroupOwner)
	assert.Equal(t, LinkReasonSuccess, formed.Reason)
	require.NotNil(t, formed.Group)
	assert.Equal(t, tvAddr, formed.Group.Owner.Address)

	info := h.m.RequestConnectionInfo()
	h.run()
	r := h.reply(info)
	assert.True(t, r.Info.GroupFormed)
	assert.Equal(t, driver.SimulatedServerAddress, r.Info.GroupOwnerAddress)
	assert.Equal(t, models.StatusConnected, h.peerStatus(tvAddr))
	assert.Equal(t, []models.GroupEventKind{models.GroupEventFormed}, h.history.kinds())

	remove := h.m.RemoveGroup()
	h.run()
	require.True(t, h.reply(remove).OK)
	assert.Equal(t, StateInactive, h.m.State())
	assert.Equal(t, 1, h.sim.CallCount("StopClient"))
	assert.False(t, h.m.peers.Contains(tvAddr), "group owner is dropped with the group")
	assert.Equal(t, []models.GroupEventKind{models.GroupEventFormed, models.GroupEventRemoved}, h.history.kinds())

	conn, ok := h.last(NotifyConnectionChanged)
	require.True(t, ok)
	assert.False(t, conn.Info.GroupFormed)
	assert.Nil(t, conn.Group)
}

func TestNegotiationNoCommonChannelEntersFrequencyConflict(t *testing.T) {
	h := newHarness(t, harnessConfig{passive: true})
	h.enable()
	h.discover(phoneAddr)
	connectToNegotiation(t, h, phoneAddr)

	h.post(driver.GoNegotiationFailure{Status: driver.StatusNoCommonChannel, Frequency: 5180})

	require.Equal(t, StateFrequencyConflict, h.m.State())
	assert.Equal(t, 5180, h.m.operatingFrequency)
	decision, ok := h.last(NotifyDecisionRequested)
	require.True(t, ok)
	assert.Equal(t, DecisionChannelSwitch, decision.Decision)

	h.m.RejectChannelSwitch()
	h.run()

	assert.Equal(t, StateInactive, h.m.State())
	assert.Equal(t, models.StatusAvailable, h.peerStatus(phoneAddr))
	conn, ok := h.last(NotifyConnectionChanged)
	require.True(t, ok)
	assert.Equal(t, LinkReasonUserDeclinedChannelSwitch, conn.Reason)
	require.Len(t, h.history.events, 1)
	assert.Equal(t, models.GroupEventFailed, h.history.events[0].Kind)
	assert.Equal(t, phoneAddr, h.history.events[0].PeerAddress)
}

func TestNegotiationFailureAbortsToInactive(t *testing.T) {
	h := newHarness(t, harnessConfig{passive: true})
	h.enable()
	h.discover(phoneAddr)
	connectToNegotiation(t, h, phoneAddr)
	finds := h.sim.CallCount("Find")

	h.post(driver.GoNegotiationFailure{Status: driver.StatusRejectedByUser})

	assert.Equal(t, StateInactive, h.m.State())
	assert.Equal(t, models.StatusAvailable, h.peerStatus(phoneAddr))
	assert.Equal(t, finds+1, h.sim.CallCount("Find"), "discovery restarts after a failed attempt")
}

func TestAcceptedChannelSwitchRetriesConnect(t *testing.T) {
	h := newHarness(t, harnessConfig{passive: true})
	h.enable()
	h.discover(phoneAddr)
	connectToNegotiation(t, h, phoneAddr)
	h.post(driver.GoNegotiationFailure{Status: driver.StatusNoCommonChannel, Frequency: 5180})
	require.Equal(t, StateFrequencyConflict, h.m.State())

	h.m.AcceptChannelSwitch()
	h.run()
	call, ok := h.sim.LastCall("SetTemporarilyDisconnected")
	require.True(t, ok)
	assert.Equal(t, []any{true}, call.Args)

	h.post(driver.StationYielded{})
	require.Equal(t, StateProvisionDiscovery, h.m.State())
	require.NotNil(t, h.m.saved)
	assert.Equal(t, -1, h.m.saved.PreferredFrequency)

	cancel := h.m.CancelConnect()
	h.run()
	require.True(t, h.reply(cancel).OK)
	assert.Equal(t, StateInactive, h.m.State())
	call, ok = h.sim.LastCall("SetTemporarilyDisconnected")
	require.True(t, ok)
	assert.Equal(t, []any{false}, call.Args, "station is reconnected after the attempt")
}

func TestFrequencyConflictWithMultiChannelRetriesDirectly(t *testing.T) {
	h := newHarness(t, harnessConfig{passive: true, options: func(o *Options) { o.MultiChannel = true }})
	h.enable()
	h.discover(phoneAddr)
	connectToNegotiation(t, h, phoneAddr)

	h.post(driver.GoNegotiationFailure{Status: driver.StatusNoCommonChannel, Frequency: 5180})

	assert.Equal(t, StateGroupNegotiation, h.m.State())
	call, ok := h.sim.LastCall("SetMultiChannelMode")
	require.True(t, ok)
	assert.Equal(t, []any{true}, call.Args)
	assert.Equal(t, 2, h.sim.CallCount("Connect"))
	assert.Equal(t, 5180, lastConnect(t, h).PreferredFrequency)
	assert.Zero(t, h.count(NotifyDecisionRequested))
}

func TestAuthorizingNegotiationDefersNoCommonChannel(t *testing.T) {
	h := newHarness(t, harnessConfig{passive: true})
	h.enable()
	h.discover(phoneAddr)

	h.post(driver.GoNegotiationRequest{Config: models.NewConnectionConfig(phoneAddr)})
	require.Equal(t, StateUserAuthorizingNegotiation, h.m.State())
	decision, ok := h.last(NotifyDecisionRequested)
	require.True(t, ok)
	assert.Equal(t, DecisionNegotiation, decision.Decision)
	assert.Equal(t, "phone", decision.Device.Name)

	h.post(driver.GoNegotiationFailure{Status: driver.StatusNoCommonChannel, Frequency: 2412})
	require.Equal(t, StateUserAuthorizingNegotiation, h.m.State(), "conflict waits for the decision")

	h.m.AcceptConnection(nil)
	h.run()
	assert.Equal(t, StateFrequencyConflict, h.m.State())
	assert.Zero(t, h.sim.CallCount("Connect"))
}

func TestAuthorizingNegotiationFailureReturnsToInactive(t *testing.T) {
	h := newHarness(t, harnessConfig{passive: true})
	h.enable()
	h.discover(phoneAddr)

	h.post(driver.GoNegotiationRequest{Config: models.NewConnectionConfig(phoneAddr)})
	h.post(driver.GoNegotiationFailure{Status: driver.StatusRejectedByUser})

	assert.Equal(t, StateInactive, h.m.State())
}

func TestAcceptedNegotiationConnects(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.enable()
	h.discover(phoneAddr)

	h.post(driver.GoNegotiationRequest{Config: models.NewConnectionConfig(phoneAddr)})
	require.Equal(t, StateUserAuthorizingNegotiation, h.m.State())

	h.m.AcceptConnection(&models.WPS{Setup: models.WPSKeypad, Pin: "12345670"})
	h.run()

	cfg := lastConnect(t, h)
	assert.Equal(t, models.WPSKeypad, cfg.WPS.Setup)
	assert.Equal(t, "12345670", cfg.WPS.Pin)
	assert.Equal(t, StateGroupCreated, h.m.State())
	assert.True(t, h.m.info.IsGroupOwner)
}

func TestInvitationAcceptedFormsGroup(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.enable()
	h.discover(tvAddr)

	h.post(driver.InvitationReceived{Group: models.Group{
		Owner:     models.PeerDevice{Address: tvAddr},
		NetworkID: models.TemporaryNetID,
	}})
	require.Equal(t, StateUserAuthorizingInvite, h.m.State())
	decision, ok := h.last(NotifyDecisionRequested)
	require.True(t, ok)
	assert.Equal(t, DecisionInvitation, decision.Decision)
	assert.Equal(t, models.WPSPushButton, decision.Config.WPS.Setup)

	h.m.AcceptConnection(nil)
	h.run()

	assert.Equal(t, StateGroupCreated, h.m.State())
	assert.Equal(t, 1, h.sim.CallCount("StopFind"))
	assert.False(t, h.m.info.IsGroupOwner)
}

func TestInvitationFromUnknownPeerIgnored(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.enable()

	h.post(driver.InvitationReceived{Group: models.Group{Owner: models.PeerDevice{Address: tvAddr}}})

	assert.Equal(t, StateInactive, h.m.State())
	assert.Zero(t, h.count(NotifyDecisionRequested))
}

func TestLastClientLeavingRemovesGroup(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.enable()
	h.discover(phoneAddr)

	ch := h.m.Connect(models.NewConnectionConfig(phoneAddr))
	h.run()
	require.True(t, h.reply(ch).OK)
	require.Equal(t, StateGroupCreated, h.m.State())
	require.True(t, h.m.info.IsGroupOwner)
	assert.Equal(t, 1, h.sim.CallCount("StartServer"))

	h.post(driver.StationConnected{Address: phoneAddr, InterfaceAddress: "02:00:00:00:00:21"})
	require.Len(t, h.m.groups.Active().Clients, 1)
	assert.Equal(t, models.StatusConnected, h.peerStatus(phoneAddr))

	h.post(driver.StationDisconnected{Address: phoneAddr})

	assert.Equal(t, 1, h.sim.CallCount("GroupRemove"))
	assert.Equal(t, StateInactive, h.m.State())
	assert.Equal(t, 1, h.sim.CallCount("StopServer"))
	assert.Equal(t, models.StatusAvailable, h.peerStatus(phoneAddr))
}

func TestConnectUnknownPeerFails(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.enable()
	before := len(h.notes)

	ch := h.m.Connect(models.NewConnectionConfig("02:00:00:00:00:99"))
	h.run()

	r := h.reply(ch)
	assert.False(t, r.OK)
	assert.Equal(t, ReasonError, r.Reason)
	assert.Equal(t, StateInactive, h.m.State())
	assert.Len(t, h.notes, before)
	assert.Zero(t, h.sim.CallCount("ProvisionDiscovery"))
}

func TestDuplicateRemoveGroupIssuesOneDriverCall(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.enable()

	create := h.m.CreateGroup(models.TemporaryNetID)
	h.run()
	require.True(t, h.reply(create).OK)
	require.Equal(t, StateGroupCreated, h.m.State())

	first := h.m.RemoveGroup()
	second := h.m.RemoveGroup()
	h.run()

	assert.True(t, h.reply(first).OK)
	assert.True(t, h.reply(second).OK)
	assert.Equal(t, 1, h.sim.CallCount("GroupRemove"))
	assert.Equal(t, StateInactive, h.m.State())
}

func TestRemoveGroupFailureTearsDownLocally(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.enable()
	create := h.m.CreateGroup(models.TemporaryNetID)
	h.run()
	require.True(t, h.reply(create).OK)

	h.sim.FailOn("GroupRemove")
	remove := h.m.RemoveGroup()
	h.run()

	assert.Equal(t, ReasonError, h.reply(remove).Reason)
	assert.Equal(t, StateInactive, h.m.State())
	assert.Nil(t, h.m.groups.Active())
}

func TestGroupCreationTimeoutRevertsPeer(t *testing.T) {
	h := newHarness(t, harnessConfig{passive: true})
	h.enable()
	h.discover(phoneAddr)

	ch := h.m.Connect(models.NewConnectionConfig(phoneAddr))
	h.run()
	require.True(t, h.reply(ch).OK)
	require.Equal(t, models.StatusInvited, h.peerStatus(phoneAddr))

	h.advance(DefaultGroupCreatingTimeout)

	assert.Equal(t, StateInactive, h.m.State())
	assert.Equal(t, models.StatusAvailable, h.peerStatus(phoneAddr))
	require.Len(t, h.history.events, 1)
	assert.Equal(t, "timeout", h.history.events[0].Reason)
}

func TestGroupCreationTimeoutDropsVanishedPeer(t *testing.T) {
	h := newHarness(t, harnessConfig{passive: true})
	h.enable()
	h.discover(phoneAddr)

	ch := h.m.Connect(models.NewConnectionConfig(phoneAddr))
	h.run()
	require.True(t, h.reply(ch).OK)

	h.post(driver.DeviceLost{Address: phoneAddr})
	require.True(t, h.m.peers.Contains(phoneAddr), "peer is kept while the attempt runs")

	h.advance(DefaultGroupCreatingTimeout)

	assert.Equal(t, StateInactive, h.m.State())
	assert.False(t, h.m.peers.Contains(phoneAddr))
}

func TestStaleGroupCreationTimerIgnored(t *testing.T) {
	h := newHarness(t, harnessConfig{passive: true})
	h.enable()
	h.discover(phoneAddr)

	first := h.m.Connect(models.NewConnectionConfig(phoneAddr))
	h.run()
	require.True(t, h.reply(first).OK)

	h.clock.Add(DefaultGroupCreatingTimeout / 2)
	cancel := h.m.CancelConnect()
	h.run()
	require.True(t, h.reply(cancel).OK)
	require.Equal(t, StateInactive, h.m.State())

	second := h.m.Connect(models.NewConnectionConfig(phoneAddr))
	h.run()
	require.True(t, h.reply(second).OK)
	failures := len(h.history.events)

	// The first attempt's timer fires here.
	h.advance(DefaultGroupCreatingTimeout / 2)
	assert.Equal(t, StateProvisionDiscovery, h.m.State())
	assert.Equal(t, models.StatusInvited, h.peerStatus(phoneAddr))
	assert.Len(t, h.history.events, failures)

	h.clock.Add(DefaultGroupCreatingTimeout / 2)
	h.runUntil(func() bool { return h.m.State() == StateInactive })
	assert.Len(t, h.history.events, failures+1)
}

func TestCancelConnectDuringNegotiation(t *testing.T) {
	h := newHarness(t, harnessConfig{passive: true})
	h.enable()
	h.discover(phoneAddr)
	connectToNegotiation(t, h, phoneAddr)

	cancel := h.m.CancelConnect()
	h.run()

	assert.True(t, h.reply(cancel).OK)
	assert.Equal(t, 1, h.sim.CallCount("CancelConnect"))
	assert.Equal(t, StateInactive, h.m.State())
	assert.Equal(t, models.StatusAvailable, h.peerStatus(phoneAddr))
}

func TestDiscoveryRejectedWhileCreating(t *testing.T) {
	h := newHarness(t, harnessConfig{passive: true})
	h.enable()
	h.discover(phoneAddr)
	connectToNegotiation(t, h, phoneAddr)

	discover := h.m.DiscoverPeers()
	services := h.m.DiscoverServices()
	h.run()

	assert.Equal(t, ReasonBusy, h.reply(discover).Reason)
	assert.Equal(t, ReasonBusy, h.reply(services).Reason)
	assert.Equal(t, StateGroupNegotiation, h.m.State())
}

func TestAutonomousPersistentGroupKeepsClientList(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.enable()
	h.discover(phoneAddr)

	create := h.m.CreateGroup(models.PersistentNetID)
	h.run()
	require.True(t, h.reply(create).OK)
	require.Equal(t, StateGroupCreated, h.m.State())

	call, ok := h.sim.LastCall("GroupAdd")
	require.True(t, ok)
	assert.Equal(t, []any{true}, call.Args)
	assert.Zero(t, h.sim.CallCount("SetGroupIdle"), "autonomous groups have no idle timeout")
	assert.Equal(t, ServerAddress, h.m.info.GroupOwnerAddress)
	require.Equal(t, 0, h.m.groups.Active().NetworkID)

	h.post(driver.StationConnected{Address: phoneAddr})
	groups := h.m.RequestPersistentGroupInfo()
	h.run()
	r := h.reply(groups)
	require.Len(t, r.Groups, 1)
	assert.True(t, r.Groups[0].IsOwner)
	assert.Equal(t, []string{phoneAddr}, r.Groups[0].Clients)

	h.post(driver.StationDisconnected{Address: phoneAddr})
	assert.Equal(t, StateGroupCreated, h.m.State(), "autonomous group survives its last client")
	assert.Zero(t, h.sim.CallCount("GroupRemove"))

	remove := h.m.RemoveGroup()
	h.run()
	require.True(t, h.reply(remove).OK)
	require.Equal(t, StateInactive, h.m.State())

	again := h.m.CreateGroup(models.PersistentNetID)
	h.run()
	require.True(t, h.reply(again).OK)
	call, ok = h.sim.LastCall("GroupAddNetwork")
	require.True(t, ok)
	assert.Equal(t, []any{0}, call.Args)
}

func TestJoinRequestOpensWPSWindow(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.sim.AddPeer(driver.SimulatedPeer{Device: models.PeerDevice{Address: laptopAddr, Name: "laptop"}})
	h.enable()

	create := h.m.CreateGroup(models.TemporaryNetID)
	h.run()
	require.True(t, h.reply(create).OK)
	successes := h.count(NotifyConnectionChanged)

	h.post(driver.ProvisionDiscovery{
		Kind:   driver.ProvisionPushButtonRequest,
		Device: models.PeerDevice{Address: laptopAddr},
	})
	require.Equal(t, StateUserAuthorizingJoin, h.m.State())
	decision, ok := h.last(NotifyDecisionRequested)
	require.True(t, ok)
	assert.Equal(t, DecisionJoin, decision.Decision)

	h.m.AcceptConnection(nil)
	h.run()
	assert.Equal(t, 1, h.sim.CallCount("StartWPSPushButton"))

	h.post(driver.StationConnected{Address: laptopAddr})
	assert.Equal(t, StateGroupCreated, h.m.State())
	require.Len(t, h.m.groups.Active().Clients, 1)
	assert.Equal(t, "laptop", h.m.groups.Active().Clients[0].Name)
	assert.Equal(t, successes+1, h.count(NotifyConnectionChanged), "re-entering the group does not repeat the formed notification")
}

func TestRejectedJoinKeepsGroup(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.enable()
	create := h.m.CreateGroup(models.TemporaryNetID)
	h.run()
	require.True(t, h.reply(create).OK)

	h.post(driver.ProvisionDiscovery{Kind: driver.ProvisionEnterPin, Device: models.PeerDevice{Address: laptopAddr}})
	require.Equal(t, StateUserAuthorizingJoin, h.m.State())
	h.m.RejectConnection()
	h.run()

	assert.Equal(t, StateGroupCreated, h.m.State())
	assert.True(t, h.m.info.GroupFormed)
	assert.Nil(t, h.m.saved)
}

func TestUnknownPersistentGroupFallsBackToNegotiation(t *testing.T) {
	laptop := models.PeerDevice{
		Address:          laptopAddr,
		Name:             "laptop",
		DeviceCapability: models.DeviceCapInvitationProcedure,
		WPSConfigMethods: models.WPSConfigPushButton,
	}
	h := newHarness(t, harnessConfig{
		passive: true,
		peers:   []driver.SimulatedPeer{{Device: laptop}},
		nets: []models.NetworkRecord{{
			NetworkID:  3,
			SSID:       "DIRECT-ab",
			BSSID:      laptopAddr,
			Persistent: true,
		}},
	})
	h.enable()
	require.True(t, h.m.groups.Contains(3))
	h.post(driver.DeviceFound{Device: laptop})

	ch := h.m.Connect(models.NewConnectionConfig(laptopAddr))
	h.run()
	require.True(t, h.reply(ch).OK)
	require.Equal(t, StateGroupNegotiation, h.m.State(), "known group is reinvoked")
	call, ok := h.sim.LastCall("Reinvoke")
	require.True(t, ok)
	assert.Equal(t, []any{3, laptopAddr}, call.Args)

	h.post(driver.InvitationResult{Status: driver.StatusUnknownGroup})

	assert.Equal(t, StateGroupNegotiation, h.m.State())
	assert.False(t, h.m.groups.Contains(3))
	call, ok = h.sim.LastCall("RemoveNetwork")
	require.True(t, ok)
	assert.Equal(t, []any{3}, call.Args)
	assert.Equal(t, models.PersistentNetID, lastConnect(t, h).NetworkID)
}

func TestPeerDisconnectReportsNoCommonChannel(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.enable()
	h.discover(tvAddr)
	ch := h.m.Connect(models.NewConnectionConfig(tvAddr))
	h.run()
	require.True(t, h.reply(ch).OK)
	require.Equal(t, StateGroupCreated, h.m.State())

	h.post(driver.PeerDisconnected{Reason: driver.ReasonCodeNoCommonChannel})

	assert.Equal(t, StateInactive, h.m.State())
	conn, ok := h.last(NotifyConnectionChanged)
	require.True(t, ok)
	assert.False(t, conn.Info.GroupFormed)
	assert.Equal(t, LinkReasonNoCommonChannel, conn.Reason)
}

func TestDisableWithActiveGroupRemovesItFirst(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.enable()
	create := h.m.CreateGroup(models.TemporaryNetID)
	h.run()
	require.True(t, h.reply(create).OK)

	disable := h.m.Disable()
	h.run()

	assert.True(t, h.reply(disable).OK)
	assert.Equal(t, StateDisabled, h.m.State())
	assert.Equal(t, 1, h.sim.CallCount("GroupRemove"))
	assert.Nil(t, h.m.groups.Active())
}

func TestDisableDuringNegotiationDropsAttempt(t *testing.T) {
	h := newHarness(t, harnessConfig{passive: true})
	h.enable()
	h.discover(phoneAddr)
	connectToNegotiation(t, h, phoneAddr)
	require.Equal(t, models.StatusInvited, h.peerStatus(phoneAddr))

	disable := h.m.Disable()
	h.run()
	h.noReply(disable)

	assert.Equal(t, StateDisabling, h.m.State())
	assert.Nil(t, h.m.saved)
	assert.False(t, h.m.connectToPeer)
	assert.False(t, h.m.negotiationConflict)
}

func TestSupplicantLossDuringNegotiationRevertsPeer(t *testing.T) {
	h := newHarness(t, harnessConfig{passive: true})
	h.enable()
	h.discover(phoneAddr)
	connectToNegotiation(t, h, phoneAddr)

	h.post(driver.SupplicantDisconnected{})
	require.Equal(t, StateDisabled, h.m.State())
	assert.Nil(t, h.m.saved)
	assert.Equal(t, models.StatusAvailable, h.peerStatus(phoneAddr))

	h.enable()
	assert.Equal(t, models.StatusAvailable, h.peerStatus(phoneAddr))

	ch := h.m.Connect(models.NewConnectionConfig(phoneAddr))
	h.run()
	require.True(t, h.reply(ch).OK)
	assert.Equal(t, StateProvisionDiscovery, h.m.State())
}
