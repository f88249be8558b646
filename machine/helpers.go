package machine

import (
	"strconv"

	"github.com/google/uuid"

	"wifip2p/driver"
	"wifip2p/models"
)

func (m *Machine) reply(cmd *command, r Reply) {
	if cmd == nil || cmd.reply == nil {
		return
	}
	r.Op = cmd.op
	select {
	case cmd.reply <- r:
	default:
		m.log.Warn().Str("op", cmd.op.String()).Msg("reply dropped, already answered")
	}
}

func (m *Machine) ok(cmd *command) {
	m.reply(cmd, Reply{OK: true})
}

func (m *Machine) fail(cmd *command, reason Reason) {
	m.reply(cmd, Reply{Reason: reason})
}

func (m *Machine) result(cmd *command, err error) {
	if err != nil {
		m.log.Debug().Err(err).Str("op", cmd.op.String()).Msg("command failed")
		m.fail(cmd, ReasonError)
		return
	}
	m.ok(cmd)
}

func (m *Machine) emit(n Notification) {
	m.notify.Notify(n)
}

func (m *Machine) notifyPeers() {
	peers := m.peers.Snapshot()
	m.metrics.peers.Set(float64(len(peers)))
	m.emit(Notification{Kind: NotifyPeersChanged, Peers: peers})
}

func (m *Machine) notifyConnection(reason LinkReason) {
	m.emit(Notification{
		Kind:   NotifyConnectionChanged,
		Info:   m.info,
		Group:  m.groups.Active().Clone(),
		Reason: reason,
	})
}

// notifyPersistentGroups announces the record set and mirrors it to storage.
func (m *Machine) notifyPersistentGroups() {
	groups := m.groups.Snapshot()
	if m.opts.Groups != nil {
		if err := m.opts.Groups.ReplacePersistentGroups(groups); err != nil {
			m.log.Warn().Err(err).Msg("failed to mirror persistent groups")
		}
	}
	m.emit(Notification{Kind: NotifyPersistentGroupsChanged, Groups: groups})
}

// sendDiscoveryChanged emits only on a change of the started flag.
func (m *Machine) sendDiscoveryChanged(started bool) {
	if m.discoveryStarted == started {
		return
	}
	m.discoveryStarted = started
	m.emit(Notification{Kind: NotifyDiscoveryChanged, Discovering: started})
}

func (m *Machine) updateThisDevice(status models.DeviceStatus) {
	m.thisDevice.Status = status
	m.emit(Notification{Kind: NotifyThisDeviceChanged, Device: m.thisDevice})
}

func (m *Machine) notifyState(enabled bool) {
	m.emit(Notification{Kind: NotifyStateChanged, Enabled: enabled})
}

func (m *Machine) requestDecision(kind DecisionKind) {
	n := Notification{Kind: NotifyDecisionRequested, Decision: kind}
	if m.saved != nil {
		n.Config = *m.saved
		n.Pin = m.saved.WPS.Pin
		if dev, ok := m.peers.Get(m.saved.Address); ok {
			n.Device = dev
		}
	}
	m.emit(n)
}

func (m *Machine) notifyInvitationSent(pin, addr string) {
	m.emit(Notification{
		Kind:   NotifyInvitationSent,
		Pin:    pin,
		Device: models.PeerDevice{Address: addr},
	})
}

func (m *Machine) record(kind models.GroupEventKind, group *models.Group, peer, reason string) {
	if m.opts.History == nil {
		return
	}
	ev := models.GroupEvent{
		ID:          uuid.NewString(),
		Kind:        kind,
		NetworkID:   models.TemporaryNetID,
		PeerAddress: peer,
		Reason:      reason,
		At:          m.clock.Now().UTC(),
	}
	if group != nil {
		ev.NetworkName = group.NetworkName
		ev.NetworkID = group.NetworkID
		ev.Interface = group.Interface
		ev.IsOwner = group.IsOwner
		if peer == "" && !group.IsOwner {
			ev.PeerAddress = group.Owner.Address
		}
	}
	if err := m.opts.History.RecordGroupEvent(ev); err != nil {
		m.log.Warn().Err(err).Str("kind", string(kind)).Msg("failed to record group event")
	}
}

// validConfig reports whether cfg targets a device in the peer registry.
func (m *Machine) validConfig(cfg models.ConnectionConfig) bool {
	if models.NormalizeAddress(cfg.Address) == "" {
		return false
	}
	return m.peers.Contains(cfg.Address)
}

func (m *Machine) savedAddress() string {
	if m.saved == nil {
		return ""
	}
	return m.saved.Address
}

// currentDevice refreshes the group capability of addr from the driver and
// returns the registry entry.
func (m *Machine) currentDevice(addr string) (models.PeerDevice, bool) {
	if capability, err := m.opts.Driver.GroupCapability(addr); err == nil {
		m.peers.UpdateGroupCapability(addr, capability)
	} else {
		m.log.Debug().Err(err).Str("peer", addr).Msg("group capability query failed")
	}
	return m.peers.Get(addr)
}

// connectWithPinDisplay issues a driver connect, joining when the peer is
// already a group owner. A driver error is fed back as a negotiation failure.
func (m *Machine) connectWithPinDisplay(cfg *models.ConnectionConfig) {
	if cfg == nil {
		return
	}
	dev, _ := m.currentDevice(cfg.Address)
	pin, err := m.opts.Driver.Connect(*cfg, dev.IsGroupOwner())
	if err != nil {
		m.log.Warn().Err(err).Str("peer", cfg.Address).Msg("connect failed")
		m.sendMessage(driver.GoNegotiationFailure{Status: driver.StatusUnknown})
		return
	}
	if _, convErr := strconv.Atoi(pin); pin != "" && convErr == nil {
		m.notifyInvitationSent(pin, cfg.Address)
	}
}

// reinvokePersistentGroup tries to re-form a remembered group with the peer
// of cfg. On success cfg.NetworkID holds the reinvoked network.
func (m *Machine) reinvokePersistentGroup(cfg *models.ConnectionConfig) bool {
	if cfg == nil || m.opts.DisablePersistentGroups {
		return false
	}
	dev, ok := m.currentDevice(cfg.Address)
	if !ok {
		return false
	}
	d := m.opts.Driver

	join := dev.IsGroupOwner()
	ssid, _ := d.SSID(dev.Address)
	if join && dev.IsGroupLimit() {
		join = false
	} else if join {
		if netID := m.groups.NetworkIDFor(dev.Address, ssid); netID >= 0 {
			if err := d.Reinvoke(netID, dev.Address); err != nil {
				m.log.Debug().Err(err).Int("network_id", netID).Msg("reinvoke as client failed")
				return false
			}
			return true
		}
	}

	if !join && dev.IsDeviceLimit() {
		return false
	}
	if join || !dev.IsInvitationCapable() {
		return false
	}

	netID := models.PersistentNetID
	if cfg.NetworkID >= 0 {
		if models.NormalizeAddress(cfg.Address) == m.groups.OwnerAddress(cfg.NetworkID) {
			netID = cfg.NetworkID
		}
	} else {
		netID = m.groups.NetworkID(dev.Address)
	}
	if netID < 0 {
		netID = m.groups.NetworkIDForClient(dev.Address)
	}
	if netID < 0 {
		return false
	}
	if err := d.Reinvoke(netID, dev.Address); err != nil {
		m.log.Debug().Err(err).Int("network_id", netID).Msg("reinvoke failed, reloading networks")
		m.updatePersistentNetworks(true)
		return false
	}
	cfg.NetworkID = netID
	return true
}

// updatePersistentNetworks reconciles the persistent records with the
// driver's network list and purges non persistent leftovers.
func (m *Machine) updatePersistentNetworks(reload bool) {
	d := m.opts.Driver
	networks, err := d.ListNetworks()
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to list networks")
		return
	}
	result := m.groups.Reconcile(networks, m.thisDevice.Address, reload)
	for _, id := range result.Purge {
		if err := d.RemoveNetwork(id); err != nil {
			m.log.Warn().Err(err).Int("network_id", id).Msg("failed to remove stale network")
		}
	}
	if !result.Changed {
		return
	}
	if err := d.SaveConfig(); err != nil {
		m.log.Warn().Err(err).Msg("failed to save driver config")
	}
	m.notifyPersistentGroups()
}

// deletePersistentGroup removes a record together with its driver network.
func (m *Machine) deletePersistentGroup(netID int) bool {
	if !m.groups.Remove(netID) {
		return false
	}
	d := m.opts.Driver
	if err := d.RemoveNetwork(netID); err != nil {
		m.log.Warn().Err(err).Int("network_id", netID).Msg("failed to remove network")
	}
	if err := d.SaveConfig(); err != nil {
		m.log.Warn().Err(err).Msg("failed to save driver config")
	}
	m.notifyPersistentGroups()
	return true
}

// removeClientFromList drops addr from the client list of netID. When the
// list becomes empty and removable is set the whole record is deleted.
func (m *Machine) removeClientFromList(netID int, addr string, removable bool) bool {
	remaining, found := m.groups.RemoveClient(netID, addr)
	if len(remaining) == 0 && removable {
		m.deletePersistentGroup(netID)
		return true
	}
	if !found {
		return false
	}
	d := m.opts.Driver
	if err := d.SetClientList(netID, remaining); err != nil {
		m.log.Warn().Err(err).Int("network_id", netID).Msg("failed to update client list")
	}
	if err := d.SaveConfig(); err != nil {
		m.log.Warn().Err(err).Msg("failed to save driver config")
	}
	m.notifyPersistentGroups()
	return true
}

func (m *Machine) restoreStation() {
	if !m.temporarilyDisconnected {
		return
	}
	m.temporarilyDisconnected = false
	if m.opts.Station == nil {
		return
	}
	if err := m.opts.Station.SetTemporarilyDisconnected(false); err != nil {
		m.log.Warn().Err(err).Msg("failed to reconnect station")
	}
}

// abortGroupCreation is the common cleanup of every failed attempt in GroupCreating.
func (m *Machine) abortGroupCreation(reason string) {
	peer := m.savedAddress()
	m.log.Info().Str("peer", peer).Str("reason", reason).Msg("group creation failed")

	m.info = models.ConnectionInfo{}
	m.notifyConnection(m.removeReason)
	m.removeReason = LinkReasonUnknown

	changed := m.peers.RemoveQuarantined()
	if peer != "" && m.peers.UpdateStatus(peer, models.StatusAvailable) {
		changed = true
	}
	if changed {
		m.notifyPeers()
	}

	m.clearServiceRequest()
	m.sendMessage(&command{op: OpDiscoverPeers})
	m.restoreStation()

	m.metrics.failures.WithLabelValues(reason).Inc()
	m.record(models.GroupEventFailed, nil, peer, reason)
	m.saved = nil
}

// teardownGroup releases everything tied to the formed group. It runs
// before every transition out of GroupCreated.
func (m *Machine) teardownGroup(reason string) {
	group := m.groups.Active()
	if group == nil {
		return
	}
	m.log.Info().Str("interface", group.Interface).Str("reason", reason).Msg("group removed")

	a := m.opts.Addressing
	if group.IsOwner {
		if err := a.StopServer(group.Interface); err != nil {
			m.log.Warn().Err(err).Msg("failed to stop dhcp server")
		}
	} else if err := a.StopClient(group.Interface); err != nil {
		m.log.Warn().Err(err).Msg("failed to stop dhcp client")
	}
	if err := a.ClearAddresses(group.Interface); err != nil {
		m.log.Warn().Err(err).Msg("failed to clear interface addresses")
	}

	changed := false
	for _, c := range group.Clients {
		if m.peers.Remove(c.Address) {
			changed = true
		}
	}
	if m.peers.Remove(group.Owner.Address) {
		changed = true
	}
	if m.peers.RemoveQuarantined() {
		changed = true
	}
	if changed {
		m.notifyPeers()
	}

	m.groups.ClearActive()
	m.info = models.ConnectionInfo{}
	m.clearServiceRequest()
	m.restoreStation()

	m.metrics.removals.Inc()
	m.record(models.GroupEventRemoved, group, "", reason)
}

func linkReasonFor(status driver.Status) LinkReason {
	if status == driver.StatusNoCommonChannel {
		return LinkReasonNoCommonChannel
	}
	return LinkReasonUnknown
}
