package machine

import (
	"strconv"

	"wifip2p/driver"
	"wifip2p/models"
)

func groupCreatedEnter(m *Machine) {
	m.saved = nil
	group := m.groups.Active()
	if group == nil {
		return
	}
	wasFormed := m.info.GroupFormed
	m.info.GroupFormed = true
	m.info.IsGroupOwner = group.IsOwner
	switch {
	case group.IsOwner:
		m.info.GroupOwnerAddress = ServerAddress
	case group.Owner.IPAddress != "":
		m.info.GroupOwnerAddress = group.Owner.IPAddress
	}
	if m.thisDevice.Status != models.StatusConnected {
		m.updateThisDevice(models.StatusConnected)
	}
	if !wasFormed {
		m.notifyConnection(LinkReasonSuccess)
	}
}

// groupCreatedExit runs on every exit, including the re-entry after a join
// window. Link state is only reset once the group is gone.
func groupCreatedExit(m *Machine) {
	m.saved = nil
	if m.groups.Active() != nil {
		return
	}
	m.updateThisDevice(models.StatusAvailable)
	m.info = models.ConnectionInfo{}
	m.notifyConnection(m.removeReason)
	m.removeReason = LinkReasonUnknown
}

func groupCreatedProcess(m *Machine, msg any) bool {
	group := m.groups.Active()
	if group == nil {
		return false
	}
	d := m.opts.Driver

	switch v := msg.(type) {
	case *command:
		return groupCreatedCommand(m, group, v)
	case driver.StationConnected:
		m.stationConnected(group, v)
	case driver.StationDisconnected:
		addr := models.NormalizeAddress(v.Address)
		if addr == "" {
			return true
		}
		m.peers.UpdateStatus(addr, models.StatusAvailable)
		if group.RemoveClient(addr) {
			if !m.autonomous && len(group.Clients) == 0 {
				m.log.Info().Str("interface", group.Interface).Msg("last client left, removing group")
				if err := d.GroupRemove(group.Interface); err != nil {
					m.log.Warn().Err(err).Msg("failed to remove group")
				}
			} else {
				m.notifyConnection(LinkReasonSuccess)
			}
		} else {
			m.log.Debug().Str("station", addr).Msg("disconnect from a station that is not a client")
		}
		m.notifyPeers()
	case driver.AddressAssigned:
		m.info.GroupOwnerAddress = v.ServerAddress
		group.Owner.IPAddress = v.ServerAddress
		m.peers.UpdateIPAddress(group.Owner.Address, v.ServerAddress)
		m.notifyConnection(LinkReasonSuccess)
	case driver.AddressFailed:
		m.log.Warn().Str("interface", group.Interface).Msg("address assignment failed, removing group")
		if err := d.GroupRemove(group.Interface); err != nil {
			m.log.Warn().Err(err).Msg("failed to remove group")
		}
	case driver.GroupRemoved:
		m.noteFrequency(v.Frequency)
		m.removeReason = linkReasonFor(v.Status)
		m.teardownGroup("group_removed")
		m.transitionTo(StateInactive)
	case driver.PeerDisconnected:
		if v.Reason == driver.ReasonCodeNoCommonChannel {
			m.removeReason = LinkReasonNoCommonChannel
		}
		m.noteFrequency(v.Frequency)
		if err := d.GroupRemove(group.Interface); err != nil {
			m.log.Warn().Err(err).Msg("failed to remove group")
		}
		m.teardownGroup("peer_disconnected")
		m.transitionTo(StateInactive)
	case driver.DeviceLost:
		if !group.Contains(v.Address) {
			return false
		}
		m.peers.Quarantine(v.Address)
	case driver.DeviceFound:
		if m.isThisDevice(v.Device.Address) {
			return true
		}
		m.peers.Update(v.Device)
		if group.Contains(v.Device.Address) {
			m.peers.UpdateStatus(v.Device.Address, models.StatusConnected)
		}
		m.notifyPeers()
	case driver.InvitationResult:
		m.groupInvitationResult(group, v)
	case driver.ProvisionDiscovery:
		if v.Kind == driver.ProvisionFailure || v.Kind == driver.ProvisionPushButtonResponse {
			return false
		}
		addr := models.NormalizeAddress(v.Device.Address)
		if v.Device.Name != "" {
			m.peers.Update(v.Device)
		}
		cfg := models.NewConnectionConfig(addr)
		switch v.Kind {
		case driver.ProvisionEnterPin:
			cfg.WPS.Setup = models.WPSKeypad
		case driver.ProvisionShowPin:
			cfg.WPS.Setup = models.WPSDisplay
			cfg.WPS.Pin = v.Pin
		}
		m.saved = &cfg
		m.transitionTo(StateUserAuthorizingJoin)
	case driver.GroupStarted:
		m.log.Debug().Str("interface", v.Group.Interface).Msg("group started while a group is active")
	case driver.SupplicantDisconnected:
		m.sendMessage(driver.GroupRemoved{Status: driver.StatusUnknown})
		m.deferMessage(v)
	default:
		return false
	}
	return true
}

func groupCreatedCommand(m *Machine, group *models.Group, cmd *command) bool {
	d := m.opts.Driver
	switch cmd.op {
	case OpRemoveGroup:
		if err := d.GroupRemove(group.Interface); err != nil {
			m.log.Warn().Err(err).Msg("group remove failed, tearing down locally")
			m.teardownGroup("remove_failed")
			m.transitionTo(StateInactive)
			m.fail(cmd, ReasonError)
			return true
		}
		m.transitionTo(StateOngoingGroupRemoval)
		m.ok(cmd)
	case OpDisable:
		m.sendMessage(&command{op: OpRemoveGroup})
		m.deferMessage(cmd)
	case OpBlockDiscovery:
		m.deferMessage(cmd)
	case OpDiscoverPeers:
		m.clearServiceRequest()
		m.startDiscovery(cmd, m.opts.ConnectedDiscoverTimeout)
	case OpStartWPS:
		m.startWPS(group, cmd)
	case OpConnect:
		cfg := cmd.config
		if !m.validConfig(cfg) {
			m.fail(cmd, ReasonError)
			return true
		}
		cfg.Address = models.NormalizeAddress(cfg.Address)
		m.saved = &cfg
		m.connectToPeer = true
		if err := d.Invite(group, cfg.Address); err != nil {
			m.log.Warn().Err(err).Str("peer", cfg.Address).Msg("invite failed")
			m.fail(cmd, ReasonError)
			return true
		}
		m.peers.UpdateStatus(cfg.Address, models.StatusInvited)
		m.notifyPeers()
		m.ok(cmd)
	case OpRemoveClient:
		if !group.IsOwner {
			m.fail(cmd, ReasonError)
			return true
		}
		m.result(cmd, d.RemoveClient(group.Interface, cmd.address))
	default:
		return false
	}
	return true
}

func (m *Machine) stationConnected(group *models.Group, ev driver.StationConnected) {
	d := m.opts.Driver
	if err := d.SetGroupIdle(group.Interface, 0); err != nil {
		m.log.Debug().Err(err).Msg("failed to clear group idle timeout")
	}
	addr := models.NormalizeAddress(ev.Address)
	if addr == "" {
		m.log.Warn().Msg("station connected without device address")
		m.notifyConnection(LinkReasonSuccess)
		return
	}

	if !m.peers.Contains(addr) {
		dev, err := d.StationInfo(group.Interface, addr)
		if err != nil {
			m.log.Debug().Err(err).Str("station", addr).Msg("station info query failed")
			if departed, ok := m.peers.Recall(addr); ok {
				dev = departed
			}
			dev.Address = addr
		}
		m.peers.Update(dev)
	}
	if ev.InterfaceAddress != "" {
		m.peers.UpdateInterfaceAddress(addr, ev.InterfaceAddress)
	}
	m.peers.UpdateStatus(addr, models.StatusConnected)
	dev, _ := m.peers.Get(addr)
	group.AddClient(dev)
	if addr == m.savedAddress() {
		m.finishInvite()
	}

	if group.IsOwner && group.NetworkID >= 0 && m.groups.AddClient(group.NetworkID, addr) {
		m.notifyPersistentGroups()
	}
	m.notifyPeers()
	m.notifyConnection(LinkReasonSuccess)
}

func (m *Machine) startWPS(group *models.Group, cmd *command) {
	if cmd.wps == nil {
		m.fail(cmd, ReasonError)
		return
	}
	d := m.opts.Driver
	var err error
	switch {
	case cmd.wps.Setup == models.WPSPushButton:
		err = d.StartWPSPushButton(group.Interface)
	case cmd.wps.Pin == "":
		var pin string
		pin, err = d.StartWPSPinDisplay(group.Interface)
		if err == nil {
			if _, convErr := strconv.Atoi(pin); convErr != nil {
				err = convErr
			} else {
				m.notifyInvitationSent(pin, "any")
			}
		}
	default:
		err = d.StartWPSPinKeypad(group.Interface, cmd.wps.Pin)
	}
	m.result(cmd, err)
}

func (m *Machine) groupInvitationResult(group *models.Group, ev driver.InvitationResult) {
	done := true
	switch ev.Status {
	case driver.StatusUnknownGroup:
		done = false
		if group.NetworkID < 0 || m.saved == nil {
			break
		}
		if !m.removeClientFromList(group.NetworkID, m.saved.Address, false) {
			m.finishInvite()
			return
		}
		m.sendMessage(&command{op: OpConnect, config: *m.saved})
	case driver.StatusNoCommonChannel:
		if m.opts.MultiChannel {
			if err := m.opts.Driver.SetMultiChannelMode(true); err != nil {
				m.log.Warn().Err(err).Msg("failed to enable multi channel mode")
			}
		}
	}
	if done && !group.IsOwner && m.saved != nil {
		if m.peers.Remove(m.saved.Address) {
			m.notifyPeers()
		}
	}
	if done {
		m.finishInvite()
	}
}

// finishInvite forgets the config of an invitation sent from the formed group.
func (m *Machine) finishInvite() {
	m.saved = nil
	m.connectToPeer = false
}

func authorizingJoinEnter(m *Machine) {
	m.requestDecision(DecisionJoin)
}

func authorizingJoinProcess(m *Machine, msg any) bool {
	group := m.groups.Active()
	switch v := msg.(type) {
	case driver.ProvisionDiscovery:
		if v.Kind == driver.ProvisionFailure {
			return false
		}
	case driver.StationConnected:
		m.deferMessage(v)
		m.transitionTo(StateGroupCreated)
	case driver.WPSResult:
		if v.Kind == driver.WPSSuccess {
			return false
		}
		m.transitionTo(StateGroupCreated)
	case *command:
		switch v.op {
		case OpAcceptConnection:
			m.overrideWPS(v.wps)
			if m.saved == nil || group == nil {
				m.transitionTo(StateGroupCreated)
				return true
			}
			m.stopFind()
			var err error
			if m.saved.WPS.Setup == models.WPSPushButton {
				err = m.opts.Driver.StartWPSPushButton(group.Interface)
			} else {
				err = m.opts.Driver.StartWPSPinKeypad(group.Interface, m.saved.WPS.Pin)
			}
			if err != nil {
				m.log.Warn().Err(err).Msg("failed to open wps window")
				m.transitionTo(StateGroupCreated)
			}
		case OpRejectConnection:
			m.transitionTo(StateGroupCreated)
		default:
			return false
		}
	default:
		return false
	}
	return true
}

func ongoingRemovalProcess(m *Machine, msg any) bool {
	cmd, ok := msg.(*command)
	if !ok {
		return false
	}
	switch cmd.op {
	case OpRemoveGroup, OpRemoveClient:
		m.ok(cmd)
		return true
	}
	return false
}
