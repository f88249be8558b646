package machine

import (
	"wifip2p/driver"
	"wifip2p/models"
)

func groupNegotiationProcess(m *Machine, msg any) bool {
	switch v := msg.(type) {
	case driver.GoNegotiationSuccess, driver.GroupFormationSuccess:
	case driver.GroupStarted:
		m.groupStarted(v.Group)
		m.transitionTo(StateGroupCreated)
	case driver.GoNegotiationFailure:
		m.noteFrequency(v.Frequency)
		if v.Status == driver.StatusNoCommonChannel {
			m.transitionTo(StateFrequencyConflict)
			return true
		}
		m.abortGroupCreation("negotiation")
		m.transitionTo(StateInactive)
	case driver.GroupRemoved:
		m.abortGroupCreation("group_removed")
		m.transitionTo(StateInactive)
	case driver.GroupFormationFailure:
		m.noteFrequency(v.Frequency)
		// Other formation failures are followed by a group removed event.
		if v.Status == driver.StatusNoCommonChannel {
			m.transitionTo(StateFrequencyConflict)
		}
	case driver.InvitationResult:
		m.invitationResult(v)
	case driver.WPSResult:
		if v.Kind != driver.WPSOverlap {
			return false
		}
		m.log.Warn().Msg("wps overlap during negotiation")
	default:
		return false
	}
	return true
}

func (m *Machine) noteFrequency(freq int) {
	if freq != 0 {
		m.operatingFrequency = freq
	}
}

// groupStarted records the formed group and starts addressing for our role.
func (m *Machine) groupStarted(started models.Group) {
	group := started.Clone()
	group.Owner.Address = models.NormalizeAddress(group.Owner.Address)
	d := m.opts.Driver

	if group.NetworkID == models.PersistentNetID {
		m.updatePersistentNetworks(false)
		group.NetworkID = m.groups.NetworkIDFor(group.Owner.Address, group.NetworkName)
	}

	if group.IsOwner {
		if !m.autonomous {
			if err := d.SetGroupIdle(group.Interface, m.opts.GroupIdleTimeout); err != nil {
				m.log.Debug().Err(err).Msg("failed to set group idle timeout")
			}
		}
		if err := m.opts.Addressing.StartServer(group.Interface, ServerAddress); err != nil {
			m.log.Error().Err(err).Str("interface", group.Interface).Msg("failed to start dhcp server")
		}
	} else {
		if err := d.SetGroupIdle(group.Interface, m.opts.GroupIdleTimeout); err != nil {
			m.log.Debug().Err(err).Msg("failed to set group idle timeout")
		}
		if err := m.opts.Addressing.StartClient(group.Interface); err != nil {
			m.log.Error().Err(err).Str("interface", group.Interface).Msg("failed to start dhcp client")
			m.sendMessage(driver.AddressFailed{})
		}
		if peer, ok := m.peers.Get(group.Owner.Address); ok {
			group.Owner.Merge(peer)
			m.peers.UpdateStatus(group.Owner.Address, models.StatusConnected)
			m.notifyPeers()
		} else {
			m.log.Warn().Str("owner", group.Owner.Address).Msg("unknown group owner")
		}
	}

	m.groups.SetActive(group)
	m.metrics.formations.Inc()
	m.record(models.GroupEventFormed, group, m.savedAddress(), "")
	m.log.Info().
		Str("interface", group.Interface).
		Str("network", group.NetworkName).
		Bool("owner", group.IsOwner).
		Msg("group formed")
}

func (m *Machine) invitationResult(ev driver.InvitationResult) {
	switch ev.Status {
	case driver.StatusSuccess:
	case driver.StatusUnknownGroup:
		// The peer forgot the credentials; drop ours and negotiate from scratch.
		if m.saved == nil {
			return
		}
		if m.saved.NetworkID >= 0 {
			m.removeClientFromList(m.saved.NetworkID, m.saved.Address, true)
		}
		m.saved.NetworkID = models.PersistentNetID
		m.connectWithPinDisplay(m.saved)
	case driver.StatusInformationUnavailable:
		if m.saved == nil {
			return
		}
		m.saved.NetworkID = models.PersistentNetID
		m.connectWithPinDisplay(m.saved)
	case driver.StatusNoCommonChannel:
		m.noteFrequency(ev.Frequency)
		m.transitionTo(StateFrequencyConflict)
	default:
		m.abortGroupCreation("invitation")
		m.transitionTo(StateInactive)
	}
}

func frequencyConflictEnter(m *Machine) {
	if !m.opts.MultiChannel {
		m.requestDecision(DecisionChannelSwitch)
		return
	}
	if err := m.opts.Driver.SetMultiChannelMode(true); err != nil {
		m.log.Warn().Err(err).Msg("failed to enable multi channel mode")
	}
	if m.saved != nil {
		if m.connectToPeer {
			m.saved.PreferredFrequency = m.operatingFrequency
		} else {
			m.operatingFrequency = -1
			m.saved.PreferredFrequency = -1
		}
		if !m.reinvokePersistentGroup(m.saved) {
			m.connectWithPinDisplay(m.saved)
		}
	}
	m.transitionTo(StateGroupNegotiation)
}

func frequencyConflictProcess(m *Machine, msg any) bool {
	switch v := msg.(type) {
	case driver.GoNegotiationSuccess, driver.GroupFormationSuccess:
	case driver.GoNegotiationFailure, driver.GroupRemoved, driver.GroupFormationFailure:
	case driver.GroupStarted:
		m.deferMessage(v)
		m.transitionTo(StateGroupNegotiation)
	case driver.StationYielded:
		if m.saved == nil {
			m.transitionTo(StateInactive)
			return true
		}
		retry := *m.saved
		retry.PreferredFrequency = -1
		m.operatingFrequency = -1
		m.transitionTo(StateInactive)
		m.sendMessage(&command{op: OpConnect, config: retry})
	case *command:
		switch v.op {
		case OpAcceptChannelSwitch:
			m.temporarilyDisconnected = true
			if m.opts.Station == nil {
				m.sendMessage(driver.StationYielded{})
				return true
			}
			if err := m.opts.Station.SetTemporarilyDisconnected(true); err != nil {
				m.log.Warn().Err(err).Msg("station refused to disconnect")
				m.removeReason = LinkReasonUserDeclinedChannelSwitch
				m.abortGroupCreation("station_busy")
				m.transitionTo(StateInactive)
			}
		case OpRejectChannelSwitch:
			m.removeReason = LinkReasonUserDeclinedChannelSwitch
			m.abortGroupCreation("channel_switch_declined")
			m.transitionTo(StateInactive)
		default:
			return false
		}
	default:
		return false
	}
	return true
}
