package machine

import (
	"wifip2p/driver"
	"wifip2p/models"
)

func groupCreatingEnter(m *Machine) {
	m.startTimer(timerGroupCreating, m.opts.GroupCreatingTimeout)
	m.operatingFrequency = -1
}

// groupCreatingExit drops whatever attempt is still in flight. Outside a
// formed group the target must not stay INVITED.
func groupCreatingExit(m *Machine) {
	if m.saved != nil && m.destination != StateGroupCreated {
		addr := m.saved.Address
		if dev, ok := m.peers.Get(addr); ok && dev.Status == models.StatusInvited {
			m.peers.UpdateStatus(addr, models.StatusAvailable)
			m.notifyPeers()
		}
	}
	m.saved = nil
	m.connectToPeer = false
	m.negotiationConflict = false
}

func groupCreatingProcess(m *Machine, msg any) bool {
	switch v := msg.(type) {
	case timerFired:
		if v.class != timerGroupCreating {
			return false
		}
		if !m.timerCurrent(v) {
			m.log.Debug().Int("epoch", v.epoch).Msg("stale group creation timer")
			return true
		}
		m.abortGroupCreation("timeout")
		m.transitionTo(StateInactive)
	case driver.DeviceLost:
		addr := models.NormalizeAddress(v.Address)
		if addr == "" || addr != m.savedAddress() {
			return false
		}
		// The scan cache drops peers mid negotiation; keep it until the attempt ends.
		m.peers.Quarantine(addr)
	case driver.DeviceFound:
		if m.isThisDevice(v.Device.Address) {
			return true
		}
		m.peers.Update(v.Device)
		if models.NormalizeAddress(v.Device.Address) == m.savedAddress() {
			m.peers.UpdateStatus(v.Device.Address, models.StatusInvited)
		}
		m.notifyPeers()
	case driver.GoNegotiationSuccess:
		m.autonomous = false
		m.transitionTo(StateGroupNegotiation)
	case driver.FindStopped:
		m.deferMessage(v)
	case *command:
		switch v.op {
		case OpDiscoverPeers, OpDiscoverServices:
			m.fail(v, ReasonBusy)
		case OpCancelConnect:
			d := m.opts.Driver
			err := d.CancelConnect()
			if err != nil {
				err = d.GroupRemove(m.opts.Interface)
			}
			m.abortGroupCreation("cancelled")
			m.transitionTo(StateInactive)
			m.result(v, err)
		case OpStopDiscovery, OpBlockDiscovery:
			m.deferMessage(v)
		default:
			return false
		}
	default:
		return false
	}
	return true
}

// overrideWPS applies a WPS method chosen with the user's decision.
func (m *Machine) overrideWPS(wps *models.WPS) {
	if wps == nil || m.saved == nil {
		return
	}
	m.saved.WPS = *wps
}

func (m *Machine) stopFind() {
	if err := m.opts.Driver.StopFind(); err != nil {
		m.log.Debug().Err(err).Msg("stop find failed")
	}
}

func (m *Machine) markSavedInvited() {
	if m.peers.UpdateStatus(m.savedAddress(), models.StatusInvited) {
		m.notifyPeers()
	}
}

func authorizingNegotiationEnter(m *Machine) {
	m.requestDecision(DecisionNegotiation)
}

func authorizingNegotiationProcess(m *Machine, msg any) bool {
	switch v := msg.(type) {
	case *command:
		switch v.op {
		case OpAcceptConnection:
			m.overrideWPS(v.wps)
			if m.negotiationConflict {
				m.negotiationConflict = false
				m.transitionTo(StateFrequencyConflict)
				return true
			}
			m.stopFind()
			m.connectWithPinDisplay(m.saved)
			m.markSavedInvited()
			m.transitionTo(StateGroupNegotiation)
		case OpRejectConnection:
			m.transitionTo(StateInactive)
		default:
			return false
		}
	case driver.GoNegotiationFailure:
		if v.Frequency != 0 {
			m.operatingFrequency = v.Frequency
		}
		// The peer gave up on a channel we cannot use; resolve it once the user accepts.
		if v.Status == driver.StatusNoCommonChannel {
			m.negotiationConflict = true
			return true
		}
		m.transitionTo(StateInactive)
	default:
		return false
	}
	return true
}

func authorizingInviteEnter(m *Machine) {
	m.requestDecision(DecisionInvitation)
}

func authorizingInviteProcess(m *Machine, msg any) bool {
	cmd, ok := msg.(*command)
	if !ok {
		return false
	}
	switch cmd.op {
	case OpAcceptConnection:
		m.overrideWPS(cmd.wps)
		m.stopFind()
		if !m.reinvokePersistentGroup(m.saved) {
			m.connectWithPinDisplay(m.saved)
		}
		m.markSavedInvited()
		m.transitionTo(StateGroupNegotiation)
	case OpRejectConnection:
		m.transitionTo(StateInactive)
	default:
		return false
	}
	return true
}

func provisionDiscoveryEnter(m *Machine) {
	if m.saved == nil {
		return
	}
	if err := m.opts.Driver.ProvisionDiscovery(*m.saved); err != nil {
		m.log.Warn().Err(err).Str("peer", m.saved.Address).Msg("provision discovery failed")
		m.sendMessage(driver.ProvisionDiscovery{
			Kind:   driver.ProvisionFailure,
			Device: models.PeerDevice{Address: m.saved.Address},
		})
	}
}

func provisionDiscoveryProcess(m *Machine, msg any) bool {
	switch v := msg.(type) {
	case driver.ProvisionDiscovery:
		if v.Kind == driver.ProvisionFailure {
			m.abortGroupCreation("provision_discovery")
			m.transitionTo(StateInactive)
			return true
		}
		if m.saved == nil || models.NormalizeAddress(v.Device.Address) != m.saved.Address {
			return true
		}
		switch v.Kind {
		case driver.ProvisionPushButtonResponse:
			if m.saved.WPS.Setup == models.WPSPushButton {
				m.connectWithPinDisplay(m.saved)
				m.transitionTo(StateGroupNegotiation)
			}
		case driver.ProvisionEnterPin:
			if m.saved.WPS.Setup != models.WPSKeypad {
				return true
			}
			if m.saved.WPS.Pin != "" {
				m.connectWithPinDisplay(m.saved)
				m.transitionTo(StateGroupNegotiation)
				return true
			}
			m.transitionTo(StateUserAuthorizingNegotiation)
		case driver.ProvisionShowPin:
			if m.saved.WPS.Setup == models.WPSDisplay {
				m.saved.WPS.Pin = v.Pin
				m.connectWithPinDisplay(m.saved)
				m.notifyInvitationSent(v.Pin, m.saved.Address)
				m.transitionTo(StateGroupNegotiation)
			}
		default:
			return false
		}
	case *command:
		if v.op != OpCancelConnect {
			return false
		}
		err := m.opts.Driver.GroupRemove(m.opts.Interface)
		m.abortGroupCreation("cancelled")
		m.transitionTo(StateInactive)
		m.result(v, err)
	default:
		return false
	}
	return true
}
