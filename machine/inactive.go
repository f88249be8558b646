package machine

import (
	"wifip2p/driver"
	"wifip2p/models"
)

func inactiveEnter(m *Machine) {
	m.saved = nil
	m.connectToPeer = false
	m.negotiationConflict = false
}

func inactiveProcess(m *Machine, msg any) bool {
	switch v := msg.(type) {
	case *command:
		return inactiveCommand(m, v)
	case driver.GoNegotiationRequest:
		cfg := v.Config
		if !m.validConfig(cfg) {
			m.log.Debug().Str("peer", cfg.Address).Msg("negotiation request from unknown peer")
			return true
		}
		cfg.Address = models.NormalizeAddress(cfg.Address)
		m.saved = &cfg
		m.autonomous = false
		m.transitionTo(StateUserAuthorizingNegotiation)
	case driver.InvitationReceived:
		owner := models.NormalizeAddress(v.Group.Owner.Address)
		if owner == "" {
			m.log.Debug().Msg("invitation without group owner")
			return true
		}
		cfg := models.NewConnectionConfig(owner)
		cfg.NetworkID = v.Group.NetworkID
		if !m.validConfig(cfg) {
			m.log.Debug().Str("peer", owner).Msg("invitation from unknown peer")
			return true
		}
		if dev, ok := m.peers.Get(owner); ok {
			switch {
			case dev.SupportsPBC():
				cfg.WPS.Setup = models.WPSPushButton
			case dev.SupportsKeypad():
				cfg.WPS.Setup = models.WPSKeypad
			case dev.SupportsDisplay():
				cfg.WPS.Setup = models.WPSDisplay
			}
		}
		m.saved = &cfg
		m.autonomous = false
		m.transitionTo(StateUserAuthorizingInvite)
	case driver.ProvisionDiscovery:
		return inactiveProvision(m, v)
	case driver.GroupStarted:
		if v.Group.NetworkID != models.PersistentNetID {
			m.log.Warn().Str("interface", v.Group.Interface).Msg("unexpected temporary group, removing")
			if err := m.opts.Driver.GroupRemove(v.Group.Interface); err != nil {
				m.log.Warn().Err(err).Msg("failed to remove group")
			}
			return true
		}
		// A peer re-formed one of our persistent groups.
		m.autonomous = false
		m.deferMessage(v)
		m.transitionTo(StateGroupNegotiation)
	default:
		return false
	}
	return true
}

func inactiveCommand(m *Machine, cmd *command) bool {
	d := m.opts.Driver
	switch cmd.op {
	case OpConnect:
		cfg := cmd.config
		if !m.validConfig(cfg) {
			m.fail(cmd, ReasonError)
			return true
		}
		cfg.Address = models.NormalizeAddress(cfg.Address)
		m.autonomous = false
		m.connectToPeer = true

		dest := StateProvisionDiscovery
		if m.opts.DisablePersistentGroups {
			cfg.NetworkID = models.TemporaryNetID
		} else if m.reinvokePersistentGroup(&cfg) {
			dest = StateGroupNegotiation
		}
		m.saved = &cfg
		m.peers.UpdateStatus(cfg.Address, models.StatusInvited)
		m.notifyPeers()
		m.ok(cmd)
		m.transitionTo(dest)
	case OpStopDiscovery:
		if err := d.StopFind(); err != nil {
			m.result(cmd, err)
			return true
		}
		if err := d.Flush(); err != nil {
			m.log.Debug().Err(err).Msg("flush failed")
		}
		m.clearServiceRequest()
		m.ok(cmd)
	case OpCreateGroup:
		m.autonomous = true
		if err := m.addGroup(cmd.netID); err != nil {
			m.log.Warn().Err(err).Int("network_id", cmd.netID).Msg("failed to create group")
			m.fail(cmd, ReasonError)
			return true
		}
		m.ok(cmd)
		m.transitionTo(StateGroupNegotiation)
	default:
		return false
	}
	return true
}

// addGroup starts an autonomous group for netID.
func (m *Machine) addGroup(netID int) error {
	d := m.opts.Driver
	switch {
	case m.opts.DisablePersistentGroups || netID == models.TemporaryNetID:
		return d.GroupAdd(false)
	case netID == models.PersistentNetID:
		if id := m.groups.NetworkID(m.thisDevice.Address); id >= 0 {
			return d.GroupAddNetwork(id)
		}
		return d.GroupAdd(true)
	case m.groups.Contains(netID):
		return d.GroupAddNetwork(netID)
	default:
		return d.GroupAdd(false)
	}
}

// inactiveProvision handles a provision discovery started by a remote device.
func inactiveProvision(m *Machine, ev driver.ProvisionDiscovery) bool {
	addr := models.NormalizeAddress(ev.Device.Address)
	if addr == "" {
		return true
	}
	cfg := models.NewConnectionConfig(addr)
	switch ev.Kind {
	case driver.ProvisionPushButtonRequest:
		cfg.WPS.Setup = models.WPSPushButton
	case driver.ProvisionEnterPin:
		cfg.WPS.Setup = models.WPSKeypad
	case driver.ProvisionShowPin:
		cfg.WPS.Setup = models.WPSDisplay
		cfg.WPS.Pin = ev.Pin
	default:
		return false
	}
	if ev.Device.Name != "" {
		m.peers.Update(ev.Device)
	}
	m.saved = &cfg
	m.autonomous = false

	if ev.Kind != driver.ProvisionShowPin || m.opts.DisablePersistentGroups {
		m.transitionTo(StateUserAuthorizingNegotiation)
		return true
	}
	if !m.peers.Contains(addr) {
		m.log.Debug().Str("peer", addr).Msg("pin shown for unknown peer")
		m.saved = nil
		return true
	}
	m.connectWithPinDisplay(m.saved)
	m.notifyInvitationSent(ev.Pin, addr)
	m.transitionTo(StateGroupNegotiation)
	return true
}
