package machine

import (
	"wifip2p/driver"
)

func disabledProcess(m *Machine, msg any) bool {
	cmd, ok := msg.(*command)
	if !ok || cmd.op != OpEnable {
		return false
	}
	d := m.opts.Driver
	if err := d.SetInterfaceUp(m.opts.Interface); err != nil {
		m.log.Error().Err(err).Str("interface", m.opts.Interface).Msg("failed to bring interface up")
		m.fail(cmd, ReasonError)
		return true
	}
	if err := d.StartMonitoring(); err != nil {
		m.log.Error().Err(err).Msg("failed to start event monitoring")
		m.fail(cmd, ReasonError)
		return true
	}
	m.ok(cmd)
	m.transitionTo(StateEnabling)
	return true
}

func enablingProcess(m *Machine, msg any) bool {
	switch v := msg.(type) {
	case driver.SupplicantConnected:
		if err := m.opts.Driver.StartDriver(); err != nil {
			m.log.Error().Err(err).Msg("failed to start driver")
			if err := m.opts.Driver.StopMonitoring(); err != nil {
				m.log.Warn().Err(err).Msg("failed to stop event monitoring")
			}
			m.transitionTo(StateDisabled)
			return true
		}
		m.transitionTo(StateInactive)
	case driver.SupplicantDisconnected:
		m.log.Warn().Msg("supplicant connection lost while enabling")
		m.transitionTo(StateDisabled)
	case *command:
		if v.op != OpEnable && v.op != OpDisable {
			return false
		}
		m.deferMessage(v)
	default:
		return false
	}
	return true
}

func disablingEnter(m *Machine) {
	m.startTimer(timerDisable, m.opts.DisableTimeout)
}

func disablingExit(m *Machine) {
	for _, cmd := range m.disableWaiters {
		m.ok(cmd)
	}
	m.disableWaiters = nil
}

func disablingProcess(m *Machine, msg any) bool {
	switch v := msg.(type) {
	case driver.SupplicantDisconnected:
		m.transitionTo(StateDisabled)
	case timerFired:
		if v.class != timerDisable {
			return false
		}
		if m.timerCurrent(v) {
			m.log.Warn().Msg("supplicant did not confirm shutdown, forcing disabled")
			m.transitionTo(StateDisabled)
		}
	case *command:
		if v.op != OpEnable && v.op != OpDisable {
			return false
		}
		m.deferMessage(v)
	default:
		return false
	}
	return true
}
