package machine

import (
	"strings"
	"time"

	"wifip2p/driver"
	"wifip2p/models"
)

func enabledEnter(m *Machine) {
	m.notifyState(true)
	m.notifyConnection(LinkReasonUnknown)
	m.initializeSettings()
	if m.opts.MultiChannel {
		if err := m.opts.Driver.SetMultiChannelMode(false); err != nil {
			m.log.Warn().Err(err).Msg("failed to reset multi channel mode")
		}
	}
}

func enabledExit(m *Machine) {
	m.sendDiscoveryChanged(false)
	m.notifyState(false)
	m.lastCountryCode = ""
}

// initializeSettings pushes the local device configuration to a freshly
// started driver and reloads the persistent groups.
func (m *Machine) initializeSettings() {
	d := m.opts.Driver
	if err := d.SetPersistentReconnect(true); err != nil {
		m.log.Warn().Err(err).Msg("failed to enable persistent reconnect")
	}

	addr, err := d.DeviceAddress()
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to read device address")
	}
	m.thisDevice.Address = models.NormalizeAddress(addr)
	if m.thisDevice.Name == "" {
		m.thisDevice.Name = defaultDeviceName(m.thisDevice.Address)
	}

	if err := d.SetDeviceName(m.thisDevice.Name); err != nil {
		m.log.Warn().Err(err).Msg("failed to set device name")
	}
	if err := d.SetDeviceType(m.thisDevice.PrimaryType); err != nil {
		m.log.Warn().Err(err).Msg("failed to set device type")
	}
	if err := d.SetConfigMethods(configMethods); err != nil {
		m.log.Warn().Err(err).Msg("failed to set config methods")
	}
	m.updateThisDevice(models.StatusAvailable)

	m.clients.Clear()
	if err := d.Flush(); err != nil {
		m.log.Warn().Err(err).Msg("failed to flush peers")
	}
	if err := d.ServiceFlush(); err != nil {
		m.log.Warn().Err(err).Msg("failed to flush services")
	}
	m.clients.ResetTransactionID()
	m.serviceRequestID = ""

	if m.opts.CountryCode != "" {
		m.sendMessage(&command{op: OpSetCountryCode, text: m.opts.CountryCode})
	}
	m.updatePersistentNetworks(true)
}

func defaultDeviceName(addr string) string {
	suffix := strings.ReplaceAll(addr, ":", "")
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return "wifip2p_" + strings.ToUpper(suffix)
}

func enabledProcess(m *Machine, msg any) bool {
	switch v := msg.(type) {
	case *command:
		return enabledCommand(m, v)
	case driver.SupplicantDisconnected:
		m.log.Warn().Msg("supplicant connection lost")
		m.transitionTo(StateDisabled)
	case driver.FindStopped:
		m.sendDiscoveryChanged(false)
	case driver.DeviceFound:
		if m.isThisDevice(v.Device.Address) {
			return true
		}
		m.peers.Update(v.Device)
		m.notifyPeers()
	case driver.DeviceLost:
		if m.peers.Remove(v.Address) {
			m.notifyPeers()
		}
	case driver.ServiceDiscoveryResponse:
		m.deliverServiceResponses(v.Responses)
	case timerFired:
		if v.class != timerDiscovery {
			return false
		}
		if m.timerCurrent(v) {
			m.sendDiscoveryChanged(false)
		}
	case peerAddressResolved:
		if m.peers.UpdateIPAddress(v.address, v.ip) {
			m.notifyPeers()
		}
	default:
		return false
	}
	return true
}

func enabledCommand(m *Machine, cmd *command) bool {
	d := m.opts.Driver
	switch cmd.op {
	case OpEnable:
		m.ok(cmd)
	case OpDisable:
		if m.peers.Clear() {
			m.notifyPeers()
		}
		if m.groups.Clear() {
			m.notifyPersistentGroups()
		}
		if err := d.StopMonitoring(); err != nil {
			m.log.Warn().Err(err).Msg("failed to stop event monitoring")
		}
		if err := d.StopDriver(); err != nil {
			m.log.Warn().Err(err).Msg("failed to stop driver")
		}
		if cmd.reply != nil {
			m.disableWaiters = append(m.disableWaiters, cmd)
		}
		m.transitionTo(StateDisabling)
	case OpBlockDiscovery:
		m.blockDiscovery(cmd.blocked)
		m.ok(cmd)
	case OpDiscoverPeers:
		if m.discoveryBlocked {
			m.fail(cmd, ReasonBusy)
			return true
		}
		m.clearServiceRequest()
		m.startDiscovery(cmd, m.opts.DiscoverTimeout)
	case OpStopDiscovery:
		m.result(cmd, d.StopFind())
	case OpDiscoverServices:
		if m.discoveryBlocked {
			m.fail(cmd, ReasonBusy)
			return true
		}
		if !m.updateServiceRequest() {
			m.fail(cmd, ReasonNoServiceRequests)
			return true
		}
		m.result(cmd, d.Find(m.opts.DiscoverTimeout))
	case OpAddLocalService:
		if !m.addLocalService(cmd.client, cmd.service) {
			m.fail(cmd, ReasonError)
			return true
		}
		m.ok(cmd)
	case OpRemoveLocalService:
		m.removeLocalService(cmd.client, cmd.service)
		m.ok(cmd)
	case OpClearLocalServices:
		m.clearLocalServices(cmd.client)
		m.ok(cmd)
	case OpAddServiceRequest:
		if !m.addServiceRequest(cmd.client, cmd.request) {
			m.fail(cmd, ReasonError)
			return true
		}
		m.ok(cmd)
	case OpRemoveServiceRequest:
		m.removeServiceRequest(cmd.client, cmd.request)
		m.ok(cmd)
	case OpClearServiceRequests:
		m.clearServiceRequests(cmd.client)
		m.ok(cmd)
	case OpDeletePersistentGroup:
		m.deletePersistentGroup(cmd.netID)
		m.ok(cmd)
	case OpStartListen:
		if err := d.Flush(); err != nil {
			m.log.Debug().Err(err).Msg("flush before listen failed")
		}
		m.result(cmd, d.ExtListen(true, listenPeriod, listenInterval))
	case OpStopListen:
		err := d.ExtListen(false, 0, 0)
		if flushErr := d.Flush(); flushErr != nil {
			m.log.Debug().Err(flushErr).Msg("flush after listen failed")
		}
		m.result(cmd, err)
	case OpSetChannel:
		m.result(cmd, d.SetChannel(cmd.listen, cmd.operating))
	case OpSetCountryCode:
		m.setCountryCode(cmd)
	case OpSetDeviceName:
		m.setDeviceName(cmd)
	default:
		return false
	}
	return true
}

// startDiscovery runs Find and arms the timer that closes the discovery
// window if the driver never reports it stopped.
func (m *Machine) startDiscovery(cmd *command, timeout time.Duration) {
	if err := m.opts.Driver.Find(timeout); err != nil {
		m.log.Debug().Err(err).Msg("find failed")
		m.fail(cmd, ReasonError)
		return
	}
	m.ok(cmd)
	m.sendDiscoveryChanged(true)
	m.startTimer(timerDiscovery, timeout)
}

func (m *Machine) blockDiscovery(blocked bool) {
	if m.discoveryBlocked == blocked {
		return
	}
	m.discoveryBlocked = blocked
	d := m.opts.Driver
	if blocked && m.discoveryStarted {
		if err := d.StopFind(); err != nil {
			m.log.Debug().Err(err).Msg("stop find failed")
		}
		m.discoveryPostponed = true
	}
	if !blocked && m.discoveryPostponed {
		m.discoveryPostponed = false
		if err := d.Find(m.opts.DiscoverTimeout); err != nil {
			m.log.Debug().Err(err).Msg("resuming find failed")
		}
	}
}

func (m *Machine) setCountryCode(cmd *command) {
	code := strings.ToUpper(strings.TrimSpace(cmd.text))
	if code == "" {
		m.fail(cmd, ReasonError)
		return
	}
	if code == m.lastCountryCode {
		m.ok(cmd)
		return
	}
	if err := m.opts.Driver.SetCountryCode(code); err != nil {
		m.log.Warn().Err(err).Str("country_code", code).Msg("failed to set country code")
		m.fail(cmd, ReasonError)
		return
	}
	m.lastCountryCode = code
	m.ok(cmd)
}

func (m *Machine) setDeviceName(cmd *command) {
	name := strings.TrimSpace(cmd.text)
	if name == "" {
		m.fail(cmd, ReasonError)
		return
	}
	if err := m.opts.Driver.SetDeviceName(name); err != nil {
		m.log.Warn().Err(err).Msg("failed to set device name")
		m.fail(cmd, ReasonError)
		return
	}
	m.thisDevice.Name = name
	if m.opts.Settings != nil {
		if err := m.opts.Settings.SaveDeviceName(name); err != nil {
			m.log.Warn().Err(err).Msg("failed to persist device name")
		}
	}
	m.updateThisDevice(m.thisDevice.Status)
	m.ok(cmd)
}

func (m *Machine) isThisDevice(addr string) bool {
	return m.thisDevice.Address != "" && models.NormalizeAddress(addr) == m.thisDevice.Address
}
