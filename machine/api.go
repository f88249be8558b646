package machine

import (
	"wifip2p/models"
	"wifip2p/registry"
)

// Each command method queues one message and returns a channel that
// receives exactly one Reply. The methods never block.

func (m *Machine) send(cmd *command) <-chan Reply {
	cmd.reply = make(chan Reply, 1)
	m.enqueue(cmd)
	return cmd.reply
}

func (m *Machine) Enable() <-chan Reply  { return m.send(&command{op: OpEnable}) }
func (m *Machine) Disable() <-chan Reply { return m.send(&command{op: OpDisable}) }

// DiscoverPeers starts a bounded peer discovery run.
func (m *Machine) DiscoverPeers() <-chan Reply { return m.send(&command{op: OpDiscoverPeers}) }

func (m *Machine) StopDiscovery() <-chan Reply { return m.send(&command{op: OpStopDiscovery}) }

// DiscoverServices pushes the aggregated service requests and starts discovery.
func (m *Machine) DiscoverServices() <-chan Reply { return m.send(&command{op: OpDiscoverServices}) }

// Connect starts a connection to cfg.Address. A successful reply means the
// attempt was accepted; the outcome arrives as a connection-changed notification.
func (m *Machine) Connect(cfg models.ConnectionConfig) <-chan Reply {
	return m.send(&command{op: OpConnect, config: cfg})
}

func (m *Machine) CancelConnect() <-chan Reply { return m.send(&command{op: OpCancelConnect}) }

// CreateGroup starts an autonomous group. netID is models.PersistentNetID to
// reuse or create the persistent group we own, a stored network id, or
// models.TemporaryNetID for a temporary group.
func (m *Machine) CreateGroup(netID int) <-chan Reply {
	return m.send(&command{op: OpCreateGroup, netID: netID})
}

func (m *Machine) RemoveGroup() <-chan Reply { return m.send(&command{op: OpRemoveGroup}) }

// RemoveClient disconnects one client from a group we own.
func (m *Machine) RemoveClient(addr string) <-chan Reply {
	return m.send(&command{op: OpRemoveClient, address: addr})
}

func (m *Machine) StartListen() <-chan Reply { return m.send(&command{op: OpStartListen}) }
func (m *Machine) StopListen() <-chan Reply  { return m.send(&command{op: OpStopListen}) }

func (m *Machine) SetChannel(listen, operating int) <-chan Reply {
	return m.send(&command{op: OpSetChannel, listen: listen, operating: operating})
}

// StartWPS opens a WPS window on the formed group. A display setup without
// a PIN asks the driver to generate one.
func (m *Machine) StartWPS(wps *models.WPS) <-chan Reply {
	return m.send(&command{op: OpStartWPS, wps: wps})
}

func (m *Machine) SetDeviceName(name string) <-chan Reply {
	return m.send(&command{op: OpSetDeviceName, text: name})
}

func (m *Machine) SetCountryCode(code string) <-chan Reply {
	return m.send(&command{op: OpSetCountryCode, text: code})
}

func (m *Machine) AddLocalService(c registry.Client, info models.ServiceInfo) <-chan Reply {
	return m.send(&command{op: OpAddLocalService, client: c, service: info})
}

func (m *Machine) RemoveLocalService(c registry.Client, info models.ServiceInfo) <-chan Reply {
	return m.send(&command{op: OpRemoveLocalService, client: c, service: info})
}

func (m *Machine) ClearLocalServices(c registry.Client) <-chan Reply {
	return m.send(&command{op: OpClearLocalServices, client: c})
}

func (m *Machine) AddServiceRequest(c registry.Client, req models.ServiceRequest) <-chan Reply {
	return m.send(&command{op: OpAddServiceRequest, client: c, request: req})
}

func (m *Machine) RemoveServiceRequest(c registry.Client, req models.ServiceRequest) <-chan Reply {
	return m.send(&command{op: OpRemoveServiceRequest, client: c, request: req})
}

func (m *Machine) ClearServiceRequests(c registry.Client) <-chan Reply {
	return m.send(&command{op: OpClearServiceRequests, client: c})
}

func (m *Machine) DeletePersistentGroup(netID int) <-chan Reply {
	return m.send(&command{op: OpDeletePersistentGroup, netID: netID})
}

func (m *Machine) RequestPeers() <-chan Reply          { return m.send(&command{op: OpRequestPeers}) }
func (m *Machine) RequestConnectionInfo() <-chan Reply { return m.send(&command{op: OpRequestConnectionInfo}) }
func (m *Machine) RequestGroupInfo() <-chan Reply      { return m.send(&command{op: OpRequestGroupInfo}) }

func (m *Machine) RequestPersistentGroupInfo() <-chan Reply {
	return m.send(&command{op: OpRequestPersistentGroupInfo})
}

// BlockDiscovery suspends discovery while an external user of the radio,
// such as a station scan, needs it. A blocked discovery resumes on unblock.
func (m *Machine) BlockDiscovery(blocked bool) <-chan Reply {
	return m.send(&command{op: OpBlockDiscovery, blocked: blocked})
}

// AcceptConnection answers a pending negotiation, invitation or join
// decision. A non-nil wps overrides the saved WPS method and PIN.
func (m *Machine) AcceptConnection(wps *models.WPS) {
	m.enqueue(&command{op: OpAcceptConnection, wps: wps})
}

func (m *Machine) RejectConnection() {
	m.enqueue(&command{op: OpRejectConnection})
}

// AcceptChannelSwitch allows the station to disconnect so the group can
// form on the peer's channel.
func (m *Machine) AcceptChannelSwitch() {
	m.enqueue(&command{op: OpAcceptChannelSwitch})
}

func (m *Machine) RejectChannelSwitch() {
	m.enqueue(&command{op: OpRejectChannelSwitch})
}
