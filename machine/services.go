package machine

import (
	"wifip2p/models"
	"wifip2p/registry"
)

// clearServiceRequest cancels the outstanding driver service request, if any.
func (m *Machine) clearServiceRequest() {
	if m.serviceRequestID == "" {
		return
	}
	if err := m.opts.Driver.CancelServiceDiscoveryRequest(m.serviceRequestID); err != nil {
		m.log.Debug().Err(err).Str("request_id", m.serviceRequestID).Msg("cancel service request failed")
	}
	m.serviceRequestID = ""
}

// updateServiceRequest replaces the driver request with the aggregate of
// every client's queries. It reports false when nothing is left to ask.
func (m *Machine) updateServiceRequest() bool {
	m.clearServiceRequest()
	query := m.clients.Aggregate()
	if query == "" {
		return false
	}
	id, err := m.opts.Driver.ServiceDiscoveryRequest(wildcardAddress, query)
	if err != nil {
		m.log.Warn().Err(err).Msg("service discovery request failed")
		return false
	}
	m.serviceRequestID = id
	return true
}

// pruneDeadClients drops the state of clients that no longer answer a ping.
func (m *Machine) pruneDeadClients() {
	for _, c := range m.clients.Clients() {
		if err := c.Ping(); err != nil {
			m.log.Info().Err(err).Str("client", c.ID()).Msg("client unreachable, releasing its services")
			m.clearClientInfo(c)
		}
	}
}

func (m *Machine) addServiceRequest(c registry.Client, req models.ServiceRequest) bool {
	if c == nil {
		return false
	}
	m.pruneDeadClients()
	m.clients.AddRequest(c, req)
	if m.serviceRequestID == "" {
		return true
	}
	return m.updateServiceRequest()
}

func (m *Machine) removeServiceRequest(c registry.Client, req models.ServiceRequest) {
	if c == nil || !m.clients.RemoveRequest(c, req) {
		return
	}
	if m.serviceRequestID != "" {
		m.updateServiceRequest()
	}
}

func (m *Machine) clearServiceRequests(c registry.Client) {
	if c == nil || !m.clients.ClearRequests(c) {
		return
	}
	if m.serviceRequestID != "" {
		m.updateServiceRequest()
	}
}

func (m *Machine) addLocalService(c registry.Client, info models.ServiceInfo) bool {
	if c == nil || len(info.Entries) == 0 {
		return false
	}
	m.pruneDeadClients()
	m.clients.AddService(c, info)
	if err := m.opts.Driver.ServiceAdd(info); err != nil {
		m.log.Warn().Err(err).Str("client", c.ID()).Msg("failed to add local service")
		m.clients.RemoveService(c, info)
		return false
	}
	return true
}

func (m *Machine) removeLocalService(c registry.Client, info models.ServiceInfo) {
	if c == nil || !m.clients.RemoveService(c, info) {
		return
	}
	if err := m.opts.Driver.ServiceDel(info); err != nil {
		m.log.Debug().Err(err).Msg("failed to delete local service")
	}
}

func (m *Machine) clearLocalServices(c registry.Client) {
	if c == nil {
		return
	}
	for _, info := range m.clients.ClearServices(c) {
		if err := m.opts.Driver.ServiceDel(info); err != nil {
			m.log.Debug().Err(err).Msg("failed to delete local service")
		}
	}
}

// clearClientInfo releases everything a client registered.
func (m *Machine) clearClientInfo(c registry.Client) {
	m.clearLocalServices(c)
	m.clearServiceRequests(c)
	m.clients.Remove(c.ID())
}

// deliverServiceResponses routes each response to the client owning its
// transaction id. A client that cannot take delivery is released.
func (m *Machine) deliverServiceResponses(responses []models.ServiceResponse) {
	for _, resp := range responses {
		if dev, ok := m.peers.Get(resp.Source.Address); ok {
			resp.Source = dev
		}
		owner, ok := m.clients.Owner(resp.TransactionID)
		if !ok {
			m.log.Debug().Int("txid", resp.TransactionID).Msg("service response without owner")
			continue
		}
		if err := owner.Deliver(resp); err != nil {
			m.log.Info().Err(err).Str("client", owner.ID()).Msg("service response undeliverable, releasing client")
			m.clearClientInfo(owner)
		}
	}
}
