package models

import "fmt"

// ServiceProtocol is the service-discovery protocol type.
type ServiceProtocol int

const (
	ServiceProtocolAll            ServiceProtocol = 0
	ServiceProtocolBonjour        ServiceProtocol = 1
	ServiceProtocolUPnP           ServiceProtocol = 2
	ServiceProtocolVendorSpecific ServiceProtocol = 255
)

// ServiceStatus is the status byte of a service-discovery response.
type ServiceStatus int

const (
	ServiceStatusSuccess                ServiceStatus = 0
	ServiceStatusProtocolNotAvailable   ServiceStatus = 1
	ServiceStatusInformationUnavailable ServiceStatus = 2
	ServiceStatusBadRequest             ServiceStatus = 3
)

// ServiceRequest is one service-discovery query owned by a client.
// Query is the hex encoded protocol specific query.
type ServiceRequest struct {
	Protocol      ServiceProtocol `json:"protocol"`
	Query         string          `json:"query"`
	TransactionID int             `json:"transaction_id"`
}

// SupplicantQuery renders the request TLV as hex: length (LE16), protocol, transaction id, query.
func (r ServiceRequest) SupplicantQuery() string {
	length := len(r.Query)/2 + 2
	return fmt.Sprintf("%02x%02x%02x%02x%s", length&0xff, (length>>8)&0xff, int(r.Protocol), r.TransactionID&0xff, r.Query)
}

// Equal compares the protocol and query, ignoring the transaction id.
func (r ServiceRequest) Equal(other ServiceRequest) bool {
	return r.Protocol == other.Protocol && r.Query == other.Query
}

// ServiceInfo is a local service registration in driver form.
// Each entry is one driver service line, e.g. "bonjour <query> <rdata>" or "upnp 10 uuid:...".
type ServiceInfo struct {
	Entries []string `json:"entries"`
}

// Equal reports whether both infos hold the same entries in order.
func (s ServiceInfo) Equal(other ServiceInfo) bool {
	if len(s.Entries) != len(other.Entries) {
		return false
	}
	for i := range s.Entries {
		if s.Entries[i] != other.Entries[i] {
			return false
		}
	}
	return true
}

// ServiceResponse is one service-discovery answer from a remote device.
type ServiceResponse struct {
	Protocol      ServiceProtocol `json:"protocol"`
	Status        ServiceStatus   `json:"status"`
	TransactionID int             `json:"transaction_id"`
	Data          []byte          `json:"data,omitempty"`
	Source        PeerDevice      `json:"source"`
}
