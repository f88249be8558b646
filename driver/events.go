package driver

import "wifip2p/models"

// Event is an asynchronous notification from the supplicant or one of its collaborators.
type Event interface {
	EventName() string
}

// ProvisionKind distinguishes provision discovery events.
type ProvisionKind int

const (
	ProvisionPushButtonRequest ProvisionKind = iota
	ProvisionPushButtonResponse
	ProvisionEnterPin
	ProvisionShowPin
	ProvisionFailure
)

func (k ProvisionKind) String() string {
	switch k {
	case ProvisionPushButtonRequest:
		return "pbc_request"
	case ProvisionPushButtonResponse:
		return "pbc_response"
	case ProvisionEnterPin:
		return "enter_pin"
	case ProvisionShowPin:
		return "show_pin"
	default:
		return "failure"
	}
}

// WPSResultKind is the terminal outcome of a WPS run on a group interface.
type WPSResultKind int

const (
	WPSOverlap WPSResultKind = iota
	WPSFail
	WPSTimeout
	WPSSuccess
)

type DeviceFound struct {
	Device models.PeerDevice
}

type DeviceLost struct {
	Address string
}

// GoNegotiationRequest carries the config a remote device proposed.
type GoNegotiationRequest struct {
	Config models.ConnectionConfig
}

type GoNegotiationSuccess struct{}

type GoNegotiationFailure struct {
	Status    Status
	Frequency int
}

type GroupFormationSuccess struct{}

type GroupFormationFailure struct {
	Status    Status
	Frequency int
}

type GroupStarted struct {
	Group models.Group
}

type GroupRemoved struct {
	Status    Status
	Frequency int
}

type ProvisionDiscovery struct {
	Kind   ProvisionKind
	Device models.PeerDevice
	Pin    string
}

// InvitationReceived is an invitation to join or re-form the group described by Group.
type InvitationReceived struct {
	Group models.Group
}

type InvitationResult struct {
	Status    Status
	Frequency int
}

type ServiceDiscoveryResponse struct {
	Responses []models.ServiceResponse
}

// StationConnected reports a client associating with our group.
// Address is the P2P device address, InterfaceAddress the station MAC.
type StationConnected struct {
	Address          string
	InterfaceAddress string
}

type StationDisconnected struct {
	Address string
}

// PeerDisconnected is received by a client whose owner dropped it.
type PeerDisconnected struct {
	Reason    int
	Frequency int
}

type SupplicantConnected struct{}

type SupplicantDisconnected struct{}

type FindStopped struct{}

type WPSResult struct {
	Kind WPSResultKind
}

// AddressAssigned is the DHCP client result on the group interface.
type AddressAssigned struct {
	ServerAddress string
	IPAddress     string
}

type AddressFailed struct{}

// StationYielded confirms the station disconnected to free the radio.
type StationYielded struct{}

func (DeviceFound) EventName() string              { return "device_found" }
func (DeviceLost) EventName() string               { return "device_lost" }
func (GoNegotiationRequest) EventName() string     { return "go_negotiation_request" }
func (GoNegotiationSuccess) EventName() string     { return "go_negotiation_success" }
func (GoNegotiationFailure) EventName() string     { return "go_negotiation_failure" }
func (GroupFormationSuccess) EventName() string    { return "group_formation_success" }
func (GroupFormationFailure) EventName() string    { return "group_formation_failure" }
func (GroupStarted) EventName() string             { return "group_started" }
func (GroupRemoved) EventName() string             { return "group_removed" }
func (ProvisionDiscovery) EventName() string       { return "provision_discovery" }
func (InvitationReceived) EventName() string       { return "invitation_received" }
func (InvitationResult) EventName() string         { return "invitation_result" }
func (ServiceDiscoveryResponse) EventName() string { return "service_discovery_response" }
func (StationConnected) EventName() string         { return "station_connected" }
func (StationDisconnected) EventName() string      { return "station_disconnected" }
func (PeerDisconnected) EventName() string         { return "peer_disconnected" }
func (SupplicantConnected) EventName() string      { return "supplicant_connected" }
func (SupplicantDisconnected) EventName() string   { return "supplicant_disconnected" }
func (FindStopped) EventName() string              { return "find_stopped" }
func (WPSResult) EventName() string                { return "wps_result" }
func (AddressAssigned) EventName() string          { return "address_assigned" }
func (AddressFailed) EventName() string            { return "address_failed" }
func (StationYielded) EventName() string           { return "station_yielded" }
