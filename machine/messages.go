package machine

import (
	"wifip2p/models"
	"wifip2p/registry"
)

// Op identifies an API command.
type Op int

const (
	OpEnable Op = iota
	OpDisable
	OpDiscoverPeers
	OpStopDiscovery
	OpDiscoverServices
	OpConnect
	OpCancelConnect
	OpCreateGroup
	OpRemoveGroup
	OpRemoveClient
	OpStartListen
	OpStopListen
	OpSetChannel
	OpStartWPS
	OpSetDeviceName
	OpSetCountryCode
	OpAddLocalService
	OpRemoveLocalService
	OpClearLocalServices
	OpAddServiceRequest
	OpRemoveServiceRequest
	OpClearServiceRequests
	OpDeletePersistentGroup
	OpRequestPeers
	OpRequestConnectionInfo
	OpRequestGroupInfo
	OpRequestPersistentGroupInfo
	OpBlockDiscovery
	OpAcceptConnection
	OpRejectConnection
	OpAcceptChannelSwitch
	OpRejectChannelSwitch
)

var opNames = map[Op]string{
	OpEnable:                     "enable",
	OpDisable:                    "disable",
	OpDiscoverPeers:              "discover_peers",
	OpStopDiscovery:              "stop_discovery",
	OpDiscoverServices:           "discover_services",
	OpConnect:                    "connect",
	OpCancelConnect:              "cancel_connect",
	OpCreateGroup:                "create_group",
	OpRemoveGroup:                "remove_group",
	OpRemoveClient:               "remove_client",
	OpStartListen:                "start_listen",
	OpStopListen:                 "stop_listen",
	OpSetChannel:                 "set_channel",
	OpStartWPS:                   "start_wps",
	OpSetDeviceName:              "set_device_name",
	OpSetCountryCode:             "set_country_code",
	OpAddLocalService:            "add_local_service",
	OpRemoveLocalService:         "remove_local_service",
	OpClearLocalServices:         "clear_local_services",
	OpAddServiceRequest:          "add_service_request",
	OpRemoveServiceRequest:       "remove_service_request",
	OpClearServiceRequests:       "clear_service_requests",
	OpDeletePersistentGroup:      "delete_persistent_group",
	OpRequestPeers:               "request_peers",
	OpRequestConnectionInfo:      "request_connection_info",
	OpRequestGroupInfo:           "request_group_info",
	OpRequestPersistentGroupInfo: "request_persistent_group_info",
	OpBlockDiscovery:             "block_discovery",
	OpAcceptConnection:           "accept_connection",
	OpRejectConnection:           "reject_connection",
	OpAcceptChannelSwitch:        "accept_channel_switch",
	OpRejectChannelSwitch:        "reject_channel_switch",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return "unknown_op"
}

// mutating reports whether the command changes radio or registry state.
// These are the commands Default answers with Busy.
func (o Op) mutating() bool {
	switch o {
	case OpDiscoverPeers, OpStopDiscovery, OpDiscoverServices, OpConnect, OpCancelConnect,
		OpCreateGroup, OpRemoveGroup, OpRemoveClient, OpAddLocalService, OpRemoveLocalService,
		OpClearLocalServices, OpAddServiceRequest, OpRemoveServiceRequest, OpClearServiceRequests,
		OpSetDeviceName, OpDeletePersistentGroup, OpStartWPS:
		return true
	default:
		return false
	}
}

// Reason explains a failed reply.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonError
	ReasonBusy
	ReasonUnsupported
	ReasonNoServiceRequests
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonError:
		return "error"
	case ReasonBusy:
		return "busy"
	case ReasonUnsupported:
		return "unsupported"
	case ReasonNoServiceRequests:
		return "no_service_requests"
	default:
		return "unknown"
	}
}

// Reply answers one command.
type Reply struct {
	Op     Op
	OK     bool
	Reason Reason

	Peers  []models.PeerDevice
	Info   models.ConnectionInfo
	Group  *models.Group
	Groups []models.PersistentGroup
}

// command is an API request queued for the machine goroutine. Internally
// generated commands carry a nil reply channel.
type command struct {
	op    Op
	reply chan Reply

	config    models.ConnectionConfig
	netID     int
	text      string
	address   string
	blocked   bool
	wps       *models.WPS
	listen    int
	operating int
	client    registry.Client
	service   models.ServiceInfo
	request   models.ServiceRequest
}

type timerClass int

const (
	timerGroupCreating timerClass = iota
	timerDisable
	timerDiscovery
)

func (c timerClass) String() string {
	switch c {
	case timerGroupCreating:
		return "group_creating"
	case timerDisable:
		return "disable"
	default:
		return "discovery"
	}
}

// timerFired is enqueued when a timer expires. Handlers ignore it unless
// epoch still matches the counter of its class.
type timerFired struct {
	class timerClass
	epoch int
}

// peerAddressResolved carries an IP learned for a group member on the link.
type peerAddressResolved struct {
	address string
	ip      string
}
