package models

import "strings"

// DeviceStatus is the locally observed state of a P2P device.
type DeviceStatus int

const (
	// StatusConnected means the device is a member of our active group.
	StatusConnected DeviceStatus = iota
	// StatusInvited means a connection or invitation to the device is in flight.
	StatusInvited
	// StatusFailed means the last connection attempt to the device failed.
	StatusFailed
	// StatusAvailable means the device was seen and can be connected to.
	StatusAvailable
	// StatusUnavailable means the device is known but cannot be reached.
	StatusUnavailable
)

func (s DeviceStatus) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusInvited:
		return "invited"
	case StatusFailed:
		return "failed"
	case StatusAvailable:
		return "available"
	case StatusUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Device capability bits advertised in probe responses.
const (
	DeviceCapServiceDiscovery      = 1 << 0
	DeviceCapClientDiscoverability = 1 << 1
	DeviceCapConcurrentOperation   = 1 << 2
	DeviceCapInfrastructureManaged = 1 << 3
	DeviceCapDeviceLimit           = 1 << 4
	DeviceCapInvitationProcedure   = 1 << 5
)

// Group capability bits advertised in probe responses.
const (
	GroupCapGroupOwner           = 1 << 0
	GroupCapPersistentGroup      = 1 << 1
	GroupCapGroupLimit           = 1 << 2
	GroupCapIntraBSSDistribution = 1 << 3
	GroupCapCrossConnection      = 1 << 4
	GroupCapPersistentReconnect  = 1 << 5
	GroupCapGroupFormation       = 1 << 6
)

// WPS config methods a device supports.
const (
	WPSConfigDisplay    = 0x0008
	WPSConfigPushButton = 0x0080
	WPSConfigKeypad     = 0x0100
)

// PeerDevice is a remote (or the local) P2P device keyed by its device address.
type PeerDevice struct {
	Address          string       `json:"address"`
	Name             string       `json:"name"`
	PrimaryType      string       `json:"primary_type,omitempty"`
	SecondaryType    string       `json:"secondary_type,omitempty"`
	DeviceCapability int          `json:"device_capability"`
	GroupCapability  int          `json:"group_capability"`
	WPSConfigMethods int          `json:"wps_config_methods"`
	Status           DeviceStatus `json:"status"`
	InterfaceAddress string       `json:"interface_address,omitempty"`
	IPAddress        string       `json:"ip_address,omitempty"`
}

// SupportsPBC reports whether push-button WPS is advertised.
func (d PeerDevice) SupportsPBC() bool {
	return d.WPSConfigMethods&WPSConfigPushButton != 0
}

// SupportsKeypad reports whether the device can enter a PIN.
func (d PeerDevice) SupportsKeypad() bool {
	return d.WPSConfigMethods&WPSConfigKeypad != 0
}

// SupportsDisplay reports whether the device can display a PIN.
func (d PeerDevice) SupportsDisplay() bool {
	return d.WPSConfigMethods&WPSConfigDisplay != 0
}

func (d PeerDevice) IsServiceDiscoveryCapable() bool {
	return d.DeviceCapability&DeviceCapServiceDiscovery != 0
}

func (d PeerDevice) IsInvitationCapable() bool {
	return d.DeviceCapability&DeviceCapInvitationProcedure != 0
}

func (d PeerDevice) IsDeviceLimit() bool {
	return d.DeviceCapability&DeviceCapDeviceLimit != 0
}

func (d PeerDevice) IsGroupOwner() bool {
	return d.GroupCapability&GroupCapGroupOwner != 0
}

func (d PeerDevice) IsGroupLimit() bool {
	return d.GroupCapability&GroupCapGroupLimit != 0
}

// Merge copies every non-empty descriptive field of other into d.
// Status and addressing are left alone.
func (d *PeerDevice) Merge(other PeerDevice) {
	if other.Name != "" {
		d.Name = other.Name
	}
	if other.PrimaryType != "" {
		d.PrimaryType = other.PrimaryType
	}
	if other.SecondaryType != "" {
		d.SecondaryType = other.SecondaryType
	}
	if other.DeviceCapability != 0 {
		d.DeviceCapability = other.DeviceCapability
	}
	if other.GroupCapability != 0 {
		d.GroupCapability = other.GroupCapability
	}
	if other.WPSConfigMethods != 0 {
		d.WPSConfigMethods = other.WPSConfigMethods
	}
}

// NormalizeAddress lowercases a MAC address for use as a registry key.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
