// Package driver describes the boundary between the group formation machine
// and the P2P supplicant: the commands it issues, the events it consumes and
// the DHCP and station collaborators it relies on.
package driver

import (
	"errors"
	"time"

	"wifip2p/models"
)

// ErrCommandFailed is returned when the supplicant rejects a command.
var ErrCommandFailed = errors.New("driver: command failed")

// Lifecycle brings the supplicant and its event monitor up and down.
type Lifecycle interface {
	SetInterfaceUp(iface string) error
	StartMonitoring() error
	StopMonitoring() error
	StartDriver() error
	StopDriver() error
}

// Settings configures the local device.
type Settings interface {
	DeviceAddress() (string, error)
	SetDeviceName(name string) error
	SetDeviceType(deviceType string) error
	SetConfigMethods(methods string) error
	SetPersistentReconnect(enabled bool) error
	SetCountryCode(code string) error
	SetMultiChannelMode(enabled bool) error
	SetChannel(listen, operating int) error
	ExtListen(enable bool, period, interval time.Duration) error
}

// Discoverer runs device discovery and answers device queries.
type Discoverer interface {
	Find(timeout time.Duration) error
	StopFind() error
	Flush() error
	DeviceInfo(addr string) (models.PeerDevice, error)
	GroupCapability(addr string) (int, error)
}

// GroupController forms, joins and tears down groups.
type GroupController interface {
	// Connect starts negotiation or a join. It returns a generated PIN for display setups.
	Connect(cfg models.ConnectionConfig, join bool) (string, error)
	CancelConnect() error
	ProvisionDiscovery(cfg models.ConnectionConfig) error
	Reinvoke(netID int, addr string) error
	Invite(group *models.Group, addr string) error
	GroupAdd(persistent bool) error
	GroupAddNetwork(netID int) error
	GroupRemove(iface string) error
	SetGroupIdle(iface string, timeout time.Duration) error
	RemoveClient(iface, addr string) error
	SSID(addr string) (string, error)
	StationInfo(iface, addr string) (models.PeerDevice, error)
}

// NetworkStore manages the supplicant's stored network blocks.
type NetworkStore interface {
	ListNetworks() ([]models.NetworkRecord, error)
	RemoveNetwork(netID int) error
	SetClientList(netID int, clients []string) error
	SaveConfig() error
}

// ServiceController publishes local services and issues service queries.
type ServiceController interface {
	ServiceAdd(info models.ServiceInfo) error
	ServiceDel(info models.ServiceInfo) error
	ServiceFlush() error
	ServiceDiscoveryRequest(addr, query string) (string, error)
	CancelServiceDiscoveryRequest(id string) error
}

// WPSController starts WPS on a formed group interface.
type WPSController interface {
	StartWPSPushButton(iface string) error
	StartWPSPinKeypad(iface, pin string) error
	StartWPSPinDisplay(iface string) (string, error)
}

// Control is the full command surface of the supplicant.
type Control interface {
	Lifecycle
	Settings
	Discoverer
	GroupController
	NetworkStore
	ServiceController
	WPSController
}

// Addressing runs DHCP on the group interface. Results arrive as
// AddressAssigned and AddressFailed events.
type Addressing interface {
	StartServer(iface, serverAddr string) error
	StopServer(iface string) error
	StartClient(iface string) error
	StopClient(iface string) error
	ClearAddresses(iface string) error
}

// Station is the infrastructure Wi-Fi station. A temporary disconnect is
// confirmed with a StationYielded event.
type Station interface {
	SetTemporarilyDisconnected(disconnected bool) error
}
