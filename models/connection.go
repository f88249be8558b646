package models

// WPSSetup selects the WPS method used for a connection.
type WPSSetup int

const (
	WPSPushButton WPSSetup = iota
	WPSDisplay
	WPSKeypad
	WPSLabel
	WPSInvalid
)

func (s WPSSetup) String() string {
	switch s {
	case WPSPushButton:
		return "pbc"
	case WPSDisplay:
		return "display"
	case WPSKeypad:
		return "keypad"
	case WPSLabel:
		return "label"
	default:
		return "invalid"
	}
}

// WPS is a WPS method plus optional PIN.
type WPS struct {
	Setup WPSSetup `json:"setup"`
	Pin   string   `json:"pin,omitempty"`
}

// ConnectionConfig describes one connection attempt to a peer.
// GroupOwnerIntent is -1 when unset, otherwise 0..15.
type ConnectionConfig struct {
	Address            string `json:"address"`
	GroupOwnerIntent   int    `json:"group_owner_intent"`
	WPS                WPS    `json:"wps"`
	NetworkID          int    `json:"network_id"`
	PreferredFrequency int    `json:"preferred_frequency,omitempty"`
}

// NewConnectionConfig returns a push-button config for addr with no intent.
func NewConnectionConfig(addr string) ConnectionConfig {
	return ConnectionConfig{
		Address:          addr,
		GroupOwnerIntent: -1,
		WPS:              WPS{Setup: WPSPushButton},
		NetworkID:        PersistentNetID,
	}
}

// ConnectionInfo summarizes the formed group for observers.
type ConnectionInfo struct {
	GroupFormed       bool   `json:"group_formed"`
	IsGroupOwner      bool   `json:"is_group_owner"`
	GroupOwnerAddress string `json:"group_owner_address,omitempty"`
}
