package models

import "time"

// GroupEventKind classifies a group lifecycle record.
type GroupEventKind string

const (
	GroupEventFormed  GroupEventKind = "formed"
	GroupEventRemoved GroupEventKind = "removed"
	GroupEventFailed  GroupEventKind = "failed"
)

// GroupEvent is one entry of the group history.
type GroupEvent struct {
	ID          string         `json:"id"`
	Kind        GroupEventKind `json:"kind"`
	NetworkName string         `json:"network_name,omitempty"`
	NetworkID   int            `json:"network_id"`
	Interface   string         `json:"interface,omitempty"`
	PeerAddress string         `json:"peer_address,omitempty"`
	IsOwner     bool           `json:"is_owner"`
	Reason      string         `json:"reason,omitempty"`
	At          time.Time      `json:"at"`
}
