package machine

import "wifip2p/models"

// NotificationKind identifies an outward notification.
type NotificationKind string

const (
	NotifyPeersChanged            NotificationKind = "peers_changed"
	NotifyConnectionChanged       NotificationKind = "connection_changed"
	NotifyPersistentGroupsChanged NotificationKind = "persistent_groups_changed"
	NotifyDiscoveryChanged        NotificationKind = "discovery_changed"
	NotifyThisDeviceChanged       NotificationKind = "this_device_changed"
	NotifyStateChanged            NotificationKind = "state_changed"
	NotifyDecisionRequested       NotificationKind = "decision_requested"
	NotifyInvitationSent          NotificationKind = "invitation_sent"
)

// LinkReason qualifies a connection-changed notification.
type LinkReason int

const (
	LinkReasonUnknown LinkReason = iota
	LinkReasonSuccess
	LinkReasonNoCommonChannel
	LinkReasonUserDeclinedChannelSwitch
)

func (r LinkReason) String() string {
	switch r {
	case LinkReasonSuccess:
		return "success"
	case LinkReasonNoCommonChannel:
		return "no_common_channel"
	case LinkReasonUserDeclinedChannelSwitch:
		return "user_declined_channel_switch"
	default:
		return "unknown"
	}
}

// DecisionKind is the question put to the user.
type DecisionKind string

const (
	DecisionNegotiation   DecisionKind = "negotiation"
	DecisionInvitation    DecisionKind = "invitation"
	DecisionJoin          DecisionKind = "join"
	DecisionChannelSwitch DecisionKind = "channel_switch"
)

// Notification is an immutable snapshot handed to observers.
// Only the fields relevant to Kind are set.
type Notification struct {
	Kind NotificationKind

	Peers       []models.PeerDevice
	Info        models.ConnectionInfo
	Group       *models.Group
	Reason      LinkReason
	Groups      []models.PersistentGroup
	Discovering bool
	Enabled     bool
	Device      models.PeerDevice
	Decision    DecisionKind
	Config      models.ConnectionConfig
	Pin         string
}

// Notifier receives notifications on the machine goroutine and must not block.
type Notifier interface {
	Notify(Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// ChannelNotifier buffers notifications on a channel, dropping them when full.
type ChannelNotifier struct {
	ch chan Notification
}

// NewChannelNotifier creates a notifier with the given buffer size.
func NewChannelNotifier(size int) *ChannelNotifier {
	if size <= 0 {
		size = 128
	}
	return &ChannelNotifier{ch: make(chan Notification, size)}
}

func (c *ChannelNotifier) Notify(n Notification) {
	select {
	case c.ch <- n:
	default:
	}
}

// Notifications exposes the buffered stream.
func (c *ChannelNotifier) Notifications() <-chan Notification {
	return c.ch
}

type nopNotifier struct{}

func (nopNotifier) Notify(Notification) {}
