package main

import (
	"sync"

	"github.com/rs/zerolog"

	"wifip2p/machine"
	"wifip2p/models"
)

type groupAnnouncer interface {
	Update(group *models.Group)
}

type decisionResponder interface {
	AcceptConnection(wps *models.WPS)
	AcceptChannelSwitch()
}

// notificationRouter fans machine notifications out to the log, the group
// announcer and, with auto accept, back into the machine as decisions.
// It runs on the machine goroutine so every branch must stay non-blocking.
type notificationRouter struct {
	log        zerolog.Logger
	autoAccept bool

	mu        sync.RWMutex
	responder decisionResponder
	announcer groupAnnouncer
}

func newNotificationRouter(log zerolog.Logger, autoAccept bool) *notificationRouter {
	return &notificationRouter{log: log, autoAccept: autoAccept}
}

func (r *notificationRouter) attach(responder decisionResponder) {
	r.mu.Lock()
	r.responder = responder
	r.mu.Unlock()
}

func (r *notificationRouter) setAnnouncer(announcer groupAnnouncer) {
	r.mu.Lock()
	r.announcer = announcer
	r.mu.Unlock()
}

func (r *notificationRouter) Notify(n machine.Notification) {
	r.mu.RLock()
	responder, announcer := r.responder, r.announcer
	r.mu.RUnlock()

	switch n.Kind {
	case machine.NotifyStateChanged:
		r.log.Info().Bool("enabled", n.Enabled).Msg("p2p state changed")
	case machine.NotifyPeersChanged:
		r.log.Debug().Int("peers", len(n.Peers)).Msg("peer list changed")
	case machine.NotifyDiscoveryChanged:
		r.log.Debug().Bool("discovering", n.Discovering).Msg("discovery changed")
	case machine.NotifyThisDeviceChanged:
		r.log.Debug().Str("name", n.Device.Name).Str("status", n.Device.Status.String()).Msg("this device changed")
	case machine.NotifyPersistentGroupsChanged:
		r.log.Debug().Int("groups", len(n.Groups)).Msg("persistent groups changed")
	case machine.NotifyInvitationSent:
		r.log.Info().Str("peer", n.Device.Address).Str("pin", n.Pin).Msg("invitation sent")
	case machine.NotifyConnectionChanged:
		r.connectionChanged(n, announcer)
	case machine.NotifyDecisionRequested:
		r.decisionRequested(n, responder)
	}
}

func (r *notificationRouter) connectionChanged(n machine.Notification, announcer groupAnnouncer) {
	event := r.log.Info().
		Bool("formed", n.Info.GroupFormed).
		Bool("owner", n.Info.IsGroupOwner).
		Str("reason", n.Reason.String())
	if n.Group != nil {
		event = event.Str("network", n.Group.NetworkName).Str("interface", n.Group.Interface)
	}
	event.Msg("connection changed")

	if announcer == nil {
		return
	}
	if n.Info.GroupFormed && n.Group != nil {
		announcer.Update(n.Group)
		return
	}
	announcer.Update(nil)
}

func (r *notificationRouter) decisionRequested(n machine.Notification, responder decisionResponder) {
	event := r.log.Info().Str("decision", string(n.Decision)).Str("peer", n.Config.Address)
	if n.Pin != "" {
		event = event.Str("pin", n.Pin)
	}
	if !r.autoAccept || responder == nil {
		event.Msg("decision pending")
		return
	}
	event.Msg("accepting")

	if n.Decision == machine.DecisionChannelSwitch {
		responder.AcceptChannelSwitch()
		return
	}
	responder.AcceptConnection(nil)
}
