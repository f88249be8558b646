package machine

import (
	"wifip2p/driver"
)

type stateHandlers struct {
	enter   func(*Machine)
	exit    func(*Machine)
	process func(*Machine, any) bool
}

// handlers is filled in init to break the initialization cycle through process.
var handlers [stateCount]stateHandlers

func init() {
	handlers = [stateCount]stateHandlers{
		StateDefault:                    {process: defaultProcess},
		StateNotSupported:               {process: notSupportedProcess},
		StateDisabled:                   {process: disabledProcess},
		StateEnabling:                   {process: enablingProcess},
		StateDisabling:                  {enter: disablingEnter, exit: disablingExit, process: disablingProcess},
		StateEnabled:                    {enter: enabledEnter, exit: enabledExit, process: enabledProcess},
		StateInactive:                   {enter: inactiveEnter, process: inactiveProcess},
		StateGroupCreating:              {enter: groupCreatingEnter, exit: groupCreatingExit, process: groupCreatingProcess},
		StateUserAuthorizingInvite:      {enter: authorizingInviteEnter, process: authorizingInviteProcess},
		StateUserAuthorizingNegotiation: {enter: authorizingNegotiationEnter, process: authorizingNegotiationProcess},
		StateProvisionDiscovery:         {enter: provisionDiscoveryEnter, process: provisionDiscoveryProcess},
		StateGroupNegotiation:           {process: groupNegotiationProcess},
		StateFrequencyConflict:          {enter: frequencyConflictEnter, process: frequencyConflictProcess},
		StateGroupCreated:               {enter: groupCreatedEnter, exit: groupCreatedExit, process: groupCreatedProcess},
		StateUserAuthorizingJoin:        {enter: authorizingJoinEnter, process: authorizingJoinProcess},
		StateOngoingGroupRemoval:        {process: ongoingRemovalProcess},
	}
}

// defaultProcess terminates the parent chain. It answers snapshot requests,
// rejects other commands as busy and drops driver events.
func defaultProcess(m *Machine, msg any) bool {
	switch v := msg.(type) {
	case *command:
		switch v.op {
		case OpRequestPeers:
			m.reply(v, Reply{OK: true, Peers: m.peers.Snapshot()})
		case OpRequestConnectionInfo:
			m.reply(v, Reply{OK: true, Info: m.info})
		case OpRequestGroupInfo:
			m.reply(v, Reply{OK: true, Group: m.groups.Active().Clone()})
		case OpRequestPersistentGroupInfo:
			m.reply(v, Reply{OK: true, Groups: m.groups.Snapshot()})
		case OpEnable, OpDisable:
			m.ok(v)
		case OpBlockDiscovery:
			m.discoveryBlocked = v.blocked
			m.discoveryPostponed = false
			m.ok(v)
		case OpAcceptConnection, OpRejectConnection, OpAcceptChannelSwitch, OpRejectChannelSwitch:
			m.log.Debug().Str("op", v.op.String()).Msg("decision without pending request")
		default:
			m.fail(v, ReasonBusy)
		}
		return true
	case driver.GroupStarted:
		m.log.Warn().Str("interface", v.Group.Interface).Msg("unexpected group started, removing")
		if err := m.opts.Driver.GroupRemove(v.Group.Interface); err != nil {
			m.log.Warn().Err(err).Msg("failed to remove unexpected group")
		}
		return true
	case driver.Event:
		m.log.Debug().Str("state", m.State().String()).Str("event", v.EventName()).Msg("event dropped")
		return true
	case timerFired, peerAddressResolved:
		return true
	}
	return false
}

func notSupportedProcess(m *Machine, msg any) bool {
	cmd, ok := msg.(*command)
	if !ok {
		return false
	}
	if cmd.op.mutating() || cmd.op == OpEnable || cmd.op == OpStartListen || cmd.op == OpStopListen {
		m.fail(cmd, ReasonUnsupported)
		return true
	}
	return false
}
