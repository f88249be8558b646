package machine

// State identifies one node of the group formation state tree.
type State int32

const (
	StateDefault State = iota
	StateNotSupported
	StateDisabled
	StateEnabling
	StateDisabling
	StateEnabled
	StateInactive
	StateGroupCreating
	StateUserAuthorizingInvite
	StateUserAuthorizingNegotiation
	StateProvisionDiscovery
	StateGroupNegotiation
	StateFrequencyConflict
	StateGroupCreated
	StateUserAuthorizingJoin
	StateOngoingGroupRemoval
	stateCount
)

var stateNames = [stateCount]string{
	StateDefault:                    "Default",
	StateNotSupported:               "NotSupported",
	StateDisabled:                   "Disabled",
	StateEnabling:                   "Enabling",
	StateDisabling:                  "Disabling",
	StateEnabled:                    "Enabled",
	StateInactive:                   "Inactive",
	StateGroupCreating:              "GroupCreating",
	StateUserAuthorizingInvite:      "UserAuthorizingInvite",
	StateUserAuthorizingNegotiation: "UserAuthorizingNegotiation",
	StateProvisionDiscovery:         "ProvisionDiscovery",
	StateGroupNegotiation:           "GroupNegotiation",
	StateFrequencyConflict:          "FrequencyConflict",
	StateGroupCreated:               "GroupCreated",
	StateUserAuthorizingJoin:        "UserAuthorizingJoin",
	StateOngoingGroupRemoval:        "OngoingGroupRemoval",
}

// parents maps each state to its parent. Default is the root and is its own parent.
var parents = [stateCount]State{
	StateDefault:                    StateDefault,
	StateNotSupported:               StateDefault,
	StateDisabled:                   StateDefault,
	StateEnabling:                   StateDefault,
	StateDisabling:                  StateDefault,
	StateEnabled:                    StateDefault,
	StateInactive:                   StateEnabled,
	StateGroupCreating:              StateEnabled,
	StateUserAuthorizingInvite:      StateGroupCreating,
	StateUserAuthorizingNegotiation: StateGroupCreating,
	StateProvisionDiscovery:         StateGroupCreating,
	StateGroupNegotiation:           StateGroupCreating,
	StateFrequencyConflict:          StateGroupCreating,
	StateGroupCreated:               StateEnabled,
	StateUserAuthorizingJoin:        StateGroupCreated,
	StateOngoingGroupRemoval:        StateGroupCreated,
}

func (s State) String() string {
	if s < 0 || s >= stateCount {
		return "Unknown"
	}
	return stateNames[s]
}

// Parent returns the enclosing state. The parent of Default is Default.
func (s State) Parent() State {
	if s < 0 || s >= stateCount {
		return StateDefault
	}
	return parents[s]
}

// Within reports whether s is ancestor or s itself.
func (s State) Within(ancestor State) bool {
	for cur := s; ; cur = cur.Parent() {
		if cur == ancestor {
			return true
		}
		if cur == StateDefault {
			return false
		}
	}
}

// transitionPath returns the states to exit (innermost first) and to enter
// (outermost first) when moving from one state to dest. A transition to the
// current state or to one of its ancestors exits and re-enters dest.
func transitionPath(from, dest State) (exits, enters []State) {
	active := make(map[State]bool)
	for cur := from; ; cur = cur.Parent() {
		active[cur] = true
		if cur == StateDefault {
			break
		}
	}

	cur := dest
	for {
		enters = append(enters, cur)
		cur = cur.Parent()
		if active[cur] {
			break
		}
	}
	common := cur

	for x := from; x != common; x = x.Parent() {
		exits = append(exits, x)
	}

	for i, j := 0, len(enters)-1; i < j; i, j = i+1, j-1 {
		enters[i], enters[j] = enters[j], enters[i]
	}
	return exits, enters
}
