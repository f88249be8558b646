package driver

import "strconv"

// Status is a P2P status code reported by the supplicant.
type Status int

const (
	StatusUnknown                        Status = -1
	StatusSuccess                        Status = 0
	StatusInformationUnavailable         Status = 1
	StatusIncompatibleParameters         Status = 2
	StatusLimitReached                   Status = 3
	StatusInvalidParameter               Status = 4
	StatusUnableToAccommodate            Status = 5
	StatusPreviousProtocolError          Status = 6
	StatusNoCommonChannel                Status = 7
	StatusUnknownGroup                   Status = 8
	StatusBothGroupOwnerIntent15         Status = 9
	StatusIncompatibleProvisioningMethod Status = 10
	StatusRejectedByUser                 Status = 11
)

// ReasonCodeNoCommonChannel is the 802.11 disconnect reason a group owner
// sends when it moved to a channel the client cannot follow.
const ReasonCodeNoCommonChannel = 99

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusSuccess:
		return "success"
	case StatusInformationUnavailable:
		return "information_unavailable"
	case StatusIncompatibleParameters:
		return "incompatible_parameters"
	case StatusLimitReached:
		return "limit_reached"
	case StatusInvalidParameter:
		return "invalid_parameter"
	case StatusUnableToAccommodate:
		return "unable_to_accommodate"
	case StatusPreviousProtocolError:
		return "previous_protocol_error"
	case StatusNoCommonChannel:
		return "no_common_channel"
	case StatusUnknownGroup:
		return "unknown_group"
	case StatusBothGroupOwnerIntent15:
		return "both_go_intent_15"
	case StatusIncompatibleProvisioningMethod:
		return "incompatible_provisioning_method"
	case StatusRejectedByUser:
		return "rejected_by_user"
	default:
		return "status_" + strconv.Itoa(int(s))
	}
}

// ParseStatus maps a numeric status to Status, unknown values become StatusUnknown.
func ParseStatus(code int) Status {
	if code < int(StatusSuccess) || code > int(StatusRejectedByUser) {
		return StatusUnknown
	}
	return Status(code)
}
