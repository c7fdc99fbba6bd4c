package moderation

// Telegram chat_member statuses, as delivered on the wire.
const (
	StatusCreator    = "creator"
	StatusAdmin      = "administrator"
	StatusMember     = "member"
	StatusRestricted = "restricted"
	StatusLeft       = "left"
	StatusKicked     = "kicked"
)

// IsJoinTransition reports whether (old, new) is an edge from a non-member-like
// status to a member-like one. Restricted users can be "members under limits",
// so restricted counts on both sides, matching the platform semantics.
func IsJoinTransition(old, new string) bool {
	return outsideStatus(old) && insideStatus(new)
}

// IsLeaveTransition reports whether (old, new) is an edge from a member-like
// status to left/kicked.
func IsLeaveTransition(old, new string) bool {
	switch old {
	case StatusMember, StatusAdmin, StatusRestricted:
	default:
		return false
	}
	return new == StatusLeft || new == StatusKicked
}

func outsideStatus(s string) bool {
	return s == StatusLeft || s == StatusKicked || s == StatusRestricted
}

func insideStatus(s string) bool {
	return s == StatusMember || s == StatusAdmin || s == StatusCreator
}
