package vitalrelay

// Status represents the lifecycle state of an outbound message.
type Status string

const (
	// StatusPending indicates the message awaits first delivery.
	StatusPending Status = "Pending"
	// StatusSent indicates the remote side accepted the message and an acknowledgement is awaited.
	StatusSent Status = "Sent"
	// StatusAcknowledged indicates the remote side acknowledged the message.
	StatusAcknowledged Status = "Acknowledged"
	// StatusAcknowledgedAndCoded indicates a coding result arrived for the message.
	StatusAcknowledgedAndCoded Status = "AcknowledgedAndCoded"
	// StatusError indicates the message was rejected or failed extraction. It is never resent.
	StatusError Status = "Error"
)

var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusSent:                 true,
		StatusAcknowledgedAndCoded: true,
		StatusError:                true,
	},
	StatusSent: {
		StatusSent:                 true,
		StatusAcknowledged:         true,
		StatusAcknowledgedAndCoded: true,
		StatusError:                true,
	},
	StatusAcknowledged: {
		StatusAcknowledgedAndCoded: true,
	},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusAcknowledged, StatusAcknowledgedAndCoded, StatusError:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusError || s == StatusAcknowledgedAndCoded
}

// Resendable reports whether a message in s may be selected by the resend phase.
func (s Status) Resendable() bool {
	return s == StatusPending || s == StatusSent
}

// CanTransition reports whether s may move to next. Sent to Sent is the resend self-transition.
func (s Status) CanTransition(next Status) bool {
	return transitions[s][next]
}

func (s Status) String() string {
	return string(s)
}

// ParseStatus converts a stored status name into a Status.
func ParseStatus(name string) (Status, bool) {
	s := Status(name)

	return s, s.Valid()
}

// ResendableStatuses lists the statuses the resend phase selects from.
func ResendableStatuses() []Status {
	return []Status{StatusPending, StatusSent}
}
