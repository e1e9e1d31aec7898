package envelope

// Status describes the envelope lifecycle label used by domain decisions.
type Status string

const (
	StatusUnspecified Status = ""
	StatusDraft       Status = "draft"
	StatusSent        Status = "sent"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusCanceled    Status = "canceled"
	StatusDeclined    Status = "declined"
)

// isStatusTransitionAllowed enforces valid envelope lifecycle transitions.
//
// Forward edges are monotonic: draft -> sent -> in_progress -> completed.
// Cancel is reachable from any non-terminal state; decline only once the
// envelope has been routed to signers.
func isStatusTransitionAllowed(from, to Status) bool {
	switch from {
	case StatusDraft:
		return to == StatusSent || to == StatusCanceled
	case StatusSent:
		return to == StatusInProgress || to == StatusCompleted || to == StatusCanceled || to == StatusDeclined
	case StatusInProgress:
		return to == StatusCompleted || to == StatusCanceled || to == StatusDeclined
	default:
		return false
	}
}

// IsSigningActive reports whether signers may act on the envelope.
func IsSigningActive(s Status) bool {
	return s == StatusSent || s == StatusInProgress
}
