package domain

// TransactionStatus represents the lifecycle state of a top-up order
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusPaid       TransactionStatus = "paid"
	StatusProcessing TransactionStatus = "processing"
	StatusCompleted  TransactionStatus = "completed"
	StatusFailed     TransactionStatus = "failed"
	StatusRefunded   TransactionStatus = "refunded"
)

// validTransitions is the single source of truth for allowed status
// transitions. "Is this transition legal" is one lookup here, nothing else.
//
//	pending -> paid -> processing -> completed
//	failed is reachable from any pre-completed state
//	refunded is reachable only from failed, completed or paid
var validTransitions = map[TransactionStatus][]TransactionStatus{
	StatusPending:    {StatusPaid, StatusProcessing, StatusFailed},
	StatusPaid:       {StatusProcessing, StatusFailed, StatusRefunded},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusRefunded},
	StatusFailed:     {StatusProcessing, StatusRefunded},
	StatusRefunded:   {},
}

// CanTransition reports whether moving from one status to another is allowed
func CanTransition(from, to TransactionStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns a structured rejection naming both statuses
// when the transition is not allowed
func ValidateTransition(from, to TransactionStatus) error {
	if !CanTransition(from, to) {
		return NewInvalidTransitionError(from, to)
	}
	return nil
}

// RequiresReason reports whether a transition into the given status must
// carry a non-empty reason string
func RequiresReason(to TransactionStatus) bool {
	return to == StatusFailed || to == StatusRefunded
}

// IsTerminal reports whether a status ends the normal lifecycle. A completed
// transaction can still be refunded; refunded is final.
func IsTerminal(s TransactionStatus) bool {
	return s == StatusCompleted || s == StatusRefunded
}

// IsRefundable reports whether a transaction in the given status may enter
// the refund pipeline
func IsRefundable(s TransactionStatus) bool {
	return s == StatusFailed || s == StatusCompleted || s == StatusPaid
}
