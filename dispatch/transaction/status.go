package transaction

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a transaction.
//
// Transitions:
//
//	PENDING    → PROCESSING | CANCELLED | FAILED
//	PROCESSING → COMPLETED | FAILED | RETRYING
//	RETRYING   → PROCESSING
//
// COMPLETED, FAILED and CANCELLED are terminal.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusRetrying   Status = "RETRYING"
	StatusCancelled  Status = "CANCELLED"
)

// ErrInvalidTransition is returned when a status change is not an edge of
// the lifecycle graph.
var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusRetrying},
	StatusRetrying:   {StatusProcessing},
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusRetrying, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether s → to is an edge of the lifecycle graph.
func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}

	return false
}

func transitionError(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
