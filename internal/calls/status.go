package calls

import "fmt"

type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusNoAnswer   Status = "no_answer"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{StatusInitiated, StatusInProgress, StatusCompleted, StatusFailed, StatusNoAnswer}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusInitiated, StatusInProgress, StatusCompleted, StatusFailed, StatusNoAnswer:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s has no outgoing transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusNoAnswer:
		return true
	case StatusInitiated, StatusInProgress:
		return false
	default:
		return false
	}
}

// CanTransition is the lifecycle table:
//
//	initiated   -> in_progress | completed | failed | no_answer
//	in_progress -> completed | failed | no_answer
//	terminal    -> (none)
//
// Self transitions are not legal.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusInitiated:
		switch to {
		case StatusInProgress, StatusCompleted, StatusFailed, StatusNoAnswer:
			return true
		case StatusInitiated:
			return false
		}
	case StatusInProgress:
		switch to {
		case StatusCompleted, StatusFailed, StatusNoAnswer:
			return true
		case StatusInitiated, StatusInProgress:
			return false
		}
	case StatusCompleted, StatusFailed, StatusNoAnswer:
		return false
	}
	return false
}
