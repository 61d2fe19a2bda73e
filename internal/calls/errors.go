package calls

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("calls: not found")
	ErrInvalidArgument     = errors.New("calls: invalid argument")
	ErrIllegalTransition   = errors.New("calls: illegal transition")
	ErrDuplicateExternalID = errors.New("calls: duplicate external call id")
	ErrAlreadyLinked       = errors.New("calls: already linked to another conversation")
	ErrOwnerMismatch       = errors.New("calls: call belongs to another user")
	// ErrConcurrentUpdate is returned by repositories when the stored version no
	// longer matches the expected one. The service retries on it.
	ErrConcurrentUpdate = errors.New("calls: concurrent update")
)

// IllegalTransitionError names the rejected edge.
// errors.Is(err, ErrIllegalTransition) holds for it.
type IllegalTransitionError struct {
	CallID string
	From   Status
	To     Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("calls: illegal transition %s -> %s (call %s)", e.From, e.To, e.CallID)
}

func (e *IllegalTransitionError) Is(target error) bool { return target == ErrIllegalTransition }
