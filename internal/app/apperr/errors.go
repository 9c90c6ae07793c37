// Package apperr holds the error taxonomy shared by the state machines, the
// ledger store and the HTTP edge.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition: the action is not permitted from the current state.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrDuplicateEvent is returned internally when a gateway event was already
	// applied. Callers treat it as success.
	ErrDuplicateEvent = errors.New("duplicate event")
	ErrAuthenticity   = errors.New("authenticity check failed")
	// ErrTransientStorage marks failures the caller may retry.
	ErrTransientStorage = errors.New("transient storage failure")
	ErrUnknownEventKind = errors.New("unknown event kind")
	// ErrCorruptState means a stored record breaks its own consistency rules. Processing
	// of that one entity halts.
	ErrCorruptState = errors.New("corrupt stored state")
	ErrNotFound     = errors.New("not found")
	// ErrInvalidInput rejects malformed requests before any state is read.
	ErrInvalidInput = errors.New("invalid input")
	// ErrTrialAlreadyUsed is an InvalidTransition with a dedicated reason.
	ErrTrialAlreadyUsed = fmt.Errorf("%w: trial already used", ErrInvalidTransition)
	ErrVersionConflict  = fmt.Errorf("%w: version conflict", ErrTransientStorage)
	ErrTooManyAttempts  = errors.New("too many attempts")
)

// TransitionError describes a rejected transition.
type TransitionError struct {
	Entity string
	Action string
	From   string
	Reason error
}

func (e *TransitionError) Error() string {
	if e.Reason != nil && e.Reason != ErrInvalidTransition {
		return fmt.Sprintf("%s: %s not allowed from %s: %v", e.Entity, e.Action, e.From, e.Reason)
	}
	return fmt.Sprintf("%s: %s not allowed from %s", e.Entity, e.Action, e.From)
}

// Unwrap lets errors.Is match both ErrInvalidTransition and a specific reason.
func (e *TransitionError) Unwrap() []error {
	if e.Reason == nil || e.Reason == ErrInvalidTransition {
		return []error{ErrInvalidTransition}
	}
	return []error{ErrInvalidTransition, e.Reason}
}

func Rejected(entity, action, from string) *TransitionError {
	return &TransitionError{Entity: entity, Action: action, From: from}
}

func Corrupt(entity, id, status string) error {
	return fmt.Errorf("%w: %s %s has status %q", ErrCorruptState, entity, id, status)
}

func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// IsRetryable reports whether the caller should retry the operation later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientStorage)
}
