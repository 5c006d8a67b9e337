package manager

import (
	"errors"
	"fmt"
)

// Kind classifies manager failures so callers can pick exit codes and
// decide whether retrying can help.
type Kind string

const (
	KindUserNotFound        Kind = "user_not_found"
	KindWhitelistMissing    Kind = "whitelist_missing"
	KindResolutionExhausted Kind = "resolution_exhausted"
	KindEnforcementFailed   Kind = "enforcement_failed"
	KindDeviceBlockFailed   Kind = "device_block_failed"
	KindLockContention      Kind = "lock_contention"
	KindAlreadyInState      Kind = "already_in_state"
)

// Error is a classified manager error.
type Error struct {
	Kind Kind
	User string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.User, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.User, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two manager errors by kind, so
// errors.Is(err, &Error{Kind: KindLockContention}) works as a sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Retryable reports whether a later identical call might succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindLockContention, KindResolutionExhausted, KindEnforcementFailed, KindDeviceBlockFailed:
		return true
	default:
		return false
	}
}

// NewError wraps err as a classified manager error. Commands use it to
// classify failures from collaborators that do not speak kinds themselves.
func NewError(kind Kind, user string, err error) *Error {
	return &Error{Kind: kind, User: user, Err: err}
}

func newError(kind Kind, user string, err error) *Error {
	return NewError(kind, user, err)
}

// IsKind reports whether err is a manager error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
