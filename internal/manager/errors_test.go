package manager

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindMatching(t *testing.T) {
	err := newError(KindLockContention, "alice", errors.New("flock timeout"))

	assert.True(t, IsKind(err, KindLockContention))
	assert.False(t, IsKind(err, KindUserNotFound))
	assert.True(t, errors.Is(err, &Error{Kind: KindLockContention}))

	wrapped := fmt.Errorf("restrict: %w", err)
	assert.True(t, IsKind(wrapped, KindLockContention))
}

func TestErrorRetryable(t *testing.T) {
	assert.True(t, newError(KindLockContention, "a", nil).Retryable())
	assert.True(t, newError(KindResolutionExhausted, "a", nil).Retryable())
	assert.True(t, newError(KindEnforcementFailed, "a", nil).Retryable())
	assert.False(t, newError(KindUserNotFound, "a", nil).Retryable())
	assert.False(t, newError(KindAlreadyInState, "a", nil).Retryable())
	assert.False(t, newError(KindWhitelistMissing, "a", nil).Retryable())
}

func TestErrorMessage(t *testing.T) {
	err := newError(KindUserNotFound, "mallory", errors.New("no such user"))
	assert.Equal(t, "mallory: user_not_found: no such user", err.Error())

	bare := newError(KindAlreadyInState, "alice", nil)
	assert.Equal(t, "alice: already_in_state", bare.Error())
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := newError(KindEnforcementFailed, "alice", inner)
	assert.ErrorIs(t, err, inner)
}
