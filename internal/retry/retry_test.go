package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")
var errTerminal = errors.New("terminal")

func alwaysTransient(err error) bool { return errors.Is(err, errTransient) }

func TestDoReturnsNilOnFirstSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy, alwaysTransient, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoStopsImmediatelyOnNonTransientError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy, alwaysTransient, func() error {
		calls++
		return errTerminal
	})
	assert.ErrorIs(t, err, errTerminal)
	assert.Equal(t, 1, calls, "a non-transient error must not be retried")
}

func TestDoRetriesTransientErrorsUpToMaxAttempts(t *testing.T) {
	policy := Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
	calls := 0
	err := Do(context.Background(), policy, alwaysTransient, func() error {
		calls++
		return errTransient
	})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls, "should exhaust exactly MaxAttempts tries")
}

func TestDoSucceedsAfterTransientRetries(t *testing.T) {
	policy := Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
	calls := 0
	err := Do(context.Background(), policy, alwaysTransient, func() error {
		calls++
		if calls < 2 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	policy := Policy{MaxAttempts: 5, InitialBackoff: 50 * time.Millisecond, MaxBackoff: time.Second}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Do(ctx, policy, alwaysTransient, func() error {
		calls++
		if calls == 1 {
			cancel()
		}
		return errTransient
	})
	assert.ErrorIs(t, err, context.Canceled)
}
