package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransientClassifiesRetryableErrors(t *testing.T) {
	transient := []error{ErrNetwork, ErrRateLimitExceeded, ErrExchangeMaintenance, ErrSystemOverload}
	for _, err := range transient {
		assert.True(t, IsTransient(err), "%v should be transient", err)
	}
}

func TestIsTransientRejectsTerminalErrors(t *testing.T) {
	terminal := []error{
		ErrInsufficientFunds, ErrOrderRejected, ErrInvalidSymbol, ErrAuthenticationFailed,
		ErrOrderNotFound, ErrDuplicateOrder, ErrInvalidOrderParameter, ErrTimestampOutOfBounds,
		ErrKillSwitchActive, ErrLiveNotConfirmed, ErrDemoTradeAttempt, ErrSymbolNotWhitelisted,
		ErrQuoteCapExceeded,
	}
	for _, err := range terminal {
		assert.False(t, IsTransient(err), "%v should not be transient", err)
	}
}

func TestIsTransientUnwrapsWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("binance: %w", ErrRateLimitExceeded)
	assert.True(t, IsTransient(wrapped))
}

func TestIsTransientDoesNotMatchUnrelatedError(t *testing.T) {
	assert.False(t, IsTransient(errors.New("some other failure")))
}
