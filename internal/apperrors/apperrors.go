// Package apperrors defines the sentinel error taxonomy shared by the exchange
// adapter, execution controller, and reconcilers.
package apperrors

import "errors"

var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrOrderRejected        = errors.New("order rejected by exchange")
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrNetwork              = errors.New("network error")
	ErrInvalidSymbol        = errors.New("invalid or unknown symbol")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrExchangeMaintenance  = errors.New("exchange under maintenance")
	ErrOrderNotFound        = errors.New("order not found")
	ErrDuplicateOrder       = errors.New("duplicate order")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrSystemOverload       = errors.New("system overload")
	ErrTimestampOutOfBounds = errors.New("timestamp out of bounds")

	// ErrKillSwitchActive is returned by the exchange adapter when any
	// order-placing call is attempted while the kill-switch is active.
	ErrKillSwitchActive = errors.New("kill switch active")
	// ErrLiveNotConfirmed is returned when LIVE mode is requested without
	// the explicit confirmation flag.
	ErrLiveNotConfirmed = errors.New("live trading requires explicit confirmation")
	// ErrDemoTradeAttempt guards against accidental wire calls in DEMO mode.
	ErrDemoTradeAttempt = errors.New("trade call attempted in demo mode")
	// ErrSymbolNotWhitelisted blocks entries on symbols outside the configured set.
	ErrSymbolNotWhitelisted = errors.New("symbol not whitelisted")
	// ErrQuoteCapExceeded blocks entries whose quote amount exceeds the per-trade cap.
	ErrQuoteCapExceeded = errors.New("quote amount exceeds per-trade cap")
)

// IsTransient reports whether err represents a condition worth retrying:
// network blips, rate limiting, exchange maintenance windows, and system
// overload. Everything
// else (rejections, auth failures, invariant violations) is terminal for the
// current attempt.
func IsTransient(err error) bool {
	switch {
	case errors.Is(err, ErrNetwork),
		errors.Is(err, ErrRateLimitExceeded),
		errors.Is(err, ErrExchangeMaintenance),
		errors.Is(err, ErrSystemOverload):
		return true
	default:
		return false
	}
}
