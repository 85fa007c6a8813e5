package ports

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitedError is the typed §4.1 RateLimited error: it always unwraps
// to ErrRateLimited (so ports.Classify still works) but additionally
// carries the venue's retry-after hint, when one was provided. C2's retry
// wrapper does not read it; it keeps its own BaseDelay*attempt backoff.
type RateLimitedError struct {
	RetryAfter time.Duration // zero means the venue gave no hint
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", ErrRateLimited, e.RetryAfter)
	}
	return ErrRateLimited.Error()
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Exchange Specific Errors
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the exchange")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInvalidAPIKeys       = errors.New("invalid API keys or permissions")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrOrderNotFound        = errors.New("order not found on the exchange")
	ErrPositionNotFound     = errors.New("position not found on the exchange")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrOrderCancelFailed    = errors.New("failed to cancel order")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
	ErrDeleteFailed   = errors.New("database delete failed")

	// Taxonomy errors (§7 of the execution/key-management core). Adapters,
	// the reliable executor, and the key manager wrap the error that
	// actually occurred with one of these so callers can branch on Classify()
	// instead of on sentinel identity.
	ErrInvalidParams = errors.New("invalid parameters")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrBadState      = errors.New("operation not valid for current state")
	ErrRiskReject    = errors.New("rejected by risk checks")
	ErrTransient     = errors.New("transient failure, safe to retry")
	ErrPermanent     = errors.New("permanent failure, do not retry")
	ErrCircuitOpen   = errors.New("circuit breaker is open")
	ErrCancelled     = errors.New("operation cancelled")
)

// Kind is one of the §7 error-taxonomy categories.
type Kind string

const (
	KindInvalidParams Kind = "InvalidParams"
	KindNotFound      Kind = "NotFound"
	KindUnauthorized  Kind = "Unauthorized"
	KindBadState      Kind = "BadState"
	KindRiskReject    Kind = "RiskReject"
	KindTransient     Kind = "Transient"
	KindRateLimited   Kind = "RateLimited"
	KindAuthFailed    Kind = "AuthFailed"
	KindPermanent     Kind = "Permanent"
	KindCircuitOpen   Kind = "CircuitOpen"
	KindCancelled     Kind = "Cancelled"
	KindUnknown       Kind = "Unknown"
)

// Classify maps a (possibly wrapped) error onto its taxonomy Kind. Errors
// that don't match any sentinel below classify as KindUnknown — the caller
// treats that conservatively (non-retryable, fatal to position updates).
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrInvalidParams), errors.Is(err, ErrInvalidRequest):
		return KindInvalidParams
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrPositionNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrInvalidAPIKeys):
		return KindUnauthorized
	case errors.Is(err, ErrBadState):
		return KindBadState
	case errors.Is(err, ErrRiskReject):
		return KindRiskReject
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrAuthenticationFailed):
		return KindAuthFailed
	case errors.Is(err, ErrPermanent), errors.Is(err, ErrOrderPlacementFailed), errors.Is(err, ErrOrderCancelFailed):
		return KindPermanent
	case errors.Is(err, ErrCircuitOpen):
		return KindCircuitOpen
	case errors.Is(err, ErrCancelled), errors.Is(err, ErrContextCanceled):
		return KindCancelled
	case errors.Is(err, ErrTransient), errors.Is(err, ErrTimeout), errors.Is(err, ErrExchangeUnavailable), errors.Is(err, ErrConnectionFailed), errors.Is(err, ErrDBConnection):
		return KindTransient
	default:
		return KindUnknown
	}
}
