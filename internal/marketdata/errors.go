package marketdata

import "errors"

var (
	// ErrQuoteUnavailable is retryable and scoped to a single symbol, the
	// poller retries on its next tick
	ErrQuoteUnavailable = errors.New("quote unavailable")
	// ErrFetchTimeout bounds a stalled upstream call, also retryable
	ErrFetchTimeout = errors.New("quote fetch timeout")

	ErrSubscriptionLimitExceeded = errors.New("subscription limit exceeded")
	ErrNoSource                  = errors.New("no quote source for market")
)
