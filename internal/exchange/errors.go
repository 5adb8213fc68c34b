package exchange

import (
	"errors"
	"fmt"
)

// Upstream failure modes surfaced to the orchestrator. Rate limiting is
// recoverable by backing off; unavailability is recoverable at the
// symbol level (the orchestrator records the failure and moves on).
var (
	ErrRateLimited = errors.New("exchange: rate limited")
	ErrUnavailable = errors.New("exchange: upstream unavailable")
)

// APIError represents a non-2xx response from the exchange.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange api error %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the error should trigger a retry.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429 || e.StatusCode == 418
}

// RateLimited reports whether the exchange rejected the request for
// exceeding its request-weight ceiling. 418 is the exchange's ban code
// for repeat offenders.
func (e *APIError) RateLimited() bool {
	return e.StatusCode == 429 || e.StatusCode == 418
}
