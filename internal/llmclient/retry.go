package llmclient

import (
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// APIError is a non-2xx answer from a model endpoint.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error: status %d, body: %s", e.Provider, e.StatusCode, e.Body)
}

// Transient reports whether retrying the request may succeed.
func (e *APIError) Transient() bool {
	return isTransientStatus(e.StatusCode)
}

func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
		return true
	}
	return false
}

// classify marks permanent API errors so backoff stops retrying them.
func classify(err *APIError) error {
	if err.Transient() {
		return err
	}
	return backoff.Permanent(err)
}

// backoffFactory builds the retry policy for one request.
type backoffFactory func() backoff.BackOff

func defaultBackoff(maxRetries int) backoffFactory {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 500 * time.Millisecond
		b.MaxInterval = 30 * time.Second
		b.MaxElapsedTime = 2 * time.Minute
		if maxRetries < 0 {
			maxRetries = 0
		}
		return backoff.WithMaxRetries(b, uint64(maxRetries))
	}
}

// newLimiter returns a limiter for rps requests per second. Zero or negative
// disables limiting.
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
