package apiclient

import (
	"context"
	"net/http"
	"time"
)

// Retry and backoff constants.
const (
	maxRetries  = 3
	baseBackoff = 1 * time.Second
)

// attemptContext tracks the retry and re-auth state of one logical request.
// It is threaded through Do by value instead of living on the request.
type attemptContext struct {
	retryCount      int
	reauthAttempted bool
}

// isRetryable reports whether the given HTTP status code is transient.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// shouldRetry reports whether a response with the given status may be
// retried, given how many retries this request has already used.
func (a attemptContext) shouldRetry(status int) bool {
	return isRetryable(status) && a.retryCount < maxRetries
}

// backoff returns the delay before retry number n (1-based): 1s, 2s, 4s.
func backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}

	return baseBackoff << (n - 1)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
