package ledger

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// withRateLimitRetry calls fn again while the mirror node answers 429, up to
// maxRetries extra attempts. Any other outcome is returned as is.
func withRateLimitRetry[T any](ctx context.Context, maxRetries int, backoff time.Duration, fn func() (T, error)) (T, error) {
	for attempt := 0; ; attempt++ {
		result, err := fn()
		if err == nil || attempt >= maxRetries {
			return result, err
		}
		var se *StatusError
		if !errors.As(err, &se) || se.StatusCode != http.StatusTooManyRequests {
			return result, err
		}
		select {
		case <-ctx.Done():
			return result, err
		case <-time.After(backoff * time.Duration(attempt+1)):
		}
	}
}
