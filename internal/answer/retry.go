package answer

import (
	"context"
	"errors"
	"net/http"
	"time"

	"google.golang.org/genai"
)

// httpStatusError is implemented by errors that carry an HTTP-like status
// code, such as the knowledge-base client's StatusError.
type httpStatusError interface {
	HTTPStatus() int
}

// Retry runs op with exponential backoff on retryable failures. Attempt 0
// runs immediately; a failure is retryable iff an HTTP-like status code can be
// extracted from the error and it is 429 or >= 500. Other errors propagate
// immediately without delay. The sleep before attempt n+1 is
// initialDelay * 2^n, with no jitter and no deadline beyond the attempt count;
// total attempts = maxRetries + 1. When retries are exhausted the last error
// is returned as is.
func Retry[T any](ctx context.Context, op func(ctx context.Context) (T, error), maxRetries int, initialDelay time.Duration) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		status, ok := statusOf(err)
		if !ok || !retryableStatus(status) {
			return zero, err
		}
		if attempt == maxRetries {
			break
		}

		select {
		case <-time.After(initialDelay << uint(attempt)):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	return zero, lastErr
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func statusOf(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	var statusErr httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.HTTPStatus(), true
	}
	return 0, false
}
