package answer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

// Delays in tests are tiny so the exhaustion cases stay fast.
const testDelay = time.Millisecond

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("success on first attempt calls op exactly once", func(t *testing.T) {
		calls := 0
		start := time.Now()

		got, err := Retry(ctx, func(ctx context.Context) (string, error) {
			calls++
			return "ok", nil
		}, 3, time.Second)

		require.NoError(t, err)
		assert.Equal(t, "ok", got)
		assert.Equal(t, 1, calls)
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("retries 500s until success", func(t *testing.T) {
		calls := 0

		got, err := Retry(ctx, func(ctx context.Context) (int, error) {
			calls++
			if calls <= 2 {
				return 0, genai.APIError{Code: 500, Message: "server error"}
			}
			return 42, nil
		}, 3, testDelay)

		require.NoError(t, err)
		assert.Equal(t, 42, got)
		assert.Equal(t, 3, calls)
	})

	t.Run("exhausted retries return the last error", func(t *testing.T) {
		calls := 0

		_, err := Retry(ctx, func(ctx context.Context) (int, error) {
			calls++
			return 0, genai.APIError{Code: 500, Message: "still down"}
		}, 2, testDelay)

		require.Error(t, err)
		assert.Equal(t, 3, calls) // maxRetries + 1

		var apiErr genai.APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, 500, apiErr.Code)
	})

	t.Run("429 is retryable", func(t *testing.T) {
		calls := 0

		got, err := Retry(ctx, func(ctx context.Context) (string, error) {
			calls++
			if calls == 1 {
				return "", genai.APIError{Code: 429, Message: "rate limited"}
			}
			return "ok", nil
		}, 3, testDelay)

		require.NoError(t, err)
		assert.Equal(t, "ok", got)
		assert.Equal(t, 2, calls)
	})

	t.Run("400 fails immediately without delay", func(t *testing.T) {
		calls := 0
		start := time.Now()

		_, err := Retry(ctx, func(ctx context.Context) (int, error) {
			calls++
			return 0, genai.APIError{Code: 400, Message: "bad request"}
		}, 3, time.Second)

		require.Error(t, err)
		assert.Equal(t, 1, calls)
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("errors without a status code fail immediately", func(t *testing.T) {
		calls := 0
		wantErr := errors.New("plain failure")

		_, err := Retry(ctx, func(ctx context.Context) (int, error) {
			calls++
			return 0, wantErr
		}, 3, time.Second)

		assert.ErrorIs(t, err, wantErr)
		assert.Equal(t, 1, calls)
	})

	t.Run("httpStatusError implementations are classified too", func(t *testing.T) {
		calls := 0

		_, err := Retry(ctx, func(ctx context.Context) (int, error) {
			calls++
			if calls == 1 {
				return 0, &fakeStatusError{status: 503}
			}
			return 1, nil
		}, 3, testDelay)

		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("context cancellation aborts the backoff sleep", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		calls := 0

		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		_, err := Retry(cctx, func(ctx context.Context) (int, error) {
			calls++
			return 0, genai.APIError{Code: 500}
		}, 3, time.Minute)

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

type fakeStatusError struct{ status int }

func (e *fakeStatusError) Error() string   { return "upstream failure" }
func (e *fakeStatusError) HTTPStatus() int { return e.status }
