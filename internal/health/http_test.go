package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter(t *testing.T) {
	t.Run("healthz always answers ok", func(t *testing.T) {
		router := NewRouter(NewSocketState(), time.Minute)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", rec.Body.String())
	})

	t.Run("liveness is 200 within the grace period", func(t *testing.T) {
		state := NewSocketState()
		state.MarkConnected()
		router := NewRouter(state, time.Minute)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/liveness", nil))

		require.Equal(t, http.StatusOK, rec.Code)

		var body LivenessBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.True(t, body.OK)
		assert.True(t, body.Connected)
		assert.Equal(t, int64(60000), body.GraceMs)
	})

	t.Run("liveness is 503 after too long disconnected", func(t *testing.T) {
		state := NewSocketState()
		state.MarkDisconnected()
		router := NewRouter(state, -time.Second) // grace already elapsed

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/liveness", nil))

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body LivenessBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.False(t, body.OK)
		assert.False(t, body.Connected)
		assert.Equal(t, 1, body.ConsecutiveFailures)
	})
}
