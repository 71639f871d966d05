package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds a standalone router with the probe endpoints.
func NewRouter(state *SocketState, grace time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	Register(r, state, grace)
	return r
}

// Register adds the probe endpoints to an existing router: /healthz always
// answers 200 while the process is up, /liveness reflects chat connectivity
// with a grace period.
func Register(r chi.Router, state *SocketState, grace time.Duration) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/liveness", func(w http.ResponseWriter, _ *http.Request) {
		status := http.StatusOK
		if state.IsDisconnectedTooLong(time.Now(), grace) {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(state.Liveness(status == http.StatusOK, grace))
	})
}
