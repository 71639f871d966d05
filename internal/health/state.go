// Package health tracks chat connectivity and exposes it over HTTP for
// container orchestration probes.
package health

import (
	"sync"
	"time"
)

// SocketState tracks chat connectivity as seen by the liveness monitor. Two
// writer paths (connect and disconnect marks) and many readers share it, so
// every access goes through the mutex.
type SocketState struct {
	mu                 sync.Mutex
	connected          bool
	lastConnectedAt    time.Time
	lastDisconnectedAt time.Time
	failures           int

	now func() time.Time
}

// NewSocketState returns the initial state: disconnected as of now, with no
// failures recorded yet.
func NewSocketState() *SocketState {
	s := &SocketState{now: time.Now}
	s.lastDisconnectedAt = s.now()
	return s
}

// MarkConnected records a successful probe and resets the failure count.
func (s *SocketState) MarkConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	s.lastConnectedAt = s.now()
	s.failures = 0
}

// MarkDisconnected records a failed probe.
func (s *SocketState) MarkDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.lastDisconnectedAt = s.now()
	s.failures++
}

// ConsecutiveFailures returns the current failure streak.
func (s *SocketState) ConsecutiveFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// IsDisconnectedTooLong reports whether the state has been disconnected for
// longer than grace. A connected state is never too long.
func (s *SocketState) IsDisconnectedTooLong(now time.Time, grace time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected || s.lastDisconnectedAt.IsZero() {
		return false
	}
	return now.Sub(s.lastDisconnectedAt) > grace
}

// LivenessBody is the JSON document served on /liveness.
type LivenessBody struct {
	OK                  bool    `json:"ok"`
	Connected           bool    `json:"connected"`
	LastConnectedAt     *string `json:"lastConnectedAt"`
	LastDisconnectedAt  *string `json:"lastDisconnectedAt"`
	ConsecutiveFailures int     `json:"consecutiveFailures"`
	GraceMs             int64   `json:"graceMs"`
}

// Liveness snapshots the state into a probe response body.
func (s *SocketState) Liveness(ok bool, grace time.Duration) LivenessBody {
	s.mu.Lock()
	defer s.mu.Unlock()
	return LivenessBody{
		OK:                  ok,
		Connected:           s.connected,
		LastConnectedAt:     isoOrNil(s.lastConnectedAt),
		LastDisconnectedAt:  isoOrNil(s.lastDisconnectedAt),
		ConsecutiveFailures: s.failures,
		GraceMs:             grace.Milliseconds(),
	}
}

func isoOrNil(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	iso := t.UTC().Format(time.RFC3339Nano)
	return &iso
}
