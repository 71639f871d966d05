package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pinger probes the chat workspace for connectivity. The Slack client's
// auth.test call is the production implementation.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor periodically probes the workspace and records the outcome in a
// SocketState. The first probe fires immediately on start.
type Monitor struct {
	pinger   Pinger
	state    *SocketState
	interval time.Duration
	logger   *zap.Logger

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// StartMonitor starts probing and returns the running monitor.
func StartMonitor(pinger Pinger, state *SocketState, interval time.Duration, logger *zap.Logger) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		pinger:   pinger,
		state:    state,
		interval: interval,
		logger:   logger,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go m.run(ctx)
	return m
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	m.probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	if err := m.pinger.Ping(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		m.state.MarkDisconnected()
		m.logger.Warn("chat ping failed",
			zap.Int("consecutive_failures", m.state.ConsecutiveFailures()),
			zap.Error(err),
		)
		return
	}
	m.state.MarkConnected()
}

// Stop halts probing. It is idempotent and returns once no further probe can
// fire; an in-flight probe is allowed to complete.
func (m *Monitor) Stop() {
	m.stopOnce.Do(m.cancel)
	<-m.done
}
