package office

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/docbroker/internal/metrics"
)

// Monitor is one armed deadline over a session. It exists only inside
// WithTimeout.
type Monitor struct {
	target  Restarter
	timeout time.Duration
	cancel  context.CancelFunc
	timer   *time.Timer
	fired   chan struct{}

	mu       sync.Mutex
	expired  bool
	finished bool
}

// WithTimeout runs fn under a monitor. If fn is still running after d, the
// context passed to fn is cancelled and target is restarted. WithTimeout does
// not return before such a restart has completed. A non-positive d disables
// the monitor.
func WithTimeout(ctx context.Context, target Restarter, d time.Duration, fn func(context.Context) error) (expired bool, err error) {
	if d <= 0 {
		return false, fn(ctx)
	}
	runCtx, cancel := context.WithCancel(ctx)
	m := &Monitor{target: target, timeout: d, cancel: cancel, fired: make(chan struct{})}
	m.timer = time.AfterFunc(d, m.expire)
	defer func() {
		m.finish()
		expired = m.disarm()
		cancel()
	}()
	return false, fn(runCtx)
}

// Expired reports whether the deadline passed.
func (m *Monitor) Expired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expired
}

// finish records that fn returned. A deadline that fires afterwards is a
// no-op.
func (m *Monitor) finish() {
	m.mu.Lock()
	m.finished = true
	m.mu.Unlock()
}

func (m *Monitor) expire() {
	defer close(m.fired)
	m.mu.Lock()
	if m.finished {
		m.mu.Unlock()
		return
	}
	m.expired = true
	m.mu.Unlock()

	log.Warn().Dur("timeout", m.timeout).Msg("conversion timed out, restarting office session")
	metrics.IncTimeout()
	m.cancel()
	metrics.IncSessionRestart("timeout")
	if err := m.target.Restart(context.Background()); err != nil {
		log.Error().Err(err).Msg("restart after timeout failed")
	}
}

// disarm stops the timer, or waits for the restart it already triggered.
func (m *Monitor) disarm() bool {
	if m.timer.Stop() {
		return false
	}
	<-m.fired
	return m.Expired()
}
