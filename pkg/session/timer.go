package session

import (
	"context"
	"sync"
	"time"
)

const DefaultRefreshInterval = 30 * time.Second

// StartRefreshTimer checks the session every interval and renews the access
// token ahead of expiry. Failures are logged and the loop keeps running.
// The returned function stops the timer and waits for it to exit; it must be
// called on teardown.
func (m *Manager) StartRefreshTimer(interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.tick(ctx)
			}
		}
	}()

	m.logger.Info("token refresh timer started", "interval", interval)

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
			m.logger.Info("token refresh timer stopped")
		})
	}
}

func (m *Manager) tick(ctx context.Context) {
	if !m.refreshDue() {
		return
	}

	m.logger.Debug("refresh timer: access token due for renewal")
	if _, err := m.RefreshAccessToken(ctx); err != nil && ctx.Err() == nil {
		m.logger.Warn("refresh timer: renewal failed", "error", err)
	}
}

// refreshDue is true for a logged in session whose access token has passed
// the early expiry point.
func (m *Manager) refreshDue() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureLoaded()
	return m.state != nil &&
		m.state.RefreshToken != "" &&
		m.state.Expired(m.now())
}
