package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// flight is one renewal shared by every caller that asked for it while it
// was running. token and err are written before done is closed.
type flight struct {
	done         chan struct{}
	epoch        uint64
	refreshToken string
	token        string
	err          error
}

func (f *flight) wait(ctx context.Context) (string, error) {
	select {
	case <-f.done:
		return f.token, f.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// RefreshAccessToken renews the access token. Concurrent callers share a
// single call to the Exchanger and all observe its outcome. Cancelling ctx
// abandons the caller's wait but never the renewal itself.
//
// Errors that end the session wrap ErrSessionExpired; see ReloginRequired.
func (m *Manager) RefreshAccessToken(ctx context.Context) (string, error) {
	return m.refresh(ctx, false)
}

// EnsureValidAccessToken returns the current access token when it passes the
// early expiry rule, and renews it otherwise.
func (m *Manager) EnsureValidAccessToken(ctx context.Context) (string, error) {
	return m.refresh(ctx, true)
}

func (m *Manager) refresh(ctx context.Context, reuseValid bool) (string, error) {
	m.mu.Lock()
	if f := m.flight; f != nil {
		m.mu.Unlock()
		m.metrics.coalesced()
		m.logger.Debug("waiting for in-flight token refresh")
		return f.wait(ctx)
	}

	m.ensureLoaded()
	if reuseValid && m.validLocked() {
		token := m.state.AccessToken
		m.mu.Unlock()
		return token, nil
	}

	if m.state == nil || m.state.RefreshToken == "" {
		cleared, clearErr := m.erase()
		var event Event
		if cleared {
			event = m.eventLocked(false, ReasonRefreshFailed)
		}
		notify := m.claimExpired()
		m.mu.Unlock()

		if clearErr != nil {
			m.logger.Warn("couldn't clear session", "error", clearErr)
		}
		if cleared {
			m.publish(event)
		}
		m.metrics.refreshed(outcomeNoRefreshToken, 0)
		err := fmt.Errorf("%w: %w", ErrSessionExpired, ErrNoRefreshToken)
		if notify {
			m.sessionExpired(err)
		}
		return "", err
	}

	f := &flight{
		done:         make(chan struct{}),
		epoch:        m.epoch,
		refreshToken: m.state.RefreshToken,
	}
	m.flight = f
	m.mu.Unlock()

	m.logger.Debug("refreshing access token")
	go m.run(context.WithoutCancel(ctx), f)
	return f.wait(ctx)
}

func (m *Manager) run(ctx context.Context, f *flight) {
	started := time.Now()

	var (
		pair TokenPair
		err  error
	)
	defer func() {
		if r := recover(); r != nil {
			pair = TokenPair{}
			err = fmt.Errorf("%w: exchanger panicked: %v", ErrRefreshNetwork, r)
		}
		m.complete(f, pair, err, time.Since(started))
	}()

	pair, err = m.exchanger.ExchangeRefreshToken(ctx, f.refreshToken)
	if err == nil {
		if verr := pair.validate(); verr != nil {
			err = fmt.Errorf("%w: %v", ErrRefreshNetwork, verr)
		}
	}
}

func (m *Manager) complete(
	f *flight,
	pair TokenPair,
	err error,
	elapsed time.Duration,
) {
	var (
		event   *Event
		expired error
		outcome string
	)

	m.mu.Lock()
	switch {
	case m.epoch != f.epoch:
		// the session was replaced or cleared while the exchange ran
		outcome = outcomeSuperseded
		if m.state != nil {
			f.token = m.state.AccessToken
		} else {
			f.err = fmt.Errorf("%w: session ended during refresh", ErrSessionExpired)
		}

	case err == nil:
		outcome = outcomeSuccess
		if perr := m.install(pair); perr != nil {
			m.logger.Warn("refreshed tokens not persisted", "error", perr)
		}
		f.token = pair.AccessToken
		ev := m.eventLocked(true, ReasonRefreshed)
		event = &ev

	case errors.Is(err, ErrRefreshNetwork) && m.policy == KeepSessionOnNetworkFailure:
		outcome = outcomeNetwork
		f.err = err

	case m.adoptRotated(f.refreshToken):
		// another process spent the token first and stored its result
		outcome = outcomeAdopted
		f.token = m.state.AccessToken
		ev := m.eventLocked(m.validLocked(), ReasonReloaded)
		event = &ev

	default:
		outcome = classify(err)
		cleared, clearErr := m.erase()
		if clearErr != nil {
			m.logger.Warn("couldn't clear session", "error", clearErr)
		}
		if cleared {
			ev := m.eventLocked(false, ReasonRefreshFailed)
			event = &ev
		}
		f.err = fmt.Errorf("%w: %w", ErrSessionExpired, err)
		if m.claimExpired() {
			expired = f.err
		}
	}
	m.flight = nil
	m.mu.Unlock()

	m.metrics.refreshed(outcome, elapsed)
	if f.err != nil {
		m.logger.Warn("token refresh failed", "outcome", outcome, "error", f.err, "duration", elapsed)
	} else {
		m.logger.Info("token refresh complete", "outcome", outcome, "duration", elapsed)
	}

	if event != nil {
		m.publish(*event)
	}
	if expired != nil {
		m.sessionExpired(expired)
	}
	close(f.done)
}

// claimExpired reports whether the expired handler should run for the
// session that just ended. It must be called with mu held.
func (m *Manager) claimExpired() bool {
	if m.expiredSent {
		return false
	}
	m.expiredSent = true
	return true
}

func (m *Manager) sessionExpired(err error) {
	if m.onExpired != nil {
		m.onExpired(err)
	}
}

func classify(err error) string {
	switch {
	case errors.Is(err, ErrRefreshRejected):
		return outcomeRejected
	case errors.Is(err, ErrRefreshNetwork):
		return outcomeNetwork
	default:
		return outcomeError
	}
}
