package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Exchanger trades a refresh token for a new TokenPair. Implementations
// should report a refresh token the backend refused with ErrRefreshRejected
// and transport level failures with ErrRefreshNetwork.
type Exchanger interface {
	ExchangeRefreshToken(ctx context.Context, refreshToken string) (TokenPair, error)
}

type ExchangerFunc func(ctx context.Context, refreshToken string) (TokenPair, error)

func (f ExchangerFunc) ExchangeRefreshToken(ctx context.Context, refreshToken string) (TokenPair, error) {
	return f(ctx, refreshToken)
}

// NetworkFailurePolicy decides what a renewal that failed with
// ErrRefreshNetwork does to the session.
type NetworkFailurePolicy int

const (
	// KeepSessionOnNetworkFailure leaves the tokens in place so a later
	// renewal can try again.
	KeepSessionOnNetworkFailure NetworkFailurePolicy = iota
	// ClearOnNetworkFailure treats every renewal failure as terminal.
	ClearOnNetworkFailure
)

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func WithCookieMirror(mirror CookieMirror) Option {
	return func(m *Manager) { m.cookies = mirror }
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithSessionExpiredHandler registers fn to run once each time a session
// ends because it could not be renewed, typically to send the user to the
// login entry point. Callers that pile up behind an ended session get the
// error without running fn again; installing tokens re-arms it.
func WithSessionExpiredHandler(fn func(error)) Option {
	return func(m *Manager) { m.onExpired = fn }
}

func WithNetworkFailurePolicy(policy NetworkFailurePolicy) Option {
	return func(m *Manager) { m.policy = policy }
}

// Manager owns the token pair of one session. It is safe for concurrent use;
// construct one per process with New.
type Manager struct {
	store     KV
	exchanger Exchanger
	now       func() time.Time
	logger    *slog.Logger
	cookies   CookieMirror
	metrics   *Metrics
	onExpired func(error)
	policy    NetworkFailurePolicy

	mu            sync.Mutex
	state         *State
	loaded        bool
	epoch         uint64
	flight        *flight
	expiredSent   bool
	subscribers   []subscriber
	nextSubID     int
	eventSeq      uint64
	lastPublished uint64
}

func New(
	store KV,
	exchanger Exchanger,
	opts ...Option,
) *Manager {
	m := &Manager{
		store:     store,
		exchanger: exchanger,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AccessToken returns the current access token without checking expiry.
func (m *Manager) AccessToken() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureLoaded()
	if m.state == nil || m.state.AccessToken == "" {
		return "", false
	}
	return m.state.AccessToken, true
}

// IsAuthenticated is true when an access token is present and not expired
// under the early expiry rule.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureLoaded()
	return m.validLocked()
}

func (m *Manager) RemainingSeconds() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureLoaded()
	if m.state == nil {
		return 0
	}
	return m.state.RemainingSeconds(m.now())
}

// State returns a copy of the current session record.
func (m *Manager) State() (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureLoaded()
	if m.state == nil {
		return State{}, false
	}
	return *m.state, true
}

// SetTokens installs a new session, replacing whatever was there. The
// in-memory state is replaced even when persisting fails; the returned error
// then wraps ErrPersist.
func (m *Manager) SetTokens(pair TokenPair) error {
	if err := pair.validate(); err != nil {
		return err
	}

	m.mu.Lock()
	err := m.install(pair)
	event := m.eventLocked(true, ReasonTokensSet)
	m.mu.Unlock()

	m.publish(event)
	return err
}

// ClearTokens removes the session from memory, storage and the cookie
// mirror. Clearing an empty session is a no-op.
func (m *Manager) ClearTokens() error {
	m.mu.Lock()
	m.ensureLoaded()
	cleared, err := m.erase()
	var event Event
	if cleared {
		event = m.eventLocked(false, ReasonCleared)
	}
	m.mu.Unlock()

	if cleared {
		m.publish(event)
	}
	return err
}

// Reload re-reads the session from the store, picking up writes made by
// another process. It does nothing while a renewal is in flight.
func (m *Manager) Reload() error {
	m.mu.Lock()
	if m.flight != nil {
		m.mu.Unlock()
		m.logger.Debug("skipping session reload during refresh")
		return nil
	}

	state, err := loadState(m.store)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("couldn't reload session: %w", err)
	}

	changed := !sameState(m.state, state)
	m.state = state
	m.loaded = true
	var event Event
	if changed {
		m.epoch++
		m.metrics.setAuthenticated(m.validLocked())
		m.mirrorLocked()
		if state != nil {
			m.expiredSent = false
		}
		event = m.eventLocked(m.validLocked(), ReasonReloaded)
	}
	m.mu.Unlock()

	if changed {
		m.logger.Info("session reloaded from store", "authenticated", event.Authenticated)
		m.publish(event)
	}
	return nil
}

func (m *Manager) validLocked() bool {
	return m.state != nil && m.state.AccessToken != "" && !m.state.Expired(m.now())
}

// ensureLoaded must be called with mu held.
func (m *Manager) ensureLoaded() {
	if m.loaded {
		return
	}
	m.loaded = true

	state, err := loadState(m.store)
	if err != nil {
		m.logger.Warn("discarding unreadable stored session", "error", err)
		return
	}
	m.state = state
	if state != nil {
		m.logger.Debug("loaded session from store", "expires_at", state.ExpiresAt)
		m.mirrorLocked()
	}
	m.metrics.setAuthenticated(m.validLocked())
}

// mirrorLocked brings the cookie mirror in line with m.state. It must be
// called with mu held.
func (m *Manager) mirrorLocked() {
	if m.cookies == nil {
		return
	}
	var err error
	if m.state == nil {
		err = m.cookies.Clear()
	} else {
		err = m.cookies.Mirror(m.state.AccessToken, m.state.Remaining(m.now()))
	}
	if err != nil {
		m.logger.Warn("couldn't mirror cookie", "error", err)
	}
}

// adoptRotated installs the stored session when another process has renewed
// it since refreshToken was read, and reports whether it did. It must be
// called with mu held.
func (m *Manager) adoptRotated(refreshToken string) bool {
	stored, err := loadState(m.store)
	if err != nil {
		m.logger.Warn("couldn't re-read session after rejected refresh", "error", err)
		return false
	}
	if stored == nil || stored.RefreshToken == "" || stored.RefreshToken == refreshToken {
		return false
	}

	m.state = stored
	m.loaded = true
	m.epoch++
	m.expiredSent = false
	m.metrics.setAuthenticated(m.validLocked())
	m.mirrorLocked()
	m.logger.Info("adopted session renewed by another process", "expires_at", stored.ExpiresAt)
	return true
}

// install must be called with mu held.
func (m *Manager) install(pair TokenPair) error {
	now := m.now()
	state := newState(pair, now)
	m.state = state
	m.loaded = true
	m.epoch++
	m.expiredSent = false
	m.metrics.setAuthenticated(m.validLocked())

	var errs []error
	if err := persistState(m.store, state); err != nil {
		errs = append(errs, err)
	}
	if m.cookies != nil {
		if err := m.cookies.Mirror(state.AccessToken, state.Remaining(now)); err != nil {
			errs = append(errs, fmt.Errorf("couldn't mirror cookie: %w", err))
		}
	}

	m.logger.Info("tokens set", "expires_at", state.ExpiresAt)
	if len(errs) > 0 {
		err := fmt.Errorf("%w: %w", ErrPersist, errors.Join(errs...))
		m.logger.Warn("session stored in memory only", "error", err)
		return err
	}
	return nil
}

// erase must be called with mu held. It reports whether a session existed.
func (m *Manager) erase() (bool, error) {
	existed := m.state != nil
	m.state = nil
	m.loaded = true
	m.epoch++
	m.metrics.setAuthenticated(false)

	var errs []error
	if err := erasePersisted(m.store); err != nil {
		errs = append(errs, err)
	}
	if m.cookies != nil {
		if err := m.cookies.Clear(); err != nil {
			errs = append(errs, fmt.Errorf("couldn't clear cookie: %w", err))
		}
	}

	if existed {
		m.logger.Info("tokens cleared")
	}
	if len(errs) > 0 {
		return existed, fmt.Errorf("%w: %w", ErrPersist, errors.Join(errs...))
	}
	return existed, nil
}
