package session_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"git.sr.ht/~jakintosh/renew/pkg/session"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeExchanger counts exchanges and, when gate is set, holds each one until
// gate is closed.
type fakeExchanger struct {
	calls   atomic.Int32
	gate    chan struct{}
	started chan struct{}
	next    func(refreshToken string, n int32) (session.TokenPair, error)
}

func newFakeExchanger(next func(string, int32) (session.TokenPair, error)) *fakeExchanger {
	return &fakeExchanger{
		next:    next,
		started: make(chan struct{}, 64),
	}
}

func (e *fakeExchanger) ExchangeRefreshToken(ctx context.Context, refreshToken string) (session.TokenPair, error) {
	n := e.calls.Add(1)
	e.started <- struct{}{}
	if e.gate != nil {
		<-e.gate
	}
	return e.next(refreshToken, n)
}

func rotating(expiresIn int64) func(string, int32) (session.TokenPair, error) {
	return func(_ string, n int32) (session.TokenPair, error) {
		return session.TokenPair{
			AccessToken:  "A" + string(rune('1'+n)),
			RefreshToken: "R" + string(rune('1'+n)),
			ExpiresIn:    expiresIn,
		}, nil
	}
}

func failing(err error) func(string, int32) (session.TokenPair, error) {
	return func(string, int32) (session.TokenPair, error) {
		return session.TokenPair{}, err
	}
}

var errBackendDown = errors.New("connection refused")

// singleUseBackend accepts each refresh token once, like a server that
// rotates them, and is shared by managers standing in for separate
// processes.
type singleUseBackend struct {
	mu    sync.Mutex
	valid map[string]bool
	n     int
}

func newSingleUseBackend(refreshTokens ...string) *singleUseBackend {
	b := &singleUseBackend{valid: make(map[string]bool)}
	for _, token := range refreshTokens {
		b.valid[token] = true
	}
	return b
}

func (b *singleUseBackend) ExchangeRefreshToken(_ context.Context, refreshToken string) (session.TokenPair, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.valid[refreshToken] {
		return session.TokenPair{}, fmt.Errorf("%w: refresh token already used", session.ErrRefreshRejected)
	}
	delete(b.valid, refreshToken)
	b.n++
	pair := session.TokenPair{
		AccessToken:  fmt.Sprintf("A%d", b.n+1),
		RefreshToken: fmt.Sprintf("R%d", b.n+1),
		ExpiresIn:    900,
	}
	b.valid[pair.RefreshToken] = true
	return pair, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupManager(
	t *testing.T,
	exchanger session.Exchanger,
	opts ...session.Option,
) (*session.Manager, *session.MemoryStore, *fakeClock) {
	t.Helper()
	store := session.NewMemoryStore()
	clock := newFakeClock()
	opts = append([]session.Option{
		session.WithClock(clock.Now),
		session.WithLogger(discardLogger()),
	}, opts...)
	return session.New(store, exchanger, opts...), store, clock
}

func login(t *testing.T, m *session.Manager, expiresIn int64) {
	t.Helper()
	err := m.SetTokens(session.TokenPair{
		AccessToken:  "A1",
		RefreshToken: "R1",
		ExpiresIn:    expiresIn,
	})
	if err != nil {
		t.Fatalf("SetTokens failed: %v", err)
	}
}

func mustParseInt(t *testing.T, raw string) int64 {
	t.Helper()
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		t.Fatalf("not an integer: %q", raw)
	}
	return n
}
