// Package testutil provides test environment setup and utilities for internal package tests.
package testutil

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"git.sr.ht/~jakintosh/renew/internal/authserver"
	"git.sr.ht/~jakintosh/renew/internal/database"
)

var testSigningKey = []byte("renew-test-signing-key-0123456789")

const TestIssuerDomain = "test.renew.local"

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// TestEnv provides all dependencies needed for testing
type TestEnv struct {
	DB      *database.SQLiteStore
	Service *authserver.Service
	Router  http.Handler
	Server  *httptest.Server
	Clock   *Clock
}

// DiscardLogger drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// SetupTestEnv creates an isolated auth server backed by in-memory SQLite.
// The server's clock starts at the current time and only moves when
// advanced.
func SetupTestEnv(
	t *testing.T,
	opts ...authserver.Option,
) *TestEnv {
	t.Helper()

	db, err := database.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}

	clock := NewClock(time.Now().Truncate(time.Second))
	opts = append([]authserver.Option{
		authserver.WithClock(clock.Now),
		authserver.WithLogger(DiscardLogger()),
		authserver.WithPasswordMode(authserver.PasswordModeTesting),
	}, opts...)

	svc := authserver.New(
		db.AccountStore(),
		db.RefreshStore(),
		testSigningKey,
		TestIssuerDomain,
		opts...,
	)

	t.Cleanup(func() {
		_ = db.Close()
	})

	return &TestEnv{
		DB:      db,
		Service: svc,
		Clock:   clock,
	}
}

// SetupTestEnvWithRouter creates TestEnv and configures the API router
func SetupTestEnvWithRouter(
	t *testing.T,
	opts ...authserver.Option,
) *TestEnv {
	t.Helper()
	env := SetupTestEnv(t, opts...)
	env.Router = authserver.NewAPI(env.Service).Router()
	return env
}

// SetupTestEnvWithServer additionally serves the router over HTTP.
func SetupTestEnvWithServer(
	t *testing.T,
	opts ...authserver.Option,
) *TestEnv {
	t.Helper()
	env := SetupTestEnvWithRouter(t, opts...)
	env.Server = httptest.NewServer(env.Router)
	t.Cleanup(env.Server.Close)
	return env
}

// RegisterTestUser creates a test user and returns its first grant
func (env *TestEnv) RegisterTestUser(
	t *testing.T,
	username string,
	password string,
) *authserver.Grant {
	t.Helper()
	grant, err := env.Service.Register(authserver.Registration{
		Username: username,
		Password: password,
		Email:    username + "@example.com",
	})
	if err != nil {
		t.Fatalf("failed to register test user: %v", err)
	}
	return grant
}
