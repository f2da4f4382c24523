// Package authserver is a small backend for the auth endpoints the client
// consumes: register, login, refresh-token, logout and user-info. It issues
// HS256 access tokens and single use refresh tokens.
package authserver

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountExists      = errors.New("account already exists")
	ErrAccountNotFound    = errors.New("account not found")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrTokenInvalid       = errors.New("token invalid")
	ErrTokenNotFound      = errors.New("token not found")
	ErrInternal           = errors.New("internal error")
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 72 * time.Hour
)

// PasswordMode controls bcrypt cost for password hashing.
type PasswordMode int

const (
	PasswordModeProduction PasswordMode = iota
	// PasswordModeTesting uses bcrypt.MinCost. It panics outside of go test.
	PasswordModeTesting
)

func (m PasswordMode) Cost() int {
	switch m {
	case PasswordModeTesting:
		if !testing.Testing() {
			panic("authserver: PasswordModeTesting used outside of test environment")
		}
		return bcrypt.MinCost
	default:
		return bcrypt.DefaultCost
	}
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithTokenLifetimes(access, refresh time.Duration) Option {
	return func(s *Service) {
		s.accessTTL = access
		s.refreshTTL = refresh
	}
}

func WithPasswordMode(mode PasswordMode) Option {
	return func(s *Service) { s.passwordMode = mode }
}

// Service coordinates registration, login and token operations, delegating
// persistence to its stores.
type Service struct {
	accounts     AccountStore
	refresh      RefreshStore
	issuer       *Issuer
	accessTTL    time.Duration
	refreshTTL   time.Duration
	passwordMode PasswordMode
	now          func() time.Time
	logger       *slog.Logger

	refreshCalls atomic.Int64
}

func New(
	accounts AccountStore,
	refresh RefreshStore,
	signingKey []byte,
	issuerDomain string,
	opts ...Option,
) *Service {
	s := &Service{
		accounts:   accounts,
		refresh:    refresh,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.issuer = NewIssuer(signingKey, issuerDomain, s.now)
	return s
}

// RefreshCalls counts refresh-token exchanges attempted against the service.
func (s *Service) RefreshCalls() int64 {
	return s.refreshCalls.Load()
}

func (s *Service) Issuer() *Issuer {
	return s.issuer
}
