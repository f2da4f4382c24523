package session

import (
	"fmt"
	"time"
)

// EarlyExpiry is how long before its literal expiry an access token is
// already treated as expired.
const EarlyExpiry = 5 * time.Minute

// TokenPair is the credential material returned by login, registration, or
// refresh. ExpiresIn is the access token lifetime in seconds from issue.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

func (p TokenPair) validate() error {
	if p.AccessToken == "" {
		return fmt.Errorf("%w: missing access token", ErrInvalidTokenPair)
	}
	if p.RefreshToken == "" {
		return fmt.Errorf("%w: missing refresh token", ErrInvalidTokenPair)
	}
	if p.ExpiresIn < 0 {
		return fmt.Errorf("%w: negative lifetime %d", ErrInvalidTokenPair, p.ExpiresIn)
	}
	return nil
}

// State is the manager's authoritative record of the current session.
type State struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// expiresAt is kept at millisecond precision, the precision it is persisted
// with, so a reload of our own write compares equal.
func newState(pair TokenPair, now time.Time) *State {
	return &State{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(pair.ExpiresIn) * time.Second).Truncate(time.Millisecond),
	}
}

// Expired applies the early expiry rule.
func (s *State) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt.Add(-EarlyExpiry))
}

func (s *State) Remaining(now time.Time) time.Duration {
	remaining := s.ExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (s *State) RemainingSeconds(now time.Time) int64 {
	return int64(s.Remaining(now) / time.Second)
}

func sameState(a, b *State) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.AccessToken == b.AccessToken &&
		a.RefreshToken == b.RefreshToken &&
		a.ExpiresAt.Equal(b.ExpiresAt)
}
