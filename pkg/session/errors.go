package session

import (
	"errors"
)

var (
	ErrNoRefreshToken   = errors.New("no refresh token available")
	ErrRefreshRejected  = errors.New("refresh token rejected")
	ErrRefreshNetwork   = errors.New("refresh request failed")
	ErrSessionExpired   = errors.New("session expired")
	ErrPersist          = errors.New("failed to persist tokens")
	ErrInvalidTokenPair = errors.New("invalid token pair")
)

// ReloginRequired reports whether err ended the session. Callers should send
// the user back through login rather than retry.
func ReloginRequired(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}
