package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrSessionExpired is returned when a request needed a renewal and the
	// renewal ended the session. The user has to log in again.
	ErrSessionExpired = errors.New("session expired")
	ErrBadResponse    = errors.New("bad response")
)

// APIError is a non-success response. Status is the HTTP status and Code the
// envelope's business code.
type APIError struct {
	Status  int
	Code    int
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("api error: %d: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Unauthorized reports whether the response rejected the caller's
// credentials.
func (e *APIError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Code == http.StatusUnauthorized
}

func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Unauthorized()
}
