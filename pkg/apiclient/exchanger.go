package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"git.sr.ht/~jakintosh/renew/pkg/session"
)

const refreshPath = "/api/auth/refresh-token"

// Exchanger trades refresh tokens at the backend's refresh endpoint. It is
// the session.Exchanger a Manager is built with, and needs no Manager itself.
type Exchanger struct {
	*transport
}

func NewExchanger(baseURL string, opts ...Option) *Exchanger {
	return &Exchanger{transport: newTransport(baseURL, opts)}
}

// ExchangeRefreshToken maps a refused token to session.ErrRefreshRejected
// and anything transport related, timeouts and 5xx included, to
// session.ErrRefreshNetwork.
func (e *Exchanger) ExchangeRefreshToken(
	ctx context.Context,
	refreshToken string,
) (
	session.TokenPair,
	error,
) {
	body, err := encodeBody(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return session.TokenPair{}, err
	}

	var data authData
	err = e.send(ctx, http.MethodPost, refreshPath, body, "", &data)
	if err != nil {
		return session.TokenPair{}, classifyExchangeError(err)
	}
	return data.pair(), nil
}

// classifyExchangeError treats only an explicit refusal of the token as
// final. Every other status, throttling and missing routes included, leaves
// the token usable for a later attempt.
func classifyExchangeError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if refusesToken(apiErr.Status) || refusesToken(apiErr.Code) {
			return fmt.Errorf("%w: %w", session.ErrRefreshRejected, err)
		}
		return fmt.Errorf("%w: %w", session.ErrRefreshNetwork, err)
	}
	if isTimeout(err) {
		return fmt.Errorf("%w: timed out: %w", session.ErrRefreshNetwork, err)
	}
	return fmt.Errorf("%w: %w", session.ErrRefreshNetwork, err)
}

func refusesToken(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}
