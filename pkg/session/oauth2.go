package session

import (
	"context"

	"golang.org/x/oauth2"
)

type tokenSource struct {
	ctx     context.Context
	manager *Manager
}

// TokenSource adapts the manager for use with golang.org/x/oauth2 clients.
// Every Token call goes through EnsureValidAccessToken.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, manager: m}
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	accessToken, err := ts.manager.EnsureValidAccessToken(ts.ctx)
	if err != nil {
		return nil, err
	}

	token := &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		Expiry:      ts.manager.now(),
	}
	if state, ok := ts.manager.State(); ok && state.AccessToken == accessToken {
		token.Expiry = state.ExpiresAt.Add(-EarlyExpiry)
	}
	return token, nil
}
