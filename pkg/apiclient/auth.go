package apiclient

import (
	"context"
	"fmt"
	"net/http"

	"git.sr.ht/~jakintosh/renew/pkg/session"
)

const (
	loginPath    = "/api/auth/login"
	registerPath = "/api/auth/register"
	logoutPath   = "/api/auth/logout"
	userInfoPath = "/api/auth/user-info"
)

type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
	Nickname string `json:"nickname,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// authData is the data the login, register and refresh endpoints return.
type authData struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresIn    int64     `json:"expiresIn"`
	UserInfo     *UserInfo `json:"userInfo"`
}

func (d authData) pair() session.TokenPair {
	return session.TokenPair{
		AccessToken:  d.Token,
		RefreshToken: d.RefreshToken,
		ExpiresIn:    d.ExpiresIn,
	}
}

// Login authenticates and installs the returned tokens in the session.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*UserInfo, error) {
	return c.authenticate(ctx, loginPath, req)
}

// Register creates an account and installs the returned tokens in the
// session.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*UserInfo, error) {
	return c.authenticate(ctx, registerPath, req)
}

func (c *Client) authenticate(
	ctx context.Context,
	path string,
	req any,
) (
	*UserInfo,
	error,
) {
	var data authData
	if err := c.Do(ctx, http.MethodPost, path, req, &data, SkipAuth()); err != nil {
		return nil, err
	}
	if err := c.session.SetTokens(data.pair()); err != nil {
		return nil, fmt.Errorf("couldn't install session: %w", err)
	}
	return data.UserInfo, nil
}

// Logout revokes the refresh token at the server when it can and always
// clears the local session.
func (c *Client) Logout(ctx context.Context) error {
	if state, ok := c.session.State(); ok {
		err := c.Do(ctx, http.MethodPost, logoutPath, refreshRequest{RefreshToken: state.RefreshToken}, nil, SkipAuth())
		if err != nil {
			c.logger.Warn("server logout failed, clearing local session anyway", "error", err)
		}
	}
	return c.session.ClearTokens()
}

func (c *Client) UserInfo(ctx context.Context) (*UserInfo, error) {
	var user UserInfo
	if err := c.Get(ctx, userInfoPath, &user); err != nil {
		return nil, err
	}
	return &user, nil
}
