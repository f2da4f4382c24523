// Package apiclient is the HTTP client that talks to the backend on behalf of
// a session.Manager. Every request carries a valid bearer token; a 401 leads
// to one renewal and one retry.
package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"git.sr.ht/~jakintosh/renew/pkg/session"
)

// Client sends authenticated requests. Construct with New.
type Client struct {
	*transport
	session *session.Manager
}

func New(
	baseURL string,
	manager *session.Manager,
	opts ...Option,
) *Client {
	return &Client{
		transport: newTransport(baseURL, opts),
		session:   manager,
	}
}

func (c *Client) Session() *session.Manager {
	return c.session
}

type requestOptions struct {
	skipAuth bool
}

type RequestOption func(*requestOptions)

// SkipAuth sends the request without a bearer token and without renewal.
func SkipAuth() RequestOption {
	return func(o *requestOptions) { o.skipAuth = true }
}

// Do sends body as JSON to path and decodes the envelope's data into out.
func (c *Client) Do(
	ctx context.Context,
	method string,
	path string,
	body any,
	out any,
	opts ...RequestOption,
) error {
	var ro requestOptions
	for _, opt := range opts {
		opt(&ro)
	}

	raw, err := encodeBody(body)
	if err != nil {
		return err
	}

	if ro.skipAuth {
		return c.send(ctx, method, path, raw, "", out)
	}

	token, err := c.session.EnsureValidAccessToken(ctx)
	if err != nil {
		return c.renewalFailed(err)
	}

	err = c.send(ctx, method, path, raw, token, out)
	if !IsUnauthorized(err) {
		return err
	}

	// one renewal and one retry; a second 401 goes back to the caller
	c.logger.Info("request unauthorized, renewing access token", "method", method, "path", path)
	token, err = c.session.RefreshAccessToken(ctx)
	if err != nil {
		return c.renewalFailed(err)
	}
	return c.send(ctx, method, path, raw, token, out)
}

func (c *Client) renewalFailed(err error) error {
	if session.ReloginRequired(err) {
		return fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}
	return err
}

func (c *Client) Get(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodGet, path, nil, out, opts...)
}

func (c *Client) Post(ctx context.Context, path string, body any, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodPost, path, body, out, opts...)
}

func (c *Client) Put(ctx context.Context, path string, body any, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodPut, path, body, out, opts...)
}

func (c *Client) Patch(ctx context.Context, path string, body any, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodPatch, path, body, out, opts...)
}

func (c *Client) Delete(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodDelete, path, nil, out, opts...)
}

// SessionExpired reports whether err means the user must log in again.
func SessionExpired(err error) bool {
	return errors.Is(err, ErrSessionExpired) || session.ReloginRequired(err)
}
