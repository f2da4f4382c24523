package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultTimeout = 30 * time.Second
	successCode    = http.StatusOK
)

type Option func(*transport)

func WithHTTPClient(client *http.Client) Option {
	return func(t *transport) { t.http = client }
}

// WithTimeout bounds every request, including refresh exchanges.
func WithTimeout(timeout time.Duration) Option {
	return func(t *transport) { t.timeout = timeout }
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *transport) { t.logger = logger }
}

type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// transport sends one JSON request and unwraps the response envelope.
type transport struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

func newTransport(baseURL string, opts []Option) *transport {
	t := &transport{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http.DefaultClient,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// send performs the request. A transport failure is returned as is; a
// response that isn't a success envelope becomes an *APIError.
func (t *transport) send(
	ctx context.Context,
	method string,
	path string,
	body []byte,
	bearer string,
	out any,
) error {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("couldn't build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)

	started := time.Now()
	res, err := t.http.Do(req)
	if err != nil {
		t.logger.Warn("request failed",
			"method", method,
			"path", path,
			"request_id", requestID,
			"error", err,
		)
		return err
	}
	defer res.Body.Close()

	t.logger.Debug("request complete",
		"method", method,
		"path", path,
		"status", res.StatusCode,
		"request_id", requestID,
		"duration", time.Since(started),
	)

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("couldn't read response: %w", err)
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			if res.StatusCode >= 300 {
				return &APIError{Status: res.StatusCode, Code: res.StatusCode}
			}
			return fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
	}

	if res.StatusCode >= 300 || (env.Code != 0 && env.Code != successCode) {
		code := env.Code
		if code == 0 {
			code = res.StatusCode
		}
		return &APIError{Status: res.StatusCode, Code: code, Message: env.Message}
	}

	if out != nil && len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%w: couldn't decode data: %v", ErrBadResponse, err)
		}
	}
	return nil
}

func encodeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	if raw, ok := body.([]byte); ok {
		return raw, nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("couldn't encode request: %w", err)
	}
	return raw, nil
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
