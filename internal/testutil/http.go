package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"git.sr.ht/~jakintosh/renew/internal/authserver"
)

// HTTPResult captures HTTP response details for test assertions
type HTTPResult struct {
	Code     int
	Error    error
	Headers  http.Header
	Body     []byte
	Envelope authserver.Envelope
}

// Header represents an HTTP header key-value pair
type Header struct {
	Key   string
	Value string
}

func ContentTypeJSON() Header {
	return Header{
		Key:   "Content-Type",
		Value: "application/json",
	}
}

func Bearer(token string) Header {
	return Header{
		Key:   "Authorization",
		Value: "Bearer " + token,
	}
}

// ExpectStatus validates the HTTP status code and fails the test if it doesn't match
func ExpectStatus(
	t *testing.T,
	expected int,
	result HTTPResult,
) {
	t.Helper()
	if result.Error != nil {
		t.Fatalf("request error: %v", result.Error)
	}
	if result.Code != expected {
		t.Fatalf("expected status %d, got %d. Body: %s", expected, result.Code, string(result.Body))
	}
	if result.Envelope.Code != expected {
		t.Fatalf("expected envelope code %d, got %d", expected, result.Envelope.Code)
	}
}

// Get performs a GET request and decodes the envelope, and its data into
// response when non-nil.
func Get(
	router http.Handler,
	url string,
	response any,
	headers ...Header,
) HTTPResult {
	req := httptest.NewRequest(http.MethodGet, url, nil)
	return serve(router, req, response, headers)
}

// Post performs a POST request and decodes the envelope, and its data into
// response when non-nil.
func Post(
	router http.Handler,
	url string,
	body string,
	response any,
	headers ...Header,
) HTTPResult {
	req := httptest.NewRequest(http.MethodPost, url, strings.NewReader(body))
	return serve(router, req, response, headers)
}

// PostJSON performs a POST with JSON body
func PostJSON(
	router http.Handler,
	urlPath string,
	body string,
	response any,
) HTTPResult {
	return Post(router, urlPath, body, response, ContentTypeJSON())
}

func serve(
	router http.Handler,
	req *http.Request,
	response any,
	headers []Header,
) HTTPResult {
	res := httptest.NewRecorder()
	for _, h := range headers {
		req.Header.Set(h.Key, h.Value)
	}
	router.ServeHTTP(res, req)

	result := HTTPResult{Code: res.Code, Headers: res.Header(), Body: res.Body.Bytes()}
	if res.Body.Len() == 0 {
		return result
	}

	if err := json.Unmarshal(res.Body.Bytes(), &result.Envelope); err != nil {
		result.Error = fmt.Errorf("failed to decode envelope: %v\n%s", err, res.Body.String())
		return result
	}
	if response != nil && len(result.Envelope.Data) > 0 {
		if err := json.Unmarshal(result.Envelope.Data, response); err != nil {
			result.Error = fmt.Errorf("failed to decode data: %v\n%s", err, res.Body.String())
		}
	}
	return result
}
