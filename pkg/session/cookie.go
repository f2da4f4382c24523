package session

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/net/publicsuffix"
)

const CookieName = "auth_access_token"

// CookieMirror keeps a copy of the access token where server side checks
// can see it before any client code runs.
type CookieMirror interface {
	Mirror(accessToken string, maxAge time.Duration) error
	Clear() error
}

// JarMirror mirrors the access token into an http.CookieJar for the
// application's origin, path scoped to the whole application.
type JarMirror struct {
	jar  http.CookieJar
	url  *url.URL
	name string
}

func NewCookieJar() (http.CookieJar, error) {
	return cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
}

func NewJarMirror(
	jar http.CookieJar,
	appURL string,
	name string,
) (*JarMirror, error) {
	u, err := url.Parse(appURL)
	if err != nil {
		return nil, fmt.Errorf("invalid application url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid application url: '%s' is not absolute", appURL)
	}
	if name == "" {
		name = CookieName
	}
	return &JarMirror{jar: jar, url: u, name: name}, nil
}

func (j *JarMirror) Mirror(accessToken string, maxAge time.Duration) error {
	seconds := int(maxAge / time.Second)
	if seconds <= 0 {
		// MaxAge 0 means "no max-age" to net/http
		return j.Clear()
	}

	j.jar.SetCookies(j.url, []*http.Cookie{{
		Name:     j.name,
		Value:    accessToken,
		Path:     "/",
		MaxAge:   seconds,
		Secure:   j.url.Scheme == "https",
		SameSite: http.SameSiteStrictMode,
	}})
	return nil
}

func (j *JarMirror) Clear() error {
	j.jar.SetCookies(j.url, []*http.Cookie{{
		Name:   j.name,
		Path:   "/",
		MaxAge: -1,
	}})
	return nil
}
