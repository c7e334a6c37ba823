package session

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"
)

// Cookie & header names the portal uses for its session semantics
const (
	CookieNameRefresh = "ESTSAUTHPERSISTENT"
	CookieNameSession = "sccauth"
	CookieNameCSRF    = "XSRF-TOKEN"

	HeaderNameCSRF = "X-XSRF-TOKEN"
)

// Session represents one authenticated connection to the portal.
// The cookie jar lives inside the HTTP client; the CSRF token is derived from the portal's CSRF cookie and is
// rotated in place whenever the server rotates that cookie.
type Session struct {
	mtx sync.RWMutex

	TenantID  string
	UserAgent string

	portalURL *url.URL
	jar       http.CookieJar
	client    *http.Client

	csrf        string
	refreshedAt time.Time
}

func newSession(portalURL *url.URL, jar http.CookieJar, tenantID, userAgent string) *Session {
	return &Session{
		TenantID:  tenantID,
		UserAgent: userAgent,
		portalURL: portalURL,
		jar:       jar,
		client: &http.Client{
			Jar: jar,
		},
		refreshedAt: time.Now(),
	}
}

// Client returns the HTTP client carrying the session's cookie jar
func (session *Session) Client() *http.Client {
	session.mtx.RLock()
	defer session.mtx.RUnlock()
	return session.client
}

// CSRFToken returns the current anti-forgery token to echo back in the CSRF header
func (session *Session) CSRFToken() string {
	session.mtx.RLock()
	defer session.mtx.RUnlock()
	return session.csrf
}

// RefreshedAt returns the time the session was established or last refreshed
func (session *Session) RefreshedAt() time.Time {
	session.mtx.RLock()
	defer session.mtx.RUnlock()
	return session.refreshedAt
}

// Reset discards the transport-level connection state while preserving the existing cookie values.
// It is used after a call that had to inject one-off custom headers or transport options, to avoid those
// leaking into subsequent unrelated calls.
func (session *Session) Reset() {
	session.mtx.Lock()
	defer session.mtx.Unlock()
	session.client.CloseIdleConnections()
	session.client = &http.Client{
		Jar:     session.jar,
		Timeout: session.client.Timeout,
	}
}

// cookieValue reads a cookie currently stored for the portal origin
func (session *Session) cookieValue(name string) string {
	for _, cookie := range session.jar.Cookies(session.portalURL) {
		if cookie.Name == name {
			return cookie.Value
		}
	}
	return ""
}

// setCSRF stores the URL-decoded value of the portal's CSRF cookie as the current header token.
// It reports whether the token actually changed.
func (session *Session) setCSRF(rawCookieValue string) bool {
	decoded, err := url.QueryUnescape(rawCookieValue)
	if err != nil {
		decoded = rawCookieValue
	}
	session.mtx.Lock()
	defer session.mtx.Unlock()
	changed := session.csrf != decoded
	session.csrf = decoded
	session.refreshedAt = time.Now()
	return changed
}

// newJar creates a fresh cookie jar; cookiejar.New never fails with a nil options value
func newJar() http.CookieJar {
	jar, _ := cookiejar.New(nil)
	return jar
}
