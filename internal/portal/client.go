package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xdrportal/xdrportal/internal/cache"
	"github.com/xdrportal/xdrportal/internal/config"
	"github.com/xdrportal/xdrportal/internal/portal/session"
	"github.com/xdrportal/xdrportal/internal/portal/session/store/inmem"
)

// Header names required on authenticated portal calls besides the CSRF header
const (
	headerNameTenantID    = "x-tid"
	headerNameTenantScope = "x-tenant-id"
	headerNameRequestID   = "x-client-request-id"
)

// Client issues authenticated calls against the portal's API-proxy paths.
// It composes the session manager and the TTL cache: every call refreshes the session first, is
// optionally served from the cache, and otherwise goes out with the session's cookies and headers.
type Client struct {
	portalBaseURL string
	mtoBaseURL    string

	cache    *cache.Store
	sessions *session.Manager

	// injectable for the timeline retry/jitter tests
	sleep   func(d time.Duration)
	randInt func(n int) int
}

// New creates a new portal client together with its TTL cache, session registry and session manager
func New(cfg *config.Config) (*Client, error) {
	registry, err := inmem.New()
	if err != nil {
		return nil, err
	}
	store := cache.NewStore()
	return &Client{
		portalBaseURL: cfg.PortalBaseURL,
		mtoBaseURL:    cfg.MTOBaseURL,
		cache:         store,
		sessions:      session.NewManager(cfg, store, registry),
		sleep:         time.Sleep,
		randInt:       rand.Intn,
	}, nil
}

// Sessions exposes the session manager for bootstrap, refresh and reset operations
func (client *Client) Sessions() *session.Manager {
	return client.sessions
}

// Cache exposes the TTL cache, primarily so callers can force the next read of a resource to be fresh
func (client *Client) Cache() *cache.Store {
	return client.cache
}

// requestOptions describes one authenticated portal call as issued by the generic wrapper
type requestOptions struct {
	// Method defaults to GET
	Method string
	// Path is the API-proxy path, joined onto the portal base URL
	Path string
	// Host overrides the portal base URL (multi-tenant fan-out host)
	Host string
	// Body is marshaled to JSON when non-nil
	Body any
	// TenantID overrides the session's tenant headers (multi-tenant fan-out)
	TenantID string
	// Session overrides the current session (multi-tenant fan-out); nil means the current one
	Session *session.Session
	// CacheName enables memoization under the tenant-scoped entry of that name
	CacheName string
	// TTL is the freshness window of the cached entry
	TTL time.Duration
	// BypassCache forces a live call even when a valid cached entry exists
	BypassCache bool
}

// call is the common call shape every domain operation composes: refresh the session, optionally serve
// a cached result, otherwise issue one HTTP request with the current cookies and headers, decode the
// JSON response, optionally cache it and return it.
func call[T any](ctx context.Context, client *Client, opts requestOptions) (T, error) {
	var zero T

	if err := client.sessions.Refresh(ctx); err != nil {
		return zero, err
	}

	key := cache.Key{TenantID: client.tenantID(opts), Name: opts.CacheName}
	if opts.CacheName != "" && !opts.BypassCache {
		if entry, ok := client.cache.Lookup(key); ok {
			if cached, ok := entry.Value.(T); ok {
				return cached, nil
			}
		}
	}

	result, err := doLive[T](ctx, client, opts)
	if err != nil {
		return zero, err
	}

	if opts.CacheName != "" {
		client.cache.Set(key, result, opts.TTL)
	}
	return result, nil
}

// doLive issues the HTTP request itself, without consulting or filling the cache
func doLive[T any](ctx context.Context, client *Client, opts requestOptions) (T, error) {
	var zero T

	sess := opts.Session
	if sess == nil {
		var err error
		sess, err = client.sessions.Current()
		if err != nil {
			return zero, err
		}
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var reqBody io.Reader
	if opts.Body != nil {
		encoded, err := json.Marshal(opts.Body)
		if err != nil {
			return zero, &APICallError{Endpoint: opts.Path, Err: fmt.Errorf("encode request body: %w", err)}
		}
		reqBody = bytes.NewReader(encoded)
	}

	base := client.portalBaseURL
	if opts.Host != "" {
		base = opts.Host
	}
	req, err := http.NewRequestWithContext(ctx, method, base+opts.Path, reqBody)
	if err != nil {
		return zero, &APICallError{Endpoint: opts.Path, Err: err}
	}

	req.Header.Set("User-Agent", sess.UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(session.HeaderNameCSRF, sess.CSRFToken())
	req.Header.Set(headerNameRequestID, uuid.NewString())
	if tenantID := client.tenantID(opts); tenantID != "" {
		req.Header.Set(headerNameTenantID, tenantID)
		req.Header.Set(headerNameTenantScope, tenantID)
	}
	if opts.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := sess.Client().Do(req)
	if err != nil {
		return zero, &APICallError{Endpoint: opts.Path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, &APICallError{Endpoint: opts.Path, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return zero, &APICallError{
			Endpoint:   opts.Path,
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(body))),
		}
	}

	var result T
	if len(bytes.TrimSpace(body)) == 0 {
		return result, nil
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return zero, &APICallError{Endpoint: opts.Path, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response body: %w", err)}
	}
	return result, nil
}

// tenantID resolves the tenant the call is scoped to
func (client *Client) tenantID(opts requestOptions) string {
	if opts.TenantID != "" {
		return opts.TenantID
	}
	return client.sessions.CurrentTenantID()
}
