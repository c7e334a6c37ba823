package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/xdrportal/xdrportal/internal/cache"
	"github.com/xdrportal/xdrportal/internal/config"
)

// Cache entry names owned by the session manager
const (
	CacheNameCSRF   = "csrfToken"
	CacheNameTenant = "tenantId"
)

const (
	csrfTTL   = 5 * time.Minute
	tenantTTL = 24 * time.Hour
)

const tenantContextPath = "/apiproxy/mtp/k8s/mgmt/TenantContext"

// Manager establishes and keeps usable an authenticated HTTP session against the portal's origin.
// It owns the current session, the per-tenant registry and the cache entries that gate CSRF refreshes.
type Manager struct {
	mtx sync.RWMutex

	portalBaseURL   string
	identityBaseURL string
	userAgent       string

	cache    *cache.Store
	registry Store

	current *Session
}

// NewManager creates a new session manager on top of the given TTL cache and session registry
func NewManager(cfg *config.Config, cacheStore *cache.Store, registry Store) *Manager {
	return &Manager{
		portalBaseURL:   cfg.PortalBaseURL,
		identityBaseURL: cfg.IdentityBaseURL,
		userAgent:       cfg.UserAgent,
		cache:           cacheStore,
		registry:        registry,
	}
}

// Current returns the currently established session.
// It fails with ErrNoSession if no session has ever been bootstrapped.
func (manager *Manager) Current() (*Session, error) {
	manager.mtx.RLock()
	defer manager.mtx.RUnlock()
	if manager.current == nil {
		return nil, ErrNoSession
	}
	return manager.current, nil
}

// ForTenant retrieves the session registered for a specific tenant ID, or nil if none is registered
func (manager *Manager) ForTenant(ctx context.Context, tenantID string) (*Session, error) {
	record, err := manager.registry.GetByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	return record.Session, nil
}

// FromSessionCookies establishes a session directly from the portal's own session cookie and CSRF cookie,
// as extracted from an already-authenticated browser session. No redirect exchange takes place.
// If tenantID is empty, it is resolved by calling the tenant context endpoint once and cached.
func (manager *Manager) FromSessionCookies(ctx context.Context, sccauth, xsrf, tenantID string) (*Session, error) {
	if sccauth == "" || xsrf == "" {
		return nil, &AuthenticationError{Description: "both the portal session cookie and the CSRF cookie are required"}
	}

	portalURL, err := url.Parse(manager.portalBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse portal base URL: %w", err)
	}

	jar := newJar()
	jar.SetCookies(portalURL, []*http.Cookie{
		{Name: CookieNameSession, Value: sccauth},
		{Name: CookieNameCSRF, Value: xsrf},
	})

	sess := newSession(portalURL, jar, tenantID, manager.userAgent)
	sess.setCSRF(xsrf)

	if tenantID == "" {
		resolved, err := manager.resolveTenantID(ctx, sess)
		if err != nil {
			return nil, err
		}
		sess.TenantID = resolved
	}

	manager.adopt(ctx, sess)
	return sess, nil
}

// Refresh checks whether the cached CSRF token has expired and, if so, re-issues a single GET to the
// portal home page to observe a possible CSRF cookie rotation. It is a no-op while the cached token is
// still fresh. It fails if no session has ever been established.
func (manager *Manager) Refresh(ctx context.Context) error {
	sess, err := manager.Current()
	if err != nil {
		return err
	}

	key := cache.Key{TenantID: sess.TenantID, Name: CacheNameCSRF}
	if _, ok := manager.cache.Lookup(key); ok {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manager.portalBaseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("refresh portal session: %w", err)
	}
	req.Header.Set("User-Agent", sess.UserAgent)

	resp, err := sess.Client().Do(req)
	if err != nil {
		return fmt.Errorf("refresh portal session: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	// The jar has already absorbed a rotated CSRF cookie at this point; re-derive the header token from it
	if raw := sess.cookieValue(CookieNameCSRF); raw != "" {
		sess.setCSRF(raw)
	}
	manager.cache.Set(key, sess.CSRFToken(), csrfTTL)
	manager.register(ctx, sess)
	return nil
}

// Reset discards the current session's transport-level connection state while preserving its cookies
func (manager *Manager) Reset() error {
	sess, err := manager.Current()
	if err != nil {
		return err
	}
	sess.Reset()
	return nil
}

// SweepIdle drops registered sessions that have not been refreshed for the given duration
func (manager *Manager) SweepIdle(ctx context.Context, idleFor time.Duration) (int, error) {
	return manager.registry.DeleteIdle(ctx, time.Now().Add(-idleFor))
}

// CurrentTenantID returns the tenant ID the manager currently operates under, preferring the long-TTL
// cached bootstrap entry over the session's own field
func (manager *Manager) CurrentTenantID() string {
	if cached, ok := manager.cache.Lookup(cache.Key{Name: CacheNameTenant}); ok {
		if id, ok := cached.Value.(string); ok && id != "" {
			return id
		}
	}
	if sess, err := manager.Current(); err == nil {
		return sess.TenantID
	}
	return ""
}

// adopt makes the given session the current one and caches its tenant ID and CSRF token
func (manager *Manager) adopt(ctx context.Context, sess *Session) {
	if sess.TenantID != "" {
		manager.cache.Set(cache.Key{Name: CacheNameTenant}, sess.TenantID, tenantTTL)
	}
	manager.cache.Set(cache.Key{TenantID: sess.TenantID, Name: CacheNameCSRF}, sess.CSRFToken(), csrfTTL)

	manager.mtx.Lock()
	manager.current = sess
	manager.mtx.Unlock()

	manager.register(ctx, sess)
}

// register upserts the session into the per-tenant registry; sessions without a tenant stay unregistered
func (manager *Manager) register(ctx context.Context, sess *Session) {
	if sess.TenantID == "" {
		return
	}
	_ = manager.registry.Put(ctx, &Record{
		TenantID:    sess.TenantID,
		RefreshedAt: sess.RefreshedAt().Unix(),
		Session:     sess,
	})
}

// resolveTenantID fetches the portal's tenant context once to learn the tenant the cookies belong to
func (manager *Manager) resolveTenantID(ctx context.Context, sess *Session) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manager.portalBaseURL+tenantContextPath, nil)
	if err != nil {
		return "", fmt.Errorf("resolve tenant context: %w", err)
	}
	req.Header.Set("User-Agent", sess.UserAgent)
	req.Header.Set(HeaderNameCSRF, sess.CSRFToken())

	resp, err := sess.Client().Do(req)
	if err != nil {
		return "", fmt.Errorf("resolve tenant context: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &AuthenticationError{Description: fmt.Sprintf("tenant context request returned status %d", resp.StatusCode)}
	}

	var tc struct {
		TenantID string `json:"tenantId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tc); err != nil {
		return "", fmt.Errorf("resolve tenant context: %w", err)
	}
	if tc.TenantID == "" {
		return "", &AuthenticationError{Description: "tenant context response did not contain a tenant ID"}
	}
	return tc.TenantID, nil
}
