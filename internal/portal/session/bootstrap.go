package session

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/xdrportal/xdrportal/internal/random"
)

// portalClientID is the well-known public application ID the portal itself authenticates under
const portalClientID = "80ccca67-54bd-44ab-8625-4b79c4dc7775"

// maxResumeSteps bounds the conditional follow-up redirects the provider may require.
// The flow has been observed to need at most two of them.
const maxResumeSteps = 2

var (
	hiddenInputPattern = regexp.MustCompile(`<input[^>]*\bname="([^"]+)"[^>]*\bvalue="([^"]*)"`)
	formActionPattern  = regexp.MustCompile(`<form[^>]*\baction="([^"]+)"`)
)

// BootstrapFromCookie performs the multi-step redirect-following exchange that converts a long-lived
// identity provider cookie into the portal's short-lived session cookie plus CSRF token.
//
// The exact sequence is reverse-engineered against an undocumented, versioned web portal and is treated
// as a best-effort external-protocol adapter: an initial authorize request establishes provider session
// state with the injected cookie, up to two intermediate JSON responses carrying a resume URL are
// followed, the hidden form fields of the final provider response (authorization code, ID token, state,
// session state, correlation ID) are extracted and POSTed to the portal, which answers with its session
// cookies.
//
// On success the previous cache contents are cleared (a fresh authentication invalidates all previously
// cached tenant-scoped data) and, if a tenant ID was supplied, it is re-cached with a long TTL.
// On failure at any step an AuthenticationError carrying the provider's own description is returned and
// no partially-initialized session is kept.
func (manager *Manager) BootstrapFromCookie(ctx context.Context, refreshCookie, tenantID string) (*Session, error) {
	if refreshCookie == "" {
		return nil, &AuthenticationError{Description: "the long-lived authentication cookie value is required"}
	}

	portalURL, err := url.Parse(manager.portalBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse portal base URL: %w", err)
	}
	identityURL, err := url.Parse(manager.identityBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse identity base URL: %w", err)
	}

	jar := newJar()
	jar.SetCookies(identityURL, []*http.Cookie{
		{Name: CookieNameRefresh, Value: refreshCookie},
	})
	client := &http.Client{Jar: jar}

	// Step 1: start the authorization flow at the provider; the injected long-lived cookie stands in
	// for interactive login
	body, err := manager.exchangeGet(ctx, client, authorizeURL(manager.identityBaseURL, manager.portalBaseURL, tenantID))
	if err != nil {
		return nil, err
	}

	// Steps 2..n: the portal may answer with an intermediate JSON blob containing a resume URL
	for i := 0; i < maxResumeSteps; i++ {
		resumeURL, ok, err := parseResume(body, identityURL)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		body, err = manager.exchangeGet(ctx, client, resumeURL)
		if err != nil {
			return nil, err
		}
	}

	// The final provider response carries the exchange material as hidden form fields
	fields := parseHiddenFields(body)
	if desc := fields["error_description"]; desc != "" {
		return nil, &AuthenticationError{Description: desc}
	}
	if fields["code"] == "" {
		return nil, &AuthenticationError{Description: "the provider response did not contain an authorization code"}
	}

	form := url.Values{}
	for _, name := range []string{"code", "id_token", "state", "session_state", "correlation_id"} {
		if value := fields[name]; value != "" {
			form.Set(name, value)
		}
	}

	// Exchange the form material for the portal's session cookies
	target := portalURL.String() + "/"
	if action, ok := parseFormAction(body, portalURL); ok {
		target = action
	}
	if err := manager.exchangePost(ctx, client, target, form); err != nil {
		return nil, err
	}

	sess := newSession(portalURL, jar, tenantID, manager.userAgent)
	if sess.cookieValue(CookieNameSession) == "" {
		return nil, &AuthenticationError{Description: "the portal did not issue a session cookie"}
	}
	rawCSRF := sess.cookieValue(CookieNameCSRF)
	if rawCSRF == "" {
		return nil, &AuthenticationError{Description: "the portal did not issue a CSRF cookie"}
	}
	sess.setCSRF(rawCSRF)

	manager.cache.ClearAll()
	manager.adopt(ctx, sess)
	return sess, nil
}

// exchangeGet performs one GET of the exchange and returns the (redirect-followed) response body
func (manager *Manager) exchangeGet(ctx context.Context, client *http.Client, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("build exchange request: %w", err)
	}
	req.Header.Set("User-Agent", manager.userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("cookie exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read exchange response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", &AuthenticationError{Description: fmt.Sprintf("the identity provider returned status %d", resp.StatusCode)}
	}
	return string(body), nil
}

// exchangePost performs the final form POST of the exchange
func (manager *Manager) exchangePost(ctx context.Context, client *http.Client, target string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build exchange request: %w", err)
	}
	req.Header.Set("User-Agent", manager.userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("cookie exchange request failed: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &AuthenticationError{Description: fmt.Sprintf("the portal rejected the authorization code exchange with status %d", resp.StatusCode)}
	}
	return nil
}

// authorizeURL builds the provider's authorization endpoint URL the flow starts at
func authorizeURL(identityBase, portalBase, tenantID string) string {
	segment := "common"
	if tenantID != "" {
		segment = tenantID
	}

	query := url.Values{}
	query.Set("client_id", portalClientID)
	query.Set("response_type", "code id_token")
	query.Set("response_mode", "form_post")
	query.Set("redirect_uri", portalBase+"/")
	query.Set("scope", "openid profile")
	query.Set("state", random.String(16, random.CharsetAlphanumeric))
	query.Set("nonce", random.String(16, random.CharsetAlphanumeric))
	query.Set("client-request-id", uuid.NewString())

	return identityBase + "/" + segment + "/oauth2/v2.0/authorize?" + query.Encode()
}

// parseResume recognizes the provider's intermediate JSON responses and resolves the contained resume URL
func parseResume(body string, base *url.URL) (string, bool, error) {
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(trimmed, "{") {
		return "", false, nil
	}

	var intermediate struct {
		ResumeURL        string `json:"resumeUrl"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal([]byte(trimmed), &intermediate); err != nil {
		return "", false, nil
	}
	if intermediate.ErrorDescription != "" {
		return "", false, &AuthenticationError{Description: intermediate.ErrorDescription}
	}
	if intermediate.Error != "" {
		return "", false, &AuthenticationError{Description: intermediate.Error}
	}
	if intermediate.ResumeURL == "" {
		return "", false, &AuthenticationError{Description: "the provider's intermediate response did not contain a resume URL"}
	}

	resolved, err := base.Parse(intermediate.ResumeURL)
	if err != nil {
		return "", false, &AuthenticationError{Description: fmt.Sprintf("the provider returned an unusable resume URL: %s", intermediate.ResumeURL)}
	}
	return resolved.String(), true, nil
}

// parseHiddenFields extracts the hidden input fields of the provider's final HTML response
func parseHiddenFields(body string) map[string]string {
	fields := map[string]string{}
	for _, match := range hiddenInputPattern.FindAllStringSubmatch(body, -1) {
		fields[match[1]] = html.UnescapeString(match[2])
	}
	return fields
}

// parseFormAction extracts and resolves the action target of the provider's final form
func parseFormAction(body string, base *url.URL) (string, bool) {
	match := formActionPattern.FindStringSubmatch(body)
	if match == nil {
		return "", false
	}
	resolved, err := base.Parse(html.UnescapeString(match[1]))
	if err != nil {
		return "", false
	}
	return resolved.String(), true
}
