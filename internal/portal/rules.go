package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/xdrportal/xdrportal/internal/cache"
)

const rulesPath = "/apiproxy/mtp/huntingService/rules"

const cacheNameRules = "customDetectionRules"

// DetectionRule represents a custom detection rule as managed by the hunting service
type DetectionRule struct {
	ID          json.Number     `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Severity    string          `json:"severity"`
	Enabled     bool            `json:"isEnabled"`
	QueryText   string          `json:"queryText"`
	Schedule    string          `json:"intervalHours"`
	LastRunTime string          `json:"lastRunTime"`
	Raw         json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the untouched payload next to the typed fields
func (rule *DetectionRule) UnmarshalJSON(data []byte) error {
	type plain DetectionRule
	if err := json.Unmarshal(data, (*plain)(rule)); err != nil {
		return err
	}
	rule.Raw = append(json.RawMessage(nil), data...)
	return nil
}

type rulesPage struct {
	Items []DetectionRule `json:"items"`
}

// Rules retrieves the custom detection rules, cached for 30 minutes
func (client *Client) Rules(ctx context.Context) ([]DetectionRule, error) {
	page, err := call[rulesPage](ctx, client, requestOptions{
		Path:      rulesPath + "?pageSize=1000",
		CacheName: cacheNameRules,
		TTL:       30 * time.Minute,
	})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// RuleChange describes the writable fields of a custom detection rule
type RuleChange struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Enabled     bool   `json:"isEnabled"`
	QueryText   string `json:"queryText"`
	Schedule    string `json:"intervalHours"`
}

// CreateRule creates a new custom detection rule and invalidates the cached rule listing
func (client *Client) CreateRule(ctx context.Context, change RuleChange) (*DetectionRule, error) {
	rule, err := call[*DetectionRule](ctx, client, requestOptions{
		Method: http.MethodPost,
		Path:   rulesPath,
		Body:   change,
	})
	if err != nil {
		return nil, err
	}
	client.invalidateRules()
	return rule, nil
}

// UpdateRule updates an existing custom detection rule and invalidates the cached rule listing
func (client *Client) UpdateRule(ctx context.Context, id string, change RuleChange) (*DetectionRule, error) {
	rule, err := call[*DetectionRule](ctx, client, requestOptions{
		Method: http.MethodPut,
		Path:   fmt.Sprintf("%s/%s", rulesPath, id),
		Body:   change,
	})
	if err != nil {
		return nil, err
	}
	client.invalidateRules()
	return rule, nil
}

// DeleteRule deletes a custom detection rule by its ID and invalidates the cached rule listing
func (client *Client) DeleteRule(ctx context.Context, id string) error {
	_, err := call[struct{}](ctx, client, requestOptions{
		Method: http.MethodDelete,
		Path:   fmt.Sprintf("%s/%s", rulesPath, id),
	})
	if err != nil {
		return err
	}
	client.invalidateRules()
	return nil
}

func (client *Client) invalidateRules() {
	client.cache.Clear(cache.Key{TenantID: client.sessions.CurrentTenantID(), Name: cacheNameRules})
}
