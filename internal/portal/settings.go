package portal

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/xdrportal/xdrportal/internal/cache"
)

const (
	advancedFeaturesGetPath  = "/apiproxy/mtp/settings/GetAdvancedFeaturesSetting"
	advancedFeaturesSavePath = "/apiproxy/mtp/settings/SaveAdvancedFeaturesSetting"
)

const cacheNameAdvancedFeatures = "advancedFeatures"

// AdvancedFeatures represents the tenant's advanced feature toggles.
// Extra carries the toggles this client does not model so a read-modify-write round trip never drops
// settings the portal added since.
type AdvancedFeatures struct {
	AutomatedInvestigation bool `json:"automatedInvestigation"`
	LiveResponse           bool `json:"liveResponse"`
	TamperProtection       bool `json:"tamperProtection"`
	WebCategories          bool `json:"webCategoriesEnabled"`
	EDRBlockMode           bool `json:"enableWdavPassiveModeRemediation"`

	Extra map[string]any `json:"-"`
}

var advancedFeatureKeys = []string{
	"automatedInvestigation",
	"liveResponse",
	"tamperProtection",
	"webCategoriesEnabled",
	"enableWdavPassiveModeRemediation",
}

// UnmarshalJSON decodes the typed toggles and keeps every unknown field in Extra
func (features *AdvancedFeatures) UnmarshalJSON(data []byte) error {
	type plain AdvancedFeatures
	if err := json.Unmarshal(data, (*plain)(features)); err != nil {
		return err
	}
	if err := json.Unmarshal(data, &features.Extra); err != nil {
		return err
	}
	for _, key := range advancedFeatureKeys {
		delete(features.Extra, key)
	}
	return nil
}

// MarshalJSON re-serializes the typed toggles together with the untouched unknown fields
func (features *AdvancedFeatures) MarshalJSON() ([]byte, error) {
	merged := make(map[string]any, len(features.Extra)+len(advancedFeatureKeys))
	for key, value := range features.Extra {
		merged[key] = value
	}
	merged["automatedInvestigation"] = features.AutomatedInvestigation
	merged["liveResponse"] = features.LiveResponse
	merged["tamperProtection"] = features.TamperProtection
	merged["webCategoriesEnabled"] = features.WebCategories
	merged["enableWdavPassiveModeRemediation"] = features.EDRBlockMode
	return json.Marshal(merged)
}

// AdvancedFeatures retrieves the tenant's advanced feature settings, cached for 30 minutes
func (client *Client) AdvancedFeatures(ctx context.Context) (*AdvancedFeatures, error) {
	return call[*AdvancedFeatures](ctx, client, requestOptions{
		Path:      advancedFeaturesGetPath,
		CacheName: cacheNameAdvancedFeatures,
		TTL:       30 * time.Minute,
	})
}

// SaveAdvancedFeatures writes the tenant's advanced feature settings and invalidates the cached entry
// so the next read is forced fresh
func (client *Client) SaveAdvancedFeatures(ctx context.Context, settings *AdvancedFeatures) error {
	_, err := call[struct{}](ctx, client, requestOptions{
		Method: http.MethodPost,
		Path:   advancedFeaturesSavePath,
		Body:   settings,
	})
	if err != nil {
		return err
	}
	client.cache.Clear(cache.Key{TenantID: client.sessions.CurrentTenantID(), Name: cacheNameAdvancedFeatures})
	return nil
}
