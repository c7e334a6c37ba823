package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/xdrportal/xdrportal/internal/cache"
)

const alertsPath = "/apiproxy/mtp/alertsApiProxy/alerts"

// Alert represents a portal alert with the fields this client consumes; the full payload is carried in Raw
type Alert struct {
	ID             string          `json:"alertId"`
	Title          string          `json:"title"`
	Severity       string          `json:"severity"`
	Category       string          `json:"category"`
	Status         string          `json:"status"`
	MachineID      string          `json:"machineId"`
	AssignedTo     string          `json:"assignedTo"`
	FirstEventTime string          `json:"firstEventTime"`
	LastEventTime  string          `json:"lastEventTime"`
	Raw            json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the untouched payload next to the typed fields
func (alert *Alert) UnmarshalJSON(data []byte) error {
	type plain Alert
	if err := json.Unmarshal(data, (*plain)(alert)); err != nil {
		return err
	}
	alert.Raw = append(json.RawMessage(nil), data...)
	return nil
}

type alertsPage struct {
	Items []Alert `json:"items"`
}

// AlertsOptions controls the alert listing
type AlertsOptions struct {
	// Lookback bounds how far back alerts are listed; defaults to 24 hours
	Lookback time.Duration
	// PageSize defaults to 200
	PageSize int
	// BypassCache forces a live listing even when a fresh one is cached
	BypassCache bool
}

// Alerts retrieves the alert queue page by page and returns the combined listing.
// The combined result is cached for 15 minutes under a key parameterized by the listing options.
func (client *Client) Alerts(ctx context.Context, opts AlertsOptions) ([]Alert, error) {
	if opts.Lookback <= 0 {
		opts.Lookback = 24 * time.Hour
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 200
	}

	from := time.Now().UTC().Add(-opts.Lookback).Format(time.RFC3339Nano)
	name := cache.WithParams("alerts", from[:10], strconv.Itoa(opts.PageSize))
	key := cache.Key{TenantID: client.sessions.CurrentTenantID(), Name: name}

	if !opts.BypassCache {
		if entry, ok := client.cache.Lookup(key); ok {
			if cached, ok := entry.Value.([]Alert); ok {
				return cached, nil
			}
		}
	}

	if err := client.sessions.Refresh(ctx); err != nil {
		return nil, err
	}

	var alerts []Alert
	for pageIndex := 1; ; pageIndex++ {
		query := url.Values{}
		query.Set("fromDate", from)
		query.Set("pageSize", strconv.Itoa(opts.PageSize))
		query.Set("pageIndex", strconv.Itoa(pageIndex))

		page, err := doLive[alertsPage](ctx, client, requestOptions{
			Path: fmt.Sprintf("%s?%s", alertsPath, query.Encode()),
		})
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, page.Items...)
		if len(page.Items) < opts.PageSize {
			break
		}
	}

	client.cache.Set(key, alerts, 15*time.Minute)
	return alerts, nil
}
