package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/xdrportal/xdrportal/internal/cache"
)

const (
	incidentsPath     = "/apiproxy/mtp/incidentQueue/incidents"
	incidentMergePath = "/apiproxy/mtp/incidentQueue/incidents/merge"
)

const cacheNameIncidents = "incidents"

// Incident represents a portal incident with the fields this client consumes
type Incident struct {
	ID             json.Number     `json:"incidentId"`
	Title          string          `json:"title"`
	Severity       string          `json:"severity"`
	Status         string          `json:"status"`
	AssignedTo     string          `json:"assignedTo"`
	AlertCount     int             `json:"alertCount"`
	Classification string          `json:"classification"`
	CreatedTime    string          `json:"createdTime"`
	Raw            json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the untouched payload next to the typed fields
func (incident *Incident) UnmarshalJSON(data []byte) error {
	type plain Incident
	if err := json.Unmarshal(data, (*plain)(incident)); err != nil {
		return err
	}
	incident.Raw = append(json.RawMessage(nil), data...)
	return nil
}

type incidentsPage struct {
	Items []Incident `json:"items"`
}

type incidentsQuery struct {
	PageSize  int    `json:"pageSize"`
	PageIndex int    `json:"pageIndex"`
	FromDate  string `json:"fromDate"`
}

// IncidentsOptions controls the incident queue listing
type IncidentsOptions struct {
	Lookback    time.Duration
	PageSize    int
	BypassCache bool
}

// Incidents retrieves the incident queue page by page and returns the combined listing.
// The combined result is cached for 15 minutes.
func (client *Client) Incidents(ctx context.Context, opts IncidentsOptions) ([]Incident, error) {
	if opts.Lookback <= 0 {
		opts.Lookback = 7 * 24 * time.Hour
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}

	key := cache.Key{TenantID: client.sessions.CurrentTenantID(), Name: cacheNameIncidents}
	if !opts.BypassCache {
		if entry, ok := client.cache.Lookup(key); ok {
			if cached, ok := entry.Value.([]Incident); ok {
				return cached, nil
			}
		}
	}

	if err := client.sessions.Refresh(ctx); err != nil {
		return nil, err
	}

	from := time.Now().UTC().Add(-opts.Lookback).Format(time.RFC3339Nano)
	var incidents []Incident
	for pageIndex := 1; ; pageIndex++ {
		page, err := doLive[incidentsPage](ctx, client, requestOptions{
			Method: http.MethodPost,
			Path:   incidentsPath,
			Body: incidentsQuery{
				PageSize:  opts.PageSize,
				PageIndex: pageIndex,
				FromDate:  from,
			},
		})
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, page.Items...)
		if len(page.Items) < opts.PageSize {
			break
		}
	}

	client.cache.Set(key, incidents, 15*time.Minute)
	return incidents, nil
}

// Incident retrieves a single incident by its ID, or nil if it does not exist
func (client *Client) Incident(ctx context.Context, id string) (*Incident, error) {
	incident, err := call[*Incident](ctx, client, requestOptions{
		Path: fmt.Sprintf("%s/%s", incidentsPath, id),
	})
	if err != nil {
		var callErr *APICallError
		if errors.As(err, &callErr) && callErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return incident, nil
}

type incidentMergeRequest struct {
	TargetIncidentID  string   `json:"targetIncidentId"`
	SourceIncidentIDs []string `json:"sourceIncidentIds"`
}

// MergeIncidents merges the source incidents into the target incident.
// Every referenced incident ID is validated to exist first; a ValidationError naming all invalid IDs is
// returned before the portal ever sees the batch. On success the cached incident listing is cleared so
// the next read is forced fresh.
func (client *Client) MergeIncidents(ctx context.Context, targetID string, sourceIDs []string) error {
	var invalid []string
	for _, id := range append([]string{targetID}, sourceIDs...) {
		incident, err := client.Incident(ctx, id)
		if err != nil {
			return err
		}
		if incident == nil {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) > 0 {
		return &ValidationError{Operation: "merge incidents", InvalidIDs: invalid}
	}

	_, err := call[struct{}](ctx, client, requestOptions{
		Method: http.MethodPost,
		Path:   incidentMergePath,
		Body: incidentMergeRequest{
			TargetIncidentID:  targetID,
			SourceIncidentIDs: sourceIDs,
		},
	})
	if err != nil {
		return err
	}

	client.cache.Clear(cache.Key{TenantID: client.sessions.CurrentTenantID(), Name: cacheNameIncidents})
	return nil
}
