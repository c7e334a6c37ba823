package portal

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const mtoIncidentsPath = "/apiproxy/mtp/incidentQueue/incidents"

// TenantIncidents maps a tenant ID to its incident listing as returned by the multi-tenant fan-out
type TenantIncidents struct {
	TenantID  string
	Incidents []Incident
	Err       error
}

// IncidentsAcrossTenants fans the incident queue listing out over the multi-tenant host, one tenant at
// a time, using the per-tenant sessions registered with the session manager. Tenants without a
// registered session and tenants whose call fails are reported through the Err field rather than
// aborting the whole fan-out.
func (client *Client) IncidentsAcrossTenants(ctx context.Context, tenantIDs []string, lookback time.Duration) []TenantIncidents {
	if lookback <= 0 {
		lookback = 7 * 24 * time.Hour
	}
	from := time.Now().UTC().Add(-lookback).Format(time.RFC3339Nano)

	results := make([]TenantIncidents, 0, len(tenantIDs))
	for _, tenantID := range tenantIDs {
		result := TenantIncidents{TenantID: tenantID}

		sess, err := client.sessions.ForTenant(ctx, tenantID)
		if err == nil && sess == nil {
			err = fmt.Errorf("no session registered for tenant %s", tenantID)
		}
		if err != nil {
			result.Err = err
			results = append(results, result)
			continue
		}

		page, err := doLive[incidentsPage](ctx, client, requestOptions{
			Method:   http.MethodPost,
			Host:     client.mtoBaseURL,
			Path:     mtoIncidentsPath,
			TenantID: tenantID,
			Session:  sess,
			Body: incidentsQuery{
				PageSize:  100,
				PageIndex: 1,
				FromDate:  from,
			},
		})
		if err != nil {
			result.Err = err
		} else {
			result.Incidents = page.Items
		}
		results = append(results, result)
	}
	return results
}
