package portal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/xdrportal/xdrportal/internal/config"
)

// newTestClient creates a client with an established session pointing at the given stand-in server
func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(&config.Config{
		PortalBaseURL: server.URL,
		MTOBaseURL:    server.URL,
		UserAgent:     "test-agent",
	})
	require.NoError(t, err)

	_, err = client.sessions.FromSessionCookies(context.Background(), "session-cookie", "csrf-token", "tenant-a")
	require.NoError(t, err)

	client.sleep = func(time.Duration) {}
	client.randInt = func(int) int { return 0 }
	return client
}

func TestCallHeaders(t *testing.T) {
	var seen http.Header
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		seen = request.Header.Clone()
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"items": []}`))
	}))

	_, err := client.MachineGroups(context.Background())
	require.NoError(t, err)

	require.Equal(t, "test-agent", seen.Get("User-Agent"))
	require.Equal(t, "csrf-token", seen.Get("X-XSRF-TOKEN"))
	require.Equal(t, "tenant-a", seen.Get("x-tid"))
	require.Equal(t, "tenant-a", seen.Get("x-tenant-id"))
	_, err = uuid.Parse(seen.Get("x-client-request-id"))
	require.NoError(t, err)
}

func TestRulesCachingAndInvalidation(t *testing.T) {
	listings := 0
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		switch {
		case request.Method == http.MethodGet && strings.HasPrefix(request.URL.Path, rulesPath):
			listings++
			_, _ = writer.Write([]byte(`{"items": [{"id": 1, "name": "suspicious powershell"}]}`))
		case request.Method == http.MethodPost && request.URL.Path == rulesPath:
			_, _ = writer.Write([]byte(`{"id": 2, "name": "new rule"}`))
		default:
			writer.WriteHeader(http.StatusNotFound)
		}
	}))
	ctx := context.Background()

	rules, err := client.Rules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.Equal(t, "suspicious powershell", rules[0].Name)

	// The second listing is served from the cache
	_, err = client.Rules(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, listings)

	// A mutation clears the cached listing, forcing the next read to be fresh
	created, err := client.CreateRule(ctx, RuleChange{Name: "new rule"})
	require.NoError(t, err)
	require.Equal(t, "new rule", created.Name)

	_, err = client.Rules(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, listings)
}

func TestMachinesBypassCacheOverwrites(t *testing.T) {
	liveCalls := 0
	machineID := "machine-1"
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		liveCalls++
		writer.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(writer).Encode(map[string]any{
			"items": []map[string]any{{"machineId": machineID}},
		})
	}))
	ctx := context.Background()

	machines, err := client.Machines(ctx, MachinesOptions{})
	require.NoError(t, err)
	require.Equal(t, "machine-1", machines[0].ID)

	// The inventory changed server-side, but the cached listing still wins
	machineID = "machine-2"
	machines, err = client.Machines(ctx, MachinesOptions{})
	require.NoError(t, err)
	require.Equal(t, "machine-1", machines[0].ID)
	require.Equal(t, 1, liveCalls)

	// Bypassing the cache fetches fresh data and overwrites the entry
	machines, err = client.Machines(ctx, MachinesOptions{BypassCache: true})
	require.NoError(t, err)
	require.Equal(t, "machine-2", machines[0].ID)
	require.Equal(t, 2, liveCalls)

	machines, err = client.Machines(ctx, MachinesOptions{})
	require.NoError(t, err)
	require.Equal(t, "machine-2", machines[0].ID)
	require.Equal(t, 2, liveCalls)
}

func TestAlertsPagination(t *testing.T) {
	liveCalls := 0
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		liveCalls++
		writer.Header().Set("Content-Type", "application/json")
		switch request.URL.Query().Get("pageIndex") {
		case "1":
			_, _ = writer.Write([]byte(`{"items": [{"alertId": "a1", "severity": "High"}, {"alertId": "a2", "severity": "Low"}]}`))
		default:
			_, _ = writer.Write([]byte(`{"items": [{"alertId": "a3", "severity": "Medium"}]}`))
		}
	}))
	ctx := context.Background()

	alerts, err := client.Alerts(ctx, AlertsOptions{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, alerts, 3)
	require.Equal(t, "a1", alerts[0].ID)
	require.Equal(t, "a3", alerts[2].ID)
	require.JSONEq(t, `{"alertId": "a1", "severity": "High"}`, string(alerts[0].Raw))
	require.Equal(t, 2, liveCalls)

	// The combined listing is cached as a whole
	alerts, err = client.Alerts(ctx, AlertsOptions{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, alerts, 3)
	require.Equal(t, 2, liveCalls)
}

func TestIncidentNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusNotFound)
	}))

	incident, err := client.Incident(context.Background(), "404404")
	require.NoError(t, err)
	require.Nil(t, incident)
}

func TestAPICallError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusInternalServerError)
		_, _ = writer.Write([]byte("the portal is on fire"))
	}))

	_, err := client.Rules(context.Background())
	var callErr *APICallError
	require.ErrorAs(t, err, &callErr)
	require.Equal(t, http.StatusInternalServerError, callErr.StatusCode)
	require.Contains(t, callErr.Error(), "the portal is on fire")
	require.Contains(t, callErr.Error(), rulesPath)
}

func TestMergeIncidentsValidatesIDs(t *testing.T) {
	mergeCalls := 0
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		switch {
		case request.Method == http.MethodPost && request.URL.Path == incidentMergePath:
			mergeCalls++
			writer.WriteHeader(http.StatusOK)
		case request.URL.Path == incidentsPath+"/10":
			_, _ = writer.Write([]byte(`{"incidentId": 10}`))
		default:
			writer.WriteHeader(http.StatusNotFound)
		}
	}))

	err := client.MergeIncidents(context.Background(), "10", []string{"11", "12"})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Equal(t, []string{"11", "12"}, validationErr.InvalidIDs)

	// The portal never saw the broken batch
	require.Equal(t, 0, mergeCalls)
}

func TestMergeIncidentsClearsListing(t *testing.T) {
	listings := 0
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		switch {
		case request.Method == http.MethodPost && request.URL.Path == incidentsPath:
			listings++
			_, _ = writer.Write([]byte(`{"items": [{"incidentId": 10}]}`))
		case request.Method == http.MethodPost && request.URL.Path == incidentMergePath:
			writer.WriteHeader(http.StatusOK)
		case strings.HasPrefix(request.URL.Path, incidentsPath+"/"):
			_, _ = writer.Write([]byte(`{"incidentId": 10}`))
		default:
			writer.WriteHeader(http.StatusNotFound)
		}
	}))
	ctx := context.Background()

	_, err := client.Incidents(ctx, IncidentsOptions{})
	require.NoError(t, err)
	_, err = client.Incidents(ctx, IncidentsOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, listings)

	require.NoError(t, client.MergeIncidents(ctx, "10", []string{"11"}))

	_, err = client.Incidents(ctx, IncidentsOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, listings)
}

func TestSaveAdvancedFeaturesInvalidates(t *testing.T) {
	reads := 0
	var saved []byte
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		switch request.URL.Path {
		case advancedFeaturesGetPath:
			reads++
			_, _ = writer.Write([]byte(`{"automatedInvestigation": true, "liveResponse": false, "someNewToggle": "auditMode"}`))
		case advancedFeaturesSavePath:
			saved, _ = io.ReadAll(request.Body)
			writer.WriteHeader(http.StatusOK)
		default:
			writer.WriteHeader(http.StatusNotFound)
		}
	}))
	ctx := context.Background()

	features, err := client.AdvancedFeatures(ctx)
	require.NoError(t, err)
	require.True(t, features.AutomatedInvestigation)
	require.Equal(t, "auditMode", features.Extra["someNewToggle"])

	_, err = client.AdvancedFeatures(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, reads)

	// A read-modify-write round trip must not drop the unknown toggle
	features.LiveResponse = true
	require.NoError(t, client.SaveAdvancedFeatures(ctx, features))
	require.JSONEq(t, `{
		"automatedInvestigation": true,
		"liveResponse": true,
		"tamperProtection": false,
		"webCategoriesEnabled": false,
		"enableWdavPassiveModeRemediation": false,
		"someNewToggle": "auditMode"
	}`, string(saved))

	_, err = client.AdvancedFeatures(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, reads)
}

func TestTimelineRetryAndPagination(t *testing.T) {
	firstPageAttempts := 0
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		if request.URL.Query().Get("cursor") == "2" {
			_, _ = writer.Write([]byte(`{"Items": [{"eventId": "e3"}], "Prev": ""}`))
			return
		}
		firstPageAttempts++
		if firstPageAttempts < 3 {
			writer.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = writer.Write([]byte(`{"Items": [{"eventId": "e1"}, {"eventId": "e2"}], "Prev": "/machines/machine-1/events/?cursor=2"}`))
	}))

	var slept []time.Duration
	client.sleep = func(d time.Duration) { slept = append(slept, d) }

	events, err := client.Timeline(context.Background(), "machine-1", TimelineOptions{From: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, "e1", events[0].ID)
	require.Equal(t, "e3", events[2].ID)

	// Two retry backoffs for the failing first page, one inter-page delay
	require.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 3 * time.Second}, slept)
}

func TestTimelineGivesUpAfterRetries(t *testing.T) {
	attempts := 0
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		attempts++
		writer.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := client.Timeline(context.Background(), "machine-1", TimelineOptions{From: time.Now().Add(-time.Hour)})
	var callErr *APICallError
	require.ErrorAs(t, err, &callErr)
	require.Equal(t, http.StatusServiceUnavailable, callErr.StatusCode)
	require.Equal(t, 3, attempts)
}

func TestTimelineRequiresMachineID(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {}))
	_, err := client.Timeline(context.Background(), "", TimelineOptions{})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestIncidentsAcrossTenants(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		switch request.Header.Get("x-tid") {
		case "tenant-a":
			_, _ = writer.Write([]byte(`{"items": [{"incidentId": 1}, {"incidentId": 2}]}`))
		case "tenant-b":
			_, _ = writer.Write([]byte(`{"items": [{"incidentId": 3}]}`))
		default:
			writer.WriteHeader(http.StatusForbidden)
		}
	}))
	ctx := context.Background()

	// Register a second tenant's session next to the one the helper established
	_, err := client.sessions.FromSessionCookies(ctx, "other-session-cookie", "other-csrf", "tenant-b")
	require.NoError(t, err)

	results := client.IncidentsAcrossTenants(ctx, []string{"tenant-a", "tenant-b", "tenant-c"}, time.Hour)
	require.Len(t, results, 3)

	require.Equal(t, "tenant-a", results[0].TenantID)
	require.NoError(t, results[0].Err)
	require.Len(t, results[0].Incidents, 2)

	require.Equal(t, "tenant-b", results[1].TenantID)
	require.NoError(t, results[1].Err)
	require.Len(t, results[1].Incidents, 1)

	// Tenants without a registered session are reported, not fatal
	require.Equal(t, "tenant-c", results[2].TenantID)
	require.Error(t, results[2].Err)
}
