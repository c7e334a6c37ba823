package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xdrportal/xdrportal/internal/config"
	"golang.org/x/oauth2/clientcredentials"
)

// OfficialClient targets the supported api.security.microsoft.com surface for the handful of resources
// that exist there as well. It authenticates with an OAuth2 client-credentials token source instead of
// portal cookies, so it works headlessly where no browser session is available.
type OfficialClient struct {
	baseURL string
	http    *http.Client
}

// NewOfficialClient creates a client for the supported API surface.
// It fails when the client credentials or the tenant ID are missing from the configuration.
func NewOfficialClient(ctx context.Context, cfg *config.Config) (*OfficialClient, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("client credentials are required for the supported API surface")
	}
	if cfg.TenantID == "" {
		return nil, errors.New("a tenant ID is required for the supported API surface")
	}

	credentials := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", cfg.IdentityBaseURL, cfg.TenantID),
		Scopes:       []string{cfg.APIBaseURL + "/.default"},
	}
	return &OfficialClient{
		baseURL: cfg.APIBaseURL,
		http:    credentials.Client(ctx),
	}, nil
}

// MachineAction represents a machine action as returned by the supported API
type MachineAction struct {
	ID                string `json:"id"`
	Type              string `json:"type"`
	Status            string `json:"status"`
	MachineID         string `json:"machineId"`
	Requestor         string `json:"requestor"`
	RequestorComment  string `json:"requestorComment"`
	CreationDateTime  string `json:"creationDateTimeUtc"`
	LastUpdateDateTme string `json:"lastUpdateDateTimeUtc"`
}

type machineActionsResponse struct {
	Value []MachineAction `json:"value"`
}

// MachineActions lists the machine actions last updated after the given time
func (client *OfficialClient) MachineActions(ctx context.Context, updatedAfter time.Time) ([]MachineAction, error) {
	filter := fmt.Sprintf("lastUpdateDateTimeUtc ge %s", updatedAfter.UTC().Format(time.RFC3339))
	endpoint := "/api/machineactions?$filter=" + strings.ReplaceAll(url.QueryEscape(filter), "+", "%20")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, client.baseURL+endpoint, nil)
	if err != nil {
		return nil, &APICallError{Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.http.Do(req)
	if err != nil {
		return nil, &APICallError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APICallError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APICallError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(body)))}
	}

	var response machineActionsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, &APICallError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response body: %w", err)}
	}
	return response.Value, nil
}
