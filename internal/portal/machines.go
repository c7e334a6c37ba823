package portal

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"
)

const (
	machinesPath      = "/apiproxy/mtp/k8s/machines"
	machineGroupsPath = "/apiproxy/mtp/rbacService/machine_groups"
)

// Machine represents a device in the portal inventory with the fields this client consumes
type Machine struct {
	ID           string          `json:"machineId"`
	Name         string          `json:"computerDnsName"`
	OSPlatform   string          `json:"osPlatform"`
	HealthStatus string          `json:"healthStatus"`
	RiskScore    string          `json:"riskScore"`
	LastSeen     string          `json:"lastSeen"`
	GroupID      json.Number     `json:"rbacGroupId"`
	Raw          json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the untouched payload next to the typed fields
func (machine *Machine) UnmarshalJSON(data []byte) error {
	type plain Machine
	if err := json.Unmarshal(data, (*plain)(machine)); err != nil {
		return err
	}
	machine.Raw = append(json.RawMessage(nil), data...)
	return nil
}

type machinesPage struct {
	Items []Machine `json:"items"`
}

// MachinesOptions controls the device inventory listing
type MachinesOptions struct {
	PageSize    int
	BypassCache bool
}

// Machines retrieves the device inventory.
// The result is cached for 30 minutes under a key parameterized by the page size.
func (client *Client) Machines(ctx context.Context, opts MachinesOptions) ([]Machine, error) {
	if opts.PageSize <= 0 {
		opts.PageSize = 500
	}

	query := url.Values{}
	query.Set("pageSize", strconv.Itoa(opts.PageSize))

	page, err := call[machinesPage](ctx, client, requestOptions{
		Path:        machinesPath + "?" + query.Encode(),
		CacheName:   "machines",
		TTL:         30 * time.Minute,
		BypassCache: opts.BypassCache,
	})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// MachineGroup represents an RBAC machine group
type MachineGroup struct {
	ID           json.Number `json:"id"`
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	IsUnassigned bool        `json:"isUnassignedMachineGroup"`
	MachineCount int         `json:"machineCount"`
}

type machineGroupsResponse struct {
	Items []MachineGroup `json:"items"`
}

// MachineGroups retrieves the RBAC machine groups, cached for 30 minutes
func (client *Client) MachineGroups(ctx context.Context) ([]MachineGroup, error) {
	response, err := call[machineGroupsResponse](ctx, client, requestOptions{
		Path:      machineGroupsPath,
		CacheName: "machineGroups",
		TTL:       30 * time.Minute,
	})
	if err != nil {
		return nil, err
	}
	return response.Items, nil
}
