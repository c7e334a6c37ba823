package portal

import (
	"context"
	"time"
)

const tenantContextPath = "/apiproxy/mtp/k8s/mgmt/TenantContext"

// TenantContext carries the ambient information about the Defender tenant the session targets
type TenantContext struct {
	TenantID    string `json:"tenantId"`
	TenantName  string `json:"tenantName"`
	UserUPN     string `json:"upn"`
	IsMssp      bool   `json:"isMssp"`
	LicenseType string `json:"licenseType"`
}

// TenantContext fetches the tenant context of the current session.
// The result barely ever changes, so it is cached with a long TTL.
func (client *Client) TenantContext(ctx context.Context) (*TenantContext, error) {
	return call[*TenantContext](ctx, client, requestOptions{
		Path:      tenantContextPath,
		CacheName: "tenantContext",
		TTL:       24 * time.Hour,
	})
}
