package snapshot

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Snapshot represents one harvested portal payload persisted for later analysis
type Snapshot struct {
	ID         uuid.UUID       `json:"id"`
	TenantID   string          `json:"tenant_id"`
	Source     string          `json:"source"`
	CapturedAt int64           `json:"captured_at"`
	Data       json.RawMessage `json:"data"`
}

// New creates a snapshot of the given payload, stamped with the current time
func New(tenantID, source string, data json.RawMessage) *Snapshot {
	return &Snapshot{
		ID:         uuid.New(),
		TenantID:   tenantID,
		Source:     source,
		CapturedAt: time.Now().Unix(),
		Data:       data,
	}
}
