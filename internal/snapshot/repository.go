package snapshot

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the snapshot repository API
type Repository interface {
	// GetByFilter retrieves multiple snapshots following a filter, ordered by their capture time (descending).
	// If limit <= 0, a default limit value of 25 is used.
	GetByFilter(ctx context.Context, filter *Filter, offset, limit uint64) ([]*Snapshot, uint64, error)

	// GetByID retrieves a snapshot by its ID
	GetByID(ctx context.Context, id uuid.UUID) (*Snapshot, error)

	// Create persists new snapshots
	Create(ctx context.Context, snapshots []*Snapshot) error

	// Delete deletes a snapshot by its ID
	Delete(ctx context.Context, id uuid.UUID) error

	// DeleteOlderThan deletes every snapshot captured before the given UNIX timestamp and returns the
	// amount of deleted snapshots
	DeleteOlderThan(ctx context.Context, capturedBefore int64) (int64, error)
}

// Filter is used to query snapshots based on a filter
type Filter struct {
	TenantID       *string
	Source         *string
	CapturedBefore *int64
	CapturedAfter  *int64
}
