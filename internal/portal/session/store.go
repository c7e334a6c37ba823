package session

import (
	"context"
	"time"
)

// Record represents a registered per-tenant session as kept by a Store
type Record struct {
	TenantID    string
	RefreshedAt int64
	Session     *Session
}

// Store defines the per-tenant session registry API.
// Multi-tenant fan-out picks the right session out of it; single-tenant use never notices it.
type Store interface {
	// Put registers a session for its tenant, replacing any previous one
	Put(ctx context.Context, record *Record) error

	// GetByTenant retrieves the session registered for a specific tenant ID
	GetByTenant(ctx context.Context, tenantID string) (*Record, error)

	// DeleteByTenant removes the session registered for a specific tenant ID
	DeleteByTenant(ctx context.Context, tenantID string) error

	// DeleteIdle removes all sessions that were last refreshed before the given deadline
	DeleteIdle(ctx context.Context, deadline time.Time) (int, error)
}
