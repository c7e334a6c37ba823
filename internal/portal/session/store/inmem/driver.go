package inmem

import (
	"context"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/xdrportal/xdrportal/internal/portal/session"
)

var dbSchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		"sessions": {
			Name: "sessions",
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:         "id",
					Unique:       true,
					AllowMissing: false,
					Indexer:      &memdb.StringFieldIndex{Field: "TenantID"},
				},
				"refreshedAt": {
					Name:         "refreshedAt",
					Unique:       false,
					AllowMissing: false,
					Indexer:      &memdb.IntFieldIndex{Field: "RefreshedAt"},
				},
			},
		},
	},
}

// Driver represents the in-memory session registry built using hashicorp/go-memdb
type Driver struct {
	db *memdb.MemDB
}

var _ session.Store = (*Driver)(nil)

// New creates a new empty in-memory session registry
func New() (*Driver, error) {
	db, err := memdb.NewMemDB(dbSchema)
	if err != nil {
		return nil, err
	}
	return &Driver{db}, nil
}

// Put registers a session for its tenant, replacing any previous one
func (driver *Driver) Put(_ context.Context, record *session.Record) error {
	txn := driver.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert("sessions", record); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// GetByTenant retrieves the session registered for a specific tenant ID
func (driver *Driver) GetByTenant(_ context.Context, tenantID string) (*session.Record, error) {
	txn := driver.db.Txn(false)
	obj, err := txn.First("sessions", "id", tenantID)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, nil
	}
	return obj.(*session.Record), nil
}

// DeleteByTenant removes the session registered for a specific tenant ID
func (driver *Driver) DeleteByTenant(_ context.Context, tenantID string) error {
	txn := driver.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll("sessions", "id", tenantID); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// DeleteIdle removes all sessions that were last refreshed before the given deadline
func (driver *Driver) DeleteIdle(_ context.Context, deadline time.Time) (int, error) {
	txn := driver.db.Txn(true)
	defer txn.Abort()

	it, err := txn.LowerBound("sessions", "refreshedAt", int64(0))
	if err != nil {
		return 0, err
	}

	cutoff := deadline.Unix()
	deleted := 0
	for obj := it.Next(); obj != nil; obj = it.Next() {
		record := obj.(*session.Record)
		if record.RefreshedAt >= cutoff {
			break
		}
		if err := txn.Delete("sessions", record); err != nil {
			return 0, err
		}
		deleted++
	}

	txn.Commit()
	return deleted, nil
}
