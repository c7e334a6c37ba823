package postgres

import (
	"context"
	"errors"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/xdrportal/xdrportal/internal/snapshot"
)

// SnapshotRepository implements the snapshot.Repository interface using PostgreSQL
type SnapshotRepository struct {
	db *pgxpool.Pool
}

var _ snapshot.Repository = (*SnapshotRepository)(nil)

// GetByFilter retrieves multiple snapshots following a filter, ordered by their capture time (descending).
// If limit <= 0, a default limit value of 25 is used.
func (repo *SnapshotRepository) GetByFilter(ctx context.Context, filter *snapshot.Filter, offset, limit uint64) ([]*snapshot.Snapshot, uint64, error) {
	if limit <= 0 {
		limit = 25
	}

	conditions := func(builder squirrel.SelectBuilder) squirrel.SelectBuilder {
		if filter.TenantID != nil {
			builder = builder.Where(squirrel.Eq{"tenant_id": *filter.TenantID})
		}
		if filter.Source != nil {
			builder = builder.Where(squirrel.Eq{"source": *filter.Source})
		}
		if filter.CapturedBefore != nil {
			builder = builder.Where(squirrel.Lt{"captured_at": *filter.CapturedBefore})
		}
		if filter.CapturedAfter != nil {
			builder = builder.Where(squirrel.Gt{"captured_at": *filter.CapturedAfter})
		}
		return builder
	}

	// Fetch the total amount of snapshots that matches the given filter
	countSQL, countVals, err := conditions(squirrel.Select("COUNT(*)").From("snapshots")).
		PlaceholderFormat(squirrel.Dollar).ToSql()
	if err != nil {
		return nil, 0, err
	}
	var n uint64
	if err := repo.db.QueryRow(ctx, countSQL, countVals...).Scan(&n); err != nil {
		return nil, 0, err
	}
	if n == 0 {
		return []*snapshot.Snapshot{}, 0, nil
	}

	// Fetch the snapshot objects themselves
	pageSQL, pageVals, err := conditions(squirrel.Select("*").From("snapshots")).
		OrderBy("captured_at DESC").
		Offset(offset).
		Limit(limit).
		PlaceholderFormat(squirrel.Dollar).ToSql()
	if err != nil {
		return nil, 0, err
	}
	rows, err := repo.db.Query(ctx, pageSQL, pageVals...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return []*snapshot.Snapshot{}, n, nil
		}
		return nil, 0, err
	}
	defer rows.Close()

	objs := []*snapshot.Snapshot{}
	for rows.Next() {
		obj, err := repo.rowToSnapshot(rows)
		if err != nil {
			return nil, 0, err
		}
		objs = append(objs, obj)
	}

	return objs, n, nil
}

// GetByID retrieves a snapshot by its ID
func (repo *SnapshotRepository) GetByID(ctx context.Context, id uuid.UUID) (*snapshot.Snapshot, error) {
	row := repo.db.QueryRow(ctx, "SELECT * FROM snapshots WHERE snapshot_id = $1", id)
	obj, err := repo.rowToSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return obj, nil
}

// Create persists new snapshots
func (repo *SnapshotRepository) Create(ctx context.Context, snapshots []*snapshot.Snapshot) error {
	txn, err := repo.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer txn.Rollback(ctx)

	for _, obj := range snapshots {
		_, err := txn.Exec(ctx, "INSERT INTO snapshots VALUES ($1, $2, $3, $4, $5)",
			obj.ID, obj.TenantID, obj.Source, obj.CapturedAt, obj.Data)
		if err != nil {
			return err
		}
	}

	return txn.Commit(ctx)
}

// Delete deletes a snapshot by its ID
func (repo *SnapshotRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := repo.db.Exec(ctx, "DELETE FROM snapshots WHERE snapshot_id = $1", id)
	return err
}

// DeleteOlderThan deletes every snapshot captured before the given UNIX timestamp and returns the
// amount of deleted snapshots
func (repo *SnapshotRepository) DeleteOlderThan(ctx context.Context, capturedBefore int64) (int64, error) {
	tag, err := repo.db.Exec(ctx, "DELETE FROM snapshots WHERE captured_at < $1", capturedBefore)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (repo *SnapshotRepository) rowToSnapshot(row pgx.Row) (*snapshot.Snapshot, error) {
	obj := new(snapshot.Snapshot)
	if err := row.Scan(&obj.ID, &obj.TenantID, &obj.Source, &obj.CapturedAt, &obj.Data); err != nil {
		return nil, err
	}
	return obj, nil
}
