package inmem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xdrportal/xdrportal/internal/portal/session"
	"github.com/xdrportal/xdrportal/internal/portal/session/store/inmem"
)

func TestDriverPutAndGet(t *testing.T) {
	driver, err := inmem.New()
	require.NoError(t, err)
	ctx := context.Background()

	missing, err := driver.GetByTenant(ctx, "tenant-a")
	require.NoError(t, err)
	require.Nil(t, missing)

	require.NoError(t, driver.Put(ctx, &session.Record{TenantID: "tenant-a", RefreshedAt: 100}))
	require.NoError(t, driver.Put(ctx, &session.Record{TenantID: "tenant-b", RefreshedAt: 200}))

	record, err := driver.GetByTenant(ctx, "tenant-a")
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, int64(100), record.RefreshedAt)

	// Registering the same tenant again replaces the previous record
	require.NoError(t, driver.Put(ctx, &session.Record{TenantID: "tenant-a", RefreshedAt: 300}))
	record, err = driver.GetByTenant(ctx, "tenant-a")
	require.NoError(t, err)
	require.Equal(t, int64(300), record.RefreshedAt)
}

func TestDriverDeleteByTenant(t *testing.T) {
	driver, err := inmem.New()
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, driver.Put(ctx, &session.Record{TenantID: "tenant-a", RefreshedAt: 100}))
	require.NoError(t, driver.DeleteByTenant(ctx, "tenant-a"))
	require.NoError(t, driver.DeleteByTenant(ctx, "tenant-a"))

	record, err := driver.GetByTenant(ctx, "tenant-a")
	require.NoError(t, err)
	require.Nil(t, record)
}

func TestDriverDeleteIdle(t *testing.T) {
	driver, err := inmem.New()
	require.NoError(t, err)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, driver.Put(ctx, &session.Record{TenantID: "tenant-a", RefreshedAt: now.Add(-2 * time.Hour).Unix()}))
	require.NoError(t, driver.Put(ctx, &session.Record{TenantID: "tenant-b", RefreshedAt: now.Add(-3 * time.Hour).Unix()}))
	require.NoError(t, driver.Put(ctx, &session.Record{TenantID: "tenant-c", RefreshedAt: now.Unix()}))

	deleted, err := driver.DeleteIdle(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, deleted)

	record, err := driver.GetByTenant(ctx, "tenant-c")
	require.NoError(t, err)
	require.NotNil(t, record)
	record, err = driver.GetByTenant(ctx, "tenant-a")
	require.NoError(t, err)
	require.Nil(t, record)
}
