package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/kadali/pkg/log"
	"github.com/rzbill/kadali/pkg/store"
	"github.com/rzbill/kadali/pkg/store/storetest"
	"github.com/rzbill/kadali/pkg/types"
)

// setupTestStore opens a BadgerStore in a temporary directory.
func setupTestStore(t *testing.T, dir string) *store.BadgerStore {
	t.Helper()

	s := store.NewBadgerStore(log.NewTestLogger())
	require.NoError(t, s.Open(dir))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadgerStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return setupTestStore(t, t.TempDir())
	})
}

func TestBadgerStoreInMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return setupTestStore(t, "")
	})
}

func TestBadgerStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	s := store.NewBadgerStore(log.NewTestLogger())
	require.NoError(t, s.Open(dir))
	require.NoError(t, s.SaveCluster(ctx, storetest.NewCluster("c1", "acme", now)))
	require.NoError(t, s.SaveTenant(ctx, &types.Tenant{ID: "acme", Name: "Acme"}))
	require.NoError(t, s.Close())

	reopened := setupTestStore(t, dir)

	c, err := reopened.FindCluster(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "acme", c.TenantID)

	tenant, err := reopened.GetTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme", tenant.Name)

	revs, err := reopened.ClusterHistory(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, revs, 1)
}

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return store.NewMemoryStore()
	})
}

func TestMemoryStoreIsolatesCallers(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	c := storetest.NewCluster("c1", "acme", time.Now())
	require.NoError(t, s.SaveCluster(ctx, c))

	c.Status = types.ClusterStatusError
	got, err := s.FindCluster(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, types.ClusterStatusRunning, got.Status)

	got.Status = types.ClusterStatusTerminated
	again, err := s.FindCluster(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, types.ClusterStatusRunning, again.Status)
}

func TestMemoryStoreFailWrites(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	s.FailWrites(assert.AnError)

	err := s.SaveCluster(ctx, storetest.NewCluster("c1", "acme", time.Now()))
	require.Error(t, err)
	assert.True(t, types.IsStorageError(err))
	assert.ErrorIs(t, err, assert.AnError)

	s.FailWrites(nil)
	assert.NoError(t, s.SaveCluster(ctx, storetest.NewCluster("c1", "acme", time.Now())))
}

func TestTenantIndexKeyRoundTrip(t *testing.T) {
	tenant, cluster, ok := store.ParseTenantIndexKey(store.MakeTenantIndexKey("acme", "c1"))
	require.True(t, ok)
	assert.Equal(t, "acme", tenant)
	assert.Equal(t, "c1", cluster)

	_, _, ok = store.ParseTenantIndexKey([]byte("clusters/c1"))
	assert.False(t, ok)
}
