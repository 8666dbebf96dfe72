// Package storetest holds the behavioral tests every store.Store backend must pass.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/kadali/pkg/store"
	"github.com/rzbill/kadali/pkg/types"
)

// Factory returns an empty, ready-to-use store. Cleanup is the caller's job (t.Cleanup).
type Factory func(t *testing.T) store.Store

// NewCluster builds a valid RUNNING cluster record for tests.
func NewCluster(id, tenantID string, lastActivity time.Time) *types.Cluster {
	started := lastActivity
	return &types.Cluster{
		ID:       id,
		TenantID: tenantID,
		Name:     "analytics-" + id,
		Type:     types.ClusterTypeInteractive,
		Resources: types.ResourceShape{
			DriverMemory:   "2g",
			DriverCores:    1,
			ExecutorMemory: "2g",
			ExecutorCores:  1,
			ExecutorCount:  2,
		},
		Namespace:      types.NamespaceForTenant(tenantID),
		DriverName:     types.DriverNameForCluster(id),
		Status:         types.ClusterStatusRunning,
		IdleMinutes:    types.DefaultIdleMinutes,
		CreatedAt:      lastActivity,
		StartedAt:      &started,
		LastActivityAt: lastActivity,
	}
}

// Run executes the full suite against the store produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("SaveAndFind", func(t *testing.T) { testSaveAndFind(t, newStore(t)) })
	t.Run("FindMissing", func(t *testing.T) { testFindMissing(t, newStore(t)) })
	t.Run("SaveReplaces", func(t *testing.T) { testSaveReplaces(t, newStore(t)) })
	t.Run("ListByTenant", func(t *testing.T) { testListByTenant(t, newStore(t)) })
	t.Run("FindRunningOlderThan", func(t *testing.T) { testFindRunningOlderThan(t, newStore(t)) })
	t.Run("History", func(t *testing.T) { testHistory(t, newStore(t)) })
	t.Run("Tenants", func(t *testing.T) { testTenants(t, newStore(t)) })
	t.Run("RejectsInvalid", func(t *testing.T) { testRejectsInvalid(t, newStore(t)) })
	t.Run("SaveHonoursCancellation", func(t *testing.T) { testSaveHonoursCancellation(t, newStore(t)) })
}

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testSaveAndFind(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := NewCluster("c1", "acme", base)

	require.NoError(t, s.SaveCluster(ctx, c))

	got, err := s.FindCluster(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, c.TenantID, got.TenantID)
	assert.Equal(t, c.Resources, got.Resources)
	assert.Equal(t, types.ClusterStatusRunning, got.Status)
	assert.Equal(t, "tenant-acme", got.Namespace)
	assert.True(t, c.LastActivityAt.Equal(got.LastActivityAt))
	require.NotNil(t, got.StartedAt)
	assert.Nil(t, got.TerminatedAt)
}

func testFindMissing(t *testing.T, s store.Store) {
	_, err := s.FindCluster(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
	assert.False(t, types.IsStorageError(err))
}

func testSaveReplaces(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := NewCluster("c1", "acme", base)
	require.NoError(t, s.SaveCluster(ctx, c))

	c.Status = types.ClusterStatusTerminating
	c.UIEndpoint = ""
	require.NoError(t, s.SaveCluster(ctx, c))

	got, err := s.FindCluster(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, types.ClusterStatusTerminating, got.Status)

	all, err := s.ListClustersByTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testListByTenant(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		c := NewCluster(fmt.Sprintf("a%d", i), "acme", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.SaveCluster(ctx, c))
	}
	require.NoError(t, s.SaveCluster(ctx, NewCluster("b0", "globex", base)))

	acme, err := s.ListClustersByTenant(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, acme, 3)
	assert.Equal(t, []string{"a0", "a1", "a2"}, ids(acme))

	// tenant ids that prefix each other must not leak
	require.NoError(t, s.SaveCluster(ctx, NewCluster("x0", "acme-2", base)))
	acme, err = s.ListClustersByTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, acme, 3)

	none, err := s.ListClustersByTenant(ctx, "initech")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testFindRunningOlderThan(t *testing.T, s store.Store) {
	ctx := context.Background()

	old := NewCluster("old", "acme", base)
	fresh := NewCluster("fresh", "acme", base.Add(2*time.Hour))
	stopped := NewCluster("stopped", "acme", base)
	stopped.Status = types.ClusterStatusTerminated
	failed := NewCluster("failed", "acme", base)
	failed.Status = types.ClusterStatusError

	for _, c := range []*types.Cluster{old, fresh, stopped, failed} {
		require.NoError(t, s.SaveCluster(ctx, c))
	}

	got, err := s.FindRunningOlderThan(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, ids(got))

	got, err = s.FindRunningOlderThan(ctx, base)
	require.NoError(t, err)
	assert.Empty(t, got, "threshold is exclusive")
}

func testHistory(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := NewCluster("c1", "acme", base)
	c.Status = types.ClusterStatusCreating
	require.NoError(t, s.SaveCluster(ctx, c))
	c.Status = types.ClusterStatusRunning
	require.NoError(t, s.SaveCluster(ctx, c))
	c.Status = types.ClusterStatusTerminating
	require.NoError(t, s.SaveCluster(ctx, c))

	revs, err := s.ClusterHistory(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, revs, 3)

	var statuses []types.ClusterStatus
	for _, r := range revs {
		statuses = append(statuses, r.Cluster.Status)
	}
	assert.Equal(t, []types.ClusterStatus{
		types.ClusterStatusTerminating,
		types.ClusterStatusRunning,
		types.ClusterStatusCreating,
	}, statuses)
	assert.Greater(t, revs[0].Version, revs[1].Version)

	_, err = s.ClusterHistory(ctx, "missing")
	assert.True(t, types.IsNotFound(err))
}

func testTenants(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.GetTenant(ctx, "acme")
	assert.True(t, types.IsNotFound(err))

	require.NoError(t, s.SaveTenant(ctx, &types.Tenant{ID: "globex", Name: "Globex", Tier: types.TenantTierFree, Status: types.TenantStatusActive, CreatedAt: base}))
	require.NoError(t, s.SaveTenant(ctx, &types.Tenant{ID: "acme", Name: "Acme", Tier: types.TenantTierEnterprise, Status: types.TenantStatusActive, CreatedAt: base}))

	got, err := s.GetTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Name)
	assert.Equal(t, types.TenantTierEnterprise, got.Tier)

	all, err := s.ListTenants(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "acme", all[0].ID)
	assert.Equal(t, "globex", all[1].ID)
}

func testRejectsInvalid(t *testing.T, s store.Store) {
	ctx := context.Background()
	assert.True(t, types.IsInvalidArgument(s.SaveCluster(ctx, &types.Cluster{TenantID: "acme"})))
	assert.True(t, types.IsInvalidArgument(s.SaveTenant(ctx, &types.Tenant{ID: "Not_Valid"})))
}

func testSaveHonoursCancellation(t *testing.T, s store.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, s.SaveCluster(ctx, NewCluster("c1", "acme", base)))

	_, err := s.FindCluster(context.Background(), "c1")
	assert.True(t, types.IsNotFound(err))
}

func ids(clusters []*types.Cluster) []string {
	out := make([]string, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, c.ID)
	}
	return out
}
