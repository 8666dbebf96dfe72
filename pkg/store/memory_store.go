package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rzbill/kadali/pkg/types"
)

// Validate that MemoryStore implements the Store interface
var _ Store = &MemoryStore{}

// MemoryStore is an in-process Store used by tests and `--store=memory` dev runs.
// Records are cloned on the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	clusters map[string]*types.Cluster
	history  map[string][]ClusterRevision
	tenants  map[string]*types.Tenant
	versions versionClock

	// failWith, when set, is returned by every cluster write. Tests use it to
	// simulate a storage outage.
	failWith error
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clusters: make(map[string]*types.Cluster),
		history:  make(map[string][]ClusterRevision),
		tenants:  make(map[string]*types.Tenant),
	}
}

// Close is a no-op for the memory store.
func (m *MemoryStore) Close() error {
	return nil
}

// FailWrites makes every subsequent cluster save fail with err. Pass nil to recover.
func (m *MemoryStore) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// SaveCluster upserts a copy of the record and appends a revision.
func (m *MemoryStore) SaveCluster(ctx context.Context, cluster *types.Cluster) error {
	if err := validateCluster(cluster); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return types.NewStorageError("save cluster", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return types.NewStorageError("save cluster", m.failWith)
	}

	now := m.versions.next()
	m.clusters[cluster.ID] = cluster.Clone()
	m.history[cluster.ID] = append(m.history[cluster.ID], ClusterRevision{
		Version:   NewVersionID(now),
		Timestamp: now,
		Cluster:   cluster.Clone(),
	})
	return nil
}

// FindCluster returns a copy of the stored record.
func (m *MemoryStore) FindCluster(ctx context.Context, id string) (*types.Cluster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cluster, ok := m.clusters[id]
	if !ok {
		return nil, types.NewNotFoundError("cluster", id)
	}
	return cluster.Clone(), nil
}

// ListClustersByTenant returns copies of the tenant's records, oldest first.
func (m *MemoryStore) ListClustersByTenant(ctx context.Context, tenantID string) ([]*types.Cluster, error) {
	return m.filter(func(c *types.Cluster) bool { return c.TenantID == tenantID }), nil
}

// FindRunningOlderThan returns copies of RUNNING records idle since before threshold.
func (m *MemoryStore) FindRunningOlderThan(ctx context.Context, threshold time.Time) ([]*types.Cluster, error) {
	return m.filter(func(c *types.Cluster) bool { return isRunningOlderThan(c, threshold) }), nil
}

func (m *MemoryStore) filter(keep func(*types.Cluster) bool) []*types.Cluster {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.Cluster
	for _, c := range m.clusters {
		if keep(c) {
			out = append(out, c.Clone())
		}
	}
	sortClusters(out)
	return out
}

// ClusterHistory returns the saved revisions of a record, newest first.
func (m *MemoryStore) ClusterHistory(ctx context.Context, id string) ([]ClusterRevision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	revs, ok := m.history[id]
	if !ok {
		return nil, types.NewNotFoundError("cluster", id)
	}

	out := make([]ClusterRevision, 0, len(revs))
	for i := len(revs) - 1; i >= 0; i-- {
		rev := revs[i]
		rev.Cluster = rev.Cluster.Clone()
		out = append(out, rev)
	}
	return out, nil
}

// GetTenant returns a copy of the stored tenant.
func (m *MemoryStore) GetTenant(ctx context.Context, id string) (*types.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tenant, ok := m.tenants[id]
	if !ok {
		return nil, types.NewNotFoundError("tenant", id)
	}
	cp := *tenant
	return &cp, nil
}

// SaveTenant inserts or replaces a tenant.
func (m *MemoryStore) SaveTenant(ctx context.Context, tenant *types.Tenant) error {
	if err := tenant.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *tenant
	m.tenants[tenant.ID] = &cp
	return nil
}

// ListTenants returns every tenant ordered by id.
func (m *MemoryStore) ListTenants(ctx context.Context) ([]*types.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
