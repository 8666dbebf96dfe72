// Package store provides the durable record store for clusters and tenants.
package store

import (
	"context"
	"time"

	"github.com/rzbill/kadali/pkg/types"
)

// ClusterStore persists cluster records. Save is a full-record upsert keyed by
// cluster id. Implementations must give read-your-writes consistency per id.
type ClusterStore interface {
	// SaveCluster inserts or fully replaces the record and appends a history revision.
	SaveCluster(ctx context.Context, cluster *types.Cluster) error

	// FindCluster loads a record. Missing ids yield a types.NotFoundError.
	FindCluster(ctx context.Context, id string) (*types.Cluster, error)

	// ListClustersByTenant returns every record owned by the tenant, oldest first.
	ListClustersByTenant(ctx context.Context, tenantID string) ([]*types.Cluster, error)

	// FindRunningOlderThan returns RUNNING records whose last activity is before threshold.
	FindRunningOlderThan(ctx context.Context, threshold time.Time) ([]*types.Cluster, error)

	// ClusterHistory returns every saved revision of a record, newest first.
	ClusterHistory(ctx context.Context, id string) ([]ClusterRevision, error)
}

// TenantStore reads and writes tenant records.
type TenantStore interface {
	// GetTenant loads a tenant. Missing ids yield a types.NotFoundError.
	GetTenant(ctx context.Context, id string) (*types.Tenant, error)

	// SaveTenant inserts or replaces a tenant.
	SaveTenant(ctx context.Context, tenant *types.Tenant) error

	// ListTenants returns every tenant ordered by id.
	ListTenants(ctx context.Context) ([]*types.Tenant, error)
}

// Store is a complete record store backend.
type Store interface {
	ClusterStore
	TenantStore

	// Close releases the backend's resources.
	Close() error
}

// ClusterRevision is one saved version of a cluster record.
type ClusterRevision struct {
	// Version identifies the revision; versions sort in save order.
	Version string `json:"version"`

	// Timestamp is when the revision was saved.
	Timestamp time.Time `json:"timestamp"`

	// Cluster is the record as it was saved.
	Cluster *types.Cluster `json:"cluster"`
}
