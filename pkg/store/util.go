package store

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rzbill/kadali/pkg/types"
)

// Key spaces used by the key-value backends.
const (
	clusterKeySpace       = "clusters"
	clusterTenantKeySpace = "clusters-by-tenant"
	tenantKeySpace        = "tenants"
)

// MakeKey creates a standardized key for a record.
func MakeKey(space, id string) []byte {
	return []byte(fmt.Sprintf("%s/%s", space, id))
}

// MakePrefix creates a prefix for scanning every record in a key space.
func MakePrefix(space string) []byte {
	return []byte(space + "/")
}

// MakeTenantIndexKey creates the secondary-index key linking a tenant to one of its clusters.
func MakeTenantIndexKey(tenantID, clusterID string) []byte {
	return []byte(fmt.Sprintf("%s/%s/%s", clusterTenantKeySpace, tenantID, clusterID))
}

// MakeTenantIndexPrefix creates the prefix for scanning one tenant's clusters.
func MakeTenantIndexPrefix(tenantID string) []byte {
	return []byte(fmt.Sprintf("%s/%s/", clusterTenantKeySpace, tenantID))
}

// MakeVersionKey creates a standardized key for a record version.
func MakeVersionKey(space, id, version string) []byte {
	return []byte(fmt.Sprintf("%s-versions/%s/%s", space, id, version))
}

// MakeVersionPrefix creates a prefix for listing record versions.
func MakeVersionPrefix(space, id string) []byte {
	return []byte(fmt.Sprintf("%s-versions/%s/", space, id))
}

// NewVersionID returns a version id that sorts lexically in save order.
func NewVersionID(t time.Time) string {
	return fmt.Sprintf("v%020d", t.UnixNano())
}

// ParseTenantIndexKey extracts the cluster id from a tenant index key.
func ParseTenantIndexKey(key []byte) (tenantID, clusterID string, ok bool) {
	rest, found := strings.CutPrefix(string(key), clusterTenantKeySpace+"/")
	if !found {
		return "", "", false
	}
	tenantID, clusterID, ok = strings.Cut(rest, "/")
	return tenantID, clusterID, ok && clusterID != ""
}

// isRunningOlderThan is the filter behind FindRunningOlderThan.
func isRunningOlderThan(c *types.Cluster, threshold time.Time) bool {
	return c.Status == types.ClusterStatusRunning && c.LastActivityAt.Before(threshold)
}

// sortClusters orders records by creation time, then id.
func sortClusters(clusters []*types.Cluster) {
	sort.SliceStable(clusters, func(i, j int) bool {
		if !clusters[i].CreatedAt.Equal(clusters[j].CreatedAt) {
			return clusters[i].CreatedAt.Before(clusters[j].CreatedAt)
		}
		return clusters[i].ID < clusters[j].ID
	})
}

func validateCluster(c *types.Cluster) error {
	if c == nil {
		return types.NewValidationError("cluster is required")
	}
	if c.ID == "" {
		return types.NewValidationError("cluster id is required")
	}
	if c.TenantID == "" {
		return types.NewValidationError("cluster tenant id is required")
	}
	return nil
}
