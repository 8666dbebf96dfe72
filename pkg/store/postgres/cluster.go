package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rzbill/kadali/pkg/log"
	"github.com/rzbill/kadali/pkg/store"
	"github.com/rzbill/kadali/pkg/types"
)

const clusterColumns = `
	id, tenant_id, name, type,
	driver_memory, driver_cores, executor_memory, executor_cores, executor_count,
	namespace, driver_name, ui_endpoint, status, status_message, idle_minutes,
	created_at, started_at, terminated_at, last_activity_at`

var (
	versionMu   sync.Mutex
	lastVersion time.Time
)

// nextVersionTime returns a strictly increasing timestamp within this process.
func nextVersionTime() time.Time {
	versionMu.Lock()
	defer versionMu.Unlock()

	now := time.Now().UTC()
	if !now.After(lastVersion) {
		now = lastVersion.Add(time.Microsecond)
	}
	lastVersion = now
	return now
}

// SaveCluster upserts the cluster row and records a revision in one transaction.
func (s *Store) SaveCluster(ctx context.Context, c *types.Cluster) error {
	if c == nil || c.ID == "" || c.TenantID == "" {
		return types.NewValidationError("cluster id and tenant id are required")
	}

	record, err := json.Marshal(c)
	if err != nil {
		return types.NewStorageError("save cluster", fmt.Errorf("kadali/postgres: serialize cluster: %w", err))
	}
	savedAt := nextVersionTime()
	version := store.NewVersionID(savedAt)

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO kadali_clusters (`+clusterColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
			ON CONFLICT (id) DO UPDATE SET
				tenant_id = EXCLUDED.tenant_id,
				name = EXCLUDED.name,
				type = EXCLUDED.type,
				driver_memory = EXCLUDED.driver_memory,
				driver_cores = EXCLUDED.driver_cores,
				executor_memory = EXCLUDED.executor_memory,
				executor_cores = EXCLUDED.executor_cores,
				executor_count = EXCLUDED.executor_count,
				namespace = EXCLUDED.namespace,
				driver_name = EXCLUDED.driver_name,
				ui_endpoint = EXCLUDED.ui_endpoint,
				status = EXCLUDED.status,
				status_message = EXCLUDED.status_message,
				idle_minutes = EXCLUDED.idle_minutes,
				created_at = EXCLUDED.created_at,
				started_at = EXCLUDED.started_at,
				terminated_at = EXCLUDED.terminated_at,
				last_activity_at = EXCLUDED.last_activity_at`,
			c.ID, c.TenantID, c.Name, string(c.Type),
			c.Resources.DriverMemory, c.Resources.DriverCores,
			c.Resources.ExecutorMemory, c.Resources.ExecutorCores, c.Resources.ExecutorCount,
			c.Namespace, c.DriverName, c.UIEndpoint, string(c.Status), c.StatusMessage, c.IdleMinutes,
			c.CreatedAt, c.StartedAt, c.TerminatedAt, c.LastActivityAt,
		)
		if err != nil {
			return fmt.Errorf("upsert cluster: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO kadali_cluster_revisions (cluster_id, version, saved_at, record)
			VALUES ($1, $2, $3, $4)`,
			c.ID, version, savedAt, record,
		)
		if err != nil {
			return fmt.Errorf("insert revision: %w", err)
		}
		return nil
	})
	if err != nil {
		return types.NewStorageError("save cluster", fmt.Errorf("kadali/postgres: %w", err))
	}

	s.logger.Debug("Saved cluster", log.ClusterID(c.ID), log.Str("status", string(c.Status)))
	return nil
}

// FindCluster loads a cluster row by id.
func (s *Store) FindCluster(ctx context.Context, id string) (*types.Cluster, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+clusterColumns+` FROM kadali_clusters WHERE id = $1`, id)
	c, err := scanCluster(row)
	if isNoRows(err) {
		return nil, types.NewNotFoundError("cluster", id)
	}
	if err != nil {
		return nil, types.NewStorageError("find cluster", fmt.Errorf("kadali/postgres: %w", err))
	}
	return c, nil
}

// ListClustersByTenant returns the tenant's clusters, oldest first.
func (s *Store) ListClustersByTenant(ctx context.Context, tenantID string) ([]*types.Cluster, error) {
	clusters, err := s.queryClusters(ctx, `
		SELECT `+clusterColumns+` FROM kadali_clusters
		WHERE tenant_id = $1
		ORDER BY created_at ASC, id ASC`, tenantID)
	if err != nil {
		return nil, types.NewStorageError("list clusters", err)
	}
	return clusters, nil
}

// FindRunningOlderThan returns RUNNING clusters whose last activity precedes threshold.
func (s *Store) FindRunningOlderThan(ctx context.Context, threshold time.Time) ([]*types.Cluster, error) {
	clusters, err := s.queryClusters(ctx, `
		SELECT `+clusterColumns+` FROM kadali_clusters
		WHERE status = $1 AND last_activity_at < $2
		ORDER BY created_at ASC, id ASC`, string(types.ClusterStatusRunning), threshold)
	if err != nil {
		return nil, types.NewStorageError("find running clusters", err)
	}
	return clusters, nil
}

// ClusterHistory returns the saved revisions of a cluster, newest first.
func (s *Store) ClusterHistory(ctx context.Context, id string) ([]store.ClusterRevision, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT version, saved_at, record FROM kadali_cluster_revisions
		WHERE cluster_id = $1
		ORDER BY version DESC`, id)
	if err != nil {
		return nil, types.NewStorageError("cluster history", fmt.Errorf("kadali/postgres: %w", err))
	}
	defer rows.Close()

	var revisions []store.ClusterRevision
	for rows.Next() {
		var (
			rev    store.ClusterRevision
			record []byte
		)
		if err := rows.Scan(&rev.Version, &rev.Timestamp, &record); err != nil {
			return nil, types.NewStorageError("cluster history", fmt.Errorf("kadali/postgres: scan revision: %w", err))
		}
		rev.Cluster = &types.Cluster{}
		if err := json.Unmarshal(record, rev.Cluster); err != nil {
			return nil, types.NewStorageError("cluster history", fmt.Errorf("kadali/postgres: decode revision: %w", err))
		}
		revisions = append(revisions, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewStorageError("cluster history", fmt.Errorf("kadali/postgres: %w", err))
	}

	if len(revisions) == 0 {
		return nil, types.NewNotFoundError("cluster", id)
	}
	return revisions, nil
}

func (s *Store) queryClusters(ctx context.Context, sql string, args ...any) ([]*types.Cluster, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("kadali/postgres: %w", err)
	}
	defer rows.Close()

	var clusters []*types.Cluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, fmt.Errorf("kadali/postgres: scan cluster row: %w", err)
		}
		clusters = append(clusters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kadali/postgres: %w", err)
	}
	return clusters, nil
}

func scanCluster(row pgx.Row) (*types.Cluster, error) {
	var (
		c       types.Cluster
		typeStr string
		status  string
	)
	err := row.Scan(
		&c.ID, &c.TenantID, &c.Name, &typeStr,
		&c.Resources.DriverMemory, &c.Resources.DriverCores,
		&c.Resources.ExecutorMemory, &c.Resources.ExecutorCores, &c.Resources.ExecutorCount,
		&c.Namespace, &c.DriverName, &c.UIEndpoint, &status, &c.StatusMessage, &c.IdleMinutes,
		&c.CreatedAt, &c.StartedAt, &c.TerminatedAt, &c.LastActivityAt,
	)
	if err != nil {
		return nil, err
	}

	c.Type = types.ClusterType(typeStr)
	parsed, err := types.ParseClusterStatus(status)
	if err != nil {
		return nil, err
	}
	c.Status = parsed
	return &c, nil
}
