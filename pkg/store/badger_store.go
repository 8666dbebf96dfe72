package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rzbill/kadali/pkg/log"
	"github.com/rzbill/kadali/pkg/types"
)

// Validate that BadgerStore implements the Store interface
var _ Store = &BadgerStore{}

// BadgerStore implements Store on an embedded BadgerDB. Every cluster save also
// writes a version entry, which is what ClusterHistory reads back.
type BadgerStore struct {
	db       *badger.DB
	path     string
	logger   log.Logger
	versions versionClock
}

// NewBadgerStore creates a new BadgerDB-backed store. Call Open before use.
func NewBadgerStore(logger log.Logger) *BadgerStore {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}

	return &BadgerStore{
		logger: logger.WithComponent("store"),
	}
}

// Open opens the BadgerDB database at path. An empty path opens an in-memory database.
func (s *BadgerStore) Open(path string) error {
	s.path = path

	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = &badgerLogAdapter{logger: s.logger}

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("failed to open badger db: %w", err)
	}
	s.db = db

	s.logger.Info("Kadali store opened", log.Str("path", path))
	return nil
}

// Close closes the BadgerDB database.
func (s *BadgerStore) Close() error {
	if s.db == nil {
		return nil
	}
	s.logger.Info("Closing Kadali store", log.Str("path", s.path))
	err := s.db.Close()
	s.db = nil
	return err
}

// SaveCluster upserts the record, its tenant index entry and a new version in one transaction.
func (s *BadgerStore) SaveCluster(ctx context.Context, cluster *types.Cluster) error {
	if err := validateCluster(cluster); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return types.NewStorageError("save cluster", err)
	}

	data, err := json.Marshal(cluster)
	if err != nil {
		return types.NewStorageError("save cluster", fmt.Errorf("failed to serialize cluster: %w", err))
	}

	now := s.versions.next()
	revision := ClusterRevision{
		Version:   NewVersionID(now),
		Timestamp: now,
		Cluster:   cluster,
	}
	revisionData, err := json.Marshal(revision)
	if err != nil {
		return types.NewStorageError("save cluster", fmt.Errorf("failed to serialize version: %w", err))
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(MakeKey(clusterKeySpace, cluster.ID), data); err != nil {
			return fmt.Errorf("failed to store cluster: %w", err)
		}
		if err := txn.Set(MakeTenantIndexKey(cluster.TenantID, cluster.ID), nil); err != nil {
			return fmt.Errorf("failed to store tenant index: %w", err)
		}
		if err := txn.Set(MakeVersionKey(clusterKeySpace, cluster.ID, revision.Version), revisionData); err != nil {
			return fmt.Errorf("failed to store version: %w", err)
		}
		return nil
	})
	if err != nil {
		return types.NewStorageError("save cluster", err)
	}

	s.logger.Debug("Saved cluster",
		log.ClusterID(cluster.ID),
		log.Str("status", string(cluster.Status)),
		log.Str("version", revision.Version))
	return nil
}

// FindCluster loads a cluster by id.
func (s *BadgerStore) FindCluster(ctx context.Context, id string) (*types.Cluster, error) {
	var cluster types.Cluster
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, MakeKey(clusterKeySpace, id), &cluster)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, types.NewNotFoundError("cluster", id)
	}
	if err != nil {
		return nil, types.NewStorageError("find cluster", err)
	}
	return &cluster, nil
}

// ListClustersByTenant walks the tenant index and loads each referenced record.
func (s *BadgerStore) ListClustersByTenant(ctx context.Context, tenantID string) ([]*types.Cluster, error) {
	var clusters []*types.Cluster

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := MakeTenantIndexPrefix(tenantID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			_, clusterID, ok := ParseTenantIndexKey(it.Item().KeyCopy(nil))
			if !ok {
				continue
			}

			var cluster types.Cluster
			if err := getJSON(txn, MakeKey(clusterKeySpace, clusterID), &cluster); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				return err
			}
			clusters = append(clusters, &cluster)
		}
		return nil
	})
	if err != nil {
		return nil, types.NewStorageError("list clusters", err)
	}

	sortClusters(clusters)
	return clusters, nil
}

// FindRunningOlderThan scans every cluster record and keeps the idle RUNNING ones.
func (s *BadgerStore) FindRunningOlderThan(ctx context.Context, threshold time.Time) ([]*types.Cluster, error) {
	var clusters []*types.Cluster

	err := s.db.View(func(txn *badger.Txn) error {
		return scanJSON(txn, MakePrefix(clusterKeySpace), func(val []byte) error {
			var cluster types.Cluster
			if err := json.Unmarshal(val, &cluster); err != nil {
				return fmt.Errorf("failed to deserialize cluster: %w", err)
			}
			if isRunningOlderThan(&cluster, threshold) {
				clusters = append(clusters, &cluster)
			}
			return nil
		})
	})
	if err != nil {
		return nil, types.NewStorageError("find running clusters", err)
	}

	sortClusters(clusters)
	return clusters, nil
}

// ClusterHistory retrieves every saved version of a cluster, newest first.
func (s *BadgerStore) ClusterHistory(ctx context.Context, id string) ([]ClusterRevision, error) {
	var revisions []ClusterRevision

	prefix := MakeVersionPrefix(clusterKeySpace, id)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true // Get newest versions first
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(append(prefix, 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var revision ClusterRevision
				if err := json.Unmarshal(val, &revision); err != nil {
					return fmt.Errorf("failed to deserialize version: %w", err)
				}
				revisions = append(revisions, revision)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, types.NewStorageError("cluster history", err)
	}

	if len(revisions) == 0 {
		return nil, types.NewNotFoundError("cluster", id)
	}
	return revisions, nil
}

// GetTenant loads a tenant by id.
func (s *BadgerStore) GetTenant(ctx context.Context, id string) (*types.Tenant, error) {
	var tenant types.Tenant
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, MakeKey(tenantKeySpace, id), &tenant)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, types.NewNotFoundError("tenant", id)
	}
	if err != nil {
		return nil, types.NewStorageError("get tenant", err)
	}
	return &tenant, nil
}

// SaveTenant inserts or replaces a tenant.
func (s *BadgerStore) SaveTenant(ctx context.Context, tenant *types.Tenant) error {
	if err := tenant.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(tenant)
	if err != nil {
		return types.NewStorageError("save tenant", fmt.Errorf("failed to serialize tenant: %w", err))
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(MakeKey(tenantKeySpace, tenant.ID), data)
	})
	if err != nil {
		return types.NewStorageError("save tenant", err)
	}

	s.logger.Debug("Saved tenant", log.TenantID(tenant.ID))
	return nil
}

// ListTenants returns every tenant ordered by id (Badger iterates keys in order).
func (s *BadgerStore) ListTenants(ctx context.Context) ([]*types.Tenant, error) {
	var tenants []*types.Tenant
	err := s.db.View(func(txn *badger.Txn) error {
		return scanJSON(txn, MakePrefix(tenantKeySpace), func(val []byte) error {
			var tenant types.Tenant
			if err := json.Unmarshal(val, &tenant); err != nil {
				return fmt.Errorf("failed to deserialize tenant: %w", err)
			}
			tenants = append(tenants, &tenant)
			return nil
		})
	})
	if err != nil {
		return nil, types.NewStorageError("list tenants", err)
	}
	return tenants, nil
}

func getJSON(txn *badger.Txn, key []byte, v interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func scanJSON(txn *badger.Txn, prefix []byte, fn func(val []byte) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

// versionClock hands out strictly increasing timestamps so two saves within the
// same clock tick still get distinct, ordered version keys.
type versionClock struct {
	mu   sync.Mutex
	last time.Time
}

func (c *versionClock) next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	if !now.After(c.last) {
		now = c.last.Add(time.Nanosecond)
	}
	c.last = now
	return now
}

// badgerLogAdapter adapts our logger to BadgerDB's logger interface.
type badgerLogAdapter struct {
	logger log.Logger
}

// Errorf implements badger.Logger.
func (l *badgerLogAdapter) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf("BadgerDB: "+format, args...))
}

// Warningf implements badger.Logger.
func (l *badgerLogAdapter) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf("BadgerDB: "+format, args...))
}

// Infof implements badger.Logger.
func (l *badgerLogAdapter) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf("BadgerDB: "+format, args...))
}

// Debugf implements badger.Logger.
func (l *badgerLogAdapter) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf("BadgerDB: "+format, args...))
}
