// Package orchestrator drives clusters through their lifecycle: it persists each
// status change and calls the provisioner in between.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rzbill/kadali/pkg/log"
	"github.com/rzbill/kadali/pkg/metrics"
	"github.com/rzbill/kadali/pkg/provisioner"
	"github.com/rzbill/kadali/pkg/store"
	"github.com/rzbill/kadali/pkg/types"
)

// DefaultProvisionTimeout bounds every provisioner call.
const DefaultProvisionTimeout = 2 * time.Minute

// recordTimeout bounds the store writes that follow a provisioner call.
const recordTimeout = 30 * time.Second

// CreateRequest is the input of ClusterManager.Create.
type CreateRequest struct {
	TenantID  string
	Name      string
	Type      types.ClusterType
	Resources types.ResourceShape

	// IdleMinutes overrides the manager's default idle budget. Zero disables idle
	// termination for the cluster.
	IdleMinutes *int
}

// Validate checks the request without touching any store.
func (r *CreateRequest) Validate() error {
	var problems []string

	if strings.TrimSpace(r.TenantID) == "" {
		problems = append(problems, "tenant id is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		problems = append(problems, "name is required")
	}
	if _, err := types.ParseClusterType(string(r.Type)); err != nil {
		problems = append(problems, err.Error())
	}
	if err := r.Resources.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if r.IdleMinutes != nil && *r.IdleMinutes < 0 {
		problems = append(problems, fmt.Sprintf("idleMinutes must not be negative, got %d", *r.IdleMinutes))
	}

	if len(problems) > 0 {
		return types.NewValidationError(strings.Join(problems, "; "))
	}
	return nil
}

// ClusterManager is the lifecycle state machine. It is safe for concurrent use by
// request handlers and the idle reaper: transitions of one cluster are serialized
// in-process and every decision is taken on the freshly loaded status.
type ClusterManager struct {
	store       store.Store
	provisioner provisioner.Provisioner
	metrics     *metrics.Metrics
	clock       Clock
	logger      log.Logger

	provisionTimeout   time.Duration
	defaultIdleMinutes int

	locks *keyedMutex
}

// ManagerOption configures a ClusterManager.
type ManagerOption func(*ClusterManager)

// WithClock sets the clock used for every timestamp.
func WithClock(c Clock) ManagerOption {
	return func(m *ClusterManager) {
		m.clock = c
	}
}

// WithProvisionTimeout bounds each provisioner call.
func WithProvisionTimeout(d time.Duration) ManagerOption {
	return func(m *ClusterManager) {
		if d > 0 {
			m.provisionTimeout = d
		}
	}
}

// WithDefaultIdleMinutes sets the idle budget of clusters created without one.
func WithDefaultIdleMinutes(minutes int) ManagerOption {
	return func(m *ClusterManager) {
		if minutes >= 0 {
			m.defaultIdleMinutes = minutes
		}
	}
}

// WithMetrics records transitions into m.
func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *ClusterManager) {
		m.metrics = mt
	}
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) ManagerOption {
	return func(m *ClusterManager) {
		m.logger = logger
	}
}

// NewClusterManager creates a lifecycle manager over the given store and provisioner.
func NewClusterManager(st store.Store, p provisioner.Provisioner, opts ...ManagerOption) *ClusterManager {
	m := &ClusterManager{
		store:              st,
		provisioner:        p,
		clock:              RealClock{},
		logger:             log.GetDefaultLogger(),
		provisionTimeout:   DefaultProvisionTimeout,
		defaultIdleMinutes: types.DefaultIdleMinutes,
		locks:              newKeyedMutex(),
	}
	for _, o := range opts {
		o(m)
	}
	m.logger = m.logger.WithComponent("cluster-manager")
	return m
}

// Create validates the request, persists a CREATING record and provisions the
// driver. The returned cluster is RUNNING on success. If provisioning fails the
// cluster is returned in ERROR together with the ProvisionError.
func (m *ClusterManager) Create(ctx context.Context, req CreateRequest) (*types.Cluster, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	clusterType, _ := types.ParseClusterType(string(req.Type))

	tenant, err := m.store.GetTenant(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	if !tenant.IsActive() {
		return nil, types.NewValidationError(fmt.Sprintf("tenant %s is %s", tenant.ID, tenant.Status))
	}

	idleMinutes := m.defaultIdleMinutes
	if req.IdleMinutes != nil {
		idleMinutes = *req.IdleMinutes
	}

	now := m.clock.Now()
	cluster := &types.Cluster{
		ID:             uuid.NewString(),
		TenantID:       tenant.ID,
		Name:           strings.TrimSpace(req.Name),
		Type:           clusterType,
		Resources:      req.Resources,
		Namespace:      types.NamespaceForTenant(tenant.ID),
		Status:         types.ClusterStatusCreating,
		IdleMinutes:    idleMinutes,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	logger := m.logger.With(log.ClusterID(cluster.ID), log.TenantID(cluster.TenantID))

	if err := m.store.SaveCluster(ctx, cluster); err != nil {
		return nil, err
	}
	m.metrics.RecordTransition("", string(types.ClusterStatusCreating))
	logger.Info("Cluster created", log.Str("name", cluster.Name), log.Str("type", string(cluster.Type)))

	pctx, cancel := m.provisionContext(ctx)
	placement, perr := m.provisioner.Provision(pctx, cluster.ID, cluster.TenantID, cluster.Resources)
	cancel()
	perr = m.classify(pctx, provisioner.OpProvision, cluster.ID, perr)

	// The driver may exist now; its record must leave CREATING even if the
	// caller has gone away.
	rctx, rcancel := recordContext(ctx)
	defer rcancel()

	if perr != nil {
		logger.Error("Provisioning failed", log.Err(perr))
		if err := m.apply(rctx, cluster, types.ClusterStatusError, perr.Error()); err != nil {
			return cluster, errors.Join(perr, err)
		}
		return cluster, perr
	}

	started := m.clock.Now()
	cluster.Namespace = placement.Namespace
	cluster.DriverName = placement.DriverName
	cluster.UIEndpoint = placement.UIEndpoint
	cluster.StartedAt = &started
	cluster.LastActivityAt = started
	if err := m.apply(rctx, cluster, types.ClusterStatusRunning, ""); err != nil {
		// The driver exists but the record still says CREATING.
		logger.Error("Failed to record running cluster", log.Err(err))
		return nil, err
	}

	logger.Info("Cluster running", log.Str("driver", cluster.DriverName), log.Str("ui", cluster.UIEndpoint))
	return cluster, nil
}

// Terminate tears a RUNNING cluster down. Terminating a cluster that is already
// TERMINATING or TERMINATED returns it unchanged, so concurrent calls produce a
// single transition.
func (m *ClusterManager) Terminate(ctx context.Context, id string) (*types.Cluster, error) {
	unlock := m.locks.Lock(id)
	cluster, err := m.store.FindCluster(ctx, id)
	if err != nil {
		unlock()
		return nil, err
	}

	logger := m.logger.With(log.ClusterID(id), log.TenantID(cluster.TenantID))

	if cluster.Status.IsShuttingDown() {
		unlock()
		logger.Debug("Cluster already shutting down", log.Str("status", string(cluster.Status)))
		return cluster, nil
	}

	if err := m.apply(ctx, cluster, types.ClusterStatusTerminating, ""); err != nil {
		unlock()
		return nil, err
	}
	unlock()
	logger.Info("Terminating cluster")

	pctx, cancel := m.provisionContext(ctx)
	derr := m.provisioner.Deprovision(pctx, id, cluster.TenantID)
	cancel()
	derr = m.classify(pctx, provisioner.OpDeprovision, id, derr)

	unlock = m.locks.Lock(id)
	defer unlock()

	rctx, rcancel := recordContext(ctx)
	defer rcancel()

	// Reload so the final write never rolls back a concurrent update.
	cluster, err = m.store.FindCluster(rctx, id)
	if err != nil {
		return nil, errors.Join(derr, err)
	}
	if cluster.Status != types.ClusterStatusTerminating {
		logger.Warn("Cluster left TERMINATING while deprovisioning", log.Str("status", string(cluster.Status)))
		return cluster, derr
	}

	if derr != nil {
		logger.Error("Deprovisioning failed", log.Err(derr))
		if err := m.apply(rctx, cluster, types.ClusterStatusError, derr.Error()); err != nil {
			return cluster, errors.Join(derr, err)
		}
		return cluster, derr
	}

	terminated := m.clock.Now()
	cluster.TerminatedAt = &terminated
	if err := m.apply(rctx, cluster, types.ClusterStatusTerminated, ""); err != nil {
		return nil, err
	}
	logger.Info("Cluster terminated")
	return cluster, nil
}

// RecordActivity marks the cluster as used now. It only succeeds while the cluster
// is RUNNING or IDLE; IDLE clusters move back to RUNNING.
func (m *ClusterManager) RecordActivity(ctx context.Context, id string) (*types.Cluster, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	cluster, err := m.store.FindCluster(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cluster.Status.IsActive() {
		return nil, &types.TransitionError{ClusterID: id, From: cluster.Status, To: types.ClusterStatusRunning}
	}

	cluster.LastActivityAt = m.clock.Now()
	if cluster.Status == types.ClusterStatusIdle {
		if err := m.apply(ctx, cluster, types.ClusterStatusRunning, ""); err != nil {
			return nil, err
		}
		return cluster, nil
	}

	if err := m.store.SaveCluster(ctx, cluster); err != nil {
		return nil, err
	}
	return cluster, nil
}

// Get returns the stored cluster. It never calls the provisioner.
func (m *ClusterManager) Get(ctx context.Context, id string) (*types.Cluster, error) {
	return m.store.FindCluster(ctx, id)
}

// RefreshUIEndpoint resolves and saves the UI endpoint of a RUNNING cluster whose
// driver had no address at create time. Lookup failures are logged and the
// cluster is returned as stored.
func (m *ClusterManager) RefreshUIEndpoint(ctx context.Context, cluster *types.Cluster) (*types.Cluster, error) {
	if cluster.Status != types.ClusterStatusRunning || cluster.UIEndpoint != "" {
		return cluster, nil
	}
	id := cluster.ID
	logger := m.logger.With(log.ClusterID(id), log.TenantID(cluster.TenantID))

	pctx, cancel := m.provisionContext(ctx)
	endpoint, err := m.provisioner.LocateUIEndpoint(pctx, id, cluster.TenantID)
	cancel()
	if err != nil {
		logger.Warn("Failed to locate UI endpoint", log.Err(err))
		return cluster, nil
	}
	if endpoint == "" {
		return cluster, nil
	}

	unlock := m.locks.Lock(id)
	defer unlock()

	rctx, rcancel := recordContext(ctx)
	defer rcancel()

	fresh, err := m.store.FindCluster(rctx, id)
	if err != nil {
		return nil, err
	}
	if fresh.Status != types.ClusterStatusRunning || fresh.UIEndpoint != "" {
		return fresh, nil
	}
	fresh.UIEndpoint = endpoint
	if err := m.store.SaveCluster(rctx, fresh); err != nil {
		logger.Warn("Failed to save UI endpoint", log.Err(err))
		fresh.UIEndpoint = ""
		return fresh, nil
	}
	logger.Debug("Resolved UI endpoint", log.Str("ui", endpoint))
	return fresh, nil
}

// ListByTenant returns the tenant's clusters, oldest first.
func (m *ClusterManager) ListByTenant(ctx context.Context, tenantID string) ([]*types.Cluster, error) {
	if _, err := m.store.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	return m.store.ListClustersByTenant(ctx, tenantID)
}

// History returns every saved revision of a cluster, newest first.
func (m *ClusterManager) History(ctx context.Context, id string) ([]store.ClusterRevision, error) {
	return m.store.ClusterHistory(ctx, id)
}

// Store exposes the record store the manager writes to.
func (m *ClusterManager) Store() store.Store {
	return m.store
}

// apply moves cluster to status, sets its status message and saves it.
func (m *ClusterManager) apply(ctx context.Context, cluster *types.Cluster, to types.ClusterStatus, message string) error {
	from := cluster.Status
	if err := cluster.Transition(to); err != nil {
		return err
	}
	cluster.StatusMessage = message
	if err := m.store.SaveCluster(ctx, cluster); err != nil {
		cluster.Status = from
		return err
	}
	m.metrics.RecordTransition(string(from), string(to))
	return nil
}

// provisionContext detaches a provisioner call from the caller's cancellation so
// a started call is never abandoned half way, and bounds it by the timeout.
func (m *ClusterManager) provisionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), m.provisionTimeout)
}

// recordContext detaches the store writes that record a provisioner outcome, so
// the record never stays CREATING or TERMINATING because the caller left.
func recordContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
}

// classify makes sure a failed or timed out provisioner call is a ProvisionError.
func (m *ClusterManager) classify(pctx context.Context, op, clusterID string, err error) error {
	if err == nil {
		return nil
	}
	if types.IsProvisionError(err) {
		return err
	}
	if errors.Is(pctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("timed out after %s: %w", m.provisionTimeout, err)
	}
	return types.NewProvisionError(op, clusterID, err)
}
