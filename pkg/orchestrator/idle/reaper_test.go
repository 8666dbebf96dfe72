package idle

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/kadali/pkg/log"
	"github.com/rzbill/kadali/pkg/metrics"
	"github.com/rzbill/kadali/pkg/orchestrator"
	"github.com/rzbill/kadali/pkg/provisioner"
	"github.com/rzbill/kadali/pkg/store"
	"github.com/rzbill/kadali/pkg/store/storetest"
	"github.com/rzbill/kadali/pkg/types"
)

var t0 = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

type reaperEnv struct {
	ctx     context.Context
	store   *store.MemoryStore
	prov    *provisioner.MockProvisioner
	clock   *orchestrator.ManualClock
	logger  *log.TestLogger
	metrics *metrics.Metrics
	manager *orchestrator.ClusterManager
	reaper  *Reaper
}

func setupReaper(t *testing.T) *reaperEnv {
	t.Helper()
	env := &reaperEnv{
		ctx:     context.Background(),
		store:   store.NewMemoryStore(),
		prov:    new(provisioner.MockProvisioner),
		clock:   orchestrator.NewManualClock(t0),
		logger:  log.NewTestLogger(),
		metrics: metrics.New(),
	}
	env.manager = orchestrator.NewClusterManager(env.store, env.prov,
		orchestrator.WithClock(env.clock),
		orchestrator.WithLogger(env.logger),
	)

	r, err := NewReaper(env.store, env.manager, Options{
		Clock:   env.clock,
		Metrics: env.metrics,
		Logger:  env.logger,
	})
	require.NoError(t, err)
	env.reaper = r
	return env
}

// seed stores a RUNNING cluster that was last active at lastActivity.
func (e *reaperEnv) seed(t *testing.T, id string, lastActivity time.Time, idleMinutes int) *types.Cluster {
	t.Helper()
	c := storetest.NewCluster(id, "acme", lastActivity)
	c.IdleMinutes = idleMinutes
	require.NoError(t, e.store.SaveCluster(e.ctx, c))
	return c
}

func (e *reaperEnv) status(t *testing.T, id string) types.ClusterStatus {
	t.Helper()
	c, err := e.store.FindCluster(e.ctx, id)
	require.NoError(t, err)
	return c.Status
}

func TestSweepTerminatesIdleCluster(t *testing.T) {
	env := setupReaper(t)
	env.seed(t, "c1", t0, types.DefaultIdleMinutes)
	env.prov.On("Deprovision", mock.Anything, "c1", "acme").Return(nil)

	env.clock.Advance(61 * time.Minute)
	result, err := env.reaper.Sweep(env.ctx)
	require.NoError(t, err)

	assert.Equal(t, SweepResult{Examined: 1, Idle: 1, Terminated: 1}, result)
	assert.Equal(t, types.ClusterStatusTerminated, env.status(t, "c1"))
	assert.True(t, env.logger.AssertLoggedWithField(log.InfoLevel, "Terminating idle cluster", log.ClusterIDKey, "c1"))
}

func TestSweepIdleBoundary(t *testing.T) {
	tests := []struct {
		name        string
		idleMinutes int
		inactive    time.Duration
		terminated  bool
	}{
		{"well within budget", 60, 30 * time.Minute, false},
		{"exactly at deadline", 60, 60 * time.Minute, false},
		{"just past deadline", 60, 60*time.Minute + time.Second, true},
		{"short budget", 5, 6 * time.Minute, true},
		{"one minute budget", 1, time.Minute + time.Nanosecond, true},
		{"disabled budget", 0, 48 * time.Hour, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupReaper(t)
			env.seed(t, "c1", t0, tt.idleMinutes)
			env.prov.On("Deprovision", mock.Anything, "c1", "acme").Return(nil)

			env.clock.Advance(tt.inactive)
			result, err := env.reaper.Sweep(env.ctx)
			require.NoError(t, err)

			if tt.terminated {
				assert.Equal(t, 1, result.Terminated)
				assert.Equal(t, types.ClusterStatusTerminated, env.status(t, "c1"))
			} else {
				assert.Zero(t, result.Terminated)
				assert.Equal(t, types.ClusterStatusRunning, env.status(t, "c1"))
				env.prov.AssertNotCalled(t, "Deprovision", mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestSweepIgnoresNonRunningClusters(t *testing.T) {
	env := setupReaper(t)
	for _, status := range []types.ClusterStatus{
		types.ClusterStatusCreating,
		types.ClusterStatusIdle,
		types.ClusterStatusError,
		types.ClusterStatusTerminated,
	} {
		c := env.seed(t, string(status), t0, 10)
		c.Status = status
		require.NoError(t, env.store.SaveCluster(env.ctx, c))
	}

	env.clock.Advance(24 * time.Hour)
	result, err := env.reaper.Sweep(env.ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Examined)
	env.prov.AssertNotCalled(t, "Deprovision", mock.Anything, mock.Anything, mock.Anything)
}

func TestSweepContinuesPastFailures(t *testing.T) {
	env := setupReaper(t)
	env.seed(t, "broken", t0, 10)
	env.seed(t, "healthy", t0, 10)
	env.seed(t, "fresh", t0.Add(55*time.Minute), 10)
	env.prov.On("Deprovision", mock.Anything, "broken", "acme").Return(errors.New("connection refused"))
	env.prov.On("Deprovision", mock.Anything, "healthy", "acme").Return(nil)

	env.clock.Advance(time.Hour)
	result, err := env.reaper.Sweep(env.ctx)
	require.NoError(t, err)

	assert.Equal(t, SweepResult{Examined: 3, Idle: 2, Terminated: 1, Failed: 1}, result)
	assert.Equal(t, types.ClusterStatusError, env.status(t, "broken"))
	assert.Equal(t, types.ClusterStatusTerminated, env.status(t, "healthy"))
	assert.Equal(t, types.ClusterStatusRunning, env.status(t, "fresh"))
	assert.True(t, env.logger.AssertLoggedWithField(log.ErrorLevel, "Failed to terminate idle cluster", log.ClusterIDKey, "broken"))

	expected := `
# HELP kadali_reaper_terminations_total Total number of idle terminations attempted by result
# TYPE kadali_reaper_terminations_total counter
kadali_reaper_terminations_total{result="error"} 1
kadali_reaper_terminations_total{result="success"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(env.metrics.Registry(), strings.NewReader(expected), "kadali_reaper_terminations_total"))
}

func TestSweepSkipsClustersAlreadyTerminating(t *testing.T) {
	env := setupReaper(t)
	env.seed(t, "c1", t0, 10)
	env.prov.On("Deprovision", mock.Anything, "c1", "acme").Return(nil).Once()

	env.clock.Advance(time.Hour)
	_, err := env.manager.Terminate(env.ctx, "c1")
	require.NoError(t, err)

	result, err := env.reaper.Sweep(env.ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Examined)
	env.prov.AssertNumberOfCalls(t, "Deprovision", 1)
}

func TestSweepStoreFailure(t *testing.T) {
	env := setupReaper(t)
	failing := &failingStore{ClusterStore: env.store, err: types.NewStorageError("query", errors.New("connection reset"))}
	r, err := NewReaper(failing, env.manager, Options{Clock: env.clock, Logger: env.logger})
	require.NoError(t, err)

	_, err = r.Sweep(env.ctx)
	require.Error(t, err)
	assert.True(t, types.IsStorageError(err))
}

func TestNewReaperRejectsBadSchedule(t *testing.T) {
	_, err := NewReaper(store.NewMemoryStore(), nil, Options{Schedule: "every five minutes"})
	require.Error(t, err)
	assert.True(t, types.IsInvalidArgument(err))
}

func TestParseSchedule(t *testing.T) {
	for _, spec := range []string{"@every 5m", "*/5 * * * *", "@hourly"} {
		_, err := ParseSchedule(spec)
		assert.NoError(t, err, spec)
	}
	_, err := ParseSchedule("* * *")
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	env := setupReaper(t)
	env.seed(t, "c1", t0, 10)
	env.prov.On("Deprovision", mock.Anything, "c1", "acme").Return(nil)
	env.clock.Advance(time.Hour)

	r, err := NewReaper(env.store, env.manager, Options{
		Schedule: "@every 1s",
		Clock:    env.clock,
		Logger:   env.logger,
	})
	require.NoError(t, err)

	require.NoError(t, r.Start(env.ctx))
	require.NoError(t, r.Start(env.ctx), "second start is a no-op")

	assert.Eventually(t, func() bool {
		c, err := env.store.FindCluster(env.ctx, "c1")
		return err == nil && c.Status == types.ClusterStatusTerminated
	}, 5*time.Second, 50*time.Millisecond)

	r.Stop()
	r.Stop()
	assert.True(t, env.logger.AssertLogged(log.InfoLevel, "Idle reaper stopped"))
}

func TestScheduledSweepOutlivesStartContext(t *testing.T) {
	env := setupReaper(t)
	env.seed(t, "c1", t0, 10)
	env.prov.On("Deprovision", mock.Anything, "c1", "acme").Return(nil)
	env.clock.Advance(time.Hour)

	r, err := NewReaper(env.store, env.manager, Options{
		Schedule: "@every 1s",
		Clock:    env.clock,
		Logger:   env.logger,
	})
	require.NoError(t, err)

	// serve cancels its signal context before it stops the reaper
	ctx, cancel := context.WithCancel(env.ctx)
	require.NoError(t, r.Start(ctx))
	cancel()

	assert.Eventually(t, func() bool {
		c, err := env.store.FindCluster(env.ctx, "c1")
		return err == nil && c.Status == types.ClusterStatusTerminated
	}, 5*time.Second, 50*time.Millisecond)

	r.Stop()
	assert.False(t, env.logger.AssertLogged(log.ErrorLevel, "Idle sweep failed"))
}

type failingStore struct {
	store.ClusterStore
	err error
}

func (f *failingStore) FindRunningOlderThan(ctx context.Context, threshold time.Time) ([]*types.Cluster, error) {
	return nil, f.err
}
