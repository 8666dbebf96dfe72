// Package idle terminates clusters that have outlived their idle budget.
package idle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/rzbill/kadali/pkg/log"
	"github.com/rzbill/kadali/pkg/metrics"
	"github.com/rzbill/kadali/pkg/orchestrator"
	"github.com/rzbill/kadali/pkg/store"
	"github.com/rzbill/kadali/pkg/types"
)

const (
	// DefaultSchedule runs a sweep every five minutes.
	DefaultSchedule = "@every 5m"

	// DefaultConcurrency is the number of terminations a sweep runs in parallel.
	DefaultConcurrency = 4
)

// No cluster can be idle before one minute of inactivity, so the store query
// can safely cut there and leave the exact deadline check to the cluster.
const minIdleBudget = time.Minute

// Terminator is the part of the lifecycle manager the reaper drives.
type Terminator interface {
	Terminate(ctx context.Context, id string) (*types.Cluster, error)
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	// Examined is the number of RUNNING clusters the store returned.
	Examined int
	// Idle is the number of clusters found past their deadline.
	Idle       int
	Terminated int
	Failed     int
}

// Options configures a Reaper.
type Options struct {
	// Schedule is a cron expression or descriptor ("@every 5m").
	Schedule string

	// Concurrency limits parallel terminations within one sweep.
	Concurrency int

	Clock   orchestrator.Clock
	Metrics *metrics.Metrics
	Logger  log.Logger
}

// Reaper periodically terminates RUNNING clusters whose last activity is older
// than their idle budget. It goes through the same Terminate call as API users,
// so a cluster being terminated by hand is a no-op for the sweep.
type Reaper struct {
	store       store.ClusterStore
	terminator  Terminator
	schedule    string
	concurrency int
	clock       orchestrator.Clock
	metrics     *metrics.Metrics
	logger      log.Logger

	mu        sync.Mutex
	isRunning bool
	cron      *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc

	// sweeps never overlap, whether scheduled or triggered by hand
	sweepMu sync.Mutex
}

// NewReaper creates a reaper. It does nothing until Start or Sweep is called.
func NewReaper(st store.ClusterStore, terminator Terminator, opts Options) (*Reaper, error) {
	if opts.Schedule == "" {
		opts.Schedule = DefaultSchedule
	}
	if _, err := ParseSchedule(opts.Schedule); err != nil {
		return nil, err
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Clock == nil {
		opts.Clock = orchestrator.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.GetDefaultLogger()
	}

	return &Reaper{
		store:       st,
		terminator:  terminator,
		schedule:    opts.Schedule,
		concurrency: opts.Concurrency,
		clock:       opts.Clock,
		metrics:     opts.Metrics,
		logger:      opts.Logger.WithComponent("idle-reaper"),
	}, nil
}

// ParseSchedule parses a five-field cron expression or a descriptor such as
// "@every 5m" or "@hourly".
func ParseSchedule(spec string) (cron.Schedule, error) {
	schedule, err := parser().Parse(spec)
	if err != nil {
		return nil, types.NewValidationError(fmt.Sprintf("invalid reaper schedule %q: %v", spec, err))
	}
	return schedule, nil
}

func parser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// Start schedules periodic sweeps. Calling Start on a running reaper is a no-op.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isRunning {
		return nil
	}

	cl := cronLogger{logger: r.logger}
	c := cron.New(
		cron.WithParser(parser()),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	// Sweeps outlive the caller's cancellation; only Stop ends them.
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	if _, err := c.AddFunc(r.schedule, r.runScheduled); err != nil {
		r.cancel()
		return fmt.Errorf("failed to schedule idle sweep: %w", err)
	}

	c.Start()
	r.cron = c
	r.isRunning = true

	r.logger.Info("Started idle reaper", log.Str("schedule", r.schedule), log.Int("concurrency", r.concurrency))
	return nil
}

// Stop cancels future sweeps and waits for a running one to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return
	}
	c, cancel := r.cron, r.cancel
	r.isRunning = false
	r.mu.Unlock()

	// a sweep in flight finishes its terminations before we cancel
	<-c.Stop().Done()
	cancel()

	r.logger.Info("Idle reaper stopped")
}

func (r *Reaper) runScheduled() {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()

	if _, err := r.Sweep(ctx); err != nil {
		r.logger.Error("Idle sweep failed", log.Err(err))
	}
}

// Sweep runs one reconciliation pass. Failures terminating single clusters are
// logged and counted; only a failure to query the store is returned.
func (r *Reaper) Sweep(ctx context.Context) (SweepResult, error) {
	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()

	var result SweepResult
	now := r.clock.Now()
	start := time.Now()

	candidates, err := r.store.FindRunningOlderThan(ctx, now.Add(-minIdleBudget))
	if err != nil {
		return result, fmt.Errorf("failed to query running clusters: %w", err)
	}
	result.Examined = len(candidates)

	var (
		terminated atomic.Int64
		failed     atomic.Int64
		g          errgroup.Group
	)
	g.SetLimit(r.concurrency)

	for _, c := range candidates {
		if !c.IsIdleAt(now) {
			continue
		}
		result.Idle++

		deadline, _ := c.IdleDeadline()
		logger := r.logger.With(
			log.ClusterID(c.ID),
			log.TenantID(c.TenantID),
			log.Duration("idle_for", now.Sub(c.LastActivityAt)),
			log.Time("deadline", deadline),
		)
		id := c.ID

		g.Go(func() error {
			logger.Info("Terminating idle cluster")
			if _, err := r.terminator.Terminate(ctx, id); err != nil {
				logger.Error("Failed to terminate idle cluster", log.Err(err))
				failed.Add(1)
				return nil
			}
			terminated.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	result.Terminated = int(terminated.Load())
	result.Failed = int(failed.Load())
	r.metrics.RecordSweep(r.clock.Now(), result.Terminated, result.Failed)

	r.logger.Debug("Idle sweep finished",
		log.Int("examined", result.Examined),
		log.Int("idle", result.Idle),
		log.Int("terminated", result.Terminated),
		log.Int("failed", result.Failed),
		log.Duration("took", time.Since(start)),
	)
	return result, nil
}

// cronLogger adapts log.Logger to cron.Logger.
type cronLogger struct {
	logger log.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(kvFields(keysAndValues), log.Err(err))...)
}

func kvFields(keysAndValues []interface{}) []log.Field {
	fields := make([]log.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		fields = append(fields, log.Any(key, keysAndValues[i+1]))
	}
	return fields
}
