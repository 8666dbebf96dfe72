package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rzbill/kadali/internal/config"
	"github.com/rzbill/kadali/pkg/log"
	"github.com/rzbill/kadali/pkg/metrics"
	"github.com/rzbill/kadali/pkg/orchestrator"
	"github.com/rzbill/kadali/pkg/orchestrator/idle"
	"github.com/rzbill/kadali/pkg/provisioner"
	"github.com/rzbill/kadali/pkg/store"
	"github.com/rzbill/kadali/pkg/store/postgres"
)

// newClientset is swapped for a fake clientset in tests.
var newClientset = provisioner.NewClientset

// openStore opens the configured record store backend.
func openStore(ctx context.Context, cfg *config.Config, logger log.Logger) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		logger.Warn("Using the in-memory store; cluster records are lost on restart")
		return store.NewMemoryStore(), nil

	case config.BackendPostgres:
		pg, err := postgres.New(ctx, cfg.Store.PostgresDSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("failed to migrate postgres schema: %w", err)
		}
		return pg, nil

	default:
		storeDir := filepath.Join(cfg.DataDir, "store")
		if err := os.MkdirAll(storeDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory %s: %w", storeDir, err)
		}
		bs := store.NewBadgerStore(logger)
		if err := bs.Open(storeDir); err != nil {
			return nil, err
		}
		return bs, nil
	}
}

// newProvisioner builds the Kubernetes provisioner from configuration.
func newProvisioner(cfg *config.Config, m *metrics.Metrics, logger log.Logger) (provisioner.Provisioner, error) {
	client, err := newClientset(cfg.Kubernetes.Kubeconfig)
	if err != nil {
		return nil, err
	}

	k8s := provisioner.NewKubernetes(client,
		provisioner.WithImage(cfg.Kubernetes.SparkImage),
		provisioner.WithServiceAccount(cfg.Kubernetes.ServiceAccount),
		provisioner.WithMasterURL(cfg.Kubernetes.MasterURL),
		provisioner.WithUIPort(cfg.Kubernetes.UIPort),
		provisioner.WithImagePullPolicy(cfg.Kubernetes.ImagePullPolicy),
		provisioner.WithLogger(logger),
	)
	return provisioner.Instrument(k8s, m), nil
}

// components is everything serve and sweep share.
type components struct {
	store   store.Store
	manager *orchestrator.ClusterManager
	reaper  *idle.Reaper
}

func (c *components) Close() error {
	return c.store.Close()
}

// build wires store, provisioner, lifecycle manager and reaper.
func build(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger log.Logger) (*components, error) {
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	p, err := newProvisioner(cfg, m, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	manager := orchestrator.NewClusterManager(st, p,
		orchestrator.WithProvisionTimeout(cfg.Lifecycle.ProvisionTimeout),
		orchestrator.WithDefaultIdleMinutes(cfg.Lifecycle.DefaultIdleMinutes),
		orchestrator.WithMetrics(m),
		orchestrator.WithLogger(logger),
	)

	reaper, err := idle.NewReaper(st, manager, idle.Options{
		Schedule:    cfg.Reaper.Schedule,
		Concurrency: cfg.Reaper.Concurrency,
		Metrics:     m,
		Logger:      logger,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	return &components{store: st, manager: manager, reaper: reaper}, nil
}
