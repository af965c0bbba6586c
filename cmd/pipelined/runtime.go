package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vladislavfirsov/content-pipeline/config"
	"github.com/vladislavfirsov/content-pipeline/contracts"
	"github.com/vladislavfirsov/content-pipeline/internal/audit"
	"github.com/vladislavfirsov/content-pipeline/internal/logger"
	"github.com/vladislavfirsov/content-pipeline/internal/orchestration"
	"github.com/vladislavfirsov/content-pipeline/internal/registry"
	"github.com/vladislavfirsov/content-pipeline/internal/service"
	"github.com/vladislavfirsov/content-pipeline/internal/store"
	"github.com/vladislavfirsov/content-pipeline/internal/tasks"
)

// runtime is the assembled process: registry, store and service.
type runtime struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *registry.Registry
	store    contracts.JobStore
	svc      *service.Service
}

// newRegistry registers the built-in tasks against the configured content service.
func newRegistry(cfg *config.Config, log *zap.Logger) (*registry.Registry, error) {
	reg := registry.New(registry.WithLogger(log.Named("registry")))
	client := tasks.NewHTTPClient(cfg.ContentService, tasks.WithClientLogger(log.Named("content")))
	if err := tasks.RegisterBuiltins(reg, client); err != nil {
		return nil, err
	}
	return reg, nil
}

// newRuntime wires every component from cfg.
func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	logger.Init(&cfg.Logging)
	log := logger.L()

	reg, err := newRegistry(cfg, log)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store, log)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Store.Backend, err)
	}

	orch := orchestration.NewOrchestratorWithOptions(reg, st, orchestration.FactoryOptions{
		MaxConcurrency: cfg.Executor.MaxConcurrency,
		GlobalLimit:    cfg.Executor.GlobalLimit,
		Deadline: orchestration.DeadlinePolicy{
			Factor:  cfg.Executor.DeadlineFactor,
			Default: cfg.Executor.DefaultTaskTimeout,
		},
		Logger:  log.Named("orchestrator"),
		OnEvent: audit.New(log).Record,
	})

	svc := service.New(service.Deps{
		Registry:     reg,
		Store:        st,
		Orchestrator: orch,
		Logger:       log.Named("service"),
	})

	return &runtime{cfg: cfg, logger: log, registry: reg, store: st, svc: svc}, nil
}

// close shuts the service down and releases the store.
func (r *runtime) close(ctx context.Context) error {
	err := r.svc.Shutdown(ctx)
	if cerr := r.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	logger.Sync()
	return err
}
