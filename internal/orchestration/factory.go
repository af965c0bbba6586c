package orchestration

import (
	"go.uber.org/zap"

	"github.com/vladislavfirsov/content-pipeline/contracts"
)

// FactoryOptions provides optional customization for orchestrator assembly.
type FactoryOptions struct {
	// MaxConcurrency is the default per-job in-flight limit. Defaults to 1.
	MaxConcurrency int

	// GlobalLimit bounds task invocations across all jobs. 0 means unbounded.
	GlobalLimit int

	// Deadline derives per-task soft deadlines. Zero value uses
	// DefaultDeadlinePolicy.
	Deadline DeadlinePolicy

	// Logger receives orchestration logs. Defaults to a no-op logger.
	Logger *zap.Logger

	// OnEvent observes durable job transitions (optional).
	OnEvent func(Event)
}

// NewOrchestratorWithDefaults creates an orchestrator with all default components.
// This is the simplest way to create a fully functional orchestrator.
func NewOrchestratorWithDefaults(registry contracts.TaskRegistry, store contracts.JobStore) contracts.Orchestrator {
	return NewOrchestratorWithOptions(registry, store, FactoryOptions{})
}

// NewOrchestratorWithOptions creates an orchestrator with custom options.
//
// The orchestrator is assembled with:
//   - ParallelExecutor with the default clock
//   - Global task slots bounded by opts.GlobalLimit
//   - Scheduler and QueueManager created per job
//   - DeadlinePolicy from opts.Deadline
func NewOrchestratorWithOptions(registry contracts.TaskRegistry, store contracts.JobStore, opts FactoryOptions) contracts.Orchestrator {
	deps := OrchestratorDeps{
		Registry: registry,
		Store:    store,
		Executor: NewParallelExecutor(),
		Logger:   opts.Logger,
	}
	o := Options{
		MaxConcurrency: opts.MaxConcurrency,
		GlobalLimit:    opts.GlobalLimit,
		Deadline:       opts.Deadline,
	}
	if opts.OnEvent != nil {
		return NewOrchestratorWithCallback(deps, o, opts.OnEvent)
	}
	return NewOrchestrator(deps, o)
}
