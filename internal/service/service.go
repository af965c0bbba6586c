// Package service is the submission boundary of the pipeline runtime. It
// turns client requests into resolved, persisted jobs, runs them in the
// background and answers status, cancellation and deletion requests.
package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"go.uber.org/zap"

	"github.com/vladislavfirsov/content-pipeline/config"
	"github.com/vladislavfirsov/content-pipeline/contracts"
	"github.com/vladislavfirsov/content-pipeline/internal/orchestration"
	"github.com/vladislavfirsov/content-pipeline/internal/templates"
)

var (
	// ErrShuttingDown is returned by Submit once Shutdown has begun.
	ErrShuttingDown = errors.New("service is shutting down")
	// ErrJobNotActive is returned when cancelling a job that has no runner in
	// this process.
	ErrJobNotActive = errors.New("job is not running in this process")

	errCancelRequested = errors.New("cancelled by request")
)

// SubmitRequest is one job submission. Exactly one of TemplateID and Config
// must be set.
type SubmitRequest struct {
	TemplateID string
	// Customization is applied to the template before resolution.
	Customization *templates.Customization
	Config        *contracts.PipelineConfig
	Inputs        map[contracts.TypeTag]any
	Settings      contracts.JobSettings
}

// Deps are the collaborators of a Service.
type Deps struct {
	Registry     contracts.TaskRegistry
	Store        contracts.JobStore
	Orchestrator contracts.Orchestrator
	Templates    *templates.Library
	Logger       *zap.Logger
}

// Service owns the lifecycle of jobs started in this process.
type Service struct {
	registry  contracts.TaskRegistry
	resolver  contracts.DependencyResolver
	store     contracts.JobStore
	orch      contracts.Orchestrator
	templates *templates.Library
	validator *config.Validator
	logger    *zap.Logger
	active    *activeJobs
}

// New creates a Service. Missing optional deps get defaults: the built-in
// template library, a default orchestrator and a no-op logger.
func New(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Templates == nil {
		deps.Templates = templates.New()
	}
	if deps.Orchestrator == nil {
		deps.Orchestrator = orchestration.NewOrchestratorWithOptions(deps.Registry, deps.Store, orchestration.FactoryOptions{
			Logger: deps.Logger,
		})
	}
	return &Service{
		registry:  deps.Registry,
		resolver:  orchestration.NewDependencyResolver(deps.Registry),
		store:     deps.Store,
		orch:      deps.Orchestrator,
		templates: deps.Templates,
		validator: config.NewValidator(),
		logger:    deps.Logger,
		active:    newActiveJobs(),
	}
}

// Submit validates and resolves the request, persists the job and starts it
// in the background. It returns as soon as the job is durably created.
// Configuration problems are returned before any job exists.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (contracts.JobID, error) {
	if s.active.closed() {
		return "", ErrShuttingDown
	}

	cfg, err := s.pipeline(req)
	if err != nil {
		return "", err
	}
	if err := s.validator.Validate(cfg); err != nil {
		return "", &contracts.ConfigurationError{
			Reason: "invalid pipeline",
			Err:    fmt.Errorf("%w: %w", contracts.ErrInvalidConfig, err),
		}
	}
	if err := validateSettings(cfg, req.Settings); err != nil {
		return "", err
	}

	seeds := slices.Sorted(maps.Keys(req.Inputs))
	graph, err := s.resolver.Resolve(cfg, seeds)
	if err != nil {
		return "", err
	}

	slot, err := s.active.reserve()
	if err != nil {
		return "", err
	}
	defer slot.release()

	id, err := s.store.Create(ctx, contracts.JobSpec{
		Config:   cfg,
		Inputs:   req.Inputs,
		Settings: req.Settings,
		Order:    graph.OrderIDs(),
	})
	if err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	job, err := s.store.Get(ctx, id)
	if err != nil {
		s.discard(ctx, id)
		return "", fmt.Errorf("load job %s: %w", id, err)
	}

	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	entry, err := slot.bind(id, cancel)
	if err != nil {
		cancel(err)
		s.discard(ctx, id)
		return "", err
	}

	s.logger.Info("job submitted",
		zap.String("job_id", string(id)),
		zap.String("pipeline", cfg.Name),
		zap.Strings("order", taskIDStrings(job.Order)))

	go func() {
		defer cancel(nil)
		status, err := s.orch.Run(runCtx, job, graph)
		if err != nil {
			s.logger.Error("job run failed",
				zap.String("job_id", string(id)),
				zap.Error(err))
		}
		s.active.finish(entry, status, err)
	}()

	return id, nil
}

// pipeline returns the configuration the request refers to.
func (s *Service) pipeline(req SubmitRequest) (contracts.PipelineConfig, error) {
	switch {
	case req.TemplateID != "" && req.Config != nil:
		return contracts.PipelineConfig{}, contracts.NewConfigurationError("", contracts.ErrInvalidConfig, "template_id and config are mutually exclusive")
	case req.TemplateID != "":
		if req.Customization != nil {
			return s.templates.Customize(req.TemplateID, *req.Customization)
		}
		return s.templates.Get(req.TemplateID)
	case req.Config != nil:
		return req.Config.Clone(), nil
	default:
		return contracts.PipelineConfig{}, contracts.NewConfigurationError("", contracts.ErrInvalidConfig, "one of template_id or config is required")
	}
}

func validateSettings(cfg contracts.PipelineConfig, st contracts.JobSettings) error {
	if st.MaxConcurrency < 0 {
		return contracts.NewConfigurationError("", contracts.ErrInvalidConfig, "max_concurrency must be >= 0")
	}
	ids := cfg.TaskIDs()
	for _, id := range slices.Sorted(maps.Keys(st.Timeouts)) {
		if !slices.Contains(ids, id) {
			return contracts.NewConfigurationError(id, contracts.ErrTaskNotFound, "timeout for task outside the pipeline")
		}
		if st.Timeouts[id] < 0 {
			return contracts.NewConfigurationError(id, contracts.ErrInvalidConfig, "negative timeout")
		}
	}
	for _, id := range slices.Sorted(maps.Keys(st.TaskOptions)) {
		if !slices.Contains(ids, id) {
			return contracts.NewConfigurationError(id, contracts.ErrTaskNotFound, "options for task outside the pipeline")
		}
	}
	return nil
}

// Status returns the current snapshot of a job.
func (s *Service) Status(ctx context.Context, id contracts.JobID) (*contracts.Job, error) {
	return s.store.Get(ctx, id)
}

// List returns job summaries, newest first.
func (s *Service) List(ctx context.Context, filter contracts.ListFilter) ([]contracts.JobSummary, error) {
	return s.store.List(ctx, filter)
}

// Cancel asks a running job to stop. Tasks already started run to
// completion; everything else is skipped.
func (s *Service) Cancel(ctx context.Context, id contracts.JobID) error {
	if s.active.cancel(id, errCancelRequested) {
		s.logger.Info("job cancel requested", zap.String("job_id", string(id)))
		return nil
	}
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("job %s is %s: %w", id, job.Status, contracts.ErrJobFinalized)
	}
	return fmt.Errorf("job %s: %w", id, ErrJobNotActive)
}

// Delete removes a job. A job still running is cancelled first and its
// runner awaited. Deleting an unknown job succeeds.
func (s *Service) Delete(ctx context.Context, id contracts.JobID) error {
	if e, ok := s.active.get(id); ok {
		e.cancel(errCancelRequested)
		select {
		case <-e.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("job deleted", zap.String("job_id", string(id)))
	return nil
}

// Wait blocks until a job started by this process ends, then returns its
// terminal status. Jobs without a local runner report their stored status.
func (s *Service) Wait(ctx context.Context, id contracts.JobID) (contracts.JobStatus, error) {
	if e, ok := s.active.get(id); ok {
		select {
		case <-e.done:
			return e.status, e.err
		case <-ctx.Done():
			return contracts.JobPending, ctx.Err()
		}
	}
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return contracts.JobPending, err
	}
	return job.Status, nil
}

// Tasks returns the metadata of every registered task, sorted by id.
func (s *Service) Tasks() []contracts.TaskMetadata {
	var out []contracts.TaskMetadata
	for m := range s.registry.All() {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b contracts.TaskMetadata) int { return cmp.Compare(a.TaskID, b.TaskID) })
	return out
}

// Templates returns the template catalogue.
func (s *Service) Templates() []templates.TemplateInfo {
	return s.templates.List()
}

// Template returns one catalogue entry and its configuration.
func (s *Service) Template(id string) (templates.TemplateInfo, contracts.PipelineConfig, error) {
	info, err := s.templates.Info(id)
	if err != nil {
		return info, contracts.PipelineConfig{}, err
	}
	cfg, err := s.templates.Get(id)
	return info, cfg, err
}

// Active returns the number of jobs currently running in this process.
func (s *Service) Active() int {
	return s.active.len()
}

// Shutdown stops accepting submissions, cancels every running job and waits
// for their runners to record the outcome. It returns ctx.Err() if the
// runners do not finish in time.
func (s *Service) Shutdown(ctx context.Context) error {
	cancelled := s.active.close(ErrShuttingDown)
	if cancelled > 0 {
		s.logger.Info("cancelling active jobs", zap.Int("count", cancelled))
	}
	if remaining := s.active.wait(ctx); remaining > 0 {
		s.logger.Warn("jobs still running at shutdown", zap.Int("count", remaining))
		return fmt.Errorf("%d jobs still running: %w", remaining, ctx.Err())
	}
	return nil
}

// discard removes the record of a job that will never get a runner.
func (s *Service) discard(ctx context.Context, id contracts.JobID) {
	if err := s.store.Delete(context.WithoutCancel(ctx), id); err != nil {
		s.logger.Error("discard unstarted job", zap.String("job_id", string(id)), zap.Error(err))
	}
}

func taskIDStrings(ids []contracts.TaskID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
