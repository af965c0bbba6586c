package orchestration

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/vladislavfirsov/content-pipeline/contracts"
	"github.com/vladislavfirsov/content-pipeline/internal/inputs"
)

// EventKind names a job lifecycle event.
type EventKind string

const (
	EventJobStarted    EventKind = "job_started"
	EventTaskStarted   EventKind = "task_started"
	EventTaskFinished  EventKind = "task_finished"
	EventTaskSkipped   EventKind = "task_skipped"
	EventJobCancelled  EventKind = "job_cancelled"
	EventJobFinished   EventKind = "job_finished"
	EventStorageFailed EventKind = "storage_failed"
)

// Event is emitted after the corresponding transition is durably written.
type Event struct {
	Kind       EventKind
	JobID      contracts.JobID
	TaskID     contracts.TaskID
	TaskStatus contracts.TaskStatus
	JobStatus  contracts.JobStatus
	Err        *contracts.TaskError
}

// orchestrator implements contracts.Orchestrator with an event-driven loop.
// Key design: one loop goroutine per job owns all job state and is the only
// Job Store writer for that job; task invocations run in their own
// goroutines and report back over a channel.
type orchestrator struct {
	registry contracts.TaskRegistry
	store    contracts.JobStore
	executor contracts.ParallelExecutor
	deadline DeadlinePolicy
	limit    int
	slots    *semaphore.Weighted // process-wide task slots, nil when unbounded
	logger   *zap.Logger
	now      func() time.Time

	// onEvent is called after each durable transition (optional).
	onEvent func(Event)
}

// OrchestratorDeps contains all dependencies needed by the orchestrator.
type OrchestratorDeps struct {
	Registry contracts.TaskRegistry
	Store    contracts.JobStore
	Executor contracts.ParallelExecutor
	Logger   *zap.Logger
}

// Options tunes the orchestrator.
type Options struct {
	// MaxConcurrency is the default in-flight task limit per job.
	MaxConcurrency int
	// GlobalLimit bounds running tasks across every job sharing this
	// orchestrator. 0 means unbounded.
	GlobalLimit int
	Deadline    DeadlinePolicy
	Clock       func() time.Time
}

// NewOrchestrator creates a new Orchestrator with the given dependencies.
// MaxConcurrency <= 0 defaults to 1.
func NewOrchestrator(deps OrchestratorDeps, opts Options) contracts.Orchestrator {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}
	if opts.Deadline == (DeadlinePolicy{}) {
		opts.Deadline = DefaultDeadlinePolicy()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if deps.Executor == nil {
		deps.Executor = NewParallelExecutor(WithClock(opts.Clock))
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	o := &orchestrator{
		registry: deps.Registry,
		store:    deps.Store,
		executor: deps.Executor,
		deadline: opts.Deadline,
		limit:    opts.MaxConcurrency,
		logger:   deps.Logger,
		now:      opts.Clock,
	}
	if opts.GlobalLimit > 0 {
		o.slots = semaphore.NewWeighted(int64(opts.GlobalLimit))
	}
	return o
}

// NewOrchestratorWithCallback creates an Orchestrator with an event callback.
// The callback runs on the job loop goroutine and must not block.
func NewOrchestratorWithCallback(deps OrchestratorDeps, opts Options, onEvent func(Event)) contracts.Orchestrator {
	o := NewOrchestrator(deps, opts).(*orchestrator)
	o.onEvent = onEvent
	return o
}

// completion is sent by a task goroutine when its invocation ends.
type completion struct {
	node   int
	result contracts.TaskResult
}

// grant reports the outcome of waiting for a global task slot.
type grant struct {
	node int
	err  error
}

// jobRun is the loop-local state of one Run call.
type jobRun struct {
	job       *contracts.Job
	graph     *contracts.ExecutionGraph
	tasks     []contracts.Task
	status    contracts.JobStatus
	states    []contracts.TaskStatus
	sched     contracts.Scheduler
	queue     contracts.QueueManager
	router    *inputs.Router
	builder   *inputs.Builder
	inflight  int
	waiting   int // nodes waiting for a global slot, still PENDING
	cancelled bool
	storeErr  error
}

// Run executes all tasks of job according to graph.
//
// Store writes use a context detached from ctx so that a cancelled job can
// still record its SKIPPED tasks, the results of tasks that were already
// running and its terminal status.
func (o *orchestrator) Run(ctx context.Context, job *contracts.Job, graph *contracts.ExecutionGraph) (contracts.JobStatus, error) {
	r, err := o.init(job, graph)
	if err != nil {
		return contracts.JobFailed, err
	}
	storeCtx := context.WithoutCancel(ctx)

	limit := o.limit
	if job.Settings.MaxConcurrency > 0 {
		limit = job.Settings.MaxConcurrency
	}

	for _, n := range r.sched.Ready() {
		r.queue.Enqueue(n)
	}

	// Sized to the graph so task goroutines never block on send.
	events := make(chan completion, graph.Len())
	grants := make(chan grant, graph.Len())
	done := ctx.Done()

	// Slot waiters stop on cancellation, storage failure or return.
	slotCtx, stopWaiting := context.WithCancel(ctx)
	defer stopWaiting()

	for {
		// 1. Observe cancellation before dispatching anything new
		if done != nil {
			select {
			case <-done:
				done = nil
				o.cancel(storeCtx, r, context.Cause(ctx))
			default:
			}
		}

		// 2. Dispatch while capacity remains
		for !r.cancelled && r.storeErr == nil && r.inflight+r.waiting < limit {
			n, ok := r.queue.Dequeue()
			if !ok {
				break
			}
			if o.slots == nil {
				o.start(ctx, storeCtx, r, n, events)
				continue
			}
			r.waiting++
			go func() {
				grants <- grant{node: n, err: o.slots.Acquire(slotCtx, 1)}
			}()
		}
		if r.storeErr != nil {
			stopWaiting()
		}

		// 3. Termination: nothing running, waiting or left to dispatch
		if r.inflight == 0 && r.waiting == 0 && (r.queue.Len() == 0 || r.cancelled || r.storeErr != nil) {
			break
		}

		// 4. Await the next completion, slot grant or cancellation
		select {
		case ev := <-events:
			r.inflight--
			o.record(storeCtx, r, ev.node, ev.result)

		case g := <-grants:
			r.waiting--
			if g.err != nil {
				continue
			}
			if r.cancelled || r.storeErr != nil || ctx.Err() != nil || r.states[g.node] != contracts.TaskPending {
				o.slots.Release(1)
				continue
			}
			o.start(ctx, storeCtx, r, g.node, events)

		case <-done:
			done = nil
			o.cancel(storeCtx, r, context.Cause(ctx))
		}
	}

	if r.storeErr != nil {
		o.emit(Event{Kind: EventStorageFailed, JobID: job.ID, JobStatus: r.status})
		o.logger.Error("job stopped on storage failure",
			zap.String("job_id", string(job.ID)),
			zap.Error(r.storeErr))
		return r.status, fmt.Errorf("job %s: %w", job.ID, r.storeErr)
	}

	return o.finalize(storeCtx, r)
}

// init validates inputs and prepares loop state.
func (o *orchestrator) init(job *contracts.Job, graph *contracts.ExecutionGraph) (*jobRun, error) {
	if job == nil || graph == nil {
		return nil, contracts.ErrInvalidInput
	}
	if job.Status.IsTerminal() {
		return nil, fmt.Errorf("job %s is %s: %w", job.ID, job.Status, contracts.ErrJobFinalized)
	}

	tasks := make([]contracts.Task, graph.Len())
	for i := range graph.Nodes {
		t, err := o.registry.Get(graph.Nodes[i].Spec.TaskID)
		if err != nil {
			return nil, err
		}
		tasks[i] = t
	}

	router := inputs.NewRouter(graph)
	return &jobRun{
		job:     job,
		graph:   graph,
		tasks:   tasks,
		status:  job.Status,
		states:  make([]contracts.TaskStatus, graph.Len()),
		sched:   NewScheduler(graph),
		queue:   NewQueueManager(graph),
		router:  router,
		builder: inputs.NewBuilder(job, graph, router),
	}, nil
}

// start persists the RUNNING transition of node n and hands it to the
// executor. With a global limit the caller holds a slot for n; start passes
// it on to the task goroutine or releases it.
func (o *orchestrator) start(ctx, storeCtx context.Context, r *jobRun, n int, events chan<- completion) {
	launched := false
	if o.slots != nil {
		defer func() {
			if !launched {
				o.slots.Release(1)
			}
		}()
	}

	node := &r.graph.Nodes[n]
	id := node.Spec.TaskID

	if r.status == contracts.JobPending {
		if err := o.store.SetStatus(storeCtx, r.job.ID, contracts.JobRunning); err != nil {
			r.storeErr = err
			return
		}
		r.status = contracts.JobRunning
		o.emit(Event{Kind: EventJobStarted, JobID: r.job.ID, JobStatus: r.status})
	}

	running := contracts.TaskResult{TaskID: id, Status: contracts.TaskRunning, StartedAt: o.now()}
	if err := o.store.UpdateTaskResult(storeCtx, r.job.ID, running); err != nil {
		r.storeErr = err
		return
	}
	r.states[n] = contracts.TaskRunning
	o.emit(Event{Kind: EventTaskStarted, JobID: r.job.ID, TaskID: id, TaskStatus: contracts.TaskRunning})

	in, err := r.builder.Build(n)
	if err != nil {
		// Input routing failures are execution errors of this task.
		o.fail(storeCtx, r, n, running, contracts.CodeInputRouting, err)
		return
	}
	if as, ok := o.store.(contracts.ArtifactStore); ok {
		dir, err := as.TaskArtifactDir(storeCtx, r.job.ID, id)
		if err != nil {
			o.fail(storeCtx, r, n, running, contracts.CodeArtifactDir, err)
			return
		}
		in.ArtifactDir = dir
	}

	r.inflight++
	launched = true
	task := r.tasks[n]
	inv := contracts.Invocation{
		Timeout: o.deadline.For(node, r.job.Settings),
		Outputs: node.Metadata.OutputTypes,
	}
	go func() {
		if o.slots != nil {
			defer o.slots.Release(1)
		}
		events <- completion{node: n, result: o.executor.Execute(ctx, task, in, inv)}
	}()
}

// fail records a started node as FAILED before it reached the executor.
func (o *orchestrator) fail(storeCtx context.Context, r *jobRun, n int, running contracts.TaskResult, code string, err error) {
	running.Status = contracts.TaskFailed
	running.Error = &contracts.TaskError{Code: code, Message: err.Error()}
	running.FinishedAt = o.now()
	o.record(storeCtx, r, n, running)
}

// record persists a terminal result for a dispatched node and applies its
// consequences: routing and readiness on success, skip propagation on failure.
func (o *orchestrator) record(storeCtx context.Context, r *jobRun, n int, result contracts.TaskResult) {
	if err := o.store.UpdateTaskResult(storeCtx, r.job.ID, result); err != nil {
		r.storeErr = err
		return
	}
	r.states[n] = result.Status
	o.emit(Event{Kind: EventTaskFinished, JobID: r.job.ID, TaskID: result.TaskID, TaskStatus: result.Status, Err: result.Error})

	if result.Status == contracts.TaskCompleted {
		if err := r.router.Route(n, result); err != nil {
			o.logger.Error("route outputs", zap.String("task_id", string(result.TaskID)), zap.Error(err))
		}
		for _, next := range r.sched.Complete(n) {
			r.queue.Enqueue(next)
		}
		return
	}

	r.sched.Skip(n)
	reason := &contracts.TaskError{
		Code:    contracts.CodeUpstreamFailed,
		Message: fmt.Sprintf("upstream task %s failed", result.TaskID),
	}
	for _, d := range r.graph.Descendants(n) {
		if r.states[d] != contracts.TaskPending {
			continue
		}
		if !o.skip(storeCtx, r, d, reason) {
			return
		}
	}
}

// cancel stops dispatch and skips every task that has not started.
func (o *orchestrator) cancel(storeCtx context.Context, r *jobRun, cause error) {
	if r.cancelled {
		return
	}
	r.cancelled = true
	r.queue.Drain()

	msg := "job cancelled"
	if cause != nil {
		msg = fmt.Sprintf("job cancelled: %v", cause)
	}
	o.emit(Event{Kind: EventJobCancelled, JobID: r.job.ID, JobStatus: r.status})

	reason := &contracts.TaskError{Code: contracts.CodeCancelled, Message: msg}
	for _, n := range r.graph.Order {
		if r.states[n] != contracts.TaskPending {
			continue
		}
		if !o.skip(storeCtx, r, n, reason) {
			return
		}
	}
	if err := o.store.SetError(storeCtx, r.job.ID, msg); err != nil {
		r.storeErr = err
	}
}

// skip persists a SKIPPED result. Returns false on storage failure.
func (o *orchestrator) skip(storeCtx context.Context, r *jobRun, n int, reason *contracts.TaskError) bool {
	id := r.graph.Nodes[n].Spec.TaskID
	res := contracts.TaskResult{TaskID: id, Status: contracts.TaskSkipped, Error: reason, FinishedAt: o.now()}
	if err := o.store.UpdateTaskResult(storeCtx, r.job.ID, res); err != nil {
		r.storeErr = err
		return false
	}
	r.states[n] = contracts.TaskSkipped
	r.sched.Skip(n)
	o.emit(Event{Kind: EventTaskSkipped, JobID: r.job.ID, TaskID: id, TaskStatus: contracts.TaskSkipped, Err: reason})
	return true
}

// finalize derives and persists the terminal job status.
func (o *orchestrator) finalize(storeCtx context.Context, r *jobRun) (contracts.JobStatus, error) {
	status := terminalStatus(r.states)
	if err := o.store.SetStatus(storeCtx, r.job.ID, status); err != nil {
		return r.status, fmt.Errorf("job %s: %w", r.job.ID, err)
	}
	r.status = status
	o.emit(Event{Kind: EventJobFinished, JobID: r.job.ID, JobStatus: status})
	o.logger.Info("job finished",
		zap.String("job_id", string(r.job.ID)),
		zap.Stringer("status", status),
		zap.Bool("cancelled", r.cancelled))
	return status, nil
}

// terminalStatus is COMPLETED when every task completed, FAILED when none
// did and PARTIAL otherwise.
func terminalStatus(states []contracts.TaskStatus) contracts.JobStatus {
	completed := 0
	for _, s := range states {
		if s == contracts.TaskCompleted {
			completed++
		}
	}
	switch completed {
	case len(states):
		return contracts.JobCompleted
	case 0:
		return contracts.JobFailed
	default:
		return contracts.JobPartial
	}
}

func (o *orchestrator) emit(ev Event) {
	if o.onEvent != nil {
		o.onEvent(ev)
	}
}
