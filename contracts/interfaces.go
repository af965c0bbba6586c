package contracts

import (
	"context"
	"iter"
	"time"
)

// =============================================================================
// Task Contract
// =============================================================================

// Task is a unit of work the engine can schedule. The engine only ever sees
// this interface and never inspects concrete task types.
type Task interface {
	// Metadata returns the task's self-description.
	Metadata() TaskMetadata

	// Execute runs the task. It must honour ctx cancellation and return a
	// value for every declared output type on success.
	Execute(ctx context.Context, in TaskInput) (TaskOutput, error)
}

// TaskLifecycle is implemented by tasks that hold resources around each
// invocation. Setup runs before Execute; a Setup error fails the task without
// calling Execute. Cleanup runs after every invocation whose Setup was
// attempted, including failed and timed-out ones.
type TaskLifecycle interface {
	Setup(ctx context.Context, in TaskInput) error
	Cleanup(ctx context.Context, in TaskInput)
}

// TaskFunc adapts a plain function into a Task.
type TaskFunc struct {
	Meta TaskMetadata
	Fn   func(ctx context.Context, in TaskInput) (TaskOutput, error)
}

// Metadata returns the wrapped metadata.
func (t *TaskFunc) Metadata() TaskMetadata {
	return t.Meta
}

// Execute calls the wrapped function.
func (t *TaskFunc) Execute(ctx context.Context, in TaskInput) (TaskOutput, error) {
	return t.Fn(ctx, in)
}

// TaskRegistry is the lookup side of the task registry.
type TaskRegistry interface {
	// Get returns the task registered under id.
	Get(id TaskID) (Task, error)

	// Metadata returns the metadata snapshot taken at registration.
	Metadata(id TaskID) (TaskMetadata, error)

	// All yields the metadata of every registered task.
	All() iter.Seq[TaskMetadata]
}

// =============================================================================
// Orchestration Interfaces
// =============================================================================

// DependencyResolver turns a pipeline configuration into an execution graph.
type DependencyResolver interface {
	// Resolve validates cfg against the registry and returns the graph.
	// seeds are the type tags the job supplies up front.
	Resolve(cfg PipelineConfig, seeds []TypeTag) (*ExecutionGraph, error)
}

// Scheduler tracks which graph nodes are ready to run.
type Scheduler interface {
	// Ready returns the initially ready nodes in declaration order.
	Ready() []int

	// Complete records a finished node and returns dependents that became ready.
	Complete(node int) []int

	// Skip records that a node will never run.
	Skip(node int)

	// Remaining returns the number of nodes not yet completed or skipped.
	Remaining() int
}

// ParallelExecutor runs a single task invocation under its deadline.
type ParallelExecutor interface {
	// Execute invokes task and converts every failure mode into a TaskResult.
	Execute(ctx context.Context, task Task, in TaskInput, inv Invocation) TaskResult
}

// Invocation carries the per-run parameters the orchestrator fixes at
// dispatch time.
type Invocation struct {
	// Timeout is the soft deadline. Zero means none.
	Timeout time.Duration
	// Outputs are the declared output types from the resolved graph. Only
	// these are kept from the task's result.
	Outputs []TypeTag
}

// QueueManager holds ready nodes until they are dispatched.
type QueueManager interface {
	// Enqueue adds a node to the ready queue.
	Enqueue(node int)

	// Dequeue removes and returns the next node from the queue.
	Dequeue() (int, bool)

	// Drain removes and returns every queued node.
	Drain() []int

	// Len returns the number of nodes in the queue.
	Len() int
}

// =============================================================================
// Job Store
// =============================================================================

// JobStore persists jobs and their per-task results. All implementations
// share the same semantics: writes per job are serialized, reads return a
// consistent snapshot, terminal jobs are immutable and Delete is idempotent.
type JobStore interface {
	// Create persists a new PENDING job with every task PENDING.
	Create(ctx context.Context, spec JobSpec) (JobID, error)

	// UpdateTaskResult replaces the result of one task.
	UpdateTaskResult(ctx context.Context, id JobID, result TaskResult) error

	// SetStatus moves the job to status.
	SetStatus(ctx context.Context, id JobID, status JobStatus) error

	// SetError records a job-level note such as a cancellation reason.
	SetError(ctx context.Context, id JobID, message string) error

	// Get returns a snapshot of the job.
	Get(ctx context.Context, id JobID) (*Job, error)

	// List returns job summaries, newest first.
	List(ctx context.Context, filter ListFilter) ([]JobSummary, error)

	// Delete removes the job and its artifacts. Missing jobs are not an error.
	Delete(ctx context.Context, id JobID) error

	// Close releases backend resources.
	Close() error
}

// ArtifactStore is implemented by job stores that give each task a working
// directory for the files it produces. The directory lives under the job and
// is removed with it.
type ArtifactStore interface {
	// TaskArtifactDir creates, if needed, and returns the task's directory.
	TaskArtifactDir(ctx context.Context, id JobID, task TaskID) (string, error)
}
