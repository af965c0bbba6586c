package contracts

import "context"

// Orchestrator drives one job through its execution graph.
type Orchestrator interface {
	// Run executes every task of the job according to graph, persisting each
	// transition through the job store before acting on it.
	//
	// Returns the terminal job status. Returns an error wrapping:
	// - ErrInvalidInput: job or graph is nil
	// - ErrJobFinalized: the job is already terminal
	// - ErrStorage: a store write failed; dispatch stopped
	//
	// Task failures are not errors: they are recorded in the job's results.
	// Cancelling ctx stops dispatch, skips pending tasks and waits for
	// running ones before the terminal status is written.
	Run(ctx context.Context, job *Job, graph *ExecutionGraph) (JobStatus, error)
}
