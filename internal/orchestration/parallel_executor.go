package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/vladislavfirsov/content-pipeline/contracts"
)

// parallelExecutor implements contracts.ParallelExecutor.
// It runs one task invocation in its own goroutine under a soft deadline and
// turns every way a task can end (success, error, panic, overrun, missing or
// unstorable outputs) into a TaskResult. It never returns an error to the
// caller.
//
// Thread-safety: Safe for concurrent use.
type parallelExecutor struct {
	now func() time.Time
}

// ExecutorOption configures the parallel executor.
type ExecutorOption func(*parallelExecutor)

// WithClock overrides the time source used for result timestamps.
func WithClock(now func() time.Time) ExecutorOption {
	return func(p *parallelExecutor) {
		if now != nil {
			p.now = now
		}
	}
}

// NewParallelExecutor creates a new ParallelExecutor.
func NewParallelExecutor(opts ...ExecutorOption) contracts.ParallelExecutor {
	p := &parallelExecutor{now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type outcome struct {
	out contracts.TaskOutput
	err error
}

// Execute runs task and blocks until it finishes or its deadline passes.
//
// The invocation is detached from ctx cancellation: cancelling a job never
// aborts a task that has already started. Only the deadline bounds it; when
// it expires the task's context is cancelled and the result is FAILED with a
// timeout error even if the task keeps running in the background.
//
// Tasks implementing contracts.TaskLifecycle get Setup before Execute and
// Cleanup once Execute returns, whatever the outcome.
func (p *parallelExecutor) Execute(ctx context.Context, task contracts.Task, in contracts.TaskInput, inv contracts.Invocation) contracts.TaskResult {
	runCtx := context.WithoutCancel(ctx)

	result := contracts.TaskResult{
		TaskID:    in.TaskID,
		Status:    contracts.TaskRunning,
		StartedAt: p.now(),
	}

	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, inv.Timeout)
		defer cancel()
	}

	// Buffered so the task goroutine never leaks blocked on send after a timeout.
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				select {
				case done <- outcome{err: fmt.Errorf("%w: %v", contracts.ErrTaskPanicked, r)}:
				default:
				}
			}
		}()
		done <- invoke(runCtx, task, in)
	}()

	select {
	case o := <-done:
		result.FinishedAt = p.now()
		return finish(result, inv.Outputs, o, runCtx)

	case <-runCtx.Done():
		result.FinishedAt = p.now()
		result.Status = contracts.TaskFailed
		result.Error = &contracts.TaskError{
			Code:    contracts.CodeTimeout,
			Message: fmt.Sprintf("task %s exceeded deadline %s: %v", in.TaskID, inv.Timeout, contracts.ErrTaskTimeout),
		}
		return result
	}
}

// invoke runs the task body inside its lifecycle hooks.
func invoke(ctx context.Context, task contracts.Task, in contracts.TaskInput) outcome {
	if lc, ok := task.(contracts.TaskLifecycle); ok {
		defer lc.Cleanup(context.WithoutCancel(ctx), in)
		if err := lc.Setup(ctx, in); err != nil {
			return outcome{err: fmt.Errorf("%w: %v", contracts.ErrSetupFailed, err)}
		}
	}
	out, err := task.Execute(ctx, in)
	return outcome{out: out, err: err}
}

// finish classifies a completed invocation against the declared outputs.
func finish(result contracts.TaskResult, declared []contracts.TypeTag, o outcome, runCtx context.Context) contracts.TaskResult {
	if o.err != nil {
		result.Status = contracts.TaskFailed
		code := contracts.CodeExecutionFailed
		switch {
		case errors.Is(o.err, contracts.ErrTaskPanicked):
			code = contracts.CodePanic
		case errors.Is(o.err, contracts.ErrSetupFailed):
			code = contracts.CodeSetupFailed
		case errors.Is(o.err, context.DeadlineExceeded) && runCtx.Err() != nil:
			code = contracts.CodeTimeout
		}
		result.Error = &contracts.TaskError{Code: code, Message: o.err.Error()}
		return result
	}

	// Keep declared outputs only; every one of them must be present.
	outputs := make(contracts.TaskOutput, len(declared))
	var missing []contracts.TypeTag
	for _, tag := range declared {
		v, ok := o.out[tag]
		if !ok {
			missing = append(missing, tag)
			continue
		}
		outputs[tag] = v
	}
	if len(missing) > 0 {
		result.Status = contracts.TaskFailed
		result.Error = &contracts.TaskError{
			Code:    contracts.CodeMissingOutput,
			Message: fmt.Sprintf("%v: %v", contracts.ErrMissingOutput, missing),
		}
		return result
	}

	// Outputs are persisted with the job record; reject what the store
	// codec cannot encode.
	if _, err := sonic.ConfigStd.Marshal(outputs); err != nil {
		result.Status = contracts.TaskFailed
		result.Error = &contracts.TaskError{
			Code:    contracts.CodeInvalidOutput,
			Message: fmt.Sprintf("%v: %v", contracts.ErrInvalidOutput, err),
		}
		return result
	}

	result.Status = contracts.TaskCompleted
	result.Outputs = outputs
	return result
}
