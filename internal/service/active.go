package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/vladislavfirsov/content-pipeline/contracts"
)

// activeJob is the runner handle of a job started by this process.
type activeJob struct {
	id     contracts.JobID
	cancel context.CancelCauseFunc
	done   chan struct{} // closed when the runner returns

	// Set before done is closed.
	status contracts.JobStatus
	err    error
}

// activeJobs tracks running jobs. Entries are removed as soon as their
// runner returns; later lookups go to the job store.
//
// A submission reserves its place before the job record is written, so
// that shutdown either sees the new runner or waits for the submission to
// back out.
type activeJobs struct {
	mu       sync.Mutex
	jobs     map[contracts.JobID]*activeJob
	reserved int
	changed  chan struct{} // closed and replaced when a runner or reservation ends
	shutdown bool
}

func newActiveJobs() *activeJobs {
	return &activeJobs{jobs: make(map[contracts.JobID]*activeJob), changed: make(chan struct{})}
}

// notifyLocked wakes wait. Caller holds mu.
func (a *activeJobs) notifyLocked() {
	close(a.changed)
	a.changed = make(chan struct{})
}

// reservation is a submission in progress. Exactly one of bind or release
// takes effect.
type reservation struct {
	a    *activeJobs
	done bool
}

// reserve claims a runner place. It fails once close has been called.
func (a *activeJobs) reserve() (*reservation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.shutdown {
		return nil, ErrShuttingDown
	}
	a.reserved++
	return &reservation{a: a}, nil
}

// bind turns the reservation into a registered runner. It fails if close
// was called after reserve; the reservation then stays held until release,
// so shutdown also waits for the caller to discard the job record.
func (r *reservation) bind(id contracts.JobID, cancel context.CancelCauseFunc) (*activeJob, error) {
	a := r.a
	a.mu.Lock()
	defer a.mu.Unlock()

	if r.done {
		return nil, fmt.Errorf("job %s: reservation already used: %w", id, contracts.ErrInvalidTransition)
	}
	if a.shutdown {
		return nil, ErrShuttingDown
	}
	if _, exists := a.jobs[id]; exists {
		return nil, fmt.Errorf("job %s already running: %w", id, contracts.ErrInvalidTransition)
	}
	r.done = true
	a.reserved--
	e := &activeJob{id: id, cancel: cancel, done: make(chan struct{})}
	a.jobs[id] = e
	return e, nil
}

// release gives up an unbound reservation. No-op after bind.
func (r *reservation) release() {
	a := r.a
	a.mu.Lock()
	defer a.mu.Unlock()

	if r.done {
		return
	}
	r.done = true
	a.reserved--
	a.notifyLocked()
}

func (a *activeJobs) get(id contracts.JobID) (*activeJob, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.jobs[id]
	return e, ok
}

// cancel cancels a running job. Returns false if id has no runner.
func (a *activeJobs) cancel(id contracts.JobID, cause error) bool {
	e, ok := a.get(id)
	if !ok {
		return false
	}
	e.cancel(cause)
	return true
}

// finish records the runner outcome and releases waiters.
func (a *activeJobs) finish(e *activeJob, status contracts.JobStatus, err error) {
	a.mu.Lock()
	e.status, e.err = status, err
	if a.jobs[e.id] == e {
		delete(a.jobs, e.id)
	}
	a.notifyLocked()
	a.mu.Unlock()
	close(e.done)
}

func (a *activeJobs) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.jobs)
}

func (a *activeJobs) closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.shutdown
}

// close rejects new submissions and cancels every running job. Returns the
// number of jobs cancelled.
func (a *activeJobs) close(cause error) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.shutdown = true
	for _, e := range a.jobs {
		e.cancel(cause)
	}
	return len(a.jobs)
}

// wait blocks until every runner has returned and every reservation has
// ended, or ctx is done. Returns the number still active.
func (a *activeJobs) wait(ctx context.Context) int {
	for {
		a.mu.Lock()
		active := len(a.jobs) + a.reserved
		changed := a.changed
		a.mu.Unlock()

		if active == 0 {
			return 0
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return active
		}
	}
}
