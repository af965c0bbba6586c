// Package storetest is a conformance suite every contracts.JobStore
// implementation must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/vladislavfirsov/content-pipeline/contracts"
)

// Factory returns a fresh, empty store whose timestamps come from now.
type Factory func(t *testing.T, now func() time.Time) contracts.JobStore

// Clock is a manually advanced time source.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock starts at a fixed instant.
func NewClock() *Clock {
	return &Clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

// Now returns the current instant.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Run executes the suite against stores built by factory.
func Run(t *testing.T, factory Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, st contracts.JobStore, clock *Clock)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"NotFound", testNotFound},
		{"TaskLifecycle", testTaskLifecycle},
		{"InvalidTaskTransitions", testInvalidTaskTransitions},
		{"JobStatus", testJobStatus},
		{"FinalizedIsImmutable", testFinalizedIsImmutable},
		{"List", testList},
		{"Delete", testDelete},
		{"SnapshotIsolation", testSnapshotIsolation},
		{"ConcurrentWriters", testConcurrentWriters},
		{"ReadStability", testReadStability},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := NewClock()
			st := factory(t, clock.Now)
			t.Cleanup(func() { _ = st.Close() })
			tt.fn(t, st, clock)
		})
	}
}

func spec(name string, tasks ...contracts.TaskID) contracts.JobSpec {
	cfg := contracts.PipelineConfig{Name: name}
	for _, id := range tasks {
		cfg.Tasks = append(cfg.Tasks, contracts.TaskSpec{TaskID: id})
	}
	return contracts.JobSpec{
		Config: cfg,
		Inputs: map[contracts.TypeTag]any{contracts.TypePDF: "/data/book.pdf"},
		Settings: contracts.JobSettings{
			MaxConcurrency: 2,
			Timeouts:       map[contracts.TaskID]contracts.Duration{tasks[0]: contracts.Duration(time.Minute)},
		},
		Order: tasks,
	}
}

func create(t *testing.T, st contracts.JobStore, s contracts.JobSpec) contracts.JobID {
	t.Helper()
	id, err := st.Create(context.Background(), s)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}

func get(t *testing.T, st contracts.JobStore, id contracts.JobID) *contracts.Job {
	t.Helper()
	job, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

func running(id contracts.TaskID, at time.Time) contracts.TaskResult {
	return contracts.TaskResult{TaskID: id, Status: contracts.TaskRunning, StartedAt: at}
}

func testCreateAndGet(t *testing.T, st contracts.JobStore, clock *Clock) {
	id := create(t, st, spec("book", "doc", "sum"))
	job := get(t, st, id)

	assert.Equal(t, id, job.ID)
	assert.Equal(t, 1, job.SchemaVersion)
	assert.Equal(t, "book", job.Config.Name)
	assert.Equal(t, contracts.JobPending, job.Status)
	assert.Equal(t, []contracts.TaskID{"doc", "sum"}, job.Order)
	assert.Equal(t, "/data/book.pdf", job.Inputs[contracts.TypePDF])
	assert.Equal(t, 2, job.Settings.MaxConcurrency)
	assert.Equal(t, contracts.Duration(time.Minute), job.Settings.Timeouts["doc"])
	assert.Empty(t, job.Error)
	assert.True(t, clock.Now().Equal(job.CreatedAt))
	assert.True(t, clock.Now().Equal(job.UpdatedAt))
	require.Len(t, job.Results, 2)
	for _, tid := range job.Order {
		assert.Equal(t, contracts.TaskResult{TaskID: tid, Status: contracts.TaskPending}, job.Results[tid])
	}

	other := create(t, st, spec("book", "doc", "sum"))
	assert.NotEqual(t, id, other)
}

func testNotFound(t *testing.T, st contracts.JobStore, _ *Clock) {
	ctx := context.Background()
	const missing = contracts.JobID("3d1c1f40-0000-4000-8000-000000000000")

	_, err := st.Get(ctx, missing)
	assert.ErrorIs(t, err, contracts.ErrJobNotFound)
	assert.ErrorIs(t, st.UpdateTaskResult(ctx, missing, running("doc", time.Now())), contracts.ErrJobNotFound)
	assert.ErrorIs(t, st.SetStatus(ctx, missing, contracts.JobRunning), contracts.ErrJobNotFound)
	assert.ErrorIs(t, st.SetError(ctx, missing, "x"), contracts.ErrJobNotFound)
}

func testTaskLifecycle(t *testing.T, st contracts.JobStore, clock *Clock) {
	ctx := context.Background()
	id := create(t, st, spec("book", "doc", "sum", "quiz"))
	started := clock.Now()

	clock.Advance(time.Second)
	require.NoError(t, st.UpdateTaskResult(ctx, id, running("doc", started)))
	clock.Advance(time.Second)
	require.NoError(t, st.UpdateTaskResult(ctx, id, contracts.TaskResult{
		TaskID:     "doc",
		Status:     contracts.TaskCompleted,
		Outputs:    contracts.TaskOutput{contracts.TypeMarkdown: "# Book", contracts.TypeFigures: []any{"fig1.png"}},
		FinishedAt: clock.Now(),
	}))

	job := get(t, st, id)
	doc := job.Results["doc"]
	assert.Equal(t, contracts.TaskCompleted, doc.Status)
	assert.True(t, started.Equal(doc.StartedAt), "start time carried over from RUNNING")
	assert.True(t, clock.Now().Equal(doc.FinishedAt))
	assert.Equal(t, "# Book", doc.Outputs[contracts.TypeMarkdown])
	assert.Equal(t, []any{"fig1.png"}, doc.Outputs[contracts.TypeFigures])
	assert.True(t, clock.Now().Equal(job.UpdatedAt))

	require.NoError(t, st.UpdateTaskResult(ctx, id, running("sum", clock.Now())))
	require.NoError(t, st.UpdateTaskResult(ctx, id, contracts.TaskResult{
		TaskID:  "sum",
		Status:  contracts.TaskFailed,
		Outputs: contracts.TaskOutput{contracts.TypeBookSummary: "partial"},
		Error:   &contracts.TaskError{Code: contracts.CodeTimeout, Message: "deadline"},
	}))
	require.NoError(t, st.UpdateTaskResult(ctx, id, contracts.TaskResult{
		TaskID: "quiz",
		Status: contracts.TaskSkipped,
		Error:  &contracts.TaskError{Code: contracts.CodeUpstreamFailed, Message: "upstream task sum failed"},
	}))

	job = get(t, st, id)
	sum := job.Results["sum"]
	assert.Equal(t, contracts.TaskFailed, sum.Status)
	assert.Empty(t, sum.Outputs, "only completed tasks keep outputs")
	assert.Equal(t, &contracts.TaskError{Code: contracts.CodeTimeout, Message: "deadline"}, sum.Error)
	assert.Equal(t, contracts.TaskSkipped, job.Results["quiz"].Status)
	assert.Equal(t, map[contracts.TaskStatus]int{contracts.TaskCompleted: 1, contracts.TaskFailed: 1, contracts.TaskSkipped: 1}, job.Counts())
}

func testInvalidTaskTransitions(t *testing.T, st contracts.JobStore, _ *Clock) {
	ctx := context.Background()
	id := create(t, st, spec("book", "doc", "sum"))

	err := st.UpdateTaskResult(ctx, id, contracts.TaskResult{TaskID: "doc", Status: contracts.TaskCompleted})
	assert.ErrorIs(t, err, contracts.ErrInvalidTransition)

	err = st.UpdateTaskResult(ctx, id, running("ghost", time.Now()))
	assert.ErrorIs(t, err, contracts.ErrTaskNotFound)

	require.NoError(t, st.UpdateTaskResult(ctx, id, contracts.TaskResult{TaskID: "sum", Status: contracts.TaskSkipped}))
	err = st.UpdateTaskResult(ctx, id, running("sum", time.Now()))
	assert.ErrorIs(t, err, contracts.ErrInvalidTransition)

	job := get(t, st, id)
	assert.Equal(t, contracts.TaskPending, job.Results["doc"].Status, "rejected writes leave the record unchanged")
}

func testJobStatus(t *testing.T, st contracts.JobStore, _ *Clock) {
	ctx := context.Background()
	id := create(t, st, spec("book", "doc"))

	require.NoError(t, st.SetStatus(ctx, id, contracts.JobRunning))
	require.NoError(t, st.SetStatus(ctx, id, contracts.JobRunning), "re-asserting is a no-op")
	assert.ErrorIs(t, st.SetStatus(ctx, id, contracts.JobPending), contracts.ErrInvalidTransition)
	assert.ErrorIs(t, st.SetStatus(ctx, id, contracts.JobCompleted), contracts.ErrInvalidTransition, "tasks still pending")

	require.NoError(t, st.SetError(ctx, id, "job cancelled: shutdown"))
	require.NoError(t, st.UpdateTaskResult(ctx, id, contracts.TaskResult{TaskID: "doc", Status: contracts.TaskSkipped}))
	require.NoError(t, st.SetStatus(ctx, id, contracts.JobFailed))

	job := get(t, st, id)
	assert.Equal(t, contracts.JobFailed, job.Status)
	assert.Equal(t, "job cancelled: shutdown", job.Error)
}

func testFinalizedIsImmutable(t *testing.T, st contracts.JobStore, _ *Clock) {
	ctx := context.Background()
	id := create(t, st, spec("book", "doc"))
	require.NoError(t, st.UpdateTaskResult(ctx, id, running("doc", time.Now())))
	require.NoError(t, st.UpdateTaskResult(ctx, id, contracts.TaskResult{TaskID: "doc", Status: contracts.TaskCompleted, Outputs: contracts.TaskOutput{}}))
	require.NoError(t, st.SetStatus(ctx, id, contracts.JobCompleted))
	before := get(t, st, id)

	assert.ErrorIs(t, st.SetStatus(ctx, id, contracts.JobFailed), contracts.ErrJobFinalized)
	assert.ErrorIs(t, st.SetStatus(ctx, id, contracts.JobCompleted), contracts.ErrJobFinalized)
	assert.ErrorIs(t, st.SetError(ctx, id, "late"), contracts.ErrJobFinalized)
	assert.ErrorIs(t, st.UpdateTaskResult(ctx, id, contracts.TaskResult{TaskID: "doc", Status: contracts.TaskFailed}), contracts.ErrJobFinalized)

	assert.Equal(t, before, get(t, st, id))
}

func testList(t *testing.T, st contracts.JobStore, clock *Clock) {
	ctx := context.Background()
	var created []contracts.JobID
	for i := range 4 {
		created = append(created, create(t, st, spec(fmt.Sprintf("job-%d", i), "doc")))
		clock.Advance(time.Minute)
	}
	require.NoError(t, st.SetStatus(ctx, created[1], contracts.JobRunning))
	require.NoError(t, st.SetStatus(ctx, created[3], contracts.JobRunning))

	all, err := st.List(ctx, contracts.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, s := range all {
		assert.Equal(t, created[3-i], s.ID, "newest first")
		assert.Equal(t, 1, s.Total)
	}
	assert.Equal(t, "job-3", all[0].Name)

	runningStatus := contracts.JobRunning
	filtered, err := st.List(ctx, contracts.ListFilter{Status: &runningStatus})
	require.NoError(t, err)
	require.Len(t, filtered, 2)
	assert.Equal(t, created[3], filtered[0].ID)
	assert.Equal(t, created[1], filtered[1].ID)

	limited, err := st.List(ctx, contracts.ListFilter{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, limited, 3)
}

func testDelete(t *testing.T, st contracts.JobStore, _ *Clock) {
	ctx := context.Background()
	id := create(t, st, spec("book", "doc"))
	keep := create(t, st, spec("other", "doc"))

	require.NoError(t, st.Delete(ctx, id))
	require.NoError(t, st.Delete(ctx, id), "delete is idempotent")

	_, err := st.Get(ctx, id)
	assert.ErrorIs(t, err, contracts.ErrJobNotFound)
	assert.ErrorIs(t, st.SetStatus(ctx, id, contracts.JobRunning), contracts.ErrJobNotFound)

	list, err := st.List(ctx, contracts.ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, keep, list[0].ID)
}

func testSnapshotIsolation(t *testing.T, st contracts.JobStore, _ *Clock) {
	id := create(t, st, spec("book", "doc"))

	job := get(t, st, id)
	job.Status = contracts.JobCompleted
	job.Results["doc"] = contracts.TaskResult{TaskID: "doc", Status: contracts.TaskCompleted}
	job.Inputs[contracts.TypePDF] = "mutated"

	fresh := get(t, st, id)
	assert.Equal(t, contracts.JobPending, fresh.Status)
	assert.Equal(t, contracts.TaskPending, fresh.Results["doc"].Status)
	assert.Equal(t, "/data/book.pdf", fresh.Inputs[contracts.TypePDF])
}

func testConcurrentWriters(t *testing.T, st contracts.JobStore, _ *Clock) {
	ctx := context.Background()
	var tasks []contracts.TaskID
	for i := range 8 {
		tasks = append(tasks, contracts.TaskID(fmt.Sprintf("task-%d", i)))
	}
	id := create(t, st, spec("wide", tasks...))

	var wg sync.WaitGroup
	errs := make(chan error, len(tasks))
	for _, tid := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := st.UpdateTaskResult(ctx, id, running(tid, time.Now())); err != nil {
				errs <- err
				return
			}
			errs <- st.UpdateTaskResult(ctx, id, contracts.TaskResult{
				TaskID:  tid,
				Status:  contracts.TaskCompleted,
				Outputs: contracts.TaskOutput{contracts.TypeMetadata: string(tid)},
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	job := get(t, st, id)
	for _, tid := range tasks {
		assert.Equal(t, contracts.TaskCompleted, job.Results[tid].Status, tid)
		assert.Equal(t, string(tid), job.Results[tid].Outputs[contracts.TypeMetadata])
	}
}

// Any sequence of accepted and rejected writes leaves a record that reads
// back identically twice and matches a simple model of the task states.
func testReadStability(t *testing.T, st contracts.JobStore, _ *Clock) {
	ctx := context.Background()
	tasks := []contracts.TaskID{"a", "b", "c"}
	statuses := []contracts.TaskStatus{
		contracts.TaskRunning, contracts.TaskCompleted, contracts.TaskFailed, contracts.TaskSkipped,
	}

	rapid.Check(t, func(rt *rapid.T) {
		id, err := st.Create(ctx, spec("prop", tasks...))
		if err != nil {
			rt.Fatalf("create: %v", err)
		}
		model := map[contracts.TaskID]contracts.TaskStatus{}
		for _, tid := range tasks {
			model[tid] = contracts.TaskPending
		}

		steps := rapid.IntRange(1, 12).Draw(rt, "steps")
		for i := range steps {
			tid := rapid.SampledFrom(tasks).Draw(rt, fmt.Sprintf("task-%d", i))
			next := rapid.SampledFrom(statuses).Draw(rt, fmt.Sprintf("status-%d", i))

			err := st.UpdateTaskResult(ctx, id, contracts.TaskResult{TaskID: tid, Status: next})
			legal := model[tid].CanTransitionTo(next)
			switch {
			case legal && err != nil:
				rt.Fatalf("%s %s -> %s rejected: %v", tid, model[tid], next, err)
			case !legal && err == nil:
				rt.Fatalf("%s %s -> %s accepted", tid, model[tid], next)
			case legal:
				model[tid] = next
			}

			first, err := st.Get(ctx, id)
			if err != nil {
				rt.Fatalf("get: %v", err)
			}
			second, err := st.Get(ctx, id)
			if err != nil {
				rt.Fatalf("get: %v", err)
			}
			if !assert.ObjectsAreEqual(first, second) {
				rt.Fatalf("reads differ:\n%+v\n%+v", first, second)
			}
			for _, tid := range tasks {
				if got := first.Results[tid].Status; got != model[tid] {
					rt.Fatalf("task %s is %s, want %s", tid, got, model[tid])
				}
			}
		}
	})
}
