package orchestration

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavfirsov/content-pipeline/contracts"
	"github.com/vladislavfirsov/content-pipeline/internal/store"
)

type harness struct {
	reg   contracts.TaskRegistry
	store contracts.JobStore
	job   *contracts.Job
	graph *contracts.ExecutionGraph

	mu     sync.Mutex
	events []Event
}

func newHarness(t *testing.T, st contracts.JobStore, cfg contracts.PipelineConfig, seeds map[contracts.TypeTag]any, settings contracts.JobSettings, defs ...taskDef) *harness {
	t.Helper()
	if st == nil {
		st = store.NewMemory()
	}
	reg := newRegistry(t, defs...)

	var seedTags []contracts.TypeTag
	for tag := range seeds {
		seedTags = append(seedTags, tag)
	}
	graph, err := NewDependencyResolver(reg).Resolve(cfg, seedTags)
	require.NoError(t, err)

	ctx := context.Background()
	id, err := st.Create(ctx, contracts.JobSpec{Config: cfg, Inputs: seeds, Settings: settings, Order: graph.OrderIDs()})
	require.NoError(t, err)
	job, err := st.Get(ctx, id)
	require.NoError(t, err)

	return &harness{reg: reg, store: st, job: job, graph: graph}
}

func (h *harness) orchestrator(limit int) contracts.Orchestrator {
	return NewOrchestratorWithCallback(OrchestratorDeps{Registry: h.reg, Store: h.store}, Options{MaxConcurrency: limit}, func(ev Event) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.events = append(h.events, ev)
	})
}

func (h *harness) run(t *testing.T, ctx context.Context, limit int) (contracts.JobStatus, *contracts.Job) {
	t.Helper()
	status, err := h.orchestrator(limit).Run(ctx, h.job, h.graph)
	require.NoError(t, err)
	job, err := h.store.Get(context.Background(), h.job.ID)
	require.NoError(t, err)
	assert.Equal(t, status, job.Status)
	return status, job
}

func (h *harness) kinds() []EventKind {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]EventKind, len(h.events))
	for i, ev := range h.events {
		out[i] = ev.Kind
	}
	return out
}

func failing(msg string) func(context.Context, contracts.TaskInput) (contracts.TaskOutput, error) {
	return func(context.Context, contracts.TaskInput) (contracts.TaskOutput, error) {
		return nil, errors.New(msg)
	}
}

func TestOrchestrator_LinearChainRoutesOutputs(t *testing.T) {
	h := newHarness(t, nil, pipeline("A", "B"),
		map[contracts.TypeTag]any{contracts.TypePDF: "book.pdf"}, contracts.JobSettings{},
		taskDef{id: "A", in: tags(contracts.TypePDF), out: tags(contracts.TypeMarkdown),
			fn: func(_ context.Context, in contracts.TaskInput) (contracts.TaskOutput, error) {
				return contracts.TaskOutput{contracts.TypeMarkdown: "md(" + in.Values[contracts.TypePDF].(string) + ")"}, nil
			}},
		taskDef{id: "B", deps: ids("A"), in: tags(contracts.TypeMarkdown), out: tags(contracts.TypeBookSummary),
			fn: func(_ context.Context, in contracts.TaskInput) (contracts.TaskOutput, error) {
				return contracts.TaskOutput{contracts.TypeBookSummary: in.Values[contracts.TypeMarkdown].(string) + "+summary"}, nil
			}},
	)

	status, job := h.run(t, context.Background(), 1)

	assert.Equal(t, contracts.JobCompleted, status)
	assert.Equal(t, ids("A", "B"), job.Order)
	assert.Equal(t, "md(book.pdf)", job.Results["A"].Outputs[contracts.TypeMarkdown])
	assert.Equal(t, "md(book.pdf)+summary", job.Results["B"].Outputs[contracts.TypeBookSummary])
	for _, r := range job.Results {
		assert.False(t, r.StartedAt.IsZero())
		assert.False(t, r.FinishedAt.Before(r.StartedAt))
	}
	assert.Equal(t, []EventKind{
		EventJobStarted,
		EventTaskStarted, EventTaskFinished,
		EventTaskStarted, EventTaskFinished,
		EventJobFinished,
	}, h.kinds())
}

func TestOrchestrator_FailureSkipsDescendants(t *testing.T) {
	h := newHarness(t, nil, pipeline("A", "B", "C"), nil, contracts.JobSettings{},
		taskDef{id: "A", out: tags(contracts.TypeMarkdown), fn: failing("pdf unreadable")},
		taskDef{id: "B", deps: ids("A"), out: tags(contracts.TypeBookSummary)},
		taskDef{id: "C", deps: ids("A"), out: tags(contracts.TypeFigures)},
	)

	status, job := h.run(t, context.Background(), 2)

	assert.Equal(t, contracts.JobFailed, status)
	require.NotNil(t, job.Results["A"].Error)
	assert.Equal(t, contracts.CodeExecutionFailed, job.Results["A"].Error.Code)
	assert.Contains(t, job.Results["A"].Error.Message, "pdf unreadable")
	for _, id := range ids("B", "C") {
		r := job.Results[id]
		assert.Equal(t, contracts.TaskSkipped, r.Status, id)
		require.NotNil(t, r.Error)
		assert.Equal(t, contracts.CodeUpstreamFailed, r.Error.Code)
		assert.True(t, r.StartedAt.IsZero(), "skipped tasks never start")
	}
}

func TestOrchestrator_IndependentBranchesRunConcurrently(t *testing.T) {
	var started sync.WaitGroup
	started.Add(2)
	var finished atomic.Int32

	branch := func(id contracts.TaskID, out contracts.TypeTag) taskDef {
		return taskDef{id: id, out: tags(out), fn: func(context.Context, contracts.TaskInput) (contracts.TaskOutput, error) {
			started.Done()
			wait := make(chan struct{})
			go func() { started.Wait(); close(wait) }()
			select {
			case <-wait:
			case <-time.After(2 * time.Second):
				return nil, fmt.Errorf("%s never ran alongside its sibling", id)
			}
			finished.Add(1)
			return contracts.TaskOutput{out: string(id)}, nil
		}}
	}

	h := newHarness(t, nil, pipeline("A", "B", "C"), nil, contracts.JobSettings{},
		branch("A", contracts.TypeMarkdown),
		branch("B", contracts.TypeFigures),
		taskDef{id: "C", deps: ids("A", "B"), in: tags(contracts.TypeMarkdown, contracts.TypeFigures), out: tags(contracts.TypeBookSummary),
			fn: func(_ context.Context, in contracts.TaskInput) (contracts.TaskOutput, error) {
				if n := finished.Load(); n != 2 {
					return nil, fmt.Errorf("started with %d of 2 dependencies done", n)
				}
				return contracts.TaskOutput{contracts.TypeBookSummary: fmt.Sprint(in.Values[contracts.TypeMarkdown], in.Values[contracts.TypeFigures])}, nil
			}},
	)

	status, job := h.run(t, context.Background(), 2)

	assert.Equal(t, contracts.JobCompleted, status, "%+v", job.Results)
	assert.Equal(t, "AB", job.Results["C"].Outputs[contracts.TypeBookSummary])
	assert.False(t, job.Results["C"].StartedAt.Before(job.Results["A"].FinishedAt))
	assert.False(t, job.Results["C"].StartedAt.Before(job.Results["B"].FinishedAt))
}

func TestOrchestrator_PartialOutcome(t *testing.T) {
	h := newHarness(t, nil, pipeline("A", "B", "C"), nil, contracts.JobSettings{},
		taskDef{id: "A", out: tags(contracts.TypeMarkdown)},
		taskDef{id: "B", out: tags(contracts.TypeFigures), fn: failing("no figures")},
		taskDef{id: "C", deps: ids("B"), out: tags(contracts.TypeQuiz)},
	)

	status, job := h.run(t, context.Background(), 1)

	assert.Equal(t, contracts.JobPartial, status)
	assert.Equal(t, contracts.TaskCompleted, job.Results["A"].Status)
	assert.Equal(t, contracts.TaskFailed, job.Results["B"].Status)
	assert.Equal(t, contracts.TaskSkipped, job.Results["C"].Status)
}

func TestOrchestrator_MissingOutputFailsTask(t *testing.T) {
	h := newHarness(t, nil, pipeline("A"), nil, contracts.JobSettings{},
		taskDef{id: "A", out: tags(contracts.TypeMarkdown, contracts.TypeFigures),
			fn: func(context.Context, contracts.TaskInput) (contracts.TaskOutput, error) {
				return contracts.TaskOutput{contracts.TypeMarkdown: "only"}, nil
			}},
	)

	status, job := h.run(t, context.Background(), 1)

	assert.Equal(t, contracts.JobFailed, status)
	assert.Equal(t, contracts.CodeMissingOutput, job.Results["A"].Error.Code)
	assert.Empty(t, job.Results["A"].Outputs)
}

func TestOrchestrator_UnstorableOutputFailsTask(t *testing.T) {
	h := newHarness(t, nil, pipeline("A", "B", "C"), nil, contracts.JobSettings{},
		taskDef{id: "A", out: tags(contracts.TypeMetadata),
			fn: func(context.Context, contracts.TaskInput) (contracts.TaskOutput, error) {
				return contracts.TaskOutput{contracts.TypeMetadata: math.NaN()}, nil
			}},
		taskDef{id: "B", out: tags(contracts.TypeMarkdown)},
		taskDef{id: "C", deps: ids("A"), out: tags(contracts.TypeQuiz)},
	)

	status, job := h.run(t, context.Background(), 2)

	assert.Equal(t, contracts.JobPartial, status)
	require.NotNil(t, job.Results["A"].Error)
	assert.Equal(t, contracts.TaskFailed, job.Results["A"].Status)
	assert.Equal(t, contracts.CodeInvalidOutput, job.Results["A"].Error.Code)
	assert.Equal(t, contracts.TaskCompleted, job.Results["B"].Status)
	assert.Equal(t, contracts.TaskSkipped, job.Results["C"].Status)
	assert.NotContains(t, h.kinds(), EventStorageFailed)
}

func TestOrchestrator_ArtifactDirFromFileStore(t *testing.T) {
	base := t.TempDir()
	st, err := store.NewFile(base)
	require.NoError(t, err)

	var dirs sync.Map
	write := func(ctx context.Context, in contracts.TaskInput) (contracts.TaskOutput, error) {
		dirs.Store(in.TaskID, in.ArtifactDir)
		path := filepath.Join(in.ArtifactDir, "output.md")
		if err := os.WriteFile(path, []byte(string(in.TaskID)), 0o600); err != nil {
			return nil, err
		}
		return contracts.TaskOutput{contracts.TypeMarkdown: path}, nil
	}
	h := newHarness(t, st, pipeline("A", "B"), nil, contracts.JobSettings{},
		taskDef{id: "A", out: tags(contracts.TypeMarkdown), fn: write},
		taskDef{id: "B", deps: ids("A"), in: tags(contracts.TypeMarkdown), out: tags(contracts.TypeFigures),
			fn: func(ctx context.Context, in contracts.TaskInput) (contracts.TaskOutput, error) {
				dirs.Store(in.TaskID, in.ArtifactDir)
				data, err := os.ReadFile(in.Values[contracts.TypeMarkdown].(string))
				if err != nil {
					return nil, err
				}
				return contracts.TaskOutput{contracts.TypeFigures: string(data)}, nil
			}},
	)

	status, job := h.run(t, context.Background(), 1)

	require.Equal(t, contracts.JobCompleted, status, "%+v", job.Results)
	assert.Equal(t, "A", job.Results["B"].Outputs[contracts.TypeFigures])
	for _, id := range ids("A", "B") {
		dir, ok := dirs.Load(id)
		require.True(t, ok)
		assert.Equal(t, filepath.Join(base, "jobs", string(h.job.ID), "task_"+string(id)), dir)
	}
}

func TestOrchestrator_OverridesAndOptions(t *testing.T) {
	var got contracts.TaskInput
	cfg := contracts.PipelineConfig{
		Name:     "opts",
		Settings: map[string]any{"lang": "en", "depth": 1},
		Tasks: []contracts.TaskSpec{
			{TaskID: "A"},
			{
				TaskID:  "B",
				Inputs:  map[contracts.TypeTag]any{contracts.TypeEnhancedMarkdown: "$markdown", contracts.TypeBookTitle: "Dune"},
				Options: map[string]any{"depth": 2, "style": "short"},
			},
		},
	}
	settings := contracts.JobSettings{
		Values:      map[string]any{"lang": "de"},
		TaskOptions: map[contracts.TaskID]map[string]any{"B": {"style": "long"}},
	}
	h := newHarness(t, nil, cfg, nil, settings,
		taskDef{id: "A", out: tags(contracts.TypeMarkdown)},
		taskDef{id: "B", deps: ids("A"), in: tags(contracts.TypeEnhancedMarkdown, contracts.TypeBookTitle), out: tags(contracts.TypeBookSummary),
			fn: func(_ context.Context, in contracts.TaskInput) (contracts.TaskOutput, error) {
				got = in
				return contracts.TaskOutput{contracts.TypeBookSummary: "ok"}, nil
			}},
	)

	status, _ := h.run(t, context.Background(), 1)

	require.Equal(t, contracts.JobCompleted, status)
	assert.Equal(t, h.job.ID, got.JobID)
	assert.Equal(t, contracts.TaskID("B"), got.TaskID)
	assert.Equal(t, "A:markdown", got.Values[contracts.TypeEnhancedMarkdown])
	assert.Equal(t, "Dune", got.Values[contracts.TypeBookTitle])
	assert.Equal(t, "de", got.Options["lang"])
	assert.Equal(t, "long", got.Options["style"])
	assert.EqualValues(t, 2, got.Options["depth"])
	assert.Empty(t, got.ArtifactDir, "memory store keeps no artifacts")
}

func TestOrchestrator_CancellationSkipsPending(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	h := newHarness(t, nil, pipeline("A", "B", "C"), nil, contracts.JobSettings{},
		taskDef{id: "A", out: tags(contracts.TypeMarkdown), fn: func(context.Context, contracts.TaskInput) (contracts.TaskOutput, error) {
			close(started)
			<-release
			return contracts.TaskOutput{contracts.TypeMarkdown: "done"}, nil
		}},
		taskDef{id: "B", deps: ids("A"), out: tags(contracts.TypeBookSummary)},
		taskDef{id: "C", deps: ids("B"), out: tags(contracts.TypeQuiz)},
	)

	ctx, cancel := context.WithCancelCause(context.Background())
	go func() {
		<-started
		cancel(errors.New("operator request"))
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	status, job := h.run(t, ctx, 1)

	assert.Equal(t, contracts.JobPartial, status)
	assert.Equal(t, contracts.TaskCompleted, job.Results["A"].Status, "running task finishes after cancellation")
	for _, id := range ids("B", "C") {
		r := job.Results[id]
		assert.Equal(t, contracts.TaskSkipped, r.Status)
		require.NotNil(t, r.Error)
		assert.Equal(t, contracts.CodeCancelled, r.Error.Code)
	}
	assert.Equal(t, "job cancelled: operator request", job.Error)
	assert.Contains(t, h.kinds(), EventJobCancelled)
}

func TestOrchestrator_CancelledBeforeStart(t *testing.T) {
	var calls atomic.Int32
	count := func(context.Context, contracts.TaskInput) (contracts.TaskOutput, error) {
		calls.Add(1)
		return contracts.TaskOutput{contracts.TypeMarkdown: "x"}, nil
	}
	h := newHarness(t, nil, pipeline("A", "B"), nil, contracts.JobSettings{},
		taskDef{id: "A", out: tags(contracts.TypeMarkdown), fn: count},
		taskDef{id: "B", out: tags(contracts.TypeMarkdown), fn: count},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	status, job := h.run(t, ctx, 2)

	assert.Equal(t, contracts.JobFailed, status)
	assert.Zero(t, calls.Load())
	for _, r := range job.Results {
		assert.Equal(t, contracts.TaskSkipped, r.Status)
	}
	assert.Equal(t, "job cancelled: context canceled", job.Error)
}

func TestOrchestrator_ConcurrencyLimit(t *testing.T) {
	tests := []struct {
		name     string
		limit    int
		settings contracts.JobSettings
		want     int32
	}{
		{"orchestrator default", 2, contracts.JobSettings{}, 2},
		{"submission override", 4, contracts.JobSettings{MaxConcurrency: 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var running, peak atomic.Int32
			work := func(context.Context, contracts.TaskInput) (contracts.TaskOutput, error) {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(15 * time.Millisecond)
				running.Add(-1)
				return contracts.TaskOutput{contracts.TypeMetadata: "ok"}, nil
			}
			var defs []taskDef
			var all []contracts.TaskID
			for i := range 5 {
				id := contracts.TaskID(fmt.Sprintf("t%d", i))
				all = append(all, id)
				defs = append(defs, taskDef{id: id, out: tags(contracts.TypeMetadata), fn: work})
			}
			h := newHarness(t, nil, pipeline(all...), nil, tt.settings, defs...)

			status, _ := h.run(t, context.Background(), tt.limit)

			assert.Equal(t, contracts.JobCompleted, status)
			assert.Equal(t, tt.want, peak.Load())
		})
	}
}

// addJob creates another job in the harness store over the same registry.
func (h *harness) addJob(t *testing.T, cfg contracts.PipelineConfig) (*contracts.Job, *contracts.ExecutionGraph) {
	t.Helper()
	graph, err := NewDependencyResolver(h.reg).Resolve(cfg, nil)
	require.NoError(t, err)
	ctx := context.Background()
	id, err := h.store.Create(ctx, contracts.JobSpec{Config: cfg, Order: graph.OrderIDs()})
	require.NoError(t, err)
	job, err := h.store.Get(ctx, id)
	require.NoError(t, err)
	return job, graph
}

func TestOrchestrator_GlobalLimitAcrossJobs(t *testing.T) {
	var running, peak atomic.Int32
	work := func(context.Context, contracts.TaskInput) (contracts.TaskOutput, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return contracts.TaskOutput{contracts.TypeMetadata: "ok"}, nil
	}
	h := newHarness(t, nil, pipeline("A", "B"), nil, contracts.JobSettings{},
		taskDef{id: "A", out: tags(contracts.TypeMetadata), fn: work},
		taskDef{id: "B", out: tags(contracts.TypeMetadata), fn: work},
	)
	o := NewOrchestrator(OrchestratorDeps{Registry: h.reg, Store: h.store}, Options{MaxConcurrency: 2, GlobalLimit: 2})

	type run struct {
		job   *contracts.Job
		graph *contracts.ExecutionGraph
	}
	runs := []run{{h.job, h.graph}}
	for range 2 {
		job, graph := h.addJob(t, pipeline("A", "B"))
		runs = append(runs, run{job, graph})
	}

	var wg sync.WaitGroup
	statuses := make([]contracts.JobStatus, len(runs))
	for i, r := range runs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			statuses[i], _ = o.Run(context.Background(), r.job, r.graph)
		}()
	}
	wg.Wait()

	for _, st := range statuses {
		assert.Equal(t, contracts.JobCompleted, st)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestOrchestrator_CancelWhileWaitingForGlobalSlot(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var bCalls atomic.Int32
	h := newHarness(t, nil, pipeline("A"), nil, contracts.JobSettings{},
		taskDef{id: "A", out: tags(contracts.TypeMarkdown), fn: func(context.Context, contracts.TaskInput) (contracts.TaskOutput, error) {
			close(started)
			<-release
			return contracts.TaskOutput{contracts.TypeMarkdown: "done"}, nil
		}},
		taskDef{id: "B", out: tags(contracts.TypeFigures), fn: func(context.Context, contracts.TaskInput) (contracts.TaskOutput, error) {
			bCalls.Add(1)
			return contracts.TaskOutput{contracts.TypeFigures: "late"}, nil
		}},
	)
	o := NewOrchestrator(OrchestratorDeps{Registry: h.reg, Store: h.store}, Options{MaxConcurrency: 1, GlobalLimit: 1})

	first := make(chan contracts.JobStatus, 1)
	go func() {
		st, _ := o.Run(context.Background(), h.job, h.graph)
		first <- st
	}()
	<-started

	job2, graph2 := h.addJob(t, pipeline("B"))
	ctx2, cancel2 := context.WithCancelCause(context.Background())
	second := make(chan contracts.JobStatus, 1)
	go func() {
		st, _ := o.Run(ctx2, job2, graph2)
		second <- st
	}()

	time.Sleep(30 * time.Millisecond)
	waiting, err := h.store.Get(context.Background(), job2.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.TaskPending, waiting.Results["B"].Status, "no RUNNING record while waiting for a slot")

	cancel2(errors.New("operator request"))
	select {
	case st := <-second:
		assert.Equal(t, contracts.JobFailed, st)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled job kept waiting for a slot")
	}
	close(release)
	assert.Equal(t, contracts.JobCompleted, <-first)

	got, err := h.store.Get(context.Background(), job2.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.TaskSkipped, got.Results["B"].Status)
	require.NotNil(t, got.Results["B"].Error)
	assert.Equal(t, contracts.CodeCancelled, got.Results["B"].Error.Code)
	assert.True(t, got.Results["B"].StartedAt.IsZero())
	assert.Zero(t, bCalls.Load())
}

func TestOrchestrator_TimeoutFromSubmission(t *testing.T) {
	h := newHarness(t, nil, pipeline("A"), nil,
		contracts.JobSettings{Timeouts: map[contracts.TaskID]contracts.Duration{"A": contracts.Duration(20 * time.Millisecond)}},
		taskDef{id: "A", out: tags(contracts.TypeMarkdown), estimate: time.Hour,
			fn: func(ctx context.Context, _ contracts.TaskInput) (contracts.TaskOutput, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}},
	)

	status, job := h.run(t, context.Background(), 1)

	assert.Equal(t, contracts.JobFailed, status)
	assert.Equal(t, contracts.CodeTimeout, job.Results["A"].Error.Code)
}

func TestOrchestrator_RejectsFinishedJob(t *testing.T) {
	h := newHarness(t, nil, pipeline("A"), nil, contracts.JobSettings{}, taskDef{id: "A", out: tags(contracts.TypeMarkdown)})
	h.run(t, context.Background(), 1)

	finished, err := h.store.Get(context.Background(), h.job.ID)
	require.NoError(t, err)
	_, err = h.orchestrator(1).Run(context.Background(), finished, h.graph)
	assert.ErrorIs(t, err, contracts.ErrJobFinalized)

	_, err = h.orchestrator(1).Run(context.Background(), nil, h.graph)
	assert.ErrorIs(t, err, contracts.ErrInvalidInput)
}

// flakyStore fails every UpdateTaskResult after the first n.
type flakyStore struct {
	contracts.JobStore
	n     int32
	calls atomic.Int32
}

func (f *flakyStore) UpdateTaskResult(ctx context.Context, id contracts.JobID, r contracts.TaskResult) error {
	if f.calls.Add(1) > f.n {
		return fmt.Errorf("write result: %w", contracts.ErrStorage)
	}
	return f.JobStore.UpdateTaskResult(ctx, id, r)
}

func TestOrchestrator_StorageFailureStopsDispatch(t *testing.T) {
	var calls atomic.Int32
	count := func(context.Context, contracts.TaskInput) (contracts.TaskOutput, error) {
		calls.Add(1)
		return contracts.TaskOutput{contracts.TypeMarkdown: "x"}, nil
	}
	st := &flakyStore{JobStore: store.NewMemory(), n: 2}
	h := newHarness(t, st, pipeline("A", "B", "C"), nil, contracts.JobSettings{},
		taskDef{id: "A", out: tags(contracts.TypeMarkdown), fn: count},
		taskDef{id: "B", out: tags(contracts.TypeMarkdown), fn: count},
		taskDef{id: "C", out: tags(contracts.TypeMarkdown), fn: count},
	)

	status, err := h.orchestrator(1).Run(context.Background(), h.job, h.graph)

	require.ErrorIs(t, err, contracts.ErrStorage)
	assert.Equal(t, contracts.JobRunning, status)
	assert.Equal(t, int32(1), calls.Load(), "nothing is dispatched after a failed write")
	assert.Contains(t, h.kinds(), EventStorageFailed)

	job, err := st.Get(context.Background(), h.job.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.JobRunning, job.Status)
	assert.Equal(t, contracts.TaskCompleted, job.Results["A"].Status)
}
