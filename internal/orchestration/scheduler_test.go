package orchestration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavfirsov/content-pipeline/contracts"
)

// diamond: A -> B, A -> C, B+C -> D, plus an independent E.
func diamondGraph(t *testing.T) *contracts.ExecutionGraph {
	t.Helper()
	reg := newRegistry(t,
		taskDef{id: "A", out: tags(contracts.TypeMarkdown)},
		taskDef{id: "B", deps: ids("A"), out: tags(contracts.TypeFigures)},
		taskDef{id: "C", deps: ids("A"), out: tags(contracts.TypeBookSummary)},
		taskDef{id: "D", deps: ids("B", "C"), out: tags(contracts.TypeQuiz)},
		taskDef{id: "E", out: tags(contracts.TypeCacheFile)},
	)
	g, err := NewDependencyResolver(reg).Resolve(pipeline("A", "B", "C", "D", "E"), nil)
	require.NoError(t, err)
	return g
}

func TestScheduler_Ready(t *testing.T) {
	g := diamondGraph(t)
	s := NewScheduler(g)

	assert.Equal(t, []int{0, 4}, s.Ready())
	assert.Empty(t, s.Ready(), "ready nodes are reported once")
	assert.Equal(t, 5, s.Remaining())
}

func TestScheduler_Complete(t *testing.T) {
	tests := []struct {
		name      string
		complete  []int
		wantLast  []int
		remaining int
	}{
		{
			name:      "root unlocks both branches",
			complete:  []int{0},
			wantLast:  []int{1, 2},
			remaining: 4,
		},
		{
			name:      "join waits for every dependency",
			complete:  []int{0, 1},
			wantLast:  nil,
			remaining: 3,
		},
		{
			name:      "last dependency unlocks join",
			complete:  []int{0, 2, 1},
			wantLast:  []int{3},
			remaining: 2,
		},
		{
			name:      "completing twice is a no-op",
			complete:  []int{0, 0},
			wantLast:  nil,
			remaining: 4,
		},
		{
			name:      "independent node has no dependents",
			complete:  []int{4},
			wantLast:  nil,
			remaining: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScheduler(diamondGraph(t))
			s.Ready()

			var last []int
			for _, n := range tt.complete {
				last = s.Complete(n)
			}
			assert.Equal(t, tt.wantLast, last)
			assert.Equal(t, tt.remaining, s.Remaining())
		})
	}
}

func TestScheduler_Skip(t *testing.T) {
	s := NewScheduler(diamondGraph(t))
	s.Ready()
	s.Complete(0)

	s.Skip(1)
	s.Skip(3)
	s.Skip(3)
	assert.Equal(t, 2, s.Remaining())

	assert.Nil(t, s.Complete(2), "skipped join never becomes ready")
	assert.Nil(t, s.Complete(1), "skipped node cannot complete")
	assert.Equal(t, 1, s.Remaining())

	s.Complete(4)
	assert.Zero(t, s.Remaining())
}

func TestScheduler_Integration(t *testing.T) {
	g := diamondGraph(t)
	s := NewScheduler(g)
	q := NewQueueManager(g)
	for _, n := range s.Ready() {
		q.Enqueue(n)
	}

	var order []int
	for {
		n, ok := q.Dequeue()
		if !ok {
			break
		}
		order = append(order, n)
		for _, next := range s.Complete(n) {
			q.Enqueue(next)
		}
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, g.Order, order)
	assert.Zero(t, s.Remaining())
}
