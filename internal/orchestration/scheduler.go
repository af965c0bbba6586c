package orchestration

import (
	"slices"

	"github.com/vladislavfirsov/content-pipeline/contracts"
)

// nodeState is the scheduler's view of a node.
type nodeState int

const (
	nodeWaiting nodeState = iota
	nodeReady
	nodeDone
	nodeSkipped
)

// scheduler implements contracts.Scheduler over an execution graph.
// It keeps a count of unfinished dependencies per node; a node becomes ready
// when that count reaches zero. Readiness is reported in declaration order.
//
// Thread-safety: The scheduler is owned by a single job loop and is not
// safe for concurrent use.
type scheduler struct {
	graph     *contracts.ExecutionGraph
	pending   []int
	state     []nodeState
	remaining int
}

// NewScheduler creates a Scheduler for graph.
func NewScheduler(graph *contracts.ExecutionGraph) contracts.Scheduler {
	s := &scheduler{
		graph:     graph,
		pending:   make([]int, graph.Len()),
		state:     make([]nodeState, graph.Len()),
		remaining: graph.Len(),
	}
	for i := range graph.Nodes {
		s.pending[i] = len(graph.Nodes[i].Deps)
	}
	return s
}

// Ready returns every waiting node with no unfinished dependencies and marks
// them ready. Called once at job start.
func (s *scheduler) Ready() []int {
	var ready []int
	for i := range s.state {
		if s.state[i] == nodeWaiting && s.pending[i] == 0 {
			s.state[i] = nodeReady
			ready = append(ready, i)
		}
	}
	return ready
}

// Complete marks node done and returns dependents that became ready.
// Completing a node twice is a no-op.
func (s *scheduler) Complete(node int) []int {
	if s.state[node] == nodeDone || s.state[node] == nodeSkipped {
		return nil
	}
	s.state[node] = nodeDone
	s.remaining--

	var ready []int
	for _, next := range s.graph.Nodes[node].Next {
		s.pending[next]--
		if s.pending[next] == 0 && s.state[next] == nodeWaiting {
			s.state[next] = nodeReady
			ready = append(ready, next)
		}
	}
	slices.Sort(ready)
	return ready
}

// Skip marks a waiting or ready node as never to run.
func (s *scheduler) Skip(node int) {
	if s.state[node] == nodeWaiting || s.state[node] == nodeReady {
		s.state[node] = nodeSkipped
		s.remaining--
	}
}

// Remaining returns the number of nodes not yet done or skipped.
func (s *scheduler) Remaining() int {
	return s.remaining
}
