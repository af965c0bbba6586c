// Package inputs routes task outputs to downstream tasks and assembles the
// TaskInput of each invocation.
package inputs

import (
	"fmt"

	"github.com/vladislavfirsov/content-pipeline/contracts"
)

// Router holds the outputs of completed nodes of one job, indexed by graph
// node. Only COMPLETED outputs are ever routed.
//
// Thread-safety: owned by the job loop; not safe for concurrent use.
type Router struct {
	graph   *contracts.ExecutionGraph
	outputs []contracts.TaskOutput
}

// NewRouter creates an empty router for graph.
func NewRouter(graph *contracts.ExecutionGraph) *Router {
	return &Router{
		graph:   graph,
		outputs: make([]contracts.TaskOutput, graph.Len()),
	}
}

// Route records the outputs of a completed node.
func (r *Router) Route(node int, result contracts.TaskResult) error {
	if node < 0 || node >= len(r.outputs) {
		return fmt.Errorf("route node %d: %w", node, contracts.ErrTaskNotFound)
	}
	if result.Status != contracts.TaskCompleted {
		return fmt.Errorf("route %s in status %s: %w", result.TaskID, result.Status, contracts.ErrInvalidInput)
	}
	r.outputs[node] = result.Outputs
	return nil
}

// Lookup returns the value of tag produced by node.
func (r *Router) Lookup(node int, tag contracts.TypeTag) (any, bool) {
	if node < 0 || node >= len(r.outputs) || r.outputs[node] == nil {
		return nil, false
	}
	v, ok := r.outputs[node][tag]
	return v, ok
}
