package inputs

import (
	"fmt"
	"maps"

	"github.com/vladislavfirsov/content-pipeline/contracts"
)

// Builder assembles the TaskInput for nodes of one job.
type Builder struct {
	job    *contracts.Job
	graph  *contracts.ExecutionGraph
	router *Router
}

// NewBuilder creates a Builder reading upstream outputs from router.
func NewBuilder(job *contracts.Job, graph *contracts.ExecutionGraph, router *Router) *Builder {
	return &Builder{job: job, graph: graph, router: router}
}

// Build returns the input of node n.
//
// Values: each consumed type is taken from the task's own override, else
// from the ancestor the resolver bound it to, else from the job seeds.
// Overrides of the form "$tag" are replaced by the value bound to tag.
// Options: pipeline settings < submission values < task options <
// submission task options.
func (b *Builder) Build(n int) (contracts.TaskInput, error) {
	node := &b.graph.Nodes[n]
	id := node.Spec.TaskID
	values := make(map[contracts.TypeTag]any)

	for tag, v := range node.Spec.Inputs {
		if target, ok := contracts.RefTarget(v); ok {
			resolved, found := b.upstream(node, target)
			if !found {
				return contracts.TaskInput{}, fmt.Errorf("task %s input %s: reference %s unbound: %w", id, tag, target, contracts.ErrUnsatisfiedInput)
			}
			v = resolved
		}
		values[tag] = v
	}

	consume := func(tag contracts.TypeTag, required bool) error {
		if _, ok := values[tag]; ok {
			return nil
		}
		if v, ok := b.upstream(node, tag); ok {
			values[tag] = v
			return nil
		}
		if required {
			return fmt.Errorf("task %s input %s: %w", id, tag, contracts.ErrUnsatisfiedInput)
		}
		return nil
	}
	for _, tag := range node.Metadata.InputTypes {
		if err := consume(tag, true); err != nil {
			return contracts.TaskInput{}, err
		}
	}
	for _, tag := range node.Metadata.OptionalInputTypes {
		if err := consume(tag, false); err != nil {
			return contracts.TaskInput{}, err
		}
	}

	return contracts.TaskInput{
		JobID:   b.job.ID,
		TaskID:  id,
		Values:  values,
		Options: b.options(node),
	}, nil
}

// upstream resolves tag from the bound ancestor, falling back to seeds.
func (b *Builder) upstream(node *contracts.GraphNode, tag contracts.TypeTag) (any, bool) {
	if p, ok := node.Producers[tag]; ok {
		if v, ok := b.router.Lookup(p, tag); ok {
			return v, true
		}
	}
	v, ok := b.job.Inputs[tag]
	return v, ok
}

func (b *Builder) options(node *contracts.GraphNode) map[string]any {
	opts := make(map[string]any)
	maps.Copy(opts, b.job.Config.Settings)
	maps.Copy(opts, b.job.Settings.Values)
	maps.Copy(opts, node.Spec.Options)
	maps.Copy(opts, b.job.Settings.TaskOptions[node.Spec.TaskID])
	return opts
}
