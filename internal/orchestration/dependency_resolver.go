package orchestration

import (
	"maps"
	"slices"

	"github.com/vladislavfirsov/content-pipeline/contracts"
)

// dependencyResolver implements contracts.DependencyResolver.
// It looks every configured task up in the registry, builds the DAG from the
// tasks' declared dependencies, orders it topologically and checks that each
// task's required input types are satisfied by exactly one source.
//
// The order is produced with Kahn's algorithm; among ready nodes the one
// declared first in the configuration is always picked, so the same config
// always resolves to the same order.
//
// Thread-safety: The resolver holds no mutable state and is thread-safe.
type dependencyResolver struct {
	registry contracts.TaskRegistry
}

// NewDependencyResolver creates a new DependencyResolver backed by registry.
func NewDependencyResolver(registry contracts.TaskRegistry) contracts.DependencyResolver {
	return &dependencyResolver{registry: registry}
}

// Resolve validates cfg and returns its execution graph.
// Every failure is a configuration error; no job may be created from it.
func (dr *dependencyResolver) Resolve(cfg contracts.PipelineConfig, seeds []contracts.TypeTag) (*contracts.ExecutionGraph, error) {
	nodes, err := dr.buildNodes(cfg)
	if err != nil {
		return nil, err
	}

	order, err := topoSort(nodes)
	if err != nil {
		return nil, err
	}

	computeAncestors(nodes, order)

	seedSet := make(map[contracts.TypeTag]bool, len(seeds))
	for _, s := range seeds {
		seedSet[s] = true
	}
	for _, n := range order {
		if err := bindInputs(nodes, n, seedSet); err != nil {
			return nil, err
		}
	}

	return contracts.NewExecutionGraph(nodes, order), nil
}

// buildNodes creates one arena node per configured task and wires dependency
// edges by index.
func (dr *dependencyResolver) buildNodes(cfg contracts.PipelineConfig) ([]contracts.GraphNode, error) {
	// Edge case: empty pipeline
	if len(cfg.Tasks) == 0 {
		return nil, contracts.NewConfigurationError("", contracts.ErrInvalidConfig, "pipeline %q has no tasks", cfg.Name)
	}

	index := make(map[contracts.TaskID]int, len(cfg.Tasks))
	nodes := make([]contracts.GraphNode, len(cfg.Tasks))

	// First pass: look up metadata and index nodes
	for i, spec := range cfg.Tasks {
		if spec.TaskID == "" {
			return nil, contracts.NewConfigurationError("", contracts.ErrInvalidConfig, "task #%d has empty id", i)
		}
		if _, dup := index[spec.TaskID]; dup {
			return nil, contracts.NewConfigurationError(spec.TaskID, contracts.ErrInvalidConfig, "listed more than once")
		}
		meta, err := dr.registry.Metadata(spec.TaskID)
		if err != nil {
			return nil, err
		}
		index[spec.TaskID] = i
		nodes[i] = contracts.GraphNode{
			Index:     i,
			Spec:      spec,
			Metadata:  meta,
			Producers: make(map[contracts.TypeTag]int),
		}
	}

	// Second pass: build edges, dependencies must be part of the pipeline
	for i := range nodes {
		for _, dep := range nodes[i].Metadata.Dependencies {
			d, ok := index[dep]
			if !ok {
				return nil, &contracts.UnresolvedDependencyError{Task: nodes[i].Spec.TaskID, Dependency: dep}
			}
			nodes[i].Deps = append(nodes[i].Deps, d)
			nodes[d].Next = append(nodes[d].Next, i)
		}
	}
	for i := range nodes {
		slices.Sort(nodes[i].Next)
	}
	return nodes, nil
}

// topoSort orders nodes with Kahn's algorithm, breaking ties by declaration
// index. Nodes left over form or sit between cycles.
func topoSort(nodes []contracts.GraphNode) ([]int, error) {
	indegree := make([]int, len(nodes))
	for i := range nodes {
		indegree[i] = len(nodes[i].Deps)
	}

	// ready is kept sorted ascending so ready[0] is the earliest declared.
	var ready []int
	for i, d := range indegree {
		if d == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]int, 0, len(nodes))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		for _, next := range nodes[n].Next {
			indegree[next]--
			if indegree[next] == 0 {
				pos, _ := slices.BinarySearch(ready, next)
				ready = slices.Insert(ready, pos, next)
			}
		}
	}

	if len(order) == len(nodes) {
		return order, nil
	}
	return nil, &contracts.CyclicDependencyError{Tasks: cycleMembers(nodes, indegree)}
}

// cycleMembers returns the tasks involved in cycles. After Kahn's algorithm
// every leftover node has a leftover dependency; nodes that merely descend
// from a cycle are peeled off by repeatedly removing leftover nodes with no
// leftover dependents.
func cycleMembers(nodes []contracts.GraphNode, indegree []int) []contracts.TaskID {
	left := make([]bool, len(nodes))
	for i, d := range indegree {
		left[i] = d > 0
	}

	for changed := true; changed; {
		changed = false
		for i := range nodes {
			if !left[i] {
				continue
			}
			hasDependent := slices.ContainsFunc(nodes[i].Next, func(n int) bool { return left[n] })
			if !hasDependent {
				left[i] = false
				changed = true
			}
		}
	}

	var ids []contracts.TaskID
	for i, ok := range left {
		if ok {
			ids = append(ids, nodes[i].Spec.TaskID)
		}
	}
	return ids
}

// computeAncestors fills each node's transitive dependency set. order must be
// topological so dependencies are complete before their dependents.
func computeAncestors(nodes []contracts.GraphNode, order []int) {
	for _, n := range order {
		seen := make(map[int]bool)
		for _, d := range nodes[n].Deps {
			seen[d] = true
			for _, a := range nodes[d].Ancestors {
				seen[a] = true
			}
		}
		ancestors := make([]int, 0, len(seen))
		for a := range seen {
			ancestors = append(ancestors, a)
		}
		slices.Sort(ancestors)
		nodes[n].Ancestors = ancestors
	}
}

// bindInputs decides where each consumed input type of node n comes from.
//
// Precedence: the task's own override, then an ancestor's output, then a
// job seed. When several ancestors produce the same type the one that
// descends from all the others wins; if no such producer exists the
// configuration is ambiguous.
func bindInputs(nodes []contracts.GraphNode, n int, seeds map[contracts.TypeTag]bool) error {
	node := &nodes[n]
	var missing []contracts.TypeTag

	bind := func(tag contracts.TypeTag, required bool) error {
		producer, err := pickProducer(nodes, n, tag)
		if err != nil {
			return err
		}
		switch {
		case producer >= 0:
			node.Producers[tag] = producer
		case seeds[tag]:
		case required:
			missing = append(missing, tag)
		}
		return nil
	}

	// References in overrides must resolve upstream or to a seed.
	for _, tag := range slices.Sorted(maps.Keys(node.Spec.Inputs)) {
		target, ok := contracts.RefTarget(node.Spec.Inputs[tag])
		if !ok {
			continue
		}
		if err := bind(target, true); err != nil {
			return err
		}
	}

	for _, tag := range node.Metadata.InputTypes {
		if _, overridden := node.Spec.Inputs[tag]; overridden {
			continue
		}
		if err := bind(tag, true); err != nil {
			return err
		}
	}
	for _, tag := range node.Metadata.OptionalInputTypes {
		if _, overridden := node.Spec.Inputs[tag]; overridden {
			continue
		}
		if err := bind(tag, false); err != nil {
			return err
		}
	}

	if len(missing) > 0 {
		slices.Sort(missing)
		missing = slices.Compact(missing)
		return &contracts.UnsatisfiedInputError{Task: node.Spec.TaskID, Types: missing}
	}
	return nil
}

// pickProducer returns the ancestor of n whose output feeds tag, or -1.
func pickProducer(nodes []contracts.GraphNode, n int, tag contracts.TypeTag) (int, error) {
	var producers []int
	for _, a := range nodes[n].Ancestors {
		if nodes[a].Metadata.Produces(tag) {
			producers = append(producers, a)
		}
	}

	switch len(producers) {
	case 0:
		return -1, nil
	case 1:
		return producers[0], nil
	}

	// A producer that has every other producer as an ancestor supersedes them.
	for _, p := range producers {
		dominates := true
		for _, other := range producers {
			if other != p && !slices.Contains(nodes[p].Ancestors, other) {
				dominates = false
				break
			}
		}
		if dominates {
			return p, nil
		}
	}

	ids := make([]contracts.TaskID, len(producers))
	for i, p := range producers {
		ids[i] = nodes[p].Spec.TaskID
	}
	return -1, &contracts.AmbiguousInputError{Task: nodes[n].Spec.TaskID, Type: tag, Producers: ids}
}
