package contracts

import (
	"maps"
	"slices"
	"time"

	"github.com/jinzhu/copier"
)

// TaskMetadata is the self-description a task publishes at registration.
// It is immutable once registered.
type TaskMetadata struct {
	TaskID             TaskID         `json:"task_id" yaml:"task_id"`
	Name               string         `json:"name" yaml:"name"`
	Description        string         `json:"description,omitempty" yaml:"description,omitempty"`
	Version            string         `json:"version" yaml:"version"`
	InputTypes         []TypeTag      `json:"input_types" yaml:"input_types"`
	OptionalInputTypes []TypeTag      `json:"optional_input_types,omitempty" yaml:"optional_input_types,omitempty"`
	OutputTypes        []TypeTag      `json:"output_types" yaml:"output_types"`
	Dependencies       []TaskID       `json:"dependencies" yaml:"dependencies"`
	EstimatedDuration  time.Duration  `json:"estimated_duration" yaml:"estimated_duration"`
	Resources          map[string]any `json:"resources,omitempty" yaml:"resources,omitempty"`
}

// Clone returns a deep copy of the metadata.
func (m TaskMetadata) Clone() TaskMetadata {
	out := m
	out.InputTypes = slices.Clone(m.InputTypes)
	out.OptionalInputTypes = slices.Clone(m.OptionalInputTypes)
	out.OutputTypes = slices.Clone(m.OutputTypes)
	out.Dependencies = slices.Clone(m.Dependencies)
	out.Resources = maps.Clone(m.Resources)
	return out
}

// Consumes reports whether tag is a required or optional input.
func (m TaskMetadata) Consumes(tag TypeTag) bool {
	return slices.Contains(m.InputTypes, tag) || slices.Contains(m.OptionalInputTypes, tag)
}

// Produces reports whether tag is a declared output.
func (m TaskMetadata) Produces(tag TypeTag) bool {
	return slices.Contains(m.OutputTypes, tag)
}

// TaskInput is what a task receives on each invocation.
type TaskInput struct {
	JobID   JobID
	TaskID  TaskID
	Values  map[TypeTag]any
	Options map[string]any
	// ArtifactDir is the task's working directory when the job store keeps
	// artifacts on disk. Empty otherwise.
	ArtifactDir string
}

// Value returns the value bound to tag.
func (in TaskInput) Value(tag TypeTag) (any, bool) {
	v, ok := in.Values[tag]
	return v, ok
}

// String returns the value bound to tag if it is a string.
func (in TaskInput) String(tag TypeTag) (string, bool) {
	v, ok := in.Values[tag]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// TaskOutput maps each produced type tag to its value.
type TaskOutput map[TypeTag]any

// TaskSpec is one entry of a pipeline configuration.
type TaskSpec struct {
	TaskID TaskID `json:"task_id" yaml:"task_id"`
	// Inputs are literal overrides. A string value "$tag" references the value
	// bound to tag upstream or in the job seeds.
	Inputs  map[TypeTag]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Options map[string]any  `json:"options,omitempty" yaml:"options,omitempty"`
	// Timeout overrides the task's estimated duration as its soft deadline.
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// PipelineConfig is an ordered list of tasks plus settings.
type PipelineConfig struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Tasks       []TaskSpec     `json:"tasks" yaml:"tasks"`
	Settings    map[string]any `json:"settings,omitempty" yaml:"settings,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Clone returns a deep copy of the configuration.
func (c PipelineConfig) Clone() PipelineConfig {
	var out PipelineConfig
	if err := copier.CopyWithOption(&out, &c, copier.Option{DeepCopy: true}); err != nil {
		// unreachable for identical types
		out = c
		out.Tasks = slices.Clone(c.Tasks)
	}
	return out
}

// TaskIDs returns the task ids in declaration order.
func (c PipelineConfig) TaskIDs() []TaskID {
	ids := make([]TaskID, len(c.Tasks))
	for i, t := range c.Tasks {
		ids[i] = t.TaskID
	}
	return ids
}

// JobSettings are per-submission knobs.
type JobSettings struct {
	// MaxConcurrency caps in-flight tasks for this job (0 = executor default).
	MaxConcurrency int `json:"max_concurrency,omitempty" yaml:"max_concurrency,omitempty"`
	// Timeouts override per-task soft deadlines.
	Timeouts map[TaskID]Duration `json:"timeouts,omitempty" yaml:"timeouts,omitempty"`
	// TaskOptions are merged over each task's configured options.
	TaskOptions map[TaskID]map[string]any `json:"task_options,omitempty" yaml:"task_options,omitempty"`
	// Values are passed to every task as options.
	Values map[string]any `json:"values,omitempty" yaml:"values,omitempty"`
}

// JobSpec is what the store needs to create a job.
type JobSpec struct {
	Config   PipelineConfig
	Inputs   map[TypeTag]any
	Settings JobSettings
	// Order is the resolved execution order.
	Order []TaskID
}

// Job is the durable record of one pipeline execution.
type Job struct {
	ID            JobID                 `json:"id"`
	SchemaVersion int                   `json:"schema_version"`
	Config        PipelineConfig        `json:"config"`
	Inputs        map[TypeTag]any       `json:"inputs,omitempty"`
	Settings      JobSettings           `json:"settings"`
	Order         []TaskID              `json:"order"`
	Status        JobStatus             `json:"status"`
	Error         string                `json:"error,omitempty"`
	Results       map[TaskID]TaskResult `json:"results"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// Counts tallies task results by status.
func (j *Job) Counts() map[TaskStatus]int {
	counts := make(map[TaskStatus]int, 5)
	for _, r := range j.Results {
		counts[r.Status]++
	}
	return counts
}

// Summary returns the list view of the job.
func (j *Job) Summary() JobSummary {
	counts := j.Counts()
	return JobSummary{
		ID:        j.ID,
		Name:      j.Config.Name,
		Status:    j.Status,
		Total:     len(j.Results),
		Completed: counts[TaskCompleted],
		Failed:    counts[TaskFailed],
		Skipped:   counts[TaskSkipped],
		Running:   counts[TaskRunning],
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

// JobSummary is the compact view returned by list operations.
type JobSummary struct {
	ID        JobID     `json:"id"`
	Name      string    `json:"name"`
	Status    JobStatus `json:"status"`
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Running   int       `json:"running"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListFilter narrows a job listing.
type ListFilter struct {
	Status *JobStatus
	Limit  int
}

// Matches reports whether a job with status s passes the filter.
func (f ListFilter) Matches(s JobStatus) bool {
	return f.Status == nil || *f.Status == s
}

// TaskResult is the per-task outcome within a job.
type TaskResult struct {
	TaskID     TaskID     `json:"task_id"`
	Status     TaskStatus `json:"status"`
	Outputs    TaskOutput `json:"outputs,omitempty"`
	Error      *TaskError `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at,omitzero"`
	FinishedAt time.Time  `json:"finished_at,omitzero"`
}

// TaskError describes why a task failed or was skipped.
type TaskError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// =============================================================================
// Execution Graph
// =============================================================================

// ExecutionGraph is the resolved DAG of a job. Nodes live in an arena and
// edges are indices into it. It is derived and never persisted.
type ExecutionGraph struct {
	Nodes []GraphNode
	// Order is a topological order of node indices.
	Order []int
	index map[TaskID]int
}

// GraphNode is one task of the graph.
type GraphNode struct {
	Index    int
	Spec     TaskSpec
	Metadata TaskMetadata
	// Deps are direct dependencies, Next are direct dependents.
	Deps []int
	Next []int
	// Ancestors holds every transitive dependency, sorted.
	Ancestors []int
	// Producers maps each routed input tag to the ancestor that provides it.
	Producers map[TypeTag]int
}

// NewExecutionGraph indexes nodes by task id.
func NewExecutionGraph(nodes []GraphNode, order []int) *ExecutionGraph {
	idx := make(map[TaskID]int, len(nodes))
	for i := range nodes {
		idx[nodes[i].Spec.TaskID] = i
	}
	return &ExecutionGraph{Nodes: nodes, Order: order, index: idx}
}

// Len returns the number of nodes.
func (g *ExecutionGraph) Len() int {
	return len(g.Nodes)
}

// Lookup returns the arena index of a task.
func (g *ExecutionGraph) Lookup(id TaskID) (int, bool) {
	i, ok := g.index[id]
	return i, ok
}

// Node returns the node for a task id.
func (g *ExecutionGraph) Node(id TaskID) (*GraphNode, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return &g.Nodes[i], true
}

// OrderIDs returns the topological order as task ids.
func (g *ExecutionGraph) OrderIDs() []TaskID {
	ids := make([]TaskID, len(g.Order))
	for i, n := range g.Order {
		ids[i] = g.Nodes[n].Spec.TaskID
	}
	return ids
}

// Descendants returns every node reachable from i, in index order.
func (g *ExecutionGraph) Descendants(i int) []int {
	seen := make([]bool, len(g.Nodes))
	stack := slices.Clone(g.Nodes[i].Next)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, g.Nodes[n].Next...)
	}
	var out []int
	for n, ok := range seen {
		if ok {
			out = append(out, n)
		}
	}
	return out
}
