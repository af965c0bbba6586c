// Package registry holds the catalogue of task implementations available to
// pipelines. A registry is an explicit object; there is no process-wide
// default instance.
package registry

import (
	"cmp"
	"iter"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/vladislavfirsov/content-pipeline/contracts"
)

// Registry implements contracts.TaskRegistry.
// It is append-only: tasks are never replaced or removed.
//
// Thread-safety: Register takes the write lock, lookups the read lock.
type Registry struct {
	mu       sync.RWMutex
	tasks    map[contracts.TaskID]entry
	typeTags map[contracts.TypeTag]struct{}
	logger   *zap.Logger
}

// entry pairs a task with the metadata snapshot taken at registration time,
// so later mutation by the task cannot change what the registry reports.
type entry struct {
	task contracts.Task
	meta contracts.TaskMetadata
}

// Option configures a Registry.
type Option func(*Registry)

// WithTypeTags replaces the default type tag vocabulary.
func WithTypeTags(tags ...contracts.TypeTag) Option {
	return func(r *Registry) {
		r.typeTags = make(map[contracts.TypeTag]struct{}, len(tags))
		for _, t := range tags {
			r.typeTags[t] = struct{}{}
		}
	}
}

// WithLogger sets the logger used for registration events.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates an empty registry using the default type tag vocabulary.
func New(opts ...Option) *Registry {
	r := &Registry{
		tasks:  make(map[contracts.TaskID]entry),
		logger: zap.NewNop(),
	}
	WithTypeTags(contracts.DefaultTypeTags()...)(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register validates the task's metadata and adds it to the registry.
// Returns a ConfigurationError wrapping ErrInvalidMetadata or ErrDuplicateTask.
// On error the registry is left unchanged.
func (r *Registry) Register(task contracts.Task) error {
	if task == nil {
		return contracts.NewConfigurationError("", contracts.ErrInvalidMetadata, "nil task")
	}
	meta := task.Metadata().Clone()
	if err := r.validate(meta); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[meta.TaskID]; exists {
		return contracts.NewConfigurationError(meta.TaskID, contracts.ErrDuplicateTask, "register")
	}
	r.tasks[meta.TaskID] = entry{task: task, meta: meta}

	r.logger.Debug("task registered",
		zap.String("task_id", string(meta.TaskID)),
		zap.String("version", meta.Version))
	return nil
}

// MustRegister registers every task and panics on the first error.
// Intended for wiring built-in tasks at startup.
func (r *Registry) MustRegister(tasks ...contracts.Task) {
	for _, t := range tasks {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Get returns the task registered under id.
func (r *Registry) Get(id contracts.TaskID) (contracts.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tasks[id]
	if !ok {
		return nil, contracts.NewConfigurationError(id, contracts.ErrTaskNotFound, "lookup")
	}
	return e.task, nil
}

// Metadata returns a copy of the metadata registered for id.
func (r *Registry) Metadata(id contracts.TaskID) (contracts.TaskMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tasks[id]
	if !ok {
		return contracts.TaskMetadata{}, contracts.NewConfigurationError(id, contracts.ErrTaskNotFound, "lookup")
	}
	return e.meta.Clone(), nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id contracts.TaskID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tasks[id]
	return ok
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// All yields a copy of every registered task's metadata ordered by task id.
// The sequence is lazy and restartable: each range takes a fresh snapshot.
func (r *Registry) All() iter.Seq[contracts.TaskMetadata] {
	return func(yield func(contracts.TaskMetadata) bool) {
		r.mu.RLock()
		metas := make([]contracts.TaskMetadata, 0, len(r.tasks))
		for _, e := range r.tasks {
			metas = append(metas, e.meta)
		}
		r.mu.RUnlock()

		slices.SortFunc(metas, func(a, b contracts.TaskMetadata) int {
			return cmp.Compare(a.TaskID, b.TaskID)
		})
		for _, m := range metas {
			if !yield(m.Clone()) {
				return
			}
		}
	}
}

// validate checks metadata shape and type tags against the vocabulary.
func (r *Registry) validate(meta contracts.TaskMetadata) error {
	invalid := func(format string, args ...any) error {
		return contracts.NewConfigurationError(meta.TaskID, contracts.ErrInvalidMetadata, format, args...)
	}

	if meta.TaskID == "" {
		return invalid("empty task id")
	}
	if meta.Name == "" {
		return invalid("empty name")
	}
	if meta.Version == "" {
		return invalid("empty version")
	}
	if meta.EstimatedDuration < 0 {
		return invalid("negative estimated duration %s", meta.EstimatedDuration)
	}

	for _, group := range []struct {
		field string
		tags  []contracts.TypeTag
	}{
		{"input type", meta.InputTypes},
		{"optional input type", meta.OptionalInputTypes},
		{"output type", meta.OutputTypes},
	} {
		for _, tag := range group.tags {
			if _, ok := r.typeTags[tag]; !ok {
				return invalid("unknown %s %q", group.field, tag)
			}
		}
	}
	for _, tag := range meta.OptionalInputTypes {
		if slices.Contains(meta.InputTypes, tag) {
			return invalid("type %q is both required and optional", tag)
		}
	}

	seen := make(map[contracts.TaskID]struct{}, len(meta.Dependencies))
	for _, dep := range meta.Dependencies {
		switch {
		case dep == "":
			return invalid("empty dependency id")
		case dep == meta.TaskID:
			return invalid("task depends on itself")
		}
		if _, dup := seen[dep]; dup {
			return invalid("duplicate dependency %s", dep)
		}
		seen[dep] = struct{}{}
	}
	return nil
}
