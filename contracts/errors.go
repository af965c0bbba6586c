package contracts

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Sentinel errors for the runtime layer.
var (
	// Registration errors
	ErrDuplicateTask   = errors.New("task already registered")
	ErrInvalidMetadata = errors.New("invalid task metadata")

	// Resolution errors
	ErrTaskNotFound         = errors.New("task not found")
	ErrTemplateNotFound     = errors.New("template not found")
	ErrInvalidConfig        = errors.New("invalid pipeline configuration")
	ErrUnresolvedDependency = errors.New("dependency not included in pipeline")
	ErrCyclicDependency     = errors.New("cycle detected in task dependencies")
	ErrUnsatisfiedInput     = errors.New("required input type not satisfied")
	ErrAmbiguousInput       = errors.New("input type produced by more than one ancestor")

	// Execution errors
	ErrTaskFailed    = errors.New("task execution failed")
	ErrTaskTimeout   = errors.New("task execution timeout")
	ErrTaskPanicked  = errors.New("task panicked")
	ErrMissingOutput = errors.New("task did not produce declared output")
	ErrInvalidOutput = errors.New("task output cannot be stored")
	ErrSetupFailed   = errors.New("task setup failed")
	ErrCancelled     = errors.New("job cancelled")

	// Job store errors
	ErrJobNotFound       = errors.New("job not found")
	ErrJobFinalized      = errors.New("job already finalized")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStorage           = errors.New("job store failure")
	ErrSchemaVersion     = errors.New("unsupported job record schema version")

	// Input validation errors
	ErrInvalidInput = errors.New("invalid input: nil or malformed")
)

// Error codes stored in TaskError.Code.
const (
	CodeExecutionFailed = "execution_failed"
	CodeTimeout         = "timeout"
	CodePanic           = "panic"
	CodeMissingOutput   = "missing_output"
	CodeUpstreamFailed  = "upstream_failed"
	CodeCancelled       = "cancelled"
	CodeInputRouting    = "input_routing"
	CodeInvalidOutput   = "invalid_output"
	CodeSetupFailed     = "setup_failed"
	CodeArtifactDir     = "artifact_dir"
)

// ConfigurationError reports a problem with task registration or pipeline
// resolution. No job is ever created for a configuration that fails with one.
type ConfigurationError struct {
	Task   TaskID
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Task == "" {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("task %s: %s: %v", e.Task, e.Reason, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError wraps sentinel with a task and a reason.
func NewConfigurationError(task TaskID, sentinel error, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Task: task, Reason: fmt.Sprintf(format, args...), Err: sentinel}
}

// UnresolvedDependencyError is returned when a task depends on a task that is
// absent from the pipeline configuration.
type UnresolvedDependencyError struct {
	Task       TaskID
	Dependency TaskID
}

func (e *UnresolvedDependencyError) Error() string {
	return fmt.Sprintf("task %s depends on %s: %v", e.Task, e.Dependency, ErrUnresolvedDependency)
}

func (e *UnresolvedDependencyError) Unwrap() error {
	return ErrUnresolvedDependency
}

// CyclicDependencyError carries the set of tasks taking part in a cycle.
type CyclicDependencyError struct {
	Tasks []TaskID
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("%v: %s", ErrCyclicDependency, joinIDs(e.Tasks))
}

func (e *CyclicDependencyError) Unwrap() error {
	return ErrCyclicDependency
}

// UnsatisfiedInputError lists required input tags nothing upstream provides.
type UnsatisfiedInputError struct {
	Task  TaskID
	Types []TypeTag
}

func (e *UnsatisfiedInputError) Error() string {
	tags := make([]string, len(e.Types))
	for i, t := range e.Types {
		tags[i] = string(t)
	}
	return fmt.Sprintf("task %s: %v: %s", e.Task, ErrUnsatisfiedInput, strings.Join(tags, ", "))
}

func (e *UnsatisfiedInputError) Unwrap() error {
	return ErrUnsatisfiedInput
}

// AmbiguousInputError is returned when more than one ancestor produces a tag
// the task consumes.
type AmbiguousInputError struct {
	Task      TaskID
	Type      TypeTag
	Producers []TaskID
}

func (e *AmbiguousInputError) Error() string {
	return fmt.Sprintf("task %s: %v: %s from %s", e.Task, ErrAmbiguousInput, e.Type, joinIDs(e.Producers))
}

func (e *AmbiguousInputError) Unwrap() error {
	return ErrAmbiguousInput
}

// configurationSentinels are the causes classified as configuration errors.
var configurationSentinels = []error{
	ErrDuplicateTask,
	ErrInvalidMetadata,
	ErrTaskNotFound,
	ErrTemplateNotFound,
	ErrInvalidConfig,
	ErrUnresolvedDependency,
	ErrCyclicDependency,
	ErrUnsatisfiedInput,
	ErrAmbiguousInput,
}

// IsConfigurationError reports whether err belongs to the configuration
// error family (raised before a job exists).
func IsConfigurationError(err error) bool {
	if err == nil {
		return false
	}
	return slices.ContainsFunc(configurationSentinels, func(s error) bool {
		return errors.Is(err, s)
	})
}

func joinIDs(ids []TaskID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}
