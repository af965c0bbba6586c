package config

import "errors"

// Sentinel errors for configuration loading and validation.
var (
	// ErrConfigEmpty is returned when the data is empty (zero bytes).
	ErrConfigEmpty = errors.New("configuration is empty")

	// ErrPipelineNameEmpty is returned when a pipeline has no name.
	ErrPipelineNameEmpty = errors.New("pipeline name is required")

	// ErrNoTasks is returned when a pipeline lists no tasks.
	ErrNoTasks = errors.New("pipeline tasks must not be empty")

	// ErrTaskIDEmpty is returned when a task entry has an empty task_id.
	ErrTaskIDEmpty = errors.New("task_id is required")

	// ErrTaskIDDuplicate is returned when two entries share a task_id.
	ErrTaskIDDuplicate = errors.New("duplicate task_id")

	// ErrNegativeTimeout is returned when a task timeout is negative.
	ErrNegativeTimeout = errors.New("task timeout must not be negative")

	// ErrUnknownStoreBackend is returned for an unsupported store backend.
	ErrUnknownStoreBackend = errors.New("unknown store backend")

	// ErrInvalidValue is returned when a setting is out of range.
	ErrInvalidValue = errors.New("invalid configuration value")
)
