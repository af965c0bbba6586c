package contracts

import "fmt"

// JobStatus represents the lifecycle status of a job.
type JobStatus int

const (
	JobPending JobStatus = iota
	JobRunning
	JobCompleted
	JobFailed
	JobPartial
)

var jobStatusNames = map[JobStatus]string{
	JobPending:   "PENDING",
	JobRunning:   "RUNNING",
	JobCompleted: "COMPLETED",
	JobFailed:    "FAILED",
	JobPartial:   "PARTIAL",
}

func (s JobStatus) String() string {
	if name, ok := jobStatusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobPartial
}

// CanTransitionTo reports whether s -> next is a legal job transition.
// Job status only moves forward: PENDING -> RUNNING -> terminal. A job may
// also go straight from PENDING to a terminal status when it is cancelled
// before its first dispatch.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobRunning || next.IsTerminal()
	case JobRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

// MarshalText encodes the status as its upper-case name.
func (s JobStatus) MarshalText() ([]byte, error) {
	name, ok := jobStatusNames[s]
	if !ok {
		return nil, fmt.Errorf("job status %d: %w", int(s), ErrInvalidTransition)
	}
	return []byte(name), nil
}

// UnmarshalText decodes a status name.
func (s *JobStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseJobStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseJobStatus parses a status name such as "COMPLETED".
func ParseJobStatus(name string) (JobStatus, error) {
	for status, n := range jobStatusNames {
		if n == name {
			return status, nil
		}
	}
	return JobPending, fmt.Errorf("unknown job status %q", name)
}

// TaskStatus represents the state of a single task within a job.
type TaskStatus int

const (
	TaskPending TaskStatus = iota
	TaskRunning
	TaskCompleted
	TaskFailed
	TaskSkipped
)

var taskStatusNames = map[TaskStatus]string{
	TaskPending:   "PENDING",
	TaskRunning:   "RUNNING",
	TaskCompleted: "COMPLETED",
	TaskFailed:    "FAILED",
	TaskSkipped:   "SKIPPED",
}

func (s TaskStatus) String() string {
	if name, ok := taskStatusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsTerminal reports whether the task has reached COMPLETED, FAILED or SKIPPED.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskSkipped
}

// CanTransitionTo reports whether s -> next is a legal task transition.
//
//	PENDING -> RUNNING -> COMPLETED | FAILED
//	PENDING -> SKIPPED
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskPending:
		return next == TaskRunning || next == TaskSkipped
	case TaskRunning:
		return next == TaskCompleted || next == TaskFailed
	default:
		return false
	}
}

// MarshalText encodes the status as its upper-case name.
func (s TaskStatus) MarshalText() ([]byte, error) {
	name, ok := taskStatusNames[s]
	if !ok {
		return nil, fmt.Errorf("task status %d: %w", int(s), ErrInvalidTransition)
	}
	return []byte(name), nil
}

// UnmarshalText decodes a status name.
func (s *TaskStatus) UnmarshalText(text []byte) error {
	for status, n := range taskStatusNames {
		if n == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown task status %q", string(text))
}
