// Package store implements contracts.JobStore over several backends. All
// backends persist the same versioned JSON record, so a job written by one
// can be read by any other.
package store

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/vladislavfirsov/content-pipeline/contracts"
)

// SchemaVersion is the version written into every new record.
const SchemaVersion = 1

// codec is sonic configured for encoding/json compatibility, so records stay
// readable by any standard JSON tooling.
var codec = sonic.ConfigStd

// upgraders lift a decoded record from version N to N+1. Index N holds the
// upgrade from N; version 0 records predate the schema_version field.
var upgraders = map[int]func(*contracts.Job){
	0: func(j *contracts.Job) {
		if j.Results == nil {
			j.Results = make(map[contracts.TaskID]contracts.TaskResult)
		}
	},
}

// Record is the backend-level representation of a job.
type Record struct {
	ID        contracts.JobID
	Name      string
	Status    contracts.JobStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	Data      []byte
}

// encode serializes job into a record.
func encode(job *contracts.Job) (Record, error) {
	job.SchemaVersion = SchemaVersion
	data, err := codec.Marshal(job)
	if err != nil {
		return Record{}, fmt.Errorf("encode job %s: %w: %w", job.ID, contracts.ErrStorage, err)
	}
	return Record{
		ID:        job.ID,
		Name:      job.Config.Name,
		Status:    job.Status,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
		Data:      data,
	}, nil
}

// decode parses record data, upgrading older schema versions.
func decode(data []byte) (*contracts.Job, error) {
	var job contracts.Job
	if err := codec.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job: %w: %w", contracts.ErrStorage, err)
	}
	if job.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("job %s has schema %d, max %d: %w", job.ID, job.SchemaVersion, SchemaVersion, contracts.ErrSchemaVersion)
	}
	for v := job.SchemaVersion; v < SchemaVersion; v++ {
		if up, ok := upgraders[v]; ok {
			up(&job)
		}
	}
	job.SchemaVersion = SchemaVersion
	if job.Results == nil {
		job.Results = make(map[contracts.TaskID]contracts.TaskResult)
	}
	return &job, nil
}

// newJob builds the initial PENDING record for spec: every task starts PENDING.
func newJob(spec contracts.JobSpec, now time.Time) *contracts.Job {
	order := spec.Order
	if len(order) == 0 {
		order = spec.Config.TaskIDs()
	}
	results := make(map[contracts.TaskID]contracts.TaskResult, len(order))
	for _, id := range order {
		results[id] = contracts.TaskResult{TaskID: id, Status: contracts.TaskPending}
	}
	return &contracts.Job{
		ID:            contracts.JobID(uuid.NewString()),
		SchemaVersion: SchemaVersion,
		Config:        spec.Config.Clone(),
		Inputs:        spec.Inputs,
		Settings:      spec.Settings,
		Order:         order,
		Status:        contracts.JobPending,
		Results:       results,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// applyResult replaces one task result, enforcing the task state machine.
func applyResult(job *contracts.Job, result contracts.TaskResult, now time.Time) error {
	if job.Status.IsTerminal() {
		return fmt.Errorf("job %s is %s: %w", job.ID, job.Status, contracts.ErrJobFinalized)
	}
	current, ok := job.Results[result.TaskID]
	if !ok {
		return fmt.Errorf("job %s has no task %s: %w", job.ID, result.TaskID, contracts.ErrTaskNotFound)
	}
	if !current.Status.CanTransitionTo(result.Status) {
		return fmt.Errorf("task %s %s -> %s: %w", result.TaskID, current.Status, result.Status, contracts.ErrInvalidTransition)
	}
	if result.StartedAt.IsZero() {
		result.StartedAt = current.StartedAt
	}
	if result.Status != contracts.TaskCompleted {
		result.Outputs = nil
	}
	job.Results[result.TaskID] = result
	job.UpdatedAt = now
	return nil
}

// applyStatus moves the job forward. Re-asserting the current non-terminal
// status is a no-op.
func applyStatus(job *contracts.Job, status contracts.JobStatus, now time.Time) error {
	if job.Status.IsTerminal() {
		return fmt.Errorf("job %s is %s: %w", job.ID, job.Status, contracts.ErrJobFinalized)
	}
	if job.Status == status {
		return nil
	}
	if !job.Status.CanTransitionTo(status) {
		return fmt.Errorf("job %s %s -> %s: %w", job.ID, job.Status, status, contracts.ErrInvalidTransition)
	}
	if status.IsTerminal() {
		for id, r := range job.Results {
			if !r.Status.IsTerminal() {
				return fmt.Errorf("job %s task %s still %s: %w", job.ID, id, r.Status, contracts.ErrInvalidTransition)
			}
		}
	}
	job.Status = status
	job.UpdatedAt = now
	return nil
}

// applyError records a job-level note.
func applyError(job *contracts.Job, message string, now time.Time) error {
	if job.Status.IsTerminal() {
		return fmt.Errorf("job %s is %s: %w", job.ID, job.Status, contracts.ErrJobFinalized)
	}
	job.Error = message
	job.UpdatedAt = now
	return nil
}

func storageErr(op string, id contracts.JobID, err error) error {
	return fmt.Errorf("%s job %s: %w: %w", op, id, contracts.ErrStorage, err)
}

func notFound(id contracts.JobID) error {
	return fmt.Errorf("job %s: %w", id, contracts.ErrJobNotFound)
}
