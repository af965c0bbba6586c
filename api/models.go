// Package api provides the HTTP API layer of the pipeline runtime.
package api

import (
	"fmt"
	"time"

	"github.com/vladislavfirsov/content-pipeline/contracts"
	"github.com/vladislavfirsov/content-pipeline/internal/templates"
)

// ============================================================================
// Request DTOs
// ============================================================================

// SubmitJobRequest is the request body for POST /api/v1/jobs.
type SubmitJobRequest struct {
	TemplateID    string                    `json:"template_id,omitempty"`
	Customization *templates.Customization  `json:"customization,omitempty"`
	Config        *contracts.PipelineConfig `json:"config,omitempty"`
	Inputs        map[contracts.TypeTag]any `json:"inputs,omitempty"`
	Settings      SettingsDTO               `json:"settings"`
}

// SettingsDTO carries per-submission knobs. Timeouts are Go duration
// strings ("90s", "5m").
type SettingsDTO struct {
	MaxConcurrency int                                 `json:"max_concurrency,omitempty"`
	Timeouts       map[contracts.TaskID]string         `json:"timeouts,omitempty"`
	Tasks          map[contracts.TaskID]map[string]any `json:"tasks,omitempty"`
	Values         map[string]any                      `json:"values,omitempty"`
}

// ToJobSettings converts the DTO, parsing timeouts.
func (s SettingsDTO) ToJobSettings() (contracts.JobSettings, error) {
	out := contracts.JobSettings{
		MaxConcurrency: s.MaxConcurrency,
		TaskOptions:    s.Tasks,
		Values:         s.Values,
	}
	if len(s.Timeouts) > 0 {
		out.Timeouts = make(map[contracts.TaskID]contracts.Duration, len(s.Timeouts))
		for id, raw := range s.Timeouts {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return contracts.JobSettings{}, fmt.Errorf("settings.timeouts.%s: %v: %w", id, err, contracts.ErrInvalidInput)
			}
			out.Timeouts[id] = contracts.Duration(d)
		}
	}
	return out, nil
}

// ============================================================================
// Response DTOs
// ============================================================================

// SubmitJobResponse is returned by POST /api/v1/jobs.
type SubmitJobResponse struct {
	JobID  contracts.JobID     `json:"job_id"`
	Status contracts.JobStatus `json:"status"`
}

// JobResponse is the full view of one job. DurationSeconds spans creation
// to the last recorded change.
type JobResponse struct {
	ID              contracts.JobID                    `json:"id"`
	Name            string                             `json:"name"`
	Status          contracts.JobStatus                `json:"status"`
	Error           string                             `json:"error,omitempty"`
	Order           []contracts.TaskID                 `json:"order"`
	Progress        ProgressDTO                        `json:"progress"`
	Results         map[contracts.TaskID]TaskResultDTO `json:"results"`
	Inputs          map[contracts.TypeTag]any          `json:"inputs,omitempty"`
	CreatedAt       time.Time                          `json:"created_at"`
	UpdatedAt       time.Time                          `json:"updated_at"`
	DurationSeconds float64                            `json:"duration_seconds"`
}

// TaskResultDTO is a task result with its run time. DurationSeconds is
// absent until the task has both started and finished.
type TaskResultDTO struct {
	contracts.TaskResult
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
}

// ProgressDTO counts tasks by status.
type ProgressDTO struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// NewJobResponse converts a job snapshot.
func NewJobResponse(job *contracts.Job) JobResponse {
	counts := job.Counts()
	results := make(map[contracts.TaskID]TaskResultDTO, len(job.Results))
	for id, r := range job.Results {
		dto := TaskResultDTO{TaskResult: r}
		if !r.StartedAt.IsZero() && !r.FinishedAt.IsZero() {
			d := r.FinishedAt.Sub(r.StartedAt).Seconds()
			dto.DurationSeconds = &d
		}
		results[id] = dto
	}
	return JobResponse{
		ID:     job.ID,
		Name:   job.Config.Name,
		Status: job.Status,
		Error:  job.Error,
		Order:  job.Order,
		Progress: ProgressDTO{
			Total:     len(job.Results),
			Pending:   counts[contracts.TaskPending],
			Running:   counts[contracts.TaskRunning],
			Completed: counts[contracts.TaskCompleted],
			Failed:    counts[contracts.TaskFailed],
			Skipped:   counts[contracts.TaskSkipped],
		},
		Results:         results,
		Inputs:          job.Inputs,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
		DurationSeconds: job.UpdatedAt.Sub(job.CreatedAt).Seconds(),
	}
}

// ListJobsResponse is returned by GET /api/v1/jobs.
type ListJobsResponse struct {
	Jobs  []contracts.JobSummary `json:"jobs"`
	Count int                    `json:"count"`
}

// TaskDTO describes a registered task.
type TaskDTO struct {
	TaskID             contracts.TaskID    `json:"task_id"`
	Name               string              `json:"name"`
	Description        string              `json:"description,omitempty"`
	Version            string              `json:"version"`
	InputTypes         []contracts.TypeTag `json:"input_types"`
	OptionalInputTypes []contracts.TypeTag `json:"optional_input_types,omitempty"`
	OutputTypes        []contracts.TypeTag `json:"output_types"`
	Dependencies       []contracts.TaskID  `json:"dependencies"`
	EstimatedDuration  string              `json:"estimated_duration"`
	Resources          map[string]any      `json:"resources,omitempty"`
}

// NewTaskDTO converts task metadata.
func NewTaskDTO(m contracts.TaskMetadata) TaskDTO {
	return TaskDTO{
		TaskID:             m.TaskID,
		Name:               m.Name,
		Description:        m.Description,
		Version:            m.Version,
		InputTypes:         nonNil(m.InputTypes),
		OptionalInputTypes: m.OptionalInputTypes,
		OutputTypes:        nonNil(m.OutputTypes),
		Dependencies:       nonNil(m.Dependencies),
		EstimatedDuration:  m.EstimatedDuration.String(),
		Resources:          m.Resources,
	}
}

// TasksResponse is returned by GET /api/v1/tasks.
type TasksResponse struct {
	Tasks []TaskDTO `json:"tasks"`
}

// TemplatesResponse is returned by GET /api/v1/templates.
type TemplatesResponse struct {
	Templates []templates.TemplateInfo `json:"templates"`
}

// TemplateResponse is returned by GET /api/v1/templates/:id.
type TemplateResponse struct {
	templates.TemplateInfo
	Config contracts.PipelineConfig `json:"config"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	ActiveJobs int    `json:"active_jobs"`
	Timestamp  string `json:"timestamp"`
}

// ErrorDTO represents an error in the response.
type ErrorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
