package store

import (
	"cmp"
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/vladislavfirsov/content-pipeline/contracts"
)

// Backend is the persistence primitive behind a JobStore. Implementations
// only move encoded records; job semantics live in jobStore.
type Backend interface {
	// Insert stores a new record.
	Insert(ctx context.Context, rec Record) error

	// Update loads a record, applies fn and saves the result. Calls for the
	// same id must be serialized. Returns ErrJobNotFound if absent.
	Update(ctx context.Context, id contracts.JobID, fn func(Record) (Record, error)) error

	// Load returns a record. Returns ErrJobNotFound if absent.
	Load(ctx context.Context, id contracts.JobID) (Record, error)

	// Scan returns every record.
	Scan(ctx context.Context) ([]Record, error)

	// Remove deletes a record and its artifacts. Missing records are ignored.
	Remove(ctx context.Context, id contracts.JobID) error

	// Close releases resources.
	Close() error
}

// ArtifactBackend is implemented by backends that keep task artifacts next
// to the job record.
type ArtifactBackend interface {
	// TaskDir creates, if needed, and returns the artifact directory of task.
	// Returns ErrJobNotFound if the job does not exist.
	TaskDir(ctx context.Context, id contracts.JobID, task contracts.TaskID) (string, error)
}

// jobStore implements contracts.JobStore on top of a Backend.
type jobStore struct {
	backend Backend
	now     func() time.Time
	logger  *zap.Logger
}

// Option configures a job store.
type Option func(*jobStore)

// WithClock overrides the time source for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *jobStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *jobStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// New wraps backend into a contracts.JobStore.
func New(backend Backend, opts ...Option) contracts.JobStore {
	s := &jobStore{
		backend: backend,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create persists a new PENDING job.
func (s *jobStore) Create(ctx context.Context, spec contracts.JobSpec) (contracts.JobID, error) {
	job := newJob(spec, s.now())
	rec, err := encode(job)
	if err != nil {
		return "", err
	}
	if err := s.backend.Insert(ctx, rec); err != nil {
		return "", err
	}
	s.logger.Debug("job created", zap.String("job_id", string(job.ID)), zap.Int("tasks", len(job.Order)))
	return job.ID, nil
}

// UpdateTaskResult replaces the result of one task.
func (s *jobStore) UpdateTaskResult(ctx context.Context, id contracts.JobID, result contracts.TaskResult) error {
	return s.mutate(ctx, id, func(job *contracts.Job) error {
		return applyResult(job, result, s.now())
	})
}

// SetStatus moves the job to status.
func (s *jobStore) SetStatus(ctx context.Context, id contracts.JobID, status contracts.JobStatus) error {
	return s.mutate(ctx, id, func(job *contracts.Job) error {
		return applyStatus(job, status, s.now())
	})
}

// SetError records a job-level note.
func (s *jobStore) SetError(ctx context.Context, id contracts.JobID, message string) error {
	return s.mutate(ctx, id, func(job *contracts.Job) error {
		return applyError(job, message, s.now())
	})
}

// mutate runs fn over a decoded job inside the backend's per-job critical section.
func (s *jobStore) mutate(ctx context.Context, id contracts.JobID, fn func(*contracts.Job) error) error {
	return s.backend.Update(ctx, id, func(rec Record) (Record, error) {
		job, err := decode(rec.Data)
		if err != nil {
			return Record{}, err
		}
		if err := fn(job); err != nil {
			return Record{}, err
		}
		return encode(job)
	})
}

// Get returns a freshly decoded snapshot of the job.
func (s *jobStore) Get(ctx context.Context, id contracts.JobID) (*contracts.Job, error) {
	rec, err := s.backend.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return decode(rec.Data)
}

// List returns job summaries, newest first.
func (s *jobStore) List(ctx context.Context, filter contracts.ListFilter) ([]contracts.JobSummary, error) {
	recs, err := s.backend.Scan(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]contracts.JobSummary, 0, len(recs))
	for _, rec := range recs {
		job, err := decode(rec.Data)
		if err != nil {
			s.logger.Warn("skipping unreadable job record", zap.String("job_id", string(rec.ID)), zap.Error(err))
			continue
		}
		if filter.Matches(job.Status) {
			summaries = append(summaries, job.Summary())
		}
	}

	slices.SortFunc(summaries, func(a, b contracts.JobSummary) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if filter.Limit > 0 && len(summaries) > filter.Limit {
		summaries = summaries[:filter.Limit]
	}
	return summaries, nil
}

// Delete removes the job. Missing jobs are not an error.
func (s *jobStore) Delete(ctx context.Context, id contracts.JobID) error {
	return s.backend.Remove(ctx, id)
}

// TaskArtifactDir implements contracts.ArtifactStore. Backends without
// artifact storage (memory, sql, redis) return an empty path.
func (s *jobStore) TaskArtifactDir(ctx context.Context, id contracts.JobID, task contracts.TaskID) (string, error) {
	ab, ok := s.backend.(ArtifactBackend)
	if !ok {
		return "", nil
	}
	return ab.TaskDir(ctx, id, task)
}

// Close releases backend resources.
func (s *jobStore) Close() error {
	return s.backend.Close()
}
