package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vladislavfirsov/content-pipeline/contracts"
	"github.com/vladislavfirsov/content-pipeline/internal/orchestration"
)

func TestRecord(t *testing.T) {
	tests := []struct {
		name      string
		event     orchestration.Event
		wantLevel zapcore.Level
		wantKeys  []string
	}{
		{
			name:      "job event",
			event:     orchestration.Event{Kind: orchestration.EventJobStarted, JobID: "job-1", JobStatus: contracts.JobRunning},
			wantLevel: zapcore.InfoLevel,
			wantKeys:  []string{"event", "job_id", "job_status"},
		},
		{
			name:      "task success",
			event:     orchestration.Event{Kind: orchestration.EventTaskFinished, JobID: "job-1", TaskID: "extract", TaskStatus: contracts.TaskCompleted},
			wantLevel: zapcore.InfoLevel,
			wantKeys:  []string{"event", "job_id", "task_id", "task_status"},
		},
		{
			name: "task failure",
			event: orchestration.Event{
				Kind: orchestration.EventTaskFinished, JobID: "job-1", TaskID: "extract", TaskStatus: contracts.TaskFailed,
				Err: &contracts.TaskError{Code: "timeout", Message: "deadline exceeded"},
			},
			wantLevel: zapcore.WarnLevel,
			wantKeys:  []string{"event", "job_id", "task_id", "task_status", "error_code", "error"},
		},
		{
			name:      "storage failure",
			event:     orchestration.Event{Kind: orchestration.EventStorageFailed, JobID: "job-1", JobStatus: contracts.JobRunning},
			wantLevel: zapcore.ErrorLevel,
			wantKeys:  []string{"event", "job_id", "job_status"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			New(zap.New(core)).Record(tt.event)

			entries := logs.All()
			require.Len(t, entries, 1)
			assert.Equal(t, tt.wantLevel, entries[0].Level)
			assert.Equal(t, "audit", entries[0].LoggerName)

			fields := entries[0].ContextMap()
			assert.Len(t, fields, len(tt.wantKeys))
			for _, key := range tt.wantKeys {
				assert.Contains(t, fields, key)
			}
			assert.Equal(t, string(tt.event.Kind), fields["event"])
		})
	}
}

func TestNew_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		New(nil).Record(orchestration.Event{Kind: orchestration.EventJobFinished, JobID: "job-1"})
	})
}
