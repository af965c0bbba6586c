// Package audit writes structured job audit events.
package audit

import (
	"go.uber.org/zap"

	"github.com/vladislavfirsov/content-pipeline/internal/orchestration"
)

// Logger writes one structured entry per durable job transition.
type Logger struct {
	log *zap.Logger
}

// New creates an audit logger. A nil logger discards events.
func New(l *zap.Logger) *Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &Logger{log: l.Named("audit")}
}

// Record logs ev. It matches the orchestrator's event callback signature.
func (a *Logger) Record(ev orchestration.Event) {
	fields := []zap.Field{
		zap.String("event", string(ev.Kind)),
		zap.String("job_id", string(ev.JobID)),
	}
	if ev.TaskID != "" {
		fields = append(fields,
			zap.String("task_id", string(ev.TaskID)),
			zap.Stringer("task_status", ev.TaskStatus))
	} else {
		fields = append(fields, zap.Stringer("job_status", ev.JobStatus))
	}
	if ev.Err != nil {
		fields = append(fields,
			zap.String("error_code", ev.Err.Code),
			zap.String("error", ev.Err.Message))
	}

	switch ev.Kind {
	case orchestration.EventStorageFailed:
		a.log.Error("audit", fields...)
	case orchestration.EventTaskFinished:
		if ev.Err != nil {
			a.log.Warn("audit", fields...)
			return
		}
		a.log.Info("audit", fields...)
	default:
		a.log.Info("audit", fields...)
	}
}
