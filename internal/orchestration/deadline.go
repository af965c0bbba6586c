package orchestration

import (
	"time"

	"github.com/vladislavfirsov/content-pipeline/contracts"
)

// DeadlinePolicy derives the soft deadline of a task invocation.
type DeadlinePolicy struct {
	// Factor scales a task's estimated duration into its deadline.
	Factor float64
	// Default applies when a task declares no estimated duration.
	Default time.Duration
}

// DefaultDeadlinePolicy allows each task twice its estimate, or ten minutes.
func DefaultDeadlinePolicy() DeadlinePolicy {
	return DeadlinePolicy{Factor: 2, Default: 10 * time.Minute}
}

// For returns the deadline of node within a job.
// Precedence: submission override, pipeline task override, scaled estimate, default.
func (p DeadlinePolicy) For(node *contracts.GraphNode, settings contracts.JobSettings) time.Duration {
	if d, ok := settings.Timeouts[node.Spec.TaskID]; ok && d > 0 {
		return d.Std()
	}
	if node.Spec.Timeout > 0 {
		return node.Spec.Timeout.Std()
	}
	if est := node.Metadata.EstimatedDuration; est > 0 {
		factor := p.Factor
		if factor <= 0 {
			factor = 1
		}
		return time.Duration(float64(est) * factor)
	}
	return p.Default
}
