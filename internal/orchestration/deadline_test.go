package orchestration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vladislavfirsov/content-pipeline/contracts"
)

func TestDeadlinePolicy_For(t *testing.T) {
	node := func(estimate, override time.Duration) *contracts.GraphNode {
		return &contracts.GraphNode{
			Spec:     contracts.TaskSpec{TaskID: "sum", Timeout: contracts.Duration(override)},
			Metadata: contracts.TaskMetadata{TaskID: "sum", EstimatedDuration: estimate},
		}
	}
	submission := contracts.JobSettings{Timeouts: map[contracts.TaskID]contracts.Duration{"sum": contracts.Duration(3 * time.Second)}}

	tests := []struct {
		name     string
		policy   DeadlinePolicy
		node     *contracts.GraphNode
		settings contracts.JobSettings
		want     time.Duration
	}{
		{"submission override wins", DefaultDeadlinePolicy(), node(time.Minute, time.Hour), submission, 3 * time.Second},
		{"pipeline override", DefaultDeadlinePolicy(), node(time.Minute, time.Hour), contracts.JobSettings{}, time.Hour},
		{"scaled estimate", DefaultDeadlinePolicy(), node(time.Minute, 0), contracts.JobSettings{}, 2 * time.Minute},
		{"custom factor", DeadlinePolicy{Factor: 1.5, Default: time.Second}, node(time.Minute, 0), contracts.JobSettings{}, 90 * time.Second},
		{"zero factor keeps estimate", DeadlinePolicy{Factor: 0, Default: time.Second}, node(time.Minute, 0), contracts.JobSettings{}, time.Minute},
		{"no estimate uses default", DefaultDeadlinePolicy(), node(0, 0), contracts.JobSettings{}, 10 * time.Minute},
		{
			name:     "non-positive submission override ignored",
			policy:   DefaultDeadlinePolicy(),
			node:     node(time.Minute, 0),
			settings: contracts.JobSettings{Timeouts: map[contracts.TaskID]contracts.Duration{"sum": 0}},
			want:     2 * time.Minute,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.For(tt.node, tt.settings))
		})
	}
}
