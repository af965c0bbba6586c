package orchestration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavfirsov/content-pipeline/contracts"
	"github.com/vladislavfirsov/content-pipeline/internal/registry"
)

type taskDef struct {
	id       contracts.TaskID
	deps     []contracts.TaskID
	in       []contracts.TypeTag
	optional []contracts.TypeTag
	out      []contracts.TypeTag
	estimate time.Duration
	fn       func(ctx context.Context, in contracts.TaskInput) (contracts.TaskOutput, error)
}

func (d taskDef) task() *contracts.TaskFunc {
	fn := d.fn
	if fn == nil {
		out := d.out
		fn = func(context.Context, contracts.TaskInput) (contracts.TaskOutput, error) {
			res := make(contracts.TaskOutput, len(out))
			for _, tag := range out {
				res[tag] = string(d.id) + ":" + string(tag)
			}
			return res, nil
		}
	}
	return &contracts.TaskFunc{
		Meta: contracts.TaskMetadata{
			TaskID:             d.id,
			Name:               string(d.id),
			Version:            "1.0.0",
			InputTypes:         d.in,
			OptionalInputTypes: d.optional,
			OutputTypes:        d.out,
			Dependencies:       d.deps,
			EstimatedDuration:  d.estimate,
		},
		Fn: fn,
	}
}

func newRegistry(t *testing.T, defs ...taskDef) *registry.Registry {
	t.Helper()
	r := registry.New()
	for _, d := range defs {
		require.NoError(t, r.Register(d.task()))
	}
	return r
}

func pipeline(ids ...contracts.TaskID) contracts.PipelineConfig {
	cfg := contracts.PipelineConfig{Name: "test"}
	for _, id := range ids {
		cfg.Tasks = append(cfg.Tasks, contracts.TaskSpec{TaskID: id})
	}
	return cfg
}

func tags(t ...contracts.TypeTag) []contracts.TypeTag { return t }

func ids(t ...contracts.TaskID) []contracts.TaskID { return t }
