package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavfirsov/content-pipeline/contracts"
)

func newTask(id contracts.TaskID, in, out []contracts.TypeTag, deps ...contracts.TaskID) *contracts.TaskFunc {
	return &contracts.TaskFunc{
		Meta: contracts.TaskMetadata{
			TaskID:            id,
			Name:              string(id),
			Version:           "1.0.0",
			InputTypes:        in,
			OutputTypes:       out,
			Dependencies:      deps,
			EstimatedDuration: time.Minute,
		},
		Fn: func(context.Context, contracts.TaskInput) (contracts.TaskOutput, error) {
			return contracts.TaskOutput{}, nil
		},
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := New()
	task := newTask("doc", []contracts.TypeTag{contracts.TypePDF}, []contracts.TypeTag{contracts.TypeMarkdown})

	require.NoError(t, r.Register(task))

	got, err := r.Get("doc")
	require.NoError(t, err)
	assert.Same(t, task, got)
	assert.True(t, r.Has("doc"))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_DuplicateLeavesRegistryUnchanged(t *testing.T) {
	r := New()
	first := newTask("doc", nil, []contracts.TypeTag{contracts.TypeMarkdown})
	second := newTask("doc", nil, []contracts.TypeTag{contracts.TypeQuiz})

	require.NoError(t, r.Register(first))
	err := r.Register(second)

	require.ErrorIs(t, err, contracts.ErrDuplicateTask)
	assert.True(t, contracts.IsConfigurationError(err))

	meta, err := r.Metadata("doc")
	require.NoError(t, err)
	assert.Equal(t, []contracts.TypeTag{contracts.TypeMarkdown}, meta.OutputTypes)
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := New()
	_, err := r.Get("missing")
	require.ErrorIs(t, err, contracts.ErrTaskNotFound)

	var cfgErr *contracts.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, contracts.TaskID("missing"), cfgErr.Task)
}

func TestRegistry_InvalidMetadata(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *contracts.TaskMetadata)
	}{
		{"empty id", func(m *contracts.TaskMetadata) { m.TaskID = "" }},
		{"empty name", func(m *contracts.TaskMetadata) { m.Name = "" }},
		{"empty version", func(m *contracts.TaskMetadata) { m.Version = "" }},
		{"unknown input tag", func(m *contracts.TaskMetadata) { m.InputTypes = []contracts.TypeTag{"video"} }},
		{"unknown output tag", func(m *contracts.TaskMetadata) { m.OutputTypes = []contracts.TypeTag{"video"} }},
		{"unknown optional tag", func(m *contracts.TaskMetadata) { m.OptionalInputTypes = []contracts.TypeTag{"video"} }},
		{"required and optional", func(m *contracts.TaskMetadata) {
			m.InputTypes = []contracts.TypeTag{contracts.TypeMarkdown}
			m.OptionalInputTypes = []contracts.TypeTag{contracts.TypeMarkdown}
		}},
		{"self dependency", func(m *contracts.TaskMetadata) { m.Dependencies = []contracts.TaskID{m.TaskID} }},
		{"empty dependency", func(m *contracts.TaskMetadata) { m.Dependencies = []contracts.TaskID{""} }},
		{"duplicate dependency", func(m *contracts.TaskMetadata) { m.Dependencies = []contracts.TaskID{"a", "a"} }},
		{"negative duration", func(m *contracts.TaskMetadata) { m.EstimatedDuration = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := newTask("summarize", []contracts.TypeTag{contracts.TypeMarkdown}, []contracts.TypeTag{contracts.TypeBookSummary})
			tt.mutate(&task.Meta)

			r := New()
			err := r.Register(task)
			require.ErrorIs(t, err, contracts.ErrInvalidMetadata)
			assert.Equal(t, 0, r.Len())
		})
	}
}

func TestRegistry_InvalidMetadataReportsFirstField(t *testing.T) {
	task := newTask("summarize", []contracts.TypeTag{"video"}, []contracts.TypeTag{"audio"})
	task.Meta.OptionalInputTypes = []contracts.TypeTag{"slides"}

	for range 20 {
		err := New().Register(task)
		require.ErrorIs(t, err, contracts.ErrInvalidMetadata)
		assert.Contains(t, err.Error(), `unknown input type "video"`)
	}
}

func TestRegistry_NilTask(t *testing.T) {
	err := New().Register(nil)
	require.ErrorIs(t, err, contracts.ErrInvalidMetadata)
}

func TestRegistry_CustomVocabulary(t *testing.T) {
	r := New(WithTypeTags("audio", "transcript"))

	require.NoError(t, r.Register(newTask("transcribe", []contracts.TypeTag{"audio"}, []contracts.TypeTag{"transcript"})))
	err := r.Register(newTask("doc", []contracts.TypeTag{contracts.TypePDF}, nil))
	require.ErrorIs(t, err, contracts.ErrInvalidMetadata)
}

func TestRegistry_MetadataIsSnapshot(t *testing.T) {
	r := New()
	task := newTask("doc", []contracts.TypeTag{contracts.TypePDF}, []contracts.TypeTag{contracts.TypeMarkdown})
	require.NoError(t, r.Register(task))

	// Mutating the task or a returned copy must not leak into the registry.
	task.Meta.OutputTypes[0] = contracts.TypeQuiz
	meta, err := r.Metadata("doc")
	require.NoError(t, err)
	meta.InputTypes[0] = contracts.TypeFigures

	again, err := r.Metadata("doc")
	require.NoError(t, err)
	assert.Equal(t, []contracts.TypeTag{contracts.TypePDF}, again.InputTypes)
	assert.Equal(t, []contracts.TypeTag{contracts.TypeMarkdown}, again.OutputTypes)
}

func TestRegistry_AllIsRestartableAndSorted(t *testing.T) {
	r := New()
	r.MustRegister(
		newTask("quiz", nil, nil),
		newTask("doc", nil, nil),
		newTask("summary", nil, nil),
	)
	seq := r.All()

	collect := func() []contracts.TaskID {
		var ids []contracts.TaskID
		for m := range seq {
			ids = append(ids, m.TaskID)
		}
		return ids
	}

	want := []contracts.TaskID{"doc", "quiz", "summary"}
	assert.Equal(t, want, collect())
	assert.Equal(t, want, collect())

	// Early break stops iteration.
	var first contracts.TaskID
	for m := range seq {
		first = m.TaskID
		break
	}
	assert.Equal(t, contracts.TaskID("doc"), first)
}

func TestRegistry_MustRegisterPanicsOnDuplicate(t *testing.T) {
	r := New()
	assert.Panics(t, func() {
		r.MustRegister(newTask("doc", nil, nil), newTask("doc", nil, nil))
	})
}

func TestRegistry_ConcurrentReads(t *testing.T) {
	r := New()
	r.MustRegister(newTask("doc", nil, nil))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Get("doc")
			assert.NoError(t, err)
			for range r.All() {
			}
		}()
	}
	wg.Wait()
}
