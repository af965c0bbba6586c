package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavfirsov/content-pipeline/contracts"
)

func TestPipelineLoader_YAML(t *testing.T) {
	data := []byte(`
name: book
description: summarize a book
tasks:
  - task_id: pdf_extraction
  - task_id: book_summarization
    inputs:
      book_title: "Dune"
    options:
      style: brief
    timeout: 90s
settings:
  max_concurrency: 2
`)

	cfg, err := NewPipelineLoader().LoadFromBytes(data)
	require.NoError(t, err)

	assert.Equal(t, "book", cfg.Name)
	assert.Equal(t, []contracts.TaskID{"pdf_extraction", "book_summarization"}, cfg.TaskIDs())
	assert.Equal(t, "Dune", cfg.Tasks[1].Inputs[contracts.TypeBookTitle])
	assert.Equal(t, "brief", cfg.Tasks[1].Options["style"])
	assert.Equal(t, 90*time.Second, cfg.Tasks[1].Timeout.Std())
	assert.Equal(t, 2, cfg.Settings["max_concurrency"])
}

func TestPipelineLoader_JSON(t *testing.T) {
	data := []byte(`{"name":"json","tasks":[{"task_id":"pdf_extraction","inputs":{"pdf":"$pdf"}}]}`)

	cfg, err := NewPipelineLoader().LoadFromBytes(data)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Name)
	assert.Equal(t, "$pdf", cfg.Tasks[0].Inputs[contracts.TypePDF])
}

func TestPipelineLoader_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{"empty", "", ErrConfigEmpty},
		{"no name", "tasks:\n  - task_id: a\n", ErrPipelineNameEmpty},
		{"no tasks", "name: x\ntasks: []\n", ErrNoTasks},
		{"empty task id", "name: x\ntasks:\n  - task_id: \"\"\n", ErrTaskIDEmpty},
		{"duplicate task", "name: x\ntasks:\n  - task_id: a\n  - task_id: a\n", ErrTaskIDDuplicate},
		{"negative timeout", "name: x\ntasks:\n  - task_id: a\n    timeout: -5s\n", ErrNegativeTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPipelineLoader().LoadFromBytes([]byte(tt.data))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPipelineLoader_LoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: f\ntasks:\n  - task_id: a\n"), 0o600))

	cfg, err := NewPipelineLoader().LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "f", cfg.Name)

	_, err = NewPipelineLoader().LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
