package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vladislavfirsov/content-pipeline/contracts"
)

// PipelineLoader loads pipeline definition files. YAML and JSON are both
// accepted; JSON documents are valid YAML.
type PipelineLoader struct {
	validator *Validator
}

// NewPipelineLoader creates a new pipeline loader.
func NewPipelineLoader() *PipelineLoader {
	return &PipelineLoader{validator: NewValidator()}
}

// LoadFromFile loads and validates a pipeline definition.
// File errors are wrapped with context (use os.IsNotExist to check for missing file).
func (l *PipelineLoader) LoadFromFile(path string) (contracts.PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return contracts.PipelineConfig{}, fmt.Errorf("reading pipeline %s: %w", path, err)
	}
	cfg, err := l.LoadFromBytes(data)
	if err != nil {
		return contracts.PipelineConfig{}, fmt.Errorf("loading pipeline %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromBytes parses and validates a pipeline definition.
// Empty data (len==0) returns ErrConfigEmpty.
func (l *PipelineLoader) LoadFromBytes(data []byte) (contracts.PipelineConfig, error) {
	if len(data) == 0 {
		return contracts.PipelineConfig{}, ErrConfigEmpty
	}

	var cfg contracts.PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return contracts.PipelineConfig{}, fmt.Errorf("parsing pipeline: %w", err)
	}
	if err := l.validator.Validate(cfg); err != nil {
		return contracts.PipelineConfig{}, err
	}
	return cfg, nil
}

// Validator checks the shape of a pipeline definition. Registry-dependent
// checks (unknown tasks, cycles, type compatibility) belong to the resolver.
type Validator struct{}

// NewValidator creates a new pipeline validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks that the pipeline is named, non-empty and lists each task once.
func (v *Validator) Validate(cfg contracts.PipelineConfig) error {
	if cfg.Name == "" {
		return ErrPipelineNameEmpty
	}
	if len(cfg.Tasks) == 0 {
		return ErrNoTasks
	}

	seen := make(map[contracts.TaskID]bool, len(cfg.Tasks))
	for i, t := range cfg.Tasks {
		if t.TaskID == "" {
			return fmt.Errorf("tasks[%d]: %w", i, ErrTaskIDEmpty)
		}
		if seen[t.TaskID] {
			return fmt.Errorf("tasks[%d] %s: %w", i, t.TaskID, ErrTaskIDDuplicate)
		}
		seen[t.TaskID] = true
		if t.Timeout < 0 {
			return fmt.Errorf("tasks[%d] %s: %w", i, t.TaskID, ErrNegativeTimeout)
		}
	}
	return nil
}
