// Package templates is the static catalogue of pre-built pipeline
// configurations.
package templates

import (
	"cmp"
	"maps"
	"slices"

	"github.com/vladislavfirsov/content-pipeline/contracts"
)

// Built-in task ids referenced by the catalogue.
const (
	TaskDocumentProcessing    contracts.TaskID = "document_processing"
	TaskSummarization         contracts.TaskID = "summarization"
	TaskMarkdownSummarization contracts.TaskID = "markdown_summarization"
	TaskFlashcards            contracts.TaskID = "flashcard_generation"
	TaskQuiz                  contracts.TaskID = "quiz_generation"
	TaskLearningObjectives    contracts.TaskID = "learning_objectives"
)

// Template ids.
const (
	DocumentToSummary      = "document_to_summary"
	CompleteBookProcessing = "complete_book_processing"
	DocumentProcessingOnly = "document_processing_only"
	SummarizationOnly      = "summarization_only"
	StudyPack              = "study_pack"
)

// TemplateInfo is the catalogue entry shown to clients.
type TemplateInfo struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	Description       string             `json:"description"`
	Tasks             []contracts.TaskID `json:"tasks"`
	EstimatedDuration int                `json:"estimated_duration_minutes"`
	Category          string             `json:"category"`
	Version           string             `json:"template_version"`
}

// TaskCustomization merges into one task of a template.
type TaskCustomization struct {
	Inputs  map[contracts.TypeTag]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Options map[string]any            `json:"options,omitempty" yaml:"options,omitempty"`
}

// Customization adjusts a template before submission.
type Customization struct {
	Name     string                                 `json:"name,omitempty" yaml:"name,omitempty"`
	Tasks    map[contracts.TaskID]TaskCustomization `json:"tasks,omitempty" yaml:"tasks,omitempty"`
	Settings map[string]any                         `json:"settings,omitempty" yaml:"settings,omitempty"`
	Metadata map[string]any                         `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Library maps template ids to pipeline configurations. It has no runtime
// state; every accessor hands out a fresh copy.
type Library struct {
	templates map[string]contracts.PipelineConfig
}

// New returns the library holding the built-in catalogue.
func New() *Library {
	return NewWith(builtins())
}

// NewWith returns a library over the given templates.
func NewWith(templates map[string]contracts.PipelineConfig) *Library {
	lib := &Library{templates: make(map[string]contracts.PipelineConfig, len(templates))}
	for id, cfg := range templates {
		lib.templates[id] = cfg.Clone()
	}
	return lib
}

// IDs returns the template ids, sorted.
func (l *Library) IDs() []string {
	return slices.Sorted(maps.Keys(l.templates))
}

// List returns the catalogue, sorted by id.
func (l *Library) List() []TemplateInfo {
	out := make([]TemplateInfo, 0, len(l.templates))
	for _, id := range l.IDs() {
		out = append(out, info(id, l.templates[id]))
	}
	return out
}

// Info returns the catalogue entry of one template.
func (l *Library) Info(id string) (TemplateInfo, error) {
	cfg, ok := l.templates[id]
	if !ok {
		return TemplateInfo{}, notFound(id)
	}
	return info(id, cfg), nil
}

// Get returns a copy of the template's configuration.
func (l *Library) Get(id string) (contracts.PipelineConfig, error) {
	cfg, ok := l.templates[id]
	if !ok {
		return contracts.PipelineConfig{}, notFound(id)
	}
	return cfg.Clone(), nil
}

// Customize returns a copy of the template with c merged in. Task
// customizations for tasks the template does not contain are rejected.
func (l *Library) Customize(id string, c Customization) (contracts.PipelineConfig, error) {
	cfg, err := l.Get(id)
	if err != nil {
		return cfg, err
	}

	for _, taskID := range slices.Sorted(maps.Keys(c.Tasks)) {
		i := slices.IndexFunc(cfg.Tasks, func(t contracts.TaskSpec) bool { return t.TaskID == taskID })
		if i < 0 {
			return contracts.PipelineConfig{}, contracts.NewConfigurationError(taskID, contracts.ErrTaskNotFound, "not part of template %q", id)
		}
		tc := c.Tasks[taskID]
		cfg.Tasks[i].Inputs = merge(cfg.Tasks[i].Inputs, tc.Inputs)
		cfg.Tasks[i].Options = merge(cfg.Tasks[i].Options, tc.Options)
	}

	if c.Name != "" {
		cfg.Name = c.Name
	}
	cfg.Settings = merge(cfg.Settings, c.Settings)
	cfg.Metadata = merge(cfg.Metadata, c.Metadata)
	return cfg, nil
}

func merge[K comparable](dst, src map[K]any) map[K]any {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[K]any, len(src))
	}
	maps.Copy(dst, src)
	return dst
}

func notFound(id string) error {
	return contracts.NewConfigurationError("", contracts.ErrTemplateNotFound, "template %q", id)
}

func info(id string, cfg contracts.PipelineConfig) TemplateInfo {
	ti := TemplateInfo{
		ID:          id,
		Name:        cfg.Name,
		Description: cfg.Description,
		Tasks:       cfg.TaskIDs(),
	}
	switch v := cfg.Metadata["estimated_duration_minutes"].(type) {
	case int:
		ti.EstimatedDuration = v
	case int64:
		ti.EstimatedDuration = int(v)
	case float64:
		ti.EstimatedDuration = int(v)
	}
	ti.Category, _ = cfg.Metadata["category"].(string)
	ti.Version, _ = cfg.Metadata["template_version"].(string)
	ti.Version = cmp.Or(ti.Version, "1.0.0")
	return ti
}
