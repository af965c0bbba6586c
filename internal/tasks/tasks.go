package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/vladislavfirsov/content-pipeline/contracts"
)

// Built-in task ids.
const (
	DocumentProcessing    contracts.TaskID = "document_processing"
	Summarization         contracts.TaskID = "summarization"
	MarkdownSummarization contracts.TaskID = "markdown_summarization"
	FlashcardGeneration   contracts.TaskID = "flashcard_generation"
	QuizGeneration        contracts.TaskID = "quiz_generation"
	LearningObjectives    contracts.TaskID = "learning_objectives"
)

// ErrMissingInput is returned when a task is invoked without a usable value
// for one of its inputs.
var ErrMissingInput = errors.New("missing task input")

// Registrar is the write side of a task registry.
type Registrar interface {
	Register(task contracts.Task) error
}

// Builtins returns every built-in task wired to svc.
func Builtins(svc ContentService) []contracts.Task {
	return []contracts.Task{
		NewDocumentProcessing(svc),
		NewSummarization(svc),
		NewMarkdownSummarization(svc),
		NewMaterial(svc, FlashcardGeneration),
		NewMaterial(svc, QuizGeneration),
		NewMaterial(svc, LearningObjectives),
	}
}

// RegisterBuiltins registers every built-in task with reg.
func RegisterBuiltins(reg Registrar, svc ContentService) error {
	for _, t := range Builtins(svc) {
		if err := reg.Register(t); err != nil {
			return fmt.Errorf("register %s: %w", t.Metadata().TaskID, err)
		}
	}
	return nil
}

// =============================================================================
// Document processing
// =============================================================================

type documentTask struct {
	svc ContentService
}

// NewDocumentProcessing returns the task that turns a PDF into enhanced
// markdown, figures and a processing cache.
func NewDocumentProcessing(svc ContentService) contracts.Task {
	return &documentTask{svc: svc}
}

func (t *documentTask) Metadata() contracts.TaskMetadata {
	return contracts.TaskMetadata{
		TaskID:      DocumentProcessing,
		Name:        "Enhanced Document Processing",
		Description: "Extract enhanced markdown, figures and metadata from PDF documents",
		Version:     "1.0.0",
		InputTypes:  []contracts.TypeTag{contracts.TypePDF},
		OutputTypes: []contracts.TypeTag{
			contracts.TypeEnhancedMarkdown,
			contracts.TypeFigures,
			contracts.TypeCacheFile,
			contracts.TypeMetadata,
			contracts.TypeBookTitle,
			contracts.TypeMainFolder,
		},
		EstimatedDuration: 15 * time.Minute,
		Resources: map[string]any{
			"document_intelligence": true,
			"content_understanding": true,
			"memory_gb":             2,
		},
	}
}

func (t *documentTask) Execute(ctx context.Context, in contracts.TaskInput) (contracts.TaskOutput, error) {
	pdf, ok := in.String(contracts.TypePDF)
	if !ok || pdf == "" {
		return nil, fmt.Errorf("%s: %w", contracts.TypePDF, ErrMissingInput)
	}

	res, err := t.svc.ProcessDocument(ctx, DocumentRequest{
		JobID:   string(in.JobID),
		PDF:       pdf,
		Options:   in.Options,
		OutputDir: in.ArtifactDir,
	})
	if err != nil {
		return nil, fmt.Errorf("process document: %w", err)
	}
	if res.EnhancedMarkdown == "" {
		return nil, errors.New("process document: empty markdown")
	}

	meta := withStats(res.Metadata, map[string]any{
		"figures_processed": len(res.Figures),
		"document_length":   len(res.EnhancedMarkdown),
	})
	return contracts.TaskOutput{
		contracts.TypeEnhancedMarkdown: res.EnhancedMarkdown,
		contracts.TypeFigures:          nonNil(res.Figures),
		contracts.TypeCacheFile:        res.CacheFile,
		contracts.TypeMetadata:         meta,
		contracts.TypeBookTitle:        res.BookTitle,
		contracts.TypeMainFolder:       res.MainFolder,
	}, nil
}

// =============================================================================
// Summarization
// =============================================================================

type summaryTask struct {
	svc    ContentService
	meta   contracts.TaskMetadata
	source contracts.TypeTag
}

// NewSummarization returns the task that summarizes the enhanced markdown
// produced by document processing.
func NewSummarization(svc ContentService) contracts.Task {
	return &summaryTask{
		svc:    svc,
		source: contracts.TypeEnhancedMarkdown,
		meta: contracts.TaskMetadata{
			TaskID:             Summarization,
			Name:               "Book Summarization",
			Description:        "Generate a structured summary of a processed document",
			Version:            "1.0.0",
			InputTypes:         []contracts.TypeTag{contracts.TypeEnhancedMarkdown},
			OptionalInputTypes: []contracts.TypeTag{contracts.TypeBookTitle, contracts.TypeMainFolder},
			OutputTypes:        []contracts.TypeTag{contracts.TypeBookSummary, contracts.TypeMetadata},
			Dependencies:       []contracts.TaskID{DocumentProcessing},
			EstimatedDuration:  10 * time.Minute,
			Resources:          map[string]any{"llm": true},
		},
	}
}

// NewMarkdownSummarization returns the summarization variant that reads a
// markdown document supplied with the job.
func NewMarkdownSummarization(svc ContentService) contracts.Task {
	return &summaryTask{
		svc:    svc,
		source: contracts.TypeMarkdown,
		meta: contracts.TaskMetadata{
			TaskID:             MarkdownSummarization,
			Name:               "Markdown Summarization",
			Description:        "Generate a structured summary of an existing markdown document",
			Version:            "1.0.0",
			InputTypes:         []contracts.TypeTag{contracts.TypeMarkdown},
			OptionalInputTypes: []contracts.TypeTag{contracts.TypeBookTitle, contracts.TypeMainFolder},
			OutputTypes:        []contracts.TypeTag{contracts.TypeBookSummary, contracts.TypeMetadata},
			EstimatedDuration:  10 * time.Minute,
			Resources:          map[string]any{"llm": true},
		},
	}
}

func (t *summaryTask) Metadata() contracts.TaskMetadata {
	return t.meta
}

func (t *summaryTask) Execute(ctx context.Context, in contracts.TaskInput) (contracts.TaskOutput, error) {
	md, ok := in.String(t.source)
	if !ok || md == "" {
		return nil, fmt.Errorf("%s: %w", t.source, ErrMissingInput)
	}
	title, _ := in.String(contracts.TypeBookTitle)
	if title == "" {
		title = "Unknown Book"
	}
	folder, _ := in.String(contracts.TypeMainFolder)

	res, err := t.svc.Summarize(ctx, SummaryRequest{
		JobID:      string(in.JobID),
		Markdown:   md,
		BookTitle:  title,
		MainFolder: folder,
		Options:    in.Options,
		OutputDir:  in.ArtifactDir,
	})
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}
	if res.BookTitle == "" {
		res.BookTitle = title
	}

	meta := withStats(res.Metadata, map[string]any{
		"book_title":     res.BookTitle,
		"total_chapters": len(res.Chapters),
		"key_themes":     len(res.KeyThemes),
	})
	return contracts.TaskOutput{
		contracts.TypeBookSummary: res,
		contracts.TypeMetadata:    meta,
	}, nil
}

// =============================================================================
// Learning materials
// =============================================================================

type materialTask struct {
	svc  ContentService
	kind string
	meta contracts.TaskMetadata
}

// NewMaterial returns one of the learning material tasks:
// FlashcardGeneration, QuizGeneration or LearningObjectives. It panics on
// any other id.
func NewMaterial(svc ContentService, id contracts.TaskID) contracts.Task {
	t := &materialTask{svc: svc}
	var (
		name   string
		output contracts.TypeTag
		est    time.Duration
	)
	switch id {
	case FlashcardGeneration:
		t.kind, name, output, est = MaterialFlashcards, "Flashcard Generation", contracts.TypeFlashcards, 5*time.Minute
	case QuizGeneration:
		t.kind, name, output, est = MaterialQuiz, "Quiz Generation", contracts.TypeQuiz, 7*time.Minute
	case LearningObjectives:
		t.kind, name, output, est = MaterialLearningObjectives, "Learning Objectives", contracts.TypeLearningObjectives, 5*time.Minute
	default:
		panic(fmt.Sprintf("tasks: unknown material task %q", id))
	}
	t.meta = contracts.TaskMetadata{
		TaskID:             id,
		Name:               name,
		Description:        "Generate " + t.kind + " from a book summary",
		Version:            "1.0.0",
		InputTypes:         []contracts.TypeTag{contracts.TypeBookSummary},
		OptionalInputTypes: []contracts.TypeTag{contracts.TypeEnhancedMarkdown},
		OutputTypes:        []contracts.TypeTag{output, contracts.TypeMetadata},
		Dependencies:       []contracts.TaskID{Summarization},
		EstimatedDuration:  est,
		Resources:          map[string]any{"llm": true},
	}
	return t
}

func (t *materialTask) Metadata() contracts.TaskMetadata {
	return t.meta
}

func (t *materialTask) Execute(ctx context.Context, in contracts.TaskInput) (contracts.TaskOutput, error) {
	raw, ok := in.Value(contracts.TypeBookSummary)
	if !ok {
		return nil, fmt.Errorf("%s: %w", contracts.TypeBookSummary, ErrMissingInput)
	}
	summary, err := asSummary(raw)
	if err != nil {
		return nil, err
	}
	md, _ := in.String(contracts.TypeEnhancedMarkdown)

	res, err := t.svc.GenerateMaterial(ctx, MaterialRequest{
		JobID:    string(in.JobID),
		Kind:     t.kind,
		Summary:  summary,
		Markdown:  md,
		Options:   in.Options,
		OutputDir: in.ArtifactDir,
	})
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", t.kind, err)
	}

	meta := withStats(res.Metadata, map[string]any{
		"book_title":  summary.BookTitle,
		"total_items": len(res.Items),
	})
	return contracts.TaskOutput{
		t.meta.OutputTypes[0]:  nonNil(res.Items),
		contracts.TypeMetadata: meta,
	}, nil
}

// asSummary accepts a summary as routed in-process or as decoded from a
// persisted record or a literal override.
func asSummary(v any) (SummaryResult, error) {
	switch s := v.(type) {
	case SummaryResult:
		return s, nil
	case *SummaryResult:
		if s == nil {
			return SummaryResult{}, fmt.Errorf("%s: %w", contracts.TypeBookSummary, ErrMissingInput)
		}
		return *s, nil
	case string:
		return SummaryResult{OverallSummary: s}, nil
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return SummaryResult{}, fmt.Errorf("%s: %w", contracts.TypeBookSummary, err)
	}
	var out SummaryResult
	if err := sonic.Unmarshal(data, &out); err != nil {
		return SummaryResult{}, fmt.Errorf("%s: %w", contracts.TypeBookSummary, err)
	}
	return out, nil
}

func withStats(base, stats map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(stats))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range stats {
		out[k] = v
	}
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
