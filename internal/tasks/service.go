// Package tasks holds the built-in task variants. Each one delegates the
// actual content work to an external content service and only maps typed
// inputs and outputs.
package tasks

import "context"

// ContentService is the external collaborator that understands content.
type ContentService interface {
	// ProcessDocument extracts enhanced markdown and figures from a PDF.
	ProcessDocument(ctx context.Context, req DocumentRequest) (DocumentResult, error)

	// Summarize produces a structured summary of a markdown document.
	Summarize(ctx context.Context, req SummaryRequest) (SummaryResult, error)

	// GenerateMaterial derives learning material of req.Kind from a summary.
	GenerateMaterial(ctx context.Context, req MaterialRequest) (MaterialResult, error)
}

// DocumentRequest asks for a PDF to be processed.
type DocumentRequest struct {
	JobID   string         `json:"job_id"`
	PDF     string         `json:"pdf"`
	Options map[string]any `json:"options,omitempty"`
	// OutputDir is where the service may write files for this task.
	OutputDir string `json:"output_dir,omitempty"`
}

// DocumentResult is what document processing yields.
type DocumentResult struct {
	EnhancedMarkdown string         `json:"enhanced_markdown"`
	Figures          []Figure       `json:"figures"`
	CacheFile        string         `json:"cache_file"`
	BookTitle        string         `json:"book_title"`
	MainFolder       string         `json:"main_folder"`
	Metadata         map[string]any `json:"metadata"`
}

// Figure is one extracted figure.
type Figure struct {
	ID          string `json:"id"`
	Path        string `json:"path"`
	Caption     string `json:"caption,omitempty"`
	Description string `json:"description,omitempty"`
	Page        int    `json:"page,omitempty"`
}

// SummaryRequest asks for a markdown document to be summarized.
type SummaryRequest struct {
	JobID      string         `json:"job_id"`
	Markdown   string         `json:"markdown"`
	BookTitle  string         `json:"book_title,omitempty"`
	MainFolder string         `json:"main_folder,omitempty"`
	Options    map[string]any `json:"options,omitempty"`
	OutputDir  string         `json:"output_dir,omitempty"`
}

// SummaryResult is a structured book summary.
type SummaryResult struct {
	BookTitle          string           `json:"book_title"`
	OverallSummary     string           `json:"overall_summary"`
	KeyThemes          []string         `json:"key_themes"`
	LearningObjectives []string         `json:"learning_objectives,omitempty"`
	Chapters           []ChapterSummary `json:"chapter_summaries"`
	Metadata           map[string]any   `json:"metadata,omitempty"`
}

// ChapterSummary summarizes one chapter.
type ChapterSummary struct {
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points,omitempty"`
}

// Material kinds understood by GenerateMaterial.
const (
	MaterialFlashcards         = "flashcards"
	MaterialQuiz               = "quiz"
	MaterialLearningObjectives = "learning_objectives"
)

// MaterialRequest asks for learning material derived from a summary.
type MaterialRequest struct {
	JobID    string         `json:"job_id"`
	Kind     string         `json:"kind"`
	Summary  SummaryResult  `json:"summary"`
	Markdown  string         `json:"markdown,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
	OutputDir string         `json:"output_dir,omitempty"`
}

// MaterialResult holds generated items of one kind.
type MaterialResult struct {
	Kind     string           `json:"kind"`
	Items    []map[string]any `json:"items"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}
