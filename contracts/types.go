// Package contracts defines the core types and interfaces of the pipeline runtime.
package contracts

import "slices"

// JobID uniquely identifies a job.
type JobID string

// TaskID uniquely identifies a task type within a registry.
type TaskID string

// TypeTag is a symbolic identifier for a kind of data a task consumes or produces
// (e.g. "pdf", "markdown", "book_summary").
type TypeTag string

// Default type tags understood by the built-in tasks.
const (
	TypePDF                TypeTag = "pdf"
	TypeMarkdown           TypeTag = "markdown"
	TypeEnhancedMarkdown   TypeTag = "enhanced_markdown"
	TypeBookSummary        TypeTag = "book_summary"
	TypeFigures            TypeTag = "figures"
	TypeCacheFile          TypeTag = "cache_file"
	TypeMetadata           TypeTag = "metadata"
	TypeFlashcards         TypeTag = "flashcards"
	TypeQuiz               TypeTag = "quiz"
	TypeLearningObjectives TypeTag = "learning_objectives"
	TypeBookTitle          TypeTag = "book_title"
	TypeMainFolder         TypeTag = "main_folder"
)

// DefaultTypeTags returns the default type tag vocabulary.
func DefaultTypeTags() []TypeTag {
	return []TypeTag{
		TypePDF,
		TypeMarkdown,
		TypeEnhancedMarkdown,
		TypeBookSummary,
		TypeFigures,
		TypeCacheFile,
		TypeMetadata,
		TypeFlashcards,
		TypeQuiz,
		TypeLearningObjectives,
		TypeBookTitle,
		TypeMainFolder,
	}
}

// IsDefaultTypeTag reports whether tag belongs to the default vocabulary.
func IsDefaultTypeTag(tag TypeTag) bool {
	return slices.Contains(DefaultTypeTags(), tag)
}

// RefPrefix marks a TaskSpec input override as a reference to another tag
// instead of a literal value ("$markdown" means "the value bound to markdown").
const RefPrefix = "$"

// RefTarget returns the referenced tag if v is a reference override.
func RefTarget(v any) (TypeTag, bool) {
	s, ok := v.(string)
	if !ok || len(s) <= len(RefPrefix) || s[:len(RefPrefix)] != RefPrefix {
		return "", false
	}
	return TypeTag(s[len(RefPrefix):]), true
}
