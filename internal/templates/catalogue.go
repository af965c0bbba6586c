package templates

import "github.com/vladislavfirsov/content-pipeline/contracts"

func documentProcessingSpec() contracts.TaskSpec {
	return contracts.TaskSpec{
		TaskID: TaskDocumentProcessing,
		Options: map[string]any{
			"analyzer_template":           "analyzer_templates/image_chart_diagram_understanding.json",
			"use_content_books_structure": true,
			"content_type":                "book",
		},
	}
}

func summarizationSpec() contracts.TaskSpec {
	return contracts.TaskSpec{
		TaskID: TaskSummarization,
		Inputs: map[contracts.TypeTag]any{
			contracts.TypeEnhancedMarkdown: "$enhanced_markdown",
			contracts.TypeBookTitle:        "$book_title",
			contracts.TypeMainFolder:       "$main_folder",
		},
	}
}

func learningSpec(id contracts.TaskID) contracts.TaskSpec {
	return contracts.TaskSpec{
		TaskID: id,
		Inputs: map[contracts.TypeTag]any{
			contracts.TypeBookSummary:      "$book_summary",
			contracts.TypeEnhancedMarkdown: "$enhanced_markdown",
		},
	}
}

func builtins() map[string]contracts.PipelineConfig {
	return map[string]contracts.PipelineConfig{
		DocumentToSummary: {
			Name:        "Document to Summary",
			Description: "Process a PDF document and generate a comprehensive summary",
			Tasks:       []contracts.TaskSpec{documentProcessingSpec(), summarizationSpec()},
			Settings: map[string]any{
				"output_format":      "structured",
				"save_intermediates": true,
			},
			Metadata: map[string]any{
				"template_version":           "1.0.0",
				"category":                   "document_processing",
				"estimated_duration_minutes": 25,
			},
		},
		CompleteBookProcessing: {
			Name:        "Complete Book Processing",
			Description: "Full pipeline for book processing with summary and learning materials",
			Tasks: []contracts.TaskSpec{
				documentProcessingSpec(),
				summarizationSpec(),
				learningSpec(TaskFlashcards),
				learningSpec(TaskQuiz),
				learningSpec(TaskLearningObjectives),
			},
			Settings: map[string]any{
				"output_format":               "comprehensive",
				"save_intermediates":          true,
				"generate_learning_materials": true,
			},
			Metadata: map[string]any{
				"template_version":           "1.0.0",
				"category":                   "complete_processing",
				"estimated_duration_minutes": 45,
			},
		},
		DocumentProcessingOnly: {
			Name:        "Document Processing Only",
			Description: "Extract and enhance content from PDF documents",
			Tasks:       []contracts.TaskSpec{documentProcessingSpec()},
			Settings: map[string]any{
				"output_format": "enhanced_markdown",
			},
			Metadata: map[string]any{
				"template_version":           "1.0.0",
				"category":                   "document_processing",
				"estimated_duration_minutes": 15,
			},
		},
		SummarizationOnly: {
			Name:        "Summarization Only",
			Description: "Generate summaries from existing markdown content",
			Tasks:       []contracts.TaskSpec{{TaskID: TaskMarkdownSummarization}},
			Settings: map[string]any{
				"output_format": "summary",
			},
			Metadata: map[string]any{
				"template_version":           "1.0.0",
				"category":                   "summarization",
				"estimated_duration_minutes": 10,
			},
		},
		StudyPack: {
			Name:        "Study Pack",
			Description: "Summarize a PDF and derive flashcards and a quiz from the summary",
			Tasks: []contracts.TaskSpec{
				documentProcessingSpec(),
				summarizationSpec(),
				learningSpec(TaskFlashcards),
				learningSpec(TaskQuiz),
			},
			Settings: map[string]any{
				"output_format":               "study",
				"generate_learning_materials": true,
			},
			Metadata: map[string]any{
				"template_version":           "1.0.0",
				"category":                   "learning_materials",
				"estimated_duration_minutes": 35,
			},
		},
	}
}
