package agent

import (
	"multimodal-agent/internal/services/intent"
)

// Request is one inbound call. File is nil when nothing was uploaded.
type Request struct {
	Text string `validate:"required_without=File,max=50000"`
	File *File
}

// File is an upload already spooled to disk.
type File struct {
	Path         string `validate:"required"`
	Name         string
	DeclaredMIME string
	Size         int64 `validate:"gt=0"`
}

// TaskResult is what Process returns on success.
type TaskResult struct {
	Intent           intent.Intent `json:"intent"`
	ExtractedContent string        `json:"extracted_content"`
	Result           string        `json:"result"`
	Structured       any           `json:"structured,omitempty"`
	Metadata         Metadata      `json:"metadata"`
}

// Metadata describes how the result was produced.
type Metadata struct {
	FileType         string   `json:"file_type"`
	Pages            *int     `json:"pages,omitempty"`
	Confidence       *float64 `json:"confidence,omitempty"`
	Duration         *float64 `json:"duration,omitempty"`
	TranscriptChars  *int     `json:"transcript_chars,omitempty"`
	Language         string   `json:"language,omitempty"`
	ExtractionMethod string   `json:"extraction_method,omitempty"`
	Warning          string   `json:"warning,omitempty"`
	Format           string   `json:"format,omitempty"`
	Model            string   `json:"model,omitempty"`
	Attempts         int      `json:"attempts,omitempty"`
}

const fileTypeTextOnly = "text_only"
