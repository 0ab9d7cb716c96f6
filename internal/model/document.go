package model

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the canonical document schema version produced by
// this implementation. Version 1.0.0 used a different envelope
// (entries/chapters); see legacy.go for read-only conversion.
const SchemaVersion = "2.0.0"

// Format selects whether bulky fields (AI responses, diffs, captured
// terminal output) are included in a document.
type Format string

const (
	FormatSlim Format = "slim"
	FormatFull Format = "full"
)

// OutcomeStatus is the document-level verdict.
type OutcomeStatus string

const (
	StatusSuccess   OutcomeStatus = "success"
	StatusPartial   OutcomeStatus = "partial"
	StatusFailure   OutcomeStatus = "failure"
	StatusAbandoned OutcomeStatus = "abandoned"

	// Inferred verdicts emitted by the retroactive exporter.
	StatusCompleted OutcomeStatus = "completed"
	StatusFailed    OutcomeStatus = "failed"
)

// Document is the portable buildlog artifact.
type Document struct {
	Version  string   `json:"version"`
	Format   Format   `json:"format"`
	Metadata Metadata `json:"metadata"`
	Steps    []Step   `json:"steps"`
	Outcome  *Outcome `json:"outcome,omitempty"`
}

// Metadata describes the session the document was produced from.
type Metadata struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	Author          string    `json:"author,omitempty"`
	Tags            []string  `json:"tags,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	DurationSeconds int64     `json:"duration_seconds"`
	Editor          string    `json:"editor,omitempty"`
	AIProvider      string    `json:"ai_provider,omitempty"`
	AIModel         string    `json:"ai_model,omitempty"`
	StepCount       int       `json:"step_count"`
	PromptCount     int       `json:"prompt_count"`
	Replicable      bool      `json:"replicable"`
}

// Outcome records the document-level verdict. CanReplicate is always
// derived from "does any prompt step exist", never set independently.
type Outcome struct {
	Status        OutcomeStatus `json:"status"`
	Summary       string        `json:"summary,omitempty"`
	CanReplicate  bool          `json:"can_replicate"`
	FilesCreated  int           `json:"files_created"`
	FilesModified int           `json:"files_modified"`
}

// PromptCount returns the number of prompt steps in the document.
func (d *Document) PromptCount() int {
	n := 0
	for _, s := range d.Steps {
		if s.Type == StepPrompt {
			n++
		}
	}
	return n
}

// Validate checks the document invariants: sequence numbers gap-free
// from 0 and no full-only fields in a slim document.
func (d *Document) Validate() error {
	for i, s := range d.Steps {
		if s.Seq != i {
			return &ValidationError{Field: "steps", Reason: "sequence numbers must be gap-free from 0"}
		}
		if d.Format == FormatSlim && s.HasFullFields() {
			return &ValidationError{Field: "steps", Reason: "slim document carries full-format-only fields"}
		}
	}
	return nil
}

// ValidationError reports a document invariant violation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "model: invalid " + e.Field + ": " + e.Reason
}
