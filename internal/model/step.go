// Package model defines the buildlog document schema and the host event
// contract shared by the recorder and the exporter.
package model

import "github.com/google/uuid"

// StepType represents the kind of a timeline step.
type StepType string

const (
	StepPrompt     StepType = "prompt"
	StepAction     StepType = "action"
	StepTerminal   StepType = "terminal"
	StepNote       StepType = "note"
	StepCheckpoint StepType = "checkpoint"
	StepError      StepType = "error"
)

// TerminalOutcome classifies how a terminal command ended.
type TerminalOutcome string

const (
	OutcomeSuccess TerminalOutcome = "success"
	OutcomeFailure TerminalOutcome = "failure"
	OutcomePartial TerminalOutcome = "partial"
)

// DeriveTerminalOutcome maps an exit code to an outcome. A missing exit
// code means the command's fate is unknown, so the outcome is partial.
func DeriveTerminalOutcome(exitCode *int) TerminalOutcome {
	switch {
	case exitCode == nil:
		return OutcomePartial
	case *exitCode == 0:
		return OutcomeSuccess
	default:
		return OutcomeFailure
	}
}

// NoteCategory classifies a note step.
type NoteCategory string

const (
	NoteExplanation NoteCategory = "explanation"
	NoteTip         NoteCategory = "tip"
	NoteWarning     NoteCategory = "warning"
	NoteDecision    NoteCategory = "decision"
	NoteTodo        NoteCategory = "todo"
)

// Step is one timeline unit in a buildlog document. The Type field
// discriminates which of the per-variant fields are meaningful; all
// variant fields are omitempty so a serialized step only carries its
// own shape.
//
// Timestamp is whole seconds elapsed since the session (or, for
// retroactive exports, the retained window) started. Seq is assigned
// at insertion time, starts at 0, and is gap-free within a document.
type Step struct {
	ID        uuid.UUID `json:"id"`
	Type      StepType  `json:"type"`
	Seq       int       `json:"seq"`
	Timestamp int64     `json:"timestamp"`

	// Prompt and note.
	Text    string   `json:"text,omitempty"`
	Context []string `json:"context,omitempty"`
	Intent  string   `json:"intent,omitempty"`

	// Action.
	Summary  string   `json:"summary,omitempty"`
	Created  []string `json:"created,omitempty"`
	Modified []string `json:"modified,omitempty"`
	Deleted  []string `json:"deleted,omitempty"`
	Approach string   `json:"approach,omitempty"`

	// Terminal.
	Command    string          `json:"command,omitempty"`
	Cwd        string          `json:"cwd,omitempty"`
	ExitCode   *int            `json:"exit_code,omitempty"`
	CmdOutcome TerminalOutcome `json:"outcome,omitempty"`

	// Note.
	Category NoteCategory `json:"category,omitempty"`

	// Checkpoint.
	Label string `json:"label,omitempty"`

	// Error.
	Message    string `json:"message,omitempty"`
	Stack      string `json:"stack,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	Resolved   bool   `json:"resolved,omitempty"`

	// Full-format-only fields. Must never appear in a slim document.
	Response string `json:"response,omitempty"`
	Diff     string `json:"diff,omitempty"`
	Output   string `json:"output,omitempty"`
}

// StripFullFields returns a copy of the step with every
// full-format-only field cleared.
func (s Step) StripFullFields() Step {
	s.Response = ""
	s.Diff = ""
	s.Output = ""
	return s
}

// HasFullFields reports whether any full-format-only field is set.
func (s Step) HasFullFields() bool {
	return s.Response != "" || s.Diff != "" || s.Output != ""
}
