package model

import "time"

// EventType represents the category of a host runtime event.
type EventType string

const (
	EventUserMessage      EventType = "UserMessage"
	EventAssistantMessage EventType = "AssistantMessage"
	EventFileChange       EventType = "FileChange"
	EventTerminalCommand  EventType = "TerminalCommand"
)

// FileChangeKind is the low-level file operation reported by the host.
type FileChangeKind string

const (
	FileCreated  FileChangeKind = "created"
	FileModified FileChangeKind = "modified"
	FileDeleted  FileChangeKind = "deleted"
)

// SessionEvent is one event delivered by the host runtime. Exactly one
// payload pointer is non-nil, matching Type. Modeled as a closed set so
// dispatch over event kinds stays exhaustive.
type SessionEvent struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	UserMessage      *UserMessagePayload      `json:"user_message,omitempty"`
	AssistantMessage *AssistantMessagePayload `json:"assistant_message,omitempty"`
	FileChange       *FileChangePayload       `json:"file_change,omitempty"`
	TerminalCommand  *TerminalCommandPayload  `json:"terminal_command,omitempty"`
}

// UserMessagePayload is the payload for UserMessage events.
type UserMessagePayload struct {
	Text        string   `json:"text"`
	Attachments []string `json:"attachments,omitempty"`
}

// AssistantMessagePayload is the payload for AssistantMessage events.
type AssistantMessagePayload struct {
	Text      string   `json:"text"`
	ToolCalls []string `json:"tool_calls,omitempty"`
}

// FileChangePayload is the payload for FileChange events.
type FileChangePayload struct {
	Path string         `json:"path"`
	Kind FileChangeKind `json:"kind"`
	Diff string         `json:"diff,omitempty"`
}

// TerminalCommandPayload is the payload for TerminalCommand events.
type TerminalCommandPayload struct {
	Command  string `json:"command"`
	Cwd      string `json:"cwd,omitempty"`
	Output   string `json:"output,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
}
