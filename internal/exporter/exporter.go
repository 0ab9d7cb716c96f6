// Package exporter turns an already-complete conversation history into
// a buildlog document: the retroactive counterpart to the live
// recorder. It merges messages, file changes, and terminal commands
// into one time-ordered timeline and infers metadata the caller did
// not supply.
package exporter

import (
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/buildlog-ai/buildlog/internal/model"
)

// Message roles in a conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one conversation turn, optionally carrying the file
// changes and terminal commands that happened alongside it.
type Message struct {
	Role             string                        `json:"role"`
	Content          string                        `json:"content"`
	Timestamp        time.Time                     `json:"timestamp,omitzero"`
	FileChanges      []model.FileChangePayload     `json:"file_changes,omitempty"`
	TerminalCommands []model.TerminalCommandPayload `json:"terminal_commands,omitempty"`
}

// History is a complete, already-terminated conversation plus whatever
// partial metadata the host kept about it.
type History struct {
	Messages   []Message `json:"messages"`
	Title      string    `json:"title,omitempty"`
	Author     string    `json:"author,omitempty"`
	Editor     string    `json:"editor,omitempty"`
	AIProvider string    `json:"ai_provider,omitempty"`
	AIModel    string    `json:"ai_model,omitempty"`
}

// Options controls an export. Explicit values always win over both the
// history's partial metadata and inference.
type Options struct {
	Title                 string
	Description           string
	Author                string
	Tags                  []string
	Format                model.Format // defaults to slim
	LastN                 int          // keep only the final N messages when > 0
	IncludeSystemMessages bool
}

// Exporter is a stateless transformer. The zero dependencies beyond a
// logger and a clock keep exports reproducible in tests.
type Exporter struct {
	logger *slog.Logger
	now    func() time.Time
}

// New creates an exporter.
func New(logger *slog.Logger) *Exporter {
	return &Exporter{logger: logger, now: time.Now}
}

// timelineEntry pairs a candidate step with its wall-clock instant.
// Sorting is stable so entries whose timestamps collide (common when
// they were defaulted to call time) keep their original relative order.
type timelineEntry struct {
	at   time.Time
	step model.Step
}

// Export runs the full transform: filter, merge, sort, convert, infer.
func (e *Exporter) Export(h History, opts Options) (*model.Document, error) {
	format := opts.Format
	if format == "" {
		format = model.FormatSlim
	}

	messages := filterMessages(h.Messages, opts)
	entries := e.buildTimeline(messages, format)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })

	var (
		steps    []model.Step
		minAt    time.Time
		maxAt    time.Time
		earliest time.Time
	)
	if len(entries) > 0 {
		earliest = entries[0].at
	}
	for i, entry := range entries {
		step := entry.step
		step.ID = uuid.New()
		step.Seq = i
		// Rebase wall-clock instants to whole-second offsets from the
		// earliest timestamp in the retained window.
		step.Timestamp = int64(entry.at.Sub(earliest).Seconds())
		if format != model.FormatFull {
			step = step.StripFullFields()
		}
		steps = append(steps, step)

		if minAt.IsZero() || entry.at.Before(minAt) {
			minAt = entry.at
		}
		if entry.at.After(maxAt) {
			maxAt = entry.at
		}
	}

	var duration int64
	if len(steps) >= 2 {
		duration = int64(maxAt.Sub(minAt).Seconds())
	}

	promptCount := 0
	for _, s := range steps {
		if s.Type == model.StepPrompt {
			promptCount++
		}
	}

	doc := &model.Document{
		Version: model.SchemaVersion,
		Format:  format,
		Metadata: model.Metadata{
			ID:              uuid.New(),
			Title:           pick(opts.Title, h.Title, inferTitle(messages)),
			Description:     pick(opts.Description, "", inferDescription(steps)),
			Author:          pick(opts.Author, h.Author, ""),
			Tags:            opts.Tags,
			CreatedAt:       e.createdAt(messages),
			DurationSeconds: duration,
			Editor:          h.Editor,
			AIProvider:      h.AIProvider,
			AIModel:         h.AIModel,
			StepCount:       len(steps),
			PromptCount:     promptCount,
			Replicable:      promptCount > 0,
		},
		Steps: steps,
	}
	if len(doc.Metadata.Tags) == 0 {
		doc.Metadata.Tags = inferTags(messages)
	}

	if outcome := inferOutcome(messages); outcome != nil {
		outcome.CanReplicate = promptCount > 0
		doc.Outcome = outcome
	}

	e.logger.Debug("exporter: document produced",
		"steps", len(steps), "prompts", promptCount, "format", format)
	return doc, nil
}

// ExportLastN slices the history to its final n messages before
// running the full transform, so inferred title and outcome reflect
// only the retained window.
func (e *Exporter) ExportLastN(h History, n int, opts Options) (*model.Document, error) {
	if n > 0 && n < len(h.Messages) {
		h.Messages = h.Messages[len(h.Messages)-n:]
	}
	opts.LastN = 0
	return e.Export(h, opts)
}

// ExportRange slices the history to messages [start, end) before
// running the full transform. Bounds are clamped.
func (e *Exporter) ExportRange(h History, start, end int, opts Options) (*model.Document, error) {
	if start < 0 {
		start = 0
	}
	if end > len(h.Messages) {
		end = len(h.Messages)
	}
	if start >= end {
		h.Messages = nil
	} else {
		h.Messages = h.Messages[start:end]
	}
	return e.Export(h, opts)
}

func filterMessages(messages []Message, opts Options) []Message {
	kept := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem && !opts.IncludeSystemMessages {
			continue
		}
		kept = append(kept, m)
	}
	if opts.LastN > 0 && opts.LastN < len(kept) {
		kept = kept[len(kept)-opts.LastN:]
	}
	return kept
}

// buildTimeline tags each user message as a candidate prompt and each
// attached file change / terminal command as candidate action and
// terminal steps, every entry carrying its own timestamp (defaulted to
// call time when the history has none).
func (e *Exporter) buildTimeline(messages []Message, format model.Format) []timelineEntry {
	callTime := e.now()
	var entries []timelineEntry

	for i, m := range messages {
		at := m.Timestamp
		if at.IsZero() {
			at = callTime
		}

		if m.Role == RoleUser {
			step := model.Step{Type: model.StepPrompt, Text: m.Content}
			if format == model.FormatFull {
				step.Response = nextAssistantReply(messages, i)
			}
			entries = append(entries, timelineEntry{at: at, step: step})
		}

		for _, fc := range m.FileChanges {
			step := model.Step{Type: model.StepAction, Summary: actionSummary(fc)}
			switch fc.Kind {
			case model.FileCreated:
				step.Created = []string{fc.Path}
			case model.FileModified:
				step.Modified = []string{fc.Path}
			case model.FileDeleted:
				step.Deleted = []string{fc.Path}
			}
			step.Diff = fc.Diff
			entries = append(entries, timelineEntry{at: at, step: step})
		}

		for _, tc := range m.TerminalCommands {
			entries = append(entries, timelineEntry{at: at, step: model.Step{
				Type:       model.StepTerminal,
				Command:    tc.Command,
				Cwd:        tc.Cwd,
				ExitCode:   tc.ExitCode,
				CmdOutcome: model.DeriveTerminalOutcome(tc.ExitCode),
				Output:     tc.Output,
			}})
		}
	}
	return entries
}

// nextAssistantReply returns the first assistant message after index i.
func nextAssistantReply(messages []Message, i int) string {
	for _, m := range messages[i+1:] {
		if m.Role == RoleAssistant {
			return m.Content
		}
	}
	return ""
}

func actionSummary(fc model.FileChangePayload) string {
	switch fc.Kind {
	case model.FileCreated:
		return "Created " + fc.Path
	case model.FileDeleted:
		return "Deleted " + fc.Path
	default:
		return "Modified " + fc.Path
	}
}

// createdAt is the earliest message timestamp, or the call time when
// the history carries none.
func (e *Exporter) createdAt(messages []Message) time.Time {
	var earliest time.Time
	for _, m := range messages {
		if m.Timestamp.IsZero() {
			continue
		}
		if earliest.IsZero() || m.Timestamp.Before(earliest) {
			earliest = m.Timestamp
		}
	}
	if earliest.IsZero() {
		return e.now()
	}
	return earliest
}

// pick returns the first non-empty choice.
func pick(choices ...string) string {
	for _, c := range choices {
		if c != "" {
			return c
		}
	}
	return ""
}
