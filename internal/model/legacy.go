package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// The 1.x "session replay" generation used an incompatible envelope:
// entries instead of steps, chapters instead of an outcome. Those
// documents are still accepted on the read path and converted to the
// canonical 2.x shape; they are never written back as 1.x.

// legacyDocument is the 1.x envelope, decoded read-only.
type legacyDocument struct {
	Version  string          `json:"version"`
	Title    string          `json:"title"`
	Author   string          `json:"author,omitempty"`
	Recorded time.Time       `json:"recorded_at"`
	Entries  []legacyEntry   `json:"entries"`
	Chapters []legacyChapter `json:"chapters,omitempty"`
}

type legacyEntry struct {
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp"`
	Content   string `json:"content"`
	Path      string `json:"path,omitempty"`
	Command   string `json:"command,omitempty"`
	ExitCode  *int   `json:"exit_code,omitempty"`
}

type legacyChapter struct {
	Title   string `json:"title"`
	Summary string `json:"summary,omitempty"`
	AtEntry int    `json:"at_entry"`
}

// DetectVersion sniffs the schema generation of a raw document without
// fully decoding it. Returns the major version prefix ("1" or "2").
func DetectVersion(raw []byte) (string, error) {
	var probe struct {
		Version string          `json:"version"`
		Steps   json.RawMessage `json:"steps"`
		Entries json.RawMessage `json:"entries"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", fmt.Errorf("model: detect version: %w", err)
	}
	switch {
	case strings.HasPrefix(probe.Version, "2"):
		return "2", nil
	case strings.HasPrefix(probe.Version, "1"):
		return "1", nil
	case probe.Steps != nil:
		return "2", nil
	case probe.Entries != nil:
		return "1", nil
	}
	return "", fmt.Errorf("model: unrecognized document schema (version %q)", probe.Version)
}

// DecodeDocument decodes a raw buildlog document of either schema
// generation. Legacy 1.x documents are converted to the canonical
// shape: entries become steps, chapters become checkpoint steps at
// their original positions.
func DecodeDocument(raw []byte) (*Document, error) {
	version, err := DetectVersion(raw)
	if err != nil {
		return nil, err
	}

	if version == "2" {
		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("model: decode document: %w", err)
		}
		return &doc, nil
	}

	var legacy legacyDocument
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, fmt.Errorf("model: decode legacy document: %w", err)
	}
	return convertLegacy(legacy), nil
}

func convertLegacy(legacy legacyDocument) *Document {
	// Index chapters by the entry they precede.
	chapters := make(map[int][]legacyChapter)
	for _, ch := range legacy.Chapters {
		chapters[ch.AtEntry] = append(chapters[ch.AtEntry], ch)
	}

	doc := &Document{
		Version: SchemaVersion,
		Format:  FormatSlim,
		Metadata: Metadata{
			ID:        uuid.New(),
			Title:     legacy.Title,
			Author:    legacy.Author,
			CreatedAt: legacy.Recorded,
		},
	}

	appendStep := func(s Step) {
		s.ID = uuid.New()
		s.Seq = len(doc.Steps)
		doc.Steps = append(doc.Steps, s)
	}

	for i, e := range legacy.Entries {
		for _, ch := range chapters[i] {
			appendStep(Step{
				Type:      StepCheckpoint,
				Timestamp: e.Timestamp,
				Label:     ch.Title,
				Summary:   ch.Summary,
			})
		}
		appendStep(convertLegacyEntry(e))
	}
	// Chapters positioned past the last entry.
	for _, ch := range chapters[len(legacy.Entries)] {
		var ts int64
		if n := len(legacy.Entries); n > 0 {
			ts = legacy.Entries[n-1].Timestamp
		}
		appendStep(Step{Type: StepCheckpoint, Timestamp: ts, Label: ch.Title, Summary: ch.Summary})
	}

	doc.Metadata.StepCount = len(doc.Steps)
	doc.Metadata.PromptCount = doc.PromptCount()
	doc.Metadata.Replicable = doc.Metadata.PromptCount > 0
	if n := len(doc.Steps); n > 1 {
		doc.Metadata.DurationSeconds = doc.Steps[n-1].Timestamp - doc.Steps[0].Timestamp
	}
	return doc
}

func convertLegacyEntry(e legacyEntry) Step {
	switch e.Kind {
	case "prompt", "user":
		return Step{Type: StepPrompt, Timestamp: e.Timestamp, Text: e.Content}
	case "edit", "file":
		s := Step{Type: StepAction, Timestamp: e.Timestamp, Summary: e.Content}
		if e.Path != "" {
			s.Modified = []string{e.Path}
		}
		return s
	case "command", "terminal":
		return Step{
			Type:       StepTerminal,
			Timestamp:  e.Timestamp,
			Command:    e.Command,
			ExitCode:   e.ExitCode,
			CmdOutcome: DeriveTerminalOutcome(e.ExitCode),
		}
	default:
		return Step{Type: StepNote, Timestamp: e.Timestamp, Text: e.Content}
	}
}
