package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(n int) *int { return &n }

func TestDeriveTerminalOutcome(t *testing.T) {
	assert.Equal(t, OutcomePartial, DeriveTerminalOutcome(nil))
	assert.Equal(t, OutcomeSuccess, DeriveTerminalOutcome(intp(0)))
	assert.Equal(t, OutcomeFailure, DeriveTerminalOutcome(intp(1)))
	assert.Equal(t, OutcomeFailure, DeriveTerminalOutcome(intp(127)))
}

func TestStripFullFields(t *testing.T) {
	step := Step{
		Type:     StepPrompt,
		Text:     "add caching",
		Response: "Sure, here is a cache layer",
		Diff:     "+cache.go",
		Output:   "ok",
	}
	require.True(t, step.HasFullFields())

	slim := step.StripFullFields()
	assert.False(t, slim.HasFullFields())
	// Non-full fields survive.
	assert.Equal(t, "add caching", slim.Text)
	// The original is untouched.
	assert.True(t, step.HasFullFields())
}

func TestDocumentValidate(t *testing.T) {
	doc := &Document{
		Version: SchemaVersion,
		Format:  FormatSlim,
		Steps: []Step{
			{Type: StepPrompt, Seq: 0},
			{Type: StepAction, Seq: 1},
		},
	}
	require.NoError(t, doc.Validate())

	doc.Steps[1].Seq = 5
	err := doc.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gap-free")

	doc.Steps[1].Seq = 1
	doc.Steps[1].Diff = "+main.go"
	err = doc.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slim")

	// The same payload is fine in a full document.
	doc.Format = FormatFull
	assert.NoError(t, doc.Validate())
}

func TestDetectVersion(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"explicit v2", `{"version":"2.0.0","steps":[]}`, "2"},
		{"explicit v1", `{"version":"1.3.0","entries":[]}`, "1"},
		{"sniffed steps", `{"steps":[]}`, "2"},
		{"sniffed entries", `{"entries":[]}`, "1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DetectVersion([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := DetectVersion([]byte(`{"version":"3.0.0"}`))
	assert.Error(t, err)
	_, err = DetectVersion([]byte(`not json`))
	assert.Error(t, err)
}

func TestDecodeDocumentLegacy(t *testing.T) {
	raw := []byte(`{
		"version": "1.2.0",
		"title": "Fix login bug",
		"author": "sam",
		"entries": [
			{"kind": "prompt", "timestamp": 0, "content": "fix the login bug"},
			{"kind": "edit", "timestamp": 30, "content": "Patched session check", "path": "auth/session.go"},
			{"kind": "command", "timestamp": 45, "command": "go test ./...", "exit_code": 0},
			{"kind": "aside", "timestamp": 50, "content": "flaky on CI"}
		],
		"chapters": [
			{"title": "Investigation", "at_entry": 0},
			{"title": "Wrap up", "summary": "all green", "at_entry": 4}
		]
	}`)

	doc, err := DecodeDocument(raw)
	require.NoError(t, err)

	assert.Equal(t, SchemaVersion, doc.Version)
	assert.Equal(t, FormatSlim, doc.Format)
	assert.Equal(t, "Fix login bug", doc.Metadata.Title)
	assert.Equal(t, "sam", doc.Metadata.Author)

	// 4 entries + 2 chapters, with chapters at their original positions.
	require.Len(t, doc.Steps, 6)
	assert.Equal(t, StepCheckpoint, doc.Steps[0].Type)
	assert.Equal(t, "Investigation", doc.Steps[0].Label)
	assert.Equal(t, StepPrompt, doc.Steps[1].Type)
	assert.Equal(t, StepAction, doc.Steps[2].Type)
	assert.Equal(t, []string{"auth/session.go"}, doc.Steps[2].Modified)
	assert.Equal(t, StepTerminal, doc.Steps[3].Type)
	assert.Equal(t, OutcomeSuccess, doc.Steps[3].CmdOutcome)
	// Unknown kinds downgrade to notes.
	assert.Equal(t, StepNote, doc.Steps[4].Type)
	// The trailing chapter lands after the last entry.
	assert.Equal(t, StepCheckpoint, doc.Steps[5].Type)
	assert.Equal(t, "Wrap up", doc.Steps[5].Label)

	assert.Equal(t, 6, doc.Metadata.StepCount)
	assert.Equal(t, 1, doc.Metadata.PromptCount)
	assert.True(t, doc.Metadata.Replicable)
	require.NoError(t, doc.Validate())
}

func TestDecodeDocumentCanonical(t *testing.T) {
	in := &Document{
		Version: SchemaVersion,
		Format:  FormatSlim,
		Metadata: Metadata{
			Title:     "Session",
			StepCount: 1,
		},
		Steps: []Step{{Type: StepPrompt, Seq: 0, Text: "hello"}},
	}
	raw, err := json.Marshal(in)
	require.NoError(t, err)

	out, err := DecodeDocument(raw)
	require.NoError(t, err)
	assert.Equal(t, in.Metadata.Title, out.Metadata.Title)
	require.Len(t, out.Steps, 1)
	assert.Equal(t, "hello", out.Steps[0].Text)
}
