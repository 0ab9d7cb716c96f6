package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/buildlog-ai/buildlog/internal/exporter"
	"github.com/buildlog-ai/buildlog/internal/model"
	"github.com/buildlog-ai/buildlog/internal/recorder"
	"github.com/buildlog-ai/buildlog/internal/store"
	"github.com/buildlog-ai/buildlog/internal/uploader"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestServer wires a Server against an in-memory store.
func newTestServer(t *testing.T) *Server {
	return newTestServerWithDefaults(t, recorder.StartOptions{})
}

func newTestServerWithDefaults(t *testing.T, defaults recorder.StartOptions) *Server {
	t.Helper()
	logger := testLogger()

	st, err := store.Open(context.Background(), ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	rec := recorder.New(logger)
	exp := exporter.New(logger)
	client := uploader.New("http://unused.invalid", "", time.Second, logger)
	return New(rec, exp, client, st, defaults, logger, "test")
}

func toolRequest(args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Arguments: args},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no TextContent found in tool result")
	return ""
}

func TestHandleStartStopRoundTrip(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleStart(ctx, toolRequest(map[string]any{"title": "Session via MCP"}))
	require.NoError(t, err)
	require.False(t, result.IsError, "start should succeed: %s", parseToolText(t, result))

	var started struct {
		SessionID string `json:"session_id"`
		Status    string `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &started))
	assert.Equal(t, "recording", started.Status)
	assert.NotEmpty(t, started.SessionID)

	require.NoError(t, s.rec.AddPrompt("do a thing", nil, ""))

	result, err = s.handleStop(ctx, toolRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var stopped struct {
		ID      string `json:"id"`
		Steps   int    `json:"steps"`
		Prompts int    `json:"prompts"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &stopped))
	assert.Equal(t, 1, stopped.Steps)
	assert.Equal(t, 1, stopped.Prompts)

	// The stopped session is in the local store.
	doc, err := s.st.Get(ctx, stopped.ID)
	require.NoError(t, err)
	assert.Equal(t, "Session via MCP", doc.Metadata.Title)
}

// Environment-derived defaults seed every session; per-call arguments
// still win.
func TestHandleStartUsesConfiguredDefaults(t *testing.T) {
	s := newTestServerWithDefaults(t, recorder.StartOptions{
		Format:     model.FormatFull,
		Author:     "env-author",
		Editor:     "vscode",
		AIProvider: "anthropic",
		AIModel:    "claude",
	})
	ctx := context.Background()

	result, err := s.handleStart(ctx, toolRequest(map[string]any{"title": "defaulted"}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	doc, err := s.rec.Snapshot(nil)
	require.NoError(t, err)
	assert.Equal(t, model.FormatFull, doc.Format)
	assert.Equal(t, "env-author", doc.Metadata.Author)
	assert.Equal(t, "vscode", doc.Metadata.Editor)
	assert.Equal(t, "anthropic", doc.Metadata.AIProvider)
	assert.Equal(t, "claude", doc.Metadata.AIModel)

	_, err = s.handleStop(ctx, toolRequest(nil))
	require.NoError(t, err)

	// An explicit format argument overrides the configured default.
	result, err = s.handleStart(ctx, toolRequest(map[string]any{"title": "explicit", "format": "slim"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	doc, err = s.rec.Snapshot(nil)
	require.NoError(t, err)
	assert.Equal(t, model.FormatSlim, doc.Format)
	assert.Equal(t, "env-author", doc.Metadata.Author)
}

func TestHandleStartValidation(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleStart(ctx, toolRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleStart(ctx, toolRequest(map[string]any{"title": "x", "format": "verbose"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "format")
}

func TestHandleStopQueuesUpload(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleStart(ctx, toolRequest(map[string]any{"title": "queued"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	result, err = s.handleStop(ctx, toolRequest(map[string]any{"upload": true}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var stopped struct {
		UploadQueued bool `json:"upload_queued"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &stopped))
	assert.True(t, stopped.UploadQueued)

	n, err := s.st.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHandleStatusAndPauseResume(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleStatus(ctx, toolRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, parseToolText(t, result), "idle")

	_, err = s.handleStart(ctx, toolRequest(map[string]any{"title": "s"}))
	require.NoError(t, err)

	result, err = s.handlePause(ctx, toolRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	result, err = s.handleStatus(ctx, toolRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, parseToolText(t, result), "paused")

	result, err = s.handleResume(ctx, toolRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	// Pause with nothing recording is a tool error, not a protocol one.
	_, err = s.handleStop(ctx, toolRequest(nil))
	require.NoError(t, err)
	result, err = s.handlePause(ctx, toolRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleAnnotations(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	// All annotation tools fail politely with no session.
	for name, handler := range map[string]func(context.Context, mcplib.CallToolRequest) (*mcplib.CallToolResult, error){
		"note":       s.handleNote,
		"checkpoint": s.handleCheckpoint,
		"error":      s.handleError,
	} {
		result, err := handler(ctx, toolRequest(map[string]any{
			"text": "t", "label": "l", "message": "m",
		}))
		require.NoError(t, err, name)
		assert.True(t, result.IsError, name)
	}

	_, err := s.handleStart(ctx, toolRequest(map[string]any{"title": "annotated"}))
	require.NoError(t, err)

	result, err := s.handleNote(ctx, toolRequest(map[string]any{"text": "useful tip", "category": "tip"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	result, err = s.handleCheckpoint(ctx, toolRequest(map[string]any{"label": "halfway"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	result, err = s.handleError(ctx, toolRequest(map[string]any{"message": "npe", "resolved": true}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	assert.Equal(t, 3, s.rec.StepCount())

	// Missing required arguments are tool errors.
	result, err = s.handleNote(ctx, toolRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleExport(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	history := `{"messages":[
		{"role":"user","content":"please fix the race condition in the worker pool"},
		{"role":"assistant","content":"Done, the pool now joins cleanly."}
	]}`

	result, err := s.handleExport(ctx, toolRequest(map[string]any{"history": history}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	var exported struct {
		ID      string `json:"id"`
		Title   string `json:"title"`
		Prompts int    `json:"prompts"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &exported))
	assert.Equal(t, 1, exported.Prompts)
	assert.Equal(t, "please fix the race condition in the worker pool", exported.Title)

	_, err = s.st.Get(ctx, exported.ID)
	assert.NoError(t, err)

	// Malformed history is a tool error.
	result, err = s.handleExport(ctx, toolRequest(map[string]any{"history": "{broken"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleExport(ctx, toolRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleUploadMissingDocument(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleUpload(context.Background(), toolRequest(map[string]any{"id": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "not found")
}

func TestResourceSessionCurrent(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	req := mcplib.ReadResourceRequest{}
	req.Params.URI = "buildlog://session/current"

	// No session yet: the resource read fails.
	_, err := s.handleSessionCurrent(ctx, req)
	assert.Error(t, err)

	_, err = s.handleStart(ctx, toolRequest(map[string]any{"title": "resource check"}))
	require.NoError(t, err)

	contents, err := s.handleSessionCurrent(ctx, req)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)
	assert.Contains(t, text.Text, "resource check")
}
