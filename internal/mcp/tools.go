package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/buildlog-ai/buildlog/internal/exporter"
	"github.com/buildlog-ai/buildlog/internal/model"
	"github.com/buildlog-ai/buildlog/internal/uploader"
)

func (s *Server) registerTools() {
	// buildlog_start — begin a recording session.
	s.mcpServer.AddTool(
		mcplib.NewTool("buildlog_start",
			mcplib.WithDescription("Start recording the current coding session into a buildlog"),
			mcplib.WithString("title", mcplib.Description("Session title"), mcplib.Required()),
			mcplib.WithString("format", mcplib.Description("Recording format: slim (default) or full")),
		),
		s.handleStart,
	)

	// buildlog_stop — finalize and locally save the session.
	s.mcpServer.AddTool(
		mcplib.NewTool("buildlog_stop",
			mcplib.WithDescription("Stop recording, save the buildlog locally, and optionally queue it for upload"),
			mcplib.WithBoolean("upload", mcplib.Description("Queue the finished buildlog for upload")),
		),
		s.handleStop,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("buildlog_pause",
			mcplib.WithDescription("Pause recording; events are ignored until resume")),
		s.handlePause,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("buildlog_resume",
			mcplib.WithDescription("Resume a paused recording")),
		s.handleResume,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("buildlog_status",
			mcplib.WithDescription("Report recorder state, active session, and step count")),
		s.handleStatus,
	)

	// buildlog_note — annotate the session.
	s.mcpServer.AddTool(
		mcplib.NewTool("buildlog_note",
			mcplib.WithDescription("Add a note to the active session"),
			mcplib.WithString("text", mcplib.Description("Note text"), mcplib.Required()),
			mcplib.WithString("category", mcplib.Description("One of: explanation, tip, warning, decision, todo")),
		),
		s.handleNote,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("buildlog_checkpoint",
			mcplib.WithDescription("Mark a milestone in the active session"),
			mcplib.WithString("label", mcplib.Description("Milestone label"), mcplib.Required()),
			mcplib.WithString("summary", mcplib.Description("What was accomplished")),
		),
		s.handleCheckpoint,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("buildlog_error",
			mcplib.WithDescription("Record an error encountered during the session"),
			mcplib.WithString("message", mcplib.Description("Error message"), mcplib.Required()),
			mcplib.WithString("resolution", mcplib.Description("How it was resolved, if it was")),
			mcplib.WithBoolean("resolved", mcplib.Description("Whether the error is resolved")),
		),
		s.handleError,
	)

	// buildlog_export — retroactive export of a finished conversation.
	s.mcpServer.AddTool(
		mcplib.NewTool("buildlog_export",
			mcplib.WithDescription("Export a completed conversation history (JSON) into a buildlog document"),
			mcplib.WithString("history", mcplib.Description("Conversation history as JSON"), mcplib.Required()),
			mcplib.WithString("title", mcplib.Description("Explicit title (inferred when omitted)")),
			mcplib.WithString("format", mcplib.Description("slim (default) or full")),
			mcplib.WithNumber("last_n", mcplib.Description("Keep only the final N messages")),
		),
		s.handleExport,
	)

	// buildlog_upload — push a saved buildlog to the service.
	s.mcpServer.AddTool(
		mcplib.NewTool("buildlog_upload",
			mcplib.WithDescription("Upload a locally saved buildlog to buildlog.ai"),
			mcplib.WithString("id", mcplib.Description("Saved buildlog id"), mcplib.Required()),
			mcplib.WithBoolean("share", mcplib.Description("Create a public share link")),
		),
		s.handleUpload,
	)
}

func (s *Server) handleStart(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	title := request.GetString("title", "")
	if title == "" {
		return errorResult("title is required"), nil
	}
	format := model.Format(request.GetString("format", ""))
	if format == "" {
		format = s.defaults.Format
	}
	if format == "" {
		format = model.FormatSlim
	}
	if format != model.FormatSlim && format != model.FormatFull {
		return errorResult(fmt.Sprintf("unknown format %q (use slim or full)", format)), nil
	}

	opts := s.defaults
	opts.Format = format
	id, err := s.rec.Start(title, opts)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(map[string]any{"session_id": id, "title": title, "status": "recording"}), nil
}

func (s *Server) handleStop(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	doc, err := s.rec.Stop()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if err := s.st.Save(ctx, doc); err != nil {
		// The document is already final; losing the local copy matters
		// more to the caller than the stop itself.
		return errorResult(fmt.Sprintf("session stopped but saving failed: %v", err)), nil
	}

	queued := false
	if request.GetBool("upload", false) {
		if err := s.st.Enqueue(ctx, doc.Metadata.ID.String()); err != nil {
			s.logger.Warn("mcp: enqueue upload", "error", err)
		} else {
			queued = true
		}
	}
	return textResult(map[string]any{
		"id":            doc.Metadata.ID,
		"title":         doc.Metadata.Title,
		"steps":         doc.Metadata.StepCount,
		"prompts":       doc.Metadata.PromptCount,
		"duration_s":    doc.Metadata.DurationSeconds,
		"upload_queued": queued,
		"status":        "stopped",
	}), nil
}

func (s *Server) handlePause(context.Context, mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if err := s.rec.Pause(); err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(map[string]any{"status": "paused"}), nil
}

func (s *Server) handleResume(context.Context, mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if err := s.rec.Resume(); err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(map[string]any{"status": "recording"}), nil
}

func (s *Server) handleStatus(context.Context, mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	status := map[string]any{"state": s.rec.State()}
	if id, title, ok := s.rec.Session(); ok {
		status["session_id"] = id
		status["title"] = title
		status["steps"] = s.rec.StepCount()
	}
	return textResult(status), nil
}

func (s *Server) handleNote(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	text := request.GetString("text", "")
	if text == "" {
		return errorResult("text is required"), nil
	}
	category := model.NoteCategory(request.GetString("category", ""))
	if err := s.rec.AddNote(text, category); err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(map[string]any{"status": "noted"}), nil
}

func (s *Server) handleCheckpoint(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	label := request.GetString("label", "")
	if label == "" {
		return errorResult("label is required"), nil
	}
	if err := s.rec.AddCheckpoint(label, request.GetString("summary", "")); err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(map[string]any{"status": "checkpointed", "label": label}), nil
}

func (s *Server) handleError(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	message := request.GetString("message", "")
	if message == "" {
		return errorResult("message is required"), nil
	}
	err := s.rec.AddError(message, "", request.GetString("resolution", ""), request.GetBool("resolved", false))
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(map[string]any{"status": "recorded"}), nil
}

func (s *Server) handleExport(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	rawHistory := request.GetString("history", "")
	if rawHistory == "" {
		return errorResult("history is required"), nil
	}
	var history exporter.History
	if err := json.Unmarshal([]byte(rawHistory), &history); err != nil {
		return errorResult(fmt.Sprintf("invalid history JSON: %v", err)), nil
	}

	opts := exporter.Options{
		Title:  request.GetString("title", ""),
		Format: model.Format(request.GetString("format", string(model.FormatSlim))),
		LastN:  request.GetInt("last_n", 0),
	}
	doc, err := s.exp.Export(history, opts)
	if err != nil {
		return errorResult(fmt.Sprintf("export failed: %v", err)), nil
	}
	if err := s.st.Save(ctx, doc); err != nil {
		return errorResult(fmt.Sprintf("export produced but saving failed: %v", err)), nil
	}
	return textResult(map[string]any{
		"id":      doc.Metadata.ID,
		"title":   doc.Metadata.Title,
		"steps":   doc.Metadata.StepCount,
		"prompts": doc.Metadata.PromptCount,
	}), nil
}

func (s *Server) handleUpload(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id := request.GetString("id", "")
	if id == "" {
		return errorResult("id is required"), nil
	}
	doc, err := s.st.Get(ctx, id)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	var result uploader.UploadResult
	if request.GetBool("share", false) {
		result = s.client.CreateShareLink(ctx, doc)
	} else {
		result = s.client.Upload(ctx, doc)
	}
	if !result.OK {
		return errorResult(fmt.Sprintf("upload failed (%s): %s", result.Err.Code, result.Err.Message)), nil
	}
	return textResult(map[string]any{
		"id":        result.ID,
		"url":       result.URL,
		"short_url": result.ShortURL,
		"embed_url": result.EmbedURL,
	}), nil
}
