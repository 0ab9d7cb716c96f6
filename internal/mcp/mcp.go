// Package mcp exposes the recorder, exporter, and uploader to
// MCP-compatible AI coding assistants as tools and resources. This is
// the primary host-integration surface: the assistant runtime drives
// the session lifecycle through these tools while its own events flow
// into the recorder.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/buildlog-ai/buildlog/internal/exporter"
	"github.com/buildlog-ai/buildlog/internal/recorder"
	"github.com/buildlog-ai/buildlog/internal/store"
	"github.com/buildlog-ai/buildlog/internal/uploader"
)

// Server wraps the MCP server with the buildlog service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	rec       *recorder.Recorder
	exp       *exporter.Exporter
	client    *uploader.Client
	st        *store.Store
	defaults  recorder.StartOptions
	logger    *slog.Logger
}

// New creates and configures the MCP server with all tools and
// resources registered. defaults seed every started session; tool
// arguments override them per call.
func New(rec *recorder.Recorder, exp *exporter.Exporter, client *uploader.Client, st *store.Store, defaults recorder.StartOptions, logger *slog.Logger, version string) *Server {
	s := &Server{
		rec:      rec,
		exp:      exp,
		client:   client,
		st:       st,
		defaults: defaults,
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"buildlog",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio runs the server on stdin/stdout until the stream closes.
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcpServer)
}

func (s *Server) registerResources() {
	// buildlog://session/current — live snapshot of the active session.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"buildlog://session/current",
			"Current Session",
			mcplib.WithResourceDescription("Snapshot of the session currently being recorded"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleSessionCurrent,
	)

	// buildlog://saved — locally saved buildlogs.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"buildlog://saved",
			"Saved Buildlogs",
			mcplib.WithResourceDescription("Buildlog documents saved in the local store"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleSaved,
	)
}

func (s *Server) handleSessionCurrent(_ context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	doc, err := s.rec.Snapshot(nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: session snapshot: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal snapshot: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleSaved(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	entries, err := s.st.List(ctx, 50)
	if err != nil {
		return nil, fmt.Errorf("mcp: list saved: %w", err)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal saved list: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

func textResult(v any) *mcplib.CallToolResult {
	data, _ := json.MarshalIndent(v, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}
