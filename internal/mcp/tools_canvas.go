package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerCanvasTools() {
	// ── list_canvases ──────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("list_canvases",
		mcp.WithDescription("List all stored canvases, most recently updated first"),
	), s.handleListCanvases)

	// ── set_active_canvas ──────────────────────────────
	s.mcp.AddTool(mcp.NewTool("set_active_canvas",
		mcp.WithDescription("Set the active canvas for subsequent tool calls. Tools that accept canvasId default to this. The canvas is created if it does not exist."),
		mcp.WithString("canvasId",
			mcp.Description("ID of the canvas to make active"),
			mcp.Required(),
		),
	), s.handleSetActiveCanvas)

	// ── set_title ──────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("set_title",
		mcp.WithDescription("Rename a canvas"),
		mcp.WithString("title", mcp.Description("New title"), mcp.Required()),
		mcp.WithString("canvasId", mcp.Description("Canvas ID (optional, defaults to active canvas)")),
	), s.handleSetTitle)
}

func (s *Server) handleListCanvases(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	records, err := s.canvases.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list canvases: %w", err)
	}
	return jsonResult(records)
}

func (s *Server) handleSetActiveCanvas(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	canvasID := req.GetString("canvasId", "")
	if canvasID == "" {
		return nil, fmt.Errorf("canvasId is required")
	}
	if _, err := s.canvases.Canvas(ctx, canvasID); err != nil {
		return nil, fmt.Errorf("open canvas %s: %w", canvasID, err)
	}
	s.mu.Lock()
	s.activeCanvasID = canvasID
	s.mu.Unlock()
	return textResult(fmt.Sprintf("Active canvas set to %s", canvasID)), nil
}

func (s *Server) handleSetTitle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title := req.GetString("title", "")
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}
	c, canvasID, err := s.canvasFor(ctx, req)
	if err != nil {
		return nil, err
	}
	c.SetTitle(title)
	s.emitCanvasChanged(ctx, canvasID)
	return textResult(fmt.Sprintf("Canvas %s renamed to %q", canvasID, title)), nil
}
