package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"canvas/internal/domain"
	"canvas/internal/render"
)

func (s *Server) registerLayoutTools() {
	// ── layout_canvas ──────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("layout_canvas",
		mcp.WithDescription("Auto-layout the whole canvas along its edges, then push overlapping nodes apart"),
		mcp.WithString("direction", mcp.Description("TB (top to bottom) or LR (left to right). Default LR.")),
		mcp.WithString("canvasId", mcp.Description("Canvas ID (optional, defaults to active canvas)")),
	), s.handleLayoutCanvas)

	// ── layout_group ───────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("layout_group",
		mcp.WithDescription("Auto-layout the children of one group inside its bounds"),
		mcp.WithString("groupId", mcp.Description("Group node ID"), mcp.Required()),
		mcp.WithString("direction", mcp.Description("TB or LR. Default LR.")),
		mcp.WithString("canvasId", mcp.Description("Canvas ID (optional, defaults to active canvas)")),
	), s.handleLayoutGroup)

	// ── group_nodes ────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("group_nodes",
		mcp.WithDescription("Put two or more nodes into a new group sized around them"),
		mcp.WithString("nodeIds", mcp.Description("Comma-separated node IDs"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Group title (optional)")),
		mcp.WithString("canvasId", mcp.Description("Canvas ID (optional, defaults to active canvas)")),
	), s.handleGroupNodes)

	// ── ungroup_node ───────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("ungroup_node",
		mcp.WithDescription("Dissolve a group. Its children keep their position on the canvas."),
		mcp.WithString("groupId", mcp.Description("Group node ID"), mcp.Required()),
		mcp.WithString("canvasId", mcp.Description("Canvas ID (optional, defaults to active canvas)")),
	), s.handleUngroupNode)

	// ── undo / redo ────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("undo",
		mcp.WithDescription("Undo the last change on the canvas"),
		mcp.WithString("canvasId", mcp.Description("Canvas ID (optional, defaults to active canvas)")),
	), s.handleUndo)
	s.mcp.AddTool(mcp.NewTool("redo",
		mcp.WithDescription("Redo the last undone change on the canvas"),
		mcp.WithString("canvasId", mcp.Description("Canvas ID (optional, defaults to active canvas)")),
	), s.handleRedo)

	// ── export_dot ─────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("export_dot",
		mcp.WithDescription("Export the canvas as a Graphviz DOT diagram, or as SVG"),
		mcp.WithString("direction", mcp.Description("TB or LR. Default TB.")),
		mcp.WithBoolean("detailed", mcp.Description("Include node types and entity ids in labels")),
		mcp.WithBoolean("svg", mcp.Description("Render to SVG instead of returning DOT")),
		mcp.WithString("canvasId", mcp.Description("Canvas ID (optional, defaults to active canvas)")),
	), s.handleExportDOT)
}

func (s *Server) handleLayoutCanvas(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dir, err := parseDirection(req.GetString("direction", ""), domain.DirectionLR)
	if err != nil {
		return nil, err
	}
	c, canvasID, err := s.canvasFor(ctx, req)
	if err != nil {
		return nil, err
	}
	report, err := c.OnLayout(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("layout: %w", err)
	}
	s.emitCanvasChanged(ctx, canvasID)
	return jsonResult(report)
}

func (s *Server) handleLayoutGroup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	groupID := req.GetString("groupId", "")
	if groupID == "" {
		return nil, fmt.Errorf("groupId is required")
	}
	dir, err := parseDirection(req.GetString("direction", ""), domain.DirectionLR)
	if err != nil {
		return nil, err
	}
	c, canvasID, err := s.canvasFor(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := c.OnLayoutWithGroup(ctx, groupID, dir); err != nil {
		return nil, fmt.Errorf("layout group: %w", err)
	}
	s.emitCanvasChanged(ctx, canvasID)
	return textResult(fmt.Sprintf("Group %s laid out", groupID)), nil
}

func (s *Server) handleGroupNodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ids := splitIDs(req.GetString("nodeIds", ""))
	if len(ids) < 2 {
		return nil, fmt.Errorf("at least two nodeIds are required")
	}
	c, canvasID, err := s.canvasFor(ctx, req)
	if err != nil {
		return nil, err
	}
	g, ok := c.GroupNodes(ids)
	if !ok {
		return nil, fmt.Errorf("nodes %v could not be grouped", ids)
	}
	if title := req.GetString("title", ""); title != "" {
		if err := c.SetNodeData(ctx, g.ID, domain.NodeDataPatch{Title: &title}); err != nil {
			return nil, fmt.Errorf("title group: %w", err)
		}
	}
	s.emitCanvasChanged(ctx, canvasID)
	return jsonResult(map[string]any{
		"id":     g.ID,
		"x":      g.Position.X,
		"y":      g.Position.Y,
		"width":  g.DeclaredSize().Width,
		"height": g.DeclaredSize().Height,
	})
}

func (s *Server) handleUngroupNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	groupID := req.GetString("groupId", "")
	if groupID == "" {
		return nil, fmt.Errorf("groupId is required")
	}
	c, canvasID, err := s.canvasFor(ctx, req)
	if err != nil {
		return nil, err
	}
	if !c.Ungroup(groupID) {
		return nil, fmt.Errorf("group %s not found", groupID)
	}
	s.emitCanvasChanged(ctx, canvasID)
	return textResult(fmt.Sprintf("Group %s dissolved", groupID)), nil
}

func (s *Server) handleUndo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, canvasID, err := s.canvasFor(ctx, req)
	if err != nil {
		return nil, err
	}
	if !c.Undo() {
		return textResult("Nothing to undo"), nil
	}
	s.emitCanvasChanged(ctx, canvasID)
	return textResult("Undone"), nil
}

func (s *Server) handleRedo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, canvasID, err := s.canvasFor(ctx, req)
	if err != nil {
		return nil, err
	}
	if !c.Redo() {
		return textResult("Nothing to redo"), nil
	}
	s.emitCanvasChanged(ctx, canvasID)
	return textResult("Redone"), nil
}

func (s *Server) handleExportDOT(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dir, err := parseDirection(req.GetString("direction", ""), domain.DirectionTB)
	if err != nil {
		return nil, err
	}
	c, _, err := s.canvasFor(ctx, req)
	if err != nil {
		return nil, err
	}
	dot := render.ToDOT(c.Store().Document(), render.Options{
		Direction: dir,
		Detailed:  req.GetBool("detailed", false),
	})
	if !req.GetBool("svg", false) {
		return textResult(dot), nil
	}
	svg, err := render.RenderSVG(ctx, dot)
	if err != nil {
		return nil, fmt.Errorf("render svg: %w", err)
	}
	return textResult(string(svg)), nil
}
