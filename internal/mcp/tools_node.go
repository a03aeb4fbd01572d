package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"canvas/internal/domain"
	"canvas/internal/service"
)

func (s *Server) registerNodeTools() {
	// ── add_node ───────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("add_node",
		mcp.WithDescription("Add a node to the canvas. A node for the same type and entityId is reused. Position is auto-calculated if not provided."),
		mcp.WithString("type",
			mcp.Description("Node type: document, resource, skill, skillResponse, toolResponse, codeArtifact, website, memo, image"),
			mcp.Required(),
		),
		mcp.WithString("title", mcp.Description("Node title")),
		mcp.WithString("entityId", mcp.Description("ID of the entity the node represents")),
		mcp.WithString("contentPreview", mcp.Description("Short preview text")),
		mcp.WithString("metadata", mcp.Description("JSON object of extra metadata (optional)")),
		mcp.WithString("connectTo",
			mcp.Description(`JSON array of source nodes to connect from, e.g. [{"type":"document","entityId":"d-1"}]`),
		),
		mcp.WithNumber("x", mcp.Description("X position (optional, auto-placed if omitted)")),
		mcp.WithNumber("y", mcp.Description("Y position (optional, auto-placed if omitted)")),
		mcp.WithBoolean("preview", mcp.Description("Open the node in the preview panel")),
		mcp.WithString("canvasId", mcp.Description("Canvas ID (optional, defaults to active canvas)")),
	), s.handleAddNode)

	// ── set_node_data ──────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("set_node_data",
		mcp.WithDescription("Update a node's title, preview or metadata. Address it by nodeId, or by type and entityId. Metadata is merged."),
		mcp.WithString("nodeId", mcp.Description("Node ID")),
		mcp.WithString("type", mcp.Description("Node type, used with entityId")),
		mcp.WithString("entityId", mcp.Description("Entity ID, used with type")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("contentPreview", mcp.Description("New preview text")),
		mcp.WithString("metadata", mcp.Description("JSON object merged into metadata")),
		mcp.WithString("canvasId", mcp.Description("Canvas ID (optional, defaults to active canvas)")),
	), s.handleSetNodeData)

	// ── list_nodes ─────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("list_nodes",
		mcp.WithDescription("List the nodes of a canvas, optionally filtered by type"),
		mcp.WithString("type", mcp.Description("Filter by node type (optional)")),
		mcp.WithString("canvasId", mcp.Description("Canvas ID (optional, defaults to active canvas)")),
	), s.handleListNodes)

	// ── connect_nodes ──────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("connect_nodes",
		mcp.WithDescription("Connect two nodes with an edge. Existing connections are reused."),
		mcp.WithString("source", mcp.Description("Source node ID"), mcp.Required()),
		mcp.WithString("target", mcp.Description("Target node ID"), mcp.Required()),
		mcp.WithString("canvasId", mcp.Description("Canvas ID (optional, defaults to active canvas)")),
	), s.handleConnectNodes)

	// ── delete_node (destructive) ──────────────────────
	s.mcp.AddTool(mcp.NewTool("delete_node",
		mcp.WithDescription("DESTRUCTIVE: Delete a node and its edges. Children of a deleted group are kept in place. May require approval."),
		mcp.WithString("nodeId", mcp.Description("Node ID to delete"), mcp.Required()),
		mcp.WithString("canvasId", mcp.Description("Canvas ID (optional, defaults to active canvas)")),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleDeleteNode)
}

// ── Handlers ───────────────────────────────────────────────

func (s *Server) handleAddNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	nodeType := domain.NodeType(req.GetString("type", ""))
	if nodeType == "" {
		return nil, fmt.Errorf("type is required")
	}
	if nodeType == domain.NodeTypeGroup {
		return nil, fmt.Errorf("groups are created with group_nodes")
	}

	data := domain.NodeData{
		Title:          req.GetString("title", ""),
		EntityID:       req.GetString("entityId", ""),
		ContentPreview: req.GetString("contentPreview", ""),
	}
	if err := parseJSON(req.GetString("metadata", ""), &data.Metadata); err != nil {
		return nil, fmt.Errorf("metadata must be a JSON object: %w", err)
	}
	var connectTo []domain.NodeFilter
	if err := parseJSON(req.GetString("connectTo", ""), &connectTo); err != nil {
		return nil, fmt.Errorf("connectTo must be a JSON array: %w", err)
	}

	c, canvasID, err := s.canvasFor(ctx, req)
	if err != nil {
		return nil, err
	}
	nodeID := "node-" + uuid.NewString()
	pos, err := c.AddNode(ctx, service.NodeSpec{
		ID:       nodeID,
		Type:     nodeType,
		Data:     &data,
		Position: optionalPosition(args),
	}, service.AddNodeOptions{
		ConnectTo: connectTo,
		Preview:   req.GetBool("preview", false),
	})
	if err != nil {
		return nil, fmt.Errorf("add node: %w", err)
	}

	// an existing node for the same entity wins over the generated id
	if n, ok := domain.FindByFilter(c.Store().Nodes(), domain.NodeFilter{Type: nodeType, EntityID: data.EntityID}); ok {
		nodeID = n.ID
	}
	result := map[string]any{"id": nodeID, "x": pos.X, "y": pos.Y}
	s.emitCanvasChanged(ctx, canvasID)
	return jsonResult(result)
}

func (s *Server) handleSetNodeData(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	var patch domain.NodeDataPatch
	for key, dst := range map[string]**string{
		"title":          &patch.Title,
		"contentPreview": &patch.ContentPreview,
	} {
		if v, ok := args[key].(string); ok {
			*dst = &v
		}
	}
	if err := parseJSON(req.GetString("metadata", ""), &patch.Metadata); err != nil {
		return nil, fmt.Errorf("metadata must be a JSON object: %w", err)
	}

	c, canvasID, err := s.canvasFor(ctx, req)
	if err != nil {
		return nil, err
	}
	if nodeID := req.GetString("nodeId", ""); nodeID != "" {
		err = c.SetNodeData(ctx, nodeID, patch)
	} else {
		f := domain.NodeFilter{
			Type:     domain.NodeType(req.GetString("type", "")),
			EntityID: req.GetString("entityId", ""),
		}
		if f.Type == "" || f.EntityID == "" {
			return nil, fmt.Errorf("nodeId, or type and entityId, are required")
		}
		err = c.SetNodeDataByEntity(ctx, f, patch)
	}
	if err != nil {
		return nil, fmt.Errorf("set node data: %w", err)
	}
	s.emitCanvasChanged(ctx, canvasID)
	return textResult("Node updated"), nil
}

func (s *Server) handleListNodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, _, err := s.canvasFor(ctx, req)
	if err != nil {
		return nil, err
	}
	filter := domain.NodeType(req.GetString("type", ""))
	summaries := []nodeSummary{}
	for _, n := range c.Store().Nodes() {
		if filter != "" && n.Type != filter {
			continue
		}
		summaries = append(summaries, summarizeNode(n))
	}
	return jsonResult(summaries)
}

func (s *Server) handleConnectNodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source := req.GetString("source", "")
	target := req.GetString("target", "")
	if source == "" || target == "" {
		return nil, fmt.Errorf("source and target are required")
	}
	c, canvasID, err := s.canvasFor(ctx, req)
	if err != nil {
		return nil, err
	}
	e, err := c.OnConnect(ctx, source, target)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	s.emitCanvasChanged(ctx, canvasID)
	return jsonResult(map[string]string{"id": e.ID, "source": e.Source, "target": e.Target})
}

func (s *Server) handleDeleteNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nodeID := req.GetString("nodeId", "")
	if nodeID == "" {
		return nil, fmt.Errorf("nodeId is required")
	}
	c, canvasID, err := s.canvasFor(ctx, req)
	if err != nil {
		return nil, err
	}
	nodes := c.Store().Nodes()
	i := domain.FindNode(nodes, nodeID)
	if i < 0 {
		return nil, fmt.Errorf("node %s not found", nodeID)
	}

	desc := fmt.Sprintf("Delete %s node %s", nodes[i].Type, nodeID)
	if title := strings.TrimSpace(nodes[i].Data.Title); title != "" {
		desc += fmt.Sprintf(" (%q)", title)
	}
	if err := s.approval.Request(ctx, "delete_node", desc, nodeID); err != nil {
		s.logger.Info("delete not approved", "node", nodeID, "err", err)
		return textResult("Action rejected by user"), nil
	}

	if err := c.DeleteNode(ctx, nodeID); err != nil {
		return nil, fmt.Errorf("delete node: %w", err)
	}
	s.emitCanvasChanged(ctx, canvasID)
	return textResult(fmt.Sprintf("Node %s deleted", nodeID)), nil
}
