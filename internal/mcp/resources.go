package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const canvasURIPrefix = "canvas://canvas/"

func (s *Server) registerResources() {
	// ── canvas://canvases ──────────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		"canvas://canvases",
		"All Canvases",
		mcp.WithMIMEType("application/json"),
	), s.handleCanvasesResource)

	// ── canvas://canvas/{canvasId} ─────────────────────
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(
			canvasURIPrefix+"{canvasId}",
			"Canvas Document",
		),
		s.handleCanvasResource,
	)
}

func (s *Server) handleCanvasesResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	records, err := s.canvases.List(ctx)
	if err != nil {
		return nil, err
	}
	data, _ := json.MarshalIndent(records, "", "  ")
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "canvas://canvases",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleCanvasResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	canvasID := canvasIDFromURI(uri)
	if canvasID == "" {
		return nil, fmt.Errorf("could not extract canvasId from URI: %s", uri)
	}
	c, err := s.canvases.Canvas(ctx, canvasID)
	if err != nil {
		return nil, err
	}
	data, _ := json.MarshalIndent(c.Store().Document(), "", "  ")
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// canvasIDFromURI extracts the id from "canvas://canvas/{id}".
func canvasIDFromURI(uri string) string {
	id, ok := strings.CutPrefix(uri, canvasURIPrefix)
	if !ok || strings.Contains(id, "/") {
		return ""
	}
	return id
}
