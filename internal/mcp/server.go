package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"canvas/internal/domain"
	"canvas/internal/service"
)

// CanvasProvider opens canvases by id. The app session manager implements
// it; a canvas that does not exist yet is created empty.
type CanvasProvider interface {
	Canvas(ctx context.Context, canvasID string) (*service.CanvasService, error)
	List(ctx context.Context) ([]domain.CanvasRecord, error)
}

// Server is the MCP server of the canvas engine. It exposes tools,
// resources and prompts so the skill pipeline and other agents can build
// canvases.
type Server struct {
	mcp      *server.MCPServer
	canvases CanvasProvider
	emitter  service.EventEmitter
	approval *ApprovalQueue
	logger   *log.Logger

	mu             sync.Mutex
	activeCanvasID string
}

// Deps holds everything the MCP server needs from the app layer.
type Deps struct {
	Canvases CanvasProvider
	Emitter  service.EventEmitter
	Logger   *log.Logger
	// RequireApproval gates destructive tools behind ApprovalQueue.
	RequireApproval bool
	// DefaultCanvas is active until set_active_canvas is called.
	DefaultCanvas string
}

// New creates and configures a new MCP server with all tools and resources.
func New(ctx context.Context, deps Deps) *Server {
	if deps.Emitter == nil {
		deps.Emitter = service.NopEmitter{}
	}
	if deps.Logger == nil {
		deps.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	s := &Server{
		canvases:       deps.Canvases,
		emitter:        deps.Emitter,
		approval:       NewApprovalQueue(ctx, deps.Emitter, !deps.RequireApproval),
		logger:         deps.Logger.WithPrefix("mcp"),
		activeCanvasID: deps.DefaultCanvas,
	}

	s.mcp = server.NewMCPServer(
		"canvas-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(true),
	)

	s.registerCanvasTools()
	s.registerNodeTools()
	s.registerLayoutTools()
	s.registerResources()
	s.registerPrompts()
	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	s.logger.Info("starting stdio server")
	return server.ServeStdio(s.mcp)
}

// Approvals exposes the queue so the HTTP layer can resolve requests.
func (s *Server) Approvals() *ApprovalQueue { return s.approval }

// ── Helpers ────────────────────────────────────────────────

// canvasFor returns the canvas named by the canvasId argument, falling back
// to the active canvas.
func (s *Server) canvasFor(ctx context.Context, req mcp.CallToolRequest) (*service.CanvasService, string, error) {
	id := req.GetString("canvasId", "")
	if id == "" {
		s.mu.Lock()
		id = s.activeCanvasID
		s.mu.Unlock()
	}
	if id == "" {
		return nil, "", fmt.Errorf("no canvasId provided and no active canvas set (use set_active_canvas first)")
	}
	c, err := s.canvases.Canvas(ctx, id)
	if err != nil {
		return nil, "", fmt.Errorf("open canvas %s: %w", id, err)
	}
	return c, id, nil
}

func (s *Server) emitCanvasChanged(ctx context.Context, canvasID string) {
	s.emitter.Emit(ctx, "mcp:canvas-changed", map[string]string{"canvasId": canvasID})
}

// textResult creates a simple text tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// jsonResult serializes v to JSON and wraps it in a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(string(data)), nil
}
