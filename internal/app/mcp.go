package app

import (
	"context"

	mcpserver "canvas/internal/mcp"
)

// NewMCP builds the MCP server over the canvases of a.
func (a *App) NewMCP(ctx context.Context) *mcpserver.Server {
	return mcpserver.New(ctx, mcpserver.Deps{
		Canvases:        a,
		Emitter:         a.emitter,
		Logger:          a.logger,
		RequireApproval: a.cfg.MCP.RequireApproval,
		DefaultCanvas:   a.cfg.MCP.DefaultCanvas,
	})
}

// ServeMCP runs the MCP server on stdin/stdout until the client goes away,
// then saves every open canvas.
func (a *App) ServeMCP(ctx context.Context) error {
	srv := a.NewMCP(ctx)
	a.logger.Info("serving MCP on stdio", "canvas", a.cfg.MCP.DefaultCanvas)
	err := srv.ServeStdio()
	if cerr := a.Checkpoint(context.WithoutCancel(ctx)); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

var _ mcpserver.CanvasProvider = (*App)(nil)
