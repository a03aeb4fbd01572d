package cli

import (
	"context"

	"github.com/spf13/cobra"

	"canvas/internal/app"
	"canvas/internal/config"
	"canvas/internal/service"
)

func newMCPCmd() *cobra.Command {
	var (
		canvasID        string
		requireApproval bool
	)
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve canvas tools to an agent over stdio",
		Long: `Run a Model Context Protocol server on stdin/stdout. With collab.url set,
canvases are replicated through that collaboration server so edits show up
for every connected peer; otherwise they are edited straight in storage.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFromContext(cmd.Context())
			if canvasID != "" {
				cfg.MCP.DefaultCanvas = canvasID
			}
			if cmd.Flags().Changed("require-approval") {
				cfg.MCP.RequireApproval = requireApproval
			}
			return runMCP(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&canvasID, "canvas", "", "canvas active until set_active_canvas is called")
	cmd.Flags().BoolVar(&requireApproval, "require-approval", false, "hold destructive tools until a collaborator approves them")
	return cmd
}

func runMCP(ctx context.Context, cfg config.Config) error {
	logger := loggerFromContext(ctx)

	var src app.DocumentSource = app.OfflineSource{}
	if cfg.Collab.URL != "" {
		src = app.RemoteSource{URL: cfg.Collab.URL, Token: cfg.Collab.Token, Logger: logger}
		logger.Info("replicating through collaboration server", "url", cfg.Collab.URL)
	}
	a, _, err := openApp(ctx, cfg, src, nil)
	if err != nil {
		return err
	}
	defer closeApp(ctx, a)

	// only checkpoints; pruning and imports belong to the server
	maint := service.NewMaintenanceService(service.MaintenanceConfig{
		CheckpointSchedule: cfg.Maintenance.CheckpointSchedule,
	}, nil, a.Checkpoint, nil, nil, logger)
	if err := maint.Start(ctx); err != nil {
		return err
	}
	defer maint.Stop()

	return a.ServeMCP(ctx)
}
