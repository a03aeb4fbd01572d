package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"canvas/internal/app"
	"canvas/internal/collab"
	"canvas/internal/config"
	mcpserver "canvas/internal/mcp"
	"canvas/internal/service"
)

type serveOpts struct {
	listen    string
	token     string
	redis     string
	importDir string
	stdioMCP  bool
}

// serverEvents are forwarded to websocket peers as status frames. Store
// changes are not: peers already receive the documents themselves.
var serverEvents = []string{
	mcpserver.EventApprovalRequired,
	mcpserver.EventApprovalDismissed,
	service.EventCheckpoint,
	service.EventHistoryPruned,
	service.EventImported,
	"mcp:canvas-changed",
}

func newServeCmd() *cobra.Command {
	var opts serveOpts
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the collaboration server",
		Long: `Serve canvases to websocket peers. Every canvas is a room: peers receive
the current document on join and every update afterwards. Canvases are
loaded from storage on first use and checkpointed on a schedule.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFromContext(cmd.Context())
			if opts.listen != "" {
				cfg.Collab.Listen = opts.listen
			}
			if opts.token != "" {
				cfg.Collab.Token = opts.token
			}
			if opts.redis != "" {
				cfg.Collab.RedisAddr = opts.redis
			}
			if opts.importDir != "" {
				cfg.Maintenance.ImportDir = opts.importDir
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, opts.stdioMCP)
		},
	}
	cmd.Flags().StringVarP(&opts.listen, "listen", "l", "", "listen address (default from config)")
	cmd.Flags().StringVar(&opts.token, "token", "", "shared secret peers must present")
	cmd.Flags().StringVar(&opts.redis, "redis", "", "Redis address for cross-instance fan-out")
	cmd.Flags().StringVar(&opts.importDir, "import-dir", "", "directory watched for <canvasId>.json imports")
	cmd.Flags().BoolVar(&opts.stdioMCP, "mcp", false, "also serve MCP on stdin/stdout")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, stdioMCP bool) error {
	logger := loggerFromContext(ctx)

	var relay *collab.RedisRelay
	hubOpts := collab.HubOptions{Logger: logger}
	if cfg.Collab.RedisAddr != "" {
		relay = collab.NewRedisRelay(collab.RedisRelayOptions{
			Addr:    cfg.Collab.RedisAddr,
			Channel: cfg.Collab.RedisChannel,
			Logger:  logger,
		})
		defer relay.Close()
		if err := relay.Ping(ctx); err != nil {
			return err
		}
		hubOpts.Relay = relay
	}
	hub := collab.NewHub(hubOpts)
	emitter := collab.Emitter{Hub: hub, Events: serverEvents}

	a, history, err := openApp(ctx, cfg, app.HubSource{Hub: hub}, emitter)
	if err != nil {
		return err
	}
	defer closeApp(ctx, a)

	agent := a.NewMCP(ctx)
	srv := collab.NewServer(hub, collab.ServerOptions{
		Token:     cfg.Collab.Token,
		Open:      a.Open,
		Canvases:  a,
		Approvals: agent.Approvals(),
		Logger:    logger,
	})

	maint := service.NewMaintenanceService(service.MaintenanceConfig{
		PruneSchedule:      cfg.Maintenance.PruneSchedule,
		CheckpointSchedule: cfg.Maintenance.CheckpointSchedule,
		HistoryLimit:       cfg.Maintenance.HistoryLimit,
		ImportDir:          cfg.Maintenance.ImportDir,
	}, historyPruner(history), a.Checkpoint, a.Import, emitter, logger)

	if err := maint.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Collab.Listen) })
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx, hub) })
	}
	g.Go(func() error {
		<-gctx.Done()
		maint.Stop()
		return nil
	})

	if stdioMCP {
		// stdio ends when the client closes stdin; the server keeps running
		go func() {
			if err := agent.ServeStdio(); err != nil {
				logger.Warn("mcp stdio stopped", "err", err)
			}
		}()
	}

	printInfo(os.Stderr, "collaboration server on %s", StyleValue.Render(cfg.Collab.Listen))
	if err := g.Wait(); err != nil {
		return err
	}
	printSuccess(os.Stderr, "server stopped")
	return nil
}
