package cli

import (
	"context"
	"fmt"
	"os"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"canvas/internal/app"
	"canvas/internal/config"
	"canvas/internal/service"
	"canvas/internal/storage"
)

var (
	version string
	commit  string
	date    string
)

// SetVersion sets the version information displayed by --version. main
// calls it with values injected via ldflags.
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
}

// globalOpts are the flags shared by every command. Non-empty values win
// over the configuration file and the environment.
type globalOpts struct {
	verbose    bool
	configPath string
	driver     string
	dsn        string
	dbPath     string
}

// Execute runs the canvas CLI.
func Execute() error {
	return newRootCmd().ExecuteContext(context.Background())
}

func newRootCmd() *cobra.Command {
	var opts globalOpts

	root := &cobra.Command{
		Use:          "canvas",
		Short:        "Canvas graph state and sync engine",
		Long:         `canvas keeps node graphs of research canvases, lays them out, and replicates them between collaborators and agents.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := charmlog.InfoLevel
			if opts.verbose {
				level = charmlog.DebugLevel
			}
			logger := newLogger(cmd.ErrOrStderr(), level)
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx := withLogger(cmd.Context(), logger)
			cmd.SetContext(withConfig(ctx, cfg))
			return nil
		},
	}

	root.SetVersionTemplate(fmt.Sprintf("canvas %s\ncommit: %s\nbuilt: %s\n", version, commit, date))
	flags := root.PersistentFlags()
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose logging")
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (default "+config.DefaultPath()+")")
	flags.StringVar(&opts.driver, "driver", "", "storage driver: sqlite, postgres, mysql or mongo")
	flags.StringVar(&opts.dsn, "dsn", "", "storage connection string")
	flags.StringVar(&opts.dbPath, "db", "", "sqlite database path")

	root.AddCommand(newServeCmd())
	root.AddCommand(newMCPCmd())
	root.AddCommand(newExportCmd())
	root.AddCommand(newLayoutCmd())
	root.AddCommand(newInspectCmd())
	root.AddCommand(newImportCmd())
	return root
}

func loadConfig(opts globalOpts) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if opts.driver != "" {
		cfg.Storage.Driver = storage.Driver(opts.driver)
	}
	if opts.dsn != "" {
		cfg.Storage.DSN = opts.dsn
	}
	if opts.dbPath != "" {
		cfg.Storage.Driver = storage.DriverSQLite
		cfg.Storage.Path = opts.dbPath
	}
	return cfg, cfg.Validate()
}

// openApp opens the configured storage and a session manager over it.
func openApp(ctx context.Context, cfg config.Config, src app.DocumentSource, emitter service.EventEmitter) (*app.App, *storage.HistoryStore, error) {
	logger := loggerFromContext(ctx)
	docs, history, err := storage.OpenStores(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	logger.Debug("storage ready", "driver", cfg.Storage.Driver)
	a := app.New(ctx, app.Options{
		Config:    cfg,
		Documents: docs,
		History:   history,
		Source:    src,
		Emitter:   emitter,
		Logger:    logger,
	})
	return a, history, nil
}

// historyPruner hides a nil store behind a nil interface.
func historyPruner(h *storage.HistoryStore) service.HistoryPruner {
	if h == nil {
		return nil
	}
	return h
}

// closeApp saves and closes a, reporting failures on stderr.
func closeApp(ctx context.Context, a *app.App) {
	if err := a.Close(context.WithoutCancel(ctx)); err != nil {
		loggerFromContext(ctx).Error("close", "err", err)
		printError(os.Stderr, "saving canvases failed: %v", err)
	}
}
