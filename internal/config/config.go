// Package config loads the canvas server configuration.
//
// Values come from three layers, later ones winning: built-in defaults, a
// TOML file, and CANVAS_* environment variables. Command-line flags are
// applied on top by the cli package.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	cerrors "canvas/internal/errors"
	"canvas/internal/storage"
)

const appName = "canvas"

type Config struct {
	Sync        SyncConfig        `toml:"sync"`
	Storage     storage.Config    `toml:"storage"`
	Collab      CollabConfig      `toml:"collab"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
	Layout      LayoutConfig      `toml:"layout"`
	MCP         MCPConfig         `toml:"mcp"`
}

type SyncConfig struct {
	// Throttle is the minimum spacing between two replication pushes.
	Throttle        time.Duration `toml:"throttle"`
	HistoryWindow   time.Duration `toml:"history_window"`
	HistoryCapacity int           `toml:"history_capacity"`
}

type CollabConfig struct {
	// Listen is the address the collaboration server binds, e.g. ":7420".
	Listen string `toml:"listen"`
	// Token is the shared secret clients present. Empty disables auth.
	Token string `toml:"token"`
	// URL of a remote collaboration server. When set, sessions replicate
	// through it instead of an in-process document.
	URL string `toml:"url"`
	// RedisAddr enables cross-instance fan-out through Redis pub/sub.
	RedisAddr    string `toml:"redis_addr"`
	RedisChannel string `toml:"redis_channel"`
}

type MaintenanceConfig struct {
	PruneSchedule      string `toml:"prune_schedule"`
	CheckpointSchedule string `toml:"checkpoint_schedule"`
	HistoryLimit       int    `toml:"history_limit"`
	ImportDir          string `toml:"import_dir"`
}

type LayoutConfig struct {
	SnapThreshold  float64 `toml:"snap_threshold"`
	OverlapPadding float64 `toml:"overlap_padding"`
	AutoLayout     bool    `toml:"auto_layout"`
}

type MCPConfig struct {
	RequireApproval bool   `toml:"require_approval"`
	DefaultCanvas   string `toml:"default_canvas"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		Sync: SyncConfig{
			Throttle:        500 * time.Millisecond,
			HistoryWindow:   500 * time.Millisecond,
			HistoryCapacity: 100,
		},
		Storage: storage.Config{
			Driver: storage.DriverSQLite,
			Path:   filepath.Join(DataDir(), appName+".db"),
		},
		Collab: CollabConfig{
			Listen:       "127.0.0.1:7420",
			RedisChannel: "canvas:updates",
		},
		Maintenance: MaintenanceConfig{
			PruneSchedule:      "@hourly",
			CheckpointSchedule: "@every 1m",
			HistoryLimit:       100,
		},
		Layout: LayoutConfig{
			SnapThreshold:  10,
			OverlapPadding: 20,
		},
		MCP: MCPConfig{DefaultCanvas: "default"},
	}
}

// Load reads path over the defaults and then applies the environment. An
// empty path means the default location, which may be missing.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, cerrors.Wrap(cerrors.ErrCodeInvalidConfig, err, "read config %s", path)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CANVAS_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"CANVAS_STORAGE_DRIVER":   (*string)(&c.Storage.Driver),
		"CANVAS_STORAGE_DSN":      &c.Storage.DSN,
		"CANVAS_STORAGE_PATH":     &c.Storage.Path,
		"CANVAS_COLLAB_LISTEN":    &c.Collab.Listen,
		"CANVAS_COLLAB_TOKEN":     &c.Collab.Token,
		"CANVAS_COLLAB_URL":       &c.Collab.URL,
		"CANVAS_REDIS_ADDR":       &c.Collab.RedisAddr,
		"CANVAS_IMPORT_DIR":       &c.Maintenance.ImportDir,
		"CANVAS_MCP_CANVAS":       &c.MCP.DefaultCanvas,
		"CANVAS_PRUNE_SCHEDULE":   &c.Maintenance.PruneSchedule,
		"CANVAS_CHECKPOINT_SCHED": &c.Maintenance.CheckpointSchedule,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	if v, ok := lookup("CANVAS_SYNC_THROTTLE"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cerrors.Wrap(cerrors.ErrCodeInvalidConfig, err, "CANVAS_SYNC_THROTTLE")
		}
		c.Sync.Throttle = d
	}
	if v, ok := lookup("CANVAS_REQUIRE_APPROVAL"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cerrors.Wrap(cerrors.ErrCodeInvalidConfig, err, "CANVAS_REQUIRE_APPROVAL")
		}
		c.MCP.RequireApproval = b
	}
	return nil
}

func (c Config) Validate() error {
	switch c.Storage.Driver {
	case storage.DriverSQLite, storage.DriverPostgres, storage.DriverMySQL, storage.DriverMongo:
	default:
		return cerrors.New(cerrors.ErrCodeInvalidConfig, "unknown storage driver %q", c.Storage.Driver)
	}
	if c.Sync.Throttle < 0 || c.Sync.HistoryWindow < 0 {
		return cerrors.New(cerrors.ErrCodeInvalidConfig, "sync durations must not be negative")
	}
	if c.Layout.SnapThreshold < 0 || c.Layout.OverlapPadding < 0 {
		return cerrors.New(cerrors.ErrCodeInvalidConfig, "layout distances must not be negative")
	}
	return nil
}

// ── Paths ────────────────────────────────────────────────────

// DefaultPath is ~/.config/canvas/config.toml, honoring XDG_CONFIG_HOME.
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, appName, "config.toml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", appName, "config.toml")
}

// DataDir is ~/.local/share/canvas, honoring XDG_DATA_HOME.
func DataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, appName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", appName)
}
