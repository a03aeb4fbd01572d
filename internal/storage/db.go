// Package storage persists canvas documents and their undo history.
//
// Three SQL backends share one schema: SQLite (the default, a single file
// under the data directory), Postgres and MySQL. MongoStore offers the same
// document surface on top of MongoDB.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	cerrors "canvas/internal/errors"
)

// Driver names a storage backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
	DriverMongo    Driver = "mongo"
)

// Config selects and addresses a backend. DSN, when set, is passed to the
// driver as-is; otherwise it is built from the individual fields.
type Config struct {
	Driver   Driver `toml:"driver"`
	DSN      string `toml:"dsn"`
	Path     string `toml:"path"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Database string `toml:"database"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	SSLMode  string `toml:"ssl_mode"`
}

// DB wraps a SQL connection and the dialect it speaks.
type DB struct {
	conn    *sql.DB
	dialect Driver
}

// New opens (or creates) the SQLite file at dbPath.
func New(dbPath string) (*DB, error) {
	return Open(context.Background(), Config{Driver: DriverSQLite, Path: dbPath})
}

// Open connects to the configured SQL backend and runs migrations.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	driverName, dsn, err := dataSource(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Driver == DriverSQLite || cfg.Driver == "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	conn, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.ErrCodeStorage, err, "open %s", driverName)
	}
	dialect := cfg.Driver
	if dialect == "" {
		dialect = DriverSQLite
	}
	if dialect == DriverSQLite {
		// SQLite only supports one writer; a single connection avoids SQLITE_BUSY
		conn.SetMaxOpenConns(1)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, cerrors.Wrap(cerrors.ErrCodeStorage, err, "connect %s", driverName)
	}

	db := &DB{conn: conn, dialect: dialect}
	if err := db.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (db *DB) Close() error { return db.conn.Close() }

// Conn returns the underlying connection.
func (db *DB) Conn() *sql.DB { return db.conn }

func (db *DB) Dialect() Driver { return db.dialect }

// rebind rewrites ? placeholders for dialects that number them.
func (db *DB) rebind(query string) string {
	if db.dialect != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// column types per dialect: key, long text, timestamp
func (db *DB) types() (key, text, ts string) {
	switch db.dialect {
	case DriverMySQL:
		return "VARCHAR(191)", "LONGTEXT", "DATETIME(6)"
	case DriverPostgres:
		return "TEXT", "TEXT", "TIMESTAMPTZ"
	default:
		return "TEXT", "TEXT", "DATETIME"
	}
}

func (db *DB) migrate(ctx context.Context) error {
	key, text, ts := db.types()
	migrations := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS canvases (
			id %[1]s PRIMARY KEY,
			title %[2]s NOT NULL,
			doc_json %[2]s NOT NULL,
			node_count INTEGER NOT NULL DEFAULT 0,
			edge_count INTEGER NOT NULL DEFAULT 0,
			version BIGINT NOT NULL DEFAULT 0,
			created_at %[3]s NOT NULL,
			updated_at %[3]s NOT NULL
		)`, key, text, ts),
		// Undo entries: one row per recorded state, linked to its parent
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS undo_nodes (
			id %[1]s PRIMARY KEY,
			canvas_id %[1]s NOT NULL,
			parent_id %[1]s,
			snapshot_json %[2]s NOT NULL,
			created_at %[3]s NOT NULL
		)`, key, text, ts),
		// Undo state: current position pointer per canvas
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS undo_state (
			canvas_id %[1]s PRIMARY KEY,
			current_node_id %[1]s NOT NULL
		)`, key),
		`CREATE INDEX idx_undo_nodes_canvas ON undo_nodes(canvas_id)`,
	}

	for _, m := range migrations {
		if _, err := db.conn.ExecContext(ctx, m); err != nil {
			// CREATE INDEX has no portable IF NOT EXISTS; a rerun finds it present
			if strings.HasPrefix(m, "CREATE INDEX") && isDuplicate(err) {
				continue
			}
			return fmt.Errorf("migration failed: %s: %w", firstLine(m), err)
		}
	}
	return nil
}

// ── helpers ──────────────────────────────────────────────────

// dataSource returns the database/sql driver name and DSN for cfg.
func dataSource(cfg Config) (string, string, error) {
	switch cfg.Driver {
	case DriverSQLite, "":
		if cfg.DSN != "" {
			return "sqlite", cfg.DSN, nil
		}
		if cfg.Path == "" {
			return "", "", cerrors.New(cerrors.ErrCodeInvalidConfig, "sqlite storage needs a path")
		}
		return "sqlite", cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", nil
	case DriverPostgres:
		if cfg.DSN != "" {
			return "postgres", cfg.DSN, nil
		}
		return "postgres", buildPostgresDSN(cfg), nil
	case DriverMySQL:
		if cfg.DSN != "" {
			return "mysql", cfg.DSN, nil
		}
		return "mysql", buildMySQLDSN(cfg), nil
	default:
		return "", "", cerrors.New(cerrors.ErrCodeInvalidConfig, "unsupported sql driver %q", cfg.Driver)
	}
}

// buildPostgresDSN constructs a Postgres connection string.
func buildPostgresDSN(cfg Config) string {
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, port, cfg.Username, cfg.Password, cfg.Database, sslMode,
	)
}

// buildMySQLDSN constructs a MySQL DSN.
func buildMySQLDSN(cfg Config) string {
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	// clientFoundRows makes an UPDATE that changes nothing still count as a match
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&clientFoundRows=true",
		cfg.Username, cfg.Password, cfg.Host, port, cfg.Database,
	)
	if cfg.SSLMode == "require" {
		dsn += "&tls=true"
	}
	return dsn
}

func isDuplicate(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate key name")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
