// ABOUTME: SQLite implementation of the Store interface
// ABOUTME: Supports the pure-Go modernc driver and the cgo mattn driver with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Options configures NewSQLiteStoreWithOptions.
type Options struct {
	// Driver is "sqlite" (modernc.org/sqlite) or "sqlite3" (mattn/go-sqlite3). Defaults to "sqlite".
	Driver string
	Path   string
	// EncryptionKey seals bot tokens at rest. Empty disables sealing.
	EncryptionKey string
	Logger        *slog.Logger
}

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	sealer *TokenSealer
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path using the pure-Go driver.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithOptions(Options{Path: path})
}

// NewSQLiteStoreWithOptions creates a new SQLite store.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStoreWithOptions(opts Options) (*SQLiteStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	driver := opts.Driver
	if driver == "" {
		driver = "sqlite"
	}

	if opts.Path != ":memory:" {
		dir := filepath.Dir(opts.Path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, opts.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		sealer: NewTokenSealer(opts.EncryptionKey),
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	if !s.sealer.Enabled() {
		logger.Warn("database.encryption_key not set, bot tokens are stored unencrypted")
	}

	logger.Info("SQLite store initialized", "path", opts.Path, "driver", driver)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS workspaces (
			id          TEXT PRIMARY KEY,
			team_id     TEXT NOT NULL UNIQUE,
			team_name   TEXT NOT NULL DEFAULT '',
			bot_user_id TEXT NOT NULL DEFAULT '',
			bot_token   TEXT NOT NULL,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversation_records (
			id           TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			channel_id   TEXT NOT NULL,
			thread_ts    TEXT,
			message_ts   TEXT NOT NULL,
			user_id      TEXT NOT NULL DEFAULT '',
			message_text TEXT NOT NULL,
			kind         TEXT NOT NULL DEFAULT 'text',
			is_bot       INTEGER NOT NULL DEFAULT 0,
			response     TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL,
			FOREIGN KEY (workspace_id) REFERENCES workspaces(id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversation_records_message
			ON conversation_records(workspace_id, channel_id, message_ts);

		CREATE INDEX IF NOT EXISTS idx_conversation_records_channel_created
			ON conversation_records(workspace_id, channel_id, created_at);

		CREATE TABLE IF NOT EXISTS channel_analysis_results (
			id            TEXT PRIMARY KEY,
			workspace_id  TEXT NOT NULL,
			channel_id    TEXT NOT NULL,
			thread_ts     TEXT,
			analysis_text TEXT NOT NULL,
			message_count INTEGER NOT NULL,
			hours         INTEGER NOT NULL,
			image_url     TEXT,
			created_at    TEXT NOT NULL,
			FOREIGN KEY (workspace_id) REFERENCES workspaces(id)
		);

		CREATE INDEX IF NOT EXISTS idx_channel_analysis_results_channel
			ON channel_analysis_results(workspace_id, channel_id, created_at);

		CREATE TABLE IF NOT EXISTS jobs (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			payload      BLOB NOT NULL,
			status       TEXT NOT NULL,
			attempts     INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 1,
			last_error   TEXT NOT NULL DEFAULT '',
			run_after    TEXT NOT NULL,
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_jobs_status_run_after
			ON jobs(status, run_after);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies column additions to databases created by older builds.
func (s *SQLiteStore) runMigrations() error {
	migrations := []struct {
		table, column, ddl string
	}{
		{"conversation_records", "kind", "ALTER TABLE conversation_records ADD COLUMN kind TEXT NOT NULL DEFAULT 'text'"},
		{"channel_analysis_results", "thread_ts", "ALTER TABLE channel_analysis_results ADD COLUMN thread_ts TEXT"},
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(
			"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", m.table, m.column,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("checking %s.%s: %w", m.table, m.column, err)
		}
		if count > 0 {
			continue
		}
		if _, err := s.db.Exec(m.ddl); err != nil {
			return fmt.Errorf("adding %s.%s: %w", m.table, m.column, err)
		}
		s.logger.Info("applied migration", "table", m.table, "column", m.column)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isConstraintViolation checks if an error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString converts an empty string to NULL
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
