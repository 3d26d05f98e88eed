// internal/database/db.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNoRows is returned by single-row lookups that match nothing.
var ErrNoRows = sql.ErrNoRows

// Database wraps the SQLite database connection for one project
type Database struct {
	db   *sql.DB
	path string
}

// Open creates or opens a SQLite database at the given path
func Open(path string) (*Database, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, err
	}

	d := &Database{db: db, path: path}
	if err := d.init(); err != nil {
		db.Close()
		return nil, err
	}

	return d, nil
}

// init creates the database schema
func (d *Database) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		root_id TEXT,
		current_checkpoint_id TEXT,
		auto_checkpoint_enabled INTEGER NOT NULL DEFAULT 0,
		checkpoint_strategy TEXT NOT NULL DEFAULT 'manual',
		total_checkpoints INTEGER NOT NULL DEFAULT 0,
		updated_at_ns INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS checkpoints (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		parent_id TEXT,
		message_index INTEGER NOT NULL DEFAULT 0,
		timestamp_ns INTEGER NOT NULL,
		description TEXT,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		model_used TEXT,
		user_prompt TEXT,
		file_changes INTEGER NOT NULL DEFAULT 0,
		snapshot_size INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	CREATE TABLE IF NOT EXISTS file_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		checkpoint_id TEXT NOT NULL,
		file_path TEXT NOT NULL,
		content_hash TEXT,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		permissions INTEGER NOT NULL DEFAULT 0,
		size INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (checkpoint_id) REFERENCES checkpoints(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS blobs (
		hash TEXT PRIMARY KEY,
		ref_count INTEGER NOT NULL CHECK (ref_count > 0),
		size INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id, timestamp_ns);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_parent ON checkpoints(parent_id);
	CREATE INDEX IF NOT EXISTS idx_file_snapshots_checkpoint ON file_snapshots(checkpoint_id);
	CREATE INDEX IF NOT EXISTS idx_file_snapshots_hash ON file_snapshots(content_hash);
	`

	_, err := d.db.Exec(schema)
	return err
}

// Path returns the database file path
func (d *Database) Path() string {
	return d.path
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// WithTx runs fn inside a transaction. The transaction commits only if fn
// returns nil; any error rolls every statement back.
func (d *Database) WithTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	sqlTx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
		}
	}()

	if err = fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// SaveSetting saves or updates a setting
func (d *Database) SaveSetting(key, value string) error {
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)`, key, value, time.Now())
	return err
}

// GetSetting retrieves a setting by key
func (d *Database) GetSetting(key string) (string, error) {
	var value string
	err := d.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	return value, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
