// Package sqlite implements the store contract on a local SQLite file
// (standalone mode). Schema is created on open; tests use an in-memory DSN.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/omnidesk-io/omnidesk/internal/store"
)

// timeFormat is fixed width with the full nanosecond fraction so stored
// TEXT timestamps sort lexicographically; RFC3339Nano trims trailing zeros,
// which breaks ORDER BY and MAX over the column.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime normalizes to UTC before formatting so every stored timestamp
// shares the "Z" suffix and the fixed-width ordering property holds.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// OpenDB creates (or opens) the SQLite database at path and ensures the
// schema exists. Use ":memory:" for tests.
func OpenDB(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc's driver serializes writes; a single connection avoids
	// table-lock errors under concurrent use.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return db, nil
}

// NewStores opens path and bundles all SQLite-backed repositories.
func NewStores(path string) (*store.Stores, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	return store.NewStores(
		NewClientStore(db),
		NewMessageStore(db),
		NewAgentStore(db),
		NewWorkflowStore(db),
		NewOpportunityStore(db),
		db.Close,
	), nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS clients (
		id              TEXT PRIMARY KEY,
		channel         TEXT NOT NULL,
		native_id       TEXT NOT NULL,
		name            TEXT NOT NULL DEFAULT '',
		agent_id        TEXT,
		status          TEXT NOT NULL DEFAULT 'new',
		last_message_at TEXT NOT NULL,
		assigned_at     TEXT,
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS clients_channel_native_id
		ON clients (channel, native_id);

	CREATE TABLE IF NOT EXISTS client_tags (
		client_id TEXT NOT NULL,
		tag       TEXT NOT NULL,
		PRIMARY KEY (client_id, tag)
	);

	CREATE TABLE IF NOT EXISTS client_status_history (
		id          TEXT PRIMARY KEY,
		client_id   TEXT NOT NULL,
		from_status TEXT NOT NULL,
		to_status   TEXT NOT NULL,
		changed_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id          TEXT PRIMARY KEY,
		client_id   TEXT,
		direction   TEXT NOT NULL,
		kind        TEXT NOT NULL DEFAULT 'text',
		content     TEXT NOT NULL DEFAULT '',
		media_path  TEXT NOT NULL DEFAULT '',
		channel     TEXT NOT NULL,
		external_id TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL DEFAULT 'sent',
		created_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS messages_client_created
		ON messages (client_id, created_at);
	CREATE INDEX IF NOT EXISTS messages_channel_external
		ON messages (channel, external_id);

	CREATE TABLE IF NOT EXISTS agents (
		id     TEXT PRIMARY KEY,
		name   TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		role   TEXT NOT NULL DEFAULT 'agent'
	);

	CREATE TABLE IF NOT EXISTS workflows (
		id     TEXT PRIMARY KEY,
		name   TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS triggers (
		id          TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		type        TEXT NOT NULL,
		config      TEXT
	);

	CREATE TABLE IF NOT EXISTS actions (
		id          TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		type        TEXT NOT NULL,
		idx         INTEGER NOT NULL DEFAULT 0,
		config      TEXT
	);

	CREATE TABLE IF NOT EXISTS opportunities (
		id         TEXT PRIMARY KEY,
		client_id  TEXT NOT NULL,
		stage_id   TEXT NOT NULL,
		title      TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);`

	_, err := db.Exec(schema)
	return err
}
