// Package sqlite implements the indexing repository on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Store is the SQLite-backed repository. The daemon is the only writer
// process-wide, so the store opens its own file and owns the schema.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path, applies pragmas, and ensures
// the schema exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer; a second connection would only contend on the write
	// lock inside our own process.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// WAL for concurrent external readers, busy_timeout so a slow reader
	// checkpoint does not fail a commit immediately.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping() error {
	return s.db.Ping()
}

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id                  TEXT PRIMARY KEY,
	session_id          TEXT NOT NULL,
	agent_id            TEXT NOT NULL DEFAULT '',
	parent_id           TEXT NOT NULL DEFAULT '',
	kind                TEXT NOT NULL,
	role                TEXT NOT NULL DEFAULT '',
	content             TEXT NOT NULL DEFAULT '',
	tool_name           TEXT NOT NULL DEFAULT '',
	tool_input          TEXT NOT NULL DEFAULT '',
	tool_result         TEXT NOT NULL DEFAULT '',
	raw_json            TEXT NOT NULL DEFAULT '',
	timestamp           TEXT NOT NULL DEFAULT '',
	estimated_timestamp INTEGER NOT NULL DEFAULT 0,
	line_number         INTEGER NOT NULL,
	input_tokens        INTEGER NOT NULL DEFAULT 0,
	output_tokens       INTEGER NOT NULL DEFAULT 0,
	cache_read_tokens   INTEGER NOT NULL DEFAULT 0,
	cache_create_tokens INTEGER NOT NULL DEFAULT 0,
	lines_added         INTEGER NOT NULL DEFAULT 0,
	lines_removed       INTEGER NOT NULL DEFAULT 0,
	files_changed       INTEGER NOT NULL DEFAULT 0,
	sentiment_score     REAL,
	sentiment_level     TEXT NOT NULL DEFAULT '',
	frustration_score   REAL,
	frustration_level   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_messages_session_line ON messages(session_id, line_number);
CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);

CREATE TABLE IF NOT EXISTS file_changes (
	session_id  TEXT NOT NULL,
	file_path   TEXT NOT NULL,
	action      TEXT NOT NULL,
	tool_name   TEXT NOT NULL DEFAULT '',
	agent_id    TEXT NOT NULL DEFAULT '',
	hash_before TEXT NOT NULL DEFAULT '',
	hash_after  TEXT NOT NULL DEFAULT '',
	timestamp   TEXT NOT NULL DEFAULT '',
	line_number INTEGER NOT NULL,
	UNIQUE(session_id, file_path, line_number)
);

CREATE TABLE IF NOT EXISTS latest_todos (
	session_id  TEXT PRIMARY KEY,
	message_id  TEXT NOT NULL DEFAULT '',
	todos_json  TEXT NOT NULL DEFAULT '',
	timestamp   TEXT NOT NULL DEFAULT '',
	line_number INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS native_tasks (
	id              TEXT PRIMARY KEY,
	session_id      TEXT NOT NULL,
	message_id      TEXT NOT NULL DEFAULT '',
	subject         TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT '',
	owner           TEXT NOT NULL DEFAULT '',
	active_form     TEXT NOT NULL DEFAULT '',
	blocks_json     TEXT NOT NULL DEFAULT '[]',
	blocked_by_json TEXT NOT NULL DEFAULT '[]',
	timestamp       TEXT NOT NULL DEFAULT '',
	line_number     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS task_events (
	session_id  TEXT NOT NULL,
	task_id     TEXT NOT NULL,
	phase       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	outcome     TEXT NOT NULL DEFAULT '',
	at          TEXT NOT NULL,
	line_number INTEGER NOT NULL,
	UNIQUE(session_id, task_id, phase, line_number)
);
CREATE INDEX IF NOT EXISTS idx_task_events_session ON task_events(session_id, at);

CREATE TABLE IF NOT EXISTS sentiment_samples (
	message_id        TEXT PRIMARY KEY,
	session_id        TEXT NOT NULL,
	sentiment_score   REAL NOT NULL,
	sentiment_level   TEXT NOT NULL DEFAULT '',
	frustration_score REAL,
	frustration_level TEXT NOT NULL DEFAULT '',
	signals_json      TEXT NOT NULL DEFAULT '[]',
	task_id           TEXT NOT NULL DEFAULT '',
	timestamp         TEXT NOT NULL DEFAULT '',
	line_number       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS latest_summaries (
	session_id   TEXT PRIMARY KEY,
	message_id   TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL DEFAULT '',
	raw_json     TEXT NOT NULL DEFAULT '',
	timestamp    TEXT NOT NULL DEFAULT '',
	line_number  INTEGER NOT NULL,
	compact_type TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS latest_compacts (
	session_id   TEXT PRIMARY KEY,
	message_id   TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL DEFAULT '',
	raw_json     TEXT NOT NULL DEFAULT '',
	timestamp    TEXT NOT NULL DEFAULT '',
	line_number  INTEGER NOT NULL,
	compact_type TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS validation_cache (
	session_id   TEXT NOT NULL,
	file_path    TEXT NOT NULL,
	file_hash    TEXT NOT NULL DEFAULT '',
	plugin       TEXT NOT NULL,
	hook         TEXT NOT NULL,
	directory    TEXT NOT NULL DEFAULT '',
	command_hash TEXT NOT NULL,
	line_number  INTEGER NOT NULL,
	UNIQUE(session_id, file_path, plugin, hook, command_hash)
);

CREATE TABLE IF NOT EXISTS session_file_cursors (
	file_path         TEXT PRIMARY KEY,
	session_id        TEXT NOT NULL,
	last_indexed_line INTEGER NOT NULL,
	last_indexed_at   TEXT NOT NULL DEFAULT ''
);
`

func (s *Store) createSchema() error {
	_, err := s.db.Exec(schema)
	return err
}

// execer abstracts *sql.DB and *sql.Tx so every upsert can run standalone
// or inside a batch transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
