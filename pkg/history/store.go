// Package history persists a record of every completed tool execution so
// operators can inspect what ran, where, and how it exited.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Entry is one recorded execution.
type Entry struct {
	ID        int64     `json:"id"`
	RequestID string    `json:"request_id"`
	ToolName  string    `json:"tool_name"`
	Command   string    `json:"command"`
	Mode      string    `json:"mode"`
	ExitCode  int       `json:"exit_code"`
	Status    string    `json:"status"` // success, failure, error
	Error     string    `json:"error,omitempty"`
	Duration  int64     `json:"duration_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a SQLite-backed execution history.
type Store struct {
	db *sql.DB
}

// NewStore opens (and if necessary initializes) the history database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			command TEXT NOT NULL,
			mode TEXT NOT NULL,
			exit_code INTEGER NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_executions_tool ON executions(tool_name);
		CREATE INDEX IF NOT EXISTS idx_executions_created ON executions(created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Record appends an execution entry. History is advisory; failures are
// logged, never propagated into the request path.
func (s *Store) Record(entry Entry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(
		`INSERT INTO executions (request_id, tool_name, command, mode, exit_code, status, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID, entry.ToolName, entry.Command, entry.Mode,
		entry.ExitCode, entry.Status, entry.Error, entry.Duration, entry.CreatedAt,
	)
	if err != nil {
		log.Error().Err(err).Str("tool", entry.ToolName).Msg("Failed to record execution history")
	}
}

// Recent returns the most recent entries, newest first. A non-empty toolName
// filters by tool.
func (s *Store) Recent(toolName string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, request_id, tool_name, command, mode, exit_code, status, error, duration_ms, created_at
		FROM executions`
	args := []interface{}{}
	if toolName != "" {
		query += " WHERE tool_name = ?"
		args = append(args, toolName)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.ToolName, &e.Command, &e.Mode,
			&e.ExitCode, &e.Status, &e.Error, &e.Duration, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
