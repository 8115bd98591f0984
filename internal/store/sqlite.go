// ABOUTME: SQLite implementation of the transcript Store using modernc.org/sqlite
// ABOUTME: Activities are stored as a JSON blob per conversation with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chatrelay/chatrelay/internal/activity"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS transcripts (
			conversation_id TEXT PRIMARY KEY,
			mode TEXT NOT NULL DEFAULT 'livechat',
			activities TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_transcripts_updated_at ON transcripts(updated_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// SaveTranscript inserts or replaces the transcript for a conversation.
func (s *SQLiteStore) SaveTranscript(ctx context.Context, t *Transcript) error {
	data, err := json.Marshal(t.Activities)
	if err != nil {
		return fmt.Errorf("marshaling activities: %w", err)
	}

	now := time.Now().UTC()
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transcripts (conversation_id, mode, activities, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			mode = excluded.mode,
			activities = excluded.activities,
			updated_at = excluded.updated_at
	`, t.ConversationID, t.Mode, string(data), createdAt, now)
	if err != nil {
		return fmt.Errorf("saving transcript: %w", err)
	}

	s.logger.Debug("transcript saved",
		"conversation_id", t.ConversationID,
		"activities", len(t.Activities))
	return nil
}

// GetTranscript returns the transcript for a conversation, or ErrNotFound.
func (s *SQLiteStore) GetTranscript(ctx context.Context, conversationID string) (*Transcript, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, mode, activities, created_at, updated_at
		FROM transcripts WHERE conversation_id = ?
	`, conversationID)
	return scanTranscript(row)
}

// ListTranscripts returns the most recently updated transcripts, newest first.
func (s *SQLiteStore) ListTranscripts(ctx context.Context, limit int) ([]*Transcript, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, mode, activities, created_at, updated_at
		FROM transcripts ORDER BY updated_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing transcripts: %w", err)
	}
	defer rows.Close()

	var out []*Transcript
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTranscript removes a transcript. Deleting an absent id is a no-op.
func (s *SQLiteStore) DeleteTranscript(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM transcripts WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("deleting transcript: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTranscript(row rowScanner) (*Transcript, error) {
	var t Transcript
	var data string
	err := row.Scan(&t.ConversationID, &t.Mode, &data, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning transcript: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &t.Activities); err != nil {
		return nil, fmt.Errorf("unmarshaling activities: %w", err)
	}
	if t.Activities == nil {
		t.Activities = []*activity.Activity{}
	}
	return &t, nil
}
