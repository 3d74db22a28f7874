// Package session persists per-session conversation windows in SQLite
// and serializes turns so one session never runs two turns at once.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/queryd/internal/memory"
)

// ErrSessionNotFound is returned when a requested session does not exist.
var ErrSessionNotFound = errors.New("session not found")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	messages         TEXT NOT NULL,
	pending_question TEXT NOT NULL DEFAULT '',
	updated_at       TEXT NOT NULL
);`

// Store persists conversation windows keyed by session id.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStore opens (and if needed creates) the SQLite database at path.
// Use ":memory:" for an ephemeral store.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing session store: %w", err)
	}

	return &Store{db: db, logger: logger.Named("sessions")}, nil
}

// Load returns the stored window for the session. ErrSessionNotFound is
// returned for unknown sessions.
func (s *Store) Load(ctx context.Context, sessionID string) ([]memory.Message, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT messages FROM sessions WHERE id = ?`, sessionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", sessionID, err)
	}

	var messages []memory.Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", sessionID, err)
	}
	return messages, nil
}

// Save upserts the session's window.
func (s *Store) Save(ctx context.Context, sessionID string, messages []memory.Message) error {
	raw, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", sessionID, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, messages, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET messages = excluded.messages, updated_at = excluded.updated_at`,
		sessionID, string(raw), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving session %s: %w", sessionID, err)
	}
	return nil
}

// SetPendingQuestion records a question awaiting clarification. An empty
// question clears the pending state.
func (s *Store) SetPendingQuestion(ctx context.Context, sessionID, question string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, messages, pending_question, updated_at) VALUES (?, '[]', ?, ?)
		 ON CONFLICT(id) DO UPDATE SET pending_question = excluded.pending_question, updated_at = excluded.updated_at`,
		sessionID, question, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving pending question for session %s: %w", sessionID, err)
	}
	return nil
}

// PendingQuestion returns the question awaiting clarification, or "" when
// the session has none. Unknown sessions have none.
func (s *Store) PendingQuestion(ctx context.Context, sessionID string) (string, error) {
	var question string
	err := s.db.QueryRowContext(ctx, `SELECT pending_question FROM sessions WHERE id = ?`, sessionID).Scan(&question)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading pending question for session %s: %w", sessionID, err)
	}
	return question, nil
}

// Delete removes a session. Deleting an unknown session is a no-op.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("deleting session %s: %w", sessionID, err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
