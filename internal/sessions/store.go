// Package sessions maps channel traffic onto agent sessions. The store
// persists session rows and the active-session pointer per scope key; the
// router computes the frozen v1 lookup key without touching storage.
package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/crosswire/crosswire/internal/infra"
)

// Session lifecycle states.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusArchived Status = "archived"
)

// Sentinel errors.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotOwner        = errors.New("session belongs to a different channel user")
	ErrNoActiveSession = errors.New("no active session")
)

// Session is one agent conversation context.
type Session struct {
	ID              string         `json:"id"`
	ChannelID       string         `json:"channel_id"`
	UserKey         string         `json:"user_key"`
	ConversationKey string         `json:"conversation_key,omitempty"`
	Scope           Scope          `json:"scope"`
	Title           string         `json:"title,omitempty"`
	Status          Status         `json:"status"`
	MessageCount    int64          `json:"message_count"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Store persists sessions in SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens the session database at path and creates its schema.
func NewStore(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init session schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id       TEXT PRIMARY KEY,
			channel_id       TEXT NOT NULL,
			user_key         TEXT NOT NULL,
			conversation_key TEXT NOT NULL DEFAULT '',
			scope            TEXT NOT NULL,
			title            TEXT,
			status           TEXT NOT NULL,
			message_count    INTEGER NOT NULL DEFAULT 0,
			metadata_json    TEXT,
			created_at_ms    INTEGER NOT NULL,
			updated_at_ms    INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_user
			ON sessions(channel_id, user_key, status);
		CREATE TABLE IF NOT EXISTS channel_sessions (
			channel_id        TEXT NOT NULL,
			user_key          TEXT NOT NULL,
			conversation_key  TEXT NOT NULL DEFAULT '',
			scope             TEXT NOT NULL,
			active_session_id TEXT,
			created_at_ms     INTEGER NOT NULL,
			updated_at_ms     INTEGER NOT NULL,
			PRIMARY KEY (channel_id, user_key, conversation_key)
		);
		CREATE TABLE IF NOT EXISTS session_history (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id    TEXT NOT NULL,
			action        TEXT NOT NULL,
			details       TEXT,
			created_at_ms INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_session_history ON session_history(session_id);
	`)
	return err
}

// CreateSession inserts a session and makes it active for its scope key
// in one transaction.
func (s *Store) CreateSession(ctx context.Context, key Key, title string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := infra.NowMS()
	sess := &Session{
		ID:              infra.NewSessionID(),
		ChannelID:       key.ChannelID,
		UserKey:         key.UserKey,
		ConversationKey: key.ConversationKey,
		Scope:           key.Scope,
		Title:           title,
		Status:          StatusActive,
		CreatedAt:       infra.TimeFromMS(now),
		UpdatedAt:       infra.TimeFromMS(now),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("create session tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, channel_id, user_key, conversation_key, scope,
			title, status, message_count, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		sess.ID, sess.ChannelID, sess.UserKey, sess.ConversationKey, string(sess.Scope),
		nullable(title), string(StatusActive), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO channel_sessions (channel_id, user_key, conversation_key, scope,
			active_session_id, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel_id, user_key, conversation_key) DO UPDATE SET
			scope = excluded.scope,
			active_session_id = excluded.active_session_id,
			updated_at_ms = excluded.updated_at_ms`,
		sess.ChannelID, sess.UserKey, sess.ConversationKey, string(sess.Scope),
		sess.ID, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("activate session: %w", err)
	}

	if err := appendHistory(ctx, tx, sess.ID, "created", title); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("create session commit: %w", err)
	}
	return sess, nil
}

// GetSession returns a session by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, channel_id, user_key, conversation_key, scope, title, status,
		       message_count, metadata_json, created_at_ms, updated_at_ms
		FROM sessions WHERE session_id = ?`, sessionID)
	return scanSession(row)
}

// GetActiveSession returns the active session for a scope key.
func (s *Store) GetActiveSession(ctx context.Context, key Key) (*Session, error) {
	var activeID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT active_session_id FROM channel_sessions
		WHERE channel_id = ? AND user_key = ? AND conversation_key = ?`,
		key.ChannelID, key.UserKey, key.ConversationKey,
	).Scan(&activeID)
	if err == sql.ErrNoRows || (err == nil && !activeID.Valid) {
		return nil, ErrNoActiveSession
	}
	if err != nil {
		return nil, fmt.Errorf("get active session: %w", err)
	}
	sess, err := s.GetSession(ctx, activeID.String)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, ErrNoActiveSession
	}
	return sess, err
}

// SwitchSession verifies ownership and atomically repoints the scope
// key's active session, logging both sides of the switch.
func (s *Store) SwitchSession(ctx context.Context, key Key, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if target.ChannelID != key.ChannelID || target.UserKey != key.UserKey {
		return ErrNotOwner
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("switch session tx: %w", err)
	}
	defer tx.Rollback()

	var previousID sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT active_session_id FROM channel_sessions
		WHERE channel_id = ? AND user_key = ? AND conversation_key = ?`,
		key.ChannelID, key.UserKey, key.ConversationKey,
	).Scan(&previousID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read active session: %w", err)
	}

	now := infra.NowMS()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO channel_sessions (channel_id, user_key, conversation_key, scope,
			active_session_id, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel_id, user_key, conversation_key) DO UPDATE SET
			active_session_id = excluded.active_session_id,
			updated_at_ms = excluded.updated_at_ms`,
		key.ChannelID, key.UserKey, key.ConversationKey, string(key.Scope), sessionID, now, now,
	)
	if err != nil {
		return fmt.Errorf("switch active session: %w", err)
	}

	if previousID.Valid && previousID.String != sessionID {
		if err := appendHistory(ctx, tx, previousID.String, "deactivated", ""); err != nil {
			return err
		}
	}
	if err := appendHistory(ctx, tx, sessionID, "activated", ""); err != nil {
		return err
	}
	return tx.Commit()
}

// ArchiveSession soft-deletes a session and clears it as active wherever
// it is the active pointer.
func (s *Store) ArchiveSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive session tx: %w", err)
	}
	defer tx.Rollback()

	now := infra.NowMS()
	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at_ms = ? WHERE session_id = ?`,
		string(StatusArchived), now, sessionID,
	)
	if err != nil {
		return fmt.Errorf("archive session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE channel_sessions SET active_session_id = NULL, updated_at_ms = ?
		 WHERE active_session_id = ?`, now, sessionID,
	)
	if err != nil {
		return fmt.Errorf("clear active pointer: %w", err)
	}
	if err := appendHistory(ctx, tx, sessionID, "archived", ""); err != nil {
		return err
	}
	return tx.Commit()
}

// ListSessions returns the most recent sessions for a channel user.
func (s *Store) ListSessions(ctx context.Context, channelID, userKey string, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, channel_id, user_key, conversation_key, scope, title, status,
		       message_count, metadata_json, created_at_ms, updated_at_ms
		FROM sessions WHERE channel_id = ? AND user_key = ? AND status != ?
		ORDER BY created_at_ms DESC LIMIT ?`,
		channelID, userKey, string(StatusArchived), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// IncrementMessageCount bumps the hot-path counter.
func (s *Store) IncrementMessageCount(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET message_count = message_count + 1, updated_at_ms = ?
		 WHERE session_id = ?`,
		infra.NowMS(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("increment message count: %w", err)
	}
	return nil
}

// History returns a session's lifecycle entries, oldest first.
func (s *Store) History(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT action FROM session_history WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session history: %w", err)
	}
	defer rows.Close()

	var actions []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func appendHistory(ctx context.Context, tx *sql.Tx, sessionID, action, details string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO session_history (session_id, action, details, created_at_ms) VALUES (?, ?, ?, ?)`,
		sessionID, action, details, infra.NowMS(),
	)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess         Session
		scope        string
		status       string
		title        sql.NullString
		metadataJSON sql.NullString
		createdMS    int64
		updatedMS    int64
	)
	err := row.Scan(&sess.ID, &sess.ChannelID, &sess.UserKey, &sess.ConversationKey,
		&scope, &title, &status, &sess.MessageCount, &metadataJSON, &createdMS, &updatedMS)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.Scope = Scope(scope)
	sess.Status = Status(status)
	sess.Title = title.String
	if metadataJSON.Valid {
		if err := json.Unmarshal([]byte(metadataJSON.String), &sess.Metadata); err != nil {
			return nil, fmt.Errorf("decode session metadata: %w", err)
		}
	}
	sess.CreatedAt = infra.TimeFromMS(createdMS)
	sess.UpdatedAt = infra.TimeFromMS(updatedMS)
	return &sess, nil
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
