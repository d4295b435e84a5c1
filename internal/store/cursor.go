package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/crosswire/crosswire/internal/infra"
)

// FirstPollWindow is how far back the first email poll reaches when no
// cursor row exists yet.
const FirstPollWindow = 24 * time.Hour

// Cursor tracks per-channel email polling progress.
type Cursor struct {
	ChannelID     string    `json:"channel_id"`
	LastPollTime  time.Time `json:"last_poll_time"`
	LastMessageID string    `json:"last_message_id,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CursorStore persists email polling cursors.
type CursorStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewCursorStore opens the cursor database at path.
func NewCursorStore(path string) (*CursorStore, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}

	s := &CursorStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cursor schema: %w", err)
	}
	return s, nil
}

func (s *CursorStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS email_cursors (
			channel_id       TEXT PRIMARY KEY,
			last_poll_ms     INTEGER NOT NULL,
			last_message_id  TEXT,
			updated_at_ms    INTEGER NOT NULL
		);
	`)
	return err
}

// Get returns the cursor for a channel. When no row exists the cursor
// defaults to now minus the first-poll window.
func (s *CursorStore) Get(ctx context.Context, channelID string) (*Cursor, error) {
	var (
		lastPollMS    int64
		lastMessageID sql.NullString
		updatedMS     int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT last_poll_ms, last_message_id, updated_at_ms FROM email_cursors WHERE channel_id = ?`,
		channelID,
	).Scan(&lastPollMS, &lastMessageID, &updatedMS)
	if err == sql.ErrNoRows {
		return &Cursor{
			ChannelID:    channelID,
			LastPollTime: infra.UTCNow().Add(-FirstPollWindow),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cursor: %w", err)
	}
	return &Cursor{
		ChannelID:     channelID,
		LastPollTime:  infra.TimeFromMS(lastPollMS),
		LastMessageID: lastMessageID.String,
		UpdatedAt:     infra.TimeFromMS(updatedMS),
	}, nil
}

// Advance moves the cursor forward after a successful poll tick.
func (s *CursorStore) Advance(ctx context.Context, channelID string, pollTime time.Time, lastMessageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_cursors (channel_id, last_poll_ms, last_message_id, updated_at_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			last_poll_ms = excluded.last_poll_ms,
			last_message_id = excluded.last_message_id,
			updated_at_ms = excluded.updated_at_ms
	`, channelID, pollTime.UnixMilli(), nullString(lastMessageID), infra.NowMS())
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

// Close releases the underlying database.
func (s *CursorStore) Close() error {
	return s.db.Close()
}
