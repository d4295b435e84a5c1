package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/crosswire/crosswire/internal/infra"
)

// DefaultDedupeTTL is how long a message id is remembered.
const DefaultDedupeTTL = 24 * time.Hour

// DedupeStore persists (message_id, channel_id) pairs so redelivered
// webhooks and poller replays are dropped exactly once per pair.
type DedupeStore struct {
	db *sql.DB
	mu sync.Mutex

	stmtUpsert *sql.Stmt
}

// NewDedupeStore opens the dedupe database at path and creates its schema.
func NewDedupeStore(path string) (*DedupeStore, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}

	s := &DedupeStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init dedupe schema: %w", err)
	}
	return s, nil
}

func (s *DedupeStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS message_dedupe (
			message_id    TEXT NOT NULL,
			channel_id    TEXT NOT NULL,
			first_seen_ms INTEGER NOT NULL,
			last_seen_ms  INTEGER NOT NULL,
			count         INTEGER NOT NULL,
			PRIMARY KEY (message_id, channel_id)
		);
		CREATE INDEX IF NOT EXISTS idx_dedupe_last_seen ON message_dedupe(last_seen_ms);
	`)
	if err != nil {
		return err
	}

	s.stmtUpsert, err = s.db.Prepare(`
		INSERT INTO message_dedupe (message_id, channel_id, first_seen_ms, last_seen_ms, count)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(message_id, channel_id) DO UPDATE SET
			count = count + 1,
			last_seen_ms = excluded.last_seen_ms
		RETURNING count
	`)
	return err
}

// IsDuplicate atomically records the pair and reports whether it was seen
// before. A conflict on the primary key is the dedupe signal, not an error.
func (s *DedupeStore) IsDuplicate(ctx context.Context, messageID, channelID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := infra.NowMS()
	var count int64
	if err := s.stmtUpsert.QueryRowContext(ctx, messageID, channelID, now, now).Scan(&count); err != nil {
		return false, fmt.Errorf("dedupe upsert: %w", err)
	}
	return count > 1, nil
}

// SeenCount returns how many times the pair has been observed, zero if never.
func (s *DedupeStore) SeenCount(ctx context.Context, messageID, channelID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count FROM message_dedupe WHERE message_id = ? AND channel_id = ?`,
		messageID, channelID,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

// CleanupOldEntries removes rows last seen before now-ttl and returns the
// number of rows deleted.
func (s *DedupeStore) CleanupOldEntries(ctx context.Context, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := infra.NowMS() - ttl.Milliseconds()
	res, err := s.db.ExecContext(ctx, `DELETE FROM message_dedupe WHERE last_seen_ms < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("dedupe cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the underlying database.
func (s *DedupeStore) Close() error {
	if s.stmtUpsert != nil {
		s.stmtUpsert.Close()
	}
	return s.db.Close()
}
