package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/crosswire/crosswire/internal/infra"
)

// Sliding-window defaults.
const (
	DefaultRateWindow      = 60 * time.Second
	DefaultRateMaxRequests = 20

	// Rate events are retained for ten windows before GC.
	rateRetentionWindows = 10
)

// RateLimitStore implements a persisted sliding-window rate limiter keyed
// by (channel_id, user_key).
type RateLimitStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewRateLimitStore opens the rate-limit database at path.
func NewRateLimitStore(path string) (*RateLimitStore, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}

	s := &RateLimitStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init rate limit schema: %w", err)
	}
	return s, nil
}

func (s *RateLimitStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS rate_limit_events (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			channel_id   TEXT NOT NULL,
			user_key     TEXT NOT NULL,
			timestamp_ms INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_rate_events
			ON rate_limit_events(channel_id, user_key, timestamp_ms);
	`)
	return err
}

// CheckRateLimit counts events inside the sliding window and, only if the
// request is allowed, records a new event. Returns the decision and the
// count observed before this request.
func (s *RateLimitStore) CheckRateLimit(ctx context.Context, channelID, userKey string, window time.Duration, maxRequests int) (bool, int, error) {
	if window <= 0 {
		window = DefaultRateWindow
	}
	if maxRequests <= 0 {
		maxRequests = DefaultRateMaxRequests
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := infra.NowMS()
	cutoff := now - window.Milliseconds()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("rate limit tx: %w", err)
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rate_limit_events
		 WHERE channel_id = ? AND user_key = ? AND timestamp_ms > ?`,
		channelID, userKey, cutoff,
	).Scan(&count)
	if err != nil {
		return false, 0, fmt.Errorf("rate limit count: %w", err)
	}

	if count >= maxRequests {
		return false, count, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rate_limit_events (channel_id, user_key, timestamp_ms) VALUES (?, ?, ?)`,
		channelID, userKey, now,
	)
	if err != nil {
		return false, count, fmt.Errorf("rate limit insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, count, fmt.Errorf("rate limit commit: %w", err)
	}
	return true, count, nil
}

// CleanupOldEvents deletes events older than ten windows.
func (s *RateLimitStore) CleanupOldEvents(ctx context.Context, window time.Duration) (int64, error) {
	if window == 0 {
		window = DefaultRateWindow
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := infra.NowMS() - (window.Milliseconds() * rateRetentionWindows)
	res, err := s.db.ExecContext(ctx, `DELETE FROM rate_limit_events WHERE timestamp_ms < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("rate limit cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the underlying database.
func (s *RateLimitStore) Close() error {
	return s.db.Close()
}
