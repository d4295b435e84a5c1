// Package store implements the gateway's durable state: message dedupe,
// sliding-window rate limiting, the metadata-only audit trail, channel
// configuration, and email polling cursors. Every store owns one SQLite
// database opened in WAL mode, creates its schema lazily, and serializes
// writes behind a single-writer mutex while readers use short transactions.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// openSQLite opens a SQLite database with WAL journaling and a busy
// timeout, then verifies the connection. Schema init failures at the
// callers are fatal by design.
func openSQLite(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// A single writer keeps SQLite happy under concurrency; readers share.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	return db, nil
}
