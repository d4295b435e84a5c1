package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/crosswire/crosswire/internal/infra"
)

// DefaultAuditRetention bounds how long audit rows are kept.
const DefaultAuditRetention = 30 * 24 * time.Hour

// AuditDirection marks a row as inbound or outbound.
type AuditDirection string

const (
	AuditInbound  AuditDirection = "inbound"
	AuditOutbound AuditDirection = "outbound"
)

// AuditEntry is one metadata-only record of a message passing the bus.
// Message bodies, attachments, and raw payloads are never stored here.
type AuditEntry struct {
	ID               int64          `json:"id"`
	MessageID        string         `json:"message_id"`
	Direction        AuditDirection `json:"direction"`
	ChannelID        string         `json:"channel_id"`
	UserKey          string         `json:"user_key"`
	ConversationKey  string         `json:"conversation_key"`
	SessionID        string         `json:"session_id,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
	ProcessingStatus string         `json:"processing_status"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// AuditStore persists the message audit trail.
type AuditStore struct {
	db *sql.DB
	mu sync.Mutex

	stmtInsert *sql.Stmt
}

// NewAuditStore opens the audit database at path.
func NewAuditStore(path string) (*AuditStore, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}

	s := &AuditStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init audit schema: %w", err)
	}
	return s, nil
}

func (s *AuditStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS message_audit (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id        TEXT NOT NULL,
			direction         TEXT NOT NULL,
			channel_id        TEXT NOT NULL,
			user_key          TEXT NOT NULL,
			conversation_key  TEXT NOT NULL,
			session_id        TEXT,
			timestamp_ms      INTEGER NOT NULL,
			processing_status TEXT NOT NULL,
			metadata_json     TEXT,
			created_at_ms     INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_user ON message_audit(channel_id, user_key);
		CREATE INDEX IF NOT EXISTS idx_audit_session ON message_audit(session_id);
		CREATE INDEX IF NOT EXISTS idx_audit_time ON message_audit(timestamp_ms);
	`)
	if err != nil {
		return err
	}

	s.stmtInsert, err = s.db.Prepare(`
		INSERT INTO message_audit
			(message_id, direction, channel_id, user_key, conversation_key,
			 session_id, timestamp_ms, processing_status, metadata_json, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	return err
}

// Log writes one audit row and returns its id.
func (s *AuditStore) Log(ctx context.Context, entry *AuditEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var metadataJSON sql.NullString
	if len(entry.Metadata) > 0 {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return 0, fmt.Errorf("encode audit metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(raw), Valid: true}
	}

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = infra.UTCNow()
	}

	res, err := s.stmtInsert.ExecContext(ctx,
		entry.MessageID, string(entry.Direction), entry.ChannelID, entry.UserKey,
		entry.ConversationKey, nullString(entry.SessionID), ts.UnixMilli(),
		entry.ProcessingStatus, metadataJSON, infra.NowMS(),
	)
	if err != nil {
		return 0, fmt.Errorf("audit insert: %w", err)
	}
	return res.LastInsertId()
}

// LogInbound records an inbound audit row.
func (s *AuditStore) LogInbound(ctx context.Context, entry *AuditEntry) (int64, error) {
	entry.Direction = AuditInbound
	return s.Log(ctx, entry)
}

// LogOutbound records an outbound audit row.
func (s *AuditStore) LogOutbound(ctx context.Context, entry *AuditEntry) (int64, error) {
	entry.Direction = AuditOutbound
	return s.Log(ctx, entry)
}

// QueryByUser returns the most recent entries for a channel user.
func (s *AuditStore) QueryByUser(ctx context.Context, channelID, userKey string, limit int) ([]*AuditEntry, error) {
	return s.query(ctx,
		`SELECT id, message_id, direction, channel_id, user_key, conversation_key,
		        session_id, timestamp_ms, processing_status, metadata_json, created_at_ms
		 FROM message_audit WHERE channel_id = ? AND user_key = ?
		 ORDER BY timestamp_ms DESC LIMIT ?`,
		channelID, userKey, clampLimit(limit),
	)
}

// QueryBySession returns the most recent entries for a session.
func (s *AuditStore) QueryBySession(ctx context.Context, sessionID string, limit int) ([]*AuditEntry, error) {
	return s.query(ctx,
		`SELECT id, message_id, direction, channel_id, user_key, conversation_key,
		        session_id, timestamp_ms, processing_status, metadata_json, created_at_ms
		 FROM message_audit WHERE session_id = ?
		 ORDER BY timestamp_ms DESC LIMIT ?`,
		sessionID, clampLimit(limit),
	)
}

// QueryByTimeRange returns entries within [from, to].
func (s *AuditStore) QueryByTimeRange(ctx context.Context, from, to time.Time, limit int) ([]*AuditEntry, error) {
	return s.query(ctx,
		`SELECT id, message_id, direction, channel_id, user_key, conversation_key,
		        session_id, timestamp_ms, processing_status, metadata_json, created_at_ms
		 FROM message_audit WHERE timestamp_ms >= ? AND timestamp_ms <= ?
		 ORDER BY timestamp_ms DESC LIMIT ?`,
		from.UnixMilli(), to.UnixMilli(), clampLimit(limit),
	)
}

func (s *AuditStore) query(ctx context.Context, q string, args ...any) ([]*AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit query: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var (
			e            AuditEntry
			direction    string
			sessionID    sql.NullString
			metadataJSON sql.NullString
			tsMS         int64
			createdMS    int64
		)
		if err := rows.Scan(&e.ID, &e.MessageID, &direction, &e.ChannelID, &e.UserKey,
			&e.ConversationKey, &sessionID, &tsMS, &e.ProcessingStatus, &metadataJSON, &createdMS); err != nil {
			return nil, err
		}
		e.Direction = AuditDirection(direction)
		e.SessionID = sessionID.String
		e.Timestamp = infra.TimeFromMS(tsMS)
		e.CreatedAt = infra.TimeFromMS(createdMS)
		if metadataJSON.Valid {
			if err := json.Unmarshal([]byte(metadataJSON.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// CleanupOldEntries deletes rows older than the retention period.
func (s *AuditStore) CleanupOldEntries(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultAuditRetention
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := infra.NowMS() - retention.Milliseconds()
	res, err := s.db.ExecContext(ctx, `DELETE FROM message_audit WHERE timestamp_ms < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the underlying database.
func (s *AuditStore) Close() error {
	if s.stmtInsert != nil {
		s.stmtInsert.Close()
	}
	return s.db.Close()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
