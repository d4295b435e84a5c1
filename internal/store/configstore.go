package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crosswire/crosswire/internal/infra"
)

// ErrChannelNotFound is returned when no config row exists for a channel.
var ErrChannelNotFound = errors.New("channel not found")

// ChannelStatus is the lifecycle state of a configured channel.
type ChannelStatus string

const (
	ChannelNeedsSetup ChannelStatus = "needs_setup"
	ChannelEnabled    ChannelStatus = "enabled"
	ChannelDisabled   ChannelStatus = "disabled"
	ChannelErrored    ChannelStatus = "error"
)

// ChannelConfig is a stored channel instance configuration.
type ChannelConfig struct {
	ChannelID     string            `json:"channel_id"`
	Config        map[string]string `json:"config"`
	Status        ChannelStatus     `json:"status"`
	Enabled       bool              `json:"enabled"`
	LastError     string            `json:"last_error,omitempty"`
	LastHeartbeat time.Time         `json:"last_heartbeat,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// ChannelEvent is a health or lifecycle event attached to a channel.
type ChannelEvent struct {
	ID        int64     `json:"id"`
	ChannelID string    `json:"channel_id"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ChannelConfigStore persists channel configurations, their health events,
// and an audit log of every mutation.
type ChannelConfigStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewChannelConfigStore opens the channel config database at path.
func NewChannelConfigStore(path string) (*ChannelConfigStore, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}

	s := &ChannelConfigStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init channel config schema: %w", err)
	}
	return s, nil
}

func (s *ChannelConfigStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS channel_configs (
			channel_id        TEXT PRIMARY KEY,
			config_json       TEXT NOT NULL,
			status            TEXT NOT NULL,
			enabled           INTEGER NOT NULL DEFAULT 0,
			last_error        TEXT,
			last_heartbeat_ms INTEGER,
			created_at_ms     INTEGER NOT NULL,
			updated_at_ms     INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS channel_events (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			channel_id    TEXT NOT NULL,
			event         TEXT NOT NULL,
			detail        TEXT,
			created_at_ms INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_channel_events ON channel_events(channel_id, created_at_ms);
		CREATE TABLE IF NOT EXISTS channel_audit_log (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			channel_id    TEXT NOT NULL,
			action        TEXT NOT NULL,
			detail        TEXT,
			created_at_ms INTEGER NOT NULL
		);
	`)
	return err
}

// SaveConfig upserts a channel configuration and resets its status to
// needs_setup pending re-validation.
func (s *ChannelConfigStore) SaveConfig(ctx context.Context, channelID string, config map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("encode channel config: %w", err)
	}

	now := infra.NowMS()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO channel_configs (channel_id, config_json, status, enabled, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, 0, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			config_json = excluded.config_json,
			status = excluded.status,
			last_error = NULL,
			updated_at_ms = excluded.updated_at_ms
	`, channelID, string(raw), string(ChannelNeedsSetup), now, now)
	if err != nil {
		return fmt.Errorf("save channel config: %w", err)
	}
	return s.logAudit(ctx, channelID, "config_saved", "")
}

// GetConfig returns a stored channel config.
func (s *ChannelConfigStore) GetConfig(ctx context.Context, channelID string) (*ChannelConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT channel_id, config_json, status, enabled, last_error, last_heartbeat_ms,
		       created_at_ms, updated_at_ms
		FROM channel_configs WHERE channel_id = ?`, channelID)
	return scanChannelConfig(row)
}

// ListConfigs returns every stored channel config.
func (s *ChannelConfigStore) ListConfigs(ctx context.Context) ([]*ChannelConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_id, config_json, status, enabled, last_error, last_heartbeat_ms,
		       created_at_ms, updated_at_ms
		FROM channel_configs ORDER BY channel_id`)
	if err != nil {
		return nil, fmt.Errorf("list channel configs: %w", err)
	}
	defer rows.Close()

	var configs []*ChannelConfig
	for rows.Next() {
		cfg, err := scanChannelConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

// SetEnabled flips a channel between enabled and disabled.
func (s *ChannelConfigStore) SetEnabled(ctx context.Context, channelID string, enable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := ChannelDisabled
	action := "disabled"
	if enable {
		status = ChannelEnabled
		action = "enabled"
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE channel_configs SET enabled = ?, status = ?, updated_at_ms = ? WHERE channel_id = ?`,
		boolToInt(enable), string(status), infra.NowMS(), channelID,
	)
	if err != nil {
		return fmt.Errorf("set enabled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrChannelNotFound
	}
	return s.logAudit(ctx, channelID, action, "")
}

// SetError records a channel failure and flips its status to error.
func (s *ChannelConfigStore) SetError(ctx context.Context, channelID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE channel_configs SET status = ?, last_error = ?, updated_at_ms = ? WHERE channel_id = ?`,
		string(ChannelErrored), message, infra.NowMS(), channelID,
	)
	if err != nil {
		return fmt.Errorf("set channel error: %w", err)
	}
	return s.logAudit(ctx, channelID, "error", message)
}

// UpdateHeartbeat bumps the channel's liveness timestamp.
func (s *ChannelConfigStore) UpdateHeartbeat(ctx context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE channel_configs SET last_heartbeat_ms = ? WHERE channel_id = ?`,
		infra.NowMS(), channelID,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// LogEvent records a channel health event.
func (s *ChannelConfigStore) LogEvent(ctx context.Context, channelID, event, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_events (channel_id, event, detail, created_at_ms) VALUES (?, ?, ?, ?)`,
		channelID, event, detail, infra.NowMS(),
	)
	if err != nil {
		return fmt.Errorf("log channel event: %w", err)
	}
	return nil
}

// GetRecentEvents returns the latest events for a channel.
func (s *ChannelConfigStore) GetRecentEvents(ctx context.Context, channelID string, limit int) ([]*ChannelEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, event, detail, created_at_ms FROM channel_events
		 WHERE channel_id = ? ORDER BY created_at_ms DESC LIMIT ?`,
		channelID, clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()

	var events []*ChannelEvent
	for rows.Next() {
		var (
			e         ChannelEvent
			detail    sql.NullString
			createdMS int64
		)
		if err := rows.Scan(&e.ID, &e.ChannelID, &e.Event, &detail, &createdMS); err != nil {
			return nil, err
		}
		e.Detail = detail.String
		e.CreatedAt = infra.TimeFromMS(createdMS)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// DeleteChannel removes a channel config and cascades its events, leaving
// a final audit row behind.
func (s *ChannelConfigStore) DeleteChannel(ctx context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete channel tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM channel_configs WHERE channel_id = ?`, channelID)
	if err != nil {
		return fmt.Errorf("delete channel config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrChannelNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM channel_events WHERE channel_id = ?`, channelID); err != nil {
		return fmt.Errorf("delete channel events: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO channel_audit_log (channel_id, action, detail, created_at_ms) VALUES (?, 'deleted', '', ?)`,
		channelID, infra.NowMS(),
	); err != nil {
		return fmt.Errorf("audit channel delete: %w", err)
	}
	return tx.Commit()
}

func (s *ChannelConfigStore) logAudit(ctx context.Context, channelID, action, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_audit_log (channel_id, action, detail, created_at_ms) VALUES (?, ?, ?, ?)`,
		channelID, action, detail, infra.NowMS(),
	)
	if err != nil {
		return fmt.Errorf("channel audit: %w", err)
	}
	return nil
}

// Close releases the underlying database.
func (s *ChannelConfigStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannelConfig(row rowScanner) (*ChannelConfig, error) {
	var (
		cfg         ChannelConfig
		configJSON  string
		status      string
		enabled     int
		lastError   sql.NullString
		heartbeatMS sql.NullInt64
		createdMS   int64
		updatedMS   int64
	)
	err := row.Scan(&cfg.ChannelID, &configJSON, &status, &enabled, &lastError,
		&heartbeatMS, &createdMS, &updatedMS)
	if err == sql.ErrNoRows {
		return nil, ErrChannelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan channel config: %w", err)
	}
	if err := json.Unmarshal([]byte(configJSON), &cfg.Config); err != nil {
		return nil, fmt.Errorf("decode channel config: %w", err)
	}
	cfg.Status = ChannelStatus(status)
	cfg.Enabled = enabled != 0
	cfg.LastError = lastError.String
	if heartbeatMS.Valid {
		cfg.LastHeartbeat = infra.TimeFromMS(heartbeatMS.Int64)
	}
	cfg.CreatedAt = infra.TimeFromMS(createdMS)
	cfg.UpdatedAt = infra.TimeFromMS(updatedMS)
	return &cfg, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
