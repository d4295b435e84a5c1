package middleware

import (
	"context"
	"log/slog"

	"github.com/crosswire/crosswire/internal/store"
	"github.com/crosswire/crosswire/pkg/models"
)

// Audit writes a metadata-only trail entry for both directions. Audit
// failures are logged and swallowed so a broken audit database never
// drops user traffic.
type Audit struct {
	store  *store.AuditStore
	logger *slog.Logger
}

// NewAudit wires the audit stage.
func NewAudit(st *store.AuditStore, logger *slog.Logger) *Audit {
	if logger == nil {
		logger = slog.Default()
	}
	return &Audit{store: st, logger: logger.With("component", "audit")}
}

func (a *Audit) Name() string { return "audit" }

// sessionIDFrom reads the session id the dispatcher stamps on messages
// that belong to an established session.
func sessionIDFrom(meta map[string]any) string {
	if v, ok := meta["session_id"].(string); ok {
		return v
	}
	return ""
}

func (a *Audit) ProcessInbound(ctx context.Context, msg *models.InboundMessage, pc *models.ProcessingContext) error {
	id, err := a.store.LogInbound(ctx, &store.AuditEntry{
		MessageID:        msg.MessageID,
		ChannelID:        msg.ChannelID,
		UserKey:          msg.UserKey,
		ConversationKey:  msg.ConversationKey,
		SessionID:        sessionIDFrom(msg.Metadata),
		Timestamp:        msg.Timestamp,
		ProcessingStatus: string(pc.Status),
	})
	if err != nil {
		a.logger.Warn("inbound audit failed", "message_id", msg.MessageID, "error", err)
		return nil
	}
	pc.Meta.AuditEntryID = id
	return nil
}

func (a *Audit) ProcessOutbound(ctx context.Context, msg *models.OutboundMessage, pc *models.ProcessingContext) error {
	id, err := a.store.LogOutbound(ctx, &store.AuditEntry{
		MessageID:        pc.MessageID,
		ChannelID:        msg.ChannelID,
		UserKey:          msg.UserKey,
		ConversationKey:  msg.ConversationKey,
		SessionID:        sessionIDFrom(msg.Metadata),
		ProcessingStatus: string(pc.Status),
	})
	if err != nil {
		a.logger.Warn("outbound audit failed", "message_id", pc.MessageID, "error", err)
		return nil
	}
	pc.Meta.AuditEntryID = id
	return nil
}
