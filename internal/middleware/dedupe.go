package middleware

import (
	"context"
	"log/slog"

	"github.com/crosswire/crosswire/internal/store"
	"github.com/crosswire/crosswire/pkg/models"
)

// Dedupe rejects inbound messages whose (message_id, channel_id) pair
// has already been seen. Outbound traffic passes through untouched.
type Dedupe struct {
	store  *store.DedupeStore
	logger *slog.Logger
}

// NewDedupe wires the dedupe stage.
func NewDedupe(st *store.DedupeStore, logger *slog.Logger) *Dedupe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dedupe{store: st, logger: logger.With("component", "dedupe")}
}

func (d *Dedupe) Name() string { return "dedupe" }

func (d *Dedupe) ProcessInbound(ctx context.Context, msg *models.InboundMessage, pc *models.ProcessingContext) error {
	dup, err := d.store.IsDuplicate(ctx, msg.MessageID, msg.ChannelID)
	if err != nil {
		return err
	}
	if dup {
		d.logger.Debug("duplicate dropped", "message_id", msg.MessageID, "channel_id", msg.ChannelID)
		pc.Meta.DedupeReason = "duplicate_message_id"
		pc.Reject()
	}
	return nil
}

func (d *Dedupe) ProcessOutbound(ctx context.Context, msg *models.OutboundMessage, pc *models.ProcessingContext) error {
	return nil
}
