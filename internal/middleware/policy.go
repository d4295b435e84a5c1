package middleware

import (
	"context"
	"log/slog"

	"github.com/crosswire/crosswire/internal/security"
	"github.com/crosswire/crosswire/pkg/models"
)

// PolicyEnforcer runs the security policy check on inbound messages.
// It runs after audit so rejected messages still leave a trail.
type PolicyEnforcer struct {
	engine *security.Engine
	logger *slog.Logger
}

// NewPolicyEnforcer wires the policy stage.
func NewPolicyEnforcer(engine *security.Engine, logger *slog.Logger) *PolicyEnforcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &PolicyEnforcer{engine: engine, logger: logger.With("component", "policy")}
}

func (p *PolicyEnforcer) Name() string { return "policy" }

func (p *PolicyEnforcer) ProcessInbound(ctx context.Context, msg *models.InboundMessage, pc *models.ProcessingContext) error {
	pc.Meta.SecurityPolicy = string(p.engine.PolicyFor(msg.ChannelID).Mode)

	violation, block := p.engine.CheckInbound(msg)
	if violation == nil {
		return nil
	}
	pc.Meta.SecurityViolation = violation.Type
	if block {
		p.logger.Info("message blocked by policy",
			"channel_id", msg.ChannelID, "violation", violation.Type, "message_id", msg.MessageID)
		pc.Reject()
	} else {
		p.logger.Warn("policy violation (non-blocking)",
			"channel_id", msg.ChannelID, "violation", violation.Type, "message_id", msg.MessageID)
	}
	return nil
}

func (p *PolicyEnforcer) ProcessOutbound(ctx context.Context, msg *models.OutboundMessage, pc *models.ProcessingContext) error {
	return nil
}
