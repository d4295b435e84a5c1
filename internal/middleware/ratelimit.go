package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/crosswire/crosswire/internal/security"
	"github.com/crosswire/crosswire/internal/store"
	"github.com/crosswire/crosswire/pkg/models"
)

// RateLimit enforces the per-channel sliding window on inbound traffic.
// The per-minute ceiling comes from the channel's security policy.
type RateLimit struct {
	store    *store.RateLimitStore
	policies *security.Engine
	window   time.Duration
	logger   *slog.Logger
}

// NewRateLimit wires the rate limit stage. A zero window defaults to
// one minute, matching the policy's per-minute ceiling.
func NewRateLimit(st *store.RateLimitStore, policies *security.Engine, window time.Duration, logger *slog.Logger) *RateLimit {
	if window <= 0 {
		window = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimit{
		store:    st,
		policies: policies,
		window:   window,
		logger:   logger.With("component", "ratelimit"),
	}
}

func (r *RateLimit) Name() string { return "ratelimit" }

func (r *RateLimit) ProcessInbound(ctx context.Context, msg *models.InboundMessage, pc *models.ProcessingContext) error {
	max := store.DefaultRateMaxRequests
	if p := r.policies.PolicyFor(msg.ChannelID); p.RateLimitPerMinute > 0 {
		max = p.RateLimitPerMinute
	}

	allowed, count, err := r.store.CheckRateLimit(ctx, msg.ChannelID, msg.UserKey, r.window, max)
	if err != nil {
		return err
	}
	pc.Meta.RateLimitCount = count
	pc.Meta.RateLimitMax = max
	pc.Meta.RateLimitWindowMS = r.window.Milliseconds()
	if !allowed {
		r.logger.Info("rate limit exceeded",
			"channel_id", msg.ChannelID, "user_key", msg.UserKey, "count", count, "max", max)
		pc.Reject()
	}
	return nil
}

func (r *RateLimit) ProcessOutbound(ctx context.Context, msg *models.OutboundMessage, pc *models.ProcessingContext) error {
	return nil
}
