// Package bus routes every message, inbound and outbound, through the
// ordered middleware chain and on to handlers or channel adapters.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crosswire/crosswire/internal/channels"
	"github.com/crosswire/crosswire/internal/infra"
	"github.com/crosswire/crosswire/internal/middleware"
	"github.com/crosswire/crosswire/pkg/models"
)

// InboundHandler consumes messages that survived the middleware chain.
type InboundHandler func(ctx context.Context, msg *models.InboundMessage, pc *models.ProcessingContext) error

// MessageBus is the central dispatch point. Middlewares run in
// registration order; the chain short-circuits on the first non-continue
// status. Per-message failures never take the bus down.
type MessageBus struct {
	logger  *slog.Logger
	metrics *Metrics

	mu          sync.RWMutex
	middlewares []middleware.Middleware
	adapters    map[string]channels.Adapter
	handlers    []InboundHandler
}

// New creates a bus. Metrics may be nil to disable instrumentation.
func New(logger *slog.Logger, metrics *Metrics) *MessageBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageBus{
		logger:   logger.With("component", "bus"),
		metrics:  metrics,
		adapters: make(map[string]channels.Adapter),
	}
}

// Use appends a middleware to the chain. Order is significant.
func (b *MessageBus) Use(mw middleware.Middleware) {
	b.mu.Lock()
	b.middlewares = append(b.middlewares, mw)
	b.mu.Unlock()
}

// MiddlewareCount reports the chain length.
func (b *MessageBus) MiddlewareCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.middlewares)
}

// RegisterAdapter installs the outbound adapter for a channel id.
func (b *MessageBus) RegisterAdapter(a channels.Adapter) {
	b.mu.Lock()
	b.adapters[a.ChannelID()] = a
	b.mu.Unlock()
}

// OnInbound registers a handler for accepted inbound messages.
func (b *MessageBus) OnInbound(h InboundHandler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// PublishInbound runs msg through the chain and, if it survives, hands
// it to every registered handler. Handler errors are logged, not
// propagated; the returned context reflects the chain outcome.
func (b *MessageBus) PublishInbound(ctx context.Context, msg *models.InboundMessage) *models.ProcessingContext {
	pc := models.NewProcessingContext(msg.MessageID, msg.ChannelID)

	b.mu.RLock()
	mws := b.middlewares
	handlers := b.handlers
	b.mu.RUnlock()

	start := time.Now()
	for _, mw := range mws {
		if err := mw.ProcessInbound(ctx, msg, pc); err != nil {
			b.logger.Error("middleware failed",
				"middleware", mw.Name(), "message_id", msg.MessageID, "error", err)
			pc.Fail(fmt.Errorf("%s: %w", mw.Name(), err))
		}
		if !pc.ShouldContinue() {
			break
		}
	}
	b.observe("inbound", msg.ChannelID, pc, start)

	if !pc.ShouldContinue() {
		return pc
	}
	for _, h := range handlers {
		if err := h(ctx, msg, pc); err != nil {
			b.logger.Error("inbound handler failed",
				"message_id", msg.MessageID, "channel_id", msg.ChannelID, "error", err)
		}
	}
	return pc
}

// SendOutbound validates msg, runs the outbound side of the chain, and
// delivers through the channel's adapter.
func (b *MessageBus) SendOutbound(ctx context.Context, msg *models.OutboundMessage) *models.ProcessingContext {
	pc := models.NewProcessingContext(infra.OutboundContextID(msg.ChannelID), msg.ChannelID)

	if err := msg.Validate(); err != nil {
		pc.Fail(err)
		b.observe("outbound", msg.ChannelID, pc, time.Now())
		return pc
	}

	b.mu.RLock()
	mws := b.middlewares
	adapter, ok := b.adapters[msg.ChannelID]
	b.mu.RUnlock()

	start := time.Now()
	for _, mw := range mws {
		if err := mw.ProcessOutbound(ctx, msg, pc); err != nil {
			b.logger.Error("middleware failed",
				"middleware", mw.Name(), "message_id", pc.MessageID, "error", err)
			pc.Fail(fmt.Errorf("%s: %w", mw.Name(), err))
		}
		if !pc.ShouldContinue() {
			break
		}
	}

	if pc.ShouldContinue() {
		switch {
		case !ok:
			pc.Fail(fmt.Errorf("no adapter registered for channel %s", msg.ChannelID))
		default:
			if err := adapter.Send(ctx, msg); err != nil {
				b.logger.Error("adapter send failed",
					"channel_id", msg.ChannelID, "code", channels.CodeOf(err), "error", err)
				pc.Fail(err)
			}
		}
	}
	b.observe("outbound", msg.ChannelID, pc, start)
	return pc
}

func (b *MessageBus) observe(direction, channelID string, pc *models.ProcessingContext, start time.Time) {
	if b.metrics == nil {
		return
	}
	switch direction {
	case "inbound":
		b.metrics.inbound.WithLabelValues(channelID, string(pc.Status)).Inc()
	case "outbound":
		b.metrics.outbound.WithLabelValues(channelID, string(pc.Status)).Inc()
	}
	b.metrics.processing.WithLabelValues(direction).Observe(time.Since(start).Seconds())
}
