// Package email implements the polling email channel. A Provider
// abstracts the mailbox backend; the adapter runs the poll loop, maps
// envelopes to inbound messages, and threads replies.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/crosswire/crosswire/internal/channels"
	"github.com/crosswire/crosswire/internal/infra"
	"github.com/crosswire/crosswire/internal/store"
	"github.com/crosswire/crosswire/pkg/models"
)

const (
	minPollInterval = 30 * time.Second
	maxPollInterval = 3600 * time.Second

	// stopGranularity bounds how long shutdown waits on a sleeping
	// poll loop.
	stopGranularity = time.Second

	defaultFetchLimit = 50
	messageIDPrefix   = "email_"
)

// Publisher receives converted inbound messages from the poll loop.
type Publisher func(ctx context.Context, msg *models.InboundMessage)

// Config holds one email channel's settings.
type Config struct {
	// ChannelID is the configured channel instance id (required).
	ChannelID string

	// Provider is the mailbox backend (required).
	Provider Provider

	// Cursors persists polling progress (required).
	Cursors *store.CursorStore

	// Publish receives each new inbound message (required for polling).
	Publish Publisher

	// Folder defaults to INBOX.
	Folder string

	// PollInterval is clamped to [30s, 1h]; defaults to 60s.
	PollInterval time.Duration

	// FetchLimit caps messages per tick; defaults to 50.
	FetchLimit int

	// FromAddress is the channel's own sending address, used to skip
	// self-authored mail.
	FromAddress string

	// Logger is an optional slog.Logger instance.
	Logger *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.ChannelID == "" {
		return channels.NewError(channels.ErrCodeInvalidInput, "email", "channel_id is required", nil)
	}
	if c.Provider == nil {
		return channels.NewError(channels.ErrCodeInvalidInput, c.ChannelID, "provider is required", nil)
	}
	if c.Cursors == nil {
		return channels.NewError(channels.ErrCodeInvalidInput, c.ChannelID, "cursor store is required", nil)
	}
	if c.Folder == "" {
		c.Folder = "INBOX"
	}
	if c.PollInterval == 0 {
		c.PollInterval = 60 * time.Second
	}
	if c.PollInterval < minPollInterval {
		c.PollInterval = minPollInterval
	}
	if c.PollInterval > maxPollInterval {
		c.PollInterval = maxPollInterval
	}
	if c.FetchLimit <= 0 {
		c.FetchLimit = defaultFetchLimit
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter implements channels.Adapter and channels.Runner for email.
type Adapter struct {
	config Config
	seen   *infra.SeenSet
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAdapter creates an email adapter.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		config: config,
		seen:   infra.NewSeenSet(infra.DefaultSeenSetCapacity),
		logger: config.Logger.With("component", "email", "channel_id", config.ChannelID),
	}, nil
}

// ChannelID returns the configured channel id.
func (a *Adapter) ChannelID() string { return a.config.ChannelID }

// Start validates credentials and launches the poll loop.
func (a *Adapter) Start(ctx context.Context) error {
	if err := a.config.Provider.ValidateCredentials(ctx); err != nil {
		return channels.NewError(channels.ErrCodeAuthentication, a.config.ChannelID, "credential check failed", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.wg.Add(1)
	go a.pollLoop(loopCtx)

	a.logger.Info("poller started", "interval", a.config.PollInterval, "folder", a.config.Folder)
	return nil
}

// Stop shuts the poll loop down, waiting at most one stop granularity
// past the context deadline.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel == nil {
		return nil
	}
	a.cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) pollLoop(ctx context.Context) {
	defer a.wg.Done()

	a.tick(ctx)
	for {
		if !sleep(ctx, a.config.PollInterval) {
			return
		}
		a.tick(ctx)
	}
}

// sleep waits for d, waking every second to notice cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(stopGranularity):
		}
	}
	return true
}

// tick fetches one batch. Per-envelope failures are logged and skipped;
// the loop never exits on an individual message.
func (a *Adapter) tick(ctx context.Context) {
	cursor, err := a.config.Cursors.Get(ctx, a.config.ChannelID)
	if err != nil {
		a.logger.Error("cursor read failed", "error", err)
		return
	}

	envelopes, err := a.config.Provider.FetchMessages(ctx, a.config.Folder, cursor.LastPollTime, a.config.FetchLimit)
	if err != nil {
		a.logger.Error("fetch failed", "error", err)
		return
	}

	pollTime := infra.UTCNow()
	lastID := cursor.LastMessageID
	for _, env := range envelopes {
		msg, err := a.Convert(env)
		if err != nil {
			a.logger.Warn("envelope skipped", "message_id", env.MessageID, "error", err)
			continue
		}
		if msg == nil {
			continue
		}
		lastID = msg.MessageID
		if a.config.Publish != nil {
			a.config.Publish(ctx, msg)
		}
		if err := a.config.Provider.MarkAsRead(ctx, env.MessageID); err != nil {
			a.logger.Warn("mark as read failed", "message_id", env.MessageID, "error", err)
		}
	}

	if err := a.config.Cursors.Advance(ctx, a.config.ChannelID, pollTime, lastID); err != nil {
		a.logger.Error("cursor advance failed", "error", err)
	}
}

// Convert maps an envelope to an inbound message. Self-authored and
// already-seen messages return nil.
func (a *Adapter) Convert(env *Envelope) (*models.InboundMessage, error) {
	if env.MessageID == "" {
		return nil, fmt.Errorf("envelope has no Message-ID")
	}
	from := strings.ToLower(env.From.Address)
	if from == "" {
		return nil, fmt.Errorf("envelope has no sender")
	}
	if a.config.FromAddress != "" && from == strings.ToLower(a.config.FromAddress) {
		return nil, nil
	}

	messageID := messageIDPrefix + stripAngles(env.MessageID)
	if a.seen.Seen(messageID) {
		return nil, nil
	}

	msg := models.NewInboundMessage(
		a.config.ChannelID, from, ThreadRoot(env), messageID,
		env.Date, models.TypeText,
	)
	msg.Text = env.TextBody
	if msg.Text == "" {
		msg.Text = env.HTMLBody
	}
	msg.Metadata["subject"] = env.Subject
	if len(env.References) > 0 {
		msg.Metadata["references"] = env.References
	}
	for _, att := range env.Attachments {
		msg.Attachments = append(msg.Attachments, models.Attachment{
			Type:     models.AttachmentTypeFromMIME(att.MimeType),
			Filename: att.Filename,
			MimeType: att.MimeType,
			Size:     att.Size,
		})
	}
	return msg, nil
}

// ThreadRoot derives the conversation key: first References token, else
// In-Reply-To, else the message's own id, all stripped of angle
// brackets. This derivation is frozen; changing it orphans existing
// session keys.
func ThreadRoot(env *Envelope) string {
	if len(env.References) > 0 && env.References[0] != "" {
		return stripAngles(env.References[0])
	}
	if env.InReplyTo != "" {
		return stripAngles(env.InReplyTo)
	}
	return stripAngles(env.MessageID)
}

func stripAngles(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}

// Send delivers a reply through the provider, threading it onto the
// original message and prefixing the subject with Re: when needed.
func (a *Adapter) Send(ctx context.Context, msg *models.OutboundMessage) error {
	if msg.UserKey == "" {
		return channels.NewError(channels.ErrCodeInvalidInput, a.config.ChannelID, "no recipient", nil)
	}

	out := &OutboundEmail{
		To:   []Address{{Address: msg.UserKey}},
		Text: msg.Text,
	}

	if subject, ok := msg.Metadata["subject"].(string); ok && subject != "" {
		if !strings.HasPrefix(strings.ToLower(subject), "re:") {
			subject = "Re: " + subject
		}
		out.Subject = subject
	} else {
		out.Subject = "Re: your message"
	}

	if strings.HasPrefix(msg.ReplyToMessageID, messageIDPrefix) {
		replyID := strings.TrimPrefix(msg.ReplyToMessageID, messageIDPrefix)
		out.InReplyTo = "<" + replyID + ">"
		if prior, ok := msg.Metadata["references"].([]string); ok {
			out.References = append(out.References, prior...)
		}
		out.References = append(out.References, "<"+replyID+">")
	}

	if err := a.config.Provider.SendMessage(ctx, out); err != nil {
		return channels.NewError(channels.ErrCodeProvider, a.config.ChannelID, "send failed", err)
	}
	a.logger.Debug("reply sent", "to", msg.UserKey, "subject", out.Subject)
	return nil
}
