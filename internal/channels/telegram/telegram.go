// Package telegram implements the Telegram channel. Updates arrive as
// JSON webhooks authenticated by the bot API secret token; outbound
// messages go through the bot API client.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/crosswire/crosswire/internal/channels"
	"github.com/crosswire/crosswire/pkg/models"
)

// BotClient wraps the bot API surface the adapter uses, so tests can
// inject a mock.
type BotClient interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// Config holds one Telegram channel's settings.
type Config struct {
	// ChannelID is the configured channel instance id (required).
	ChannelID string

	// Token is the bot token from @BotFather (required unless Client
	// is injected).
	Token string

	// Client overrides the bot client, used by tests.
	Client BotClient

	// Logger is an optional slog.Logger instance.
	Logger *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.ChannelID == "" {
		return channels.NewError(channels.ErrCodeInvalidInput, "telegram", "channel_id is required", nil)
	}
	if c.Token == "" && c.Client == nil {
		return channels.NewError(channels.ErrCodeInvalidInput, c.ChannelID, "token is required", nil)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter implements channels.Adapter for Telegram.
type Adapter struct {
	config Config
	client BotClient
	logger *slog.Logger
}

// NewAdapter creates a Telegram adapter.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	client := config.Client
	if client == nil {
		b, err := bot.New(config.Token)
		if err != nil {
			return nil, channels.NewError(channels.ErrCodeAuthentication, config.ChannelID, "bot init failed", err)
		}
		client = b
	}
	return &Adapter{
		config: config,
		client: client,
		logger: config.Logger.With("component", "telegram", "channel_id", config.ChannelID),
	}, nil
}

// ChannelID returns the configured channel id.
func (a *Adapter) ChannelID() string { return a.config.ChannelID }

// ParseUpdate converts a verified webhook payload into an inbound
// message. Non-message updates and bot-authored messages return nil
// without error.
func (a *Adapter) ParseUpdate(raw []byte) (*models.InboundMessage, error) {
	var update tgmodels.Update
	if err := json.Unmarshal(raw, &update); err != nil {
		return nil, channels.NewError(channels.ErrCodeInvalidInput, a.config.ChannelID, "decode update", err)
	}
	m := update.Message
	if m == nil {
		a.logger.Debug("ignoring non-message update", "update_id", update.ID)
		return nil, nil
	}
	if m.From == nil || m.From.IsBot {
		return nil, nil
	}

	msg := models.NewInboundMessage(
		a.config.ChannelID,
		strconv.FormatInt(m.From.ID, 10),
		strconv.FormatInt(m.Chat.ID, 10),
		fmt.Sprintf("tg_%d_%d", update.ID, m.ID),
		time.Unix(int64(m.Date), 0).UTC(),
		models.TypeText,
	)
	msg.Text = m.Text

	switch {
	case len(m.Photo) > 0:
		largest := m.Photo[0]
		for _, p := range m.Photo[1:] {
			if p.FileSize > largest.FileSize {
				largest = p
			}
		}
		msg.Type = models.TypeImage
		msg.Attachments = append(msg.Attachments, models.Attachment{
			Type: models.AttachmentImage,
			URL:  largest.FileID,
			Size: int64(largest.FileSize),
		})
	case m.Voice != nil:
		msg.Type = models.TypeAudio
		msg.Attachments = append(msg.Attachments, models.Attachment{
			Type: models.AttachmentAudio,
			URL:  m.Voice.FileID,
		})
	case m.Audio != nil:
		msg.Type = models.TypeAudio
		msg.Attachments = append(msg.Attachments, models.Attachment{
			Type:     models.AttachmentAudio,
			URL:      m.Audio.FileID,
			Filename: m.Audio.FileName,
		})
	case m.Video != nil:
		msg.Type = models.TypeVideo
		msg.Attachments = append(msg.Attachments, models.Attachment{
			Type: models.AttachmentVideo,
			URL:  m.Video.FileID,
		})
	case m.Document != nil:
		msg.Type = models.TypeFile
		msg.Attachments = append(msg.Attachments, models.Attachment{
			Type:     models.AttachmentDocument,
			URL:      m.Document.FileID,
			Filename: m.Document.FileName,
			MimeType: m.Document.MimeType,
		})
	}
	if msg.Text == "" && m.Caption != "" {
		msg.Text = m.Caption
	}
	return msg, nil
}

// Send posts the message to the conversation's chat. A reply target in
// the composite tg_{update}_{message} form becomes reply_parameters.
func (a *Adapter) Send(ctx context.Context, msg *models.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ConversationKey, 10, 64)
	if err != nil {
		// DMs key the conversation by user; fall back to it.
		chatID, err = strconv.ParseInt(msg.UserKey, 10, 64)
		if err != nil {
			return channels.NewError(channels.ErrCodeInvalidInput, a.config.ChannelID, "no numeric chat id", err)
		}
	}

	params := &bot.SendMessageParams{
		ChatID: chatID,
		Text:   msg.Text,
	}
	if replyID, ok := parseCompositeMessageID(msg.ReplyToMessageID); ok {
		params.ReplyParameters = &tgmodels.ReplyParameters{MessageID: replyID}
	}

	if _, err := a.client.SendMessage(ctx, params); err != nil {
		code := channels.ErrCodeProvider
		if strings.Contains(err.Error(), "Too Many Requests") {
			code = channels.ErrCodeRateLimit
		}
		return channels.NewError(code, a.config.ChannelID, "sendMessage failed", err)
	}
	a.logger.Debug("message sent", "chat_id", chatID)
	return nil
}

// parseCompositeMessageID extracts the Telegram message id from the
// tg_{update_id}_{message_id} composite.
func parseCompositeMessageID(id string) (int, bool) {
	if !strings.HasPrefix(id, "tg_") {
		return 0, false
	}
	parts := strings.Split(id, "_")
	if len(parts) != 3 {
		return 0, false
	}
	n, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, false
	}
	return n, true
}
