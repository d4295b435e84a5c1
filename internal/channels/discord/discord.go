// Package discord implements the Discord channel over the interactions
// webhook. Slash commands are acknowledged with a deferred response and
// answered later by editing the original response.
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/crosswire/crosswire/internal/channels"
	"github.com/crosswire/crosswire/internal/infra"
	"github.com/crosswire/crosswire/pkg/models"
)

// Ack values returned to Discord within the 3 second budget.
const (
	AckPong     = 1 // response to PING
	AckDeferred = 5 // DEFERRED_CHANNEL_MESSAGE_WITH_SOURCE
)

// messageIDPrefix namespaces interaction ids in the gateway-wide
// message id space, like tg_ and email_ do for their providers.
const messageIDPrefix = "discord_interaction_"

// RestClient wraps the Discord REST surface the adapter uses.
type RestClient interface {
	WebhookMessageEdit(webhookID, token, messageID string, data *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Config holds one Discord application channel's settings.
type Config struct {
	// ChannelID is the configured channel instance id (required).
	ChannelID string

	// BotToken authenticates REST calls (required unless Client is
	// injected).
	BotToken string

	// Client overrides the REST client, used by tests.
	Client RestClient

	// Logger is an optional slog.Logger instance.
	Logger *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.ChannelID == "" {
		return channels.NewError(channels.ErrCodeInvalidInput, "discord", "channel_id is required", nil)
	}
	if c.BotToken == "" && c.Client == nil {
		return channels.NewError(channels.ErrCodeInvalidInput, c.ChannelID, "bot_token is required", nil)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// ParsedInteraction is the outcome of parsing one interaction payload.
// Ack goes back to Discord synchronously; Msg, when set, is processed
// in the background and answered via EditOriginal.
type ParsedInteraction struct {
	Ack   int
	Msg   *models.InboundMessage
	AppID string
	Token string
}

// Adapter implements channels.Adapter for Discord interactions.
type Adapter struct {
	config Config
	client RestClient
	seen   *infra.SeenSet
	logger *slog.Logger
}

// NewAdapter creates a Discord adapter.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	client := config.Client
	if client == nil {
		session, err := discordgo.New("Bot " + config.BotToken)
		if err != nil {
			return nil, channels.NewError(channels.ErrCodeAuthentication, config.ChannelID, "session init failed", err)
		}
		client = session
	}
	return &Adapter{
		config: config,
		client: client,
		seen:   infra.NewSeenSet(infra.DefaultSeenSetCapacity),
		logger: config.Logger.With("component", "discord", "channel_id", config.ChannelID),
	}, nil
}

// ChannelID returns the configured channel id.
func (a *Adapter) ChannelID() string { return a.config.ChannelID }

// ParseInteraction converts a verified interaction payload. PINGs ack
// with pong; application commands ack deferred and carry a message;
// everything else (including redelivered interaction ids) acks deferred
// silently with no message.
func (a *Adapter) ParseInteraction(raw []byte) (*ParsedInteraction, error) {
	var interaction discordgo.Interaction
	if err := json.Unmarshal(raw, &interaction); err != nil {
		return nil, channels.NewError(channels.ErrCodeInvalidInput, a.config.ChannelID, "decode interaction", err)
	}

	switch interaction.Type {
	case discordgo.InteractionPing:
		return &ParsedInteraction{Ack: AckPong}, nil
	case discordgo.InteractionApplicationCommand:
	default:
		a.logger.Debug("ignoring interaction type", "type", interaction.Type)
		return &ParsedInteraction{Ack: AckDeferred}, nil
	}

	if a.seen.Seen(interaction.ID) {
		a.logger.Debug("redelivered interaction dropped", "interaction_id", interaction.ID)
		return &ParsedInteraction{Ack: AckDeferred}, nil
	}

	userID := ""
	switch {
	case interaction.Member != nil && interaction.Member.User != nil:
		userID = interaction.Member.User.ID
	case interaction.User != nil:
		userID = interaction.User.ID
	}
	if userID == "" {
		return nil, channels.NewError(channels.ErrCodeInvalidInput, a.config.ChannelID, "interaction has no user", nil)
	}

	data := interaction.ApplicationCommandData()
	text := "/" + data.Name
	for _, opt := range data.Options {
		text += fmt.Sprintf(" %s:%v", opt.Name, opt.Value)
	}

	msg := models.NewInboundMessage(
		a.config.ChannelID, userID, interaction.ChannelID,
		messageIDPrefix+interaction.ID, time.Time{}, models.TypeText,
	)
	msg.Text = text
	msg.Metadata["command_name"] = data.Name

	return &ParsedInteraction{
		Ack:   AckDeferred,
		Msg:   msg,
		AppID: interaction.AppID,
		Token: interaction.Token,
	}, nil
}

// EditOriginal replaces the deferred response with content. The token
// stays valid for 15 minutes after the interaction.
func (a *Adapter) EditOriginal(ctx context.Context, appID, token, content string) error {
	_, err := a.client.WebhookMessageEdit(appID, token, "@original",
		&discordgo.WebhookEdit{Content: &content}, discordgo.WithContext(ctx))
	if err != nil {
		return channels.NewError(channels.ErrCodeProvider, a.config.ChannelID, "edit original response failed", err)
	}
	return nil
}

// Send is not supported: replies travel through the interaction's
// deferred-edit flow, never as free-form messages.
func (a *Adapter) Send(ctx context.Context, msg *models.OutboundMessage) error {
	return channels.NewError(channels.ErrCodeUnsupported, a.config.ChannelID,
		"free-form sends are not supported, use the interaction response", nil)
}
