// Package slack implements the Slack channel over the Events API.
// Inbound events are parsed from the webhook payload; outbound messages
// post through the Slack Web API.
package slack

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/crosswire/crosswire/internal/channels"
	"github.com/crosswire/crosswire/internal/infra"
	"github.com/crosswire/crosswire/pkg/models"
)

// TriggerMode controls which workspace messages the channel reacts to.
type TriggerMode string

const (
	// TriggerDMOnly reacts to direct messages only.
	TriggerDMOnly TriggerMode = "dm_only"

	// TriggerMentionOrDM reacts to DMs and app mentions, never plain
	// channel messages.
	TriggerMentionOrDM TriggerMode = "mention_or_dm"

	// TriggerAllMessages reacts to every visible message.
	TriggerAllMessages TriggerMode = "all_messages"
)

// WebClient wraps the Web API surface the adapter uses.
type WebClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Config holds one Slack workspace channel's settings.
type Config struct {
	// ChannelID is the configured channel instance id (required).
	ChannelID string

	// BotToken is the xoxb token (required unless Client is injected).
	BotToken string

	// TriggerMode defaults to mention_or_dm.
	TriggerMode TriggerMode

	// Client overrides the Web API client, used by tests.
	Client WebClient

	// Logger is an optional slog.Logger instance.
	Logger *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.ChannelID == "" {
		return channels.NewError(channels.ErrCodeInvalidInput, "slack", "channel_id is required", nil)
	}
	if c.BotToken == "" && c.Client == nil {
		return channels.NewError(channels.ErrCodeInvalidInput, c.ChannelID, "bot_token is required", nil)
	}
	switch c.TriggerMode {
	case TriggerDMOnly, TriggerMentionOrDM, TriggerAllMessages:
	case "":
		c.TriggerMode = TriggerMentionOrDM
	default:
		return channels.NewError(channels.ErrCodeInvalidInput, c.ChannelID, "unknown trigger_mode "+string(c.TriggerMode), nil)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter implements channels.Adapter for Slack.
type Adapter struct {
	config Config
	client WebClient
	seen   *infra.SeenSet
	logger *slog.Logger
}

// NewAdapter creates a Slack adapter.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	client := config.Client
	if client == nil {
		client = slackapi.New(config.BotToken)
	}
	return &Adapter{
		config: config,
		client: client,
		seen:   infra.NewSeenSet(infra.DefaultSeenSetCapacity),
		logger: config.Logger.With("component", "slack", "channel_id", config.ChannelID),
	}, nil
}

// ChannelID returns the configured channel id.
func (a *Adapter) ChannelID() string { return a.config.ChannelID }

// Challenge extracts the url_verification challenge, if the payload is
// one. The webhook handler echoes it synchronously.
func Challenge(raw []byte) (string, bool) {
	api, err := slackevents.ParseEvent(json.RawMessage(raw), slackevents.OptionNoVerifyToken())
	if err != nil || api.Type != slackevents.URLVerification {
		return "", false
	}
	ver, ok := api.Data.(*slackevents.EventsAPIURLVerificationEvent)
	if !ok {
		return "", false
	}
	return ver.Challenge, true
}

// ParseEvent converts a verified event callback into an inbound
// message. Bot echoes, uninteresting event types, out-of-policy
// messages, and redelivered event ids all return nil without error.
func (a *Adapter) ParseEvent(raw []byte) (*models.InboundMessage, error) {
	api, err := slackevents.ParseEvent(json.RawMessage(raw), slackevents.OptionNoVerifyToken())
	if err != nil {
		return nil, channels.NewError(channels.ErrCodeInvalidInput, a.config.ChannelID, "decode event", err)
	}
	if api.Type != slackevents.CallbackEvent {
		return nil, nil
	}

	// App mentions carry a MessageEvent subset; normalize so the rest
	// of the pipeline handles one shape.
	var ev *slackevents.MessageEvent
	eventType := api.InnerEvent.Type
	switch inner := api.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		if inner.BotID != "" || inner.SubType == "bot_message" {
			return nil, nil
		}
		ev = inner
	case *slackevents.AppMentionEvent:
		if inner.BotID != "" {
			return nil, nil
		}
		ev = &slackevents.MessageEvent{
			Type:            inner.Type,
			User:            inner.User,
			Text:            inner.Text,
			TimeStamp:       inner.TimeStamp,
			ThreadTimeStamp: inner.ThreadTimeStamp,
			Channel:         inner.Channel,
		}
	default:
		return nil, nil
	}
	if !a.triggered(eventType, ev.ChannelType) {
		a.logger.Debug("message outside trigger policy",
			"event_type", eventType, "channel_type", ev.ChannelType)
		return nil, nil
	}

	messageID := ""
	if cb, ok := api.Data.(*slackevents.EventsAPICallbackEvent); ok {
		messageID = cb.EventID
	}
	if messageID == "" {
		messageID = ev.ClientMsgID
	}
	if messageID == "" {
		messageID = ev.TimeStamp + "_" + ev.Channel + "_" + ev.User
	}
	if a.seen.Seen(messageID) {
		a.logger.Debug("redelivered event dropped", "event_id", messageID)
		return nil, nil
	}

	conversationKey := ev.Channel
	if ev.ThreadTimeStamp != "" && ev.ThreadTimeStamp != ev.TimeStamp {
		conversationKey = ev.Channel + ":" + ev.ThreadTimeStamp
	}

	msg := models.NewInboundMessage(
		a.config.ChannelID, ev.User, conversationKey, messageID,
		parseSlackTS(ev.TimeStamp), models.TypeText,
	)
	msg.Text = ev.Text
	return msg, nil
}

func (a *Adapter) triggered(eventType, channelType string) bool {
	isDM := channelType == "im"
	switch a.config.TriggerMode {
	case TriggerAllMessages:
		return true
	case TriggerDMOnly:
		return isDM
	default:
		return isDM || eventType == string(slackevents.AppMention)
	}
}

// parseSlackTS converts a "1710000000.000100" timestamp to UTC time.
func parseSlackTS(ts string) time.Time {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil || f <= 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// Send posts the message, threading when the conversation key carries a
// thread timestamp.
func (a *Adapter) Send(ctx context.Context, msg *models.OutboundMessage) error {
	channel, threadTS := splitConversationKey(msg.ConversationKey)
	if channel == "" {
		channel = msg.UserKey
	}

	opts := []slackapi.MsgOption{slackapi.MsgOptionText(msg.Text, false)}
	if threadTS != "" {
		opts = append(opts, slackapi.MsgOptionTS(threadTS))
	}
	if _, _, err := a.client.PostMessageContext(ctx, channel, opts...); err != nil {
		code := channels.ErrCodeProvider
		if strings.Contains(err.Error(), "rate") {
			code = channels.ErrCodeRateLimit
		}
		return channels.NewError(code, a.config.ChannelID, "postMessage failed", err)
	}
	a.logger.Debug("message sent", "channel", channel, "thread_ts", threadTS)
	return nil
}

// splitConversationKey undoes the channel[:thread_ts] composition.
func splitConversationKey(key string) (channel, threadTS string) {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}
