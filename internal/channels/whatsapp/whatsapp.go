// Package whatsapp implements the WhatsApp channel over the Twilio
// messaging API. Inbound traffic arrives as form-encoded webhooks;
// outbound goes through the Twilio REST endpoint.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/crosswire/crosswire/internal/channels"
	"github.com/crosswire/crosswire/pkg/models"
)

const defaultAPIBase = "https://api.twilio.com"

// peerPrefix marks WhatsApp addresses in Twilio's numbering scheme.
const peerPrefix = "whatsapp:"

// Config holds the Twilio credentials for one WhatsApp channel.
type Config struct {
	// ChannelID is the configured channel instance id (required).
	ChannelID string

	// AccountSID and AuthToken authenticate against Twilio (required).
	AccountSID string
	AuthToken  string

	// FromNumber is the sending number in E.164 form, without the
	// whatsapp: prefix (required).
	FromNumber string

	// APIBase overrides the Twilio endpoint, used by tests.
	APIBase string

	// HTTPClient overrides the egress client.
	HTTPClient *http.Client

	// Logger is an optional slog.Logger instance.
	Logger *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.ChannelID == "" {
		return channels.NewError(channels.ErrCodeInvalidInput, "whatsapp", "channel_id is required", nil)
	}
	if c.AccountSID == "" || c.AuthToken == "" {
		return channels.NewError(channels.ErrCodeInvalidInput, c.ChannelID, "account_sid and auth_token are required", nil)
	}
	if c.FromNumber == "" {
		return channels.NewError(channels.ErrCodeInvalidInput, c.ChannelID, "from_number is required", nil)
	}
	if c.APIBase == "" {
		c.APIBase = defaultAPIBase
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter implements channels.Adapter for WhatsApp via Twilio.
type Adapter struct {
	config Config
	logger *slog.Logger
}

// NewAdapter creates a WhatsApp adapter.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		config: config,
		logger: config.Logger.With("component", "whatsapp", "channel_id", config.ChannelID),
	}, nil
}

// ChannelID returns the configured channel id.
func (a *Adapter) ChannelID() string { return a.config.ChannelID }

// ParseForm converts a verified Twilio webhook form into an inbound
// message. The peer number doubles as user and conversation key.
func (a *Adapter) ParseForm(form url.Values) (*models.InboundMessage, error) {
	sid := form.Get("MessageSid")
	if sid == "" {
		return nil, channels.NewError(channels.ErrCodeInvalidInput, a.config.ChannelID, "missing MessageSid", nil)
	}
	peer := strings.TrimPrefix(form.Get("From"), peerPrefix)
	if peer == "" {
		return nil, channels.NewError(channels.ErrCodeInvalidInput, a.config.ChannelID, "missing From", nil)
	}

	msg := models.NewInboundMessage(a.config.ChannelID, peer, peer, sid, time.Time{}, models.TypeText)
	msg.Text = form.Get("Body")
	msg.Metadata["to"] = strings.TrimPrefix(form.Get("To"), peerPrefix)

	numMedia, _ := strconv.Atoi(form.Get("NumMedia"))
	for i := 0; i < numMedia; i++ {
		mediaURL := form.Get(fmt.Sprintf("MediaUrl%d", i))
		if mediaURL == "" {
			continue
		}
		contentType := form.Get(fmt.Sprintf("MediaContentType%d", i))
		msg.Attachments = append(msg.Attachments, models.Attachment{
			Type:     models.AttachmentTypeFromMIME(contentType),
			URL:      mediaURL,
			MimeType: contentType,
		})
	}
	if len(msg.Attachments) > 0 {
		msg.Type = messageTypeFor(msg.Attachments[0].Type)
	}
	return msg, nil
}

func messageTypeFor(at models.AttachmentType) models.MessageType {
	switch at {
	case models.AttachmentImage:
		return models.TypeImage
	case models.AttachmentAudio:
		return models.TypeAudio
	case models.AttachmentVideo:
		return models.TypeVideo
	default:
		return models.TypeFile
	}
}

// Send delivers an outbound message through the Twilio REST API.
// Twilio carries at most one media URL per message; extras are dropped
// with a warning.
func (a *Adapter) Send(ctx context.Context, msg *models.OutboundMessage) error {
	form := url.Values{}
	form.Set("From", peerPrefix+a.config.FromNumber)
	form.Set("To", peerPrefix+msg.UserKey)
	if msg.Text != "" {
		form.Set("Body", msg.Text)
	}
	if len(msg.Attachments) > 0 {
		form.Set("MediaUrl", msg.Attachments[0].URL)
		if dropped := len(msg.Attachments) - 1; dropped > 0 {
			a.logger.Warn("dropping extra media attachments", "dropped", dropped)
		}
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", a.config.APIBase, a.config.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return channels.NewError(channels.ErrCodeInvalidInput, a.config.ChannelID, "build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(a.config.AccountSID, a.config.AuthToken)

	resp, err := a.config.HTTPClient.Do(req)
	if err != nil {
		return channels.NewError(channels.ErrCodeConnection, a.config.ChannelID, "twilio request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		code := channels.ErrCodeProvider
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			code = channels.ErrCodeAuthentication
		} else if resp.StatusCode == http.StatusTooManyRequests {
			code = channels.ErrCodeRateLimit
		}
		return channels.NewError(code, a.config.ChannelID,
			fmt.Sprintf("twilio returned %d: %s", resp.StatusCode, string(body)), nil)
	}

	a.logger.Debug("message sent", "to", msg.UserKey)
	return nil
}
