// Package sms implements the SMS channel over the Twilio messaging
// API. Inbound webhooks are addressed by a secret path token; outbound
// messages go through the Twilio REST endpoint.
package sms

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/crosswire/crosswire/internal/channels"
	"github.com/crosswire/crosswire/internal/infra"
	"github.com/crosswire/crosswire/internal/security"
	"github.com/crosswire/crosswire/pkg/models"
)

const (
	defaultAPIBase = "https://api.twilio.com"

	// DefaultMaxLength caps outbound message size.
	DefaultMaxLength = 480

	// Segment sizes for GSM-7 encoding: single messages carry 160
	// characters, concatenated ones 153 per segment.
	singleSegmentChars = 160
	multiSegmentChars  = 153
)

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// ValidE164 reports whether number is a well-formed E.164 phone number.
func ValidE164(number string) bool {
	return e164Pattern.MatchString(number)
}

// SegmentCount returns how many SMS segments text occupies.
func SegmentCount(text string) int {
	n := len(text)
	if n <= singleSegmentChars {
		return 1
	}
	return (n + multiSegmentChars - 1) / multiSegmentChars
}

// Config holds one SMS channel's Twilio settings.
type Config struct {
	// ChannelID is the configured channel instance id (required).
	ChannelID string

	// AccountSID and AuthToken authenticate against Twilio (required).
	AccountSID string
	AuthToken  string

	// FromNumber is the sending number in E.164 form (required).
	FromNumber string

	// PathToken is the secret webhook path segment (required for
	// inbound).
	PathToken string

	// MaxLength caps outbound text; defaults to 480.
	MaxLength int

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
		return channels.NewError(channels.ErrCodeInvalidInput, "sms", "channel_id is required", nil)
	}
	if c.AccountSID == "" || c.AuthToken == "" {
		return channels.NewError(channels.ErrCodeInvalidInput, c.ChannelID, "account_sid and auth_token are required", nil)
	}
	if !ValidE164(c.FromNumber) {
		return channels.NewError(channels.ErrCodeInvalidInput, c.ChannelID, "from_number is not E.164", nil)
	}
	if c.MaxLength <= 0 {
		c.MaxLength = DefaultMaxLength
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

// Adapter implements channels.Adapter for SMS via Twilio.
type Adapter struct {
	config Config
	seen   *infra.SeenSet
	logger *slog.Logger
}

// NewAdapter creates an SMS adapter.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		config: config,
		seen:   infra.NewSeenSet(infra.DefaultSeenSetCapacity),
		logger: config.Logger.With("component", "sms", "channel_id", config.ChannelID),
	}, nil
}

// ChannelID returns the configured channel id.
func (a *Adapter) ChannelID() string { return a.config.ChannelID }

// PathToken returns the secret webhook path segment.
func (a *Adapter) PathToken() string { return a.config.PathToken }

// AuthToken exposes the signing secret for webhook verification.
func (a *Adapter) AuthToken() string { return a.config.AuthToken }

// ParseForm converts a verified Twilio webhook form into an inbound
// message. Redelivered MessageSids return nil.
func (a *Adapter) ParseForm(form url.Values) (*models.InboundMessage, error) {
	sid := form.Get("MessageSid")
	if sid == "" {
		return nil, channels.NewError(channels.ErrCodeInvalidInput, a.config.ChannelID, "missing MessageSid", nil)
	}
	from := form.Get("From")
	if from == "" {
		return nil, channels.NewError(channels.ErrCodeInvalidInput, a.config.ChannelID, "missing From", nil)
	}
	if a.seen.Seen(sid) {
		a.logger.Debug("redelivered MessageSid dropped", "message_sid", sid)
		return nil, nil
	}

	msg := models.NewInboundMessage(a.config.ChannelID, from, from, sid, time.Time{}, models.TypeText)
	msg.Text = form.Get("Body")
	// Phone numbers never reach the audit trail in the clear.
	msg.Metadata["from_hash"] = security.HashPhoneNumber(from)
	return msg, nil
}

// Send delivers a text through the Twilio REST API.
func (a *Adapter) Send(ctx context.Context, msg *models.OutboundMessage) error {
	if !ValidE164(msg.UserKey) {
		return channels.NewError(channels.ErrCodeInvalidInput, a.config.ChannelID,
			"recipient is not E.164", nil)
	}
	if len(msg.Text) > a.config.MaxLength {
		return channels.NewError(channels.ErrCodeInvalidInput, a.config.ChannelID,
			fmt.Sprintf("text exceeds %d characters", a.config.MaxLength), nil)
	}

	form := url.Values{}
	form.Set("From", a.config.FromNumber)
	form.Set("To", msg.UserKey)
	form.Set("Body", msg.Text)

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

	a.logger.Debug("sms sent",
		"to_hash", security.HashPhoneNumber(msg.UserKey),
		"segments", SegmentCount(msg.Text))
	return nil
}
