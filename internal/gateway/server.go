// Package gateway is the HTTP boundary: webhook endpoints per channel,
// channel administration, health, and metrics. Signature verification
// happens here, before any payload is parsed.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crosswire/crosswire/internal/bus"
	"github.com/crosswire/crosswire/internal/channels/discord"
	"github.com/crosswire/crosswire/internal/channels/slack"
	"github.com/crosswire/crosswire/internal/channels/sms"
	"github.com/crosswire/crosswire/internal/channels/telegram"
	"github.com/crosswire/crosswire/internal/channels/whatsapp"
	"github.com/crosswire/crosswire/internal/commands"
	"github.com/crosswire/crosswire/internal/manifest"
	"github.com/crosswire/crosswire/internal/sessions"
	"github.com/crosswire/crosswire/internal/store"
)

// discordEditBudget is how long a background interaction task may run;
// the interaction token expires after 15 minutes.
const discordEditBudget = 15 * time.Minute

// WhatsAppChannel bundles a WhatsApp adapter with its webhook secret.
type WhatsAppChannel struct {
	Adapter   *whatsapp.Adapter
	AuthToken string
}

// TelegramChannel bundles a Telegram adapter with its webhook secret.
type TelegramChannel struct {
	Adapter       *telegram.Adapter
	WebhookSecret string
}

// SlackChannel bundles a Slack adapter with its signing secret.
type SlackChannel struct {
	Adapter       *slack.Adapter
	SigningSecret string
}

// DiscordChannel bundles a Discord adapter with its public key.
type DiscordChannel struct {
	Adapter   *discord.Adapter
	PublicKey string
}

// Config wires the server's collaborators. Channel entries are
// optional; a nil channel 404s its webhook.
type Config struct {
	ListenAddr string

	// PublicURL is the external base URL Twilio signs requests
	// against.
	PublicURL string

	Bus          *bus.MessageBus
	Commands     *commands.Processor
	Sessions     *sessions.Router
	SessionStore *sessions.Store
	Manifests    *manifest.Registry
	ConfigStore  *store.ChannelConfigStore

	WhatsApp *WhatsAppChannel
	Telegram *TelegramChannel
	Slack    *SlackChannel
	Discord  *DiscordChannel
	SMS      []*sms.Adapter

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Logger *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Bus == nil {
		return fmt.Errorf("gateway: bus is required")
	}
	if c.Commands == nil {
		return fmt.Errorf("gateway: command processor is required")
	}
	if c.Manifests == nil {
		return fmt.Errorf("gateway: manifest registry is required")
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 15 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Server is the gateway HTTP server.
type Server struct {
	config Config
	logger *slog.Logger
	http   *http.Server
}

// NewServer builds the server and its routes.
func NewServer(config Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		config: config,
		logger: config.Logger.With("component", "gateway"),
	}
	s.http = &http.Server{
		Addr:         config.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /webhook/whatsapp_twilio", s.handleWhatsApp)
	mux.HandleFunc("POST /webhook/telegram", s.handleTelegram)
	mux.HandleFunc("POST /webhook/slack", s.handleSlack)
	mux.HandleFunc("POST /webhook/discord/interactions", s.handleDiscord)
	mux.HandleFunc("POST /webhook/sms/twilio/{token}", s.handleSMS)

	mux.HandleFunc("GET /channels/status", s.handleChannelStatus)
	mux.HandleFunc("GET /channels/manifests", s.handleManifestList)
	mux.HandleFunc("GET /channels/manifests/{id}", s.handleManifestGet)
	mux.HandleFunc("POST /channels/manifests/{id}/validate", s.handleManifestValidate)
	mux.HandleFunc("POST /channels/manifests/{id}/test", s.handleManifestTest)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	return mux
}

// Handler exposes the routed handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info("gateway listening", "addr", s.config.ListenAddr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
