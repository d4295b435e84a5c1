package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/crosswire/crosswire/internal/bus"
	"github.com/crosswire/crosswire/internal/channels/discord"
	"github.com/crosswire/crosswire/internal/channels/email"
	"github.com/crosswire/crosswire/internal/channels/slack"
	"github.com/crosswire/crosswire/internal/channels/sms"
	"github.com/crosswire/crosswire/internal/channels/telegram"
	"github.com/crosswire/crosswire/internal/channels/whatsapp"
	"github.com/crosswire/crosswire/internal/commands"
	"github.com/crosswire/crosswire/internal/config"
	"github.com/crosswire/crosswire/internal/gateway"
	"github.com/crosswire/crosswire/internal/manifest"
	"github.com/crosswire/crosswire/internal/middleware"
	"github.com/crosswire/crosswire/internal/security"
	"github.com/crosswire/crosswire/internal/sessions"
	"github.com/crosswire/crosswire/internal/store"
	"github.com/crosswire/crosswire/pkg/models"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Long: `Start the gateway with all configured channels.

The server loads the configuration file, opens the SQLite stores,
loads channel manifests, starts the polling adapters, and serves the
webhook and admin endpoints until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "crosswire.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := buildLogger(cfg.Logging, debug)
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Storage.Dir, 0o755); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}
	dbPath := func(name string) string { return filepath.Join(cfg.Storage.Dir, name) }

	dedupeStore, err := store.NewDedupeStore(dbPath("dedupe.db"))
	if err != nil {
		return err
	}
	defer dedupeStore.Close()
	rateStore, err := store.NewRateLimitStore(dbPath("ratelimit.db"))
	if err != nil {
		return err
	}
	defer rateStore.Close()
	auditStore, err := store.NewAuditStore(dbPath("audit.db"))
	if err != nil {
		return err
	}
	defer auditStore.Close()
	configStore, err := store.NewChannelConfigStore(dbPath("channels.db"))
	if err != nil {
		return err
	}
	defer configStore.Close()
	cursorStore, err := store.NewCursorStore(dbPath("cursors.db"))
	if err != nil {
		return err
	}
	defer cursorStore.Close()
	sessionStore, err := sessions.NewStore(dbPath("sessions.db"))
	if err != nil {
		return err
	}
	defer sessionStore.Close()

	registry := manifest.NewRegistry(cfg.ManifestDir, logger)
	if err := registry.Load(); err != nil {
		return err
	}
	if err := registry.Watch(ctx); err != nil {
		logger.Warn("manifest watch unavailable", "error", err)
	}
	defer registry.Close()

	engine := security.NewEngine(nil)
	for _, ch := range cfg.Channels {
		if ch.Security != nil {
			engine.SetPolicy(ch.ID, ch.Security)
		}
	}

	b := bus.New(logger, bus.NewMetrics(prometheus.DefaultRegisterer))
	b.Use(middleware.NewDedupe(dedupeStore, logger))
	b.Use(middleware.NewRateLimit(rateStore, engine, 0, logger))
	b.Use(middleware.NewAudit(auditStore, logger))
	b.Use(middleware.NewPolicyEnforcer(engine, logger))

	router := sessions.NewRouter(sessionStore, registry)
	processor := commands.NewProcessor(sessionStore, router, logger)

	// The gateway server is built after the adapters, but the email
	// publisher needs it; bind late through the pointer.
	var srv *gateway.Server
	publish := func(ctx context.Context, msg *models.InboundMessage) {
		if err := srv.DispatchInbound(ctx, msg); err != nil {
			logger.Error("inbound dispatch failed",
				"channel_id", msg.ChannelID, "message_id", msg.MessageID, "error", err)
		}
	}

	gwCfg := gateway.Config{
		ListenAddr:   cfg.Server.ListenAddr,
		PublicURL:    cfg.Server.PublicURL,
		Bus:          b,
		Commands:     processor,
		Sessions:     router,
		SessionStore: sessionStore,
		Manifests:    registry,
		ConfigStore:  configStore,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Logger:       logger,
	}

	var pollers []*email.Adapter
	for _, ch := range cfg.Channels {
		if !ch.Enabled {
			continue
		}
		set := ch.Settings
		switch ch.Type {
		case "whatsapp":
			a, err := whatsapp.NewAdapter(whatsapp.Config{
				ChannelID:  ch.ID,
				AccountSID: set["account_sid"],
				AuthToken:  set["auth_token"],
				FromNumber: set["from_number"],
				Logger:     logger,
			})
			if err != nil {
				return fmt.Errorf("channel %s: %w", ch.ID, err)
			}
			b.RegisterAdapter(a)
			gwCfg.WhatsApp = &gateway.WhatsAppChannel{Adapter: a, AuthToken: set["auth_token"]}
		case "telegram":
			a, err := telegram.NewAdapter(telegram.Config{
				ChannelID: ch.ID,
				Token:     set["token"],
				Logger:    logger,
			})
			if err != nil {
				return fmt.Errorf("channel %s: %w", ch.ID, err)
			}
			b.RegisterAdapter(a)
			gwCfg.Telegram = &gateway.TelegramChannel{Adapter: a, WebhookSecret: set["webhook_secret"]}
		case "slack":
			a, err := slack.NewAdapter(slack.Config{
				ChannelID:   ch.ID,
				BotToken:    set["bot_token"],
				TriggerMode: slack.TriggerMode(set["trigger_mode"]),
				Logger:      logger,
			})
			if err != nil {
				return fmt.Errorf("channel %s: %w", ch.ID, err)
			}
			b.RegisterAdapter(a)
			gwCfg.Slack = &gateway.SlackChannel{Adapter: a, SigningSecret: set["signing_secret"]}
		case "discord":
			a, err := discord.NewAdapter(discord.Config{
				ChannelID: ch.ID,
				BotToken:  set["bot_token"],
				Logger:    logger,
			})
			if err != nil {
				return fmt.Errorf("channel %s: %w", ch.ID, err)
			}
			b.RegisterAdapter(a)
			gwCfg.Discord = &gateway.DiscordChannel{Adapter: a, PublicKey: set["public_key"]}
		case "sms":
			a, err := sms.NewAdapter(sms.Config{
				ChannelID:  ch.ID,
				AccountSID: set["account_sid"],
				AuthToken:  set["auth_token"],
				FromNumber: set["from_number"],
				PathToken:  set["path_token"],
				Logger:     logger,
			})
			if err != nil {
				return fmt.Errorf("channel %s: %w", ch.ID, err)
			}
			b.RegisterAdapter(a)
			gwCfg.SMS = append(gwCfg.SMS, a)
		case "email":
			a, err := buildEmailAdapter(ch, cursorStore, publish, logger)
			if err != nil {
				return fmt.Errorf("channel %s: %w", ch.ID, err)
			}
			b.RegisterAdapter(a)
			pollers = append(pollers, a)
		}

		if err := configStore.SaveConfig(ctx, ch.ID, set); err != nil {
			logger.Warn("channel config save failed", "channel_id", ch.ID, "error", err)
		} else if err := configStore.SetEnabled(ctx, ch.ID, true); err != nil {
			logger.Warn("channel enable failed", "channel_id", ch.ID, "error", err)
		}
	}

	srv, err = gateway.NewServer(gwCfg)
	if err != nil {
		return err
	}

	janitor := store.NewJanitor(dedupeStore, rateStore, auditStore, logger)
	if err := janitor.Start(); err != nil {
		return fmt.Errorf("janitor: %w", err)
	}
	defer janitor.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	for _, p := range pollers {
		if err := p.Start(runCtx); err != nil {
			logger.Error("email adapter start failed", "channel_id", p.ChannelID(), "error", err)
			if err := configStore.SetError(runCtx, p.ChannelID(), err.Error()); err != nil {
				logger.Warn("channel error record failed", "channel_id", p.ChannelID(), "error", err)
			}
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("shutting down", "reason", "context cancelled")
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	for _, p := range pollers {
		if err := p.Stop(shutdownCtx); err != nil {
			logger.Warn("email adapter stop timed out", "channel_id", p.ChannelID(), "error", err)
		}
	}
	return srv.Shutdown(shutdownCtx)
}

func buildEmailAdapter(ch config.ChannelConfig, cursors *store.CursorStore, publish email.Publisher, logger *slog.Logger) (*email.Adapter, error) {
	set := ch.Settings
	if p := set["provider"]; p != "" && p != "gmail" {
		return nil, fmt.Errorf("unknown email provider %q", p)
	}
	provider := email.NewGmailProvider(email.GmailConfig{
		ClientID:     set["client_id"],
		ClientSecret: set["client_secret"],
		RefreshToken: set["refresh_token"],
		Logger:       logger,
	})

	var interval time.Duration
	if raw := set["poll_interval"]; raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("poll_interval: %w", err)
		}
		interval = d
	}
	return email.NewAdapter(email.Config{
		ChannelID:    ch.ID,
		Provider:     provider,
		Cursors:      cursors,
		Publish:      publish,
		Folder:       set["folder"],
		PollInterval: interval,
		FromAddress:  set["address"],
		Logger:       logger,
	})
}

func buildLogger(lc config.LoggingConfig, debug bool) *slog.Logger {
	level := slog.LevelInfo
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
