// Package commands implements the built-in slash commands. The processor
// only produces reply messages; callers enqueue them through the bus.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/crosswire/crosswire/internal/sessions"
	"github.com/crosswire/crosswire/pkg/models"
)

const helpText = `Available commands:
/session new - start a new session
/session id - show the current session
/session list [N] - list recent sessions
/session use <id> - switch to a session
/session close - archive the current session
/help - show this message`

const (
	listDefault = 10
	listMax     = 50
)

// Processor handles slash commands against the session store.
type Processor struct {
	store  *sessions.Store
	router *sessions.Router
	logger *slog.Logger
}

// NewProcessor wires a command processor.
func NewProcessor(store *sessions.Store, router *sessions.Router, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:  store,
		router: router,
		logger: logger.With("component", "commands"),
	}
}

// IsCommand reports whether text is a slash command.
func IsCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}

// Process dispatches a command message and returns the reply. The reply
// always carries metadata.command naming the dispatched command.
func (p *Processor) Process(ctx context.Context, msg *models.InboundMessage) (*models.OutboundMessage, error) {
	parts := strings.Fields(msg.Text)
	if len(parts) == 0 {
		parts = []string{""}
	}
	cmd := parts[0]

	var (
		text string
		err  error
	)
	switch cmd {
	case "/session":
		text, err = p.sessionCommand(ctx, msg, parts[1:])
	case "/help":
		text = helpText
	default:
		text = fmt.Sprintf("Unknown command %s. Try /help for the list of commands.", cmd)
	}
	if err != nil {
		p.logger.Warn("command failed", "command", cmd, "error", err)
		text = fmt.Sprintf("Command failed: %v. Try /help.", err)
	}

	reply, buildErr := models.NewTextMessage(msg.ChannelID, msg.UserKey, msg.ConversationKey, text)
	if buildErr != nil {
		return nil, buildErr
	}
	reply.ReplyToMessageID = msg.MessageID
	reply.SetMeta("command", cmd)
	return reply, nil
}

func (p *Processor) sessionCommand(ctx context.Context, msg *models.InboundMessage, args []string) (string, error) {
	sub := "id"
	if len(args) > 0 && args[0] != "" {
		sub = args[0]
	}
	key := p.router.KeyFor(msg)

	switch sub {
	case "new":
		sess, err := p.store.CreateSession(ctx, key, "")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("✅ Started session %s", sess.ID), nil

	case "id":
		sess, err := p.store.GetActiveSession(ctx, key)
		if errors.Is(err, sessions.ErrNoActiveSession) {
			return "No active session. Use /session new to start one.", nil
		}
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Session %s\nStatus: %s\nMessages: %d\nCreated: %s",
			sess.ID, sess.Status, sess.MessageCount,
			sess.CreatedAt.Format("2006-01-02 15:04 UTC")), nil

	case "list":
		limit := listDefault
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return "", fmt.Errorf("invalid count %q", args[1])
			}
			limit = clamp(n, 1, listMax)
		}
		list, err := p.store.ListSessions(ctx, msg.ChannelID, msg.UserKey, limit)
		if err != nil {
			return "", err
		}
		if len(list) == 0 {
			return "No sessions yet. Use /session new to start one.", nil
		}
		var activeID string
		if active, err := p.store.GetActiveSession(ctx, key); err == nil {
			activeID = active.ID
		}
		var b strings.Builder
		b.WriteString("Sessions:\n")
		for _, sess := range list {
			marker := "  "
			if sess.ID == activeID {
				marker = "* "
			}
			title := sess.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Fprintf(&b, "%s%s  %s  %d msgs\n", marker, sess.ID, title, sess.MessageCount)
		}
		return strings.TrimRight(b.String(), "\n"), nil

	case "use":
		if len(args) < 2 || args[1] == "" {
			return "", fmt.Errorf("usage: /session use <id>")
		}
		id := args[1]
		err := p.store.SwitchSession(ctx, key, id)
		switch {
		case errors.Is(err, sessions.ErrSessionNotFound):
			return "", fmt.Errorf("session %s not found", id)
		case errors.Is(err, sessions.ErrNotOwner):
			return "", fmt.Errorf("session %s not found", id)
		case err != nil:
			return "", err
		}
		return fmt.Sprintf("✅ Switched to session %s", id), nil

	case "close":
		sess, err := p.store.GetActiveSession(ctx, key)
		if errors.Is(err, sessions.ErrNoActiveSession) {
			return "No active session to close.", nil
		}
		if err != nil {
			return "", err
		}
		if err := p.store.ArchiveSession(ctx, sess.ID); err != nil {
			return "", err
		}
		return fmt.Sprintf("✅ Closed session %s", sess.ID), nil

	default:
		return "", fmt.Errorf("unknown subcommand %q, see /help", sub)
	}
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
