package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/crosswire/crosswire/internal/channels/slack"
	"github.com/crosswire/crosswire/internal/channels/sms"
	"github.com/crosswire/crosswire/internal/commands"
	"github.com/crosswire/crosswire/internal/security"
	"github.com/crosswire/crosswire/internal/sessions"
	"github.com/crosswire/crosswire/pkg/models"
)

// maxWebhookBody caps webhook payload reads.
const maxWebhookBody = 1 << 20

// dispatch runs an inbound message through the bus. Commands get a
// reply from the processor, sent back through the bus; other messages
// reach the chat backend via its inbound handler subscription. The
// command reply text is returned for platforms that answer in-band.
//
// An already-active session is stamped on the message before it enters
// the bus, so the audit trail can attribute it. Session creation and the
// message count bump wait until the middleware chain accepts the
// message; a deduped or rejected delivery must not mutate session state.
func (s *Server) dispatch(ctx context.Context, msg *models.InboundMessage) (string, error) {
	trackSession := s.config.Sessions != nil && !commands.IsCommand(msg.Text)
	if trackSession && s.config.SessionStore != nil {
		sess, err := s.config.SessionStore.GetActiveSession(ctx, s.config.Sessions.KeyFor(msg))
		if err == nil {
			msg.Metadata["session_id"] = sess.ID
		} else if !errors.Is(err, sessions.ErrNoActiveSession) {
			s.logger.Warn("session lookup failed", "message_id", msg.MessageID, "error", err)
		}
	}

	pc := s.config.Bus.PublishInbound(ctx, msg)
	if !pc.ShouldContinue() {
		if pc.Status == models.StatusError {
			return "", pc.Err
		}
		return "", nil
	}

	if trackSession {
		sess, err := s.config.Sessions.Resolve(ctx, msg)
		if err != nil {
			s.logger.Warn("session resolve failed", "message_id", msg.MessageID, "error", err)
		} else {
			msg.Metadata["session_id"] = sess.ID
			if s.config.SessionStore != nil {
				if err := s.config.SessionStore.IncrementMessageCount(ctx, sess.ID); err != nil {
					s.logger.Warn("message count bump failed", "session_id", sess.ID, "error", err)
				}
			}
		}
	}

	if commands.IsCommand(msg.Text) {
		reply, err := s.config.Commands.Process(ctx, msg)
		if err != nil {
			return "", err
		}
		if out := s.config.Bus.SendOutbound(ctx, reply); out.Status == models.StatusError {
			s.logger.Warn("command reply delivery failed",
				"channel_id", msg.ChannelID, "error", out.Err)
		}
		return reply.Text, nil
	}
	return "", nil
}

// DispatchInbound runs an externally sourced inbound message, such as
// one produced by a polling adapter, through the same pipeline as
// webhook traffic.
func (s *Server) DispatchInbound(ctx context.Context, msg *models.InboundMessage) error {
	_, err := s.dispatch(ctx, msg)
	return err
}

// formParams flattens single-valued POST form data for Twilio signing.
func formParams(r *http.Request) map[string]string {
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params
}

// requestURL reconstructs the externally visible URL Twilio signed.
func (s *Server) requestURL(r *http.Request) string {
	if s.config.PublicURL != "" {
		return s.config.PublicURL + r.URL.RequestURI()
	}
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// handleWhatsApp verifies the Twilio SHA-256 signature and acks 200.
// Processing is asynchronous; Twilio retries only on non-2xx.
func (s *Server) handleWhatsApp(w http.ResponseWriter, r *http.Request) {
	ch := s.config.WhatsApp
	if ch == nil {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	if !security.VerifyTwilioSHA256(ch.AuthToken, s.requestURL(r), formParams(r), r.Header.Get("X-Twilio-Signature")) {
		s.logger.Warn("whatsapp signature rejected")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	msg, err := ch.Adapter.ParseForm(r.PostForm)
	if err != nil {
		// Signature was valid, so this is Twilio-shaped garbage;
		// 200 keeps Twilio from retrying it forever.
		s.logger.Warn("whatsapp parse failed", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	go s.dispatchAsync(msg)
	w.WriteHeader(http.StatusOK)
}

// handleTelegram always acks 200 once the secret token matches, per
// Telegram's retry semantics.
func (s *Server) handleTelegram(w http.ResponseWriter, r *http.Request) {
	ch := s.config.Telegram
	if ch == nil {
		http.NotFound(w, r)
		return
	}
	if !security.VerifyTelegram(ch.WebhookSecret, r.Header.Get("X-Telegram-Bot-Api-Secret-Token")) {
		s.logger.Warn("telegram secret token rejected")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	msg, err := ch.Adapter.ParseUpdate(body)
	if err != nil {
		s.logger.Warn("telegram parse failed", "error", err)
	}
	if msg != nil {
		go s.dispatchAsync(msg)
	}
	w.WriteHeader(http.StatusOK)
}

// handleSlack echoes url_verification synchronously and otherwise acks
// within the 3 second budget, processing in the background.
func (s *Server) handleSlack(w http.ResponseWriter, r *http.Request) {
	ch := s.config.Slack
	if ch == nil {
		http.NotFound(w, r)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}
	if !security.VerifySlack(ch.SigningSecret, body,
		r.Header.Get("X-Slack-Request-Timestamp"), r.Header.Get("X-Slack-Signature"), time.Now()) {
		s.logger.Warn("slack signature rejected")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	if challenge, ok := slack.Challenge(body); ok {
		writeJSON(w, http.StatusOK, map[string]string{"challenge": challenge})
		return
	}

	go func() {
		msg, err := ch.Adapter.ParseEvent(body)
		if err != nil {
			s.logger.Warn("slack parse failed", "error", err)
			return
		}
		if msg != nil {
			s.dispatchAsync(msg)
		}
	}()
	w.WriteHeader(http.StatusOK)
}

// handleDiscord answers PING with pong and commands with a deferred
// response, then finishes in the background by editing the original.
func (s *Server) handleDiscord(w http.ResponseWriter, r *http.Request) {
	ch := s.config.Discord
	if ch == nil {
		http.NotFound(w, r)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}
	if !security.VerifyDiscord(ch.PublicKey,
		r.Header.Get("X-Signature-Timestamp"), body, r.Header.Get("X-Signature-Ed25519")) {
		s.logger.Warn("discord signature rejected")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	parsed, err := ch.Adapter.ParseInteraction(body)
	if err != nil {
		http.Error(w, "bad interaction", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"type": parsed.Ack})

	if parsed.Msg == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), discordEditBudget)
		defer cancel()

		reply, err := s.dispatch(ctx, parsed.Msg)
		if err != nil {
			s.logger.Error("discord background processing failed",
				"interaction_id", parsed.Msg.MessageID, "error", err)
			reply = "Something went wrong handling that command."
		}
		if reply == "" {
			reply = "Done."
		}
		if err := ch.Adapter.EditOriginal(ctx, parsed.AppID, parsed.Token, reply); err != nil {
			s.logger.Error("discord response edit failed", "error", err)
		}
	}()
}

// handleSMS routes by path token, verifies the SHA-1 signature, and
// acks 200 before processing.
func (s *Server) handleSMS(w http.ResponseWriter, r *http.Request) {
	adapter := s.smsAdapterByToken(r.PathValue("token"))
	if adapter == nil {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	if !security.VerifyTwilioSHA1(adapter.AuthToken(), s.requestURL(r), formParams(r), r.Header.Get("X-Twilio-Signature")) {
		s.logger.Warn("sms signature rejected", "channel_id", adapter.ChannelID())
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	msg, err := adapter.ParseForm(r.PostForm)
	if err != nil {
		s.logger.Warn("sms parse failed", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}
	if msg != nil {
		go s.dispatchAsync(msg)
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) smsAdapterByToken(token string) *sms.Adapter {
	if token == "" {
		return nil
	}
	for _, a := range s.config.SMS {
		if a != nil && a.PathToken() == token {
			return a
		}
	}
	return nil
}

func (s *Server) dispatchAsync(msg *models.InboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := s.dispatch(ctx, msg); err != nil {
		s.logger.Error("background dispatch failed",
			"channel_id", msg.ChannelID, "message_id", msg.MessageID, "error", err)
	}
}
