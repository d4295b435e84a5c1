package email

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const defaultGmailAPIBase = "https://gmail.googleapis.com/gmail/v1/users/me"

// GmailConfig holds the OAuth2 credentials for one Gmail mailbox.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string

	// APIBase overrides the Gmail endpoint, used by tests.
	APIBase string

	// HTTPClient overrides the OAuth2-wrapped client, used by tests.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// GmailProvider implements Provider over the Gmail REST API.
type GmailProvider struct {
	apiBase string
	client  *http.Client
	logger  *slog.Logger
}

// NewGmailProvider builds a provider whose HTTP client refreshes the
// OAuth2 token automatically.
func NewGmailProvider(cfg GmailConfig) *GmailProvider {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultGmailAPIBase
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		oauthCfg := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"https://www.googleapis.com/auth/gmail.modify"},
		}
		client = oauthCfg.Client(context.Background(), &oauth2.Token{RefreshToken: cfg.RefreshToken})
		client.Timeout = 30 * time.Second
	}
	return &GmailProvider{
		apiBase: cfg.APIBase,
		client:  client,
		logger:  cfg.Logger.With("component", "gmail"),
	}
}

// ValidateCredentials fetches the mailbox profile.
func (g *GmailProvider) ValidateCredentials(ctx context.Context) error {
	return g.getJSON(ctx, "/profile", &struct{}{})
}

type gmailListResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type gmailMessage struct {
	ID           string `json:"id"`
	InternalDate string `json:"internalDate"`
	Payload      struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
		Body  gmailBody   `json:"body"`
		Parts []gmailPart `json:"parts"`
	} `json:"payload"`
}

type gmailPart struct {
	MimeType string      `json:"mimeType"`
	Filename string      `json:"filename"`
	Body     gmailBody   `json:"body"`
	Parts    []gmailPart `json:"parts"`
}

type gmailBody struct {
	Data string `json:"data"`
	Size int64  `json:"size"`
}

// FetchMessages lists unread mail after since and resolves each message
// to an envelope. Individual resolution failures are logged and skipped.
func (g *GmailProvider) FetchMessages(ctx context.Context, folder string, since time.Time, limit int) ([]*Envelope, error) {
	query := fmt.Sprintf("in:%s is:unread after:%d", strings.ToLower(folder), since.Unix())
	var list gmailListResponse
	path := fmt.Sprintf("/messages?q=%s&maxResults=%d", strings.ReplaceAll(query, " ", "+"), limit)
	if err := g.getJSON(ctx, path, &list); err != nil {
		return nil, err
	}

	envelopes := make([]*Envelope, 0, len(list.Messages))
	for _, ref := range list.Messages {
		env, err := g.fetchOne(ctx, ref.ID)
		if err != nil {
			g.logger.Warn("message fetch failed", "gmail_id", ref.ID, "error", err)
			continue
		}
		envelopes = append(envelopes, env)
	}
	return envelopes, nil
}

func (g *GmailProvider) fetchOne(ctx context.Context, id string) (*Envelope, error) {
	var msg gmailMessage
	if err := g.getJSON(ctx, "/messages/"+id+"?format=full", &msg); err != nil {
		return nil, err
	}

	env := &Envelope{}
	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "message-id":
			env.MessageID = h.Value
		case "in-reply-to":
			env.InReplyTo = h.Value
		case "references":
			env.References = strings.Fields(h.Value)
		case "subject":
			env.Subject = h.Value
		case "from":
			if addr, err := mail.ParseAddress(h.Value); err == nil {
				env.From = Address{Name: addr.Name, Address: addr.Address}
			} else {
				env.From = Address{Address: h.Value}
			}
		case "to":
			env.To = parseAddressList(h.Value)
		case "cc":
			env.CC = parseAddressList(h.Value)
		case "date":
			if t, err := mail.ParseDate(h.Value); err == nil {
				env.Date = t.UTC()
			}
		}
	}
	// Gmail keeps its own internal id; remember it so MarkAsRead can
	// address the message without the RFC id.
	if env.MessageID == "" {
		env.MessageID = "<gmail-" + msg.ID + ">"
	}

	env.TextBody = findBody(msg.Payload.Parts, "text/plain")
	if env.TextBody == "" && msg.Payload.Body.Data != "" {
		env.TextBody = decodeBody(msg.Payload.Body.Data)
	}
	env.HTMLBody = findBody(msg.Payload.Parts, "text/html")
	collectAttachments(msg.Payload.Parts, env)
	return env, nil
}

func parseAddressList(value string) []Address {
	parsed, err := mail.ParseAddressList(value)
	if err != nil {
		return []Address{{Address: value}}
	}
	out := make([]Address, 0, len(parsed))
	for _, a := range parsed {
		out = append(out, Address{Name: a.Name, Address: a.Address})
	}
	return out
}

func findBody(parts []gmailPart, mimeType string) string {
	for _, p := range parts {
		if p.MimeType == mimeType && p.Body.Data != "" {
			return decodeBody(p.Body.Data)
		}
		if nested := findBody(p.Parts, mimeType); nested != "" {
			return nested
		}
	}
	return ""
}

func collectAttachments(parts []gmailPart, env *Envelope) {
	for _, p := range parts {
		if p.Filename != "" {
			env.Attachments = append(env.Attachments, AttachmentMeta{
				Filename: p.Filename,
				MimeType: p.MimeType,
				Size:     p.Body.Size,
			})
		}
		collectAttachments(p.Parts, env)
	}
}

func decodeBody(data string) string {
	decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(data)
	if err != nil {
		return ""
	}
	return string(decoded)
}

// SendMessage composes an RFC 822 message and posts it to the send
// endpoint.
func (g *GmailProvider) SendMessage(ctx context.Context, out *OutboundEmail) error {
	var b strings.Builder
	fmt.Fprintf(&b, "To: %s\r\n", joinAddresses(out.To))
	if len(out.CC) > 0 {
		fmt.Fprintf(&b, "Cc: %s\r\n", joinAddresses(out.CC))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", out.Subject)
	if out.InReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", out.InReplyTo)
	}
	if len(out.References) > 0 {
		fmt.Fprintf(&b, "References: %s\r\n", strings.Join(out.References, " "))
	}
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(out.Text)

	payload := map[string]string{
		"raw": base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString([]byte(b.String())),
	}
	return g.postJSON(ctx, "/messages/send", payload)
}

// MarkAsRead removes the UNREAD label.
func (g *GmailProvider) MarkAsRead(ctx context.Context, messageID string) error {
	id := strings.Trim(messageID, "<>")
	id = strings.TrimPrefix(id, "gmail-")
	return g.postJSON(ctx, "/messages/"+id+"/modify",
		map[string]any{"removeLabelIds": []string{"UNREAD"}})
}

func joinAddresses(addrs []Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a.Name != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", a.Name, a.Address))
		} else {
			parts = append(parts, a.Address)
		}
	}
	return strings.Join(parts, ", ")
}

func (g *GmailProvider) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiBase+path, nil)
	if err != nil {
		return err
	}
	return g.do(req, v)
}

func (g *GmailProvider) postJSON(ctx context.Context, path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiBase+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return g.do(req, nil)
}

func (g *GmailProvider) do(req *http.Request, v any) error {
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gmail request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gmail returned %d: %s", resp.StatusCode, string(body))
	}
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
