package email

import (
	"context"
	"time"
)

// Address is one parsed RFC 5322 mailbox.
type Address struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// Envelope is a provider-independent received email.
type Envelope struct {
	MessageID   string    `json:"message_id"`
	InReplyTo   string    `json:"in_reply_to,omitempty"`
	References  []string  `json:"references,omitempty"`
	From        Address   `json:"from"`
	To          []Address `json:"to,omitempty"`
	CC          []Address `json:"cc,omitempty"`
	Subject     string    `json:"subject"`
	Date        time.Time `json:"date"`
	TextBody    string    `json:"text_body,omitempty"`
	HTMLBody    string    `json:"html_body,omitempty"`
	Attachments []AttachmentMeta
}

// AttachmentMeta describes an attachment without carrying its bytes.
type AttachmentMeta struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// OutboundEmail is the provider-independent send request.
type OutboundEmail struct {
	To         []Address
	CC         []Address
	Subject    string
	Text       string
	HTML       string
	InReplyTo  string
	References []string
}

// Provider abstracts a mailbox backend (Gmail, IMAP, Outlook).
type Provider interface {
	// ValidateCredentials checks the stored credentials still work.
	ValidateCredentials(ctx context.Context) error

	// FetchMessages returns messages in folder received after since,
	// up to limit.
	FetchMessages(ctx context.Context, folder string, since time.Time, limit int) ([]*Envelope, error)

	// SendMessage delivers an email.
	SendMessage(ctx context.Context, out *OutboundEmail) error

	// MarkAsRead flags a message as seen in the mailbox.
	MarkAsRead(ctx context.Context, messageID string) error
}
