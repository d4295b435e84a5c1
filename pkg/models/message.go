// Package models defines the unified message format shared by every
// channel adapter, the message bus, and the middleware chain.
package models

import (
	"fmt"
	"time"
)

// MessageType classifies the payload of a message.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeAudio    MessageType = "audio"
	TypeVideo    MessageType = "video"
	TypeFile     MessageType = "file"
	TypeLocation MessageType = "location"
	TypeSystem   MessageType = "system"
)

// AttachmentType classifies a single attachment.
type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentAudio    AttachmentType = "audio"
	AttachmentVideo    AttachmentType = "video"
	AttachmentDocument AttachmentType = "document"
)

// AttachmentTypeFromMIME maps a MIME content type to an attachment type.
// Anything that is not image, audio, or video is treated as a document.
func AttachmentTypeFromMIME(contentType string) AttachmentType {
	switch {
	case len(contentType) >= 6 && contentType[:6] == "image/":
		return AttachmentImage
	case len(contentType) >= 6 && contentType[:6] == "audio/":
		return AttachmentAudio
	case len(contentType) >= 6 && contentType[:6] == "video/":
		return AttachmentVideo
	default:
		return AttachmentDocument
	}
}

// Attachment represents a file or media attachment carried by a message.
type Attachment struct {
	Type     AttachmentType `json:"type"`
	URL      string         `json:"url"`
	Filename string         `json:"filename,omitempty"`
	MimeType string         `json:"mime_type,omitempty"`
	Size     int64          `json:"size,omitempty"`
}

// Location is a geographic point attached to a message.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// InboundMessage is the provider-independent form of a received message.
// It is immutable after construction; only Metadata may be mutated by
// downstream consumers.
type InboundMessage struct {
	ChannelID       string         `json:"channel_id"`
	UserKey         string         `json:"user_key"`
	ConversationKey string         `json:"conversation_key"`
	MessageID       string         `json:"message_id"`
	Timestamp       time.Time      `json:"timestamp"`
	Type            MessageType    `json:"type"`
	Text            string         `json:"text,omitempty"`
	Attachments     []Attachment   `json:"attachments,omitempty"`
	Location        *Location      `json:"location,omitempty"`
	Raw             any            `json:"-"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// NewInboundMessage constructs an inbound message with a UTC timestamp and
// an initialized metadata map.
func NewInboundMessage(channelID, userKey, conversationKey, messageID string, ts time.Time, typ MessageType) *InboundMessage {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &InboundMessage{
		ChannelID:       channelID,
		UserKey:         userKey,
		ConversationKey: conversationKey,
		MessageID:       messageID,
		Timestamp:       ts.UTC(),
		Type:            typ,
		Metadata:        make(map[string]any),
	}
}

// OutboundMessage is a reply or notification destined for a provider.
type OutboundMessage struct {
	ChannelID        string         `json:"channel_id"`
	UserKey          string         `json:"user_key"`
	ConversationKey  string         `json:"conversation_key"`
	Type             MessageType    `json:"type"`
	Text             string         `json:"text,omitempty"`
	ReplyToMessageID string         `json:"reply_to_message_id,omitempty"`
	Attachments      []Attachment   `json:"attachments,omitempty"`
	Location         *Location      `json:"location,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// NewTextMessage constructs a validated outbound text message.
func NewTextMessage(channelID, userKey, conversationKey, text string) (*OutboundMessage, error) {
	msg := &OutboundMessage{
		ChannelID:       channelID,
		UserKey:         userKey,
		ConversationKey: conversationKey,
		Type:            TypeText,
		Text:            text,
		Metadata:        make(map[string]any),
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// Validate enforces the per-type payload invariants.
func (m *OutboundMessage) Validate() error {
	if m.ChannelID == "" {
		return fmt.Errorf("outbound message: channel_id is required")
	}
	switch m.Type {
	case TypeText:
		if m.Text == "" {
			return fmt.Errorf("outbound message: text type requires non-empty text")
		}
	case TypeImage, TypeAudio, TypeVideo, TypeFile:
		if len(m.Attachments) == 0 {
			return fmt.Errorf("outbound message: %s type requires at least one attachment", m.Type)
		}
	case TypeLocation:
		if m.Location == nil {
			return fmt.Errorf("outbound message: location type requires a location")
		}
	case TypeSystem:
		// System messages carry no payload requirements.
	case "":
		return fmt.Errorf("outbound message: type is required")
	default:
		return fmt.Errorf("outbound message: unknown type %q", m.Type)
	}
	return nil
}

// SetMeta records a metadata value, allocating the map on first use.
func (m *OutboundMessage) SetMeta(key string, value any) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	m.Metadata[key] = value
}
