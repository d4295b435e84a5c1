package slack

import (
	"context"
	"fmt"
	"testing"

	slackapi "github.com/slack-go/slack"

	"github.com/crosswire/crosswire/pkg/models"
)

type mockWebClient struct {
	channel string
	opts    []slackapi.MsgOption
	err     error
}

func (m *mockWebClient) PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.channel = channelID
	m.opts = options
	return channelID, "1710000001.000200", m.err
}

func newTestAdapter(t *testing.T, mode TriggerMode) (*Adapter, *mockWebClient) {
	t.Helper()
	client := &mockWebClient{}
	a, err := NewAdapter(Config{ChannelID: "slack_ws1", TriggerMode: mode, Client: client})
	if err != nil {
		t.Fatal(err)
	}
	return a, client
}

func eventPayload(eventID, evType, channelType, threadTS string) []byte {
	return []byte(fmt.Sprintf(`{
		"type": "event_callback",
		"event_id": %q,
		"event": {
			"type": %q,
			"user": "U123",
			"text": "hello",
			"ts": "1710000000.000100",
			"thread_ts": %q,
			"channel": "C456",
			"channel_type": %q,
			"client_msg_id": "cm-1"
		}
	}`, eventID, evType, threadTS, channelType))
}

func TestChallenge(t *testing.T) {
	got, ok := Challenge([]byte(`{"type": "url_verification", "challenge": "abc123"}`))
	if !ok || got != "abc123" {
		t.Errorf("Challenge = %q,%v", got, ok)
	}
	if _, ok := Challenge(eventPayload("Ev1", "message", "im", "")); ok {
		t.Error("event_callback treated as challenge")
	}
}

func TestParseEvent_DM(t *testing.T) {
	a, _ := newTestAdapter(t, TriggerMentionOrDM)

	msg, err := a.ParseEvent(eventPayload("Ev001", "message", "im", ""))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if msg == nil {
		t.Fatal("DM dropped")
	}
	if msg.MessageID != "Ev001" {
		t.Errorf("message_id = %q, want event_id", msg.MessageID)
	}
	if msg.ConversationKey != "C456" {
		t.Errorf("conversation_key = %q, want channel for root message", msg.ConversationKey)
	}
	if msg.Timestamp.Unix() != 1710000000 {
		t.Errorf("timestamp = %v", msg.Timestamp)
	}
}

func TestParseEvent_ThreadConversationKey(t *testing.T) {
	a, _ := newTestAdapter(t, TriggerAllMessages)

	msg, err := a.ParseEvent(eventPayload("Ev002", "message", "channel", "1709999999.000001"))
	if err != nil {
		t.Fatal(err)
	}
	if msg.ConversationKey != "C456:1709999999.000001" {
		t.Errorf("conversation_key = %q", msg.ConversationKey)
	}
}

func TestParseEvent_TriggerPolicy(t *testing.T) {
	tests := []struct {
		name        string
		mode        TriggerMode
		evType      string
		channelType string
		want        bool
	}{
		{"dm_only accepts DM", TriggerDMOnly, "message", "im", true},
		{"dm_only rejects channel", TriggerDMOnly, "message", "channel", false},
		{"dm_only rejects mention", TriggerDMOnly, "app_mention", "channel", false},
		{"mention_or_dm accepts mention", TriggerMentionOrDM, "app_mention", "channel", true},
		{"mention_or_dm rejects plain channel message", TriggerMentionOrDM, "message", "channel", false},
		{"all accepts channel", TriggerAllMessages, "message", "channel", true},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newTestAdapter(t, tt.mode)
			msg, err := a.ParseEvent(eventPayload(fmt.Sprintf("Ev%03d", i+100), tt.evType, tt.channelType, ""))
			if err != nil {
				t.Fatal(err)
			}
			if (msg != nil) != tt.want {
				t.Errorf("accepted = %v, want %v", msg != nil, tt.want)
			}
		})
	}
}

func TestParseEvent_Filters(t *testing.T) {
	a, _ := newTestAdapter(t, TriggerAllMessages)

	// Bot echo.
	msg, err := a.ParseEvent([]byte(`{
		"type": "event_callback", "event_id": "Ev200",
		"event": {"type": "message", "bot_id": "B1", "channel": "C1", "ts": "1.0"}
	}`))
	if err != nil || msg != nil {
		t.Errorf("bot message: %v/%v", msg, err)
	}

	// Uninteresting nested type.
	msg, err = a.ParseEvent([]byte(`{
		"type": "event_callback", "event_id": "Ev201",
		"event": {"type": "reaction_added", "user": "U1"}
	}`))
	if err != nil || msg != nil {
		t.Errorf("reaction_added: %v/%v", msg, err)
	}

	// Non-callback outer type.
	msg, err = a.ParseEvent([]byte(`{"type": "app_rate_limited"}`))
	if err != nil || msg != nil {
		t.Errorf("app_rate_limited: %v/%v", msg, err)
	}
}

func TestParseEvent_Idempotent(t *testing.T) {
	a, _ := newTestAdapter(t, TriggerAllMessages)
	payload := eventPayload("Ev300", "message", "im", "")

	first, err := a.ParseEvent(payload)
	if err != nil || first == nil {
		t.Fatalf("first delivery: %v/%v", first, err)
	}
	second, err := a.ParseEvent(payload)
	if err != nil {
		t.Fatal(err)
	}
	if second != nil {
		t.Error("redelivered event not dropped")
	}
}

func TestParseEvent_MessageIDFallbacks(t *testing.T) {
	a, _ := newTestAdapter(t, TriggerAllMessages)

	// No event_id: client_msg_id wins.
	msg, err := a.ParseEvent([]byte(`{
		"type": "event_callback",
		"event": {"type": "message", "user": "U1", "ts": "2.0", "channel": "C1",
			"channel_type": "im", "client_msg_id": "cm-77"}
	}`))
	if err != nil || msg == nil {
		t.Fatalf("parse: %v/%v", msg, err)
	}
	if msg.MessageID != "cm-77" {
		t.Errorf("message_id = %q, want client_msg_id", msg.MessageID)
	}

	// Neither: composite fallback.
	msg, err = a.ParseEvent([]byte(`{
		"type": "event_callback",
		"event": {"type": "message", "user": "U2", "ts": "3.0", "channel": "C2", "channel_type": "im"}
	}`))
	if err != nil || msg == nil {
		t.Fatalf("parse: %v/%v", msg, err)
	}
	if msg.MessageID != "3.0_C2_U2" {
		t.Errorf("message_id = %q", msg.MessageID)
	}
}

func TestSend(t *testing.T) {
	a, client := newTestAdapter(t, TriggerMentionOrDM)

	msg, _ := models.NewTextMessage("slack_ws1", "U123", "C456:1709999999.000001", "reply")
	if err := a.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if client.channel != "C456" {
		t.Errorf("channel = %q", client.channel)
	}
	// Threaded reply adds the thread_ts option alongside the text.
	if len(client.opts) != 2 {
		t.Errorf("opts = %d, want text + thread", len(client.opts))
	}

	msg, _ = models.NewTextMessage("slack_ws1", "U123", "C456", "root reply")
	if err := a.Send(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if len(client.opts) != 1 {
		t.Errorf("root reply opts = %d, want 1", len(client.opts))
	}
}
