package discord

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
)

type mockRest struct {
	webhookID string
	token     string
	messageID string
	content   string
	err       error
}

func (m *mockRest) WebhookMessageEdit(webhookID, token, messageID string, data *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.webhookID = webhookID
	m.token = token
	m.messageID = messageID
	if data.Content != nil {
		m.content = *data.Content
	}
	return &discordgo.Message{}, m.err
}

func newTestAdapter(t *testing.T) (*Adapter, *mockRest) {
	t.Helper()
	rest := &mockRest{}
	a, err := NewAdapter(Config{ChannelID: "discord_001", Client: rest})
	if err != nil {
		t.Fatal(err)
	}
	return a, rest
}

const commandPayload = `{
	"id": "inter_1",
	"application_id": "app_1",
	"type": 2,
	"token": "tok_1",
	"channel_id": "C1",
	"member": {"user": {"id": "U1", "username": "ada"}},
	"data": {"id": "cmd_1", "name": "session", "type": 1,
		"options": [{"name": "action", "type": 3, "value": "list"}]}
}`

func TestParseInteraction_Ping(t *testing.T) {
	a, _ := newTestAdapter(t)
	p, err := a.ParseInteraction([]byte(`{"id": "p1", "type": 1}`))
	if err != nil {
		t.Fatal(err)
	}
	if p.Ack != AckPong || p.Msg != nil {
		t.Errorf("ping = ack %d msg %v", p.Ack, p.Msg)
	}
}

func TestParseInteraction_ApplicationCommand(t *testing.T) {
	a, _ := newTestAdapter(t)
	p, err := a.ParseInteraction([]byte(commandPayload))
	if err != nil {
		t.Fatal(err)
	}
	if p.Ack != AckDeferred {
		t.Errorf("ack = %d, want deferred", p.Ack)
	}
	if p.Msg == nil {
		t.Fatal("command produced no message")
	}
	if p.Msg.Text != "/session action:list" {
		t.Errorf("text = %q", p.Msg.Text)
	}
	if p.Msg.UserKey != "U1" || p.Msg.ConversationKey != "C1" {
		t.Errorf("keys = %q / %q", p.Msg.UserKey, p.Msg.ConversationKey)
	}
	if p.Msg.MessageID != "discord_interaction_inter_1" {
		t.Errorf("message_id = %q", p.Msg.MessageID)
	}
	if p.AppID != "app_1" || p.Token != "tok_1" {
		t.Errorf("app/token = %q / %q", p.AppID, p.Token)
	}
}

func TestParseInteraction_Idempotent(t *testing.T) {
	a, _ := newTestAdapter(t)
	if p, _ := a.ParseInteraction([]byte(commandPayload)); p.Msg == nil {
		t.Fatal("first delivery dropped")
	}
	p, err := a.ParseInteraction([]byte(commandPayload))
	if err != nil {
		t.Fatal(err)
	}
	if p.Msg != nil {
		t.Error("redelivered interaction not dropped")
	}
	if p.Ack != AckDeferred {
		t.Errorf("redelivery ack = %d", p.Ack)
	}
}

func TestParseInteraction_UnknownType(t *testing.T) {
	a, _ := newTestAdapter(t)
	p, err := a.ParseInteraction([]byte(`{"id": "x1", "type": 3}`))
	if err != nil {
		t.Fatal(err)
	}
	if p.Ack != AckDeferred || p.Msg != nil {
		t.Errorf("unknown type = ack %d msg %v", p.Ack, p.Msg)
	}
}

func TestEditOriginal(t *testing.T) {
	a, rest := newTestAdapter(t)
	if err := a.EditOriginal(context.Background(), "app_1", "tok_1", "done"); err != nil {
		t.Fatalf("EditOriginal: %v", err)
	}
	if rest.webhookID != "app_1" || rest.token != "tok_1" || rest.messageID != "@original" {
		t.Errorf("edit target = %q/%q/%q", rest.webhookID, rest.token, rest.messageID)
	}
	if rest.content != "done" {
		t.Errorf("content = %q", rest.content)
	}
}

func TestSend_Unsupported(t *testing.T) {
	a, _ := newTestAdapter(t)
	if err := a.Send(context.Background(), nil); err == nil {
		t.Error("Send should be unsupported")
	}
}
