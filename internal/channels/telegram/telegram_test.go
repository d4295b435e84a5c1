package telegram

import (
	"context"
	"testing"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/crosswire/crosswire/pkg/models"
)

type mockClient struct {
	params *bot.SendMessageParams
	err    error
}

func (m *mockClient) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error) {
	m.params = params
	if m.err != nil {
		return nil, m.err
	}
	return &tgmodels.Message{ID: 99}, nil
}

func newTestAdapter(t *testing.T) (*Adapter, *mockClient) {
	t.Helper()
	client := &mockClient{}
	a, err := NewAdapter(Config{ChannelID: "telegram_001", Client: client})
	if err != nil {
		t.Fatal(err)
	}
	return a, client
}

func TestParseUpdate_TextMessage(t *testing.T) {
	a, _ := newTestAdapter(t)

	raw := []byte(`{
		"update_id": 1001,
		"message": {
			"message_id": 42,
			"date": 1710000000,
			"from": {"id": 777, "is_bot": false, "first_name": "Ada"},
			"chat": {"id": -100123, "type": "group"},
			"text": "hello"
		}
	}`)
	msg, err := a.ParseUpdate(raw)
	if err != nil {
		t.Fatalf("ParseUpdate: %v", err)
	}
	if msg == nil {
		t.Fatal("message dropped")
	}
	if msg.MessageID != "tg_1001_42" {
		t.Errorf("message_id = %q", msg.MessageID)
	}
	if msg.UserKey != "777" || msg.ConversationKey != "-100123" {
		t.Errorf("keys = %q / %q", msg.UserKey, msg.ConversationKey)
	}
	if msg.Timestamp.Unix() != 1710000000 {
		t.Errorf("timestamp = %v", msg.Timestamp)
	}
	if msg.Text != "hello" {
		t.Errorf("text = %q", msg.Text)
	}
}

func TestParseUpdate_Filters(t *testing.T) {
	a, _ := newTestAdapter(t)

	// Bot-authored messages are dropped.
	msg, err := a.ParseUpdate([]byte(`{
		"update_id": 1,
		"message": {"message_id": 2, "date": 1, "from": {"id": 5, "is_bot": true}, "chat": {"id": 9}}
	}`))
	if err != nil || msg != nil {
		t.Errorf("bot message: msg=%v err=%v, want nil/nil", msg, err)
	}

	// Non-message updates are dropped.
	msg, err = a.ParseUpdate([]byte(`{"update_id": 2, "edited_message": {"message_id": 3}}`))
	if err != nil || msg != nil {
		t.Errorf("edited_message: msg=%v err=%v, want nil/nil", msg, err)
	}

	if _, err := a.ParseUpdate([]byte(`not json`)); err == nil {
		t.Error("malformed payload accepted")
	}
}

func TestParseUpdate_PhotoPicksLargest(t *testing.T) {
	a, _ := newTestAdapter(t)

	raw := []byte(`{
		"update_id": 7,
		"message": {
			"message_id": 8,
			"date": 1710000000,
			"from": {"id": 1, "is_bot": false},
			"chat": {"id": 2},
			"caption": "look at this",
			"photo": [
				{"file_id": "small", "file_unique_id": "s", "width": 90, "height": 90, "file_size": 1000},
				{"file_id": "large", "file_unique_id": "l", "width": 800, "height": 800, "file_size": 50000}
			]
		}
	}`)
	msg, err := a.ParseUpdate(raw)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != models.TypeImage {
		t.Errorf("type = %q", msg.Type)
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].URL != "large" {
		t.Errorf("attachments = %+v, want single largest variant", msg.Attachments)
	}
	if msg.Text != "look at this" {
		t.Errorf("caption not promoted to text: %q", msg.Text)
	}
}

func TestSend(t *testing.T) {
	a, client := newTestAdapter(t)

	msg, _ := models.NewTextMessage("telegram_001", "777", "-100123", "reply")
	msg.ReplyToMessageID = "tg_1001_42"
	if err := a.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if client.params.ChatID != int64(-100123) {
		t.Errorf("chat_id = %v", client.params.ChatID)
	}
	if client.params.ReplyParameters == nil || client.params.ReplyParameters.MessageID != 42 {
		t.Errorf("reply parameters = %+v", client.params.ReplyParameters)
	}
}

func TestSend_FallsBackToUserKey(t *testing.T) {
	a, client := newTestAdapter(t)

	msg, _ := models.NewTextMessage("telegram_001", "777", "", "dm reply")
	if err := a.Send(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if client.params.ChatID != int64(777) {
		t.Errorf("chat_id = %v, want user id fallback", client.params.ChatID)
	}
}

func TestParseCompositeMessageID(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"tg_1001_42", 42, true},
		{"tg_1_2_3", 0, false},
		{"SM123", 0, false},
		{"tg_1_x", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseCompositeMessageID(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseCompositeMessageID(%q) = %d,%v want %d,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
