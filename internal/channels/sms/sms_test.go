package sms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/crosswire/crosswire/pkg/models"
)

func testConfig() Config {
	return Config{
		ChannelID:  "sms_twilio_001",
		AccountSID: "AC00000000000000000000000000000000",
		AuthToken:  "secret",
		FromNumber: "+15550009999",
		PathToken:  "tok-abc",
	}
}

func TestValidE164(t *testing.T) {
	tests := []struct {
		number string
		want   bool
	}{
		{"+15551234567", true},
		{"+447911123456", true},
		{"15551234567", false},
		{"+05551234567", false},
		{"+1555123456789012345", false},
		{"+1", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidE164(tt.number); got != tt.want {
			t.Errorf("ValidE164(%q) = %v, want %v", tt.number, got, tt.want)
		}
	}
}

func TestSegmentCount(t *testing.T) {
	tests := []struct {
		length int
		want   int
	}{
		{0, 1},
		{160, 1},
		{161, 2},
		{306, 2},
		{307, 3},
		{480, 4},
	}
	for _, tt := range tests {
		text := strings.Repeat("a", tt.length)
		if got := SegmentCount(text); got != tt.want {
			t.Errorf("SegmentCount(len %d) = %d, want %d", tt.length, got, tt.want)
		}
	}
}

func TestParseForm(t *testing.T) {
	a, err := NewAdapter(testConfig())
	if err != nil {
		t.Fatal(err)
	}

	form := url.Values{}
	form.Set("MessageSid", "SM777")
	form.Set("From", "+15551234567")
	form.Set("Body", "hi there")

	msg, err := a.ParseForm(form)
	if err != nil {
		t.Fatalf("ParseForm: %v", err)
	}
	if msg.MessageID != "SM777" {
		t.Errorf("message_id = %q", msg.MessageID)
	}
	if msg.UserKey != "+15551234567" || msg.ConversationKey != "+15551234567" {
		t.Errorf("keys = %q / %q", msg.UserKey, msg.ConversationKey)
	}
	if msg.Text != "hi there" {
		t.Errorf("text = %q", msg.Text)
	}
	if hash, ok := msg.Metadata["from_hash"].(string); !ok || hash == "" || strings.Contains(hash, "+1555") {
		t.Errorf("from_hash = %v, want opaque hash", msg.Metadata["from_hash"])
	}

	// Redelivery of the same MessageSid is suppressed.
	again, err := a.ParseForm(form)
	if err != nil {
		t.Fatal(err)
	}
	if again != nil {
		t.Error("redelivered MessageSid not dropped")
	}
}

func TestSend(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		gotForm = r.PostForm
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.APIBase = srv.URL
	a, err := NewAdapter(cfg)
	if err != nil {
		t.Fatal(err)
	}

	msg, _ := models.NewTextMessage(cfg.ChannelID, "+15551234567", "+15551234567", "reply")
	if err := a.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := gotForm.Get("To"); got != "+15551234567" {
		t.Errorf("To = %q", got)
	}
	if got := gotForm.Get("Body"); got != "reply" {
		t.Errorf("Body = %q", got)
	}
}

func TestSend_Validation(t *testing.T) {
	a, _ := NewAdapter(testConfig())
	ctx := context.Background()

	msg, _ := models.NewTextMessage("sms_twilio_001", "5551234567", "", "no plus")
	if err := a.Send(ctx, msg); err == nil {
		t.Error("non-E.164 recipient accepted")
	}

	msg, _ = models.NewTextMessage("sms_twilio_001", "+15551234567", "", strings.Repeat("x", 481))
	if err := a.Send(ctx, msg); err == nil {
		t.Error("oversized message accepted")
	}
}
