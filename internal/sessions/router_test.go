package sessions

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/crosswire/crosswire/internal/manifest"
	"github.com/crosswire/crosswire/pkg/models"
)

func TestComputeLookupKey(t *testing.T) {
	tests := []struct {
		name  string
		msg   *models.InboundMessage
		scope Scope
		want  string
	}{
		{
			name:  "user scope",
			msg:   &models.InboundMessage{ChannelID: "telegram", UserKey: "tg_42", ConversationKey: "chat_9"},
			scope: ScopeUser,
			want:  "telegram:tg_42",
		},
		{
			name:  "conversation scope",
			msg:   &models.InboundMessage{ChannelID: "slack_ws1", UserKey: "U123", ConversationKey: "C456:1710000000.000100"},
			scope: ScopeUserConversation,
			want:  "slack_ws1:U123:C456:1710000000.000100",
		},
		{
			name:  "conversation scope without conversation falls back",
			msg:   &models.InboundMessage{ChannelID: "slack_ws1", UserKey: "U123"},
			scope: ScopeUserConversation,
			want:  "slack_ws1:U123",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeLookupKey(tt.msg, tt.scope).String(); got != tt.want {
				t.Errorf("key = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseLookupKey(t *testing.T) {
	tests := []struct {
		in      string
		want    Key
		wantErr bool
	}{
		{
			in:   "telegram:tg_42",
			want: Key{ChannelID: "telegram", UserKey: "tg_42", Scope: ScopeUser},
		},
		{
			// Conversation keys keep their own colons intact.
			in: "slack_ws1:U123:C456:1710000000.000100",
			want: Key{
				ChannelID:       "slack_ws1",
				UserKey:         "U123",
				ConversationKey: "C456:1710000000.000100",
				Scope:           ScopeUserConversation,
			},
		},
		{in: "telegram", wantErr: true},
		{in: ":user", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLookupKey(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("key = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseLookupKey_RoundTrip(t *testing.T) {
	keys := []Key{
		{ChannelID: "email", UserKey: "a@b.c", Scope: ScopeUser},
		{ChannelID: "discord", UserKey: "u1", ConversationKey: "g1:c1", Scope: ScopeUserConversation},
	}
	for _, k := range keys {
		got, err := ParseLookupKey(k.String())
		if err != nil {
			t.Fatalf("ParseLookupKey(%q): %v", k.String(), err)
		}
		if got != k {
			t.Errorf("round trip %q = %+v, want %+v", k.String(), got, k)
		}
	}
}

func TestTitleHint(t *testing.T) {
	if got := TitleHint("  deploy the staging build  "); got != "deploy the staging build" {
		t.Errorf("TitleHint trims: got %q", got)
	}
	long := strings.Repeat("x", 120)
	got := TitleHint(long)
	if len([]rune(got)) != titleHintMax {
		t.Errorf("hint length = %d, want %d", len([]rune(got)), titleHintMax)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("hint %q missing ellipsis", got)
	}
	if TitleHint("   ") != "" {
		t.Error("blank text should give no hint")
	}
}

func TestRouter_ResolveCreatesThenReuses(t *testing.T) {
	store := newTestStore(t)
	reg := manifest.NewRegistry("", nil)
	if err := reg.Register(&manifest.ChannelManifest{
		ID:           "slack_ws1",
		DisplayName:  "Slack",
		SessionScope: manifest.ScopeUserConversation,
	}); err != nil {
		t.Fatal(err)
	}
	router := NewRouter(store, reg)
	ctx := context.Background()

	msg := models.NewInboundMessage("slack_ws1", "U123", "C456:1710.100", "ev1", time.Now(), models.TypeText)
	msg.Text = "kick off the weekly report"

	first, err := router.Resolve(ctx, msg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if first.Scope != ScopeUserConversation {
		t.Errorf("scope = %q, want user_conversation", first.Scope)
	}
	if first.Title != "kick off the weekly report" {
		t.Errorf("title = %q", first.Title)
	}

	again, err := router.Resolve(ctx, msg)
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != first.ID {
		t.Errorf("second resolve created %s, want reuse of %s", again.ID, first.ID)
	}

	// A different thread in conversation scope gets its own session.
	other := models.NewInboundMessage("slack_ws1", "U123", "C456:1710.200", "ev2", time.Now(), models.TypeText)
	otherSess, err := router.Resolve(ctx, other)
	if err != nil {
		t.Fatal(err)
	}
	if otherSess.ID == first.ID {
		t.Error("distinct conversations must not share a session")
	}
}

func TestRouter_UnknownChannelDefaultsToUserScope(t *testing.T) {
	store := newTestStore(t)
	router := NewRouter(store, manifest.NewRegistry("", nil))
	msg := &models.InboundMessage{ChannelID: "mystery", UserKey: "u1", ConversationKey: "c1"}
	if got := router.KeyFor(msg).String(); got != "mystery:u1" {
		t.Errorf("key = %q, want user-scoped", got)
	}
}
