package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testManifest() *ChannelManifest {
	return &ChannelManifest{
		ID:           "telegram",
		DisplayName:  "Telegram",
		SessionScope: ScopeUserConversation,
		WebhookPaths: []string{"/webhook/telegram"},
		ConfigFields: []ConfigField{
			{Key: "bot_token", Secret: true, Required: true, Regex: `^\d+:[A-Za-z0-9_-]+$`},
			{Key: "webhook_secret", Secret: true, Required: true},
			{Key: "trigger_mode", Options: []string{"dm_only", "mention_or_dm", "all_messages"}},
		},
		SecurityDefaults: SecurityDefaults{Mode: "chat_only", RequireSignature: true},
	}
}

func TestManifest_ValidateConfig(t *testing.T) {
	m := testManifest()
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	tests := []struct {
		name    string
		cfg     map[string]string
		wantErr bool
	}{
		{
			name: "valid",
			cfg: map[string]string{
				"bot_token":      "12345:ABCdef_ghi",
				"webhook_secret": "s3cret",
				"trigger_mode":   "dm_only",
			},
		},
		{
			name:    "missing required",
			cfg:     map[string]string{"bot_token": "12345:abc"},
			wantErr: true,
		},
		{
			name: "regex mismatch",
			cfg: map[string]string{
				"bot_token":      "not-a-token",
				"webhook_secret": "s3cret",
			},
			wantErr: true,
		},
		{
			name: "bad option",
			cfg: map[string]string{
				"bot_token":      "12345:abc",
				"webhook_secret": "s3cret",
				"trigger_mode":   "everything",
			},
			wantErr: true,
		},
		{
			name: "optional field omitted",
			cfg: map[string]string{
				"bot_token":      "12345:abc",
				"webhook_secret": "s3cret",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.ValidateConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistry_LoadDir(t *testing.T) {
	dir := t.TempDir()

	good := `{
		"id": "slack_workspace_001",
		"display_name": "Slack",
		"session_scope": "user_conversation",
		"required_config_fields": [
			{"key": "bot_token", "secret": true, "required": true},
			{"key": "signing_secret", "secret": true, "required": true}
		],
		"security_defaults": {"mode": "chat_only", "require_signature": true}
	}`
	if err := os.WriteFile(filepath.Join(dir, "slack_manifest.json"), []byte(good), 0o644); err != nil {
		t.Fatal(err)
	}
	// Fails schema validation: no id.
	bad := `{"display_name": "Broken", "required_config_fields": [], "security_defaults": {"mode": "chat_only"}}`
	if err := os.WriteFile(filepath.Join(dir, "broken_manifest.json"), []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	// Ignored: wrong suffix.
	if err := os.WriteFile(filepath.Join(dir, "notes.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry(dir, nil)
	if err := r.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := len(r.List()); got != 1 {
		t.Fatalf("loaded %d manifests, want 1", got)
	}
	m, err := r.Get("slack_workspace_001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.SessionScope != ScopeUserConversation {
		t.Errorf("session scope = %q", m.SessionScope)
	}

	if _, err := r.Get("nope"); !errors.Is(err, ErrManifestNotFound) {
		t.Errorf("Get(nope) err = %v, want ErrManifestNotFound", err)
	}
}

func TestRegistry_Reload(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir, nil)
	if err := r.Load(); err != nil {
		t.Fatal(err)
	}
	if len(r.List()) != 0 {
		t.Fatal("expected empty registry")
	}

	doc := `{
		"id": "sms_twilio_001",
		"display_name": "SMS",
		"session_scope": "user",
		"required_config_fields": [{"key": "account_sid", "required": true}],
		"security_defaults": {"mode": "chat_only", "require_signature": true}
	}`
	if err := os.WriteFile(filepath.Join(dir, "sms_manifest.json"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := r.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if _, err := r.Get("sms_twilio_001"); err != nil {
		t.Errorf("manifest not picked up on reload: %v", err)
	}
}

func TestRegistry_RegisterInProcess(t *testing.T) {
	r := NewRegistry("", nil)
	if err := r.Register(testManifest()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.ValidateConfig("telegram", map[string]string{
		"bot_token":      "1:a",
		"webhook_secret": "x",
	}); err != nil {
		t.Errorf("ValidateConfig: %v", err)
	}
}
