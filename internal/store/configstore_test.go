package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestConfigStore(t *testing.T) *ChannelConfigStore {
	t.Helper()
	s, err := NewChannelConfigStore(filepath.Join(t.TempDir(), "channels.db"))
	if err != nil {
		t.Fatalf("NewChannelConfigStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestChannelConfigStore_Lifecycle(t *testing.T) {
	s := newTestConfigStore(t)
	ctx := context.Background()

	cfg := map[string]string{"bot_token": "xyz", "secret": "abc"}
	if err := s.SaveConfig(ctx, "telegram_bot_001", cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	stored, err := s.GetConfig(ctx, "telegram_bot_001")
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if stored.Status != ChannelNeedsSetup {
		t.Errorf("status = %q, want needs_setup", stored.Status)
	}
	if stored.Enabled {
		t.Error("new channel should not be enabled")
	}
	if stored.Config["bot_token"] != "xyz" {
		t.Errorf("config not round-tripped: %v", stored.Config)
	}

	if err := s.SetEnabled(ctx, "telegram_bot_001", true); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	stored, _ = s.GetConfig(ctx, "telegram_bot_001")
	if stored.Status != ChannelEnabled || !stored.Enabled {
		t.Errorf("after enable: status=%q enabled=%v", stored.Status, stored.Enabled)
	}

	// Re-saving resets back to needs_setup.
	if err := s.SaveConfig(ctx, "telegram_bot_001", cfg); err != nil {
		t.Fatal(err)
	}
	stored, _ = s.GetConfig(ctx, "telegram_bot_001")
	if stored.Status != ChannelNeedsSetup {
		t.Errorf("after re-save: status = %q, want needs_setup", stored.Status)
	}

	if err := s.UpdateHeartbeat(ctx, "telegram_bot_001"); err != nil {
		t.Fatalf("UpdateHeartbeat: %v", err)
	}
	stored, _ = s.GetConfig(ctx, "telegram_bot_001")
	if stored.LastHeartbeat.IsZero() {
		t.Error("heartbeat not recorded")
	}
}

func TestChannelConfigStore_Events(t *testing.T) {
	s := newTestConfigStore(t)
	ctx := context.Background()

	if err := s.SaveConfig(ctx, "c1", map[string]string{}); err != nil {
		t.Fatal(err)
	}
	if err := s.LogEvent(ctx, "c1", "poll_ok", "fetched 3 messages"); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	if err := s.LogEvent(ctx, "c1", "send_failed", "timeout"); err != nil {
		t.Fatal(err)
	}

	events, err := s.GetRecentEvents(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("GetRecentEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
}

func TestChannelConfigStore_DeleteCascades(t *testing.T) {
	s := newTestConfigStore(t)
	ctx := context.Background()

	if err := s.SaveConfig(ctx, "c1", map[string]string{}); err != nil {
		t.Fatal(err)
	}
	if err := s.LogEvent(ctx, "c1", "poll_ok", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteChannel(ctx, "c1"); err != nil {
		t.Fatalf("DeleteChannel: %v", err)
	}

	if _, err := s.GetConfig(ctx, "c1"); !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("GetConfig after delete: err = %v, want ErrChannelNotFound", err)
	}
	events, _ := s.GetRecentEvents(ctx, "c1", 10)
	if len(events) != 0 {
		t.Errorf("events not cascaded: %d remain", len(events))
	}

	if err := s.DeleteChannel(ctx, "c1"); !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("second delete: err = %v, want ErrChannelNotFound", err)
	}
}
