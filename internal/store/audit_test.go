package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestAuditStore(t *testing.T) *AuditStore {
	t.Helper()
	s, err := NewAuditStore(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("NewAuditStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAuditStore_LogAndQuery(t *testing.T) {
	s := newTestAuditStore(t)
	ctx := context.Background()

	id, err := s.LogInbound(ctx, &AuditEntry{
		MessageID:        "m1",
		ChannelID:        "c1",
		UserKey:          "u1",
		ConversationKey:  "conv1",
		SessionID:        "s1",
		ProcessingStatus: "continue",
		Metadata:         map[string]any{"dedupe_reason": ""},
	})
	if err != nil {
		t.Fatalf("LogInbound: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero entry id")
	}

	if _, err := s.LogOutbound(ctx, &AuditEntry{
		MessageID:        "out_c1_1",
		ChannelID:        "c1",
		UserKey:          "u1",
		ConversationKey:  "conv1",
		ProcessingStatus: "continue",
	}); err != nil {
		t.Fatalf("LogOutbound: %v", err)
	}

	byUser, err := s.QueryByUser(ctx, "c1", "u1", 10)
	if err != nil {
		t.Fatalf("QueryByUser: %v", err)
	}
	if len(byUser) != 2 {
		t.Fatalf("QueryByUser returned %d entries, want 2", len(byUser))
	}

	bySession, err := s.QueryBySession(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("QueryBySession: %v", err)
	}
	if len(bySession) != 1 {
		t.Fatalf("QueryBySession returned %d entries, want 1", len(bySession))
	}
	if bySession[0].Direction != AuditInbound {
		t.Errorf("direction = %q, want inbound", bySession[0].Direction)
	}
	if bySession[0].Metadata == nil {
		t.Error("metadata not round-tripped")
	}

	now := time.Now().UTC()
	byTime, err := s.QueryByTimeRange(ctx, now.Add(-time.Minute), now.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("QueryByTimeRange: %v", err)
	}
	if len(byTime) != 2 {
		t.Errorf("QueryByTimeRange returned %d entries, want 2", len(byTime))
	}
}

func TestAuditStore_Cleanup(t *testing.T) {
	s := newTestAuditStore(t)
	ctx := context.Background()

	old := &AuditEntry{
		MessageID:        "m-old",
		ChannelID:        "c1",
		UserKey:          "u1",
		ConversationKey:  "conv1",
		ProcessingStatus: "continue",
		Timestamp:        time.Now().UTC().Add(-40 * 24 * time.Hour),
	}
	if _, err := s.LogInbound(ctx, old); err != nil {
		t.Fatal(err)
	}
	fresh := &AuditEntry{
		MessageID:        "m-new",
		ChannelID:        "c1",
		UserKey:          "u1",
		ConversationKey:  "conv1",
		ProcessingStatus: "continue",
	}
	if _, err := s.LogInbound(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	deleted, err := s.CleanupOldEntries(ctx, DefaultAuditRetention)
	if err != nil {
		t.Fatalf("CleanupOldEntries: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
}
