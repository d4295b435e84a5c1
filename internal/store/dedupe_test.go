package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestDedupeStore(t *testing.T) *DedupeStore {
	t.Helper()
	s, err := NewDedupeStore(filepath.Join(t.TempDir(), "dedupe.db"))
	if err != nil {
		t.Fatalf("NewDedupeStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDedupeStore_IsDuplicate(t *testing.T) {
	s := newTestDedupeStore(t)
	ctx := context.Background()

	dup, err := s.IsDuplicate(ctx, "m1", "c1")
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if dup {
		t.Fatal("first sighting reported as duplicate")
	}

	dup, err = s.IsDuplicate(ctx, "m1", "c1")
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if !dup {
		t.Fatal("second sighting not reported as duplicate")
	}

	count, err := s.SeenCount(ctx, "m1", "c1")
	if err != nil {
		t.Fatalf("SeenCount: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestDedupeStore_ChannelScoped(t *testing.T) {
	s := newTestDedupeStore(t)
	ctx := context.Background()

	if dup, _ := s.IsDuplicate(ctx, "m1", "c1"); dup {
		t.Fatal("unexpected duplicate")
	}
	// Same message id on a different channel is a distinct pair.
	if dup, _ := s.IsDuplicate(ctx, "m1", "c2"); dup {
		t.Fatal("message id should be scoped by channel")
	}
}

func TestDedupeStore_Cleanup(t *testing.T) {
	s := newTestDedupeStore(t)
	ctx := context.Background()

	if _, err := s.IsDuplicate(ctx, "m1", "c1"); err != nil {
		t.Fatal(err)
	}

	// Nothing should expire with a generous TTL.
	deleted, err := s.CleanupOldEntries(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CleanupOldEntries: %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0", deleted)
	}

	// A negative TTL puts the cutoff in the future and expires everything.
	deleted, err = s.CleanupOldEntries(ctx, -time.Second)
	if err != nil {
		t.Fatalf("CleanupOldEntries: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	if dup, _ := s.IsDuplicate(ctx, "m1", "c1"); dup {
		t.Error("entry should have been purged")
	}
}
