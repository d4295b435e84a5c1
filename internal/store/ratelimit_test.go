package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestRateLimitStore(t *testing.T) *RateLimitStore {
	t.Helper()
	s, err := NewRateLimitStore(filepath.Join(t.TempDir(), "rate.db"))
	if err != nil {
		t.Fatalf("NewRateLimitStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRateLimitStore_SlidingWindow(t *testing.T) {
	s := newTestRateLimitStore(t)
	ctx := context.Background()

	const max = 5
	for i := 0; i < max; i++ {
		allowed, count, err := s.CheckRateLimit(ctx, "c1", "u1", time.Minute, max)
		if err != nil {
			t.Fatalf("CheckRateLimit: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d denied, want allowed", i)
		}
		if count != i {
			t.Errorf("request %d: count = %d, want %d", i, count, i)
		}
	}

	allowed, count, err := s.CheckRateLimit(ctx, "c1", "u1", time.Minute, max)
	if err != nil {
		t.Fatalf("CheckRateLimit: %v", err)
	}
	if allowed {
		t.Error("request over the limit was allowed")
	}
	if count != max {
		t.Errorf("count = %d, want %d", count, max)
	}
}

func TestRateLimitStore_UserIsolation(t *testing.T) {
	s := newTestRateLimitStore(t)
	ctx := context.Background()

	if allowed, _, _ := s.CheckRateLimit(ctx, "c1", "u1", time.Minute, 1); !allowed {
		t.Fatal("u1 first request denied")
	}
	if allowed, _, _ := s.CheckRateLimit(ctx, "c1", "u1", time.Minute, 1); allowed {
		t.Fatal("u1 second request allowed")
	}
	// A different user on the same channel has its own window.
	if allowed, _, _ := s.CheckRateLimit(ctx, "c1", "u2", time.Minute, 1); !allowed {
		t.Fatal("u2 first request denied")
	}
}

func TestRateLimitStore_DeniedRequestsNotCounted(t *testing.T) {
	s := newTestRateLimitStore(t)
	ctx := context.Background()

	s.CheckRateLimit(ctx, "c1", "u1", time.Minute, 1)
	for i := 0; i < 3; i++ {
		s.CheckRateLimit(ctx, "c1", "u1", time.Minute, 1)
	}
	// Denied requests must not add events: the observed count stays at 1.
	_, count, err := s.CheckRateLimit(ctx, "c1", "u1", time.Minute, 1)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestRateLimitStore_Cleanup(t *testing.T) {
	s := newTestRateLimitStore(t)
	ctx := context.Background()

	s.CheckRateLimit(ctx, "c1", "u1", time.Minute, 10)
	deleted, err := s.CleanupOldEvents(ctx, -time.Second)
	if err != nil {
		t.Fatalf("CleanupOldEvents: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
}
