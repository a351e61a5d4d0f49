package services

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterHourlyWindow(t *testing.T) {
	lim := NewMemoryLimiter(3, 100)
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	lim.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, _, err := lim.Allow(ctx, "client-a")
		if err != nil {
			t.Fatalf("allow error: %v", err)
		}
		if !ok {
			t.Fatalf("upload %d should be allowed", i+1)
		}
	}

	ok, retryAfter, err := lim.Allow(ctx, "client-a")
	if err != nil {
		t.Fatalf("allow error: %v", err)
	}
	if ok {
		t.Fatal("fourth upload within the hour should be rejected")
	}
	if retryAfter <= 0 || retryAfter > time.Hour {
		t.Fatalf("retry-after out of range: %v", retryAfter)
	}

	// Sliding window: once the oldest event falls out, one slot frees up.
	now = now.Add(61 * time.Minute)
	ok, _, err = lim.Allow(ctx, "client-a")
	if err != nil {
		t.Fatalf("allow error: %v", err)
	}
	if !ok {
		t.Fatal("upload after the window slid should be allowed")
	}
}

func TestMemoryLimiterDailyCap(t *testing.T) {
	lim := NewMemoryLimiter(100, 2)
	now := time.Date(2026, 1, 10, 1, 0, 0, 0, time.UTC)
	lim.now = func() time.Time { return now }

	ctx := context.Background()
	lim.Allow(ctx, "c")
	now = now.Add(2 * time.Hour)
	lim.Allow(ctx, "c")
	now = now.Add(2 * time.Hour)

	ok, _, _ := lim.Allow(ctx, "c")
	if ok {
		t.Fatal("third upload of the day should be rejected")
	}

	hour, day, err := lim.Usage(ctx, "c")
	if err != nil {
		t.Fatalf("usage error: %v", err)
	}
	if hour != 0 || day != 2 {
		t.Fatalf("usage = (%d, %d), want (0, 2)", hour, day)
	}
}

func TestMemoryLimiterIsolatesClients(t *testing.T) {
	lim := NewMemoryLimiter(1, 10)
	ctx := context.Background()

	if ok, _, _ := lim.Allow(ctx, "a"); !ok {
		t.Fatal("first upload for client a should be allowed")
	}
	if ok, _, _ := lim.Allow(ctx, "b"); !ok {
		t.Fatal("client b should not be affected by client a's usage")
	}
}
