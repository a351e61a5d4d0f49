package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"paper-ingest-platform/internal/config"
)

// UploadLimiter enforces the per-client upload budget. Allow consumes one
// slot when it returns true; when it returns false, retryAfter says when the
// binding window rolls over.
type UploadLimiter interface {
	Allow(ctx context.Context, clientID string) (ok bool, retryAfter time.Duration, err error)
	Usage(ctx context.Context, clientID string) (hour, day int, err error)
}

// NewUploadLimiter selects the backend from config.
func NewUploadLimiter(cfg *config.Config) (UploadLimiter, error) {
	switch cfg.RateLimitBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("redis unreachable: %w", err)
		}
		return &RedisLimiter{client: client, perHour: cfg.MaxUploadsPerHour, perDay: cfg.MaxUploadsPerDay}, nil
	case "memory":
		return NewMemoryLimiter(cfg.MaxUploadsPerHour, cfg.MaxUploadsPerDay), nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.RateLimitBackend)
	}
}

// MemoryLimiter is a sliding-window limiter for single-instance deployments.
type MemoryLimiter struct {
	mu      sync.Mutex
	events  map[string][]time.Time
	perHour int
	perDay  int
	now     func() time.Time
}

func NewMemoryLimiter(perHour, perDay int) *MemoryLimiter {
	return &MemoryLimiter{
		events:  make(map[string][]time.Time),
		perHour: perHour,
		perDay:  perDay,
		now:     time.Now,
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, clientID string) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	kept := m.prune(clientID, now)

	hourCutoff := now.Add(-time.Hour)
	var hourCount int
	var oldestInHour time.Time
	for _, t := range kept {
		if t.After(hourCutoff) {
			if hourCount == 0 {
				oldestInHour = t
			}
			hourCount++
		}
	}

	if len(kept) >= m.perDay {
		// Day window frees up when the oldest event ages out
		return false, kept[0].Add(24 * time.Hour).Sub(now), nil
	}
	if hourCount >= m.perHour {
		return false, oldestInHour.Add(time.Hour).Sub(now), nil
	}

	m.events[clientID] = append(kept, now)
	return true, 0, nil
}

func (m *MemoryLimiter) Usage(_ context.Context, clientID string) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	kept := m.prune(clientID, now)
	m.events[clientID] = kept

	hourCutoff := now.Add(-time.Hour)
	hour := 0
	for _, t := range kept {
		if t.After(hourCutoff) {
			hour++
		}
	}
	return hour, len(kept), nil
}

// prune drops events outside the day window. Caller holds the lock.
func (m *MemoryLimiter) prune(clientID string, now time.Time) []time.Time {
	dayCutoff := now.Add(-24 * time.Hour)
	var kept []time.Time
	for _, t := range m.events[clientID] {
		if t.After(dayCutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(m.events, clientID)
	}
	return kept
}

// RedisLimiter uses fixed hourly and daily counters so the budget is shared
// across instances. Fixed windows are a little coarser than the in-memory
// sliding window but cheap and race-free via INCR.
type RedisLimiter struct {
	client  *redis.Client
	perHour int
	perDay  int
}

func (r *RedisLimiter) Allow(ctx context.Context, clientID string) (bool, time.Duration, error) {
	now := time.Now().UTC()
	hourKey := fmt.Sprintf("uploads:h:%s:%s", clientID, now.Format("2006010215"))
	dayKey := fmt.Sprintf("uploads:d:%s:%s", clientID, now.Format("20060102"))

	hour, err := r.client.Get(ctx, hourKey).Int()
	if err != nil && err != redis.Nil {
		return false, 0, fmt.Errorf("rate limit read failed: %w", err)
	}
	day, err := r.client.Get(ctx, dayKey).Int()
	if err != nil && err != redis.Nil {
		return false, 0, fmt.Errorf("rate limit read failed: %w", err)
	}

	if day >= r.perDay {
		midnight := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		return false, midnight.Sub(now), nil
	}
	if hour >= r.perHour {
		nextHour := now.Truncate(time.Hour).Add(time.Hour)
		return false, nextHour.Sub(now), nil
	}

	pipe := r.client.TxPipeline()
	pipe.Incr(ctx, hourKey)
	pipe.Expire(ctx, hourKey, 2*time.Hour)
	pipe.Incr(ctx, dayKey)
	pipe.Expire(ctx, dayKey, 25*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("rate limit update failed: %w", err)
	}
	return true, 0, nil
}

func (r *RedisLimiter) Usage(ctx context.Context, clientID string) (int, int, error) {
	now := time.Now().UTC()
	hourKey := fmt.Sprintf("uploads:h:%s:%s", clientID, now.Format("2006010215"))
	dayKey := fmt.Sprintf("uploads:d:%s:%s", clientID, now.Format("20060102"))

	hour, err := r.client.Get(ctx, hourKey).Int()
	if err != nil && err != redis.Nil {
		return 0, 0, err
	}
	day, err := r.client.Get(ctx, dayKey).Int()
	if err != nil && err != redis.Nil {
		return 0, 0, err
	}
	return hour, day, nil
}
