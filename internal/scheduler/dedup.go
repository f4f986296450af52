package scheduler

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper guards individual schedule occurrences across dispatcher replicas.
// The database claim is the source of truth; the deduper is a cheap first
// filter that spares the claimed-update round trip on busy deployments.
type Deduper interface {
	// Claim reports whether this process is the first to see the occurrence.
	Claim(ctx context.Context, scheduleID string, occurrence time.Time) (bool, error)
	// Forget releases an occurrence so a failed dispatch can be retried.
	Forget(ctx context.Context, scheduleID string, occurrence time.Time) error
}

type redisDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func (d *redisDeduper) key(scheduleID string, occurrence time.Time) string {
	return d.prefix + ":" + scheduleID + ":" + strconv.FormatInt(occurrence.Unix(), 10)
}

func (d *redisDeduper) Claim(ctx context.Context, scheduleID string, occurrence time.Time) (bool, error) {
	return d.client.SetNX(ctx, d.key(scheduleID, occurrence), "1", d.ttl).Result()
}

func (d *redisDeduper) Forget(ctx context.Context, scheduleID string, occurrence time.Time) error {
	return d.client.Del(ctx, d.key(scheduleID, occurrence)).Err()
}

type memoryDeduper struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	ttl    time.Duration
	nextGC time.Time
}

func newMemoryDeduper(ttl time.Duration) *memoryDeduper {
	now := time.Now()
	return &memoryDeduper{
		seen:   make(map[string]time.Time),
		ttl:    ttl,
		nextGC: now.Add(ttl),
	}
}

func memoryKey(scheduleID string, occurrence time.Time) string {
	return scheduleID + ":" + strconv.FormatInt(occurrence.Unix(), 10)
}

func (d *memoryDeduper) Claim(_ context.Context, scheduleID string, occurrence time.Time) (bool, error) {
	now := time.Now()
	key := memoryKey(scheduleID, occurrence)

	d.mu.Lock()
	defer d.mu.Unlock()

	if exp, ok := d.seen[key]; ok && exp.After(now) {
		return false, nil
	}

	d.seen[key] = now.Add(d.ttl)
	if now.After(d.nextGC) {
		for k, exp := range d.seen {
			if exp.Before(now) {
				delete(d.seen, k)
			}
		}
		d.nextGC = now.Add(d.ttl)
	}

	return true, nil
}

func (d *memoryDeduper) Forget(_ context.Context, scheduleID string, occurrence time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, memoryKey(scheduleID, occurrence))
	return nil
}

// NewDeduper builds a Redis-backed deduper and falls back to in-memory when
// Redis is unconfigured or unreachable. The returned error reports a failed
// Redis connection; the deduper is usable either way.
func NewDeduper(addr, pass string, db int, ttl time.Duration) (Deduper, error) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if addr == "" {
		return newMemoryDeduper(ttl), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pass,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return newMemoryDeduper(ttl), err
	}

	return &redisDeduper{
		client: client,
		prefix: "sched:occurrence",
		ttl:    ttl,
	}, nil
}
