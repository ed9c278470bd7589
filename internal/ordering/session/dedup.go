package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"order-workers/internal/common/database"
)

// Deduper remembers message keys for a window.
type Deduper interface {
	// MarkFirst records key and reports whether it was not already present.
	MarkFirst(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Forget drops key so the message can be delivered again.
	Forget(ctx context.Context, key string) error
}

// MemoryDeduper is an in-process Deduper. Expired keys are pruned on write.
type MemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	now     func() time.Time
	writes  int
	pruneAt int
}

func NewMemoryDeduper(now func() time.Time) *MemoryDeduper {
	if now == nil {
		now = time.Now
	}
	return &MemoryDeduper{seen: make(map[string]time.Time), now: now, pruneAt: 256}
}

func (d *MemoryDeduper) MarkFirst(_ context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()

	d.writes++
	if d.writes >= d.pruneAt {
		d.writes = 0
		for k, exp := range d.seen {
			if !now.Before(exp) {
				delete(d.seen, k)
			}
		}
	}

	if exp, ok := d.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	d.seen[key] = now.Add(ttl)
	return true, nil
}

func (d *MemoryDeduper) Forget(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
	return nil
}

func (d *MemoryDeduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// RedisDeduper uses SET NX with an expiry.
type RedisDeduper struct {
	client *database.RedisClient
}

func NewRedisDeduper(client *database.RedisClient) *RedisDeduper {
	return &RedisDeduper{client: client}
}

func (d *RedisDeduper) MarkFirst(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := d.client.Client.SetNX(ctx, d.client.Key("dedup", key), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis dedup %s: %w", key, err)
	}
	return ok, nil
}

func (d *RedisDeduper) Forget(ctx context.Context, key string) error {
	return d.client.Client.Del(ctx, d.client.Key("dedup", key)).Err()
}
