package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers which movement records already produced a notification
// for one client session.
type Deduper interface {
	// Add records the key and reports whether it was newly added.
	Add(ctx context.Context, clientID, key string) (bool, error)
	// Remove forgets a key so a replay of the same record can notify again.
	Remove(ctx context.Context, clientID, key string) error
}

const defaultDedupeCapacity = 1024

// MemoryDeduper is a bounded in-process deduper. Once full it forgets the
// oldest key first.
type MemoryDeduper struct {
	mu       sync.Mutex
	capacity int
	keys     map[string]struct{}
	order    []string
}

func NewMemoryDeduper(capacity int) *MemoryDeduper {
	if capacity <= 0 {
		capacity = defaultDedupeCapacity
	}
	return &MemoryDeduper{capacity: capacity, keys: make(map[string]struct{}, capacity)}
}

func (d *MemoryDeduper) Add(_ context.Context, clientID, key string) (bool, error) {
	k := dedupeKey(clientID, key)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.keys[k]; ok {
		return false, nil
	}
	if len(d.order) >= d.capacity {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.keys, oldest)
	}
	d.keys[k] = struct{}{}
	d.order = append(d.order, k)
	return true, nil
}

func (d *MemoryDeduper) Remove(_ context.Context, clientID, key string) error {
	k := dedupeKey(clientID, key)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.keys[k]; !ok {
		return nil
	}
	delete(d.keys, k)
	for i, existing := range d.order {
		if existing == k {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return nil
}

// RedisDeduper stores notified movement ids in Redis, keyed by client
// session, so a record redelivered to the same session is shown once.
// Sessions of the same user on other instances keep their own keys.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) Add(ctx context.Context, clientID, key string) (bool, error) {
	return r.client.SetNX(ctx, dedupeKey(clientID, key), 1, r.ttl).Result()
}

func (r *RedisDeduper) Remove(ctx context.Context, clientID, key string) error {
	return r.client.Del(ctx, dedupeKey(clientID, key)).Err()
}

func dedupeKey(clientID, movementID string) string {
	return fmt.Sprintf("%s:notify:%s", clientID, movementID)
}
