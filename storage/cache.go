package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"board-sync/domain"
)

type directoryBackend interface {
	DisplayName(ctx context.Context, userID string) (string, error)
	TaskTitle(ctx context.Context, workspaceID, taskID string) (string, error)
	WorkspacesForUser(ctx context.Context, userID string) ([]domain.WorkspaceMembership, error)
}

// Cache wraps the directory lookups the notification path performs for every
// movement with Redis-backed caching.
type Cache struct {
	base  directoryBackend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base directoryBackend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) DisplayName(ctx context.Context, userID string) (string, error) {
	key := displayNameCacheKey(userID)
	if name, ok := c.loadString(ctx, key); ok {
		return name, nil
	}
	name, err := c.base.DisplayName(ctx, userID)
	if err != nil {
		return "", err
	}
	c.storeString(ctx, key, name)
	return name, nil
}

func (c *Cache) TaskTitle(ctx context.Context, workspaceID, taskID string) (string, error) {
	key := taskTitleCacheKey(workspaceID, taskID)
	if title, ok := c.loadString(ctx, key); ok {
		return title, nil
	}
	title, err := c.base.TaskTitle(ctx, workspaceID, taskID)
	if err != nil {
		return "", err
	}
	c.storeString(ctx, key, title)
	return title, nil
}

func (c *Cache) WorkspacesForUser(ctx context.Context, userID string) ([]domain.WorkspaceMembership, error) {
	if members, ok := c.loadMemberships(ctx, userID); ok {
		return members, nil
	}
	members, err := c.base.WorkspacesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.storeMemberships(ctx, userID, members)
	return members, nil
}

// EvictMemberships drops the cached membership list of a user so the next
// resync reads the table.
func (c *Cache) EvictMemberships(ctx context.Context, userID string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, membershipsCacheKey(userID)).Err()
}

func (c *Cache) loadString(ctx context.Context, key string) (string, bool) {
	if c.redis == nil {
		return "", false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return "", false
	}
	return val, true
}

func (c *Cache) storeString(ctx context.Context, key, val string) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	_ = c.redis.Set(ctx, key, val, c.ttl).Err()
}

func (c *Cache) loadMemberships(ctx context.Context, userID string) ([]domain.WorkspaceMembership, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, membershipsCacheKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, membershipsCacheKey(userID)).Err()
		}
		return nil, false
	}
	var members []domain.WorkspaceMembership
	if err := sonic.Unmarshal(data, &members); err != nil {
		_ = c.redis.Del(ctx, membershipsCacheKey(userID)).Err()
		return nil, false
	}
	return members, true
}

func (c *Cache) storeMemberships(ctx context.Context, userID string, members []domain.WorkspaceMembership) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(members)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, membershipsCacheKey(userID), data, c.ttl).Err()
}

func displayNameCacheKey(userID string) string {
	return "profile:" + userID
}

func taskTitleCacheKey(workspaceID, taskID string) string {
	return "title:" + workspaceID + ":" + taskID
}

func membershipsCacheKey(userID string) string {
	return "memberships:" + userID
}
