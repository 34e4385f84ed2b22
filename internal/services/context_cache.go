package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"vssyl/internal/models"

	cache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// ContextCache stores the last live context fetched per (module, user).
// Freshness is decided by the caller against the provider TTL; the cache only
// enforces its own upper bound on retention.
type ContextCache interface {
	Get(ctx context.Context, moduleID, userID string) (*models.CachedContext, bool, error)
	Set(ctx context.Context, moduleID, userID string, value *models.CachedContext) error
	Invalidate(ctx context.Context, moduleID, userID string) error
	InvalidateModule(ctx context.Context, moduleID string) error
	InvalidateUser(ctx context.Context, userID string) error
}

// ═══════════════════════════════════════════════════════════════════════════
// IN-MEMORY
// ═══════════════════════════════════════════════════════════════════════════

const memoryKeySep = "\x1f"

// MemoryContextCache keeps cached context in process memory
type MemoryContextCache struct {
	items *cache.Cache
}

// NewMemoryContextCache creates an in-memory cache that drops entries after maxAge
func NewMemoryContextCache(maxAge time.Duration) *MemoryContextCache {
	cleanup := maxAge / 2
	if cleanup < time.Minute {
		cleanup = time.Minute
	}
	return &MemoryContextCache{items: cache.New(maxAge, cleanup)}
}

func memoryKey(moduleID, userID string) string {
	return moduleID + memoryKeySep + userID
}

// Get returns the cached context for (moduleID, userID)
func (c *MemoryContextCache) Get(_ context.Context, moduleID, userID string) (*models.CachedContext, bool, error) {
	value, found := c.items.Get(memoryKey(moduleID, userID))
	if !found {
		return nil, false, nil
	}
	cached := *value.(*models.CachedContext)
	return &cached, true, nil
}

// Set overwrites the cached context for (moduleID, userID)
func (c *MemoryContextCache) Set(_ context.Context, moduleID, userID string, value *models.CachedContext) error {
	stored := *value
	c.items.SetDefault(memoryKey(moduleID, userID), &stored)
	return nil
}

// Invalidate drops one (moduleID, userID) entry
func (c *MemoryContextCache) Invalidate(_ context.Context, moduleID, userID string) error {
	c.items.Delete(memoryKey(moduleID, userID))
	return nil
}

// InvalidateModule drops every user's entry for a module
func (c *MemoryContextCache) InvalidateModule(_ context.Context, moduleID string) error {
	c.deleteWhere(func(module, _ string) bool { return module == moduleID })
	return nil
}

// InvalidateUser drops every module's entry for a user
func (c *MemoryContextCache) InvalidateUser(_ context.Context, userID string) error {
	c.deleteWhere(func(_, user string) bool { return user == userID })
	return nil
}

func (c *MemoryContextCache) deleteWhere(match func(moduleID, userID string) bool) {
	for key := range c.items.Items() {
		module, user, ok := strings.Cut(key, memoryKeySep)
		if ok && match(module, user) {
			c.items.Delete(key)
		}
	}
}

// ItemCount returns the number of cached entries, expired or not
func (c *MemoryContextCache) ItemCount() int {
	return c.items.ItemCount()
}

// ═══════════════════════════════════════════════════════════════════════════
// REDIS
// ═══════════════════════════════════════════════════════════════════════════

const redisContextKeyPrefix = "vssyl:module_ctx:"

// RedisContextCache shares cached context across instances through Redis
type RedisContextCache struct {
	redis  *RedisService
	maxAge time.Duration
}

// NewRedisContextCache creates a Redis-backed cache whose keys expire after maxAge
func NewRedisContextCache(redisService *RedisService, maxAge time.Duration) *RedisContextCache {
	return &RedisContextCache{redis: redisService, maxAge: maxAge}
}

func redisContextKey(moduleID, userID string) string {
	return redisContextKeyPrefix + moduleID + ":" + userID
}

// Get returns the cached context for (moduleID, userID)
func (c *RedisContextCache) Get(ctx context.Context, moduleID, userID string) (*models.CachedContext, bool, error) {
	raw, err := c.redis.Get(ctx, redisContextKey(moduleID, userID))
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached context: %w", err)
	}

	var cached models.CachedContext
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		// A corrupt entry is treated as a miss and overwritten by the next fetch
		log.Printf("⚠️ [CONTEXT-CACHE] Discarding unreadable entry %s/%s: %v", moduleID, userID, err)
		return nil, false, nil
	}
	return &cached, true, nil
}

// Set overwrites the cached context for (moduleID, userID)
func (c *RedisContextCache) Set(ctx context.Context, moduleID, userID string, value *models.CachedContext) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cached context: %w", err)
	}
	if err := c.redis.Set(ctx, redisContextKey(moduleID, userID), data, c.maxAge); err != nil {
		return fmt.Errorf("failed to write cached context: %w", err)
	}
	return nil
}

// Invalidate drops one (moduleID, userID) entry
func (c *RedisContextCache) Invalidate(ctx context.Context, moduleID, userID string) error {
	return c.redis.Delete(ctx, redisContextKey(moduleID, userID))
}

// InvalidateModule drops every user's entry for a module
func (c *RedisContextCache) InvalidateModule(ctx context.Context, moduleID string) error {
	_, err := c.redis.DeleteMatching(ctx, redisContextKeyPrefix+escapeRedisGlob(moduleID)+":*")
	return err
}

// InvalidateUser drops every module's entry for a user
func (c *RedisContextCache) InvalidateUser(ctx context.Context, userID string) error {
	_, err := c.redis.DeleteMatching(ctx, redisContextKeyPrefix+"*:"+escapeRedisGlob(userID))
	return err
}

// escapeRedisGlob quotes the characters SCAN MATCH treats specially
func escapeRedisGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\', '^':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ═══════════════════════════════════════════════════════════════════════════
// REPLICATED
// ═══════════════════════════════════════════════════════════════════════════

// ReplicatedContextCache is a per-instance memory cache whose invalidations are
// broadcast to sibling instances over the registry events channel
type ReplicatedContextCache struct {
	local  *MemoryContextCache
	pubsub *PubSubService
}

// NewReplicatedContextCache wires local invalidation to registry events
func NewReplicatedContextCache(local *MemoryContextCache, pubsub *PubSubService) *ReplicatedContextCache {
	c := &ReplicatedContextCache{local: local, pubsub: pubsub}
	pubsub.On(EventContextInvalidated, c.applyRemote)
	return c
}

func (c *ReplicatedContextCache) applyRemote(message *PubSubMessage) {
	ctx := context.Background()
	switch {
	case message.ModuleID != "" && message.UserID != "":
		c.local.Invalidate(ctx, message.ModuleID, message.UserID)
	case message.ModuleID != "":
		c.local.InvalidateModule(ctx, message.ModuleID)
	case message.UserID != "":
		c.local.InvalidateUser(ctx, message.UserID)
	}
}

func (c *ReplicatedContextCache) broadcast(ctx context.Context, moduleID, userID string) {
	err := c.pubsub.Publish(ctx, &PubSubMessage{
		Type:     EventContextInvalidated,
		ModuleID: moduleID,
		UserID:   userID,
	})
	if err != nil {
		log.Printf("⚠️ [CONTEXT-CACHE] Failed to broadcast invalidation: %v", err)
	}
}

// Get reads the local cache
func (c *ReplicatedContextCache) Get(ctx context.Context, moduleID, userID string) (*models.CachedContext, bool, error) {
	return c.local.Get(ctx, moduleID, userID)
}

// Set writes the local cache only
func (c *ReplicatedContextCache) Set(ctx context.Context, moduleID, userID string, value *models.CachedContext) error {
	return c.local.Set(ctx, moduleID, userID, value)
}

// Invalidate drops one entry here and on every sibling
func (c *ReplicatedContextCache) Invalidate(ctx context.Context, moduleID, userID string) error {
	c.local.Invalidate(ctx, moduleID, userID)
	c.broadcast(ctx, moduleID, userID)
	return nil
}

// InvalidateModule drops a module's entries here and on every sibling
func (c *ReplicatedContextCache) InvalidateModule(ctx context.Context, moduleID string) error {
	c.local.InvalidateModule(ctx, moduleID)
	c.broadcast(ctx, moduleID, "")
	return nil
}

// InvalidateUser drops a user's entries here and on every sibling
func (c *ReplicatedContextCache) InvalidateUser(ctx context.Context, userID string) error {
	c.local.InvalidateUser(ctx, userID)
	c.broadcast(ctx, "", userID)
	return nil
}
