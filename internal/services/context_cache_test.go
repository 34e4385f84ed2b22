package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"vssyl/internal/models"
)

func cachedValue(data string) *models.CachedContext {
	return &models.CachedContext{
		Data:     json.RawMessage(data),
		Provider: "recent",
		CachedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestMemoryContextCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryContextCache(time.Hour)

	if _, found, _ := c.Get(ctx, "chat", "u1"); found {
		t.Fatal("Expected miss on empty cache")
	}

	value := cachedValue(`{"a":1}`)
	if err := c.Set(ctx, "chat", "u1", value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Mutating the caller's value must not change the cached copy
	value.Provider = "changed"

	got, found, err := c.Get(ctx, "chat", "u1")
	if err != nil || !found {
		t.Fatalf("Expected hit, got found=%v err=%v", found, err)
	}
	if got.Provider != "recent" {
		t.Errorf("Expected provider recent, got %s", got.Provider)
	}
	if string(got.Data) != `{"a":1}` {
		t.Errorf("Expected cached data, got %s", got.Data)
	}

	// Last write wins
	c.Set(ctx, "chat", "u1", cachedValue(`{"a":2}`))
	got, _, _ = c.Get(ctx, "chat", "u1")
	if string(got.Data) != `{"a":2}` {
		t.Errorf("Expected overwritten data, got %s", got.Data)
	}
}

func TestMemoryContextCache_Invalidation(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryContextCache(time.Hour)

	pairs := [][2]string{{"chat", "u1"}, {"chat", "u2"}, {"drive", "u1"}, {"drive", "u2"}}
	for _, p := range pairs {
		c.Set(ctx, p[0], p[1], cachedValue(`{}`))
	}

	c.Invalidate(ctx, "drive", "u2")
	if _, found, _ := c.Get(ctx, "drive", "u2"); found {
		t.Error("Expected drive/u2 to be invalidated")
	}

	c.InvalidateModule(ctx, "chat")
	for _, user := range []string{"u1", "u2"} {
		if _, found, _ := c.Get(ctx, "chat", user); found {
			t.Errorf("Expected chat/%s to be invalidated", user)
		}
	}

	if _, found, _ := c.Get(ctx, "drive", "u1"); !found {
		t.Error("Expected drive/u1 to survive module invalidation of chat")
	}

	c.InvalidateUser(ctx, "u1")
	if c.ItemCount() != 0 {
		t.Errorf("Expected empty cache, got %d items", c.ItemCount())
	}
}

func TestMemoryContextCache_MaxAge(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryContextCache(20 * time.Millisecond)

	c.Set(ctx, "chat", "u1", cachedValue(`{}`))
	time.Sleep(40 * time.Millisecond)

	if _, found, _ := c.Get(ctx, "chat", "u1"); found {
		t.Error("Expected entry to be dropped after max age")
	}
}

func TestRedisContextKey(t *testing.T) {
	if got := redisContextKey("chat", "u1"); got != "vssyl:module_ctx:chat:u1" {
		t.Errorf("Unexpected key: %s", got)
	}
}

func TestEscapeRedisGlob(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"chat", "chat"},
		{"a*b", `a\*b`},
		{"[x]?", `\[x\]\?`},
		{`back\slash`, `back\\slash`},
	}

	for _, tt := range tests {
		if got := escapeRedisGlob(tt.in); got != tt.expected {
			t.Errorf("escapeRedisGlob(%q) = %q, expected %q", tt.in, got, tt.expected)
		}
	}
}

func TestReplicatedContextCache_AppliesRemoteInvalidations(t *testing.T) {
	ctx := context.Background()
	local := NewMemoryContextCache(time.Hour)
	pubsub := NewPubSubService(nil, "instance-a")
	defer pubsub.Stop()

	NewReplicatedContextCache(local, pubsub)

	local.Set(ctx, "chat", "u1", cachedValue(`{}`))
	local.Set(ctx, "chat", "u2", cachedValue(`{}`))
	local.Set(ctx, "drive", "u1", cachedValue(`{}`))

	send := func(msg PubSubMessage) {
		data, _ := json.Marshal(msg)
		pubsub.handlePayload(data)
	}

	// Own messages are ignored
	send(PubSubMessage{Type: EventContextInvalidated, ModuleID: "chat", InstanceID: "instance-a"})
	if _, found, _ := local.Get(ctx, "chat", "u1"); !found {
		t.Fatal("Expected self-published invalidation to be ignored")
	}

	send(PubSubMessage{Type: EventContextInvalidated, ModuleID: "chat", InstanceID: "instance-b"})
	if _, found, _ := local.Get(ctx, "chat", "u2"); found {
		t.Error("Expected remote module invalidation to apply")
	}

	send(PubSubMessage{Type: EventContextInvalidated, UserID: "u1", InstanceID: "instance-b"})
	if local.ItemCount() != 0 {
		t.Errorf("Expected empty cache, got %d items", local.ItemCount())
	}

	// Unknown types and garbage are dropped quietly
	send(PubSubMessage{Type: "something_else", InstanceID: "instance-b"})
	pubsub.handlePayload([]byte("not json"))
}
