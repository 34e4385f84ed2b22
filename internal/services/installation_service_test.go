package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"vssyl/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestInstallationService(t *testing.T) (*InstallationService, *SQLRegistryStore, *MemoryContextCache) {
	t.Helper()
	store := setupTestStore(t)
	cache := NewMemoryContextCache(time.Hour)
	syncer, _ := newTestSyncer(t, store, cache)
	return NewInstallationService(store, store, syncer, cache), store, cache
}

func TestInstallationService_InstallRegistersModule(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestInstallationService(t)
	mustUpsertModule(t, store, approvedModule("chat", "Chat", "1.0.0", chatContext()))

	result, err := svc.Install(ctx, "u1", "chat")
	require.NoError(t, err)
	require.NotNil(t, result.Sync)
	assert.Equal(t, models.SyncOutcomeAdded, result.Sync.Outcome)

	_, found, _ := store.GetEntry(ctx, "chat")
	assert.True(t, found)

	ids, _ := store.InstalledModuleIDs(ctx, "u1")
	assert.Equal(t, []string{"chat"}, ids)

	// A second user does not resync an existing entry
	result, err = svc.Install(ctx, "u2", "chat")
	require.NoError(t, err)
	assert.Nil(t, result.Sync)
}

func TestInstallationService_InstallUnknownModule(t *testing.T) {
	svc, _, _ := newTestInstallationService(t)

	_, err := svc.Install(context.Background(), "u1", "ghost")
	assert.True(t, errors.Is(err, ErrModuleNotFound))
}

func TestInstallationService_LastUninstallRemovesEntry(t *testing.T) {
	ctx := context.Background()
	svc, store, cache := newTestInstallationService(t)
	mustUpsertModule(t, store, approvedModule("chat", "Chat", "1.0.0", chatContext()))

	_, err := svc.Install(ctx, "u1", "chat")
	require.NoError(t, err)
	_, err = svc.Install(ctx, "u2", "chat")
	require.NoError(t, err)

	cache.Set(ctx, "chat", "u1", cachedValue(`{}`))
	cache.Set(ctx, "chat", "u2", cachedValue(`{}`))

	first, err := svc.Uninstall(ctx, "u1", "chat")
	require.NoError(t, err)
	assert.False(t, first.EntryRemoved)

	_, cached, _ := cache.Get(ctx, "chat", "u1")
	assert.False(t, cached)
	_, cached, _ = cache.Get(ctx, "chat", "u2")
	assert.True(t, cached)

	last, err := svc.Uninstall(ctx, "u2", "chat")
	require.NoError(t, err)
	assert.True(t, last.EntryRemoved)

	_, found, _ := store.GetEntry(ctx, "chat")
	assert.False(t, found)
	assert.Equal(t, 0, cache.ItemCount())
}
