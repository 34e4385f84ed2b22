package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"vssyl/internal/database"
	"vssyl/internal/middleware"
	"vssyl/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	app      *fiber.App
	store    *services.SQLRegistryStore
	recorder *services.ModuleMetricsRecorder
	hits     *atomic.Int32
	lastURL  *atomic.Value
}

func setupTestApp(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}

	env := &testEnv{hits: &atomic.Int32{}, lastURL: &atomic.Value{}}

	provider := http.NewServeMux()
	provider.HandleFunc("/providers/chat/recent", func(w http.ResponseWriter, r *http.Request) {
		env.hits.Add(1)
		env.lastURL.Store(r.URL.RawQuery)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"messages":[{"text":"hi"}]}`)
	})
	provider.HandleFunc("/providers/chat/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	provider.HandleFunc("/providers/chat/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(500 * time.Millisecond):
		}
	})
	srv := httptest.NewServer(provider)
	t.Cleanup(srv.Close)

	store := services.NewSQLRegistryStore(db)
	validator, err := services.NewManifestValidator()
	require.NoError(t, err)

	cache := services.NewMemoryContextCache(time.Hour)
	recorder := services.NewModuleMetricsRecorder(store)
	t.Cleanup(recorder.Wait)

	syncer := services.NewRegistrySyncService(store, store, cache, validator, nil)
	matcher := services.NewContextMatcher(store, store)
	fetcher := services.NewContextFetcher(services.ContextFetcherConfig{
		Registry: store,
		Cache:    cache,
		Recorder: recorder,
		BaseURL:  srv.URL,
		Timeout:  100 * time.Millisecond,
	})
	installations := services.NewInstallationService(store, store, syncer, cache)

	app := fiber.New()
	routes := &Routes{
		Context:      NewModuleContextHandler(matcher, fetcher),
		Installation: NewInstallationHandler(installations),
		Admin:        NewRegistryAdminHandler(syncer, store, store, validator, recorder, nil, nil),
		Auth:         middleware.LocalAuthMiddleware(nil, "testing"),
		AdminOnly:    middleware.AdminMiddleware([]string{"root"}),
	}
	routes.Register(app)
	app.Get("/health", NewHealthHandler(store, nil).Handle)

	env.app = app
	env.store = store
	env.recorder = recorder
	return env
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}

	resp, err := e.app.Test(req, 5000)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp.StatusCode, decoded
}

func chatModuleRequest() map[string]interface{} {
	return map[string]interface{}{
		"name":    "Chat",
		"version": "1.0.0",
		"manifest": map[string]interface{}{
			"aiContext": map[string]interface{}{
				"purpose":  "Team messaging",
				"category": "communication",
				"keywords": []string{"chat", "messages"},
				"contextProviders": []map[string]interface{}{
					{"name": "recent", "endpoint": "/providers/:id/recent", "cacheDuration": 60000},
					{"name": "broken", "endpoint": "/providers/:id/broken"},
					{"name": "slow", "endpoint": "/providers/:id/slow"},
				},
			},
		},
	}
}

func publishAndInstall(t *testing.T, env *testEnv, userID string) {
	t.Helper()

	status, body := env.do(t, "PUT", "/api/admin/modules/chat", "root", chatModuleRequest())
	require.Equal(t, fiber.StatusOK, status, "publish: %v", body)

	status, body = env.do(t, "POST", "/api/modules/chat/install", userID, nil)
	require.Equal(t, fiber.StatusCreated, status, "install: %v", body)
}

func TestHealthHandler(t *testing.T) {
	env := setupTestApp(t)

	status, body := env.do(t, "GET", "/health", "", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
}

func TestModuleContext_MatchAndFetch(t *testing.T) {
	env := setupTestApp(t)
	publishAndInstall(t, env, "alice")

	status, body := env.do(t, "POST", "/api/modules/context/match", "alice",
		fiber.Map{"query": "show my chat messages"})
	require.Equal(t, fiber.StatusOK, status)

	matches := body["matches"].([]interface{})
	require.Len(t, matches, 1)
	assert.Equal(t, "chat", matches[0].(map[string]interface{})["moduleId"])

	// Another user without the module installed sees nothing
	status, body = env.do(t, "POST", "/api/modules/context/match", "bob",
		fiber.Map{"query": "show my chat messages"})
	require.Equal(t, fiber.StatusOK, status)
	assert.Empty(t, body["matches"])

	status, body = env.do(t, "GET", "/api/modules/chat/context/recent?limit=5", "alice", nil)
	require.Equal(t, fiber.StatusOK, status, "fetch: %v", body)
	assert.Equal(t, false, body["cached"])
	assert.Equal(t, "recent", body["provider"])
	assert.Equal(t, "limit=5&userId=alice", env.lastURL.Load())

	status, body = env.do(t, "GET", "/api/modules/chat/context/recent?limit=5", "alice", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["cached"])
	assert.Equal(t, int32(1), env.hits.Load())

	status, _ = env.do(t, "DELETE", "/api/modules/chat/context/cache", "alice", nil)
	require.Equal(t, fiber.StatusOK, status)

	status, body = env.do(t, "GET", "/api/modules/chat/context/recent?limit=5", "alice", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["cached"])
	assert.Equal(t, int32(2), env.hits.Load())
}

func TestModuleContext_FetchErrors(t *testing.T) {
	env := setupTestApp(t)
	publishAndInstall(t, env, "alice")

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"unknown module", "/api/modules/ghost/context/recent", fiber.StatusNotFound},
		{"unknown provider", "/api/modules/chat/context/missing", fiber.StatusNotFound},
		{"provider error", "/api/modules/chat/context/broken", fiber.StatusBadGateway},
		{"provider timeout", "/api/modules/chat/context/slow", fiber.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, "GET", tt.path, "alice", nil)
			assert.Equal(t, tt.status, status, "body: %v", body)
			assert.NotEmpty(t, body["error"])
		})
	}

	_, body := env.do(t, "GET", "/api/modules/chat/context/broken", "alice", nil)
	assert.Equal(t, float64(500), body["upstreamStatus"])
}

func TestInstallation_UninstallRemovesEntry(t *testing.T) {
	env := setupTestApp(t)
	publishAndInstall(t, env, "alice")

	status, body := env.do(t, "POST", "/api/modules/ghost/install", "alice", nil)
	assert.Equal(t, fiber.StatusNotFound, status, "body: %v", body)

	status, body = env.do(t, "DELETE", "/api/modules/chat/install", "alice", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["entryRemoved"])

	_, found, err := env.store.GetEntry(context.Background(), "chat")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRegistryAdmin(t *testing.T) {
	env := setupTestApp(t)
	publishAndInstall(t, env, "alice")

	status, _ := env.do(t, "POST", "/api/admin/registry/sync", "alice", nil)
	assert.Equal(t, fiber.StatusForbidden, status, "non-admins are rejected")

	status, body := env.do(t, "POST", "/api/admin/registry/sync", "root", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["unchanged"])

	status, body = env.do(t, "GET", "/api/admin/registry", "root", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(1), body["total"])

	status, body = env.do(t, "GET", "/api/admin/registry/chat", "root", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Team messaging", body["purpose"])

	status, _ = env.do(t, "GET", "/api/admin/registry/ghost", "root", nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, body = env.do(t, "POST", "/api/admin/registry/sync/ghost", "root", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "module_not_found", body["reason"])

	status, body = env.do(t, "GET", "/api/admin/jobs", "root", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Empty(t, body["jobs"])
}

func TestRegistryAdmin_UpsertModuleValidation(t *testing.T) {
	env := setupTestApp(t)

	invalid := chatModuleRequest()
	aiContext := invalid["manifest"].(map[string]interface{})["aiContext"].(map[string]interface{})
	delete(aiContext, "purpose")

	status, body := env.do(t, "PUT", "/api/admin/modules/chat", "root", invalid)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body["error"], "manifest AI context invalid")

	status, _ = env.do(t, "PUT", "/api/admin/modules/chat", "root", map[string]interface{}{})
	assert.Equal(t, fiber.StatusBadRequest, status, "name and version are required")

	// Publishing without an AI context block is allowed; the sync skips it
	status, body = env.do(t, "PUT", "/api/admin/modules/notes", "root",
		map[string]interface{}{"name": "Notes", "version": "0.1.0"})
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "no_ai_context", body["sync"].(map[string]interface{})["reason"])
}

func TestRegistryAdmin_ModuleMetrics(t *testing.T) {
	env := setupTestApp(t)
	publishAndInstall(t, env, "alice")

	env.do(t, "GET", "/api/modules/chat/context/recent", "alice", nil)
	env.do(t, "GET", "/api/modules/chat/context/broken", "alice", nil)
	env.recorder.Wait()

	status, body := env.do(t, "GET", "/api/admin/modules/chat/metrics?days=1", "root", nil)
	require.Equal(t, fiber.StatusOK, status)

	metrics := body["metrics"].([]interface{})
	require.Len(t, metrics, 1)
	today := metrics[0].(map[string]interface{})
	assert.Equal(t, float64(2), today["fetchCount"])
	assert.Equal(t, float64(1), today["successCount"])
	assert.Equal(t, float64(1), today["failureCount"])

	status, _ = env.do(t, "GET", "/api/admin/modules/chat/metrics?days=0", "root", nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("wrapped: %w", services.ErrModuleNotFound), fiber.StatusNotFound},
		{services.ErrProviderNotFound, fiber.StatusNotFound},
		{services.ErrManifestInvalid, fiber.StatusBadRequest},
		{&services.FetchError{Err: fmt.Errorf("%w: x", services.ErrFetchTimeout)}, fiber.StatusGatewayTimeout},
		{&services.FetchError{StatusCode: 500, Err: services.ErrFetchFailed}, fiber.StatusBadGateway},
		{fmt.Errorf("%w: down", services.ErrRegistryUnavailable), fiber.StatusServiceUnavailable},
		{errors.New("anything else"), fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, _ := statusFor(tt.err)
			if status != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, status)
			}
		})
	}
}
