package preflight

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"vssyl/internal/config"
)

type stubStore struct {
	err error
}

func (s stubStore) Ping(ctx context.Context) error {
	return s.err
}

func testConfig() *config.Config {
	return &config.Config{
		Environment:          "development",
		ContextBaseURL:       "http://localhost:3001",
		RegistrySyncCron:     "*/15 * * * *",
		MetricsRetentionCron: "0 3 * * *",
	}
}

func TestCheckStoreConnection(t *testing.T) {
	result := NewChecker(stubStore{}, testConfig()).checkStoreConnection()
	if result.Status != "pass" {
		t.Errorf("Expected status 'pass', got '%s'", result.Status)
	}

	result = NewChecker(stubStore{err: errors.New("refused")}, testConfig()).checkStoreConnection()
	if result.Status != "fail" {
		t.Errorf("Expected status 'fail', got '%s'", result.Status)
	}
	if result.Error == nil {
		t.Error("Expected error to be set")
	}
}

func TestCheckAuthentication(t *testing.T) {
	tests := []struct {
		name        string
		secret      string
		environment string
		want        string
	}{
		{"configured", "secret", "production", "pass"},
		{"missing in production", "", "production", "fail"},
		{"missing in development", "", "development", "warning"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.JWTSecret = tt.secret
			cfg.Environment = tt.environment

			result := NewChecker(stubStore{}, cfg).checkAuthentication()
			if result.Status != tt.want {
				t.Errorf("Expected status '%s', got '%s'", tt.want, result.Status)
			}
		})
	}
}

func TestCheckContextBaseURL(t *testing.T) {
	for _, tt := range []struct {
		url  string
		want string
	}{
		{"http://localhost:3001", "pass"},
		{"https://api.vssyl.com", "pass"},
		{"localhost:3001", "fail"},
		{"/relative", "fail"},
	} {
		cfg := testConfig()
		cfg.ContextBaseURL = tt.url

		result := NewChecker(stubStore{}, cfg).checkContextBaseURL()
		if result.Status != tt.want {
			t.Errorf("CONTEXT_BASE_URL %q: expected '%s', got '%s'", tt.url, tt.want, result.Status)
		}
	}
}

func TestCheckSchedules(t *testing.T) {
	cfg := testConfig()
	if result := NewChecker(stubStore{}, cfg).checkSchedules(); result.Status != "pass" {
		t.Errorf("Expected status 'pass', got '%s'", result.Status)
	}

	cfg.MetricsRetentionCron = "daily"
	if result := NewChecker(stubStore{}, cfg).checkSchedules(); result.Status != "fail" {
		t.Errorf("Expected status 'fail', got '%s'", result.Status)
	}
}

func TestCheckManifestDir(t *testing.T) {
	cfg := testConfig()
	if result := NewChecker(stubStore{}, cfg).checkManifestDir(); result.Status != "warning" {
		t.Errorf("Expected 'warning' without MANIFEST_DIR, got '%s'", result.Status)
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "chat.json"), []byte(`{"id":"chat","name":"Chat"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.ManifestDir = dir
	if result := NewChecker(stubStore{}, cfg).checkManifestDir(); result.Status != "pass" {
		t.Errorf("Expected 'pass', got '%s': %s", result.Status, result.Message)
	}

	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("id: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if result := NewChecker(stubStore{}, cfg).checkManifestDir(); result.Status != "warning" {
		t.Errorf("Expected 'warning' with an unreadable file, got '%s'", result.Status)
	}

	cfg.ManifestDir = filepath.Join(dir, "missing")
	if result := NewChecker(stubStore{}, cfg).checkManifestDir(); result.Status != "fail" {
		t.Errorf("Expected 'fail' for a missing directory, got '%s'", result.Status)
	}
}

func TestHasFailures(t *testing.T) {
	results := NewChecker(stubStore{}, testConfig()).RunAll()
	if HasFailures(results) {
		t.Errorf("Expected no failures, got %+v", results)
	}
	if !HasFailures([]CheckResult{{Status: "pass"}, {Status: "fail"}}) {
		t.Error("Expected failure to be detected")
	}
}
