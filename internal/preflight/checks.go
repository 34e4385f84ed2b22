package preflight

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"time"

	"vssyl/internal/config"
	"vssyl/internal/jobs"
)

// CheckResult represents the result of a preflight check
type CheckResult struct {
	Name    string
	Status  string // "pass", "fail", "warning"
	Message string
	Error   error
}

// Pinger is the store connectivity probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker performs pre-flight checks before server starts
type Checker struct {
	store Pinger
	cfg   *config.Config
}

// NewChecker creates a new preflight checker
func NewChecker(store Pinger, cfg *config.Config) *Checker {
	return &Checker{store: store, cfg: cfg}
}

// RunAll runs all preflight checks and returns results
func (c *Checker) RunAll() []CheckResult {
	log.Println("🔍 Running pre-flight checks...")

	results := []CheckResult{
		c.checkStoreConnection(),
		c.checkAuthentication(),
		c.checkContextBaseURL(),
		c.checkSchedules(),
		c.checkManifestDir(),
	}

	// Print summary
	passed := 0
	failed := 0
	warnings := 0

	for _, result := range results {
		switch result.Status {
		case "pass":
			log.Printf("   ✅ %s: %s", result.Name, result.Message)
			passed++
		case "fail":
			log.Printf("   ❌ %s: %s", result.Name, result.Message)
			if result.Error != nil {
				log.Printf("      Error: %v", result.Error)
			}
			failed++
		case "warning":
			log.Printf("   ⚠️  %s: %s", result.Name, result.Message)
			warnings++
		}
	}

	log.Printf("📊 Pre-flight summary: %d passed, %d failed, %d warnings", passed, failed, warnings)

	return results
}

// HasFailures returns true if any check failed
func HasFailures(results []CheckResult) bool {
	for _, result := range results {
		if result.Status == "fail" {
			return true
		}
	}
	return false
}

// checkStoreConnection verifies registry store connectivity
func (c *Checker) checkStoreConnection() CheckResult {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.store.Ping(ctx); err != nil {
		return CheckResult{
			Name:    "Registry Store",
			Status:  "fail",
			Message: "Cannot connect to registry store",
			Error:   err,
		}
	}

	return CheckResult{
		Name:    "Registry Store",
		Status:  "pass",
		Message: "Registry store connection successful",
	}
}

// checkAuthentication requires a JWT secret in production
func (c *Checker) checkAuthentication() CheckResult {
	if c.cfg.JWTSecret != "" {
		return CheckResult{
			Name:    "Authentication",
			Status:  "pass",
			Message: "JWT verification configured",
		}
	}

	if c.cfg.IsProduction() {
		return CheckResult{
			Name:    "Authentication",
			Status:  "fail",
			Message: "JWT_SECRET is required in production",
		}
	}

	return CheckResult{
		Name:    "Authentication",
		Status:  "warning",
		Message: "JWT_SECRET not set (running in development mode)",
	}
}

// checkContextBaseURL verifies relative provider endpoints can be resolved
func (c *Checker) checkContextBaseURL() CheckResult {
	u, err := url.Parse(c.cfg.ContextBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return CheckResult{
			Name:    "Context Base URL",
			Status:  "fail",
			Message: fmt.Sprintf("CONTEXT_BASE_URL %q is not an absolute http(s) URL", c.cfg.ContextBaseURL),
			Error:   err,
		}
	}

	return CheckResult{
		Name:    "Context Base URL",
		Status:  "pass",
		Message: fmt.Sprintf("Relative provider endpoints resolve against %s", u.String()),
	}
}

// checkSchedules validates the background job cron expressions
func (c *Checker) checkSchedules() CheckResult {
	for name, expr := range map[string]string{
		"REGISTRY_SYNC_CRON":     c.cfg.RegistrySyncCron,
		"METRICS_RETENTION_CRON": c.cfg.MetricsRetentionCron,
	} {
		if err := jobs.ValidateCron(expr); err != nil {
			return CheckResult{
				Name:    "Job Schedules",
				Status:  "fail",
				Message: fmt.Sprintf("%s is invalid", name),
				Error:   err,
			}
		}
	}

	return CheckResult{
		Name:    "Job Schedules",
		Status:  "pass",
		Message: "Cron expressions valid",
	}
}

// checkManifestDir verifies the module manifest directory when one is configured
func (c *Checker) checkManifestDir() CheckResult {
	if c.cfg.ManifestDir == "" {
		return CheckResult{
			Name:    "Manifest Directory",
			Status:  "warning",
			Message: "MANIFEST_DIR not set, modules must be published through the admin API",
		}
	}

	modules, failures, err := config.LoadModuleFiles(c.cfg.ManifestDir)
	if err != nil {
		return CheckResult{
			Name:    "Manifest Directory",
			Status:  "fail",
			Message: fmt.Sprintf("Cannot read %s", c.cfg.ManifestDir),
			Error:   err,
		}
	}

	if len(failures) > 0 {
		return CheckResult{
			Name:    "Manifest Directory",
			Status:  "warning",
			Message: fmt.Sprintf("%d module file(s) loaded, %d unreadable", len(modules), len(failures)),
		}
	}

	return CheckResult{
		Name:    "Manifest Directory",
		Status:  "pass",
		Message: fmt.Sprintf("%d module file(s) found", len(modules)),
	}
}
