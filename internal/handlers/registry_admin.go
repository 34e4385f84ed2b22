package handlers

import (
	"fmt"
	"log"
	"strings"
	"time"

	"vssyl/internal/jobs"
	"vssyl/internal/models"
	"vssyl/internal/services"

	"github.com/gofiber/fiber/v2"
)

const maxMetricsDays = 90

// RegistryAdminHandler exposes registry maintenance to superadmins
type RegistryAdminHandler struct {
	syncer    *services.RegistrySyncService
	registry  services.RegistryStore
	catalog   services.ModuleCatalog
	validator *services.ManifestValidator
	recorder  *services.ModuleMetricsRecorder
	scheduler *jobs.JobScheduler
	syncJob   *jobs.RegistrySyncJob
}

// NewRegistryAdminHandler creates a new registry admin handler. scheduler and
// syncJob may be nil when background jobs are disabled.
func NewRegistryAdminHandler(
	syncer *services.RegistrySyncService,
	registry services.RegistryStore,
	catalog services.ModuleCatalog,
	validator *services.ManifestValidator,
	recorder *services.ModuleMetricsRecorder,
	scheduler *jobs.JobScheduler,
	syncJob *jobs.RegistrySyncJob,
) *RegistryAdminHandler {
	return &RegistryAdminHandler{
		syncer:    syncer,
		registry:  registry,
		catalog:   catalog,
		validator: validator,
		recorder:  recorder,
		scheduler: scheduler,
		syncJob:   syncJob,
	}
}

// SyncAll runs a full registry sync and returns its report
// POST /api/admin/registry/sync
func (h *RegistryAdminHandler) SyncAll(c *fiber.Ctx) error {
	report := h.syncer.SyncAll(c.UserContext())
	log.Printf("🔄 [REGISTRY-ADMIN] Manual sync %s by %s: success=%v", report.RunID, c.Locals("user_id"), report.Success)

	status := fiber.StatusOK
	if !report.Success {
		status = fiber.StatusMultiStatus
	}
	return c.Status(status).JSON(report)
}

// SyncModule reconciles one module
// POST /api/admin/registry/sync/:id
func (h *RegistryAdminHandler) SyncModule(c *fiber.Ctx) error {
	result, err := h.syncer.SyncModule(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, "REGISTRY-ADMIN", err)
	}

	if result.Outcome == models.SyncOutcomeSkipped && result.Reason == models.SkipModuleNotFound {
		return c.Status(fiber.StatusNotFound).JSON(result)
	}
	return c.JSON(result)
}

// ListEntries returns every registry entry
// GET /api/admin/registry
func (h *RegistryAdminHandler) ListEntries(c *fiber.Ctx) error {
	entries, err := h.registry.ListEntries(c.UserContext(), nil)
	if err != nil {
		return respondError(c, "REGISTRY-ADMIN", fmt.Errorf("%w: %w", services.ErrRegistryUnavailable, err))
	}
	if entries == nil {
		entries = []models.ModuleContextEntry{}
	}

	return c.JSON(fiber.Map{
		"entries": entries,
		"total":   len(entries),
	})
}

// GetEntry returns one registry entry
// GET /api/admin/registry/:id
func (h *RegistryAdminHandler) GetEntry(c *fiber.Ctx) error {
	entry, found, err := h.registry.GetEntry(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, "REGISTRY-ADMIN", fmt.Errorf("%w: %w", services.ErrRegistryUnavailable, err))
	}
	if !found {
		return respondError(c, "REGISTRY-ADMIN", services.ErrModuleNotFound)
	}

	return c.JSON(entry)
}

// UpsertModule publishes a module definition and reconciles its registry entry
// PUT /api/admin/modules/:id
func (h *RegistryAdminHandler) UpsertModule(c *fiber.Ctx) error {
	moduleID := c.Params("id")

	var req models.UpsertModuleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if strings.TrimSpace(req.Name) == "" {
		req.Name = req.Manifest.Name
	}
	if strings.TrimSpace(req.Version) == "" {
		req.Version = req.Manifest.Version
	}
	if req.Name == "" || req.Version == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "name and version are required",
		})
	}
	if req.Status == "" {
		req.Status = models.ModuleStatusApproved
	}

	// Modules may be published without AI context; a present block must be valid
	if block := req.Manifest.AIContextBlock(); block != nil {
		if err := h.validator.Validate(block); err != nil {
			return respondError(c, "REGISTRY-ADMIN", err)
		}
	}

	module := &models.Module{
		ID:       moduleID,
		Name:     req.Name,
		Version:  req.Version,
		Status:   req.Status,
		Manifest: req.Manifest,
	}
	if err := h.catalog.UpsertModule(c.UserContext(), module); err != nil {
		return respondError(c, "REGISTRY-ADMIN", fmt.Errorf("%w: %w", services.ErrRegistryUnavailable, err))
	}

	result, err := h.syncer.SyncModule(c.UserContext(), moduleID)
	if err != nil {
		return respondError(c, "REGISTRY-ADMIN", err)
	}

	log.Printf("📦 [REGISTRY-ADMIN] Module %s@%s published (%s)", moduleID, module.Version, result.Outcome)
	return c.JSON(fiber.Map{
		"module": module,
		"sync":   result,
	})
}

// ModuleMetrics returns a module's daily fetch metrics
// GET /api/admin/modules/:id/metrics?days=7
func (h *RegistryAdminHandler) ModuleMetrics(c *fiber.Ctx) error {
	days := c.QueryInt("days", 7)
	if days < 1 || days > maxMetricsDays {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("days must be between 1 and %d", maxMetricsDays),
		})
	}

	moduleID := c.Params("id")
	views, err := h.recorder.DailyMetrics(c.UserContext(), moduleID, days, time.Now())
	if err != nil {
		return respondError(c, "REGISTRY-ADMIN", err)
	}
	if views == nil {
		views = []models.DailyModuleMetricsView{}
	}

	return c.JSON(fiber.Map{
		"moduleId": moduleID,
		"days":     days,
		"metrics":  views,
	})
}

// JobStatus reports scheduled jobs and the last sync this instance ran
// GET /api/admin/jobs
func (h *RegistryAdminHandler) JobStatus(c *fiber.Ctx) error {
	response := fiber.Map{"jobs": map[string]jobs.JobStatus{}}
	if h.scheduler != nil {
		response["jobs"] = h.scheduler.GetStatus()
	}
	if h.syncJob != nil {
		if report := h.syncJob.LastReport(); report != nil {
			response["lastSync"] = report
		}
	}
	return c.JSON(response)
}
