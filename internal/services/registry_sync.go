package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"vssyl/internal/logging"
	"vssyl/internal/models"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
)

// RegistrySyncService reconciles the context registry with approved module manifests
type RegistrySyncService struct {
	registry  RegistryStore
	catalog   ModuleCatalog
	cache     ContextCache
	validator *ManifestValidator
	metrics   *Metrics
	now       func() time.Time

	// serializes full syncs
	mu sync.Mutex
}

// NewRegistrySyncService creates a syncer. cache and metrics may be nil.
func NewRegistrySyncService(registry RegistryStore, catalog ModuleCatalog, cache ContextCache, validator *ManifestValidator, metrics *Metrics) *RegistrySyncService {
	return &RegistrySyncService{
		registry:  registry,
		catalog:   catalog,
		cache:     cache,
		validator: validator,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SyncModule reconciles a single module with its registry entry.
// Missing, unapproved or context-less modules are skipped, not errors;
// the returned error is set only when a store operation fails.
func (s *RegistrySyncService) SyncModule(ctx context.Context, moduleID string) (models.ModuleSyncResult, error) {
	logger := slog.With("component", "registry_sync", "module_id", moduleID)

	module, found, err := s.catalog.GetModule(ctx, moduleID)
	if err != nil {
		err = registryUnavailable("load module", err)
		s.metrics.RecordSyncModule(string(models.SyncOutcomeError))
		return models.ModuleSyncResult{ModuleID: moduleID, Outcome: models.SyncOutcomeError, Error: err.Error()}, err
	}
	if !found {
		result := skipped(moduleID, models.SkipModuleNotFound)
		s.metrics.RecordSyncModule(string(result.Outcome))
		return result, nil
	}

	return s.reconcile(ctx, logger, module)
}

// reconcile applies the approval, manifest and change checks to a loaded module
func (s *RegistrySyncService) reconcile(ctx context.Context, logger *slog.Logger, module *models.Module) (result models.ModuleSyncResult, err error) {
	defer func() {
		s.metrics.RecordSyncModule(string(result.Outcome))
	}()

	if module.Status != models.ModuleStatusApproved {
		return skipped(module.ID, models.SkipModuleNotApproved), nil
	}

	block := module.Manifest.AIContextBlock()
	if err := s.validator.Validate(block); err != nil {
		logger.Debug("manifest has no usable AI context", "error", err)
		return skipped(module.ID, models.SkipNoAIContext), nil
	}

	entry, found, err := s.registry.GetEntry(ctx, module.ID)
	if err != nil {
		return syncError(module.ID, registryUnavailable("load registry entry", err))
	}

	if !found {
		entry = models.NewModuleContextEntry(module, block, s.now())
		if err := s.registry.CreateEntry(ctx, entry); err != nil {
			return syncError(module.ID, registryUnavailable("create registry entry", err))
		}
		logger.Info("registry entry added", "version", module.Version)
		return models.ModuleSyncResult{ModuleID: module.ID, Outcome: models.SyncOutcomeAdded}, nil
	}

	if !entryChanged(entry, module, block) {
		return models.ModuleSyncResult{ModuleID: module.ID, Outcome: models.SyncOutcomeNoChange}, nil
	}

	entry.ApplyManifest(module, block, s.now())
	if err := s.registry.UpdateEntry(ctx, entry); err != nil {
		return syncError(module.ID, registryUnavailable("update registry entry", err))
	}

	s.invalidate(ctx, logger, module.ID)
	logger.Info("registry entry updated", "version", module.Version)
	return models.ModuleSyncResult{ModuleID: module.ID, Outcome: models.SyncOutcomeUpdated}, nil
}

// aiFields are the manifest-derived fields whose change triggers an update
type aiFields struct {
	Purpose          string
	Category         string
	Keywords         []string
	Patterns         []string
	Concepts         []string
	ContextProviders []models.ContextProvider
}

// entryChanged compares version first, then the AI-facing fields structurally
func entryChanged(entry *models.ModuleContextEntry, module *models.Module, block *models.AIContextManifest) bool {
	if entry.Version != module.Version {
		return true
	}

	current := aiFields{
		Purpose:          entry.Purpose,
		Category:         entry.Category,
		Keywords:         entry.Keywords,
		Patterns:         entry.Patterns,
		Concepts:         entry.Concepts,
		ContextProviders: entry.ContextProviders,
	}
	next := aiFields{
		Purpose:          block.Purpose,
		Category:         block.Category,
		Keywords:         block.Keywords,
		Patterns:         block.Patterns,
		Concepts:         block.Concepts,
		ContextProviders: block.ContextProviders,
	}

	return !cmp.Equal(current, next, cmpopts.EquateEmpty())
}

// SyncAll reconciles every approved module and removes orphaned entries.
// Per-module failures are recorded in the report; only a failure to list the
// approved modules aborts the run.
func (s *RegistrySyncService) SyncAll(ctx context.Context) *models.SyncReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := time.Now()
	report := &models.SyncReport{
		RunID:     uuid.New().String(),
		StartedAt: s.now(),
		Details:   []models.ModuleSyncResult{},
	}
	logger := logging.WithSyncRun(report.RunID)
	logger.Info("registry sync started")

	defer func() {
		report.Success = report.Errors == 0
		report.DurationMs = time.Since(started).Milliseconds()
		s.metrics.RecordSyncRun(report.Success)

		logger.Info("registry sync finished",
			"success", report.Success,
			"added", report.Added,
			"updated", report.Updated,
			"unchanged", report.Unchanged,
			"skipped", report.Skipped,
			"removed", report.Removed,
			"errors", report.Errors,
			"duration_ms", report.DurationMs,
		)
	}()

	modules, err := s.catalog.ListModulesByStatus(ctx, models.ModuleStatusApproved)
	if err != nil {
		err = registryUnavailable("list approved modules", err)
		logger.Error("registry sync aborted", "error", err)
		report.Record(models.ModuleSyncResult{Outcome: models.SyncOutcomeError, Error: err.Error()})
		return report
	}

	approved := make(map[string]struct{}, len(modules))
	for i := range modules {
		module := &modules[i]
		approved[module.ID] = struct{}{}

		result, err := s.reconcile(ctx, logging.WithModule(logger, module.ID), module)
		if err != nil {
			logging.WithModule(logger, module.ID).Warn("module sync failed", "error", err)
		}
		report.Record(result)
	}

	removed, err := s.CleanupOrphans(ctx, approved)
	report.Removed = len(removed)
	if err != nil {
		logger.Error("orphan cleanup failed", "error", err)
		report.Record(models.ModuleSyncResult{Outcome: models.SyncOutcomeError, Error: err.Error()})
	}

	return report
}

// CleanupOrphans hard-deletes, in one batch, every registry entry whose module
// id is not in approvedIDs, and returns the ids removed
func (s *RegistrySyncService) CleanupOrphans(ctx context.Context, approvedIDs map[string]struct{}) ([]string, error) {
	ids, err := s.registry.ListEntryIDs(ctx)
	if err != nil {
		return nil, registryUnavailable("list registry entries", err)
	}

	orphans := []string{}
	for _, id := range ids {
		if _, ok := approvedIDs[id]; !ok {
			orphans = append(orphans, id)
		}
	}

	if len(orphans) > 0 {
		if _, err := s.registry.DeleteEntries(ctx, orphans); err != nil {
			s.metrics.SetRegistryEntries(len(ids))
			return nil, registryUnavailable("delete orphaned entries", err)
		}

		logger := slog.With("component", "registry_sync")
		for _, id := range orphans {
			s.invalidate(ctx, logger, id)
		}
		logger.Info("orphaned registry entries removed", "count", len(orphans), "module_ids", orphans)
	}

	s.metrics.SetRegistryEntries(len(ids) - len(orphans))
	return orphans, nil
}

// RemoveEntry deletes one module's entry and its cached context
func (s *RegistrySyncService) RemoveEntry(ctx context.Context, moduleID string) (bool, error) {
	n, err := s.registry.DeleteEntries(ctx, []string{moduleID})
	if err != nil {
		return false, registryUnavailable("delete registry entry", err)
	}
	s.invalidate(ctx, slog.With("component", "registry_sync"), moduleID)
	return n > 0, nil
}

func (s *RegistrySyncService) invalidate(ctx context.Context, logger *slog.Logger, moduleID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateModule(ctx, moduleID); err != nil {
		logger.Warn("failed to invalidate cached context", "module_id", moduleID, "error", err)
	}
}

func skipped(moduleID string, reason models.SkipReason) models.ModuleSyncResult {
	return models.ModuleSyncResult{ModuleID: moduleID, Outcome: models.SyncOutcomeSkipped, Reason: reason}
}

func syncError(moduleID string, err error) (models.ModuleSyncResult, error) {
	return models.ModuleSyncResult{ModuleID: moduleID, Outcome: models.SyncOutcomeError, Error: err.Error()}, err
}
