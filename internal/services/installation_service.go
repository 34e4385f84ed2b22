package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"vssyl/internal/models"
)

// InstallationService manages users' module installations and keeps the
// registry entry alive only while the module is installed somewhere
type InstallationService struct {
	installs InstallationStore
	registry RegistryStore
	syncer   *RegistrySyncService
	cache    ContextCache
}

// NewInstallationService creates an installation service
func NewInstallationService(installs InstallationStore, registry RegistryStore, syncer *RegistrySyncService, cache ContextCache) *InstallationService {
	return &InstallationService{
		installs: installs,
		registry: registry,
		syncer:   syncer,
		cache:    cache,
	}
}

// InstallResult reports what an install did to the registry
type InstallResult struct {
	ModuleID string                   `json:"moduleId"`
	Enabled  bool                     `json:"enabled"`
	Sync     *models.ModuleSyncResult `json:"sync,omitempty"`
}

// Install enables moduleID for userID and registers the module's AI context
// if it has no registry entry yet
func (s *InstallationService) Install(ctx context.Context, userID, moduleID string) (*InstallResult, error) {
	_, found, err := s.registry.GetEntry(ctx, moduleID)
	if err != nil {
		return nil, registryUnavailable("load registry entry", err)
	}

	var sync *models.ModuleSyncResult
	if !found {
		result, err := s.syncer.SyncModule(ctx, moduleID)
		if err != nil {
			return nil, err
		}
		if result.Outcome == models.SyncOutcomeSkipped && result.Reason == models.SkipModuleNotFound {
			return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, moduleID)
		}
		sync = &result
	}

	err = s.installs.SetInstallation(ctx, &models.ModuleInstallation{
		ModuleID:    moduleID,
		UserID:      userID,
		Enabled:     true,
		InstalledAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, registryUnavailable("save installation", err)
	}

	log.Printf("📦 [INSTALL] User %s installed module %s", userID, moduleID)
	return &InstallResult{ModuleID: moduleID, Enabled: true, Sync: sync}, nil
}

// UninstallResult reports whether the uninstall removed the registry entry
type UninstallResult struct {
	ModuleID     string `json:"moduleId"`
	Enabled      bool   `json:"enabled"`
	EntryRemoved bool   `json:"entryRemoved"`
}

// Uninstall disables moduleID for userID. When no user has it enabled any
// more, the registry entry and all cached context for it are removed.
func (s *InstallationService) Uninstall(ctx context.Context, userID, moduleID string) (*UninstallResult, error) {
	err := s.installs.SetInstallation(ctx, &models.ModuleInstallation{
		ModuleID:    moduleID,
		UserID:      userID,
		Enabled:     false,
		InstalledAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, registryUnavailable("save installation", err)
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, moduleID, userID); err != nil {
			log.Printf("⚠️ [INSTALL] Failed to clear cached context for %s/%s: %v", moduleID, userID, err)
		}
	}

	remaining, err := s.installs.CountEnabledInstallations(ctx, moduleID)
	if err != nil {
		return nil, registryUnavailable("count installations", err)
	}

	result := &UninstallResult{ModuleID: moduleID}
	if remaining == 0 {
		removed, err := s.syncer.RemoveEntry(ctx, moduleID)
		if err != nil {
			return nil, err
		}
		result.EntryRemoved = removed
		if removed {
			log.Printf("🗑️ [INSTALL] Removed registry entry for %s (no installations left)", moduleID)
		}
	}

	log.Printf("📦 [INSTALL] User %s uninstalled module %s", userID, moduleID)
	return result, nil
}
