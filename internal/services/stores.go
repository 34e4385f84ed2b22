package services

import (
	"context"
	"time"

	"vssyl/internal/models"
)

// RegistryStore persists module context entries keyed by module id
type RegistryStore interface {
	// GetEntry returns the entry for moduleID; found is false when absent
	GetEntry(ctx context.Context, moduleID string) (entry *models.ModuleContextEntry, found bool, err error)
	// ListEntries returns entries for the given ids, or every entry when ids is nil
	ListEntries(ctx context.Context, moduleIDs []string) ([]models.ModuleContextEntry, error)
	ListEntryIDs(ctx context.Context) ([]string, error)
	CreateEntry(ctx context.Context, entry *models.ModuleContextEntry) error
	UpdateEntry(ctx context.Context, entry *models.ModuleContextEntry) error
	// DeleteEntries hard-deletes the given ids in one batch and returns the count removed
	DeleteEntries(ctx context.Context, moduleIDs []string) (int64, error)
}

// ModuleCatalog is the read/write view of published modules and their manifests
type ModuleCatalog interface {
	GetModule(ctx context.Context, moduleID string) (module *models.Module, found bool, err error)
	ListModulesByStatus(ctx context.Context, status models.ModuleStatus) ([]models.Module, error)
	UpsertModule(ctx context.Context, module *models.Module) error
}

// InstallationReader exposes the installation registry's read contract
type InstallationReader interface {
	InstalledModuleIDs(ctx context.Context, userID string) ([]string, error)
}

// InstallationStore adds the writes used by the installation lifecycle
type InstallationStore interface {
	InstallationReader
	SetInstallation(ctx context.Context, installation *models.ModuleInstallation) error
	CountEnabledInstallations(ctx context.Context, moduleID string) (int64, error)
}

// MetricsStore persists per-module daily fetch aggregates
type MetricsStore interface {
	IncrementDailyMetrics(ctx context.Context, moduleID string, day time.Time, delta models.MetricDelta) error
	GetDailyMetrics(ctx context.Context, moduleID string, from, to time.Time) ([]models.DailyModuleMetrics, error)
	DeleteDailyMetricsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store is implemented by the Mongo and SQL backends
type Store interface {
	RegistryStore
	ModuleCatalog
	InstallationStore
	MetricsStore
	Ping(ctx context.Context) error
}
