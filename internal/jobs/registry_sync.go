package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"vssyl/internal/models"

	"github.com/google/uuid"
)

const (
	registrySyncLockKey = "vssyl:lock:registry_sync"
	registrySyncLockTTL = 10 * time.Minute
)

// RegistrySyncer is the full-sync contract the job drives
type RegistrySyncer interface {
	SyncAll(ctx context.Context) *models.SyncReport
}

// Locker is a distributed lock, implemented by services.RedisService
type Locker interface {
	AcquireLock(ctx context.Context, key, value string, expiration time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, value string) (bool, error)
}

// RegistrySyncJob periodically reconciles the context registry. With a
// locker configured only one instance runs each tick.
type RegistrySyncJob struct {
	syncer     RegistrySyncer
	locker     Locker
	instanceID string

	mu         sync.RWMutex
	lastReport *models.SyncReport
}

// NewRegistrySyncJob creates the job. locker may be nil for single-instance deployments.
func NewRegistrySyncJob(syncer RegistrySyncer, locker Locker) *RegistrySyncJob {
	return &RegistrySyncJob{
		syncer:     syncer,
		locker:     locker,
		instanceID: uuid.New().String(),
	}
}

// Name identifies the job in the scheduler
func (j *RegistrySyncJob) Name() string {
	return "registry_sync"
}

// Run executes one full sync
func (j *RegistrySyncJob) Run(ctx context.Context) error {
	if j.locker != nil {
		acquired, err := j.locker.AcquireLock(ctx, registrySyncLockKey, j.instanceID, registrySyncLockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire registry sync lock: %w", err)
		}
		if !acquired {
			log.Println("⏭️  [REGISTRY-SYNC] Another instance holds the sync lock, skipping")
			return nil
		}
		defer func() {
			// Detached so a cancelled run still frees the lock
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := j.locker.ReleaseLock(releaseCtx, registrySyncLockKey, j.instanceID); err != nil {
				log.Printf("⚠️  [REGISTRY-SYNC] Failed to release sync lock: %v", err)
			}
		}()
	}

	report := j.syncer.SyncAll(ctx)

	j.mu.Lock()
	j.lastReport = report
	j.mu.Unlock()

	log.Printf("🔄 [REGISTRY-SYNC] Run %s: added=%d updated=%d unchanged=%d skipped=%d removed=%d errors=%d",
		report.RunID, report.Added, report.Updated, report.Unchanged, report.Skipped, report.Removed, report.Errors)

	if !report.Success {
		return fmt.Errorf("registry sync %s finished with %d errors", report.RunID, report.Errors)
	}
	return nil
}

// LastReport returns the most recent report produced by this instance
func (j *RegistrySyncJob) LastReport() *models.SyncReport {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.lastReport
}
