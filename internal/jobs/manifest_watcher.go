package jobs

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"vssyl/internal/config"
	"vssyl/internal/models"

	"github.com/fsnotify/fsnotify"
)

// ModuleUpserter publishes module definitions into the catalog
type ModuleUpserter interface {
	UpsertModule(ctx context.Context, module *models.Module) error
}

// ManifestWatcher imports module files from a directory into the catalog and
// re-syncs the registry whenever the directory changes
type ManifestWatcher struct {
	dir      string
	catalog  ModuleUpserter
	syncer   RegistrySyncer
	debounce time.Duration

	// resynced receives one value per completed import+sync; used by tests
	resynced chan struct{}
}

// NewManifestWatcher creates a watcher for dir
func NewManifestWatcher(dir string, catalog ModuleUpserter, syncer RegistrySyncer) *ManifestWatcher {
	return &ManifestWatcher{
		dir:      dir,
		catalog:  catalog,
		syncer:   syncer,
		debounce: 500 * time.Millisecond,
	}
}

// Import upserts every module file in the directory and returns how many were
// imported. Unreadable files are logged and skipped.
func (w *ManifestWatcher) Import(ctx context.Context) (int, error) {
	modules, failures, err := config.LoadModuleFiles(w.dir)
	if err != nil {
		return 0, err
	}

	for path, loadErr := range failures {
		log.Printf("⚠️  [MANIFESTS] Skipping %s: %v", filepath.Base(path), loadErr)
	}

	imported := 0
	for i := range modules {
		if err := w.catalog.UpsertModule(ctx, &modules[i]); err != nil {
			return imported, fmt.Errorf("failed to import module %s: %w", modules[i].ID, err)
		}
		imported++
	}

	log.Printf("📦 [MANIFESTS] Imported %d module(s) from %s", imported, w.dir)
	return imported, nil
}

// ImportAndSync imports the directory and runs a full registry sync
func (w *ManifestWatcher) ImportAndSync(ctx context.Context) error {
	if _, err := w.Import(ctx); err != nil {
		return err
	}

	report := w.syncer.SyncAll(ctx)
	if !report.Success {
		return fmt.Errorf("registry sync %s finished with %d errors", report.RunID, report.Errors)
	}
	return nil
}

// Watch blocks, re-importing after file changes settle, until ctx is done
func (w *ManifestWatcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	absDir, err := filepath.Abs(w.dir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for %s: %w", w.dir, err)
	}

	if err := watcher.Add(absDir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", absDir, err)
	}

	log.Printf("👁️  Watching %s for module manifest changes", absDir)

	// Debounce timer to avoid multiple syncs for rapid file changes
	var (
		debounceTimer *time.Timer
		pending       sync.WaitGroup
	)
	defer func() {
		if debounceTimer != nil && debounceTimer.Stop() {
			pending.Done()
		}
		pending.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if !config.IsModuleFile(event.Name) {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			if debounceTimer != nil && debounceTimer.Stop() {
				pending.Done()
			}

			pending.Add(1)
			debounceTimer = time.AfterFunc(w.debounce, func() {
				defer pending.Done()
				log.Printf("🔄 Detected changes in %s, re-syncing module registry...", w.dir)

				if err := w.ImportAndSync(ctx); err != nil {
					log.Printf("❌ Failed to sync modules after file change: %v", err)
				} else {
					log.Printf("✅ Modules synced successfully from %s", w.dir)
				}

				if w.resynced != nil {
					select {
					case w.resynced <- struct{}{}:
					default:
					}
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("⚠️  File watcher error: %v", err)
		}
	}
}
