package services

import (
	"context"
	"log"
	"sync"
	"time"

	"vssyl/internal/models"
)

const metricsWriteTimeout = 5 * time.Second

// ModuleMetricsRecorder writes per-module daily fetch aggregates in the
// background. Recording never blocks or fails the fetch that triggered it.
type ModuleMetricsRecorder struct {
	store MetricsStore
	wg    sync.WaitGroup
}

// NewModuleMetricsRecorder creates a recorder over the metrics store
func NewModuleMetricsRecorder(store MetricsStore) *ModuleMetricsRecorder {
	return &ModuleMetricsRecorder{store: store}
}

// RecordSuccess counts a successful live fetch in the UTC day bucket of at
func (r *ModuleMetricsRecorder) RecordSuccess(moduleID string, at time.Time, latency time.Duration, payloadBytes int) {
	r.record(moduleID, at, models.SuccessDelta(latency, payloadBytes))
}

// RecordFailure counts a failed live fetch in the UTC day bucket of at
func (r *ModuleMetricsRecorder) RecordFailure(moduleID string, at time.Time) {
	r.record(moduleID, at, models.FailureDelta())
}

func (r *ModuleMetricsRecorder) record(moduleID string, at time.Time, delta models.MetricDelta) {
	if r == nil || r.store == nil {
		return
	}

	day := models.MetricsDay(at)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		// Detached from the request so a finished request does not cancel the write
		ctx, cancel := context.WithTimeout(context.Background(), metricsWriteTimeout)
		defer cancel()

		if err := r.store.IncrementDailyMetrics(ctx, moduleID, day, delta); err != nil {
			log.Printf("⚠️ [MODULE-METRICS] Failed to record metrics for %s: %v", moduleID, err)
		}
	}()
}

// Wait blocks until every pending write has finished
func (r *ModuleMetricsRecorder) Wait() {
	if r == nil {
		return
	}
	r.wg.Wait()
}

// DailyMetrics returns the aggregates for a module over the last `days` days
func (r *ModuleMetricsRecorder) DailyMetrics(ctx context.Context, moduleID string, days int, now time.Time) ([]models.DailyModuleMetricsView, error) {
	if days < 1 {
		days = 1
	}
	to := models.MetricsDay(now)
	from := to.AddDate(0, 0, -(days - 1))

	buckets, err := r.store.GetDailyMetrics(ctx, moduleID, from, to)
	if err != nil {
		return nil, registryUnavailable("load module metrics", err)
	}

	views := make([]models.DailyModuleMetricsView, 0, len(buckets))
	for _, b := range buckets {
		views = append(views, b.View())
	}
	return views, nil
}
