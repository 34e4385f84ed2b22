package jobs

import (
	"context"
	"fmt"
	"log"
	"time"
)

// MetricsPruner deletes daily metric buckets older than a cutoff
type MetricsPruner interface {
	DeleteDailyMetricsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MetricsRetentionJob deletes per-module daily metrics past the retention window
type MetricsRetentionJob struct {
	store         MetricsPruner
	retentionDays int
	now           func() time.Time
}

// NewMetricsRetentionJob creates a new retention job
func NewMetricsRetentionJob(store MetricsPruner, retentionDays int) *MetricsRetentionJob {
	return &MetricsRetentionJob{
		store:         store,
		retentionDays: retentionDays,
		now:           time.Now,
	}
}

// Name identifies the job in the scheduler
func (j *MetricsRetentionJob) Name() string {
	return "metrics_retention"
}

// Run deletes buckets older than the retention window
func (j *MetricsRetentionJob) Run(ctx context.Context) error {
	if j.retentionDays <= 0 {
		log.Println("[RETENTION] Metrics retention disabled")
		return nil
	}

	cutoff := j.now().UTC().AddDate(0, 0, -j.retentionDays)
	startTime := time.Now()

	deleted, err := j.store.DeleteDailyMetricsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune module metrics: %w", err)
	}

	log.Printf("[RETENTION] Deleted %d module metric buckets before %s in %v",
		deleted, cutoff.Format("2006-01-02"), time.Since(startTime))
	return nil
}
