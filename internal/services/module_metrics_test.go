package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModuleMetricsRecorder_DailyMetrics(t *testing.T) {
	store := setupTestStore(t)
	recorder := NewModuleMetricsRecorder(store)

	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	recorder.RecordSuccess("chat", now, 120*time.Millisecond, 300)
	recorder.RecordSuccess("chat", now.Add(-time.Hour), 80*time.Millisecond, 100)
	recorder.RecordFailure("chat", now.AddDate(0, 0, -2))
	recorder.RecordFailure("chat", now.AddDate(0, 0, -30))
	recorder.Wait()

	views, err := recorder.DailyMetrics(context.Background(), "chat", 7, now)
	require.NoError(t, err)
	require.Len(t, views, 2)

	assert.Equal(t, int64(1), views[0].FailureCount)
	assert.Equal(t, 0.0, views[0].AvgLatencyMs)

	today := views[1]
	assert.Equal(t, int64(2), today.SuccessCount)
	assert.InDelta(t, 100.0, today.AvgLatencyMs, 0.001)
	assert.InDelta(t, 200.0, today.AvgPayloadBytes, 0.001)
}

func TestModuleMetricsRecorder_NilSafe(t *testing.T) {
	var recorder *ModuleMetricsRecorder
	recorder.RecordSuccess("chat", time.Now(), time.Millisecond, 1)
	recorder.RecordFailure("chat", time.Now())
	recorder.Wait()
}

func TestFetchRateLimiter(t *testing.T) {
	limiter := NewFetchRateLimiter(1, 1)
	ctx := context.Background()

	require.NoError(t, limiter.Wait(ctx, "chat"))

	// The bucket for chat is empty; a short deadline cannot be met
	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.Error(t, limiter.Wait(short, "chat"))

	// Other modules have their own bucket
	require.NoError(t, limiter.Wait(ctx, "drive"))

	unlimited := NewFetchRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.NoError(t, unlimited.Wait(ctx, "chat"))
	}
}
