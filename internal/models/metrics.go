package models

import "time"

// MetricsDay truncates t to midnight UTC, the bucket key for daily metrics
func MetricsDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// MetricDelta is a set of increments applied to one daily bucket
type MetricDelta struct {
	Fetches      int64
	Successes    int64
	Failures     int64
	Errors       int64
	LatencyMs    int64
	PayloadBytes int64
}

// SuccessDelta is the increment recorded for a successful live fetch
func SuccessDelta(latency time.Duration, payloadBytes int) MetricDelta {
	return MetricDelta{
		Fetches:      1,
		Successes:    1,
		LatencyMs:    latency.Milliseconds(),
		PayloadBytes: int64(payloadBytes),
	}
}

// FailureDelta is the increment recorded for a failed live fetch
func FailureDelta() MetricDelta {
	return MetricDelta{Fetches: 1, Failures: 1, Errors: 1}
}

// DailyModuleMetrics aggregates live-fetch activity for one module on one UTC day
type DailyModuleMetrics struct {
	ModuleID          string    `bson:"moduleId" json:"moduleId"`
	Date              time.Time `bson:"date" json:"date"`
	FetchCount        int64     `bson:"fetchCount" json:"fetchCount"`
	SuccessCount      int64     `bson:"successCount" json:"successCount"`
	FailureCount      int64     `bson:"failureCount" json:"failureCount"`
	ErrorCount        int64     `bson:"errorCount" json:"errorCount"`
	TotalLatencyMs    int64     `bson:"totalLatencyMs" json:"totalLatencyMs"`
	TotalPayloadBytes int64     `bson:"totalPayloadBytes" json:"totalPayloadBytes"`
}

// Apply adds a delta to the aggregate
func (m *DailyModuleMetrics) Apply(d MetricDelta) {
	m.FetchCount += d.Fetches
	m.SuccessCount += d.Successes
	m.FailureCount += d.Failures
	m.ErrorCount += d.Errors
	m.TotalLatencyMs += d.LatencyMs
	m.TotalPayloadBytes += d.PayloadBytes
}

// AvgLatencyMs is the mean latency of successful fetches
func (m *DailyModuleMetrics) AvgLatencyMs() float64 {
	if m.SuccessCount == 0 {
		return 0
	}
	return float64(m.TotalLatencyMs) / float64(m.SuccessCount)
}

// AvgPayloadBytes is the mean payload size of successful fetches
func (m *DailyModuleMetrics) AvgPayloadBytes() float64 {
	if m.SuccessCount == 0 {
		return 0
	}
	return float64(m.TotalPayloadBytes) / float64(m.SuccessCount)
}

// DailyModuleMetricsView adds derived averages for API responses
type DailyModuleMetricsView struct {
	DailyModuleMetrics
	AvgLatencyMs    float64 `json:"avgLatencyMs"`
	AvgPayloadBytes float64 `json:"avgPayloadBytes"`
}

// View returns the aggregate with its derived averages filled in
func (m DailyModuleMetrics) View() DailyModuleMetricsView {
	return DailyModuleMetricsView{
		DailyModuleMetrics: m,
		AvgLatencyMs:       m.AvgLatencyMs(),
		AvgPayloadBytes:    m.AvgPayloadBytes(),
	}
}
