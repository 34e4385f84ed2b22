package models

import "time"

// SyncOutcome is the result of reconciling one module with the registry
type SyncOutcome string

const (
	SyncOutcomeAdded    SyncOutcome = "added"
	SyncOutcomeUpdated  SyncOutcome = "updated"
	SyncOutcomeNoChange SyncOutcome = "no_change"
	SyncOutcomeSkipped  SyncOutcome = "skipped"
	SyncOutcomeError    SyncOutcome = "error"
)

// SkipReason explains a skipped outcome
type SkipReason string

const (
	SkipModuleNotFound    SkipReason = "module_not_found"
	SkipModuleNotApproved SkipReason = "module_not_approved"
	SkipNoAIContext       SkipReason = "no_ai_context"
)

// ModuleSyncResult is the per-module line of a sync report
type ModuleSyncResult struct {
	ModuleID string      `json:"moduleId"`
	Outcome  SyncOutcome `json:"outcome"`
	Reason   SkipReason  `json:"reason,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// SyncReport summarises a full registry sync
type SyncReport struct {
	RunID      string             `json:"runId"`
	Success    bool               `json:"success"`
	Added      int                `json:"added"`
	Updated    int                `json:"updated"`
	Unchanged  int                `json:"unchanged"`
	Skipped    int                `json:"skipped"`
	Removed    int                `json:"removed"`
	Errors     int                `json:"errors"`
	Details    []ModuleSyncResult `json:"details"`
	StartedAt  time.Time          `json:"startedAt"`
	DurationMs int64              `json:"durationMs"`
}

// Record tallies one module result into the report
func (r *SyncReport) Record(result ModuleSyncResult) {
	switch result.Outcome {
	case SyncOutcomeAdded:
		r.Added++
	case SyncOutcomeUpdated:
		r.Updated++
	case SyncOutcomeNoChange:
		r.Unchanged++
	case SyncOutcomeSkipped:
		r.Skipped++
	case SyncOutcomeError:
		r.Errors++
	}
	r.Details = append(r.Details, result)
}
