package models

import (
	"encoding/json"
	"time"
)

// ModuleStatus is the review state of a published module
type ModuleStatus string

const (
	ModuleStatusPending   ModuleStatus = "PENDING"
	ModuleStatusApproved  ModuleStatus = "APPROVED"
	ModuleStatusRejected  ModuleStatus = "REJECTED"
	ModuleStatusSuspended ModuleStatus = "SUSPENDED"
)

// Module represents an installable plugin and its published manifest
type Module struct {
	ID        string         `bson:"_id" json:"id" yaml:"id"`
	Name      string         `bson:"name" json:"name" yaml:"name"`
	Version   string         `bson:"version" json:"version" yaml:"version"`
	Status    ModuleStatus   `bson:"status" json:"status" yaml:"status"`
	Manifest  ModuleManifest `bson:"manifest" json:"manifest" yaml:"manifest"`
	CreatedAt time.Time      `bson:"createdAt" json:"createdAt" yaml:"-"`
	UpdatedAt time.Time      `bson:"updatedAt" json:"updatedAt" yaml:"-"`
}

// ModuleManifest is the module's self-description. The AI-context block may be
// published under either "aiContext" or the older "ai_context" key.
type ModuleManifest struct {
	Name            string             `bson:"name,omitempty" json:"name,omitempty"`
	Version         string             `bson:"version,omitempty" json:"version,omitempty"`
	Description     string             `bson:"description,omitempty" json:"description,omitempty"`
	AIContext       *AIContextManifest `bson:"aiContext,omitempty" json:"aiContext,omitempty"`
	LegacyAIContext *AIContextManifest `bson:"ai_context,omitempty" json:"ai_context,omitempty"`
}

// AIContextBlock returns the manifest's AI-context block, preferring "aiContext"
func (m ModuleManifest) AIContextBlock() *AIContextManifest {
	if m.AIContext != nil {
		return m.AIContext
	}
	return m.LegacyAIContext
}

// AIContextManifest is the AI-facing metadata a module declares about itself.
// Keywords has no omitempty so that a missing list and an empty list stay
// distinguishable once re-encoded for schema validation.
type AIContextManifest struct {
	Purpose          string            `bson:"purpose" json:"purpose"`
	Category         string            `bson:"category" json:"category"`
	Keywords         []string          `bson:"keywords" json:"keywords"`
	Patterns         []string          `bson:"patterns,omitempty" json:"patterns,omitempty"`
	Concepts         []string          `bson:"concepts,omitempty" json:"concepts,omitempty"`
	ContextProviders []ContextProvider `bson:"contextProviders,omitempty" json:"contextProviders,omitempty"`
	Entities         json.RawMessage   `bson:"entities,omitempty" json:"entities,omitempty"`
	Actions          json.RawMessage   `bson:"actions,omitempty" json:"actions,omitempty"`
	Relationships    json.RawMessage   `bson:"relationships,omitempty" json:"relationships,omitempty"`
}

// ModuleInstallation records whether a user has a module installed
type ModuleInstallation struct {
	ModuleID    string    `bson:"moduleId" json:"moduleId"`
	UserID      string    `bson:"userId" json:"userId"`
	Enabled     bool      `bson:"enabled" json:"enabled"`
	InstalledAt time.Time `bson:"installedAt" json:"installedAt"`
}

// UpsertModuleRequest is the admin request body for publishing a module
type UpsertModuleRequest struct {
	Name     string         `json:"name"`
	Version  string         `json:"version"`
	Status   ModuleStatus   `json:"status"`
	Manifest ModuleManifest `json:"manifest"`
}
