package models

import (
	"encoding/json"
	"strings"
	"time"
)

// DefaultContextCacheDuration applies when a provider declares no cacheDuration
const DefaultContextCacheDuration = 15 * time.Minute

// ContextProvider is a module-declared HTTP endpoint returning live context
type ContextProvider struct {
	Name          string `bson:"name" json:"name"`
	Endpoint      string `bson:"endpoint" json:"endpoint"`                             // may contain ":id"
	CacheDuration int64  `bson:"cacheDuration,omitempty" json:"cacheDuration,omitempty"` // milliseconds
}

// TTL returns how long a fetched context stays valid
func (p ContextProvider) TTL() time.Duration {
	if p.CacheDuration <= 0 {
		return DefaultContextCacheDuration
	}
	return time.Duration(p.CacheDuration) * time.Millisecond
}

// ResolveEndpoint substitutes the module id into the endpoint template
func (p ContextProvider) ResolveEndpoint(moduleID string) string {
	return strings.ReplaceAll(p.Endpoint, ":id", moduleID)
}

// ModuleContextEntry is the persisted AI-context record for one module
type ModuleContextEntry struct {
	ModuleID         string            `bson:"_id" json:"moduleId"`
	ModuleName       string            `bson:"moduleName" json:"moduleName"`
	Version          string            `bson:"version" json:"version"`
	Purpose          string            `bson:"purpose" json:"purpose"`
	Category         string            `bson:"category" json:"category"`
	Keywords         []string          `bson:"keywords" json:"keywords"`
	Concepts         []string          `bson:"concepts" json:"concepts"`
	Patterns         []string          `bson:"patterns" json:"patterns"`
	ContextProviders []ContextProvider `bson:"contextProviders" json:"contextProviders"`
	Relationships    json.RawMessage   `bson:"relationships,omitempty" json:"relationships,omitempty"`
	Entities         json.RawMessage   `bson:"entities,omitempty" json:"entities,omitempty"`
	Actions          json.RawMessage   `bson:"actions,omitempty" json:"actions,omitempty"`
	CreatedAt        time.Time         `bson:"createdAt" json:"createdAt"`
	LastUpdated      time.Time         `bson:"lastUpdated" json:"lastUpdated"`
}

// Provider looks up a declared context provider by name
func (e *ModuleContextEntry) Provider(name string) (ContextProvider, bool) {
	for _, p := range e.ContextProviders {
		if p.Name == name {
			return p, true
		}
	}
	return ContextProvider{}, false
}

// NewModuleContextEntry builds a registry entry from a module and its AI-context block
func NewModuleContextEntry(module *Module, block *AIContextManifest, now time.Time) *ModuleContextEntry {
	entry := &ModuleContextEntry{
		ModuleID:  module.ID,
		CreatedAt: now,
	}
	entry.ApplyManifest(module, block, now)
	return entry
}

// ApplyManifest overwrites the entry's manifest-derived fields
func (e *ModuleContextEntry) ApplyManifest(module *Module, block *AIContextManifest, now time.Time) {
	e.ModuleName = module.Name
	e.Version = module.Version
	e.Purpose = block.Purpose
	e.Category = block.Category
	e.Keywords = block.Keywords
	e.Concepts = block.Concepts
	e.Patterns = block.Patterns
	e.ContextProviders = block.ContextProviders
	e.Relationships = block.Relationships
	e.Entities = block.Entities
	e.Actions = block.Actions
	e.LastUpdated = now
}

// CachedContext is a provider response cached per (module, user)
type CachedContext struct {
	Data     json.RawMessage `json:"data"`
	Provider string          `json:"provider"`
	CachedAt time.Time       `json:"cachedAt"`
}

// FreshAt reports whether the cached value is still valid for ttl at now
func (c *CachedContext) FreshAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.CachedAt) < ttl
}

// FetchResult is returned by the context fetcher
type FetchResult struct {
	ModuleID  string          `json:"moduleId"`
	Provider  string          `json:"provider"`
	Data      json.RawMessage `json:"data"`
	Cached    bool            `json:"cached"`
	LatencyMs int64           `json:"latencyMs"`
	CachedAt  time.Time       `json:"cachedAt"`
}

// FetchContextRequest is the query-time input to the context fetcher
type FetchContextRequest struct {
	ModuleID     string
	ProviderName string
	UserID       string
	Parameters   map[string]interface{}
}
