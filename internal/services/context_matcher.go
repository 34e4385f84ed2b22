package services

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"vssyl/internal/models"
)

// Match score weights
const (
	keywordWeight = 10
	conceptWeight = 5
	patternWeight = 15
	nameWeight    = 20

	// confidence saturates at this raw score
	confidenceScale = 50

	highRelevanceScore   = 20
	mediumRelevanceScore = 10
)

// ContextMatcher routes free-text queries to the installed modules whose
// registry metadata overlaps them
type ContextMatcher struct {
	registry RegistryStore
	installs InstallationReader

	globMu sync.RWMutex
	globs  map[string]*regexp.Regexp
}

// NewContextMatcher creates a matcher over the registry. installs may be nil
// when only Match is used.
func NewContextMatcher(registry RegistryStore, installs InstallationReader) *ContextMatcher {
	return &ContextMatcher{
		registry: registry,
		installs: installs,
		globs:    make(map[string]*regexp.Regexp),
	}
}

// MatchForUser matches the query against the modules the user has installed
func (m *ContextMatcher) MatchForUser(ctx context.Context, userID, query string) (*models.MatchResponse, error) {
	if strings.TrimSpace(query) == "" {
		return emptyMatchResponse(query), nil
	}

	installed, err := m.installs.InstalledModuleIDs(ctx, userID)
	if err != nil {
		return nil, registryUnavailable("load installed modules", err)
	}

	return m.Match(ctx, query, installed)
}

// Match scores every installed module's registry entry against the query and
// returns the non-zero results ranked by score
func (m *ContextMatcher) Match(ctx context.Context, query string, installedModuleIDs []string) (*models.MatchResponse, error) {
	if strings.TrimSpace(query) == "" || len(installedModuleIDs) == 0 {
		return emptyMatchResponse(query), nil
	}

	installed := make(map[string]struct{}, len(installedModuleIDs))
	for _, id := range installedModuleIDs {
		installed[id] = struct{}{}
	}

	entries, err := m.registry.ListEntries(ctx, installedModuleIDs)
	if err != nil {
		return nil, registryUnavailable("load registry entries", err)
	}

	response := emptyMatchResponse(query)
	for i := range entries {
		if _, ok := installed[entries[i].ModuleID]; !ok {
			continue
		}

		result := m.scoreEntry(query, &entries[i])
		if result.Score == 0 {
			continue
		}
		response.Matches = append(response.Matches, result)
	}

	sort.SliceStable(response.Matches, func(i, j int) bool {
		return response.Matches[i].Score > response.Matches[j].Score
	})

	response.SuggestedFetches = suggestedFetches(response.Matches)
	return response, nil
}

// scoreEntry computes one entry's score and matched terms
func (m *ContextMatcher) scoreEntry(query string, entry *models.ModuleContextEntry) models.MatchResult {
	queryLower := strings.ToLower(query)

	result := models.MatchResult{
		ModuleID:         entry.ModuleID,
		ModuleName:       entry.ModuleName,
		MatchedKeywords:  []string{},
		MatchedConcepts:  []string{},
		MatchedPatterns:  []string{},
		ContextProviders: entry.ContextProviders,
	}
	if result.ContextProviders == nil {
		result.ContextProviders = []models.ContextProvider{}
	}

	for _, keyword := range entry.Keywords {
		if containsTerm(queryLower, keyword) {
			result.Score += keywordWeight
			result.MatchedKeywords = append(result.MatchedKeywords, keyword)
		}
	}

	for _, concept := range entry.Concepts {
		if containsTerm(queryLower, concept) {
			result.Score += conceptWeight
			result.MatchedConcepts = append(result.MatchedConcepts, concept)
		}
	}

	for _, pattern := range entry.Patterns {
		if pattern == "" {
			continue
		}
		if re := m.glob(pattern); re != nil && re.MatchString(query) {
			result.Score += patternWeight
			result.MatchedPatterns = append(result.MatchedPatterns, pattern)
		}
	}

	// Flat bonus: any query token appearing inside the module name
	nameLower := strings.ToLower(entry.ModuleName)
	for _, token := range strings.Fields(queryLower) {
		if strings.Contains(nameLower, token) {
			result.Score += nameWeight
			break
		}
	}

	result.Confidence = math.Min(float64(result.Score)/confidenceScale, 1)
	result.Relevance = relevanceFor(result.Score)
	return result
}

// relevanceFor buckets a raw score. Zero scores never reach here.
func relevanceFor(score int) models.Relevance {
	switch {
	case score >= highRelevanceScore:
		return models.RelevanceHigh
	case score >= mediumRelevanceScore:
		return models.RelevanceMedium
	default:
		return models.RelevanceLow
	}
}

// glob returns the memoised compiled form of a wildcard pattern
func (m *ContextMatcher) glob(pattern string) *regexp.Regexp {
	m.globMu.RLock()
	re, ok := m.globs[pattern]
	m.globMu.RUnlock()
	if ok {
		return re
	}

	re, err := compileGlob(pattern)
	if err != nil {
		re = nil
	}

	m.globMu.Lock()
	m.globs[pattern] = re
	m.globMu.Unlock()
	return re
}

// compileGlob turns a "*" wildcard pattern into a case-insensitive regexp.
// Every other character matches literally; the match is unanchored.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return regexp.Compile("(?i)" + strings.Join(parts, ".*"))
}

func containsTerm(queryLower, term string) bool {
	if strings.TrimSpace(term) == "" {
		return false
	}
	return strings.Contains(queryLower, strings.ToLower(term))
}

func suggestedFetches(matches []models.MatchResult) []models.SuggestedFetch {
	fetches := []models.SuggestedFetch{}
	for _, match := range matches {
		if match.Relevance != models.RelevanceHigh && match.Relevance != models.RelevanceMedium {
			continue
		}
		for _, provider := range match.ContextProviders {
			fetches = append(fetches, models.SuggestedFetch{
				ModuleID: match.ModuleID,
				Provider: provider.Name,
				Endpoint: provider.ResolveEndpoint(match.ModuleID),
			})
		}
	}
	return fetches
}

func emptyMatchResponse(query string) *models.MatchResponse {
	return &models.MatchResponse{
		Query:            query,
		Matches:          []models.MatchResult{},
		SuggestedFetches: []models.SuggestedFetch{},
	}
}
