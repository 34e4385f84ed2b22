package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"vssyl/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerEntry(t *testing.T, store *SQLRegistryStore, entry models.ModuleContextEntry) {
	t.Helper()
	entry.CreatedAt = time.Now().UTC()
	entry.LastUpdated = entry.CreatedAt
	mustCreateEntry(t, store, &entry)
}

func TestContextMatcher_ChatScenario(t *testing.T) {
	store := setupTestStore(t)
	registerEntry(t, store, models.ModuleContextEntry{
		ModuleID:   "chat",
		ModuleName: "Chat",
		Keywords:   []string{"chat", "messages"},
	})

	matcher := NewContextMatcher(store, store)
	resp, err := matcher.Match(context.Background(), "I need help with chat messages", []string{"chat"})
	require.NoError(t, err)
	require.Len(t, resp.Matches, 1)

	match := resp.Matches[0]
	assert.Equal(t, 40, match.Score)
	assert.InDelta(t, 0.8, match.Confidence, 1e-9)
	assert.Equal(t, models.RelevanceHigh, match.Relevance)
	assert.Equal(t, []string{"chat", "messages"}, match.MatchedKeywords)
}

func TestContextMatcher_UnrelatedQueryExcluded(t *testing.T) {
	store := setupTestStore(t)
	registerEntry(t, store, models.ModuleContextEntry{
		ModuleID:   "chat",
		ModuleName: "Chat",
		Keywords:   []string{"chat", "messages"},
		Concepts:   []string{"conversation"},
		Patterns:   []string{"send * to"},
	})

	matcher := NewContextMatcher(store, store)
	resp, err := matcher.Match(context.Background(), "unrelated text", []string{"chat"})
	require.NoError(t, err)
	assert.Empty(t, resp.Matches)
	assert.Empty(t, resp.SuggestedFetches)
}

func TestContextMatcher_UninstalledModulesNeverReturned(t *testing.T) {
	store := setupTestStore(t)
	registerEntry(t, store, models.ModuleContextEntry{ModuleID: "chat", ModuleName: "Chat", Keywords: []string{"chat"}})
	registerEntry(t, store, models.ModuleContextEntry{ModuleID: "drive", ModuleName: "Drive", Keywords: []string{"chat"}})

	matcher := NewContextMatcher(store, store)
	resp, err := matcher.Match(context.Background(), "chat", []string{"drive"})
	require.NoError(t, err)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "drive", resp.Matches[0].ModuleID)

	resp, err = matcher.Match(context.Background(), "chat", nil)
	require.NoError(t, err)
	assert.Empty(t, resp.Matches)
}

func TestContextMatcher_EmptyQuery(t *testing.T) {
	store := setupTestStore(t)
	matcher := NewContextMatcher(&faultyStore{Store: store, failListEntries: true}, store)

	for _, query := range []string{"", "   ", "\t\n"} {
		resp, err := matcher.Match(context.Background(), query, []string{"chat"})
		require.NoError(t, err, "empty query must not touch the store")
		assert.Empty(t, resp.Matches)
	}
}

func TestContextMatcher_RegistryUnavailable(t *testing.T) {
	store := setupTestStore(t)
	faulty := &faultyStore{Store: store, failListEntries: true}

	matcher := NewContextMatcher(faulty, faulty)
	_, err := matcher.Match(context.Background(), "chat", []string{"chat"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRegistryUnavailable))

	faulty.failListEntries = false
	faulty.failInstalls = true
	_, err = matcher.MatchForUser(context.Background(), "u1", "chat")
	assert.True(t, errors.Is(err, ErrRegistryUnavailable))
}

func TestContextMatcher_MatchForUser(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	registerEntry(t, store, models.ModuleContextEntry{ModuleID: "chat", ModuleName: "Chat", Keywords: []string{"chat"}})
	registerEntry(t, store, models.ModuleContextEntry{ModuleID: "drive", ModuleName: "Drive", Keywords: []string{"files"}})

	require.NoError(t, store.SetInstallation(ctx, &models.ModuleInstallation{ModuleID: "chat", UserID: "u1", Enabled: true}))

	matcher := NewContextMatcher(store, store)
	resp, err := matcher.MatchForUser(ctx, "u1", "share chat files")
	require.NoError(t, err)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "chat", resp.Matches[0].ModuleID)

	resp, err = matcher.MatchForUser(ctx, "nobody", "share chat files")
	require.NoError(t, err)
	assert.Empty(t, resp.Matches)
}

func TestContextMatcher_RankingAndSuggestedFetches(t *testing.T) {
	store := setupTestStore(t)
	registerEntry(t, store, models.ModuleContextEntry{
		ModuleID:   "weak",
		ModuleName: "Zeta",
		Concepts:   []string{"budget"},
		ContextProviders: []models.ContextProvider{
			{Name: "summary", Endpoint: "/api/modules/:id/summary"},
		},
	})
	registerEntry(t, store, models.ModuleContextEntry{
		ModuleID:   "strong",
		ModuleName: "Finance",
		Keywords:   []string{"invoice"},
		ContextProviders: []models.ContextProvider{
			{Name: "open", Endpoint: "https://finance.example.com/modules/:id/open?x=:id"},
			{Name: "totals", Endpoint: "/api/modules/:id/totals"},
		},
	})
	registerEntry(t, store, models.ModuleContextEntry{
		ModuleID:   "medium",
		ModuleName: "Ledger",
		Keywords:   []string{"budget"},
	})

	matcher := NewContextMatcher(store, store)
	resp, err := matcher.Match(context.Background(), "finance invoice budget", []string{"weak", "strong", "medium"})
	require.NoError(t, err)
	require.Len(t, resp.Matches, 3)

	assert.Equal(t, "strong", resp.Matches[0].ModuleID)
	assert.Equal(t, 30, resp.Matches[0].Score)
	assert.Equal(t, "medium", resp.Matches[1].ModuleID)
	assert.Equal(t, models.RelevanceMedium, resp.Matches[1].Relevance)
	assert.Equal(t, "weak", resp.Matches[2].ModuleID)
	assert.Equal(t, models.RelevanceLow, resp.Matches[2].Relevance)

	// Low-relevance modules contribute no suggested fetches
	assert.Equal(t, []models.SuggestedFetch{
		{ModuleID: "strong", Provider: "open", Endpoint: "https://finance.example.com/modules/strong/open?x=strong"},
		{ModuleID: "strong", Provider: "totals", Endpoint: "/api/modules/strong/totals"},
	}, resp.SuggestedFetches)
}

func TestScoreEntry_RelevanceBuckets(t *testing.T) {
	matcher := NewContextMatcher(nil, nil)

	tests := []struct {
		name      string
		entry     models.ModuleContextEntry
		query     string
		score     int
		relevance models.Relevance
	}{
		{
			name:      "one concept is low",
			entry:     models.ModuleContextEntry{ModuleName: "Qqq", Concepts: []string{"budget"}},
			query:     "budget",
			score:     5,
			relevance: models.RelevanceLow,
		},
		{
			name:      "one keyword is medium",
			entry:     models.ModuleContextEntry{ModuleName: "Qqq", Keywords: []string{"budget"}},
			query:     "budget",
			score:     10,
			relevance: models.RelevanceMedium,
		},
		{
			name:      "one pattern is medium",
			entry:     models.ModuleContextEntry{ModuleName: "Qqq", Patterns: []string{"show * report"}},
			query:     "Show the quarterly REPORT",
			score:     15,
			relevance: models.RelevanceMedium,
		},
		{
			name:      "two keywords reach high",
			entry:     models.ModuleContextEntry{ModuleName: "Qqq", Keywords: []string{"budget", "plan"}},
			query:     "budget plan",
			score:     20,
			relevance: models.RelevanceHigh,
		},
		{
			name:      "name bonus is flat",
			entry:     models.ModuleContextEntry{ModuleName: "Calendar"},
			query:     "calendar cal endar",
			score:     20,
			relevance: models.RelevanceHigh,
		},
		{
			name:      "empty terms are ignored",
			entry:     models.ModuleContextEntry{ModuleName: "Qqq", Keywords: []string{"", " "}, Concepts: []string{""}, Patterns: []string{""}},
			query:     "anything at all",
			score:     0,
		},
		{
			name:      "matching is case-insensitive",
			entry:     models.ModuleContextEntry{ModuleName: "Qqq", Keywords: []string{"Invoice"}, Concepts: []string{"TAX"}},
			query:     "invoice tax",
			score:     15,
			relevance: models.RelevanceMedium,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := matcher.scoreEntry(tt.query, &tt.entry)
			if result.Score != tt.score {
				t.Fatalf("Expected score %d, got %d", tt.score, result.Score)
			}
			if tt.score > 0 && result.Relevance != tt.relevance {
				t.Errorf("Expected relevance %s, got %s", tt.relevance, result.Relevance)
			}
		})
	}
}

func TestRelevanceFor_Boundaries(t *testing.T) {
	tests := []struct {
		score    int
		expected models.Relevance
	}{
		{1, models.RelevanceLow},
		{9, models.RelevanceLow},
		{10, models.RelevanceMedium},
		{19, models.RelevanceMedium},
		{20, models.RelevanceHigh},
		{500, models.RelevanceHigh},
	}

	for _, tt := range tests {
		if got := relevanceFor(tt.score); got != tt.expected {
			t.Errorf("relevanceFor(%d) = %s, expected %s", tt.score, got, tt.expected)
		}
	}
}

func TestScoreEntry_ConfidenceCaps(t *testing.T) {
	matcher := NewContextMatcher(nil, nil)
	entry := models.ModuleContextEntry{
		ModuleName: "Tasks",
		Keywords:   []string{"task", "todo", "due", "list"},
	}

	result := matcher.scoreEntry("task todo due list", &entry)
	assert.Equal(t, 60, result.Score)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestCompileGlob(t *testing.T) {
	tests := []struct {
		pattern string
		input   string
		matches bool
	}{
		{"send * to", "please SEND the file TO bob", true},
		{"send * to", "send to", false},
		{"send *to", "send to", true},
		{"v1.2*", "release v1.2.3", true},
		{"v1.2*", "release v1x2", false},
		{"c++ *", "write c++ code", true},
		{"(beta)", "the (beta) build", true},
		{"(beta)", "the beta build", false},
		{"*", "", true},
		{"report", "quarterly report summary", true},
	}

	for _, tt := range tests {
		re, err := compileGlob(tt.pattern)
		if err != nil {
			t.Fatalf("compileGlob(%q) failed: %v", tt.pattern, err)
		}
		if got := re.MatchString(tt.input); got != tt.matches {
			t.Errorf("glob %q against %q: expected %v, got %v", tt.pattern, tt.input, tt.matches, got)
		}
	}
}

func TestContextMatcher_GlobMemoised(t *testing.T) {
	matcher := NewContextMatcher(nil, nil)

	first := matcher.glob("open * file")
	second := matcher.glob("open * file")
	if first == nil || first != second {
		t.Fatal("Expected the compiled pattern to be reused")
	}
}
