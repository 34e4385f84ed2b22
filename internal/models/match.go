package models

// Relevance is the coarse bucket derived from a raw match score
type Relevance string

const (
	RelevanceHigh   Relevance = "high"
	RelevanceMedium Relevance = "medium"
	RelevanceLow    Relevance = "low"
)

// MatchResult is one ranked candidate module for a query
type MatchResult struct {
	ModuleID         string            `json:"moduleId"`
	ModuleName       string            `json:"moduleName"`
	Score            int               `json:"score"`
	Confidence       float64           `json:"confidence"`
	MatchedKeywords  []string          `json:"matchedKeywords"`
	MatchedConcepts  []string          `json:"matchedConcepts"`
	MatchedPatterns  []string          `json:"matchedPatterns"`
	Relevance        Relevance         `json:"relevance"`
	ContextProviders []ContextProvider `json:"contextProviders"`
}

// SuggestedFetch is a provider endpoint worth fetching for a strong match
type SuggestedFetch struct {
	ModuleID string `json:"moduleId"`
	Provider string `json:"provider"`
	Endpoint string `json:"endpoint"`
}

// MatchResponse is the full result of a matcher query
type MatchResponse struct {
	Query            string           `json:"query"`
	Matches          []MatchResult    `json:"matches"`
	SuggestedFetches []SuggestedFetch `json:"suggestedFetches"`
}

// MatchContextRequest is the request body for the match endpoint
type MatchContextRequest struct {
	Query string `json:"query"`
}
