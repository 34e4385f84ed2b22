package services

import (
	"errors"
	"testing"

	"vssyl/internal/models"
)

func TestManifestValidator(t *testing.T) {
	validator := setupValidator(t)

	tests := []struct {
		name  string
		block *models.AIContextManifest
		valid bool
	}{
		{"complete block", chatContext(), true},
		{"nil block", nil, false},
		{"empty keywords list", &models.AIContextManifest{Purpose: "p", Category: "c", Keywords: []string{}}, true},
		{"missing keywords", &models.AIContextManifest{Purpose: "p", Category: "c"}, false},
		{"missing purpose", &models.AIContextManifest{Category: "c", Keywords: []string{"k"}}, false},
		{"missing category", &models.AIContextManifest{Purpose: "p", Keywords: []string{"k"}}, false},
		{
			"provider without endpoint",
			&models.AIContextManifest{
				Purpose:          "p",
				Category:         "c",
				Keywords:         []string{"k"},
				ContextProviders: []models.ContextProvider{{Name: "recent"}},
			},
			false,
		},
		{
			"negative cache duration",
			&models.AIContextManifest{
				Purpose:          "p",
				Category:         "c",
				Keywords:         []string{"k"},
				ContextProviders: []models.ContextProvider{{Name: "recent", Endpoint: "/x", CacheDuration: -5}},
			},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.Validate(tt.block)
			if tt.valid && err != nil {
				t.Fatalf("Expected valid block, got %v", err)
			}
			if !tt.valid {
				if err == nil {
					t.Fatal("Expected validation error, got nil")
				}
				if !errors.Is(err, ErrManifestInvalid) {
					t.Errorf("Expected ErrManifestInvalid, got %v", err)
				}
			}
		})
	}
}
