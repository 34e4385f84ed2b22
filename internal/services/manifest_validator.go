package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"vssyl/internal/models"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const aiContextSchemaURL = "vssyl://schemas/ai-context.schema.json"

const aiContextSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["purpose", "category", "keywords"],
	"properties": {
		"purpose":  {"type": "string", "minLength": 1},
		"category": {"type": "string", "minLength": 1},
		"keywords": {"type": "array", "items": {"type": "string"}},
		"patterns": {"type": "array", "items": {"type": "string"}},
		"concepts": {"type": "array", "items": {"type": "string"}},
		"contextProviders": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "endpoint"],
				"properties": {
					"name":          {"type": "string", "minLength": 1},
					"endpoint":      {"type": "string", "minLength": 1},
					"cacheDuration": {"type": "integer", "minimum": 0}
				}
			}
		}
	}
}`

// ManifestValidator checks a manifest's AI-context block against its JSON schema
type ManifestValidator struct {
	schema *jsonschema.Schema
}

// NewManifestValidator compiles the AI-context schema
func NewManifestValidator() (*ManifestValidator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(aiContextSchemaURL, strings.NewReader(aiContextSchema)); err != nil {
		return nil, fmt.Errorf("failed to add AI context schema: %w", err)
	}

	schema, err := compiler.Compile(aiContextSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile AI context schema: %w", err)
	}

	return &ManifestValidator{schema: schema}, nil
}

// Validate returns an ErrManifestInvalid error when block is nil or does not
// carry a usable purpose, category and keywords list
func (v *ManifestValidator) Validate(block *models.AIContextManifest) error {
	if block == nil {
		return fmt.Errorf("%w: no AI context block", ErrManifestInvalid)
	}

	data, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}

	var instance interface{}
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}

	if err := v.schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}
	return nil
}
