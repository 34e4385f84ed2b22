package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"vssyl/internal/models"

	"gopkg.in/yaml.v3"
)

// LoadModuleFile reads one module definition from a JSON or YAML file.
// YAML is normalised through JSON so both formats share the json tags.
func LoadModuleFile(path string) (*models.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read module file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse module YAML: %w", err)
		}
		data, err = json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to normalise module YAML: %w", err)
		}
	case ".json":
	default:
		return nil, fmt.Errorf("unsupported module file extension: %s", filepath.Ext(path))
	}

	var module models.Module
	if err := json.Unmarshal(data, &module); err != nil {
		return nil, fmt.Errorf("failed to parse module definition: %w", err)
	}

	if module.ID == "" {
		return nil, fmt.Errorf("module definition %s has no id", filepath.Base(path))
	}
	if module.Name == "" {
		module.Name = module.Manifest.Name
	}
	if module.Version == "" {
		module.Version = module.Manifest.Version
	}
	if module.Status == "" {
		module.Status = models.ModuleStatusApproved
	}

	return &module, nil
}

// LoadModuleFiles reads every module definition in dir, sorted by file name.
// Files that fail to parse are returned in the error map and skipped.
func LoadModuleFiles(dir string) ([]models.Module, map[string]error, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read manifest directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !IsModuleFile(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	modules := make([]models.Module, 0, len(names))
	failures := make(map[string]error)
	for _, name := range names {
		module, err := LoadModuleFile(filepath.Join(dir, name))
		if err != nil {
			failures[name] = err
			continue
		}
		modules = append(modules, *module)
	}

	return modules, failures, nil
}

// IsModuleFile reports whether a file name looks like a module definition
func IsModuleFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return !strings.HasPrefix(name, ".")
	}
	return false
}
