package services

import (
	"errors"
	"fmt"
)

var (
	// ErrRegistryUnavailable means the backing store could not be read or written
	ErrRegistryUnavailable = errors.New("module context registry unavailable")
	// ErrModuleNotFound means no registry entry exists for the module
	ErrModuleNotFound = errors.New("module not found in context registry")
	// ErrProviderNotFound means the module declares no provider with that name
	ErrProviderNotFound = errors.New("context provider not found")
	// ErrFetchTimeout means the live context request exceeded its deadline
	ErrFetchTimeout = errors.New("context fetch timed out")
	// ErrFetchFailed means the live context request failed or returned a bad response
	ErrFetchFailed = errors.New("context fetch failed")
	// ErrManifestInvalid means a manifest's AI-context block is missing required fields
	ErrManifestInvalid = errors.New("manifest AI context invalid")
)

// FetchError describes a failed live fetch against a provider endpoint
type FetchError struct {
	ModuleID   string
	Provider   string
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("context provider %s/%s returned status %d", e.ModuleID, e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("context provider %s/%s: %v", e.ModuleID, e.Provider, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// registryUnavailable tags a store error so callers can tell lookup failures from misses
func registryUnavailable(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", ErrRegistryUnavailable, op, err)
}
