package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Source is the pluggable source of truth for CI name/address pairs.
type Source interface {
	// Load returns the current set of endpoints. Implementations should
	// honour the context and return an error rather than a partial list.
	Load(ctx context.Context) ([]CIEndpoint, error)
}

// FileSource reads endpoints from a JSON file: an array of objects with
// name, address, kind and optional purposes.
type FileSource struct {
	path string
}

// NewFileSource creates a file-backed source.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Path returns the backing file path, used by the registry watcher.
func (s *FileSource) Path() string { return s.path }

// Load implements Source.
func (s *FileSource) Load(_ context.Context) ([]CIEndpoint, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read registry file: %w", err)
	}
	var entries []CIEndpoint
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse registry file %s: %w", s.path, err)
	}
	for i := range entries {
		if entries[i].Kind == "" {
			entries[i].Kind = KindWorker
		}
	}
	return entries, nil
}

// StaticSource serves a fixed endpoint list. Mutable for tests.
type StaticSource struct {
	mu      sync.Mutex
	entries []CIEndpoint
	err     error
}

// NewStaticSource creates a static source with the given entries.
func NewStaticSource(entries ...CIEndpoint) *StaticSource {
	return &StaticSource{entries: entries}
}

// Set replaces the served entries.
func (s *StaticSource) Set(entries ...CIEndpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
	s.err = nil
}

// Fail makes subsequent loads return err.
func (s *StaticSource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Load implements Source.
func (s *StaticSource) Load(_ context.Context) ([]CIEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]CIEndpoint, len(s.entries))
	copy(out, s.entries)
	return out, nil
}
