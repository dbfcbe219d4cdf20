// Package persistence provides the file-backed stores the pipeline runs on:
// a generic JSON key-value store for the caches, the master-graph document
// store, and the processed-fragments log.
package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"graphweaver/pkg/errors"
)

// Store is a mutex-guarded JSON map persisted to a single file. Writes mark
// the store dirty; Save is a no-op until something changed, and writes via a
// temp file plus rename so readers never observe a partial file.
type Store[V any] struct {
	path   string
	logger *zap.Logger

	mu    sync.RWMutex
	data  map[string]V
	dirty bool
}

// Open loads the store at path. A missing file yields an empty store; a
// corrupt file is an error so a damaged cache is noticed rather than
// silently truncated.
func Open[V any](path string, logger *zap.Logger) (*Store[V], error) {
	s := &Store[V]{
		path:   path,
		logger: logger,
		data:   make(map[string]V),
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errors.NewInternal("failed to read store "+path, err)
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, errors.NewInternal("failed to parse store "+path, err)
	}
	return s, nil
}

// Get returns the value for key.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Put stores the value and marks the store dirty.
func (s *Store[V]) Put(key string, v V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = v
	s.dirty = true
}

// Delete removes the key; a hit marks the store dirty.
func (s *Store[V]) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; ok {
		delete(s.data, key)
		s.dirty = true
	}
}

// Len returns the number of entries.
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Keys returns the keys sorted.
func (s *Store[V]) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Range calls fn over a snapshot of the entries; returning false stops the
// iteration.
func (s *Store[V]) Range(fn func(key string, v V) bool) {
	s.mu.RLock()
	snapshot := make(map[string]V, len(s.data))
	for k, v := range s.data {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	for k, v := range snapshot {
		if !fn(k, v) {
			return
		}
	}
}

// Save writes the store to disk if it changed since the last save.
func (s *Store[V]) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	if err := writeJSONAtomic(s.path, s.data); err != nil {
		return err
	}
	s.dirty = false
	s.logger.Info("store saved", zap.String("path", s.path), zap.Int("entries", len(s.data)))
	return nil
}

// WriteJSONFile marshals v with indentation and replaces path atomically,
// creating parent directories as needed.
func WriteJSONFile(path string, v any) error {
	return writeJSONAtomic(path, v)
}

// writeJSONAtomic marshals v with indentation and replaces path atomically.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.NewInternal("failed to marshal "+path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewInternal("failed to create directory for "+path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.NewInternal("failed to write "+tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.NewInternal("failed to replace "+path, err)
	}
	return nil
}
