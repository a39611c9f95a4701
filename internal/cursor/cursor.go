// Package cursor persists the set of already-processed message IDs so that
// the two ingestion paths (scheduled sweep, webhook push) never process a
// message twice across restarts.
package cursor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrCorrupt means the cursor file exists but cannot be parsed. Callers must
// treat this as fatal: silently resetting the set would reprocess the whole
// message history.
var ErrCorrupt = errors.New("cursor file corrupt")

// Store is the durable processed-ID set
type Store struct {
	mu   sync.RWMutex
	ids  map[int64]bool
	path string
}

// New creates a store backed by the given file path
func New(path string) *Store {
	return &Store{
		ids:  make(map[int64]bool),
		path: path,
	}
}

// Load reads the processed set from disk. A missing file yields an empty set.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read cursor file: %w", err)
	}

	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}

	s.ids = make(map[int64]bool, len(ids))
	for _, id := range ids {
		s.ids[id] = true
	}
	return nil
}

// Has reports whether a source ID has already completed a run
func (s *Store) Has(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ids[id]
}

// Snapshot returns a copy of the processed set for O(1) membership checks
// during a run
func (s *Store) Snapshot() map[int64]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(map[int64]bool, len(s.ids))
	for id := range s.ids {
		snap[id] = true
	}
	return snap
}

// MaxID returns the highest processed ID, or 0 for an empty set
func (s *Store) MaxID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max int64
	for id := range s.ids {
		if id > max {
			max = id
		}
	}
	return max
}

// Count returns the number of processed IDs
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Mark adds IDs to the processed set and persists the merged set atomically.
// Re-marking an existing ID is a no-op. If persistence fails the in-memory
// set is rolled back so Has never reports an ID that is not on disk.
func (s *Store) Mark(ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	added := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !s.ids[id] {
			s.ids[id] = true
			added = append(added, id)
		}
	}
	if len(added) == 0 {
		return nil
	}

	if err := s.save(); err != nil {
		for _, id := range added {
			delete(s.ids, id)
		}
		return err
	}
	return nil
}

// save writes the set via a temp file + rename so a crash mid-write never
// truncates previously committed entries. Caller holds the lock.
func (s *Store) save() error {
	sorted := make([]int64, 0, len(s.ids))
	for id := range s.ids {
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	data, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create cursor dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write cursor temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("swap cursor file: %w", err)
	}
	return nil
}
