package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/teemow/meetnotes/internal/clock"
)

// Override is a manual decision about one meeting, keyed by meet code
// so it survives daemon restarts and calendar re-syncs (event ids
// change when a recurring event is edited; the meet code does not).
type Override struct {
	Status    Status    `json:"status"`
	Mode      string    `json:"mode,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// OverrideStore persists manual approve/skip decisions as a JSON file.
// Entries older than 24h are pruned on load; a meet code is only
// meaningful around its meeting's time.
type OverrideStore struct {
	path string
	clk  clock.Clock

	mu      sync.Mutex
	entries map[string]Override
}

const overrideMaxAge = 24 * time.Hour

// LoadOverrides reads the override file at path, pruning stale
// entries. A missing file yields an empty store.
func LoadOverrides(path string, clk clock.Clock) (*OverrideStore, error) {
	if clk == nil {
		clk = clock.Real()
	}
	s := &OverrideStore{path: path, clk: clk, entries: map[string]Override{}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scheduler: reading overrides: %w", err)
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		return nil, fmt.Errorf("scheduler: parsing overrides %s: %w", path, err)
	}

	cutoff := clk.Now().Add(-overrideMaxAge)
	pruned := false
	for code, o := range s.entries {
		if o.Timestamp.Before(cutoff) {
			delete(s.entries, code)
			pruned = true
		}
	}
	if pruned {
		if err := s.saveLocked(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Get returns the override for a meet code, if any.
func (s *OverrideStore) Get(code string) (Override, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.entries[code]
	return o, ok
}

// Set records an override and persists immediately.
func (s *OverrideStore) Set(code string, status Status, mode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.entries[code]
	o.Status = status
	if mode != "" {
		o.Mode = mode
	}
	o.Timestamp = s.clk.Now()
	s.entries[code] = o
	return s.saveLocked()
}

// Remove drops an override and persists immediately.
func (s *OverrideStore) Remove(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[code]; !ok {
		return nil
	}
	delete(s.entries, code)
	return s.saveLocked()
}

// Len returns the number of stored overrides.
func (s *OverrideStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *OverrideStore) saveLocked() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("scheduler: encoding overrides: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("scheduler: creating override dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("scheduler: writing overrides: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("scheduler: replacing overrides: %w", err)
	}
	return nil
}
