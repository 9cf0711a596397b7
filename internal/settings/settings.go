// Package settings implements the engine's hierarchical key/value
// persistence: a single YAML document on disk holding the network,
// calibration, PMU-identity, and visualisation sections described in
// SPEC_FULL.md §4.9.
//
// It plays the role the teacher's "settings widget" load/save interface is
// treated through at arm's length (spec.md §1 Non-goals) — the core
// components here only read and write sections of it, they never know
// about a UI.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrConfigInvalid is returned by Load when the file is not valid YAML, and
// by Save when the in-memory document cannot be marshaled. The Set methods
// never fail: a key path through a non-map value replaces it with a map.
var ErrConfigInvalid = errors.New("settings: invalid configuration")

// Store is a hierarchical key/value document backed by a YAML file.
// It is not safe for concurrent use from multiple goroutines without
// external synchronization — callers that share a Store across a
// processor/server boundary should guard it with their own mutex, the way
// the calibration table is treated as copy-on-read in SPEC_FULL.md §5.
type Store struct {
	path string
	data map[string]any
}

// New returns an empty Store that will persist to path on Save.
func New(path string) *Store {
	return &Store{path: path, data: map[string]any{}}
}

// Load reads and parses the YAML document at path. A missing file is not
// an error: it yields an empty Store, matching the teacher's convention of
// falling back to defaults when no config file exists yet.
func Load(path string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(path), nil
	}
	if err != nil {
		return nil, fmt.Errorf("settings: reading %s: %w", path, err)
	}

	data := map[string]any{}
	if len(raw) > 0 {
		if err := yaml.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConfigInvalid, path, err)
		}
	}

	return &Store{path: path, data: data}, nil
}

// Save writes the Store back to its backing file, via a temp-file-plus-
// rename so a crash mid-write never corrupts the previous good document.
func (s *Store) Save() error {
	raw, err := yaml.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("%w: marshaling: %v", ErrConfigInvalid, err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".settings-*.tmp")
	if err != nil {
		return fmt.Errorf("settings: creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("settings: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("settings: closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("settings: renaming into place: %w", err)
	}

	return nil
}

func splitKey(key string) []string {
	return strings.Split(key, ".")
}

// GetString returns the string at a dotted key path (e.g.
// "network.socket"), and whether it was present.
func (s *Store) GetString(key string) (string, bool) {
	v, ok := s.get(key)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// GetFloat returns the float64 at a dotted key path, and whether it was
// present and numeric.
func (s *Store) GetFloat(key string) (float64, bool) {
	v, ok := s.get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// GetSlice returns the list at a dotted key path, and whether it was
// present.
func (s *Store) GetSlice(key string) ([]any, bool) {
	v, ok := s.get(key)
	if !ok {
		return nil, false
	}
	sl, ok := v.([]any)
	return sl, ok
}

func (s *Store) get(key string) (any, bool) {
	parts := splitKey(key)
	var cur any = s.data
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// SetString sets the string at a dotted key path, creating intermediate
// maps as needed.
func (s *Store) SetString(key, value string) {
	s.set(key, value)
}

// SetFloat sets the float64 at a dotted key path, creating intermediate
// maps as needed.
func (s *Store) SetFloat(key string, value float64) {
	s.set(key, value)
}

// SetSlice sets the list at a dotted key path, creating intermediate maps
// as needed.
func (s *Store) SetSlice(key string, value []any) {
	s.set(key, value)
}

func (s *Store) set(key string, value any) {
	parts := splitKey(key)
	if s.data == nil {
		s.data = map[string]any{}
	}
	cur := s.data
	for i, p := range parts {
		if i == len(parts)-1 {
			cur[p] = value
			return
		}
		next, ok := cur[p]
		if !ok {
			nm := map[string]any{}
			cur[p] = nm
			cur = nm
			continue
		}
		nm, ok := next.(map[string]any)
		if !ok {
			nm = map[string]any{}
			cur[p] = nm
		}
		cur = nm
	}
}

// Section returns the dotted-key prefix for a named subsection, e.g.
// Section("calibration", "va") == "calibration.va".
func Section(parts ...string) string {
	return strings.Join(parts, ".")
}
