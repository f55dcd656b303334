// Package denylist persists the set of token identifiers that are always scored as critical.
package denylist

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"riskgate/internal/fsutil"
)

// Store keeps the denylist as a JSON array of strings on disk. Reads go to
// the file every time so out-of-band edits take effect without a restart.
type Store struct {
	path   string
	mu     sync.Mutex
	logger zerolog.Logger
}

// New returns a store backed by path. The file need not exist yet.
func New(path string, logger zerolog.Logger) *Store {
	return &Store{path: path, logger: logger.With().Str("component", "denylist").Logger()}
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// List returns the current entries. A missing file is an empty list.
func (s *Store) List() ([]string, error) {
	return s.read()
}

// Contains reports whether id is denylisted.
func (s *Store) Contains(id string) (bool, error) {
	entries, err := s.read()
	if err != nil {
		return false, err
	}
	return slices.Contains(entries, strings.TrimSpace(id)), nil
}

// Add appends id. It reports false when id was already present.
func (s *Store) Add(id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, errors.New("id required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return false, err
	}
	if slices.Contains(entries, id) {
		return false, nil
	}
	entries = append(entries, id)
	if err := fsutil.WriteJSONAtomic(s.path, entries); err != nil {
		return false, err
	}
	s.logger.Info().Str("id", id).Int("size", len(entries)).Msg("denylist entry added")
	return true, nil
}

// Remove deletes id. It reports false when id was not present.
func (s *Store) Remove(id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, errors.New("id required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return false, err
	}
	idx := slices.Index(entries, id)
	if idx < 0 {
		return false, nil
	}
	entries = slices.Delete(entries, idx, idx+1)
	if err := fsutil.WriteJSONAtomic(s.path, entries); err != nil {
		return false, err
	}
	s.logger.Info().Str("id", id).Int("size", len(entries)).Msg("denylist entry removed")
	return true, nil
}

func (s *Store) read() ([]string, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read denylist: %w", err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return []string{}, nil
	}

	var entries []string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse denylist %s: %w", s.path, err)
	}
	if entries == nil {
		entries = []string{}
	}
	return entries, nil
}
