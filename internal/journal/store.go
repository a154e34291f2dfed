// Package journal persists dropped transactions so a later read can check
// whether they landed after all.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Entry struct {
	TxHash    common.Hash    `json:"tx_hash"`
	Account   common.Address `json:"account"`
	Value     string         `json:"value"`
	DroppedAt time.Time      `json:"dropped_at"`
}

type state struct {
	Dropped []Entry `json:"dropped"`
}

// Store keeps entries in memory and mirrors them to path. An empty path
// disables persistence.
type Store struct {
	path    string
	mu      sync.Mutex
	entries map[common.Hash]Entry
}

func New(path string) *Store {
	return &Store{path: path, entries: map[common.Hash]Entry{}}
}

func (s *Store) Load() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return 0, nil
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	var st state
	if err := json.Unmarshal(b, &st); err != nil {
		return 0, fmt.Errorf("journal %s: %w", s.path, err)
	}
	for _, e := range st.Dropped {
		s.entries[e.TxHash] = e
	}
	return len(s.entries), nil
}

func (s *Store) Add(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.TxHash] = e
	return s.saveLocked()
}

func (s *Store) Remove(hash common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[hash]; !ok {
		return nil
	}
	delete(s.entries, hash)
	return s.saveLocked()
}

// Prune drops entries recorded before cutoff and returns how many went.
func (s *Store) Prune(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for h, e := range s.entries {
		if e.DroppedAt.Before(cutoff) {
			delete(s.entries, h)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, s.saveLocked()
}

// Entries returns a snapshot ordered by drop time.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked()
}

func (s *Store) sortedLocked() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DroppedAt.Equal(out[j].DroppedAt) {
			return out[i].TxHash.Hex() < out[j].TxHash.Hex()
		}
		return out[i].DroppedAt.Before(out[j].DroppedAt)
	})
	return out
}

func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(state{Dropped: s.sortedLocked()}, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("journal rename: %w", err)
	}
	return nil
}
