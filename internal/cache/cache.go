// Package cache keeps adapter results between runs so an unchanged snapshot
// is not re-analyzed by slow external tools.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	xxhash "github.com/cespare/xxhash/v2"

	"github.com/clauselens/clauselens/internal/types"
)

// Entry is one cached adapter result.
type Entry struct {
	Adapter  string          `json:"adapter"`
	Findings []types.Finding `json:"findings"`
	StoredAt time.Time       `json:"stored_at"`
}

type DB struct {
	// Key (adapter + inputs digest) -> entry
	Entries map[string]Entry `json:"entries"`
}

// DefaultPath places the cache under the user cache dir.
func DefaultPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".cache")
	}
	return filepath.Join(dir, "clauselens", "adapters.json")
}

func Load(path string) (DB, error) {
	var db DB
	f, err := os.ReadFile(path)
	if err != nil {
		return DB{Entries: map[string]Entry{}}, err
	}
	if err := json.Unmarshal(f, &db); err != nil {
		return DB{Entries: map[string]Entry{}}, err
	}
	if db.Entries == nil {
		db.Entries = map[string]Entry{}
	}
	return db, nil
}

func Save(path string, db DB) error {
	if db.Entries == nil {
		return errors.New("empty cache")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, _ := json.MarshalIndent(db, "", "  ")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Key digests the parts that determine an adapter's output.
func Key(parts ...string) string {
	d := xxhash.New()
	for _, p := range parts {
		_, _ = d.WriteString(p)
		_, _ = d.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", d.Sum64())
}

// Store is a concurrency-safe view over a DB file. Entries older than TTL
// are ignored; a zero TTL keeps entries forever.
type Store struct {
	mu    sync.Mutex
	path  string
	db    DB
	ttl   time.Duration
	dirty bool
	now   func() time.Time
}

// Open loads path if it exists and starts empty otherwise.
func Open(path string, ttl time.Duration) (*Store, error) {
	db, err := Load(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load cache %s: %w", path, err)
	}
	return &Store{path: path, db: db, ttl: ttl, now: time.Now}, nil
}

func (s *Store) Get(key string) ([]types.Finding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.db.Entries[key]
	if !ok {
		return nil, false
	}
	if s.ttl > 0 && s.now().Sub(e.StoredAt) > s.ttl {
		return nil, false
	}
	return append([]types.Finding(nil), e.Findings...), true
}

func (s *Store) Put(key, adapter string, findings []types.Finding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.db.Entries[key] = Entry{Adapter: adapter, Findings: append([]types.Finding(nil), findings...), StoredAt: s.now().UTC()}
	s.dirty = true
}

// Flush writes the cache if anything changed since the last flush.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	if err := Save(s.path, s.db); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

// Len reports the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.db.Entries)
}
