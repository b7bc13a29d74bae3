// Package store is a durable JSON record-set repository keyed by kind.
//
// Each kind maps to one file under the data directory. Saves are serialized
// per kind and land atomically (write to a temp file, then rename), so a
// concurrent Load never observes a partially written record set. The store
// knows nothing about trading semantics; callers own the record shapes.
package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"broker-simv1/internal/model"
)

// Kind identifies one of the persisted record sets.
type Kind string

const (
	KindBalances  Kind = "balances"
	KindPositions Kind = "positions"
	KindOrders    Kind = "orders"
	KindUser      Kind = "user"
)

// Kinds lists every record set the store manages.
var Kinds = []Kind{KindBalances, KindPositions, KindOrders, KindUser}

// Store is a file-backed record-set repository with per-kind exclusive locks.
type Store struct {
	dir   string
	locks map[Kind]*sync.Mutex
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: mkdir %s: %v", model.ErrStoreIO, dir, err)
	}
	locks := make(map[Kind]*sync.Mutex, len(Kinds))
	for _, k := range Kinds {
		locks[k] = &sync.Mutex{}
	}
	log.Printf("[store] using data directory %s", dir)
	return &Store{dir: dir, locks: locks}, nil
}

func (s *Store) path(kind Kind) string {
	return filepath.Join(s.dir, string(kind)+".json")
}

func (s *Store) lock(kind Kind) (*sync.Mutex, error) {
	mu, ok := s.locks[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown record kind %q", model.ErrStoreIO, kind)
	}
	return mu, nil
}

// Load reads the last successfully saved record set for kind into out.
func (s *Store) Load(kind Kind, out any) error {
	mu, err := s.lock(kind)
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()

	data, err := os.ReadFile(s.path(kind))
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", model.ErrStoreIO, kind, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", model.ErrStoreIO, kind, err)
	}
	return nil
}

// Save atomically replaces the record set for kind. Concurrent saves to the
// same kind are serialized; a failed save leaves the previous set intact.
func (s *Store) Save(kind Kind, records any) error {
	mu, err := s.lock(kind)
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()

	return s.write(kind, records)
}

// EnsureSeed writes the given initial record set for kind, but only when no
// file exists yet. Returns true when the seed was written.
func (s *Store) EnsureSeed(kind Kind, records any) (bool, error) {
	mu, err := s.lock(kind)
	if err != nil {
		return false, err
	}
	mu.Lock()
	defer mu.Unlock()

	if _, err := os.Stat(s.path(kind)); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("%w: stat %s: %v", model.ErrStoreIO, kind, err)
	}
	if err := s.write(kind, records); err != nil {
		return false, err
	}
	log.Printf("[store] seeded %s", kind)
	return true, nil
}

// write marshals records and replaces the kind's file atomically.
// Callers must hold the kind's lock.
func (s *Store) write(kind Kind, records any) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", model.ErrStoreIO, kind, err)
	}

	tmp, err := os.CreateTemp(s.dir, string(kind)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: temp %s: %v", model.ErrStoreIO, kind, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write %s: %v", model.ErrStoreIO, kind, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: sync %s: %v", model.ErrStoreIO, kind, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close %s: %v", model.ErrStoreIO, kind, err)
	}
	if err := os.Rename(tmpName, s.path(kind)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: replace %s: %v", model.ErrStoreIO, kind, err)
	}
	return nil
}
