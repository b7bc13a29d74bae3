package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"broker-simv1/internal/model"
)

type rec struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	in := []rec{{"a", 1}, {"b", 2}, {"c", 3}}
	if err := s.Save(KindOrders, in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var out []rec
	if err := s.Load(KindOrders, &out); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("round trip: got %d records, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("record[%d] = %+v, want %+v", i, out[i], in[i])
		}
	}
}

func TestLoadBeforeSave(t *testing.T) {
	s := newTestStore(t)

	var out []rec
	err := s.Load(KindPositions, &out)
	if !errors.Is(err, model.ErrStoreIO) {
		t.Fatalf("Load on missing file: got %v, want ErrStoreIO", err)
	}
}

func TestUnknownKind(t *testing.T) {
	s := newTestStore(t)

	if err := s.Save(Kind("bogus"), []rec{}); !errors.Is(err, model.ErrStoreIO) {
		t.Errorf("Save unknown kind: got %v, want ErrStoreIO", err)
	}
	var out []rec
	if err := s.Load(Kind("bogus"), &out); !errors.Is(err, model.ErrStoreIO) {
		t.Errorf("Load unknown kind: got %v, want ErrStoreIO", err)
	}
}

func TestEnsureSeed(t *testing.T) {
	s := newTestStore(t)

	seeded, err := s.EnsureSeed(KindUser, rec{"first", 0})
	if err != nil {
		t.Fatalf("EnsureSeed: %v", err)
	}
	if !seeded {
		t.Fatal("expected first EnsureSeed to write")
	}

	// Second seed must not overwrite.
	seeded, err = s.EnsureSeed(KindUser, rec{"second", 0})
	if err != nil {
		t.Fatalf("EnsureSeed(2): %v", err)
	}
	if seeded {
		t.Error("expected second EnsureSeed to be a no-op")
	}

	var out rec
	if err := s.Load(KindUser, &out); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.Name != "first" {
		t.Errorf("seed overwritten: got %q, want %q", out.Name, "first")
	}
}

func TestConcurrentSavesStayConsistent(t *testing.T) {
	s := newTestStore(t)

	// Hammer the same kind from many goroutines. Every Load in between must
	// see a complete record set from exactly one writer, never a blend.
	const writers = 16
	const rounds = 25

	if err := s.Save(KindOrders, make([]rec, 10)); err != nil {
		t.Fatalf("initial Save: %v", err)
	}

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			set := make([]rec, 10)
			for i := range set {
				set[i] = rec{Name: fmt.Sprintf("writer-%d", w), Count: w}
			}
			for r := 0; r < rounds; r++ {
				if err := s.Save(KindOrders, set); err != nil {
					t.Errorf("Save: %v", err)
					return
				}
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()

	for {
		select {
		case <-done:
			return
		default:
		}
		var out []rec
		if err := s.Load(KindOrders, &out); err != nil {
			t.Fatalf("Load: %v", err)
		}
		if len(out) != 10 {
			t.Fatalf("torn read: got %d records, want 10", len(out))
		}
		first := out[0].Name
		for _, r := range out {
			if r.Name != first {
				t.Fatalf("blended record set: %q and %q", first, r.Name)
			}
		}
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := s.Save(KindBalances, rec{"b", i}); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("leftover temp file: %s", e.Name())
		}
	}
}

func TestSavedFileIsValidJSON(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Save(KindPositions, []rec{{"x", 1}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "positions.json"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("saved file is not valid JSON: %v", err)
	}
}
