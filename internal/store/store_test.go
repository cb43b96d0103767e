package store

import (
	"encoding/json"
	"path/filepath"
	"testing"

	bolt "go.etcd.io/bbolt"

	"mcpconceal/internal/detect"
)

func open(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path, Options{FakerSeed: 42, Locale: "en_US"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestLookupOrCreate_Deterministic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.db")
	s := open(t, path)
	defer s.Close()

	a, _, err := s.LookupOrCreate(detect.TypeEmail, "john@test.com")
	if err != nil {
		t.Fatalf("LookupOrCreate: %v", err)
	}
	b, _, err := s.LookupOrCreate(detect.TypeEmail, "john@test.com")
	if err != nil {
		t.Fatalf("LookupOrCreate: %v", err)
	}
	if a != b {
		t.Errorf("repeated lookup of same original returned different fakes: %q vs %q", a, b)
	}
}

func TestLookupOrCreate_DistinctOriginalsDistinctFakes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.db")
	s := open(t, path)
	defer s.Close()

	a, _, _ := s.LookupOrCreate(detect.TypeEmail, "john@test.com")
	b, _, _ := s.LookupOrCreate(detect.TypeEmail, "jane@test.com")
	if a == b {
		t.Errorf("distinct originals mapped to the same fake %q", a)
	}
}

func TestLookupOrCreate_SameValueDifferentTypesIndependent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.db")
	s := open(t, path)
	defer s.Close()

	a, _, _ := s.LookupOrCreate(detect.TypeEmail, "555-12-3456")
	b, _, _ := s.LookupOrCreate(detect.TypeSSN, "555-12-3456")
	if a == b {
		t.Errorf("same original under different entity types produced the same fake %q", a)
	}
}

func TestLookupOrCreate_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.db")

	s1 := open(t, path)
	first, _, err := s1.LookupOrCreate(detect.TypePhone, "(555) 123-4567")
	if err != nil {
		t.Fatalf("LookupOrCreate: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2 := open(t, path)
	defer s2.Close()
	second, _, err := s2.LookupOrCreate(detect.TypePhone, "(555) 123-4567")
	if err != nil {
		t.Fatalf("LookupOrCreate: %v", err)
	}
	if first != second {
		t.Errorf("mapping did not survive restart: %q vs %q", first, second)
	}
}

func TestLookupOrCreate_AlreadyFakeValueMapsToItself(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.db")
	s := open(t, path)
	defer s.Close()

	fake, created, err := s.LookupOrCreate(detect.TypeEmail, "john@test.com")
	if err != nil {
		t.Fatalf("LookupOrCreate: %v", err)
	}
	if !created {
		t.Fatal("expected first sighting to create a mapping")
	}

	// A second pass over already-pseudonymized output runs the fake value
	// itself back through LookupOrCreate (the pattern detector matches it
	// again, since fakes are shape-valid by design). The idempotent-rewrite
	// invariant requires this to map to itself, not mint a second fake.
	again, createdAgain, err := s.LookupOrCreate(detect.TypeEmail, fake)
	if err != nil {
		t.Fatalf("LookupOrCreate on fake value: %v", err)
	}
	if createdAgain {
		t.Error("expected re-lookup of a known fake to not be reported as newly created")
	}
	if again != fake {
		t.Errorf("fake value was not re-mapped to itself: got %q, want %q", again, fake)
	}
}

func TestOpen_SchemaMismatchIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.db")
	s := open(t, path)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Corrupt the persisted schema version directly, bypassing Open.
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		t.Fatalf("reopen raw: %v", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketMeta))
		raw := b.Get([]byte(metaKey))
		var m metaRecord
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		m.SchemaVersion = schemaVersion + 1
		encoded, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return b.Put([]byte(metaKey), encoded)
	})
	if err != nil {
		t.Fatalf("corrupt meta: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close raw: %v", err)
	}

	if _, err := Open(path, Options{FakerSeed: 42}); err != ErrSchemaMismatch {
		t.Errorf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestLLMCache_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.db")
	s := open(t, path)
	defer s.Close()

	cache := s.LLMCache()
	cache.Set("key1", []byte(`{"spans":[]}`))
	v, ok := cache.Get("key1")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(v) != `{"spans":[]}` {
		t.Errorf("got %q", v)
	}
}

func TestSweepOnce_KeepsFreshMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.db")
	s := open(t, path)
	defer s.Close()

	fake, _, err := s.LookupOrCreate(detect.TypeEmail, "old@test.com")
	if err != nil {
		t.Fatalf("LookupOrCreate: %v", err)
	}
	_ = fake

	// retentionDays so large relative to "just created" that nothing is
	// expired yet — sweepOnce should be a no-op.
	n, err := s.sweepOnce(365)
	if err != nil {
		t.Fatalf("sweepOnce: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 rows swept for a fresh mapping, got %d", n)
	}

	again, _, err := s.LookupOrCreate(detect.TypeEmail, "old@test.com")
	if err != nil {
		t.Fatalf("LookupOrCreate: %v", err)
	}
	if again != fake {
		t.Errorf("mapping changed after a no-op sweep: %q vs %q", fake, again)
	}
}
