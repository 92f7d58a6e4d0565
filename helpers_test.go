package idxmap

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"go.etcd.io/bbolt"
)

type thing struct {
	ID    uint64 `msgpack:"id" json:"id"`
	Val   uint64 `msgpack:"val" json:"val"`
	Name  string `msgpack:"name,omitempty" json:"name,omitempty"`
	Email string `msgpack:"email,omitempty" json:"email,omitempty"`
}

type storeBackend struct {
	name string
	open func(t testing.TB) Store
}

var storeBackends = []storeBackend{
	{"mem", func(t testing.TB) Store { return NewMemStore() }},
	{"bolt", openBoltTestStore},
	{"pebble", openPebbleTestStore},
}

// openBoltTestStore returns a store over a writable transaction that is
// rolled back when the test ends.
func openBoltTestStore(t testing.TB) Store {
	bdb, err := bbolt.Open(filepath.Join(t.TempDir(), "test.db"), 0o600, nil)
	if err != nil {
		t.Fatalf("bbolt.Open: %v", err)
	}
	btx, err := bdb.Begin(true)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	t.Cleanup(func() {
		_ = btx.Rollback()
		_ = bdb.Close()
	})
	s, err := NewBoltStore(btx, "test")
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	return s
}

func openPebbleTestDB(t testing.TB) *pebble.DB {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		t.Fatalf("pebble.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func openPebbleTestStore(t testing.TB) Store {
	return NewPebbleStore(openPebbleTestDB(t), pebble.NoSync)
}

func forEachBackend(t *testing.T, f func(t *testing.T, s Store)) {
	for _, b := range storeBackends {
		t.Run(b.name, func(t *testing.T) {
			f(t, b.open(t))
		})
	}
}

var errInjected = errors.New("injected failure")

// failingStore fails every Set or Remove once failAfter successful
// mutations have been made; failAfter < 0 disables the failure.
type failingStore struct {
	Store
	failAfter int
	mutations int
}

func (s *failingStore) mutate() error {
	if s.failAfter >= 0 && s.mutations >= s.failAfter {
		return errInjected
	}
	s.mutations++
	return nil
}

func (s *failingStore) Set(key, value []byte) error {
	if err := s.mutate(); err != nil {
		return err
	}
	return s.Store.Set(key, value)
}

func (s *failingStore) Remove(key []byte) error {
	if err := s.mutate(); err != nil {
		return err
	}
	return s.Store.Remove(key)
}

func assertPanics(t testing.TB, f func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	f()
}
