package idxmap

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// PebbleStore is a Store backed by Pebble. It writes either directly to a
// DB, or into an indexed batch that the caller commits atomically.
type PebbleStore struct {
	r  pebble.Reader
	w  pebble.Writer
	wo *pebble.WriteOptions
}

var _ Store = (*PebbleStore)(nil)

// NewPebbleStore writes straight to db with the given write options
// (pebble.Sync when nil).
func NewPebbleStore(db *pebble.DB, wo *pebble.WriteOptions) *PebbleStore {
	if wo == nil {
		wo = pebble.Sync
	}
	return &PebbleStore{r: db, w: db, wo: wo}
}

// NewPebbleBatchStore reads and writes through an indexed batch (see
// pebble.DB.NewIndexedBatch), so reads observe earlier writes of the same
// batch. Nothing is persisted until the caller commits the batch.
func NewPebbleBatchStore(b *pebble.Batch) *PebbleStore {
	if !b.Indexed() {
		panic("idxmap: NewPebbleBatchStore requires an indexed batch")
	}
	return &PebbleStore{r: b, w: b, wo: nil}
}

// PebbleUpdate runs f against an indexed batch of db and commits the batch
// only if f succeeds.
func PebbleUpdate(db *pebble.DB, wo *pebble.WriteOptions, f func(s *PebbleStore) error) error {
	if wo == nil {
		wo = pebble.Sync
	}
	b := db.NewIndexedBatch()
	defer b.Close()
	err := f(NewPebbleBatchStore(b))
	if err != nil {
		return err
	}
	return b.Commit(wo)
}

func (s *PebbleStore) Get(key []byte) ([]byte, error) {
	value, closer, err := s.r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()
	if value == nil {
		value = []byte{}
	}
	return bytes.Clone(value), nil
}

func (s *PebbleStore) Set(key, value []byte) error {
	return s.w.Set(key, value, s.wo)
}

func (s *PebbleStore) Remove(key []byte) error {
	return s.w.Delete(key, s.wo)
}

func (s *PebbleStore) Cursor() (StoreCursor, error) {
	it, err := s.r.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, fmt.Errorf("pebble iter: %w", err)
	}
	return &pebbleCursor{it: it}, nil
}

type pebbleCursor struct {
	it *pebble.Iterator
}

func (c *pebbleCursor) current(valid bool) ([]byte, []byte) {
	if !valid {
		return nil, nil
	}
	v := c.it.Value()
	if v == nil {
		v = []byte{}
	}
	return c.it.Key(), v
}

func (c *pebbleCursor) First() ([]byte, []byte) { return c.current(c.it.First()) }

func (c *pebbleCursor) Last() ([]byte, []byte) { return c.current(c.it.Last()) }

func (c *pebbleCursor) Seek(seek []byte) ([]byte, []byte) { return c.current(c.it.SeekGE(seek)) }

func (c *pebbleCursor) SeekLast(prefix []byte) ([]byte, []byte) {
	if len(prefix) == 0 {
		return c.Last()
	}
	limit := prefixSuccessor(prefix)
	if limit == nil {
		return c.Last()
	}
	return c.current(c.it.SeekLT(limit))
}

func (c *pebbleCursor) Next() ([]byte, []byte) { return c.current(c.it.Next()) }

func (c *pebbleCursor) Prev() ([]byte, []byte) { return c.current(c.it.Prev()) }

func (c *pebbleCursor) Close() error { return c.it.Close() }
