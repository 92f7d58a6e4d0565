package idxmap

import (
	"bytes"
	"slices"
	"sort"
)

// MemStore is an in-memory Store keeping all pairs in a sorted slice.
// It is intended for tests and small embedded data sets.
type MemStore struct {
	items []memKV // sorted by key
}

type memKV struct {
	key   []byte
	value []byte
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{}
}

// Len returns the number of stored pairs.
func (s *MemStore) Len() int { return len(s.items) }

// Clone returns a deep copy of the store.
func (s *MemStore) Clone() *MemStore {
	out := &MemStore{items: make([]memKV, len(s.items))}
	for i, kv := range s.items {
		out.items[i] = memKV{
			key:   slices.Clone(kv.key),
			value: slices.Clone(kv.value),
		}
	}
	return out
}

// Equal reports whether both stores hold exactly the same pairs.
func (s *MemStore) Equal(another *MemStore) bool {
	return slices.EqualFunc(s.items, another.items, func(a, b memKV) bool {
		return bytes.Equal(a.key, b.key) && bytes.Equal(a.value, b.value)
	})
}

func (s *MemStore) Get(key []byte) ([]byte, error) {
	i, ok := s.find(key)
	if !ok {
		return nil, nil
	}
	return s.items[i].value, nil
}

func (s *MemStore) Set(key, value []byte) error {
	key = slices.Clone(key)
	value = slices.Clone(value)
	if value == nil {
		value = []byte{}
	}

	i, ok := s.find(key)
	if ok {
		s.items[i].value = value
		return nil
	}
	s.items = slices.Insert(s.items, i, memKV{key: key, value: value})
	return nil
}

func (s *MemStore) Remove(key []byte) error {
	i, ok := s.find(key)
	if !ok {
		return nil
	}
	s.items = slices.Delete(s.items, i, i+1)
	return nil
}

func (s *MemStore) Cursor() (StoreCursor, error) {
	return &memCursor{s: s, pos: -1}, nil
}

func (s *MemStore) find(key []byte) (idx int, ok bool) {
	items := s.items
	i := sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, key) >= 0
	})
	if i < len(items) && bytes.Equal(items[i].key, key) {
		return i, true
	}
	return i, false
}

// memCursor addresses items by position, so it observes mutations made
// through the store while iterating.
type memCursor struct {
	s   *MemStore
	pos int
}

func (c *memCursor) at(pos int) ([]byte, []byte) {
	c.pos = pos
	if pos < 0 || pos >= len(c.s.items) {
		return nil, nil
	}
	kv := c.s.items[pos]
	return kv.key, kv.value
}

func (c *memCursor) First() ([]byte, []byte) {
	return c.at(0)
}

func (c *memCursor) Last() ([]byte, []byte) {
	return c.at(len(c.s.items) - 1)
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	i, _ := c.s.find(seek)
	return c.at(i)
}

func (c *memCursor) SeekLast(prefix []byte) ([]byte, []byte) {
	if len(prefix) == 0 {
		return c.Last()
	}
	limit := prefixSuccessor(prefix)
	if limit == nil {
		// All-0xFF prefix.
		return c.Last()
	}
	i, _ := c.s.find(limit)
	return c.at(i - 1)
}

func (c *memCursor) Next() ([]byte, []byte) {
	if c.pos >= len(c.s.items) {
		return nil, nil
	}
	return c.at(c.pos + 1)
}

func (c *memCursor) Prev() ([]byte, []byte) {
	if c.pos < 0 {
		return nil, nil
	}
	return c.at(c.pos - 1)
}

func (c *memCursor) Close() error { return nil }
