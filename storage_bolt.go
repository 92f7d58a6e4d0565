package idxmap

import (
	"bytes"
	"fmt"
	"unsafe"

	"go.etcd.io/bbolt"
)

// BoltStore is a Store backed by a single bucket within a Bolt transaction.
// All writes made through it commit or roll back together with the
// transaction, which makes IndexedMap writes atomic.
type BoltStore struct {
	b *bbolt.Bucket
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore returns a Store over the given bucket. In a writable
// transaction the bucket is created if it does not exist; in a read-only
// transaction a missing bucket is reported as an error.
func NewBoltStore(btx *bbolt.Tx, bucket string) (*BoltStore, error) {
	name := unsafeBytesFromString(bucket)
	if btx.Writable() {
		b, err := btx.CreateBucketIfNotExists(name)
		if err != nil {
			return nil, fmt.Errorf("idxmap: bolt bucket %q: %w", bucket, err)
		}
		return &BoltStore{b: b}, nil
	}
	b := btx.Bucket(name)
	if b == nil {
		return nil, fmt.Errorf("idxmap: bolt bucket %q: %w", bucket, bbolt.ErrBucketNotFound)
	}
	return &BoltStore{b: b}, nil
}

// BoltUpdate runs f within a writable Bolt transaction. Any error returned by
// f rolls back every write f has made.
func BoltUpdate(bdb *bbolt.DB, bucket string, f func(s *BoltStore) error) error {
	return bdb.Update(func(btx *bbolt.Tx) error {
		s, err := NewBoltStore(btx, bucket)
		if err != nil {
			return err
		}
		return f(s)
	})
}

// BoltView runs f within a read-only Bolt transaction.
func BoltView(bdb *bbolt.DB, bucket string, f func(s *BoltStore) error) error {
	return bdb.View(func(btx *bbolt.Tx) error {
		s, err := NewBoltStore(btx, bucket)
		if err != nil {
			return err
		}
		return f(s)
	})
}

func (s *BoltStore) Bucket() *bbolt.Bucket { return s.b }

func (s *BoltStore) Get(key []byte) ([]byte, error) { return s.b.Get(key), nil }

// Set copies the value because Bolt requires it to stay valid until commit.
func (s *BoltStore) Set(key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	return s.b.Put(bytes.Clone(key), bytes.Clone(value))
}

func (s *BoltStore) Remove(key []byte) error { return s.b.Delete(key) }

func (s *BoltStore) Cursor() (StoreCursor, error) {
	return boltCursor{c: s.b.Cursor()}, nil
}

type boltCursor struct {
	c *bbolt.Cursor
}

func (c boltCursor) First() ([]byte, []byte) { return c.c.First() }

func (c boltCursor) Last() ([]byte, []byte) { return c.c.Last() }

func (c boltCursor) Seek(seek []byte) ([]byte, []byte) { return c.c.Seek(seek) }

func (c boltCursor) SeekLast(prefix []byte) ([]byte, []byte) {
	if len(prefix) == 0 {
		return c.c.Last()
	}

	limit := prefixSuccessor(prefix)
	if limit == nil {
		// All-0xFF prefix.
		return c.c.Last()
	}
	k, _ := c.c.Seek(limit)
	if k == nil {
		return c.c.Last()
	}
	return c.c.Prev()
}

func (c boltCursor) Next() ([]byte, []byte) { return c.c.Next() }

func (c boltCursor) Prev() ([]byte, []byte) { return c.c.Prev() }

func (c boltCursor) Close() error { return nil }

func unsafeBytesFromString(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
