package idxmap

import (
	"bytes"
	"log/slog"
)

type Order int

const (
	Ascending Order = iota
	Descending
)

func (o Order) String() string {
	if o == Descending {
		return "desc"
	}
	return "asc"
}

// Bound limits a range scan. Keys are relative to the scanned prefix.
// A nil *Bound leaves that end of the range open.
type Bound struct {
	Key       []byte
	Inclusive bool
}

func Inclusive(key []byte) *Bound { return &Bound{Key: key, Inclusive: true} }
func Exclusive(key []byte) *Bound { return &Bound{Key: key, Inclusive: false} }

// Pair is a materialized entry: a primary key and its record.
type Pair[T any] struct {
	Key   []byte
	Value T
}

// materializer turns a raw (relative key, value) entry into a Pair.
type materializer[T any] func(s Store, relKey, value []byte) (Pair[T], error)

// Prefix is a range of a table or index namespace sharing a common key prefix.
type Prefix[T any] struct {
	namespace   string
	index       string
	prefix      []byte
	materialize materializer[T]
	logger      *slog.Logger
	metrics     *Metrics
}

// Range returns a lazy iterator over the entries between min and max (both
// relative to the prefix) in the given order. The primary table is only read
// as each entry is reached.
func (p *Prefix[T]) Range(s Store, min, max *Bound, order Order) *Iterator[T] {
	return p.newIterator(s, min, max, order, false)
}

// Keys iterates over the relative keys in range without reading any record.
// Pair.Value is left zero.
func (p *Prefix[T]) Keys(s Store, min, max *Bound, order Order) *Iterator[T] {
	return p.newIterator(s, min, max, order, true)
}

func (p *Prefix[T]) newIterator(s Store, min, max *Bound, order Order, keysOnly bool) *Iterator[T] {
	rang := RawRange{Prefix: p.prefix, Reverse: (order == Descending)}
	if min != nil {
		rang.Lower, rang.LowerInc = withPrefix(p.prefix, min.Key), min.Inclusive
	}
	if max != nil {
		rang.Upper, rang.UpperInc = withPrefix(p.prefix, max.Key), max.Inclusive
	}
	p.metrics.scan(p.namespace, p.index)

	it := &Iterator[T]{p: p, s: s, keysOnly: keysOnly}
	it.cur, it.err = rang.Scan(s, p.logger)
	if it.err != nil {
		it.err = tableErrf(p.namespace, p.index, nil, it.err, "cannot open cursor")
	}
	return it
}

// Iterator walks a Prefix range. Use it like:
//
//	it := idx.Prefix(idxmap.String("red")).Range(s, nil, nil, idxmap.Ascending)
//	defer it.Close()
//	for it.Next() {
//		use(it.Pair())
//	}
//	if err := it.Err(); err != nil { ... }
//
// Abandoning an iterator has no side effects beyond releasing its cursor.
type Iterator[T any] struct {
	p        *Prefix[T]
	s        Store
	cur      *RawRangeCursor
	keysOnly bool
	rawKey   []byte
	pair     Pair[T]
	err      error
}

func (it *Iterator[T]) Next() bool {
	if it.err != nil || it.cur == nil {
		return false
	}
	if !it.cur.Next() {
		it.err = it.cur.Close()
		it.cur = nil
		return false
	}

	k := it.cur.Key()
	it.rawKey = bytes.Clone(k[len(it.p.prefix):])
	if it.keysOnly {
		it.pair = Pair[T]{Key: it.rawKey}
		return true
	}

	pair, err := it.p.materialize(it.s, it.rawKey, it.cur.Value())
	if err != nil {
		it.err = err
		it.Close()
		return false
	}
	it.pair = pair
	return true
}

// Pair returns the current primary key and record.
func (it *Iterator[T]) Pair() Pair[T] { return it.pair }

// Key returns the primary key of the current entry.
func (it *Iterator[T]) Key() []byte { return it.pair.Key }

// Value returns the current record.
func (it *Iterator[T]) Value() T { return it.pair.Value }

// RawKey returns the current key relative to the prefix. Pass it to
// Exclusive to resume iteration after this entry.
func (it *Iterator[T]) RawKey() []byte { return it.rawKey }

// Err returns the error that stopped the iteration, if any.
func (it *Iterator[T]) Err() error { return it.err }

func (it *Iterator[T]) Close() error {
	if it.cur == nil {
		return nil
	}
	err := it.cur.Close()
	it.cur = nil
	if it.err == nil {
		it.err = err
	}
	return err
}

// Collect drains it and returns all entries.
func Collect[T any](it *Iterator[T]) ([]Pair[T], error) {
	defer it.Close()
	var result []Pair[T]
	for it.Next() {
		result = append(result, it.Pair())
	}
	return result, it.Err()
}

// CollectValues drains it and returns all records.
func CollectValues[T any](it *Iterator[T]) ([]T, error) {
	defer it.Close()
	var result []T
	for it.Next() {
		result = append(result, it.Value())
	}
	return result, it.Err()
}
