package idxmap

import (
	"bytes"
	"fmt"
	"log/slog"
)

// Index maintains entries derived from the records of one table. IndexedMap
// calls Remove with the previous record and Save with the new one, in the
// order the indices were registered.
type Index[T any] interface {
	Namespace() string
	Save(s Store, pk []byte, rec *T) error
	Remove(s Store, pk []byte, old *T) error
}

// tableRef is what an index knows about the table it is attached to.
type tableRef[T any] struct {
	name   string
	load   func(s Store, pk []byte) (*T, error)
	decode func(pk, data []byte) (*T, error)
	encode func(pk []byte, rec *T) ([]byte, error)
	opt    *Options
}

func (t *tableRef[T]) corrupted(idx string, pk []byte, msg string) error {
	t.opt.Metrics.corruption(idx)
	t.opt.warn(msg, slog.String("ns", t.name), slog.String("index", idx), hexAttr("pk", pk))
	return tableErrf(t.name, idx, pk, ErrCorrupted, "%s", msg)
}

// attachedIndex is implemented by the indices of this package. Custom Index
// implementations work with IndexedMap too, but are not rebuilt or verified.
type attachedIndex[T any] interface {
	Index[T]
	attach(t *tableRef[T])
	clear(s Store) (int, error)
	check(s Store, pk []byte, rec *T) error
	verify(s Store) error
}

// MultiIndex indexes records by a derived key that embeds the primary key,
// so many records may share the same leading elements. The derivation
// usually returns K(field, pk).
//
// Each entry stores the length of the primary key as a big-endian uint32;
// scans take that many trailing bytes of the index key to find the record.
type MultiIndex[T any] struct {
	name      string
	prefix    []byte
	derive    func(rec *T, pk []byte) Key
	include   func(rec *T) bool
	recoverPK func(stored []byte) ([]byte, error)
	table     *tableRef[T]
}

type MultiIndexOption[T any] func(idx *MultiIndex[T])

// WithCondition only indexes records for which include returns true.
//
// include must give the same answer for a record for as long as it stays in
// the table unchanged; otherwise Remove skips entries that Save has written
// and the index goes out of sync. This is not checked.
func WithCondition[T any](include func(rec *T) bool) MultiIndexOption[T] {
	return func(idx *MultiIndex[T]) {
		idx.include = include
	}
}

// WithPKRecovery sets the function that turns the primary key suffix of an
// index key back into the primary key. Use it when the derivation embeds a
// transformed pk, e.g. InvertKey(pk) to reverse the order within a group
// (see RecoverInvertedPK). The transformation must preserve length.
func WithPKRecovery[T any](recoverPK func(stored []byte) ([]byte, error)) MultiIndexOption[T] {
	return func(idx *MultiIndex[T]) {
		idx.recoverPK = recoverPK
	}
}

func NewMultiIndex[T any](namespace string, derive func(rec *T, pk []byte) Key, opts ...MultiIndexOption[T]) *MultiIndex[T] {
	validateNamespace(namespace)
	if derive == nil {
		panic(fmt.Errorf("index %s: nil derivation func", namespace))
	}
	idx := &MultiIndex[T]{
		name:   namespace,
		prefix: nested([]byte(namespace)),
		derive: derive,
	}
	for _, o := range opts {
		o(idx)
	}
	return idx
}

// NewConditionalMultiIndex is NewMultiIndex with WithCondition(include).
func NewConditionalMultiIndex[T any](namespace string, derive func(rec *T, pk []byte) Key, include func(rec *T) bool, opts ...MultiIndexOption[T]) *MultiIndex[T] {
	return NewMultiIndex(namespace, derive, append(opts, WithCondition(include))...)
}

// NewCustomDeserializationMultiIndex is NewMultiIndex with
// WithPKRecovery(recoverPK).
func NewCustomDeserializationMultiIndex[T any](namespace string, derive func(rec *T, pk []byte) Key, recoverPK func(stored []byte) ([]byte, error), opts ...MultiIndexOption[T]) *MultiIndex[T] {
	return NewMultiIndex(namespace, derive, append(opts, WithPKRecovery[T](recoverPK))...)
}

func (idx *MultiIndex[T]) Namespace() string { return idx.name }

func (idx *MultiIndex[T]) String() string { return "multi:" + idx.name }

// Includes reports whether rec is indexed.
func (idx *MultiIndex[T]) Includes(rec *T) bool {
	return idx.include == nil || idx.include(rec)
}

func (idx *MultiIndex[T]) entryKey(rec *T, pk []byte) []byte {
	return withPrefix(idx.prefix, idx.derive(rec, pk).Joined())
}

func (idx *MultiIndex[T]) Save(s Store, pk []byte, rec *T) error {
	if !idx.Includes(rec) {
		return nil
	}
	key := idx.entryKey(rec, pk)
	err := s.Set(key, appendFixedUint32(nil, uint32(len(pk))))
	if err != nil {
		return tableErrf(idx.tableName(), idx.name, pk, err, "store write")
	}
	idx.logOp("PUT", "save", key)
	return nil
}

func (idx *MultiIndex[T]) Remove(s Store, pk []byte, old *T) error {
	if !idx.Includes(old) {
		return nil
	}
	key := idx.entryKey(old, pk)
	err := s.Remove(key)
	if err != nil {
		return tableErrf(idx.tableName(), idx.name, pk, err, "store delete")
	}
	idx.logOp("DELETE", "remove", key)
	return nil
}

// Prefix returns the range of index entries whose key starts with the given
// elements. Pass all but the last element of the derived key for a prefix,
// fewer for a sub-prefix, none for the whole index. Scans yield records in
// index key order, with Pair.Key set to the primary key.
func (idx *MultiIndex[T]) Prefix(elems ...[]byte) *Prefix[T] {
	t := idx.attached()
	sub := nested(elems...)
	return &Prefix[T]{
		namespace: t.name,
		index:     idx.name,
		prefix:    withPrefix(idx.prefix, sub),
		logger:    t.opt.logger(),
		metrics:   t.opt.Metrics,
		materialize: func(s Store, relKey, value []byte) (Pair[T], error) {
			return idx.materialize(s, sub, relKey, value)
		},
	}
}

// All returns the range of the whole index.
func (idx *MultiIndex[T]) All() *Prefix[T] {
	return idx.Prefix()
}

// PK returns the primary key referenced by an index entry. relKey is
// relative to the index namespace.
func (idx *MultiIndex[T]) PK(relKey, value []byte) ([]byte, error) {
	d := makeByteDecoder(value)
	n, err := d.FixedUint32()
	if err != nil {
		return nil, tableErrf(idx.tableName(), idx.name, relKey, err, "invalid entry")
	}
	if int64(n) > int64(len(relKey)) {
		return nil, tableErrf(idx.tableName(), idx.name, relKey, dataErrf(value, 0, nil, "pk length %d exceeds index key length %d", n, len(relKey)), "invalid entry")
	}
	stored := relKey[len(relKey)-int(n):]
	if idx.recoverPK == nil {
		return stored, nil
	}
	pk, err := idx.recoverPK(stored)
	if err != nil {
		return nil, tableErrf(idx.tableName(), idx.name, relKey, err, "cannot recover pk")
	}
	return pk, nil
}

func (idx *MultiIndex[T]) materialize(s Store, sub, relKey, value []byte) (Pair[T], error) {
	t := idx.table
	pk, err := idx.PK(withPrefix(sub, relKey), value)
	if err != nil {
		return Pair[T]{}, err
	}
	rec, err := t.load(s, pk)
	if err != nil {
		return Pair[T]{}, err
	}
	if rec == nil {
		return Pair[T]{}, t.corrupted(idx.name, pk, "index entry refers to a missing record")
	}
	return Pair[T]{Key: pk, Value: *rec}, nil
}

func (idx *MultiIndex[T]) attach(t *tableRef[T]) {
	if idx.table != nil {
		panic(fmt.Errorf("index %s is already attached to table %s", idx.name, idx.table.name))
	}
	idx.table = t
}

func (idx *MultiIndex[T]) attached() *tableRef[T] {
	if idx.table == nil {
		panic(fmt.Errorf("index %s is not attached to a table", idx.name))
	}
	return idx.table
}

func (idx *MultiIndex[T]) tableName() string {
	if idx.table == nil {
		return ""
	}
	return idx.table.name
}

func (idx *MultiIndex[T]) logOp(op, metric string, key []byte) {
	if t := idx.table; t != nil {
		t.opt.Metrics.indexWrite(idx.name, metric)
		t.opt.logOp(op, idx.name, key)
	}
}

func (idx *MultiIndex[T]) clear(s Store) (int, error) {
	return clearPrefix(s, idx.prefix)
}

func (idx *MultiIndex[T]) check(s Store, pk []byte, rec *T) error {
	if !idx.Includes(rec) {
		return nil
	}
	v, err := s.Get(idx.entryKey(rec, pk))
	if err != nil {
		return tableErrf(idx.tableName(), idx.name, pk, err, "store read")
	}
	if v == nil {
		return idx.table.corrupted(idx.name, pk, "record is missing from index")
	}
	return nil
}

func (idx *MultiIndex[T]) verify(s Store) error {
	it := idx.All().Range(s, nil, nil, Ascending)
	defer it.Close()
	for it.Next() {
	}
	return it.Err()
}

// clearPrefix removes every key starting with prefix and returns their count.
func clearPrefix(s Store, prefix []byte) (int, error) {
	cur, err := RawPrefix(prefix).Scan(s, nil)
	if err != nil {
		return 0, err
	}
	var keys [][]byte
	for cur.Next() {
		keys = append(keys, bytes.Clone(cur.Key()))
	}
	err = cur.Close()
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		err = s.Remove(k)
		if err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}
