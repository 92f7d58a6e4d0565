package idxmap

import (
	"bytes"
	"fmt"
)

// UniqueIndex maps a derived key to exactly one record. Each entry holds the
// primary key and a copy of the encoded record, so lookups and scans do not
// read the primary table unless the index was built with UniqueCheckPrimary.
//
// Saving a record whose derived key already belongs to another primary key
// fails with ErrDuplicateKey, unless the index was built with
// UniqueOverwrite.
type UniqueIndex[T any] struct {
	name      string
	prefix    []byte
	derive    func(rec *T) Key
	overwrite bool
	checkPK   bool
	table     *tableRef[T]
}

type UniqueOption func(o *uniqueOptions)

type uniqueOptions struct {
	overwrite bool
	checkPK   bool
}

// UniqueOverwrite makes a colliding save replace the entry of the other
// primary key (last write wins). The replaced record is then no longer
// reachable through this index.
func UniqueOverwrite() UniqueOption {
	return func(o *uniqueOptions) {
		o.overwrite = true
	}
}

// UniqueCheckPrimary makes Item and scans load the record from the primary
// table instead of using the copy held by the entry. An entry whose record is
// gone then fails with ErrCorrupted.
func UniqueCheckPrimary() UniqueOption {
	return func(o *uniqueOptions) {
		o.checkPK = true
	}
}

func NewUniqueIndex[T any](namespace string, derive func(rec *T) Key, opts ...UniqueOption) *UniqueIndex[T] {
	validateNamespace(namespace)
	if derive == nil {
		panic(fmt.Errorf("index %s: nil derivation func", namespace))
	}
	var o uniqueOptions
	for _, f := range opts {
		f(&o)
	}
	return &UniqueIndex[T]{
		name:      namespace,
		prefix:    nested([]byte(namespace)),
		derive:    derive,
		overwrite: o.overwrite,
		checkPK:   o.checkPK,
	}
}

func (idx *UniqueIndex[T]) Namespace() string { return idx.name }

func (idx *UniqueIndex[T]) String() string { return "unique:" + idx.name }

func (idx *UniqueIndex[T]) entryKey(key Key) []byte {
	return withPrefix(idx.prefix, key.Joined())
}

func (idx *UniqueIndex[T]) Save(s Store, pk []byte, rec *T) error {
	t := idx.attached()
	key := idx.entryKey(idx.derive(rec))
	err := idx.checkOwner(s, key, pk)
	if err != nil {
		return err
	}
	data, err := t.encode(pk, rec)
	if err != nil {
		return err
	}
	value := appendVarbytes(make([]byte, 0, len(pk)+len(data)+2), pk)
	value = append(value, data...)
	err = s.Set(key, value)
	if err != nil {
		return tableErrf(t.name, idx.name, pk, err, "store write")
	}
	t.opt.Metrics.indexWrite(idx.name, "save")
	t.opt.logOp("PUT", idx.name, key, hexAttr("owner", pk))
	return nil
}

// Remove deletes the entry of old only if it still belongs to pk, so that
// removing a record never drops an entry another record has taken over.
func (idx *UniqueIndex[T]) Remove(s Store, pk []byte, old *T) error {
	t := idx.attached()
	key := idx.entryKey(idx.derive(old))
	owner, err := idx.owner(s, key)
	if err != nil {
		return err
	}
	if owner == nil || !bytes.Equal(owner, pk) {
		t.opt.logOp("DELETE.NOOP", idx.name, key, hexAttr("owner", owner))
		return nil
	}
	err = s.Remove(key)
	if err != nil {
		return tableErrf(t.name, idx.name, pk, err, "store delete")
	}
	t.opt.Metrics.indexWrite(idx.name, "remove")
	t.opt.logOp("DELETE", idx.name, key)
	return nil
}

// Conflict returns an ErrDuplicateKey error if saving rec under pk would
// collide with the entry of another record.
func (idx *UniqueIndex[T]) Conflict(s Store, pk []byte, rec *T) error {
	return idx.checkOwner(s, idx.entryKey(idx.derive(rec)), pk)
}

func (idx *UniqueIndex[T]) checkOwner(s Store, key, pk []byte) error {
	if idx.overwrite {
		return nil
	}
	owner, err := idx.owner(s, key)
	if err != nil {
		return err
	}
	if owner != nil && !bytes.Equal(owner, pk) {
		return tableErrf(idx.attached().name, idx.name, pk, ErrDuplicateKey, "key %s already belongs to %x", hexstr(key[len(idx.prefix):]), owner)
	}
	return nil
}

// owner returns the primary key stored in the entry at key, or nil.
func (idx *UniqueIndex[T]) owner(s Store, key []byte) ([]byte, error) {
	t := idx.attached()
	value, err := s.Get(key)
	if err != nil {
		return nil, tableErrf(t.name, idx.name, key, err, "store read")
	}
	if value == nil {
		return nil, nil
	}
	d := makeByteDecoder(value)
	pk, err := d.VarBytes()
	if err != nil {
		return nil, tableErrf(t.name, idx.name, key, err, "invalid entry")
	}
	return pk, nil
}

// Item looks up the record whose derived key equals key. It returns nil if
// there is none.
func (idx *UniqueIndex[T]) Item(s Store, key Key) (*Pair[T], error) {
	t := idx.attached()
	full := idx.entryKey(key)
	value, err := s.Get(full)
	if err != nil {
		return nil, tableErrf(t.name, idx.name, full, err, "store read")
	}
	if value == nil {
		return nil, nil
	}
	pair, err := idx.decodeEntry(s, full, value)
	if err != nil {
		return nil, err
	}
	return &pair, nil
}

func (idx *UniqueIndex[T]) decodeEntry(s Store, key, value []byte) (Pair[T], error) {
	t := idx.table
	d := makeByteDecoder(value)
	pk, err := d.VarBytes()
	if err != nil {
		return Pair[T]{}, tableErrf(t.name, idx.name, key, err, "invalid entry")
	}
	pk = bytes.Clone(pk)
	var rec *T
	if idx.checkPK {
		rec, err = t.load(s, pk)
		if err != nil {
			return Pair[T]{}, err
		}
		if rec == nil {
			return Pair[T]{}, t.corrupted(idx.name, pk, "index entry refers to a missing record")
		}
	} else {
		rec, err = t.decode(pk, d.Rest())
		if err != nil {
			return Pair[T]{}, err
		}
	}
	return Pair[T]{Key: pk, Value: *rec}, nil
}

// Prefix returns the range of entries whose key starts with the given
// elements. Records come from the index itself.
func (idx *UniqueIndex[T]) Prefix(elems ...[]byte) *Prefix[T] {
	t := idx.attached()
	return &Prefix[T]{
		namespace: t.name,
		index:     idx.name,
		prefix:    withPrefix(idx.prefix, nested(elems...)),
		logger:    t.opt.logger(),
		metrics:   t.opt.Metrics,
		materialize: func(s Store, relKey, value []byte) (Pair[T], error) {
			return idx.decodeEntry(s, relKey, value)
		},
	}
}

func (idx *UniqueIndex[T]) All() *Prefix[T] {
	return idx.Prefix()
}

func (idx *UniqueIndex[T]) attach(t *tableRef[T]) {
	if idx.table != nil {
		panic(fmt.Errorf("index %s is already attached to table %s", idx.name, idx.table.name))
	}
	idx.table = t
}

func (idx *UniqueIndex[T]) attached() *tableRef[T] {
	if idx.table == nil {
		panic(fmt.Errorf("index %s is not attached to a table", idx.name))
	}
	return idx.table
}

func (idx *UniqueIndex[T]) clear(s Store) (int, error) {
	return clearPrefix(s, idx.prefix)
}

func (idx *UniqueIndex[T]) check(s Store, pk []byte, rec *T) error {
	owner, err := idx.owner(s, idx.entryKey(idx.derive(rec)))
	if err != nil {
		return err
	}
	if idx.overwrite && owner != nil {
		return nil
	}
	if !bytes.Equal(owner, pk) {
		return idx.table.corrupted(idx.name, pk, "record is missing from index")
	}
	return nil
}

// verify checks that every entry belongs to an existing record.
func (idx *UniqueIndex[T]) verify(s Store) error {
	t := idx.attached()
	it := idx.All().Keys(s, nil, nil, Ascending)
	defer it.Close()
	for it.Next() {
		owner, err := idx.owner(s, withPrefix(idx.prefix, it.RawKey()))
		if err != nil {
			return err
		}
		rec, err := t.load(s, owner)
		if err != nil {
			return err
		}
		if rec == nil {
			return t.corrupted(idx.name, owner, "index entry refers to a missing record")
		}
	}
	return it.Err()
}
