package idxmap

import (
	"context"
	"fmt"
	"log/slog"
)

// IndexedMap is a Map whose writes keep a set of indices in sync.
//
// Every write goes through Replace, which removes the entries of the old
// record from every index, saves the entries of the new record, and then
// writes or deletes the primary record. The steps are not atomic as a unit:
// if the store fails midway, the indices processed before the failure stay
// modified and the error is returned. Run writes inside a host transaction
// (BoltUpdate, PebbleUpdate) when that matters.
type IndexedMap[K any, T any] struct {
	pk       *Map[K, T]
	indices  []Index[T]
	byName   map[string]Index[T]
	ref      *tableRef[T]
	onChange []func(chg *Change[T])
}

func NewIndexedMap[K any, T any](namespace string, keys KeyEncoding[K], codec Codec[T], opt Options, indices ...Index[T]) *IndexedMap[K, T] {
	m := &IndexedMap[K, T]{
		pk:     NewMap(namespace, keys, codec, opt),
		byName: make(map[string]Index[T], len(indices)),
	}
	pm := m.pk
	m.ref = &tableRef[T]{
		name:   namespace,
		load:   pm.mayLoadRaw,
		decode: pm.decode,
		encode: func(pk []byte, rec *T) ([]byte, error) {
			data, err := pm.codec.Encode(rec)
			if err != nil {
				return nil, tableErrf(namespace, "", pk, err, "encoding")
			}
			return data, nil
		},
		opt: &pm.opt,
	}
	for _, idx := range indices {
		name := idx.Namespace()
		if name == namespace {
			panic(fmt.Errorf("table %s: index namespace equals table namespace", namespace))
		}
		if m.byName[name] != nil {
			panic(fmt.Errorf("table %s: duplicate index %s", namespace, name))
		}
		if a, ok := idx.(attachedIndex[T]); ok {
			a.attach(m.ref)
		}
		m.indices = append(m.indices, idx)
		m.byName[name] = idx
	}
	return m
}

func (m *IndexedMap[K, T]) Namespace() string { return m.pk.name }

// Primary returns the underlying primary table. Writing to it directly
// bypasses the indices.
func (m *IndexedMap[K, T]) Primary() *Map[K, T] { return m.pk }

// Indices returns the indices in registration order.
func (m *IndexedMap[K, T]) Indices() []Index[T] { return m.indices }

// IndexNamed returns the index with the given namespace, or nil.
func (m *IndexedMap[K, T]) IndexNamed(namespace string) Index[T] { return m.byName[namespace] }

// OnChange registers f to be called after every successful write.
func (m *IndexedMap[K, T]) OnChange(f func(chg *Change[T])) {
	m.onChange = append(m.onChange, f)
}

func (m *IndexedMap[K, T]) EncodeKey(k K) []byte { return m.pk.EncodeKey(k) }

func (m *IndexedMap[K, T]) DecodeKey(pk []byte) (K, error) { return m.pk.DecodeKey(pk) }

// Replace moves the indices and the primary table from old to rec. Either
// may be nil: a nil old means there was no previous record, a nil rec
// deletes the record.
//
// The caller is responsible for old being the record currently stored under
// k; Save, Remove and Update load it for you.
func (m *IndexedMap[K, T]) Replace(s Store, k K, rec, old *T) error {
	return m.replaceRaw(s, m.pk.EncodeKey(k), rec, old)
}

func (m *IndexedMap[K, T]) replaceRaw(s Store, pk []byte, rec, old *T) error {
	if rec != nil {
		for _, idx := range m.indices {
			if c, ok := idx.(interface {
				Conflict(s Store, pk []byte, rec *T) error
			}); ok {
				if err := c.Conflict(s, pk, rec); err != nil {
					return err
				}
			}
		}
	}

	if old != nil {
		for _, idx := range m.indices {
			if err := idx.Remove(s, pk, old); err != nil {
				return err
			}
		}
	}

	chg := &Change[T]{Namespace: m.pk.name, PK: pk, Record: rec, Old: old}
	if rec != nil {
		for _, idx := range m.indices {
			if err := idx.Save(s, pk, rec); err != nil {
				return err
			}
		}
		if err := m.pk.saveRaw(s, pk, rec); err != nil {
			return err
		}
		chg.Op = OpPut
	} else {
		if err := m.pk.removeRaw(s, pk); err != nil {
			return err
		}
		chg.Op = OpDelete
	}

	for _, f := range m.onChange {
		f(chg)
	}
	return nil
}

// Save stores rec under k, updating the indices of the previous record.
func (m *IndexedMap[K, T]) Save(s Store, k K, rec *T) error {
	if rec == nil {
		panic("idxmap: nil record")
	}
	pk := m.pk.EncodeKey(k)
	old, err := m.pk.mayLoadRaw(s, pk)
	if err != nil {
		return err
	}
	return m.replaceRaw(s, pk, rec, old)
}

// Remove deletes the record stored under k together with its index entries.
func (m *IndexedMap[K, T]) Remove(s Store, k K) error {
	pk := m.pk.EncodeKey(k)
	old, err := m.pk.mayLoadRaw(s, pk)
	if err != nil {
		return err
	}
	return m.replaceRaw(s, pk, nil, old)
}

// Update passes a copy of the current record (nil if absent) to f and saves
// what f returns. If f fails, its error is returned as is and the store is
// left untouched.
func (m *IndexedMap[K, T]) Update(s Store, k K, f func(old *T) (*T, error)) (*T, error) {
	pk := m.pk.EncodeKey(k)
	raw, err := m.pk.getRaw(s, pk)
	if err != nil {
		return nil, err
	}
	var old, input *T
	if raw != nil {
		// f gets its own copy so that mutating it cannot affect which
		// index entries are removed
		if old, err = m.pk.decode(pk, raw); err != nil {
			return nil, err
		}
		if input, err = m.pk.decode(pk, raw); err != nil {
			return nil, err
		}
	}
	rec, err := f(input)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		panic("idxmap: Update func returned a nil record")
	}
	err = m.replaceRaw(s, pk, rec, old)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (m *IndexedMap[K, T]) Load(s Store, k K) (*T, error) { return m.pk.Load(s, k) }

func (m *IndexedMap[K, T]) MayLoad(s Store, k K) (*T, error) { return m.pk.MayLoad(s, k) }

func (m *IndexedMap[K, T]) Has(s Store, k K) (bool, error) { return m.pk.Has(s, k) }

// Prefix scans the primary table, see Map.Prefix.
func (m *IndexedMap[K, T]) Prefix(elems ...[]byte) *Prefix[T] { return m.pk.Prefix(elems...) }

func (m *IndexedMap[K, T]) All() *Prefix[T] { return m.pk.All() }

func (m *IndexedMap[K, T]) Range(s Store, min, max *Bound, order Order) *Iterator[T] {
	return m.pk.Range(s, min, max, order)
}

// Rebuild drops every index entry and recreates the entries of all records.
// It returns the number of records indexed. Custom Index implementations are
// re-saved but not cleared.
func (m *IndexedMap[K, T]) Rebuild(s Store) (int, error) {
	for _, idx := range m.indices {
		if a, ok := idx.(attachedIndex[T]); ok {
			n, err := a.clear(s)
			if err != nil {
				return 0, tableErrf(m.pk.name, idx.Namespace(), nil, err, "cannot clear index")
			}
			m.pk.opt.logger().LogAttrs(context.Background(), slog.LevelInfo, "idxmap: index cleared", slog.String("ns", m.pk.name), slog.String("index", idx.Namespace()), slog.Int("entries", n))
		}
	}

	// the cursor must not outlive the writes that follow
	pairs, err := Collect(m.pk.All().Range(s, nil, nil, Ascending))
	if err != nil {
		return 0, err
	}
	for _, p := range pairs {
		for _, idx := range m.indices {
			if err := idx.Save(s, p.Key, &p.Value); err != nil {
				return 0, err
			}
		}
	}
	return len(pairs), nil
}

// Verify checks that every index entry refers to an existing record and that
// every record has its index entries. It returns the first inconsistency as
// an error matching ErrCorrupted.
func (m *IndexedMap[K, T]) Verify(s Store) error {
	var checked []attachedIndex[T]
	for _, idx := range m.indices {
		if a, ok := idx.(attachedIndex[T]); ok {
			if err := a.verify(s); err != nil {
				return err
			}
			checked = append(checked, a)
		}
	}
	if len(checked) == 0 {
		return nil
	}

	it := m.pk.All().Range(s, nil, nil, Ascending)
	defer it.Close()
	for it.Next() {
		p := it.Pair()
		for _, a := range checked {
			if err := a.check(s, p.Key, &p.Value); err != nil {
				return err
			}
		}
	}
	return it.Err()
}
