package idxmap

// Map is a table of records of type T addressed by primary keys of type K,
// stored under a single namespace. Map does not know about indices; use
// IndexedMap to keep indices in sync.
type Map[K any, T any] struct {
	name      string
	namespace []byte
	prefix    []byte
	keys      KeyEncoding[K]
	codec     Codec[T]
	opt       Options
}

func NewMap[K any, T any](namespace string, keys KeyEncoding[K], codec Codec[T], opt Options) *Map[K, T] {
	validateNamespace(namespace)
	if keys == nil || codec == nil {
		panic("idxmap: NewMap requires a key encoding and a codec")
	}
	return &Map[K, T]{
		name:      namespace,
		namespace: []byte(namespace),
		prefix:    nested([]byte(namespace)),
		keys:      keys,
		codec:     codec,
		opt:       opt,
	}
}

func (m *Map[K, T]) Namespace() string { return m.name }

// EncodeKey returns the primary key bytes of k.
func (m *Map[K, T]) EncodeKey(k K) []byte { return m.keys.EncodeKey(k) }

// DecodeKey parses primary key bytes, e.g. Pair.Key of a scan.
func (m *Map[K, T]) DecodeKey(pk []byte) (K, error) { return m.keys.DecodeKey(pk) }

func (m *Map[K, T]) storageKey(pk []byte) []byte {
	return withPrefix(m.prefix, pk)
}

func (m *Map[K, T]) Save(s Store, k K, rec *T) error {
	return m.saveRaw(s, m.keys.EncodeKey(k), rec)
}

func (m *Map[K, T]) Remove(s Store, k K) error {
	return m.removeRaw(s, m.keys.EncodeKey(k))
}

// Load returns the record stored under k, or an error matching ErrNotFound.
func (m *Map[K, T]) Load(s Store, k K) (*T, error) {
	pk := m.keys.EncodeKey(k)
	rec, err := m.mayLoadRaw(s, pk)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, tableErrf(m.name, "", pk, ErrNotFound, "")
	}
	return rec, nil
}

// MayLoad returns the record stored under k, or nil if there is none.
func (m *Map[K, T]) MayLoad(s Store, k K) (*T, error) {
	return m.mayLoadRaw(s, m.keys.EncodeKey(k))
}

func (m *Map[K, T]) Has(s Store, k K) (bool, error) {
	raw, err := m.getRaw(s, m.keys.EncodeKey(k))
	return raw != nil, err
}

// Update loads the current record (nil if absent), passes it to f and saves
// the record f returns. If f fails, its error is returned as is and nothing
// is written.
func (m *Map[K, T]) Update(s Store, k K, f func(old *T) (*T, error)) (*T, error) {
	pk := m.keys.EncodeKey(k)
	old, err := m.mayLoadRaw(s, pk)
	if err != nil {
		return nil, err
	}
	rec, err := f(old)
	if err != nil {
		return nil, err
	}
	err = m.saveRaw(s, pk, rec)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Prefix returns the range of primary keys starting with the given
// length-prefixed elements, for tables whose primary keys are composite
// (see Key). Pair.Key of its entries is the full primary key.
func (m *Map[K, T]) Prefix(elems ...[]byte) *Prefix[T] {
	sub := nested(elems...)
	return &Prefix[T]{
		namespace: m.name,
		prefix:    withPrefix(m.prefix, sub),
		logger:    m.opt.logger(),
		metrics:   m.opt.Metrics,
		materialize: func(s Store, relKey, value []byte) (Pair[T], error) {
			pk := withPrefix(sub, relKey)
			rec, err := m.decode(pk, value)
			if err != nil {
				return Pair[T]{}, err
			}
			return Pair[T]{Key: pk, Value: *rec}, nil
		},
	}
}

// All returns the range of the whole table.
func (m *Map[K, T]) All() *Prefix[T] {
	return m.Prefix()
}

// Range iterates over the whole table; bounds are primary key bytes.
func (m *Map[K, T]) Range(s Store, min, max *Bound, order Order) *Iterator[T] {
	return m.All().Range(s, min, max, order)
}

func (m *Map[K, T]) saveRaw(s Store, pk []byte, rec *T) error {
	if rec == nil {
		panic("idxmap: nil record")
	}
	data, err := m.codec.Encode(rec)
	if err != nil {
		return tableErrf(m.name, "", pk, err, "encoding")
	}
	err = s.Set(m.storageKey(pk), data)
	if err != nil {
		return tableErrf(m.name, "", pk, err, "store write")
	}
	m.opt.Metrics.primaryWrite(m.name, "save")
	m.opt.logOp("PUT", m.name, pk)
	return nil
}

func (m *Map[K, T]) removeRaw(s Store, pk []byte) error {
	err := s.Remove(m.storageKey(pk))
	if err != nil {
		return tableErrf(m.name, "", pk, err, "store delete")
	}
	m.opt.Metrics.primaryWrite(m.name, "remove")
	m.opt.logOp("DELETE", m.name, pk)
	return nil
}

func (m *Map[K, T]) getRaw(s Store, pk []byte) ([]byte, error) {
	raw, err := s.Get(m.storageKey(pk))
	if err != nil {
		return nil, tableErrf(m.name, "", pk, err, "store read")
	}
	return raw, nil
}

func (m *Map[K, T]) mayLoadRaw(s Store, pk []byte) (*T, error) {
	raw, err := m.getRaw(s, pk)
	if err != nil || raw == nil {
		return nil, err
	}
	return m.decode(pk, raw)
}

func (m *Map[K, T]) decode(pk, data []byte) (*T, error) {
	rec := new(T)
	err := m.codec.Decode(data, rec)
	if err != nil {
		return nil, tableErrf(m.name, "", pk, err, "cannot decode record")
	}
	return rec, nil
}
