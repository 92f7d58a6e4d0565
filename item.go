package idxmap

// Item is a single value stored directly under its namespace bytes, e.g.
// a config record or a counter.
type Item[T any] struct {
	name  string
	key   []byte
	codec Codec[T]
	opt   Options
}

func NewItem[T any](namespace string, codec Codec[T], opt Options) *Item[T] {
	validateNamespace(namespace)
	if codec == nil {
		panic("idxmap: NewItem requires a codec")
	}
	return &Item[T]{
		name:  namespace,
		key:   []byte(namespace),
		codec: codec,
		opt:   opt,
	}
}

func (it *Item[T]) Namespace() string { return it.name }

func (it *Item[T]) Save(s Store, v *T) error {
	if v == nil {
		panic("idxmap: nil item value")
	}
	data, err := it.codec.Encode(v)
	if err != nil {
		return tableErrf(it.name, "", nil, err, "encoding")
	}
	err = s.Set(it.key, data)
	if err != nil {
		return tableErrf(it.name, "", nil, err, "store write")
	}
	it.opt.Metrics.primaryWrite(it.name, "save")
	it.opt.logOp("PUT", it.name, nil)
	return nil
}

func (it *Item[T]) Remove(s Store) error {
	err := s.Remove(it.key)
	if err != nil {
		return tableErrf(it.name, "", nil, err, "store delete")
	}
	it.opt.Metrics.primaryWrite(it.name, "remove")
	it.opt.logOp("DELETE", it.name, nil)
	return nil
}

// Load returns the stored value, or an error matching ErrNotFound.
func (it *Item[T]) Load(s Store) (*T, error) {
	v, err := it.MayLoad(s)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, tableErrf(it.name, "", nil, ErrNotFound, "")
	}
	return v, nil
}

// MayLoad returns the stored value, or nil if it was never saved.
func (it *Item[T]) MayLoad(s Store) (*T, error) {
	data, err := s.Get(it.key)
	if err != nil {
		return nil, tableErrf(it.name, "", nil, err, "store read")
	}
	if data == nil {
		return nil, nil
	}
	v := new(T)
	err = it.codec.Decode(data, v)
	if err != nil {
		return nil, tableErrf(it.name, "", nil, err, "cannot decode item")
	}
	return v, nil
}

// Update loads the value, which must exist, and saves the result of f. If f
// fails, its error is returned as is and nothing is written.
func (it *Item[T]) Update(s Store, f func(v *T) (*T, error)) (*T, error) {
	v, err := it.Load(s)
	if err != nil {
		return nil, err
	}
	v, err = f(v)
	if err != nil {
		return nil, err
	}
	err = it.Save(s, v)
	if err != nil {
		return nil, err
	}
	return v, nil
}
