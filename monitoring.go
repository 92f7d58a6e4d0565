package idxmap

import (
	"encoding/json"
)

// TableStats counts the keys a table occupies in the store. Sizes are the
// sums of key and value lengths.
type TableStats struct {
	Rows      int
	IndexRows int

	DataSize  int
	IndexSize int
}

func (ts *TableStats) TotalSize() int {
	return ts.DataSize + ts.IndexSize
}

// Stats returns the stats of every table, keyed by table namespace.
func (scm *Schema) Stats(s Store) (map[string]TableStats, error) {
	result := make(map[string]TableStats, len(scm.tables))
	for _, t := range scm.tables {
		ts, err := t.stats(s)
		if err != nil {
			return nil, err
		}
		result[t.Namespace()] = ts
	}
	return result, nil
}

func (m *Map[K, T]) Stats(s Store) (TableStats, error) {
	n, size, err := prefixStats(s, m.prefix)
	if err != nil {
		return TableStats{}, tableErrf(m.name, "", nil, err, "stats")
	}
	return TableStats{Rows: n, DataSize: size}, nil
}

func (m *IndexedMap[K, T]) Stats(s Store) (TableStats, error) {
	result, err := m.pk.Stats(s)
	if err != nil {
		return result, err
	}
	for _, idx := range m.indices {
		n, size, err := prefixStats(s, nested([]byte(idx.Namespace())))
		if err != nil {
			return TableStats{}, tableErrf(m.pk.name, idx.Namespace(), nil, err, "stats")
		}
		result.IndexRows += n
		result.IndexSize += size
	}
	return result, nil
}

func (it *Item[T]) Stats(s Store) (TableStats, error) {
	data, err := s.Get(it.key)
	if err != nil {
		return TableStats{}, tableErrf(it.name, "", nil, err, "stats")
	}
	if data == nil {
		return TableStats{}, nil
	}
	return TableStats{Rows: 1, DataSize: len(it.key) + len(data)}, nil
}

func (m *Map[K, T]) stats(s Store) (TableStats, error)        { return m.Stats(s) }
func (m *IndexedMap[K, T]) stats(s Store) (TableStats, error) { return m.Stats(s) }
func (it *Item[T]) stats(s Store) (TableStats, error)         { return it.Stats(s) }

func prefixStats(s Store, prefix []byte) (n, size int, err error) {
	cur, err := RawPrefix(prefix).Scan(s, nil)
	if err != nil {
		return 0, 0, err
	}
	for cur.Next() {
		n++
		size += len(cur.Key()) + len(cur.Value())
	}
	return n, size, cur.Close()
}

func loggableRecord[T any](rec *T) string {
	if rec == nil {
		return "<none>"
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return string(raw)
}
