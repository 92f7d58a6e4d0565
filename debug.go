package idxmap

import (
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpTableHeaders = DumpFlags(1 << iota)
	DumpRows
	DumpStats
	DumpIndices
	DumpIndexRows

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the contents of every table as text, for tests and
// debugging. Records are shown as JSON.
func (scm *Schema) Dump(s Store, f DumpFlags) (string, error) {
	var buf strings.Builder
	for _, t := range scm.tables {
		err := t.dump(&buf, s, f)
		if err != nil {
			return buf.String(), err
		}
	}
	return buf.String(), nil
}

func dumpHeader(w *strings.Builder, s Store, f DumpFlags, t schemaTable) error {
	if !f.ContainsAny(DumpTableHeaders | DumpStats) {
		return nil
	}
	st, err := t.stats(s)
	if err != nil {
		return err
	}
	if f.Contains(DumpTableHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%d rows)\n", t.Namespace(), st.Rows)
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(w, "%s.stats: index_rows = %d, data_size = %d, index_size = %d, total_size = %d\n", t.Namespace(), st.IndexRows, st.DataSize, st.IndexSize, st.TotalSize())
	}
	return nil
}

func (f DumpFlags) ContainsAny(v DumpFlags) bool {
	return (f & v) != 0
}

func (m *Map[K, T]) dump(w *strings.Builder, s Store, f DumpFlags) error {
	err := dumpHeader(w, s, f, m)
	if err != nil {
		return err
	}
	if f.Contains(DumpRows) {
		return m.dumpRows(w, s)
	}
	return nil
}

func (m *Map[K, T]) dumpRows(w *strings.Builder, s Store) error {
	it := m.All().Range(s, nil, nil, Ascending)
	defer it.Close()
	var pos int
	for it.Next() {
		pos++
		p := it.Pair()
		fmt.Fprintf(w, "%s.%d: %s = %s\n", m.name, pos, hexstr(p.Key), loggableRecord(&p.Value))
	}
	if err := it.Err(); err != nil {
		fmt.Fprintf(w, "%s.%d ** ERROR: %v\n", m.name, pos+1, err)
		return err
	}
	return nil
}

func (m *IndexedMap[K, T]) dump(w *strings.Builder, s Store, f DumpFlags) error {
	err := dumpHeader(w, s, f, m)
	if err != nil {
		return err
	}
	if f.Contains(DumpRows) {
		err = m.pk.dumpRows(w, s)
		if err != nil {
			return err
		}
	}
	if f.Contains(DumpIndices) {
		for _, idx := range m.indices {
			err = m.dumpIndex(w, s, f, idx)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *IndexedMap[K, T]) dumpIndex(w *strings.Builder, s Store, f DumpFlags, idx Index[T]) error {
	fmt.Fprintln(w, dumpSep2)
	prefix := m.pk.name + ".i." + idx.Namespace()
	fmt.Fprintln(w, prefix)
	if !f.Contains(DumpIndexRows) {
		return nil
	}

	cur, err := RawPrefix(nested([]byte(idx.Namespace()))).Scan(s, m.pk.opt.logger())
	if err != nil {
		return err
	}
	defer cur.Close()
	var pos int
	for cur.Next() {
		pos++
		k, v := cur.Key(), cur.Value()
		rel := k[len(idx.Namespace())+2:]
		switch idx := idx.(type) {
		case *MultiIndex[T]:
			pk, err := idx.PK(rel, v)
			if err != nil {
				fmt.Fprintf(w, "%s.%d: %s ** ERROR: %v\n", prefix, pos, hexstr(rel), err)
				continue
			}
			fmt.Fprintf(w, "%s.%d: %s => %s\n", prefix, pos, hexstr(rel), hexstr(pk))
		case *UniqueIndex[T]:
			d := makeByteDecoder(v)
			pk, err := d.VarBytes()
			if err != nil {
				fmt.Fprintf(w, "%s.%d: %s ** ERROR: %v\n", prefix, pos, hexstr(rel), err)
				continue
			}
			fmt.Fprintf(w, "%s.%d: %s => %s\n", prefix, pos, hexstr(rel), hexstr(pk))
		default:
			fmt.Fprintf(w, "%s.%d: %s => %s\n", prefix, pos, hexstr(rel), hexstr(v))
		}
	}
	return cur.Close()
}

func (it *Item[T]) dump(w *strings.Builder, s Store, f DumpFlags) error {
	err := dumpHeader(w, s, f, it)
	if err != nil {
		return err
	}
	if f.Contains(DumpRows) {
		v, err := it.MayLoad(s)
		if err != nil {
			return err
		}
		if v != nil {
			fmt.Fprintf(w, "%s = %s\n", it.name, loggableRecord(v))
		}
	}
	return nil
}
