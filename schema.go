package idxmap

import (
	"fmt"
	"strings"
)

// Schema is the set of tables of an application, built once at startup.
// It hands its Options to every table and makes sure no two tables or
// indices share a namespace.
type Schema struct {
	opt    Options
	tables []schemaTable
	owners map[string]string
}

type schemaTable interface {
	Namespace() string
	namespaces() []string
	stats(s Store) (TableStats, error)
	dump(w *strings.Builder, s Store, f DumpFlags) error
}

func NewSchema(opt Options) *Schema {
	return &Schema{
		opt:    opt,
		owners: make(map[string]string),
	}
}

func (scm *Schema) Options() Options {
	return scm.opt
}

// Namespaces returns the namespaces of the registered tables, in
// registration order. Index namespaces are not included.
func (scm *Schema) Namespaces() []string {
	result := make([]string, 0, len(scm.tables))
	for _, t := range scm.tables {
		result = append(result, t.Namespace())
	}
	return result
}

func (scm *Schema) add(t schemaTable) {
	for _, ns := range t.namespaces() {
		if owner, ok := scm.owners[ns]; ok {
			panic(fmt.Errorf("namespace %q of %s is already used by %s", ns, t.Namespace(), owner))
		}
	}
	for _, ns := range t.namespaces() {
		scm.owners[ns] = t.Namespace()
	}
	scm.tables = append(scm.tables, t)
}

func AddIndexedMap[K any, T any](scm *Schema, namespace string, keys KeyEncoding[K], codec Codec[T], indices ...Index[T]) *IndexedMap[K, T] {
	m := NewIndexedMap(namespace, keys, codec, scm.opt, indices...)
	scm.add(m)
	return m
}

func AddMap[K any, T any](scm *Schema, namespace string, keys KeyEncoding[K], codec Codec[T]) *Map[K, T] {
	m := NewMap(namespace, keys, codec, scm.opt)
	scm.add(m)
	return m
}

func AddItem[T any](scm *Schema, namespace string, codec Codec[T]) *Item[T] {
	it := NewItem(namespace, codec, scm.opt)
	scm.add(it)
	return it
}

func (m *Map[K, T]) namespaces() []string { return []string{m.name} }

func (m *IndexedMap[K, T]) namespaces() []string {
	result := []string{m.pk.name}
	for _, idx := range m.indices {
		result = append(result, idx.Namespace())
	}
	return result
}

func (it *Item[T]) namespaces() []string { return []string{it.name} }
