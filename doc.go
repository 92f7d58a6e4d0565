/*
Package idxmap maintains secondary indices on top of an ordered key-value
store.

A table of records is addressed by a primary key. Every insert, update and
delete goes through an IndexedMap, which keeps any number of derived index
tables in sync with the primary records.

We implement:

1. Maps, a namespace of records addressed by a primary key (Map).

2. Indexed maps, a Map plus a list of indices kept consistent on every write
(IndexedMap).

3. Multi-indices, ordering many records under the same derived key; the
primary key is embedded as the index key suffix (MultiIndex). A multi-index
can be conditional (WithCondition) or can transform the embedded primary key
(WithPKRecovery).

4. Unique indices, mapping a derived key to exactly one record (UniqueIndex).

5. Items, a single value stored under a namespace (Item).

# Technical Details

**Namespaces.**
All tables share a single flat key space. Each key starts with the namespace
it belongs to, encoded as a 2-byte big-endian length followed by the raw
namespace bytes. Namespaces are therefore limited to 65535 bytes.

**Composite keys.**
A Key is a list of elements. When joined, every element except the last one
is length-prefixed the same way as a namespace; the last element is appended
as is. This keeps composite keys unambiguous. Because of the length prefix,
a non-final element sorts by length first and by bytes second: "bob" sorts
before "alice". Fixed-width elements (Uint64, Int64) are unaffected; the
final element sorts by plain bytes.

**Multi-index entries.**
Key: namespace, then the derived key, whose last element is normally the
primary key. Value: the length of the primary key as a 4-byte big-endian
integer, used to slice the primary key back out of the index key.

**Unique index entries.**
Key: namespace, then the derived key. Value: the primary key (uvarint length,
then bytes) followed by the encoded record.

**Write protocol.**
Replace first checks unique indices for conflicts, failing with
ErrDuplicateKey before anything is written. It then removes the old record's
entries from every index, writes the new record's entries into every index,
and finally writes or deletes the primary record. There is no rollback: if
the store fails half-way, earlier indices have already been updated. Run
writes inside a transaction of the underlying store (see BoltUpdate and
PebbleUpdate) to make them atomic.
*/
package idxmap
