package idxmap

// Store is the ordered key-value store supplied by the host. All tables and
// indices share its single flat key space.
//
// Implementations are not expected to be safe for concurrent use; the caller
// serializes access, typically by wrapping one transaction of the underlying
// database.
type Store interface {
	// Get returns the value stored under key, or nil if there is none.
	// The returned slice is only valid until the next mutation.
	Get(key []byte) ([]byte, error)

	// Set stores a key-value pair.
	Set(key, value []byte) error

	// Remove deletes a key. Removing a missing key is not an error.
	Remove(key []byte) error

	// Cursor returns a cursor for ordered iteration. The caller must close it.
	Cursor() (StoreCursor, error)
}

// StoreCursor iterates over the keys of a Store in lexicographic byte order.
// Every positioning method returns nil key when the cursor moves past either
// end. Returned slices are only valid until the cursor moves again.
type StoreCursor interface {
	// First moves to the first key-value pair.
	First() (key, value []byte)

	// Last moves to the last key-value pair.
	Last() (key, value []byte)

	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)

	// SeekLast moves to the last key that starts with prefix or sorts before it.
	SeekLast(prefix []byte) (key, value []byte)

	// Next moves to the next key-value pair.
	Next() (key, value []byte)

	// Prev moves to the previous key-value pair.
	Prev() (key, value []byte)

	// Close releases the cursor and reports any iteration error.
	Close() error
}
