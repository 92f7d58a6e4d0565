package idxmap

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
)

const maxNamespaceLen = math.MaxUint16

func validateNamespace(ns string) {
	if len(ns) > maxNamespaceLen {
		panic(fmt.Errorf("namespace %q... is %d bytes long, only namespaces up to %d bytes are supported", ns[:32], len(ns), maxNamespaceLen))
	}
}

func encodeLength(namespace []byte) [2]byte {
	if len(namespace) > maxNamespaceLen {
		panic("only supports namespaces up to length 0xFFFF")
	}
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], uint16(len(namespace)))
	return buf
}

// namespacesWithKey encodes each namespace as u16be(len) || bytes, then
// appends key unprefixed.
func namespacesWithKey(namespaces [][]byte, key []byte) []byte {
	size := len(key)
	for _, ns := range namespaces {
		size += len(ns) + 2
	}
	out := make([]byte, 0, size)
	for _, ns := range namespaces {
		l := encodeLength(ns)
		out = append(out, l[:]...)
		out = append(out, ns...)
	}
	return append(out, key...)
}

// nested returns the length-prefixed encoding of all namespaces with no
// trailing key, i.e. the prefix shared by every key under them.
func nested(namespaces ...[]byte) []byte {
	return namespacesWithKey(namespaces, nil)
}

func withPrefix(prefix, key []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(key))
	out = append(out, prefix...)
	return append(out, key...)
}

// Key is a composite key made of byte elements.
//
// When joined, all elements except the last one are length-prefixed, and the
// last one is appended as is. A multi-index typically derives
// K(field, pk): the primary key ends up as an unprefixed suffix.
//
// Joined keys order by the first element, then the second, and so on, but a
// length-prefixed element compares by length before bytes. Use fixed-width
// elements where byte order matters.
type Key [][]byte

// K builds a composite Key.
func K(elems ...[]byte) Key {
	return Key(elems)
}

// Joined returns the byte encoding of the key.
func (k Key) Joined() []byte {
	n := len(k)
	if n == 0 {
		return nil
	}
	return namespacesWithKey(k[:n-1], k[n-1])
}

func (k Key) String() string {
	var buf strings.Builder
	for i, el := range k {
		if i > 0 {
			buf.WriteByte('|')
		}
		buf.WriteString(hex.EncodeToString(el))
	}
	return buf.String()
}

func (k Key) Equal(another Key) bool {
	if len(k) != len(another) {
		return false
	}
	for i, el := range k {
		if !bytes.Equal(el, another[i]) {
			return false
		}
	}
	return true
}

// Uint64 encodes v as a big-endian key element.
func Uint64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

// Uint32 encodes v as a big-endian key element.
func Uint32(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}

// Int64 encodes v as a key element that sorts negative values first.
func Int64(v int64) []byte {
	return Uint64(uint64(v) ^ (1 << 63))
}

// String returns s as a key element.
func String(s string) []byte {
	return []byte(s)
}

// Bytes returns a copy of b as a key element.
func Bytes(b []byte) []byte {
	return append([]byte(nil), b...)
}

// InvertKey flips every bit of b. This reverses the lexicographic order of
// equal-length keys and preserves length, and applying it twice yields the
// original key. For an 8-byte big-endian integer v this equals MaxUint64 - v.
func InvertKey(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[i] = ^c
	}
	return out
}

// RecoverInvertedPK is a pk recovery function for indices that embed
// InvertKey(pk) instead of pk.
func RecoverInvertedPK(stored []byte) ([]byte, error) {
	return InvertKey(stored), nil
}
