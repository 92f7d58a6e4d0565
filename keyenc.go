package idxmap

import (
	"encoding/binary"

	"github.com/segmentio/ksuid"
)

// KeyEncoding converts primary keys to bytes and back. The byte order of
// encoded keys must match the natural order of K.
type KeyEncoding[K any] interface {
	EncodeKey(k K) []byte
	DecodeKey(raw []byte) (K, error)
}

var (
	Uint64Keys KeyEncoding[uint64]      = uint64Keys{}
	Uint32Keys KeyEncoding[uint32]      = uint32Keys{}
	Int64Keys  KeyEncoding[int64]       = int64Keys{}
	StringKeys KeyEncoding[string]      = stringKeys{}
	BytesKeys  KeyEncoding[[]byte]      = bytesKeys{}
	KSUIDKeys  KeyEncoding[ksuid.KSUID] = ksuidKeys{}
)

type uint64Keys struct{}

func (uint64Keys) EncodeKey(k uint64) []byte { return Uint64(k) }

func (uint64Keys) DecodeKey(raw []byte) (uint64, error) {
	if len(raw) != 8 {
		return 0, dataErrf(raw, 0, nil, "uint64 key must be 8 bytes")
	}
	return binary.BigEndian.Uint64(raw), nil
}

type uint32Keys struct{}

func (uint32Keys) EncodeKey(k uint32) []byte { return Uint32(k) }

func (uint32Keys) DecodeKey(raw []byte) (uint32, error) {
	if len(raw) != 4 {
		return 0, dataErrf(raw, 0, nil, "uint32 key must be 4 bytes")
	}
	return binary.BigEndian.Uint32(raw), nil
}

type int64Keys struct{}

func (int64Keys) EncodeKey(k int64) []byte { return Int64(k) }

func (int64Keys) DecodeKey(raw []byte) (int64, error) {
	if len(raw) != 8 {
		return 0, dataErrf(raw, 0, nil, "int64 key must be 8 bytes")
	}
	return int64(binary.BigEndian.Uint64(raw) ^ (1 << 63)), nil
}

type stringKeys struct{}

func (stringKeys) EncodeKey(k string) []byte { return []byte(k) }

func (stringKeys) DecodeKey(raw []byte) (string, error) { return string(raw), nil }

type bytesKeys struct{}

func (bytesKeys) EncodeKey(k []byte) []byte { return Bytes(k) }

func (bytesKeys) DecodeKey(raw []byte) ([]byte, error) { return Bytes(raw), nil }

// ksuidKeys orders records by creation time, since a KSUID starts with a
// big-endian timestamp.
type ksuidKeys struct{}

func (ksuidKeys) EncodeKey(k ksuid.KSUID) []byte { return Bytes(k.Bytes()) }

func (ksuidKeys) DecodeKey(raw []byte) (ksuid.KSUID, error) {
	id, err := ksuid.FromBytes(raw)
	if err != nil {
		return ksuid.Nil, dataErrf(raw, 0, err, "invalid KSUID key")
	}
	return id, nil
}
