package idxmap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes records of type T.
type Codec[T any] interface {
	Encode(rec *T) ([]byte, error)
	Decode(data []byte, rec *T) error
}

// MsgPack encodes records with MessagePack, sorting map keys so that equal
// records always encode to equal bytes.
func MsgPack[T any]() Codec[T] {
	return msgpackCodec[T]{}
}

type msgpackCodec[T any] struct{}

func (msgpackCodec[T]) Encode(rec *T) ([]byte, error) {
	var bb bytesBuilder
	enc := msgpack.GetEncoder()
	enc.ResetDict(&bb, nil)
	enc.SetSortMapKeys(true)
	err := enc.Encode(rec)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T using MsgPack: %w", rec, err)
	}
	return bb.Buf, nil
}

func (msgpackCodec[T]) Decode(data []byte, rec *T) error {
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.ResetDict(&r, nil)
	err := dec.Decode(rec)
	msgpack.PutDecoder(dec)
	if err != nil {
		return dataErrf(data, 0, err, "failed to decode msgpack into %T", rec)
	}
	return nil
}

// JSON encodes records with encoding/json.
func JSON[T any]() Codec[T] {
	return jsonCodec[T]{}
}

type jsonCodec[T any] struct{}

func (jsonCodec[T]) Encode(rec *T) ([]byte, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T to JSON: %w", rec, err)
	}
	return raw, nil
}

func (jsonCodec[T]) Decode(data []byte, rec *T) error {
	err := json.Unmarshal(data, rec)
	if err != nil {
		return dataErrf(data, 0, err, "failed to decode JSON into %T", rec)
	}
	return nil
}

const (
	compressionNone byte = 0
	compressionZstd byte = 1

	minCompressedSize = 128
)

// Compressed wraps a codec, compressing encoded records of at least 128 bytes
// with zstd. Every value starts with a one-byte compression tag, so short
// values are stored as is with a single byte of overhead.
func Compressed[T any](inner Codec[T]) Codec[T] {
	return compressedCodec[T]{inner}
}

type compressedCodec[T any] struct {
	inner Codec[T]
}

var (
	zstdEncoder = sync.OnceValue(func() *zstd.Encoder {
		return must(zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)))
	})
	zstdDecoder = sync.OnceValue(func() *zstd.Decoder {
		return must(zstd.NewReader(nil))
	})
)

func (c compressedCodec[T]) Encode(rec *T) ([]byte, error) {
	raw, err := c.inner.Encode(rec)
	if err != nil {
		return nil, err
	}
	if len(raw) < minCompressedSize {
		return appendRaw([]byte{compressionNone}, raw), nil
	}
	return zstdEncoder().EncodeAll(raw, []byte{compressionZstd}), nil
}

func (c compressedCodec[T]) Decode(data []byte, rec *T) error {
	if len(data) == 0 {
		return dataErrf(data, 0, nil, "missing compression tag")
	}
	switch data[0] {
	case compressionNone:
		return c.inner.Decode(data[1:], rec)
	case compressionZstd:
		raw, err := zstdDecoder().DecodeAll(data[1:], nil)
		if err != nil {
			return dataErrf(data, 1, err, "failed to decompress zstd value")
		}
		return c.inner.Decode(raw, rec)
	default:
		return dataErrf(data, 0, nil, "unsupported compression tag %d", data[0])
	}
}
