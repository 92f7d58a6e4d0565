package idxmap

import (
	"encoding/hex"
	"log/slog"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

// prefixSuccessor returns the smallest key greater than every key starting
// with prefix, or nil if there is no such key (prefix is all 0xFF).
func prefixSuccessor(prefix []byte) []byte {
	limit := append([]byte(nil), prefix...)
	for len(limit) > 0 {
		n := len(limit) - 1
		if limit[n] != 0xFF {
			limit[n]++
			return limit
		}
		limit = limit[:n]
	}
	return nil
}

type hexBytes []byte

func (b hexBytes) String() string {
	return hex.EncodeToString(b)
}

func hexstr(b []byte) string {
	if b == nil {
		return "<nil>"
	}
	if len(b) == 0 {
		return "<empty>"
	}
	return hex.EncodeToString(b)
}

func hexAttr(key string, b []byte) slog.Attr {
	return slog.String(key, hexstr(b))
}
