package idxmap

import (
	"fmt"
)

type Op int

const (
	OpNone   Op = 0
	OpPut    Op = 1
	OpDelete Op = 2
)

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}

// Change describes a completed write of an IndexedMap. Record is nil for
// deletions, Old is nil when there was no previous record.
type Change[T any] struct {
	Namespace string
	Op        Op
	PK        []byte
	Record    *T
	Old       *T
}

func (chg *Change[T]) HasOld() bool {
	return chg.Old != nil
}

func (chg *Change[T]) String() string {
	return fmt.Sprintf("%s %s/%s", chg.Op, chg.Namespace, hexstr(chg.PK))
}
