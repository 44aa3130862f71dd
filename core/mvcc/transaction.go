package mvcc

import (
	"fmt"
	"strings"

	"github.com/sushant-115/gojostore/core/transaction"
)

// IsolationLevel selects the visibility rules of a transaction.
type IsolationLevel int

const (
	ReadCommitted  IsolationLevel = 0
	RepeatableRead IsolationLevel = 1
)

func (l IsolationLevel) String() string {
	switch l {
	case ReadCommitted:
		return "read committed"
	case RepeatableRead:
		return "repeatable read"
	default:
		return fmt.Sprintf("IsolationLevel(%d)", int(l))
	}
}

// ParseIsolationLevel accepts "rc", "rr" or the spelled out level names.
func ParseIsolationLevel(s string) (IsolationLevel, error) {
	switch strings.ToLower(strings.Join(strings.Fields(s), " ")) {
	case "", "rc", "read committed", "read_committed":
		return ReadCommitted, nil
	case "rr", "repeatable read", "repeatable_read":
		return RepeatableRead, nil
	default:
		return 0, fmt.Errorf("unknown isolation level %q", s)
	}
}

// Transaction is the version layer's view of a running transaction.
type Transaction struct {
	XID   uint64
	Level IsolationLevel
	// snapshot holds the transactions active when this one began. It is
	// only taken for repeatable read.
	snapshot map[uint64]struct{}
	// Err is set once the transaction hit a conflict. Every later
	// operation fails with it.
	Err error
	// AutoAborted is true once the engine aborted the transaction itself.
	AutoAborted bool
}

func newTransaction(xid uint64, level IsolationLevel, active map[uint64]*Transaction) *Transaction {
	t := &Transaction{
		XID:   xid,
		Level: level,
	}
	if level != ReadCommitted {
		t.snapshot = make(map[uint64]struct{}, len(active))
		for x := range active {
			t.snapshot[x] = struct{}{}
		}
	}
	return t
}

// InSnapshot reports whether xid was active when t began.
func (t *Transaction) InSnapshot(xid uint64) bool {
	if xid == transaction.SuperXID {
		return false
	}
	_, ok := t.snapshot[xid]
	return ok
}
