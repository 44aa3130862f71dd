package transaction

// TransactionState is the persisted status of a transaction.
type TransactionState byte

const (
	TxnStateActive    TransactionState = 0 // Transaction is running or crashed before it finished
	TxnStateCommitted TransactionState = 1
	TxnStateAborted   TransactionState = 2
)

func (s TransactionState) String() string {
	switch s {
	case TxnStateActive:
		return "active"
	case TxnStateCommitted:
		return "committed"
	case TxnStateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// SuperXID is the pseudo transaction that is always committed. Records it
// creates are visible to everyone.
const SuperXID uint64 = 0

// Manager assigns transaction ids and records their outcome durably.
type Manager interface {
	Begin() (uint64, error)
	Commit(xid uint64) error
	Abort(xid uint64) error
	IsActive(xid uint64) bool
	IsCommitted(xid uint64) bool
	IsAborted(xid uint64) bool
	Close() error
}
