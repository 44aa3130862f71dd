package transaction

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sushant-115/gojostore/core/common"
	flushmanager "github.com/sushant-115/gojostore/core/write_engine/flush_manager"
	"go.uber.org/zap"
)

// XID file layout: [Counter:8][Status:1]*, one status byte per xid starting
// at xid 1. Counter is the number of xids handed out so far.
const (
	XIDSuffix          = ".xid"
	xidHeaderLength    = 8
	xidStatusFieldSize = 1
)

// XIDManager is the file-backed Manager. Statuses are mirrored in memory
// so the Is* queries never touch the disk.
type XIDManager struct {
	file    *os.File
	mu      sync.RWMutex
	counter uint64
	states  []TransactionState // states[xid-1]
	logger  *zap.Logger
}

var _ Manager = (*XIDManager)(nil)

// CreateXIDManager creates path+".xid" with a zero counter.
func CreateXIDManager(path string, logger *zap.Logger) (*XIDManager, error) {
	file, err := flushmanager.CreateFile(path + XIDSuffix)
	if err != nil {
		return nil, err
	}
	if _, err := file.WriteAt(make([]byte, xidHeaderLength), 0); err != nil {
		return nil, errors.Join(fmt.Errorf("%w: writing xid header: %v", common.ErrFileCannotRW, err), file.Close())
	}
	if err := file.Sync(); err != nil {
		return nil, errors.Join(fmt.Errorf("%w: syncing xid header: %v", common.ErrFileCannotRW, err), file.Close())
	}
	return newXIDManager(file, 0, nil, logger), nil
}

// OpenXIDManager opens path+".xid" and checks its length against the counter.
func OpenXIDManager(path string, logger *zap.Logger) (*XIDManager, error) {
	file, err := flushmanager.OpenFile(path + XIDSuffix)
	if err != nil {
		return nil, err
	}
	counter, states, err := loadXIDFile(file)
	if err != nil {
		return nil, errors.Join(err, file.Close())
	}
	return newXIDManager(file, counter, states, logger), nil
}

func loadXIDFile(file *os.File) (uint64, []TransactionState, error) {
	info, err := file.Stat()
	if err != nil {
		return 0, nil, fmt.Errorf("%w: stat xid file: %v", common.ErrFileCannotRW, err)
	}
	if info.Size() < xidHeaderLength {
		return 0, nil, fmt.Errorf("%w: file shorter than its header", common.ErrBadXIDFile)
	}
	header := make([]byte, xidHeaderLength)
	if _, err := file.ReadAt(header, 0); err != nil {
		return 0, nil, fmt.Errorf("%w: reading xid header: %v", common.ErrFileCannotRW, err)
	}
	counter := binary.LittleEndian.Uint64(header)
	if want := xidHeaderLength + int64(counter)*xidStatusFieldSize; info.Size() != want {
		return 0, nil, fmt.Errorf("%w: length %d, counter %d expects %d", common.ErrBadXIDFile, info.Size(), counter, want)
	}
	raw := make([]byte, counter)
	if counter > 0 {
		if _, err := file.ReadAt(raw, xidHeaderLength); err != nil {
			return 0, nil, fmt.Errorf("%w: reading xid statuses: %v", common.ErrFileCannotRW, err)
		}
	}
	states := make([]TransactionState, counter)
	for i, b := range raw {
		states[i] = TransactionState(b)
	}
	return counter, states, nil
}

func newXIDManager(file *os.File, counter uint64, states []TransactionState, logger *zap.Logger) *XIDManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &XIDManager{
		file:    file,
		counter: counter,
		states:  states,
		logger:  logger.Named("xid_manager"),
	}
	m.logger.Info("transaction registry opened", zap.Uint64("counter", counter))
	return m
}

func xidPosition(xid uint64) int64 {
	return xidHeaderLength + int64(xid-1)*xidStatusFieldSize
}

// writeStatus persists the status of xid. Must be called with m.mu held.
func (m *XIDManager) writeStatus(xid uint64, state TransactionState) error {
	if _, err := m.file.WriteAt([]byte{byte(state)}, xidPosition(xid)); err != nil {
		return fmt.Errorf("%w: writing status of xid %d: %v", common.ErrFileCannotRW, xid, err)
	}
	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("%w: syncing status of xid %d: %v", common.ErrFileCannotRW, xid, err)
	}
	return nil
}

// Begin allocates the next xid and records it as active.
func (m *XIDManager) Begin() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	xid := m.counter + 1
	if err := m.writeStatus(xid, TxnStateActive); err != nil {
		return 0, err
	}
	header := make([]byte, xidHeaderLength)
	binary.LittleEndian.PutUint64(header, xid)
	if _, err := m.file.WriteAt(header, 0); err != nil {
		return 0, fmt.Errorf("%w: writing xid counter: %v", common.ErrFileCannotRW, err)
	}
	if err := m.file.Sync(); err != nil {
		return 0, fmt.Errorf("%w: syncing xid counter: %v", common.ErrFileCannotRW, err)
	}
	m.counter = xid
	m.states = append(m.states, TxnStateActive)
	m.logger.Debug("transaction started", zap.Uint64("xid", xid))
	return xid, nil
}

func (m *XIDManager) finish(xid uint64, state TransactionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if xid == SuperXID || xid > m.counter {
		return fmt.Errorf("finish xid %d as %s: %w", xid, state, common.ErrTransactionNotActive)
	}
	if err := m.writeStatus(xid, state); err != nil {
		return err
	}
	m.states[xid-1] = state
	m.logger.Debug("transaction finished", zap.Uint64("xid", xid), zap.Stringer("state", state))
	return nil
}

func (m *XIDManager) Commit(xid uint64) error { return m.finish(xid, TxnStateCommitted) }
func (m *XIDManager) Abort(xid uint64) error  { return m.finish(xid, TxnStateAborted) }

func (m *XIDManager) check(xid uint64, state TransactionState) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if xid == SuperXID || xid > m.counter {
		return false
	}
	return m.states[xid-1] == state
}

func (m *XIDManager) IsActive(xid uint64) bool {
	if xid == SuperXID {
		return false
	}
	return m.check(xid, TxnStateActive)
}

func (m *XIDManager) IsCommitted(xid uint64) bool {
	if xid == SuperXID {
		return true
	}
	return m.check(xid, TxnStateCommitted)
}

func (m *XIDManager) IsAborted(xid uint64) bool {
	if xid == SuperXID {
		return false
	}
	return m.check(xid, TxnStateAborted)
}

// Close closes the xid file.
func (m *XIDManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	return err
}
