package mvcc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sushant-115/gojostore/core/common"
	"github.com/sushant-115/gojostore/core/storage_engine/datamanager"
	"github.com/sushant-115/gojostore/core/transaction"
	internaltelemetry "github.com/sushant-115/gojostore/internal/telemetry"
	"go.uber.org/zap"
)

// VersionManager layers multi-version rows over the data manager. Rows
// are never updated in place: a delete stamps XMAX on the current version
// and readers decide per transaction which versions they can see.
type VersionManager struct {
	tm    transaction.Manager
	dm    *datamanager.DataManager
	cache *common.Cache[*Entry]

	beginMu           sync.Mutex
	mu                sync.Mutex
	activeTransaction map[uint64]*Transaction
	lt                *LockTable

	logger  *zap.Logger
	metrics *internaltelemetry.StorageMetrics
}

func NewVersionManager(tm transaction.Manager, dm *datamanager.DataManager, logger *zap.Logger, metrics *internaltelemetry.StorageMetrics) *VersionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	vm := &VersionManager{
		tm:                tm,
		dm:                dm,
		activeTransaction: make(map[uint64]*Transaction),
		lt:                NewLockTable(),
		logger:            logger.Named("version_manager"),
		metrics:           metrics,
	}
	vm.activeTransaction[transaction.SuperXID] = newTransaction(transaction.SuperXID, ReadCommitted, nil)
	vm.cache = common.NewCache[*Entry]("entry", 0, vm.fetchEntry, vm.evictEntry,
		common.WithCacheLogger(logger), common.WithCacheMetrics(metrics))
	return vm
}

func (vm *VersionManager) fetchEntry(uid uint64) (*Entry, error) {
	entry, err := loadEntry(vm, uid)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, common.ErrNullEntry
	}
	return entry, nil
}

func (vm *VersionManager) evictEntry(entry *Entry) error {
	return entry.remove()
}

func (vm *VersionManager) releaseEntry(entry *Entry) error {
	return vm.cache.Release(entry.uid)
}

// getEntry returns nil without error when uid holds no row.
func (vm *VersionManager) getEntry(uid uint64) (*Entry, error) {
	entry, err := vm.cache.Get(uid)
	if errors.Is(err, common.ErrNullEntry) {
		return nil, nil
	}
	return entry, err
}

func (vm *VersionManager) getTransaction(xid uint64) (*Transaction, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	t, ok := vm.activeTransaction[xid]
	if !ok {
		return nil, fmt.Errorf("xid %d: %w", xid, common.ErrTransactionNotActive)
	}
	return t, nil
}

// Begin starts a transaction at the given isolation level.
func (vm *VersionManager) Begin(level IsolationLevel) (uint64, error) {
	// beginMu keeps xids registered in the order they were issued, so a
	// snapshot never misses an older transaction.
	vm.beginMu.Lock()
	defer vm.beginMu.Unlock()

	xid, err := vm.tm.Begin()
	if err != nil {
		return 0, err
	}
	vm.mu.Lock()
	vm.activeTransaction[xid] = newTransaction(xid, level, vm.activeTransaction)
	vm.mu.Unlock()
	vm.metrics.TxnBegin(level.String())
	vm.logger.Debug("transaction begun", zap.Uint64("xid", xid), zap.Stringer("level", level))
	return xid, nil
}

// Read returns the row uid as xid sees it, or nil if xid can not see it.
func (vm *VersionManager) Read(xid, uid uint64) (data []byte, err error) {
	t, err := vm.getTransaction(xid)
	if err != nil {
		return nil, err
	}
	if t.Err != nil {
		return nil, t.Err
	}

	entry, err := vm.getEntry(uid)
	if err != nil || entry == nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, entry.Release())
	}()

	if IsVisible(vm.tm, t, entry) {
		return entry.Data(), nil
	}
	return nil, nil
}

// Insert creates a new row owned by xid and returns its uid.
func (vm *VersionManager) Insert(xid uint64, data []byte) (uint64, error) {
	t, err := vm.getTransaction(xid)
	if err != nil {
		return 0, err
	}
	if t.Err != nil {
		return 0, t.Err
	}
	return vm.dm.Insert(xid, WrapEntryRaw(xid, data))
}

// Delete marks the row uid deleted by xid. It reports false when xid can
// not see the row or already deleted it. A write conflict aborts xid and
// returns ErrConcurrentUpdate.
func (vm *VersionManager) Delete(xid, uid uint64) (deleted bool, err error) {
	t, err := vm.getTransaction(xid)
	if err != nil {
		return false, err
	}
	if t.Err != nil {
		return false, t.Err
	}

	entry, err := vm.getEntry(uid)
	if err != nil || entry == nil {
		return false, err
	}
	defer func() {
		err = errors.Join(err, entry.Release())
	}()

	if !IsVisible(vm.tm, t, entry) {
		return false, nil
	}

	w, err := vm.lt.Add(xid, uid)
	if err != nil {
		return false, vm.conflict(t, "deadlock", err)
	}
	if w != nil && !w.Wait() {
		return false, fmt.Errorf("xid %d: %w", xid, common.ErrTransactionNotActive)
	}

	if entry.XMax() == xid {
		return false, nil
	}
	if !IsVisible(vm.tm, t, entry) {
		return false, vm.conflict(t, "deleted", nil)
	}
	if IsVersionSkip(vm.tm, t, entry) {
		return false, vm.conflict(t, "version_skip", nil)
	}
	if err := entry.SetXMax(xid); err != nil {
		return false, err
	}
	return true, nil
}

// conflict sets the sticky error of t and aborts it.
func (vm *VersionManager) conflict(t *Transaction, reason string, cause error) error {
	t.Err = common.ErrConcurrentUpdate
	if cause != nil {
		t.Err = fmt.Errorf("%w: %w", common.ErrConcurrentUpdate, cause)
	}
	vm.metrics.TxnConflict(reason)
	vm.logger.Debug("write conflict", zap.Uint64("xid", t.XID), zap.String("reason", reason))
	if err := vm.internAbort(t.XID, true); err != nil {
		return errors.Join(t.Err, err)
	}
	t.AutoAborted = true
	return t.Err
}

// Commit makes the effects of xid visible. A transaction that hit a
// conflict can not commit.
func (vm *VersionManager) Commit(xid uint64) error {
	if xid == transaction.SuperXID {
		return fmt.Errorf("super transaction can not commit: %w", common.ErrTransactionNotActive)
	}
	t, err := vm.getTransaction(xid)
	if err != nil {
		return err
	}
	if t.Err != nil {
		return t.Err
	}

	// The outcome is durable before waiters on xid's rows are woken.
	err = vm.tm.Commit(xid)
	vm.mu.Lock()
	delete(vm.activeTransaction, xid)
	vm.mu.Unlock()
	vm.lt.Remove(xid)
	if err != nil {
		return err
	}
	vm.metrics.TxnCommit()
	return nil
}

// Abort rolls xid back. Aborting a transaction the engine already
// aborted after a conflict only forgets it.
func (vm *VersionManager) Abort(xid uint64) error {
	return vm.internAbort(xid, false)
}

func (vm *VersionManager) internAbort(xid uint64, autoAborted bool) error {
	if xid == transaction.SuperXID {
		return fmt.Errorf("super transaction can not abort: %w", common.ErrTransactionNotActive)
	}
	vm.mu.Lock()
	t, ok := vm.activeTransaction[xid]
	if !ok {
		vm.mu.Unlock()
		return fmt.Errorf("xid %d: %w", xid, common.ErrTransactionNotActive)
	}
	if !autoAborted {
		delete(vm.activeTransaction, xid)
	}
	vm.mu.Unlock()

	if t.AutoAborted {
		return nil
	}
	err := vm.tm.Abort(xid)
	vm.lt.Remove(xid)
	if err != nil {
		return err
	}
	vm.metrics.TxnAbort(autoAborted)
	return nil
}

// Close releases every cached row.
func (vm *VersionManager) Close() error {
	return vm.cache.Close()
}
