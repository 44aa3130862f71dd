package datamanager

import (
	"sync"

	pagemanager "github.com/sushant-115/gojostore/core/write_engine/page_manager"
)

// DataItem is a record as seen by the version layer. Its raw bytes alias
// the page buffer, so changes made between Before and After land directly
// in the page.
//
// Mutations follow a strict protocol: Before takes the write lock and
// snapshots the current bytes, then either After logs the old and new
// images and unlocks, or UnBefore restores the snapshot and unlocks.
type DataItem struct {
	raw    []byte
	oldRaw []byte
	lock   sync.RWMutex
	dm     *DataManager
	uid    uint64
	page   *pagemanager.Page
}

func newDataItem(raw []byte, page *pagemanager.Page, uid uint64, dm *DataManager) *DataItem {
	return &DataItem{
		raw:    raw,
		oldRaw: make([]byte, len(raw)),
		dm:     dm,
		uid:    uid,
		page:   page,
	}
}

// IsValid reports whether the record has not been invalidated by recovery.
func (di *DataItem) IsValid() bool {
	return di.raw[pagemanager.ItemValidOffset] == pagemanager.ItemValid
}

// Data returns the payload. It aliases the page buffer.
func (di *DataItem) Data() []byte {
	return di.raw[pagemanager.ItemDataOffset:]
}

// Before starts a mutation.
func (di *DataItem) Before() {
	di.lock.Lock()
	di.page.SetDirty(true)
	copy(di.oldRaw, di.raw)
}

// UnBefore abandons a mutation started by Before.
func (di *DataItem) UnBefore() {
	copy(di.raw, di.oldRaw)
	di.lock.Unlock()
}

// After logs the mutation made since Before on behalf of xid and ends it.
// If the log write fails the mutation is rolled back.
func (di *DataItem) After(xid uint64) error {
	if err := di.dm.logDataItem(xid, di); err != nil {
		di.UnBefore()
		return err
	}
	di.lock.Unlock()
	return nil
}

// Release drops the reference taken by DataManager.Read.
func (di *DataItem) Release() error {
	return di.dm.releaseDataItem(di)
}

func (di *DataItem) Lock()    { di.lock.Lock() }
func (di *DataItem) Unlock()  { di.lock.Unlock() }
func (di *DataItem) RLock()   { di.lock.RLock() }
func (di *DataItem) RUnlock() { di.lock.RUnlock() }

func (di *DataItem) Page() *pagemanager.Page { return di.page }
func (di *DataItem) UID() uint64             { return di.uid }
func (di *DataItem) OldRaw() []byte          { return di.oldRaw }
func (di *DataItem) Raw() []byte             { return di.raw }
