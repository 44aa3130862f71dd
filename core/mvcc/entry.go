package mvcc

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sushant-115/gojostore/core/common"
	"github.com/sushant-115/gojostore/core/storage_engine/datamanager"
)

// Entry layout inside a record payload: [XMIN:8][XMAX:8][data]. XMIN is
// the transaction that created the version, XMAX the one that deleted it
// (0 while alive).
const (
	ofXMin = 0
	ofXMax = ofXMin + 8
	ofData = ofXMax + 8
)

// Entry is one version of a row.
type Entry struct {
	uid uint64
	di  *datamanager.DataItem
	vm  *VersionManager
}

// WrapEntryRaw builds the payload of a new version created by xid.
func WrapEntryRaw(xid uint64, data []byte) []byte {
	raw := make([]byte, ofData+len(data))
	binary.LittleEndian.PutUint64(raw[ofXMin:], xid)
	copy(raw[ofData:], data)
	return raw
}

// loadEntry reads uid through the data manager. It returns nil when the
// record does not exist or was invalidated.
func loadEntry(vm *VersionManager, uid uint64) (*Entry, error) {
	di, err := vm.dm.Read(uid)
	if err != nil || di == nil {
		return nil, err
	}
	di.RLock()
	size := len(di.Data())
	di.RUnlock()
	if size < ofData {
		return nil, errors.Join(
			fmt.Errorf("uid %d: payload of %d bytes is not a row version: %w", uid, size, common.ErrCorruptDataItem),
			di.Release())
	}
	return &Entry{uid: uid, di: di, vm: vm}, nil
}

// Release drops the reference taken by the entry cache.
func (e *Entry) Release() error {
	return e.vm.releaseEntry(e)
}

func (e *Entry) remove() error {
	return e.di.Release()
}

// Data returns a copy of the row payload.
func (e *Entry) Data() []byte {
	e.di.RLock()
	defer e.di.RUnlock()
	data := e.di.Data()
	out := make([]byte, len(data)-ofData)
	copy(out, data[ofData:])
	return out
}

func (e *Entry) XMin() uint64 {
	e.di.RLock()
	defer e.di.RUnlock()
	return binary.LittleEndian.Uint64(e.di.Data()[ofXMin:])
}

func (e *Entry) XMax() uint64 {
	e.di.RLock()
	defer e.di.RUnlock()
	return binary.LittleEndian.Uint64(e.di.Data()[ofXMax:])
}

// SetXMax marks the version deleted by xid. The change is logged before
// it becomes durable.
func (e *Entry) SetXMax(xid uint64) error {
	e.di.Before()
	binary.LittleEndian.PutUint64(e.di.Data()[ofXMax:], xid)
	return e.di.After(xid)
}

func (e *Entry) UID() uint64 { return e.uid }
