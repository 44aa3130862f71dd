package wal

import (
	"encoding/binary"
	"fmt"

	"github.com/sushant-115/gojostore/core/common"
)

// LogRecordType tags the payload of a log record.
type LogRecordType byte

const (
	LogRecordTypeInsert LogRecordType = 0
	LogRecordTypeUpdate LogRecordType = 1
)

// Insert record: [Type:1][XID:8][Pgno:4][Offset:2][Raw]
const (
	insTypeOffset   = 0
	insXIDOffset    = insTypeOffset + 1
	insPgnoOffset   = insXIDOffset + 8
	insOffsetOffset = insPgnoOffset + 4
	insRawOffset    = insOffsetOffset + 2
)

// Update record: [Type:1][XID:8][UID:8][OldRaw][NewRaw]
const (
	updTypeOffset = 0
	updXIDOffset  = updTypeOffset + 1
	updUIDOffset  = updXIDOffset + 8
	updRawOffset  = updUIDOffset + 8
)

// InsertLogInfo is a decoded insert record.
type InsertLogInfo struct {
	XID    uint64
	Pgno   uint32
	Offset uint16
	Raw    []byte
}

// UpdateLogInfo is a decoded update record. OldRaw and NewRaw have the
// same length.
type UpdateLogInfo struct {
	XID    uint64
	Pgno   uint32
	Offset uint16
	OldRaw []byte
	NewRaw []byte
}

// InsertLog encodes the insert of raw at offset on page pgno by xid.
func InsertLog(xid uint64, pgno uint32, offset uint16, raw []byte) []byte {
	log := make([]byte, insRawOffset+len(raw))
	log[insTypeOffset] = byte(LogRecordTypeInsert)
	binary.LittleEndian.PutUint64(log[insXIDOffset:], xid)
	binary.LittleEndian.PutUint32(log[insPgnoOffset:], pgno)
	binary.LittleEndian.PutUint16(log[insOffsetOffset:], offset)
	copy(log[insRawOffset:], raw)
	return log
}

// UpdateLog encodes an in-place change of the record uid by xid.
func UpdateLog(xid uint64, uid uint64, oldRaw, newRaw []byte) []byte {
	log := make([]byte, updRawOffset+len(oldRaw)+len(newRaw))
	log[updTypeOffset] = byte(LogRecordTypeUpdate)
	binary.LittleEndian.PutUint64(log[updXIDOffset:], xid)
	binary.LittleEndian.PutUint64(log[updUIDOffset:], uid)
	copy(log[updRawOffset:], oldRaw)
	copy(log[updRawOffset+len(oldRaw):], newRaw)
	return log
}

// GetLogRecordType returns the type tag of an encoded record.
func GetLogRecordType(log []byte) (LogRecordType, error) {
	if len(log) == 0 {
		return 0, fmt.Errorf("%w: empty record", common.ErrInvalidLogRecord)
	}
	switch t := LogRecordType(log[0]); t {
	case LogRecordTypeInsert, LogRecordTypeUpdate:
		return t, nil
	default:
		return 0, fmt.Errorf("%w: unknown type %d", common.ErrInvalidLogRecord, t)
	}
}

// LogXID returns the transaction of an encoded record.
func LogXID(log []byte) (uint64, error) {
	if len(log) < insXIDOffset+8 {
		return 0, fmt.Errorf("%w: %d bytes", common.ErrInvalidLogRecord, len(log))
	}
	return binary.LittleEndian.Uint64(log[insXIDOffset:]), nil
}

func ParseInsertLog(log []byte) (*InsertLogInfo, error) {
	if len(log) < insRawOffset || LogRecordType(log[insTypeOffset]) != LogRecordTypeInsert {
		return nil, fmt.Errorf("%w: malformed insert record", common.ErrInvalidLogRecord)
	}
	return &InsertLogInfo{
		XID:    binary.LittleEndian.Uint64(log[insXIDOffset:]),
		Pgno:   binary.LittleEndian.Uint32(log[insPgnoOffset:]),
		Offset: binary.LittleEndian.Uint16(log[insOffsetOffset:]),
		Raw:    log[insRawOffset:],
	}, nil
}

func ParseUpdateLog(log []byte) (*UpdateLogInfo, error) {
	if len(log) < updRawOffset || LogRecordType(log[updTypeOffset]) != LogRecordTypeUpdate {
		return nil, fmt.Errorf("%w: malformed update record", common.ErrInvalidLogRecord)
	}
	raws := log[updRawOffset:]
	if len(raws)%2 != 0 {
		return nil, fmt.Errorf("%w: odd image length %d", common.ErrInvalidLogRecord, len(raws))
	}
	half := len(raws) / 2
	pgno, offset := common.UIDToAddress(binary.LittleEndian.Uint64(log[updUIDOffset:]))
	return &UpdateLogInfo{
		XID:    binary.LittleEndian.Uint64(log[updXIDOffset:]),
		Pgno:   pgno,
		Offset: offset,
		OldRaw: raws[:half],
		NewRaw: raws[half:],
	}, nil
}
