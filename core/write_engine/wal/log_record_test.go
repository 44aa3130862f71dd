package wal

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/gojostore/core/common"
)

func TestInsertLogEncoding(t *testing.T) {
	raw := []byte{0, 3, 0, 'a', 'b', 'c'}
	log := InsertLog(9, 4, 120, raw)

	typ, err := GetLogRecordType(log)
	require.NoError(t, err)
	require.Equal(t, LogRecordTypeInsert, typ)
	xid, err := LogXID(log)
	require.NoError(t, err)
	require.Equal(t, uint64(9), xid)

	info, err := ParseInsertLog(log)
	require.NoError(t, err)
	require.Equal(t, &InsertLogInfo{XID: 9, Pgno: 4, Offset: 120, Raw: raw}, info)

	_, err = ParseUpdateLog(log)
	require.ErrorIs(t, err, common.ErrInvalidLogRecord)
}

func TestUpdateLogSplitsImagesInHalf(t *testing.T) {
	oldRaw := []byte("old-image")
	newRaw := []byte("new-image")
	log := UpdateLog(3, common.AddressToUID(7, 200), oldRaw, newRaw)

	info, err := ParseUpdateLog(log)
	require.NoError(t, err)
	require.Equal(t, uint64(3), info.XID)
	require.Equal(t, uint32(7), info.Pgno)
	require.Equal(t, uint16(200), info.Offset)
	require.Equal(t, oldRaw, info.OldRaw)
	require.Equal(t, newRaw, info.NewRaw)
}

func TestGetLogRecordTypeRejectsGarbage(t *testing.T) {
	_, err := GetLogRecordType(nil)
	require.ErrorIs(t, err, common.ErrInvalidLogRecord)
	_, err = GetLogRecordType([]byte{7})
	require.ErrorIs(t, err, common.ErrInvalidLogRecord)
}
