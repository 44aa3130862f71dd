package recovery

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/gojostore/core/common"
	"github.com/sushant-115/gojostore/core/transaction"
	bufferpool "github.com/sushant-115/gojostore/core/write_engine/buffer_pool"
	pagemanager "github.com/sushant-115/gojostore/core/write_engine/page_manager"
	"github.com/sushant-115/gojostore/core/write_engine/wal"
	"go.uber.org/zap"
)

const testMemory = 32 * pagemanager.PageSize

type testStore struct {
	path string
	pc   *bufferpool.PageCache
	lm   *wal.LogManager
	tm   *transaction.XIDManager
}

func setupStore(t *testing.T) *testStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store")
	pc, err := bufferpool.Create(path, testMemory, nil, nil)
	require.NoError(t, err)
	lm, err := wal.CreateLogManager(path, nil, nil)
	require.NoError(t, err)
	tm, err := transaction.CreateXIDManager(path, nil)
	require.NoError(t, err)

	pageOne, err := pagemanager.InitPageOneRaw()
	require.NoError(t, err)
	_, err = pc.NewPage(pageOne)
	require.NoError(t, err)
	return &testStore{path: path, pc: pc, lm: lm, tm: tm}
}

// crash closes the files without writing back cached pages.
func (s *testStore) crash(t *testing.T) {
	t.Helper()
	require.NoError(t, s.lm.Close())
	require.NoError(t, s.tm.Close())
	require.NoError(t, s.pc.Close())
}

func (s *testStore) reopen(t *testing.T) {
	t.Helper()
	var err error
	s.pc, err = bufferpool.Open(s.path, testMemory, nil, nil)
	require.NoError(t, err)
	s.lm, err = wal.OpenLogManager(s.path, nil, nil)
	require.NoError(t, err)
	s.tm, err = transaction.OpenXIDManager(s.path, nil)
	require.NoError(t, err)
}

func (s *testStore) recover(t *testing.T) *Stats {
	t.Helper()
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	stats, err := Recover(context.Background(), s.tm, s.lm, s.pc, logger)
	require.NoError(t, err)
	return stats
}

func (s *testStore) pageBytes(t *testing.T, pgno uint32) []byte {
	t.Helper()
	page, err := s.pc.GetPage(pgno)
	require.NoError(t, err)
	defer func() { require.NoError(t, page.Release()) }()
	return append([]byte(nil), page.GetData()...)
}

func (s *testStore) begin(t *testing.T) uint64 {
	t.Helper()
	xid, err := s.tm.Begin()
	require.NoError(t, err)
	return xid
}

// logInsert logs an insert of payload at offset, optionally writing it to
// disk as well.
func (s *testStore) logInsert(t *testing.T, xid uint64, pgno uint32, offset uint16, payload []byte, persist bool) []byte {
	t.Helper()
	raw := pagemanager.WrapItemRaw(payload)
	require.NoError(t, s.lm.Log(wal.InsertLog(xid, pgno, offset, raw)))
	if persist {
		s.writeThrough(t, pgno, func(p *pagemanager.Page) {
			require.NoError(t, pagemanager.RecoverInsert(p, raw, offset))
		})
	}
	return raw
}

func (s *testStore) logUpdate(t *testing.T, xid uint64, pgno uint32, offset uint16, oldRaw, newRaw []byte, persist bool) {
	t.Helper()
	require.NoError(t, s.lm.Log(wal.UpdateLog(xid, common.AddressToUID(pgno, offset), oldRaw, newRaw)))
	if persist {
		s.writeThrough(t, pgno, func(p *pagemanager.Page) {
			require.NoError(t, pagemanager.RecoverUpdate(p, newRaw, offset))
		})
	}
}

func (s *testStore) writeThrough(t *testing.T, pgno uint32, mutate func(p *pagemanager.Page)) {
	t.Helper()
	page, err := s.pc.GetPage(pgno)
	require.NoError(t, err)
	mutate(page)
	require.NoError(t, s.pc.FlushPage(page))
	require.NoError(t, page.Release())
}

func rawAt(t *testing.T, page []byte, offset uint16) []byte {
	t.Helper()
	raw, err := pagemanager.ItemRawAt(page, offset)
	require.NoError(t, err)
	return raw
}

func TestRecover_RedoCommittedUndoActive(t *testing.T) {
	s := setupStore(t)
	pgno, err := s.pc.NewPage(pagemanager.InitPageXRaw())
	require.NoError(t, err)

	committed := s.begin(t)
	active := s.begin(t)
	aborted := s.begin(t)

	offA := uint16(2)
	rawA := s.logInsert(t, committed, pgno, offA, []byte("committed"), false)
	offB := offA + uint16(len(rawA))
	rawB := s.logInsert(t, active, pgno, offB, []byte("in-flight"), true)
	offC := offB + uint16(len(rawB))
	rawC := s.logInsert(t, aborted, pgno, offC, []byte("rolled-back"), false)

	require.NoError(t, s.tm.Commit(committed))
	require.NoError(t, s.tm.Abort(aborted))
	s.crash(t)

	s.reopen(t)
	stats := s.recover(t)
	require.Equal(t, pgno, stats.MaxPgno)
	require.Equal(t, 3, stats.Records)
	require.Equal(t, []uint64{active}, stats.AbortedXIDs)
	require.True(t, s.tm.IsAborted(active))

	page := s.pageBytes(t, pgno)
	require.Equal(t, rawA, rawAt(t, page, offA))
	require.Equal(t, pagemanager.ItemInvalid, rawAt(t, page, offB)[pagemanager.ItemValidOffset])
	require.Equal(t, pagemanager.ItemInvalid, rawAt(t, page, offC)[pagemanager.ItemValidOffset])
	require.Equal(t, rawB[pagemanager.ItemDataOffset:], rawAt(t, page, offB)[pagemanager.ItemDataOffset:])

	fso := pagemanager.GetFSO(pagemanager.NewPage(pgno, page, nil))
	require.Equal(t, offC+uint16(len(rawC)), fso)
	s.crash(t)
}

func TestRecover_UpdateImages(t *testing.T) {
	s := setupStore(t)
	pgno, err := s.pc.NewPage(pagemanager.InitPageXRaw())
	require.NoError(t, err)

	setup := s.begin(t)
	raw := s.logInsert(t, setup, pgno, 2, []byte("version-0"), true)
	require.NoError(t, s.tm.Commit(setup))

	v1 := pagemanager.WrapItemRaw([]byte("version-1"))
	v2 := pagemanager.WrapItemRaw([]byte("version-2"))

	writer := s.begin(t)
	s.logUpdate(t, writer, pgno, 2, raw, v1, false)
	require.NoError(t, s.tm.Commit(writer))

	crashed := s.begin(t)
	s.logUpdate(t, crashed, pgno, 2, v1, v2, true)
	s.crash(t)

	s.reopen(t)
	s.recover(t)
	require.Equal(t, v1, rawAt(t, s.pageBytes(t, pgno), 2))
	s.crash(t)
}

func TestRecover_AbortedUpdateRedoneWithBeforeImage(t *testing.T) {
	s := setupStore(t)
	pgno, err := s.pc.NewPage(pagemanager.InitPageXRaw())
	require.NoError(t, err)

	setup := s.begin(t)
	raw := s.logInsert(t, setup, pgno, 2, []byte("original"), true)
	require.NoError(t, s.tm.Commit(setup))

	// The page reached disk with the after image, then the writer aborted.
	aborted := s.begin(t)
	s.logUpdate(t, aborted, pgno, 2, raw, pagemanager.WrapItemRaw([]byte("discarded")), true)
	require.NoError(t, s.tm.Abort(aborted))
	s.crash(t)

	s.reopen(t)
	stats := s.recover(t)
	require.Empty(t, stats.AbortedXIDs)
	require.Equal(t, raw, rawAt(t, s.pageBytes(t, pgno), 2))
	s.crash(t)
}

func TestRecover_IsIdempotent(t *testing.T) {
	s := setupStore(t)
	pgno, err := s.pc.NewPage(pagemanager.InitPageXRaw())
	require.NoError(t, err)

	committed := s.begin(t)
	active := s.begin(t)
	rawA := s.logInsert(t, committed, pgno, 2, []byte("alpha"), false)
	s.logInsert(t, active, pgno, 2+uint16(len(rawA)), []byte("beta"), true)
	s.logUpdate(t, active, pgno, 2, rawA, pagemanager.WrapItemRaw([]byte("ALPHA")), true)
	require.NoError(t, s.tm.Commit(committed))
	s.crash(t)

	s.reopen(t)
	s.recover(t)
	first := s.pageBytes(t, pgno)
	s.crash(t)

	s.reopen(t)
	stats := s.recover(t)
	require.Empty(t, stats.AbortedXIDs)
	require.Equal(t, first, s.pageBytes(t, pgno))
	require.Equal(t, rawA, rawAt(t, first, 2))
	s.crash(t)
}

func TestRecover_EmptyLogKeepsPageOne(t *testing.T) {
	s := setupStore(t)
	_, err := s.pc.NewPage(pagemanager.InitPageXRaw())
	require.NoError(t, err)
	s.crash(t)

	s.reopen(t)
	stats := s.recover(t)
	require.Equal(t, uint32(1), stats.MaxPgno)
	require.Equal(t, uint32(1), s.pc.PageNumber())
	s.crash(t)
}
