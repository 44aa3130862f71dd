package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sushant-115/gojostore/core/engine"
	"github.com/sushant-115/gojostore/core/mvcc"
	bufferpool "github.com/sushant-115/gojostore/core/write_engine/buffer_pool"
	pagemanager "github.com/sushant-115/gojostore/core/write_engine/page_manager"
	"go.uber.org/zap"
)

func setupClosedStore(t *testing.T) (string, uint64) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src")
	db, err := engine.Create(engine.Options{Path: path, Memory: 16 * pagemanager.PageSize, Logger: zap.NewNop()})
	require.NoError(t, err)
	xid, err := db.Begin(mvcc.ReadCommitted)
	require.NoError(t, err)
	uid, err := db.Insert(xid, []byte("backed up"))
	require.NoError(t, err)
	require.NoError(t, db.Commit(xid))
	require.NoError(t, db.Close())
	return path, uid
}

func TestStore_CopyOpens(t *testing.T) {
	src, uid := setupClosedStore(t)
	dst := filepath.Join(t.TempDir(), "dst")

	m, err := Store(context.Background(), src, dst, 0, zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, m.Files, 3)

	verified, err := Verify(dst)
	require.NoError(t, err)
	assert.Equal(t, m.Files, verified.Files)

	db, err := engine.Open(context.Background(), engine.Options{Path: dst, Memory: 16 * pagemanager.PageSize, Logger: zap.NewNop()})
	require.NoError(t, err)
	defer db.Close()
	xid, err := db.Begin(mvcc.ReadCommitted)
	require.NoError(t, err)
	data, err := db.Read(xid, uid)
	require.NoError(t, err)
	assert.Equal(t, []byte("backed up"), data)
	require.NoError(t, db.Commit(xid))
}

func TestStore_RefusesExistingTarget(t *testing.T) {
	src, _ := setupClosedStore(t)
	dst := filepath.Join(t.TempDir(), "dst")
	require.NoError(t, os.WriteFile(dst+bufferpool.DBSuffix, []byte("taken"), 0644))

	_, err := Store(context.Background(), src, dst, 0, zap.NewNop())
	assert.ErrorIs(t, err, os.ErrExist)
}

func TestVerify_DetectsCorruption(t *testing.T) {
	src, _ := setupClosedStore(t)
	dst := filepath.Join(t.TempDir(), "dst")
	_, err := Store(context.Background(), src, dst, 0, zap.NewNop())
	require.NoError(t, err)

	f, err := os.OpenFile(dst+bufferpool.DBSuffix, os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xFF, 0xFF, 0xFF}, 200)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Verify(dst)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestCopyThrottled_Cancelled(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.WriteFile(src, make([]byte, 1024), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := CopyThrottled(ctx, src, filepath.Join(dir, "dst"), 1<<20)
	assert.ErrorIs(t, err, context.Canceled)

	sum, n, err := CopyThrottled(context.Background(), src, filepath.Join(dir, "dst2"), 1<<20)
	require.NoError(t, err)
	assert.Len(t, sum, 32)
	assert.Equal(t, int64(1024), n)
}
