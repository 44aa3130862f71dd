package transaction

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/gojostore/core/common"
	"go.uber.org/zap"
)

func setupXIDManager(t *testing.T) (*XIDManager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store")
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	m, err := CreateXIDManager(path, logger)
	require.NoError(t, err)
	return m, path
}

func TestXIDManager_Lifecycle(t *testing.T) {
	m, path := setupXIDManager(t)

	x1, err := m.Begin()
	require.NoError(t, err)
	x2, err := m.Begin()
	require.NoError(t, err)
	x3, err := m.Begin()
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2, 3}, []uint64{x1, x2, x3})

	require.NoError(t, m.Commit(x1))
	require.NoError(t, m.Abort(x2))

	check := func(m *XIDManager) {
		require.True(t, m.IsCommitted(x1))
		require.False(t, m.IsActive(x1))
		require.True(t, m.IsAborted(x2))
		require.True(t, m.IsActive(x3))
		require.False(t, m.IsCommitted(x3))
	}
	check(m)
	require.NoError(t, m.Close())

	m, err = OpenXIDManager(path, nil)
	require.NoError(t, err)
	defer m.Close()
	check(m)

	x4, err := m.Begin()
	require.NoError(t, err)
	require.Equal(t, uint64(4), x4)
}

func TestXIDManager_SuperXID(t *testing.T) {
	m, _ := setupXIDManager(t)
	defer m.Close()
	require.True(t, m.IsCommitted(SuperXID))
	require.False(t, m.IsActive(SuperXID))
	require.False(t, m.IsAborted(SuperXID))
	require.ErrorIs(t, m.Commit(SuperXID), common.ErrTransactionNotActive)
}

func TestXIDManager_UnknownXID(t *testing.T) {
	m, _ := setupXIDManager(t)
	defer m.Close()
	require.False(t, m.IsActive(42))
	require.False(t, m.IsCommitted(42))
	require.ErrorIs(t, m.Abort(42), common.ErrTransactionNotActive)
}

func TestXIDManager_BadFileLength(t *testing.T) {
	m, path := setupXIDManager(t)
	_, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.Close())

	f, err := os.OpenFile(path+XIDSuffix, os.O_WRONLY|os.O_APPEND, 0666)
	require.NoError(t, err)
	_, err = f.Write([]byte{0})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = OpenXIDManager(path, nil)
	require.ErrorIs(t, err, common.ErrBadXIDFile)
}

func TestXIDManager_ConcurrentBegin(t *testing.T) {
	m, _ := setupXIDManager(t)
	defer m.Close()

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[uint64]bool)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				xid, err := m.Begin()
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				seen[xid] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Len(t, seen, 80)
	for xid := uint64(1); xid <= 80; xid++ {
		require.True(t, seen[xid])
	}
}
