package server

import (
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sushant-115/gojostore/core/common"
	"github.com/sushant-115/gojostore/core/engine"
	pagemanager "github.com/sushant-115/gojostore/core/write_engine/page_manager"
	"go.uber.org/zap"
)

func setupStore(t *testing.T) *engine.DB {
	t.Helper()
	db, err := engine.Create(engine.Options{
		Path:   filepath.Join(t.TempDir(), "store"),
		Memory: 32 * pagemanager.PageSize,
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func exec(t *testing.T, e *Executor, stat string) string {
	t.Helper()
	out, err := e.Execute([]byte(stat))
	require.NoError(t, err, stat)
	return string(out)
}

func TestExecutor_AutoCommit(t *testing.T) {
	db := setupStore(t)
	e := NewExecutor(db, zap.NewNop())

	uid := exec(t, e, "insert hello world")
	_, err := strconv.ParseUint(uid, 10, 64)
	require.NoError(t, err)

	other := NewExecutor(db, zap.NewNop())
	assert.Equal(t, "hello world", exec(t, other, "read "+uid))
	assert.Equal(t, "true", exec(t, other, "delete "+uid))
	assert.Equal(t, "(nil)", exec(t, e, "read "+uid))
	assert.Equal(t, "false", exec(t, e, "delete "+uid))
}

func TestExecutor_ExplicitTransaction(t *testing.T) {
	db := setupStore(t)
	writer := NewExecutor(db, zap.NewNop())
	reader := NewExecutor(db, zap.NewNop())

	assert.Contains(t, exec(t, writer, "begin"), "begin ")
	uid := exec(t, writer, "insert pending")
	assert.Equal(t, "pending", exec(t, writer, "read "+uid))
	assert.Equal(t, "(nil)", exec(t, reader, "read "+uid))

	assert.Equal(t, "commit", exec(t, writer, "commit"))
	assert.Equal(t, "pending", exec(t, reader, "read "+uid))

	exec(t, writer, "BEGIN rr")
	uid = exec(t, writer, "insert gone")
	assert.Equal(t, "abort", exec(t, writer, "abort"))
	assert.Equal(t, "(nil)", exec(t, reader, "read "+uid))
}

func TestExecutor_Errors(t *testing.T) {
	db := setupStore(t)
	e := NewExecutor(db, zap.NewNop())

	tests := []struct {
		stat string
		err  error
	}{
		{"", ErrInvalidStatement},
		{"select 1", ErrUnknownCommand},
		{"insert", ErrInvalidStatement},
		{"read abc", ErrInvalidStatement},
		{"delete -1", ErrInvalidStatement},
		{"commit", ErrNoTransaction},
		{"abort", ErrNoTransaction},
		{"begin serializable", ErrInvalidStatement},
	}
	for _, tt := range tests {
		t.Run(tt.stat, func(t *testing.T) {
			_, err := e.Execute([]byte(tt.stat))
			assert.ErrorIs(t, err, tt.err)
		})
	}

	exec(t, e, "begin")
	_, err := e.Execute([]byte("begin"))
	assert.ErrorIs(t, err, ErrNestedTransaction)
	_, err = e.Execute([]byte("commit now"))
	assert.ErrorIs(t, err, ErrInvalidStatement)
	exec(t, e, "commit")
}

func TestExecutor_ConflictEndsTransaction(t *testing.T) {
	db := setupStore(t)
	setup := NewExecutor(db, zap.NewNop())
	uid := exec(t, setup, "insert row")

	a := NewExecutor(db, zap.NewNop())
	b := NewExecutor(db, zap.NewNop())
	exec(t, a, "begin rr")
	exec(t, b, "begin rr")
	assert.Equal(t, "true", exec(t, b, "delete "+uid))
	exec(t, b, "commit")

	// a still sees the row but the version it would delete is gone.
	_, err := a.Execute([]byte("delete " + uid))
	assert.ErrorIs(t, err, common.ErrConcurrentUpdate)
	_, err = a.Execute([]byte("commit"))
	assert.ErrorIs(t, err, ErrNoTransaction)
	exec(t, a, "begin")
	exec(t, a, "commit")
}

func TestExecutor_CloseAbortsOpenTransaction(t *testing.T) {
	db := setupStore(t)
	e := NewExecutor(db, zap.NewNop())
	exec(t, e, "begin")
	uid := exec(t, e, "insert orphan")
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	reader := NewExecutor(db, zap.NewNop())
	assert.Equal(t, "(nil)", exec(t, reader, "read "+uid))
}

func TestExecutor_ForgedUID(t *testing.T) {
	db := setupStore(t)
	e := NewExecutor(db, zap.NewNop())
	uid, err := strconv.ParseUint(exec(t, e, "insert a"), 10, 64)
	require.NoError(t, err)

	forged := strconv.FormatUint(uid+2, 10)
	_, err = e.Execute([]byte("read " + forged))
	assert.ErrorIs(t, err, common.ErrCorruptDataItem)
	_, err = e.Execute([]byte("delete " + forged))
	assert.ErrorIs(t, err, common.ErrCorruptDataItem)

	// The session keeps working.
	assert.Equal(t, "a", exec(t, e, "read "+strconv.FormatUint(uid, 10)))
}
