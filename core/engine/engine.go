// Package engine wires the transaction registry, the data manager and the
// version manager into one embeddable store.
package engine

import (
	"context"
	"errors"

	"github.com/sushant-115/gojostore/core/mvcc"
	"github.com/sushant-115/gojostore/core/storage_engine/datamanager"
	"github.com/sushant-115/gojostore/core/transaction"
	internaltelemetry "github.com/sushant-115/gojostore/internal/telemetry"
	"go.uber.org/zap"
)

// Options configures a store.
type Options struct {
	// Path is the file prefix; the store uses Path.db, Path.log and Path.xid.
	Path string
	// Memory is the page cache budget in bytes.
	Memory  int64
	Logger  *zap.Logger
	Metrics *internaltelemetry.StorageMetrics
}

func (o *Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// DB is an open store.
type DB struct {
	tm     *transaction.XIDManager
	dm     *datamanager.DataManager
	vm     *mvcc.VersionManager
	logger *zap.Logger
}

// Create initializes a new store. It fails if any of its files exist.
func Create(opts Options) (*DB, error) {
	logger := opts.logger()
	tm, err := transaction.CreateXIDManager(opts.Path, logger)
	if err != nil {
		return nil, err
	}
	dm, err := datamanager.Create(opts.Path, opts.Memory, tm, logger, opts.Metrics)
	if err != nil {
		return nil, errors.Join(err, tm.Close())
	}
	return newDB(tm, dm, logger, opts.Metrics), nil
}

// Open opens an existing store, recovering it if it was not closed cleanly.
func Open(ctx context.Context, opts Options) (*DB, error) {
	logger := opts.logger()
	tm, err := transaction.OpenXIDManager(opts.Path, logger)
	if err != nil {
		return nil, err
	}
	dm, err := datamanager.Open(ctx, opts.Path, opts.Memory, tm, logger, opts.Metrics)
	if err != nil {
		return nil, errors.Join(err, tm.Close())
	}
	return newDB(tm, dm, logger, opts.Metrics), nil
}

func newDB(tm *transaction.XIDManager, dm *datamanager.DataManager, logger *zap.Logger, metrics *internaltelemetry.StorageMetrics) *DB {
	return &DB{
		tm:     tm,
		dm:     dm,
		vm:     mvcc.NewVersionManager(tm, dm, logger, metrics),
		logger: logger.Named("engine"),
	}
}

func (db *DB) Begin(level mvcc.IsolationLevel) (uint64, error) { return db.vm.Begin(level) }
func (db *DB) Read(xid, uid uint64) ([]byte, error)             { return db.vm.Read(xid, uid) }
func (db *DB) Insert(xid uint64, data []byte) (uint64, error)   { return db.vm.Insert(xid, data) }
func (db *DB) Delete(xid, uid uint64) (bool, error)             { return db.vm.Delete(xid, uid) }
func (db *DB) Commit(xid uint64) error                          { return db.vm.Commit(xid) }
func (db *DB) Abort(xid uint64) error                           { return db.vm.Abort(xid) }

// Close flushes the store and marks it cleanly shut down.
func (db *DB) Close() error {
	err := errors.Join(db.vm.Close(), db.dm.Close(), db.tm.Close())
	if err != nil {
		db.logger.Error("close failed", zap.Error(err))
		return err
	}
	db.logger.Info("store closed")
	return nil
}
