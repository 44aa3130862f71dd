package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/sushant-115/gojostore/core/transaction"
	pagemanager "github.com/sushant-115/gojostore/core/write_engine/page_manager"
	"github.com/sushant-115/gojostore/core/write_engine/wal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/sushant-115/gojostore/core/recovery"

// LogReader iterates the write-ahead log from its first record.
type LogReader interface {
	Rewind()
	Next() ([]byte, error)
}

// PageStore is the part of the page cache recovery writes through.
type PageStore interface {
	GetPage(pgno uint32) (*pagemanager.Page, error)
	TruncateByPgno(maxPgno uint32) error
}

// Stats summarizes one recovery run.
type Stats struct {
	MaxPgno     uint32
	Records     int
	Redone      int
	Undone      int
	AbortedXIDs []uint64
}

type recoverer struct {
	tm     transaction.Manager
	lg     LogReader
	pc     PageStore
	logger *zap.Logger
	tracer trace.Tracer
	stats  Stats
}

// Recover brings the page file back in line with the log after an unclean
// shutdown. It runs three passes over the log:
//
//  1. find the largest page number any record touches and truncate the
//     page file to it,
//  2. redo, in log order, every record of a finished transaction,
//  3. undo, newest first, every record of a transaction still active and
//     mark that transaction aborted.
//
// Records of committed transactions are redone with their after image.
// Records of aborted transactions are not redone with their after image:
// they get their before image (an invalidated record for an insert), the
// net effect of reapplying the intent and rolling it back. Running Recover
// again on its own output therefore changes nothing.
func Recover(ctx context.Context, tm transaction.Manager, lg LogReader, pc PageStore, logger *zap.Logger) (*Stats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &recoverer{
		tm:     tm,
		lg:     lg,
		pc:     pc,
		logger: logger.Named("recovery"),
		tracer: otel.Tracer(tracerName),
	}

	ctx, span := r.tracer.Start(ctx, "recovery.Recover")
	defer span.End()

	r.logger.Info("recovering")
	for _, pass := range []struct {
		name string
		run  func(context.Context) error
	}{
		{"truncate", r.truncatePass},
		{"redo", r.redoPass},
		{"undo", r.undoPass},
	} {
		if err := r.traced(ctx, pass.name, pass.run); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("recovery %s pass: %w", pass.name, err)
		}
	}

	span.SetAttributes(
		attribute.Int("recovery.records", r.stats.Records),
		attribute.Int("recovery.redone", r.stats.Redone),
		attribute.Int("recovery.undone", r.stats.Undone),
	)
	r.logger.Info("recovery finished",
		zap.Uint32("max_pgno", r.stats.MaxPgno),
		zap.Int("records", r.stats.Records),
		zap.Int("redone", r.stats.Redone),
		zap.Int("undone", r.stats.Undone),
		zap.Uint64s("aborted", r.stats.AbortedXIDs),
	)
	return &r.stats, nil
}

func (r *recoverer) traced(ctx context.Context, name string, run func(context.Context) error) error {
	ctx, span := r.tracer.Start(ctx, "recovery."+name)
	defer span.End()
	if err := run(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// forEach feeds every log record to fn, starting from the first.
func (r *recoverer) forEach(ctx context.Context, fn func(log []byte) error) error {
	r.lg.Rewind()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		log, err := r.lg.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(log); err != nil {
			return err
		}
	}
}

func logPgno(log []byte) (uint32, error) {
	typ, err := wal.GetLogRecordType(log)
	if err != nil {
		return 0, err
	}
	if typ == wal.LogRecordTypeInsert {
		info, err := wal.ParseInsertLog(log)
		if err != nil {
			return 0, err
		}
		return info.Pgno, nil
	}
	info, err := wal.ParseUpdateLog(log)
	if err != nil {
		return 0, err
	}
	return info.Pgno, nil
}

func (r *recoverer) truncatePass(ctx context.Context) error {
	var maxPgno uint32
	err := r.forEach(ctx, func(log []byte) error {
		pgno, err := logPgno(log)
		if err != nil {
			return err
		}
		if pgno > maxPgno {
			maxPgno = pgno
		}
		r.stats.Records++
		return nil
	})
	if err != nil {
		return err
	}
	if maxPgno == 0 {
		maxPgno = 1
	}
	r.stats.MaxPgno = maxPgno
	r.logger.Debug("truncating page file", zap.Uint32("max_pgno", maxPgno))
	return r.pc.TruncateByPgno(maxPgno)
}

func (r *recoverer) redoPass(ctx context.Context) error {
	return r.forEach(ctx, func(log []byte) error {
		xid, err := wal.LogXID(log)
		if err != nil {
			return err
		}
		if r.tm.IsActive(xid) {
			return nil
		}
		undo := r.tm.IsAborted(xid)
		r.stats.Redone++
		return r.apply(log, undo)
	})
}

func (r *recoverer) undoPass(ctx context.Context) error {
	pending := make(map[uint64][][]byte)
	err := r.forEach(ctx, func(log []byte) error {
		xid, err := wal.LogXID(log)
		if err != nil {
			return err
		}
		if r.tm.IsActive(xid) {
			pending[xid] = append(pending[xid], log)
		}
		return nil
	})
	if err != nil {
		return err
	}

	xids := make([]uint64, 0, len(pending))
	for xid := range pending {
		xids = append(xids, xid)
	}
	sort.Slice(xids, func(i, j int) bool { return xids[i] < xids[j] })

	for _, xid := range xids {
		logs := pending[xid]
		for i := len(logs) - 1; i >= 0; i-- {
			if err := r.apply(logs[i], true); err != nil {
				return err
			}
			r.stats.Undone++
		}
		if err := r.tm.Abort(xid); err != nil {
			return err
		}
		r.stats.AbortedXIDs = append(r.stats.AbortedXIDs, xid)
	}
	return nil
}

// apply writes the after image of log, or its before image when undo is set.
func (r *recoverer) apply(log []byte, undo bool) error {
	typ, err := wal.GetLogRecordType(log)
	if err != nil {
		return err
	}
	if typ == wal.LogRecordTypeInsert {
		return r.applyInsert(log, undo)
	}
	return r.applyUpdate(log, undo)
}

func (r *recoverer) applyInsert(log []byte, undo bool) (err error) {
	info, err := wal.ParseInsertLog(log)
	if err != nil {
		return err
	}
	page, err := r.pc.GetPage(info.Pgno)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, page.Release())
	}()

	raw := info.Raw
	if undo {
		raw = append([]byte(nil), info.Raw...)
		pagemanager.SetItemRawInvalid(raw)
	}
	return pagemanager.RecoverInsert(page, raw, info.Offset)
}

func (r *recoverer) applyUpdate(log []byte, undo bool) (err error) {
	info, err := wal.ParseUpdateLog(log)
	if err != nil {
		return err
	}
	page, err := r.pc.GetPage(info.Pgno)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, page.Release())
	}()

	raw := info.NewRaw
	if undo {
		raw = info.OldRaw
	}
	return pagemanager.RecoverUpdate(page, raw, info.Offset)
}
