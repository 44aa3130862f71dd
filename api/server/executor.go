package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sushant-115/gojostore/core/common"
	"github.com/sushant-115/gojostore/core/mvcc"
	"go.uber.org/zap"
)

var (
	ErrUnknownCommand    = errors.New("unknown command")
	ErrInvalidStatement  = errors.New("invalid statement")
	ErrNestedTransaction = errors.New("nested transaction not supported")
	ErrNoTransaction     = errors.New("not in transaction")
)

// Store is the part of the engine a session drives.
type Store interface {
	Begin(level mvcc.IsolationLevel) (uint64, error)
	Read(xid, uid uint64) ([]byte, error)
	Insert(xid uint64, data []byte) (uint64, error)
	Delete(xid, uid uint64) (bool, error)
	Commit(xid uint64) error
	Abort(xid uint64) error
}

// Executor runs the statements of one session. Statements outside an
// explicit transaction run in their own read-committed transaction.
// An Executor is not safe for concurrent use.
type Executor struct {
	store  Store
	xid    uint64
	inTxn  bool
	logger *zap.Logger
}

func NewExecutor(store Store, logger *zap.Logger) *Executor {
	return &Executor{store: store, logger: logger}
}

// Execute parses and runs one statement.
func (e *Executor) Execute(stat []byte) ([]byte, error) {
	line := strings.TrimSpace(string(stat))
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(cmd) {
	case "begin":
		return e.begin(rest)
	case "commit":
		return e.finish(rest, "commit", e.store.Commit)
	case "abort":
		return e.finish(rest, "abort", e.store.Abort)
	case "insert":
		if rest == "" {
			return nil, fmt.Errorf("%w: insert needs a value", ErrInvalidStatement)
		}
		return e.run(func(xid uint64) ([]byte, error) {
			uid, err := e.store.Insert(xid, []byte(rest))
			if err != nil {
				return nil, err
			}
			return []byte(strconv.FormatUint(uid, 10)), nil
		})
	case "read":
		uid, err := parseUID(rest)
		if err != nil {
			return nil, err
		}
		return e.run(func(xid uint64) ([]byte, error) {
			data, err := e.store.Read(xid, uid)
			if err != nil {
				return nil, err
			}
			if data == nil {
				return []byte("(nil)"), nil
			}
			return data, nil
		})
	case "delete":
		uid, err := parseUID(rest)
		if err != nil {
			return nil, err
		}
		return e.run(func(xid uint64) ([]byte, error) {
			ok, err := e.store.Delete(xid, uid)
			if err != nil {
				return nil, err
			}
			return []byte(strconv.FormatBool(ok)), nil
		})
	case "":
		return nil, fmt.Errorf("%w: empty statement", ErrInvalidStatement)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
	}
}

func (e *Executor) begin(arg string) ([]byte, error) {
	if e.inTxn {
		return nil, ErrNestedTransaction
	}
	level := mvcc.ReadCommitted
	if arg != "" {
		var err error
		if level, err = mvcc.ParseIsolationLevel(arg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidStatement, err)
		}
	}
	xid, err := e.store.Begin(level)
	if err != nil {
		return nil, err
	}
	e.xid, e.inTxn = xid, true
	return []byte(fmt.Sprintf("begin %d %s", xid, level)), nil
}

func (e *Executor) finish(arg, name string, fn func(uint64) error) ([]byte, error) {
	if arg != "" {
		return nil, fmt.Errorf("%w: %s takes no arguments", ErrInvalidStatement, name)
	}
	if !e.inTxn {
		return nil, ErrNoTransaction
	}
	xid := e.xid
	e.xid, e.inTxn = 0, false
	if err := fn(xid); err != nil {
		return nil, err
	}
	return []byte(name), nil
}

func (e *Executor) run(fn func(xid uint64) ([]byte, error)) ([]byte, error) {
	if e.inTxn {
		res, err := fn(e.xid)
		if errors.Is(err, common.ErrConcurrentUpdate) {
			// The transaction was rolled back by the version manager.
			e.logger.Debug("transaction auto-aborted", zap.Uint64("xid", e.xid), zap.Error(err))
			if abortErr := e.store.Abort(e.xid); abortErr != nil {
				e.logger.Warn("abort after conflict failed", zap.Uint64("xid", e.xid), zap.Error(abortErr))
			}
			e.xid, e.inTxn = 0, false
		}
		return res, err
	}

	xid, err := e.store.Begin(mvcc.ReadCommitted)
	if err != nil {
		return nil, err
	}
	res, err := fn(xid)
	if err != nil {
		return nil, errors.Join(err, e.store.Abort(xid))
	}
	if err := e.store.Commit(xid); err != nil {
		return nil, err
	}
	return res, nil
}

// Close aborts the open transaction, if any.
func (e *Executor) Close() error {
	if !e.inTxn {
		return nil
	}
	xid := e.xid
	e.xid, e.inTxn = 0, false
	return e.store.Abort(xid)
}

func parseUID(s string) (uint64, error) {
	uid, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad uid %q", ErrInvalidStatement, s)
	}
	return uid, nil
}
