package common

import "errors"

// --- Error Definitions ---

var (
	// Resource exhaustion.
	ErrCacheFull    = errors.New("cache is full")
	ErrDatabaseBusy = errors.New("database is busy")
	ErrDataTooLarge = errors.New("data too large")
	ErrMemTooSmall  = errors.New("memory too small")

	// Conflict. The caller should abort the transaction and retry.
	ErrConcurrentUpdate = errors.New("concurrent update issue")
	ErrDeadlock         = errors.New("deadlock")

	ErrNotCached            = errors.New("resource is not cached")
	ErrNullEntry            = errors.New("null entry")
	ErrTransactionNotActive = errors.New("transaction is not active")

	// Fatal: the files on disk can not be trusted or opened.
	ErrBadLogFile       = errors.New("bad log file")
	ErrBadXIDFile       = errors.New("bad xid file")
	ErrDBFileExists     = errors.New("database file already exists")
	ErrDBFileNotFound   = errors.New("database file not found")
	ErrFileCannotRW     = errors.New("file cannot be read or written")
	ErrCorruptDataItem  = errors.New("corrupt data item")
	ErrInvalidPageData  = errors.New("invalid page data")
	ErrInvalidLogRecord = errors.New("invalid log record")
)
