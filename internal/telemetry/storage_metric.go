package internaltelemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// StorageMetrics holds the metric instruments of the storage core.
// A nil *StorageMetrics is valid and records nothing.
type StorageMetrics struct {
	CacheHitCounter      metric.Int64Counter
	CacheMissCounter     metric.Int64Counter
	CacheEvictCounter    metric.Int64Counter
	WalAppendCounter     metric.Int64Counter
	WalBytesCounter      metric.Int64Counter
	TxnBeginCounter      metric.Int64Counter
	TxnCommitCounter     metric.Int64Counter
	TxnAbortCounter      metric.Int64Counter
	TxnConflictCounter   metric.Int64Counter
	RecoveryRunCounter   metric.Int64Counter
	RecoveryRecordsCount metric.Int64Counter
}

// NewStorageMetrics creates and registers all the metrics for the storage core.
func NewStorageMetrics(meter metric.Meter) (*StorageMetrics, error) {
	m := &StorageMetrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.CacheHitCounter, "gojostore.cache.hits_total", "Cache lookups served from memory.", "1"},
		{&m.CacheMissCounter, "gojostore.cache.misses_total", "Cache lookups that loaded the resource.", "1"},
		{&m.CacheEvictCounter, "gojostore.cache.evictions_total", "Resources written back and dropped from a cache.", "1"},
		{&m.WalAppendCounter, "gojostore.wal.appends_total", "Records appended to the write-ahead log.", "1"},
		{&m.WalBytesCounter, "gojostore.wal.bytes_total", "Bytes appended to the write-ahead log.", "By"},
		{&m.TxnBeginCounter, "gojostore.txn.begun_total", "Transactions started.", "1"},
		{&m.TxnCommitCounter, "gojostore.txn.committed_total", "Transactions committed.", "1"},
		{&m.TxnAbortCounter, "gojostore.txn.aborted_total", "Transactions aborted.", "1"},
		{&m.TxnConflictCounter, "gojostore.txn.conflicts_total", "Write conflicts that auto-aborted a transaction.", "1"},
		{&m.RecoveryRunCounter, "gojostore.recovery.runs_total", "Crash recoveries performed on open.", "1"},
		{&m.RecoveryRecordsCount, "gojostore.recovery.records_total", "Log records replayed by recovery.", "1"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}
	return m, nil
}

func (m *StorageMetrics) CacheHit(cache string) {
	if m == nil {
		return
	}
	m.CacheHitCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("cache", cache)))
}

func (m *StorageMetrics) CacheMiss(cache string) {
	if m == nil {
		return
	}
	m.CacheMissCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("cache", cache)))
}

func (m *StorageMetrics) CacheEvict(cache string) {
	if m == nil {
		return
	}
	m.CacheEvictCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("cache", cache)))
}

func (m *StorageMetrics) WalAppend(size int) {
	if m == nil {
		return
	}
	m.WalAppendCounter.Add(context.Background(), 1)
	m.WalBytesCounter.Add(context.Background(), int64(size))
}

func (m *StorageMetrics) TxnBegin(level string) {
	if m == nil {
		return
	}
	m.TxnBeginCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("level", level)))
}

func (m *StorageMetrics) TxnCommit() {
	if m == nil {
		return
	}
	m.TxnCommitCounter.Add(context.Background(), 1)
}

// TxnAbort records an abort; auto is true when the engine aborted the
// transaction itself after a conflict.
func (m *StorageMetrics) TxnAbort(auto bool) {
	if m == nil {
		return
	}
	m.TxnAbortCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.Bool("auto", auto)))
}

func (m *StorageMetrics) TxnConflict(reason string) {
	if m == nil {
		return
	}
	m.TxnConflictCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *StorageMetrics) Recovered(records int) {
	if m == nil {
		return
	}
	m.RecoveryRunCounter.Add(context.Background(), 1)
	m.RecoveryRecordsCount.Add(context.Background(), int64(records))
}
