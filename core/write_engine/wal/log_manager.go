package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sushant-115/gojostore/core/common"
	flushmanager "github.com/sushant-115/gojostore/core/write_engine/flush_manager"
	internaltelemetry "github.com/sushant-115/gojostore/internal/telemetry"
	"go.uber.org/zap"
)

// Log file layout:
//
//	[XChecksum:4][Record]*[BadTail]
//	Record: [Size:4][Checksum:4][Data]
//
// XChecksum folds every valid record in full. The BadTail is whatever a
// crash left half written; it is cut off when the log is opened.
const (
	LogSuffix = ".log"

	seed = 13331

	xChecksumSize  = 4
	recSizeOffset  = 0
	recCheckOffset = recSizeOffset + 4
	recDataOffset  = recCheckOffset + 4
)

// LogManager manages the write-ahead log file.
type LogManager struct {
	file      *os.File
	mu        sync.Mutex
	position  int64 // read cursor used by Next
	fileSize  int64
	xChecksum uint32

	logger  *zap.Logger
	metrics *internaltelemetry.StorageMetrics
}

func calChecksum(xCheck uint32, data []byte) uint32 {
	for _, b := range data {
		xCheck = xCheck*seed + uint32(b)
	}
	return xCheck
}

// CreateLogManager creates path+".log" holding an empty log.
func CreateLogManager(path string, logger *zap.Logger, metrics *internaltelemetry.StorageMetrics) (*LogManager, error) {
	file, err := flushmanager.CreateFile(path + LogSuffix)
	if err != nil {
		return nil, err
	}
	if _, err := file.WriteAt(make([]byte, xChecksumSize), 0); err != nil {
		return nil, errors.Join(fmt.Errorf("%w: writing log header: %v", common.ErrFileCannotRW, err), file.Close())
	}
	if err := file.Sync(); err != nil {
		return nil, errors.Join(fmt.Errorf("%w: syncing log header: %v", common.ErrFileCannotRW, err), file.Close())
	}
	return newLogManager(file, xChecksumSize, 0, logger, metrics), nil
}

// OpenLogManager opens path+".log", verifies it and removes a bad tail.
func OpenLogManager(path string, logger *zap.Logger, metrics *internaltelemetry.StorageMetrics) (*LogManager, error) {
	file, err := flushmanager.OpenFile(path + LogSuffix)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("%w: stat log: %v", common.ErrFileCannotRW, err), file.Close())
	}
	if info.Size() < xChecksumSize {
		return nil, errors.Join(fmt.Errorf("%w: file shorter than its header", common.ErrBadLogFile), file.Close())
	}
	header := make([]byte, xChecksumSize)
	if _, err := file.ReadAt(header, 0); err != nil {
		return nil, errors.Join(fmt.Errorf("%w: reading log header: %v", common.ErrFileCannotRW, err), file.Close())
	}
	lm := newLogManager(file, info.Size(), binary.LittleEndian.Uint32(header), logger, metrics)
	if err := lm.checkAndRemoveTail(); err != nil {
		return nil, errors.Join(err, file.Close())
	}
	return lm, nil
}

func newLogManager(file *os.File, fileSize int64, xChecksum uint32, logger *zap.Logger, metrics *internaltelemetry.StorageMetrics) *LogManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogManager{
		file:      file,
		position:  xChecksumSize,
		fileSize:  fileSize,
		xChecksum: xChecksum,
		logger:    logger.Named("wal"),
		metrics:   metrics,
	}
}

// checkAndRemoveTail replays every record, checks the rolling checksum and
// truncates whatever follows the last valid record.
//
// If the stored checksum matches the fold up to the record before the last
// one, the crash hit between appending the last record and updating the
// header. That record is treated as part of the bad tail.
func (lm *LogManager) checkAndRemoveTail() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.position = xChecksumSize
	var xCheck, prevCheck uint32
	var lastStart int64 = xChecksumSize
	records := 0
	for {
		start := lm.position
		record, err := lm.internNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		prevCheck = xCheck
		xCheck = calChecksum(xCheck, record)
		lastStart = start
		records++
	}

	validEnd := lm.position
	if xCheck != lm.xChecksum {
		if records == 0 || prevCheck != lm.xChecksum {
			return fmt.Errorf("%w: checksum %d, expected %d", common.ErrBadLogFile, xCheck, lm.xChecksum)
		}
		lm.logger.Warn("dropping log record appended without header update", zap.Int64("offset", lastStart))
		validEnd = lastStart
		records--
	}

	if validEnd < lm.fileSize {
		lm.logger.Warn("truncating bad log tail", zap.Int64("offset", validEnd), zap.Int64("bytes", lm.fileSize-validEnd))
		if err := lm.truncate(validEnd); err != nil {
			return err
		}
	}
	lm.position = xChecksumSize
	lm.logger.Info("log opened", zap.Int("records", records))
	return nil
}

// internNext reads the record at the cursor. A truncated or corrupt record
// ends the log and is reported as io.EOF. Must be called with lm.mu held.
func (lm *LogManager) internNext() ([]byte, error) {
	if lm.position+recDataOffset > lm.fileSize {
		return nil, io.EOF
	}
	sizeBuf := make([]byte, 4)
	if _, err := lm.file.ReadAt(sizeBuf, lm.position); err != nil {
		return nil, fmt.Errorf("%w: reading log record size: %v", common.ErrFileCannotRW, err)
	}
	size := int64(binary.LittleEndian.Uint32(sizeBuf))
	if lm.position+recDataOffset+size > lm.fileSize {
		return nil, io.EOF
	}
	record := make([]byte, recDataOffset+size)
	if _, err := lm.file.ReadAt(record, lm.position); err != nil {
		return nil, fmt.Errorf("%w: reading log record: %v", common.ErrFileCannotRW, err)
	}
	checksum := binary.LittleEndian.Uint32(record[recCheckOffset:])
	if checksum != calChecksum(0, record[recDataOffset:]) {
		return nil, io.EOF
	}
	lm.position += int64(len(record))
	return record, nil
}

func wrapRecord(data []byte) []byte {
	record := make([]byte, recDataOffset+len(data))
	binary.LittleEndian.PutUint32(record[recSizeOffset:], uint32(len(data)))
	binary.LittleEndian.PutUint32(record[recCheckOffset:], calChecksum(0, data))
	copy(record[recDataOffset:], data)
	return record
}

// Log appends data as a new record and makes it durable.
func (lm *LogManager) Log(data []byte) error {
	record := wrapRecord(data)

	lm.mu.Lock()
	defer lm.mu.Unlock()
	if _, err := lm.file.WriteAt(record, lm.fileSize); err != nil {
		return fmt.Errorf("%w: appending log record: %v", common.ErrFileCannotRW, err)
	}
	lm.fileSize += int64(len(record))

	xChecksum := calChecksum(lm.xChecksum, record)
	header := make([]byte, xChecksumSize)
	binary.LittleEndian.PutUint32(header, xChecksum)
	if _, err := lm.file.WriteAt(header, 0); err != nil {
		return fmt.Errorf("%w: updating log checksum: %v", common.ErrFileCannotRW, err)
	}
	if err := lm.file.Sync(); err != nil {
		return fmt.Errorf("%w: syncing log: %v", common.ErrFileCannotRW, err)
	}
	lm.xChecksum = xChecksum
	lm.metrics.WalAppend(len(record))
	return nil
}

// Next returns the payload of the next record, or io.EOF after the last.
func (lm *LogManager) Next() ([]byte, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	record, err := lm.internNext()
	if err != nil {
		return nil, err
	}
	return record[recDataOffset:], nil
}

// Rewind moves the read cursor back to the first record.
func (lm *LogManager) Rewind() {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.position = xChecksumSize
}

// Truncate cuts the log file at offset.
func (lm *LogManager) Truncate(offset int64) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.truncate(offset)
}

func (lm *LogManager) truncate(offset int64) error {
	if err := lm.file.Truncate(offset); err != nil {
		return fmt.Errorf("%w: truncating log at %d: %v", common.ErrFileCannotRW, offset, err)
	}
	lm.fileSize = offset
	if lm.position > offset {
		lm.position = offset
	}
	return nil
}

// Close closes the log file.
func (lm *LogManager) Close() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.file == nil {
		return nil
	}
	err := lm.file.Close()
	lm.file = nil
	return err
}
