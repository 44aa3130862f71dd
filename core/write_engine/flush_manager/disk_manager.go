package flushmanager

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sushant-115/gojostore/core/common"
	"go.uber.org/zap"
)

// CreateFile creates path exclusively for read/write.
func CreateFile(path string) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", common.ErrDBFileExists, path)
		}
		return nil, fmt.Errorf("%w: creating file %s: %v", common.ErrFileCannotRW, path, err)
	}
	return file, nil
}

// OpenFile opens an existing path for read/write.
func OpenFile(path string) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0666)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", common.ErrDBFileNotFound, path)
		}
		return nil, fmt.Errorf("%w: opening file %s: %v", common.ErrFileCannotRW, path, err)
	}
	return file, nil
}

// DiskManager performs page-granular I/O on the page file. All reads and
// writes are serialized; every write is synced before it returns.
type DiskManager struct {
	filePath string
	file     *os.File
	pageSize int
	mu       sync.Mutex
	logger   *zap.Logger
}

// CreateDiskManager creates a new, empty page file.
func CreateDiskManager(filePath string, pageSize int, logger *zap.Logger) (*DiskManager, error) {
	file, err := CreateFile(filePath)
	if err != nil {
		return nil, err
	}
	return newDiskManager(filePath, file, pageSize, logger), nil
}

// OpenDiskManager opens an existing page file.
func OpenDiskManager(filePath string, pageSize int, logger *zap.Logger) (*DiskManager, error) {
	file, err := OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	return newDiskManager(filePath, file, pageSize, logger), nil
}

func newDiskManager(filePath string, file *os.File, pageSize int, logger *zap.Logger) *DiskManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiskManager{
		filePath: filePath,
		file:     file,
		pageSize: pageSize,
		logger:   logger.Named("disk_manager"),
	}
}

func (dm *DiskManager) GetPageSize() int { return dm.pageSize }

func (dm *DiskManager) pageOffset(pgno uint32) int64 {
	return int64(pgno-1) * int64(dm.pageSize)
}

// ReadPage reads page pgno into pageData.
func (dm *DiskManager) ReadPage(pgno uint32, pageData []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return fmt.Errorf("%w: file not open", common.ErrFileCannotRW)
	}
	if pgno == 0 {
		return fmt.Errorf("%w: page number 0", common.ErrInvalidPageData)
	}
	if len(pageData) != dm.pageSize {
		return fmt.Errorf("page data buffer size (%d) != disk manager page size (%d)", len(pageData), dm.pageSize)
	}
	offset := dm.pageOffset(pgno)
	n, err := dm.file.ReadAt(pageData, offset)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: short read for page %d, expected %d, got %d", common.ErrFileCannotRW, pgno, dm.pageSize, n)
		}
		return fmt.Errorf("%w: reading page %d at offset %d: %v", common.ErrFileCannotRW, pgno, offset, err)
	}
	return nil
}

// WritePage writes pageData at page pgno and syncs the file.
func (dm *DiskManager) WritePage(pgno uint32, pageData []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return fmt.Errorf("%w: file not open", common.ErrFileCannotRW)
	}
	if pgno == 0 {
		return fmt.Errorf("%w: page number 0", common.ErrInvalidPageData)
	}
	if len(pageData) != dm.pageSize {
		return fmt.Errorf("page data buffer size (%d) != disk manager page size (%d)", len(pageData), dm.pageSize)
	}
	offset := dm.pageOffset(pgno)
	if _, err := dm.file.WriteAt(pageData, offset); err != nil {
		return fmt.Errorf("%w: writing page %d at offset %d: %v", common.ErrFileCannotRW, pgno, offset, err)
	}
	if err := dm.file.Sync(); err != nil {
		return fmt.Errorf("%w: syncing page %d: %v", common.ErrFileCannotRW, pgno, err)
	}
	return nil
}

// NumPages returns the number of whole pages in the file.
func (dm *DiskManager) NumPages() (uint32, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	info, err := dm.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %v", common.ErrFileCannotRW, dm.filePath, err)
	}
	return uint32(info.Size() / int64(dm.pageSize)), nil
}

// Truncate cuts the file down to numPages pages.
func (dm *DiskManager) Truncate(numPages uint32) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	size := int64(numPages) * int64(dm.pageSize)
	if err := dm.file.Truncate(size); err != nil {
		return fmt.Errorf("%w: truncating %s to %d pages: %v", common.ErrFileCannotRW, dm.filePath, numPages, err)
	}
	dm.logger.Debug("page file truncated", zap.Uint32("pages", numPages))
	return nil
}

// Close syncs and closes the underlying file handle.
func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return nil
	}
	syncErr := dm.file.Sync()
	if syncErr != nil {
		dm.logger.Error("sync on close failed", zap.Error(syncErr))
	}
	closeErr := dm.file.Close()
	dm.file = nil
	return errors.Join(syncErr, closeErr)
}
