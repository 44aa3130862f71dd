package bufferpool

import (
	"errors"
	"fmt"

	"github.com/sushant-115/gojostore/core/common"
	flushmanager "github.com/sushant-115/gojostore/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojostore/core/write_engine/page_manager"
	internaltelemetry "github.com/sushant-115/gojostore/internal/telemetry"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	// DBSuffix is appended to the store path to name the page file.
	DBSuffix = ".db"
	// MemMinLimit is the smallest number of pages the cache may hold.
	MemMinLimit = 10
)

// PageCache hands out reference-counted pages of the page file. Dirty
// pages are written back when their last reference is released.
type PageCache struct {
	cache       *common.Cache[*pagemanager.Page]
	diskManager *flushmanager.DiskManager
	pageNumbers atomic.Uint32
	logger      *zap.Logger
}

func capacityFor(memory int64) (int, error) {
	capacity := memory / pagemanager.PageSize
	if capacity < MemMinLimit {
		return 0, fmt.Errorf("%d bytes hold %d pages, need %d: %w", memory, capacity, MemMinLimit, common.ErrMemTooSmall)
	}
	return int(capacity), nil
}

// Create creates path+".db" and a cache of memory bytes over it.
func Create(path string, memory int64, logger *zap.Logger, metrics *internaltelemetry.StorageMetrics) (*PageCache, error) {
	capacity, err := capacityFor(memory)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dm, err := flushmanager.CreateDiskManager(path+DBSuffix, pagemanager.PageSize, logger)
	if err != nil {
		return nil, err
	}
	return newPageCache(dm, capacity, 0, logger, metrics), nil
}

// Open opens path+".db" and a cache of memory bytes over it.
func Open(path string, memory int64, logger *zap.Logger, metrics *internaltelemetry.StorageMetrics) (*PageCache, error) {
	capacity, err := capacityFor(memory)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dm, err := flushmanager.OpenDiskManager(path+DBSuffix, pagemanager.PageSize, logger)
	if err != nil {
		return nil, err
	}
	numPages, err := dm.NumPages()
	if err != nil {
		return nil, errors.Join(err, dm.Close())
	}
	return newPageCache(dm, capacity, numPages, logger, metrics), nil
}

func newPageCache(dm *flushmanager.DiskManager, capacity int, numPages uint32, logger *zap.Logger, metrics *internaltelemetry.StorageMetrics) *PageCache {
	pc := &PageCache{
		diskManager: dm,
		logger:      logger.Named("page_cache"),
	}
	pc.pageNumbers.Store(numPages)
	pc.cache = common.NewCache[*pagemanager.Page]("page", capacity, pc.fetchPage, pc.writeBack,
		common.WithCacheLogger(logger), common.WithCacheMetrics(metrics))
	pc.logger.Info("page cache initialized", zap.Int("capacity", capacity), zap.Uint32("pages", numPages))
	return pc
}

func (pc *PageCache) fetchPage(key uint64) (*pagemanager.Page, error) {
	pgno := uint32(key)
	data := make([]byte, pagemanager.PageSize)
	if err := pc.diskManager.ReadPage(pgno, data); err != nil {
		return nil, err
	}
	return pagemanager.NewPage(pgno, data, pc), nil
}

func (pc *PageCache) writeBack(page *pagemanager.Page) error {
	if !page.IsDirty() {
		return nil
	}
	if err := pc.FlushPage(page); err != nil {
		return err
	}
	page.SetDirty(false)
	return nil
}

// NewPage allocates the next page number and writes initData there
// immediately. The page is not cached.
func (pc *PageCache) NewPage(initData []byte) (uint32, error) {
	pgno := pc.pageNumbers.Inc()
	page := pagemanager.NewPage(pgno, initData, nil)
	if err := pc.FlushPage(page); err != nil {
		return 0, err
	}
	pc.logger.Debug("page allocated", zap.Uint32("pgno", pgno))
	return pgno, nil
}

// GetPage returns page pgno with a reference taken on it.
func (pc *PageCache) GetPage(pgno uint32) (*pagemanager.Page, error) {
	return pc.cache.Get(uint64(pgno))
}

// Release drops a reference taken by GetPage.
func (pc *PageCache) Release(page *pagemanager.Page) error {
	return pc.cache.Release(uint64(page.GetPageNumber()))
}

// FlushPage writes the page to disk whether or not it is dirty.
func (pc *PageCache) FlushPage(page *pagemanager.Page) error {
	page.Lock()
	defer page.Unlock()
	return pc.diskManager.WritePage(page.GetPageNumber(), page.GetData())
}

// TruncateByPgno shrinks the page file to maxPgno pages.
func (pc *PageCache) TruncateByPgno(maxPgno uint32) error {
	if err := pc.diskManager.Truncate(maxPgno); err != nil {
		return err
	}
	pc.pageNumbers.Store(maxPgno)
	return nil
}

// PageNumber returns the number of pages in the file.
func (pc *PageCache) PageNumber() uint32 {
	return pc.pageNumbers.Load()
}

// Close writes back every cached page and closes the page file.
func (pc *PageCache) Close() error {
	return errors.Join(pc.cache.Close(), pc.diskManager.Close())
}
