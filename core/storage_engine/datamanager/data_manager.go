package datamanager

import (
	"context"
	"errors"
	"fmt"

	"github.com/sushant-115/gojostore/core/common"
	"github.com/sushant-115/gojostore/core/recovery"
	"github.com/sushant-115/gojostore/core/transaction"
	bufferpool "github.com/sushant-115/gojostore/core/write_engine/buffer_pool"
	pageindex "github.com/sushant-115/gojostore/core/write_engine/page_index"
	pagemanager "github.com/sushant-115/gojostore/core/write_engine/page_manager"
	"github.com/sushant-115/gojostore/core/write_engine/wal"
	internaltelemetry "github.com/sushant-115/gojostore/internal/telemetry"
	"go.uber.org/zap"
)

const (
	pageOneNumber = 1
	// maxInsertAttempts bounds how often Insert allocates a fresh page
	// before giving up.
	maxInsertAttempts = 5
)

// DataManager maps record UIDs to page bytes. It owns the page cache, the
// write-ahead log and the free space index, and caches DataItems by UID.
type DataManager struct {
	pc      *bufferpool.PageCache
	lm      *wal.LogManager
	tm      transaction.Manager
	pIndex  *pageindex.PageIndex
	pageOne *pagemanager.Page
	cache   *common.Cache[*DataItem]

	logger  *zap.Logger
	metrics *internaltelemetry.StorageMetrics
}

// Create builds a new store at path: path.db and path.log.
func Create(path string, memory int64, tm transaction.Manager, logger *zap.Logger, metrics *internaltelemetry.StorageMetrics) (*DataManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pc, err := bufferpool.Create(path, memory, logger, metrics)
	if err != nil {
		return nil, err
	}
	lm, err := wal.CreateLogManager(path, logger, metrics)
	if err != nil {
		return nil, errors.Join(err, pc.Close())
	}
	dm := newDataManager(pc, lm, tm, logger, metrics)
	if err := dm.initPageOne(); err != nil {
		return nil, errors.Join(err, lm.Close(), pc.Close())
	}
	dm.logger.Info("data manager created", zap.String("path", path))
	return dm, nil
}

// Open opens the store at path, running recovery first if the last
// shutdown was not clean.
func Open(ctx context.Context, path string, memory int64, tm transaction.Manager, logger *zap.Logger, metrics *internaltelemetry.StorageMetrics) (*DataManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pc, err := bufferpool.Open(path, memory, logger, metrics)
	if err != nil {
		return nil, err
	}
	lm, err := wal.OpenLogManager(path, logger, metrics)
	if err != nil {
		return nil, errors.Join(err, pc.Close())
	}
	dm := newDataManager(pc, lm, tm, logger, metrics)
	if err := dm.loadCheckPageOne(ctx); err != nil {
		return nil, errors.Join(err, lm.Close(), pc.Close())
	}
	if err := dm.fillPageIndex(); err != nil {
		return nil, errors.Join(err, dm.pageOne.Release(), lm.Close(), pc.Close())
	}
	if err := pagemanager.SetVcOpen(dm.pageOne); err != nil {
		return nil, errors.Join(err, dm.pageOne.Release(), lm.Close(), pc.Close())
	}
	if err := pc.FlushPage(dm.pageOne); err != nil {
		return nil, errors.Join(err, dm.pageOne.Release(), lm.Close(), pc.Close())
	}
	dm.logger.Info("data manager opened", zap.String("path", path), zap.Uint32("pages", pc.PageNumber()))
	return dm, nil
}

func newDataManager(pc *bufferpool.PageCache, lm *wal.LogManager, tm transaction.Manager, logger *zap.Logger, metrics *internaltelemetry.StorageMetrics) *DataManager {
	dm := &DataManager{
		pc:      pc,
		lm:      lm,
		tm:      tm,
		pIndex:  pageindex.NewPageIndex(),
		logger:  logger.Named("data_manager"),
		metrics: metrics,
	}
	dm.cache = common.NewCache[*DataItem]("data_item", 0, dm.fetchDataItem, dm.evictDataItem,
		common.WithCacheLogger(logger), common.WithCacheMetrics(metrics))
	return dm
}

func (dm *DataManager) initPageOne() error {
	raw, err := pagemanager.InitPageOneRaw()
	if err != nil {
		return err
	}
	pgno, err := dm.pc.NewPage(raw)
	if err != nil {
		return err
	}
	if pgno != pageOneNumber {
		return fmt.Errorf("%w: validity page allocated as page %d", common.ErrInvalidPageData, pgno)
	}
	dm.pageOne, err = dm.pc.GetPage(pageOneNumber)
	if err != nil {
		return err
	}
	return dm.pc.FlushPage(dm.pageOne)
}

func (dm *DataManager) loadCheckPageOne(ctx context.Context) error {
	page, err := dm.pc.GetPage(pageOneNumber)
	if err != nil {
		return err
	}
	dm.pageOne = page
	if pagemanager.CheckVc(page) {
		return nil
	}
	dm.logger.Warn("unclean shutdown detected")
	stats, err := recovery.Recover(ctx, dm.tm, dm.lm, dm.pc, dm.logger)
	if err != nil {
		return errors.Join(err, page.Release())
	}
	dm.metrics.Recovered(stats.Records)
	return nil
}

func (dm *DataManager) fillPageIndex() error {
	pageNumber := dm.pc.PageNumber()
	for pgno := uint32(2); pgno <= pageNumber; pgno++ {
		page, err := dm.pc.GetPage(pgno)
		if err != nil {
			return err
		}
		dm.pIndex.Add(pgno, pagemanager.FreeSpace(page))
		if err := page.Release(); err != nil {
			return err
		}
	}
	return nil
}

func (dm *DataManager) fetchDataItem(uid uint64) (*DataItem, error) {
	pgno, offset := common.UIDToAddress(uid)
	if pgno == pageOneNumber {
		return nil, fmt.Errorf("uid %d: %w", uid, common.ErrCorruptDataItem)
	}
	page, err := dm.pc.GetPage(pgno)
	if err != nil {
		return nil, err
	}
	if fso := pagemanager.GetFSO(page); int(offset) < pagemanager.RecordsOffset || offset >= fso {
		return nil, errors.Join(
			fmt.Errorf("uid %d: offset outside the records of page %d: %w", uid, pgno, common.ErrCorruptDataItem),
			page.Release())
	}
	raw, err := pagemanager.ItemRawAt(page.GetData(), offset)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("uid %d: %w", uid, err), page.Release())
	}
	return newDataItem(raw, page, uid, dm), nil
}

func (dm *DataManager) evictDataItem(di *DataItem) error {
	return di.page.Release()
}

// Read returns the record uid, or nil if it was invalidated. A non-nil
// item must be released.
func (dm *DataManager) Read(uid uint64) (*DataItem, error) {
	di, err := dm.cache.Get(uid)
	if err != nil {
		return nil, err
	}
	if !di.IsValid() {
		return nil, di.Release()
	}
	return di, nil
}

// Insert stores data as a new record written by xid and returns its UID.
func (dm *DataManager) Insert(xid uint64, data []byte) (uid uint64, err error) {
	raw := pagemanager.WrapItemRaw(data)
	if len(raw) > pagemanager.MaxFreeSpace {
		return 0, fmt.Errorf("record of %d bytes: %w", len(data), common.ErrDataTooLarge)
	}

	info, page, err := dm.selectPage(len(raw))
	if err != nil {
		return 0, err
	}
	defer func() {
		dm.pIndex.Add(info.PageNumber, pagemanager.FreeSpace(page))
		err = errors.Join(err, page.Release())
	}()

	log := wal.InsertLog(xid, info.PageNumber, pagemanager.GetFSO(page), raw)
	if err := dm.lm.Log(log); err != nil {
		return 0, err
	}
	offset, err := pagemanager.Insert(page, raw)
	if err != nil {
		return 0, err
	}
	return common.AddressToUID(info.PageNumber, offset), nil
}

// selectPage picks a page with room for size bytes, allocating pages when
// the index has none. The page is checked against its actual free space
// before anything is logged for it.
func (dm *DataManager) selectPage(size int) (pageindex.PageInfo, *pagemanager.Page, error) {
	for i := 0; i < maxInsertAttempts; i++ {
		info, found := dm.pIndex.Select(size)
		if !found {
			pgno, err := dm.pc.NewPage(pagemanager.InitPageXRaw())
			if err != nil {
				return pageindex.PageInfo{}, nil, err
			}
			dm.pIndex.Add(pgno, pagemanager.MaxFreeSpace)
			continue
		}

		page, err := dm.pc.GetPage(info.PageNumber)
		if err != nil {
			dm.pIndex.Add(info.PageNumber, info.FreeSpace)
			return pageindex.PageInfo{}, nil, err
		}
		free := pagemanager.FreeSpace(page)
		if free >= size {
			return info, page, nil
		}
		dm.logger.Debug("indexed page has less room than recorded",
			zap.Uint32("pgno", info.PageNumber), zap.Int("indexed", info.FreeSpace), zap.Int("actual", free))
		dm.pIndex.Add(info.PageNumber, free)
		if err := page.Release(); err != nil {
			return pageindex.PageInfo{}, nil, err
		}
	}
	return pageindex.PageInfo{}, nil, common.ErrDatabaseBusy
}

func (dm *DataManager) logDataItem(xid uint64, di *DataItem) error {
	return dm.lm.Log(wal.UpdateLog(xid, di.uid, di.oldRaw, di.raw))
}

func (dm *DataManager) releaseDataItem(di *DataItem) error {
	return dm.cache.Release(di.uid)
}

// Close writes back every cached record, stamps the clean shutdown mark
// and closes the underlying files.
func (dm *DataManager) Close() error {
	cacheErr := dm.cache.Close()
	logErr := dm.lm.Close()
	pagemanager.SetVcClose(dm.pageOne)
	releaseErr := dm.pageOne.Release()
	pcErr := dm.pc.Close()
	dm.logger.Info("data manager closed")
	return errors.Join(cacheErr, logErr, releaseErr, pcErr)
}
