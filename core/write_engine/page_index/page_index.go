package pageindex

import (
	"sync"

	pagemanager "github.com/sushant-115/gojostore/core/write_engine/page_manager"
)

const (
	// IntervalsNo is the number of equal-width free space buckets.
	IntervalsNo = 40
	// Threshold is the width of one bucket in bytes.
	Threshold = pagemanager.PageSize / IntervalsNo
)

// PageInfo records a page and the free space it had when it was indexed.
type PageInfo struct {
	PageNumber uint32
	FreeSpace  int
}

// PageIndex buckets pages by free space so an insert can find a page with
// enough room without scanning the file. A selected page is removed from
// the index; the caller re-adds it once the insert is done.
type PageIndex struct {
	mu    sync.Mutex
	lists [IntervalsNo + 1][]PageInfo
}

func NewPageIndex() *PageIndex {
	return &PageIndex{}
}

// Add indexes pgno with freeSpace bytes available.
func (pi *PageIndex) Add(pgno uint32, freeSpace int) {
	number := freeSpace / Threshold
	if number > IntervalsNo {
		number = IntervalsNo
	}
	pi.mu.Lock()
	defer pi.mu.Unlock()
	pi.lists[number] = append(pi.lists[number], PageInfo{PageNumber: pgno, FreeSpace: freeSpace})
}

// Select removes and returns a page with at least spaceSize free bytes.
func (pi *PageIndex) Select(spaceSize int) (PageInfo, bool) {
	number := spaceSize / Threshold
	if number < IntervalsNo {
		number++
	}
	pi.mu.Lock()
	defer pi.mu.Unlock()
	for ; number <= IntervalsNo; number++ {
		list := pi.lists[number]
		// Only the overflow bucket can hold pages with less room than
		// requested; those stay indexed.
		for i, info := range list {
			if info.FreeSpace < spaceSize {
				continue
			}
			pi.lists[number] = append(list[:i:i], list[i+1:]...)
			return info, true
		}
	}
	return PageInfo{}, false
}
