package pagemanager

import (
	"sync"

	"go.uber.org/atomic"
)

// PageSize is the fixed size of every page in the page file.
const PageSize = 8192

// Releaser takes back a page handed out by a page cache.
type Releaser interface {
	Release(page *Page) error
}

// Page represents an in-memory copy of a disk page. Page numbers start at 1.
type Page struct {
	pgno  uint32
	data  []byte
	dirty atomic.Bool

	// latch protects the in-memory contents of this page.
	latch sync.Mutex

	owner Releaser
}

// NewPage wraps data as the in-memory image of page pgno.
func NewPage(pgno uint32, data []byte, owner Releaser) *Page {
	return &Page{
		pgno:  pgno,
		data:  data,
		owner: owner,
	}
}

func (p *Page) GetPageNumber() uint32 { return p.pgno }
func (p *Page) GetData() []byte       { return p.data }
func (p *Page) IsDirty() bool         { return p.dirty.Load() }
func (p *Page) SetDirty(dirty bool)   { p.dirty.Store(dirty) }

// Lock acquires the page latch.
func (p *Page) Lock() { p.latch.Lock() }

// Unlock releases the page latch.
func (p *Page) Unlock() { p.latch.Unlock() }

// Release hands the page back to the cache it came from.
func (p *Page) Release() error {
	if p.owner == nil {
		return nil
	}
	return p.owner.Release(p)
}
