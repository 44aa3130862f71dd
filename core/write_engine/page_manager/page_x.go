package pagemanager

import (
	"encoding/binary"
	"fmt"

	"github.com/sushant-115/gojostore/core/common"
)

// An ordinary page starts with a 2-byte free space offset (FSO) followed
// by the records packed one after another.
const (
	fsoOffset  = 0
	fsoLength  = 2
	dataOffset = fsoOffset + fsoLength

	// RecordsOffset is where the first record of an ordinary page starts.
	RecordsOffset = dataOffset
	// MaxFreeSpace is the usable space of an empty ordinary page.
	MaxFreeSpace = PageSize - dataOffset
)

// InitPageXRaw returns the image of an empty ordinary page.
func InitPageXRaw() []byte {
	raw := make([]byte, PageSize)
	setFSO(raw, dataOffset)
	return raw
}

func setFSO(raw []byte, fso uint16) {
	binary.LittleEndian.PutUint16(raw[fsoOffset:], fso)
}

func getFSO(raw []byte) uint16 {
	return binary.LittleEndian.Uint16(raw[fsoOffset:])
}

// GetFSO returns the offset where the next record would be written.
func GetFSO(p *Page) uint16 {
	return getFSO(p.data)
}

// FreeSpace returns the bytes still available on the page.
func FreeSpace(p *Page) int {
	return PageSize - int(getFSO(p.data))
}

// Insert appends raw at the free space offset and returns that offset.
func Insert(p *Page, raw []byte) (uint16, error) {
	p.Lock()
	defer p.Unlock()
	offset := getFSO(p.data)
	if int(offset)+len(raw) > PageSize {
		return 0, fmt.Errorf("insert %d bytes at %d on page %d: %w", len(raw), offset, p.pgno, common.ErrInvalidPageData)
	}
	p.SetDirty(true)
	copy(p.data[offset:], raw)
	setFSO(p.data, offset+uint16(len(raw)))
	return offset, nil
}

// RecoverInsert writes raw at offset and raises the FSO past it if needed.
func RecoverInsert(p *Page, raw []byte, offset uint16) error {
	p.Lock()
	defer p.Unlock()
	end := int(offset) + len(raw)
	if int(offset) < dataOffset || end > PageSize {
		return fmt.Errorf("recover insert at %d on page %d: %w", offset, p.pgno, common.ErrInvalidPageData)
	}
	p.SetDirty(true)
	copy(p.data[offset:], raw)
	if int(getFSO(p.data)) < end {
		setFSO(p.data, uint16(end))
	}
	return nil
}

// RecoverUpdate overwrites the bytes at offset without touching the FSO.
func RecoverUpdate(p *Page, raw []byte, offset uint16) error {
	p.Lock()
	defer p.Unlock()
	if int(offset) < dataOffset || int(offset)+len(raw) > PageSize {
		return fmt.Errorf("recover update at %d on page %d: %w", offset, p.pgno, common.ErrInvalidPageData)
	}
	p.SetDirty(true)
	copy(p.data[offset:], raw)
	return nil
}
