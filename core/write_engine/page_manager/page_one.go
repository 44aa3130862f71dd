package pagemanager

import (
	"bytes"
	"crypto/rand"
	"fmt"
)

// Page 1 carries the validity check used to detect an unclean shutdown.
// On open a random mark is written at [100,108); on a clean close it is
// copied to [108,116). Differing marks on the next open mean the process
// did not shut down cleanly.
const (
	vcOffset = 100
	vcLength = 8
)

// InitPageOneRaw returns the initial image of page 1 with a fresh open mark.
func InitPageOneRaw() ([]byte, error) {
	raw := make([]byte, PageSize)
	if err := setVcOpen(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// SetVcOpen stamps a new open mark on page 1.
func SetVcOpen(p *Page) error {
	p.Lock()
	defer p.Unlock()
	p.SetDirty(true)
	return setVcOpen(p.data)
}

func setVcOpen(raw []byte) error {
	if _, err := rand.Read(raw[vcOffset : vcOffset+vcLength]); err != nil {
		return fmt.Errorf("generate validity mark: %w", err)
	}
	return nil
}

// SetVcClose copies the open mark into the close slot.
func SetVcClose(p *Page) {
	p.Lock()
	defer p.Unlock()
	p.SetDirty(true)
	copy(p.data[vcOffset+vcLength:vcOffset+2*vcLength], p.data[vcOffset:vcOffset+vcLength])
}

// CheckVc reports whether the last shutdown was clean.
func CheckVc(p *Page) bool {
	p.Lock()
	defer p.Unlock()
	return bytes.Equal(p.data[vcOffset:vcOffset+vcLength], p.data[vcOffset+vcLength:vcOffset+2*vcLength])
}
