package pagemanager

import (
	"encoding/binary"
	"fmt"

	"github.com/sushant-115/gojostore/core/common"
)

// Record layout inside an ordinary page: [valid:1][size:2][payload].
const (
	ItemValidOffset = 0
	ItemSizeOffset  = 1
	ItemDataOffset  = 3

	ItemValid   byte = 0
	ItemInvalid byte = 1
)

// WrapItemRaw builds the raw, valid record for payload.
func WrapItemRaw(payload []byte) []byte {
	raw := make([]byte, ItemDataOffset+len(payload))
	raw[ItemValidOffset] = ItemValid
	binary.LittleEndian.PutUint16(raw[ItemSizeOffset:], uint16(len(payload)))
	copy(raw[ItemDataOffset:], payload)
	return raw
}

// SetItemRawInvalid flips the valid flag of raw to invalid.
func SetItemRawInvalid(raw []byte) {
	raw[ItemValidOffset] = ItemInvalid
}

// ItemRawAt returns the record stored at offset, aliasing the page buffer.
func ItemRawAt(data []byte, offset uint16) ([]byte, error) {
	start := int(offset)
	if start+ItemDataOffset > len(data) {
		return nil, fmt.Errorf("record header at %d: %w", offset, common.ErrCorruptDataItem)
	}
	size := int(binary.LittleEndian.Uint16(data[start+ItemSizeOffset:]))
	end := start + ItemDataOffset + size
	if end > len(data) {
		return nil, fmt.Errorf("record at %d with size %d: %w", offset, size, common.ErrCorruptDataItem)
	}
	return data[start:end:end], nil
}
