package common

// AddressToUID packs a page number and an in-page offset into a record UID.
func AddressToUID(pgno uint32, offset uint16) uint64 {
	return uint64(pgno)<<32 | uint64(offset)
}

// UIDToAddress is the inverse of AddressToUID.
func UIDToAddress(uid uint64) (uint32, uint16) {
	return uint32(uid >> 32), uint16(uid & 0xffff)
}
