package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUIDAddressRoundTrip(t *testing.T) {
	uid := AddressToUID(5, 4100)
	require.Equal(t, uint64(5)<<32|4100, uid)

	pgno, offset := UIDToAddress(uid)
	require.Equal(t, uint32(5), pgno)
	require.Equal(t, uint16(4100), offset)
}
