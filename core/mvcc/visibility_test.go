package mvcc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeStatus map[uint64]bool

func (f fakeStatus) IsCommitted(xid uint64) bool {
	return xid == 0 || f[xid]
}

func snapshotTxn(xid uint64, level IsolationLevel, active ...uint64) *Transaction {
	m := make(map[uint64]*Transaction)
	for _, x := range active {
		m[x] = nil
	}
	return newTransaction(xid, level, m)
}

func TestReadCommittedVisibility(t *testing.T) {
	tm := fakeStatus{1: true, 2: true}
	txn := snapshotTxn(5, ReadCommitted)

	cases := []struct {
		name       string
		xmin, xmax uint64
		want       bool
	}{
		{"own insert", 5, 0, true},
		{"own insert deleted by self", 5, 5, false},
		{"committed insert", 1, 0, true},
		{"super insert", 0, 0, true},
		{"uncommitted insert", 4, 0, false},
		{"deleted by committed", 1, 2, false},
		{"deleted by uncommitted other", 1, 4, true},
		{"deleted by self", 1, 5, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, isVisible(tm, txn, c.xmin, c.xmax))
		})
	}
}

func TestRepeatableReadVisibility(t *testing.T) {
	// 3 was active when 5 began and has committed since; 7 began later.
	tm := fakeStatus{1: true, 3: true, 7: true}
	txn := snapshotTxn(5, RepeatableRead, 0, 3)

	cases := []struct {
		name       string
		xmin, xmax uint64
		want       bool
	}{
		{"own insert", 5, 0, true},
		{"committed before start", 1, 0, true},
		{"super insert", 0, 0, true},
		{"committed but in snapshot", 3, 0, false},
		{"committed by later txn", 7, 0, false},
		{"uncommitted", 4, 0, false},
		{"deleted by txn in snapshot", 1, 3, true},
		{"deleted by later txn", 1, 7, true},
		{"deleted by uncommitted", 1, 4, true},
		{"deleted by self", 1, 5, false},
		{"deleted by committed before start", 1, 1, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, isVisible(tm, txn, c.xmin, c.xmax))
		})
	}
}

func TestVersionSkip(t *testing.T) {
	tm := fakeStatus{1: true, 3: true, 7: true}

	rc := snapshotTxn(5, ReadCommitted)
	require.False(t, isVersionSkip(tm, rc, 7))

	rr := snapshotTxn(5, RepeatableRead, 3)
	require.True(t, isVersionSkip(tm, rr, 7), "deleted by a transaction that started later")
	require.True(t, isVersionSkip(tm, rr, 3), "deleted by a transaction active at start")
	require.False(t, isVersionSkip(tm, rr, 1))
	require.False(t, isVersionSkip(tm, rr, 4), "deleter has not committed")
}

func TestParseIsolationLevel(t *testing.T) {
	for in, want := range map[string]IsolationLevel{
		"":                ReadCommitted,
		"rc":              ReadCommitted,
		"Read  Committed": ReadCommitted,
		"rr":              RepeatableRead,
		"repeatable read": RepeatableRead,
	} {
		got, err := ParseIsolationLevel(in)
		require.NoError(t, err)
		require.Equal(t, want, got, in)
	}
	_, err := ParseIsolationLevel("serializable")
	require.Error(t, err)
}
