package mvcc

import (
	"sync"

	"github.com/sushant-115/gojostore/core/common"
)

// Waiter is handed to a transaction that has to wait for a write intent.
type Waiter struct {
	ch      chan struct{}
	granted bool
}

// Wait blocks until the intent is granted or the waiting transaction is
// removed from the table. It reports whether the intent was granted.
func (w *Waiter) Wait() bool {
	<-w.ch
	return w.granted
}

// LockTable tracks which transaction holds the write intent on each
// record and which transactions wait for it. A request that would close a
// cycle in the wait-for graph is rejected instead of queued.
type LockTable struct {
	mu       sync.Mutex
	x2u      map[uint64][]uint64 // uids held by a transaction
	u2x      map[uint64]uint64   // holder of a uid
	wait     map[uint64][]uint64 // transactions queued on a uid, oldest first
	waitLock map[uint64]*Waiter  // waiter of a blocked transaction
	waitU    map[uint64]uint64   // uid a blocked transaction waits for

	xidStamp map[uint64]int
	stamp    int
}

func NewLockTable() *LockTable {
	return &LockTable{
		x2u:      make(map[uint64][]uint64),
		u2x:      make(map[uint64]uint64),
		wait:     make(map[uint64][]uint64),
		waitLock: make(map[uint64]*Waiter),
		waitU:    make(map[uint64]uint64),
	}
}

// Add requests the write intent on uid for xid. A nil Waiter means the
// intent is held on return. ErrDeadlock means waiting would deadlock and
// nothing was queued.
func (lt *LockTable) Add(xid, uid uint64) (*Waiter, error) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if contains(lt.x2u[xid], uid) {
		return nil, nil
	}
	if _, held := lt.u2x[uid]; !held {
		lt.u2x[uid] = xid
		lt.x2u[xid] = append(lt.x2u[xid], uid)
		return nil, nil
	}

	lt.waitU[xid] = uid
	lt.wait[uid] = append(lt.wait[uid], xid)
	if lt.hasDeadlock() {
		delete(lt.waitU, xid)
		lt.dequeue(uid, xid)
		return nil, common.ErrDeadlock
	}
	w := &Waiter{ch: make(chan struct{})}
	lt.waitLock[xid] = w
	return w, nil
}

// Remove releases every intent xid holds, handing each to its oldest
// waiter, and drops xid from any wait queue.
func (lt *LockTable) Remove(xid uint64) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	for _, uid := range lt.x2u[xid] {
		lt.selectNewXID(uid)
	}
	if uid, waiting := lt.waitU[xid]; waiting {
		lt.dequeue(uid, xid)
		delete(lt.waitU, xid)
	}
	if w, ok := lt.waitLock[xid]; ok {
		close(w.ch)
		delete(lt.waitLock, xid)
	}
	delete(lt.x2u, xid)
}

// selectNewXID passes uid to the first queued transaction still waiting.
func (lt *LockTable) selectNewXID(uid uint64) {
	delete(lt.u2x, uid)
	queue := lt.wait[uid]
	for len(queue) > 0 {
		xid := queue[0]
		queue = queue[1:]
		w, ok := lt.waitLock[xid]
		if !ok {
			continue
		}
		lt.u2x[uid] = xid
		lt.x2u[xid] = append(lt.x2u[xid], uid)
		delete(lt.waitLock, xid)
		delete(lt.waitU, xid)
		w.granted = true
		close(w.ch)
		break
	}
	if len(queue) == 0 {
		delete(lt.wait, uid)
	} else {
		lt.wait[uid] = queue
	}
}

func (lt *LockTable) dequeue(uid, xid uint64) {
	queue := lt.wait[uid]
	for i, x := range queue {
		if x == xid {
			queue = append(queue[:i:i], queue[i+1:]...)
			break
		}
	}
	if len(queue) == 0 {
		delete(lt.wait, uid)
	} else {
		lt.wait[uid] = queue
	}
}

func (lt *LockTable) hasDeadlock() bool {
	lt.xidStamp = make(map[uint64]int)
	lt.stamp = 1
	for xid := range lt.x2u {
		if lt.xidStamp[xid] > 0 {
			continue
		}
		lt.stamp++
		if lt.dfs(xid) {
			return true
		}
	}
	return false
}

// dfs follows the wait-for chain from xid. Reaching a transaction stamped
// in the current walk means the chain loops.
func (lt *LockTable) dfs(xid uint64) bool {
	if stp, seen := lt.xidStamp[xid]; seen {
		return stp == lt.stamp
	}
	lt.xidStamp[xid] = lt.stamp
	uid, waiting := lt.waitU[xid]
	if !waiting {
		return false
	}
	holder, held := lt.u2x[uid]
	if !held {
		return false
	}
	return lt.dfs(holder)
}

func contains(uids []uint64, uid uint64) bool {
	for _, u := range uids {
		if u == uid {
			return true
		}
	}
	return false
}
