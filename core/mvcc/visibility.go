package mvcc

// StatusReader answers whether a transaction has committed.
type StatusReader interface {
	IsCommitted(xid uint64) bool
}

// IsVisible reports whether t may see the version e.
func IsVisible(tm StatusReader, t *Transaction, e *Entry) bool {
	return isVisible(tm, t, e.XMin(), e.XMax())
}

// IsVersionSkip reports whether deleting e would overwrite a deletion t
// could not have observed. Only repeatable read can skip versions.
func IsVersionSkip(tm StatusReader, t *Transaction, e *Entry) bool {
	return isVersionSkip(tm, t, e.XMax())
}

func isVisible(tm StatusReader, t *Transaction, xmin, xmax uint64) bool {
	if t.Level == ReadCommitted {
		return readCommitted(tm, t, xmin, xmax)
	}
	return repeatableRead(tm, t, xmin, xmax)
}

func isVersionSkip(tm StatusReader, t *Transaction, xmax uint64) bool {
	if t.Level == ReadCommitted {
		return false
	}
	return tm.IsCommitted(xmax) && (xmax > t.XID || t.InSnapshot(xmax))
}

func readCommitted(tm StatusReader, t *Transaction, xmin, xmax uint64) bool {
	xid := t.XID
	if xmin == xid && xmax == 0 {
		return true
	}
	if tm.IsCommitted(xmin) {
		if xmax == 0 {
			return true
		}
		if xmax != xid && !tm.IsCommitted(xmax) {
			return true
		}
	}
	return false
}

func repeatableRead(tm StatusReader, t *Transaction, xmin, xmax uint64) bool {
	xid := t.XID
	if xmin == xid && xmax == 0 {
		return true
	}
	if tm.IsCommitted(xmin) && xmin < xid && !t.InSnapshot(xmin) {
		if xmax == 0 {
			return true
		}
		if xmax != xid {
			if !tm.IsCommitted(xmax) || xmax > xid || t.InSnapshot(xmax) {
				return true
			}
		}
	}
	return false
}
