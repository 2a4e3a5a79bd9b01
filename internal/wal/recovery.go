package wal

import (
	"github.com/go-kit/log/level"

	"walcore/internal/common"
)

// Recovery replays the log after a crash, on a freshly opened log file and
// a cold buffer pool. It runs a single forward scan (analysis), then redoes
// every UPDATE in the resulting final set unconditionally — bringing the
// buffer pool to the exact state it held at the moment of the crash,
// including the effects of transactions that had not yet committed — and
// finally undoes aborted and still-live transactions by the ordinary
// rollback algorithm. Without the unconditional redo, an UPDATE that was
// never flushed before the crash would simply be gone: the buffer pool was
// discarded and the backing page file never received those bytes, so a
// committed transaction's own update could otherwise fail to reappear.
func (w *WAL) Recovery() error {
	w.mu.Lock()

	size, err := w.file.Size()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.currentOffset = size
	w.txnFirstOrdinal = make(map[common.TxnID]uint64)
	w.kindCounts = make(map[common.RecordKind]uint64)
	w.fuzzyPending = nil

	var (
		sinceCheckpoint []updateRecord
		pendingFuzzy    []updateRecord
		abortedTxns     = make(map[common.TxnID]bool)
	)

	for offset := int64(0); offset < w.currentOffset; {
		rec, derr := w.decodeAt(offset)
		if derr != nil {
			break
		}

		switch rec.kind {
		case common.KindCheckpoint:
			sinceCheckpoint = nil
			pendingFuzzy = nil

		case common.KindBeginFuzzyCheckpoint:
			pendingFuzzy = append(pendingFuzzy, sinceCheckpoint...)
			sinceCheckpoint = nil

		case common.KindEndFuzzyCheckpoint:
			pendingFuzzy = nil

		case common.KindBegin:
			w.txnFirstOrdinal[rec.txnID] = w.totalRecordsLocked()

		case common.KindCommit:
			delete(w.txnFirstOrdinal, rec.txnID)

		case common.KindAbort:
			abortedTxns[rec.txnID] = true

		case common.KindUpdate:
			sinceCheckpoint = append(sinceCheckpoint, rec.update)
		}

		w.kindCounts[rec.kind]++
		offset += rec.size
	}

	finalSet := sinceCheckpoint
	if len(pendingFuzzy) > 0 {
		finalSet = append(append([]updateRecord(nil), pendingFuzzy...), sinceCheckpoint...)
	}

	w.mu.Unlock()

	level.Debug(w.logger).Log("msg", "recovery analysis complete", "aborted", len(abortedTxns), "pending_redo", len(finalSet))

	if err := w.redoAfterImages(finalSet); err != nil {
		return err
	}

	for t := range abortedTxns {
		if err := w.Rollback(t); err != nil {
			return err
		}
		w.mu.Lock()
		delete(w.txnFirstOrdinal, t)
		w.mu.Unlock()
	}

	w.mu.Lock()
	stillLive := make([]common.TxnID, 0, len(w.txnFirstOrdinal))
	for t := range w.txnFirstOrdinal {
		if !abortedTxns[t] {
			stillLive = append(stillLive, t)
		}
	}
	w.mu.Unlock()

	for _, t := range stillLive {
		if err := w.Rollback(t); err != nil {
			return err
		}
		w.mu.Lock()
		delete(w.txnFirstOrdinal, t)
		w.mu.Unlock()
	}

	w.metrics.recoveries.Inc()
	return nil
}

// redoAfterImages re-applies the after-image of every UPDATE in finalSet,
// in log order, regardless of whether its transaction later committed,
// aborted, or never reached either. This puts the buffer pool back into
// the exact state it held at crash time; the subsequent undo sweeps then
// peel back whatever shouldn't have survived.
func (w *WAL) redoAfterImages(finalSet []updateRecord) error {
	for _, u := range finalSet {
		if err := w.writeImage(u.pageID, u.offset, u.after); err != nil {
			return err
		}
	}
	return nil
}
