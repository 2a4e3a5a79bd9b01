package wal

import (
	"github.com/go-kit/log/level"

	"walcore/internal/common"
)

// Rollback undoes exactly the effects of the UPDATE records belonging to
// txnID, provided the transaction is live (present in txnFirstOrdinal). It
// scans the log from 0 to the current offset, collecting that transaction's
// before-images, then applies them through the buffer manager in reverse
// order of appearance — required because two UPDATEs of the same
// transaction may overlap in [offset, offset+length), and restoring the
// earliest before-image last yields the original bytes.
func (w *WAL) Rollback(txnID common.TxnID) error {
	w.mu.Lock()
	if _, live := w.txnFirstOrdinal[txnID]; !live {
		w.mu.Unlock()
		return nil
	}
	end := w.currentOffset
	w.mu.Unlock()

	updates, err := w.collectRollbackUpdates(txnID, end)
	if err != nil {
		return err
	}

	w.metrics.rollbacks.Inc()
	level.Debug(w.logger).Log("msg", "rolling back transaction", "txn", txnID, "updates", len(updates))

	return w.applyBeforeImagesReverse(updates)
}

// collectRollbackUpdates scans [0, end) collecting UPDATE descriptors whose
// txn_id matches target, stopping early if it encounters target's own ABORT
// record (an already-aborted transaction has no further updates to undo).
func (w *WAL) collectRollbackUpdates(target common.TxnID, end int64) ([]updateRecord, error) {
	var updates []updateRecord

	for offset := int64(0); offset < end; {
		rec, err := w.decodeAt(offset)
		if err != nil {
			break
		}

		if rec.kind == common.KindAbort && rec.txnID == target {
			break
		}
		if rec.kind == common.KindUpdate && rec.txnID == target {
			updates = append(updates, rec.update)
		}

		offset += rec.size
	}

	return updates, nil
}

func (w *WAL) applyBeforeImagesReverse(updates []updateRecord) error {
	for i := len(updates) - 1; i >= 0; i-- {
		u := updates[i]
		if err := w.writeImage(u.pageID, u.offset, u.before); err != nil {
			return err
		}
	}
	return nil
}

// writeImage fixes pageID exclusively, copies image into its bytes at
// offset, and unfixes it dirty.
func (w *WAL) writeImage(pageID common.PageID, offset uint64, image []byte) error {
	f, err := w.buf.FixPage(pageID, true)
	if err != nil {
		return err
	}
	buf := f.Bytes()
	copy(buf[offset:offset+uint64(len(image))], image)
	w.buf.UnfixPage(f, true)
	return nil
}
