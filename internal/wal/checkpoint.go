package wal

import (
	"time"

	"github.com/pkg/errors"

	"walcore/internal/common"
)

// AppendCheckpoint performs a sharp checkpoint: it flushes every dirty page
// synchronously, then appends a CHECKPOINT marker. Every UPDATE appearing
// before the marker is then guaranteed to be materialized on durable
// storage, which is what lets recovery discard all pending redo state on
// seeing one.
func (w *WAL) AppendCheckpoint() error {
	start := time.Now()

	if err := w.buf.FlushAllPages(); err != nil {
		return errors.Wrap(err, "wal: flush all pages for checkpoint")
	}

	w.mu.Lock()
	_, err := w.appendRaw(common.KindCheckpoint, nil)
	w.mu.Unlock()
	if err != nil {
		return err
	}

	w.metrics.checkpointDuration.WithLabelValues("sharp").Observe(time.Since(start).Seconds())
	return nil
}

// FuzzyBegin snapshots the buffer manager's current dirty page id list into
// fuzzyPending, appends a BEGIN_FUZZY_CHECKPOINT marker, and returns the
// snapshot's length.
func (w *WAL) FuzzyBegin() (int, error) {
	start := time.Now()

	dirty := w.buf.DirtyPageIDs()

	w.mu.Lock()
	defer w.mu.Unlock()

	w.fuzzyPending = append([]common.PageID(nil), dirty...)

	if _, err := w.appendRaw(common.KindBeginFuzzyCheckpoint, nil); err != nil {
		return 0, err
	}

	w.metrics.fuzzyBeginDuration.Observe(time.Since(start).Seconds())
	return len(w.fuzzyPending), nil
}

// FuzzyStep flushes fuzzyPending[step] if step is in range; out-of-range
// indices are a silent no-op, and steps may be invoked in any order, skipped,
// or repeated.
func (w *WAL) FuzzyStep(step int) error {
	w.mu.Lock()
	if step < 0 || step >= len(w.fuzzyPending) {
		w.mu.Unlock()
		return nil
	}
	pageID := w.fuzzyPending[step]
	w.mu.Unlock()

	return w.buf.FlushPage(pageID)
}

// FuzzyEnd appends an END_FUZZY_CHECKPOINT marker and clears fuzzyPending.
func (w *WAL) FuzzyEnd() error {
	start := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.appendRaw(common.KindEndFuzzyCheckpoint, nil); err != nil {
		return err
	}
	w.fuzzyPending = nil

	w.metrics.checkpointDuration.WithLabelValues("fuzzy").Observe(time.Since(start).Seconds())
	return nil
}
