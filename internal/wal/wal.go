// Package wal implements the write-ahead log and crash-recovery core: the
// log record format and append protocol, per-transaction rollback by log
// scan, sharp and fuzzy checkpoints, and the recovery procedure that runs on
// a freshly reopened log.
package wal

import (
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"walcore/internal/buffer"
	"walcore/internal/common"
	"walcore/internal/storage"
)

// errEndOfLog is the internal sentinel a scan uses to stop at a zero tag or
// a read that can't be satisfied (a torn tail). It never escapes this
// package: every scan loop swallows it and treats the scan as complete.
var errEndOfLog = errors.New("wal: end of log")

// WAL is the single-writer, single-log write-ahead log described by §3-§5.
// It owns exactly one backing file and holds a non-owning handle to a buffer
// manager it calls into during rollback and recovery.
type WAL struct {
	mu sync.Mutex

	file storage.FileStore
	buf  buffer.Manager

	currentOffset int64
	txnFirstOrdinal map[common.TxnID]uint64
	kindCounts      map[common.RecordKind]uint64
	fuzzyPending    []common.PageID

	logger  log.Logger
	metrics *walMetrics
}

// Open constructs a WAL over file, assuming the log starts empty (offset 0).
// Use Recovery to rebuild state from a file that already contains records.
func Open(file storage.FileStore, bufMgr buffer.Manager, logger log.Logger, reg prometheus.Registerer) *WAL {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	w := &WAL{
		file:    file,
		buf:     bufMgr,
		logger:  logger,
		metrics: newWalMetrics(reg),
	}
	w.resetState()
	return w
}

func (w *WAL) resetState() {
	w.currentOffset = 0
	w.txnFirstOrdinal = make(map[common.TxnID]uint64)
	w.kindCounts = make(map[common.RecordKind]uint64)
	w.fuzzyPending = nil
}

// Reset re-points the WAL at a fresh file handle and clears all in-memory
// state, matching the source's reset().
func (w *WAL) Reset(file storage.FileStore) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.file = file
	w.resetState()
}

// TotalRecords returns the count of records appended since the last Reset
// or loaded during Recovery.
func (w *WAL) TotalRecords() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	var total uint64
	for _, c := range w.kindCounts {
		total += c
	}
	return total
}

// RecordsOfKind returns how many records of the given kind this WAL
// instance has observed.
func (w *WAL) RecordsOfKind(kind common.RecordKind) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.kindCounts[kind]
}

// appendRaw enlarges the file, writes the payload, then writes the tag byte
// at the record's start offset last, and advances currentOffset. This is the
// single choke point every append operation funnels through, so the
// tag-last ordering in §4.1 is enforced exactly once.
func (w *WAL) appendRaw(kind common.RecordKind, payload []byte) (ordinal uint64, err error) {
	size := int64(1 + len(payload))
	start := w.currentOffset
	newOffset := start + size

	if err := w.file.Resize(newOffset); err != nil {
		return 0, errors.Wrap(err, "wal: resize for append")
	}
	if len(payload) > 0 {
		if err := w.file.WriteBlock(payload, start+1); err != nil {
			return 0, errors.Wrap(err, "wal: write record payload")
		}
	}

	ordinal = w.totalRecordsLocked()

	if err := w.file.WriteBlock([]byte{byte(kind)}, start); err != nil {
		return 0, errors.Wrap(err, "wal: write record tag")
	}

	w.currentOffset = newOffset
	w.kindCounts[kind]++
	w.metrics.recordsAppended.WithLabelValues(kind.String()).Inc()

	level.Debug(w.logger).Log("msg", "wal record appended", "kind", kind, "offset", start, "size", size)

	return ordinal, nil
}

func (w *WAL) totalRecordsLocked() uint64 {
	var total uint64
	for _, c := range w.kindCounts {
		total += c
	}
	return total
}

// AppendBegin records the start of txnID, capturing the total record count
// before this BEGIN is itself counted.
func (w *WAL) AppendBegin(txnID common.TxnID) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ordinal, err := w.appendRaw(common.KindBegin, encodeTxnPayload(txnID))
	if err != nil {
		return err
	}
	w.txnFirstOrdinal[txnID] = ordinal
	return nil
}

// AppendCommit records the successful completion of txnID and removes it
// from the live-transaction map.
func (w *WAL) AppendCommit(txnID common.TxnID) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.appendRaw(common.KindCommit, encodeTxnPayload(txnID)); err != nil {
		return err
	}
	delete(w.txnFirstOrdinal, txnID)
	return nil
}

// AppendAbort records the abort of txnID, then rolls it back, then removes
// it from the live-transaction map — in that order, matching
// log_manager.cc::log_abort.
func (w *WAL) AppendAbort(txnID common.TxnID) error {
	w.mu.Lock()

	if _, err := w.appendRaw(common.KindAbort, encodeTxnPayload(txnID)); err != nil {
		w.mu.Unlock()
		return err
	}
	w.mu.Unlock()

	if err := w.Rollback(txnID); err != nil {
		return err
	}

	w.mu.Lock()
	delete(w.txnFirstOrdinal, txnID)
	w.mu.Unlock()
	return nil
}

// AppendUpdate records an UPDATE for txnID against pageID at the given
// page-relative offset, with before/after images of equal length. It has no
// effect on the live-transaction map.
func (w *WAL) AppendUpdate(txnID common.TxnID, pageID common.PageID, offset uint64, before, after []byte) error {
	if len(before) != len(after) {
		return errors.New("wal: before and after images must have equal length")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	rec := updateRecord{
		txnID:  txnID,
		pageID: pageID,
		length: uint64(len(before)),
		offset: offset,
		before: before,
		after:  after,
	}
	_, err := w.appendRaw(common.KindUpdate, encodeUpdatePayload(rec))
	return err
}
