// Package scenario assembles a WAL, buffer pool, heap segment, and
// transaction manager into the small helper vocabulary the original test
// suite used — insertRow, look, doInsert, abortTxn, dontInsert, crash — and
// the seven end-to-end scenarios built from it. The same functions back
// both the CLI (cmd/walctl) and the package's own tests.
package scenario

import (
	"encoding/binary"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"walcore/internal/buffer"
	"walcore/internal/common"
	"walcore/internal/config"
	"walcore/internal/heap"
	"walcore/internal/storage"
	"walcore/internal/txn"
	"walcore/internal/wal"
)

const tupleSize = 16 // table_id(8) + field(8)

// Harness bundles one segment's worth of pages behind one WAL and one
// buffer pool, as the scenarios in §8 assume.
type Harness struct {
	Cfg     config.Config
	LogFile storage.FileStore
	HeapFile storage.FileStore
	Pool    *buffer.Pool
	Seg     *heap.Segment
	WAL     *wal.WAL
	Mgr     *txn.Manager
	Logger  log.Logger
	Reg     prometheus.Registerer

	pages       []common.PageID
	currentPage int // index into pages of the page new inserts try first
}

// New opens (or creates) the log and heap files under cfg.DataDir and
// allocates the segment's first page.
func New(cfg config.Config, logPath, heapPath string, logger log.Logger, reg prometheus.Registerer) (*Harness, error) {
	logFile, err := storage.OpenFileStore(logPath)
	if err != nil {
		return nil, err
	}
	heapFile, err := storage.OpenFileStore(heapPath)
	if err != nil {
		return nil, err
	}

	pool := buffer.New(heapFile, cfg.BufferPoolFrames, cfg.PageSize, logger, reg)
	w := wal.Open(logFile, pool, logger, reg)
	seg := heap.New(cfg.SegmentID, pool, cfg.PageSize, logger)
	mgr := txn.New(w, seg, logger)

	h := &Harness{
		Cfg: cfg, LogFile: logFile, HeapFile: heapFile,
		Pool: pool, Seg: seg, WAL: w, Mgr: mgr,
		Logger: logger, Reg: reg,
	}

	pageID, err := seg.AllocatePage()
	if err != nil {
		return nil, err
	}
	h.pages = append(h.pages, pageID)
	return h, nil
}

func encodeTuple(tableID, field uint64) []byte {
	buf := make([]byte, tupleSize)
	binary.LittleEndian.PutUint64(buf[0:8], tableID)
	binary.LittleEndian.PutUint64(buf[8:16], field)
	return buf
}

func decodeTuple(buf []byte) (tableID, field uint64) {
	return binary.LittleEndian.Uint64(buf[0:8]), binary.LittleEndian.Uint64(buf[8:16])
}

// insertRow inserts (tableID, field) under txnID, allocating a fresh page
// in the segment if the current one has no room.
func (h *Harness) insertRow(txnID common.TxnID, tableID, field uint64) error {
	tuple := encodeTuple(tableID, field)

	pageID := h.pages[h.currentPage]
	if _, err := h.Mgr.Insert(txnID, pageID, tuple); err != nil {
		newPage, allocErr := h.Seg.AllocatePage()
		if allocErr != nil {
			return errors.Wrap(err, "scenario: insert failed and could not allocate a new page")
		}
		h.pages = append(h.pages, newPage)
		h.currentPage = len(h.pages) - 1
		_, err = h.Mgr.Insert(txnID, h.pages[h.currentPage], tuple)
		return err
	}
	return nil
}

// look scans every allocated page's every slot, reporting whether exactly
// one tuple has the given field value. More than one match is treated the
// same as "not present" (an invariant violation the test would also flag).
func (h *Harness) look(field uint64) bool {
	count := 0
	for _, pageID := range h.pages {
		for slot := 0; ; slot++ {
			tuple, err := h.Seg.ReadTuple(pageID, slot)
			if err != nil {
				break
			}
			_, f := decodeTuple(tuple)
			if f == field {
				count++
			}
		}
	}
	return count == 1
}

// doInsert begins a transaction, inserts field1, flushes all pages,
// inserts field2, and commits — grounded on the source's do_insert, which
// flushes between the two inserts specifically so that only the second
// insert's dirty page ever needs redo.
func (h *Harness) doInsert(tableID, field1, field2 uint64) (common.TxnID, error) {
	txnID, err := h.Mgr.Begin()
	if err != nil {
		return 0, err
	}
	if err := h.insertRow(txnID, tableID, field1); err != nil {
		return 0, err
	}
	if err := h.Pool.FlushAllPages(); err != nil {
		return 0, err
	}
	if err := h.insertRow(txnID, tableID, field2); err != nil {
		return 0, err
	}
	if err := h.Mgr.Commit(txnID); err != nil {
		return 0, err
	}
	return txnID, nil
}

// abortTxn flushes all pages (defeating no-steal, so the abort can only be
// undone via before-images) and then aborts txnID.
func (h *Harness) abortTxn(txnID common.TxnID) error {
	if err := h.Pool.FlushAllPages(); err != nil {
		return err
	}
	return h.Mgr.Abort(txnID)
}

// dontInsert begins a transaction, inserts both fields, flushes, and
// leaves the transaction open — it neither commits nor aborts before the
// caller simulates a crash.
func (h *Harness) dontInsert(tableID, field1, field2 uint64) (common.TxnID, error) {
	txnID, err := h.Mgr.Begin()
	if err != nil {
		return 0, err
	}
	if err := h.insertRow(txnID, tableID, field1); err != nil {
		return 0, err
	}
	if err := h.insertRow(txnID, tableID, field2); err != nil {
		return 0, err
	}
	if err := h.Pool.FlushAllPages(); err != nil {
		return 0, err
	}
	return txnID, nil
}

// crash discards the buffer pool's contents without flushing, resets the
// WAL's in-memory state over the same log file handle, and runs
// recovery — simulating a process crash followed by a restart.
func (h *Harness) crash() error {
	h.Pool.DiscardAllPages()
	h.WAL.Reset(h.LogFile)
	return h.WAL.Recovery()
}

// Result is what every scenario returns for a test or the CLI to inspect.
type Result struct {
	Name          string
	TotalRecords  uint64
	RecordCounts  map[common.RecordKind]uint64
	Present       map[uint64]bool
	Absent        map[uint64]bool
}

func newResult(name string) *Result {
	return &Result{Name: name, Present: map[uint64]bool{}, Absent: map[uint64]bool{}}
}

func (r *Result) observe(h *Harness) {
	r.TotalRecords = h.WAL.TotalRecords()
	r.RecordCounts = make(map[common.RecordKind]uint64, len(common.AllKinds))
	for _, k := range common.AllKinds {
		r.RecordCounts[k] = h.WAL.RecordsOfKind(k)
	}
}

// S1 — single commit, count check.
func S1(h *Harness) (*Result, error) {
	r := newResult("S1")
	txnID, err := h.Mgr.Begin()
	if err != nil {
		return nil, err
	}
	if err := h.insertRow(txnID, 1, 5); err != nil {
		return nil, err
	}
	if err := h.Pool.FlushAllPages(); err != nil {
		return nil, err
	}
	if err := h.insertRow(txnID, 1, 10); err != nil {
		return nil, err
	}
	if err := h.Mgr.Commit(txnID); err != nil {
		return nil, err
	}
	r.observe(h)
	return r, nil
}

// S2 — commit + crash.
func S2(h *Harness) (*Result, error) {
	r := newResult("S2")
	txnID, err := h.Mgr.Begin()
	if err != nil {
		return nil, err
	}
	if err := h.insertRow(txnID, 1, 5); err != nil {
		return nil, err
	}
	if err := h.insertRow(txnID, 1, 10); err != nil {
		return nil, err
	}
	if err := h.Mgr.Commit(txnID); err != nil {
		return nil, err
	}
	if err := h.crash(); err != nil {
		return nil, err
	}
	r.Present[5] = h.look(5)
	r.Present[10] = h.look(10)
	r.Absent[3] = !h.look(3)
	r.observe(h)
	return r, nil
}

// S3 — abort with forced flush.
func S3(h *Harness) (*Result, error) {
	r := newResult("S3")
	t1, err := h.Mgr.Begin()
	if err != nil {
		return nil, err
	}
	if err := h.insertRow(t1, 1, 5); err != nil {
		return nil, err
	}
	if err := h.insertRow(t1, 1, 10); err != nil {
		return nil, err
	}
	if err := h.Mgr.Commit(t1); err != nil {
		return nil, err
	}

	t2, err := h.Mgr.Begin()
	if err != nil {
		return nil, err
	}
	if err := h.insertRow(t2, 1, 3); err != nil {
		return nil, err
	}
	if err := h.insertRow(t2, 1, 4); err != nil {
		return nil, err
	}
	if err := h.abortTxn(t2); err != nil {
		return nil, err
	}

	r.Present[5] = h.look(5)
	r.Present[10] = h.look(10)
	r.Absent[3] = !h.look(3)
	r.Absent[4] = !h.look(4)
	r.observe(h)
	return r, nil
}

// S4 — interleaved abort/commit.
func S4(h *Harness) (*Result, error) {
	r := newResult("S4")
	t1, err := h.Mgr.Begin()
	if err != nil {
		return nil, err
	}
	if err := h.insertRow(t1, 1, 5); err != nil {
		return nil, err
	}

	t2, err := h.Mgr.Begin()
	if err != nil {
		return nil, err
	}
	if err := h.insertRow(t2, 1, 3); err != nil {
		return nil, err
	}
	if err := h.insertRow(t2, 1, 4); err != nil {
		return nil, err
	}
	if err := h.Mgr.Commit(t2); err != nil {
		return nil, err
	}

	if err := h.insertRow(t1, 1, 10); err != nil {
		return nil, err
	}
	if err := h.abortTxn(t1); err != nil {
		return nil, err
	}

	r.Present[3] = h.look(3)
	r.Present[4] = h.look(4)
	r.Absent[5] = !h.look(5)
	r.Absent[10] = !h.look(10)
	r.observe(h)
	return r, nil
}

// S5 — open transaction at crash.
func S5(h *Harness) (*Result, error) {
	r := newResult("S5")
	t1, err := h.Mgr.Begin()
	if err != nil {
		return nil, err
	}
	if err := h.insertRow(t1, 1, 5); err != nil {
		return nil, err
	}
	if err := h.Pool.FlushAllPages(); err != nil {
		return nil, err
	}

	t2, err := h.Mgr.Begin()
	if err != nil {
		return nil, err
	}
	if err := h.insertRow(t2, 1, 3); err != nil {
		return nil, err
	}
	if err := h.insertRow(t2, 1, 4); err != nil {
		return nil, err
	}
	if err := h.Mgr.Commit(t2); err != nil {
		return nil, err
	}

	t3, err := h.Mgr.Begin()
	if err != nil {
		return nil, err
	}
	if err := h.insertRow(t3, 1, 10); err != nil {
		return nil, err
	}
	if err := h.Pool.FlushAllPages(); err != nil {
		return nil, err
	}

	if err := h.crash(); err != nil {
		return nil, err
	}

	r.Present[3] = h.look(3)
	r.Present[4] = h.look(4)
	r.Absent[5] = !h.look(5)
	r.Absent[10] = !h.look(10)
	r.observe(h)
	return r, nil
}

// S6 — completed fuzzy checkpoint then crash, grounded on the source's
// TestFuzzyCheckpointCompletesThenCrash. Uses a second heap page in place
// of the source's second heap segment, since this module keeps one
// segment per harness.
func S6(h *Harness) (*Result, error) {
	r := newResult("S6")

	pageB, err := h.Seg.AllocatePage()
	if err != nil {
		return nil, err
	}
	h.pages = append(h.pages, pageB)
	insertOn := func(txnID common.TxnID, pageID common.PageID, tableID, field uint64) error {
		_, err := h.Mgr.Insert(txnID, pageID, encodeTuple(tableID, field))
		return err
	}

	pageA := h.pages[0]

	t1, err := h.Mgr.Begin()
	if err != nil {
		return nil, err
	}
	if err := insertOn(t1, pageA, 101, 5); err != nil {
		return nil, err
	}

	t2, err := h.Mgr.Begin()
	if err != nil {
		return nil, err
	}
	if err := insertOn(t2, pageB, 102, 4); err != nil {
		return nil, err
	}

	t3, err := h.Mgr.Begin()
	if err != nil {
		return nil, err
	}
	if err := insertOn(t3, pageB, 102, 3); err != nil {
		return nil, err
	}
	if err := h.Mgr.Commit(t3); err != nil {
		return nil, err
	}

	t4, err := h.Mgr.Begin()
	if err != nil {
		return nil, err
	}
	if err := insertOn(t4, pageA, 101, 9); err != nil {
		return nil, err
	}

	if _, err := h.WAL.FuzzyBegin(); err != nil {
		return nil, err
	}

	if err := h.WAL.FuzzyStep(0); err != nil {
		return nil, err
	}
	if err := h.Mgr.Commit(t1); err != nil {
		return nil, err
	}

	if err := insertOn(t4, pageA, 101, 10); err != nil {
		return nil, err
	}
	if err := insertOn(t4, pageB, 102, 11); err != nil {
		return nil, err
	}

	if err := h.WAL.FuzzyStep(1); err != nil {
		return nil, err
	}
	if err := h.WAL.FuzzyEnd(); err != nil {
		return nil, err
	}

	if err := insertOn(t2, pageA, 101, 8); err != nil {
		return nil, err
	}
	if err := h.Mgr.Commit(t2); err != nil {
		return nil, err
	}

	if err := h.crash(); err != nil {
		return nil, err
	}

	r.Present[3] = h.look(3)
	r.Present[4] = h.look(4)
	r.Present[5] = h.look(5)
	r.Present[8] = h.look(8)
	r.Absent[9] = !h.look(9)
	r.Absent[10] = !h.look(10)
	r.Absent[11] = !h.look(11)
	r.observe(h)
	return r, nil
}

// S7 — fuzzy checkpoint interrupted by crash, grounded on the source's
// TestFuzzyCheckpointCrashDuringCheckpointing.
func S7(h *Harness) (*Result, error) {
	r := newResult("S7")

	if _, err := h.doInsert(101, 1, 2); err != nil {
		return nil, err
	}

	t2, err := h.Mgr.Begin()
	if err != nil {
		return nil, err
	}
	if err := h.insertRow(t2, 101, 3); err != nil {
		return nil, err
	}

	t3, err := h.Mgr.Begin()
	if err != nil {
		return nil, err
	}
	if err := h.insertRow(t3, 101, 4); err != nil {
		return nil, err
	}

	if _, err := h.WAL.FuzzyBegin(); err != nil {
		return nil, err
	}

	if err := h.insertRow(t2, 101, 5); err != nil {
		return nil, err
	}
	if err := h.insertRow(t3, 101, 6); err != nil {
		return nil, err
	}

	if err := h.Mgr.Commit(t2); err != nil {
		return nil, err
	}

	if err := h.insertRow(t3, 101, 7); err != nil {
		return nil, err
	}

	if err := h.crash(); err != nil {
		return nil, err
	}

	r.Present[1] = h.look(1)
	r.Present[2] = h.look(2)
	r.Present[3] = h.look(3)
	r.Absent[4] = !h.look(4)
	r.Present[5] = h.look(5)
	r.Absent[6] = !h.look(6)
	r.Absent[7] = !h.look(7)
	r.observe(h)
	return r, nil
}

// ByName runs the scenario identified by name ("s1".."s7") against h.
func ByName(name string, h *Harness) (*Result, error) {
	switch name {
	case "s1":
		return S1(h)
	case "s2":
		return S2(h)
	case "s3":
		return S3(h)
	case "s4":
		return S4(h)
	case "s5":
		return S5(h)
	case "s6":
		return S6(h)
	case "s7":
		return S7(h)
	default:
		return nil, errors.Errorf("scenario: unknown scenario %q", name)
	}
}
