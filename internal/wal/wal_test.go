package wal

import (
	"os"
	"testing"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"walcore/internal/buffer"
	"walcore/internal/common"
	"walcore/internal/storage"
)

type harness struct {
	w    *WAL
	pool *buffer.Pool
}

func newTestWAL(t *testing.T) *harness {
	t.Helper()

	dir, err := os.MkdirTemp("", "wal_test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	logFile, err := storage.OpenFileStore(dir + "/wal.log")
	require.NoError(t, err)
	heapFile, err := storage.OpenFileStore(dir + "/heap.dat")
	require.NoError(t, err)

	pool := buffer.New(heapFile, 10, 128, log.NewNopLogger(), prometheus.NewRegistry())
	w := Open(logFile, pool, log.NewNopLogger(), prometheus.NewRegistry())
	return &harness{w: w, pool: pool}
}

func (h *harness) writeByte(t *testing.T, pageID common.PageID, offset uint64, b byte) {
	t.Helper()
	f, err := h.pool.FixPage(pageID, true)
	require.NoError(t, err)
	f.Bytes()[offset] = b
	h.pool.UnfixPage(f, true)
}

func (h *harness) readByte(t *testing.T, pageID common.PageID, offset uint64) byte {
	t.Helper()
	f, err := h.pool.FixPage(pageID, false)
	require.NoError(t, err)
	b := f.Bytes()[offset]
	h.pool.UnfixPage(f, false)
	return b
}

func TestAppendBeginTracksOrdinal(t *testing.T) {
	h := newTestWAL(t)

	require.NoError(t, h.w.AppendBegin(1))
	require.Equal(t, uint64(0), h.w.txnFirstOrdinal[1])

	require.NoError(t, h.w.AppendBegin(2))
	require.Equal(t, uint64(1), h.w.txnFirstOrdinal[2])

	require.Equal(t, uint64(2), h.w.TotalRecords())
	require.Equal(t, uint64(2), h.w.RecordsOfKind(common.KindBegin))
}

func TestAppendCommitRemovesFromLiveSet(t *testing.T) {
	h := newTestWAL(t)

	require.NoError(t, h.w.AppendBegin(1))
	require.NoError(t, h.w.AppendCommit(1))

	_, live := h.w.txnFirstOrdinal[1]
	require.False(t, live)
}

func TestAppendUpdateRejectsUnequalImageLengths(t *testing.T) {
	h := newTestWAL(t)

	err := h.w.AppendUpdate(1, 0, 0, []byte{1, 2}, []byte{1})
	require.Error(t, err)
}

func TestRollbackRestoresBeforeImage(t *testing.T) {
	h := newTestWAL(t)

	h.writeByte(t, 0, 5, 0xAA)
	require.NoError(t, h.w.AppendBegin(1))
	require.NoError(t, h.w.AppendUpdate(1, 0, 5, []byte{0xAA}, []byte{0xBB}))
	h.writeByte(t, 0, 5, 0xBB)

	require.Equal(t, byte(0xBB), h.readByte(t, 0, 5))

	require.NoError(t, h.w.Rollback(1))
	require.Equal(t, byte(0xAA), h.readByte(t, 0, 5))
}

func TestRollbackOfOverlappingUpdatesRestoresEarliestImage(t *testing.T) {
	h := newTestWAL(t)

	require.NoError(t, h.w.AppendBegin(1))
	require.NoError(t, h.w.AppendUpdate(1, 0, 5, []byte{0x01}, []byte{0x02}))
	require.NoError(t, h.w.AppendUpdate(1, 0, 5, []byte{0x02}, []byte{0x03}))
	h.writeByte(t, 0, 5, 0x03)

	require.NoError(t, h.w.Rollback(1))
	require.Equal(t, byte(0x01), h.readByte(t, 0, 5))
}

func TestRollbackOfUnknownTransactionIsNoOp(t *testing.T) {
	h := newTestWAL(t)

	require.NoError(t, h.w.Rollback(999))
}

func TestRollbackIsIdempotentWithoutIntervalAppends(t *testing.T) {
	h := newTestWAL(t)

	require.NoError(t, h.w.AppendBegin(1))
	require.NoError(t, h.w.AppendUpdate(1, 0, 5, []byte{0xAA}, []byte{0xBB}))
	h.writeByte(t, 0, 5, 0xBB)

	require.NoError(t, h.w.Rollback(1))
	require.NoError(t, h.w.Rollback(1))
	require.Equal(t, byte(0xAA), h.readByte(t, 0, 5))
}

func TestAppendAbortRollsBackAndClearsLiveSet(t *testing.T) {
	h := newTestWAL(t)

	require.NoError(t, h.w.AppendBegin(1))
	require.NoError(t, h.w.AppendUpdate(1, 0, 5, []byte{0xAA}, []byte{0xBB}))
	h.writeByte(t, 0, 5, 0xBB)

	require.NoError(t, h.w.AppendAbort(1))
	require.Equal(t, byte(0xAA), h.readByte(t, 0, 5))

	_, live := h.w.txnFirstOrdinal[1]
	require.False(t, live)
	require.Equal(t, uint64(1), h.w.RecordsOfKind(common.KindAbort))
}

func TestSharpCheckpointFlushesDirtyPages(t *testing.T) {
	h := newTestWAL(t)

	h.writeByte(t, 0, 0, 0x42)
	require.NoError(t, h.w.AppendCheckpoint())

	require.Empty(t, h.pool.DirtyPageIDs())
	require.Equal(t, uint64(1), h.w.RecordsOfKind(common.KindCheckpoint))
}

func TestFuzzyCheckpointStepOutOfRangeIsNoOp(t *testing.T) {
	h := newTestWAL(t)

	_, err := h.w.FuzzyBegin()
	require.NoError(t, err)
	require.NoError(t, h.w.FuzzyStep(99))
	require.NoError(t, h.w.FuzzyEnd())
}

func TestRecoveryRedoesUnflushedCommittedUpdate(t *testing.T) {
	h := newTestWAL(t)

	require.NoError(t, h.w.AppendBegin(1))
	require.NoError(t, h.w.AppendUpdate(1, 0, 5, []byte{0x00}, []byte{0x7E}))
	h.writeByte(t, 0, 5, 0x7E) // dirty in the pool, never flushed
	require.NoError(t, h.w.AppendCommit(1))

	h.pool.DiscardAllPages() // crash: lose the dirty page without flushing
	h.w.Reset(h.w.file)
	require.NoError(t, h.w.Recovery())

	require.Equal(t, byte(0x7E), h.readByte(t, 0, 5))
}

func TestRecoveryUndoesStillLiveTransaction(t *testing.T) {
	h := newTestWAL(t)

	require.NoError(t, h.w.AppendBegin(1))
	require.NoError(t, h.w.AppendUpdate(1, 0, 5, []byte{0x00}, []byte{0x7E}))
	h.writeByte(t, 0, 5, 0x7E)
	require.NoError(t, h.w.AppendCheckpoint())

	h.pool.DiscardAllPages()
	h.w.Reset(h.w.file)
	require.NoError(t, h.w.Recovery())

	require.Equal(t, byte(0x00), h.readByte(t, 0, 5))
}

func TestResetClearsInMemoryState(t *testing.T) {
	h := newTestWAL(t)

	require.NoError(t, h.w.AppendBegin(1))
	h.w.Reset(h.w.file)

	require.Equal(t, uint64(0), h.w.TotalRecords())
	require.Empty(t, h.w.txnFirstOrdinal)
}
