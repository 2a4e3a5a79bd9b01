package scenario

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"walcore/internal/common"
	"walcore/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newHarness(t *testing.T) *Harness {
	t.Helper()

	dir, err := os.MkdirTemp("", "scenario_test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	cfg := config.Default()
	h, err := New(cfg,
		filepath.Join(dir, "wal.log"),
		filepath.Join(dir, "heap.dat"),
		log.NewNopLogger(), prometheus.NewRegistry())
	require.NoError(t, err)
	return h
}

func TestS1SingleCommitCountCheck(t *testing.T) {
	h := newHarness(t)

	r, err := S1(h)
	require.NoError(t, err)

	require.Equal(t, uint64(4), r.TotalRecords)
	require.Equal(t, uint64(2), r.RecordCounts[common.KindUpdate])
	require.Equal(t, uint64(1), r.RecordCounts[common.KindBegin])
	require.Equal(t, uint64(1), r.RecordCounts[common.KindCommit])
}

func TestS2CommitAndCrash(t *testing.T) {
	h := newHarness(t)

	r, err := S2(h)
	require.NoError(t, err)

	require.True(t, r.Present[5])
	require.True(t, r.Present[10])
	require.True(t, r.Absent[3])
}

func TestS3AbortWithForcedFlush(t *testing.T) {
	h := newHarness(t)

	r, err := S3(h)
	require.NoError(t, err)

	require.True(t, r.Present[5])
	require.True(t, r.Present[10])
	require.True(t, r.Absent[3])
	require.True(t, r.Absent[4])
}

func TestS4InterleavedAbortCommit(t *testing.T) {
	h := newHarness(t)

	r, err := S4(h)
	require.NoError(t, err)

	require.True(t, r.Present[3])
	require.True(t, r.Present[4])
	require.True(t, r.Absent[5])
	require.True(t, r.Absent[10])
}

func TestS5OpenTransactionAtCrash(t *testing.T) {
	h := newHarness(t)

	r, err := S5(h)
	require.NoError(t, err)

	require.True(t, r.Present[3])
	require.True(t, r.Present[4])
	require.True(t, r.Absent[5])
	require.True(t, r.Absent[10])
}

func TestS6CompletedFuzzyCheckpointThenCrash(t *testing.T) {
	h := newHarness(t)

	r, err := S6(h)
	require.NoError(t, err)

	require.Equal(t, uint64(16), r.TotalRecords)
	require.Equal(t, uint64(4), r.RecordCounts[common.KindBegin])
	require.Equal(t, uint64(7), r.RecordCounts[common.KindUpdate])
	require.Equal(t, uint64(3), r.RecordCounts[common.KindCommit])
	require.Equal(t, uint64(1), r.RecordCounts[common.KindBeginFuzzyCheckpoint])
	require.Equal(t, uint64(1), r.RecordCounts[common.KindEndFuzzyCheckpoint])
	require.Equal(t, uint64(0), r.RecordCounts[common.KindCheckpoint])
	require.Equal(t, uint64(0), r.RecordCounts[common.KindAbort])

	require.True(t, r.Present[3])
	require.True(t, r.Present[4])
	require.True(t, r.Present[5])
	require.True(t, r.Present[8])
	require.True(t, r.Absent[9])
	require.True(t, r.Absent[10])
	require.True(t, r.Absent[11])
}

func TestS7FuzzyCheckpointInterruptedByCrash(t *testing.T) {
	h := newHarness(t)

	r, err := S7(h)
	require.NoError(t, err)

	require.True(t, r.Present[1])
	require.True(t, r.Present[2])
	require.True(t, r.Present[3])
	require.True(t, r.Absent[4])
	require.True(t, r.Present[5])
	require.True(t, r.Absent[6])
	require.True(t, r.Absent[7])
}

func TestByNameUnknownScenario(t *testing.T) {
	h := newHarness(t)

	_, err := ByName("s99", h)
	require.Error(t, err)
}
