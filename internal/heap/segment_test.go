package heap

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/go-faker/faker/v4"
	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"walcore/internal/buffer"
	"walcore/internal/storage"
)

// fakeRow is filled by go-faker to produce randomized (table_id, field)
// payloads for round-trip tests, rather than hand-picked fixture values.
type fakeRow struct {
	TableID uint64
	Field   uint64
}

func (r fakeRow) encode() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], r.TableID)
	binary.LittleEndian.PutUint64(buf[8:16], r.Field)
	return buf
}

func newTestSegment(t *testing.T) *Segment {
	t.Helper()

	dir, err := os.MkdirTemp("", "heap_test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	store, err := storage.OpenFileStore(dir + "/heap.dat")
	require.NoError(t, err)

	pool := buffer.New(store, 10, 128, log.NewNopLogger(), prometheus.NewRegistry())
	return New(1, pool, 128, log.NewNopLogger())
}

func TestAllocatePageInitializesEmptyPage(t *testing.T) {
	s := newTestSegment(t)

	pageID, err := s.AllocatePage()
	require.NoError(t, err)

	_, err = s.ReadTuple(pageID, 0)
	require.Error(t, err)
}

func TestInsertThenReadTupleRoundTrips(t *testing.T) {
	s := newTestSegment(t)

	pageID, err := s.AllocatePage()
	require.NoError(t, err)

	tuple := []byte("0123456789abcdef")
	slot, _, before, after, err := s.InsertTuple(pageID, tuple)
	require.NoError(t, err)
	require.Equal(t, 0, slot)
	require.Equal(t, len(tuple), len(before))
	require.Equal(t, tuple, after)

	got, err := s.ReadTuple(pageID, slot)
	require.NoError(t, err)
	require.Equal(t, tuple, got)
}

func TestInsertFailsWhenPageIsFull(t *testing.T) {
	s := newTestSegment(t)

	pageID, err := s.AllocatePage()
	require.NoError(t, err)

	tuple := make([]byte, 16)
	for {
		if _, _, _, _, err := s.InsertTuple(pageID, tuple); err != nil {
			require.Equal(t, errPageFull, err)
			break
		}
	}
}

func TestUpdateTupleReturnsBeforeAndAfterImages(t *testing.T) {
	s := newTestSegment(t)

	pageID, err := s.AllocatePage()
	require.NoError(t, err)

	slot, _, _, _, err := s.InsertTuple(pageID, []byte("aaaaaaaaaaaaaaaa"))
	require.NoError(t, err)

	_, before, after, err := s.UpdateTuple(pageID, slot, []byte("bbbbbbbbbbbbbbbb"))
	require.NoError(t, err)
	require.Equal(t, []byte("aaaaaaaaaaaaaaaa"), before)
	require.Equal(t, []byte("bbbbbbbbbbbbbbbb"), after)

	got, err := s.ReadTuple(pageID, slot)
	require.NoError(t, err)
	require.Equal(t, []byte("bbbbbbbbbbbbbbbb"), got)
}

func TestUpdateTupleRejectsLengthMismatch(t *testing.T) {
	s := newTestSegment(t)

	pageID, err := s.AllocatePage()
	require.NoError(t, err)

	slot, _, _, _, err := s.InsertTuple(pageID, []byte("aaaaaaaaaaaaaaaa"))
	require.NoError(t, err)

	_, _, _, err = s.UpdateTuple(pageID, slot, []byte("short"))
	require.Error(t, err)
}

func TestInsertRoundTripsRandomizedTuples(t *testing.T) {
	s := newTestSegment(t)

	pageID, err := s.AllocatePage()
	require.NoError(t, err)

	var row fakeRow
	require.NoError(t, faker.FakeData(&row))

	slot, _, _, after, err := s.InsertTuple(pageID, row.encode())
	require.NoError(t, err)
	require.Equal(t, row.encode(), after)

	got, err := s.ReadTuple(pageID, slot)
	require.NoError(t, err)
	require.Equal(t, row.encode(), got)
}

func TestUpdateTupleOutOfRangeSlot(t *testing.T) {
	s := newTestSegment(t)

	pageID, err := s.AllocatePage()
	require.NoError(t, err)

	_, _, _, err = s.UpdateTuple(pageID, 5, []byte("aaaaaaaaaaaaaaaa"))
	require.ErrorIs(t, err, errSlotOutRange)
}
