// Package heap implements slotted-page tuple storage on top of a buffer
// pool: the heap segment external collaborator. It owns tuple allocation,
// read, and in-place update, and is the component that produces the
// before/after image pairs the WAL's AppendUpdate needs.
package heap

import (
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"walcore/internal/buffer"
	"walcore/internal/common"
)

// Segment is one heap segment's worth of slotted pages, backed by a shared
// buffer pool.
type Segment struct {
	id       uint64
	pool     buffer.Manager
	pageSize int
	logger   log.Logger

	nextPage atomic.Uint64
	mu       sync.Mutex // serializes allocation of new page ids

	scratch *bytesPool
}

// New builds a Segment identified by id, storing its pages through pool.
// Page ids are derived from the segment id so that distinct segments never
// collide in a buffer pool they happen to share.
func New(id uint64, pool buffer.Manager, pageSize int, logger log.Logger) *Segment {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	s := &Segment{id: id, pool: pool, pageSize: pageSize, logger: logger, scratch: newBytesPool()}
	return s
}

func (s *Segment) pageID(local uint64) common.PageID {
	return common.PageID(s.id<<32 | local)
}

// AllocatePage reserves and formats a fresh page, returning its id.
func (s *Segment) AllocatePage() (common.PageID, error) {
	s.mu.Lock()
	local := s.nextPage.Load()
	s.nextPage.Add(1)
	s.mu.Unlock()

	id := s.pageID(local)
	f, err := s.pool.FixPage(id, true)
	if err != nil {
		return 0, err
	}
	initPage(f.Bytes())
	s.pool.UnfixPage(f, true)
	return id, nil
}

func (s *Segment) verify(pageID common.PageID, buf []byte) {
	if !verifyChecksum(buf) {
		level.Error(s.logger).Log("msg", "heap page checksum mismatch", "page", pageID)
	}
}

// InsertTuple writes tuple into pageID's slot directory, returning the new
// slot index, the absolute byte offset the tuple landed at, and the
// before/after images of that byte range — an insert lands on previously
// unused (zero-filled) page bytes, so before is always all-zero, but the
// WAL records it as an ordinary UPDATE regardless.
func (s *Segment) InsertTuple(pageID common.PageID, tuple []byte) (slot, offset int, before, after []byte, err error) {
	f, err := s.pool.FixPage(pageID, true)
	if err != nil {
		return 0, 0, nil, nil, err
	}
	defer s.pool.UnfixPage(f, true)

	s.verify(pageID, f.Bytes())
	buf := f.Bytes()

	slot, offset, err = insertIntoPage(buf, tuple)
	if err != nil {
		return 0, 0, nil, nil, err
	}

	before = make([]byte, len(tuple))
	after = s.scratch.stage(buf[offset : offset+len(tuple)])
	return slot, offset, before, after, nil
}

// ReadTuple returns a copy of the tuple bytes stored at slot on pageID.
func (s *Segment) ReadTuple(pageID common.PageID, slot int) ([]byte, error) {
	f, err := s.pool.FixPage(pageID, false)
	if err != nil {
		return nil, err
	}
	defer s.pool.UnfixPage(f, false)

	s.verify(pageID, f.Bytes())
	tuple, _, err := readFromPage(f.Bytes(), slot)
	return tuple, err
}

// UpdateTuple overwrites the tuple at slot on pageID with newBytes, which
// must be the same length as the existing tuple (this module does not
// support variable-length in-place update). It returns the page-relative
// byte offset of the tuple and the before/after images the caller must hand
// to the WAL's AppendUpdate.
func (s *Segment) UpdateTuple(pageID common.PageID, slot int, newBytes []byte) (offset int, before, after []byte, err error) {
	f, err := s.pool.FixPage(pageID, true)
	if err != nil {
		return 0, nil, nil, err
	}
	defer s.pool.UnfixPage(f, true)

	s.verify(pageID, f.Bytes())

	buf := f.Bytes()
	h := readHeader(buf)
	if slot < 0 || slot >= h.slotCount {
		return 0, nil, nil, errSlotOutRange
	}
	tupleOffset, length := readSlot(buf, slot)
	if len(newBytes) != length {
		return 0, nil, nil, errors.Errorf("heap: update length mismatch: slot has %d bytes, got %d", length, len(newBytes))
	}

	before = s.scratch.stage(buf[tupleOffset : tupleOffset+length])

	copy(buf[tupleOffset:tupleOffset+length], newBytes)
	writeHeader(buf, h)

	after = s.scratch.stage(newBytes)

	return tupleOffset, before, after, nil
}
