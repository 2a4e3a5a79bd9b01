// Package buffer implements a fixed-frame page cache in front of a
// storage.FileStore: the buffer manager the WAL and heap segment depend on.
package buffer

import (
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"walcore/internal/common"
	"walcore/internal/storage"
)

// Manager is the subset of Pool's surface the WAL depends on. It matches the
// buffer manager contract consumed by the WAL: fix/unfix a page, flush one or
// all dirty pages, list dirty page ids, and discard everything (the crash
// simulator's hook).
type Manager interface {
	FixPage(id common.PageID, exclusive bool) (*Frame, error)
	UnfixPage(f *Frame, dirty bool)
	FlushPage(id common.PageID) error
	FlushAllPages() error
	DirtyPageIDs() []common.PageID
	DiscardAllPages()
}

// Frame is one pinned or unpinned slot in the pool, holding exactly one
// page's bytes.
type Frame struct {
	id       common.PageID
	buf      []byte
	pinCount int
	dirty    bool
	refFlag  bool
	valid    bool
}

// Bytes returns the frame's page contents for in-place reading or writing.
// Callers must hold the pin (i.e. have called FixPage) for the duration of
// any access.
func (f *Frame) Bytes() []byte { return f.buf }

// PageID reports which page this frame currently holds.
func (f *Frame) PageID() common.PageID { return f.id }

type poolMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
	dirty     prometheus.Gauge
}

func newPoolMetrics(reg prometheus.Registerer) *poolMetrics {
	m := &poolMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buffer_pool_hits_total",
			Help: "Total number of FixPage calls satisfied without a read from storage.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buffer_pool_misses_total",
			Help: "Total number of FixPage calls that required a read from storage.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buffer_pool_evictions_total",
			Help: "Total number of frames evicted to make room for a new page.",
		}),
		dirty: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "buffer_pool_dirty_pages",
			Help: "Current number of dirty frames in the pool.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.hits, m.misses, m.evictions, m.dirty)
	}
	return m
}

// Pool is a fixed-size page cache using CLOCK eviction among unpinned
// frames. It is the buffer manager external collaborator the WAL and heap
// segment are written against.
type Pool struct {
	store    storage.FileStore
	pageSize int

	mu        sync.Mutex
	frames    []Frame
	pageTable map[common.PageID]int
	freeList  []int
	clockHand int

	logger  log.Logger
	metrics *poolMetrics
}

// New builds a Pool of numFrames frames, each pageSize bytes, reading and
// writing pages through store at offset pageID*pageSize.
func New(store storage.FileStore, numFrames, pageSize int, logger log.Logger, reg prometheus.Registerer) *Pool {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	p := &Pool{
		store:     store,
		pageSize:  pageSize,
		frames:    make([]Frame, numFrames),
		pageTable: make(map[common.PageID]int, numFrames),
		freeList:  make([]int, numFrames),
		logger:    logger,
		metrics:   newPoolMetrics(reg),
	}
	for i := range p.frames {
		p.frames[i].buf = make([]byte, pageSize)
		p.freeList[i] = numFrames - 1 - i
	}
	return p
}

// FixPage pins the page, loading it from storage on a cache miss, and
// returns a handle with byte-level access to its contents. exclusive is
// currently advisory only: this module has no concurrent-transaction support
// (per the Non-goals) so there is no lock to escalate.
func (p *Pool) FixPage(id common.PageID, exclusive bool) (*Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if idx, ok := p.pageTable[id]; ok {
		p.metrics.hits.Inc()
		f := &p.frames[idx]
		f.pinCount++
		f.refFlag = true
		return f, nil
	}

	p.metrics.misses.Inc()

	idx, err := p.evictOrAllocate()
	if err != nil {
		return nil, err
	}

	f := &p.frames[idx]
	if f.valid && f.dirty {
		if err := p.flushFrame(f); err != nil {
			return nil, err
		}
	}
	if f.valid {
		delete(p.pageTable, f.id)
	}

	off := int64(id) * int64(p.pageSize)
	for i := range f.buf {
		f.buf[i] = 0
	}
	size, err := p.store.Size()
	if err != nil {
		return nil, err
	}
	if off+int64(p.pageSize) <= size {
		if err := p.store.ReadBlock(off, f.buf); err != nil {
			return nil, err
		}
	}

	f.id = id
	f.pinCount = 1
	f.dirty = false
	f.refFlag = true
	f.valid = true
	p.pageTable[id] = idx

	return f, nil
}

// UnfixPage releases the caller's pin on f. dirty=true marks the page for
// eventual write-back; once set, the dirty flag is only cleared by a flush.
func (p *Pool) UnfixPage(f *Frame, dirty bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if dirty {
		f.dirty = true
	}
	if f.pinCount > 0 {
		f.pinCount--
	}
	p.metrics.dirty.Set(float64(p.countDirty()))
}

// FlushPage synchronously writes the page if it is both resident and dirty.
func (p *Pool) FlushPage(id common.PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.pageTable[id]
	if !ok {
		return nil
	}
	f := &p.frames[idx]
	if !f.dirty {
		return nil
	}
	return p.flushFrame(f)
}

// FlushAllPages synchronously writes every dirty, resident page.
func (p *Pool) FlushAllPages() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.frames {
		f := &p.frames[i]
		if f.valid && f.dirty {
			if err := p.flushFrame(f); err != nil {
				return err
			}
		}
	}
	return nil
}

// DirtyPageIDs snapshots the set of currently dirty, resident page ids, in
// frame-table order.
func (p *Pool) DirtyPageIDs() []common.PageID {
	p.mu.Lock()
	defer p.mu.Unlock()

	var ids []common.PageID
	for i := range p.frames {
		f := &p.frames[i]
		if f.valid && f.dirty {
			ids = append(ids, f.id)
		}
	}
	return ids
}

// DiscardAllPages drops every frame's contents without flushing, simulating
// the loss of volatile memory in a crash.
func (p *Pool) DiscardAllPages() {
	p.mu.Lock()
	defer p.mu.Unlock()

	level.Debug(p.logger).Log("msg", "discarding all buffer pool pages")

	for i := range p.frames {
		p.frames[i] = Frame{buf: p.frames[i].buf}
	}
	p.pageTable = make(map[common.PageID]int, len(p.frames))
	p.freeList = p.freeList[:0]
	for i := len(p.frames) - 1; i >= 0; i-- {
		p.freeList = append(p.freeList, i)
	}
	p.metrics.dirty.Set(0)
}

func (p *Pool) countDirty() int {
	n := 0
	for i := range p.frames {
		if p.frames[i].valid && p.frames[i].dirty {
			n++
		}
	}
	return n
}

func (p *Pool) flushFrame(f *Frame) error {
	off := int64(f.id) * int64(p.pageSize)
	size, err := p.store.Size()
	if err != nil {
		return err
	}
	if off+int64(p.pageSize) > size {
		if err := p.store.Resize(off + int64(p.pageSize)); err != nil {
			return err
		}
	}
	if err := p.store.WriteBlock(f.buf, off); err != nil {
		return err
	}
	f.dirty = false
	return nil
}

func (p *Pool) evictOrAllocate() (int, error) {
	if n := len(p.freeList); n > 0 {
		idx := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		return idx, nil
	}

	for scanned := 0; scanned < 2*len(p.frames); scanned++ {
		idx := p.clockHand
		p.clockHand = (p.clockHand + 1) % len(p.frames)
		f := &p.frames[idx]
		if f.pinCount > 0 {
			continue
		}
		if f.refFlag {
			f.refFlag = false
			continue
		}
		p.metrics.evictions.Inc()
		return idx, nil
	}
	return 0, errNoFreeFrame
}

var errNoFreeFrame = errors.New("buffer pool: no unpinned frame available for eviction")
