// Package txn implements the transaction manager external collaborator:
// transaction id allocation, per-transaction modified-page tracking, and
// begin/insert/update/commit/abort orchestration that delegates all
// durability to the WAL.
package txn

import (
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"walcore/internal/common"
	"walcore/internal/heap"
	"walcore/internal/wal"
)

var ErrUnknownTransaction = errors.New("txn: transaction not active")

// txnState is the set of pages a live transaction has touched, used only
// for logging/diagnostics — the WAL, not this map, is the source of truth
// for what must be undone on abort.
type txnState struct {
	pages map[common.PageID]struct{}
}

// Manager allocates transaction ids and routes heap mutations through the
// heap segment and then the WAL, one transaction at a time (per the
// single-writer scheduling model this module assumes).
type Manager struct {
	mu     sync.Mutex
	nextID atomic.Uint64
	live   map[common.TxnID]*txnState

	wal    *wal.WAL
	heap   *heap.Segment
	logger log.Logger
}

// New builds a Manager that logs through w and mutates pages through seg.
func New(w *wal.WAL, seg *heap.Segment, logger log.Logger) *Manager {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Manager{
		live:   make(map[common.TxnID]*txnState),
		wal:    w,
		heap:   seg,
		logger: logger,
	}
}

// Begin allocates a new transaction id, appends its BEGIN record, and
// tracks it as live.
func (m *Manager) Begin() (common.TxnID, error) {
	id := common.TxnID(m.nextID.Add(1))

	if err := m.wal.AppendBegin(id); err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.live[id] = &txnState{pages: make(map[common.PageID]struct{})}
	m.mu.Unlock()

	level.Debug(m.logger).Log("msg", "transaction began", "txn", id)
	return id, nil
}

// Insert writes tuple onto pageID on behalf of txnID and logs the resulting
// UPDATE record (an insert's before-image is the zero-filled bytes it
// lands on). Returns the slot the tuple was placed in.
func (m *Manager) Insert(txnID common.TxnID, pageID common.PageID, tuple []byte) (slot int, err error) {
	st, err := m.activeState(txnID)
	if err != nil {
		return 0, err
	}

	slot, offset, before, after, err := m.heap.InsertTuple(pageID, tuple)
	if err != nil {
		return 0, err
	}

	if err := m.wal.AppendUpdate(txnID, pageID, uint64(offset), before, after); err != nil {
		return 0, err
	}

	m.mu.Lock()
	st.pages[pageID] = struct{}{}
	m.mu.Unlock()

	return slot, nil
}

// Update overwrites the tuple at slot on pageID on behalf of txnID with
// newBytes and logs the resulting UPDATE record.
func (m *Manager) Update(txnID common.TxnID, pageID common.PageID, slot int, newBytes []byte) error {
	st, err := m.activeState(txnID)
	if err != nil {
		return err
	}

	offset, before, after, err := m.heap.UpdateTuple(pageID, slot, newBytes)
	if err != nil {
		return err
	}

	if err := m.wal.AppendUpdate(txnID, pageID, uint64(offset), before, after); err != nil {
		return err
	}

	m.mu.Lock()
	st.pages[pageID] = struct{}{}
	m.mu.Unlock()

	return nil
}

// Commit appends txnID's COMMIT record and drops it from the live set.
func (m *Manager) Commit(txnID common.TxnID) error {
	if _, err := m.activeState(txnID); err != nil {
		return err
	}

	if err := m.wal.AppendCommit(txnID); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.live, txnID)
	m.mu.Unlock()

	level.Debug(m.logger).Log("msg", "transaction committed", "txn", txnID)
	return nil
}

// Abort appends txnID's ABORT record, which itself triggers the WAL's
// rollback of txnID's updates, then drops it from the live set.
func (m *Manager) Abort(txnID common.TxnID) error {
	if _, err := m.activeState(txnID); err != nil {
		return err
	}

	if err := m.wal.AppendAbort(txnID); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.live, txnID)
	m.mu.Unlock()

	level.Debug(m.logger).Log("msg", "transaction aborted", "txn", txnID)
	return nil
}

func (m *Manager) activeState(txnID common.TxnID) (*txnState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.live[txnID]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownTransaction, "txn %s", txnID)
	}
	return st, nil
}
