// Package txn implements the global TransactionManager described in
// spec.md §4.8: a monotonic tx-id counter, the active-transaction set,
// snapshot construction, and the row-visibility predicate every reader
// evaluates against.
package txn

import (
	"sync"
	"sync/atomic"

	"github.com/juju/errors"

	"github.com/fr3ddy-fryd3/postgrust-sql/logger"
)

// Status is the terminal or in-flight state of one transaction id.
type Status uint8

const (
	StatusActive Status = iota
	StatusCommitted
	StatusAborted
)

// Snapshot is the tuple a reader freezes at BEGIN or before each
// statement (read-committed): the smallest currently-active id, the
// current next-id counter, and the set of ids in between that are
// still active and therefore invisible.
type Snapshot struct {
	XMin     uint64
	XMax     uint64
	Active   map[uint64]bool
}

// Manager owns the tx-id counter and the active-transaction set. It is
// a process-wide singleton shared by every session, per spec.md §5's
// shared-resource policy: lock-free atomics for the counter, a
// fine-grained lock for the active set.
type Manager struct {
	nextTxID uint64 // atomic; starts issuing at 1

	mu       sync.Mutex
	active   map[uint64]struct{}
	status   map[uint64]Status // terminal status of finished transactions, kept for visibility checks

	// Commit-status floor recovered from the last Checkpoint WAL record:
	// an id below ckptNextID with no explicit status entry committed
	// before that checkpoint, unless the checkpoint recorded it as still
	// active (in which case the §4.8 rule applies: not finalized in WAL
	// means aborted).
	ckptNextID uint64
	ckptActive map[uint64]bool
}

// New creates a TransactionManager with the id counter starting at 1.
func New() *Manager {
	return &Manager{
		nextTxID:   0,
		active:     make(map[uint64]struct{}),
		status:     make(map[uint64]Status),
		ckptActive: make(map[uint64]bool),
	}
}

// Begin allocates a new transaction id, inserts it into the active set
// and returns both the id and a snapshot captured at this instant.
func (m *Manager) Begin() (uint64, Snapshot) {
	id := atomic.AddUint64(&m.nextTxID, 1)

	m.mu.Lock()
	m.active[id] = struct{}{}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	logger.Debugf("txn: began tx %d", id)
	return id, snap
}

// Commit removes txID from the active set and marks it committed; its
// mutations become visible to snapshots taken after this call returns.
func (m *Manager) Commit(txID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[txID]; !ok {
		return errors.Errorf("txn: commit of unknown or already-finished tx %d", txID)
	}
	delete(m.active, txID)
	m.status[txID] = StatusCommitted
	logger.Debugf("txn: committed tx %d", txID)
	return nil
}

// Abort removes txID from the active set and marks it aborted; its
// mutations remain on disk but are permanently invisible.
func (m *Manager) Abort(txID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[txID]; !ok {
		return errors.Errorf("txn: abort of unknown or already-finished tx %d", txID)
	}
	delete(m.active, txID)
	m.status[txID] = StatusAborted
	logger.Debugf("txn: aborted tx %d", txID)
	return nil
}

// MarkRecovered records the terminal status WAL replay determined for a
// transaction id without it ever passing through Begin in this process
// lifetime (used during crash recovery).
func (m *Manager) MarkRecovered(txID uint64, st Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[txID] = st
	if st == StatusActive {
		// Per spec.md §4.8 and §9: a transaction not finalized in WAL at
		// crash time is treated as aborted, never as still-active.
		m.status[txID] = StatusAborted
	}
}

// MarkRecoveredCheckpoint records the commit-status floor a replayed
// Checkpoint record establishes: every id below nextID that has no
// explicit terminal record in the retained WAL window finished before
// the checkpoint, and committed unless the checkpoint listed it as
// still active at the time.
func (m *Manager) MarkRecoveredCheckpoint(nextID uint64, active []uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ckptNextID = nextID
	m.ckptActive = make(map[uint64]bool, len(active))
	for _, id := range active {
		m.ckptActive[id] = true
	}
}

// SeedNextID advances the counter past the highest id observed during
// WAL replay, so newly begun transactions never reuse an id.
func (m *Manager) SeedNextID(highest uint64) {
	for {
		cur := atomic.LoadUint64(&m.nextTxID)
		if highest <= cur {
			return
		}
		if atomic.CompareAndSwapUint64(&m.nextTxID, cur, highest) {
			return
		}
	}
}

// Snapshot captures {xmin, xmax, active} at this instant. xmin is the
// smallest currently-active id (or the next id to be issued, if none are
// active); xmax is the current next_tx_id; active is the set of every
// id still running, xmin included.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	nextID := atomic.LoadUint64(&m.nextTxID)
	xmin := nextID + 1
	for id := range m.active {
		if id < xmin {
			xmin = id
		}
	}
	active := make(map[uint64]bool, len(m.active))
	for id := range m.active {
		active[id] = true
	}
	return Snapshot{XMin: xmin, XMax: nextID + 1, Active: active}
}

// OldestActive returns the smallest currently-active tx-id, or 0 (taken
// to mean infinity) if no transaction is active -- used by VACUUM as
// its cleanup horizon.
func (m *Manager) OldestActive() (id uint64, any bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	var min uint64
	for id := range m.active {
		if !found || id < min {
			min = id
			found = true
		}
	}
	return min, found
}

// Committed reports whether txID's status is known-committed, from an
// explicit terminal record or from the recovered checkpoint floor.
func (m *Manager) Committed(txID uint64) bool {
	if txID == 0 {
		return true // unset xmin/xmax sentinel: never applicable to a real tx
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.status[txID]; ok {
		return st == StatusCommitted
	}
	if _, running := m.active[txID]; running {
		return false
	}
	return txID < m.ckptNextID && !m.ckptActive[txID]
}

// Aborted reports whether txID's status is known-aborted. An id the
// last checkpoint recorded as active that never reached a terminal
// record is aborted per the §4.8 crash rule.
func (m *Manager) Aborted(txID uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.status[txID]; ok {
		return st == StatusAborted
	}
	if _, running := m.active[txID]; running {
		return false
	}
	return m.ckptActive[txID]
}

// Visible implements the per-row-per-snapshot visibility predicate of
// spec.md §4.8, extended per §4.9: within an open BEGIN…COMMIT block a
// statement must see every row its own transaction already wrote,
// committed or not -- "statements within the block see each other's
// writes (by matching their own xmin)". currentTx is the id of the
// transaction asking (0 if none, e.g. a bare catalog scan with no
// active transaction), and is checked before the ordinary
// active/committed bookkeeping: a row this transaction created is
// always visible to it, and a row it has itself marked deleted
// (xmax == currentTx) is always invisible to it, regardless of the
// commit state atomics haven't caught up to yet. xmax == 0 means unset.
func (m *Manager) Visible(xmin, xmax uint64, currentTx uint64, s Snapshot) bool {
	if currentTx != 0 && xmin == currentTx {
		// own write, including same-transaction UPDATE/DELETE stamping.
	} else if !(xmin < s.XMax) || s.Active[xmin] || !m.Committed(xmin) {
		return false
	}
	if xmax == 0 {
		return true
	}
	if currentTx != 0 && xmax == currentTx {
		return false
	}
	if xmax >= s.XMax {
		return true
	}
	if s.Active[xmax] {
		return true
	}
	if !m.Committed(xmax) {
		return true
	}
	return false
}
