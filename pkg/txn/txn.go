// Package txn provides transaction identity, snapshot read views, and
// per-transaction write buffers with savepoint support.
package txn

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tidwall/btree"

	"github.com/CesarPetrescu/CrabSQL/pkg/catalog"
)

// TxID is a monotonically increasing transaction identifier.
// ID 0 is never issued.
type TxID uint64

// State tracks a transaction through its lifecycle.
type State uint8

const (
	StateActive State = iota
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// ErrNotActive is returned when an operation requires an active transaction.
var ErrNotActive = errors.New("transaction is not active")

// ErrNoSavepoint is returned when a named savepoint does not exist.
var ErrNoSavepoint = errors.New("savepoint does not exist")

// RowKey addresses one logical row.
type RowKey struct {
	DB    string
	Table string
	PK    int64
}

func (k RowKey) String() string {
	return fmt.Sprintf("%s.%s[%d]", k.DB, k.Table, k.PK)
}

func compareRowKeys(a, b RowKey) bool {
	if a.DB != b.DB {
		return a.DB < b.DB
	}
	if a.Table != b.Table {
		return a.Table < b.Table
	}
	return a.PK < b.PK
}

// PendingRow is one buffered write. A nil Row is a pending delete.
type PendingRow struct {
	Key RowKey
	Row *catalog.Row
}

func lessPending(a, b PendingRow) bool { return compareRowKeys(a.Key, b.Key) }

// ReadView is an immutable snapshot of transaction state taken at begin
// time. A version written by transaction w is visible when w is the
// view's own transaction, or w started before the view was taken and had
// already committed by then.
type ReadView struct {
	// VisibleUpTo is one past the highest id that can be visible.
	VisibleUpTo TxID
	// Own is the observing transaction's id.
	Own TxID

	active *btree.Set[TxID]
}

// Sees reports whether a version created by the given transaction is
// visible under this view.
func (v *ReadView) Sees(creator TxID) bool {
	if creator == v.Own {
		return true
	}
	if creator >= v.VisibleUpTo {
		return false
	}
	return !v.active.Contains(creator)
}

// ActiveIDs returns the snapshotted active set, ascending.
func (v *ReadView) ActiveIDs() []TxID {
	return v.active.Keys()
}

type savepoint struct {
	name   string
	buffer *btree.BTreeG[PendingRow]
}

// Transaction is one client transaction: an id, a read view, a private
// ordered write buffer, and a savepoint stack. Buffered writes are
// invisible to every other transaction until Commit drains them into
// the row store.
type Transaction struct {
	id    TxID
	view  ReadView
	state State

	pending    *btree.BTreeG[PendingRow]
	savepoints []savepoint

	mgr *Manager
}

// ID returns the transaction id.
func (t *Transaction) ID() TxID { return t.id }

// View returns the transaction's read view.
func (t *Transaction) View() *ReadView { return &t.view }

// State returns the lifecycle state.
func (t *Transaction) State() State { return t.state }

// Active reports whether the transaction can still run statements.
func (t *Transaction) Active() bool { return t.state == StateActive }

// StageWrite buffers an insert or update for the given row.
func (t *Transaction) StageWrite(key RowKey, row *catalog.Row) {
	t.pending.Set(PendingRow{Key: key, Row: row})
}

// StageDelete buffers a tombstone for the given row.
func (t *Transaction) StageDelete(key RowKey) {
	t.pending.Set(PendingRow{Key: key, Row: nil})
}

// PendingGet looks a key up in the write buffer. The second result is
// false when the transaction has not touched the key; a true result
// with a nil row means the row is deleted in this transaction.
func (t *Transaction) PendingGet(key RowKey) (*catalog.Row, bool) {
	p, ok := t.pending.Get(PendingRow{Key: key})
	if !ok {
		return nil, false
	}
	return p.Row, true
}

// PendingLen returns the number of buffered row changes.
func (t *Transaction) PendingLen() int { return t.pending.Len() }

// PendingScan visits buffered changes for one table in primary key
// order. Deletes are visited with a nil row.
func (t *Transaction) PendingScan(db, table string, fn func(key RowKey, row *catalog.Row) bool) {
	from := PendingRow{Key: RowKey{DB: db, Table: table, PK: -1 << 63}}
	t.pending.Ascend(from, func(p PendingRow) bool {
		if p.Key.DB != db || p.Key.Table != table {
			return false
		}
		return fn(p.Key, p.Row)
	})
}

// PendingAll returns every buffered change in key order.
func (t *Transaction) PendingAll() []PendingRow {
	out := make([]PendingRow, 0, t.pending.Len())
	t.pending.Scan(func(p PendingRow) bool {
		out = append(out, p)
		return true
	})
	return out
}

// DiscardWrites drops buffered changes staged by a failed statement,
// restoring the buffer to the given prior snapshot.
func (t *Transaction) DiscardWrites(snap *btree.BTreeG[PendingRow]) {
	t.pending = snap
}

// SnapshotWrites captures the current buffer for statement-level
// rollback. The copy is cheap (copy-on-write).
func (t *Transaction) SnapshotWrites() *btree.BTreeG[PendingRow] {
	return t.pending.Copy()
}

// Savepoint pushes a named snapshot of the write buffer. Reusing a name
// stacks a new entry over the old one.
func (t *Transaction) Savepoint(name string) error {
	if !t.Active() {
		return ErrNotActive
	}
	t.savepoints = append(t.savepoints, savepoint{
		name:   strings.ToLower(name),
		buffer: t.pending.Copy(),
	})
	return nil
}

// RollbackToSavepoint restores the buffer to the named savepoint and
// discards savepoints created after it. The savepoint itself survives,
// so it can be rolled back to again.
func (t *Transaction) RollbackToSavepoint(name string) error {
	if !t.Active() {
		return ErrNotActive
	}
	i := t.findSavepoint(name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNoSavepoint, name)
	}
	t.pending = t.savepoints[i].buffer.Copy()
	t.savepoints = t.savepoints[:i+1]
	return nil
}

// ReleaseSavepoint removes the named savepoint and everything stacked
// above it without touching the buffer.
func (t *Transaction) ReleaseSavepoint(name string) error {
	if !t.Active() {
		return ErrNotActive
	}
	i := t.findSavepoint(name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNoSavepoint, name)
	}
	t.savepoints = t.savepoints[:i]
	return nil
}

func (t *Transaction) findSavepoint(name string) int {
	name = strings.ToLower(name)
	for i := len(t.savepoints) - 1; i >= 0; i-- {
		if t.savepoints[i].name == name {
			return i
		}
	}
	return -1
}

// Manager issues transaction ids and maintains the active set that
// read views are cut from.
type Manager struct {
	mu     sync.Mutex
	nextID TxID
	active btree.Set[TxID]
}

// NewManager creates a manager whose first issued id is lastIssued+1.
// Pass the persisted high-water mark on startup so ids stay monotonic
// across restarts.
func NewManager(lastIssued TxID) *Manager {
	return &Manager{nextID: lastIssued + 1}
}

// Begin starts a transaction: allocates the next id, snapshots the
// active set, and registers the new id as active.
func (m *Manager) Begin() *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++

	t := &Transaction{
		id:    id,
		state: StateActive,
		view: ReadView{
			VisibleUpTo: id,
			Own:         id,
			active:      m.active.Copy(),
		},
		pending: btree.NewBTreeG(lessPending),
		mgr:     m,
	}
	m.active.Insert(id)
	return t
}

// finish removes the id from the active set and moves the transaction
// to a terminal state.
func (m *Manager) finish(t *Transaction, final State) error {
	if !t.Active() {
		return ErrNotActive
	}
	m.mu.Lock()
	m.active.Delete(t.id)
	m.mu.Unlock()
	t.state = final
	t.savepoints = nil
	return nil
}

// MarkCommitted finalizes a transaction after its buffer has been
// applied to the row store. Ordering matters: the store must hold the
// committed versions before the id leaves the active set, otherwise a
// concurrent reader could cut a view that treats the id as committed
// while its rows are still missing.
func (m *Manager) MarkCommitted(t *Transaction) error {
	return m.finish(t, StateCommitted)
}

// MarkAborted finalizes a rolled-back transaction.
func (m *Manager) MarkAborted(t *Transaction) error {
	return m.finish(t, StateAborted)
}

// IsActive reports whether the given id is currently in the active set.
func (m *Manager) IsActive(id TxID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active.Contains(id)
}

// LastIssued returns the highest id handed out so far.
func (m *Manager) LastIssued() TxID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextID - 1
}
