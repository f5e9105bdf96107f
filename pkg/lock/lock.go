// Package lock provides per-row exclusive locks for writers. A second
// writer blocks until the holder finishes; there is no timeout and no
// deadlock detection.
package lock

import (
	"context"
	"sync"

	"github.com/CesarPetrescu/CrabSQL/pkg/txn"
)

// RowLocker is the write-lock surface the executor depends on. Locks
// are exclusive, reentrant per owner, and released in bulk when the
// owning transaction finishes.
type RowLocker interface {
	// Acquire takes the exclusive lock on key for owner, blocking
	// until it is free. Returns ctx.Err() if the context ends first.
	Acquire(ctx context.Context, owner txn.TxID, key txn.RowKey) error
	// ReleaseAll drops every lock held by owner and wakes waiters.
	ReleaseAll(owner txn.TxID)
}

type waiter struct {
	owner txn.TxID
	ready chan struct{}
}

type lockEntry struct {
	holder  txn.TxID
	held    bool
	waiters []*waiter
}

// Manager is the blocking RowLocker implementation.
type Manager struct {
	mu    sync.Mutex
	locks map[txn.RowKey]*lockEntry
	// owned tracks keys per owner for bulk release.
	owned map[txn.TxID]map[txn.RowKey]struct{}
}

// NewManager creates an empty lock table.
func NewManager() *Manager {
	return &Manager{
		locks: make(map[txn.RowKey]*lockEntry),
		owned: make(map[txn.TxID]map[txn.RowKey]struct{}),
	}
}

// Acquire implements RowLocker. Waiters are queued FIFO so a writer
// cannot be starved by later arrivals.
func (m *Manager) Acquire(ctx context.Context, owner txn.TxID, key txn.RowKey) error {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &lockEntry{}
		m.locks[key] = e
	}
	if !e.held {
		e.held = true
		e.holder = owner
		m.track(owner, key)
		m.mu.Unlock()
		return nil
	}
	if e.holder == owner {
		m.mu.Unlock()
		return nil
	}
	w := &waiter{owner: owner, ready: make(chan struct{})}
	e.waiters = append(e.waiters, w)
	m.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		m.abandon(key, w)
		return ctx.Err()
	}
}

// abandon removes a cancelled waiter, unless it was already granted the
// lock, in which case the grant is passed on.
func (m *Manager) abandon(key txn.RowKey, w *waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.locks[key]
	if !ok {
		return
	}
	for i, cand := range e.waiters {
		if cand == w {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			return
		}
	}
	// Not in the queue: the grant raced the cancellation.
	if e.held && e.holder == w.owner {
		m.releaseLocked(e, key, w.owner)
	}
}

// ReleaseAll implements RowLocker.
func (m *Manager) ReleaseAll(owner txn.TxID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := m.owned[owner]
	delete(m.owned, owner)
	for key := range keys {
		e, ok := m.locks[key]
		if !ok || !e.held || e.holder != owner {
			continue
		}
		m.releaseLocked(e, key, owner)
	}
}

// releaseLocked hands the lock to the first waiter or clears it.
// Caller holds m.mu.
func (m *Manager) releaseLocked(e *lockEntry, key txn.RowKey, owner txn.TxID) {
	if set := m.owned[owner]; set != nil {
		delete(set, key)
	}
	if len(e.waiters) == 0 {
		delete(m.locks, key)
		return
	}
	next := e.waiters[0]
	e.waiters = e.waiters[1:]
	e.holder = next.owner
	m.track(next.owner, key)
	close(next.ready)
}

func (m *Manager) track(owner txn.TxID, key txn.RowKey) {
	set := m.owned[owner]
	if set == nil {
		set = make(map[txn.RowKey]struct{})
		m.owned[owner] = set
	}
	set[key] = struct{}{}
}

// Holder reports the current holder of a key, for introspection.
func (m *Manager) Holder(key txn.RowKey) (txn.TxID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.locks[key]
	if !ok || !e.held {
		return 0, false
	}
	return e.holder, true
}
