package txn

import (
	"testing"

	"github.com/CesarPetrescu/CrabSQL/pkg/catalog"
)

func TestBeginAssignsIncreasingIDs(t *testing.T) {
	m := NewManager(10)
	t1 := m.Begin()
	t2 := m.Begin()
	if t1.ID() != 11 || t2.ID() != 12 {
		t.Fatalf("expected ids 11 and 12, got %d and %d", t1.ID(), t2.ID())
	}
	if m.LastIssued() != 12 {
		t.Fatalf("LastIssued = %d, want 12", m.LastIssued())
	}
}

func TestViewSeesOwnWrites(t *testing.T) {
	m := NewManager(0)
	tx := m.Begin()
	if !tx.View().Sees(tx.ID()) {
		t.Fatal("transaction must see its own id")
	}
}

func TestViewHidesConcurrentAndLater(t *testing.T) {
	m := NewManager(0)
	t1 := m.Begin() // id 1, stays active
	t2 := m.Begin() // id 2, sees t1 as active
	if t2.View().Sees(t1.ID()) {
		t.Fatal("t2 must not see still-active t1")
	}

	t3 := m.Begin() // id 3, begins after t2's view
	if t2.View().Sees(t3.ID()) {
		t.Fatal("t2 must not see later-started t3")
	}
	_ = t3

	// Even after t1 commits, t2's view was cut earlier and stays stable.
	if err := m.MarkCommitted(t1); err != nil {
		t.Fatalf("commit t1: %v", err)
	}
	if t2.View().Sees(t1.ID()) {
		t.Fatal("t2's snapshot must not change after t1 commits")
	}

	// A fresh transaction sees t1's writes.
	t4 := m.Begin()
	if !t4.View().Sees(t1.ID()) {
		t.Fatal("t4 must see committed t1")
	}
}

func TestFinishRemovesFromActiveSet(t *testing.T) {
	m := NewManager(0)
	tx := m.Begin()
	if !m.IsActive(tx.ID()) {
		t.Fatal("expected tx in active set")
	}
	if err := m.MarkAborted(tx); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if m.IsActive(tx.ID()) {
		t.Fatal("aborted tx still in active set")
	}
	if err := m.MarkAborted(tx); err != ErrNotActive {
		t.Fatalf("second abort: got %v, want ErrNotActive", err)
	}
}

func row(vals ...int64) *catalog.Row {
	r := &catalog.Row{}
	for _, v := range vals {
		r.Values = append(r.Values, catalog.NewInt(v))
	}
	return r
}

func TestWriteBufferReadOwnWrites(t *testing.T) {
	m := NewManager(0)
	tx := m.Begin()
	key := RowKey{DB: "d", Table: "t", PK: 1}

	if _, ok := tx.PendingGet(key); ok {
		t.Fatal("untouched key should miss the buffer")
	}
	tx.StageWrite(key, row(1, 10))
	got, ok := tx.PendingGet(key)
	if !ok || got == nil {
		t.Fatal("staged write not readable")
	}
	tx.StageDelete(key)
	got, ok = tx.PendingGet(key)
	if !ok || got != nil {
		t.Fatal("staged delete should read as a present tombstone")
	}
}

func TestPendingScanOrderAndTableFilter(t *testing.T) {
	m := NewManager(0)
	tx := m.Begin()
	tx.StageWrite(RowKey{DB: "d", Table: "b", PK: 2}, row(2))
	tx.StageWrite(RowKey{DB: "d", Table: "a", PK: 5}, row(5))
	tx.StageWrite(RowKey{DB: "d", Table: "b", PK: 1}, row(1))

	var pks []int64
	tx.PendingScan("d", "b", func(key RowKey, r *catalog.Row) bool {
		pks = append(pks, key.PK)
		return true
	})
	if len(pks) != 2 || pks[0] != 1 || pks[1] != 2 {
		t.Fatalf("scan order = %v, want [1 2]", pks)
	}
}

func TestSavepointRollbackRestoresBuffer(t *testing.T) {
	m := NewManager(0)
	tx := m.Begin()
	k1 := RowKey{DB: "d", Table: "t", PK: 1}
	k2 := RowKey{DB: "d", Table: "t", PK: 2}

	tx.StageWrite(k1, row(1))
	if err := tx.Savepoint("sp1"); err != nil {
		t.Fatalf("savepoint: %v", err)
	}
	tx.StageWrite(k2, row(2))
	tx.StageDelete(k1)

	if err := tx.RollbackToSavepoint("sp1"); err != nil {
		t.Fatalf("rollback to savepoint: %v", err)
	}
	if r, ok := tx.PendingGet(k1); !ok || r == nil {
		t.Fatal("k1 should be restored to the staged row")
	}
	if _, ok := tx.PendingGet(k2); ok {
		t.Fatal("k2 staged after the savepoint should be gone")
	}

	// The savepoint survives a rollback and can be used again.
	tx.StageWrite(k2, row(2))
	if err := tx.RollbackToSavepoint("sp1"); err != nil {
		t.Fatalf("second rollback to savepoint: %v", err)
	}
	if _, ok := tx.PendingGet(k2); ok {
		t.Fatal("k2 should be gone again")
	}
}

func TestSavepointStackDiscardsNewer(t *testing.T) {
	m := NewManager(0)
	tx := m.Begin()
	if err := tx.Savepoint("a"); err != nil {
		t.Fatal(err)
	}
	if err := tx.Savepoint("b"); err != nil {
		t.Fatal(err)
	}
	if err := tx.RollbackToSavepoint("a"); err != nil {
		t.Fatal(err)
	}
	if err := tx.RollbackToSavepoint("b"); err == nil {
		t.Fatal("savepoint b should have been discarded by rollback to a")
	}
}

func TestReleaseSavepoint(t *testing.T) {
	m := NewManager(0)
	tx := m.Begin()
	tx.StageWrite(RowKey{DB: "d", Table: "t", PK: 1}, row(1))
	if err := tx.Savepoint("sp"); err != nil {
		t.Fatal(err)
	}
	if err := tx.ReleaseSavepoint("sp"); err != nil {
		t.Fatal(err)
	}
	if err := tx.RollbackToSavepoint("sp"); err == nil {
		t.Fatal("released savepoint must not be usable")
	}
	// The buffer itself is untouched by release.
	if _, ok := tx.PendingGet(RowKey{DB: "d", Table: "t", PK: 1}); !ok {
		t.Fatal("release must not discard buffered writes")
	}
}

func TestUnknownSavepoint(t *testing.T) {
	m := NewManager(0)
	tx := m.Begin()
	if err := tx.RollbackToSavepoint("nope"); err == nil {
		t.Fatal("expected error for unknown savepoint")
	}
}
