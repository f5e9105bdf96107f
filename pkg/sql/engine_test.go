package sql

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/CesarPetrescu/CrabSQL/internal/logger"
	"github.com/CesarPetrescu/CrabSQL/pkg/catalog"
	"github.com/CesarPetrescu/CrabSQL/pkg/index"
	"github.com/CesarPetrescu/CrabSQL/pkg/lock"
	"github.com/CesarPetrescu/CrabSQL/pkg/storage"
	"github.com/CesarPetrescu/CrabSQL/pkg/txn"
)

type testDB struct {
	eng *Engine
	idx *index.Maintainer
}

func setupEngine(t *testing.T) *testDB {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	cat, err := catalog.Open(store.DB())
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(cat.Close)
	idx, err := index.NewMaintainer(store.DB())
	if err != nil {
		t.Fatalf("new maintainer: %v", err)
	}
	last, err := store.MaxTxID()
	if err != nil {
		t.Fatal(err)
	}
	mgr := txn.NewManager(last)
	eng := NewEngine(store, cat, mgr, lock.NewManager(), idx, logger.NewNop())
	return &testDB{eng: eng, idx: idx}
}

func (db *testDB) session() *Session {
	return NewSession(db.eng, logger.NewNop())
}

func exec(t *testing.T, s *Session, sqls ...string) *Result {
	t.Helper()
	var res *Result
	for _, q := range sqls {
		var err error
		res, err = s.Execute(context.Background(), q)
		if err != nil {
			t.Fatalf("exec %q: %v", q, err)
		}
	}
	return res
}

func setupPeople(t *testing.T, db *testDB) *Session {
	t.Helper()
	s := db.session()
	exec(t, s,
		"CREATE DATABASE app",
		"USE app",
		`CREATE TABLE people (
			id INT PRIMARY KEY AUTO_INCREMENT,
			name TEXT NOT NULL,
			age INT,
			dept TEXT
		)`,
		`INSERT INTO people (name, age, dept) VALUES
			('alice', 30, 'eng'),
			('bob', NULL, 'eng'),
			('carol', 41, 'sales'),
			('dave', 35, NULL)`,
	)
	return s
}

func TestInsertSelectRoundTrip(t *testing.T) {
	db := setupEngine(t)
	s := setupPeople(t, db)
	res := exec(t, s, "SELECT id, name FROM people")
	if len(res.Rows) != 4 {
		t.Fatalf("rows = %d, want 4", len(res.Rows))
	}
	if res.Rows[0][0].Int != 1 || res.Rows[0][1].Text != "alice" {
		t.Fatalf("first row = %v", res.Rows[0])
	}
	if res.Columns[0] != "id" || res.Columns[1] != "name" {
		t.Fatalf("columns = %v", res.Columns)
	}
}

func TestAutoIncrementAndExplicitKey(t *testing.T) {
	db := setupEngine(t)
	s := setupPeople(t, db)
	exec(t, s, "INSERT INTO people (id, name) VALUES (100, 'eve')")
	exec(t, s, "INSERT INTO people (name) VALUES ('frank')")
	res := exec(t, s, "SELECT id FROM people WHERE name = 'frank'")
	if len(res.Rows) != 1 || res.Rows[0][0].Int != 101 {
		t.Fatalf("generated key = %v, want 101 after explicit 100", res.Rows)
	}
}

func TestDuplicatePrimaryKeyRejected(t *testing.T) {
	db := setupEngine(t)
	s := setupPeople(t, db)
	_, err := s.Execute(context.Background(), "INSERT INTO people (id, name) VALUES (1, 'dup')")
	if !errors.Is(err, ErrConstraintViolation) {
		t.Fatalf("got %v, want ErrConstraintViolation", err)
	}
}

func TestNotNullEnforced(t *testing.T) {
	db := setupEngine(t)
	s := setupPeople(t, db)
	_, err := s.Execute(context.Background(), "INSERT INTO people (name, age) VALUES (NULL, 20)")
	if !errors.Is(err, ErrConstraintViolation) {
		t.Fatalf("got %v, want ErrConstraintViolation", err)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	db := setupEngine(t)
	s := setupPeople(t, db)
	res := exec(t, s, "UPDATE people SET age = 31 WHERE name = 'alice'")
	if res.RowsAffected != 1 {
		t.Fatalf("affected = %d", res.RowsAffected)
	}
	res = exec(t, s, "SELECT age FROM people WHERE name = 'alice'")
	if res.Rows[0][0].Int != 31 {
		t.Fatalf("age = %v", res.Rows[0][0])
	}

	res = exec(t, s, "DELETE FROM people WHERE dept = 'eng'")
	if res.RowsAffected != 2 {
		t.Fatalf("deleted = %d, want 2", res.RowsAffected)
	}
	res = exec(t, s, "SELECT COUNT(*) FROM people")
	if res.Rows[0][0].Int != 2 {
		t.Fatalf("remaining = %v", res.Rows[0][0])
	}
}

// A NULL-valued WHERE predicate excludes the row from = and != alike;
// only IS NULL reaches it.
func TestNullPredicateFiltering(t *testing.T) {
	db := setupEngine(t)
	s := setupPeople(t, db)

	res := exec(t, s, "SELECT name FROM people WHERE age = 35")
	if len(res.Rows) != 1 || res.Rows[0][0].Text != "dave" {
		t.Fatalf("= 35 returned %v", res.Rows)
	}
	res = exec(t, s, "SELECT name FROM people WHERE age != 35")
	if len(res.Rows) != 2 {
		t.Fatalf("!= 35 returned %d rows, want 2 (NULL age excluded)", len(res.Rows))
	}
	res = exec(t, s, "SELECT name FROM people WHERE age IS NULL")
	if len(res.Rows) != 1 || res.Rows[0][0].Text != "bob" {
		t.Fatalf("IS NULL returned %v", res.Rows)
	}
	// UPDATE's WHERE uses the same retention rule.
	res = exec(t, s, "UPDATE people SET dept = 'misc' WHERE age != 35")
	if res.RowsAffected != 2 {
		t.Fatalf("update touched %d rows, want 2", res.RowsAffected)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	db := setupEngine(t)
	s1 := setupPeople(t, db)

	s2 := db.session()
	exec(t, s2, "USE app")

	exec(t, s1, "BEGIN")
	res := exec(t, s1, "SELECT COUNT(*) FROM people")
	if res.Rows[0][0].Int != 4 {
		t.Fatalf("baseline count = %v", res.Rows[0][0])
	}

	// s2 commits a new row after s1's snapshot was cut.
	exec(t, s2, "INSERT INTO people (name) VALUES ('zed')")

	res = exec(t, s1, "SELECT COUNT(*) FROM people")
	if res.Rows[0][0].Int != 4 {
		t.Fatalf("snapshot changed mid-transaction: %v", res.Rows[0][0])
	}
	exec(t, s1, "COMMIT")

	res = exec(t, s1, "SELECT COUNT(*) FROM people")
	if res.Rows[0][0].Int != 5 {
		t.Fatalf("post-commit count = %v, want 5", res.Rows[0][0])
	}
}

func TestUncommittedWritesInvisibleToOthers(t *testing.T) {
	db := setupEngine(t)
	s1 := setupPeople(t, db)
	s2 := db.session()
	exec(t, s2, "USE app")

	exec(t, s1, "BEGIN", "INSERT INTO people (name) VALUES ('ghost')")

	res := exec(t, s2, "SELECT COUNT(*) FROM people")
	if res.Rows[0][0].Int != 4 {
		t.Fatalf("uncommitted write leaked: count = %v", res.Rows[0][0])
	}
	// The writer reads its own buffer.
	res = exec(t, s1, "SELECT COUNT(*) FROM people")
	if res.Rows[0][0].Int != 5 {
		t.Fatalf("own write invisible: count = %v", res.Rows[0][0])
	}
	exec(t, s1, "ROLLBACK")
	res = exec(t, s2, "SELECT COUNT(*) FROM people")
	if res.Rows[0][0].Int != 4 {
		t.Fatalf("rollback left residue: count = %v", res.Rows[0][0])
	}
}

// A second writer blocks on the row lock. When it wakes, its snapshot
// is stale; committing over the newer version loses first-committer-
// wins validation and surfaces WriteConflict. A retry on a fresh
// snapshot succeeds.
func TestSecondWriterBlocksThenConflicts(t *testing.T) {
	db := setupEngine(t)
	s1 := setupPeople(t, db)
	s2 := db.session()
	exec(t, s2, "USE app")

	exec(t, s1, "BEGIN", "UPDATE people SET age = 1 WHERE id = 1")

	done := make(chan error, 1)
	go func() {
		_, err := s2.Execute(context.Background(), "UPDATE people SET age = 2 WHERE id = 1")
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("second writer did not block (err=%v)", err)
	case <-time.After(50 * time.Millisecond):
	}

	exec(t, s1, "COMMIT")
	select {
	case err := <-done:
		if !errors.Is(err, ErrWriteConflict) {
			t.Fatalf("second writer got %v, want ErrWriteConflict", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second writer stayed blocked after commit")
	}

	res := exec(t, s1, "SELECT age FROM people WHERE id = 1")
	if res.Rows[0][0].Int != 1 {
		t.Fatalf("age = %v, want the first committer's 1", res.Rows[0][0])
	}

	// Retried on a fresh snapshot, the update goes through.
	exec(t, s2, "UPDATE people SET age = 2 WHERE id = 1")
	res = exec(t, s1, "SELECT age FROM people WHERE id = 1")
	if res.Rows[0][0].Int != 2 {
		t.Fatalf("age after retry = %v, want 2", res.Rows[0][0])
	}
}

func TestStatementFailureKeepsTransactionUsable(t *testing.T) {
	db := setupEngine(t)
	s := setupPeople(t, db)
	exec(t, s, "BEGIN", "INSERT INTO people (name) VALUES ('keep')")

	_, err := s.Execute(context.Background(), "INSERT INTO people (id, name) VALUES (1, 'dup')")
	if !errors.Is(err, ErrExecutionAborted) {
		t.Fatalf("got %v, want ErrExecutionAborted", err)
	}
	if !errors.Is(err, ErrConstraintViolation) {
		t.Fatalf("underlying kind lost: %v", err)
	}

	// The earlier staged insert survives and commits.
	exec(t, s, "COMMIT")
	res := exec(t, s, "SELECT COUNT(*) FROM people WHERE name = 'keep'")
	if res.Rows[0][0].Int != 1 {
		t.Fatal("write staged before the failed statement was lost")
	}
	res = exec(t, s, "SELECT COUNT(*) FROM people WHERE name = 'dup'")
	if res.Rows[0][0].Int != 0 {
		t.Fatal("failed statement's write leaked")
	}
}

func TestSavepointsOverSQL(t *testing.T) {
	db := setupEngine(t)
	s := setupPeople(t, db)
	exec(t, s,
		"BEGIN",
		"INSERT INTO people (name) VALUES ('before')",
		"SAVEPOINT sp1",
		"INSERT INTO people (name) VALUES ('after')",
		"ROLLBACK TO SAVEPOINT sp1",
		"COMMIT",
	)
	res := exec(t, s, "SELECT COUNT(*) FROM people WHERE name IN ('before', 'after')")
	if res.Rows[0][0].Int != 1 {
		t.Fatalf("count = %v, want only the pre-savepoint row", res.Rows[0][0])
	}
}

func TestOrderByLimitDistinct(t *testing.T) {
	db := setupEngine(t)
	s := setupPeople(t, db)

	res := exec(t, s, "SELECT name FROM people ORDER BY age DESC")
	// NULL sorts smallest, so DESC puts bob last.
	if res.Rows[0][0].Text != "carol" || res.Rows[3][0].Text != "bob" {
		t.Fatalf("order = %v", res.Rows)
	}

	res = exec(t, s, "SELECT name FROM people ORDER BY age ASC LIMIT 2")
	if len(res.Rows) != 2 || res.Rows[0][0].Text != "bob" {
		t.Fatalf("asc limit = %v", res.Rows)
	}

	res = exec(t, s, "SELECT DISTINCT dept FROM people ORDER BY dept")
	if len(res.Rows) != 3 { // NULL, eng, sales
		t.Fatalf("distinct depts = %v", res.Rows)
	}

	res = exec(t, s, "SELECT name FROM people ORDER BY id LIMIT 2 OFFSET 1")
	if len(res.Rows) != 2 || res.Rows[0][0].Text != "bob" {
		t.Fatalf("offset page = %v", res.Rows)
	}
}

func TestSelectExpressionAliases(t *testing.T) {
	db := setupEngine(t)
	s := setupPeople(t, db)
	res := exec(t, s, "SELECT age + 1 AS next_age FROM people WHERE name = 'alice'")
	if res.Columns[0] != "next_age" || res.Rows[0][0].Int != 31 {
		t.Fatalf("got %v %v", res.Columns, res.Rows)
	}
}
