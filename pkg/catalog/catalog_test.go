package catalog

import (
	"errors"
	"path/filepath"
	"testing"

	"go.etcd.io/bbolt"
)

func setupCatalog(t *testing.T) *Catalog {
	t.Helper()
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "cat.db"), 0o600, nil)
	if err != nil {
		t.Fatalf("open bbolt: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	c, err := Open(db)
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func sampleDef(db, name string) *TableDef {
	return &TableDef{
		DB:   db,
		Name: name,
		Columns: []ColumnDef{
			{Name: "id", Type: TypeInt},
			{Name: "name", Type: TypeText, Nullable: true},
		},
		PrimaryKey: "id",
	}
}

func TestCreateAndGetTable(t *testing.T) {
	c := setupCatalog(t)
	if err := c.CreateDatabase("shop"); err != nil {
		t.Fatal(err)
	}
	if err := c.CreateTable(sampleDef("shop", "items")); err != nil {
		t.Fatal(err)
	}
	def, err := c.GetTable("shop", "items")
	if err != nil {
		t.Fatal(err)
	}
	if def.Name != "items" || len(def.Columns) != 2 {
		t.Fatalf("got %+v", def)
	}
	// Lookups are case-insensitive.
	if _, err := c.GetTable("SHOP", "ITEMS"); err != nil {
		t.Fatalf("case-insensitive lookup: %v", err)
	}
}

func TestCreateTableRequiresDatabase(t *testing.T) {
	c := setupCatalog(t)
	err := c.CreateTable(sampleDef("nowhere", "t"))
	var nodb *ErrNoSuchDatabase
	if !errors.As(err, &nodb) {
		t.Fatalf("got %v, want ErrNoSuchDatabase", err)
	}
}

func TestDuplicateTableRejected(t *testing.T) {
	c := setupCatalog(t)
	if err := c.CreateDatabase("shop"); err != nil {
		t.Fatal(err)
	}
	if err := c.CreateTable(sampleDef("shop", "items")); err != nil {
		t.Fatal(err)
	}
	if err := c.CreateTable(sampleDef("shop", "items")); err == nil {
		t.Fatal("duplicate table accepted")
	}
}

func TestDropDatabaseRemovesTables(t *testing.T) {
	c := setupCatalog(t)
	if err := c.CreateDatabase("shop"); err != nil {
		t.Fatal(err)
	}
	if err := c.CreateTable(sampleDef("shop", "items")); err != nil {
		t.Fatal(err)
	}
	if err := c.DropDatabase("shop"); err != nil {
		t.Fatal(err)
	}
	var notbl *ErrNoSuchTable
	if _, err := c.GetTable("shop", "items"); !errors.As(err, &notbl) {
		t.Fatalf("got %v, want ErrNoSuchTable", err)
	}
	dbs, err := c.ListDatabases()
	if err != nil {
		t.Fatal(err)
	}
	if len(dbs) != 0 {
		t.Fatalf("databases left: %v", dbs)
	}
}

func TestListTablesScopedToDatabase(t *testing.T) {
	c := setupCatalog(t)
	for _, db := range []string{"a", "ab"} {
		if err := c.CreateDatabase(db); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.CreateTable(sampleDef("a", "t1")); err != nil {
		t.Fatal(err)
	}
	if err := c.CreateTable(sampleDef("ab", "t2")); err != nil {
		t.Fatal(err)
	}
	defs, err := c.ListTables("a")
	if err != nil {
		t.Fatal(err)
	}
	if len(defs) != 1 || defs[0].Name != "t1" {
		t.Fatalf("ListTables(a) = %+v, prefix must not leak into db \"ab\"", defs)
	}
}

func TestAutoIncrementMonotonicWithHints(t *testing.T) {
	c := setupCatalog(t)
	if err := c.CreateDatabase("shop"); err != nil {
		t.Fatal(err)
	}
	n1, err := c.NextAutoIncrement("shop", "items", 0)
	if err != nil {
		t.Fatal(err)
	}
	n2, err := c.NextAutoIncrement("shop", "items", 0)
	if err != nil {
		t.Fatal(err)
	}
	if n1 != 1 || n2 != 2 {
		t.Fatalf("got %d, %d; want 1, 2", n1, n2)
	}
	// An explicit insert at 10 pushes the counter past it.
	if err := c.ObserveKey("shop", "items", 10); err != nil {
		t.Fatal(err)
	}
	n3, err := c.NextAutoIncrement("shop", "items", 0)
	if err != nil {
		t.Fatal(err)
	}
	if n3 != 11 {
		t.Fatalf("got %d, want 11 after observing key 10", n3)
	}
	// Observing a smaller key must not move the counter back.
	if err := c.ObserveKey("shop", "items", 3); err != nil {
		t.Fatal(err)
	}
	n4, err := c.NextAutoIncrement("shop", "items", 0)
	if err != nil {
		t.Fatal(err)
	}
	if n4 != 12 {
		t.Fatalf("got %d, want 12", n4)
	}
}

func TestUserRecords(t *testing.T) {
	c := setupCatalog(t)
	if raw, err := c.GetUser("alice"); err != nil || raw != nil {
		t.Fatalf("missing user: %v %v", raw, err)
	}
	if err := c.PutUser("alice", []byte("rec")); err != nil {
		t.Fatal(err)
	}
	raw, err := c.GetUser("ALICE")
	if err != nil || string(raw) != "rec" {
		t.Fatalf("got %q, %v", raw, err)
	}
	if err := c.DeleteUser("alice"); err != nil {
		t.Fatal(err)
	}
	if raw, _ := c.GetUser("alice"); raw != nil {
		t.Fatal("user not deleted")
	}
}
