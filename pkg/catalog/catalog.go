package catalog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dgraph-io/ristretto/v2"
	"go.etcd.io/bbolt"
)

var (
	bucketDatabases = []byte("catalog_databases")
	bucketTables    = []byte("catalog_tables")
	bucketAutoInc   = []byte("catalog_autoinc")
	bucketUsers     = []byte("catalog_users")
)

// ErrNoSuchTable is returned when a table lookup misses.
type ErrNoSuchTable struct{ DB, Table string }

func (e *ErrNoSuchTable) Error() string {
	return fmt.Sprintf("table %s.%s does not exist", e.DB, e.Table)
}

// ErrNoSuchDatabase is returned when a database lookup misses.
type ErrNoSuchDatabase struct{ DB string }

func (e *ErrNoSuchDatabase) Error() string {
	return fmt.Sprintf("database %s does not exist", e.DB)
}

// Catalog stores database and table descriptors in bbolt, with a
// ristretto read cache in front of the table bucket. Descriptor writes
// are rare; reads happen on every statement.
type Catalog struct {
	db    *bbolt.DB
	cache *ristretto.Cache[string, *TableDef]
}

// Open prepares the catalog buckets and cache on an already-open bbolt DB.
func Open(db *bbolt.DB) (*Catalog, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketDatabases, bucketTables, bucketAutoInc, bucketUsers} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("init catalog buckets: %w", err)
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, *TableDef]{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("init catalog cache: %w", err)
	}
	return &Catalog{db: db, cache: cache}, nil
}

// Close releases the descriptor cache. The bbolt handle is owned by the
// caller and stays open.
func (c *Catalog) Close() {
	c.cache.Close()
}

func tableKey(db, table string) []byte {
	return []byte(strings.ToLower(db) + "\x00" + strings.ToLower(table))
}

// CreateDatabase registers a new database namespace.
func (c *Catalog) CreateDatabase(name string) error {
	key := []byte(strings.ToLower(name))
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDatabases)
		if b.Get(key) != nil {
			return fmt.Errorf("database %s already exists", name)
		}
		return b.Put(key, []byte{1})
	})
}

// DropDatabase removes a database and all its table descriptors.
// Row data removal is the row store's job.
func (c *Catalog) DropDatabase(name string) error {
	key := []byte(strings.ToLower(name))
	defs, err := c.ListTables(name)
	if err != nil {
		return err
	}
	err = c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDatabases)
		if b.Get(key) == nil {
			return &ErrNoSuchDatabase{DB: name}
		}
		if err := b.Delete(key); err != nil {
			return err
		}
		tb := tx.Bucket(bucketTables)
		for _, d := range defs {
			if err := tb.Delete(tableKey(d.DB, d.Name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, d := range defs {
		c.cache.Del(string(tableKey(d.DB, d.Name)))
	}
	return nil
}

// HasDatabase reports whether the named database exists.
func (c *Catalog) HasDatabase(name string) (bool, error) {
	var found bool
	err := c.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(bucketDatabases).Get([]byte(strings.ToLower(name))) != nil
		return nil
	})
	return found, err
}

// ListDatabases returns all database names in lexical order.
func (c *Catalog) ListDatabases() ([]string, error) {
	var names []string
	err := c.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDatabases).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

// CreateTable stores a table descriptor. The parent database must exist.
func (c *Catalog) CreateTable(def *TableDef) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode table def: %w", err)
	}
	key := tableKey(def.DB, def.Name)
	err = c.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketDatabases).Get([]byte(strings.ToLower(def.DB))) == nil {
			return &ErrNoSuchDatabase{DB: def.DB}
		}
		b := tx.Bucket(bucketTables)
		if b.Get(key) != nil {
			return fmt.Errorf("table %s.%s already exists", def.DB, def.Name)
		}
		return b.Put(key, raw)
	})
	if err != nil {
		return err
	}
	c.cache.Del(string(key))
	return nil
}

// UpdateTable rewrites an existing descriptor (index DDL, etc).
func (c *Catalog) UpdateTable(def *TableDef) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode table def: %w", err)
	}
	key := tableKey(def.DB, def.Name)
	err = c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTables)
		if b.Get(key) == nil {
			return &ErrNoSuchTable{DB: def.DB, Table: def.Name}
		}
		return b.Put(key, raw)
	})
	if err != nil {
		return err
	}
	c.cache.Del(string(key))
	return nil
}

// DropTable removes a table descriptor and its auto-increment counter.
func (c *Catalog) DropTable(db, table string) error {
	key := tableKey(db, table)
	err := c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTables)
		if b.Get(key) == nil {
			return &ErrNoSuchTable{DB: db, Table: table}
		}
		if err := b.Delete(key); err != nil {
			return err
		}
		return tx.Bucket(bucketAutoInc).Delete(key)
	})
	if err != nil {
		return err
	}
	c.cache.Del(string(key))
	return nil
}

// GetTable fetches a table descriptor, consulting the cache first.
func (c *Catalog) GetTable(db, table string) (*TableDef, error) {
	key := tableKey(db, table)
	if def, ok := c.cache.Get(string(key)); ok {
		return def, nil
	}
	var def *TableDef
	err := c.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketTables).Get(key)
		if raw == nil {
			return &ErrNoSuchTable{DB: db, Table: table}
		}
		def = &TableDef{}
		return json.Unmarshal(raw, def)
	})
	if err != nil {
		return nil, err
	}
	c.cache.Set(string(key), def, int64(len(def.Columns)+1))
	return def, nil
}

// ListTables returns all table descriptors within a database.
func (c *Catalog) ListTables(db string) ([]*TableDef, error) {
	prefix := []byte(strings.ToLower(db) + "\x00")
	var defs []*TableDef
	err := c.db.View(func(tx *bbolt.Tx) error {
		cur := tx.Bucket(bucketTables).Cursor()
		for k, v := cur.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = cur.Next() {
			def := &TableDef{}
			if err := json.Unmarshal(v, def); err != nil {
				return err
			}
			defs = append(defs, def)
		}
		return nil
	})
	return defs, err
}

// NextAutoIncrement bumps and returns the auto-increment counter for a
// table. hint raises the counter when an explicit key outruns it.
func (c *Catalog) NextAutoIncrement(db, table string, hint int64) (int64, error) {
	key := tableKey(db, table)
	var next int64
	err := c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAutoInc)
		var cur int64
		if raw := b.Get(key); len(raw) == 8 {
			cur = int64(binary.BigEndian.Uint64(raw))
		}
		if hint > cur {
			cur = hint
		}
		next = cur + 1
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(next))
		return b.Put(key, buf[:])
	})
	return next, err
}

// ObserveKey raises the auto-increment high-water mark after an explicit
// primary key insert so later generated keys do not collide.
func (c *Catalog) ObserveKey(db, table string, pk int64) error {
	key := tableKey(db, table)
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAutoInc)
		var cur int64
		if raw := b.Get(key); len(raw) == 8 {
			cur = int64(binary.BigEndian.Uint64(raw))
		}
		if pk <= cur {
			return nil
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(pk))
		return b.Put(key, buf[:])
	})
}

// PutUser stores a serialized user record; GetUser retrieves it.
// The auth package owns the record format.
func (c *Catalog) PutUser(name string, raw []byte) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).Put([]byte(strings.ToLower(name)), raw)
	})
}

// GetUser returns the raw user record, or nil when absent.
func (c *Catalog) GetUser(name string) ([]byte, error) {
	var raw []byte
	err := c.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketUsers).Get([]byte(strings.ToLower(name))); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	return raw, err
}

// DeleteUser removes a user record.
func (c *Catalog) DeleteUser(name string) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).Delete([]byte(strings.ToLower(name)))
	})
}
