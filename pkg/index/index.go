// Package index maintains secondary indexes as (index, value, pk)
// presence markers in bbolt. Entries change only when a transaction
// commits, inside the same batch that writes the row versions. Index
// entries are not versioned; scans never consult them.
package index

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"go.etcd.io/bbolt"

	"github.com/CesarPetrescu/CrabSQL/pkg/catalog"
	"github.com/CesarPetrescu/CrabSQL/pkg/storage"
	"github.com/CesarPetrescu/CrabSQL/pkg/txn"
)

var bucketIndex = []byte("index")

// TableRef identifies a table inside the def map handed to Hook.
type TableRef struct {
	DB    string
	Table string
}

// Maintainer owns the index bucket.
type Maintainer struct {
	db *bbolt.DB
}

// NewMaintainer ensures the index bucket exists.
func NewMaintainer(db *bbolt.DB) (*Maintainer, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIndex)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("init index bucket: %w", err)
	}
	return &Maintainer{db: db}, nil
}

func indexPrefix(db, table, index string) []byte {
	return []byte(strings.ToLower(db) + "\x00" + strings.ToLower(table) + "\x00" + strings.ToLower(index) + "\x00")
}

// entryKey is prefix + value group key + fixed 8-byte primary key.
func entryKey(prefix []byte, v catalog.Value, pk int64) []byte {
	gk := v.GroupKey()
	out := make([]byte, 0, len(prefix)+len(gk)+8)
	out = append(out, prefix...)
	out = append(out, gk...)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(pk)^(1<<63))
	return append(out, buf[:]...)
}

// Hook builds a commit hook that keeps the indexes of the given tables
// in step with the row versions being applied. Descriptors are resolved
// by the caller before the commit batch starts; the hook itself only
// touches the batch's bbolt transaction.
func (m *Maintainer) Hook(defs map[TableRef]*catalog.TableDef) storage.ApplyHook {
	return func(btx *bbolt.Tx, change txn.PendingRow, old *catalog.Row) error {
		def := defs[TableRef{DB: change.Key.DB, Table: change.Key.Table}]
		if def == nil || len(def.Indexes) == 0 {
			return nil
		}
		b := btx.Bucket(bucketIndex)
		for _, idx := range def.Indexes {
			col := def.ColumnIndex(idx.Columns[0])
			if col < 0 {
				continue
			}
			prefix := indexPrefix(def.DB, def.Name, idx.Name)
			if old != nil && col < len(old.Values) {
				if err := b.Delete(entryKey(prefix, old.Values[col], change.Key.PK)); err != nil {
					return err
				}
			}
			if change.Row != nil && col < len(change.Row.Values) {
				v := change.Row.Values[col]
				raw, err := json.Marshal(v)
				if err != nil {
					return err
				}
				if err := b.Put(entryKey(prefix, v, change.Key.PK), raw); err != nil {
					return err
				}
			}
		}
		return nil
	}
}

// Backfill populates a freshly created index from the rows visible
// under the given view. Used by CREATE INDEX on a non-empty table.
func (m *Maintainer) Backfill(store *storage.Store, view *txn.ReadView, def *catalog.TableDef, idx catalog.IndexDef) error {
	col := def.ColumnIndex(idx.Columns[0])
	if col < 0 {
		return fmt.Errorf("index %s: no such column %s", idx.Name, idx.Columns[0])
	}
	prefix := indexPrefix(def.DB, def.Name, idx.Name)

	type pair struct {
		key []byte
		raw []byte
	}
	var entries []pair
	var scanErr error
	err := store.Scan(view, def.DB, def.Name, func(pk int64, row *catalog.Row) bool {
		if col >= len(row.Values) {
			return true
		}
		raw, err := json.Marshal(row.Values[col])
		if err != nil {
			scanErr = err
			return false
		}
		entries = append(entries, pair{key: entryKey(prefix, row.Values[col], pk), raw: raw})
		return true
	})
	if err != nil {
		return err
	}
	if scanErr != nil {
		return scanErr
	}
	return m.db.Update(func(btx *bbolt.Tx) error {
		b := btx.Bucket(bucketIndex)
		for _, e := range entries {
			if err := b.Put(e.key, e.raw); err != nil {
				return err
			}
		}
		return nil
	})
}

// Drop removes every entry of one index.
func (m *Maintainer) Drop(db, table, index string) error {
	prefix := indexPrefix(db, table, index)
	return m.db.Update(func(btx *bbolt.Tx) error {
		cur := btx.Bucket(bucketIndex).Cursor()
		for k, _ := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cur.Seek(prefix) {
			if err := cur.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// Entry is one index record, for introspection and tests.
type Entry struct {
	Value catalog.Value
	PK    int64
}

// Entries lists an index's contents in key order.
func (m *Maintainer) Entries(db, table, index string) ([]Entry, error) {
	prefix := indexPrefix(db, table, index)
	var out []Entry
	err := m.db.View(func(btx *bbolt.Tx) error {
		cur := btx.Bucket(bucketIndex).Cursor()
		for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
			var val catalog.Value
			if err := json.Unmarshal(v, &val); err != nil {
				return err
			}
			raw := binary.BigEndian.Uint64(k[len(k)-8:])
			out = append(out, Entry{Value: val, PK: int64(raw ^ (1 << 63))})
		}
		return nil
	})
	return out, err
}
