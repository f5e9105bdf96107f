// Package storage persists versioned rows in bbolt. Each logical row
// carries a chain of versions ordered newest-first; readers pick the
// first version their read view can see.
package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.etcd.io/bbolt"

	"github.com/CesarPetrescu/CrabSQL/pkg/catalog"
	"github.com/CesarPetrescu/CrabSQL/pkg/txn"
)

var (
	bucketData = []byte("data")
	bucketMeta = []byte("meta")

	keyMaxTxID = []byte("max_tx_id")
)

// ErrWriteConflict means a newer committed version appeared under a row
// this transaction was about to overwrite. With blocking row locks in
// front of the store this is a safety net, not a normal code path.
var ErrWriteConflict = errors.New("write conflict")

// ApplyHook runs inside the commit batch for every applied change,
// sharing its bbolt transaction. old is the newest previously committed
// version of the row (nil when the row never existed or was deleted).
// Index maintenance hangs off this hook so row and index updates land
// in one atomic batch.
type ApplyHook func(btx *bbolt.Tx, change txn.PendingRow, old *catalog.Row) error

// Store is the versioned row store.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the database file and its buckets.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketData, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init store buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying bbolt handle so the catalog and index
// maintainer can share the same file.
func (s *Store) DB() *bbolt.DB { return s.db }

// Close closes the database file.
func (s *Store) Close() error { return s.db.Close() }

// tablePrefix is db\0table\0 with names lowercased.
func tablePrefix(db, table string) []byte {
	return []byte(strings.ToLower(db) + "\x00" + strings.ToLower(table) + "\x00")
}

// rowPrefix appends the order-preserving big-endian primary key.
func rowPrefix(db, table string, pk int64) []byte {
	p := tablePrefix(db, table)
	out := make([]byte, len(p)+8)
	copy(out, p)
	binary.BigEndian.PutUint64(out[len(p):], uint64(pk)^(1<<63))
	return out
}

// versionKey appends the inverted transaction id so a forward cursor
// walks versions newest-first.
func versionKey(prefix []byte, id txn.TxID) []byte {
	out := make([]byte, len(prefix)+8)
	copy(out, prefix)
	binary.BigEndian.PutUint64(out[len(prefix):], math.MaxUint64-uint64(id))
	return out
}

func creatorOf(key []byte) txn.TxID {
	inv := binary.BigEndian.Uint64(key[len(key)-8:])
	return txn.TxID(math.MaxUint64 - inv)
}

func pkOf(key []byte) int64 {
	raw := binary.BigEndian.Uint64(key[len(key)-16 : len(key)-8])
	return int64(raw ^ (1 << 63))
}

func encodeRow(row *catalog.Row) ([]byte, error) {
	if row == nil {
		return []byte{}, nil // tombstone
	}
	return json.Marshal(row)
}

func decodeRow(raw []byte) (*catalog.Row, error) {
	if len(raw) == 0 {
		return nil, nil // tombstone
	}
	row := &catalog.Row{}
	if err := json.Unmarshal(raw, row); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	return row, nil
}

// ApplyChanges writes one committed version per change, stamps the
// transaction id high-water mark, and runs the hook, all inside a
// single bbolt update. Before writing it verifies that no version
// invisible to the committing view has appeared under any changed key.
func (s *Store) ApplyChanges(view *txn.ReadView, changes []txn.PendingRow, hook ApplyHook) error {
	if len(changes) == 0 {
		return s.stampMaxTxID(view.Own)
	}
	return s.db.Update(func(btx *bbolt.Tx) error {
		data := btx.Bucket(bucketData)
		for _, ch := range changes {
			prefix := rowPrefix(ch.Key.DB, ch.Key.Table, ch.Key.PK)
			old, conflict, err := newestCommitted(data, prefix, view)
			if err != nil {
				return err
			}
			if conflict {
				return fmt.Errorf("%w on %s", ErrWriteConflict, ch.Key)
			}
			raw, err := encodeRow(ch.Row)
			if err != nil {
				return err
			}
			if err := data.Put(versionKey(prefix, view.Own), raw); err != nil {
				return err
			}
			if hook != nil {
				if err := hook(btx, ch, old); err != nil {
					return err
				}
			}
		}
		return putMaxTxID(btx, view.Own)
	})
}

// newestCommitted finds the newest version under prefix that the view
// sees, and flags a conflict when a newer version from a foreign,
// invisible transaction exists.
func newestCommitted(data *bbolt.Bucket, prefix []byte, view *txn.ReadView) (*catalog.Row, bool, error) {
	cur := data.Cursor()
	for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
		creator := creatorOf(k)
		if view.Sees(creator) {
			row, err := decodeRow(v)
			return row, false, err
		}
		return nil, true, nil
	}
	return nil, false, nil
}

// GetVisible returns the newest version of the row visible under the
// view. A tombstone or an empty chain yields (nil, nil).
func (s *Store) GetVisible(view *txn.ReadView, key txn.RowKey) (*catalog.Row, error) {
	prefix := rowPrefix(key.DB, key.Table, key.PK)
	var row *catalog.Row
	err := s.db.View(func(btx *bbolt.Tx) error {
		cur := btx.Bucket(bucketData).Cursor()
		for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
			if !view.Sees(creatorOf(k)) {
				continue
			}
			var err error
			row, err = decodeRow(v)
			return err
		}
		return nil
	})
	return row, err
}

// Scan visits every row of a table visible under the view, in primary
// key order. Tombstoned rows are skipped. fn returning false stops the
// scan.
func (s *Store) Scan(view *txn.ReadView, db, table string, fn func(pk int64, row *catalog.Row) bool) error {
	prefix := tablePrefix(db, table)
	return s.db.View(func(btx *bbolt.Tx) error {
		cur := btx.Bucket(bucketData).Cursor()
		var curPK int64
		decided := false
		havePK := false
		for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
			pk := pkOf(k)
			if !havePK || pk != curPK {
				curPK = pk
				havePK = true
				decided = false
			}
			if decided || !view.Sees(creatorOf(k)) {
				continue
			}
			decided = true
			row, err := decodeRow(v)
			if err != nil {
				return err
			}
			if row == nil {
				continue // deleted under this view
			}
			if !fn(pk, row) {
				return nil
			}
		}
		return nil
	})
}

// DropTable removes every version of every row in the table. Used by
// DROP TABLE and DROP DATABASE, outside MVCC.
func (s *Store) DropTable(db, table string) error {
	prefix := tablePrefix(db, table)
	return s.db.Update(func(btx *bbolt.Tx) error {
		cur := btx.Bucket(bucketData).Cursor()
		for k, _ := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cur.Seek(prefix) {
			if err := cur.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// MaxTxID returns the persisted transaction id high-water mark.
func (s *Store) MaxTxID() (txn.TxID, error) {
	var id txn.TxID
	err := s.db.View(func(btx *bbolt.Tx) error {
		if raw := btx.Bucket(bucketMeta).Get(keyMaxTxID); len(raw) == 8 {
			id = txn.TxID(binary.BigEndian.Uint64(raw))
		}
		return nil
	})
	return id, err
}

func (s *Store) stampMaxTxID(id txn.TxID) error {
	return s.db.Update(func(btx *bbolt.Tx) error {
		return putMaxTxID(btx, id)
	})
}

func putMaxTxID(btx *bbolt.Tx, id txn.TxID) error {
	meta := btx.Bucket(bucketMeta)
	if raw := meta.Get(keyMaxTxID); len(raw) == 8 {
		if txn.TxID(binary.BigEndian.Uint64(raw)) >= id {
			return nil
		}
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	return meta.Put(keyMaxTxID, buf[:])
}
