package sql

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/CesarPetrescu/CrabSQL/internal/logger"
	"github.com/CesarPetrescu/CrabSQL/pkg/catalog"
	"github.com/CesarPetrescu/CrabSQL/pkg/index"
	"github.com/CesarPetrescu/CrabSQL/pkg/lock"
	"github.com/CesarPetrescu/CrabSQL/pkg/storage"
	"github.com/CesarPetrescu/CrabSQL/pkg/txn"
)

// Engine executes statements against the store. One Engine serves all
// sessions; per-transaction state lives in txn.Transaction.
type Engine struct {
	store *storage.Store
	cat   *catalog.Catalog
	mgr   *txn.Manager
	locks lock.RowLocker
	idx   *index.Maintainer
	log   *logger.Logger
}

// NewEngine wires the storage, catalog, transaction, lock, and index
// layers together.
func NewEngine(store *storage.Store, cat *catalog.Catalog, mgr *txn.Manager, locks lock.RowLocker, idx *index.Maintainer, log *logger.Logger) *Engine {
	return &Engine{store: store, cat: cat, mgr: mgr, locks: locks, idx: idx, log: log.Named("engine")}
}

// Begin starts a transaction.
func (e *Engine) Begin() *txn.Transaction {
	t := e.mgr.Begin()
	e.log.Debugw("begin", "txid", t.ID())
	return t
}

// Commit drains the write buffer into the row store and indexes in one
// atomic batch, then retires the transaction id. On failure the
// transaction is rolled back; a surfaced storage conflict maps to
// ErrWriteConflict.
func (e *Engine) Commit(tx *txn.Transaction) error {
	if !tx.Active() {
		return txn.ErrNotActive
	}
	changes := tx.PendingAll()
	defs := make(map[index.TableRef]*catalog.TableDef)
	for _, ch := range changes {
		ref := index.TableRef{DB: ch.Key.DB, Table: ch.Key.Table}
		if _, ok := defs[ref]; ok {
			continue
		}
		def, err := e.cat.GetTable(ch.Key.DB, ch.Key.Table)
		if err != nil {
			e.rollbackInternal(tx)
			return err
		}
		defs[ref] = def
	}
	if err := e.store.ApplyChanges(tx.View(), changes, e.idx.Hook(defs)); err != nil {
		e.rollbackInternal(tx)
		if errors.Is(err, storage.ErrWriteConflict) {
			return fmt.Errorf("%w: %v", ErrWriteConflict, err)
		}
		return errors.Join(ErrExecutionAborted, err)
	}
	if err := e.mgr.MarkCommitted(tx); err != nil {
		return err
	}
	e.locks.ReleaseAll(tx.ID())
	e.log.Debugw("commit", "txid", tx.ID(), "changes", len(changes))
	return nil
}

// Rollback discards buffered writes and releases row locks.
func (e *Engine) Rollback(tx *txn.Transaction) error {
	if !tx.Active() {
		return txn.ErrNotActive
	}
	e.rollbackInternal(tx)
	e.log.Debugw("rollback", "txid", tx.ID())
	return nil
}

func (e *Engine) rollbackInternal(tx *txn.Transaction) {
	if tx.Active() {
		_ = e.mgr.MarkAborted(tx)
	}
	e.locks.ReleaseAll(tx.ID())
}

// resolveTable fills in the session's current database when the name
// is unqualified.
func resolveTable(currentDB string, t TableName) (TableName, error) {
	if t.DB == "" {
		if currentDB == "" {
			return t, fmt.Errorf("no database selected")
		}
		t.DB = currentDB
	}
	return t, nil
}

// --- DDL ---

func (e *Engine) CreateDatabase(name string) (*Result, error) {
	if err := e.cat.CreateDatabase(name); err != nil {
		return nil, err
	}
	return okResult(0, "database created"), nil
}

func (e *Engine) DropDatabase(name string) (*Result, error) {
	defs, err := e.cat.ListTables(name)
	if err != nil {
		return nil, err
	}
	if err := e.cat.DropDatabase(name); err != nil {
		return nil, err
	}
	for _, def := range defs {
		if err := e.store.DropTable(def.DB, def.Name); err != nil {
			return nil, err
		}
		for _, idx := range def.Indexes {
			if err := e.idx.Drop(def.DB, def.Name, idx.Name); err != nil {
				return nil, err
			}
		}
	}
	return okResult(0, "database dropped"), nil
}

func (e *Engine) CreateTable(currentDB string, stmt *CreateTableStmt) (*Result, error) {
	name, err := resolveTable(currentDB, stmt.Table)
	if err != nil {
		return nil, err
	}
	def := &catalog.TableDef{DB: name.DB, Name: name.Name}
	pkCount := 0
	for _, spec := range stmt.Columns {
		dt, err := catalog.ParseDataType(spec.TypeName)
		if err != nil {
			return nil, parseErr("column %s: %v", spec.Name, err)
		}
		col := catalog.ColumnDef{Name: spec.Name, Type: dt, Nullable: !spec.NotNull}
		if spec.PrimaryKey {
			pkCount++
			def.PrimaryKey = spec.Name
			col.Nullable = false
			if dt != catalog.TypeInt {
				return nil, parseErr("primary key %s must be an integer column", spec.Name)
			}
		}
		if spec.AutoIncrement {
			if !spec.PrimaryKey {
				return nil, parseErr("AUTO_INCREMENT requires the primary key column")
			}
			def.AutoIncrement = true
		}
		def.Columns = append(def.Columns, col)
	}
	if pkCount != 1 {
		return nil, parseErr("table %s needs exactly one primary key column", name.Name)
	}
	if err := e.cat.CreateTable(def); err != nil {
		return nil, err
	}
	return okResult(0, "table created"), nil
}

func (e *Engine) DropTable(currentDB string, stmt *DropTableStmt) (*Result, error) {
	name, err := resolveTable(currentDB, stmt.Table)
	if err != nil {
		return nil, err
	}
	def, err := e.cat.GetTable(name.DB, name.Name)
	if err != nil {
		return nil, err
	}
	if err := e.cat.DropTable(name.DB, name.Name); err != nil {
		return nil, err
	}
	if err := e.store.DropTable(name.DB, name.Name); err != nil {
		return nil, err
	}
	for _, idx := range def.Indexes {
		if err := e.idx.Drop(name.DB, name.Name, idx.Name); err != nil {
			return nil, err
		}
	}
	return okResult(0, "table dropped"), nil
}

// CreateIndex registers the index and backfills it from a fresh
// snapshot so existing rows are covered.
func (e *Engine) CreateIndex(currentDB string, stmt *CreateIndexStmt) (*Result, error) {
	name, err := resolveTable(currentDB, stmt.Table)
	if err != nil {
		return nil, err
	}
	def, err := e.cat.GetTable(name.DB, name.Name)
	if err != nil {
		return nil, err
	}
	if !def.HasColumn(stmt.Column) {
		return nil, fmt.Errorf("unknown column %s", stmt.Column)
	}
	for _, idx := range def.Indexes {
		if strings.EqualFold(idx.Name, stmt.Name) {
			return nil, fmt.Errorf("index %s already exists", stmt.Name)
		}
	}
	idxDef := catalog.IndexDef{Name: stmt.Name, Columns: []string{stmt.Column}}
	updated := *def
	updated.Indexes = append(append([]catalog.IndexDef{}, def.Indexes...), idxDef)
	if err := e.cat.UpdateTable(&updated); err != nil {
		return nil, err
	}
	snap := e.mgr.Begin()
	err = e.idx.Backfill(e.store, snap.View(), &updated, idxDef)
	_ = e.mgr.MarkAborted(snap)
	if err != nil {
		return nil, err
	}
	return okResult(0, "index created"), nil
}

func (e *Engine) DropIndex(currentDB string, stmt *DropIndexStmt) (*Result, error) {
	name, err := resolveTable(currentDB, stmt.Table)
	if err != nil {
		return nil, err
	}
	def, err := e.cat.GetTable(name.DB, name.Name)
	if err != nil {
		return nil, err
	}
	updated := *def
	updated.Indexes = nil
	found := false
	for _, idx := range def.Indexes {
		if strings.EqualFold(idx.Name, stmt.Name) {
			found = true
			continue
		}
		updated.Indexes = append(updated.Indexes, idx)
	}
	if !found {
		return nil, fmt.Errorf("index %s does not exist", stmt.Name)
	}
	if err := e.cat.UpdateTable(&updated); err != nil {
		return nil, err
	}
	if err := e.idx.Drop(name.DB, name.Name, stmt.Name); err != nil {
		return nil, err
	}
	return okResult(0, "index dropped"), nil
}

func (e *Engine) Show(currentDB string, stmt *ShowStmt) (*Result, error) {
	switch stmt.Kind {
	case "DATABASES":
		names, err := e.cat.ListDatabases()
		if err != nil {
			return nil, err
		}
		res := &Result{Columns: []string{"Database"}}
		for _, n := range names {
			res.Rows = append(res.Rows, []catalog.Value{catalog.NewText(n)})
		}
		return res, nil
	case "TABLES":
		if currentDB == "" {
			return nil, fmt.Errorf("no database selected")
		}
		defs, err := e.cat.ListTables(currentDB)
		if err != nil {
			return nil, err
		}
		res := &Result{Columns: []string{"Table"}}
		for _, d := range defs {
			res.Rows = append(res.Rows, []catalog.Value{catalog.NewText(d.Name)})
		}
		return res, nil
	case "INDEX":
		name, err := resolveTable(currentDB, stmt.Table)
		if err != nil {
			return nil, err
		}
		def, err := e.cat.GetTable(name.DB, name.Name)
		if err != nil {
			return nil, err
		}
		res := &Result{Columns: []string{"Index", "Column"}}
		for _, idx := range def.Indexes {
			res.Rows = append(res.Rows, []catalog.Value{
				catalog.NewText(idx.Name), catalog.NewText(idx.Columns[0]),
			})
		}
		return res, nil
	default:
		return nil, parseErr("unsupported SHOW %s", stmt.Kind)
	}
}

// --- row visibility helpers ---

// visibleRow reads one row through the transaction: its own pending
// writes first, then the newest committed version its view sees.
func (e *Engine) visibleRow(tx *txn.Transaction, key txn.RowKey) (*catalog.Row, error) {
	if row, ok := tx.PendingGet(key); ok {
		return row, nil
	}
	return e.store.GetVisible(tx.View(), key)
}

// tableRows materializes the rows of one table as seen by the
// transaction: the committed snapshot merged with the private write
// buffer, in primary key order.
func (e *Engine) tableRows(tx *txn.Transaction, def *catalog.TableDef, label string) (*relation, error) {
	rel := &relation{}
	for _, c := range def.Columns {
		rel.cols = append(rel.cols, outCol{Table: label, Name: c.Name})
	}

	type pkRow struct {
		pk  int64
		row *catalog.Row
	}
	var base []pkRow
	err := e.store.Scan(tx.View(), def.DB, def.Name, func(pk int64, row *catalog.Row) bool {
		base = append(base, pkRow{pk: pk, row: row})
		return true
	})
	if err != nil {
		return nil, err
	}
	var pending []pkRow
	tx.PendingScan(def.DB, def.Name, func(key txn.RowKey, row *catalog.Row) bool {
		pending = append(pending, pkRow{pk: key.PK, row: row})
		return true
	})

	// Merge two pk-ordered streams; pending wins, nil row deletes.
	bi, pi := 0, 0
	emit := func(r *catalog.Row) {
		if r != nil {
			rel.rows = append(rel.rows, r.Values)
		}
	}
	for bi < len(base) && pi < len(pending) {
		switch {
		case base[bi].pk < pending[pi].pk:
			emit(base[bi].row)
			bi++
		case base[bi].pk > pending[pi].pk:
			emit(pending[pi].row)
			pi++
		default:
			emit(pending[pi].row)
			bi++
			pi++
		}
	}
	for ; bi < len(base); bi++ {
		emit(base[bi].row)
	}
	for ; pi < len(pending); pi++ {
		emit(pending[pi].row)
	}
	return rel, nil
}

// --- DML ---

func (e *Engine) Insert(ctx context.Context, tx *txn.Transaction, currentDB string, stmt *InsertStmt) (*Result, error) {
	name, err := resolveTable(currentDB, stmt.Table)
	if err != nil {
		return nil, err
	}
	def, err := e.cat.GetTable(name.DB, name.Name)
	if err != nil {
		return nil, err
	}
	pkIdx := def.PrimaryKeyIndex()
	var inserted int64
	env := &rowEnv{} // INSERT values see no columns
	for _, exprRow := range stmt.Rows {
		values := make([]catalog.Value, len(def.Columns))
		provided := make([]bool, len(def.Columns))
		if len(stmt.Columns) > 0 {
			if len(exprRow) != len(stmt.Columns) {
				return nil, parseErr("column count does not match value count")
			}
			for i, colName := range stmt.Columns {
				ci := def.ColumnIndex(colName)
				if ci < 0 {
					return nil, fmt.Errorf("unknown column %s", colName)
				}
				v, err := evalValue(env, exprRow[i])
				if err != nil {
					return nil, err
				}
				values[ci] = v
				provided[ci] = true
			}
		} else {
			if len(exprRow) != len(def.Columns) {
				return nil, parseErr("expected %d values, got %d", len(def.Columns), len(exprRow))
			}
			for i, ex := range exprRow {
				v, err := evalValue(env, ex)
				if err != nil {
					return nil, err
				}
				values[i] = v
				provided[i] = true
			}
		}
		for i, col := range def.Columns {
			if !provided[i] || values[i].IsNull {
				if i == pkIdx && def.AutoIncrement {
					continue // filled below
				}
				if !col.Nullable {
					return nil, constraintErr("column %s cannot be NULL", col.Name)
				}
				values[i] = catalog.Null(col.Type)
				continue
			}
			cv, err := catalog.Coerce(values[i], col.Type)
			if err != nil {
				return nil, typeMismatchErr("column %s: %v", col.Name, err)
			}
			values[i] = cv
		}

		var pk int64
		if !provided[pkIdx] || values[pkIdx].IsNull {
			if !def.AutoIncrement {
				return nil, constraintErr("primary key %s cannot be NULL", def.PrimaryKey)
			}
			pk, err = e.cat.NextAutoIncrement(def.DB, def.Name, 0)
			if err != nil {
				return nil, err
			}
			values[pkIdx] = catalog.NewInt(pk)
		} else {
			pk = values[pkIdx].Int
			if def.AutoIncrement {
				if err := e.cat.ObserveKey(def.DB, def.Name, pk); err != nil {
					return nil, err
				}
			}
		}

		key := txn.RowKey{DB: def.DB, Table: def.Name, PK: pk}
		if err := e.locks.Acquire(ctx, tx.ID(), key); err != nil {
			return nil, err
		}
		existing, err := e.visibleRow(tx, key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, constraintErr("duplicate primary key %d in %s.%s", pk, def.DB, def.Name)
		}
		tx.StageWrite(key, &catalog.Row{Values: values})
		inserted++
	}
	return okResult(inserted, fmt.Sprintf("%d row(s) inserted", inserted)), nil
}

func (e *Engine) Update(ctx context.Context, tx *txn.Transaction, currentDB string, stmt *UpdateStmt) (*Result, error) {
	name, err := resolveTable(currentDB, stmt.Table)
	if err != nil {
		return nil, err
	}
	def, err := e.cat.GetTable(name.DB, name.Name)
	if err != nil {
		return nil, err
	}
	pkIdx := def.PrimaryKeyIndex()
	for _, set := range stmt.Sets {
		ci := def.ColumnIndex(set.Column)
		if ci < 0 {
			return nil, fmt.Errorf("unknown column %s", set.Column)
		}
		if ci == pkIdx {
			return nil, constraintErr("cannot update primary key column %s", set.Column)
		}
	}
	rel, err := e.tableRows(tx, def, def.Name)
	if err != nil {
		return nil, err
	}
	env := &rowEnv{cols: rel.cols}
	var affected int64
	for _, row := range rel.rows {
		env.values = row
		if stmt.Where != nil {
			t, err := evalPred(env, stmt.Where)
			if err != nil {
				return nil, err
			}
			if t != TriTrue {
				continue
			}
		}
		pk := row[pkIdx].Int
		key := txn.RowKey{DB: def.DB, Table: def.Name, PK: pk}
		if err := e.locks.Acquire(ctx, tx.ID(), key); err != nil {
			return nil, err
		}
		updated := make([]catalog.Value, len(row))
		copy(updated, row)
		for _, set := range stmt.Sets {
			ci := def.ColumnIndex(set.Column)
			v, err := evalValue(env, set.Value)
			if err != nil {
				return nil, err
			}
			if v.IsNull {
				if !def.Columns[ci].Nullable {
					return nil, constraintErr("column %s cannot be NULL", set.Column)
				}
				updated[ci] = catalog.Null(def.Columns[ci].Type)
				continue
			}
			cv, err := catalog.Coerce(v, def.Columns[ci].Type)
			if err != nil {
				return nil, typeMismatchErr("column %s: %v", set.Column, err)
			}
			updated[ci] = cv
		}
		tx.StageWrite(key, &catalog.Row{Values: updated})
		affected++
	}
	return okResult(affected, fmt.Sprintf("%d row(s) updated", affected)), nil
}

func (e *Engine) Delete(ctx context.Context, tx *txn.Transaction, currentDB string, stmt *DeleteStmt) (*Result, error) {
	name, err := resolveTable(currentDB, stmt.Table)
	if err != nil {
		return nil, err
	}
	def, err := e.cat.GetTable(name.DB, name.Name)
	if err != nil {
		return nil, err
	}
	pkIdx := def.PrimaryKeyIndex()
	rel, err := e.tableRows(tx, def, def.Name)
	if err != nil {
		return nil, err
	}
	env := &rowEnv{cols: rel.cols}
	var affected int64
	for _, row := range rel.rows {
		env.values = row
		if stmt.Where != nil {
			t, err := evalPred(env, stmt.Where)
			if err != nil {
				return nil, err
			}
			if t != TriTrue {
				continue
			}
		}
		key := txn.RowKey{DB: def.DB, Table: def.Name, PK: row[pkIdx].Int}
		if err := e.locks.Acquire(ctx, tx.ID(), key); err != nil {
			return nil, err
		}
		tx.StageDelete(key)
		affected++
	}
	return okResult(affected, fmt.Sprintf("%d row(s) deleted", affected)), nil
}

// --- SELECT ---

func (e *Engine) Select(tx *txn.Transaction, currentDB string, stmt *SelectStmt) (*Result, error) {
	rel, err := e.buildFrom(tx, currentDB, stmt)
	if err != nil {
		return nil, err
	}
	if stmt.Where != nil {
		env := &rowEnv{cols: rel.cols}
		kept := rel.rows[:0:0]
		for _, row := range rel.rows {
			env.values = row
			t, err := evalPred(env, stmt.Where)
			if err != nil {
				return nil, err
			}
			if t == TriTrue {
				kept = append(kept, row)
			}
		}
		rel.rows = kept
	}

	items, names, err := expandItems(stmt.Items, rel.cols)
	if err != nil {
		return nil, err
	}

	aggregated := len(stmt.GroupBy) > 0 || stmt.Having != nil
	for _, it := range items {
		if containsAggregate(it) {
			aggregated = true
		}
	}
	for _, o := range stmt.OrderBy {
		if containsAggregate(o.Expr) {
			aggregated = true
		}
	}

	res := &Result{Columns: names}
	var orderRows []orderableRow
	if aggregated {
		orderRows, err = e.selectAggregated(rel, stmt, items, names)
	} else {
		orderRows, err = e.selectPlain(rel, stmt, items)
	}
	if err != nil {
		return nil, err
	}

	if len(stmt.OrderBy) > 0 {
		if err := sortOutput(orderRows, stmt.OrderBy, names, aggregated); err != nil {
			return nil, err
		}
	}
	for _, or := range orderRows {
		res.Rows = append(res.Rows, or.out)
	}
	if stmt.Distinct {
		res.Rows = distinctRows(res.Rows)
	}
	res.Rows = applyLimit(res.Rows, stmt.Limit, stmt.Offset)
	return res, nil
}

// buildFrom materializes the FROM chain, folding joins left to right.
func (e *Engine) buildFrom(tx *txn.Transaction, currentDB string, stmt *SelectStmt) (*relation, error) {
	if stmt.From == nil {
		// FROM-less SELECT evaluates projections over one empty row.
		return &relation{rows: [][]catalog.Value{{}}}, nil
	}
	rel, err := e.sourceRelation(tx, currentDB, *stmt.From)
	if err != nil {
		return nil, err
	}
	for _, join := range stmt.Joins {
		right, err := e.sourceRelation(tx, currentDB, join.Source)
		if err != nil {
			return nil, err
		}
		name, err := resolveTable(currentDB, join.Source.Table)
		if err != nil {
			return nil, err
		}
		rightDef, err := e.cat.GetTable(name.DB, name.Name)
		if err != nil {
			return nil, err
		}
		rightLabel := join.Source.Alias
		if rightLabel == "" {
			rightLabel = join.Source.Table.Name
		}
		on := join.On
		switch {
		case join.Natural:
			on, err = buildNaturalOn(rel.cols, rightLabel, rightDef)
		case len(join.Using) > 0:
			on, err = buildUsingOn(rel.cols, rightLabel, rightDef, join.Using)
		}
		if err != nil {
			return nil, err
		}
		rel, err = joinRelations(rel, right, join.Kind, on)
		if err != nil {
			return nil, err
		}
	}
	return rel, nil
}

func (e *Engine) sourceRelation(tx *txn.Transaction, currentDB string, src TableSource) (*relation, error) {
	name, err := resolveTable(currentDB, src.Table)
	if err != nil {
		return nil, err
	}
	def, err := e.cat.GetTable(name.DB, name.Name)
	if err != nil {
		return nil, err
	}
	label := src.Alias
	if label == "" {
		label = src.Table.Name
	}
	return e.tableRows(tx, def, label)
}

// expandItems replaces wildcards with explicit column references and
// derives output names. With more than one table in scope, wildcard
// columns are labeled table.column.
func expandItems(items []SelectItem, cols []outCol) ([]Expr, []string, error) {
	tables := map[string]bool{}
	for _, c := range cols {
		tables[strings.ToLower(c.Table)] = true
	}
	multi := len(tables) > 1

	var exprs []Expr
	var names []string
	for _, item := range items {
		if !item.Wildcard {
			exprs = append(exprs, item.Expr)
			if item.Alias != "" {
				names = append(names, item.Alias)
			} else {
				names = append(names, exprName(item.Expr))
			}
			continue
		}
		matched := false
		for _, c := range cols {
			if item.WildTable != "" && !strings.EqualFold(c.Table, item.WildTable) {
				continue
			}
			matched = true
			exprs = append(exprs, &ColumnRef{Table: c.Table, Name: c.Name})
			if multi {
				names = append(names, c.Table+"."+c.Name)
			} else {
				names = append(names, c.Name)
			}
		}
		if !matched {
			if item.WildTable != "" {
				return nil, nil, fmt.Errorf("unknown table %s", item.WildTable)
			}
			return nil, nil, fmt.Errorf("SELECT * with no tables in scope")
		}
	}
	return exprs, names, nil
}

func exprName(e Expr) string {
	switch x := e.(type) {
	case *ColumnRef:
		return x.Name
	case *FuncCall:
		if x.Star {
			return x.Name + "(*)"
		}
		args := make([]string, len(x.Args))
		for i, a := range x.Args {
			args[i] = exprName(a)
		}
		return x.Name + "(" + strings.Join(args, ", ") + ")"
	case *Literal:
		return x.Value.String()
	case *BinaryExpr:
		return exprName(x.L) + " " + x.Op.String() + " " + exprName(x.R)
	case *NegExpr:
		return "-" + exprName(x.X)
	default:
		return "expr"
	}
}

// orderableRow pairs an output row with the source values ORDER BY may
// still need (pre-projection columns, finished aggregates).
type orderableRow struct {
	out  []catalog.Value
	env  *rowEnv
	keys []catalog.Value
}

func (e *Engine) selectPlain(rel *relation, stmt *SelectStmt, items []Expr) ([]orderableRow, error) {
	out := make([]orderableRow, 0, len(rel.rows))
	for _, row := range rel.rows {
		env := &rowEnv{cols: rel.cols, values: row}
		vals := make([]catalog.Value, len(items))
		for i, it := range items {
			v, err := evalValue(env, it)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		out = append(out, orderableRow{out: vals, env: env})
	}
	return out, nil
}

func (e *Engine) selectAggregated(rel *relation, stmt *SelectStmt, items []Expr, names []string) ([]orderableRow, error) {
	ag := &aggregator{}
	rewritten := make([]Expr, len(items))
	for i, it := range items {
		r, err := ag.rewrite(it)
		if err != nil {
			return nil, err
		}
		rewritten[i] = r
		// Non-aggregate projections must be grouping expressions; a
		// bare column outside GROUP BY reads from the group's first
		// row, matching permissive MySQL behavior.
	}
	having, err := ag.rewrite(stmt.Having)
	if err != nil {
		return nil, err
	}
	orderExprs := make([]Expr, len(stmt.OrderBy))
	for i, o := range stmt.OrderBy {
		// A bare name matching an output alias orders by that
		// projection, aggregates included.
		if j := outputIndex(o.Expr, names); j >= 0 {
			orderExprs[i] = rewritten[j]
			continue
		}
		orderExprs[i], err = ag.rewrite(o.Expr)
		if err != nil {
			return nil, err
		}
	}

	g := newGrouper(stmt.GroupBy, ag.specs)
	env := &rowEnv{cols: rel.cols}
	for _, row := range rel.rows {
		env.values = row
		if err := g.add(env); err != nil {
			return nil, err
		}
	}

	var out []orderableRow
	for _, grp := range g.results(len(stmt.GroupBy) == 0, len(rel.cols)) {
		genv := &rowEnv{cols: rel.cols, values: grp.repr, aggs: grp.finished()}
		if having != nil {
			t, err := evalPred(genv, having)
			if err != nil {
				return nil, err
			}
			if t != TriTrue {
				continue
			}
		}
		vals := make([]catalog.Value, len(rewritten))
		for i, it := range rewritten {
			v, err := evalValue(genv, it)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		or := orderableRow{out: vals, env: genv}
		for _, oe := range orderExprs {
			v, err := evalValue(genv, oe)
			if err != nil {
				return nil, err
			}
			or.keys = append(or.keys, v)
		}
		out = append(out, or)
	}
	return out, nil
}

// sortOutput orders rows by the ORDER BY list. Aggregated queries
// precomputed their keys; plain queries evaluate each key against the
// source row, falling back to output aliases.
func sortOutput(rows []orderableRow, orderBy []OrderItem, names []string, precomputed bool) error {
	if !precomputed {
		for i := range rows {
			for _, o := range orderBy {
				v, err := orderKey(&rows[i], o.Expr, names)
				if err != nil {
					return err
				}
				rows[i].keys = append(rows[i].keys, v)
			}
		}
	}
	var sortErr error
	sort.SliceStable(rows, func(i, j int) bool {
		for k, o := range orderBy {
			c := compareForOrder(rows[i].keys[k], rows[j].keys[k], &sortErr)
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return sortErr
}

// orderKey resolves one ORDER BY expression: a bare name matching an
// output alias uses the projected value, anything else evaluates in
// the source row.
func orderKey(row *orderableRow, e Expr, names []string) (catalog.Value, error) {
	if i := outputIndex(e, names); i >= 0 {
		return row.out[i], nil
	}
	return evalValue(row.env, e)
}

// outputIndex matches a bare column reference against the output
// names, returning its projection index or -1.
func outputIndex(e Expr, names []string) int {
	ref, ok := e.(*ColumnRef)
	if !ok || ref.Table != "" {
		return -1
	}
	for i, n := range names {
		if strings.EqualFold(n, ref.Name) {
			return i
		}
	}
	return -1
}

// compareForOrder treats NULL as smallest. Incomparable pairs keep
// their relative order and surface the error once.
func compareForOrder(a, b catalog.Value, errOut *error) int {
	switch {
	case a.IsNull && b.IsNull:
		return 0
	case a.IsNull:
		return -1
	case b.IsNull:
		return 1
	}
	c, err := catalog.Compare(a, b)
	if err != nil {
		if *errOut == nil {
			*errOut = typeMismatchErr("ORDER BY: %v", err)
		}
		return 0
	}
	return c
}

func distinctRows(rows [][]catalog.Value) [][]catalog.Value {
	seen := make(map[string]bool, len(rows))
	out := rows[:0:0]
	for _, row := range rows {
		var b strings.Builder
		for _, v := range row {
			b.WriteString(v.GroupKey())
			b.WriteByte(0)
		}
		key := b.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, row)
	}
	return out
}

func applyLimit(rows [][]catalog.Value, limit, offset *int64) [][]catalog.Value {
	if offset != nil {
		n := *offset
		if n >= int64(len(rows)) {
			return nil
		}
		if n > 0 {
			rows = rows[n:]
		}
	}
	if limit != nil && *limit < int64(len(rows)) {
		if *limit <= 0 {
			return nil
		}
		rows = rows[:*limit]
	}
	return rows
}
