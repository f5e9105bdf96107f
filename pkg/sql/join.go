package sql

import (
	"fmt"
	"strings"

	"github.com/CesarPetrescu/CrabSQL/pkg/catalog"
)

// relation is an in-flight intermediate result: labeled columns plus
// materialized rows. Join steps fold relations left to right.
type relation struct {
	cols []outCol
	rows [][]catalog.Value
}

// findUniqueTable locates the single table label in scope that carries
// the named column. More than one owner is an ambiguity error; USING
// and NATURAL joins must name exactly one left-side source.
func findUniqueTable(cols []outCol, name string) (string, error) {
	found := ""
	seen := false
	for _, c := range cols {
		if !strings.EqualFold(c.Name, name) {
			continue
		}
		if seen && !strings.EqualFold(found, c.Table) {
			return "", ambiguousColumnErr(name)
		}
		found = c.Table
		seen = true
	}
	if !seen {
		return "", fmt.Errorf("unknown column %s", name)
	}
	return found, nil
}

// buildUsingOn rewrites USING (a, b, ...) into the equivalent ON
// conjunction of qualified equality comparisons.
func buildUsingOn(leftCols []outCol, rightLabel string, rightDef *catalog.TableDef, using []string) (Expr, error) {
	var on Expr
	for _, col := range using {
		leftTable, err := findUniqueTable(leftCols, col)
		if err != nil {
			return nil, err
		}
		if !rightDef.HasColumn(col) {
			return nil, fmt.Errorf("USING column %s not in table %s", col, rightLabel)
		}
		eq := &BinaryExpr{
			Op: OpEQ,
			L:  &ColumnRef{Table: leftTable, Name: col},
			R:  &ColumnRef{Table: rightLabel, Name: col},
		}
		if on == nil {
			on = eq
		} else {
			on = &BinaryExpr{Op: OpAnd, L: on, R: eq}
		}
	}
	return on, nil
}

// buildNaturalOn derives the USING list from column names common to
// both sides, in left-side order, then reuses the USING rewrite. No
// common columns degenerates to a cross join (ON TRUE).
func buildNaturalOn(leftCols []outCol, rightLabel string, rightDef *catalog.TableDef) (Expr, error) {
	var common []string
	seen := map[string]bool{}
	for _, c := range leftCols {
		key := strings.ToLower(c.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		if rightDef.HasColumn(c.Name) {
			common = append(common, c.Name)
		}
	}
	if len(common) == 0 {
		return &Literal{Value: catalog.NewInt(1)}, nil
	}
	return buildUsingOn(leftCols, rightLabel, rightDef, common)
}

// equiPair is one ON conjunct of the form left.col = right.col, with
// both sides resolved to positions in the combined row.
type equiPair struct {
	leftIdx  int
	rightIdx int // relative to the right relation
}

// extractEquiPairs decomposes an ON expression into pure column
// equalities across the join boundary. It returns nil when any
// conjunct is something else; callers then fall back to the general
// nested loop.
func extractEquiPairs(on Expr, leftCols, rightCols []outCol) []equiPair {
	var pairs []equiPair
	var walk func(e Expr) bool
	walk = func(e Expr) bool {
		b, ok := e.(*BinaryExpr)
		if !ok {
			return false
		}
		if b.Op == OpAnd {
			return walk(b.L) && walk(b.R)
		}
		if b.Op != OpEQ {
			return false
		}
		lref, lok := b.L.(*ColumnRef)
		rref, rok := b.R.(*ColumnRef)
		if !lok || !rok {
			return false
		}
		li, lside := resolveSide(lref, leftCols, rightCols)
		ri, rside := resolveSide(rref, leftCols, rightCols)
		if lside == sideLeft && rside == sideRight {
			pairs = append(pairs, equiPair{leftIdx: li, rightIdx: ri})
			return true
		}
		if lside == sideRight && rside == sideLeft {
			pairs = append(pairs, equiPair{leftIdx: ri, rightIdx: li})
			return true
		}
		return false
	}
	if on == nil || !walk(on) {
		return nil
	}
	return pairs
}

type side uint8

const (
	sideNone side = iota
	sideLeft
	sideRight
)

// resolveSide finds which relation a column reference lands in. An
// ambiguous or missing reference yields sideNone, disabling the fast
// path so the nested loop surfaces the proper error.
func resolveSide(ref *ColumnRef, leftCols, rightCols []outCol) (int, side) {
	matchIn := func(cols []outCol) (int, int) {
		idx, n := -1, 0
		for i, c := range cols {
			if !strings.EqualFold(c.Name, ref.Name) {
				continue
			}
			if ref.Table != "" && !strings.EqualFold(c.Table, ref.Table) {
				continue
			}
			idx = i
			n++
		}
		return idx, n
	}
	li, ln := matchIn(leftCols)
	ri, rn := matchIn(rightCols)
	switch {
	case ln == 1 && rn == 0:
		return li, sideLeft
	case ln == 0 && rn == 1:
		return ri, sideRight
	default:
		return 0, sideNone
	}
}

// joinRelations folds one more relation onto the accumulated left side.
// An equi-only ON condition over single-class key columns takes the
// hash path; everything else runs the nested loop. Both paths produce
// the same row multiset.
func joinRelations(left, right *relation, kind JoinKind, on Expr) (*relation, error) {
	out := &relation{cols: append(append([]outCol{}, left.cols...), right.cols...)}

	if kind == JoinCross {
		for _, lr := range left.rows {
			for _, rr := range right.rows {
				out.rows = append(out.rows, concatRow(lr, rr))
			}
		}
		return out, nil
	}

	if pairs := extractEquiPairs(on, left.cols, right.cols); pairs != nil && hashablePairs(left, right, pairs) {
		return hashJoin(out, left, right, kind, pairs), nil
	}
	return nestedLoopJoin(out, left, right, kind, on)
}

// keyClass buckets runtime types by how Compare treats them: INT and
// FLOAT order as one numeric class, everything else within its own.
type keyClass uint8

const (
	classNone keyClass = iota
	classNumeric
	classText
	classDate
	classDateTime
)

func valueClass(v catalog.Value) keyClass {
	switch v.Type {
	case catalog.TypeInt, catalog.TypeFloat:
		return classNumeric
	case catalog.TypeText:
		return classText
	case catalog.TypeDate:
		return classDate
	case catalog.TypeDateTime:
		return classDateTime
	default:
		return classNone
	}
}

// hashablePairs reports whether every join key column carries values of
// a single class across both sides. Compare coerces across classes
// (numeric-looking TEXT equals INT), which a per-side key encoding
// cannot mirror, so mixed-class keys take the nested loop and match
// exactly what Compare decides.
func hashablePairs(left, right *relation, pairs []equiPair) bool {
	for _, p := range pairs {
		cls := classNone
		uniform := func(rows [][]catalog.Value, idx int) bool {
			for _, row := range rows {
				v := row[idx]
				if v.IsNull {
					continue
				}
				c := valueClass(v)
				if cls == classNone {
					cls = c
				} else if cls != c {
					return false
				}
			}
			return true
		}
		if !uniform(left.rows, p.leftIdx) || !uniform(right.rows, p.rightIdx) {
			return false
		}
	}
	return true
}

func concatRow(l, r []catalog.Value) []catalog.Value {
	row := make([]catalog.Value, 0, len(l)+len(r))
	row = append(row, l...)
	return append(row, r...)
}

func nullRow(n int) []catalog.Value {
	row := make([]catalog.Value, n)
	for i := range row {
		row[i] = catalog.Null(catalog.TypeInt)
	}
	return row
}

func nestedLoopJoin(out *relation, left, right *relation, kind JoinKind, on Expr) (*relation, error) {
	env := &rowEnv{cols: out.cols}
	rightMatched := make([]bool, len(right.rows))
	for _, lr := range left.rows {
		matched := false
		for ri, rr := range right.rows {
			env.values = concatRow(lr, rr)
			t, err := evalPred(env, on)
			if err != nil {
				return nil, err
			}
			if t != TriTrue {
				continue
			}
			matched = true
			rightMatched[ri] = true
			out.rows = append(out.rows, env.values)
		}
		if !matched && kind == JoinLeft {
			out.rows = append(out.rows, concatRow(lr, nullRow(len(right.cols))))
		}
	}
	if kind == JoinRight {
		for ri, rr := range right.rows {
			if !rightMatched[ri] {
				out.rows = append(out.rows, concatRow(nullRow(len(left.cols)), rr))
			}
		}
	}
	return out, nil
}

// hashJoin builds a hash table over the right side keyed by the join
// columns. Rows with a NULL join key never match; outer semantics still
// emit them padded.
func hashJoin(out *relation, left, right *relation, kind JoinKind, pairs []equiPair) *relation {
	table := make(map[string][]int, len(right.rows))
	for ri, rr := range right.rows {
		key, ok := joinKey(rr, pairs, false)
		if !ok {
			continue
		}
		table[key] = append(table[key], ri)
	}
	rightMatched := make([]bool, len(right.rows))
	for _, lr := range left.rows {
		key, ok := joinKey(lr, pairs, true)
		matched := false
		if ok {
			for _, ri := range table[key] {
				matched = true
				rightMatched[ri] = true
				out.rows = append(out.rows, concatRow(lr, right.rows[ri]))
			}
		}
		if !matched && kind == JoinLeft {
			out.rows = append(out.rows, concatRow(lr, nullRow(len(right.cols))))
		}
	}
	if kind == JoinRight {
		for ri, rr := range right.rows {
			if !rightMatched[ri] {
				out.rows = append(out.rows, concatRow(nullRow(len(left.cols)), rr))
			}
		}
	}
	return out
}

// joinKey encodes the join columns of one row. ok is false when any
// key column is NULL.
func joinKey(row []catalog.Value, pairs []equiPair, leftSide bool) (string, bool) {
	var b strings.Builder
	for _, p := range pairs {
		idx := p.rightIdx
		if leftSide {
			idx = p.leftIdx
		}
		v := row[idx]
		if v.IsNull {
			return "", false
		}
		// Numeric keys hash by widened float so INT 1 meets FLOAT 1.0.
		if f, isNum := v.AsFloat(); isNum {
			v = catalog.NewFloat(f)
		}
		b.WriteString(v.GroupKey())
		b.WriteByte(0)
	}
	return b.String(), true
}
