package sql

import (
	"fmt"
	"strings"

	"github.com/CesarPetrescu/CrabSQL/pkg/catalog"
)

// TriBool is SQL's three-valued truth: comparisons touching NULL are
// Unknown, and only True retains a row in WHERE, ON, or HAVING.
type TriBool uint8

const (
	TriFalse TriBool = iota
	TriTrue
	TriUnknown
)

func (t TriBool) String() string {
	switch t {
	case TriTrue:
		return "TRUE"
	case TriFalse:
		return "FALSE"
	default:
		return "UNKNOWN"
	}
}

func triAnd(a, b TriBool) TriBool {
	if a == TriFalse || b == TriFalse {
		return TriFalse
	}
	if a == TriUnknown || b == TriUnknown {
		return TriUnknown
	}
	return TriTrue
}

func triOr(a, b TriBool) TriBool {
	if a == TriTrue || b == TriTrue {
		return TriTrue
	}
	if a == TriUnknown || b == TriUnknown {
		return TriUnknown
	}
	return TriFalse
}

func triNot(a TriBool) TriBool {
	switch a {
	case TriTrue:
		return TriFalse
	case TriFalse:
		return TriTrue
	default:
		return TriUnknown
	}
}

// outCol is one column of an executor row: its source table label
// (alias if given) and column name, both kept in original case.
type outCol struct {
	Table string
	Name  string
}

// rowEnv resolves column references against one in-flight row.
// Unqualified names resolve only when unique across tables in scope.
type rowEnv struct {
	cols   []outCol
	values []catalog.Value
	// aggs holds finished aggregate values when evaluating HAVING or
	// aggregate projections.
	aggs []catalog.Value
}

func (env *rowEnv) lookup(table, name string) (catalog.Value, error) {
	found := -1
	for i, c := range env.cols {
		if !strings.EqualFold(c.Name, name) {
			continue
		}
		if table != "" && !strings.EqualFold(c.Table, table) {
			continue
		}
		if found >= 0 {
			if table == "" {
				return catalog.Value{}, ambiguousColumnErr(name)
			}
			return catalog.Value{}, ambiguousColumnErr(table + "." + name)
		}
		found = i
	}
	if found < 0 {
		if table != "" {
			return catalog.Value{}, fmt.Errorf("unknown column %s.%s", table, name)
		}
		return catalog.Value{}, fmt.Errorf("unknown column %s", name)
	}
	return env.values[found], nil
}

// evalValue computes an expression in scalar context. Predicates
// embedded in scalar positions fold to 1, 0, or NULL.
func evalValue(env *rowEnv, e Expr) (catalog.Value, error) {
	switch x := e.(type) {
	case *Literal:
		return x.Value, nil
	case *ColumnRef:
		return env.lookup(x.Table, x.Name)
	case *aggRef:
		return env.aggs[x.idx], nil
	case *NegExpr:
		v, err := evalValue(env, x.X)
		if err != nil {
			return catalog.Value{}, err
		}
		if v.IsNull {
			return v, nil
		}
		switch v.Type {
		case catalog.TypeInt:
			return catalog.NewInt(-v.Int), nil
		case catalog.TypeFloat:
			return catalog.NewFloat(-v.Float), nil
		}
		return catalog.Value{}, typeMismatchErr("cannot negate %s", v.Type)
	case *BinaryExpr:
		if x.Op.IsComparison() || x.Op == OpAnd || x.Op == OpOr {
			t, err := evalPred(env, e)
			if err != nil {
				return catalog.Value{}, err
			}
			return triValue(t), nil
		}
		return evalArith(env, x)
	case *NotExpr, *IsNullExpr, *InExpr, *BetweenExpr, *LikeExpr:
		t, err := evalPred(env, e)
		if err != nil {
			return catalog.Value{}, err
		}
		return triValue(t), nil
	case *FuncCall:
		return catalog.Value{}, fmt.Errorf("unknown function %s", x.Name)
	default:
		return catalog.Value{}, fmt.Errorf("unsupported expression")
	}
}

func triValue(t TriBool) catalog.Value {
	switch t {
	case TriTrue:
		return catalog.NewInt(1)
	case TriFalse:
		return catalog.NewInt(0)
	default:
		return catalog.Null(catalog.TypeInt)
	}
}

func evalArith(env *rowEnv, x *BinaryExpr) (catalog.Value, error) {
	l, err := evalValue(env, x.L)
	if err != nil {
		return catalog.Value{}, err
	}
	r, err := evalValue(env, x.R)
	if err != nil {
		return catalog.Value{}, err
	}
	if l.IsNull || r.IsNull {
		// NULL result carries the widened operand type.
		if l.Type == catalog.TypeFloat || r.Type == catalog.TypeFloat {
			return catalog.Null(catalog.TypeFloat), nil
		}
		return catalog.Null(catalog.TypeInt), nil
	}
	bothInt := l.Type == catalog.TypeInt && r.Type == catalog.TypeInt
	lf, lok := l.AsFloat()
	rf, rok := r.AsFloat()
	if !lok || !rok {
		return catalog.Value{}, typeMismatchErr("%s %s %s", l.Type, x.Op, r.Type)
	}
	switch x.Op {
	case OpAdd:
		if bothInt {
			return catalog.NewInt(l.Int + r.Int), nil
		}
		return catalog.NewFloat(lf + rf), nil
	case OpSub:
		if bothInt {
			return catalog.NewInt(l.Int - r.Int), nil
		}
		return catalog.NewFloat(lf - rf), nil
	case OpMul:
		if bothInt {
			return catalog.NewInt(l.Int * r.Int), nil
		}
		return catalog.NewFloat(lf * rf), nil
	case OpDiv:
		if rf == 0 {
			return catalog.Null(catalog.TypeFloat), nil
		}
		if bothInt && l.Int%r.Int == 0 {
			return catalog.NewInt(l.Int / r.Int), nil
		}
		return catalog.NewFloat(lf / rf), nil
	case OpMod:
		if !bothInt {
			return catalog.Value{}, typeMismatchErr("%% requires integers")
		}
		if r.Int == 0 {
			return catalog.Null(catalog.TypeInt), nil
		}
		return catalog.NewInt(l.Int % r.Int), nil
	default:
		return catalog.Value{}, typeMismatchErr("operator %s in scalar context", x.Op)
	}
}

// evalPred computes an expression in boolean context.
func evalPred(env *rowEnv, e Expr) (TriBool, error) {
	switch x := e.(type) {
	case *BinaryExpr:
		switch x.Op {
		case OpAnd:
			l, err := evalPred(env, x.L)
			if err != nil {
				return TriUnknown, err
			}
			if l == TriFalse {
				return TriFalse, nil
			}
			r, err := evalPred(env, x.R)
			if err != nil {
				return TriUnknown, err
			}
			return triAnd(l, r), nil
		case OpOr:
			l, err := evalPred(env, x.L)
			if err != nil {
				return TriUnknown, err
			}
			if l == TriTrue {
				return TriTrue, nil
			}
			r, err := evalPred(env, x.R)
			if err != nil {
				return TriUnknown, err
			}
			return triOr(l, r), nil
		}
		if x.Op.IsComparison() {
			l, err := evalValue(env, x.L)
			if err != nil {
				return TriUnknown, err
			}
			r, err := evalValue(env, x.R)
			if err != nil {
				return TriUnknown, err
			}
			return compareTri(x.Op, l, r)
		}
		// arithmetic result used as a truth value
		v, err := evalArith(env, x)
		if err != nil {
			return TriUnknown, err
		}
		return valueTruth(v), nil
	case *NotExpr:
		t, err := evalPred(env, x.X)
		if err != nil {
			return TriUnknown, err
		}
		return triNot(t), nil
	case *IsNullExpr:
		v, err := evalValue(env, x.X)
		if err != nil {
			return TriUnknown, err
		}
		isNull := v.IsNull
		if x.Negate {
			isNull = !isNull
		}
		if isNull {
			return TriTrue, nil
		}
		return TriFalse, nil
	case *InExpr:
		return evalIn(env, x)
	case *BetweenExpr:
		// x BETWEEN lo AND hi is x >= lo AND x <= hi, Unknown included.
		ge, err := evalPred(env, &BinaryExpr{Op: OpGE, L: x.X, R: x.Lo})
		if err != nil {
			return TriUnknown, err
		}
		le, err := evalPred(env, &BinaryExpr{Op: OpLE, L: x.X, R: x.Hi})
		if err != nil {
			return TriUnknown, err
		}
		t := triAnd(ge, le)
		if x.Negate {
			t = triNot(t)
		}
		return t, nil
	case *LikeExpr:
		return evalLike(env, x)
	default:
		v, err := evalValue(env, e)
		if err != nil {
			return TriUnknown, err
		}
		return valueTruth(v), nil
	}
}

func valueTruth(v catalog.Value) TriBool {
	if v.IsNull {
		return TriUnknown
	}
	if f, ok := v.AsFloat(); ok {
		if f != 0 {
			return TriTrue
		}
		return TriFalse
	}
	if v.Type == catalog.TypeText {
		if v.Text != "" {
			return TriTrue
		}
		return TriFalse
	}
	return TriTrue
}

func compareTri(op BinaryOp, l, r catalog.Value) (TriBool, error) {
	if l.IsNull || r.IsNull {
		return TriUnknown, nil
	}
	c, err := catalog.Compare(l, r)
	if err != nil {
		return TriUnknown, typeMismatchErr("%v", err)
	}
	var ok bool
	switch op {
	case OpEQ:
		ok = c == 0
	case OpNE:
		ok = c != 0
	case OpLT:
		ok = c < 0
	case OpLE:
		ok = c <= 0
	case OpGT:
		ok = c > 0
	case OpGE:
		ok = c >= 0
	}
	if ok {
		return TriTrue, nil
	}
	return TriFalse, nil
}

// evalIn follows SQL IN semantics: a match anywhere wins; otherwise a
// NULL operand or NULL list element makes the result Unknown.
func evalIn(env *rowEnv, x *InExpr) (TriBool, error) {
	v, err := evalValue(env, x.X)
	if err != nil {
		return TriUnknown, err
	}
	sawNull := v.IsNull
	matched := false
	for _, item := range x.List {
		iv, err := evalValue(env, item)
		if err != nil {
			return TriUnknown, err
		}
		if iv.IsNull || v.IsNull {
			sawNull = true
			continue
		}
		c, err := catalog.Compare(v, iv)
		if err != nil {
			return TriUnknown, typeMismatchErr("%v", err)
		}
		if c == 0 {
			matched = true
			break
		}
	}
	var t TriBool
	switch {
	case matched:
		t = TriTrue
	case sawNull:
		t = TriUnknown
	default:
		t = TriFalse
	}
	if x.Negate {
		t = triNot(t)
	}
	return t, nil
}

func evalLike(env *rowEnv, x *LikeExpr) (TriBool, error) {
	v, err := evalValue(env, x.X)
	if err != nil {
		return TriUnknown, err
	}
	pat, err := evalValue(env, x.Pattern)
	if err != nil {
		return TriUnknown, err
	}
	if v.IsNull || pat.IsNull {
		return TriUnknown, nil
	}
	if v.Type != catalog.TypeText || pat.Type != catalog.TypeText {
		return TriUnknown, typeMismatchErr("LIKE requires text operands")
	}
	escape := rune(0)
	hasEscape := false
	if x.Escape != nil {
		ev, err := evalValue(env, x.Escape)
		if err != nil {
			return TriUnknown, err
		}
		if ev.IsNull {
			return TriUnknown, nil
		}
		runes := []rune(ev.Text)
		if ev.Type != catalog.TypeText || len(runes) != 1 {
			return TriUnknown, typeMismatchErr("ESCAPE must be a single character")
		}
		escape = runes[0]
		hasEscape = true
	}
	ok, err := likeMatch(v.Text, pat.Text, escape, hasEscape)
	if err != nil {
		return TriUnknown, err
	}
	if x.Negate {
		ok = !ok
	}
	if ok {
		return TriTrue, nil
	}
	return TriFalse, nil
}

// likeMatch implements LIKE with % (any run), _ (one rune), and an
// optional escape character, using greedy matching with backtracking
// on %.
func likeMatch(s, pattern string, escape rune, hasEscape bool) (bool, error) {
	sr := []rune(s)
	pr := []rune(pattern)

	var match func(si, pi int) (bool, error)
	match = func(si, pi int) (bool, error) {
		for pi < len(pr) {
			pc := pr[pi]
			if hasEscape && pc == escape {
				if pi+1 >= len(pr) {
					return false, typeMismatchErr("dangling escape in LIKE pattern")
				}
				pi++
				if si >= len(sr) || sr[si] != pr[pi] {
					return false, nil
				}
				si++
				pi++
				continue
			}
			switch pc {
			case '%':
				// collapse consecutive wildcards
				for pi < len(pr) && pr[pi] == '%' && !(hasEscape && pr[pi] == escape) {
					pi++
				}
				if pi == len(pr) {
					return true, nil
				}
				for k := si; k <= len(sr); k++ {
					ok, err := match(k, pi)
					if err != nil || ok {
						return ok, err
					}
				}
				return false, nil
			case '_':
				if si >= len(sr) {
					return false, nil
				}
				si++
				pi++
			default:
				if si >= len(sr) || sr[si] != pc {
					return false, nil
				}
				si++
				pi++
			}
		}
		return si == len(sr), nil
	}
	return match(0, 0)
}
