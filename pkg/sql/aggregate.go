package sql

import (
	"fmt"

	"github.com/CesarPetrescu/CrabSQL/pkg/catalog"
)

// accumulator folds one aggregate over a group's rows. Inc is the
// COUNT(*) path and counts every row; Add receives the evaluated
// argument and skips NULLs per aggregate rules.
type accumulator interface {
	Add(v catalog.Value) error
	Inc()
	Finish() catalog.Value
}

type countAcc struct{ n int64 }

func (a *countAcc) Add(v catalog.Value) error {
	if !v.IsNull {
		a.n++
	}
	return nil
}
func (a *countAcc) Inc()                  { a.n++ }
func (a *countAcc) Finish() catalog.Value { return catalog.NewInt(a.n) }

// sumAcc keeps integer sums exact and widens on the first float.
// A group with no non-NULL input sums to NULL.
type sumAcc struct {
	sum  catalog.Value
	seen bool
}

func (a *sumAcc) Add(v catalog.Value) error {
	if v.IsNull {
		return nil
	}
	if _, ok := v.AsFloat(); !ok {
		return typeMismatchErr("SUM over %s", v.Type)
	}
	if !a.seen {
		a.sum = v
		a.seen = true
		return nil
	}
	s, err := catalog.Add(a.sum, v)
	if err != nil {
		return typeMismatchErr("%v", err)
	}
	a.sum = s
	return nil
}
func (a *sumAcc) Inc() {}
func (a *sumAcc) Finish() catalog.Value {
	if !a.seen {
		return catalog.Null(catalog.TypeInt)
	}
	return a.sum
}

type avgAcc struct {
	sum float64
	n   int64
}

func (a *avgAcc) Add(v catalog.Value) error {
	if v.IsNull {
		return nil
	}
	f, ok := v.AsFloat()
	if !ok {
		return typeMismatchErr("AVG over %s", v.Type)
	}
	a.sum += f
	a.n++
	return nil
}
func (a *avgAcc) Inc() {}
func (a *avgAcc) Finish() catalog.Value {
	if a.n == 0 {
		return catalog.Null(catalog.TypeFloat)
	}
	return catalog.NewFloat(a.sum / float64(a.n))
}

type extremeAcc struct {
	best catalog.Value
	seen bool
	max  bool
}

func (a *extremeAcc) Add(v catalog.Value) error {
	if v.IsNull {
		return nil
	}
	if !a.seen {
		a.best = v
		a.seen = true
		return nil
	}
	c, err := catalog.Compare(v, a.best)
	if err != nil {
		return typeMismatchErr("%v", err)
	}
	if (a.max && c > 0) || (!a.max && c < 0) {
		a.best = v
	}
	return nil
}
func (a *extremeAcc) Inc() {}
func (a *extremeAcc) Finish() catalog.Value {
	if !a.seen {
		return catalog.Null(catalog.TypeInt)
	}
	return a.best
}

// aggSpec is one registered aggregate call.
type aggSpec struct {
	name string
	star bool
	arg  Expr
}

func (s aggSpec) newAccumulator() accumulator {
	switch s.name {
	case "COUNT":
		return &countAcc{}
	case "SUM":
		return &sumAcc{}
	case "AVG":
		return &avgAcc{}
	case "MIN":
		return &extremeAcc{}
	case "MAX":
		return &extremeAcc{max: true}
	default:
		return nil
	}
}

// aggregator collects aggregate calls out of projection and HAVING
// trees, replacing each with a reference into the finished-value slot
// shared across both clauses.
type aggregator struct {
	specs []aggSpec
}

// rewrite substitutes aggregate calls. Nested aggregates are rejected.
func (ag *aggregator) rewrite(e Expr) (Expr, error) {
	switch x := e.(type) {
	case nil:
		return nil, nil
	case *FuncCall:
		if !aggregateNames[x.Name] {
			return nil, fmt.Errorf("unknown function %s", x.Name)
		}
		spec := aggSpec{name: x.Name, star: x.Star}
		if !x.Star {
			if len(x.Args) != 1 {
				return nil, parseErr("%s takes one argument", x.Name)
			}
			if containsAggregate(x.Args[0]) {
				return nil, parseErr("nested aggregate in %s", x.Name)
			}
			spec.arg = x.Args[0]
		} else if x.Name != "COUNT" {
			return nil, parseErr("%s(*) is not valid", x.Name)
		}
		ag.specs = append(ag.specs, spec)
		return &aggRef{idx: len(ag.specs) - 1}, nil
	case *BinaryExpr:
		l, err := ag.rewrite(x.L)
		if err != nil {
			return nil, err
		}
		r, err := ag.rewrite(x.R)
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: x.Op, L: l, R: r}, nil
	case *NotExpr:
		inner, err := ag.rewrite(x.X)
		if err != nil {
			return nil, err
		}
		return &NotExpr{X: inner}, nil
	case *NegExpr:
		inner, err := ag.rewrite(x.X)
		if err != nil {
			return nil, err
		}
		return &NegExpr{X: inner}, nil
	case *IsNullExpr:
		inner, err := ag.rewrite(x.X)
		if err != nil {
			return nil, err
		}
		return &IsNullExpr{X: inner, Negate: x.Negate}, nil
	case *InExpr:
		inner, err := ag.rewrite(x.X)
		if err != nil {
			return nil, err
		}
		out := &InExpr{X: inner, Negate: x.Negate}
		for _, item := range x.List {
			ri, err := ag.rewrite(item)
			if err != nil {
				return nil, err
			}
			out.List = append(out.List, ri)
		}
		return out, nil
	case *BetweenExpr:
		xx, err := ag.rewrite(x.X)
		if err != nil {
			return nil, err
		}
		lo, err := ag.rewrite(x.Lo)
		if err != nil {
			return nil, err
		}
		hi, err := ag.rewrite(x.Hi)
		if err != nil {
			return nil, err
		}
		return &BetweenExpr{X: xx, Lo: lo, Hi: hi, Negate: x.Negate}, nil
	case *LikeExpr:
		xx, err := ag.rewrite(x.X)
		if err != nil {
			return nil, err
		}
		pat, err := ag.rewrite(x.Pattern)
		if err != nil {
			return nil, err
		}
		out := &LikeExpr{X: xx, Pattern: pat, Negate: x.Negate}
		if x.Escape != nil {
			out.Escape, err = ag.rewrite(x.Escape)
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	default:
		return e, nil
	}
}

// group accumulates one GROUP BY bucket: the first row seen stands in
// for the grouped columns, and one accumulator per registered spec.
type group struct {
	repr []catalog.Value
	accs []accumulator
}

// grouper routes rows into groups. Grouping keys treat all NULLs as
// equal, so every NULL-keyed row lands in the same bucket.
type grouper struct {
	keyExprs []Expr
	specs    []aggSpec
	order    []string
	groups   map[string]*group
}

func newGrouper(keyExprs []Expr, specs []aggSpec) *grouper {
	return &grouper{
		keyExprs: keyExprs,
		specs:    specs,
		groups:   make(map[string]*group),
	}
}

func (g *grouper) add(env *rowEnv) error {
	var key string
	for _, e := range g.keyExprs {
		v, err := evalValue(env, e)
		if err != nil {
			return err
		}
		key += v.GroupKey() + "\x00"
	}
	grp, ok := g.groups[key]
	if !ok {
		grp = &group{repr: append([]catalog.Value{}, env.values...)}
		for _, spec := range g.specs {
			grp.accs = append(grp.accs, spec.newAccumulator())
		}
		g.groups[key] = grp
		g.order = append(g.order, key)
	}
	for i, spec := range g.specs {
		if spec.star {
			grp.accs[i].Inc()
			continue
		}
		v, err := evalValue(env, spec.arg)
		if err != nil {
			return err
		}
		if err := grp.accs[i].Add(v); err != nil {
			return err
		}
	}
	return nil
}

// results returns groups in first-appearance order. When no GROUP BY
// was given, withImplicit forces one group even over zero input rows;
// COUNT then reports 0 and the other aggregates NULL.
func (g *grouper) results(withImplicit bool, width int) []*group {
	if len(g.order) == 0 && withImplicit {
		grp := &group{repr: nullRow(width)}
		for _, spec := range g.specs {
			grp.accs = append(grp.accs, spec.newAccumulator())
		}
		return []*group{grp}
	}
	out := make([]*group, 0, len(g.order))
	for _, key := range g.order {
		out = append(out, g.groups[key])
	}
	return out
}

// finished produces the aggregate values of one group.
func (grp *group) finished() []catalog.Value {
	out := make([]catalog.Value, len(grp.accs))
	for i, acc := range grp.accs {
		out[i] = acc.Finish()
	}
	return out
}
