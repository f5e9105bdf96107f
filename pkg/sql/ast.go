package sql

import "github.com/CesarPetrescu/CrabSQL/pkg/catalog"

// Statement is any parsed SQL statement.
type Statement interface{ stmtNode() }

// Expr is any scalar or boolean expression.
type Expr interface{ exprNode() }

// TableName is a possibly database-qualified table reference.
type TableName struct {
	DB   string // empty means the session's current database
	Name string
}

// --- DDL ---

type CreateDatabaseStmt struct{ Name string }
type DropDatabaseStmt struct{ Name string }
type UseStmt struct{ Name string }

// ShowStmt covers SHOW DATABASES, SHOW TABLES, and SHOW INDEX FROM t.
type ShowStmt struct {
	Kind  string // "DATABASES", "TABLES", "INDEX"
	Table TableName
}

// ColumnSpec is one column in CREATE TABLE.
type ColumnSpec struct {
	Name          string
	TypeName      string
	NotNull       bool
	PrimaryKey    bool
	AutoIncrement bool
}

type CreateTableStmt struct {
	Table   TableName
	Columns []ColumnSpec
}

type DropTableStmt struct{ Table TableName }

type CreateIndexStmt struct {
	Name   string
	Table  TableName
	Column string
}

type DropIndexStmt struct {
	Name  string
	Table TableName
}

// --- DML ---

type InsertStmt struct {
	Table   TableName
	Columns []string // empty means positional over all columns
	Rows    [][]Expr
}

type Assignment struct {
	Column string
	Value  Expr
}

type UpdateStmt struct {
	Table TableName
	Sets  []Assignment
	Where Expr // nil means all rows
}

type DeleteStmt struct {
	Table TableName
	Where Expr
}

// --- SELECT ---

// SelectItem is one projection: an expression with an optional alias,
// or a wildcard (optionally table-qualified).
type SelectItem struct {
	Expr      Expr
	Alias     string
	Wildcard  bool
	WildTable string
}

// JoinKind selects the join semantics.
type JoinKind uint8

const (
	JoinCross JoinKind = iota
	JoinInner
	JoinLeft
	JoinRight
)

func (k JoinKind) String() string {
	switch k {
	case JoinCross:
		return "CROSS"
	case JoinInner:
		return "INNER"
	case JoinLeft:
		return "LEFT"
	case JoinRight:
		return "RIGHT"
	default:
		return "?"
	}
}

// TableSource is one table in the FROM clause.
type TableSource struct {
	Table TableName
	Alias string
}

// JoinClause attaches one more table to the FROM chain. Exactly one of
// On, Using, or Natural describes the condition; USING and NATURAL are
// rewritten to On before execution.
type JoinClause struct {
	Kind    JoinKind
	Source  TableSource
	On      Expr
	Using   []string
	Natural bool
}

type OrderItem struct {
	Expr Expr
	Desc bool
}

type SelectStmt struct {
	Distinct bool
	Items    []SelectItem
	From     *TableSource // nil for FROM-less SELECT
	Joins    []JoinClause
	Where    Expr
	GroupBy  []Expr
	Having   Expr
	OrderBy  []OrderItem
	Limit    *int64
	Offset   *int64
}

// --- transaction control ---

type BeginStmt struct{}
type CommitStmt struct{}
type RollbackStmt struct{}
type SavepointStmt struct{ Name string }
type RollbackToSavepointStmt struct{ Name string }
type ReleaseSavepointStmt struct{ Name string }

func (*CreateDatabaseStmt) stmtNode()      {}
func (*DropDatabaseStmt) stmtNode()        {}
func (*UseStmt) stmtNode()                 {}
func (*ShowStmt) stmtNode()                {}
func (*CreateTableStmt) stmtNode()         {}
func (*DropTableStmt) stmtNode()           {}
func (*CreateIndexStmt) stmtNode()         {}
func (*DropIndexStmt) stmtNode()           {}
func (*InsertStmt) stmtNode()              {}
func (*UpdateStmt) stmtNode()              {}
func (*DeleteStmt) stmtNode()              {}
func (*SelectStmt) stmtNode()              {}
func (*BeginStmt) stmtNode()               {}
func (*CommitStmt) stmtNode()              {}
func (*RollbackStmt) stmtNode()            {}
func (*SavepointStmt) stmtNode()           {}
func (*RollbackToSavepointStmt) stmtNode() {}
func (*ReleaseSavepointStmt) stmtNode()    {}

// --- expressions ---

// ColumnRef names a column, optionally table-qualified.
type ColumnRef struct {
	Table string
	Name  string
}

// Literal wraps a constant value.
type Literal struct{ Value catalog.Value }

// BinaryOp enumerates infix operators.
type BinaryOp uint8

const (
	OpEQ BinaryOp = iota
	OpNE
	OpLT
	OpLE
	OpGT
	OpGE
	OpAnd
	OpOr
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
)

func (op BinaryOp) String() string {
	switch op {
	case OpEQ:
		return "="
	case OpNE:
		return "!="
	case OpLT:
		return "<"
	case OpLE:
		return "<="
	case OpGT:
		return ">"
	case OpGE:
		return ">="
	case OpAnd:
		return "AND"
	case OpOr:
		return "OR"
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpMod:
		return "%"
	default:
		return "?"
	}
}

// IsComparison reports whether the operator yields a truth value.
func (op BinaryOp) IsComparison() bool { return op <= OpGE }

type BinaryExpr struct {
	Op   BinaryOp
	L, R Expr
}

type NotExpr struct{ X Expr }

type NegExpr struct{ X Expr }

type IsNullExpr struct {
	X      Expr
	Negate bool // IS NOT NULL
}

type InExpr struct {
	X      Expr
	List   []Expr
	Negate bool
}

type BetweenExpr struct {
	X, Lo, Hi Expr
	Negate    bool
}

type LikeExpr struct {
	X       Expr
	Pattern Expr
	Escape  Expr // nil when no ESCAPE clause
	Negate  bool
}

// FuncCall is a function invocation; today only the five aggregates.
type FuncCall struct {
	Name string // upper-cased
	Star bool   // COUNT(*)
	Args []Expr
}

// aggRef replaces an aggregate call after registration with the
// accumulator set, so HAVING and projections read the finished value.
type aggRef struct{ idx int }

func (*ColumnRef) exprNode()   {}
func (*Literal) exprNode()     {}
func (*BinaryExpr) exprNode()  {}
func (*NotExpr) exprNode()     {}
func (*NegExpr) exprNode()     {}
func (*IsNullExpr) exprNode()  {}
func (*InExpr) exprNode()      {}
func (*BetweenExpr) exprNode() {}
func (*LikeExpr) exprNode()    {}
func (*FuncCall) exprNode()    {}
func (*aggRef) exprNode()      {}

// aggregateNames is the set of supported aggregate functions.
var aggregateNames = map[string]bool{
	"COUNT": true, "SUM": true, "AVG": true, "MIN": true, "MAX": true,
}

// containsAggregate walks an expression tree looking for aggregate calls.
func containsAggregate(e Expr) bool {
	switch x := e.(type) {
	case *FuncCall:
		if aggregateNames[x.Name] {
			return true
		}
		for _, a := range x.Args {
			if containsAggregate(a) {
				return true
			}
		}
	case *BinaryExpr:
		return containsAggregate(x.L) || containsAggregate(x.R)
	case *NotExpr:
		return containsAggregate(x.X)
	case *NegExpr:
		return containsAggregate(x.X)
	case *IsNullExpr:
		return containsAggregate(x.X)
	case *InExpr:
		if containsAggregate(x.X) {
			return true
		}
		for _, item := range x.List {
			if containsAggregate(item) {
				return true
			}
		}
	case *BetweenExpr:
		return containsAggregate(x.X) || containsAggregate(x.Lo) || containsAggregate(x.Hi)
	case *LikeExpr:
		return containsAggregate(x.X) || containsAggregate(x.Pattern)
	case *aggRef:
		return true
	}
	return false
}
