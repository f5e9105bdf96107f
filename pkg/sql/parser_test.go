package sql

import (
	"errors"
	"testing"

	"github.com/CesarPetrescu/CrabSQL/pkg/catalog"
)

func mustParse(t *testing.T, src string) Statement {
	t.Helper()
	stmt, err := Parse(src)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return stmt
}

func TestParseCreateTable(t *testing.T) {
	stmt := mustParse(t, `CREATE TABLE shop.items (
		id INT PRIMARY KEY AUTO_INCREMENT,
		name VARCHAR(100) NOT NULL,
		price FLOAT
	);`)
	ct, ok := stmt.(*CreateTableStmt)
	if !ok {
		t.Fatalf("got %T", stmt)
	}
	if ct.Table.DB != "shop" || ct.Table.Name != "items" {
		t.Fatalf("table = %+v", ct.Table)
	}
	if len(ct.Columns) != 3 {
		t.Fatalf("columns = %d", len(ct.Columns))
	}
	if !ct.Columns[0].PrimaryKey || !ct.Columns[0].AutoIncrement {
		t.Fatalf("id column flags = %+v", ct.Columns[0])
	}
	if !ct.Columns[1].NotNull {
		t.Fatal("name should be NOT NULL")
	}
}

func TestParseSelectJoins(t *testing.T) {
	stmt := mustParse(t, `SELECT o.id, c.name
		FROM orders o
		LEFT JOIN customers c ON o.customer_id = c.id
		JOIN lines USING (order_id)
		NATURAL JOIN extras
		WHERE o.total > 100
		GROUP BY c.name
		HAVING COUNT(*) > 1
		ORDER BY c.name DESC
		LIMIT 10 OFFSET 5`)
	sel := stmt.(*SelectStmt)
	if len(sel.Joins) != 3 {
		t.Fatalf("joins = %d", len(sel.Joins))
	}
	if sel.Joins[0].Kind != JoinLeft || sel.Joins[0].On == nil {
		t.Fatalf("first join = %+v", sel.Joins[0])
	}
	if sel.Joins[1].Kind != JoinInner || len(sel.Joins[1].Using) != 1 {
		t.Fatalf("second join = %+v", sel.Joins[1])
	}
	if !sel.Joins[2].Natural {
		t.Fatal("third join should be NATURAL")
	}
	if sel.Where == nil || len(sel.GroupBy) != 1 || sel.Having == nil {
		t.Fatal("missing WHERE/GROUP BY/HAVING")
	}
	if len(sel.OrderBy) != 1 || !sel.OrderBy[0].Desc {
		t.Fatalf("order by = %+v", sel.OrderBy)
	}
	if *sel.Limit != 10 || *sel.Offset != 5 {
		t.Fatalf("limit/offset = %v/%v", *sel.Limit, *sel.Offset)
	}
}

func TestParsePredicates(t *testing.T) {
	sel := mustParse(t, `SELECT * FROM t WHERE a IS NOT NULL AND b NOT IN (1, 2)
		AND c BETWEEN 1 AND 5 AND name LIKE 'a!%%' ESCAPE '!'`).(*SelectStmt)
	and, ok := sel.Where.(*BinaryExpr)
	if !ok || and.Op != OpAnd {
		t.Fatalf("where = %T", sel.Where)
	}
	like, ok := and.R.(*LikeExpr)
	if !ok || like.Escape == nil {
		t.Fatalf("rightmost predicate = %+v", and.R)
	}
}

func TestParseInsertMultiRow(t *testing.T) {
	ins := mustParse(t, `INSERT INTO t (a, b) VALUES (1, 'x'), (2, NULL)`).(*InsertStmt)
	if len(ins.Columns) != 2 || len(ins.Rows) != 2 {
		t.Fatalf("insert = %+v", ins)
	}
	lit := ins.Rows[1][1].(*Literal)
	if !lit.Value.IsNull {
		t.Fatal("second row b should be NULL")
	}
}

func TestParseStringEscapes(t *testing.T) {
	ins := mustParse(t, `INSERT INTO t VALUES ('it''s')`).(*InsertStmt)
	lit := ins.Rows[0][0].(*Literal)
	if lit.Value.Text != "it's" {
		t.Fatalf("got %q", lit.Value.Text)
	}
}

func TestParseTransactionControl(t *testing.T) {
	if _, ok := mustParse(t, "BEGIN").(*BeginStmt); !ok {
		t.Fatal("BEGIN")
	}
	if _, ok := mustParse(t, "START TRANSACTION").(*BeginStmt); !ok {
		t.Fatal("START TRANSACTION")
	}
	rb := mustParse(t, "ROLLBACK TO SAVEPOINT sp1").(*RollbackToSavepointStmt)
	if rb.Name != "sp1" {
		t.Fatalf("savepoint name = %q", rb.Name)
	}
	if _, ok := mustParse(t, "RELEASE SAVEPOINT sp1").(*ReleaseSavepointStmt); !ok {
		t.Fatal("RELEASE SAVEPOINT")
	}
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{
		"SELEC 1",
		"SELECT FROM",
		"INSERT INTO t VALUES (1",
		"SELECT * FROM a JOIN b", // missing ON/USING
		"CREATE TABLE t (id INT PRIMARY KEY) garbage",
	} {
		if _, err := Parse(src); !errors.Is(err, ErrParse) {
			t.Errorf("%q: got %v, want ErrParse", src, err)
		}
	}
}

func TestParseOperatorPrecedence(t *testing.T) {
	sel := mustParse(t, "SELECT 1 + 2 * 3").(*SelectStmt)
	env := &rowEnv{}
	v, err := evalValue(env, sel.Items[0].Expr)
	if err != nil {
		t.Fatal(err)
	}
	if !catalog.Equal(v, catalog.NewInt(7)) {
		t.Fatalf("1 + 2 * 3 = %v, want 7", v)
	}
}
