package sql

import (
	"strconv"
	"strings"

	"github.com/CesarPetrescu/CrabSQL/pkg/catalog"
)

// Parse turns one SQL statement into its AST. A trailing semicolon is
// accepted and ignored.
func Parse(src string) (Statement, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if p.cur().symbol(";") {
		p.next()
	}
	if p.cur().kind != tokEOF {
		return nil, parseErr("unexpected input after statement: %s", p.cur().raw)
	}
	return stmt, nil
}

type parser struct {
	toks []token
	i    int
}

func (p *parser) cur() token  { return p.toks[p.i] }
func (p *parser) peek() token { return p.toks[min(p.i+1, len(p.toks)-1)] }
func (p *parser) next() token {
	t := p.toks[p.i]
	if p.i < len(p.toks)-1 {
		p.i++
	}
	return t
}

func (p *parser) acceptKeyword(kw string) bool {
	if p.cur().keyword(kw) {
		p.next()
		return true
	}
	return false
}

func (p *parser) expectKeyword(kw string) error {
	if !p.acceptKeyword(kw) {
		return parseErr("expected %s, got %s", kw, describe(p.cur()))
	}
	return nil
}

func (p *parser) acceptSymbol(s string) bool {
	if p.cur().symbol(s) {
		p.next()
		return true
	}
	return false
}

func (p *parser) expectSymbol(s string) error {
	if !p.acceptSymbol(s) {
		return parseErr("expected %q, got %s", s, describe(p.cur()))
	}
	return nil
}

func (p *parser) expectIdent() (string, error) {
	t := p.cur()
	if t.kind != tokIdent {
		return "", parseErr("expected identifier, got %s", describe(t))
	}
	p.next()
	return t.raw, nil
}

func describe(t token) string {
	switch t.kind {
	case tokEOF:
		return "end of statement"
	case tokString:
		return "string " + strconv.Quote(t.raw)
	default:
		return strconv.Quote(t.raw)
	}
}

func (p *parser) parseStatement() (Statement, error) {
	t := p.cur()
	if t.kind != tokIdent {
		return nil, parseErr("expected statement, got %s", describe(t))
	}
	switch t.text {
	case "CREATE":
		return p.parseCreate()
	case "DROP":
		return p.parseDrop()
	case "USE":
		p.next()
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &UseStmt{Name: name}, nil
	case "SHOW":
		return p.parseShow()
	case "INSERT":
		return p.parseInsert()
	case "UPDATE":
		return p.parseUpdate()
	case "DELETE":
		return p.parseDelete()
	case "SELECT":
		return p.parseSelect()
	case "BEGIN":
		p.next()
		p.acceptKeyword("TRANSACTION")
		return &BeginStmt{}, nil
	case "START":
		p.next()
		if err := p.expectKeyword("TRANSACTION"); err != nil {
			return nil, err
		}
		return &BeginStmt{}, nil
	case "COMMIT":
		p.next()
		return &CommitStmt{}, nil
	case "ROLLBACK":
		p.next()
		if p.acceptKeyword("TO") {
			p.acceptKeyword("SAVEPOINT")
			name, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			return &RollbackToSavepointStmt{Name: name}, nil
		}
		return &RollbackStmt{}, nil
	case "SAVEPOINT":
		p.next()
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &SavepointStmt{Name: name}, nil
	case "RELEASE":
		p.next()
		if err := p.expectKeyword("SAVEPOINT"); err != nil {
			return nil, err
		}
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &ReleaseSavepointStmt{Name: name}, nil
	default:
		return nil, parseErr("unsupported statement: %s", t.raw)
	}
}

func (p *parser) parseTableName() (TableName, error) {
	first, err := p.expectIdent()
	if err != nil {
		return TableName{}, err
	}
	if p.acceptSymbol(".") {
		second, err := p.expectIdent()
		if err != nil {
			return TableName{}, err
		}
		return TableName{DB: first, Name: second}, nil
	}
	return TableName{Name: first}, nil
}

// --- DDL ---

func (p *parser) parseCreate() (Statement, error) {
	p.next() // CREATE
	switch {
	case p.acceptKeyword("DATABASE"):
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &CreateDatabaseStmt{Name: name}, nil
	case p.acceptKeyword("TABLE"):
		return p.parseCreateTable()
	case p.acceptKeyword("INDEX"):
		return p.parseCreateIndex()
	default:
		return nil, parseErr("expected DATABASE, TABLE, or INDEX after CREATE")
	}
}

func (p *parser) parseCreateTable() (Statement, error) {
	tbl, err := p.parseTableName()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	stmt := &CreateTableStmt{Table: tbl}
	for {
		if p.cur().keyword("PRIMARY") {
			// table-level PRIMARY KEY (col)
			p.next()
			if err := p.expectKeyword("KEY"); err != nil {
				return nil, err
			}
			if err := p.expectSymbol("("); err != nil {
				return nil, err
			}
			col, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			if err := p.expectSymbol(")"); err != nil {
				return nil, err
			}
			found := false
			for i := range stmt.Columns {
				if strings.EqualFold(stmt.Columns[i].Name, col) {
					stmt.Columns[i].PrimaryKey = true
					found = true
				}
			}
			if !found {
				return nil, parseErr("PRIMARY KEY names unknown column %s", col)
			}
		} else {
			spec, err := p.parseColumnSpec()
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, spec)
		}
		if p.acceptSymbol(",") {
			continue
		}
		break
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *parser) parseColumnSpec() (ColumnSpec, error) {
	name, err := p.expectIdent()
	if err != nil {
		return ColumnSpec{}, err
	}
	typeName, err := p.expectIdent()
	if err != nil {
		return ColumnSpec{}, err
	}
	// Consume a size suffix like VARCHAR(255); lengths are not enforced.
	if p.acceptSymbol("(") {
		for !p.cur().symbol(")") && p.cur().kind != tokEOF {
			p.next()
		}
		if err := p.expectSymbol(")"); err != nil {
			return ColumnSpec{}, err
		}
	}
	spec := ColumnSpec{Name: name, TypeName: typeName}
	for {
		switch {
		case p.cur().keyword("NOT") && p.peek().keyword("NULL"):
			p.next()
			p.next()
			spec.NotNull = true
		case p.acceptKeyword("NULL"):
			// explicit NULL, the default
		case p.cur().keyword("PRIMARY"):
			p.next()
			if err := p.expectKeyword("KEY"); err != nil {
				return ColumnSpec{}, err
			}
			spec.PrimaryKey = true
		case p.acceptKeyword("AUTO_INCREMENT"):
			spec.AutoIncrement = true
		default:
			return spec, nil
		}
	}
}

func (p *parser) parseCreateIndex() (Statement, error) {
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	tbl, err := p.parseTableName()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	col, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return &CreateIndexStmt{Name: name, Table: tbl, Column: col}, nil
}

func (p *parser) parseDrop() (Statement, error) {
	p.next() // DROP
	switch {
	case p.acceptKeyword("DATABASE"):
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &DropDatabaseStmt{Name: name}, nil
	case p.acceptKeyword("TABLE"):
		tbl, err := p.parseTableName()
		if err != nil {
			return nil, err
		}
		return &DropTableStmt{Table: tbl}, nil
	case p.acceptKeyword("INDEX"):
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("ON"); err != nil {
			return nil, err
		}
		tbl, err := p.parseTableName()
		if err != nil {
			return nil, err
		}
		return &DropIndexStmt{Name: name, Table: tbl}, nil
	default:
		return nil, parseErr("expected DATABASE, TABLE, or INDEX after DROP")
	}
}

func (p *parser) parseShow() (Statement, error) {
	p.next() // SHOW
	switch {
	case p.acceptKeyword("DATABASES"):
		return &ShowStmt{Kind: "DATABASES"}, nil
	case p.acceptKeyword("TABLES"):
		return &ShowStmt{Kind: "TABLES"}, nil
	case p.acceptKeyword("INDEX") || p.acceptKeyword("INDEXES"):
		if err := p.expectKeyword("FROM"); err != nil {
			return nil, err
		}
		tbl, err := p.parseTableName()
		if err != nil {
			return nil, err
		}
		return &ShowStmt{Kind: "INDEX", Table: tbl}, nil
	default:
		return nil, parseErr("expected DATABASES, TABLES, or INDEX after SHOW")
	}
}

// --- DML ---

func (p *parser) parseInsert() (Statement, error) {
	p.next() // INSERT
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	tbl, err := p.parseTableName()
	if err != nil {
		return nil, err
	}
	stmt := &InsertStmt{Table: tbl}
	if p.acceptSymbol("(") {
		for {
			col, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, col)
			if p.acceptSymbol(",") {
				continue
			}
			break
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
	}
	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	for {
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		var row []Expr
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			row = append(row, e)
			if p.acceptSymbol(",") {
				continue
			}
			break
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		stmt.Rows = append(stmt.Rows, row)
		if p.acceptSymbol(",") {
			continue
		}
		break
	}
	return stmt, nil
}

func (p *parser) parseUpdate() (Statement, error) {
	p.next() // UPDATE
	tbl, err := p.parseTableName()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	stmt := &UpdateStmt{Table: tbl}
	for {
		col, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol("="); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Sets = append(stmt.Sets, Assignment{Column: col, Value: val})
		if p.acceptSymbol(",") {
			continue
		}
		break
	}
	if p.acceptKeyword("WHERE") {
		stmt.Where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *parser) parseDelete() (Statement, error) {
	p.next() // DELETE
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	tbl, err := p.parseTableName()
	if err != nil {
		return nil, err
	}
	stmt := &DeleteStmt{Table: tbl}
	if p.acceptKeyword("WHERE") {
		stmt.Where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

// --- SELECT ---

func (p *parser) parseSelect() (Statement, error) {
	p.next() // SELECT
	stmt := &SelectStmt{}
	if p.acceptKeyword("DISTINCT") {
		stmt.Distinct = true
	} else {
		p.acceptKeyword("ALL")
	}
	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		stmt.Items = append(stmt.Items, item)
		if p.acceptSymbol(",") {
			continue
		}
		break
	}
	if p.acceptKeyword("FROM") {
		src, err := p.parseTableSource()
		if err != nil {
			return nil, err
		}
		stmt.From = &src
		for {
			join, ok, err := p.parseJoinClause()
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			stmt.Joins = append(stmt.Joins, join)
		}
	}
	var err error
	if p.acceptKeyword("WHERE") {
		stmt.Where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	if p.cur().keyword("GROUP") {
		p.next()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			stmt.GroupBy = append(stmt.GroupBy, e)
			if p.acceptSymbol(",") {
				continue
			}
			break
		}
	}
	if p.acceptKeyword("HAVING") {
		stmt.Having, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	if p.cur().keyword("ORDER") {
		p.next()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			item := OrderItem{Expr: e}
			if p.acceptKeyword("DESC") {
				item.Desc = true
			} else {
				p.acceptKeyword("ASC")
			}
			stmt.OrderBy = append(stmt.OrderBy, item)
			if p.acceptSymbol(",") {
				continue
			}
			break
		}
	}
	if p.acceptKeyword("LIMIT") {
		n, err := p.parseIntLiteral()
		if err != nil {
			return nil, err
		}
		stmt.Limit = &n
		if p.acceptSymbol(",") {
			// LIMIT offset, count
			c, err := p.parseIntLiteral()
			if err != nil {
				return nil, err
			}
			stmt.Offset = stmt.Limit
			stmt.Limit = &c
		}
	}
	if p.acceptKeyword("OFFSET") {
		n, err := p.parseIntLiteral()
		if err != nil {
			return nil, err
		}
		stmt.Offset = &n
	}
	return stmt, nil
}

func (p *parser) parseIntLiteral() (int64, error) {
	t := p.cur()
	if t.kind != tokNumber {
		return 0, parseErr("expected number, got %s", describe(t))
	}
	p.next()
	n, err := strconv.ParseInt(t.raw, 10, 64)
	if err != nil {
		return 0, parseErr("invalid integer %s", t.raw)
	}
	return n, nil
}

func (p *parser) parseSelectItem() (SelectItem, error) {
	if p.acceptSymbol("*") {
		return SelectItem{Wildcard: true}, nil
	}
	// table.* wildcard
	if p.cur().kind == tokIdent && p.peek().symbol(".") && p.toks[min(p.i+2, len(p.toks)-1)].symbol("*") {
		tbl := p.next().raw
		p.next() // .
		p.next() // *
		return SelectItem{Wildcard: true, WildTable: tbl}, nil
	}
	e, err := p.parseExpr()
	if err != nil {
		return SelectItem{}, err
	}
	item := SelectItem{Expr: e}
	if p.acceptKeyword("AS") {
		item.Alias, err = p.expectIdent()
		if err != nil {
			return SelectItem{}, err
		}
	} else if p.cur().kind == tokIdent && !selectItemTerminator(p.cur().text) {
		item.Alias = p.next().raw
	}
	return item, nil
}

// selectItemTerminator lists keywords that end the projection list, so
// a bare identifier after an expression reads as an alias only when it
// is not one of these.
func selectItemTerminator(kw string) bool {
	switch kw {
	case "FROM", "WHERE", "GROUP", "HAVING", "ORDER", "LIMIT", "OFFSET",
		"INNER", "LEFT", "RIGHT", "CROSS", "JOIN", "ON", "USING", "NATURAL",
		"AND", "OR", "NOT", "IS", "IN", "BETWEEN", "LIKE", "ASC", "DESC", "AS", "UNION":
		return true
	}
	return false
}

func (p *parser) parseTableSource() (TableSource, error) {
	tbl, err := p.parseTableName()
	if err != nil {
		return TableSource{}, err
	}
	src := TableSource{Table: tbl}
	if p.acceptKeyword("AS") {
		src.Alias, err = p.expectIdent()
		if err != nil {
			return TableSource{}, err
		}
	} else if p.cur().kind == tokIdent && !selectItemTerminator(p.cur().text) {
		src.Alias = p.next().raw
	}
	return src, nil
}

func (p *parser) parseJoinClause() (JoinClause, bool, error) {
	join := JoinClause{Kind: JoinInner}
	switch {
	case p.acceptKeyword("NATURAL"):
		join.Natural = true
		if p.acceptKeyword("LEFT") {
			join.Kind = JoinLeft
			p.acceptKeyword("OUTER")
		} else if p.acceptKeyword("RIGHT") {
			join.Kind = JoinRight
			p.acceptKeyword("OUTER")
		} else {
			p.acceptKeyword("INNER")
		}
		if err := p.expectKeyword("JOIN"); err != nil {
			return join, false, err
		}
	case p.acceptKeyword("CROSS"):
		join.Kind = JoinCross
		if err := p.expectKeyword("JOIN"); err != nil {
			return join, false, err
		}
	case p.acceptKeyword("INNER"):
		if err := p.expectKeyword("JOIN"); err != nil {
			return join, false, err
		}
	case p.acceptKeyword("LEFT"):
		join.Kind = JoinLeft
		p.acceptKeyword("OUTER")
		if err := p.expectKeyword("JOIN"); err != nil {
			return join, false, err
		}
	case p.acceptKeyword("RIGHT"):
		join.Kind = JoinRight
		p.acceptKeyword("OUTER")
		if err := p.expectKeyword("JOIN"); err != nil {
			return join, false, err
		}
	case p.acceptKeyword("JOIN"):
		// bare JOIN is INNER
	case p.acceptSymbol(","):
		join.Kind = JoinCross
	default:
		return join, false, nil
	}

	src, err := p.parseTableSource()
	if err != nil {
		return join, false, err
	}
	join.Source = src

	if join.Natural || join.Kind == JoinCross {
		return join, true, nil
	}
	switch {
	case p.acceptKeyword("ON"):
		join.On, err = p.parseExpr()
		if err != nil {
			return join, false, err
		}
	case p.acceptKeyword("USING"):
		if err := p.expectSymbol("("); err != nil {
			return join, false, err
		}
		for {
			col, err := p.expectIdent()
			if err != nil {
				return join, false, err
			}
			join.Using = append(join.Using, col)
			if p.acceptSymbol(",") {
				continue
			}
			break
		}
		if err := p.expectSymbol(")"); err != nil {
			return join, false, err
		}
	default:
		return join, false, parseErr("%s JOIN requires ON or USING", join.Kind)
	}
	return join, true, nil
}

// --- expressions, precedence climbing ---

func (p *parser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: OpOr, L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("AND") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: OpAnd, L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.acceptKeyword("NOT") {
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &NotExpr{X: x}, nil
	}
	return p.parsePredicate()
}

// parsePredicate handles comparisons and the postfix predicates
// IS [NOT] NULL, [NOT] IN, [NOT] BETWEEN, [NOT] LIKE.
func (p *parser) parsePredicate() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		negate := false
		if p.cur().keyword("NOT") && (p.peek().keyword("IN") || p.peek().keyword("BETWEEN") || p.peek().keyword("LIKE")) {
			p.next()
			negate = true
		}
		switch {
		case p.acceptKeyword("IS"):
			neg := p.acceptKeyword("NOT")
			if err := p.expectKeyword("NULL"); err != nil {
				return nil, err
			}
			left = &IsNullExpr{X: left, Negate: neg}
		case p.acceptKeyword("IN"):
			if err := p.expectSymbol("("); err != nil {
				return nil, err
			}
			in := &InExpr{X: left, Negate: negate}
			for {
				e, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				in.List = append(in.List, e)
				if p.acceptSymbol(",") {
					continue
				}
				break
			}
			if err := p.expectSymbol(")"); err != nil {
				return nil, err
			}
			left = in
		case p.acceptKeyword("BETWEEN"):
			lo, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			if err := p.expectKeyword("AND"); err != nil {
				return nil, err
			}
			hi, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &BetweenExpr{X: left, Lo: lo, Hi: hi, Negate: negate}
		case p.acceptKeyword("LIKE"):
			pat, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			like := &LikeExpr{X: left, Pattern: pat, Negate: negate}
			if p.acceptKeyword("ESCAPE") {
				like.Escape, err = p.parseAdditive()
				if err != nil {
					return nil, err
				}
			}
			left = like
		default:
			if negate {
				return nil, parseErr("expected IN, BETWEEN, or LIKE after NOT")
			}
			op, ok := comparisonOp(p.cur())
			if !ok {
				return left, nil
			}
			p.next()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &BinaryExpr{Op: op, L: left, R: right}
		}
	}
}

func comparisonOp(t token) (BinaryOp, bool) {
	if t.kind != tokSymbol {
		return 0, false
	}
	switch t.text {
	case "=":
		return OpEQ, true
	case "!=":
		return OpNE, true
	case "<":
		return OpLT, true
	case "<=":
		return OpLE, true
	case ">":
		return OpGT, true
	case ">=":
		return OpGE, true
	}
	return 0, false
}

func (p *parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		var op BinaryOp
		switch {
		case p.acceptSymbol("+"):
			op = OpAdd
		case p.acceptSymbol("-"):
			op = OpSub
		default:
			return left, nil
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, L: left, R: right}
	}
}

func (p *parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var op BinaryOp
		switch {
		case p.acceptSymbol("*"):
			op = OpMul
		case p.acceptSymbol("/"):
			op = OpDiv
		case p.acceptSymbol("%"):
			op = OpMod
		default:
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, L: left, R: right}
	}
}

func (p *parser) parseUnary() (Expr, error) {
	if p.acceptSymbol("-") {
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &NegExpr{X: x}, nil
	}
	p.acceptSymbol("+")
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.cur()
	switch t.kind {
	case tokNumber:
		p.next()
		if strings.Contains(t.raw, ".") {
			f, err := strconv.ParseFloat(t.raw, 64)
			if err != nil {
				return nil, parseErr("invalid number %s", t.raw)
			}
			return &Literal{Value: catalog.NewFloat(f)}, nil
		}
		n, err := strconv.ParseInt(t.raw, 10, 64)
		if err != nil {
			return nil, parseErr("invalid number %s", t.raw)
		}
		return &Literal{Value: catalog.NewInt(n)}, nil
	case tokString:
		p.next()
		return &Literal{Value: catalog.NewText(t.raw)}, nil
	case tokSymbol:
		if t.symbol("(") {
			p.next()
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectSymbol(")"); err != nil {
				return nil, err
			}
			return e, nil
		}
	case tokIdent:
		switch t.text {
		case "NULL":
			p.next()
			return &Literal{Value: catalog.Null(catalog.TypeInt)}, nil
		case "TRUE":
			p.next()
			return &Literal{Value: catalog.NewInt(1)}, nil
		case "FALSE":
			p.next()
			return &Literal{Value: catalog.NewInt(0)}, nil
		}
		// function call
		if p.peek().symbol("(") {
			name := strings.ToUpper(p.next().raw)
			p.next() // (
			fn := &FuncCall{Name: name}
			if p.acceptSymbol("*") {
				fn.Star = true
			} else if !p.cur().symbol(")") {
				for {
					arg, err := p.parseExpr()
					if err != nil {
						return nil, err
					}
					fn.Args = append(fn.Args, arg)
					if p.acceptSymbol(",") {
						continue
					}
					break
				}
			}
			if err := p.expectSymbol(")"); err != nil {
				return nil, err
			}
			return fn, nil
		}
		// column reference, possibly qualified
		if selectItemTerminator(t.text) {
			return nil, parseErr("unexpected keyword %s in expression", t.raw)
		}
		p.next()
		if p.cur().symbol(".") && p.peek().kind == tokIdent {
			p.next()
			col := p.next().raw
			return &ColumnRef{Table: t.raw, Name: col}, nil
		}
		return &ColumnRef{Name: t.raw}, nil
	}
	return nil, parseErr("unexpected %s in expression", describe(t))
}
