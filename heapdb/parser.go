package heapdb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xwb1989/sqlparser"
)

// This file translates parsed SQL statements into operator plans. The SQL
// surface is intentionally small: single- and two-table SELECT with AND-ed
// comparison predicates, the five aggregates with an optional GROUP BY,
// ORDER BY, LIMIT and DISTINCT; INSERT ... VALUES; and DELETE with an
// optional WHERE. Grammar work is delegated entirely to sqlparser; this
// file only maps its AST onto operators.

// ParseStatement builds an executable plan for query. Every statement,
// including INSERT and DELETE, becomes an Operator: mutations emit their
// affected-row count as a single tuple.
func ParseStatement(db *Database, query string) (Operator, error) {
	stmt, err := sqlparser.Parse(query)
	if err != nil {
		return nil, DBError{ParseError, fmt.Sprintf("parse %q: %v", query, err)}
	}
	switch stmt := stmt.(type) {
	case *sqlparser.Select:
		return buildSelect(db, stmt)
	case *sqlparser.Insert:
		return buildInsert(db, stmt)
	case *sqlparser.Delete:
		return buildDelete(db, stmt)
	default:
		return nil, DBError{ParseError, fmt.Sprintf("unsupported statement %T", stmt)}
	}
}

// comparison is one predicate decomposed from a WHERE clause or join
// condition.
type comparison struct {
	op          BoolOp
	left, right sqlparser.Expr
}

func buildSelect(db *Database, stmt *sqlparser.Select) (Operator, error) {
	var comparisons []comparison
	var err error
	if stmt.Where != nil {
		if comparisons, err = flattenWhere(stmt.Where.Expr); err != nil {
			return nil, err
		}
	}
	plan, comparisons, err := buildFrom(db, stmt.From, comparisons)
	if err != nil {
		return nil, err
	}
	if plan, comparisons, err = applyPredicates(plan, comparisons); err != nil {
		return nil, err
	}
	if len(comparisons) > 0 {
		return nil, DBError{ParseError, "unsupported predicate in where clause"}
	}

	if plan, err = applyAggregates(plan, stmt); err != nil {
		return nil, err
	}

	if len(stmt.OrderBy) > 0 {
		var fields []Expr
		var ascending []bool
		for _, order := range stmt.OrderBy {
			col, ok := order.Expr.(*sqlparser.ColName)
			if !ok {
				return nil, DBError{ParseError, "order by supports plain columns only"}
			}
			fe, err := fieldExprFor(col, plan.Descriptor())
			if err != nil {
				return nil, err
			}
			fields = append(fields, fe)
			ascending = append(ascending, order.Direction != sqlparser.DescScr)
		}
		if plan, err = NewOrderBy(fields, plan, ascending); err != nil {
			return nil, err
		}
	}

	if plan, err = applyProjection(plan, stmt); err != nil {
		return nil, err
	}

	if stmt.Limit != nil {
		val, ok := stmt.Limit.Rowcount.(*sqlparser.SQLVal)
		if !ok || val.Type != sqlparser.IntVal {
			return nil, DBError{ParseError, "limit must be an integer literal"}
		}
		n, err := strconv.Atoi(string(val.Val))
		if err != nil {
			return nil, DBError{ParseError, "limit must be an integer literal"}
		}
		if plan, err = NewLimitOp(NewConstExpr(IntField{int32(n)}, IntType), plan); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// buildFrom turns the FROM clause into a plan: one scan, or two scans under
// a join. The join predicate comes from the ON condition when there is one,
// otherwise from the first column-to-column comparison in the WHERE clause,
// which is consumed; unconsumed comparisons are returned for filtering.
func buildFrom(db *Database, from sqlparser.TableExprs, whereConds []comparison) (Operator, []comparison, error) {
	var scans []Operator
	var onConds []comparison
	var addTable func(expr sqlparser.TableExpr) error
	addTable = func(expr sqlparser.TableExpr) error {
		switch expr := expr.(type) {
		case *sqlparser.AliasedTableExpr:
			name, ok := expr.Expr.(sqlparser.TableName)
			if !ok {
				return DBError{ParseError, "subqueries are not supported"}
			}
			table, err := db.Catalog().TableNamed(name.Name.String())
			if err != nil {
				return err
			}
			alias := expr.As.String()
			if alias == "" {
				alias = name.Name.String()
			}
			scans = append(scans, NewSeqScan(table, alias))
			return nil
		case *sqlparser.JoinTableExpr:
			if err := addTable(expr.LeftExpr); err != nil {
				return err
			}
			if err := addTable(expr.RightExpr); err != nil {
				return err
			}
			if expr.Condition.On != nil {
				conds, err := flattenWhere(expr.Condition.On)
				if err != nil {
					return err
				}
				onConds = append(onConds, conds...)
			}
			return nil
		default:
			return DBError{ParseError, fmt.Sprintf("unsupported table expression %T", expr)}
		}
	}
	for _, expr := range from {
		if err := addTable(expr); err != nil {
			return nil, nil, err
		}
	}

	switch len(scans) {
	case 1:
		if len(onConds) > 0 {
			return nil, nil, DBError{ParseError, "join condition without a join"}
		}
		return scans[0], whereConds, nil
	case 2:
		if len(onConds) > 0 {
			plan, remaining, err := joinPair(scans[0], scans[1], onConds)
			if err != nil {
				return nil, nil, err
			}
			if len(remaining) > 0 {
				return nil, nil, DBError{ParseError, "unsupported join condition"}
			}
			return plan, whereConds, nil
		}
		plan, remaining, err := joinPair(scans[0], scans[1], whereConds)
		if err != nil {
			return nil, nil, err
		}
		return plan, remaining, nil
	default:
		return nil, nil, DBError{ParseError, "queries over more than two tables are not supported"}
	}
}

// joinPair builds a join between left and right from the first column-column
// condition in conds, returning the conditions it did not consume.
func joinPair(left, right Operator, conds []comparison) (Operator, []comparison, error) {
	for i, c := range conds {
		lcol, lok := c.left.(*sqlparser.ColName)
		rcol, rok := c.right.(*sqlparser.ColName)
		if !lok || !rok {
			continue
		}
		op := c.op
		lf, lerr := fieldExprFor(lcol, left.Descriptor())
		rf, rerr := fieldExprFor(rcol, right.Descriptor())
		if lerr != nil || rerr != nil {
			// Try the swapped orientation before giving up on this cond.
			lf, lerr = fieldExprFor(rcol, left.Descriptor())
			rf, rerr = fieldExprFor(lcol, right.Descriptor())
			if lerr != nil || rerr != nil {
				continue
			}
			op = flipOp(c.op)
		}
		join, err := NewPredicateJoin(left, lf, op, right, rf, 0)
		if err != nil {
			return nil, nil, err
		}
		rest := append(append([]comparison{}, conds[:i]...), conds[i+1:]...)
		return join, rest, nil
	}
	return nil, nil, DBError{ParseError, "two-table query needs a column = column join condition"}
}

// flattenWhere decomposes an AND tree into its comparison leaves.
func flattenWhere(expr sqlparser.Expr) ([]comparison, error) {
	switch expr := expr.(type) {
	case *sqlparser.AndExpr:
		left, err := flattenWhere(expr.Left)
		if err != nil {
			return nil, err
		}
		right, err := flattenWhere(expr.Right)
		if err != nil {
			return nil, err
		}
		return append(left, right...), nil
	case *sqlparser.ParenExpr:
		return flattenWhere(expr.Expr)
	case *sqlparser.ComparisonExpr:
		op, err := boolOpFor(expr.Operator)
		if err != nil {
			return nil, err
		}
		return []comparison{{op, expr.Left, expr.Right}}, nil
	default:
		return nil, DBError{ParseError, fmt.Sprintf("unsupported where expression %T", expr)}
	}
}

// applyPredicates wraps plan in a Filter for every column-constant
// comparison it can resolve, returning the rest (comparisons that are not
// column against constant, such as unconsumed column-to-column ones).
func applyPredicates(plan Operator, conds []comparison) (Operator, []comparison, error) {
	var remaining []comparison
	for _, c := range conds {
		col, cok := c.left.(*sqlparser.ColName)
		val, vok := c.right.(*sqlparser.SQLVal)
		op := c.op
		if !cok || !vok {
			// Allow the flipped form, const op column.
			if col, cok = c.right.(*sqlparser.ColName); cok {
				if val, vok = c.left.(*sqlparser.SQLVal); vok {
					op = flipOp(c.op)
				}
			}
		}
		if !cok || !vok {
			remaining = append(remaining, c)
			continue
		}
		fe, err := fieldExprFor(col, plan.Descriptor())
		if err != nil {
			return nil, nil, err
		}
		ce, err := constExprFor(val, fe.GetExprType().Ftype)
		if err != nil {
			return nil, nil, err
		}
		if plan, err = NewFilter(ce, op, fe, plan); err != nil {
			return nil, nil, err
		}
	}
	return plan, remaining, nil
}

var aggStateFor = map[string]func() AggState{
	"count": func() AggState { return &CountAggState{} },
	"sum":   func() AggState { return &SumAggState{} },
	"avg":   func() AggState { return &AvgAggState{} },
	"min":   func() AggState { return &MinAggState{} },
	"max":   func() AggState { return &MaxAggState{} },
}

// applyAggregates replaces plan with an Aggregator when the select list
// contains aggregate functions. Aggregate output columns are named
// "<op> <field>".
func applyAggregates(plan Operator, stmt *sqlparser.Select) (Operator, error) {
	var states []AggState
	for _, se := range stmt.SelectExprs {
		ae, ok := se.(*sqlparser.AliasedExpr)
		if !ok {
			continue
		}
		fn, ok := ae.Expr.(*sqlparser.FuncExpr)
		if !ok {
			continue
		}
		newState, ok := aggStateFor[fn.Name.Lowered()]
		if !ok {
			return nil, DBError{ParseError, fmt.Sprintf("unsupported function %s", fn.Name.String())}
		}
		var expr Expr
		fieldName := "*"
		switch len(fn.Exprs) {
		case 1:
			switch arg := fn.Exprs[0].(type) {
			case *sqlparser.StarExpr:
				if fn.Name.Lowered() != "count" {
					return nil, DBError{ParseError, fmt.Sprintf("%s(*) is not supported", fn.Name.String())}
				}
				expr = NewConstExpr(IntField{1}, IntType)
			case *sqlparser.AliasedExpr:
				col, ok := arg.Expr.(*sqlparser.ColName)
				if !ok {
					return nil, DBError{ParseError, "aggregate arguments must be plain columns"}
				}
				fe, err := fieldExprFor(col, plan.Descriptor())
				if err != nil {
					return nil, err
				}
				if fn.Name.Lowered() != "count" && fe.GetExprType().Ftype != IntType {
					return nil, DBError{TypeMismatchError, fmt.Sprintf("%s needs an int field", fn.Name.String())}
				}
				expr = fe
				fieldName = fe.GetExprType().Fname
			default:
				return nil, DBError{ParseError, "unsupported aggregate argument"}
			}
		default:
			return nil, DBError{ParseError, "aggregates take exactly one argument"}
		}
		state := newState()
		alias := fn.Name.Lowered() + " " + fieldName
		if ae.As.String() != "" {
			alias = ae.As.String()
		}
		if err := state.Init(alias, expr); err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	if len(states) == 0 {
		if len(stmt.GroupBy) > 0 {
			return nil, DBError{ParseError, "group by without an aggregate"}
		}
		return plan, nil
	}

	if len(stmt.GroupBy) == 0 {
		return NewAggregator(states, plan), nil
	}
	var groupBy []Expr
	for _, g := range stmt.GroupBy {
		col, ok := g.(*sqlparser.ColName)
		if !ok {
			return nil, DBError{ParseError, "group by supports plain columns only"}
		}
		fe, err := fieldExprFor(col, plan.Descriptor())
		if err != nil {
			return nil, err
		}
		groupBy = append(groupBy, fe)
	}
	return NewGroupedAggregator(states, groupBy, plan), nil
}

// applyProjection narrows the plan to the named select columns. A bare * or
// an aggregate-only select list passes through unchanged.
func applyProjection(plan Operator, stmt *sqlparser.Select) (Operator, error) {
	var fields []Expr
	var names []string
	for _, se := range stmt.SelectExprs {
		switch se := se.(type) {
		case *sqlparser.StarExpr:
			return plan, nil
		case *sqlparser.AliasedExpr:
			if _, isAgg := se.Expr.(*sqlparser.FuncExpr); isAgg {
				// Aggregates were already folded into the plan.
				return plan, nil
			}
			col, ok := se.Expr.(*sqlparser.ColName)
			if !ok {
				return nil, DBError{ParseError, "select list supports columns and aggregates only"}
			}
			fe, err := fieldExprFor(col, plan.Descriptor())
			if err != nil {
				return nil, err
			}
			fields = append(fields, fe)
			name := se.As.String()
			if name == "" {
				name = fe.GetExprType().Fname
			}
			names = append(names, name)
		}
	}
	if len(fields) == 0 {
		return plan, nil
	}
	return NewProjectOp(fields, names, stmt.Distinct != "", plan)
}

func buildInsert(db *Database, stmt *sqlparser.Insert) (Operator, error) {
	table, err := db.Catalog().TableNamed(stmt.Table.Name.String())
	if err != nil {
		return nil, err
	}
	desc := table.Descriptor()
	rows, ok := stmt.Rows.(sqlparser.Values)
	if !ok {
		return nil, DBError{ParseError, "insert supports VALUES lists only"}
	}
	var tuples []*Tuple
	for _, row := range rows {
		if len(row) != len(desc.Fields) {
			return nil, DBError{TypeMismatchError, fmt.Sprintf("insert row has %d values, want %d", len(row), len(desc.Fields))}
		}
		t := &Tuple{Desc: *desc}
		for i, valExpr := range row {
			val, ok := valExpr.(*sqlparser.SQLVal)
			if !ok {
				return nil, DBError{ParseError, "insert values must be literals"}
			}
			ce, err := constExprFor(val, desc.Fields[i].Ftype)
			if err != nil {
				return nil, err
			}
			v, _ := ce.EvalExpr(nil)
			t.Fields = append(t.Fields, v)
		}
		tuples = append(tuples, t)
	}
	return NewInsertOp(db.BufferPool(), table, newTupleListOp(desc, tuples))
}

func buildDelete(db *Database, stmt *sqlparser.Delete) (Operator, error) {
	if len(stmt.TableExprs) != 1 {
		return nil, DBError{ParseError, "delete supports a single table"}
	}
	ate, ok := stmt.TableExprs[0].(*sqlparser.AliasedTableExpr)
	if !ok {
		return nil, DBError{ParseError, "delete supports a single table"}
	}
	name, ok := ate.Expr.(sqlparser.TableName)
	if !ok {
		return nil, DBError{ParseError, "delete supports a single table"}
	}
	table, err := db.Catalog().TableNamed(name.Name.String())
	if err != nil {
		return nil, err
	}
	var plan Operator = NewSeqScan(table, name.Name.String())
	if stmt.Where != nil {
		conds, err := flattenWhere(stmt.Where.Expr)
		if err != nil {
			return nil, err
		}
		var remaining []comparison
		if plan, remaining, err = applyPredicates(plan, conds); err != nil {
			return nil, err
		}
		if len(remaining) > 0 {
			return nil, DBError{ParseError, "unsupported predicate in delete"}
		}
	}
	return NewDeleteOp(db.BufferPool(), table, plan), nil
}

// tupleListOp replays a fixed list of tuples; it feeds INSERT ... VALUES.
type tupleListOp struct {
	desc   *TupleDesc
	tuples []*Tuple
}

func newTupleListOp(desc *TupleDesc, tuples []*Tuple) *tupleListOp {
	return &tupleListOp{desc: desc, tuples: tuples}
}

func (o *tupleListOp) Descriptor() *TupleDesc {
	return o.desc
}

func (o *tupleListOp) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	i := 0
	return func() (*Tuple, error) {
		if i >= len(o.tuples) {
			return nil, nil
		}
		t := o.tuples[i]
		i++
		return t, nil
	}, nil
}

func fieldExprFor(col *sqlparser.ColName, desc *TupleDesc) (*FieldExpr, error) {
	want := FieldType{
		Fname:          col.Name.Lowered(),
		TableQualifier: col.Qualifier.Name.String(),
		Ftype:          UnknownType,
	}
	i, err := findFieldInTd(want, desc)
	if err != nil {
		return nil, err
	}
	return NewFieldExpr(desc.Fields[i]), nil
}

func constExprFor(val *sqlparser.SQLVal, want DBType) (Expr, error) {
	switch val.Type {
	case sqlparser.IntVal:
		if want != IntType {
			return nil, DBError{TypeMismatchError, "integer literal against a string field"}
		}
		n, err := strconv.ParseInt(string(val.Val), 10, 32)
		if err != nil {
			return nil, DBError{ParseError, fmt.Sprintf("bad integer literal %s", val.Val)}
		}
		return NewConstExpr(IntField{int32(n)}, IntType), nil
	case sqlparser.StrVal:
		if want != StringType {
			return nil, DBError{TypeMismatchError, "string literal against an int field"}
		}
		return NewConstExpr(StringField{string(val.Val)}, StringType), nil
	default:
		return nil, DBError{ParseError, "unsupported literal type"}
	}
}

func boolOpFor(op string) (BoolOp, error) {
	switch strings.ToLower(op) {
	case sqlparser.EqualStr:
		return OpEq, nil
	case sqlparser.NotEqualStr:
		return OpNeq, nil
	case sqlparser.LessThanStr:
		return OpLt, nil
	case sqlparser.LessEqualStr:
		return OpLe, nil
	case sqlparser.GreaterThanStr:
		return OpGt, nil
	case sqlparser.GreaterEqualStr:
		return OpGe, nil
	case sqlparser.LikeStr:
		return OpLike, nil
	default:
		return OpEq, DBError{ParseError, fmt.Sprintf("unsupported operator %s", op)}
	}
}

// flipOp mirrors an operator so const op column predicates can be evaluated
// as column flipped-op const.
func flipOp(op BoolOp) BoolOp {
	switch op {
	case OpLt:
		return OpGt
	case OpGt:
		return OpLt
	case OpLe:
		return OpGe
	case OpGe:
		return OpLe
	default:
		return op
	}
}
