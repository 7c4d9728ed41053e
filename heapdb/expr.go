package heapdb

// Expr is an expression evaluated against a tuple. Operators take
// expressions rather than raw field indexes so the same code path serves
// named fields and constants.
type Expr interface {
	EvalExpr(t *Tuple) (DBValue, error)
	GetExprType() FieldType
}

// FieldExpr extracts a named field from a tuple.
type FieldExpr struct {
	selectField FieldType
}

func NewFieldExpr(f FieldType) *FieldExpr {
	return &FieldExpr{f}
}

func (f *FieldExpr) EvalExpr(t *Tuple) (DBValue, error) {
	i, err := findFieldInTd(f.selectField, &t.Desc)
	if err != nil {
		return nil, err
	}
	return t.Fields[i], nil
}

func (f *FieldExpr) GetExprType() FieldType {
	return f.selectField
}

// ConstExpr evaluates to a fixed value regardless of its input tuple.
type ConstExpr struct {
	val       DBValue
	constType DBType
}

func NewConstExpr(val DBValue, constType DBType) *ConstExpr {
	return &ConstExpr{val, constType}
}

func (c *ConstExpr) EvalExpr(t *Tuple) (DBValue, error) {
	return c.val, nil
}

func (c *ConstExpr) GetExprType() FieldType {
	return FieldType{"const", "", c.constType}
}
