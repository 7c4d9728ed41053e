package heapdb

// Filter yields the tuples of its child for which the predicate
// left op right holds. In the common case left is a FieldExpr over the
// child's schema and right is a constant.
type Filter struct {
	op    BoolOp
	left  Expr
	right Expr
	child Operator
}

func NewFilter(constExpr Expr, op BoolOp, field Expr, child Operator) (*Filter, error) {
	if constExpr == nil || field == nil || child == nil {
		return nil, DBError{IllegalOperationError, "filter needs a predicate and a child"}
	}
	return &Filter{op, field, constExpr, child}, nil
}

// Descriptor returns the child's descriptor; filtering changes which tuples
// flow, not their shape.
func (f *Filter) Descriptor() *TupleDesc {
	return f.child.Descriptor()
}

func (f *Filter) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	childIter, err := f.child.Iterator(tid)
	if err != nil {
		return nil, err
	}
	return func() (*Tuple, error) {
		for {
			t, err := childIter()
			if err != nil || t == nil {
				return nil, err
			}
			left, err := f.left.EvalExpr(t)
			if err != nil {
				return nil, err
			}
			right, err := f.right.EvalExpr(t)
			if err != nil {
				return nil, err
			}
			if left.EvalPred(right, f.op) {
				return t, nil
			}
		}
	}, nil
}
