package heapdb

// LimitOp passes through the first lim tuples of its child.
type LimitOp struct {
	child     Operator
	limitTups Expr
	limit     int32
}

func NewLimitOp(lim Expr, child Operator) (*LimitOp, error) {
	v, err := lim.EvalExpr(&Tuple{})
	if err != nil {
		return nil, err
	}
	iv, ok := v.(IntField)
	if !ok {
		return nil, DBError{TypeMismatchError, "limit must be an integer"}
	}
	return &LimitOp{child, lim, iv.Value}, nil
}

func (l *LimitOp) Descriptor() *TupleDesc {
	return l.child.Descriptor()
}

func (l *LimitOp) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	childIter, err := l.child.Iterator(tid)
	if err != nil {
		return nil, err
	}
	var count int32
	return func() (*Tuple, error) {
		if count >= l.limit {
			return nil, nil
		}
		t, err := childIter()
		if err != nil || t == nil {
			return nil, err
		}
		count++
		return t, nil
	}, nil
}
