package heapdb

import (
	"sort"
)

// OrderBy sorts its child's tuples by a list of expressions, each ascending
// or descending. The sort is blocking: the child is drained into memory when
// the iterator is created.
type OrderBy struct {
	orderBy   []Expr
	child     Operator
	ascending []bool
}

func NewOrderBy(orderByFields []Expr, child Operator, ascending []bool) (*OrderBy, error) {
	if len(orderByFields) != len(ascending) {
		return nil, DBError{IllegalOperationError, "one ascending flag per order-by field"}
	}
	return &OrderBy{orderBy: orderByFields, child: child, ascending: ascending}, nil
}

// Descriptor returns the child's descriptor; ordering changes the sequence,
// not the shape.
func (o *OrderBy) Descriptor() *TupleDesc {
	return o.child.Descriptor()
}

func (o *OrderBy) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	childIter, err := o.child.Iterator(tid)
	if err != nil {
		return nil, err
	}
	var all []*Tuple
	for {
		t, err := childIter()
		if err != nil {
			return nil, err
		}
		if t == nil {
			break
		}
		all = append(all, t)
	}

	var sortErr error
	sort.SliceStable(all, func(i, j int) bool {
		for k, expr := range o.orderBy {
			ord, err := all[i].compareField(all[j], expr)
			if err != nil {
				sortErr = err
				return false
			}
			if ord == OrderedEqual {
				continue
			}
			if o.ascending[k] {
				return ord == OrderedLessThan
			}
			return ord == OrderedGreaterThan
		}
		return false
	})
	if sortErr != nil {
		return nil, sortErr
	}

	i := 0
	return func() (*Tuple, error) {
		if i >= len(all) {
			return nil, nil
		}
		t := all[i]
		i++
		return t, nil
	}, nil
}
