package heapdb

// InsertOp drains its child into a table, routing every insert through the
// BufferPool so pages are locked exclusively and marked dirty. It emits a
// single tuple with one int field: the number of tuples inserted.
type InsertOp struct {
	bufPool    *BufferPool
	insertFile DBFile
	child      Operator
}

func NewInsertOp(bp *BufferPool, insertFile DBFile, child Operator) (*InsertOp, error) {
	if !child.Descriptor().equals(insertFile.Descriptor()) {
		return nil, DBError{TypeMismatchError, "child schema does not match the target table"}
	}
	return &InsertOp{bufPool: bp, insertFile: insertFile, child: child}, nil
}

// Descriptor is a one column descriptor with an integer field named "count".
func (i *InsertOp) Descriptor() *TupleDesc {
	return &TupleDesc{Fields: []FieldType{{"count", "", IntType}}}
}

func (i *InsertOp) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	childIter, err := i.child.Iterator(tid)
	if err != nil {
		return nil, err
	}
	done := false
	return func() (*Tuple, error) {
		if done {
			return nil, nil
		}
		done = true
		var count int32
		for {
			t, err := childIter()
			if err != nil {
				return nil, err
			}
			if t == nil {
				break
			}
			if err := i.bufPool.InsertTuple(tid, i.insertFile, t); err != nil {
				return nil, err
			}
			count++
		}
		return &Tuple{Desc: *i.Descriptor(), Fields: []DBValue{IntField{count}}}, nil
	}, nil
}
