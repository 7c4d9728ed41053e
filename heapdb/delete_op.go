package heapdb

// DeleteOp drains its child and deletes each tuple (by record id) from a
// table through the BufferPool. It emits a single tuple with one int field:
// the number of tuples deleted.
type DeleteOp struct {
	bufPool    *BufferPool
	deleteFile DBFile
	child      Operator
}

func NewDeleteOp(bp *BufferPool, deleteFile DBFile, child Operator) *DeleteOp {
	return &DeleteOp{bufPool: bp, deleteFile: deleteFile, child: child}
}

// Descriptor is a one column descriptor with an integer field named "count".
func (d *DeleteOp) Descriptor() *TupleDesc {
	return &TupleDesc{Fields: []FieldType{{"count", "", IntType}}}
}

func (d *DeleteOp) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	childIter, err := d.child.Iterator(tid)
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
			if err := d.bufPool.DeleteTuple(tid, d.deleteFile, t); err != nil {
				return nil, err
			}
			count++
		}
		return &Tuple{Desc: *d.Descriptor(), Fields: []DBValue{IntField{count}}}, nil
	}, nil
}
