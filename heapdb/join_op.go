package heapdb

// Join emits the concatenation of each left/right tuple pair for which
// leftField op rightField holds. The general case is a nested-loop join that
// rescans the right child from the start for every left tuple (the right
// operator must be rewindable, which every operator here is: calling
// Iterator again restarts it). Equality joins instead buffer blocks of up to
// maxBufferSize left tuples in a hash table and probe it with a single right
// scan per block.
type Join struct {
	leftField, rightField Expr
	op                    BoolOp
	left, right           Operator
	maxBufferSize         int
}

// NewJoin constructs an equality join.
func NewJoin(left Operator, leftField Expr, right Operator, rightField Expr, maxBufferSize int) (*Join, error) {
	return NewPredicateJoin(left, leftField, OpEq, right, rightField, maxBufferSize)
}

// NewPredicateJoin constructs a join on an arbitrary comparison between a
// left and a right field expression.
func NewPredicateJoin(left Operator, leftField Expr, op BoolOp, right Operator, rightField Expr, maxBufferSize int) (*Join, error) {
	if leftField == nil || rightField == nil {
		return nil, DBError{IllegalOperationError, "join fields must be non-nil"}
	}
	if op == OpLike {
		return nil, DBError{IllegalOperationError, "like is not a join predicate"}
	}
	if maxBufferSize <= 0 {
		maxBufferSize = 1000
	}
	return &Join{leftField, rightField, op, left, right, maxBufferSize}, nil
}

// Descriptor returns the union of the left and right descriptors, left
// fields first.
func (j *Join) Descriptor() *TupleDesc {
	return j.left.Descriptor().merge(j.right.Descriptor())
}

func (j *Join) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	if j.op == OpEq {
		return j.hashIterator(tid)
	}
	return j.nestedLoopIterator(tid)
}

// nestedLoopIterator holds one left tuple at a time and rescans the right
// child for each, so extra state is O(1).
func (j *Join) nestedLoopIterator(tid TransactionID) (func() (*Tuple, error), error) {
	leftIter, err := j.left.Iterator(tid)
	if err != nil {
		return nil, err
	}
	var leftTuple *Tuple
	var leftVal DBValue
	var rightIter func() (*Tuple, error)
	return func() (*Tuple, error) {
		for {
			if leftTuple == nil {
				t, err := leftIter()
				if err != nil || t == nil {
					return nil, err
				}
				leftTuple = t
				if leftVal, err = j.leftField.EvalExpr(leftTuple); err != nil {
					return nil, err
				}
				if rightIter, err = j.right.Iterator(tid); err != nil {
					return nil, err
				}
			}
			rightTuple, err := rightIter()
			if err != nil {
				return nil, err
			}
			if rightTuple == nil {
				leftTuple = nil
				continue
			}
			rightVal, err := j.rightField.EvalExpr(rightTuple)
			if err != nil {
				return nil, err
			}
			if leftVal.EvalPred(rightVal, j.op) {
				return joinTuples(leftTuple, rightTuple), nil
			}
		}
	}, nil
}

// hashIterator buffers up to maxBufferSize left tuples keyed by join value,
// then streams the right child once per block, emitting every match.
func (j *Join) hashIterator(tid TransactionID) (func() (*Tuple, error), error) {
	leftIter, err := j.left.Iterator(tid)
	if err != nil {
		return nil, err
	}
	var (
		block        map[DBValue][]*Tuple
		leftDrained  bool
		rightIter    func() (*Tuple, error)
		pending      []*Tuple
	)
	fillBlock := func() error {
		block = make(map[DBValue][]*Tuple, j.maxBufferSize)
		for n := 0; n < j.maxBufferSize; n++ {
			t, err := leftIter()
			if err != nil {
				return err
			}
			if t == nil {
				leftDrained = true
				return nil
			}
			v, err := j.leftField.EvalExpr(t)
			if err != nil {
				return err
			}
			block[v] = append(block[v], t)
		}
		return nil
	}
	return func() (*Tuple, error) {
		for {
			if len(pending) > 0 {
				t := pending[0]
				pending = pending[1:]
				return t, nil
			}
			if block == nil {
				if leftDrained {
					return nil, nil
				}
				if err := fillBlock(); err != nil {
					return nil, err
				}
				if len(block) == 0 {
					block = nil
					if leftDrained {
						return nil, nil
					}
					continue
				}
				var err error
				if rightIter, err = j.right.Iterator(tid); err != nil {
					return nil, err
				}
			}
			rightTuple, err := rightIter()
			if err != nil {
				return nil, err
			}
			if rightTuple == nil {
				block = nil
				continue
			}
			v, err := j.rightField.EvalExpr(rightTuple)
			if err != nil {
				return nil, err
			}
			for _, lt := range block[v] {
				pending = append(pending, joinTuples(lt, rightTuple))
			}
		}
	}, nil
}
