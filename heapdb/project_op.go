package heapdb

// Project evaluates a list of expressions against each child tuple and emits
// the results under the given output names. With distinct set, duplicate
// output tuples are suppressed.
type Project struct {
	selectFields []Expr
	outputNames  []string
	child        Operator
	distinct     bool
}

func NewProjectOp(selectFields []Expr, outputNames []string, distinct bool, child Operator) (Operator, error) {
	if len(selectFields) != len(outputNames) {
		return nil, DBError{IllegalOperationError, "one output name per selected field"}
	}
	return &Project{
		selectFields: selectFields,
		outputNames:  outputNames,
		distinct:     distinct,
		child:        child,
	}, nil
}

func (p *Project) Descriptor() *TupleDesc {
	desc := &TupleDesc{Fields: make([]FieldType, 0, len(p.selectFields))}
	for i, field := range p.selectFields {
		ft := field.GetExprType()
		ft.Fname = p.outputNames[i]
		desc.Fields = append(desc.Fields, ft)
	}
	return desc
}

func (p *Project) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	childIter, err := p.child.Iterator(tid)
	if err != nil {
		return nil, err
	}
	desc := *p.Descriptor()
	var seen map[any]struct{}
	if p.distinct {
		seen = make(map[any]struct{})
	}
	return func() (*Tuple, error) {
		for {
			t, err := childIter()
			if err != nil || t == nil {
				return nil, err
			}
			out := &Tuple{Desc: desc, Fields: make([]DBValue, 0, len(p.selectFields))}
			for _, field := range p.selectFields {
				v, err := field.EvalExpr(t)
				if err != nil {
					return nil, err
				}
				out.Fields = append(out.Fields, v)
			}
			if !p.distinct {
				return out, nil
			}
			key := out.tupleKey()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			return out, nil
		}
	}, nil
}
