package heapdb

// Aggregator groups its child's tuples by the group-by expressions and folds
// each group through a set of aggregate states. The drain happens during
// Iterator, so memory is bounded by the number of groups.
//
// An ungrouped aggregator always emits exactly one row, even over an empty
// input, in which case each state finalizes to its zero (SUM and COUNT are 0;
// MIN and MAX default to 0 as well, there being no value to report).
type Aggregator struct {
	// groupByFields is nil for an ungrouped aggregate.
	groupByFields []Expr
	newAggState   []AggState
	child         Operator
}

// NewAggregator constructs an ungrouped aggregator from template states.
func NewAggregator(emptyAggState []AggState, child Operator) *Aggregator {
	return &Aggregator{nil, emptyAggState, child}
}

// NewGroupedAggregator constructs an aggregator that groups by the supplied
// expressions.
func NewGroupedAggregator(emptyAggState []AggState, groupByFields []Expr, child Operator) *Aggregator {
	return &Aggregator{groupByFields, emptyAggState, child}
}

// Descriptor returns the group-by fields (when grouping) followed by one
// field per aggregate state.
func (a *Aggregator) Descriptor() *TupleDesc {
	desc := &TupleDesc{}
	for _, g := range a.groupByFields {
		desc.Fields = append(desc.Fields, g.GetExprType())
	}
	for _, s := range a.newAggState {
		desc.Fields = append(desc.Fields, s.GetTupleDesc().Fields...)
	}
	return desc
}

// aggGroup is the accumulated state for one group key.
type aggGroup struct {
	groupTuple *Tuple
	states     []AggState
}

func (a *Aggregator) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	childIter, err := a.child.Iterator(tid)
	if err != nil {
		return nil, err
	}

	groups := make(map[any]*aggGroup)
	var order []any

	addGroup := func(key any, groupTuple *Tuple) *aggGroup {
		g := &aggGroup{groupTuple: groupTuple, states: make([]AggState, len(a.newAggState))}
		for i, tmpl := range a.newAggState {
			g.states[i] = tmpl.Copy()
		}
		groups[key] = g
		order = append(order, key)
		return g
	}

	for {
		t, err := childIter()
		if err != nil {
			return nil, err
		}
		if t == nil {
			break
		}
		var key any
		var groupTuple *Tuple
		if a.groupByFields != nil {
			gt := &Tuple{}
			for _, g := range a.groupByFields {
				v, err := g.EvalExpr(t)
				if err != nil {
					return nil, err
				}
				gt.Desc.Fields = append(gt.Desc.Fields, g.GetExprType())
				gt.Fields = append(gt.Fields, v)
			}
			key = gt.tupleKey()
			groupTuple = gt
		}
		g, ok := groups[key]
		if !ok {
			g = addGroup(key, groupTuple)
		}
		for _, s := range g.states {
			s.AddTuple(t)
		}
	}

	// The ungrouped aggregate has the distinguished nil group key and emits
	// exactly one row even when the child produced nothing.
	if a.groupByFields == nil && len(groups) == 0 {
		addGroup(nil, nil)
	}

	i := 0
	return func() (*Tuple, error) {
		if i >= len(order) {
			return nil, nil
		}
		g := groups[order[i]]
		i++
		out := g.groupTuple
		for _, s := range g.states {
			out = joinTuples(out, s.Finalize())
		}
		return out, nil
	}, nil
}
