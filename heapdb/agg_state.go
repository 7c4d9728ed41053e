package heapdb

// AggState accumulates one aggregate over a stream of tuples. The Aggregator
// operator keeps one copy per group, made with Copy from a template state.
type AggState interface {
	// Init initializes the state with the output field alias and the
	// expression that extracts the aggregated value from an input tuple.
	Init(alias string, expr Expr) error

	// Copy makes a fresh state with the same alias and expression.
	Copy() AggState

	// AddTuple folds one tuple into the state.
	AddTuple(*Tuple)

	// Finalize returns the aggregate result as a one-field tuple. A state
	// that saw no tuples finalizes to zero.
	Finalize() *Tuple

	// GetTupleDesc describes the tuple Finalize returns.
	GetTupleDesc() *TupleDesc
}

// CountAggState implements COUNT. It counts tuples regardless of the
// aggregated field's type.
type CountAggState struct {
	alias string
	expr  Expr
	count int32
}

func (a *CountAggState) Copy() AggState {
	return &CountAggState{a.alias, a.expr, a.count}
}

func (a *CountAggState) Init(alias string, expr Expr) error {
	a.count = 0
	a.expr = expr
	a.alias = alias
	return nil
}

func (a *CountAggState) AddTuple(t *Tuple) {
	a.count++
}

func (a *CountAggState) Finalize() *Tuple {
	td := a.GetTupleDesc()
	return &Tuple{*td, []DBValue{IntField{a.count}}, nil}
}

func (a *CountAggState) GetTupleDesc() *TupleDesc {
	return &TupleDesc{Fields: []FieldType{{a.alias, "", IntType}}}
}

// SumAggState implements SUM over an int field.
type SumAggState struct {
	alias string
	expr  Expr
	sum   int32
}

func (a *SumAggState) Copy() AggState {
	return &SumAggState{a.alias, a.expr, a.sum}
}

func (a *SumAggState) Init(alias string, expr Expr) error {
	a.alias = alias
	a.expr = expr
	a.sum = 0
	return nil
}

func (a *SumAggState) AddTuple(t *Tuple) {
	v, err := a.expr.EvalExpr(t)
	if err != nil {
		return
	}
	if iv, ok := v.(IntField); ok {
		a.sum += iv.Value
	}
}

func (a *SumAggState) GetTupleDesc() *TupleDesc {
	return &TupleDesc{Fields: []FieldType{{a.alias, "", IntType}}}
}

func (a *SumAggState) Finalize() *Tuple {
	td := a.GetTupleDesc()
	return &Tuple{*td, []DBValue{IntField{a.sum}}, nil}
}

// AvgAggState implements AVG over an int field, emitted as the integer
// quotient of the running sum and count. An empty input averages to zero.
type AvgAggState struct {
	alias string
	expr  Expr
	sum   int32
	count int32
}

func (a *AvgAggState) Copy() AggState {
	return &AvgAggState{a.alias, a.expr, a.sum, a.count}
}

func (a *AvgAggState) Init(alias string, expr Expr) error {
	a.alias = alias
	a.expr = expr
	a.sum = 0
	a.count = 0
	return nil
}

func (a *AvgAggState) AddTuple(t *Tuple) {
	v, err := a.expr.EvalExpr(t)
	if err != nil {
		return
	}
	if iv, ok := v.(IntField); ok {
		a.sum += iv.Value
		a.count++
	}
}

func (a *AvgAggState) GetTupleDesc() *TupleDesc {
	return &TupleDesc{Fields: []FieldType{{a.alias, "", IntType}}}
}

func (a *AvgAggState) Finalize() *Tuple {
	td := a.GetTupleDesc()
	avg := int32(0)
	if a.count > 0 {
		avg = a.sum / a.count
	}
	return &Tuple{*td, []DBValue{IntField{avg}}, nil}
}

// MaxAggState implements MAX over an int field.
type MaxAggState struct {
	alias string
	expr  Expr
	max   DBValue
}

func (a *MaxAggState) Copy() AggState {
	return &MaxAggState{a.alias, a.expr, a.max}
}

func (a *MaxAggState) Init(alias string, expr Expr) error {
	a.alias = alias
	a.expr = expr
	a.max = nil
	return nil
}

func (a *MaxAggState) AddTuple(t *Tuple) {
	v, err := a.expr.EvalExpr(t)
	if err != nil {
		return
	}
	if a.max == nil || v.EvalPred(a.max, OpGt) {
		a.max = v
	}
}

func (a *MaxAggState) GetTupleDesc() *TupleDesc {
	return &TupleDesc{Fields: []FieldType{{a.alias, "", IntType}}}
}

func (a *MaxAggState) Finalize() *Tuple {
	td := a.GetTupleDesc()
	if a.max == nil {
		return &Tuple{*td, []DBValue{IntField{0}}, nil}
	}
	return &Tuple{*td, []DBValue{a.max}, nil}
}

// MinAggState implements MIN over an int field.
type MinAggState struct {
	alias string
	expr  Expr
	min   DBValue
}

func (a *MinAggState) Copy() AggState {
	return &MinAggState{a.alias, a.expr, a.min}
}

func (a *MinAggState) Init(alias string, expr Expr) error {
	a.alias = alias
	a.expr = expr
	a.min = nil
	return nil
}

func (a *MinAggState) AddTuple(t *Tuple) {
	v, err := a.expr.EvalExpr(t)
	if err != nil {
		return
	}
	if a.min == nil || v.EvalPred(a.min, OpLt) {
		a.min = v
	}
}

func (a *MinAggState) GetTupleDesc() *TupleDesc {
	return &TupleDesc{Fields: []FieldType{{a.alias, "", IntType}}}
}

func (a *MinAggState) Finalize() *Tuple {
	td := a.GetTupleDesc()
	if a.min == nil {
		return &Tuple{*td, []DBValue{IntField{0}}, nil}
	}
	return &Tuple{*td, []DBValue{a.min}, nil}
}
