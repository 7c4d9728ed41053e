package heapdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func intFilter(t *testing.T, child Operator, field string, op BoolOp, val int32) Operator {
	t.Helper()
	fe := NewFieldExpr(FieldType{Fname: field, Ftype: IntType})
	f, err := NewFilter(NewConstExpr(IntField{val}, IntType), op, fe, child)
	require.NoError(t, err)
	return f
}

func TestSeqScanAliasQualifiesFields(t *testing.T) {
	bp, err := NewBufferPool(8)
	require.NoError(t, err)
	hf := makeIntFile(t, bp, filepath.Join(t.TempDir(), "s.dat"), []int32{1})
	scan := NewSeqScan(hf, "t1")
	desc := scan.Descriptor()
	require.Equal(t, "t1", desc.Fields[0].TableQualifier)
	require.Equal(t, "a", desc.Fields[0].Fname)
	// The underlying file's descriptor is untouched.
	require.Equal(t, "", hf.Descriptor().Fields[0].TableQualifier)

	tid := NewTID()
	bp.BeginTransaction(tid)
	iter, err := scan.Iterator(tid)
	require.NoError(t, err)
	rows := drain(t, iter)
	require.Len(t, rows, 1)
	require.Equal(t, "t1", rows[0].Desc.Fields[0].TableQualifier)
	require.NoError(t, bp.CommitTransaction(tid))
}

func TestFilterGreaterThan(t *testing.T) {
	bp, err := NewBufferPool(8)
	require.NoError(t, err)
	vals := make([]int32, 600)
	for i := range vals {
		vals[i] = int32(i)
	}
	hf := makeIntFile(t, bp, filepath.Join(t.TempDir(), "f.dat"), vals)

	tid := NewTID()
	bp.BeginTransaction(tid)
	plan := intFilter(t, NewSeqScan(hf, "t"), "a", OpGt, 597)
	iter, err := plan.Iterator(tid)
	require.NoError(t, err)
	require.Equal(t, []int32{598, 599}, intVals(t, drain(t, iter), 0))
	require.NoError(t, bp.CommitTransaction(tid))
}

func TestFilterOps(t *testing.T) {
	bp, err := NewBufferPool(8)
	require.NoError(t, err)
	hf := makeIntFile(t, bp, filepath.Join(t.TempDir(), "fo.dat"), []int32{1, 2, 3, 4, 5})
	tid := NewTID()
	bp.BeginTransaction(tid)
	cases := []struct {
		op   BoolOp
		val  int32
		want []int32
	}{
		{OpEq, 3, []int32{3}},
		{OpNeq, 3, []int32{1, 2, 4, 5}},
		{OpLt, 3, []int32{1, 2}},
		{OpLe, 3, []int32{1, 2, 3}},
		{OpGe, 4, []int32{4, 5}},
	}
	for _, c := range cases {
		plan := intFilter(t, NewSeqScan(hf, "t"), "a", c.op, c.val)
		iter, err := plan.Iterator(tid)
		require.NoError(t, err)
		require.Equal(t, c.want, intVals(t, drain(t, iter), 0), "op %v", c.op)
	}
	require.NoError(t, bp.CommitTransaction(tid))
}

func TestLimitOp(t *testing.T) {
	bp, err := NewBufferPool(8)
	require.NoError(t, err)
	hf := makeIntFile(t, bp, filepath.Join(t.TempDir(), "l.dat"), []int32{1, 2, 3, 4, 5})
	tid := NewTID()
	bp.BeginTransaction(tid)
	plan, err := NewLimitOp(NewConstExpr(IntField{3}, IntType), NewSeqScan(hf, "t"))
	require.NoError(t, err)
	iter, err := plan.Iterator(tid)
	require.NoError(t, err)
	require.Equal(t, []int32{1, 2, 3}, intVals(t, drain(t, iter), 0))
	require.NoError(t, bp.CommitTransaction(tid))
}

func TestOrderByAscendingDescending(t *testing.T) {
	bp, err := NewBufferPool(8)
	require.NoError(t, err)
	hf := makeIntFile(t, bp, filepath.Join(t.TempDir(), "o.dat"), []int32{3, 1, 2})
	tid := NewTID()
	bp.BeginTransaction(tid)
	fe := NewFieldExpr(FieldType{Fname: "a", Ftype: IntType})

	asc, err := NewOrderBy([]Expr{fe}, NewSeqScan(hf, "t"), []bool{true})
	require.NoError(t, err)
	iter, err := asc.Iterator(tid)
	require.NoError(t, err)
	require.Equal(t, []int32{1, 2, 3}, intVals(t, drain(t, iter), 0))

	desc, err := NewOrderBy([]Expr{fe}, NewSeqScan(hf, "t"), []bool{false})
	require.NoError(t, err)
	iter, err = desc.Iterator(tid)
	require.NoError(t, err)
	require.Equal(t, []int32{3, 2, 1}, intVals(t, drain(t, iter), 0))
	require.NoError(t, bp.CommitTransaction(tid))
}

func TestProjectDistinct(t *testing.T) {
	bp, err := NewBufferPool(8)
	require.NoError(t, err)
	hf := makeIntFile(t, bp, filepath.Join(t.TempDir(), "p.dat"), []int32{1, 1, 2, 2, 3})
	tid := NewTID()
	bp.BeginTransaction(tid)
	fe := NewFieldExpr(FieldType{Fname: "a", Ftype: IntType})
	plan, err := NewProjectOp([]Expr{fe}, []string{"a"}, true, NewSeqScan(hf, "t"))
	require.NoError(t, err)
	iter, err := plan.Iterator(tid)
	require.NoError(t, err)
	require.Equal(t, []int32{1, 2, 3}, intVals(t, drain(t, iter), 0))
	require.NoError(t, bp.CommitTransaction(tid))
}

// Calling Iterator again replays the same sequence from the start, through a
// whole pipeline.
func TestOperatorRewindReplays(t *testing.T) {
	bp, err := NewBufferPool(8)
	require.NoError(t, err)
	hf := makeIntFile(t, bp, filepath.Join(t.TempDir(), "rw.dat"), []int32{5, 6, 7, 8})
	tid := NewTID()
	bp.BeginTransaction(tid)
	plan := intFilter(t, NewSeqScan(hf, "t"), "a", OpGt, 5)

	iter, err := plan.Iterator(tid)
	require.NoError(t, err)
	first := intVals(t, drain(t, iter), 0)
	// Exhausted iterators keep reporting end-of-stream.
	tup, err := iter()
	require.NoError(t, err)
	require.Nil(t, tup)

	iter, err = plan.Iterator(tid)
	require.NoError(t, err)
	require.Equal(t, first, intVals(t, drain(t, iter), 0))
	iter, err = plan.Iterator(tid)
	require.NoError(t, err)
	require.Equal(t, first, intVals(t, drain(t, iter), 0))
	require.NoError(t, bp.CommitTransaction(tid))
}
