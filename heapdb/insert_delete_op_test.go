package heapdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertOpThenScan(t *testing.T) {
	td := TupleDesc{Fields: []FieldType{{Fname: "a", Ftype: IntType}}}
	bp, err := NewBufferPool(8)
	require.NoError(t, err)
	hf, err := NewHeapFile(filepath.Join(t.TempDir(), "ins.dat"), &td, bp)
	require.NoError(t, err)

	tid := NewTID()
	bp.BeginTransaction(tid)
	src := newTupleListOp(&td, []*Tuple{
		{Desc: td, Fields: []DBValue{IntField{42}}},
	})
	ins, err := NewInsertOp(bp, hf, src)
	require.NoError(t, err)
	iter, err := ins.Iterator(tid)
	require.NoError(t, err)
	rows := drain(t, iter)
	require.Len(t, rows, 1)
	require.Equal(t, []int32{1}, intVals(t, rows, 0))
	require.Equal(t, "count", rows[0].Desc.Fields[0].Fname)
	require.NoError(t, bp.CommitTransaction(tid))

	tid2 := NewTID()
	bp.BeginTransaction(tid2)
	scanIter, err := NewSeqScan(hf, "t").Iterator(tid2)
	require.NoError(t, err)
	require.Equal(t, []int32{42}, intVals(t, drain(t, scanIter), 0))
	require.NoError(t, bp.CommitTransaction(tid2))
}

func TestInsertOpSchemaMismatch(t *testing.T) {
	td := TupleDesc{Fields: []FieldType{{Fname: "a", Ftype: IntType}}}
	other := TupleDesc{Fields: []FieldType{{Fname: "s", Ftype: StringType}}}
	bp, err := NewBufferPool(8)
	require.NoError(t, err)
	hf, err := NewHeapFile(filepath.Join(t.TempDir(), "m.dat"), &td, bp)
	require.NoError(t, err)
	_, err = NewInsertOp(bp, hf, newTupleListOp(&other, nil))
	require.Error(t, err)
	require.Equal(t, TypeMismatchError, err.(DBError).code)
}

func TestDeleteOpWithFilter(t *testing.T) {
	bp, err := NewBufferPool(8)
	require.NoError(t, err)
	hf := makeIntFile(t, bp, filepath.Join(t.TempDir(), "del.dat"), []int32{1, 2, 3, 4, 5})

	tid := NewTID()
	bp.BeginTransaction(tid)
	pred := intFilter(t, NewSeqScan(hf, "t"), "a", OpGt, 3)
	del := NewDeleteOp(bp, hf, pred)
	iter, err := del.Iterator(tid)
	require.NoError(t, err)
	rows := drain(t, iter)
	require.Len(t, rows, 1)
	require.Equal(t, []int32{2}, intVals(t, rows, 0))
	require.NoError(t, bp.CommitTransaction(tid))

	tid2 := NewTID()
	bp.BeginTransaction(tid2)
	scanIter, err := NewSeqScan(hf, "t").Iterator(tid2)
	require.NoError(t, err)
	require.Equal(t, []int32{1, 2, 3}, intVals(t, drain(t, scanIter), 0))
	require.NoError(t, bp.CommitTransaction(tid2))
}

func TestDeleteEverythingThenScanEmpty(t *testing.T) {
	bp, err := NewBufferPool(8)
	require.NoError(t, err)
	hf := makeIntFile(t, bp, filepath.Join(t.TempDir(), "wipe.dat"), []int32{1, 2, 3})

	tid := NewTID()
	bp.BeginTransaction(tid)
	del := NewDeleteOp(bp, hf, NewSeqScan(hf, "t"))
	iter, err := del.Iterator(tid)
	require.NoError(t, err)
	require.Equal(t, []int32{3}, intVals(t, drain(t, iter), 0))

	scanIter, err := NewSeqScan(hf, "t").Iterator(tid)
	require.NoError(t, err)
	require.Empty(t, drain(t, scanIter))
	require.NoError(t, bp.CommitTransaction(tid))
}
