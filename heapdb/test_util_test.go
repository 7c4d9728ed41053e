package heapdb

import (
	"path/filepath"
	"testing"
)

// makeTestVars builds the fixture most storage tests share: a two-column
// schema, two tuples, a heap file in a temp dir, a pool, and a running
// transaction.
func makeTestVars(t *testing.T) (TupleDesc, Tuple, Tuple, *HeapFile, *BufferPool, TransactionID) {
	t.Helper()
	td := TupleDesc{Fields: []FieldType{
		{Fname: "name", Ftype: StringType},
		{Fname: "age", Ftype: IntType},
	}}
	t1 := Tuple{
		Desc:   td,
		Fields: []DBValue{StringField{"sam"}, IntField{25}},
	}
	t2 := Tuple{
		Desc:   td,
		Fields: []DBValue{StringField{"george jones"}, IntField{999}},
	}
	bp, err := NewBufferPool(16)
	if err != nil {
		t.Fatalf(err.Error())
	}
	hf, err := NewHeapFile(filepath.Join(t.TempDir(), "test.dat"), &td, bp)
	if err != nil {
		t.Fatalf(err.Error())
	}
	tid := NewTID()
	bp.BeginTransaction(tid)
	return td, t1, t2, hf, bp, tid
}

// makeIntFile creates a single-column int table containing vals, committed.
func makeIntFile(t *testing.T, bp *BufferPool, path string, vals []int32) *HeapFile {
	t.Helper()
	td := TupleDesc{Fields: []FieldType{{Fname: "a", Ftype: IntType}}}
	hf, err := NewHeapFile(path, &td, bp)
	if err != nil {
		t.Fatalf(err.Error())
	}
	tid := NewTID()
	bp.BeginTransaction(tid)
	for _, v := range vals {
		tup := Tuple{Desc: td, Fields: []DBValue{IntField{v}}}
		if err := bp.InsertTuple(tid, hf, &tup); err != nil {
			t.Fatalf("insert %d: %v", v, err)
		}
	}
	if err := bp.CommitTransaction(tid); err != nil {
		t.Fatalf(err.Error())
	}
	return hf
}

// drain pulls every tuple out of an iterator.
func drain(t *testing.T, iter func() (*Tuple, error)) []*Tuple {
	t.Helper()
	var out []*Tuple
	for {
		tup, err := iter()
		if err != nil {
			t.Fatalf(err.Error())
		}
		if tup == nil {
			return out
		}
		out = append(out, tup)
	}
}

// intVals projects the single int column out of a tuple list.
func intVals(t *testing.T, tuples []*Tuple, field int) []int32 {
	t.Helper()
	var out []int32
	for _, tup := range tuples {
		iv, ok := tup.Fields[field].(IntField)
		if !ok {
			t.Fatalf("field %d is %T, want IntField", field, tup.Fields[field])
		}
		out = append(out, iv.Value)
	}
	return out
}
