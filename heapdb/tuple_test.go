package heapdb

import (
	"bytes"
	"testing"

	"github.com/d4l3k/messagediff"
	"github.com/google/go-cmp/cmp"
)

func TestTupleWriteReadRoundTrip(t *testing.T) {
	td, t1, t2, _, _, _ := makeTestVars(t)
	for _, tup := range []*Tuple{&t1, &t2} {
		var buf bytes.Buffer
		if err := tup.writeTo(&buf); err != nil {
			t.Fatalf(err.Error())
		}
		if buf.Len() != td.bytesPerTuple() {
			t.Fatalf("serialized %d bytes, want %d", buf.Len(), td.bytesPerTuple())
		}
		got, err := readTupleFrom(&buf, &td)
		if err != nil {
			t.Fatalf(err.Error())
		}
		if !got.equals(tup) {
			diff, _ := messagediff.PrettyDiff(tup, got)
			t.Errorf("round trip changed the tuple:\n%s", diff)
		}
	}
}

func TestTupleIntEncodingIsBigEndian(t *testing.T) {
	td := TupleDesc{Fields: []FieldType{{Fname: "a", Ftype: IntType}}}
	tup := Tuple{Desc: td, Fields: []DBValue{IntField{0x01020304}}}
	var buf bytes.Buffer
	if err := tup.writeTo(&buf); err != nil {
		t.Fatalf(err.Error())
	}
	want := []byte{0x01, 0x02, 0x03, 0x04}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("encoded %x, want %x", buf.Bytes(), want)
	}
}

func TestTupleStringEncoding(t *testing.T) {
	td := TupleDesc{Fields: []FieldType{{Fname: "s", Ftype: StringType}}}
	tup := Tuple{Desc: td, Fields: []DBValue{StringField{"mit"}}}
	var buf bytes.Buffer
	if err := tup.writeTo(&buf); err != nil {
		t.Fatalf(err.Error())
	}
	data := buf.Bytes()
	if len(data) != StringLength {
		t.Fatalf("encoded %d bytes, want %d", len(data), StringLength)
	}
	if !bytes.Equal(data[:4], []byte{0, 0, 0, 3}) {
		t.Errorf("length prefix %x, want big-endian 3", data[:4])
	}
	if string(data[4:7]) != "mit" {
		t.Errorf("payload %q, want mit", data[4:7])
	}
	for i := 7; i < StringLength; i++ {
		if data[i] != 0 {
			t.Fatalf("byte %d not zero padded", i)
		}
	}

	long := Tuple{Desc: td, Fields: []DBValue{StringField{string(make([]byte, StringLength))}}}
	var buf2 bytes.Buffer
	if err := long.writeTo(&buf2); err == nil {
		t.Errorf("oversized string serialized without error")
	}
}

func TestTupleDescEqualsIgnoresNames(t *testing.T) {
	a := TupleDesc{Fields: []FieldType{{Fname: "x", Ftype: IntType}, {Fname: "y", Ftype: StringType}}}
	b := TupleDesc{Fields: []FieldType{{Fname: "p", Ftype: IntType}, {Fname: "q", Ftype: StringType}}}
	c := TupleDesc{Fields: []FieldType{{Fname: "x", Ftype: StringType}, {Fname: "y", Ftype: IntType}}}
	d := TupleDesc{Fields: []FieldType{{Fname: "x", Ftype: IntType}}}
	if !a.equals(&b) {
		t.Errorf("descriptors differing only in names compare unequal:\n%s", cmp.Diff(a, b))
	}
	if a.equals(&c) {
		t.Errorf("descriptors with different types compare equal")
	}
	if a.equals(&d) {
		t.Errorf("descriptors with different lengths compare equal")
	}
}

func TestTupleDescMerge(t *testing.T) {
	a := TupleDesc{Fields: []FieldType{{Fname: "x", Ftype: IntType}}}
	b := TupleDesc{Fields: []FieldType{{Fname: "y", Ftype: StringType}}}
	m := a.merge(&b)
	want := TupleDesc{Fields: []FieldType{{Fname: "x", Ftype: IntType}, {Fname: "y", Ftype: StringType}}}
	if diff := cmp.Diff(want, *m); diff != "" {
		t.Errorf("merge mismatch (-want +got):\n%s", diff)
	}
	if len(a.Fields) != 1 || len(b.Fields) != 1 {
		t.Errorf("merge mutated its inputs")
	}
}

func TestJoinTuples(t *testing.T) {
	_, t1, t2, _, _, _ := makeTestVars(t)
	joined := joinTuples(&t1, &t2)
	if len(joined.Fields) != 4 || len(joined.Desc.Fields) != 4 {
		t.Fatalf("joined tuple has %d fields, want 4", len(joined.Fields))
	}
	if joined.Fields[0] != t1.Fields[0] || joined.Fields[2] != t2.Fields[0] {
		t.Errorf("joined fields out of order")
	}
}

func TestTupleProject(t *testing.T) {
	_, t1, _, _, _, _ := makeTestVars(t)
	got, err := t1.project([]FieldType{{Fname: "age", Ftype: IntType}})
	if err != nil {
		t.Fatalf(err.Error())
	}
	if len(got.Fields) != 1 || got.Fields[0] != (IntField{25}) {
		t.Errorf("projected %v, want just age=25", got.Fields)
	}
	if _, err := t1.project([]FieldType{{Fname: "salary", Ftype: IntType}}); err == nil {
		t.Errorf("projecting a missing field did not fail")
	}
}

func TestFieldEvalPred(t *testing.T) {
	cases := []struct {
		a, b DBValue
		op   BoolOp
		want bool
	}{
		{IntField{1}, IntField{2}, OpLt, true},
		{IntField{2}, IntField{2}, OpLe, true},
		{IntField{3}, IntField{2}, OpGt, true},
		{IntField{2}, IntField{2}, OpEq, true},
		{IntField{2}, IntField{3}, OpNeq, true},
		{IntField{2}, StringField{"2"}, OpEq, false},
		{StringField{"abc"}, StringField{"b"}, OpLike, true},
		{StringField{"abc"}, StringField{"z"}, OpLike, false},
		{StringField{"a"}, StringField{"b"}, OpLt, true},
	}
	for _, c := range cases {
		if got := c.a.EvalPred(c.b, c.op); got != c.want {
			t.Errorf("%v %v %v = %v, want %v", c.a, c.op, c.b, got, c.want)
		}
	}
}
