package heapdb

// This file defines methods for working with tuples: the types FieldType,
// TupleDesc, DBValue, Tuple, PageID and RecordID.

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// FieldType is the type of a field in a tuple: its name, optional table
// qualifier, and DBType. TableQualifier may be an empty string, depending on
// whether the table was named or aliased in the query.
type FieldType struct {
	Fname          string
	TableQualifier string
	Ftype          DBType
}

// TupleDesc is the "type" of a tuple: an ordered sequence of field types.
type TupleDesc struct {
	Fields []FieldType
}

// equals reports whether two descriptors describe the same physical layout:
// same number of fields with pointwise equal types. Field names do not
// participate; a renamed column is still the same tuple shape.
func (d1 *TupleDesc) equals(d2 *TupleDesc) bool {
	if len(d1.Fields) != len(d2.Fields) {
		return false
	}
	for i := range d1.Fields {
		if d1.Fields[i].Ftype != d2.Fields[i].Ftype {
			return false
		}
	}
	return true
}

// bytesPerTuple returns the fixed serialized size of a tuple with this
// descriptor.
func (d *TupleDesc) bytesPerTuple() int {
	size := 0
	for _, f := range d.Fields {
		size += f.Ftype.byteLength()
	}
	return size
}

// findFieldInTd finds the best matching field in desc for field. A match has
// the same Ftype and the same name, preferring a match with the same
// TableQualifier when field carries one.
func findFieldInTd(field FieldType, desc *TupleDesc) (int, error) {
	best := -1
	for i, f := range desc.Fields {
		if f.Fname == field.Fname && (f.Ftype == field.Ftype || field.Ftype == UnknownType) {
			if field.TableQualifier == "" && best != -1 {
				return 0, DBError{AmbiguousNameError, fmt.Sprintf("select name %s is ambiguous", f.Fname)}
			}
			if f.TableQualifier == field.TableQualifier || best == -1 {
				best = i
			}
		}
	}
	if best != -1 {
		return best, nil
	}
	return -1, DBError{IncompatibleTypesError, fmt.Sprintf("field %s.%s not found", field.TableQualifier, field.Fname)}
}

// copy returns a deep copy of the descriptor.
func (td *TupleDesc) copy() *TupleDesc {
	fields := make([]FieldType, len(td.Fields))
	copy(fields, td.Fields)
	return &TupleDesc{Fields: fields}
}

// setTableAlias assigns the TableQualifier of every field to alias. Used by
// scans and the parser to implement table aliasing.
func (td *TupleDesc) setTableAlias(alias string) {
	fields := make([]FieldType, len(td.Fields))
	copy(fields, td.Fields)
	for i := range fields {
		fields[i].TableQualifier = alias
	}
	td.Fields = fields
}

// merge returns a descriptor consisting of the fields of desc2 appended onto
// the fields of desc.
func (desc *TupleDesc) merge(desc2 *TupleDesc) *TupleDesc {
	fields := make([]FieldType, 0, len(desc.Fields)+len(desc2.Fields))
	fields = append(fields, desc.Fields...)
	fields = append(fields, desc2.Fields...)
	return &TupleDesc{Fields: fields}
}

// ================== Page and record identity ======================

// PageID names a page: the owning table and its 0-based page number within
// the table's file. Table ids are derived from the file path, so PageIDs are
// stable across processes.
type PageID struct {
	TableID int
	PageNo  int
}

// RecordID names a tuple: the page it lives on and its slot within that page.
type RecordID struct {
	Page PageID
	Slot int
}

// recordID is the type of Tuple.Rid; nil means the tuple has not been stored.
type recordID any

// ================== Tuple methods ======================

// DBValue is a tuple field value.
type DBValue interface {
	// EvalPred compares the receiver against v under op.
	EvalPred(v DBValue, op BoolOp) bool
}

// IntField is a 32-bit integer field value.
type IntField struct {
	Value int32
}

// StringField is a fixed-length string field value.
type StringField struct {
	Value string
}

func (f IntField) EvalPred(v DBValue, op BoolOp) bool {
	other, ok := v.(IntField)
	if !ok {
		return false
	}
	switch op {
	case OpEq:
		return f.Value == other.Value
	case OpNeq:
		return f.Value != other.Value
	case OpGt:
		return f.Value > other.Value
	case OpGe:
		return f.Value >= other.Value
	case OpLt:
		return f.Value < other.Value
	case OpLe:
		return f.Value <= other.Value
	}
	return false
}

func (f StringField) EvalPred(v DBValue, op BoolOp) bool {
	other, ok := v.(StringField)
	if !ok {
		return false
	}
	switch op {
	case OpEq:
		return f.Value == other.Value
	case OpNeq:
		return f.Value != other.Value
	case OpGt:
		return f.Value > other.Value
	case OpGe:
		return f.Value >= other.Value
	case OpLt:
		return f.Value < other.Value
	case OpLe:
		return f.Value <= other.Value
	case OpLike:
		return strings.Contains(f.Value, other.Value)
	}
	return false
}

// Tuple is a row: its descriptor, its field values, and the record id it was
// read from or inserted at (nil for tuples that have never been stored).
type Tuple struct {
	Desc   TupleDesc
	Fields []DBValue
	Rid    recordID
}

// writeTo serializes the tuple into b. All tuples are fixed size: ints are
// written as 4-byte big-endian two's complement; strings as a 4-byte
// big-endian length prefix followed by the value zero-padded to
// StringLength-4 bytes.
func (t *Tuple) writeTo(b *bytes.Buffer) error {
	for _, field := range t.Fields {
		switch v := field.(type) {
		case IntField:
			if err := binary.Write(b, binary.BigEndian, v.Value); err != nil {
				return err
			}
		case StringField:
			if len(v.Value) > StringLength-4 {
				return DBError{TypeMismatchError, fmt.Sprintf("string %q exceeds %d bytes", v.Value, StringLength-4)}
			}
			if err := binary.Write(b, binary.BigEndian, int32(len(v.Value))); err != nil {
				return err
			}
			payload := make([]byte, StringLength-4)
			copy(payload, v.Value)
			if _, err := b.Write(payload); err != nil {
				return err
			}
		default:
			return DBError{TypeMismatchError, fmt.Sprintf("unsupported field type %T", field)}
		}
	}
	return nil
}

// readTupleFrom reads one tuple with the given descriptor from b, inverting
// writeTo.
func readTupleFrom(b *bytes.Buffer, desc *TupleDesc) (*Tuple, error) {
	t := &Tuple{Desc: *desc, Fields: make([]DBValue, 0, len(desc.Fields))}
	for _, f := range desc.Fields {
		switch f.Ftype {
		case IntType:
			var v int32
			if err := binary.Read(b, binary.BigEndian, &v); err != nil {
				return nil, err
			}
			t.Fields = append(t.Fields, IntField{v})
		case StringType:
			var n int32
			if err := binary.Read(b, binary.BigEndian, &n); err != nil {
				return nil, err
			}
			payload := make([]byte, StringLength-4)
			if _, err := b.Read(payload); err != nil {
				return nil, err
			}
			if n < 0 || int(n) > StringLength-4 {
				return nil, DBError{MalformedDataError, fmt.Sprintf("string length %d out of range", n)}
			}
			t.Fields = append(t.Fields, StringField{string(payload[:n])})
		default:
			return nil, DBError{MalformedDataError, "unknown field type in descriptor"}
		}
	}
	return t, nil
}

// equals reports whether two tuples have equal descriptors and pointwise
// equal fields.
func (t1 *Tuple) equals(t2 *Tuple) bool {
	if t1 == nil || t2 == nil {
		return t1 == t2
	}
	if len(t1.Fields) != len(t2.Fields) || !t1.Desc.equals(&t2.Desc) {
		return false
	}
	for i := range t1.Fields {
		if t1.Fields[i] != t2.Fields[i] {
			return false
		}
	}
	return true
}

// joinTuples produces a new tuple with the fields of t2 appended to t1.
func joinTuples(t1 *Tuple, t2 *Tuple) *Tuple {
	if t1 == nil {
		return t2
	}
	if t2 == nil {
		return t1
	}
	return &Tuple{
		Desc:   *t1.Desc.merge(&t2.Desc),
		Fields: append(append([]DBValue{}, t1.Fields...), t2.Fields...),
	}
}

type orderByState int

const (
	OrderedLessThan    orderByState = iota
	OrderedEqual       orderByState = iota
	OrderedGreaterThan orderByState = iota
)

// compareField applies field to both t and t2 and compares the results.
func (t *Tuple) compareField(t2 *Tuple, field Expr) (orderByState, error) {
	v1, err := field.EvalExpr(t)
	if err != nil {
		return OrderedEqual, err
	}
	v2, err := field.EvalExpr(t2)
	if err != nil {
		return OrderedEqual, err
	}
	if v1.EvalPred(v2, OpEq) {
		return OrderedEqual, nil
	}
	if v1.EvalPred(v2, OpLt) {
		return OrderedLessThan, nil
	}
	if v1.EvalPred(v2, OpGt) {
		return OrderedGreaterThan, nil
	}
	return OrderedEqual, DBError{TypeMismatchError, fmt.Sprintf("cannot compare %T and %T", v1, v2)}
}

// project returns a new tuple with just the named fields. A field with a
// TableQualifier prefers an exact qualifier match but falls back to a match
// on name alone.
func (t *Tuple) project(fields []FieldType) (*Tuple, error) {
	out := &Tuple{}
	for _, field := range fields {
		match := -1
		for i, df := range t.Desc.Fields {
			if field.Fname == df.Fname && field.TableQualifier == df.TableQualifier {
				match = i
				break
			}
		}
		if match == -1 {
			for i, df := range t.Desc.Fields {
				if field.Fname == df.Fname {
					match = i
					break
				}
			}
		}
		if match == -1 {
			return nil, DBError{TupleNotFoundError, fmt.Sprintf("field %s.%s not found", field.TableQualifier, field.Fname)}
		}
		out.Fields = append(out.Fields, t.Fields[match])
		out.Desc.Fields = append(out.Desc.Fields, t.Desc.Fields[match])
	}
	return out, nil
}

// tupleKey returns a value usable as a map key for distinct/grouping.
func (t *Tuple) tupleKey() any {
	var buf bytes.Buffer
	t.writeTo(&buf)
	return buf.String()
}

var winWidth int = 120

func fmtCol(v string, ncols int) string {
	colWid := winWidth / ncols
	nextLen := len(v) + 3
	remLen := colWid - nextLen
	if remLen > 0 {
		spacesRight := remLen / 2
		spacesLeft := remLen - spacesRight
		return strings.Repeat(" ", spacesLeft) + v + strings.Repeat(" ", spacesRight) + " |"
	}
	return " " + v[0:colWid-4] + " |"
}

// HeaderString returns a header row for tuples with this descriptor. Aligned
// selects the tabular format.
func (d *TupleDesc) HeaderString(aligned bool) string {
	outstr := ""
	for i, f := range d.Fields {
		tableName := ""
		if f.TableQualifier != "" {
			tableName = f.TableQualifier + "."
		}
		if aligned {
			outstr = fmt.Sprintf("%s %s", outstr, fmtCol(tableName+f.Fname, len(d.Fields)))
		} else {
			sep := ","
			if i == 0 {
				sep = ""
			}
			outstr = fmt.Sprintf("%s%s%s", outstr, sep, tableName+f.Fname)
		}
	}
	return outstr
}

// PrettyPrintString returns a printable representation of the tuple. Aligned
// selects the tabular format.
func (t *Tuple) PrettyPrintString(aligned bool) string {
	outstr := ""
	for i, f := range t.Fields {
		str := ""
		switch f := f.(type) {
		case IntField:
			str = strconv.FormatInt(int64(f.Value), 10)
		case StringField:
			str = f.Value
		}
		if aligned {
			outstr = fmt.Sprintf("%s %s", outstr, fmtCol(str, len(t.Fields)))
		} else {
			sep := ","
			if i == 0 {
				sep = ""
			}
			outstr = fmt.Sprintf("%s%s%s", outstr, sep, str)
		}
	}
	return outstr
}
