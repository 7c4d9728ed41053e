package heapdb

import (
	"bytes"
	"fmt"
	"hash/fnv"

	boom "github.com/tylertreat/BoomFilters"
)

// TableStats summarizes one table for cardinality and selectivity
// estimation. A single scan folds every field value into two sketches per
// column: a HyperLogLog for distinct-value counts and a Count-Min sketch for
// value frequencies. Both are fixed-size, so stats cost O(columns) memory
// regardless of table size.
type TableStats struct {
	desc      *TupleDesc
	numTuples int
	numPages  int
	distinct  []*boom.HyperLogLog
	freq      []*boom.CountMinSketch
}

// selectivityDefault is the estimate used for range predicates, which the
// sketches cannot answer directly.
const selectivityDefault = 1.0 / 3.0

// fieldKey serializes one value for sketch hashing. The serialized bytes are
// first digested with 64-bit FNV-1a: the HyperLogLog hashes its input with
// 32-bit FNV-1, whose last step only touches the low 8 bits, so raw encodings
// that differ only in their final byte (small ints) would all land in the
// same register.
func fieldKey(v DBValue) []byte {
	var buf bytes.Buffer
	t := Tuple{Fields: []DBValue{v}}
	t.writeTo(&buf)
	h := fnv.New64a()
	h.Write(buf.Bytes())
	return h.Sum(nil)
}

// ComputeTableStats scans table once on behalf of tid and builds its
// statistics.
func ComputeTableStats(table DBFile, tid TransactionID) (*TableStats, error) {
	desc := table.Descriptor()
	stats := &TableStats{
		desc:     desc,
		numPages: table.NumPages(),
		distinct: make([]*boom.HyperLogLog, len(desc.Fields)),
		freq:     make([]*boom.CountMinSketch, len(desc.Fields)),
	}
	for i := range desc.Fields {
		hll, err := boom.NewDefaultHyperLogLog(0.01)
		if err != nil {
			return nil, fmt.Errorf("build distinct sketch: %w", err)
		}
		stats.distinct[i] = hll
		stats.freq[i] = boom.NewCountMinSketch(0.001, 0.01)
	}

	iter, err := table.Iterator(tid)
	if err != nil {
		return nil, err
	}
	for {
		t, err := iter()
		if err != nil {
			return nil, err
		}
		if t == nil {
			break
		}
		stats.numTuples++
		for i, v := range t.Fields {
			key := fieldKey(v)
			stats.distinct[i].Add(key)
			stats.freq[i].Add(key)
		}
	}
	return stats, nil
}

// RowCount returns the number of tuples seen by the stats scan.
func (s *TableStats) RowCount() int {
	return s.numTuples
}

// ScanCost returns the cost of a sequential scan in page reads.
func (s *TableStats) ScanCost() float64 {
	return float64(s.numPages)
}

// DistinctValues estimates the number of distinct values in the given
// column.
func (s *TableStats) DistinctValues(field int) (int, error) {
	if field < 0 || field >= len(s.distinct) {
		return 0, DBError{TupleNotFoundError, fmt.Sprintf("no column %d", field)}
	}
	return int(s.distinct[field].Count()), nil
}

// EstimateSelectivity estimates the fraction of the table's rows matching
// the predicate field op val. Equality and inequality come from the
// frequency sketch; range predicates fall back to a fixed default.
func (s *TableStats) EstimateSelectivity(field int, op BoolOp, val DBValue) (float64, error) {
	if field < 0 || field >= len(s.freq) {
		return 0, DBError{TupleNotFoundError, fmt.Sprintf("no column %d", field)}
	}
	if s.numTuples == 0 {
		return 0, nil
	}
	switch op {
	case OpEq:
		matched := float64(s.freq[field].Count(fieldKey(val)))
		if matched > float64(s.numTuples) {
			matched = float64(s.numTuples)
		}
		return matched / float64(s.numTuples), nil
	case OpNeq:
		eq, err := s.EstimateSelectivity(field, OpEq, val)
		if err != nil {
			return 0, err
		}
		return 1 - eq, nil
	default:
		return selectivityDefault, nil
	}
}

// EstimateCardinality applies a selectivity to the table's row count.
func (s *TableStats) EstimateCardinality(selectivity float64) int {
	return int(selectivity * float64(s.numTuples))
}
