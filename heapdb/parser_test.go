package heapdb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// runQuery plans and executes one statement in its own transaction,
// returning the emitted tuples.
func runQuery(t *testing.T, db *Database, query string) []*Tuple {
	t.Helper()
	plan, err := ParseStatement(db, query)
	require.NoError(t, err, query)
	tid := NewTID()
	require.NoError(t, db.BufferPool().BeginTransaction(tid))
	iter, err := plan.Iterator(tid)
	require.NoError(t, err, query)
	rows := drain(t, iter)
	require.NoError(t, db.BufferPool().CommitTransaction(tid))
	return rows
}

func newQueryDatabase(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	schema := filepath.Join(dir, "schema.txt")
	require.NoError(t, os.WriteFile(schema, []byte(
		"people (name string, age int pk)\nnums (a int)\npets (owner string, species string)\n"), 0644))
	db, err := NewDatabase(dir, 32)
	require.NoError(t, err)
	require.NoError(t, db.Catalog().LoadSchema(schema))
	return db
}

func TestParserInsertSelect(t *testing.T) {
	db := newQueryDatabase(t)
	rows := runQuery(t, db, "insert into nums values (1), (2), (3)")
	require.Equal(t, []int32{3}, intVals(t, rows, 0))

	rows = runQuery(t, db, "select a from nums")
	require.Equal(t, []int32{1, 2, 3}, intVals(t, rows, 0))
}

func TestParserFilterAndLimit(t *testing.T) {
	db := newQueryDatabase(t)
	runQuery(t, db, "insert into nums values (5), (1), (9), (7)")

	rows := runQuery(t, db, "select a from nums where a > 4")
	require.Equal(t, []int32{5, 9, 7}, intVals(t, rows, 0))

	rows = runQuery(t, db, "select a from nums where a > 4 and a < 9")
	require.Equal(t, []int32{5, 7}, intVals(t, rows, 0))

	rows = runQuery(t, db, "select a from nums order by a desc limit 2")
	require.Equal(t, []int32{9, 7}, intVals(t, rows, 0))
}

func TestParserStringsAndProjection(t *testing.T) {
	db := newQueryDatabase(t)
	runQuery(t, db, "insert into people values ('sam', 25), ('maria', 31)")

	rows := runQuery(t, db, "select name from people where age >= 30")
	require.Len(t, rows, 1)
	require.Equal(t, StringField{"maria"}, rows[0].Fields[0])
	require.Len(t, rows[0].Fields, 1)

	rows = runQuery(t, db, "select * from people where name = 'sam'")
	require.Len(t, rows, 1)
	require.Len(t, rows[0].Fields, 2)
}

func TestParserJoin(t *testing.T) {
	db := newQueryDatabase(t)
	runQuery(t, db, "insert into people values ('sam', 25), ('maria', 31)")
	runQuery(t, db, "insert into pets values ('sam', 'dog'), ('sam', 'cat'), ('ed', 'fish')")

	rows := runQuery(t, db,
		"select species from people, pets where people.name = pets.owner and age < 30")
	require.Len(t, rows, 2)
	require.Equal(t, StringField{"dog"}, rows[0].Fields[0])
	require.Equal(t, StringField{"cat"}, rows[1].Fields[0])

	rows = runQuery(t, db,
		"select species from people join pets on people.name = pets.owner")
	require.Len(t, rows, 2)
}

func TestParserAggregates(t *testing.T) {
	db := newQueryDatabase(t)
	runQuery(t, db, "insert into people values ('a', 10), ('b', 20), ('c', 20)")

	rows := runQuery(t, db, "select sum(age) from people")
	require.Equal(t, []int32{50}, intVals(t, rows, 0))
	require.Equal(t, "sum age", rows[0].Desc.Fields[0].Fname)

	rows = runQuery(t, db, "select count(*) from people")
	require.Equal(t, []int32{3}, intVals(t, rows, 0))

	rows = runQuery(t, db, "select age, count(name) from people group by age")
	require.Len(t, rows, 2)
	counts := map[int32]int32{}
	for _, r := range rows {
		counts[r.Fields[0].(IntField).Value] = r.Fields[1].(IntField).Value
	}
	require.Equal(t, map[int32]int32{10: 1, 20: 2}, counts)
}

func TestParserDelete(t *testing.T) {
	db := newQueryDatabase(t)
	runQuery(t, db, "insert into nums values (1), (2), (3), (4)")
	rows := runQuery(t, db, "delete from nums where a > 2")
	require.Equal(t, []int32{2}, intVals(t, rows, 0))
	rows = runQuery(t, db, "select a from nums")
	require.Equal(t, []int32{1, 2}, intVals(t, rows, 0))
}

func TestParserErrors(t *testing.T) {
	db := newQueryDatabase(t)
	for _, q := range []string{
		"select a from nowhere",
		"select bogus from nums",
		"not sql at all",
		"insert into nums values ('str')",
		"select a from nums where a > 'x'",
	} {
		_, err := ParseStatement(db, q)
		require.Error(t, err, q)
	}
}
