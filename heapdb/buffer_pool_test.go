package heapdb

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// makeMultiPageIntFile loads pages*slotsPerPage sequential ints with a
// roomy pool (a single NO-STEAL transaction must fit its dirty pages), then
// reopens the file against a pool of the requested capacity.
func makeMultiPageIntFile(t *testing.T, path string, pages int, capacity int) (*HeapFile, *BufferPool) {
	t.Helper()
	td := TupleDesc{Fields: []FieldType{{Fname: "a", Ftype: IntType}}}
	loadPool, err := NewBufferPool(pages + 8)
	require.NoError(t, err)
	slots, _, _ := slotCount(&td)
	vals := make([]int32, slots*pages)
	for i := range vals {
		vals[i] = int32(i)
	}
	makeIntFile(t, loadPool, path, vals)

	bp, err := NewBufferPool(capacity)
	require.NoError(t, err)
	hf, err := NewHeapFile(path, &td, bp)
	require.NoError(t, err)
	require.Equal(t, pages, hf.NumPages())
	return hf, bp
}

func TestBufferPoolCapacityBound(t *testing.T) {
	hf, bp := makeMultiPageIntFile(t, filepath.Join(t.TempDir(), "cap.dat"), 5, 3)
	tid := NewTID()
	bp.BeginTransaction(tid)
	for pageNo := 0; pageNo < hf.NumPages(); pageNo++ {
		_, err := bp.GetPage(hf, pageNo, tid, ReadPerm)
		require.NoError(t, err)
		require.LessOrEqual(t, bp.NumCached(), 3, "pool exceeded its capacity")
	}
	require.NoError(t, bp.CommitTransaction(tid))
}

func TestBufferPoolEvictsOnlyCleanPages(t *testing.T) {
	// Capacity 2: one dirty page plus one clean page. Fetching a third page
	// must evict the clean one and keep the dirty one.
	hf, bp := makeMultiPageIntFile(t, filepath.Join(t.TempDir(), "evict.dat"), 3, 2)
	tid := NewTID()
	bp.BeginTransaction(tid)
	pg, err := bp.GetPage(hf, 0, tid, WritePerm)
	require.NoError(t, err)
	pg.setDirty(tid, true)
	_, err = bp.GetPage(hf, 1, tid, ReadPerm)
	require.NoError(t, err)
	_, err = bp.GetPage(hf, 2, tid, ReadPerm)
	require.NoError(t, err)

	require.True(t, bp.pages[hf.pageKey(0)] != nil, "dirty page was evicted")
	require.NoError(t, bp.CommitTransaction(tid))
}

func TestBufferPoolFullOfDirtyPages(t *testing.T) {
	hf, bp := makeMultiPageIntFile(t, filepath.Join(t.TempDir(), "full.dat"), 2, 1)
	tid := NewTID()
	bp.BeginTransaction(tid)
	pg, err := bp.GetPage(hf, 0, tid, WritePerm)
	require.NoError(t, err)
	pg.setDirty(tid, true)

	_, err = bp.GetPage(hf, 1, tid, ReadPerm)
	require.Error(t, err)
	require.Equal(t, BufferPoolFullError, err.(DBError).code)

	// Flushing makes the page evictable again.
	require.NoError(t, bp.FlushPages(tid))
	_, err = bp.GetPage(hf, 1, tid, ReadPerm)
	require.NoError(t, err)
	require.NoError(t, bp.CommitTransaction(tid))
}

func TestBufferPoolAbortRestoresPages(t *testing.T) {
	_, t1, t2, hf, bp, tid := makeTestVars(t)
	require.NoError(t, bp.InsertTuple(tid, hf, &t1))
	require.NoError(t, bp.CommitTransaction(tid))

	// A second transaction inserts and aborts; its insert must vanish.
	tid2 := NewTID()
	require.NoError(t, bp.BeginTransaction(tid2))
	require.NoError(t, bp.InsertTuple(tid2, hf, &t2))
	require.NoError(t, bp.AbortTransaction(tid2))
	require.Empty(t, bp.LockManager().PagesHeldBy(tid2))

	tid3 := NewTID()
	require.NoError(t, bp.BeginTransaction(tid3))
	iter, err := hf.Iterator(tid3)
	require.NoError(t, err)
	rows := drain(t, iter)
	require.Len(t, rows, 1, "aborted insert is still visible")
	require.Equal(t, t1.Fields[0], rows[0].Fields[0])

	// The cached page's contents equal the on-disk contents.
	pg, err := bp.GetPage(hf, 0, tid3, ReadPerm)
	require.NoError(t, err)
	cached, err := pg.toBytes()
	require.NoError(t, err)
	disk, err := hf.readPage(0)
	require.NoError(t, err)
	diskBytes, err := disk.toBytes()
	require.NoError(t, err)
	require.Equal(t, diskBytes, cached)
	require.NoError(t, bp.CommitTransaction(tid3))
}

func TestBufferPoolCommitDurable(t *testing.T) {
	td := TupleDesc{Fields: []FieldType{{Fname: "a", Ftype: IntType}}}
	path := filepath.Join(t.TempDir(), "durable.dat")
	bp, err := NewBufferPool(8)
	require.NoError(t, err)
	makeIntFile(t, bp, path, []int32{7, 8, 9})

	// A fresh pool and file handle over the same path sees the rows.
	bp2, err := NewBufferPool(8)
	require.NoError(t, err)
	hf2, err := NewHeapFile(path, &td, bp2)
	require.NoError(t, err)
	tid := NewTID()
	bp2.BeginTransaction(tid)
	iter, err := hf2.Iterator(tid)
	require.NoError(t, err)
	require.Equal(t, []int32{7, 8, 9}, intVals(t, drain(t, iter), 0))
	require.NoError(t, bp2.CommitTransaction(tid))
}

func TestTransactionCompleteReleasesLocks(t *testing.T) {
	_, t1, t2, hf, bp, tid := makeTestVars(t)
	require.NoError(t, bp.InsertTuple(tid, hf, &t1))
	require.NotEmpty(t, bp.LockManager().PagesHeldBy(tid))
	require.NoError(t, bp.CommitTransaction(tid))
	require.Empty(t, bp.LockManager().PagesHeldBy(tid))

	tid2 := NewTID()
	require.NoError(t, bp.BeginTransaction(tid2))
	require.NoError(t, bp.InsertTuple(tid2, hf, &t2))
	require.NotEmpty(t, bp.LockManager().PagesHeldBy(tid2))
	require.NoError(t, bp.AbortTransaction(tid2))
	require.Empty(t, bp.LockManager().PagesHeldBy(tid2))
}

func TestBufferPoolDiscardPage(t *testing.T) {
	_, t1, _, hf, bp, tid := makeTestVars(t)
	require.NoError(t, bp.InsertTuple(tid, hf, &t1))
	require.Equal(t, 1, bp.NumCached())
	bp.DiscardPage(hf.pageKey(0))
	require.Equal(t, 0, bp.NumCached())
	require.NoError(t, bp.CommitTransaction(tid))
}

// Two transactions inserting concurrently into the same table must
// serialize: every row from both survives, none is lost to a conflicting
// page write.
func TestBufferPoolConcurrentInserts(t *testing.T) {
	td := TupleDesc{Fields: []FieldType{{Fname: "a", Ftype: IntType}}}
	bp, err := NewBufferPool(16)
	require.NoError(t, err)
	hf, err := NewHeapFile(filepath.Join(t.TempDir(), "conc.dat"), &td, bp)
	require.NoError(t, err)

	const perTx = 40
	var wg sync.WaitGroup
	insert := func(base int32) {
		defer wg.Done()
		for {
			tid := NewTID()
			bp.BeginTransaction(tid)
			ok := true
			for i := int32(0); i < perTx; i++ {
				tup := Tuple{Desc: td, Fields: []DBValue{IntField{base + i}}}
				if err := bp.InsertTuple(tid, hf, &tup); err != nil {
					// Deadlock victims retry from scratch.
					bp.AbortTransaction(tid)
					ok = false
					break
				}
			}
			if !ok {
				continue
			}
			if err := bp.CommitTransaction(tid); err != nil {
				t.Error(err)
			}
			return
		}
	}
	wg.Add(2)
	go insert(0)
	go insert(1000)
	wg.Wait()

	tid := NewTID()
	bp.BeginTransaction(tid)
	iter, err := hf.Iterator(tid)
	require.NoError(t, err)
	got := intVals(t, drain(t, iter), 0)
	require.Len(t, got, perTx*2)
	seen := make(map[int32]bool)
	for _, v := range got {
		seen[v] = true
	}
	for i := int32(0); i < perTx; i++ {
		require.True(t, seen[i], "lost row %d", i)
		require.True(t, seen[1000+i], "lost row %d", 1000+i)
	}
	require.NoError(t, bp.CommitTransaction(tid))
}
