package heapdb

import (
	"container/list"
	"fmt"
	"sync"
)

// BufferPool caches pages that have been read from disk, with a fixed
// capacity to bound memory use. It is also where transactions are enforced:
// every page access acquires the corresponding page lock through the
// LockManager before the cache is consulted, mutations mark pages dirty with
// the writing transaction, and commit/abort implement strict two-phase
// locking on top of the lock manager and the write-ahead log.
//
// Policies: NO-STEAL (a dirty page is never evicted; when the pool is full
// of dirty pages the caller gets BufferPoolFullError and must flush or
// commit) and write-ahead logging (the update record for a page change is
// forced to the log before the page is written to its data file).
type BufferPool struct {
	mu       sync.Mutex
	capacity int
	pages    map[PageID]Page
	// lru orders cached pages by recency, front = most recent. Touched on
	// every GetPage hit and miss; eviction takes the least recent clean
	// page.
	lru     *list.List
	lruPos  map[PageID]*list.Element
	lockMgr *LockManager
	// logFile may be nil, in which case update logging is disabled and
	// flushes write straight through.
	logFile    *LogFile
	runningTxs map[TransactionID]struct{}
}

// NewBufferPool creates a BufferPool holding at most numPages pages.
func NewBufferPool(numPages int) (*BufferPool, error) {
	if numPages <= 0 {
		return nil, DBError{IllegalOperationError, "buffer pool capacity must be positive"}
	}
	return &BufferPool{
		capacity:   numPages,
		pages:      make(map[PageID]Page),
		lru:        list.New(),
		lruPos:     make(map[PageID]*list.Element),
		lockMgr:    NewLockManager(),
		runningTxs: make(map[TransactionID]struct{}),
	}, nil
}

// LockManager returns the pool's lock manager.
func (bp *BufferPool) LockManager() *LockManager {
	return bp.lockMgr
}

// BeginTransaction starts tid. Returns an error if tid is already running.
func (bp *BufferPool) BeginTransaction(tid TransactionID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if _, running := bp.runningTxs[tid]; running {
		return DBError{IllegalTransactionError, fmt.Sprintf("transaction %d is already running", tid)}
	}
	bp.runningTxs[tid] = struct{}{}
	if bp.logFile != nil {
		bp.logFile.LogBegin(tid)
	}
	return nil
}

// GetPage retrieves the page pageNo of file on behalf of tid, locking it
// with the mode implied by perm before touching the cache. A miss reads the
// page through DBFile.readPage, evicting the least recently used clean page
// when the pool is full. Fails with DeadlockError when the lock acquisition
// would deadlock (tid is the victim) and BufferPoolFullError when every
// cached page is dirty.
func (bp *BufferPool) GetPage(file DBFile, pageNo int, tid TransactionID, perm RWPerm) (Page, error) {
	pid := file.pageKey(pageNo)
	// The lock acquisition may block; it must happen outside bp.mu so that
	// lock holders can keep using the pool while others wait.
	if err := bp.lockMgr.Acquire(tid, pid, perm); err != nil {
		return nil, err
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()
	if pg, ok := bp.pages[pid]; ok {
		bp.touchLocked(pid)
		return pg, nil
	}
	if len(bp.pages) >= bp.capacity {
		if err := bp.evictLocked(); err != nil {
			return nil, err
		}
	}
	pg, err := file.readPage(pageNo)
	if err != nil {
		return nil, err
	}
	bp.pages[pid] = pg
	bp.touchLocked(pid)
	return pg, nil
}

func (bp *BufferPool) touchLocked(pid PageID) {
	if el, ok := bp.lruPos[pid]; ok {
		bp.lru.MoveToFront(el)
		return
	}
	bp.lruPos[pid] = bp.lru.PushFront(pid)
}

func (bp *BufferPool) removeLocked(pid PageID) {
	delete(bp.pages, pid)
	if el, ok := bp.lruPos[pid]; ok {
		bp.lru.Remove(el)
		delete(bp.lruPos, pid)
	}
}

// evictLocked removes the least recently used clean page. Dirty pages are
// never eviction victims (NO-STEAL); when every page is dirty the pool is
// stuck and the caller must flush or commit.
func (bp *BufferPool) evictLocked() error {
	for el := bp.lru.Back(); el != nil; el = el.Prev() {
		pid := el.Value.(PageID)
		if pg, ok := bp.pages[pid]; ok && !pg.isDirty() {
			bp.removeLocked(pid)
			return nil
		}
	}
	return DBError{BufferPoolFullError, "buffer pool is full of dirty pages"}
}

// InsertTuple adds t to the named file on behalf of tid, marking every
// modified page dirty and (re)caching it.
func (bp *BufferPool) InsertTuple(tid TransactionID, file DBFile, t *Tuple) error {
	dirtied, err := file.insertTuple(t, tid)
	if err != nil {
		return err
	}
	bp.mu.Lock()
	defer bp.mu.Unlock()
	for _, pg := range dirtied {
		pg.setDirty(tid, true)
		bp.pages[pg.id()] = pg
		bp.touchLocked(pg.id())
	}
	return nil
}

// DeleteTuple removes t (by its record id) from the named file on behalf of
// tid, marking the modified page dirty.
func (bp *BufferPool) DeleteTuple(tid TransactionID, file DBFile, t *Tuple) error {
	pg, err := file.deleteTuple(t, tid)
	if err != nil {
		return err
	}
	bp.mu.Lock()
	defer bp.mu.Unlock()
	pg.setDirty(tid, true)
	bp.pages[pg.id()] = pg
	bp.touchLocked(pg.id())
	return nil
}

// flushPageLocked writes one cached page through to disk if it is dirty,
// logging and forcing its update record first (WAL), then clearing the dirty
// flag and resetting the before-image.
func (bp *BufferPool) flushPageLocked(pid PageID) error {
	pg, ok := bp.pages[pid]
	if !ok || !pg.isDirty() {
		return nil
	}
	if tid, dirty := pg.dirtier(); dirty && bp.logFile != nil {
		before, err := pg.beforeImage()
		if err != nil {
			return err
		}
		if err := bp.logFile.LogUpdate(tid, before, pg); err != nil {
			return err
		}
		if err := bp.logFile.Force(); err != nil {
			return err
		}
	}
	if err := pg.getFile().flushPage(pg); err != nil {
		return err
	}
	if err := pg.setBeforeImage(); err != nil {
		return err
	}
	pg.setDirty(0, false)
	return nil
}

// FlushPages writes back every cached page dirtied by tid.
func (bp *BufferPool) FlushPages(tid TransactionID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	for pid, pg := range bp.pages {
		if dirtier, dirty := pg.dirtier(); dirty && dirtier == tid {
			if err := bp.flushPageLocked(pid); err != nil {
				return err
			}
		}
	}
	return nil
}

// FlushAllPages writes back every dirty page in the pool. Intended for
// shutdown and tests; not transaction safe.
func (bp *BufferPool) FlushAllPages() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	for pid := range bp.pages {
		if err := bp.flushPageLocked(pid); err != nil {
			return err
		}
	}
	return nil
}

// DiscardPage drops pid from the cache without writing it to disk.
func (bp *BufferPool) DiscardPage(pid PageID) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.removeLocked(pid)
}

// CommitTransaction makes tid's changes durable and releases its locks. The
// update records for every page tid dirtied, followed by a commit record,
// are forced to the log before any page is written back; the page writes
// themselves then happen eagerly, resetting each page's before-image to its
// committed contents.
func (bp *BufferPool) CommitTransaction(tid TransactionID) error {
	bp.mu.Lock()
	var committed []PageID
	for pid, pg := range bp.pages {
		if dirtier, dirty := pg.dirtier(); dirty && dirtier == tid {
			committed = append(committed, pid)
		}
	}
	if bp.logFile != nil {
		for _, pid := range committed {
			pg := bp.pages[pid]
			before, err := pg.beforeImage()
			if err != nil {
				bp.mu.Unlock()
				return err
			}
			if err := bp.logFile.LogUpdate(tid, before, pg); err != nil {
				bp.mu.Unlock()
				return err
			}
		}
		bp.logFile.LogCommit(tid)
		if err := bp.logFile.Force(); err != nil {
			bp.mu.Unlock()
			return err
		}
	}
	for _, pid := range committed {
		pg := bp.pages[pid]
		if err := pg.getFile().flushPage(pg); err != nil {
			bp.mu.Unlock()
			return err
		}
		if err := pg.setBeforeImage(); err != nil {
			bp.mu.Unlock()
			return err
		}
		pg.setDirty(0, false)
	}
	delete(bp.runningTxs, tid)
	bp.mu.Unlock()

	bp.lockMgr.ReleaseAll(tid)
	return nil
}

// AbortTransaction rolls tid back and releases its locks. Every page tid
// dirtied is replaced in the cache by the clean copy reloaded from disk, so
// the abort is state-equivalent to the transaction never having run.
func (bp *BufferPool) AbortTransaction(tid TransactionID) error {
	bp.mu.Lock()
	for pid, pg := range bp.pages {
		dirtier, dirty := pg.dirtier()
		if !dirty || dirtier != tid {
			continue
		}
		clean, err := pg.getFile().readPage(pid.PageNo)
		if err != nil {
			// The page cannot be reloaded; dropping it still leaves the
			// next reader to fetch it from disk.
			bp.removeLocked(pid)
			continue
		}
		bp.pages[pid] = clean
		bp.touchLocked(pid)
	}
	if bp.logFile != nil {
		bp.logFile.LogAbort(tid)
		if err := bp.logFile.Force(); err != nil {
			bp.mu.Unlock()
			return err
		}
	}
	delete(bp.runningTxs, tid)
	bp.mu.Unlock()

	bp.lockMgr.ReleaseAll(tid)
	return nil
}

// NumCached returns the number of pages currently cached.
func (bp *BufferPool) NumCached() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.pages)
}
