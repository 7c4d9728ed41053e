package heapdb

import (
	"fmt"
	"sync"
)

// LockManager arbitrates page-level shared/exclusive locks between
// transactions. Transactions hold every lock they acquire until commit or
// abort (strict two-phase locking); the BufferPool releases them through
// ReleaseAll.
//
// A contended acquire sleeps on the manager's condition variable and
// re-evaluates from scratch on every wakeup. Before sleeping, the requester
// records the holders it is waiting for; if that edge closes a cycle in the
// waits-for graph, the requester is the victim and the acquire fails with
// DeadlockError.

type lockMode int

const (
	modeShared lockMode = iota + 1
	modeExclusive
)

// pageLock is the lock record for one page. Invariant: mode is
// modeExclusive only when holders has exactly one member.
type pageLock struct {
	mode    lockMode
	holders map[TransactionID]struct{}
}

type LockManager struct {
	mu   sync.Mutex
	cond *sync.Cond
	// locks holds an entry for each page some transaction currently holds.
	locks map[PageID]*pageLock
	// held maps each transaction to the pages it holds locks on.
	held map[TransactionID]map[PageID]struct{}
	// waitsFor maps each blocked transaction to the holders it waits for.
	waitsFor map[TransactionID]map[TransactionID]struct{}
}

func NewLockManager() *LockManager {
	lm := &LockManager{
		locks:    make(map[PageID]*pageLock),
		held:     make(map[TransactionID]map[PageID]struct{}),
		waitsFor: make(map[TransactionID]map[TransactionID]struct{}),
	}
	lm.cond = sync.NewCond(&lm.mu)
	return lm
}

// Acquire obtains the lock on pid for tid in the mode implied by perm,
// blocking while it is held incompatibly by other transactions. A shared
// request held shared is granted alongside other readers; a write request by
// the sole shared holder upgrades in place; re-acquiring a held lock is a
// no-op. Returns DeadlockError when granting would require waiting on a
// cycle, in which case the requester must abort.
func (lm *LockManager) Acquire(tid TransactionID, pid PageID, perm RWPerm) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	for {
		if lm.tryGrant(tid, pid, perm) {
			delete(lm.waitsFor, tid)
			return nil
		}
		l := lm.locks[pid]
		blockers := make(map[TransactionID]struct{}, len(l.holders))
		for holder := range l.holders {
			if holder != tid {
				blockers[holder] = struct{}{}
			}
		}
		lm.waitsFor[tid] = blockers
		if lm.wouldDeadlock(tid) {
			delete(lm.waitsFor, tid)
			return DBError{DeadlockError, fmt.Sprintf("transaction %d aborted to break a deadlock on page %v", tid, pid)}
		}
		lm.cond.Wait()
	}
}

// tryGrant attempts the grant table under lm.mu, mutating state on success.
func (lm *LockManager) tryGrant(tid TransactionID, pid PageID, perm RWPerm) bool {
	l := lm.locks[pid]
	if l == nil || len(l.holders) == 0 {
		mode := modeShared
		if perm == WritePerm {
			mode = modeExclusive
		}
		lm.locks[pid] = &pageLock{mode: mode, holders: map[TransactionID]struct{}{tid: {}}}
		lm.noteHeld(tid, pid)
		return true
	}
	_, isHolder := l.holders[tid]
	if l.mode == modeExclusive {
		// The exclusive holder may re-request in either mode.
		return isHolder
	}
	if perm == ReadPerm {
		l.holders[tid] = struct{}{}
		lm.noteHeld(tid, pid)
		return true
	}
	// Write request against a shared lock: grantable only as an upgrade by
	// the sole holder, replacing the shared holding atomically.
	if isHolder && len(l.holders) == 1 {
		l.mode = modeExclusive
		return true
	}
	return false
}

func (lm *LockManager) noteHeld(tid TransactionID, pid PageID) {
	if lm.held[tid] == nil {
		lm.held[tid] = make(map[PageID]struct{})
	}
	lm.held[tid][pid] = struct{}{}
}

// wouldDeadlock reports whether tid is reachable from its own wait-set by
// following waits-for edges.
func (lm *LockManager) wouldDeadlock(tid TransactionID) bool {
	visited := make(map[TransactionID]struct{})
	frontier := make([]TransactionID, 0, len(lm.waitsFor[tid]))
	for t := range lm.waitsFor[tid] {
		frontier = append(frontier, t)
	}
	for len(frontier) > 0 {
		t := frontier[0]
		frontier = frontier[1:]
		if t == tid {
			return true
		}
		if _, seen := visited[t]; seen {
			continue
		}
		visited[t] = struct{}{}
		for next := range lm.waitsFor[t] {
			frontier = append(frontier, next)
		}
	}
	return false
}

// Release drops tid's hold on pid and wakes all waiters to re-contend.
func (lm *LockManager) Release(tid TransactionID, pid PageID) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.releaseLocked(tid, pid)
	lm.cond.Broadcast()
}

func (lm *LockManager) releaseLocked(tid TransactionID, pid PageID) {
	if l := lm.locks[pid]; l != nil {
		delete(l.holders, tid)
		if len(l.holders) == 0 {
			delete(lm.locks, pid)
		}
	}
	if pages := lm.held[tid]; pages != nil {
		delete(pages, pid)
		if len(pages) == 0 {
			delete(lm.held, tid)
		}
	}
}

// ReleaseAll releases every lock tid holds and purges it from the waits-for
// graph. Idempotent; safe to call for a transaction that holds nothing.
func (lm *LockManager) ReleaseAll(tid TransactionID) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	for pid := range lm.held[tid] {
		lm.releaseLocked(tid, pid)
	}
	delete(lm.waitsFor, tid)
	for _, blockers := range lm.waitsFor {
		delete(blockers, tid)
	}
	lm.cond.Broadcast()
}

// HoldsLock reports whether tid currently holds a lock on pid in any mode.
func (lm *LockManager) HoldsLock(tid TransactionID, pid PageID) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	_, ok := lm.held[tid][pid]
	return ok
}

// PagesHeldBy returns the pages tid holds locks on.
func (lm *LockManager) PagesHeldBy(tid TransactionID) []PageID {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	pages := make([]PageID, 0, len(lm.held[tid]))
	for pid := range lm.held[tid] {
		pages = append(pages, pid)
	}
	return pages
}
