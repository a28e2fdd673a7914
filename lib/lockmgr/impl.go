package lockmgr

import (
	"fmt"
	"slices"
	"sync"
)

type lockMgrImpl struct {
	locks []sync.RWMutex
}

// NewLockManager creates a lock manager for n databases.
func NewLockManager(n int) ILockManager {
	if n <= 0 {
		panic(fmt.Sprintf("lockmgr: invalid number of databases %d", n))
	}
	return &lockMgrImpl{
		locks: make([]sync.RWMutex, n),
	}
}

func (lm *lockMgrImpl) NumDatabases() int {
	return len(lm.locks)
}

// get returns the lock of a database. Indexes are validated by the command
// layer, an invalid index is a programming error.
func (lm *lockMgrImpl) get(dbIdx int) *sync.RWMutex {
	if dbIdx < 0 || dbIdx >= len(lm.locks) {
		panic(fmt.Sprintf("lockmgr: database index %d out of range", dbIdx))
	}
	return &lm.locks[dbIdx]
}

func (lm *lockMgrImpl) Lock(dbIdx int) func() {
	l := lm.get(dbIdx)
	l.Lock()
	return l.Unlock
}

func (lm *lockMgrImpl) RLock(dbIdx int) func() {
	l := lm.get(dbIdx)
	l.RLock()
	return l.RUnlock
}

func (lm *lockMgrImpl) LockMany(dbIdx ...int) func() {
	idx := slices.Clone(dbIdx)
	slices.Sort(idx)
	idx = slices.Compact(idx)

	held := make([]*sync.RWMutex, 0, len(idx))
	for _, i := range idx {
		l := lm.get(i)
		l.Lock()
		held = append(held, l)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

func (lm *lockMgrImpl) LockAll() func() {
	for i := range lm.locks {
		lm.locks[i].Lock()
	}
	return func() {
		for i := len(lm.locks) - 1; i >= 0; i-- {
			lm.locks[i].Unlock()
		}
	}
}

func (lm *lockMgrImpl) RLockAll() func() {
	for i := range lm.locks {
		lm.locks[i].RLock()
	}
	return func() {
		for i := len(lm.locks) - 1; i >= 0; i-- {
			lm.locks[i].RUnlock()
		}
	}
}
