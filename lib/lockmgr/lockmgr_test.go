package lockmgr

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestExclusiveLock(t *testing.T) {
	lm := NewLockManager(4)

	var counter, maxSeen atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := lm.Lock(2)
			defer unlock()
			n := counter.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			counter.Add(-1)
		}()
	}
	wg.Wait()
	if maxSeen.Load() != 1 {
		t.Errorf("%d goroutines held the exclusive lock at once", maxSeen.Load())
	}
}

func TestSharedLockDoesNotBlockReaders(t *testing.T) {
	lm := NewLockManager(2)
	unlock := lm.RLock(0)
	defer unlock()

	done := make(chan struct{})
	go func() {
		lm.RLock(0)()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second reader blocked")
	}
}

func TestDatabasesAreIndependent(t *testing.T) {
	lm := NewLockManager(2)
	unlock := lm.Lock(0)
	defer unlock()

	done := make(chan struct{})
	go func() {
		lm.Lock(1)()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock of db 1 blocked by db 0")
	}
}

func TestLockManyOrdering(t *testing.T) {
	lm := NewLockManager(3)

	// opposite argument orders must not deadlock
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); lm.LockMany(0, 2)() }()
		go func() { defer wg.Done(); lm.LockMany(2, 0, 2)() }()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("LockMany deadlocked")
	}

	lm.LockAll()()
	lm.RLockAll()()
	if lm.NumDatabases() != 3 {
		t.Errorf("NumDatabases() = %d, want 3", lm.NumDatabases())
	}
}

func TestInvalidIndexPanics(t *testing.T) {
	lm := NewLockManager(1)
	defer func() {
		if recover() == nil {
			t.Error("expected panic for invalid index")
		}
	}()
	lm.Lock(5)
}
