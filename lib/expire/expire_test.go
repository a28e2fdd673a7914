package expire

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestAt(t *testing.T) {
	tests := []struct {
		name string
		ttl  int64
		unit time.Duration
		want int64
	}{
		{"seconds", 10, time.Second, 1010_000},
		{"milliseconds", 10, time.Millisecond, 1000_010},
		{"zero expires now", 0, time.Second, 1000_000},
		{"negative expires now", -5, time.Second, 1000_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := At(1000_000, tt.ttl, tt.unit); got != tt.want {
				t.Errorf("At() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRemaining(t *testing.T) {
	if got := Remaining(0, 100, time.Second); got != -1 {
		t.Errorf("no expiration: got %d, want -1", got)
	}
	if got := Remaining(10_400, 0, time.Second); got != 10 {
		t.Errorf("rounding down: got %d, want 10", got)
	}
	if got := Remaining(10_600, 0, time.Second); got != 11 {
		t.Errorf("rounding up: got %d, want 11", got)
	}
	if got := Remaining(1234, 34, time.Millisecond); got != 1200 {
		t.Errorf("milliseconds: got %d, want 1200", got)
	}
	if got := Remaining(10, 20, time.Millisecond); got != 0 {
		t.Errorf("past deadline: got %d, want 0", got)
	}
	if got := Absolute(5_000, time.Second); got != 5 {
		t.Errorf("Absolute() = %d, want 5", got)
	}
}

// fakeCycler pretends every database holds a fixed number of expired keys.
type fakeCycler struct {
	mu      sync.Mutex
	pending []int
	failDB  int
}

func (f *fakeCycler) NumDatabases() int { return len(f.pending) }

func (f *fakeCycler) ExpireCycle(dbIdx int, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if dbIdx == f.failDB {
		return 0, errors.New("boom")
	}
	n := min(limit, f.pending[dbIdx])
	f.pending[dbIdx] -= n
	return n, nil
}

func TestSweeperRunOnce(t *testing.T) {
	c := &fakeCycler{pending: []int{5, 0, 1000, 3}, failDB: 3}
	s := NewSweeper(c, time.Second, 100)

	removed := s.RunOnce()
	// db 2 is swept repeatedly while passes stay busy
	if removed != 5+1000 {
		t.Errorf("RunOnce() = %d, want %d", removed, 1005)
	}
	if c.pending[2] != 0 {
		t.Errorf("db 2 still has %d pending keys", c.pending[2])
	}
	if s.Expired() != uint64(removed) {
		t.Errorf("Expired() = %d, want %d", s.Expired(), removed)
	}
}

func TestSweeperDefaults(t *testing.T) {
	s := NewSweeper(&fakeCycler{failDB: -1}, 0, 0)
	if s.interval != DefaultInterval || s.budget != DefaultBudget {
		t.Errorf("unexpected defaults: %s %d", s.interval, s.budget)
	}
	if s.RunOnce() != 0 {
		t.Error("expected nothing to expire without databases")
	}
}
