package expire

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	log            = logger.GetLogger("expire")
	expiredCounter = metrics.GetOrCreateCounter("rkv_expired_keys_total")
)

const (
	DefaultInterval = 100 * time.Millisecond
	DefaultBudget   = 200
)

// Cycler is the part of the store the sweeper drives.
type Cycler interface {
	ExpireCycle(dbIdx int, limit int) (removed int, err error)
	NumDatabases() int
}

// Sweeper periodically removes expired keys from every database. A cycle
// removes at most budget keys per database and pass. If a pass used at least a
// quarter of its budget, more expired keys are likely, so the database is
// swept again as long as the cycle stays within a quarter of the interval.
type Sweeper struct {
	c        Cycler
	interval time.Duration
	budget   int
	expired  atomic.Uint64
}

// NewSweeper creates a sweeper. Non positive arguments select the defaults.
func NewSweeper(c Cycler, interval time.Duration, budget int) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Sweeper{c: c, interval: interval, budget: budget}
}

// Expired returns the number of keys removed by the sweeper so far.
func (s *Sweeper) Expired() uint64 {
	return s.expired.Load()
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Debugf("Active expiration started (interval=%s, budget=%d)", s.interval, s.budget)
	for {
		select {
		case <-ctx.Done():
			log.Debugf("Active expiration stopped")
			return
		case <-ticker.C:
			s.RunOnce()
		}
	}
}

// RunOnce performs one cycle over all databases and returns the number of
// removed keys.
func (s *Sweeper) RunOnce() int {
	start := time.Now()
	deadline := start.Add(s.interval / 4)
	total := 0

	for idx := 0; idx < s.c.NumDatabases(); idx++ {
		for {
			removed, err := s.c.ExpireCycle(idx, s.budget)
			if err != nil {
				log.Warningf("Expire cycle of db %d failed: %v", idx, err)
				break
			}
			total += removed
			if removed*4 < s.budget || time.Now().After(deadline) {
				break
			}
		}
	}

	if total > 0 {
		s.expired.Add(uint64(total))
		expiredCounter.Add(total)
		if elapsed := time.Since(start); elapsed > s.interval/4 {
			log.Infof("Expire cycle took long. Removed %d keys, took %.2fms", total, float64(elapsed)/float64(time.Millisecond))
		}
	}
	return total
}
