package maple

import (
	"fmt"
	"io"
	"sync"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/db/codec"
	"github.com/ValentinKolb/rKV/lib/db/engines/maple/internal"
	"github.com/ValentinKolb/rKV/lib/db/util"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	DefaultDatabases = 16   // Default number of logical databases
	defaultScanCount = 10   // Keys examined per SCAN call if no count is given
	samplesPerDB     = 1000 // Values sampled per database for the size estimate
)

// --------------------------------------------------------------------------
// Core Maple database structure
// --------------------------------------------------------------------------

// mapleImpl is the in-memory engine. Every logical database is a keyspace
// with its own lock, swapMu guards the mapping of indexes to keyspaces.
//
// Lock order: swapMu before a keyspace lock. Only Save holds more than one
// keyspace lock, always in ascending index order.
type mapleImpl struct {
	swapMu         sync.RWMutex
	dbs            []*internal.Keyspace
	cursorCapacity int
}

// DBOptions configures the mapleImpl behavior during initialization
type DBOptions struct {
	Databases      int // Number of logical databases (0 = DefaultDatabases)
	CursorCapacity int // Concurrent SCAN cursors per database (0 = util.DefaultCursorCapacity)
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		Databases:      DefaultDatabases,
		CursorCapacity: util.DefaultCursorCapacity,
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMapleDB creates a new in-memory engine with the specified options (optional)
func NewMapleDB(opts *DBOptions) db.KVDB {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Databases <= 0 {
		opts.Databases = DefaultDatabases
	}

	maple := &mapleImpl{cursorCapacity: opts.CursorCapacity}
	maple.dbs = maple.newKeyspaces(opts.Databases)
	return maple
}

func (maple *mapleImpl) newKeyspaces(n int) []*internal.Keyspace {
	dbs := make([]*internal.Keyspace, n)
	for i := range dbs {
		dbs[i] = internal.NewKeyspace(maple.cursorCapacity)
	}
	return dbs
}

// read runs fn while holding the read lock of database dbIdx
func (maple *mapleImpl) read(dbIdx int, fn func(ks *internal.Keyspace) error) error {
	maple.swapMu.RLock()
	defer maple.swapMu.RUnlock()

	if err := db.CheckDB(dbIdx, len(maple.dbs)); err != nil {
		return err
	}
	ks := maple.dbs[dbIdx]
	ks.Mu.RLock()
	defer ks.Mu.RUnlock()
	return fn(ks)
}

// write runs fn while holding the write lock of database dbIdx
func (maple *mapleImpl) write(dbIdx int, fn func(ks *internal.Keyspace) error) error {
	maple.swapMu.RLock()
	defer maple.swapMu.RUnlock()

	if err := db.CheckDB(dbIdx, len(maple.dbs)); err != nil {
		return err
	}
	ks := maple.dbs[dbIdx]
	ks.Mu.Lock()
	defer ks.Mu.Unlock()
	return fn(ks)
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Set inserts or replaces the entry for key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Set(dbIdx int, key string, value *db.StoredValue, _ int64) error {
	if value == nil || value.Value == nil {
		return fmt.Errorf("cannot store an empty value under %q", key)
	}
	return maple.write(dbIdx, func(ks *internal.Keyspace) error {
		ks.Put(key, value)
		return nil
	})
}

// Delete removes key. Returns true if the key was live.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Delete(dbIdx int, key string, now int64) (removed bool, err error) {
	err = maple.write(dbIdx, func(ks *internal.Keyspace) error {
		sv, ok := ks.Raw(key)
		if !ok {
			return nil
		}
		removed = !sv.Expired(now)
		ks.Remove(key)
		return nil
	})
	return removed, err
}

// Flush removes every key of one database
func (maple *mapleImpl) Flush(dbIdx int) error {
	return maple.write(dbIdx, func(ks *internal.Keyspace) error {
		ks.Clear()
		return nil
	})
}

// FlushAll removes every key of every database
func (maple *mapleImpl) FlushAll() error {
	maple.swapMu.Lock()
	defer maple.swapMu.Unlock()

	for _, ks := range maple.dbs {
		ks.Mu.Lock()
		ks.Clear()
		ks.Mu.Unlock()
	}
	return nil
}

// Swap exchanges the keyspaces of two databases. Both databases keep their
// SCAN cursors, so running iterations follow the data.
func (maple *mapleImpl) Swap(a, b int) error {
	maple.swapMu.Lock()
	defer maple.swapMu.Unlock()

	if err := db.CheckDB(a, len(maple.dbs)); err != nil {
		return err
	}
	if err := db.CheckDB(b, len(maple.dbs)); err != nil {
		return err
	}
	maple.dbs[a], maple.dbs[b] = maple.dbs[b], maple.dbs[a]
	return nil
}

// SetExpiration sets the absolute expiration of a live key
func (maple *mapleImpl) SetExpiration(dbIdx int, key string, at int64, now int64) (ok bool, err error) {
	err = maple.write(dbIdx, func(ks *internal.Keyspace) error {
		sv, live := ks.Lookup(key, now)
		if !live {
			return nil
		}
		// stored instances may be shared with readers, replace instead of modify
		ks.Put(key, &db.StoredValue{Value: sv.Value, ExpireAt: at})
		ok = true
		return nil
	})
	return ok, err
}

// RemoveExpiration makes a live key persistent
func (maple *mapleImpl) RemoveExpiration(dbIdx int, key string, now int64) (ok bool, err error) {
	err = maple.write(dbIdx, func(ks *internal.Keyspace) error {
		sv, live := ks.Lookup(key, now)
		if !live || sv.ExpireAt == 0 {
			return nil
		}
		ks.Put(key, &db.StoredValue{Value: sv.Value})
		ok = true
		return nil
	})
	return ok, err
}

// WriteBatch applies all operations under one write lock, so readers observe
// either none or all of them.
func (maple *mapleImpl) WriteBatch(dbIdx int, ops []db.BatchOp, _ int64) error {
	for _, op := range ops {
		if op.Value != nil && op.Value.Value == nil {
			return fmt.Errorf("cannot store an empty value under %q", op.Key)
		}
	}
	return maple.write(dbIdx, func(ks *internal.Keyspace) error {
		for _, op := range ops {
			if op.Value == nil {
				ks.Remove(op.Key)
			} else {
				ks.Put(op.Key, op.Value)
			}
		}
		return nil
	})
}

// ExpireCycle removes up to limit keys that are expired at now
func (maple *mapleImpl) ExpireCycle(dbIdx int, limit int, now int64) (removed int, err error) {
	err = maple.write(dbIdx, func(ks *internal.Keyspace) error {
		removed = ks.Collect(limit, now)
		return nil
	})
	return removed, err
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Read Operations
// --------------------------------------------------------------------------

// Get returns the live value of key. The returned value is the stored
// instance, see db.KVDB.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Get(dbIdx int, key string, now int64) (value *db.StoredValue, err error) {
	err = maple.read(dbIdx, func(ks *internal.Keyspace) error {
		value, _ = ks.Lookup(key, now)
		return nil
	})
	return value, err
}

// Exists reports whether key is live
func (maple *mapleImpl) Exists(dbIdx int, key string, now int64) (ok bool, err error) {
	err = maple.read(dbIdx, func(ks *internal.Keyspace) error {
		_, ok = ks.Lookup(key, now)
		return nil
	})
	return ok, err
}

// Keys returns all live keys matching pattern in ascending order
func (maple *mapleImpl) Keys(dbIdx int, pattern string, now int64) (keys []string, err error) {
	err = maple.read(dbIdx, func(ks *internal.Keyspace) error {
		keys = make([]string, 0)
		ks.Ascend("", true, func(key string, sv *db.StoredValue) bool {
			if !sv.Expired(now) && util.Match(pattern, key) {
				keys = append(keys, key)
			}
			return true
		})
		return nil
	})
	return keys, err
}

// Scan examines up to count keys in key order, starting after the position
// stored for cursor. Keys are never reordered, so every key present for the
// whole iteration is returned exactly once.
func (maple *mapleImpl) Scan(dbIdx int, cursor uint64, pattern string, count int, now int64) (next uint64, keys []string, err error) {
	if count <= 0 {
		count = defaultScanCount
	}
	err = maple.read(dbIdx, func(ks *internal.Keyspace) error {
		var after string
		if cursor != 0 {
			var ok bool
			if after, ok = ks.Cursors.Load(cursor); !ok {
				return db.ErrInvalidCursor
			}
		}

		keys = make([]string, 0)
		examined := 0
		more := false
		last := after
		ks.Ascend(after, cursor == 0, func(key string, sv *db.StoredValue) bool {
			if examined == count {
				more = true
				return false
			}
			examined++
			last = key
			if !sv.Expired(now) && util.Match(pattern, key) {
				keys = append(keys, key)
			}
			return true
		})

		if more {
			next = ks.Cursors.Store(last)
		}
		return nil
	})
	return next, keys, err
}

// GetExpiration returns the absolute expiration of a live key (0 = persistent)
func (maple *mapleImpl) GetExpiration(dbIdx int, key string, now int64) (at int64, ok bool, err error) {
	err = maple.read(dbIdx, func(ks *internal.Keyspace) error {
		var sv *db.StoredValue
		if sv, ok = ks.Lookup(key, now); ok {
			at = sv.ExpireAt
		}
		return nil
	})
	return at, ok, err
}

// Size returns the number of stored keys, including expired keys not collected yet
func (maple *mapleImpl) Size(dbIdx int) (n int, err error) {
	err = maple.read(dbIdx, func(ks *internal.Keyspace) error {
		n = ks.Len()
		return nil
	})
	return n, err
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save writes a snapshot of all databases. All keyspaces are read locked for
// the duration, so the snapshot is a consistent cut.
func (maple *mapleImpl) Save(w io.Writer) error {
	maple.swapMu.RLock()
	defer maple.swapMu.RUnlock()

	for _, ks := range maple.dbs {
		ks.Mu.RLock()
		defer ks.Mu.RUnlock()
	}

	sw, err := codec.NewSnapshotWriter(w, len(maple.dbs))
	if err != nil {
		return err
	}
	for i, ks := range maple.dbs {
		var werr error
		ks.Ascend("", true, func(key string, sv *db.StoredValue) bool {
			werr = sw.Write(i, key, sv)
			return werr == nil
		})
		if werr != nil {
			return fmt.Errorf("failed to save database %d: %w", i, werr)
		}
	}
	return sw.Close()
}

// Load replaces the contents of all databases with a snapshot. The current
// data is kept if the snapshot can not be read completely.
func (maple *mapleImpl) Load(r io.Reader) error {
	maple.swapMu.Lock()
	defer maple.swapMu.Unlock()

	dbs := maple.newKeyspaces(len(maple.dbs))
	numDBs, err := codec.ReadSnapshot(r, func(dbIdx int, key string, sv *db.StoredValue) error {
		if err := db.CheckDB(dbIdx, len(dbs)); err != nil {
			return fmt.Errorf("snapshot entry %q: %w", key, err)
		}
		dbs[dbIdx].Put(key, sv)
		return nil
	})
	if err != nil {
		return err
	}
	if numDBs > len(dbs) {
		return fmt.Errorf("snapshot holds %d databases, but only %d are configured", numDBs, len(dbs))
	}

	for _, ks := range maple.dbs {
		ks.Close()
	}
	maple.dbs = dbs
	return nil
}

// --------------------------------------------------------------------------
// Database Information
// --------------------------------------------------------------------------

// GetInfo returns statistics about the engine. The size is estimated from a
// sample of values per database.
func (maple *mapleImpl) GetInfo() db.DatabaseInfo {
	maple.swapMu.RLock()
	defer maple.swapMu.RUnlock()

	histogram := util.NewSizeHistogram()
	keys := make([]int, len(maple.dbs))
	expires := make([]int, len(maple.dbs))
	keysPerDB := make([]float64, len(maple.dbs))
	cursors := 0
	sizeBytes := 0

	for i, ks := range maple.dbs {
		ks.Mu.RLock()
		keys[i] = ks.Len()
		expires[i] = ks.Volatile()
		keysPerDB[i] = float64(ks.Len())
		cursors += ks.Cursors.Len()

		sampled := util.NewSizeHistogram()
		ks.Sample(samplesPerDB, func(sv *db.StoredValue) {
			sampled.AddSample(sv.SizeBytes())
			histogram.AddSample(sv.SizeBytes())
		})
		ks.Mu.RUnlock()

		// entry overhead: map slot, index item and the StoredValue header
		entryOverhead := 64
		sizeBytes += keys[i] * (sampled.AverageSize() + entryOverhead)
	}

	meta := &struct {
		Databases   int        `json:"databases"`
		KeysPerDB   util.Stats `json:"keys_per_db"`
		MedianValue int        `json:"median_value_bytes"`
		P99Value    int        `json:"p99_value_bytes"`
		OpenCursors int        `json:"open_cursors"`
		Info        string     `json:"info"`
	}{
		Databases:   len(maple.dbs),
		KeysPerDB:   util.NewStats(keysPerDB),
		MedianValue: histogram.PercentileEstimate(50),
		P99Value:    histogram.PercentileEstimate(99),
		OpenCursors: cursors,
		Info:        "SizeBytes and value sizes are estimates based on samples.",
	}

	return db.DatabaseInfo{
		SizeBytes:         sizeBytes,
		DbType:            db.ImplMaple,
		SupportedFeatures: db.AllFeatures,
		Keys:              keys,
		Expires:           expires,
		Metadata:          meta,
	}
}

// SupportsFeature checks if this implementation supports a specific KVDB feature
func (maple *mapleImpl) SupportsFeature(feature db.Feature) bool {
	var supported db.Feature
	for _, f := range db.AllFeatures {
		supported |= f
	}
	return supported&feature == feature
}

// NumDatabases returns the number of logical databases
func (maple *mapleImpl) NumDatabases() int {
	maple.swapMu.RLock()
	defer maple.swapMu.RUnlock()
	return len(maple.dbs)
}

// Close releases the hint queues
func (maple *mapleImpl) Close() error {
	maple.swapMu.Lock()
	defer maple.swapMu.Unlock()
	for _, ks := range maple.dbs {
		ks.Close()
	}
	return nil
}
