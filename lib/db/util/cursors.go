package util

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultCursorCapacity is the number of concurrent SCAN iterations a
// registry remembers before evicting the least recently used one.
const DefaultCursorCapacity = 4096

// CursorRegistry maps opaque SCAN cursors to the last key returned by an
// iteration. Cursors are never 0, because 0 starts and ends an iteration.
// The registry is bounded; an evicted cursor is reported as unknown.
//
// Thread-safe: all methods are safe for concurrent use
type CursorRegistry struct {
	cache *lru.Cache
	next  atomic.Uint64
}

// NewCursorRegistry creates a registry holding up to capacity cursors
// (DefaultCursorCapacity if capacity <= 0).
func NewCursorRegistry(capacity int) *CursorRegistry {
	if capacity <= 0 {
		capacity = DefaultCursorCapacity
	}
	cache, err := lru.New(capacity)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	r := &CursorRegistry{cache: cache}
	// random start, so cursors of different registries rarely collide;
	// the value stays below 2^48 to survive clients parsing it as a float
	r.next.Store(GenerateSeed() & (1<<47 - 1))
	return r
}

// Store remembers lastKey and returns a new cursor for it.
func (r *CursorRegistry) Store(lastKey string) uint64 {
	id := r.next.Add(1)
	if id == 0 {
		id = r.next.Add(1)
	}
	r.cache.Add(id, lastKey)
	return id
}

// Load returns the key stored for cursor. A cursor stays valid until it is
// evicted, so a client may repeat a SCAN call.
func (r *CursorRegistry) Load(cursor uint64) (string, bool) {
	v, ok := r.cache.Get(cursor)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Len returns the number of live cursors.
func (r *CursorRegistry) Len() int {
	return r.cache.Len()
}

// Purge forgets all cursors.
func (r *CursorRegistry) Purge() {
	r.cache.Purge()
}
