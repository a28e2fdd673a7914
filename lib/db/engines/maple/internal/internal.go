package internal

import (
	"sync"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/db/util"
	"github.com/google/btree"
)

// maxHints bounds the queue of lazily expired keys. Keys beyond the bound are
// still collected through the expiry heap.
const maxHints = 1 << 16

// --------------------------------------------------------------------------
// Key index
// --------------------------------------------------------------------------

// keyItem orders keys bytewise in the key index
type keyItem string

func (k keyItem) Less(than btree.Item) bool {
	return k < than.(keyItem)
}

// --------------------------------------------------------------------------
// Keyspace Type (one logical database)
// --------------------------------------------------------------------------

// Keyspace holds the data of one logical database.
//
// Thread-safety: Mu guards every field except Cursors and the hint queue.
// Read methods require Mu.RLock, write methods require Mu.Lock.
type Keyspace struct {
	Mu      sync.RWMutex
	Cursors *util.CursorRegistry

	data    map[string]*db.StoredValue
	index   *btree.BTree // ordered keys for SCAN
	expires *util.MapHeap
	hints   *util.LockFreeMPSC[string] // keys readers found expired
}

// NewKeyspace creates an empty keyspace
func NewKeyspace(cursorCapacity int) *Keyspace {
	return &Keyspace{
		Cursors: util.NewCursorRegistry(cursorCapacity),
		data:    make(map[string]*db.StoredValue),
		index:   btree.New(32),
		expires: util.NewMapHeap(),
		hints:   util.NewLockFreeMPSC[string](),
	}
}

// Lookup returns the live value of key. An expired value is reported as
// absent and queued for removal by the next Collect.
func (ks *Keyspace) Lookup(key string, now int64) (*db.StoredValue, bool) {
	sv, ok := ks.data[key]
	if !ok {
		return nil, false
	}
	if sv.Expired(now) {
		if ks.hints.Len() < maxHints {
			ks.hints.Push(&key)
		}
		return nil, false
	}
	return sv, true
}

// Raw returns the stored value of key, expired or not.
func (ks *Keyspace) Raw(key string) (*db.StoredValue, bool) {
	sv, ok := ks.data[key]
	return sv, ok
}

// Put stores sv under key and updates the key index and expiry queue.
func (ks *Keyspace) Put(key string, sv *db.StoredValue) {
	if _, exists := ks.data[key]; !exists {
		ks.index.ReplaceOrInsert(keyItem(key))
	}
	ks.data[key] = sv

	if sv.ExpireAt > 0 {
		ks.expires.AddItem(key, sv.ExpireAt)
	} else {
		ks.expires.RemoveByKey(key)
	}
}

// Remove physically deletes key. Returns false if the key was not stored.
func (ks *Keyspace) Remove(key string) bool {
	if _, exists := ks.data[key]; !exists {
		return false
	}
	delete(ks.data, key)
	ks.index.Delete(keyItem(key))
	ks.expires.RemoveByKey(key)
	return true
}

// Len returns the number of stored keys, including expired ones
func (ks *Keyspace) Len() int { return len(ks.data) }

// Volatile returns the number of keys with an expiration
func (ks *Keyspace) Volatile() int { return ks.expires.Len() }

// Clear removes every key and forgets all cursors
func (ks *Keyspace) Clear() {
	ks.data = make(map[string]*db.StoredValue)
	ks.index = btree.New(32)
	ks.expires.Clear()
	ks.hints.Drain(0, func(*string) {})
	ks.Cursors.Purge()
}

// Ascend calls fn for stored keys in ascending order, starting at the first
// key greater than after (or the first key at all if fromStart is set),
// until fn returns false. Expired keys are included.
func (ks *Keyspace) Ascend(after string, fromStart bool, fn func(key string, sv *db.StoredValue) bool) {
	iter := func(it btree.Item) bool {
		key := string(it.(keyItem))
		if !fromStart && key == after {
			return true
		}
		return fn(key, ks.data[key])
	}
	if fromStart {
		ks.index.Ascend(iter)
		return
	}
	ks.index.AscendGreaterOrEqual(keyItem(after), iter)
}

// Collect removes up to limit keys that are expired at now. Keys queued by
// Lookup are checked first, then the expiry queue is consumed in order of
// expiration.
func (ks *Keyspace) Collect(limit int, now int64) int {
	removed := 0

	ks.hints.Drain(limit, func(key *string) {
		if sv, ok := ks.data[*key]; ok && sv.Expired(now) {
			ks.Remove(*key)
			removed++
		}
	})

	for removed < limit {
		it, ok := ks.expires.Peek()
		if !ok || it.Priority > now {
			break
		}
		key := it.Key
		ks.expires.RemoveByKey(key)

		// the entry may have been rewritten without expiration in the meantime
		if sv, ok := ks.data[key]; ok && sv.Expired(now) {
			ks.Remove(key)
			removed++
		}
	}
	return removed
}

// Sample calls fn for up to n stored values
func (ks *Keyspace) Sample(n int, fn func(sv *db.StoredValue)) {
	for _, sv := range ks.data {
		if n <= 0 {
			return
		}
		fn(sv)
		n--
	}
}

// Close stops accepting hints
func (ks *Keyspace) Close() {
	ks.hints.Close()
}
