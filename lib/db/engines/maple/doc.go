// Package maple implements the in-memory storage engine of rKV. It provides a
// complete implementation of the db.KVDB interface.
//
// The package focuses on:
//   - Multiple independent databases, each guarded by its own lock
//   - Lazy and active expiration driven by a caller supplied clock
//   - Stable SCAN iteration over an ordered key index
//   - Consistent snapshots in the shared codec snapshot format
//
// Key Components:
//
//   - mapleImpl: Implements db.KVDB. It maps database indexes to keyspaces;
//     SWAPDB exchanges two keyspaces under an exclusive lock, so running
//     operations never observe a half swapped state.
//
//   - Keyspace: One logical database. It holds the values in a map, all keys
//     in a B-tree (google/btree) for ordered iteration, the expiring keys in a
//     util.MapHeap ordered by expiration, and a registry of SCAN cursors.
//
// Internal Mechanisms:
//
//   - Time: The engine never reads the wall clock. Every operation receives
//     now as a parameter, which keeps replicas that apply the same log with
//     the same timestamps identical.
//
//   - Lazy Expiration: A read that finds an expired value reports it as
//     absent. Readers only hold a shared lock, so instead of removing the
//     value they push the key onto a lock-free queue (util.LockFreeMPSC).
//
//   - Active Expiration: ExpireCycle first drains the queued keys, then pops
//     the expiry heap until it reaches a key that is not expired yet or the
//     limit is hit. Every candidate is re-checked against now before removal,
//     since a key may have been rewritten in the meantime.
//
//   - SCAN: Keys are iterated in byte order. A cursor maps to the last key
//     returned, so keys present for the whole iteration are returned exactly
//     once, even if other keys are added or removed. Cursors live in a
//     bounded LRU (util.CursorRegistry); an evicted cursor is rejected with
//     db.ErrInvalidCursor.
//
//   - Stored Instances: Get returns the stored value itself. Callers that
//     modify it write it back with Set while holding exclusive access to the
//     database; the command layer guarantees this with its database locks.
//
//   - Persistence Format: Save read-locks all keyspaces and writes the codec
//     snapshot format, so the result is a consistent cut that the pebble
//     engine can load as well. Load builds new keyspaces and only replaces
//     the current ones after the whole snapshot was read.
package maple
