// Package store provides the storage abstraction the command layer works on.
// It sits on top of the lower-level db.KVDB engines and adds the clock,
// feature checks and unified error reporting.
//
// The package focuses on:
//   - A unified interface (IStore) for keyspace operations across different backends
//   - Pluggable storage backend architecture through the DBFactory pattern
//
// Key Components:
//
//   - IStore Interface: The operations on the N databases of the keyspace: reads
//     (Get, Exists, Keys, Scan, Size, GetExpiration), writes (Set, Delete,
//     SetExpiration, RemoveExpiration, Flush, FlushAll, Swap) and the atomic
//     WriteBatch that commits script transactions. ExpireCycle drives active
//     expiration and Save persists a snapshot.
//
//   - Error System: A structured error reporting mechanism using typed error codes
//     and descriptive messages. Engine errors are wrapped into RetCInternalError.
//
//   - DBFactory: A function type that abstracts the creation of underlying db.KVDB
//     instances.
//
// Implementations:
//
//	- Local Store (lstore): uses a db.KVDB instance directly and evaluates
//	  expiration against the wall clock. Available in the
//	  "github.com/ValentinKolb/rKV/lib/store/lstore" package.
//
//	- Distributed Store (dstore): replicates every write through the Dragonboat
//	  RAFT library. Each log entry carries the proposer's clock, so all replicas
//	  expire keys identically. Available in the
//	  "github.com/ValentinKolb/rKV/lib/store/dstore" package.
package store
