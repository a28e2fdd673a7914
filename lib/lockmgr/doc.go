// Package lockmgr implements the database locks of the keyspace.
//
// Every command holds the lock of the database it works on for its whole
// read-modify-write cycle: shared for read-only commands, exclusive for writes
// and scripts. Commands spanning several databases (MOVE, COPY with DB,
// SWAPDB, FLUSHALL) take all involved locks through LockMany or LockAll,
// always in ascending index order.
//
// Lock order across packages: lockmgr locks first, engine internal locks
// second. Engines never call back into the lock manager.
//
// Usage Example:
//
//	locks := lockmgr.NewLockManager(16)
//
//	unlock := locks.Lock(0)
//	defer unlock()
//	// read, modify and write keys of database 0
package lockmgr
