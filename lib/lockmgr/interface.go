package lockmgr

// ILockManager hands out the locks of the keyspace. Every database is an
// independently lockable unit.
//
// Locks of several databases must be taken with LockMany, which acquires them
// in ascending index order, so concurrent multi-database commands can not
// deadlock.
type ILockManager interface {
	// Lock acquires the exclusive lock of a database and returns the release function.
	Lock(dbIdx int) (unlock func())

	// RLock acquires the shared lock of a database and returns the release function.
	RLock(dbIdx int) (unlock func())

	// LockMany acquires the exclusive locks of all given databases. Duplicates are ignored.
	LockMany(dbIdx ...int) (unlock func())

	// LockAll acquires the exclusive locks of every database.
	LockAll() (unlock func())

	// RLockAll acquires the shared locks of every database.
	RLockAll() (unlock func())

	// NumDatabases returns the number of managed databases.
	NumDatabases() int
}
