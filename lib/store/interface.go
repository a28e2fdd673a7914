package store

import (
	"fmt"

	"github.com/ValentinKolb/rKV/lib/db"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory is a function type that creates a new db used by the store.
// This is used to abstract the creation of the db from the store implementation.
type DBFactory func() (db.KVDB, error)

// IStore is the generic interface for interacting with the keyspace.
// The store owns the clock: unlike db.KVDB no operation takes the current time,
// implementations decide which time a write is evaluated at.
//
// Values returned by Get may be shared with the store (see db.KVDB). Callers
// that modify a value must hold the database lock (lib/lockmgr) exclusively and
// write the value back with Set.
type IStore interface {
	// Get returns the live value for key or nil if the key is absent or expired.
	Get(dbIdx int, key string) (value *db.StoredValue, err error)
	// Set inserts or replaces key, including its type and expiration.
	Set(dbIdx int, key string, value *db.StoredValue) (err error)
	// Delete removes key. removed is true iff a live key was removed.
	Delete(dbIdx int, key string) (removed bool, err error)
	// Exists reports whether a live key exists.
	Exists(dbIdx int, key string) (ok bool, err error)
	// Keys returns every live key matching the glob pattern.
	Keys(dbIdx int, pattern string) (keys []string, err error)
	// Scan returns the next batch of an iteration. Cursor 0 starts and ends it.
	Scan(dbIdx int, cursor uint64, pattern string, count int) (next uint64, keys []string, err error)
	// Flush removes every key of one database.
	Flush(dbIdx int) (err error)
	// FlushAll removes every key of all databases.
	FlushAll() (err error)
	// Size returns the number of stored keys of one database.
	Size(dbIdx int) (n int, err error)
	// Swap exchanges the contents of two databases.
	Swap(a, b int) (err error)
	// SetExpiration sets the absolute expiration (unix ms) of a live key.
	SetExpiration(dbIdx int, key string, at int64) (ok bool, err error)
	// GetExpiration returns the absolute expiration of a live key (0 = none).
	GetExpiration(dbIdx int, key string) (at int64, ok bool, err error)
	// RemoveExpiration makes a live key persistent.
	RemoveExpiration(dbIdx int, key string) (ok bool, err error)
	// WriteBatch applies all operations atomically.
	WriteBatch(dbIdx int, ops []db.BatchOp) (err error)

	// ExpireCycle removes up to limit expired keys of one database.
	ExpireCycle(dbIdx int, limit int) (removed int, err error)
	// NumDatabases returns the number of databases.
	NumDatabases() int
	// GetDBInfo returns metadata about the database underlying the store.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	GetDBInfo() (info db.DatabaseInfo, err error)
	// Save persists a point in time snapshot of all databases.
	Save() (err error)
	// Close releases all resources.
	Close() (err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	errorCode := ""
	switch e.Code {
	case RetCInternalError:
		errorCode = "InternalError"
	case RetCUnsupportedOperation:
		errorCode = "UnsupportedOperation"
	case RetCInvalidOperation:
		errorCode = "InvalidOperation"
	default:
		errorCode = "Unknown"
	}

	return fmt.Sprintf("KVStoreError (code %s): %s", errorCode, e.Msg)
}

// Is reports whether target is a store error with the same code and message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code && t.Msg == e.Msg
}

// ErrInvalidCursor is returned by Scan for unknown or evicted cursors.
var ErrInvalidCursor = NewError(RetCInvalidOperation, "invalid cursor")

// NewError creates a new KVStoreError with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Wrap converts an engine error into a store error. Store errors are returned unchanged.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*Error); ok {
		return err
	}
	return NewError(RetCInternalError, err.Error())
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying database.
	RetCInvalidOperation                    // 3: Invalid operation.
)
