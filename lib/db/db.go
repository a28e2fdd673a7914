package db

import (
	"errors"
	"fmt"
	"io"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMaple  Implementation = "maple"
	ImplPebble Implementation = "pebble"
)

// Feature represents database features as bit flags
type Feature uint64

const (
	FeatureGet         Feature = 1 << iota // Support for Get and Exists operations
	FeatureSet                             // Support for Set operations
	FeatureDelete                          // Support for Delete operations
	FeatureKeys                            // Support for Keys and Scan operations
	FeatureFlush                           // Support for Flush and FlushAll operations
	FeatureSwap                            // Support for Swap operations
	FeatureExpire                          // Support for Set/Get/RemoveExpiration operations
	FeatureWriteBatch                      // Support for atomic WriteBatch operations
	FeatureExpireCycle                     // Support for active expiration
	FeatureSave                            // Support for Save operations
	FeatureLoad                            // Support for Load operations
)

// AllFeatures lists every feature flag, mainly for reporting.
var AllFeatures = []Feature{
	FeatureGet, FeatureSet, FeatureDelete, FeatureKeys, FeatureFlush, FeatureSwap,
	FeatureExpire, FeatureWriteBatch, FeatureExpireCycle, FeatureSave, FeatureLoad,
}

func (f Feature) String() string {
	switch f {
	case FeatureGet:
		return "Get"
	case FeatureSet:
		return "Set"
	case FeatureDelete:
		return "Delete"
	case FeatureKeys:
		return "Keys"
	case FeatureFlush:
		return "Flush"
	case FeatureSwap:
		return "Swap"
	case FeatureExpire:
		return "Expire"
	case FeatureWriteBatch:
		return "WriteBatch"
	case FeatureExpireCycle:
		return "ExpireCycle"
	case FeatureSave:
		return "Save"
	case FeatureLoad:
		return "Load"
	default:
		return "Unknown"
	}
}

type DatabaseInfo struct {
	SizeBytes         int            `json:"size_bytes"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Keys              []int          `json:"keys"`    // stored keys per database
	Expires           []int          `json:"expires"` // keys with an expiration per database
	Metadata          interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrInvalidDB is returned for a database index outside [0, NumDatabases).
	ErrInvalidDB = errors.New("DB index is out of range")
	// ErrInvalidCursor is returned by Scan for unknown or evicted cursors.
	ErrInvalidCursor = errors.New("invalid cursor")
)

// CheckDB validates a database index.
func CheckDB(idx, n int) error {
	if idx < 0 || idx >= n {
		return fmt.Errorf("%w: %d", ErrInvalidDB, idx)
	}
	return nil
}

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// KVDB defines the interface for storage engines. An engine holds a fixed
// number of independent databases, each mapping keys to StoredValues.
//
// Every operation that depends on time receives now, the current time in unix
// milliseconds, as a parameter. Engines never read the wall clock themselves,
// so replicas applying the same sequence of operations with the same now values
// end up in the same logical state.
//
// Values returned by Get may be the instance held by the engine. Callers that
// modify a returned value must write it back with Set and must hold exclusive
// access to the database while doing so.
type KVDB interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Set inserts or replaces the entry for key, including its expiration.
	Set(db int, key string, value *StoredValue, now int64) (err error)

	// Delete removes key. Returns true iff a live (non expired) key was removed.
	Delete(db int, key string, now int64) (removed bool, err error)

	// Flush removes every key of one database.
	Flush(db int) (err error)

	// FlushAll removes every key of every database.
	FlushAll() (err error)

	// Swap exchanges the contents of two databases.
	Swap(a, b int) (err error)

	// SetExpiration sets the absolute expiration (ms) of a live key.
	// Returns false if the key does not exist.
	SetExpiration(db int, key string, at int64, now int64) (ok bool, err error)

	// RemoveExpiration makes a live key persistent.
	// Returns false if the key does not exist or has no expiration.
	RemoveExpiration(db int, key string, now int64) (ok bool, err error)

	// WriteBatch applies all operations atomically: concurrent readers observe
	// either none or all of them, and a durable engine persists them together.
	WriteBatch(db int, ops []BatchOp, now int64) (err error)

	// ExpireCycle removes up to limit keys whose expiration is <= now and
	// returns the number of removed keys.
	ExpireCycle(db int, limit int, now int64) (removed int, err error)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get returns the live entry for key or nil if absent or expired.
	Get(db int, key string, now int64) (value *StoredValue, err error)

	// Exists reports whether a live entry exists for key.
	Exists(db int, key string, now int64) (ok bool, err error)

	// Keys returns all live keys matching the glob pattern ("" matches all).
	Keys(db int, pattern string, now int64) (keys []string, err error)

	// Scan iterates the keyspace in batches. Cursor 0 starts a new iteration;
	// a returned cursor of 0 ends it. Every key present for the whole iteration
	// is returned at least once. count is a hint for the batch size.
	Scan(db int, cursor uint64, pattern string, count int, now int64) (next uint64, keys []string, err error)

	// GetExpiration returns the absolute expiration of a live key.
	// ok is false if the key does not exist; at is 0 if it never expires.
	GetExpiration(db int, key string, now int64) (at int64, ok bool, err error)

	// Size returns the number of stored keys (including expired keys that
	// were not collected yet).
	Size(db int) (n int, err error)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save writes a snapshot of all databases to w.
	Save(w io.Writer) (err error)

	// Load replaces the contents of all databases with a snapshot from r.
	Load(r io.Reader) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the database implementation supports the specified feature.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// NumDatabases returns the number of databases.
	NumDatabases() int

	// Close releases all resources.
	Close() (err error)
}
