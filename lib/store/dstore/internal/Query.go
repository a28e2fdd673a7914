package internal

import "github.com/ValentinKolb/rKV/lib/db"

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTGet           QueryType = iota // Retrieve an entry by key.
	QueryTExists                         // Check if a live entry exists.
	QueryTKeys                           // List keys matching a pattern.
	QueryTScan                           // Next batch of a cursor iteration.
	QueryTGetExpiration                  // Retrieve the expiration of an entry.
	QueryTSize                           // Number of stored keys of a database.
	QueryTGetDBInfo                      // Retrieve metadata about the database underlying the machine.
)

func (q QueryType) String() string {
	switch q {
	case QueryTGet:
		return "Get"
	case QueryTExists:
		return "Exists"
	case QueryTKeys:
		return "Keys"
	case QueryTScan:
		return "Scan"
	case QueryTGetExpiration:
		return "GetExpiration"
	case QueryTSize:
		return "Size"
	case QueryTGetDBInfo:
		return "GetDBInfo"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via SyncRead or ReadStale
type Query struct {
	Type    QueryType // The type of Query to perform.
	DB      int       // The database to query.
	Key     string    // The key (Get, Exists, GetExpiration).
	Pattern string    // The glob pattern (Keys, Scan).
	Cursor  uint64    // The cursor (Scan).
	Count   int       // The batch size hint (Scan).
	Now     int64     // The time the query is evaluated at.
}

// QueryResult is the result of every query except QueryTGetDBInfo, which
// returns a db.DatabaseInfo. Only the fields of the query type are set.
type QueryResult struct {
	Ok     bool
	Value  *db.StoredValue // private copy, safe to modify
	At     int64
	N      int
	Keys   []string
	Cursor uint64
}
