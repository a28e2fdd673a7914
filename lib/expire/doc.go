// Package expire holds the clock and the active expiration of rKV.
//
// Expiration is tracked as an absolute deadline in unix milliseconds on every
// stored value. Engines treat expired values as absent on every read (lazy
// expiration). The Sweeper complements this by periodically asking the store
// to remove a bounded number of expired keys per database (active expiration),
// so memory of keys that are never read again is reclaimed. Correctness never
// depends on the sweeper running.
package expire
