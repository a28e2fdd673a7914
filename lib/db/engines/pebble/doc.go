// Package pebble implements the durable storage engine of rKV on top of
// cockroachdb/pebble. It satisfies db.KVDB and passes the same conformance
// suite as the in-memory maple engine.
//
// Values are stored in the codec format under a data prefix. Every key with
// an expiration has an additional entry in an expiry index ordered by
// timestamp, which lets ExpireCycle find expired keys without a full scan.
// Logical databases map to physical ids, so SWAPDB only rewrites the mapping.
//
// Every operation is applied as a single pebble batch, WriteBatch included,
// which makes it atomic for readers and on disk. Save reads from a pebble
// snapshot and writes the engine independent snapshot format; Load applies a
// snapshot in one batch.
package pebble
