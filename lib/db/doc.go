// Package db provides the value model of rKV and the interface storage engines
// implement.
//
// The package focuses on:
//   - A closed set of value variants stored under a key
//   - A unified engine interface with multiple independent databases
//   - Feature discovery through capability flags
//   - Standardized persistence and metadata reporting
//
// Key Components:
//
//   - Value: The payload of a key. Exactly one variant is active per key:
//     Scalar (byte string), *List (double-ended sequence), Map (field -> byte
//     string), Set (unique byte strings), *OrderedSet (member -> score, ordered
//     by score then member) and Document (validated JSON text). Operations on
//     the wrong variant are rejected by the command layer; values are never
//     coerced.
//
//   - StoredValue: A Value plus its absolute expiration in unix milliseconds.
//     An expired value is treated as absent by every read path.
//
//   - KVDB Interface: The contract every engine satisfies. All time dependent
//     operations receive the current time as a parameter, so engines stay
//     deterministic when driven by a replicated log.
//
//   - BatchOp: One step of an atomic batch write, used to commit script
//     transactions.
//
//   - Feature Flags: Engines advertise their capabilities through
//     SupportsFeature.
//
// Related Packages:
//
// The engines/maple package provides the in-memory engine and engines/pebble
// the durable engine built on Pebble. The codec package serializes values for
// both the durable engine and snapshots. The testing package provides the
// conformance suite (RunKVDBTests) every engine must pass.
package db
