// Package internal provides the communication protocol structures and serialization
// logic for the dstore package.
//
//   - Command System: write operations that are proposed to the RAFT shard and
//     stored in the log. Commands use a compact binary encoding:
//
//     1 byte   command type
//     4 bytes  database (big endian)
//     4 bytes  second database (Swap)
//     8 bytes  proposer time in unix ms
//     8 bytes  argument (expiration or limit)
//     4 bytes  key length
//     N bytes  key
//     M bytes  payload (codec encoded value or batch)
//
//   - Query System: read operations executed locally on the state machine.
//     Queries are passed as Go values and never serialized.
package internal
