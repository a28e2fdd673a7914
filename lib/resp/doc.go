// Package resp implements the wire protocol spoken between clients and the rKV
// server: a line based framing where each frame starts with a one byte type
// marker followed by a CRLF terminated length or value.
//
// Two protocol versions are supported:
//
//   - Protocol 2: simple strings (+), errors (-), integers (:), bulk strings ($,
//     nullable with length -1) and arrays (*, nullable with length -1).
//   - Protocol 3: everything from protocol 2 plus null (_), booleans (#),
//     doubles (,), maps (%), sets (~) and out-of-band push frames (>).
//
// A connection starts out speaking protocol 2 and switches with HELLO. Replies
// are built as Value trees and serialized with AppendValue or a Writer, which
// downgrade protocol 3 only types for protocol 2 clients.
//
// Requests are decoded by the incremental Decoder which supports pipelining,
// frames split across reads and inline commands. The blocking Reader parses
// replies and is used by the client package and by tests.
package resp
