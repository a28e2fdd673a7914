// Package rpc contains the network side of rKV: the RESP server, the RESP
// client and the transports both run on.
//
// The package is organized into several subpackages:
//
//   - common: Server and client configuration and the logger factory shared
//     by all packages.
//
//   - transport: Network abstractions with TCP and Unix socket
//     implementations and the admin HTTP endpoint.
//
//   - client: RESP client with connection pooling, pipelining and typed
//     helpers for the common commands.
//
//   - server: RESP server that wires the store, the command engine, scripting
//     and active expiration to a transport.
package rpc
