// Package transport defines the interfaces between the RESP server, the RESP
// client and the network. Implementations for TCP and Unix sockets live in the
// tcp and unix packages, both built on the base package.
//
// Key Components:
//
//   - IRPCServerTransport: accepts connections and hands each one to a
//     ServerHandleFunc running in its own goroutine.
//
//   - IRPCClientTransport: keeps a pool of connections and sends commands,
//     single or pipelined, returning the decoded replies.
package transport
