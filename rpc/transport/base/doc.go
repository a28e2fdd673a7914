// Package base provides the network plumbing shared by the tcp and unix
// transports. Protocol specific behavior (dialing, listening, socket options)
// is injected through connectors.
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations
//     that allow extending the base transport with different network protocols.
//
//   - clientTransport: Keeps a pool of RESP connections with round-robin load
//     balancing. Requests are written under a per connection lock and their reply
//     channels are queued in the same order, a reader goroutine per connection
//     pops the queue as replies arrive. Pipelines write all commands with a
//     single flush. Broken connections are re-established in the background and
//     requests that never reached the server are retried with exponential backoff.
//
//   - serverTransport: Accepts connections, enforces the client limit and runs
//     the registered handler for every connection in its own goroutine. Close
//     stops the listener, closes all open connections and waits for the handlers.
//
// Thread Safety:
//
//	All public methods are thread-safe.
package base
