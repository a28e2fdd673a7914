// Package server implements the rKV RESP server. It builds the storage stack
// from a common.ServerConfig and serves client connections handed over by a
// transport.IRPCServerTransport.
//
// Startup (Serve):
//
//   - The configured engine (maple or pebble) is wrapped in a local store
//     (lstore) or, in raft mode, in a replicated store (dstore) running on a
//     Dragonboat NodeHost.
//
//   - A command.Engine is created on top of the store with the lock manager,
//     the optional cluster router and the Lua script engine.
//
//   - The active expiration sweeper and, if configured, the admin HTTP endpoint
//     run in the background until Shutdown.
//
// Connections:
//
//	Every connection gets a command.Session. Requests are decoded
//	incrementally and executed in order; replies are buffered and flushed once
//	no complete request is left in the read buffer, so pipelined requests are
//	answered with a single write. Protocol errors are answered and close the
//	connection, as do QUIT and the idle timeout. Sessions that issued MONITOR
//	additionally receive the monitor feed from a second goroutine.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Transport: common.ServerTransportConfig{Endpoint: "0.0.0.0:6379"},
//	  Mode:      common.ServerModeLocal,
//	  Engine:    common.EngineMaple,
//	  Databases: 16,
//	}
//
//	s := server.NewRPCServer(config, tcp.NewTCPServerTransport())
//	go func() {
//	  <-ctx.Done()
//	  _ = s.Shutdown()
//	}()
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Shutdown closes the listener and all connections, stops the background
// tasks, writes the snapshot file of a local store and closes the store.
package server
