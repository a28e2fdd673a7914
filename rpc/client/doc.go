// Package client implements a RESP client for rKV (and any other server that
// speaks RESP2 or RESP3).
//
// The client sends commands over a transport.IRPCClientTransport, which keeps
// a pool of connections, negotiates the protocol with HELLO and selects the
// configured database on every connection. Besides raw commands (Do,
// Pipeline) it offers typed helpers for the common string, expiration and
// scripting commands. Error replies are returned as *ReplyError by the typed
// helpers and as values by Do.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  TimeoutSecond: 5,
//	  Transport: common.ClientTransportConfig{
//	    Endpoints:  []string{"localhost:6379"},
//	    RetryCount: 3,
//	  },
//	}
//
//	c, _ := client.NewClient(config, tcp.NewTCPClientTransport())
//	defer c.Close()
//
//	_ = c.Set("mykey", "myvalue", time.Minute)
//	value, found, _ := c.Get("mykey")
//
// Thread Safety:
//
//	A Client is safe for concurrent use. Commands issued concurrently may be
//	sent over different connections of the pool, so a client that relies on
//	per connection state (SELECT, HELLO) has to configure it through
//	ClientConfig instead of sending the command.
package client
