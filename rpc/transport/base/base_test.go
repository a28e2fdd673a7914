package base

import (
	"context"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/rKV/lib/resp"
	"github.com/ValentinKolb/rKV/rpc/common"
)

// --------------------------------------------------------------------------
// Test connectors
// --------------------------------------------------------------------------

type testServerConnector struct{}

func (testServerConnector) GetName() string { return "test" }
func (testServerConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	return net.Listen("tcp", config.Transport.Endpoint)
}
func (testServerConnector) UpgradeConnection(net.Conn, common.ServerConfig) error { return nil }

type testClientConnector struct{}

func (testClientConnector) GetName() string { return "test" }
func (testClientConnector) Connect(endpoint string) (net.Conn, error) {
	return net.Dial("tcp", endpoint)
}
func (testClientConnector) UpgradeConnection(net.Conn, common.ClientConfig) error { return nil }

// echoHandler answers every command with its arguments joined by spaces.
// "CLOSE" drops the connection without a reply.
func echoHandler(ctx context.Context, conn net.Conn) {
	dec := resp.NewDecoder()
	w := resp.NewWriter(conn)
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		dec.Feed(buf[:n])
		for {
			args, err := dec.Next()
			if err != nil || (args != nil && strings.EqualFold(string(args[0]), "CLOSE")) {
				return
			}
			if args == nil {
				break
			}
			parts := make([]string, len(args))
			for i, a := range args {
				parts[i] = string(a)
			}
			if strings.EqualFold(parts[0], "HELLO") || strings.EqualFold(parts[0], "SELECT") {
				_ = w.WriteValue(resp.OK)
				continue
			}
			_ = w.WriteValue(resp.BulkString(strings.Join(parts, " ")))
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
}

func startEcho(t *testing.T, maxClients int) (*serverTransport, string) {
	t.Helper()
	tr := NewBaseServerTransport(testServerConnector{}).(*serverTransport)
	tr.RegisterHandler(echoHandler)
	go func() {
		_ = tr.Listen(common.ServerConfig{Transport: common.ServerTransportConfig{Endpoint: "127.0.0.1:0", MaxClients: maxClients}})
	}()
	deadline := time.Now().Add(3 * time.Second)
	for tr.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatalf("Listener did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr, tr.Addr().String()
}

func connectClient(t *testing.T, addr string, mutate func(*common.ClientConfig)) *clientTransport {
	t.Helper()
	cfg := common.ClientConfig{
		TimeoutSecond: 3,
		Transport: common.ClientTransportConfig{
			Endpoints:  []string{addr},
			RetryCount: 3,
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c := NewBaseClientTransport(testClientConnector{}).(*clientTransport)
	if err := c.Connect(cfg); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestDoAndPipeline(t *testing.T) {
	_, addr := startEcho(t, 0)
	c := connectClient(t, addr, nil)

	v, err := c.Do([]byte("ECHO"), []byte("a"))
	if err != nil || string(v.Bulk) != "ECHO a" {
		t.Fatalf("Expected \"ECHO a\", got %v (%v)", v, err)
	}

	cmds := make([][][]byte, 100)
	for i := range cmds {
		cmds[i] = [][]byte{[]byte("N"), []byte(string(rune('a' + i%26)))}
	}
	replies, err := c.Pipeline(cmds)
	if err != nil {
		t.Fatalf("Pipeline failed: %v", err)
	}
	for i, r := range replies {
		if want := "N " + string(rune('a'+i%26)); string(r.Bulk) != want {
			t.Fatalf("Reply %d: expected %q, got %q", i, want, r.Bulk)
		}
	}
}

func TestConcurrentRequestsKeepOrder(t *testing.T) {
	_, addr := startEcho(t, 0)
	c := connectClient(t, addr, func(cfg *common.ClientConfig) { cfg.Transport.ConnectionsPerEndpoint = 2 })

	var failures atomic.Int32
	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 50; i++ {
				want := strings.Repeat("x", g+1)
				v, err := c.Do([]byte("G"), []byte(want))
				if err != nil || string(v.Bulk) != "G "+want {
					failures.Add(1)
				}
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}
	if n := failures.Load(); n != 0 {
		t.Errorf("Expected every reply to match its request, %d did not", n)
	}
}

func TestHandshake(t *testing.T) {
	_, addr := startEcho(t, 0)
	c := connectClient(t, addr, func(cfg *common.ClientConfig) {
		cfg.Protocol = resp.Proto3
		cfg.DB = 2
	})
	// the handshake replies were consumed, the first reply belongs to PING
	v, err := c.Do([]byte("PING"))
	if err != nil || string(v.Bulk) != "PING" {
		t.Errorf("Expected PING echo, got %v (%v)", v, err)
	}
}

func TestReconnectAfterConnectionLoss(t *testing.T) {
	_, addr := startEcho(t, 0)
	c := connectClient(t, addr, nil)

	if _, err := c.Do([]byte("CLOSE")); err == nil {
		t.Fatalf("Expected the dropped request to fail")
	}

	// the reader goroutine restores the link in the background
	deadline := time.Now().Add(3 * time.Second)
	for {
		v, err := c.Do([]byte("AGAIN"))
		if err == nil {
			if string(v.Bulk) != "AGAIN" {
				t.Fatalf("Expected AGAIN, got %v", v)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Client did not reconnect: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestConnectFailsWithoutServer(t *testing.T) {
	c := NewBaseClientTransport(testClientConnector{})
	err := c.Connect(common.ClientConfig{Transport: common.ClientTransportConfig{Endpoints: []string{"127.0.0.1:1"}}})
	if err == nil {
		t.Errorf("Expected connect to fail")
	}
	if err := c.Connect(common.ClientConfig{}); err == nil {
		t.Errorf("Expected connect without endpoints to fail")
	}
}

func TestServerCloseStopsHandlers(t *testing.T) {
	tr, addr := startEcho(t, 0)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	// make sure the connection was accepted
	_, _ = conn.Write([]byte("PING\r\n"))
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := resp.NewReader(conn).ReadValue(); err != nil {
		t.Fatalf("Expected a reply: %v", err)
	}

	closed := make(chan struct{})
	go func() {
		_ = tr.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatalf("Close did not return while a connection was open")
	}
	if tr.active.Load() != 0 {
		t.Errorf("Expected no active connections after close")
	}
}

func TestRetryableErrors(t *testing.T) {
	err := retryable(errNotConnected)
	if !isRetryable(err) {
		t.Errorf("Expected wrapped error to be retryable")
	}
	if isRetryable(errTimeout) {
		t.Errorf("Expected timeout not to be retryable")
	}
	if retryable(nil) != nil {
		t.Errorf("Expected nil to stay nil")
	}
}
