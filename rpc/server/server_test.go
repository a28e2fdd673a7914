package server

import (
	"bufio"
	"fmt"
	"io"
	"net"
	nethttp "net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/rKV/lib/resp"
	"github.com/ValentinKolb/rKV/rpc/client"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/transport"
	"github.com/ValentinKolb/rKV/rpc/transport/tcp"
	"github.com/ValentinKolb/rKV/rpc/transport/unix"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func testConfig() common.ServerConfig {
	return common.ServerConfig{
		TransportType: "tcp",
		Transport: common.ServerTransportConfig{
			Endpoint: "127.0.0.1:0",
			TCPConf:  common.TCPConf{TCPNoDelay: true, TCPLingerSec: -1},
		},
		Mode:                 common.ServerModeLocal,
		Engine:               common.EngineMaple,
		Databases:            16,
		ActiveExpireInterval: 10 * time.Millisecond,
		ActiveExpireBudget:   100,
		LogLevel:             "error",
	}
}

func startServer(t *testing.T, cfg common.ServerConfig, tr transport.IRPCServerTransport) *RPCServer {
	t.Helper()
	if tr == nil {
		tr = tcp.NewTCPServerTransport()
	}
	s := NewRPCServer(cfg, tr)
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve() }()

	if err := s.WaitReady(5 * time.Second); err != nil {
		select {
		case serveErr := <-errCh:
			t.Fatalf("Server failed to start: %v", serveErr)
		default:
			t.Fatalf("Server failed to start: %v", err)
		}
	}
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

func newClient(t *testing.T, s *RPCServer, mutate func(*common.ClientConfig)) *client.Client {
	t.Helper()
	cfg := common.ClientConfig{
		TimeoutSecond: 5,
		Transport: common.ClientTransportConfig{
			Endpoints:              []string{s.Addr().String()},
			ConnectionsPerEndpoint: 2,
			RetryCount:             3,
			TCPConf:                common.TCPConf{TCPNoDelay: true, TCPLingerSec: -1},
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := client.NewClient(cfg, tcp.NewTCPClientTransport())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// rawConn opens a plain connection for tests that look at the bytes on the wire.
func rawConn(t *testing.T, s *RPCServer) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn, bufio.NewReader(conn)
}

func send(t *testing.T, conn net.Conn, raw string) {
	t.Helper()
	if _, err := conn.Write([]byte(raw)); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("Failed to read reply: %v", err)
	}
	return line
}

func expectClosed(t *testing.T, r *bufio.Reader) {
	t.Helper()
	if _, err := r.ReadByte(); err != io.EOF {
		t.Errorf("Expected the server to close the connection, got %v", err)
	}
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestStringCommands(t *testing.T) {
	s := startServer(t, testConfig(), nil)
	c := newClient(t, s, nil)

	if err := c.Set("greeting", "hello", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	value, found, err := c.Get("greeting")
	if err != nil || !found || string(value) != "hello" {
		t.Fatalf("Expected hello, got %q (found=%v, err=%v)", value, found, err)
	}

	if n, err := c.Exists("greeting", "missing", "greeting"); err != nil || n != 2 {
		t.Errorf("Expected EXISTS 2, got %d (%v)", n, err)
	}

	ok, err := c.SetWith("greeting", "other", 0, "NX")
	if err != nil || ok {
		t.Errorf("Expected SET NX on an existing key to fail, got ok=%v err=%v", ok, err)
	}

	if n, err := c.Incr("counter"); err != nil || n != 1 {
		t.Errorf("Expected INCR 1, got %d (%v)", n, err)
	}
	if _, err := c.Incr("greeting"); err == nil {
		t.Errorf("Expected INCR on a non integer to fail")
	}

	if n, err := c.Del("greeting", "counter", "missing"); err != nil || n != 2 {
		t.Errorf("Expected DEL 2, got %d (%v)", n, err)
	}
	if _, found, _ := c.Get("greeting"); found {
		t.Errorf("Expected greeting to be deleted")
	}
}

func TestWrongTypeReply(t *testing.T) {
	s := startServer(t, testConfig(), nil)
	c := newClient(t, s, nil)

	if _, err := c.Do("LPUSH", "list", "a"); err != nil {
		t.Fatalf("LPUSH failed: %v", err)
	}
	_, _, err := c.Get("list")
	replyErr, ok := err.(*client.ReplyError)
	if !ok || replyErr.Kind() != "WRONGTYPE" {
		t.Fatalf("Expected WRONGTYPE, got %v", err)
	}
}

func TestExpiration(t *testing.T) {
	s := startServer(t, testConfig(), nil)
	c := newClient(t, s, nil)

	if err := c.Set("short", "lived", 100*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	ttl, err := c.TTL("short")
	if err != nil || ttl <= 0 || ttl > 100*time.Millisecond {
		t.Fatalf("Expected a TTL in (0, 100ms], got %s (%v)", ttl, err)
	}

	if err := c.Set("forever", "v", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if ttl, _ := c.TTL("forever"); ttl != client.TTLPersistent {
		t.Errorf("Expected TTLPersistent, got %s", ttl)
	}
	if ttl, _ := c.TTL("missing"); ttl != client.TTLMissing {
		t.Errorf("Expected TTLMissing, got %s", ttl)
	}

	// the active sweeper removes the key without any access
	deadline := time.Now().Add(3 * time.Second)
	for {
		n, err := c.DBSize()
		if err != nil {
			t.Fatalf("DBSIZE failed: %v", err)
		}
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected the expired key to be swept, DBSIZE is %d", n)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if _, found, _ := c.Get("short"); found {
		t.Errorf("Expected short to be expired")
	}
}

func TestPipeline(t *testing.T) {
	s := startServer(t, testConfig(), nil)
	c := newClient(t, s, nil)

	replies, err := c.Pipeline(
		[]string{"SET", "n", "10"},
		[]string{"INCRBY", "n", "5"},
		[]string{"GET", "n"},
		[]string{"NOSUCHCOMMAND"},
		[]string{"PING"},
	)
	if err != nil {
		t.Fatalf("Pipeline failed: %v", err)
	}
	if len(replies) != 5 {
		t.Fatalf("Expected 5 replies, got %d", len(replies))
	}
	if replies[0].Str != "OK" {
		t.Errorf("Expected OK, got %v", replies[0])
	}
	if replies[1].Int != 15 {
		t.Errorf("Expected 15, got %v", replies[1])
	}
	if string(replies[2].Bulk) != "15" {
		t.Errorf("Expected \"15\", got %v", replies[2])
	}
	if !replies[3].IsError() || !strings.HasPrefix(replies[3].Str, "ERR unknown command") {
		t.Errorf("Expected unknown command error, got %v", replies[3])
	}
	if replies[4].Str != "PONG" {
		t.Errorf("Expected PONG, got %v", replies[4])
	}
}

func TestProtocolNegotiation(t *testing.T) {
	s := startServer(t, testConfig(), nil)
	c2 := newClient(t, s, nil)
	c3 := newClient(t, s, func(cfg *common.ClientConfig) { cfg.Protocol = resp.Proto3 })

	if _, err := c2.Do("HSET", "h", "f1", "v1", "f2", "v2"); err != nil {
		t.Fatalf("HSET failed: %v", err)
	}

	v, err := c2.Do("HGETALL", "h")
	if err != nil || v.Type != resp.TypeArray || len(v.Elems) != 4 {
		t.Errorf("Expected a flat array of 4 under RESP2, got %v (%v)", v, err)
	}
	v, err = c3.Do("HGETALL", "h")
	if err != nil || v.Type != resp.TypeMap || len(v.Elems) != 4 {
		t.Errorf("Expected a map under RESP3, got %v (%v)", v, err)
	}

	v, err = c3.Do("GET", "missing")
	if err != nil || v.Type != resp.TypeNull {
		t.Errorf("Expected a RESP3 null, got %v (%v)", v, err)
	}
}

func TestSelectedDatabase(t *testing.T) {
	s := startServer(t, testConfig(), nil)
	c0 := newClient(t, s, nil)
	c1 := newClient(t, s, func(cfg *common.ClientConfig) { cfg.DB = 1 })

	if err := c1.Set("k", "in db 1", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, found, _ := c0.Get("k"); found {
		t.Errorf("Expected k to be invisible in db 0")
	}
	if value, found, _ := c1.Get("k"); !found || string(value) != "in db 1" {
		t.Errorf("Expected k in db 1, got %q", value)
	}
}

func TestScripting(t *testing.T) {
	s := startServer(t, testConfig(), nil)
	c := newClient(t, s, nil)

	v, err := c.Eval(`redis.call('SET', KEYS[1], ARGV[1]); return redis.call('GET', KEYS[1])`, []string{"sk"}, "sv")
	if err != nil || string(v.Bulk) != "sv" {
		t.Fatalf("Expected sv, got %v (%v)", v, err)
	}

	sha, err := c.ScriptLoad(`return tonumber(ARGV[1]) * 2`)
	if err != nil {
		t.Fatalf("SCRIPT LOAD failed: %v", err)
	}
	v, err = c.EvalSHA(sha, nil, "21")
	if err != nil || v.Int != 42 {
		t.Fatalf("Expected 42, got %v (%v)", v, err)
	}

	exists, err := c.ScriptExists(sha, strings.Repeat("0", 40))
	if err != nil || len(exists) != 2 || !exists[0] || exists[1] {
		t.Errorf("Expected [true false], got %v (%v)", exists, err)
	}

	if err := c.ScriptFlush(); err != nil {
		t.Fatalf("SCRIPT FLUSH failed: %v", err)
	}
	_, err = c.EvalSHA(sha, nil, "21")
	replyErr, ok := err.(*client.ReplyError)
	if !ok || replyErr.Kind() != "NOSCRIPT" {
		t.Errorf("Expected NOSCRIPT, got %v", err)
	}
}

func TestScriptRollback(t *testing.T) {
	s := startServer(t, testConfig(), nil)
	c := newClient(t, s, nil)

	_, err := c.Eval(`redis.call('SET', KEYS[1], 'x'); redis.call('INCR', KEYS[1])`, []string{"rk"})
	if err == nil {
		t.Fatalf("Expected the script to fail")
	}
	if n, _ := c.Exists("rk"); n != 0 {
		t.Errorf("Expected no effects of the failed script, rk exists")
	}
}

func TestScriptDiscardedWhenClientDisconnects(t *testing.T) {
	s := startServer(t, testConfig(), nil)
	c := newClient(t, s, nil)

	conn, _ := rawConn(t, s)
	script := `redis.call('SET', KEYS[1], '1') while true do end`
	send(t, conn, fmt.Sprintf("*4\r\n$4\r\nEVAL\r\n$%d\r\n%s\r\n$1\r\n1\r\n$2\r\ndk\r\n", len(script), script))

	// let the script start, then go away
	time.Sleep(200 * time.Millisecond)
	_ = conn.Close()

	// the script holds the write lock of db 0 until it is cancelled
	_, found, err := c.Get("dk")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	if found {
		t.Errorf("Expected the writes of the cancelled script to be discarded")
	}
}

func TestRequestsSentDuringScript(t *testing.T) {
	s := startServer(t, testConfig(), nil)
	conn, r := rawConn(t, s)

	send(t, conn, "*3\r\n$4\r\nEVAL\r\n$8\r\nreturn 7\r\n$1\r\n0\r\n")
	send(t, conn, "*1\r\n$4\r\nPING\r\n")
	if line := readLine(t, r); line != ":7\r\n" {
		t.Errorf("Expected :7, got %q", line)
	}
	if line := readLine(t, r); line != "+PONG\r\n" {
		t.Errorf("Expected +PONG, got %q", line)
	}

	send(t, conn, "*3\r\n$4\r\nEVAL\r\n$8\r\nreturn 8\r\n$1\r\n0\r\n*1\r\n$4\r\nPING\r\n")
	if line := readLine(t, r); line != ":8\r\n" {
		t.Errorf("Expected :8, got %q", line)
	}
	if line := readLine(t, r); line != "+PONG\r\n" {
		t.Errorf("Expected +PONG, got %q", line)
	}
}

func TestInlineCommands(t *testing.T) {
	s := startServer(t, testConfig(), nil)
	conn, r := rawConn(t, s)

	send(t, conn, "PING\r\nECHO hello\r\n")
	if line := readLine(t, r); line != "+PONG\r\n" {
		t.Errorf("Expected +PONG, got %q", line)
	}
	if line := readLine(t, r); line != "$5\r\n" {
		t.Errorf("Expected bulk header, got %q", line)
	}
	if line := readLine(t, r); line != "hello\r\n" {
		t.Errorf("Expected hello, got %q", line)
	}
}

func TestQuitClosesConnection(t *testing.T) {
	s := startServer(t, testConfig(), nil)
	conn, r := rawConn(t, s)

	send(t, conn, "*1\r\n$4\r\nQUIT\r\n")
	if line := readLine(t, r); line != "+OK\r\n" {
		t.Errorf("Expected +OK, got %q", line)
	}
	expectClosed(t, r)
}

func TestProtocolErrorClosesConnection(t *testing.T) {
	s := startServer(t, testConfig(), nil)
	conn, r := rawConn(t, s)

	send(t, conn, "*abc\r\n")
	line := readLine(t, r)
	if !strings.HasPrefix(line, "-ERR Protocol error") {
		t.Errorf("Expected a protocol error, got %q", line)
	}
	expectClosed(t, r)
}

func TestMaxClients(t *testing.T) {
	cfg := testConfig()
	cfg.Transport.MaxClients = 1
	s := startServer(t, cfg, nil)

	first, r1 := rawConn(t, s)
	send(t, first, "PING\r\n")
	if line := readLine(t, r1); line != "+PONG\r\n" {
		t.Fatalf("Expected +PONG, got %q", line)
	}

	_, r2 := rawConn(t, s)
	if line := readLine(t, r2); !strings.Contains(line, "max number of clients") {
		t.Errorf("Expected the second client to be rejected, got %q", line)
	}
}

func TestIdleTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = 100 * time.Millisecond
	s := startServer(t, cfg, nil)

	_, r := rawConn(t, s)
	start := time.Now()
	expectClosed(t, r)
	if time.Since(start) > 3*time.Second {
		t.Errorf("Expected the idle connection to be closed quickly")
	}
}

func TestMonitor(t *testing.T) {
	s := startServer(t, testConfig(), nil)
	c := newClient(t, s, nil)

	conn, r := rawConn(t, s)
	send(t, conn, "MONITOR\r\n")
	if line := readLine(t, r); line != "+OK\r\n" {
		t.Fatalf("Expected +OK, got %q", line)
	}

	if err := c.Set("watched", "v", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	line := readLine(t, r)
	if !strings.HasPrefix(line, "+") || !strings.Contains(line, `"SET" "watched" "v"`) {
		t.Errorf("Expected the SET in the monitor feed, got %q", line)
	}
}

func TestSnapshotSurvivesRestart(t *testing.T) {
	cfg := testConfig()
	cfg.SnapshotFile = filepath.Join(t.TempDir(), "dump.rkv")

	s := startServer(t, cfg, nil)
	c := newClient(t, s, nil)
	if err := c.Set("persisted", "yes", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	s2 := startServer(t, cfg, nil)
	c2 := newClient(t, s2, nil)
	value, found, err := c2.Get("persisted")
	if err != nil || !found || string(value) != "yes" {
		t.Errorf("Expected the key to survive the restart, got %q (found=%v, err=%v)", value, found, err)
	}
}

func TestUnixSocketTransport(t *testing.T) {
	cfg := testConfig()
	cfg.TransportType = "unix"
	cfg.Transport.Endpoint = filepath.Join(t.TempDir(), "rkv.sock")
	s := startServer(t, cfg, unix.NewUnixServerTransport())

	c, err := client.NewClient(common.ClientConfig{
		TimeoutSecond: 5,
		Transport:     common.ClientTransportConfig{Endpoints: []string{cfg.Transport.Endpoint}},
	}, unix.NewUnixClientTransport())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer c.Close()

	if err := c.Ping(); err != nil {
		t.Errorf("PING over the unix socket failed: %v", err)
	}
	if s.Addr().Network() != "unix" {
		t.Errorf("Expected a unix listener, got %s", s.Addr().Network())
	}
}

func TestAdminEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsEndpoint = "127.0.0.1:0"
	s := startServer(t, cfg, nil)
	c := newClient(t, s, nil)
	if err := c.Ping(); err != nil {
		t.Fatalf("PING failed: %v", err)
	}

	var addr net.Addr
	for deadline := time.Now().Add(3 * time.Second); addr == nil && time.Now().Before(deadline); {
		if addr = s.admin.Addr(); addr == nil {
			time.Sleep(10 * time.Millisecond)
		}
	}
	if addr == nil {
		t.Fatalf("Admin server did not start")
	}

	for _, path := range []string{"/healthz", "/metrics"} {
		res, err := nethttp.Get(fmt.Sprintf("http://%s%s", addr, path))
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		body, _ := io.ReadAll(res.Body)
		res.Body.Close()
		if res.StatusCode != nethttp.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, res.StatusCode)
		}
		if path == "/metrics" && !strings.Contains(string(body), "rkv_connected_clients") {
			t.Errorf("Expected rkv_connected_clients in metrics output")
		}
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	s := startServer(t, testConfig(), nil)
	if err := s.Shutdown(); err != nil {
		t.Fatalf("First shutdown failed: %v", err)
	}
	if err := s.Shutdown(); err != nil {
		t.Errorf("Second shutdown failed: %v", err)
	}
}
