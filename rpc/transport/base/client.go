package base

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/rKV/lib/resp"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/transport"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection based on the provided configuration
	Connect(endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// responseResult contains the result of a request
type responseResult struct {
	value resp.Value
	err   error
}

// link is one established network connection. Replies arrive in request
// order, so every written command appends a channel to queue and the reader
// goroutine pops them front to back.
type link struct {
	conn net.Conn
	w    *resp.Writer
	r    *resp.Reader

	mu     sync.Mutex
	queue  []chan responseResult
	broken bool
}

// enqueue registers reply channels, it fails once the link is broken
func (l *link) enqueue(chans []chan responseResult) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.broken {
		return false
	}
	l.queue = append(l.queue, chans...)
	return true
}

func (l *link) pop() (chan responseResult, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	ch := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return ch, true
}

// fail marks the link broken and fails all waiting requests
func (l *link) fail(err error) {
	l.mu.Lock()
	l.broken = true
	waiting := l.queue
	l.queue = nil
	l.mu.Unlock()

	_ = l.conn.Close()
	for _, ch := range waiting {
		ch <- responseResult{err: err}
	}
}

func (l *link) isBroken() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.broken
}

// clientConnection is one pooled connection slot that reconnects on failure
type clientConnection struct {
	endpoint string
	connMu   sync.Mutex // Protects link and the write order
	link     *link
	stopCh   chan struct{} // Close signal for the reader goroutine
	parent   *clientTransport
}

// clientTransport implements the core client transport functionality
// independent of the specific transport medium (unix, tcp, etc.)
type clientTransport struct {
	connector     IClientConnector
	config        common.ClientConfig
	connections   []*clientConnection
	connectionsMu sync.RWMutex
	nextConnIndex uint64 // Atomic counter for Round Robin
	stopping      atomic.Bool
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IRPCClientTransport {
	return &clientTransport{connector: connector}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientConfig) error {
	if len(config.Transport.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}

	// Close all existing connections
	t.closeConnections()

	// Store the config
	t.config = config
	t.stopping.Store(false)

	// Set default value for ConnectionsPerEndpoint
	connectionsPerEP := 1
	if config.Transport.ConnectionsPerEndpoint > 0 {
		connectionsPerEP = config.Transport.ConnectionsPerEndpoint
	}

	connections := make([]*clientConnection, 0, len(config.Transport.Endpoints)*connectionsPerEP)

	// Initialize client connections
	for _, endpoint := range config.Transport.Endpoints {
		// Create multiple connections per endpoint
		for i := 0; i < connectionsPerEP; i++ {
			clientConn := &clientConnection{
				endpoint: endpoint,
				stopCh:   make(chan struct{}),
				parent:   t,
			}

			// Establish the initial connection using reconnect
			if err := clientConn.reconnect(); err != nil {
				Logger.Warningf("Failed to connect to %s (connection %d/%d): %v", endpoint, i+1, connectionsPerEP, err)
				continue
			}
			connections = append(connections, clientConn)

			Logger.Debugf("Connected to %s (connection %d/%d)", endpoint, i+1, connectionsPerEP)
		}
	}

	// Check if we have at least one connection
	if len(connections) == 0 {
		return fmt.Errorf("failed to connect to any endpoint")
	}

	t.connectionsMu.Lock()
	t.connections = connections
	t.connectionsMu.Unlock()

	Logger.Debugf("Connected to %d out of %d connections to %d endpoints using %s transport",
		len(connections), len(config.Transport.Endpoints)*connectionsPerEP, len(config.Transport.Endpoints), t.connector.GetName())

	return nil
}

func (t *clientTransport) Do(args ...[]byte) (resp.Value, error) {
	replies, err := t.Pipeline([][][]byte{args})
	if err != nil {
		return resp.Value{}, err
	}
	return replies[0], nil
}

func (t *clientTransport) Pipeline(cmds [][][]byte) ([]resp.Value, error) {
	if len(cmds) == 0 {
		return nil, nil
	}

	// We always try at least once, and up to maxRetries times
	maxRetries := max(t.config.Transport.RetryCount, 1)

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		conn := t.getNextConnection()
		if conn == nil {
			return nil, fmt.Errorf("no active connections available")
		}

		replies, err := conn.send(cmds)
		if err == nil {
			return replies, nil
		}
		lastErr = err

		// requests that may have reached the server are not sent twice
		if !isRetryable(err) {
			return nil, err
		}
		Logger.Debugf("Request attempt %d/%d failed: %v", i+1, maxRetries, err)

		if i+1 < maxRetries {
			backoff(i)
		}
	}

	// All attempts failed
	return nil, fmt.Errorf("failed to send request after %d attempts: %v", maxRetries, lastErr)
}

func (t *clientTransport) Close() error {
	t.stopping.Store(true)
	t.closeConnections()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// getNextConnection selects the next connection via Round Robin
func (t *clientTransport) getNextConnection() *clientConnection {
	t.connectionsMu.RLock()
	defer t.connectionsMu.RUnlock()

	if len(t.connections) == 0 {
		return nil
	}

	// Simple Round Robin algorithm
	var index uint64
	if len(t.connections) == 1 {
		// optimize for single connection
		index = 0
	} else {
		index = atomic.AddUint64(&t.nextConnIndex, 1) % uint64(len(t.connections))
	}
	return t.connections[index]
}

// closeConnections closes all active connections
func (t *clientTransport) closeConnections() {
	t.connectionsMu.Lock()
	defer t.connectionsMu.Unlock()

	for _, conn := range t.connections {
		// Signal reader goroutine to stop
		close(conn.stopCh)

		conn.connMu.Lock()
		if conn.link != nil {
			conn.link.fail(errNotConnected)
			conn.link = nil
		}
		conn.connMu.Unlock()
	}

	// Empty the list
	t.connections = nil
}

// send writes cmds in one flush and waits for their replies
func (c *clientConnection) send(cmds [][][]byte) ([]resp.Value, error) {
	timeout := c.parent.config.Timeout()

	c.connMu.Lock()
	l := c.link
	c.connMu.Unlock()
	if l == nil || l.isBroken() {
		// the reader failed to restore the link, try again now
		if err := c.reconnect(); err != nil {
			return nil, retryable(err)
		}
	}

	chans := make([]chan responseResult, len(cmds))
	for i := range chans {
		chans[i] = make(chan responseResult, 1)
	}

	c.connMu.Lock()
	l = c.link
	if l == nil || !l.enqueue(chans) {
		c.connMu.Unlock()
		return nil, retryable(errNotConnected)
	}
	if timeout > 0 {
		_ = l.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	var err error
	for _, cmd := range cmds {
		if err = l.w.WriteCommand(cmd...); err != nil {
			break
		}
	}
	if err == nil {
		err = l.w.Flush()
	}
	c.connMu.Unlock()

	if err != nil {
		// fail the queued requests, the reader goroutine reconnects
		l.fail(err)
		return nil, fmt.Errorf("failed to write request: %v", err)
	}

	// Wait for responses or timeout
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	replies := make([]resp.Value, len(cmds))
	for i, ch := range chans {
		select {
		case result := <-ch:
			if result.err != nil {
				return nil, fmt.Errorf("error reading response: %v", result.err)
			}
			replies[i] = result.value
		case <-timeoutCh:
			// a late reply would be matched to the next request
			l.fail(errTimeout)
			return nil, errTimeout
		}
	}
	return replies, nil
}

// readResponses reads replies in a loop and hands them to the waiting requests
// in order. It restores the connection when reading fails.
func (c *clientConnection) readResponses(l *link) {
	for {
		v, err := l.r.ReadValue()
		if err != nil {
			l.fail(err)
			break
		}
		// out of band frames (e.g. monitor output) are not replies
		if v.Type == resp.TypePush {
			continue
		}
		ch, ok := l.pop()
		if !ok {
			Logger.Warningf("Received reply from %s without pending request", c.endpoint)
			continue
		}
		ch <- responseResult{value: v}
	}

	// Check if we should stop
	select {
	case <-c.stopCh:
		return
	default:
	}
	if c.parent.stopping.Load() {
		return
	}

	// Try to restore the connection
	if err := c.reconnect(); err != nil {
		Logger.Errorf("Failed to reconnect to %s: %v", c.endpoint, err)
	}
}

// reconnect establishes or restores a connection to the endpoint
func (c *clientConnection) reconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	// another request already restored the link
	if c.link != nil && !c.link.isBroken() {
		return nil
	}
	c.link = nil

	// Connect to the endpoint
	conn, err := c.parent.connector.Connect(c.endpoint)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %v", c.endpoint, err)
	}

	// Upgrade the connection with protocol-specific settings
	if err := c.parent.connector.UpgradeConnection(conn, c.parent.config); err != nil {
		conn.Close()
		return fmt.Errorf("failed to upgrade connection to %s: %v", c.endpoint, err)
	}

	l := &link{conn: conn, w: resp.NewWriter(conn), r: resp.NewReader(conn)}
	if err := c.handshake(l); err != nil {
		conn.Close()
		return fmt.Errorf("handshake with %s failed: %v", c.endpoint, err)
	}

	c.link = l
	go c.readResponses(l)
	return nil
}

// handshake negotiates the protocol and selects the database
func (c *clientConnection) handshake(l *link) error {
	cfg := c.parent.config
	var cmds [][][]byte
	if cfg.Protocol == resp.Proto3 {
		cmds = append(cmds, [][]byte{[]byte("HELLO"), []byte("3")})
	}
	if cfg.DB > 0 {
		cmds = append(cmds, [][]byte{[]byte("SELECT"), []byte(strconv.Itoa(cfg.DB))})
	}
	if len(cmds) == 0 {
		return nil
	}

	if timeout := cfg.Timeout(); timeout > 0 {
		_ = l.conn.SetDeadline(time.Now().Add(timeout))
		defer l.conn.SetDeadline(time.Time{})
	}
	for _, cmd := range cmds {
		if err := l.w.WriteCommand(cmd...); err != nil {
			return err
		}
	}
	if err := l.w.Flush(); err != nil {
		return err
	}
	for _, cmd := range cmds {
		v, err := l.r.ReadValue()
		if err != nil {
			return err
		}
		if v.IsError() {
			return replyError(string(cmd[0]), v.Str)
		}
	}
	return nil
}
