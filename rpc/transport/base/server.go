package base

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
)

// rejected is sent to connections above the client limit before they are closed.
const rejected = "-ERR max number of clients reached\r\n"

var rejectedCounter = metrics.GetOrCreateCounter("rkv_rejected_connections_total")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector IServerConnector
	handler   transport.ServerHandleFunc
	config    common.ServerConfig

	mu       sync.Mutex
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc

	conns   *xsync.MapOf[net.Conn, struct{}]
	active  atomic.Int64
	wg      sync.WaitGroup
	closing atomic.Bool
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport that serves every
// connection in its own goroutine
func NewBaseServerTransport(connector IServerConnector) transport.IRPCServerTransport {
	ctx, cancel := context.WithCancel(context.Background())
	return &serverTransport{
		connector: connector,
		ctx:       ctx,
		cancel:    cancel,
		conns:     xsync.NewMapOf[net.Conn, struct{}](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	if t.handler == nil {
		return fmt.Errorf("no handler registered")
	}
	t.config = config

	// Create listener using the connector
	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %v", err)
	}

	t.mu.Lock()
	if t.closing.Load() {
		t.mu.Unlock()
		_ = listener.Close()
		return nil
	}
	t.listener = listener
	t.mu.Unlock()

	Logger.Infof("Starting %s server on %s", t.connector.GetName(), listener.Addr())

	// Accept connections
	var backoff time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if t.closing.Load() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				// back off like net/http on temporary accept errors
				if backoff == 0 {
					backoff = 5 * time.Millisecond
				} else {
					backoff = min(backoff*2, time.Second)
				}
				Logger.Warningf("Accept error: %v; retrying in %s", err, backoff)
				time.Sleep(backoff)
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			Logger.Errorf("Accept error: %v", err)
			return err
		}
		backoff = 0

		if limit := t.config.Transport.MaxClients; limit > 0 && t.active.Load() >= int64(limit) {
			rejectedCounter.Inc()
			Logger.Warningf("Rejecting connection from %s: max clients (%d) reached", conn.RemoteAddr(), limit)
			_, _ = conn.Write([]byte(rejected))
			_ = conn.Close()
			continue
		}

		if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
			Logger.Warningf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
		}

		// Handle the connection in a goroutine
		t.active.Add(1)
		t.conns.Store(conn, struct{}{})
		t.wg.Add(1)
		go t.handleConnection(conn)
	}
}

func (t *serverTransport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *serverTransport) Close() error {
	if !t.closing.CompareAndSwap(false, true) {
		return nil
	}
	t.mu.Lock()
	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}
	t.mu.Unlock()

	// cancel the handlers and unblock pending reads
	t.cancel()
	t.conns.Range(func(conn net.Conn, _ struct{}) bool {
		_ = conn.Close()
		return true
	})
	t.wg.Wait()
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleConnection runs the handler for one connection and releases it afterwards
func (t *serverTransport) handleConnection(conn net.Conn) {
	defer func() {
		t.conns.Delete(conn)
		t.active.Add(-1)
		_ = conn.Close()
		t.wg.Done()
	}()
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("Handler for %s panicked: %v", conn.RemoteAddr(), r)
		}
	}()

	t.handler(t.ctx, conn)
}
