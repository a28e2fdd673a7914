package transport

import (
	"context"
	"net"

	"github.com/ValentinKolb/rKV/lib/resp"
	"github.com/ValentinKolb/rKV/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc serves one accepted connection. It is called in its own
// goroutine and owns the connection until it returns; the transport closes
// the connection afterwards. ctx is cancelled when the transport is closed.
type ServerHandleFunc func(ctx context.Context, conn net.Conn)

// IRPCServerTransport is the interface for the server side transport layer
type IRPCServerTransport interface {
	// RegisterHandler registers the handler that serves accepted connections
	RegisterHandler(handler ServerHandleFunc)
	// Listen starts the transport layer and blocks until Close is called
	Listen(config common.ServerConfig) error
	// Addr returns the listening address, nil before Listen bound the socket
	Addr() net.Addr
	// Close stops accepting connections and cancels the handler contexts
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RESP client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Do sends one command and returns its reply. Error replies are returned
	// as values, the error is reserved for transport failures.
	Do(args ...[]byte) (resp.Value, error)
	// Pipeline sends all commands on one connection in a single write and
	// returns their replies in order
	Pipeline(cmds [][][]byte) ([]resp.Value, error)
	// Close closes the transport connection
	Close() error
}
