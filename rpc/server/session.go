package server

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/rKV/lib/command"
	"github.com/ValentinKolb/rKV/lib/db/util"
	"github.com/ValentinKolb/rKV/lib/resp"
	"github.com/VictoriaMetrics/metrics"
)

const readBufferSize = 16 * 1024

var (
	connectedClients atomic.Int64
	connectionsTotal = metrics.GetOrCreateCounter("rkv_connections_total")
	protocolErrors   = metrics.GetOrCreateCounter("rkv_protocol_errors_total")
	_                = metrics.NewGauge("rkv_connected_clients", func() float64 {
		return float64(connectedClients.Load())
	})
)

// connection is the state of one client connection. Replies are written by
// the serving goroutine, monitor lines by the monitor pump; mu serializes both.
type connection struct {
	conn   net.Conn
	sess   *command.Session
	cancel context.CancelFunc // cancels the session context
	engine *command.Engine
	idle   time.Duration

	dec *resp.Decoder

	mu         sync.Mutex
	w          *resp.Writer
	monitoring bool
}

// serveConn is the transport handler: it registers a session and runs the
// read-execute-reply loop until the client quits or the connection fails.
func (s *RPCServer) serveConn(ctx context.Context, conn net.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sess := s.engine.Clients().Register(ctx, conn.RemoteAddr().String())
	s.engine.ConnectionAccepted()
	connectionsTotal.Inc()
	connectedClients.Add(1)
	Logger.Debugf("Client %d connected from %s", sess.ID, sess.Addr)

	defer func() {
		s.engine.Monitors().Unsubscribe(sess)
		s.engine.Clients().Unregister(sess)
		connectedClients.Add(-1)
		Logger.Debugf("Client %d disconnected", sess.ID)
	}()

	c := &connection{
		conn:   conn,
		sess:   sess,
		cancel: cancel,
		engine: s.engine,
		idle:   s.config.IdleTimeout,
		dec:    resp.NewDecoder(),
		w:      resp.NewWriter(conn),
	}
	c.serve()
}

func (c *connection) serve() {
	buf := make([]byte, readBufferSize)
	for {
		// monitors are exempt from the idle timeout, they never send anything
		if c.idle > 0 && !c.isMonitoring() {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.idle))
		} else {
			_ = c.conn.SetReadDeadline(time.Time{})
		}

		n, err := c.conn.Read(buf)
		if n > 0 {
			c.dec.Feed(buf[:n])
			if !c.process() {
				return
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			case errors.Is(err, os.ErrDeadlineExceeded):
				Logger.Debugf("Closing idle client %d", c.sess.ID)
			default:
				Logger.Debugf("Read from client %d failed: %v", c.sess.ID, err)
			}
			return
		}
	}
}

// process executes every complete request in the decoder buffer and flushes
// the replies once no complete request is left. It returns false if the
// connection must be closed.
func (c *connection) process() bool {
	for {
		args, err := c.dec.Next()
		if err != nil {
			// the stream can not be resynchronized
			protocolErrors.Inc()
			Logger.Debugf("Protocol error from client %d: %v", c.sess.ID, err)
			_ = c.reply(resp.Error(err.Error()))
			_ = c.flush()
			return false
		}
		if args == nil {
			break
		}

		var reply resp.Value
		if command.RunsScript(args) {
			reply = c.execWatched(args)
		} else {
			reply = c.engine.Exec(c.sess, args)
		}
		if c.sess.Context().Err() != nil {
			return false
		}
		if err := c.reply(reply); err != nil {
			return false
		}
		if c.sess.Closing() {
			_ = c.flush()
			return false
		}
		if feed := c.sess.Monitor(); feed != nil && !c.isMonitoring() {
			c.startMonitor(feed)
		}
	}
	return c.flush() == nil
}

// execWatched runs a script while a second goroutine keeps reading the
// connection. If the client disconnects the session context is cancelled,
// which discards the script. Bytes read meanwhile go back to the decoder.
func (c *connection) execWatched(args [][]byte) resp.Value {
	_ = c.conn.SetReadDeadline(time.Time{})

	var ahead []byte
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, readBufferSize)
		for {
			n, err := c.conn.Read(buf)
			ahead = append(ahead, buf[:n]...)
			if err != nil {
				if !errors.Is(err, os.ErrDeadlineExceeded) {
					Logger.Debugf("Client %d went away while running a script", c.sess.ID)
					c.cancel()
				}
				return
			}
		}
	}()

	reply := c.engine.Exec(c.sess, args)

	// unblock the watcher
	_ = c.conn.SetReadDeadline(time.Now())
	<-done
	if len(ahead) > 0 {
		c.dec.Feed(ahead)
	}
	return reply
}

// reply encodes v with the protocol the session uses right now, HELLO may
// have switched it while executing.
func (c *connection) reply(v resp.Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.w.SetProtocol(c.sess.Protocol())
	return c.w.WriteValue(v)
}

func (c *connection) flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.w.Buffered() == 0 {
		return nil
	}
	return c.w.Flush()
}

func (c *connection) isMonitoring() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.monitoring
}

// startMonitor starts the goroutine that forwards the monitor feed. It stops
// when the feed is closed, which happens when the session is unregistered.
func (c *connection) startMonitor(feed *util.LockFreeMPSC[string]) {
	c.mu.Lock()
	c.monitoring = true
	c.mu.Unlock()

	go func() {
		done := c.sess.Context().Done()
		for {
			select {
			case <-done:
				return
			case <-feed.Notify():
			}
			if !c.forward(feed) || feed.IsClosed() {
				return
			}
		}
	}()
}

// forward writes all queued monitor lines. Under protocol 3 they are push
// frames, under protocol 2 status replies.
func (c *connection) forward(feed *util.LockFreeMPSC[string]) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	proto := c.sess.Protocol()
	c.w.SetProtocol(proto)

	var err error
	feed.Drain(0, func(line *string) {
		if err != nil {
			return
		}
		if proto == resp.Proto3 {
			err = c.w.WriteValue(resp.Push(resp.BulkString("monitor"), resp.BulkString(*line)))
		} else {
			err = c.w.WriteValue(resp.SimpleString(*line))
		}
	})
	if err == nil && c.w.Buffered() > 0 {
		err = c.w.Flush()
	}
	if err != nil {
		Logger.Debugf("Failed to forward monitor output to client %d: %v", c.sess.ID, err)
		_ = c.conn.Close()
		return false
	}
	return true
}
