package base

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/mKV/rpc/common"
	"github.com/ValentinKolb/mKV/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var (
	connectionsAccepted = metrics.GetOrCreateCounter(`mkv_connections_accepted_total`)
	connectionsActive   = metrics.GetOrCreateCounter(`mkv_connections_active`)
	protocolErrors      = metrics.GetOrCreateCounter(`mkv_protocol_errors_total`)
)

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
	connector  IServerConnector
	handler    transport.ServerHandleFunc
	config     common.ServerConfig
	bufferPool *sync.Pool

	mu       sync.Mutex // protects listener and closed
	listener net.Listener
	closed   bool

	conns      *xsync.MapOf[uint64, net.Conn] // live connections by id
	nextConnID atomic.Uint64
	wg         sync.WaitGroup
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport that serves every
// accepted connection in its own goroutine
func NewBaseServerTransport(connector IServerConnector, bufferSize int) transport.IRPCServerTransport {
	return newServerTransport(connector, bufferSize)
}

func newServerTransport(connector IServerConnector, bufferSize int) *serverTransport {
	if bufferSize < headerSize {
		bufferSize = headerSize
	}
	return &serverTransport{
		connector: connector,
		conns:     xsync.NewMapOf[uint64, net.Conn](),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return make([]byte, bufferSize)
			},
		},
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	t.config = config

	// Create listener using the connector
	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	return t.serve(listener)
}

func (t *serverTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	listener := t.listener
	t.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}

	// Closing the connection unblocks the read of the connection loop
	t.conns.Range(func(_ uint64, conn net.Conn) bool {
		_ = conn.Close()
		return true
	})

	t.wg.Wait()
	Logger.Infof("%s server stopped", t.connector.GetName())
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// isClosed reports whether Close was called
func (t *serverTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// serve runs the accept loop on the given listener until Close is called.
// The accept loop never waits for an existing connection.
func (t *serverTransport) serve(listener net.Listener) error {
	if t.handler == nil {
		_ = listener.Close()
		return fmt.Errorf("no handler registered")
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = listener.Close()
		return nil
	}
	t.listener = listener
	t.mu.Unlock()

	Logger.Infof("Listening on %s (%s)", listener.Addr(), t.connector.GetName())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if t.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			Logger.Errorf("Accept error: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
			Logger.Warningf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
		}

		// Registering under the lock keeps Close from missing a connection
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		id := t.nextConnID.Add(1)
		t.conns.Store(id, conn)
		t.wg.Add(1)
		t.mu.Unlock()

		connectionsAccepted.Inc()
		connectionsActive.Inc()
		Logger.Debugf("Accepted connection %d from %s", id, conn.RemoteAddr())

		go func() {
			defer func() {
				_ = conn.Close()
				t.conns.Delete(id)
				connectionsActive.Dec()
				t.wg.Done()
			}()
			t.handleConnection(id, conn)
		}()
	}
}

// activeConnections returns the number of live connections
func (t *serverTransport) activeConnections() int {
	return t.conns.Size()
}

// handleConnection owns one connection: read one request, write one response, repeat.
// It returns when the peer closes the stream, on any I/O error or after a handler error.
func (t *serverTransport) handleConnection(id uint64, conn net.Conn) {
	// Timeout in seconds
	timeout := time.Duration(t.config.TimeoutSecond) * time.Second

	// The loop is strictly sequential, one buffer serves the whole connection
	buf := t.bufferPool.Get().([]byte)
	defer t.bufferPool.Put(buf)

	for {
		// Waiting for the next request is not bounded by the timeout
		requestID, n, err := readHeader(conn, buf)
		if err != nil {
			t.logReadError(id, err)
			return
		}

		if timeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
				Logger.Errorf("Connection %d: failed to set read deadline: %v", id, err)
				return
			}
		}

		data, err := readPayload(conn, buf, n)
		if err != nil {
			t.logReadError(id, err)
			return
		}

		if timeout > 0 {
			_ = conn.SetReadDeadline(time.Time{})
		}

		// Process the request
		start := time.Now()
		resp, handlerErr := t.handler(data)
		Logger.Debugf("Connection %d: processed request %d in %s", id, requestID, time.Since(start))

		if resp != nil {
			if timeout > 0 {
				if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
					Logger.Errorf("Connection %d: failed to set write deadline: %v", id, err)
					return
				}
			}

			// Write the response with the same requestID
			if err := writeFrame(conn, requestID, resp); err != nil {
				Logger.Errorf("Connection %d: failed to write response: %v", id, err)
				return
			}
		}

		if handlerErr != nil {
			protocolErrors.Inc()
			Logger.Errorf("Connection %d: closing after fatal request error: %v", id, handlerErr)
			return
		}
	}
}

// logReadError logs why a connection loop ended while reading
func (t *serverTransport) logReadError(id uint64, err error) {
	switch {
	case errors.Is(err, io.EOF):
		// Case EOF: Connection closed by client
		Logger.Infof("Connection %d closed by client", id)
	case errors.Is(err, net.ErrClosed):
		Logger.Debugf("Connection %d closed by server", id)
	default:
		Logger.Errorf("Connection %d: error reading request: %v", id, err)
	}
}
