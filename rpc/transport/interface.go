package transport

import (
	"errors"
	"github.com/ValentinKolb/mKV/rpc/common"
)

var (
	// ErrConnectionClosed is returned by a client transport when the connection handle is dead
	// (peer closed, I/O failure, expired deadline or framing desync). The handle must be
	// re-established with Connect before it can be used again.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrUnsupportedCommand is returned by a ServerHandleFunc for a request it does not implement.
	// The server transport writes the returned response and then closes that connection.
	ErrUnsupportedCommand = errors.New("unsupported command")

	// ErrPayloadTooLarge is returned when a payload does not fit into one frame.
	// Nothing was written, the connection stays usable.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests
// This function is called by a server transport layer when a request is received.
// It takes the request payload and returns the response payload.
//
// A non-nil error is fatal for the connection the request arrived on: if resp is
// non-nil it is still written to the peer, afterward the connection is closed.
// Other connections are not affected.
type ServerHandleFunc func(req []byte) (resp []byte, err error)

// IRPCServerTransport is the interface for the RPC transport layer
// It must accept a ServerConfig as a parameter
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler is called once per received request
	RegisterHandler(handler ServerHandleFunc)
	// Listen starts the transport layer and serves incoming connections.
	// It blocks until Close is called (then it returns nil) or the listener fails.
	Listen(config common.ServerConfig) error
	// Close stops accepting new connections and closes all live connections
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport.
// A client transport wraps exactly one connection handle. It is not safe for
// concurrent use: the multiplexer is its only owner.
type IRPCClientTransport interface {
	// Connect (re)establishes the connection with the given configuration.
	// An existing connection is closed first.
	Connect(config common.ClientConfig) error
	// Send writes one request and waits for exactly one response.
	// Errors wrapping ErrConnectionClosed mean the handle is dead.
	Send(req []byte) (resp []byte, err error)
	// Close closes the transport connection
	Close() error
}
