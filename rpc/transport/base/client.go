package base

import (
	"fmt"
	"github.com/ValentinKolb/mKV/rpc/common"
	"github.com/ValentinKolb/mKV/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"net"
	"time"
)

var Logger = logger.GetLogger("transport/rpc")

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

// clientTransport implements the core client transport functionality
// independent of the specific transport medium (unix, tcp, etc.).
// It holds exactly one connection and is used by a single owner.
type clientTransport struct {
	connector     IClientConnector
	config        common.ClientConfig
	conn          net.Conn // nil = no live connection
	nextRequestID uint64
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IRPCClientTransport {
	return &clientTransport{
		connector: connector,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientConfig) error {
	if config.Endpoint == "" {
		return fmt.Errorf("no endpoint provided")
	}

	// Store the config and drop the old connection
	t.config = config
	t.closeConn()

	conn, err := t.connector.Connect(config.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", config.Endpoint, err)
	}

	// Upgrade the connection with protocol-specific settings
	if err := t.connector.UpgradeConnection(conn, config); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to upgrade connection to %s: %w", config.Endpoint, err)
	}

	t.conn = conn
	Logger.Infof("Connected to %s using %s transport", config.Endpoint, t.connector.GetName())
	return nil
}

func (t *clientTransport) Send(req []byte) ([]byte, error) {
	if t.conn == nil {
		return nil, transport.ErrConnectionClosed
	}

	// Refuse before touching the stream so only this request fails
	if len(req) > maxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d bytes", transport.ErrPayloadTooLarge, len(req), maxPayloadSize)
	}

	t.nextRequestID++
	requestID := t.nextRequestID

	// A deadline bounds the whole round trip. Expiry leaves the stream in an unknown
	// state (the response may still arrive), so the handle is dropped.
	if t.config.TimeoutSecond > 0 {
		deadline := time.Now().Add(time.Duration(t.config.TimeoutSecond) * time.Second)
		if err := t.conn.SetDeadline(deadline); err != nil {
			return nil, t.fail("failed to set deadline", err)
		}
	}

	if err := writeFrame(t.conn, requestID, req); err != nil {
		return nil, t.fail("failed to write request", err)
	}

	respID, data, err := readFrame(t.conn, nil)
	if err != nil {
		return nil, t.fail("failed to read response", err)
	}

	if respID != requestID {
		return nil, t.fail("framing desync",
			fmt.Errorf("response id %d does not match request id %d", respID, requestID))
	}

	return data, nil
}

func (t *clientTransport) Close() error {
	return t.closeConn()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// fail drops the connection and returns an error wrapping transport.ErrConnectionClosed
func (t *clientTransport) fail(msg string, err error) error {
	_ = t.closeConn()
	return fmt.Errorf("%w: %s: %v", transport.ErrConnectionClosed, msg, err)
}

// closeConn closes the current connection (if any)
func (t *clientTransport) closeConn() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}
