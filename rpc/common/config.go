package common

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// DefaultEndpoint is the fixed local address the server binds to if nothing else is configured
	DefaultEndpoint = "127.0.0.1:6379"
	// DefaultQueueSize is the capacity of the client's pending queue
	DefaultQueueSize = 32
)

// --------------------------------------------------------------------------
// Socket configuration structs (shared by client and server)
// --------------------------------------------------------------------------

// SocketConf holds generic socket buffer settings (0 = OS default)
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds TCP specific socket settings
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int // <= 0 = OS default
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters for the store service.
type ServerConfig struct {
	// Endpoint is the address the server listens on (host:port, socket path or http URL)
	Endpoint string

	// Shards selects the store: <= 1 uses a single lock, > 1 partitions the keyspace
	Shards int

	// Read/write deadline per request in seconds (0 = no deadline)
	TimeoutSecond int64

	// Address of the metrics endpoint (empty = disabled)
	MetricsEndpoint string

	// Logging configuration
	LogLevel string

	SocketConf SocketConf
	TCPConf    TCPConf
}

// IsSharded reports whether the server uses the partitioned store
func (c *ServerConfig) IsSharded() bool {
	return c.Shards > 1
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	// Store settings
	addSection("Store")
	if c.IsSharded() {
		addField("Type", "sharded")
		addField("Shards", strconv.Itoa(c.Shards))
	} else {
		addField("Type", "single lock")
	}

	// Logging and metrics
	addSection("Observability")
	addField("Log Level", c.LogLevel)
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	} else {
		addField("Metrics Endpoint", "disabled")
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds all configuration parameters for the client side.
// There is exactly one endpoint because the client owns exactly one connection.
type ClientConfig struct {
	Endpoint string

	// Read/write deadline of one round trip in seconds (0 = no deadline)
	TimeoutSecond int

	// QueueSize is the capacity of the pending queue (<= 0 = DefaultQueueSize)
	QueueSize int

	// RetryCount is how often the multiplexer tries to reconnect after the connection died
	RetryCount int

	SocketConf SocketConf
	TCPConf    TCPConf
}

// GetQueueSize returns the effective pending queue capacity
func (c *ClientConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return DefaultQueueSize
	}
	return c.QueueSize
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Queue Size", strconv.Itoa(c.GetQueueSize()))
	addField("Reconnect Attempts", strconv.Itoa(c.RetryCount))

	return sb.String()
}
