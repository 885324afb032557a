// Package transport defines the interfaces and abstractions for RPC communication
// in the key-value store. It provides a common contract that all transport
// implementations must fulfill, enabling protocol-agnostic communication.
//
// The package focuses on:
//   - Defining clear interfaces for client and server transport layers
//   - Strict request/response pairing per connection (no pipelining)
//   - Enabling multiple transport implementations (HTTP, TCP, Unix sockets)
//
// Key Components:
//
//   - IRPCClientTransport: Interface for client-side transport implementations that
//     own a single connection handle and perform one round trip at a time.
//
//   - IRPCServerTransport: Interface for server-side transport implementations that
//     accept connections and pass every request to the registered handler.
//
//   - ServerHandleFunc: Function type for request handling callbacks.
//
//   - ErrConnectionClosed, ErrUnsupportedCommand: sentinel errors shared by
//     transports, the server and the client (check with errors.Is).
package transport
