// Package base provides a foundation for stream based transport layers of the key-value store,
// implementing core functionality for RPC communication independent of the specific
// network protocol (TCP, Unix sockets, etc.). It serves as a base layer that can be
// extended with protocol-specific connectors.
//
// Frame Format:
//
//	Every request and response is one frame: 8 bytes request id, 4 bytes payload
//	length (both big endian) followed by the payload. The server echoes the request
//	id, the client treats a different id as a framing desync.
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations
//     that allow extending the base transport with different network protocols.
//
//   - clientTransport: Owns exactly one connection and performs one round trip at a
//     time. Any I/O failure, expired deadline or desync drops the connection and is
//     reported as transport.ErrConnectionClosed.
//
//   - serverTransport: Accepts connections and runs one goroutine per connection.
//     Each goroutine reads one request, calls the handler, writes one response and
//     only then reads the next request. Live connections are kept in an xsync.MapOf
//     registry so that Close can shut them down.
//
// Performance Optimizations:
//
//   - Buffer Pooling: The server uses a sync.Pool for per-connection read buffers,
//     reducing GC pressure and memory allocations.
//
//   - Frame Batching: The transport uses net.Buffers to reduce syscalls when
//     writing frames, combining header and payload into a single write operation.
//
// Thread Safety:
//
//	The server transport is safe for concurrent use. The client transport is not:
//	it is meant to be owned by exactly one goroutine (the client multiplexer).
package base
