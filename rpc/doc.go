// Package rpc provides the request/response layer of the mKV key-value store.
// It carries Get and Set commands from clients to the server that owns the
// shared map.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message protocol, configuration structures, and logging.
//
//   - transport: Framed network communication with pluggable implementations
//     (TCP, Unix sockets, HTTP).
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB, Protobuf wire)
//     for converting between Message objects and byte arrays.
//
//   - client: The multiplexer that serializes the calls of many goroutines onto one
//     connection, and a store.IStore implementation on top of it.
//
//   - server: The store service: one loop per connection, dispatching Get and Set
//     to the shared store.
package rpc
