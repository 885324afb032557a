// Package http implements an HTTP-based transport layer for RPC communication
// in the key-value store. It provides concrete implementations of the transport
// interfaces defined in the parent package.
//
// Every request is a POST to "/" with the serialized message as body, the response
// body is the serialized reply. HTTP already frames messages, so no request ids
// are needed. A fatal request error (unsupported command) is answered with the
// error payload and "Connection: close".
//
// Key Components:
//
//   - httpClientTransport: Implements IRPCClientTransport. Like the stream
//     transports it is owned by one multiplexer and sends one request at a time.
//     Network failures are reported as transport.ErrConnectionClosed.
//
//   - httpServerTransport: Implements IRPCServerTransport with net/http, plus a
//     logging middleware that is enabled for the debug log level.
package http
