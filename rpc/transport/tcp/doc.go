// Package tcp implements TCP socket-based transport for the key-value store's
// RPC system. It provides concrete implementations of the base package's connector
// interfaces for TCP connections.
//
// This package builds on the base package's transport functionality (framing,
// per-connection goroutines, buffer reuse). See the base package documentation
// for details on the underlying transport mechanisms.
//
// Key Components:
//
//   - clientConnector: TCP-specific implementation of base.IClientConnector
//
//   - serverConnector: TCP-specific implementation of base.IServerConnector
//
// Both connectors apply common.TCPConf (no delay, keep-alive, linger) and
// common.SocketConf (buffer sizes) to every connection.
package tcp
