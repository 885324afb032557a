// Package common provides core data structures and utilities shared across
// the client and the server of mKV.
//
// The package focuses on:
//   - Message protocol definition for requests and responses
//   - Configuration structures for client and server components
//   - Custom logging implementation plugged into Dragonboat's logger registry
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication. A Get response
//     uses Ok=false as the absent marker, so an empty value and a missing key
//     stay distinguishable on every serializer.
//
//   - MessageType: Enumeration of the message types. Only set and get are
//     commands, every other value is rejected by the server.
//
//   - ServerConfig / ClientConfig: Configuration of the store service and of
//     the single-connection client.
//
//   - Logger: Named loggers ("rpc", "transport/rpc", "client", "store") with a
//     consistent "LEVEL | name | message" format.
package common
