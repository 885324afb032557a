// Package server implements the store service of mKV: it owns the shared store
// and answers Get and Set requests arriving over any transport.
//
// Key Components:
//
//   - IRPCServerAdapter: Interface defining the contract for server adapters,
//     with the Handle method that processes one decoded request against a store.IStore.
//
//   - NewIStoreServerAdapter: Adapter translating set and get messages to
//     store.IStore calls. Any other message type is answered with an error
//     message and reported as transport.ErrUnsupportedCommand.
//
//   - NewRPCServer: Factory function creating a configured server with the specified
//     transport and serializer mechanisms.
//
//   - MetricsHandler: Prometheus text exposition of the server and transport metrics.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Endpoint: "127.0.0.1:6379",
//	  Shards: 16,
//	  LogLevel: "info",
//	}
//
//	s := server.NewRPCServer(
//	  config,
//	  tcp.NewTCPDefaultServerTransport(),
//	  serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Failure Model:
//
//	Every connection is served by its own loop. A request that cannot be decoded
//	or names an unsupported command is answered with an error message, then that
//	connection is closed. Other connections and the shared store are not affected.
//
// Thread Safety:
//
//	The server handles requests of all connections concurrently. Serve must be
//	called only once.
package server
