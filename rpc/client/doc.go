// Package client implements the RPC client of the key-value store.
// Any number of goroutines share one connection to the server through a command
// multiplexer.
//
// Key Components:
//
//   - Multiplexer: A single worker goroutine owns the connection (the transport).
//     Producers put an envelope into a bounded FIFO queue (blocking while it is
//     full) and wait on the envelope's private reply slot. The worker performs one
//     round trip per envelope in queue order and signals the reply slot. Signaling
//     never blocks, a producer that stopped waiting is simply ignored.
//
//   - RPCStore: Implements store.IStore (Get, Set) plus context aware variants on
//     top of a Multiplexer.
//
// Failure Handling:
//
//	A failed round trip fails only its own envelope with an error wrapping
//	ErrUnconfirmed: the request may or may not have been applied. If the connection
//	is dead (transport.ErrConnectionClosed) the worker reconnects up to RetryCount
//	times. If that does not work it stops, all queued requests fail with ErrClosed
//	and so does every later call.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  Endpoint:      "127.0.0.1:6379",
//	  TimeoutSecond: 5,
//	  RetryCount:    3,
//	}
//
//	kv, err := client.NewRPCStore(config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	if err != nil {
//	  return err
//	}
//	defer kv.Close()
//
//	_ = kv.Set("hello", []byte("world"))
//	value, found, _ := kv.Get("hello")
//
// Thread Safety:
//
//	Multiplexer and RPCStore are safe for concurrent use. The transport handed
//	to them must not be used by anyone else.
package client
