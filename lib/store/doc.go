// Package store defines the IStore interface shared by every key-value store in mKV.
//
// The interface is deliberately small: Set and Get. Everything else in the system
// (the RPC server, the RPC client, the CLI) is written against it, which makes the
// concrete store a drop-in choice:
//
//   - lstore: one map guarded by one mutex. Every operation is mutually exclusive
//     with every other one.
//
//   - sstore: the keyspace is split into N partitions, each with its own mutex.
//     A key is assigned to a partition by a seeded FNV-1a hash. Operations on
//     different partitions run fully in parallel, operations on the same partition
//     stay mutually exclusive.
//
//   - rpc/client.RPCStore: the remote variant. Calls are funneled through a single
//     connection by the client's command multiplexer.
//
// Failure Model:
//
//	The in-process stores never return an error. Locks are held only for the
//	duration of one map access and never across I/O. A panic while a lock is held
//	is not recovered anywhere: the process is expected to crash and be restarted,
//	since the map can no longer be trusted.
package store
