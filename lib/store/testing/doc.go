// Package testing provides standardised tests and benchmarks for
// store implementations that satisfy the store.IStore interface.
//
// The package contains:
//   - testing: a conformance suite for the IStore contract (absent keys, byte-exact
//     round trips, overwrite semantics and linearizability under concurrent callers)
//   - benchmark: throughput tests for Set, Get and mixed usage
//
// The same suite runs against the in-process stores and against the RPC client,
// which proves that the remote path keeps the local contract.
//
// Example usage:
//
//	factory := func() store.IStore {
//		return lstore.NewLocalStore()
//	}
//
//	storetesting.RunStoreTests(t, "LocalStore", factory)
//	storetesting.RunStoreBenchmarks(b, "LocalStore", factory)
package testing
