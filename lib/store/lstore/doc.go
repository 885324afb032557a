// Package lstore implements a local, in-memory, single-node key-value store based on the
// store.IStore interface. Data is stored entirely in memory and is not persisted between
// process restarts.
//
// Implementation Details:
//
//   - Single Lock: one sync.Mutex guards the whole map. At most one Set or Get
//     touches the map at any instant, so no reader can observe a partial write.
//
//   - Value Ownership: Set stores a private copy of the value and Get hands out a
//     fresh copy. The copies are made outside the critical section to keep the
//     lock hold time to a single map access.
//
// Thread Safety:
//
//	All operations are safe for concurrent use. For workloads where the single
//	lock becomes a bottleneck use the sstore package, which offers the same
//	contract with per-partition locks.
//
// Usage Example:
//
//	s := lstore.NewLocalStore()
//	_ = s.Set("hello", []byte("world"))
//	value, found, _ := s.Get("hello")
package lstore
