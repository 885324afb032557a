package sstore

import (
	"github.com/ValentinKolb/mKV/lib/store"
	"github.com/ValentinKolb/mKV/lib/util"
	"runtime"
	"sync"
)

// shard is one independently locked partition of the keyspace
type shard struct {
	mu   sync.Mutex
	data map[string][]byte
}

type storeImpl struct {
	seed   uint64
	shards []*shard
}

// Options configures the sharded store during initialization
type Options struct {
	NumShards int // Number of shards (<= 0 = auto)
}

// DefaultOptions returns the default sharded store options
func DefaultOptions() *Options {
	return &Options{
		NumShards: runtime.NumCPU(),
	}
}

// NewShardedStore creates a new sharded store with the specified options (optional).
//
// Thread-safety: This function is not thread-safe and should only be called once
// during initialization.
func NewShardedStore(opts *Options) store.IStore {
	if opts == nil {
		opts = DefaultOptions()
	}
	numShards := opts.NumShards
	if numShards <= 0 {
		numShards = runtime.NumCPU()
	}

	shards := make([]*shard, numShards)
	for i := range shards {
		shards[i] = &shard{data: make(map[string][]byte)}
	}

	return &storeImpl{
		seed:   util.GenerateSeed(),
		shards: shards,
	}
}

// getShard returns the shard responsible for key.
// The mapping is fixed for the lifetime of the store.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *storeImpl) getShard(key string) *shard {
	return s.shards[util.ShardIndex(util.HashString(key, s.seed), len(s.shards))]
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(key string, value []byte) error {
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	sh := s.getShard(key)
	sh.mu.Lock()
	sh.data[key] = valueCopy
	sh.mu.Unlock()
	return nil
}

func (s *storeImpl) Get(key string) ([]byte, bool, error) {
	sh := s.getShard(key)
	sh.mu.Lock()
	val, ok := sh.data[key]
	sh.mu.Unlock()

	if !ok {
		return nil, false, nil
	}
	data := make([]byte, len(val))
	copy(data, val)
	return data, true, nil
}
