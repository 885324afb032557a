package lstore

import (
	"github.com/ValentinKolb/mKV/lib/store"
	"sync"
)

type storeImpl struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewLocalStore creates a new local store instance.
// The whole map is guarded by a single mutex, which is only ever held for
// the duration of one map access.
func NewLocalStore() store.IStore {
	return &storeImpl{
		data: make(map[string][]byte),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(key string, value []byte) error {
	// copy outside the critical section
	valueCopy := cloneValue(value)

	s.mu.Lock()
	s.data[key] = valueCopy
	s.mu.Unlock()
	return nil
}

func (s *storeImpl) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	val, ok := s.data[key]
	s.mu.Unlock()

	if !ok {
		return nil, false, nil
	}
	// stored slices are never mutated, so copying after the unlock is safe
	return cloneValue(val), true, nil
}

// cloneValue copies a value and maps nil to an empty slice so that
// "found but empty" never looks like "absent".
func cloneValue(value []byte) []byte {
	c := make([]byte, len(value))
	copy(c, value)
	return c
}
