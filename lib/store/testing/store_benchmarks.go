package testing

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/mKV/lib/store"
)

// RunStoreBenchmarks runs all benchmarks for a key-value store implementation
func RunStoreBenchmarks(b *testing.B, name string, factory StoreFactory) {
	b.Run(name+"/Set", func(b *testing.B) {
		benchmarkSet(b, factory())
	})

	b.Run(name+"/Get", func(b *testing.B) {
		benchmarkGet(b, factory())
	})

	b.Run(name+"/MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory())
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

const benchKeySpread = 1000

func benchKeys() []string {
	keys := make([]string, benchKeySpread)
	for i := range keys {
		keys[i] = fmt.Sprintf("bench-key-%d", i)
	}
	return keys
}

func benchmarkSet(b *testing.B, s store.IStore) {
	keys := benchKeys()
	value := []byte("bench-value")
	var counter atomic.Uint64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := counter.Add(1)
			_ = s.Set(keys[i%benchKeySpread], value)
		}
	})
}

func benchmarkGet(b *testing.B, s store.IStore) {
	keys := benchKeys()
	for _, k := range keys {
		_ = s.Set(k, []byte("bench-value"))
	}
	var counter atomic.Uint64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := counter.Add(1)
			_, _, _ = s.Get(keys[i%benchKeySpread])
		}
	})
}

// benchmarkMixedUsage runs 80% reads and 20% writes
func benchmarkMixedUsage(b *testing.B, s store.IStore) {
	keys := benchKeys()
	value := []byte("bench-value")
	for _, k := range keys {
		_ = s.Set(k, value)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			k := keys[r.Intn(benchKeySpread)]
			if r.Intn(10) < 8 {
				_, _, _ = s.Get(k)
			} else {
				_ = s.Set(k, value)
			}
		}
	})
}
