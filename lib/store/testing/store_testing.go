package testing

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/mKV/lib/store"
)

// StoreFactory is a function that creates a new instance of an IStore implementation
type StoreFactory func() store.IStore

// RunStoreTests runs the conformance test suite for an IStore implementation.
func RunStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory())
		})

		t.Run("Absent", func(t *testing.T) {
			testAbsent(t, factory())
		})

		t.Run("EmptyValue", func(t *testing.T) {
			testEmptyValue(t, factory())
		})

		t.Run("BinaryValue", func(t *testing.T) {
			testBinaryValue(t, factory())
		})

		t.Run("HelloWorld", func(t *testing.T) {
			testHelloWorld(t, factory())
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})

		t.Run("ConcurrentWriters", func(t *testing.T) {
			testConcurrentWriters(t, factory())
		})

		t.Run("ReadYourWrites", func(t *testing.T) {
			testReadYourWrites(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func mustSet(t testing.TB, s store.IStore, key string, value []byte) {
	t.Helper()
	if err := s.Set(key, value); err != nil {
		t.Fatalf("Set(%q) failed: %v", key, err)
	}
}

func mustGet(t testing.TB, s store.IStore, key string) ([]byte, bool) {
	t.Helper()
	value, found, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	return value, found
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, s store.IStore) {
	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	mustSet(t, s, testKey, testValue1)

	result, found := mustGet(t, s, testKey)
	if !found {
		t.Errorf("Expected key %s to exist after Set", testKey)
	}
	if !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, result)
	}

	mustSet(t, s, testKey, testValue2)

	result, found = mustGet(t, s, testKey)
	if !found {
		t.Errorf("Expected key %s to exist after Set", testKey)
	}
	if !bytes.Equal(result, testValue2) {
		t.Errorf("Expected value %s, got %s", testValue2, result)
	}

	// Get must hand out a copy
	retrieved, _ := mustGet(t, s, testKey)
	retrieved[0] = 'X'
	original, _ := mustGet(t, s, testKey)
	if bytes.Equal(retrieved, original) {
		t.Errorf("Get should return a copy, not a reference to the stored value")
	}

	// Set must keep its own copy
	input := []byte("mutable")
	mustSet(t, s, "copy-key", input)
	input[0] = 'X'
	stored, _ := mustGet(t, s, "copy-key")
	if !bytes.Equal(stored, []byte("mutable")) {
		t.Errorf("Set should store a copy, got %s", stored)
	}
}

func testAbsent(t *testing.T, s store.IStore) {
	for _, key := range []string{"never-set", "", "hello"} {
		value, found, err := s.Get(key)
		if err != nil {
			t.Errorf("Get(%q) for a missing key should not fail, got %v", key, err)
		}
		if found {
			t.Errorf("Expected missing key %q to be absent, got %q", key, value)
		}
	}
}

func testEmptyValue(t *testing.T, s store.IStore) {
	mustSet(t, s, "empty", []byte{})

	value, found := mustGet(t, s, "empty")
	if !found {
		t.Fatalf("Expected empty value to be found (absent is not the same as empty)")
	}
	if len(value) != 0 {
		t.Errorf("Expected empty value, got %q", value)
	}

	// nil is stored as an empty value as well
	mustSet(t, s, "nil", nil)
	if _, found := mustGet(t, s, "nil"); !found {
		t.Errorf("Expected nil value to be stored as empty value")
	}
}

func testBinaryValue(t *testing.T, s store.IStore) {
	value := make([]byte, 256)
	for i := range value {
		value[i] = byte(i)
	}
	mustSet(t, s, "binary", value)

	result, found := mustGet(t, s, "binary")
	if !found {
		t.Fatalf("Expected binary value to be found")
	}
	if !bytes.Equal(result, value) {
		t.Errorf("Binary value was not returned byte-exact")
	}

	large := bytes.Repeat([]byte{0x00, 0xFF, '\r', '\n'}, 64*1024)
	mustSet(t, s, "large", large)
	result, _ = mustGet(t, s, "large")
	if !bytes.Equal(result, large) {
		t.Errorf("Large value was not returned byte-exact (len %d vs %d)", len(result), len(large))
	}
}

func testHelloWorld(t *testing.T, s store.IStore) {
	if _, found := mustGet(t, s, "hello"); found {
		t.Fatalf("Expected hello to be absent before Set")
	}

	mustSet(t, s, "hello", []byte("world"))

	value, found := mustGet(t, s, "hello")
	if !found || string(value) != "world" {
		t.Errorf("Expected world, got %q (found=%v)", value, found)
	}
}

func testEdgeCases(t *testing.T, s store.IStore) {
	cases := map[string][]byte{
		"":                         []byte("empty key"),
		"key with spaces":          []byte("spaces"),
		"ключ-юникод":              []byte("unicode"),
		string([]byte{0, 1, 2, 3}): []byte("binary key"),
	}

	for key, value := range cases {
		mustSet(t, s, key, value)
	}
	for key, value := range cases {
		result, found := mustGet(t, s, key)
		if !found {
			t.Errorf("Expected key %q to exist", key)
			continue
		}
		if !bytes.Equal(result, value) {
			t.Errorf("Key %q: expected %q, got %q", key, value, result)
		}
	}
}

// testConcurrentWriters lets many goroutines write distinct keys and then checks every key.
func testConcurrentWriters(t *testing.T, s store.IStore) {
	const (
		numWorkers    = 16
		keysPerWorker = 100
	)

	var wg sync.WaitGroup
	var failures atomic.Int64
	wg.Add(numWorkers)

	for w := 0; w < numWorkers; w++ {
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < keysPerWorker; i++ {
				key := fmt.Sprintf("w%d-k%d", worker, i)
				if err := s.Set(key, []byte(key)); err != nil {
					failures.Add(1)
				}
			}
		}(w)
	}
	wg.Wait()

	if n := failures.Load(); n > 0 {
		t.Fatalf("%d concurrent Set calls failed", n)
	}

	for w := 0; w < numWorkers; w++ {
		for i := 0; i < keysPerWorker; i++ {
			key := fmt.Sprintf("w%d-k%d", w, i)
			value, found := mustGet(t, s, key)
			if !found || string(value) != key {
				t.Errorf("Key %s: expected %s, got %q (found=%v)", key, key, value, found)
			}
		}
	}
}

// testReadYourWrites checks that a Get issued after a Set returned never sees an older value,
// even while other goroutines keep writing to the same key with larger counters.
func testReadYourWrites(t *testing.T, s store.IStore) {
	const (
		numWorkers = 8
		rounds     = 100
	)
	key := "shared"

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	errs := make(chan error, numWorkers)

	// every worker writes a monotonically increasing value to its own key
	// and one shared key. Reads of the own key must never go backwards.
	for w := 0; w < numWorkers; w++ {
		go func(worker int) {
			defer wg.Done()
			own := fmt.Sprintf("own-%d", worker)
			for i := 0; i < rounds; i++ {
				v := []byte(fmt.Sprintf("%08d", i))
				if err := s.Set(own, v); err != nil {
					errs <- err
					return
				}
				if err := s.Set(key, v); err != nil {
					errs <- err
					return
				}
				got, found, err := s.Get(own)
				if err != nil {
					errs <- err
					return
				}
				if !found || !bytes.Equal(got, v) {
					errs <- fmt.Errorf("worker %d: stale read, expected %s got %q", worker, v, got)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}

	if _, found := mustGet(t, s, key); !found {
		t.Errorf("Expected shared key to exist")
	}
}
