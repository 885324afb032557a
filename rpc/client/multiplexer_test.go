package client

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/mKV/lib/store"
	"github.com/ValentinKolb/mKV/rpc/common"
	"github.com/ValentinKolb/mKV/rpc/serializer"
	"github.com/ValentinKolb/mKV/rpc/transport"
	gometrics "github.com/rcrowley/go-metrics"
	"reflect"
	"sync"
	"testing"
	"time"
)

const testTimeout = 5 * time.Second

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func newTestMultiplexer(t *testing.T, config common.ClientConfig) (*Multiplexer, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport(serializer.NewBinarySerializer())
	if config.Endpoint == "" {
		config.Endpoint = "fake"
	}
	m, err := NewMultiplexer(config, ft, serializer.NewBinarySerializer())
	if err != nil {
		t.Fatalf("NewMultiplexer failed: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m, ft
}

// doAsync runs Do in a goroutine and returns a channel with the outcome
func doAsync(ctx context.Context, m *Multiplexer, req *common.Message) <-chan result {
	ch := make(chan result, 1)
	go func() {
		resp, err := m.Do(ctx, req)
		ch <- result{resp: resp, err: err}
	}()
	return ch
}

// waitResult waits for an outcome of doAsync
func waitResult(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(testTimeout):
		t.Fatal("Timed out waiting for result")
		return result{}
	}
}

// waitEntered waits until the fake transport blocks on the gate key
func waitEntered(t *testing.T, ft *fakeTransport) {
	t.Helper()
	select {
	case <-ft.entered:
	case <-time.After(testTimeout):
		t.Fatal("Timed out waiting for the worker to reach the gate")
	}
}

// waitQueueLen waits until n envelopes are queued
func waitQueueLen(t *testing.T, m *Multiplexer, n int) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for len(m.queue) != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d queued envelopes, got %d", n, len(m.queue))
		}
		time.Sleep(time.Millisecond)
	}
}

// blockWorker makes the worker hang inside the round trip of a Set for "gate"
func blockWorker(t *testing.T, m *Multiplexer, ft *fakeTransport) <-chan result {
	t.Helper()
	ft.mu.Lock()
	ft.gateKey = "gate"
	ft.mu.Unlock()
	ch := doAsync(context.Background(), m, common.NewSetRequest("gate", []byte("x")))
	waitEntered(t, ft)
	return ch
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestMultiplexerSetGet(t *testing.T) {
	m, _ := newTestMultiplexer(t, common.ClientConfig{})

	resp, err := m.Do(context.Background(), common.NewGetRequest("hello"))
	if err != nil || resp.Ok {
		t.Fatalf("Expected absent marker, got %+v, %v", resp, err)
	}

	if _, err := m.Do(context.Background(), common.NewSetRequest("hello", []byte("world"))); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	resp, err = m.Do(context.Background(), common.NewGetRequest("hello"))
	if err != nil || !resp.Ok || string(resp.Value) != "world" {
		t.Fatalf("Expected world, got %+v, %v", resp, err)
	}
}

func TestMultiplexerFIFOOrder(t *testing.T) {
	m, ft := newTestMultiplexer(t, common.ClientConfig{QueueSize: 16})
	gateDone := blockWorker(t, m, ft)

	// Enqueue one by one so the enqueue order is known
	const n = 10
	results := make([]<-chan result, n)
	want := []string{"gate"}
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("k%d", i)
		results[i] = doAsync(context.Background(), m, common.NewSetRequest(key, []byte(key)))
		waitQueueLen(t, m, i+1)
		want = append(want, key)
	}

	close(ft.gate)

	if r := waitResult(t, gateDone); r.err != nil {
		t.Fatalf("Gate request failed: %v", r.err)
	}
	for i, ch := range results {
		if r := waitResult(t, ch); r.err != nil {
			t.Errorf("Request %d failed: %v", i, r.err)
		}
	}

	if got := ft.appliedKeys(); !reflect.DeepEqual(got, want) {
		t.Errorf("Requests applied out of order:\nexpected %v\ngot      %v", want, got)
	}
}

func TestMultiplexerRoutesRepliesToProducers(t *testing.T) {
	m, _ := newTestMultiplexer(t, common.ClientConfig{QueueSize: 4})

	const producers = 64
	var wg sync.WaitGroup
	errs := make(chan error, producers)

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			key := fmt.Sprintf("producer-%d", p)
			value := []byte(fmt.Sprintf("value-%d", p))

			if _, err := m.Do(context.Background(), common.NewSetRequest(key, value)); err != nil {
				errs <- err
				return
			}
			for i := 0; i < 10; i++ {
				resp, err := m.Do(context.Background(), common.NewGetRequest(key))
				if err != nil {
					errs <- err
					return
				}
				if !resp.Ok || string(resp.Value) != string(value) {
					errs <- fmt.Errorf("producer %d received %q (ok=%v)", p, resp.Value, resp.Ok)
					return
				}
			}
		}(p)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}

	if count := m.roundTrip.Count(); count != producers*11 {
		t.Errorf("Expected %d round trips, got %d", producers*11, count)
	}
}

func TestMultiplexerAbandonedBeforeSend(t *testing.T) {
	m, ft := newTestMultiplexer(t, common.ClientConfig{})
	gateDone := blockWorker(t, m, ft)

	ctx, cancel := context.WithCancel(context.Background())
	abandoned := doAsync(ctx, m, common.NewSetRequest("abandoned", []byte("x")))
	waitQueueLen(t, m, 1)
	cancel()

	r := waitResult(t, abandoned)
	if !errors.Is(r.err, ErrUnconfirmed) || !errors.Is(r.err, context.Canceled) {
		t.Fatalf("Expected unconfirmed cancel error, got %v", r.err)
	}

	next := doAsync(context.Background(), m, common.NewSetRequest("next", []byte("y")))
	waitQueueLen(t, m, 2)
	close(ft.gate)

	waitResult(t, gateDone)
	if r := waitResult(t, next); r.err != nil {
		t.Fatalf("Request after abandoned one failed: %v", r.err)
	}

	for _, key := range ft.appliedKeys() {
		if key == "abandoned" {
			t.Error("Abandoned request was sent")
		}
	}
	if n := m.abandoned.Count(); n != 1 {
		t.Errorf("Expected 1 abandoned envelope, got %d", n)
	}
}

func TestMultiplexerAbandonedDuringRoundTrip(t *testing.T) {
	m, ft := newTestMultiplexer(t, common.ClientConfig{})
	ft.mu.Lock()
	ft.gateKey = "slow"
	ft.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	slow := doAsync(ctx, m, common.NewSetRequest("slow", []byte("x")))
	waitEntered(t, ft)

	// The producer leaves while the worker waits for the response
	cancel()
	if r := waitResult(t, slow); !errors.Is(r.err, ErrUnconfirmed) {
		t.Fatalf("Expected ErrUnconfirmed, got %v", r.err)
	}

	next := doAsync(context.Background(), m, common.NewGetRequest("slow"))
	close(ft.gate)

	// Delivering to the vanished producer must not block the worker
	r := waitResult(t, next)
	if r.err != nil {
		t.Fatalf("Request after abandoned one failed: %v", r.err)
	}
	// The abandoned Set was applied nonetheless: its outcome is unconfirmed, not failed
	if !r.resp.Ok || string(r.resp.Value) != "x" {
		t.Errorf("Expected the abandoned set to be applied, got %+v", r.resp)
	}
	if n := m.abandoned.Count(); n != 1 {
		t.Errorf("Expected 1 abandoned envelope, got %d", n)
	}
}

func TestMultiplexerSingleFailureDoesNotStopWorker(t *testing.T) {
	m, ft := newTestMultiplexer(t, common.ClientConfig{})
	ft.mu.Lock()
	ft.failKey = "broken"
	ft.failErr = errors.New("malformed response")
	ft.mu.Unlock()

	_, err := m.Do(context.Background(), common.NewSetRequest("broken", []byte("x")))
	if !errors.Is(err, ErrUnconfirmed) {
		t.Fatalf("Expected ErrUnconfirmed, got %v", err)
	}

	if _, err := m.Do(context.Background(), common.NewSetRequest("fine", []byte("y"))); err != nil {
		t.Fatalf("Worker stopped after a single failure: %v", err)
	}
	if n := m.failures.Count(); n != 1 {
		t.Errorf("Expected 1 failure, got %d", n)
	}
	if ft.connectCount() != 1 {
		t.Errorf("Unexpected reconnect after a non connection failure")
	}
}

func TestMultiplexerServerErrorIsUnconfirmed(t *testing.T) {
	m, ft := newTestMultiplexer(t, common.ClientConfig{RetryCount: 1})

	_, err := m.Do(context.Background(), &common.Message{MsgType: common.MessageType(99), Key: "x"})
	if !errors.Is(err, ErrUnconfirmed) {
		t.Fatalf("Expected ErrUnconfirmed, got %v", err)
	}
	var storeErr *store.Error
	if !errors.As(err, &storeErr) || storeErr.Code != store.RetCUnsupportedOperation {
		t.Errorf("Expected store error with unsupported operation code, got %v", err)
	}

	// The server closes the connection after an error response, the worker reconnects
	if _, err := m.Do(context.Background(), common.NewGetRequest("x")); err != nil {
		t.Fatalf("Request after server error failed: %v", err)
	}
	if ft.connectCount() != 2 {
		t.Errorf("Expected one reconnect, got %d connects", ft.connectCount())
	}
}

func TestMultiplexerReconnect(t *testing.T) {
	m, ft := newTestMultiplexer(t, common.ClientConfig{RetryCount: 3})
	ft.mu.Lock()
	ft.failKey = "drop"
	ft.failErr = fmt.Errorf("%w: reset by peer", transport.ErrConnectionClosed)
	ft.mu.Unlock()

	_, err := m.Do(context.Background(), common.NewSetRequest("drop", []byte("x")))
	if !errors.Is(err, ErrUnconfirmed) || !errors.Is(err, transport.ErrConnectionClosed) {
		t.Fatalf("Expected unconfirmed connection error, got %v", err)
	}

	if _, err := m.Do(context.Background(), common.NewSetRequest("after", []byte("y"))); err != nil {
		t.Fatalf("Request after reconnect failed: %v", err)
	}
	if ft.connectCount() != 2 {
		t.Errorf("Expected 2 connects, got %d", ft.connectCount())
	}
	if m.Err() != nil {
		t.Errorf("Expected no terminal error, got %v", m.Err())
	}
}

func TestMultiplexerDeadConnectionDrainsQueue(t *testing.T) {
	m, ft := newTestMultiplexer(t, common.ClientConfig{RetryCount: 2})

	// The gate request kills the connection once released, reconnects fail
	ft.mu.Lock()
	ft.failKey = "gate"
	ft.failErr = fmt.Errorf("%w: broken pipe", transport.ErrConnectionClosed)
	ft.connectErr = errors.New("connection refused")
	ft.mu.Unlock()
	gateDone := blockWorker(t, m, ft)

	const queued = 5
	results := make([]<-chan result, queued)
	for i := 0; i < queued; i++ {
		results[i] = doAsync(context.Background(), m, common.NewGetRequest(fmt.Sprintf("q%d", i)))
		waitQueueLen(t, m, i+1)
	}

	close(ft.gate)

	// The request that was on the wire is unconfirmed
	r := waitResult(t, gateDone)
	if !errors.Is(r.err, ErrUnconfirmed) {
		t.Errorf("Expected ErrUnconfirmed for in-flight request, got %v", r.err)
	}

	// Everything queued fails uniformly
	for i, ch := range results {
		r := waitResult(t, ch)
		if !errors.Is(r.err, ErrClosed) || !errors.Is(r.err, transport.ErrConnectionClosed) {
			t.Errorf("Queued request %d: expected ErrClosed wrapping ErrConnectionClosed, got %v", i, r.err)
		}
	}

	select {
	case <-m.Done():
	case <-time.After(testTimeout):
		t.Fatal("Worker did not exit")
	}

	if m.Err() == nil {
		t.Error("Expected terminal error")
	}
	if _, err := m.Do(context.Background(), common.NewGetRequest("late")); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed for late request, got %v", err)
	}
	if !ft.isClosed() {
		t.Error("Transport was not closed")
	}
	if len(ft.appliedKeys()) != 0 {
		t.Errorf("No queued request should have been applied, got %v", ft.appliedKeys())
	}
}

func TestMultiplexerBackpressure(t *testing.T) {
	m, ft := newTestMultiplexer(t, common.ClientConfig{QueueSize: 1})
	gateDone := blockWorker(t, m, ft)

	queued := doAsync(context.Background(), m, common.NewSetRequest("queued", []byte("x")))
	waitQueueLen(t, m, 1)

	// The queue is full: the producer blocks until its context ends and the request is never sent
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := m.Do(ctx, common.NewSetRequest("rejected", []byte("x")))
	if !errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrUnconfirmed) {
		t.Fatalf("Expected plain deadline error, got %v", err)
	}

	// A blocked producer does not disturb requests that were queued before
	close(ft.gate)
	waitResult(t, gateDone)
	if r := waitResult(t, queued); r.err != nil {
		t.Fatalf("Queued request failed: %v", r.err)
	}

	for _, key := range ft.appliedKeys() {
		if key == "rejected" {
			t.Error("Rejected request was sent")
		}
	}
}

func TestMultiplexerCloseProcessesQueued(t *testing.T) {
	m, ft := newTestMultiplexer(t, common.ClientConfig{})
	gateDone := blockWorker(t, m, ft)

	const queued = 3
	results := make([]<-chan result, queued)
	for i := 0; i < queued; i++ {
		results[i] = doAsync(context.Background(), m, common.NewSetRequest(fmt.Sprintf("c%d", i), []byte("v")))
		waitQueueLen(t, m, i+1)
	}

	closed := make(chan error, 1)
	go func() { closed <- m.Close() }()

	// New requests are refused while closing
	select {
	case <-m.stopping:
	case <-time.After(testTimeout):
		t.Fatal("Close did not start stopping")
	}
	if _, err := m.Do(context.Background(), common.NewGetRequest("late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Expected ErrClosed while closing, got %v", err)
	}

	close(ft.gate)

	waitResult(t, gateDone)
	for i, ch := range results {
		if r := waitResult(t, ch); r.err != nil {
			t.Errorf("Queued request %d failed during close: %v", i, r.err)
		}
	}

	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("Close returned error: %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("Close did not return")
	}

	if !ft.isClosed() {
		t.Error("Transport was not closed")
	}
	if m.Err() != nil {
		t.Errorf("Expected no terminal error after regular close, got %v", m.Err())
	}
}

func TestMultiplexerMetricsRegistry(t *testing.T) {
	m, _ := newTestMultiplexer(t, common.ClientConfig{})

	if _, err := m.Do(context.Background(), common.NewSetRequest("k", []byte("v"))); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	for _, name := range []string{MetricRoundTrip, MetricFailures, MetricAbandoned, MetricQueueDepth, MetricReconnects} {
		if m.Metrics().Get(name) == nil {
			t.Errorf("Metric %s not registered", name)
		}
	}
	timer, ok := m.Metrics().Get(MetricRoundTrip).(gometrics.Timer)
	if !ok || timer.Count() != 1 {
		t.Errorf("Expected one round trip in the timer")
	}
}

func TestNewMultiplexerConnectError(t *testing.T) {
	ft := newFakeTransport(serializer.NewBinarySerializer())
	ft.connectErr = errors.New("refused")
	if _, err := NewMultiplexer(common.ClientConfig{Endpoint: "fake"}, ft, serializer.NewBinarySerializer()); err == nil {
		t.Fatal("Expected connect error")
	}
}
