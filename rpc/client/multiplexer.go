package client

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/mKV/rpc/common"
	"github.com/ValentinKolb/mKV/rpc/serializer"
	"github.com/ValentinKolb/mKV/rpc/transport"
	gometrics "github.com/rcrowley/go-metrics"
	"math/rand"
	"sync"
	"time"
)

var (
	// ErrClosed is returned when the multiplexer was closed or stopped itself because the
	// connection could not be restored. Requests failing with ErrClosed were never sent.
	ErrClosed = errors.New("multiplexer closed")

	// ErrUnconfirmed wraps every failure of a request that was handed to the multiplexer.
	// The request may or may not have been applied by the server.
	ErrUnconfirmed = errors.New("operation not confirmed")
)

// Names of the metrics in the registry returned by Multiplexer.Metrics
const (
	MetricRoundTrip  = "mkv.client.round_trip"
	MetricFailures   = "mkv.client.failures"
	MetricAbandoned  = "mkv.client.abandoned"
	MetricQueueDepth = "mkv.client.queue_depth"
	MetricReconnects = "mkv.client.reconnects"
)

// Multiplexer serializes requests of any number of goroutines onto a single connection.
// One worker goroutine owns the transport, producers hand it envelopes through a
// bounded FIFO queue and wait on the envelope's private reply slot.
type Multiplexer struct {
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer

	queue    chan *envelope
	stopping chan struct{} // closed by Close or when the connection is gone for good
	stopOnce sync.Once
	done     chan struct{} // closed when the worker exited

	mu      sync.Mutex
	connErr error // why the worker stopped itself (nil after a regular Close)

	registry   gometrics.Registry
	roundTrip  gometrics.Timer
	failures   gometrics.Counter
	abandoned  gometrics.Counter
	reconnects gometrics.Counter
	queueDepth gometrics.Gauge
}

// NewMultiplexer connects the transport and starts the worker goroutine.
// The multiplexer takes ownership of the transport.
func NewMultiplexer(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*Multiplexer, error) {
	if config.Endpoint == "" {
		config.Endpoint = common.DefaultEndpoint
	}

	// Connect the transport
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	registry := gometrics.NewRegistry()
	m := &Multiplexer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		queue:      make(chan *envelope, config.GetQueueSize()),
		stopping:   make(chan struct{}),
		done:       make(chan struct{}),
		registry:   registry,
		roundTrip:  gometrics.NewRegisteredTimer(MetricRoundTrip, registry),
		failures:   gometrics.NewRegisteredCounter(MetricFailures, registry),
		abandoned:  gometrics.NewRegisteredCounter(MetricAbandoned, registry),
		reconnects: gometrics.NewRegisteredCounter(MetricReconnects, registry),
		queueDepth: gometrics.NewRegisteredGauge(MetricQueueDepth, registry),
	}

	go m.run()

	Logger.Infof("Multiplexer started for %s (queue size %d)", config.Endpoint, cap(m.queue))
	return m, nil
}

// --------------------------------------------------------------------------
// Producer side
// --------------------------------------------------------------------------

// Do enqueues the request and waits for its response.
// Enqueueing blocks while the queue is full. If ctx ends before the request was
// enqueued, ctx.Err() is returned and the request is never sent. If ctx ends
// afterward, the returned error wraps ErrUnconfirmed and ctx.Err().
// Failures of the round trip wrap ErrUnconfirmed.
func (m *Multiplexer) Do(ctx context.Context, req *common.Message) (*common.Message, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	// Refuse new work once stopping, even if the queue has room
	select {
	case <-m.stopping:
		return nil, m.closedErr()
	default:
	}

	env := newEnvelope(ctx, req)

	select {
	case m.queue <- env:
		m.queueDepth.Update(int64(len(m.queue)))
	case <-m.stopping:
		return nil, m.closedErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-env.reply:
		return r.resp, r.err
	case <-ctx.Done():
		env.abandon()
		return nil, fmt.Errorf("%w: %w", ErrUnconfirmed, ctx.Err())
	case <-m.done:
		// The worker may have replied right before exiting
		select {
		case r := <-env.reply:
			return r.resp, r.err
		default:
		}
		return nil, fmt.Errorf("%w: %w", ErrUnconfirmed, m.closedErr())
	}
}

// Close stops accepting requests, processes the requests that are already queued
// and closes the connection. It blocks until the worker exited.
func (m *Multiplexer) Close() error {
	m.stop()
	<-m.done
	return nil
}

// Err returns why the multiplexer stopped itself, nil while running or after Close
func (m *Multiplexer) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connErr
}

// Done returns a channel that is closed when the worker exited
func (m *Multiplexer) Done() <-chan struct{} {
	return m.done
}

// Metrics returns the registry with the multiplexer's metrics (see the Metric* names)
func (m *Multiplexer) Metrics() gometrics.Registry {
	return m.registry
}

// closedErr returns ErrClosed, wrapping the connection error if there is one
func (m *Multiplexer) closedErr() error {
	if err := m.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return ErrClosed
}

func (m *Multiplexer) stop() {
	m.stopOnce.Do(func() { close(m.stopping) })
}

// --------------------------------------------------------------------------
// Worker side
// --------------------------------------------------------------------------

// run is the worker loop. It is the only goroutine that uses the transport.
func (m *Multiplexer) run() {
	defer func() {
		if err := m.transport.Close(); err != nil {
			Logger.Warningf("Failed to close transport: %v", err)
		}
		close(m.done)
		Logger.Infof("Multiplexer stopped")
	}()

	for {
		select {
		case env := <-m.queue:
			if !m.process(env) {
				m.drain()
				return
			}
		case <-m.stopping:
			// Process what was queued before Close
			for {
				select {
				case env := <-m.queue:
					if !m.process(env) {
						m.drain()
						return
					}
				default:
					return
				}
			}
		}
	}
}

// process performs the round trip for one envelope and delivers the outcome.
// It returns false if the connection is gone and could not be restored.
func (m *Multiplexer) process(env *envelope) bool {
	m.queueDepth.Update(int64(len(m.queue)))

	// The producer left before the request was sent, skip the round trip
	if err := env.ctx.Err(); err != nil {
		m.abandoned.Inc(1)
		Logger.Debugf("Envelope %s: producer gone before send, skipping %s", env.id, env.req.MsgType)
		env.deliver(result{err: fmt.Errorf("%w: %w", ErrUnconfirmed, err)})
		return true
	}

	start := time.Now()
	resp, err := invokeRPCRequest(env.req, m.transport, m.serializer)
	m.roundTrip.UpdateSince(start)

	if err == nil {
		if !env.deliver(result{resp: resp}) {
			m.abandoned.Inc(1)
			Logger.Debugf("Envelope %s: producer gone, dropping %s response", env.id, env.req.MsgType)
		}
		return true
	}

	m.failures.Inc(1)
	Logger.Warningf("Envelope %s: %s failed: %v", env.id, env.req.MsgType, err)
	if !env.deliver(result{err: fmt.Errorf("%w: %w", ErrUnconfirmed, err)}) {
		m.abandoned.Inc(1)
	}

	// A single failure does not stop the worker, a dead handle must be restored first
	if !errors.Is(err, transport.ErrConnectionClosed) {
		return true
	}
	if rerr := m.reconnect(); rerr != nil {
		Logger.Errorf("Connection to %s lost: %v", m.config.Endpoint, rerr)
		m.mu.Lock()
		m.connErr = fmt.Errorf("%w (reconnect failed: %v)", err, rerr)
		m.mu.Unlock()
		m.stop()
		return false
	}
	return true
}

// reconnect tries to restore the connection up to RetryCount times with exponential backoff
func (m *Multiplexer) reconnect() error {
	if m.config.RetryCount <= 0 {
		return fmt.Errorf("reconnect disabled")
	}

	// Initial backoff duration in milliseconds
	backoffMs := 50

	var err error
	for i := 0; i < m.config.RetryCount; i++ {
		if i > 0 {
			// Exponential backoff with a small random jitter (+-10%)
			jitter := float64(backoffMs) * (0.9 + 0.2*rand.Float64())
			select {
			case <-time.After(time.Duration(jitter) * time.Millisecond):
			case <-m.stopping:
				return fmt.Errorf("closed while reconnecting: %w", err)
			}
			backoffMs *= 2
		}

		m.reconnects.Inc(1)
		if err = m.transport.Connect(m.config); err == nil {
			Logger.Infof("Reconnected to %s after %d attempt(s)", m.config.Endpoint, i+1)
			return nil
		}
		Logger.Warningf("Reconnect attempt %d/%d failed: %v", i+1, m.config.RetryCount, err)
	}
	return err
}

// drain fails every queued envelope with the same connection closed error.
// Called after the worker stopped itself, no new envelopes are accepted anymore.
func (m *Multiplexer) drain() {
	err := m.closedErr()
	n := 0
	for {
		select {
		case env := <-m.queue:
			env.deliver(result{err: err})
			n++
		default:
			if n > 0 {
				Logger.Warningf("Failed %d queued request(s): %v", n, err)
			}
			m.queueDepth.Update(0)
			return
		}
	}
}
