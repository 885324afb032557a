package client

import (
	"bytes"
	"context"
	"github.com/ValentinKolb/mKV/lib/store"
	"github.com/ValentinKolb/mKV/rpc/common"
	"github.com/ValentinKolb/mKV/rpc/serializer"
	"github.com/ValentinKolb/mKV/rpc/transport"
	gometrics "github.com/rcrowley/go-metrics"
)

// NewRPCStore creates a new RPC store
// The function takes a config, a transport and a serializer as parameters.
// All calls of the returned store share one connection through a Multiplexer.
func NewRPCStore(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*RPCStore, error) {
	mux, err := NewMultiplexer(config, transport, serializer)
	if err != nil {
		return nil, err
	}
	return &RPCStore{mux: mux}, nil
}

// RPCStore implements store.IStore on top of a remote server.
// It is safe for concurrent use.
type RPCStore struct {
	mux *Multiplexer
}

var _ store.IStore = (*RPCStore)(nil)

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (s *RPCStore) Set(key string, value []byte) error {
	return s.SetContext(context.Background(), key, value)
}

func (s *RPCStore) Get(key string) ([]byte, bool, error) {
	return s.GetContext(context.Background(), key)
}

// --------------------------------------------------------------------------
// Context aware variants
// --------------------------------------------------------------------------

// SetContext stores value under key. The value is copied, the caller may reuse it
// even if ctx ends before the request was sent.
func (s *RPCStore) SetContext(ctx context.Context, key string, value []byte) error {
	req := common.NewSetRequest(key, bytes.Clone(value))
	_, err := s.mux.Do(ctx, req)
	return err
}

// GetContext returns the value for key. An absent key is not an error: loaded is false.
// A present empty value is returned as a non-nil empty slice.
func (s *RPCStore) GetContext(ctx context.Context, key string) (value []byte, loaded bool, err error) {
	req := common.NewGetRequest(key)
	resp, err := s.mux.Do(ctx, req)
	if err != nil {
		return nil, false, err
	}
	if !resp.Ok {
		return nil, false, nil
	}
	// json and gob drop empty values
	if resp.Value == nil {
		return []byte{}, true, nil
	}
	return resp.Value, true, nil
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Close processes the requests that are already queued and closes the connection
func (s *RPCStore) Close() error {
	return s.mux.Close()
}

// Done returns a channel that is closed when the connection is gone for good or after Close
func (s *RPCStore) Done() <-chan struct{} {
	return s.mux.Done()
}

// Err returns why the store stopped itself, nil while running or after Close
func (s *RPCStore) Err() error {
	return s.mux.Err()
}

// Metrics returns the client metrics (round trip timer, failure counters, queue depth)
func (s *RPCStore) Metrics() gometrics.Registry {
	return s.mux.Metrics()
}
