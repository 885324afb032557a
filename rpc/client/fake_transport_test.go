package client

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/mKV/lib/store"
	"github.com/ValentinKolb/mKV/lib/store/lstore"
	"github.com/ValentinKolb/mKV/rpc/common"
	"github.com/ValentinKolb/mKV/rpc/serializer"
	"github.com/ValentinKolb/mKV/rpc/transport"
	"sync"
)

// fakeTransport is an in-memory transport that applies requests to a local store
type fakeTransport struct {
	serializer serializer.IRPCSerializer
	store      store.IStore

	mu         sync.Mutex
	applied    []string // keys of applied requests in order
	connects   int
	closed     bool
	dead       bool
	connectErr error

	// failKey makes requests for this key fail with failErr
	failKey string
	failErr error

	// gateKey blocks requests for this key: entered is signaled, then gate is awaited
	gateKey string
	entered chan struct{}
	gate    chan struct{}
}

func newFakeTransport(s serializer.IRPCSerializer) *fakeTransport {
	return &fakeTransport{
		serializer: s,
		store:      lstore.NewLocalStore(),
		entered:    make(chan struct{}, 16),
		gate:       make(chan struct{}),
	}
}

func (f *fakeTransport) Connect(_ common.ClientConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.dead = false
	f.closed = false
	return nil
}

func (f *fakeTransport) Send(req []byte) ([]byte, error) {
	var msg common.Message
	if err := f.serializer.Deserialize(req, &msg); err != nil {
		return nil, err
	}

	f.mu.Lock()
	dead := f.dead || f.closed
	gateKey, failKey, failErr := f.gateKey, f.failKey, f.failErr
	f.mu.Unlock()

	if dead {
		return nil, transport.ErrConnectionClosed
	}

	if gateKey != "" && msg.Key == gateKey {
		f.entered <- struct{}{}
		<-f.gate
	}

	if failKey != "" && msg.Key == failKey {
		if errors.Is(failErr, transport.ErrConnectionClosed) {
			f.mu.Lock()
			f.dead = true
			f.mu.Unlock()
		}
		return nil, failErr
	}

	var resp *common.Message
	switch msg.MsgType {
	case common.MsgTKVSet:
		resp = common.NewSetResponse(f.store.Set(msg.Key, msg.Value))
	case common.MsgTKVGet:
		value, ok, err := f.store.Get(msg.Key)
		resp = common.NewGetResponse(value, ok, err)
	default:
		resp = common.NewErrorResponse(fmt.Sprintf("unimplemented command: %s", msg.MsgType))
	}

	f.mu.Lock()
	f.applied = append(f.applied, msg.Key)
	f.mu.Unlock()

	return f.serializer.Serialize(*resp)
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// appliedKeys returns a copy of the applied keys
func (f *fakeTransport) appliedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.applied...)
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}
