package server

import (
	"fmt"
	"github.com/ValentinKolb/mKV/lib/store"
	"github.com/ValentinKolb/mKV/lib/store/lstore"
	"github.com/ValentinKolb/mKV/lib/store/sstore"
	"github.com/ValentinKolb/mKV/rpc/common"
	"github.com/ValentinKolb/mKV/rpc/serializer"
	"github.com/ValentinKolb/mKV/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"os/signal"
	"runtime"
	"syscall"
	"time"
)

var Logger = logger.GetLogger("rpc")

// Stats contains request counters of one server instance
type Stats struct {
	Requests    int64 // all received requests
	FatalErrors int64 // requests that closed their connection (decode failure, unsupported command)
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPDefaultServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *rpcServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	if config.Endpoint == "" {
		config.Endpoint = common.DefaultEndpoint
	}

	return &rpcServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		adapter:    NewIStoreServerAdapter(),
		requests:   xsync.NewCounter(),
		fatal:      xsync.NewCounter(),
	}
}

type rpcServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	adapter    IRPCServerAdapter
	store      store.IStore
	requests   *xsync.Counter
	fatal      *xsync.Counter
}

// NewStoreFactory returns the store factory selected by the config:
// a single lock store for Shards <= 1, a sharded store otherwise
func NewStoreFactory(config common.ServerConfig) store.Factory {
	if config.IsSharded() {
		return func() store.IStore {
			return sstore.NewShardedStore(&sstore.Options{NumShards: config.Shards})
		}
	}
	return lstore.NewLocalStore
}

// handle processes one request payload and returns the response payload.
// A returned error closes the connection after the response was written.
func (s *rpcServer) handle(req []byte) ([]byte, error) {
	s.requests.Inc()

	// Decode the request
	var msg common.Message
	if err := s.serializer.Deserialize(req, &msg); err != nil {
		decodeErrors.Inc()
		s.fatal.Inc()
		resp, _ := s.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err)))
		return resp, fmt.Errorf("failed to deserialize request: %w", err)
	}

	// Let the adapter handle the request
	start := time.Now()
	respMsg, handleErr := s.adapter.Handle(&msg, s.store)
	commandDuration.UpdateDuration(start)
	countCommand(msg.MsgType)
	if handleErr != nil {
		s.fatal.Inc()
	}

	// Return result
	resp, err := s.serializer.Serialize(*respMsg)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize response: %w", err)
	}
	return resp, handleErr
}

func (s *rpcServer) init() error {
	// Init logger
	if s.config.LogLevel != "" {
		if err := common.InitLoggers(s.config.LogLevel); err != nil {
			return err
		}
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof("%s", s.config.String())

	// Create the shared store
	s.store = NewStoreFactory(s.config)()
	if s.config.IsSharded() {
		Logger.Infof("created sharded store with %d shards", s.config.Shards)
	} else {
		Logger.Infof("created single lock store")
	}

	// Configure the transport layer
	s.transport.RegisterHandler(s.handle)

	return nil
}

// Serve starts the RPC server
// This function will also initialize the store and start the transport layer.
// It blocks until Close is called.
func (s *rpcServer) Serve() error {
	if err := s.init(); err != nil {
		return err
	}
	return s.transport.Listen(s.config)
}

// Close stops the transport: no new connections are accepted and live ones are closed
func (s *rpcServer) Close() error {
	err := s.transport.Close()
	stats := s.Stats()
	Logger.Infof("RPC Server stopped after %d requests (%d fatal)", stats.Requests, stats.FatalErrors)
	return err
}

// Stats returns the request counters of this server
func (s *rpcServer) Stats() Stats {
	return Stats{
		Requests:    s.requests.Value(),
		FatalErrors: s.fatal.Value(),
	}
}
