package server

import (
	"github.com/ValentinKolb/mKV/lib/store"
	"github.com/ValentinKolb/mKV/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handle handles a request and returns a response
	// It takes a Message and a store as parameters.
	// It returns a Message as a response. Store errors are set in the response.
	// A non-nil error (wrapping transport.ErrUnsupportedCommand) is fatal for
	// the connection the request arrived on, the response is still sent first.
	Handle(req *common.Message, store store.IStore) (resp *common.Message, err error)
}
