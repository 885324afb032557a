package client

import (
	"fmt"
	"github.com/ValentinKolb/mKV/lib/store"
	"github.com/ValentinKolb/mKV/rpc/common"
	"github.com/ValentinKolb/mKV/rpc/serializer"
	"github.com/ValentinKolb/mKV/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("client")
)

// invokeRPCRequest performs exactly one round trip: it serializes the request, sends it over
// the transport and decodes the response.
// This method also checks if the response is an error response and if the type of the response is the expected type.
//
// A MsgTError response means the server rejected the command and closed the connection,
// so the returned error wraps transport.ErrConnectionClosed as well.
func invokeRPCRequest(req *common.Message, t transport.IRPCClientTransport, s serializer.IRPCSerializer) (*common.Message, error) {
	// Serialize the request
	reqBytes, err := s.Serialize(*req)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize request: %w", err)
	}

	// Send the request
	respBytes, err := t.Send(reqBytes)
	if err != nil {
		return nil, err
	}

	// Deserialize the response
	resp := &common.Message{}
	if err := s.Deserialize(respBytes, resp); err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}

	// Check if the response is an error response
	if resp.MsgType == common.MsgTError {
		return nil, fmt.Errorf("%w: server rejected %s: %w",
			transport.ErrConnectionClosed, req.MsgType, store.NewError(store.RetCUnsupportedOperation, resp.Err))
	}
	if resp.Err != "" {
		return nil, store.NewError(store.RetCInternalError, resp.Err)
	}

	// Check if the type of the response is the expected type
	if resp.MsgType != req.MsgType {
		return nil, fmt.Errorf("unexpected message type: %s, expected %s", resp.MsgType, req.MsgType)
	}

	// Return the response
	return resp, nil
}
