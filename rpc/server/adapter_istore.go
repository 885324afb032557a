package server

import (
	"fmt"
	"github.com/ValentinKolb/mKV/lib/store"
	"github.com/ValentinKolb/mKV/rpc/common"
	"github.com/ValentinKolb/mKV/rpc/transport"
)

// NewIStoreServerAdapter creates the adapter that maps Get and Set requests onto a store.IStore
func NewIStoreServerAdapter() IRPCServerAdapter {
	return &iStoreServerAdapterImpl{}
}

type iStoreServerAdapterImpl struct{}

func (adapter *iStoreServerAdapterImpl) Handle(req *common.Message, store store.IStore) (*common.Message, error) {
	// Check for nil store
	if store == nil {
		return common.NewErrorResponse("handler: store is nil"), nil
	}

	if !req.MsgType.IsSupported() {
		return common.NewErrorResponse(fmt.Sprintf("unimplemented command: %s", req.MsgType)),
			fmt.Errorf("%w: %s", transport.ErrUnsupportedCommand, req.MsgType)
	}

	if req.MsgType == common.MsgTKVSet {
		err := store.Set(req.Key, req.Value)
		return common.NewSetResponse(err), nil
	}
	val, ok, err := store.Get(req.Key)
	return common.NewGetResponse(val, ok, err), nil
}
