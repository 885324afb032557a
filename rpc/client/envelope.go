package client

import (
	"context"
	"github.com/ValentinKolb/mKV/rpc/common"
	"github.com/google/uuid"
	"sync/atomic"
)

// result is the outcome delivered through a reply slot
type result struct {
	resp *common.Message
	err  error
}

// envelope is one pending request together with its private reply slot.
// The reply slot is signaled at most once by the multiplexer and read at most once
// by the producer that created the envelope.
type envelope struct {
	id        uuid.UUID
	ctx       context.Context
	req       *common.Message
	reply     chan result // capacity 1, so signaling never blocks
	delivered bool        // only touched by the multiplexer goroutine
	abandoned atomic.Bool // set by the producer when it stops waiting
}

func newEnvelope(ctx context.Context, req *common.Message) *envelope {
	if ctx == nil {
		ctx = context.Background()
	}
	return &envelope{
		id:    uuid.New(),
		ctx:   ctx,
		req:   req,
		reply: make(chan result, 1),
	}
}

// deliver signals the reply slot. Delivering to an abandoned slot is a no-op,
// the result is dropped together with the envelope.
// It reports false if the producer was already gone.
func (e *envelope) deliver(r result) bool {
	if e.delivered {
		Logger.Warningf("Envelope %s: reply slot signaled twice, dropping second result", e.id)
		return false
	}
	e.delivered = true
	e.reply <- r
	return !e.abandoned.Load()
}

// abandon marks the envelope as no longer awaited
func (e *envelope) abandon() {
	e.abandoned.Store(true)
}
