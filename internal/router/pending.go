package router

import (
	"context"
	"sync"

	"github.com/bmwcarit/joynr-cc/internal/errs"
	"github.com/bmwcarit/joynr-cc/internal/model"
)

// pendingRequests correlates outbound requests with their inbound
// replies by requestReplyId (model.Message.CorrelationID), so a caller
// of AwaitReply can block for its own reply without being a routable
// participant itself. Grounded on the teacher's pkg/client request/
// response RPC helper, generalised from a single in-flight call to a
// concurrent map of them.
type pendingRequests struct {
	mu      sync.Mutex
	waiters map[string]chan *model.Message
}

func newPendingRequests() *pendingRequests {
	return &pendingRequests{waiters: make(map[string]chan *model.Message)}
}

func (p *pendingRequests) register(correlationID string) chan *model.Message {
	ch := make(chan *model.Message, 1)
	p.mu.Lock()
	p.waiters[correlationID] = ch
	p.mu.Unlock()
	return ch
}

func (p *pendingRequests) unregister(correlationID string) {
	p.mu.Lock()
	delete(p.waiters, correlationID)
	p.mu.Unlock()
}

// resolve delivers msg to the waiter registered for correlationID, if
// any, and reports whether one was found.
func (p *pendingRequests) resolve(correlationID string, msg *model.Message) bool {
	p.mu.Lock()
	ch, ok := p.waiters[correlationID]
	if ok {
		delete(p.waiters, correlationID)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- msg
	return true
}

// AwaitReply blocks until a TypeReply message carrying correlationID is
// routed through this Router, or ctx is done. Intended for a
// request-sending caller that is not itself a routable participant (a
// proxy stub awaiting its own call's result).
func (r *Router) AwaitReply(ctx context.Context, correlationID string) (*model.Message, error) {
	ch := r.pending.register(correlationID)
	select {
	case msg := <-ch:
		return msg, nil
	case <-ctx.Done():
		r.pending.unregister(correlationID)
		return nil, errs.ErrRequestTimeout
	}
}
