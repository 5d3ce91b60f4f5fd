package uds

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bmwcarit/joynr-cc/internal/log"
	"github.com/bmwcarit/joynr-cc/internal/model"
	"github.com/bmwcarit/joynr-cc/internal/router"
	"github.com/bmwcarit/joynr-cc/internal/wireformat"
)

// ParticipantTransport implements router.Transport for participants
// reachable over a UDS connection. It tracks the live Sender for every
// connected client id, as handed to ServerConfig.OnConnected /
// ClientConfig.OnConnected, so the router can address a participant by
// client id without knowing which physical connection backs it.
type ParticipantTransport struct {
	mu         sync.RWMutex
	senders    map[string]Sender
	serializer wireformat.Serializer
	logger     zerolog.Logger
}

// NewParticipantTransport constructs a ParticipantTransport.
func NewParticipantTransport(serializer wireformat.Serializer) *ParticipantTransport {
	return &ParticipantTransport{
		senders:    make(map[string]Sender),
		serializer: serializer,
		logger:     log.WithComponent("uds-transport"),
	}
}

// Register associates clientID with sender, called from OnConnected.
func (t *ParticipantTransport) Register(clientID string, sender Sender) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.senders[clientID] = sender
}

// Unregister drops clientID, called from OnDisconnected.
func (t *ParticipantTransport) Unregister(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.senders, clientID)
}

// Send implements router.Transport. Handoff to the connection's bounded
// send queue is asynchronous; a successful handoff is reported as
// Delivered, and any later queue-eviction or write failure is logged
// rather than fed back through the router's retry path — the send queue
// already applies its own bounded-retention policy (spec §4.4), so a
// second independent retry loop on top of it would fight the same
// backpressure decision twice.
func (t *ParticipantTransport) Send(addr model.Address, msg *model.Message) router.SendResult {
	if addr.Kind != model.AddressUds {
		return router.SendResult{Err: fmt.Errorf("uds transport: unsupported address kind %v", addr.Kind)}
	}

	t.mu.RLock()
	sender, ok := t.senders[addr.UdsClientID]
	t.mu.RUnlock()
	if !ok {
		return router.SendResult{Retry: true}
	}

	body, err := t.serializer.Serialize(msg)
	if err != nil {
		return router.SendResult{Err: fmt.Errorf("uds transport: failed to serialise message: %w", err)}
	}

	sender.Send(body, func(err error) {
		t.logger.Warn().Err(err).Str("client", addr.UdsClientID).Msg("uds message send failed after handoff")
	})
	return router.SendResult{Delivered: true}
}
