package router

import (
	"fmt"
	"strings"

	"github.com/bmwcarit/joynr-cc/internal/model"
	"github.com/bmwcarit/joynr-cc/internal/multicast"
)

// multicastID is the parsed form of a multicast message's Recipient:
// "{providerParticipantId}/{multicastName}/{partition}/{partition}...".
type multicastID struct {
	Provider   string
	Name       string
	Partitions []string
}

// parseMulticastID splits a multicast recipient string into its provider,
// event name and fired partitions.
func parseMulticastID(recipient string) (multicastID, error) {
	parts := strings.Split(recipient, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return multicastID{}, fmt.Errorf("router: malformed multicast id %q", recipient)
	}
	return multicastID{
		Provider:   parts[0],
		Name:       parts[1],
		Partitions: parts[2:],
	}, nil
}

// routeMulticast fans a multicast message out to every subscriber whose
// partition pattern matches the fired partitions (spec §4.8, §4.11). One
// copy of the message is enqueued per matching subscriber, addressed to
// that subscriber's participant id.
func (r *Router) routeMulticast(msg *model.Message) {
	id, err := parseMulticastID(msg.Recipient)
	if err != nil {
		r.logger.Warn().Err(err).Msg("dropping unroutable multicast message")
		return
	}
	if err := multicast.ValidateFire(id.Partitions); err != nil {
		r.logger.Warn().Err(err).Str("recipient", msg.Recipient).Msg("dropping multicast message fired with wildcard partitions")
		return
	}

	subs := r.subs.ByEvent(id.Provider, id.Name)
	for _, sub := range subs {
		if sub.Kind != model.SubscriptionMulticast {
			continue
		}
		if !multicast.Matches(sub.Partitions, id.Partitions) {
			continue
		}

		cp := *msg
		cp.ID = msg.ID + "#" + sub.SubscriberID
		cp.Recipient = sub.SubscriberID
		r.routeResolved(&cp, func(error) {})
	}
}
