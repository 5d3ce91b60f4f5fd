// Package model defines the wire-independent data types shared by the
// routing, publication and transport layers: messages, addresses, routing
// entries and subscription QoS.
package model

import "time"

// Type tags the purpose of a Message so the router and request interpreters
// know how to dispatch it without inspecting the payload.
type Type string

const (
	TypeRequest             Type = "request"
	TypeReply                Type = "reply"
	TypeOneWayRequest        Type = "oneWayRequest"
	TypeSubscriptionRequest  Type = "subscriptionRequest"
	TypeSubscriptionReply    Type = "subscriptionReply"
	TypeSubscriptionStop     Type = "subscriptionStop"
	TypeSubscriptionPublish  Type = "subscriptionPublication"
	TypeMulticast            Type = "multicast"
)

// Effort is a compression/priority hint carried alongside a message; it
// never changes delivery semantics, only transport-level QoS choices made
// outside this core.
type Effort uint8

const (
	EffortNormal Effort = iota
	EffortBestEffort
)

// NoExpiry is the sentinel absolute-expiry value meaning "effectively
// infinite". It must never be compared against wall-clock time directly;
// use Message.Expired and the QoS helpers instead.
var NoExpiry = time.Time{}

// Message is immutable after construction. Payload is shared by reference
// and must never be mutated by any component that receives one.
type Message struct {
	ID          string
	Sender      string
	Recipient   string // participant id, or multicast topic for TypeMulticast
	Kind        Type
	Created     time.Time
	Expiry      time.Time // zero value (NoExpiry) means no expiry
	Effort      Effort
	Payload     []byte

	// CorrelationID carries a request's requestReplyId onto its
	// TypeReply counterpart, letting a waiter started with
	// router.Router.AwaitReply match the reply without itself being a
	// routable participant. Unused by every other message kind.
	CorrelationID string
}

// HasExpiry reports whether the message carries a finite expiry.
func (m *Message) HasExpiry() bool {
	return !m.Expiry.Equal(NoExpiry)
}

// Expired reports whether now is at or past the message's absolute expiry.
// A message with no expiry never expires.
func (m *Message) Expired(now time.Time) bool {
	if !m.HasExpiry() {
		return false
	}
	return !now.Before(m.Expiry)
}

// RemainingTTL returns the duration until expiry, or the largest
// representable duration if the message never expires. Callers use this to
// cap retry backoff against the message's own lifetime.
func (m *Message) RemainingTTL(now time.Time) time.Duration {
	if !m.HasExpiry() {
		return time.Duration(1<<63 - 1)
	}
	if m.Expiry.Before(now) {
		return 0
	}
	return m.Expiry.Sub(now)
}

// Validate enforces the construction invariant expiry >= creation.
func (m *Message) Validate() error {
	if m.HasExpiry() && m.Expiry.Before(m.Created) {
		return errInvalidExpiry
	}
	return nil
}
