// Package errs collects the sentinel errors shared across the cluster
// controller's components, per SPEC_FULL.md's ambient error-handling
// note: component-local errors are plain errors.New/fmt.Errorf values,
// not a shared exception hierarchy.
package errs

import "errors"

var (
	// ErrNoRoute names the case of a recipient with no known next hop.
	// The router does not return it: such a message is queued pending a
	// route without any error being reported.
	ErrNoRoute = errors.New("router: no known route for recipient, message queued")

	// ErrUnroutable names the case of a message that can never be routed.
	// The router does not return it: a queued message whose route never
	// appears is dropped silently once its TTL expires.
	ErrUnroutable = errors.New("router: recipient is unroutable")

	// ErrTTLExpired is returned when a message's TTL elapsed before it
	// could be delivered or retried further.
	ErrTTLExpired = errors.New("router: message ttl expired before delivery")

	// ErrSubscriptionNotFound is returned by the subscription store for
	// operations on an unknown subscription id.
	ErrSubscriptionNotFound = errors.New("substore: subscription not found")

	// ErrShuttingDown names the rejection of new work while a component
	// drains for shutdown. No component in this module returns it.
	ErrShuttingDown = errors.New("component is shutting down")

	// ErrRequestTimeout is returned by router.Router.AwaitReply when no
	// matching reply arrives before the caller's deadline.
	ErrRequestTimeout = errors.New("router: no reply received before deadline")
)
