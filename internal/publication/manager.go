// Package publication implements the publication manager from spec
// §4.10: attribute on-change/keep-alive publications, selective
// broadcast filter chains, multicast fan-out triggers, TTL uplift, and
// the PENDING_REGISTRATION -> ACTIVE -> STOPPED|EXPIRED subscription
// state machine.
package publication

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bmwcarit/joynr-cc/internal/errs"
	"github.com/bmwcarit/joynr-cc/internal/log"
	"github.com/bmwcarit/joynr-cc/internal/metrics"
	"github.com/bmwcarit/joynr-cc/internal/model"
	"github.com/bmwcarit/joynr-cc/internal/multicast"
	"github.com/bmwcarit/joynr-cc/internal/router"
	"github.com/bmwcarit/joynr-cc/internal/substore"
	"github.com/bmwcarit/joynr-cc/internal/timer"
)

// AttributeSource fetches the current value of a provider's attribute,
// used to emit the synchronous initial publication on subscribe.
type AttributeSource interface {
	Get(providerID, attributeName string) ([]byte, error)
}

// BroadcastFilter evaluates one link of a selective broadcast's filter
// chain. params are the filter-parameters captured at subscription time.
type BroadcastFilter interface {
	Filter(payload []byte, params map[string]string) bool
}

type eventKey struct {
	provider string
	name     string
}

// Config configures a Manager. Subscriptions, Router and Wheel are
// required. AttributeSource may be nil; AddAttributeSubscription then
// emits no initial publication.
type Config struct {
	Subscriptions   *substore.Store
	Router          *router.Router
	Wheel           *timer.Wheel
	AttributeSource AttributeSource
	// TTLUplift is the process-wide non-negative duration added to every
	// publication TTL and subscription-reply TTL (spec §4.10). Adding it
	// to an already-NO_EXPIRY TTL is a no-op.
	TTLUplift time.Duration
}

// pubState is the per-subscription runtime bookkeeping that does not
// belong in the persisted model.Subscription record.
type pubState struct {
	maxIntervalTimerID   uint64
	hasMaxIntervalTimer  bool
	endOfValidityTimerID uint64
	hasEndOfValidityTimer bool
	deferredTimerID      uint64
	hasDeferredTimer     bool

	lastPublished time.Time
	lastValue     []byte
}

// Manager owns the lifecycle of every active publication producer on
// this process.
type Manager struct {
	mu    sync.Mutex
	subs  *substore.Store
	rtr   *router.Router
	wheel *timer.Wheel

	attrSource AttributeSource
	ttlUplift  time.Duration

	state   map[string]*pubState
	filters map[eventKey][]BroadcastFilter

	logger zerolog.Logger
}

// New constructs a Manager.
func New(cfg Config) *Manager {
	return &Manager{
		subs:       cfg.Subscriptions,
		rtr:        cfg.Router,
		wheel:      cfg.Wheel,
		attrSource: cfg.AttributeSource,
		ttlUplift:  cfg.TTLUplift,
		state:      make(map[string]*pubState),
		filters:    make(map[eventKey][]BroadcastFilter),
		logger:     log.WithComponent("publication-manager"),
	}
}

func (m *Manager) stateFor(id string) *pubState {
	st, ok := m.state[id]
	if !ok {
		st = &pubState{}
		m.state[id] = st
	}
	return st
}

// RegisterBroadcastFilter appends filter to the chain evaluated for
// (providerID, eventName) fires, in registration order.
func (m *Manager) RegisterBroadcastFilter(providerID, eventName string, filter BroadcastFilter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := eventKey{providerID, eventName}
	m.filters[key] = append(m.filters[key], filter)
}

// --- Attribute subscriptions -------------------------------------------------

// AddAttributeSubscription registers (or, reusing sub.ID, updates) an
// attribute subscription: emits the initial publication synchronously,
// schedules the max-interval and end-of-validity timers, and sends the
// subscription reply.
func (m *Manager) AddAttributeSubscription(sub *model.Subscription) error {
	sub.Kind = model.SubscriptionAttribute
	sub.State = model.StateActive

	m.cancelTimers(sub.ID) // re-registration under an existing id resets timers
	if err := m.subs.Put(sub, substore.EncodeJSON); err != nil {
		return err
	}

	if m.attrSource != nil {
		if value, err := m.attrSource.Get(sub.ProviderID, sub.Name); err == nil {
			m.publish(sub, value)
		} else {
			m.logger.Warn().Err(err).Str("subscription", sub.ID).Msg("failed to fetch initial attribute value")
		}
	}

	m.scheduleMaxIntervalTimer(sub)
	m.scheduleEndOfValidityTimer(sub)
	m.sendSubscriptionReply(sub)
	return nil
}

// OnAttributeChanged notifies the manager that provider's attribute
// changed. Every matching ACTIVE attribute subscription either emits
// immediately (if minInterval has elapsed) or schedules a coalescing
// deferred emit at lastPublication+minInterval.
func (m *Manager) OnAttributeChanged(providerID, attributeName string, value []byte) {
	for _, sub := range m.subs.ByEvent(providerID, attributeName) {
		if sub.Kind != model.SubscriptionAttribute {
			continue
		}
		m.handleAttributeChange(sub, value)
	}
}

func (m *Manager) handleAttributeChange(sub *model.Subscription, value []byte) {
	now := time.Now()

	m.mu.Lock()
	st := m.stateFor(sub.ID)
	elapsed := now.Sub(st.lastPublished)
	readyToPublish := st.lastPublished.IsZero() || elapsed >= sub.QoS.MinInterval
	if readyToPublish {
		m.mu.Unlock()
		m.publish(sub, value)
		m.scheduleMaxIntervalTimer(sub) // reset
		return
	}

	st.lastValue = value
	if st.hasDeferredTimer {
		m.wheel.RemoveTimer(st.deferredTimerID)
	}
	delay := sub.QoS.MinInterval - elapsed
	st.deferredTimerID = m.wheel.AddTimer(delay, func() { m.fireDeferred(sub) }, nil)
	st.hasDeferredTimer = true
	m.mu.Unlock()
}

func (m *Manager) fireDeferred(sub *model.Subscription) {
	m.mu.Lock()
	st := m.stateFor(sub.ID)
	value := st.lastValue
	st.hasDeferredTimer = false
	m.mu.Unlock()

	m.publish(sub, value)
	m.scheduleMaxIntervalTimer(sub)
}

func (m *Manager) scheduleMaxIntervalTimer(sub *model.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stateFor(sub.ID)
	if st.hasMaxIntervalTimer {
		m.wheel.RemoveTimer(st.maxIntervalTimerID)
		st.hasMaxIntervalTimer = false
	}
	if sub.QoS.Kind != model.QosOnChangeWithKeepAlive || sub.QoS.MaxInterval <= 0 {
		return
	}
	st.maxIntervalTimerID = m.wheel.AddPeriodicTimer(sub.QoS.MaxInterval, func() { m.onMaxIntervalFire(sub.ID) }, nil)
	st.hasMaxIntervalTimer = true
}

func (m *Manager) onMaxIntervalFire(subID string) {
	sub, ok := m.subs.Get(subID)
	if !ok {
		return
	}
	m.mu.Lock()
	value := m.stateFor(subID).lastValue
	m.mu.Unlock()
	m.publish(sub, value)
}

// --- Selective broadcast subscriptions ---------------------------------------

// AddSelectiveBroadcastSubscription registers a selective broadcast
// subscription.
func (m *Manager) AddSelectiveBroadcastSubscription(sub *model.Subscription) error {
	sub.Kind = model.SubscriptionSelectiveBroadcast
	sub.State = model.StateActive

	m.cancelTimers(sub.ID)
	if err := m.subs.Put(sub, substore.EncodeJSON); err != nil {
		return err
	}
	m.scheduleEndOfValidityTimer(sub)
	m.sendSubscriptionReply(sub)
	return nil
}

// OnBroadcastFired evaluates the registered filter chain for
// (providerID, eventName), short-circuiting on the first filter that
// returns false, and emits one publication per subscriber that passes
// every filter. Filters run in registration order.
func (m *Manager) OnBroadcastFired(providerID, eventName string, payload []byte) {
	m.mu.Lock()
	chain := append([]BroadcastFilter(nil), m.filters[eventKey{providerID, eventName}]...)
	m.mu.Unlock()

	for _, sub := range m.subs.ByEvent(providerID, eventName) {
		if sub.Kind != model.SubscriptionSelectiveBroadcast {
			continue
		}
		passed := true
		for _, f := range chain {
			if !f.Filter(payload, sub.FilterParameters) {
				passed = false
				break
			}
		}
		if !passed {
			continue
		}
		m.publish(sub, payload)
	}
}

// --- Multicast subscriptions --------------------------------------------------

// AddMulticastSubscription registers a multicast subscription. The
// partition pattern is validated per spec §4.11 before being stored.
func (m *Manager) AddMulticastSubscription(sub *model.Subscription) error {
	if err := multicast.ValidatePattern(sub.Partitions); err != nil {
		return err
	}
	sub.Kind = model.SubscriptionMulticast
	sub.State = model.StateActive

	m.cancelTimers(sub.ID)
	if err := m.subs.Put(sub, substore.EncodeJSON); err != nil {
		return err
	}
	m.scheduleEndOfValidityTimer(sub)
	m.sendSubscriptionReply(sub)
	return nil
}

// OnMulticastFired builds one multicast Message for (providerID,
// eventName, partitions) and routes it. Router.Route performs the actual
// per-subscriber fan-out (spec §4.8/§4.11); this method owns only TTL
// computation, matching the publication manager's TTL-uplift authority.
func (m *Manager) OnMulticastFired(providerID, eventName string, partitions []string, payload []byte, ttl time.Duration, noExpiry bool) error {
	if err := multicast.ValidateFire(partitions); err != nil {
		return err
	}

	recipient := providerID + "/" + eventName
	if len(partitions) > 0 {
		recipient += "/" + strings.Join(partitions, "/")
	}

	now := time.Now()
	msg := &model.Message{
		ID:        uuid.NewString(),
		Sender:    providerID,
		Recipient: recipient,
		Kind:      model.TypeMulticast,
		Created:   now,
		Expiry:    upliftedExpiry(now, noExpiry, ttl, m.ttlUplift),
		Payload:   payload,
	}
	m.rtr.Route(msg, func(err error) {
		m.logger.Warn().Err(err).Str("recipient", recipient).Msg("multicast publication delivery failed")
	})
	return nil
}

// --- Shared lifecycle ---------------------------------------------------------

// RemoveSubscription transitions subID to STOPPED, cancels its timers,
// and removes it from the store.
func (m *Manager) RemoveSubscription(subID string) error {
	sub, ok := m.subs.Get(subID)
	if !ok {
		return errs.ErrSubscriptionNotFound
	}
	sub.State = model.StateStopped
	m.cancelTimers(subID)
	return m.subs.Remove(subID)
}

func (m *Manager) expireSubscription(subID string) {
	sub, ok := m.subs.Get(subID)
	if !ok {
		return
	}
	sub.State = model.StateExpired
	m.cancelTimers(subID)
	if err := m.subs.Remove(subID); err != nil {
		m.logger.Warn().Err(err).Str("subscription", subID).Msg("failed to remove expired subscription")
	}
}

func (m *Manager) scheduleEndOfValidityTimer(sub *model.Subscription) {
	if sub.QoS.NoExpiry {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stateFor(sub.ID)
	st.endOfValidityTimerID = m.wheel.AddTimer(sub.QoS.Validity, func() { m.expireSubscription(sub.ID) }, nil)
	st.hasEndOfValidityTimer = true
}

// cancelTimers cancels every timer associated with subID and drops its
// runtime state. Safe to call for an id with no runtime state yet.
func (m *Manager) cancelTimers(subID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.state[subID]
	if !ok {
		return
	}
	if st.hasMaxIntervalTimer {
		m.wheel.RemoveTimer(st.maxIntervalTimerID)
	}
	if st.hasEndOfValidityTimer {
		m.wheel.RemoveTimer(st.endOfValidityTimerID)
	}
	if st.hasDeferredTimer {
		m.wheel.RemoveTimer(st.deferredTimerID)
	}
	delete(m.state, subID)
}

// publish builds and routes one subscription-publication message for
// sub, addressed to its subscriber, with the TTL-uplifted publication
// TTL from sub's QoS. Used by both attribute and selective-broadcast
// emission paths.
func (m *Manager) publish(sub *model.Subscription, payload []byte) {
	lat := metrics.NewTimer()
	now := time.Now()

	m.mu.Lock()
	st := m.stateFor(sub.ID)
	st.lastPublished = now
	st.lastValue = payload
	m.mu.Unlock()

	msg := &model.Message{
		ID:        uuid.NewString(),
		Sender:    sub.ProviderID,
		Recipient: sub.SubscriberID,
		Kind:      model.TypeSubscriptionPublish,
		Created:   now,
		Expiry:    upliftedExpiry(now, sub.QoS.NoExpiry, sub.QoS.PublicationTTL, m.ttlUplift),
		Payload:   payload,
	}
	m.rtr.Route(msg, func(err error) {
		m.logger.Warn().Err(err).Str("subscription", sub.ID).Msg("publication delivery failed")
	})
	lat.ObserveDuration(metrics.PublicationLatency)
}

func (m *Manager) sendSubscriptionReply(sub *model.Subscription) {
	now := time.Now()
	msg := &model.Message{
		ID:        uuid.NewString(),
		Sender:    sub.ProviderID,
		Recipient: sub.SubscriberID,
		Kind:      model.TypeSubscriptionReply,
		Created:   now,
		Expiry:    upliftedExpiry(now, false, sub.QoS.EffectiveValidity(), m.ttlUplift),
		Payload:   []byte(sub.ID),
	}
	m.rtr.Route(msg, func(err error) {
		m.logger.Warn().Err(err).Str("subscription", sub.ID).Msg("failed to deliver subscription reply")
	})
}
