// Package substore implements the subscription store from spec §4.9: a
// primary index by subscription id, plus two secondary indices (by
// provider, for cascaded removal on unregister; and by (provider, event
// name), for multicast fan-out) kept consistent on every mutation.
package substore

import (
	"sync"

	"github.com/bmwcarit/joynr-cc/internal/errs"
	"github.com/bmwcarit/joynr-cc/internal/log"
	"github.com/bmwcarit/joynr-cc/internal/metrics"
	"github.com/bmwcarit/joynr-cc/internal/model"
	"github.com/bmwcarit/joynr-cc/internal/persistence"
	"github.com/rs/zerolog"
)

type eventKey struct {
	provider string
	name     string
}

// Store is the in-memory subscription registry. Persistence is optional:
// pass persistence.NullStore{} when no backend is configured, matching
// spec §4.9's "absence of persistence must be a legal runtime
// configuration".
type Store struct {
	mu sync.RWMutex

	byID       map[string]*model.Subscription
	byProvider map[string]map[string]struct{} // provider -> set of subscription ids
	byEvent    map[eventKey]map[string]struct{}
	kindCounts map[model.SubscriptionKind]int

	persist persistence.Store
	logger  zerolog.Logger
}

// New constructs an empty Store backed by persist. Call Load to rehydrate
// from a prior run.
func New(persist persistence.Store) *Store {
	if persist == nil {
		persist = persistence.NullStore{}
	}
	return &Store{
		byID:       make(map[string]*model.Subscription),
		byProvider: make(map[string]map[string]struct{}),
		byEvent:    make(map[eventKey]map[string]struct{}),
		kindCounts: make(map[model.SubscriptionKind]int),
		persist:    persist,
		logger:     log.WithComponent("substore"),
	}
}

// Load rehydrates the store from the persistence backend. decode turns a
// persisted byte blob back into a Subscription (encoding format is an
// external concern per spec §4.9).
func (s *Store) Load(decode func(data []byte) (*model.Subscription, error)) error {
	blobs, err := s.persist.Load()
	if err != nil {
		return err
	}
	for key, data := range blobs {
		sub, err := decode(data)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("failed to decode persisted subscription, skipping")
			continue
		}
		s.insert(sub)
	}
	return nil
}

// Put inserts a new subscription or updates an existing one in place
// (subscription update per spec §4.10 reuses the same id). encode
// serialises the subscription for persistence.
func (s *Store) Put(sub *model.Subscription, encode func(*model.Subscription) ([]byte, error)) error {
	s.mu.Lock()
	s.removeLocked(sub.ID)
	s.insert(sub)
	s.mu.Unlock()

	if encode == nil {
		return nil
	}
	data, err := encode(sub)
	if err != nil {
		return err
	}
	return s.persist.Save(sub.ID, data)
}

func (s *Store) insert(sub *model.Subscription) {
	s.byID[sub.ID] = sub

	if s.byProvider[sub.ProviderID] == nil {
		s.byProvider[sub.ProviderID] = make(map[string]struct{})
	}
	s.byProvider[sub.ProviderID][sub.ID] = struct{}{}

	key := eventKey{provider: sub.ProviderID, name: sub.Name}
	if s.byEvent[key] == nil {
		s.byEvent[key] = make(map[string]struct{})
	}
	s.byEvent[key][sub.ID] = struct{}{}

	s.kindCounts[sub.Kind]++
	metrics.ActiveSubscriptions.WithLabelValues(subscriptionKindLabel(sub.Kind)).Set(float64(s.kindCounts[sub.Kind]))
}

// Get returns the subscription for id, or (nil, false).
func (s *Store) Get(id string) (*model.Subscription, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.byID[id]
	return sub, ok
}

// ByProvider returns every subscription registered against provider,
// used for cascaded removal on provider unregister.
func (s *Store) ByProvider(providerID string) []*model.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byProvider[providerID]
	out := make([]*model.Subscription, 0, len(ids))
	for id := range ids {
		out = append(out, s.byID[id])
	}
	return out
}

// ByEvent returns every subscription registered against (providerID,
// eventName), used for multicast and broadcast fan-out.
func (s *Store) ByEvent(providerID, eventName string) []*model.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byEvent[eventKey{provider: providerID, name: eventName}]
	out := make([]*model.Subscription, 0, len(ids))
	for id := range ids {
		out = append(out, s.byID[id])
	}
	return out
}

// Remove deletes a subscription from every index and the persistence
// backend. Returns errs.ErrSubscriptionNotFound if id is unknown.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	ok := s.removeLocked(id)
	s.mu.Unlock()

	if !ok {
		return errs.ErrSubscriptionNotFound
	}
	return s.persist.Remove(id)
}

func (s *Store) removeLocked(id string) bool {
	sub, ok := s.byID[id]
	if !ok {
		return false
	}
	delete(s.byID, id)
	delete(s.byProvider[sub.ProviderID], id)
	if len(s.byProvider[sub.ProviderID]) == 0 {
		delete(s.byProvider, sub.ProviderID)
	}
	key := eventKey{provider: sub.ProviderID, name: sub.Name}
	delete(s.byEvent[key], id)
	if len(s.byEvent[key]) == 0 {
		delete(s.byEvent, key)
	}
	s.kindCounts[sub.Kind]--
	metrics.ActiveSubscriptions.WithLabelValues(subscriptionKindLabel(sub.Kind)).Set(float64(s.kindCounts[sub.Kind]))
	return true
}

// Len reports the number of tracked subscriptions. For tests and
// diagnostics only.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func subscriptionKindLabel(k model.SubscriptionKind) string {
	switch k {
	case model.SubscriptionAttribute:
		return "attribute"
	case model.SubscriptionSelectiveBroadcast:
		return "selective-broadcast"
	case model.SubscriptionMulticast:
		return "multicast"
	default:
		return "unknown"
	}
}
