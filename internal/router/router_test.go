package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmwcarit/joynr-cc/internal/errs"
	"github.com/bmwcarit/joynr-cc/internal/model"
	"github.com/bmwcarit/joynr-cc/internal/msgqueue"
	"github.com/bmwcarit/joynr-cc/internal/scheduler"
	"github.com/bmwcarit/joynr-cc/internal/substore"
	"github.com/bmwcarit/joynr-cc/internal/persistence"
)

type recordingDispatcher struct {
	mu  sync.Mutex
	got []*model.Message
}

func (d *recordingDispatcher) Dispatch(msg *model.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, msg)
	return nil
}

func (d *recordingDispatcher) messages() []*model.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*model.Message, len(d.got))
	copy(out, d.got)
	return out
}

type scriptedTransport struct {
	mu      sync.Mutex
	results []SendResult
	sent    []*model.Message
	addrs   []model.Address
}

func (t *scriptedTransport) Send(addr model.Address, msg *model.Message) SendResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, msg)
	t.addrs = append(t.addrs, addr)
	if len(t.results) == 0 {
		return SendResult{Delivered: true}
	}
	r := t.results[0]
	t.results = t.results[1:]
	return r
}

func newTestRouter(t *testing.T) (*Router, *scheduler.SingleThreaded) {
	sch := scheduler.NewSingleThreaded(nil, 10*time.Millisecond, nil)
	t.Cleanup(sch.Shutdown)
	r := New(Config{
		MessageQueue:  msgqueue.New(100),
		Subscriptions: substore.New(persistence.NullStore{}),
		Scheduler:     sch,
		BaseBackoff:   5 * time.Millisecond,
		MaxBackoff:    20 * time.Millisecond,
	})
	return r, sch
}

func TestRouteDeliversLocallyWhenAddressIsLocal(t *testing.T) {
	r, _ := newTestRouter(t)
	dispatcher := &recordingDispatcher{}
	r.SetLocalDispatcher(dispatcher)
	r.AddNextHop("participant-1", model.NewLocalAddress(), true)

	r.Route(&model.Message{ID: "m1", Recipient: "participant-1"}, func(error) {
		t.Error("unexpected failure callback")
	})

	require.Eventually(t, func() bool { return len(dispatcher.messages()) == 1 }, time.Second, time.Millisecond)
}

func TestRouteQueuesWhenNoRouteKnownThenDrainsOnAddNextHop(t *testing.T) {
	r, _ := newTestRouter(t)
	dispatcher := &recordingDispatcher{}
	r.SetLocalDispatcher(dispatcher)

	r.Route(&model.Message{ID: "m1", Recipient: "participant-1", Expiry: model.NoExpiry}, func(error) {
		t.Error("queued message must not report failure")
	})
	assert.False(t, r.ResolveNextHop("participant-1"))

	r.AddNextHop("participant-1", model.NewLocalAddress(), true)
	require.Eventually(t, func() bool { return len(dispatcher.messages()) == 1 }, time.Second, time.Millisecond)
}

func TestRouteRejectsAlreadyExpiredMessageSynchronously(t *testing.T) {
	r, _ := newTestRouter(t)
	past := time.Now().Add(-time.Hour)

	failed := make(chan error, 1)
	r.Route(&model.Message{ID: "m1", Recipient: "nobody", Created: past.Add(-time.Minute), Expiry: past}, func(err error) {
		failed <- err
	})

	select {
	case err := <-failed:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("expected synchronous onFailure for an already-expired message")
	}
}

func TestRouteRetriesOnDelayAndRetryVerdictThenDelivers(t *testing.T) {
	r, _ := newTestRouter(t)
	transport := &scriptedTransport{results: []SendResult{
		{Retry: true},
		{Retry: true},
		{Delivered: true},
	}}
	r.RegisterTransport(model.AddressUds, transport)
	r.AddNextHop("participant-1", model.NewUdsAddress("client-a"), false)

	failed := make(chan error, 1)
	r.Route(&model.Message{ID: "m1", Recipient: "participant-1", Expiry: time.Now().Add(time.Minute)}, func(err error) {
		failed <- err
	})

	require.Eventually(t, func() bool {
		transport.mu.Lock()
		defer transport.mu.Unlock()
		return len(transport.sent) == 3
	}, 2*time.Second, time.Millisecond)

	select {
	case <-failed:
		t.Fatal("message eventually delivered, onFailure must not fire")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRoutePermanentFailureInvokesOnFailureOnce(t *testing.T) {
	r, _ := newTestRouter(t)
	wantErr := errors.New("boom")
	transport := &scriptedTransport{results: []SendResult{{Err: wantErr}}}
	r.RegisterTransport(model.AddressUds, transport)
	r.AddNextHop("participant-1", model.NewUdsAddress("client-a"), false)

	failed := make(chan error, 2)
	r.Route(&model.Message{ID: "m1", Recipient: "participant-1", Expiry: time.Now().Add(time.Minute)}, func(err error) {
		failed <- err
	})

	select {
	case err := <-failed:
		assert.Equal(t, wantErr, err)
	case <-time.After(time.Second):
		t.Fatal("expected onFailure")
	}
	select {
	case err := <-failed:
		t.Fatalf("onFailure invoked a second time with %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRemoveNextHopLeavesQueuedMessagesForSweep(t *testing.T) {
	r, _ := newTestRouter(t)
	r.AddNextHop("participant-1", model.NewLocalAddress(), true)
	r.RemoveNextHop("participant-1")
	assert.False(t, r.ResolveNextHop("participant-1"))

	r.Route(&model.Message{ID: "m1", Recipient: "participant-1", Created: time.Now(), Expiry: time.Now().Add(20 * time.Millisecond)}, func(error) {
		t.Error("a message queued after RemoveNextHop must not report failure")
	})
	assert.Equal(t, 1, r.msgQueue.RecipientLen("participant-1"))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 0, r.msgQueue.RecipientLen("participant-1"))
}

func TestRouteMulticastFansOutToMatchingSubscribers(t *testing.T) {
	r, _ := newTestRouter(t)
	dispatcher := &recordingDispatcher{}
	r.SetLocalDispatcher(dispatcher)
	r.AddNextHop("subscriber-a", model.NewLocalAddress(), true)
	r.AddNextHop("subscriber-b", model.NewLocalAddress(), true)

	require.NoError(t, r.subs.Put(&model.Subscription{
		ID: "sub-a", Kind: model.SubscriptionMulticast,
		ProviderID: "provider-1", Name: "alarmTriggered", SubscriberID: "subscriber-a",
		Partitions: []string{"floor1"},
	}, nil))
	require.NoError(t, r.subs.Put(&model.Subscription{
		ID: "sub-b", Kind: model.SubscriptionMulticast,
		ProviderID: "provider-1", Name: "alarmTriggered", SubscriberID: "subscriber-b",
		Partitions: []string{"floor2"},
	}, nil))

	r.Route(&model.Message{
		ID: "m1", Kind: model.TypeMulticast,
		Recipient: "provider-1/alarmTriggered/floor1",
	}, func(error) {})

	require.Eventually(t, func() bool { return len(dispatcher.messages()) == 1 }, time.Second, time.Millisecond)
	got := dispatcher.messages()
	assert.Equal(t, "subscriber-a", got[0].Recipient)
}

func TestAwaitReplyReturnsMatchingReplyByCorrelationID(t *testing.T) {
	r, _ := newTestRouter(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	replyCh := make(chan *model.Message, 1)
	go func() {
		msg, err := r.AwaitReply(ctx, "req-123")
		if err == nil {
			replyCh <- msg
		}
	}()

	require.Eventually(t, func() bool {
		r.pending.mu.Lock()
		defer r.pending.mu.Unlock()
		_, ok := r.pending.waiters["req-123"]
		return ok
	}, time.Second, time.Millisecond)

	r.Route(&model.Message{
		ID: "reply-1", Kind: model.TypeReply,
		CorrelationID: "req-123", Payload: []byte("result"),
	}, func(error) { t.Error("unexpected failure callback") })

	select {
	case msg := <-replyCh:
		assert.Equal(t, "reply-1", msg.ID)
		assert.Equal(t, []byte("result"), msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("AwaitReply did not receive the correlated reply")
	}
}

func TestAwaitReplyTimesOutWithoutAMatchingReply(t *testing.T) {
	r, _ := newTestRouter(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.AwaitReply(ctx, "req-never-arrives")
	assert.ErrorIs(t, err, errs.ErrRequestTimeout)

	r.pending.mu.Lock()
	_, stillWaiting := r.pending.waiters["req-never-arrives"]
	r.pending.mu.Unlock()
	assert.False(t, stillWaiting, "timed-out waiter must be unregistered")
}

func TestSendUsesValidGbidWhenCurrentGbidNotInList(t *testing.T) {
	r, _ := newTestRouter(t)
	transport := &scriptedTransport{}
	r.RegisterTransport(model.AddressMqtt, transport)

	r.mu.Lock()
	r.routes["provider-1"] = &model.RoutingEntry{
		ParticipantID: "provider-1",
		Address:       model.NewMqttAddress("channel-1", "gbid-stale"),
		ValidGbids:    []string{"gbid-a", "gbid-b"},
	}
	r.mu.Unlock()

	r.Route(&model.Message{ID: "m1", Recipient: "provider-1"}, func(error) {
		t.Error("unexpected failure callback")
	})

	require.Eventually(t, func() bool {
		transport.mu.Lock()
		defer transport.mu.Unlock()
		return len(transport.sent) == 1
	}, time.Second, time.Millisecond)

	transport.mu.Lock()
	defer transport.mu.Unlock()
	assert.Equal(t, "gbid-a", transport.addrs[0].MqttGbid)
}

func TestSendKeepsCurrentGbidWhenAlreadyValid(t *testing.T) {
	r, _ := newTestRouter(t)
	entry := &model.RoutingEntry{
		ParticipantID: "provider-1",
		Address:       model.NewMqttAddress("channel-1", "gbid-b"),
		ValidGbids:    []string{"gbid-a", "gbid-b"},
	}
	resolved := selectGbid(entry.Address, entry)
	assert.Equal(t, "gbid-b", resolved.MqttGbid)
}
