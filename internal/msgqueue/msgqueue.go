// Package msgqueue implements the per-recipient message queue from spec
// §4.7: one FIFO per recipient, a global size cap enforced by evicting the
// resident message with the smallest remaining TTL, and lazy expiry
// discarding on dequeue.
package msgqueue

import (
	"sort"
	"sync"
	"time"

	"github.com/bmwcarit/joynr-cc/internal/metrics"
	"github.com/bmwcarit/joynr-cc/internal/model"
)

// Queue is safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	data     map[string][]*model.Message
	total    int
	maxTotal int
	now      func() time.Time
}

// New creates a queue bounded to maxTotal resident messages across all
// recipients combined. maxTotal <= 0 means unbounded.
func New(maxTotal int) *Queue {
	return &Queue{
		data:     make(map[string][]*model.Message),
		maxTotal: maxTotal,
		now:      time.Now,
	}
}

// QueueMessage appends msg to recipient's FIFO. If the insert would push
// the queue over its global cap, the resident message with the smallest
// expiry across all recipients is evicted first.
func (q *Queue) QueueMessage(recipient string, msg *model.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxTotal > 0 && q.total >= q.maxTotal {
		q.evictSmallestExpiryLocked()
	}
	q.data[recipient] = append(q.data[recipient], msg)
	q.total++
}

// GetNextMessageFor pops and returns the head of recipient's FIFO,
// discarding (and counting as dropped) any already-expired messages
// encountered along the way. Returns nil if the queue is empty.
func (q *Queue) GetNextMessageFor(recipient string) *model.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		msgs := q.data[recipient]
		if len(msgs) == 0 {
			return nil
		}
		head := msgs[0]
		if len(msgs) == 1 {
			delete(q.data, recipient)
		} else {
			q.data[recipient] = msgs[1:]
		}
		q.total--

		if head.Expired(q.now()) {
			metrics.MessagesDropped.WithLabelValues("ttl-expired").Inc()
			continue
		}
		return head
	}
}

// Sweep discards every expired message resident in the queue, regardless
// of position within its recipient's FIFO. Used by a periodic background
// pass so that messages left behind by a removed route (spec §4.8:
// "pending messages remain queued until their TTL expires, then are
// dropped") are actually reclaimed even if nothing ever dequeues them.
func (q *Queue) Sweep() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	dropped := 0
	for recipient, msgs := range q.data {
		kept := msgs[:0]
		for _, m := range msgs {
			if m.Expired(now) {
				dropped++
				continue
			}
			kept = append(kept, m)
		}
		if len(kept) == 0 {
			delete(q.data, recipient)
		} else {
			q.data[recipient] = kept
		}
	}
	q.total -= dropped
	if dropped > 0 {
		metrics.MessagesDropped.WithLabelValues("ttl-expired").Add(float64(dropped))
	}
	return dropped
}

// Len returns the total number of resident messages across all
// recipients.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.total
}

// RecipientLen returns the number of resident messages for one recipient.
func (q *Queue) RecipientLen(recipient string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data[recipient])
}

// evictSmallestExpiryLocked removes the message with the smallest finite
// expiry across every recipient's FIFO; if none carry a finite expiry, it
// evicts the oldest entry under the lexicographically first recipient as
// a deterministic tie-break. Caller holds q.mu.
func (q *Queue) evictSmallestExpiryLocked() {
	recipients := make([]string, 0, len(q.data))
	for r := range q.data {
		recipients = append(recipients, r)
	}
	sort.Strings(recipients)

	victimRecipient := ""
	victimIdx := -1
	var victimExpiry time.Time
	haveFinite := false

	for _, r := range recipients {
		for i, m := range q.data[r] {
			if !m.HasExpiry() {
				continue
			}
			if !haveFinite || m.Expiry.Before(victimExpiry) {
				haveFinite = true
				victimRecipient, victimIdx, victimExpiry = r, i, m.Expiry
			}
		}
	}

	if !haveFinite {
		for _, r := range recipients {
			if len(q.data[r]) > 0 {
				victimRecipient, victimIdx = r, 0
				break
			}
		}
	}
	if victimIdx == -1 {
		return
	}

	msgs := q.data[victimRecipient]
	msgs = append(msgs[:victimIdx], msgs[victimIdx+1:]...)
	if len(msgs) == 0 {
		delete(q.data, victimRecipient)
	} else {
		q.data[victimRecipient] = msgs
	}
	q.total--
	metrics.MessagesDropped.WithLabelValues("queue-overflow").Inc()
}
