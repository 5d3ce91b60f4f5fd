// Package sendqueue implements the bounded per-connection send queue from
// spec §4.4: a size-limited FIFO of frames with oldest-wins eviction and a
// single "in flight" slot held outside the FIFO so its backing buffer can
// be referenced by an outstanding OS write even after PushBack/evict logic
// has moved on.
package sendqueue

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bmwcarit/joynr-cc/internal/frame"
	"github.com/bmwcarit/joynr-cc/internal/metrics"
)

// FailureCallback is invoked at most once per entry, with the reason the
// frame could not be (or will not be) delivered.
type FailureCallback func(err error)

type entry struct {
	frame  frame.Frame
	onFail FailureCallback
}

// Queue is a bounded FIFO of (frame, failure-callback) pairs plus one
// in-flight slot. Safe for concurrent use; callers typically serialise
// access to it through their connection's single event-loop goroutine
// anyway, but the queue does not rely on that.
type Queue struct {
	mu       sync.Mutex
	buffer   []entry
	maxSize  int
	inFlight *entry
}

// New creates a queue bounded to maxSize pending (not-yet-in-flight)
// entries. maxSize == 0 is legal: the queue then keeps at most one
// pending entry, and each PushBack fails the entry already pending (if
// any) before appending its own.
func New(maxSize int) *Queue {
	return &Queue{maxSize: maxSize}
}

// PushBack appends frame to the queue. If the queue is already at
// capacity, every currently queued entry is evicted first and its
// onFail invoked with a "queue size exceeded" error (the in-flight slot,
// if any, is left untouched — its write may already be in progress).
// Returns true iff the queue was empty and no write was outstanding,
// signalling the caller to start writing.
func (q *Queue) PushBack(f frame.Frame, onFail FailureCallback) bool {
	if onFail == nil {
		onFail = func(error) {}
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	previousSize := len(q.buffer)
	wasIdle := previousSize == 0 && q.inFlight == nil

	if q.maxSize <= previousSize {
		msg := fmt.Sprintf("Sending queue size %d exceeded. Rescheduling all queued messages.", q.maxSize)
		q.evictBufferLocked(errors.New(msg))
	}

	q.buffer = append(q.buffer, entry{frame: f, onFail: onFail})
	return wasIdle
}

// ShowFront returns the frame that should currently be written to the
// socket. If nothing is in flight, the head of the FIFO is promoted into
// the in-flight slot. The second return value is false iff there is
// nothing to send.
func (q *Queue) ShowFront() (frame.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.inFlight == nil {
		if len(q.buffer) == 0 {
			return frame.Frame{}, false
		}
		e := q.buffer[0]
		q.buffer = q.buffer[1:]
		q.inFlight = &e
	}
	return q.inFlight.frame, true
}

// PopFrontOnSuccess clears the in-flight slot if sendErr is nil. It
// returns true iff there is more work pending after removal. A nil
// in-flight slot, or a non-nil sendErr, returns false without side
// effects (the caller handles a failed write itself, e.g. through
// FailInFlight).
func (q *Queue) PopFrontOnSuccess(sendErr error) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.inFlight == nil || sendErr != nil {
		return false
	}
	q.inFlight = nil
	return len(q.buffer) > 0
}

// FailInFlight invokes the in-flight entry's callback with err and clears
// the in-flight slot, then reports whether there was one. Unlike
// EmptyQueueAndNotify's writeInFlight=true path, this is for a caller that
// just learned synchronously, in the same goroutine that issued the
// write, that the write failed — the kernel is not concurrently holding
// the buffer anymore, so the callback can run immediately instead of
// being left for a later close to (not) invoke.
func (q *Queue) FailInFlight(err error) bool {
	q.mu.Lock()
	e := q.inFlight
	q.inFlight = nil
	q.mu.Unlock()

	if e == nil {
		return false
	}
	e.onFail(err)
	return true
}

// EmptyQueueAndNotify fails every queued entry with errMsg. writeInFlight
// tells the queue whether a socket write currently references the
// in-flight entry's buffer: if so its callback is detached (cleared to a
// no-op) but not invoked, and its buffer is left alone for the OS to
// finish writing; if not, its callback is invoked like any queued entry.
func (q *Queue) EmptyQueueAndNotify(errMsg string, writeInFlight bool) {
	err := errors.New(errMsg)

	q.mu.Lock()
	var inFlightCB FailureCallback
	if q.inFlight != nil {
		inFlightCB = q.inFlight.onFail
		q.inFlight.onFail = func(error) {}
		if writeInFlight {
			inFlightCB = nil
		}
	}
	queued := q.buffer
	q.buffer = nil
	q.mu.Unlock()

	if inFlightCB != nil {
		inFlightCB(err)
	}
	for _, e := range queued {
		e.onFail(err)
	}
}

// evictBufferLocked fails and clears every queued (not in-flight) entry.
// Caller holds q.mu.
func (q *Queue) evictBufferLocked(err error) {
	metrics.SendQueueEvictions.Add(float64(len(q.buffer)))
	for _, e := range q.buffer {
		e.onFail(err)
	}
	q.buffer = nil
}

// Len returns the number of queued (not-in-flight) entries. For tests and
// diagnostics only.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buffer)
}
