package sendqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmwcarit/joynr-cc/internal/frame"
)

func mustFrame(t *testing.T, payload string) frame.Frame {
	t.Helper()
	f, err := frame.NewMessageFrame([]byte(payload))
	require.NoError(t, err)
	return f
}

func TestPushBackReturnsTrueWhenIdle(t *testing.T) {
	q := New(3)
	idle := q.PushBack(mustFrame(t, "a"), nil)
	assert.True(t, idle)

	idle = q.PushBack(mustFrame(t, "b"), nil)
	assert.False(t, idle)
}

func TestBoundedQueueEvictsOldestOnOverflow(t *testing.T) {
	q := New(3)
	var failed []string
	fail := func(i int) FailureCallback {
		return func(err error) { failed = append(failed, string(rune('a'+i))) }
	}

	q.PushBack(mustFrame(t, "a"), fail(0))
	q.PushBack(mustFrame(t, "b"), fail(1))
	q.PushBack(mustFrame(t, "c"), fail(2))
	// Fourth push while nothing in flight exceeds size 3: all three
	// queued are evicted, then the fourth is appended and kept.
	q.PushBack(mustFrame(t, "d"), fail(3))

	assert.ElementsMatch(t, []string{"a", "b", "c"}, failed)
	assert.Equal(t, 1, q.Len())

	front, ok := q.ShowFront()
	require.True(t, ok)
	assert.Equal(t, []byte("d"), front.Body())
}

func TestShowFrontPromotesHeadOnce(t *testing.T) {
	q := New(10)
	q.PushBack(mustFrame(t, "a"), nil)
	q.PushBack(mustFrame(t, "b"), nil)

	f1, ok := q.ShowFront()
	require.True(t, ok)
	assert.Equal(t, []byte("a"), f1.Body())

	// Second call while still in flight returns the same frame.
	f2, ok := q.ShowFront()
	require.True(t, ok)
	assert.Equal(t, []byte("a"), f2.Body())
	assert.Equal(t, 1, q.Len())
}

func TestPopFrontOnSuccessAdvances(t *testing.T) {
	q := New(10)
	q.PushBack(mustFrame(t, "a"), nil)
	q.PushBack(mustFrame(t, "b"), nil)

	_, _ = q.ShowFront()
	more := q.PopFrontOnSuccess(nil)
	assert.True(t, more)

	f, ok := q.ShowFront()
	require.True(t, ok)
	assert.Equal(t, []byte("b"), f.Body())

	more = q.PopFrontOnSuccess(nil)
	assert.False(t, more)
}

func TestPopFrontOnSuccessFalseWhenNothingInFlightOrError(t *testing.T) {
	q := New(10)
	assert.False(t, q.PopFrontOnSuccess(nil))

	q.PushBack(mustFrame(t, "a"), nil)
	_, _ = q.ShowFront()
	assert.False(t, q.PopFrontOnSuccess(assertError{}))
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

func TestEmptyQueueAndNotifyInvokesAllWhenSafe(t *testing.T) {
	q := New(10)
	var failedCount int
	cb := func(error) { failedCount++ }

	q.PushBack(mustFrame(t, "a"), cb)
	q.PushBack(mustFrame(t, "b"), cb)
	_, _ = q.ShowFront() // promotes "a" into in-flight

	q.EmptyQueueAndNotify("connection closed", false)
	assert.Equal(t, 2, failedCount)
}

func TestEmptyQueueAndNotifyDetachesInFlightWhenUnsafe(t *testing.T) {
	q := New(10)
	var failedCount int
	cb := func(error) { failedCount++ }

	q.PushBack(mustFrame(t, "a"), cb)
	q.PushBack(mustFrame(t, "b"), cb)
	_, _ = q.ShowFront() // promotes "a" into in-flight, write assumed outstanding

	q.EmptyQueueAndNotify("connection closed", true)
	// Only "b" (queued, not in flight) is notified; "a" is detached, not invoked.
	assert.Equal(t, 1, failedCount)

	// The detached in-flight callback must not fire even after the
	// simulated OS write completion is reported.
	more := q.PopFrontOnSuccess(nil)
	assert.False(t, more)
	assert.Equal(t, 1, failedCount)
}

func TestFailInFlightInvokesCallbackAndClearsSlot(t *testing.T) {
	q := New(10)
	var got error
	q.PushBack(mustFrame(t, "a"), func(err error) { got = err })
	_, _ = q.ShowFront() // promotes "a" into in-flight

	ok := q.FailInFlight(assertError{})
	assert.True(t, ok)
	assert.Equal(t, assertError{}, got)

	// The slot is cleared: a later PopFrontOnSuccess finds nothing in
	// flight rather than double-reporting.
	more := q.PopFrontOnSuccess(nil)
	assert.False(t, more)
}

func TestFailInFlightFalseWhenNothingInFlight(t *testing.T) {
	q := New(10)
	assert.False(t, q.FailInFlight(assertError{}))
}

func TestZeroSizeQueueEvictsWheneverIdleFalse(t *testing.T) {
	q := New(0)
	var failed int
	q.PushBack(mustFrame(t, "a"), func(error) { failed++ })
	_, _ = q.ShowFront() // now in flight; buffer len 0

	idle := q.PushBack(mustFrame(t, "b"), func(error) { failed++ })
	assert.False(t, idle)
	// maxSize 0 means the buffer (len 0) is already "full" before every
	// push, so "b" itself triggers an (empty) eviction sweep and is kept.
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 0, failed)
}
