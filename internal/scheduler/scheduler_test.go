package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleThreadedRunsTask(t *testing.T) {
	s := NewSingleThreaded(nil, 0, nil)
	defer s.Shutdown()

	done := make(chan struct{})
	s.Schedule(func() { close(done) }, 10*time.Millisecond)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}

func TestSingleThreadedUnscheduleBeforeFirePreventsExecution(t *testing.T) {
	s := NewSingleThreaded(nil, 0, nil)
	defer s.Shutdown()

	var ran int32
	h := s.Schedule(func() { atomic.AddInt32(&ran, 1) }, 50*time.Millisecond)
	ok := s.Unschedule(h)
	require.True(t, ok)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&ran))
}

func TestSingleThreadedShutdownDrainsDropped(t *testing.T) {
	s := NewSingleThreaded(nil, 0, nil)

	var dropped int32
	s2 := NewSingleThreaded(nil, 0, func(Task) { atomic.AddInt32(&dropped, 1) })
	s2.Schedule(func() {}, time.Hour)
	s2.Shutdown()
	s.Shutdown()

	assert.Equal(t, int32(1), atomic.LoadInt32(&dropped))
}

func TestThreadPoolDispatchesToWorker(t *testing.T) {
	tp := NewThreadPool(nil, 4, 16, 0, nil)
	defer tp.Shutdown()

	done := make(chan struct{})
	tp.Schedule(func() { close(done) }, 10*time.Millisecond)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}

func TestThreadPoolUnscheduleIsNoopOnceStarted(t *testing.T) {
	tp := NewThreadPool(nil, 2, 16, 0, nil)
	defer tp.Shutdown()

	started := make(chan struct{})
	release := make(chan struct{})
	h := tp.Schedule(func() {
		close(started)
		<-release
	}, 5*time.Millisecond)

	<-started
	ok := tp.Unschedule(h)
	assert.False(t, ok)
	close(release)
}

func TestThreadPoolDefaultDelay(t *testing.T) {
	tp := NewThreadPool(nil, 1, 4, 20*time.Millisecond, nil)
	defer tp.Shutdown()

	start := time.Now()
	done := make(chan struct{})
	tp.Schedule(func() { close(done) }, 0)

	<-done
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}
