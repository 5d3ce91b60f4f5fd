// Package scheduler implements the delayed scheduler from spec §4.2: a
// thin wrapper around the timer wheel that either runs a task inline
// (SingleThreaded) or hands it to a worker pool (ThreadPool) once its
// delay elapses.
package scheduler

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bmwcarit/joynr-cc/internal/log"
	"github.com/bmwcarit/joynr-cc/internal/timer"
)

// Task is a unit of deferred work. It must not block for long; the
// thread-pool variant exists precisely so that slow tasks don't stall
// other timers.
type Task func()

// Handle identifies a scheduled task for Unschedule.
type Handle = uint64

// Scheduler is satisfied by both SingleThreaded and ThreadPool.
type Scheduler interface {
	// Schedule runs task after delay (or the configured default delay if
	// delay <= 0) and returns a handle usable with Unschedule.
	Schedule(task Task, delay time.Duration) Handle
	// Unschedule cancels a pending task. A no-op if the task has already
	// started executing.
	Unschedule(h Handle) bool
	// Shutdown must precede destruction. It drains every pending task,
	// invoking the scheduler's dropped-callback for each, and waits for
	// any in-flight task already dispatched to a worker to finish.
	// Exception: a SingleThreaded built on a caller-owned wheel does
	// nothing on Shutdown; its pending tasks stay on that wheel and get
	// their dropped-callback only when the wheel itself shuts down.
	Shutdown()
}

// SingleThreaded runs expired tasks directly on the timer wheel's worker
// goroutine — the "single-threaded event loop" variant from spec §4.2.
type SingleThreaded struct {
	wheel        *timer.Wheel
	ownsWheel    bool
	defaultDelay time.Duration
	onDropped    func(Task)
	logger       zerolog.Logger
}

// NewSingleThreaded builds a scheduler backed by wheel. If wheel is nil a
// private one is created, started, and owned by the scheduler (Shutdown
// will stop it); otherwise the caller owns the wheel's lifecycle and
// Shutdown only cancels this scheduler's own pending entries indirectly
// via the wheel's normal Shutdown path.
func NewSingleThreaded(wheel *timer.Wheel, defaultDelay time.Duration, onDropped func(Task)) *SingleThreaded {
	owns := false
	if wheel == nil {
		wheel = timer.New()
		wheel.Start()
		owns = true
	}
	if onDropped == nil {
		onDropped = func(Task) {}
	}
	return &SingleThreaded{
		wheel:        wheel,
		ownsWheel:    owns,
		defaultDelay: defaultDelay,
		onDropped:    onDropped,
		logger:       log.WithComponent("scheduler-singlethreaded"),
	}
}

func (s *SingleThreaded) Schedule(task Task, delay time.Duration) Handle {
	if delay <= 0 {
		delay = s.defaultDelay
	}
	return s.wheel.AddTimer(delay, func() { task() }, func() { s.onDropped(task) })
}

func (s *SingleThreaded) Unschedule(h Handle) bool {
	return s.wheel.RemoveTimer(h)
}

func (s *SingleThreaded) Shutdown() {
	if s.ownsWheel {
		s.wheel.Shutdown()
	}
}

// ThreadPool hands expired tasks off to a fixed pool of worker goroutines
// instead of running them on the wheel's own goroutine, so a slow task
// cannot delay other timers.
type ThreadPool struct {
	wheel        *timer.Wheel
	ownsWheel    bool
	jobs         chan Task
	stopCh       chan struct{}
	wg           sync.WaitGroup
	defaultDelay time.Duration
	onDropped    func(Task)
	logger       zerolog.Logger
}

// NewThreadPool builds a scheduler with numWorkers goroutines draining a
// bounded job queue. See NewSingleThreaded for the wheel-ownership rule.
func NewThreadPool(wheel *timer.Wheel, numWorkers int, queueSize int, defaultDelay time.Duration, onDropped func(Task)) *ThreadPool {
	owns := false
	if wheel == nil {
		wheel = timer.New()
		wheel.Start()
		owns = true
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if onDropped == nil {
		onDropped = func(Task) {}
	}

	tp := &ThreadPool{
		wheel:        wheel,
		ownsWheel:    owns,
		jobs:         make(chan Task, queueSize),
		stopCh:       make(chan struct{}),
		defaultDelay: defaultDelay,
		onDropped:    onDropped,
		logger:       log.WithComponent("scheduler-threadpool"),
	}
	for i := 0; i < numWorkers; i++ {
		tp.wg.Add(1)
		go tp.worker()
	}
	return tp
}

func (tp *ThreadPool) worker() {
	defer tp.wg.Done()
	for {
		select {
		case job, ok := <-tp.jobs:
			if !ok {
				return
			}
			job()
		case <-tp.stopCh:
			return
		}
	}
}

func (tp *ThreadPool) Schedule(task Task, delay time.Duration) Handle {
	if delay <= 0 {
		delay = tp.defaultDelay
	}
	return tp.wheel.AddTimer(delay, func() {
		select {
		case tp.jobs <- task:
		case <-tp.stopCh:
			tp.onDropped(task)
		}
	}, func() { tp.onDropped(task) })
}

func (tp *ThreadPool) Unschedule(h Handle) bool {
	return tp.wheel.RemoveTimer(h)
}

func (tp *ThreadPool) Shutdown() {
	if tp.ownsWheel {
		tp.wheel.Shutdown()
	}
	close(tp.stopCh)
	tp.wg.Wait()
}
