// Package timer implements the single-worker timer wheel from spec §4.1:
// one goroutine owns an ordered set of deadlines, firing one-shot and
// periodic entries and calling onRemove for anything cancelled or still
// pending at shutdown.
package timer

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bmwcarit/joynr-cc/internal/log"
	"github.com/bmwcarit/joynr-cc/internal/metrics"
)

type entry struct {
	id       uint64
	deadline time.Time
	interval time.Duration
	periodic bool
	onExpire func()
	onRemove func()
}

// Wheel is a single ordered set of deadlines serviced by one worker
// goroutine. All onExpire/onRemove callbacks run on that worker and must
// not block. AddTimer/RemoveTimer may be called re-entrantly from within a
// callback.
type Wheel struct {
	mu      sync.Mutex
	entries map[uint64]*entry
	nextID  uint64

	reorganize chan struct{}
	stopCh     chan struct{}
	wg         sync.WaitGroup
	started    bool

	clock  func() time.Time
	logger zerolog.Logger
}

// New creates a Wheel. Call Start before scheduling anything.
func New() *Wheel {
	return &Wheel{
		entries:    make(map[uint64]*entry),
		reorganize: make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		clock:      time.Now,
		logger:     log.WithComponent("timerwheel"),
	}
}

// Start launches the worker goroutine. Calling it again is a no-op.
func (w *Wheel) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run()
}

// AddTimer schedules a one-shot timer firing after delay.
func (w *Wheel) AddTimer(delay time.Duration, onExpire, onRemove func()) uint64 {
	return w.add(delay, 0, false, onExpire, onRemove)
}

// AddPeriodicTimer schedules a recurring timer, first firing after
// interval and then every interval thereafter until removed.
func (w *Wheel) AddPeriodicTimer(interval time.Duration, onExpire, onRemove func()) uint64 {
	return w.add(interval, interval, true, onExpire, onRemove)
}

func (w *Wheel) add(delay, interval time.Duration, periodic bool, onExpire, onRemove func()) uint64 {
	if onExpire == nil {
		onExpire = func() {}
	}
	if onRemove == nil {
		onRemove = func() {}
	}

	w.mu.Lock()
	id := w.nextID
	w.nextID++
	deadline := w.clock().Add(delay)

	_, hadEarlier := w.earliestLocked()
	w.entries[id] = &entry{
		id:       id,
		deadline: deadline,
		interval: interval,
		periodic: periodic,
		onExpire: onExpire,
		onRemove: onRemove,
	}
	newEarliest, _ := w.earliestLocked()
	depth := len(w.entries)
	w.mu.Unlock()

	metrics.TimerWheelDepth.Set(float64(depth))

	if !hadEarlier || newEarliest.deadline.Equal(deadline) {
		w.signalReorganize()
	}
	return id
}

// RemoveTimer cancels a pending timer. It calls onRemove and returns true
// iff the timer was still pending; a timer whose expiry callback has
// already begun running cannot be cancelled.
func (w *Wheel) RemoveTimer(id uint64) bool {
	w.mu.Lock()
	ent, ok := w.entries[id]
	if ok {
		delete(w.entries, id)
	}
	depth := len(w.entries)
	w.mu.Unlock()

	if !ok {
		return false
	}
	metrics.TimerWheelDepth.Set(float64(depth))
	ent.onRemove()
	w.signalReorganize()
	return true
}

// Shutdown signals the worker, waits for it to exit, having invoked
// onRemove for every entry still pending at that point.
func (w *Wheel) Shutdown() {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if !started {
		return
	}
	select {
	case <-w.stopCh:
		// already closed
	default:
		close(w.stopCh)
	}
	w.wg.Wait()
}

func (w *Wheel) signalReorganize() {
	select {
	case w.reorganize <- struct{}{}:
	default:
	}
}

// earliestLocked returns the entry with the smallest deadline. Caller
// holds w.mu. Linear scan: N is small in practice per spec §4.1.
func (w *Wheel) earliestLocked() (*entry, bool) {
	var best *entry
	for _, e := range w.entries {
		if best == nil || e.deadline.Before(best.deadline) {
			best = e
		}
	}
	return best, best != nil
}

func (w *Wheel) run() {
	defer w.wg.Done()
	for {
		w.mu.Lock()
		best, ok := w.earliestLocked()
		w.mu.Unlock()

		var timerC <-chan time.Time
		var t *time.Timer
		if ok {
			d := best.deadline.Sub(w.clock())
			if d < 0 {
				d = 0
			}
			t = time.NewTimer(d)
			timerC = t.C
		}

		select {
		case <-timerC:
			w.fireDue()
		case <-w.reorganize:
			if t != nil {
				t.Stop()
			}
		case <-w.stopCh:
			if t != nil {
				t.Stop()
			}
			w.drainAll()
			return
		}
	}
}

// fireDue pops and fires every entry whose deadline has passed as of now,
// reinserting periodic entries under the same id.
func (w *Wheel) fireDue() {
	for {
		now := w.clock()
		w.mu.Lock()
		best, ok := w.earliestLocked()
		if !ok || best.deadline.After(now) {
			w.mu.Unlock()
			return
		}
		delete(w.entries, best.id)
		w.mu.Unlock()

		best.onExpire()

		if best.periodic {
			w.mu.Lock()
			w.entries[best.id] = &entry{
				id:       best.id,
				deadline: best.deadline.Add(best.interval),
				interval: best.interval,
				periodic: true,
				onExpire: best.onExpire,
				onRemove: best.onRemove,
			}
			depth := len(w.entries)
			w.mu.Unlock()
			metrics.TimerWheelDepth.Set(float64(depth))
		} else {
			w.mu.Lock()
			depth := len(w.entries)
			w.mu.Unlock()
			metrics.TimerWheelDepth.Set(float64(depth))
		}
	}
}

func (w *Wheel) drainAll() {
	w.mu.Lock()
	remaining := make([]*entry, 0, len(w.entries))
	for _, e := range w.entries {
		remaining = append(remaining, e)
	}
	w.entries = make(map[uint64]*entry)
	w.mu.Unlock()

	metrics.TimerWheelDepth.Set(0)
	for _, e := range remaining {
		e.onRemove()
	}
}
