package wake

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/snehjoshi/epochsync/internal/clock"
)

// ErrStopped is returned by ScheduleWake when the scheduler shuts down
// before the wake fires.
var ErrStopped = errors.New("wake: scheduler stopped")

// Scheduler fires callbacks at or after their target epoch second.
//
// Usage:
//
//	s := wake.New(clock.Real{})
//	s.Start(ctx)
//	defer s.Stop()
//
//	w := s.Schedule(endTime, wake.CallbackFunc(func(f *wake.CompletionFlag) {
//	    notifier.Notify()
//	    f.Mark()
//	}))
//	<-w.Done()
//
// All methods are safe for concurrent use.
type Scheduler struct {
	clock clock.Clock

	mu  sync.Mutex
	h   minHeap
	seq uint64

	// notify is a buffered channel of capacity 1.
	// Schedule and Abandon send a signal whenever the heap root may have
	// changed, prompting the goroutine to re-evaluate its sleep duration.
	notify chan struct{}

	done    chan struct{}
	stopped bool
	wg      sync.WaitGroup // delivery goroutine + in-flight callbacks
}

// New creates a Scheduler reading time from c. A nil clock means the real
// clock. Call Start to begin delivering.
func New(c clock.Clock) *Scheduler {
	if c == nil {
		c = clock.Real{}
	}
	h := make(minHeap, 0, 8)
	heap.Init(&h)
	return &Scheduler{
		clock:  c,
		h:      h,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Schedule registers cb to fire at target (epoch seconds) and returns its
// handle, already in StateRunning. A target at or before now fires on the
// next pass of the delivery goroutine without sleeping.
//
// Calling Schedule after Stop returns a wake that has already ended without
// firing.
func (s *Scheduler) Schedule(target int64, cb Callback) *Wake {
	w := &Wake{
		target:  target,
		cb:      cb,
		heapIdx: -1,
		done:    make(chan struct{}),
	}
	w.state.Store(uint32(StateRunning))

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		w.end()
		return w
	}
	s.seq++
	w.seq = s.seq
	heap.Push(&s.h, w)
	s.mu.Unlock()

	s.poke()
	return w
}

// ScheduleWake schedules cb at target and blocks until its callback has
// returned. If ctx ends first the wake is abandoned and ctx.Err() is
// returned, unless the callback had already started, in which case
// ScheduleWake waits for it and returns nil.
func (s *Scheduler) ScheduleWake(ctx context.Context, target int64, cb Callback) (*Wake, error) {
	w := s.Schedule(target, cb)
	select {
	case <-w.Done():
		if !w.fired.Load() {
			return w, ErrStopped
		}
		return w, nil
	case <-ctx.Done():
		if s.Abandon(w) {
			return w, ctx.Err()
		}
		<-w.Done()
		return w, nil
	}
}

// Abandon removes w before it fires. It reports false when w has already
// been handed to the delivery goroutine (or was never pending), in which
// case its callback runs or has run.
func (s *Scheduler) Abandon(w *Wake) bool {
	s.mu.Lock()
	if w.heapIdx < 0 || w.heapIdx >= s.h.Len() || s.h[w.heapIdx] != w {
		s.mu.Unlock()
		return false
	}
	s.h.remove(w.heapIdx)
	s.mu.Unlock()

	w.end()
	s.poke()
	return true
}

// Len returns the number of pending wakes.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h.Len()
}

// Start launches the background delivery goroutine.
// Start must be called exactly once. When ctx ends the scheduler stops as if
// Stop had been called: pending wakes end without firing and later ones are
// never scheduled.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop shuts down the delivery goroutine, ends every pending wake without
// firing it, and waits for in-flight callbacks to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	close(s.done)
	pending := s.takePending()
	s.mu.Unlock()

	s.wg.Wait()
	for _, w := range pending {
		w.end()
	}
}

// takePending marks the scheduler stopped and empties the heap.
// MUST be called with s.mu held.
func (s *Scheduler) takePending() []*Wake {
	s.stopped = true
	pending := make([]*Wake, 0, s.h.Len())
	for s.h.Len() > 0 {
		pending = append(pending, heap.Pop(&s.h).(*Wake))
	}
	return pending
}

// cancelled runs when the Start context ends. It shuts the scheduler down
// like Stop, so waiters using an unrelated context are released.
func (s *Scheduler) cancelled() {
	s.mu.Lock()
	pending := s.takePending()
	s.mu.Unlock()
	for _, w := range pending {
		w.end()
	}
}

// poke signals the delivery goroutine to re-evaluate. Non-blocking: if a
// signal is already pending, no-op.
func (s *Scheduler) poke() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// ─── delivery goroutine ───────────────────────────────────────────────────────

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		var next *Wake
		if s.h.Len() > 0 {
			next = s.h[0]
		}
		s.mu.Unlock()

		if next == nil {
			// Heap is empty; wait for a new wake or shutdown.
			select {
			case <-ctx.Done():
				s.cancelled()
				return
			case <-s.done:
				return
			case <-s.notify:
			}
			continue
		}

		// time.Unix carries no monotonic reading, so the comparison uses
		// wall clocks. The loop re-checks after every timer fire, so a wall
		// clock step can delay a wake but never make it early.
		due := time.Unix(next.target, 0)
		if !due.After(s.clock.Now()) {
			s.mu.Lock()
			w := s.popIfRoot(next)
			s.mu.Unlock()
			if w != nil {
				s.fire(w)
			}
			continue
		}

		t := s.clock.TimerAt(due)
		select {
		case <-ctx.Done():
			t.Stop()
			s.cancelled()
			return
		case <-s.done:
			t.Stop()
			return
		case <-s.notify:
			// The root may have changed; re-evaluate from the top.
			t.Stop()
		case <-t.C():
			// Loop around; the due check above pops and fires.
		}
	}
}

// popIfRoot pops w when it is still the heap root.
// MUST be called with s.mu held.
func (s *Scheduler) popIfRoot(w *Wake) *Wake {
	if s.h.Len() == 0 || s.h[0] != w {
		return nil
	}
	return heap.Pop(&s.h).(*Wake)
}

// fire runs the callback on its own goroutine so a slow callback never
// delays the next wake.
func (s *Scheduler) fire(w *Wake) {
	w.fired.Store(true)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer w.end()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("wake callback panicked", "target", w.target, "panic", r)
			}
		}()
		w.cb.OnWake(&w.flag)
	}()
}
