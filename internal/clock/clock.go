// Package clock abstracts the wall clock so that start times can be pinned
// and advanced by hand in tests while production code reads the real time.
//
// Timers take an absolute deadline rather than a duration, so a Manual clock
// moved between reading Now and arming a timer cannot push the deadline back.
//
// Production:
//
//	c := clock.Real{}
//	t := c.TimerAt(time.Now().Add(5 * time.Second))
//	<-t.C() // waits 5 seconds
//
// Tests:
//
//	c := clock.NewManual(time.Unix(0, 0))
//	t := c.TimerAt(time.Unix(5, 0))
//	c.Advance(10 * time.Second) // t fires immediately
package clock

import (
	"sync"
	"time"
)

// Clock reports the current time and creates timers measured against it.
// Implementations must be safe for concurrent use.
type Clock interface {
	Now() time.Time
	// TimerAt returns a timer that fires once the clock reaches deadline.
	// A deadline at or before Now fires immediately.
	TimerAt(deadline time.Time) Timer
}

// Timer is the subset of *time.Timer the scheduler needs.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// Unix returns c.Now() in whole epoch seconds.
func Unix(c Clock) int64 { return c.Now().Unix() }

// ─── Real ─────────────────────────────────────────────────────────────────────

// Real reads the system clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) TimerAt(deadline time.Time) Timer {
	return realTimer{time.NewTimer(time.Until(deadline))}
}

type realTimer struct{ t *time.Timer }

func (r realTimer) C() <-chan time.Time { return r.t.C }
func (r realTimer) Stop() bool          { return r.t.Stop() }

// ─── Manual ───────────────────────────────────────────────────────────────────

// Manual is a clock that only moves when Set or Advance is called. Timers
// created from it fire once the clock reaches their deadline.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	timers map[*manualTimer]struct{}
}

// NewManual returns a Manual clock pinned at t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t, timers: make(map[*manualTimer]struct{})}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) TimerAt(deadline time.Time) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{
		clock:    m,
		deadline: deadline,
		ch:       make(chan time.Time, 1),
	}
	if !deadline.After(m.now) {
		t.ch <- m.now
		return t
	}
	m.timers[t] = struct{}{}
	return t
}

// Set moves the clock to t and fires every timer whose deadline has passed.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
	for mt := range m.timers {
		if !mt.deadline.After(m.now) {
			delete(m.timers, mt)
			mt.ch <- m.now
		}
	}
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.Set(m.Now().Add(d))
}

// Pending returns the number of timers that have not fired or been stopped.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

type manualTimer struct {
	clock    *Manual
	deadline time.Time
	ch       chan time.Time
}

func (t *manualTimer) C() <-chan time.Time { return t.ch }

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	_, pending := t.clock.timers[t]
	delete(t.clock.timers, t)
	return pending
}
