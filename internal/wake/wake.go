package wake

import (
	"context"
	"sync/atomic"
)

// State is the lifecycle of one scheduled wake.
type State uint32

const (
	// StateInactive is the zero value, before the wake is registered.
	StateInactive State = iota
	// StateRunning means the wake is registered and waiting or firing.
	StateRunning
	// StateEnded is terminal. It is reached after the callback returns, or
	// when the wake is abandoned before it fires.
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateRunning:
		return "running"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// CompletionFlag records that a callback has run. It is written by the
// callback on the delivery goroutine and read by the caller, so it is atomic.
type CompletionFlag struct {
	v atomic.Bool
}

// Mark sets the flag.
func (f *CompletionFlag) Mark() { f.v.Store(true) }

// IsSet reports whether Mark has been called.
func (f *CompletionFlag) IsSet() bool { return f.v.Load() }

// Callback is invoked once when a wake comes due. It receives the wake's
// CompletionFlag and is responsible for marking it; the scheduler never
// looks at the flag.
type Callback interface {
	OnWake(flag *CompletionFlag)
}

// CallbackFunc adapts an ordinary function to Callback.
type CallbackFunc func(flag *CompletionFlag)

// OnWake calls f(flag).
func (f CallbackFunc) OnWake(flag *CompletionFlag) { f(flag) }

// Wake is the handle for one scheduled callback.
type Wake struct {
	target int64 // epoch seconds, sort key
	seq    uint64
	cb     Callback

	// heapIdx is the wake's position in the heap slice, -1 when popped.
	// Guarded by the owning Scheduler's mutex.
	heapIdx int

	state atomic.Uint32
	fired atomic.Bool // handed to the delivery goroutine
	flag  CompletionFlag
	done  chan struct{}
}

// Target returns the epoch second the wake is due at.
func (w *Wake) Target() int64 { return w.target }

// State returns the current lifecycle state.
func (w *Wake) State() State { return State(w.state.Load()) }

// Completed returns the flag handed to the callback.
func (w *Wake) Completed() *CompletionFlag { return &w.flag }

// Done is closed when the wake reaches StateEnded.
func (w *Wake) Done() <-chan struct{} { return w.done }

// Fired reports whether the wake was delivered rather than abandoned or
// dropped by Stop. It turns true just before the callback starts.
func (w *Wake) Fired() bool { return w.fired.Load() }

// Wait blocks until the wake ends or ctx is done.
func (w *Wake) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Wake) end() {
	w.state.Store(uint32(StateEnded))
	close(w.done)
}
