// Package session implements the participant operations: start a timer,
// join someone's timer, cancel one's own timer, and print one's join token.
//
// New and Join block until the shared end time and then fire the notifier
// once. Neither takes a lock on the store: two participants starting a timer
// under the same key at the same moment race, and the last write wins.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/snehjoshi/epochsync/internal/clock"
	"github.com/snehjoshi/epochsync/internal/identity"
	"github.com/snehjoshi/epochsync/internal/notify"
	"github.com/snehjoshi/epochsync/internal/store"
	"github.com/snehjoshi/epochsync/internal/timer"
	"github.com/snehjoshi/epochsync/internal/wake"
)

// Outcome is the control-flow result of an operation. Only a failure to
// reach the store or resolve the identity is reported as an error.
type Outcome uint8

const (
	// Started means New stored a fresh end time and its wake has fired.
	Started Outcome = iota + 1
	// AlreadyRunning means New found an unexpired record of its own and
	// wrote nothing.
	AlreadyRunning
	// Joined means Join waited on an existing record and its wake has fired.
	Joined
	// UnknownID means Join found no record under the id.
	UnknownID
	// Expired means Join found a record whose end time has passed.
	Expired
	// Canceled means the record was deleted or replaced while waiting. Only
	// reported when following cancellations is enabled.
	Canceled
)

func (o Outcome) String() string {
	switch o {
	case Started:
		return "started"
	case AlreadyRunning:
		return "already_running"
	case Joined:
		return "joined"
	case UnknownID:
		return "unknown_id"
	case Expired:
		return "expired"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Result describes how an operation ended.
type Result struct {
	Outcome Outcome
	Key     string
	EndTime int64
	// Wake is the scheduled wake for Started, Joined and Canceled results,
	// nil otherwise. A Canceled result has no wake when the record changed
	// before it was scheduled.
	Wake *wake.Wake
}

// Report is returned by Status.
type Report struct {
	Key       string
	State     timer.State
	EndTime   int64
	Remaining time.Duration
	TimerID   string
}

// IDProvider resolves this machine's ConnectionId.
type IDProvider interface {
	CurrentID() (string, error)
}

// Option configures a Controller.
type Option func(*Controller)

// WithNotifier sets the notifier fired at wake time.
func WithNotifier(n notify.Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithClock sets the clock used for "now". It must be the same clock the
// wake.Scheduler was built with.
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

// WithFollowCancel makes waiters watch their record through w and give up
// when it is deleted or replaced by another run.
func WithFollowCancel(w store.Watcher) Option {
	return func(c *Controller) { c.watcher = w }
}

// WithOnStarted registers fn to be called by New right after the record is
// stored and before it blocks, so the caller can share the join token.
func WithOnStarted(fn func(key string, endTime int64)) Option {
	return func(c *Controller) { c.onStarted = fn }
}

// Controller runs the participant operations.
type Controller struct {
	records  *timer.Records
	sched    *wake.Scheduler
	ident    IDProvider
	notifier notify.Notifier
	clock    clock.Clock
	watcher  store.Watcher

	onStarted func(key string, endTime int64)
}

// New builds a Controller. The scheduler must already be started.
func New(records *timer.Records, sched *wake.Scheduler, ident IDProvider, opts ...Option) *Controller {
	c := &Controller{
		records: records,
		sched:   sched,
		ident:   ident,
		clock:   clock.Real{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// PrintID returns this machine's ConnectionId without touching the store.
func (c *Controller) PrintID() (string, error) {
	return c.currentID()
}

// New starts a timer of durationMinutes under this machine's ConnectionId
// and blocks until it fires. If a record under the same key has not yet
// expired, New returns AlreadyRunning without writing. A stale record is
// replaced.
func (c *Controller) New(ctx context.Context, durationMinutes uint64) (Result, error) {
	key, err := c.currentID()
	if err != nil {
		return Result{}, err
	}

	now := clock.Unix(c.clock)
	existing, found, err := c.records.Fetch(ctx, key, timer.Tolerant)
	if err != nil {
		return Result{}, err
	}
	if found && !timer.IsInPast(now, existing) {
		slog.Info("timer already running", "key", key, "end_time", existing)
		return Result{Outcome: AlreadyRunning, Key: key, EndTime: existing}, nil
	}

	endTime, err := timer.EndTimeFor(now, durationMinutes)
	if err != nil {
		return Result{}, fmt.Errorf("session: new: %w", err)
	}
	timerID, err := identity.NewULID()
	if err != nil {
		return Result{}, fmt.Errorf("session: generate timer id: %w", err)
	}
	endTime, err = c.records.Put(ctx, key, timer.Record{
		EndTime:   endTime,
		TimerID:   timerID,
		StartTime: now,
		Owner:     key,
	})
	if err != nil {
		return Result{}, err
	}
	slog.Info("timer started", "key", key, "end_time", endTime, "timer_id", timerID)

	if c.onStarted != nil {
		c.onStarted(key, endTime)
	}

	rec := timer.Record{EndTime: endTime, TimerID: timerID}
	return c.wait(ctx, key, rec, Started)
}

// Join waits on the timer stored under id and blocks until it fires.
// It returns UnknownID when there is no usable record and Expired when the
// end time is not in the future, without suspending in either case.
func (c *Controller) Join(ctx context.Context, id string) (Result, error) {
	if err := store.ValidateKey(id); err != nil {
		return Result{}, fmt.Errorf("session: join %q: %w", id, err)
	}

	rec, found, err := c.records.FetchRecord(ctx, id, timer.Tolerant)
	if err != nil {
		return Result{}, err
	}
	if !found {
		slog.Info("no timer under id", "key", id)
		return Result{Outcome: UnknownID, Key: id}, nil
	}
	if rec.EndTime <= clock.Unix(c.clock) {
		slog.Info("timer already expired", "key", id, "end_time", rec.EndTime)
		return Result{Outcome: Expired, Key: id, EndTime: rec.EndTime}, nil
	}

	slog.Info("joined timer", "key", id, "end_time", rec.EndTime, "timer_id", rec.TimerID)
	return c.wait(ctx, id, rec, Joined)
}

// Cancel deletes this machine's record. It succeeds when there is none.
// Waiters in other processes are not stopped unless they follow
// cancellations.
func (c *Controller) Cancel(ctx context.Context) error {
	key, err := c.currentID()
	if err != nil {
		return err
	}
	if err := c.records.Delete(ctx, key); err != nil {
		return err
	}
	slog.Info("timer canceled", "key", key)
	return nil
}

// Status reports the state of the record under id, or under this machine's
// ConnectionId when id is empty. It reads strictly, so a corrupt record is
// reported as timer.ErrMalformedPayload rather than as absent.
func (c *Controller) Status(ctx context.Context, id string) (Report, error) {
	if id == "" {
		var err error
		if id, err = c.currentID(); err != nil {
			return Report{}, err
		}
	} else if err := store.ValidateKey(id); err != nil {
		return Report{}, fmt.Errorf("session: status %q: %w", id, err)
	}

	rec, found, err := c.records.FetchRecord(ctx, id, timer.Strict)
	if err != nil {
		return Report{}, err
	}
	now := c.clock.Now()
	r := Report{
		Key:     id,
		State:   timer.Classify(now.Unix(), rec.EndTime, found),
		EndTime: rec.EndTime,
		TimerID: rec.TimerID,
	}
	if r.State == timer.StateRunning {
		r.Remaining = time.Unix(rec.EndTime, 0).Sub(now)
		if r.Remaining < 0 {
			r.Remaining = 0
		}
	}
	return r, nil
}

func (c *Controller) currentID() (string, error) {
	id, err := c.ident.CurrentID()
	if err != nil {
		return "", fmt.Errorf("session: resolve connection id: %w", err)
	}
	return id, nil
}

// callback fires the notifier and marks the flag. The notification runs on
// a context detached from ctx's cancellation so that a wake racing with
// shutdown still gets delivered.
func (c *Controller) callback(ctx context.Context, key string, endTime int64) wake.Callback {
	nctx := context.WithoutCancel(ctx)
	return wake.CallbackFunc(func(flag *wake.CompletionFlag) {
		notify.Fire(nctx, c.notifier, notify.Alarm{
			Key:     key,
			EndTime: endTime,
			FiredAt: c.clock.Now(),
		})
		flag.Mark()
	})
}

// wait blocks until rec's wake fires. With following enabled it also
// abandons the wake when the record under key is deleted or replaced.
func (c *Controller) wait(ctx context.Context, key string, rec timer.Record, done Outcome) (Result, error) {
	cb := c.callback(ctx, key, rec.EndTime)
	res := Result{Outcome: done, Key: key, EndTime: rec.EndTime}

	var events <-chan store.Event
	if c.watcher != nil {
		wctx, cancel := context.WithCancel(ctx)
		defer cancel()
		ch, err := c.watcher.Watch(wctx, key)
		if err != nil {
			slog.Warn("cannot follow cancellations, waiting regardless", "key", key, "err", err)
		} else {
			events = ch
		}
	}

	// A change that landed before the subscription produces no event, so
	// read the record once more now that later changes are covered.
	if events != nil && c.changedSince(ctx, key, rec) {
		slog.Info("timer canceled remotely", "key", key, "event", "before_watch")
		res.Outcome = Canceled
		return res, nil
	}

	if events == nil {
		w, err := c.sched.ScheduleWake(ctx, rec.EndTime, cb)
		res.Wake = w
		if err != nil {
			return res, fmt.Errorf("session: wait for %s: %w", key, err)
		}
		return res, nil
	}

	w := c.sched.Schedule(rec.EndTime, cb)
	res.Wake = w
	for {
		select {
		case <-w.Done():
			if !w.Fired() {
				return res, fmt.Errorf("session: wait for %s: %w", key, wake.ErrStopped)
			}
			return res, nil

		case ev, ok := <-events:
			if !ok {
				events = nil // watch broke; keep waiting on the wake alone
				continue
			}
			if !replaced(ev, rec) {
				continue
			}
			if c.sched.Abandon(w) {
				slog.Info("timer canceled remotely", "key", key, "event", ev.Type)
				res.Outcome = Canceled
				return res, nil
			}
			// Already firing; let it finish.

		case <-ctx.Done():
			if c.sched.Abandon(w) {
				return res, ctx.Err()
			}
			<-w.Done()
			return res, nil
		}
	}
}

// changedSince reports whether the record under key no longer describes
// rec's run. A record that cannot be read or parsed counts as unchanged, the
// same way a malformed watch event does.
func (c *Controller) changedSince(ctx context.Context, key string, rec timer.Record) bool {
	cur, found, err := c.records.FetchRecord(ctx, key, timer.Strict)
	if err != nil {
		slog.Warn("cannot re-read timer record", "key", key, "err", err)
		return false
	}
	if !found {
		return true
	}
	return cur.TimerID != rec.TimerID || cur.EndTime != rec.EndTime
}

// replaced reports whether ev ends the run described by rec.
func replaced(ev store.Event, rec timer.Record) bool {
	if ev.Type == store.EventDelete {
		return true
	}
	next, err := timer.ParseRecord(ev.Value)
	if errors.Is(err, timer.ErrAbsent) {
		return true
	}
	if err != nil {
		return false
	}
	return next.TimerID != rec.TimerID || next.EndTime != rec.EndTime
}
