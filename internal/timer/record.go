// Package timer computes, persists, and classifies the end-of-timer
// timestamps that participants share through the store.
//
// A record lives under one key and looks like this on the wire:
//
//	{"endTime": 1700000300, "timerId": "01J...", "startTime": 1700000000, "owner": "a1b2c3d4e5f6"}
//
// Only endTime is required. Records are never merged and never expire on
// their own: a record stays until it is overwritten or deleted.
package timer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/snehjoshi/epochsync/internal/clock"
	"github.com/snehjoshi/epochsync/internal/store"
)

// ErrStoreUnavailable is returned when the store cannot be reached, rejects
// the credentials, or fails to persist.
var ErrStoreUnavailable = errors.New("timer: store unavailable")

// ErrDurationOutOfRange is returned by EndTimeFor when the end time would
// not fit in an int64 count of seconds.
var ErrDurationOutOfRange = errors.New("timer: duration out of range")

// MaxDurationMinutes is the longest duration whose length in seconds fits in
// an int64.
const MaxDurationMinutes = math.MaxInt64 / 60

// ErrMalformedPayload is returned by strict reads when a record is not valid
// JSON, is not an object, or lacks an integer endTime.
var ErrMalformedPayload = errors.New("timer: malformed payload")

// FetchMode selects how Fetch treats a record it cannot use.
type FetchMode uint8

const (
	// Tolerant reports an unusable record as "no timer".
	Tolerant FetchMode = iota
	// Strict reports an unusable record as ErrMalformedPayload.
	Strict
)

func (m FetchMode) String() string {
	if m == Strict {
		return "strict"
	}
	return "tolerant"
}

// Record is the persisted value for one key.
type Record struct {
	EndTime int64 `json:"endTime"`

	// TimerID names one run of a timer. A new run under the same key gets
	// a new TimerID, which lets a waiter tell a restart from its own run.
	TimerID   string `json:"timerId,omitempty"`
	StartTime int64  `json:"startTime,omitempty"`
	Owner     string `json:"owner,omitempty"`
}

// wireRecord distinguishes a missing endTime from a zero one.
type wireRecord struct {
	EndTime   *int64 `json:"endTime"`
	TimerID   string `json:"timerId"`
	StartTime int64  `json:"startTime"`
	Owner     string `json:"owner"`
}

// ComputeEndTime returns now + durationMinutes*60. There is no clamping: a
// zero duration ends immediately.
func ComputeEndTime(now int64, durationMinutes uint64) int64 {
	return now + int64(durationMinutes)*60
}

// EndTimeFor is ComputeEndTime for untrusted durations: it returns
// ErrDurationOutOfRange instead of wrapping around.
func EndTimeFor(now int64, durationMinutes uint64) (int64, error) {
	if durationMinutes > MaxDurationMinutes {
		return 0, fmt.Errorf("%w: %d minutes", ErrDurationOutOfRange, durationMinutes)
	}
	secs := int64(durationMinutes) * 60
	if now > 0 && secs > math.MaxInt64-now {
		return 0, fmt.Errorf("%w: %d minutes from %d", ErrDurationOutOfRange, durationMinutes, now)
	}
	return now + secs, nil
}

// IsInPast reports whether t lies strictly before now.
func IsInPast(now, t int64) bool {
	return now > t
}

// Records reads and writes timer records through a Store.
type Records struct {
	store store.Store
	clock clock.Clock
}

// New returns a Records backed by s. A nil clock means the real clock.
func New(s store.Store, c clock.Clock) *Records {
	if c == nil {
		c = clock.Real{}
	}
	return &Records{store: s, clock: c}
}

// Now returns the current time in epoch seconds according to the Records'
// clock.
func (r *Records) Now() int64 { return clock.Unix(r.clock) }

// Store writes {endTime} under key, replacing any existing record, and
// returns endTime.
func (r *Records) Store(ctx context.Context, key string, endTime int64) (int64, error) {
	return r.Put(ctx, key, Record{EndTime: endTime})
}

// Put writes rec under key, replacing any existing record, and returns
// rec.EndTime.
func (r *Records) Put(ctx context.Context, key string, rec Record) (int64, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("timer: marshal record for %s: %w", key, err)
	}
	if err := r.store.Set(ctx, key, data); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return rec.EndTime, nil
}

// Fetch returns the end time stored under key.
// found is false when the key is absent or its value is null, in both modes.
// An unusable record is "not found" in Tolerant mode and ErrMalformedPayload
// in Strict mode.
func (r *Records) Fetch(ctx context.Context, key string, mode FetchMode) (endTime int64, found bool, err error) {
	rec, found, err := r.FetchRecord(ctx, key, mode)
	if err != nil || !found {
		return 0, false, err
	}
	return rec.EndTime, true, nil
}

// FetchRecord is Fetch returning the whole record.
func (r *Records) FetchRecord(ctx context.Context, key string, mode FetchMode) (Record, bool, error) {
	raw, err := r.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	rec, err := ParseRecord(raw)
	if errors.Is(err, ErrAbsent) {
		return Record{}, false, nil
	}
	if err != nil {
		if mode == Strict {
			return Record{}, false, fmt.Errorf("%w: key %s: %v", ErrMalformedPayload, key, err)
		}
		slog.Warn("ignoring unusable timer record", "key", key, "err", err)
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Delete removes the record under key. Removing an absent record succeeds.
func (r *Records) Delete(ctx context.Context, key string) error {
	if err := r.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// ErrAbsent is returned by ParseRecord for a stored JSON null, which counts
// as no record at all.
var ErrAbsent = errors.New("timer: record is null")

// ParseRecord decodes a stored value.
func ParseRecord(raw json.RawMessage) (Record, error) {
	if len(raw) == 0 {
		return Record{}, errors.New("empty value")
	}
	var w *wireRecord
	if err := json.Unmarshal(raw, &w); err != nil {
		return Record{}, err
	}
	if w == nil {
		return Record{}, ErrAbsent
	}
	if w.EndTime == nil {
		return Record{}, errors.New("missing endTime")
	}
	return Record{
		EndTime:   *w.EndTime,
		TimerID:   w.TimerID,
		StartTime: w.StartTime,
		Owner:     w.Owner,
	}, nil
}
