// Package store defines the key-value abstraction the timer layer persists
// its records through.
//
// The timer layer must ONLY interact with the shared store through the Store
// interface. Drivers:
//   - Remote: HTTP client for an epochsync-store server (the default)
//   - Bolt: single-file bbolt database, used by the server itself
//   - Memory: in-process map for tests and dry runs
//
// Values are opaque JSON documents. A Set overwrites; there is no merge and no
// conditional write, so two writers racing on one key are last-write-wins.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrUnavailable wraps every transport, auth, and I/O failure.
var ErrUnavailable = errors.New("store: unavailable")

// ErrInvalidKey is returned when a key fails ValidateKey.
var ErrInvalidKey = errors.New("store: invalid key")

// Store is a get/set/delete view of a shared JSON key-value store.
// All methods must be safe for concurrent use.
type Store interface {
	// Get returns the raw JSON value stored under key.
	// Returns ErrNotFound if the key is absent. A stored JSON null is
	// returned as-is.
	Get(ctx context.Context, key string) (json.RawMessage, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value json.RawMessage) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// EventType distinguishes the two kinds of change a Watcher reports.
type EventType string

const (
	EventPut    EventType = "put"
	EventDelete EventType = "delete"
)

// Event describes one change to a watched key.
type Event struct {
	Type  EventType       `json:"type"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Watcher is implemented by stores that can push changes for a key.
// The returned channel is closed when ctx is done or the watch breaks.
type Watcher interface {
	Watch(ctx context.Context, key string) (<-chan Event, error)
}

// ValidateKey returns ErrInvalidKey when key is empty, longer than 128
// bytes, a bare "." or "..", or contains a path separator or NUL byte.
func ValidateKey(key string) error {
	if key == "" || len(key) > 128 {
		return fmt.Errorf("%w: length must be 1-128", ErrInvalidKey)
	}
	if key == "." || key == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if strings.ContainsAny(key, "/\\\x00") {
		return fmt.Errorf("%w: %q contains a separator", ErrInvalidKey, key)
	}
	return nil
}

// unavailable wraps err so that errors.Is(err, ErrUnavailable) holds while
// the original cause stays inspectable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
