package store

import (
	"context"
	"encoding/json"
	"sync"
)

// watchBuffer is the per-subscriber channel capacity. A subscriber that falls
// this far behind misses events rather than stalling writers.
const watchBuffer = 16

// Notifying wraps a Store and implements Watcher by fanning out every
// successful Set and Delete to the subscribers of that key.
type Notifying struct {
	Store

	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

// NewNotifying wraps inner.
func NewNotifying(inner Store) *Notifying {
	return &Notifying{
		Store: inner,
		subs:  make(map[string]map[chan Event]struct{}),
	}
}

func (n *Notifying) Set(ctx context.Context, key string, value json.RawMessage) error {
	if err := n.Store.Set(ctx, key, value); err != nil {
		return err
	}
	n.publish(Event{Type: EventPut, Key: key, Value: value})
	return nil
}

func (n *Notifying) Delete(ctx context.Context, key string) error {
	if err := n.Store.Delete(ctx, key); err != nil {
		return err
	}
	n.publish(Event{Type: EventDelete, Key: key})
	return nil
}

// Watch subscribes to changes of key until ctx is done.
func (n *Notifying) Watch(ctx context.Context, key string) (<-chan Event, error) {
	ch := make(chan Event, watchBuffer)

	n.mu.Lock()
	set, ok := n.subs[key]
	if !ok {
		set = make(map[chan Event]struct{})
		n.subs[key] = set
	}
	set[ch] = struct{}{}
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		delete(n.subs[key], ch)
		if len(n.subs[key]) == 0 {
			delete(n.subs, key)
		}
		close(ch)
		n.mu.Unlock()
	}()
	return ch, nil
}

// Subscribers returns the number of active watches on key.
func (n *Notifying) Subscribers(key string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs[key])
}

func (n *Notifying) publish(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs[ev.Key] {
		select {
		case ch <- ev:
		default:
		}
	}
}
