package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/snehjoshi/epochsync/pkg/client"
)

// Remote adapts a pkg/client.Client to the Store and Watcher interfaces.
// A 404 from the server becomes ErrNotFound; every other failure, including
// 401/403 and transport errors, becomes ErrUnavailable.
type Remote struct {
	c *client.Client
}

// NewRemote wraps c.
func NewRemote(c *client.Client) *Remote {
	return &Remote{c: c}
}

func (r *Remote) Get(ctx context.Context, key string) (json.RawMessage, error) {
	raw, err := r.c.Get(ctx, key)
	if client.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get "+key, err)
	}
	return raw, nil
}

func (r *Remote) Set(ctx context.Context, key string, value json.RawMessage) error {
	if err := r.c.Put(ctx, key, value); err != nil {
		return unavailable("set "+key, err)
	}
	return nil
}

func (r *Remote) Delete(ctx context.Context, key string) error {
	err := r.c.Delete(ctx, key)
	if client.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return unavailable("delete "+key, err)
	}
	return nil
}

// Watch streams changes to key over the server's websocket endpoint.
func (r *Remote) Watch(ctx context.Context, key string) (<-chan Event, error) {
	in, err := r.c.Watch(ctx, key)
	if err != nil {
		return nil, unavailable("watch "+key, err)
	}
	out := make(chan Event, watchBuffer)
	go func() {
		defer close(out)
		for ev := range in {
			select {
			case out <- Event{Type: EventType(ev.Type), Key: ev.Key, Value: ev.Value}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Ping checks that the server is reachable and accepts the configured key.
func (r *Remote) Ping(ctx context.Context) error {
	if _, err := r.c.Health(ctx); err != nil {
		return unavailable(fmt.Sprintf("ping %s", r.c.BaseURL()), err)
	}
	return nil
}
