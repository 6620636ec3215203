package store_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snehjoshi/epochsync/internal/store"
)

func recv(t *testing.T, ch <-chan store.Event) store.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "watch channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return store.Event{}
	}
}

func TestNotifying_FansOutPutAndDelete(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := store.NewNotifying(store.NewMemory())
	a, err := n.Watch(ctx, "k")
	require.NoError(t, err)
	b, err := n.Watch(ctx, "k")
	require.NoError(t, err)
	other, err := n.Watch(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, 2, n.Subscribers("k"))

	require.NoError(t, n.Set(ctx, "k", json.RawMessage(`{"endTime":7}`)))
	require.NoError(t, n.Delete(ctx, "k"))

	for _, ch := range []<-chan store.Event{a, b} {
		ev := recv(t, ch)
		assert.Equal(t, store.EventPut, ev.Type)
		assert.Equal(t, "k", ev.Key)
		assert.JSONEq(t, `{"endTime":7}`, string(ev.Value))

		ev = recv(t, ch)
		assert.Equal(t, store.EventDelete, ev.Type)
	}

	select {
	case ev := <-other:
		t.Fatalf("unrelated watcher got %+v", ev)
	default:
	}
}

func TestNotifying_FailedWriteIsNotPublished(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := store.NewNotifying(store.NewMemory())
	ch, err := n.Watch(ctx, "k")
	require.NoError(t, err)

	dead, stop := context.WithCancel(context.Background())
	stop()
	require.Error(t, n.Set(dead, "k", json.RawMessage(`{}`)))

	select {
	case ev := <-ch:
		t.Fatalf("got event for failed write: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifying_CancelClosesChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	n := store.NewNotifying(store.NewMemory())
	ch, err := n.Watch(ctx, "k")
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
	assert.Eventually(t, func() bool { return n.Subscribers("k") == 0 },
		time.Second, 10*time.Millisecond)
}
