package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/snehjoshi/epochsync/internal/config"
	"github.com/snehjoshi/epochsync/internal/metrics"
	"github.com/snehjoshi/epochsync/internal/store"
	transphttp "github.com/snehjoshi/epochsync/internal/transport/http"
	"github.com/snehjoshi/epochsync/pkg/client"
)

// ─── test server helpers ──────────────────────────────────────────────────────

// newTestEnv spins up a real epochsync-store stack (memory store + HTTP)
// behind an httptest.Server. All resources are cleaned up in t.Cleanup.
func newTestEnv(t *testing.T, mutate func(*config.Config), opts ...client.ClientOption) *client.Client {
	t.Helper()

	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	mem := store.NewMemory()
	srv := transphttp.New(transphttp.Deps{
		Store:   store.NewNotifying(mem),
		NodeID:  "test-node",
		Keys:    func() (int, error) { return mem.Len(), nil },
		Metrics: &metrics.Registry{},
	}, cfg)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return client.New(ts.URL, opts...)
}

func ctx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

// ─── Health ───────────────────────────────────────────────────────────────────

func TestClient_Health(t *testing.T) {
	c := newTestEnv(t, nil)

	h, err := c.Health(ctx(t))
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.Status != "ok" {
		t.Errorf("Status = %q, want ok", h.Status)
	}
	if h.NodeID != "test-node" {
		t.Errorf("NodeID = %q, want test-node", h.NodeID)
	}
	if h.Version == "" {
		t.Error("Version is empty")
	}
}

// ─── Keys ─────────────────────────────────────────────────────────────────────

func TestClient_PutGetDelete(t *testing.T) {
	c := newTestEnv(t, nil)
	const key = "a1b2c3d4e5f6"

	if err := c.Put(ctx(t), key, json.RawMessage(`{"endTime":1700000300}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	raw, err := c.Get(ctx(t), key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(raw) != `{"endTime":1700000300}` {
		t.Errorf("Get = %s", raw)
	}

	h, err := c.Health(ctx(t))
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.Keys != 1 {
		t.Errorf("Keys = %d, want 1", h.Keys)
	}

	if err := c.Delete(ctx(t), key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := c.Delete(ctx(t), key); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	_, err = c.Get(ctx(t), key)
	if !client.IsNotFound(err) {
		t.Fatalf("Get after delete: want not found, got %v", err)
	}
}

func TestClient_APIErrorCarriesMessage(t *testing.T) {
	c := newTestEnv(t, nil)

	err := c.Put(ctx(t), "k", json.RawMessage(`{broken`))
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("want *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", apiErr.StatusCode)
	}
	if apiErr.Message == "" {
		t.Error("Message is empty")
	}
}

func TestClient_KeyIsEscaped(t *testing.T) {
	c := newTestEnv(t, nil)
	const key = "team timer?x=1"

	if err := c.Put(ctx(t), key, json.RawMessage(`1`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	raw, err := c.Get(ctx(t), key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(raw) != "1" {
		t.Errorf("Get = %s", raw)
	}
}

// ─── Auth ─────────────────────────────────────────────────────────────────────

func TestClient_Auth(t *testing.T) {
	secure := func(c *config.Config) {
		c.Auth = config.AuthConfig{Enabled: true, APIKey: "s3cret"}
	}

	anon := newTestEnv(t, secure)
	if _, err := anon.Health(ctx(t)); !client.IsUnauthorized(err) {
		t.Fatalf("no key: want unauthorized, got %v", err)
	}

	authed := newTestEnv(t, secure, client.WithAPIKey("s3cret"))
	if _, err := authed.Health(ctx(t)); err != nil {
		t.Fatalf("with key: %v", err)
	}
	if _, err := authed.Watch(ctx(t), "k"); err != nil {
		t.Fatalf("watch with key: %v", err)
	}
}

func TestClient_WatchUnauthorized(t *testing.T) {
	c := newTestEnv(t, func(c *config.Config) {
		c.Auth = config.AuthConfig{Enabled: true, APIKey: "s3cret"}
	})
	_, err := c.Watch(ctx(t), "k")
	if !client.IsUnauthorized(err) {
		t.Fatalf("want unauthorized, got %v", err)
	}
}

// ─── Watch ────────────────────────────────────────────────────────────────────

func TestClient_WatchReceivesPutAndDelete(t *testing.T) {
	c := newTestEnv(t, nil)
	wctx, cancel := context.WithCancel(ctx(t))
	defer cancel()

	events, err := c.Watch(wctx, "k")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := c.Put(ctx(t), "k", json.RawMessage(`{"endTime":5}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Put(ctx(t), "other", json.RawMessage(`1`)); err != nil {
		t.Fatalf("Put other: %v", err)
	}
	if err := c.Delete(ctx(t), "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	want := []client.Event{
		{Type: "put", Key: "k", Value: json.RawMessage(`{"endTime":5}`)},
		{Type: "delete", Key: "k"},
	}
	for i, w := range want {
		select {
		case ev := <-events:
			if ev.Type != w.Type || ev.Key != w.Key || string(ev.Value) != string(w.Value) {
				t.Fatalf("event %d = %+v, want %+v", i, ev, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}

	cancel()
	select {
	case _, ok := <-events:
		for ok {
			_, ok = <-events
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

// ─── Connection errors ────────────────────────────────────────────────────────

func TestClient_ServerDown(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := client.New(url, client.WithTimeout(time.Second))
	_, err := c.Get(ctx(t), "k")
	if err == nil {
		t.Fatal("expected error against a closed server")
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		t.Fatalf("connection failure reported as API error: %v", err)
	}
}
