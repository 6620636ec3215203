// Package websocket provides the change feed for epochsync-store.
//
// Clients open a WebSocket connection to:
//
//	GET /keys/{key}/watch
//
// and receive one text frame per change to that key, until either side
// closes the connection.
//
// Server → client frame:
//
//	{"type":"put","key":"a1b2c3d4e5f6","value":{"endTime":1700000300}}
//	{"type":"delete","key":"a1b2c3d4e5f6"}
//
// The server ignores anything the client sends; it only reads to notice the
// close.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/snehjoshi/epochsync/internal/metrics"
	"github.com/snehjoshi/epochsync/internal/store"
)

// pingInterval keeps idle watches alive through proxies that drop quiet
// connections.
const pingInterval = 30 * time.Second

var upgrader = gorillaws.Upgrader{
	// CheckOrigin rejects cross-origin WebSocket upgrade requests.
	// A request is considered same-origin when its Origin header matches the
	// Host header (scheme-agnostic).  Requests without an Origin header
	// (e.g. the epochsync CLI) are always allowed.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser client, allow
		}
		parsed, err := parseHost(origin)
		if err != nil {
			return false
		}
		return parsed == r.Host
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// parseHost returns the host:port (or just host) portion of a URL string.
func parseHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid origin %q", rawURL)
	}
	return u.Host, nil
}

// Handler serves the watch endpoint for a single key.
// It is mounted by the HTTP server and reads the key from r.PathValue.
type Handler struct {
	Watcher store.Watcher
	Metrics *metrics.Registry // may be nil
}

// ServeHTTP upgrades the connection and forwards store events until the
// client goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := store.ValidateKey(key); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// The watch must outlive the request context once the connection is
	// hijacked, so it gets its own.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := h.Watcher.Watch(ctx, key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	if h.Metrics != nil {
		h.Metrics.ActiveWatches.Add(1)
		defer h.Metrics.ActiveWatches.Add(-1)
	}
	slog.Debug("watch opened", "key", key, "remote", r.RemoteAddr)

	// Read until the client closes; we never expect data frames.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			slog.Debug("watch closed", "key", key)
			return

		case <-ping.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(gorillaws.PingMessage, nil, deadline); err != nil {
				return
			}

		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Warn("encode watch event failed", "key", key, "err", err)
				continue
			}
			if err := conn.WriteMessage(gorillaws.TextMessage, data); err != nil {
				return
			}
			if h.Metrics != nil {
				h.Metrics.WatchEvents.Inc(string(ev.Type))
			}
		}
	}
}
