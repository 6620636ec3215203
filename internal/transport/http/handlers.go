package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/snehjoshi/epochsync/internal/metrics"
	"github.com/snehjoshi/epochsync/internal/store"
)

// version is reported by /health.
const version = "1.0.0"

// maxValueBytes bounds a single stored record. Timer records are tiny; the
// limit exists so the key space cannot be used as a blob store.
const maxValueBytes = 64 << 10 // 64 KiB

// Handler groups all HTTP request handlers around a Backend.
type Handler struct {
	store   Backend
	nodeID  string
	keys    func() (int, error)
	metrics *metrics.Registry // may be nil
}

// ─── DTOs ─────────────────────────────────────────────────────────────────────

type healthResp struct {
	Status   string `json:"status"`
	NodeID   string `json:"node_id"`
	Keys     int    `json:"keys"`
	Uptime   string `json:"uptime"`
	UptimeMs int64  `json:"uptime_ms"`
	Version  string `json:"version"`
}

// ─── Health ───────────────────────────────────────────────────────────────────

var startTime = time.Now()

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	n := 0
	if h.keys != nil {
		var err error
		if n, err = h.keys(); err != nil {
			slog.Warn("count keys failed", "err", err)
		}
	}
	elapsed := time.Since(startTime)
	writeJSON(w, http.StatusOK, healthResp{
		Status:   "ok",
		NodeID:   h.nodeID,
		Keys:     n,
		Uptime:   elapsed.Round(time.Second).String(),
		UptimeMs: elapsed.Milliseconds(),
		Version:  version,
	})
}

// ─── Records ──────────────────────────────────────────────────────────────────

func (h *Handler) getKey(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	val, err := h.store.Get(r.Context(), key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.count("get", "miss")
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "key not found"})
		return
	case err != nil:
		h.count("get", "error")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.count("get", "hit")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(val)
}

func (h *Handler) putKey(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxValueBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body: " + err.Error()})
		return
	}
	if len(body) > maxValueBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "value too large"})
		return
	}
	if !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "value must be a JSON document"})
		return
	}
	if err := h.store.Set(r.Context(), key, json.RawMessage(body)); err != nil {
		h.count("set", "error")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.count("set", "ok")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteKey(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	if err := h.store.Delete(r.Context(), key); err != nil {
		h.count("delete", "error")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.count("delete", "ok")
	w.WriteHeader(http.StatusNoContent)
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// pathKey extracts and validates {key}, writing a 400 when it is unusable.
func pathKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := r.PathValue("key")
	if err := store.ValidateKey(key); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return "", false
	}
	return key, true
}

func (h *Handler) count(op, result string) {
	if h.metrics != nil {
		h.metrics.StoreOps.Inc(metrics.OpKey(op, result))
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
