package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/snehjoshi/epochsync/internal/metrics"
)

// ─── labelCounter ─────────────────────────────────────────────────────────────

func TestRegistry_StoreOpCounters(t *testing.T) {
	var reg metrics.Registry

	key := metrics.OpKey("get", "hit")
	reg.StoreOps.Inc(key)
	reg.StoreOps.Inc(key)
	reg.StoreOps.Add(key, 3)

	if got := reg.StoreOps.Value(key); got != 5 {
		t.Fatalf("get/hit = %d, want 5", got)
	}
	if got := reg.StoreOps.Value(metrics.OpKey("get", "miss")); got != 0 {
		t.Fatalf("untouched key = %d, want 0", got)
	}
}

func TestRegistry_EachIsSorted(t *testing.T) {
	var reg metrics.Registry
	reg.WatchEvents.Inc("put")
	reg.WatchEvents.Inc("delete")

	var keys []string
	reg.WatchEvents.Each(func(k string, _ int64) { keys = append(keys, k) })
	if len(keys) != 2 || keys[0] != "delete" || keys[1] != "put" {
		t.Fatalf("keys = %v, want [delete put]", keys)
	}
}

func TestRegistry_ConcurrentInc(t *testing.T) {
	var reg metrics.Registry
	key := metrics.OpKey("set", "ok")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				reg.StoreOps.Inc(key)
			}
		}()
	}
	wg.Wait()
	if got := reg.StoreOps.Value(key); got != 5000 {
		t.Fatalf("count = %d, want 5000", got)
	}
}

// ─── Handler ──────────────────────────────────────────────────────────────────

func scrape(t *testing.T, reg *metrics.Registry) string {
	t.Helper()
	rr := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	body, _ := io.ReadAll(rr.Body)
	return string(body)
}

func TestHandler_PrometheusOutput(t *testing.T) {
	var reg metrics.Registry
	reg.StoreOps.Inc(metrics.OpKey("delete", "ok"))
	reg.WatchEvents.Add("put", 4)
	reg.ActiveWatches.Add(2)

	reqKey := metrics.HTTPKey("PUT", "PUT /keys/{key}", "204")
	durKey := metrics.HTTPDurKey("PUT", "PUT /keys/{key}")
	reg.HTTPReqs.Inc(reqKey)
	reg.HTTPDurMs.Add(durKey, 42)
	reg.HTTPDurCnt.Inc(durKey)

	out := scrape(t, &reg)
	for _, want := range []string{
		"# TYPE epochsync_store_operations_total counter",
		`epochsync_store_operations_total{op="delete",result="ok"} 1`,
		`epochsync_watch_events_total{type="put"} 4`,
		"# TYPE epochsync_active_watches gauge",
		"epochsync_active_watches 2",
		`epochsync_http_requests_total{method="PUT",path="PUT /keys/{key}",status="204"} 1`,
		`epochsync_http_request_duration_milliseconds_sum{method="PUT",path="PUT /keys/{key}"} 42`,
		`epochsync_http_request_duration_milliseconds_count{method="PUT",path="PUT /keys/{key}"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestHandler_EmptyFamiliesAreOmitted(t *testing.T) {
	var reg metrics.Registry
	out := scrape(t, &reg)
	if strings.Contains(out, "epochsync_store_operations_total") {
		t.Errorf("empty counter family rendered:\n%s", out)
	}
	// The gauge is always present.
	if !strings.Contains(out, "epochsync_active_watches 0") {
		t.Errorf("gauge missing:\n%s", out)
	}
}
