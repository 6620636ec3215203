package notify_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/snehjoshi/epochsync/internal/notify"
)

var alarm = notify.Alarm{Key: "a1b2c3d4e5f6", EndTime: 300, FiredAt: time.UnixMilli(300_250)}

// ─── Writer ──────────────────────────────────────────────────────────────────

func TestWriter_PrintsMessage(t *testing.T) {
	var buf bytes.Buffer
	w := &notify.Writer{W: &buf, Message: "Tea is ready"}
	if err := w.Notify(context.Background(), alarm); err != nil {
		t.Fatalf("Notify() error: %v", err)
	}
	if got := buf.String(); got != "Tea is ready (a1b2c3d4e5f6)\n" {
		t.Errorf("output = %q", got)
	}
}

func TestWriter_DefaultMessageAndBell(t *testing.T) {
	var buf bytes.Buffer
	w := &notify.Writer{W: &buf, Bell: true}
	_ = w.Notify(context.Background(), alarm)
	if got := buf.String(); got != "\a"+notify.DefaultMessage+" (a1b2c3d4e5f6)\n" {
		t.Errorf("output = %q", got)
	}
}

// ─── Multi and Fire ──────────────────────────────────────────────────────────

func TestMulti_RunsAllAndJoinsErrors(t *testing.T) {
	errA := errors.New("a failed")
	var ran atomic.Int32
	m := notify.Multi{
		notify.Func(func(context.Context, notify.Alarm) error { ran.Add(1); return errA }),
		notify.Func(func(context.Context, notify.Alarm) error { ran.Add(1); return nil }),
	}
	err := m.Notify(context.Background(), alarm)
	if !errors.Is(err, errA) {
		t.Errorf("Notify() error = %v, want errA", err)
	}
	if ran.Load() != 2 {
		t.Errorf("ran %d notifiers, want 2", ran.Load())
	}
}

func TestFire_SwallowsErrorsAndNil(t *testing.T) {
	notify.Fire(context.Background(), nil, alarm)

	called := false
	notify.Fire(context.Background(), notify.Func(func(_ context.Context, a notify.Alarm) error {
		called = a.Key == alarm.Key
		return errors.New("display unavailable")
	}), alarm)
	if !called {
		t.Error("Fire did not call the notifier with the alarm")
	}
}

// ─── Command ─────────────────────────────────────────────────────────────────

func TestCommand_SubstitutesPlaceholders(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	out := filepath.Join(t.TempDir(), "out.txt")
	c := &notify.Command{
		Path:    sh,
		Args:    []string{"-c", `printf '%s|%s|%s' "$1" "$2" "$3" > ` + out, "sh", "{key}", "{end_time}", "{message}"},
		Message: "done",
		Timeout: 5 * time.Second,
	}
	if err := c.Notify(context.Background(), alarm); err != nil {
		t.Fatalf("Notify() error: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "a1b2c3d4e5f6|300|done" {
		t.Errorf("command saw %q", data)
	}
}

func TestCommand_FailureIsReported(t *testing.T) {
	c := &notify.Command{Path: filepath.Join(t.TempDir(), "does-not-exist")}
	if err := c.Notify(context.Background(), alarm); err == nil {
		t.Fatal("expected error for missing binary")
	}
	if err := (&notify.Command{}).Notify(context.Background(), alarm); err == nil {
		t.Fatal("expected error for empty path")
	}
}

// ─── Webhook ─────────────────────────────────────────────────────────────────

func TestWebhook_PostsSignedPayload(t *testing.T) {
	var gotBody []byte
	var gotSig string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get(notify.SignatureHeader)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	wh := &notify.Webhook{URL: ts.URL, Secret: "s3cret"}
	if err := wh.Notify(context.Background(), alarm); err != nil {
		t.Fatalf("Notify() error: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if payload["key"] != "a1b2c3d4e5f6" || payload["end_time"] != float64(300) || payload["fired_at"] != float64(300_250) {
		t.Errorf("payload = %v", payload)
	}

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(gotBody)
	if want := "sha256=" + hex.EncodeToString(mac.Sum(nil)); gotSig != want {
		t.Errorf("signature = %q, want %q", gotSig, want)
	}
}

func TestWebhook_RetriesThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	wh := &notify.Webhook{URL: ts.URL, RetryDelays: []time.Duration{time.Millisecond, time.Millisecond}}
	if err := wh.Notify(context.Background(), alarm); err != nil {
		t.Fatalf("Notify() error: %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("attempts = %d, want 3", attempts.Load())
	}
}

func TestWebhook_GivesUpAfterRetries(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	wh := &notify.Webhook{URL: ts.URL, RetryDelays: []time.Duration{time.Millisecond}}
	err := wh.Notify(context.Background(), alarm)
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("Notify() error = %v, want 500", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("attempts = %d, want 2", attempts.Load())
	}
}
