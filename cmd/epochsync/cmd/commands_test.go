package cmd

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestPrintID(t *testing.T) {
	env := newTestEnv(t)
	// printid never contacts the store.
	viper.Set("store.url", "http://127.0.0.1:1")

	out, err := run(t, "printid")
	if err != nil {
		t.Fatalf("printid: %v", err)
	}
	if strings.TrimSpace(out) != env.key {
		t.Errorf("printid = %q, want %q", out, env.key)
	}
}

func TestPrintID_WritesToStdoutOnly(t *testing.T) {
	env := newTestEnv(t)

	out, errOut, err := runSplit(t, "printid")
	if err != nil {
		t.Fatalf("printid: %v", err)
	}
	if out != env.key+"\n" {
		t.Errorf("stdout = %q, want %q", out, env.key+"\n")
	}
	if strings.Contains(errOut, env.key) {
		t.Errorf("id leaked to stderr: %q", errOut)
	}
}

func TestNew_UserOutputGoesToStdout(t *testing.T) {
	env := newTestEnv(t)

	out, errOut, err := runSplit(t, "new", "0")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, want := range []string{"Timer started", "epochsync join " + env.key, "Ring! (" + env.key + ")"} {
		if !strings.Contains(out, want) {
			t.Errorf("stdout missing %q:\n%s", want, out)
		}
		if strings.Contains(errOut, want) {
			t.Errorf("stderr contains %q:\n%s", want, errOut)
		}
	}
}

func TestNew_OverflowingDurationWritesNothing(t *testing.T) {
	env := newTestEnv(t)

	_, err := run(t, "new", "153722867280912931")
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Fatalf("want invalid duration error, got %v", err)
	}
	if env.mem.Writes() != 0 {
		t.Errorf("store written %d times", env.mem.Writes())
	}
}

func TestNew_ZeroMinutesFiresAndStoresRecord(t *testing.T) {
	env := newTestEnv(t)

	out, err := run(t, "new", "0")
	if err != nil {
		t.Fatalf("new: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Timer started") {
		t.Errorf("missing start line:\n%s", out)
	}
	if !strings.Contains(out, "epochsync join "+env.key) {
		t.Errorf("missing join hint:\n%s", out)
	}
	if !strings.Contains(out, "Ring! ("+env.key+")") {
		t.Errorf("missing notification:\n%s", out)
	}
	if _, err := env.mem.Get(context.Background(), env.key); err != nil {
		t.Errorf("record not stored: %v", err)
	}
}

func TestNew_RefusesWhileRunning(t *testing.T) {
	env := newTestEnv(t)
	end := time.Now().Add(time.Hour).Unix()
	env.seed(t, env.key, end)
	writes := env.mem.Writes()

	out, err := run(t, "new", "5")
	if !errors.Is(err, errAlreadyRunning) {
		t.Fatalf("want errAlreadyRunning, got %v", err)
	}
	if !strings.Contains(out, "already running") {
		t.Errorf("output = %q", out)
	}
	if env.mem.Writes() != writes {
		t.Error("running timer was overwritten")
	}
}

func TestNew_InvalidDuration(t *testing.T) {
	newTestEnv(t)
	for _, arg := range []string{"abc", "1.5", "99999999999999999999999", "153722867280912931"} {
		if _, err := run(t, "new", arg); err == nil || !strings.Contains(err.Error(), "invalid duration") {
			t.Errorf("new %s: want invalid duration error, got %v", arg, err)
		}
	}
}

func TestJoin_UnknownIDExitsCleanly(t *testing.T) {
	newTestEnv(t)

	out, err := run(t, "join", "nobody")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if !strings.Contains(out, "No timer found for nobody.") {
		t.Errorf("output = %q", out)
	}
}

func TestJoin_ExpiredExitsCleanly(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "old", 1)

	out, err := run(t, "join", "old")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if !strings.Contains(out, "already ended") {
		t.Errorf("output = %q", out)
	}
}

func TestJoin_WaitsForSharedEndTime(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "soon", time.Now().Add(time.Second).Unix())

	out, err := run(t, "join", "soon")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if !strings.Contains(out, "Ring! (soon)") {
		t.Errorf("output = %q", out)
	}
}

func TestCancel_IsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, env.key, time.Now().Add(time.Hour).Unix())

	for i := 0; i < 2; i++ {
		out, err := run(t, "cancel")
		if err != nil {
			t.Fatalf("cancel #%d: %v", i+1, err)
		}
		if !strings.Contains(out, "Timer canceled.") {
			t.Errorf("cancel #%d output = %q", i+1, out)
		}
	}
	if env.mem.Len() != 0 {
		t.Error("record still present after cancel")
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)

	out, err := run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "State:     absent") {
		t.Errorf("absent output = %q", out)
	}

	env.seed(t, "other", time.Now().Add(time.Hour).Unix())
	out, err = run(t, "status", "other")
	if err != nil {
		t.Fatalf("status other: %v", err)
	}
	if !strings.Contains(out, "State:     running") || !strings.Contains(out, "Remaining:") {
		t.Errorf("running output = %q", out)
	}
}

func TestUnreachableStoreFails(t *testing.T) {
	newTestEnv(t)
	ts := httptest.NewServer(nil)
	dead := ts.URL
	ts.Close()
	viper.Set("store.url", dead)

	for _, args := range [][]string{{"new", "1"}, {"join", "x"}, {"cancel"}} {
		_, err := run(t, args...)
		if err == nil || !strings.Contains(err.Error(), "cannot reach store") {
			t.Errorf("%v: want unreachable error, got %v", args, err)
		}
	}
}
