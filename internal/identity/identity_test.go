package identity_test

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/snehjoshi/epochsync/internal/identity"
)

var hex12 = regexp.MustCompile(`^[0-9a-f]{12}$`)

type countingSource struct {
	raw   string
	err   error
	calls int
}

func (c *countingSource) MachineID() (string, error) {
	c.calls++
	return c.raw, c.err
}

func TestDerive_ShapeAndDeterminism(t *testing.T) {
	a := identity.Derive("4c4c4544-0042-3510-8051-b7c04f4e4d32")
	b := identity.Derive("4c4c4544-0042-3510-8051-b7c04f4e4d32")
	c := identity.Derive("another-machine")

	if !hex12.MatchString(a) {
		t.Fatalf("Derive() = %q, want 12 lowercase hex chars", a)
	}
	if len(a) != identity.Length {
		t.Errorf("len = %d, want %d", len(a), identity.Length)
	}
	if a != b {
		t.Errorf("Derive is not deterministic: %q != %q", a, b)
	}
	if a == c {
		t.Errorf("different inputs produced the same id %q", a)
	}
}

func TestIdentity_CachesFirstResult(t *testing.T) {
	src := &countingSource{raw: "machine"}
	id := identity.New(src)

	first, err := id.CurrentID()
	if err != nil {
		t.Fatalf("CurrentID() error: %v", err)
	}
	second, _ := id.CurrentID()
	if first != second {
		t.Errorf("ids differ across calls: %q vs %q", first, second)
	}
	if src.calls != 1 {
		t.Errorf("source read %d times, want 1", src.calls)
	}
	if first != identity.Derive("machine") {
		t.Errorf("CurrentID() = %q, want Derive(raw)", first)
	}
}

func TestIdentity_SourceErrorIsReturned(t *testing.T) {
	boom := errors.New("boom")
	id := identity.New(&countingSource{err: boom})
	if _, err := id.CurrentID(); !errors.Is(err, boom) {
		t.Fatalf("CurrentID() error = %v, want boom", err)
	}
}

func TestMachineIDFile_FirstReadablePathWins(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty")
	idFile := filepath.Join(dir, "machine-id")
	if err := os.WriteFile(empty, []byte("  \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(idFile, []byte("abc123\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	src := identity.MachineIDFile{Paths: []string{filepath.Join(dir, "missing"), empty, idFile}}
	got, err := src.MachineID()
	if err != nil {
		t.Fatalf("MachineID() error: %v", err)
	}
	if got != "abc123" {
		t.Errorf("MachineID() = %q, want abc123", got)
	}
}

func TestMachineIDFile_NoneReadable(t *testing.T) {
	src := identity.MachineIDFile{Paths: []string{filepath.Join(t.TempDir(), "missing")}}
	if _, err := src.MachineID(); !errors.Is(err, identity.ErrNoIdentity) {
		t.Fatalf("error = %v, want ErrNoIdentity", err)
	}
}

func TestStatic(t *testing.T) {
	if got, err := identity.Static("host-a").MachineID(); err != nil || got != "host-a" {
		t.Fatalf("Static.MachineID() = %q, %v", got, err)
	}
	if _, err := identity.Static(" ").MachineID(); !errors.Is(err, identity.ErrNoIdentity) {
		t.Fatalf("blank static id error = %v, want ErrNoIdentity", err)
	}
}

func TestPersistedFile_StableAcrossRestarts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")

	first, err := identity.PersistedFile{Dir: dir}.MachineID()
	if err != nil {
		t.Fatalf("first MachineID() error: %v", err)
	}
	if len(first) != 26 {
		t.Errorf("ULID should be 26 chars, got %d: %s", len(first), first)
	}

	second, err := identity.PersistedFile{Dir: dir}.MachineID()
	if err != nil {
		t.Fatalf("second MachineID() error: %v", err)
	}
	if first != second {
		t.Errorf("id changed across restarts: %s != %s", first, second)
	}

	data, err := os.ReadFile(filepath.Join(dir, "machine_id"))
	if err != nil {
		t.Fatalf("machine_id file not found: %v", err)
	}
	if strings.TrimSpace(string(data)) != first {
		t.Errorf("persisted %q != returned %q", strings.TrimSpace(string(data)), first)
	}
}

func TestPersistedFile_RejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "machine_id"), []byte("not-a-ulid"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := (identity.PersistedFile{Dir: dir}).MachineID(); err == nil {
		t.Fatal("expected error for corrupt id file")
	}
}

func TestNewULID_Monotonic(t *testing.T) {
	prev := ""
	for i := 0; i < 100; i++ {
		id, err := identity.NewULID()
		if err != nil {
			t.Fatalf("NewULID() error: %v", err)
		}
		if id <= prev {
			t.Fatalf("ULIDs not increasing: %s then %s", prev, id)
		}
		prev = id
	}
}

func TestFromConfig(t *testing.T) {
	cases := []struct {
		source string
		want   any
	}{
		{"", identity.MachineIDFile{}},
		{"machine-id", identity.MachineIDFile{}},
		{"file", identity.PersistedFile{Dir: "/tmp/x"}},
		{"static", identity.Static("s")},
	}
	for _, tc := range cases {
		src, err := identity.FromConfig(tc.source, "/tmp/x", "s")
		if err != nil {
			t.Fatalf("FromConfig(%q) error: %v", tc.source, err)
		}
		switch want := tc.want.(type) {
		case identity.MachineIDFile:
			if _, ok := src.(identity.MachineIDFile); !ok {
				t.Errorf("FromConfig(%q) = %T, want MachineIDFile", tc.source, src)
			}
		default:
			if src != want {
				t.Errorf("FromConfig(%q) = %#v, want %#v", tc.source, src, want)
			}
		}
	}

	if _, err := identity.FromConfig("dns", "", ""); err == nil {
		t.Error("expected error for unknown source")
	}
}
