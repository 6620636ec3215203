// Package identity derives the ConnectionId of this machine.
//
// A ConnectionId is a short, fixed-length, one-way hash of a raw machine
// identifier. It is the key under which a participant's own timer is stored
// and the token other participants pass to "join". The hash is not meant to
// be cryptographically strong: two machines whose raw identifiers collide
// after truncation share a ConnectionId, and that is accepted.
//
// Raw identifiers come from a Source. Failing to read one is fatal to the
// caller; there is no fallback from one Source to another.
package identity

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Length is the number of hex characters in a ConnectionId.
const Length = 12

// namespace scopes the UUIDv5 hash so that a ConnectionId never equals the
// same machine's id in another application.
var namespace = uuid.MustParse("6f1d7c2e-4b0a-5e39-9a8c-1f2e3d4c5b6a")

// ErrNoIdentity is returned when a Source cannot produce a raw identifier.
var ErrNoIdentity = errors.New("identity: machine identity unavailable")

// Source yields the raw, unhashed identifier of the local machine.
type Source interface {
	MachineID() (string, error)
}

// Identity derives and caches the ConnectionId from a Source.
type Identity struct {
	src Source

	once sync.Once
	id   string
	err  error
}

// New returns an Identity backed by src.
func New(src Source) *Identity {
	return &Identity{src: src}
}

// CurrentID returns this machine's ConnectionId. The first call reads the
// Source; later calls return the cached result, including a cached error.
func (i *Identity) CurrentID() (string, error) {
	i.once.Do(func() {
		raw, err := i.src.MachineID()
		if err != nil {
			i.err = err
			return
		}
		i.id = Derive(raw)
	})
	return i.id, i.err
}

// Derive hashes a raw machine identifier into a ConnectionId.
func Derive(raw string) string {
	u := uuid.NewSHA1(namespace, []byte(raw))
	return strings.ReplaceAll(u.String(), "-", "")[:Length]
}

// ─── Sources ──────────────────────────────────────────────────────────────────

// DefaultMachineIDPaths are read in order by MachineIDFile.
var DefaultMachineIDPaths = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

// MachineIDFile reads the systemd/dbus machine-id. The first path that
// exists and is non-empty wins.
type MachineIDFile struct {
	Paths []string
}

func (m MachineIDFile) MachineID() (string, error) {
	paths := m.Paths
	if len(paths) == 0 {
		paths = DefaultMachineIDPaths
	}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: none of %s is readable", ErrNoIdentity, strings.Join(paths, ", "))
}

// Static returns a fixed raw identifier. An empty value is an error.
type Static string

func (s Static) MachineID() (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", fmt.Errorf("%w: static id is empty", ErrNoIdentity)
	}
	return string(s), nil
}

// ─── File source ──────────────────────────────────────────────────────────────

const machineIDFile = "machine_id"

// PersistedFile keeps a generated ULID under Dir and uses it as the raw
// identifier. The file is written on first use and reused afterwards, so the
// ConnectionId is stable across runs for hosts without a machine-id.
type PersistedFile struct {
	Dir string
}

func (p PersistedFile) MachineID() (string, error) {
	if p.Dir == "" {
		return "", fmt.Errorf("%w: data dir must not be empty", ErrNoIdentity)
	}
	if err := os.MkdirAll(p.Dir, 0o750); err != nil {
		return "", fmt.Errorf("identity: create data dir: %w", err)
	}
	path := filepath.Join(p.Dir, machineIDFile)

	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if _, err := ulid.ParseStrict(id); err != nil {
			return "", fmt.Errorf("identity: persisted id %q is invalid: %w", id, err)
		}
		return id, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("identity: read id file: %w", err)
	}

	id, err := NewULID()
	if err != nil {
		return "", fmt.Errorf("identity: generate id: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o640); err != nil {
		return "", fmt.Errorf("identity: persist id: %w", err)
	}
	return id, nil
}

// monoEntropy is shared so ULIDs generated within one millisecond stay
// ordered.
var (
	monoMu      sync.Mutex
	monoEntropy io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// NewULID returns a fresh time-ordered ULID string. The timer layer uses it
// to tag each run of a timer.
func NewULID() (string, error) {
	monoMu.Lock()
	defer monoMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), monoEntropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// FromConfig picks a Source by name: "machine-id", "file", or "static".
func FromConfig(source, dataDir, static string) (Source, error) {
	switch source {
	case "", "machine-id":
		return MachineIDFile{}, nil
	case "file":
		return PersistedFile{Dir: dataDir}, nil
	case "static":
		return Static(static), nil
	default:
		return nil, fmt.Errorf("identity: unknown source %q", source)
	}
}
