package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/snehjoshi/epochsync/internal/clock"
	"github.com/snehjoshi/epochsync/internal/config"
	"github.com/snehjoshi/epochsync/internal/identity"
	"github.com/snehjoshi/epochsync/internal/notify"
	"github.com/snehjoshi/epochsync/internal/session"
	"github.com/snehjoshi/epochsync/internal/store"
	"github.com/snehjoshi/epochsync/internal/timer"
	"github.com/snehjoshi/epochsync/internal/wake"
	"github.com/snehjoshi/epochsync/pkg/client"
)

// errAlreadyRunning makes `new` exit non-zero when it refuses to restart a
// running timer.
var errAlreadyRunning = errors.New("a timer is already running under this id")

// app is everything a subcommand needs, built from the merged config.
type app struct {
	cfg   *config.Config
	ident *identity.Identity
	store store.Store
	sched *wake.Scheduler
	ctrl  *session.Controller

	closers []func() error
}

// loadConfig reads the config file named by --config (or the default one)
// and overlays flags and EPOCHSYNC_* variables that were explicitly set.
func loadConfig() (*config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".epochsync", "config.yaml")
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	overrideString := func(dst *string, key string) {
		if viper.IsSet(key) {
			*dst = viper.GetString(key)
		}
	}
	if viper.IsSet("store.driver") {
		cfg.Store.Driver = config.StoreDriver(viper.GetString("store.driver"))
	}
	overrideString(&cfg.Store.URL, "store.url")
	overrideString(&cfg.Store.APIKey, "store.api_key")
	overrideString(&cfg.Identity.Source, "identity.source")
	overrideString(&cfg.Identity.Static, "identity.static")
	if viper.IsSet("session.follow_cancel") {
		cfg.Session.FollowCancel = viper.GetBool("session.follow_cancel")
	}

	// The CLI logs human-readable lines to stderr and stays quiet unless
	// asked otherwise; the log section of the file configures the server.
	cfg.Log.Level = viper.GetString("log.level")
	if cfg.Log.Level == "" {
		cfg.Log.Level = "warn"
	}
	cfg.Log.Format = "text"

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newApp builds the identity and, when withStore is set, connects to the
// store and starts the wake scheduler. A store that cannot be reached is an
// error, so the command exits non-zero before doing anything.
func newApp(cmd *cobra.Command, withStore bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(cfg.Log.NewLogger(cmd.ErrOrStderr()))

	src, err := identity.FromConfig(cfg.Identity.Source, cfg.Identity.DataDir, cfg.Identity.Static)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, ident: identity.New(src)}
	if !withStore {
		a.ctrl = session.New(nil, nil, a.ident)
		return a, nil
	}

	if err := a.openStore(cmd.Context()); err != nil {
		return nil, err
	}

	a.sched = wake.New(clock.Real{})
	a.sched.Start(cmd.Context())
	a.closers = append(a.closers, func() error { a.sched.Stop(); return nil })

	opts := []session.Option{
		session.WithNotifier(buildNotifier(cfg.Notify, cmd.OutOrStdout())),
		session.WithOnStarted(func(key string, endTime int64) {
			fmt.Fprintf(cmd.OutOrStdout(), "Timer started, ends at %s.\n", formatEpoch(endTime))
			fmt.Fprintf(cmd.OutOrStdout(), "Others can join with: epochsync join %s\n", key)
		}),
	}
	if cfg.Session.FollowCancel {
		if w, ok := a.store.(store.Watcher); ok {
			opts = append(opts, session.WithFollowCancel(w))
		} else {
			slog.Warn("store driver cannot follow cancellations", "driver", cfg.Store.Driver)
		}
	}
	a.ctrl = session.New(timer.New(a.store, clock.Real{}), a.sched, a.ident, opts...)
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Store.Driver {
	case config.StoreRemote:
		c := client.New(a.cfg.Store.URL,
			client.WithAPIKey(a.cfg.Store.APIKey),
			client.WithTimeout(a.cfg.Store.Timeout()),
		)
		r := store.NewRemote(c)
		pingCtx, cancel := context.WithTimeout(ctx, a.cfg.Store.Timeout())
		defer cancel()
		if err := r.Ping(pingCtx); err != nil {
			return fmt.Errorf("cannot reach store at %s: %w", a.cfg.Store.URL, err)
		}
		a.store = r
	case config.StoreBolt:
		b, err := store.OpenBolt(a.cfg.Store.BoltPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		a.store = b
		a.closers = append(a.closers, b.Close)
	case config.StoreMemory:
		a.store = store.NewMemory()
	default:
		return fmt.Errorf("unknown store driver %q", a.cfg.Store.Driver)
	}
	return nil
}

// Close releases the store and stops the scheduler, newest first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close failed", "err", err)
		}
	}
}

// buildNotifier prints to out and adds the command and webhook notifiers
// when they are configured.
func buildNotifier(cfg config.NotifyConfig, out io.Writer) notify.Notifier {
	n := notify.Multi{&notify.Writer{W: out, Message: cfg.Message, Bell: cfg.Bell}}
	if cfg.Command != "" {
		n = append(n, &notify.Command{
			Path:    cfg.Command,
			Args:    cfg.Args,
			Message: cfg.Message,
			Timeout: time.Duration(cfg.CommandTimeoutMs) * time.Millisecond,
		})
	}
	if cfg.Webhook.URL != "" {
		delays := make([]time.Duration, len(cfg.Webhook.RetryDelaysMs))
		for i, ms := range cfg.Webhook.RetryDelaysMs {
			delays[i] = time.Duration(ms) * time.Millisecond
		}
		n = append(n, &notify.Webhook{
			URL:         cfg.Webhook.URL,
			Secret:      cfg.Webhook.Secret,
			RetryDelays: delays,
			Client:      &http.Client{Timeout: time.Duration(cfg.Webhook.TimeoutMs) * time.Millisecond},
		})
	}
	return n
}

func formatEpoch(sec int64) string {
	return time.Unix(sec, 0).Format("15:04:05 MST")
}
