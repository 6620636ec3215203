// Command epochsync-store is the shared key-value server epochsync timers
// are kept in. It loads configuration, initialises node identity, opens the
// bbolt database, and serves the HTTP API.
//
// Usage:
//
//	epochsync-store [--config path/to/config.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/snehjoshi/epochsync/internal/config"
	"github.com/snehjoshi/epochsync/internal/identity"
	"github.com/snehjoshi/epochsync/internal/metrics"
	"github.com/snehjoshi/epochsync/internal/store"
	transphttp "github.com/snehjoshi/epochsync/internal/transport/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "epochsync-store: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// ── 1. Load configuration ────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// ── 2. Set up structured logger ──────────────────────────────────────────
	slog.SetDefault(cfg.Log.NewLogger(os.Stdout))

	// ── 3. Initialise node identity ──────────────────────────────────────────
	nodeID, err := identity.PersistedFile{Dir: cfg.Server.DataDir}.MachineID()
	if err != nil {
		return fmt.Errorf("init node: %w", err)
	}

	slog.Info("epochsync-store starting",
		"node_id", nodeID,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"data_dir", cfg.Server.DataDir,
		"auth_enabled", cfg.Auth.Enabled,
	)

	// ── 4. Open storage ──────────────────────────────────────────────────────
	db, err := store.OpenBolt(filepath.Join(cfg.Server.DataDir, "records.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	backend := store.NewNotifying(db)

	// ── 5. Initialise metrics registry ───────────────────────────────────────
	metricsReg := &metrics.Registry{}

	// ── 6. Start HTTP / WebSocket transport ──────────────────────────────────
	srv := transphttp.New(transphttp.Deps{
		Store:   backend,
		NodeID:  nodeID,
		Keys:    db.Len,
		Metrics: metricsReg,
	}, cfg)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	// Serve in a background goroutine so we can handle signals.
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("epochsync-store ready", "node_id", nodeID, "addr", addr)
		if err := srv.ListenAndServe(addr); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		} else {
			serveErr <- nil
		}
	}()

	// ── 7. Start dedicated Prometheus metrics listener ───────────────────────
	if cfg.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		go func() {
			slog.Info("metrics server listening", "addr", metricsAddr)
			if err := http.ListenAndServe(metricsAddr, metricsReg.Handler()); err != nil {
				slog.Warn("metrics server error", "err", err)
			}
		}()
	}

	// ── 8. Graceful shutdown on SIGINT / SIGTERM ─────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig)
	case err := <-serveErr:
		_ = db.Close()
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	// Give in-flight requests 5 seconds to complete.
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutCtx); err != nil {
		slog.Warn("server shutdown error", "err", err)
	}
	if err := db.Close(); err != nil {
		slog.Warn("store close error", "err", err)
	}

	slog.Info("epochsync-store stopped")
	return nil
}
