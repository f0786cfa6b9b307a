// Package main provides the chatkeep binary entry point. It loads and
// validates configuration, opens the SQLite metadata store, wires the
// buffer, vault, correlator, ingestor, and housekeeping loop, and serves the
// event and health endpoints until interrupted.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/chatkeep/chatkeep/internal/app"
	"github.com/chatkeep/chatkeep/internal/bridge"
	"github.com/chatkeep/chatkeep/internal/buffer"
	"github.com/chatkeep/chatkeep/internal/config"
	"github.com/chatkeep/chatkeep/internal/health"
	"github.com/chatkeep/chatkeep/internal/httpx"
	"github.com/chatkeep/chatkeep/internal/janitor"
	"github.com/chatkeep/chatkeep/internal/store/sqlite"
	"github.com/chatkeep/chatkeep/internal/vault"
)

// realClock implements app.Clock using time.Now.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "err", err)
		os.Exit(2)
	}
	if cfg.LogChatID == 0 {
		slog.Error("configuration error", "err", "log_chat_id must be set")
		os.Exit(2)
	}
	return cfg
}

func ensureDataDir(cfg *config.Config) {
	if st, err := os.Stat(cfg.DataDir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if mkErr := os.MkdirAll(cfg.DataDir, 0o700); mkErr != nil {
				slog.Error("failed to create data directory", "dir", cfg.DataDir, "err", mkErr)
				os.Exit(3)
			}
		} else {
			slog.Error("stat data directory", "dir", cfg.DataDir, "err", err)
			os.Exit(3)
		}
	} else if !st.IsDir() {
		slog.Error("data path not directory", "dir", cfg.DataDir)
		os.Exit(3)
	}
}

func openDatabase(cfg *config.Config, logger *slog.Logger) (*sqlx.DB, *sqlite.Store) {
	db, err := sqlite.Open(cfg.SQLiteDSN())
	if err != nil {
		slog.Error("open sqlite", "err", err)
		os.Exit(4)
	}
	st, err := sqlite.New(db, logger)
	if err != nil {
		slog.Error("init sqlite schema", "err", err)
		os.Exit(4)
	}
	return db, st
}

func newVault(cfg *config.Config, logger *slog.Logger) app.MediaVault {
	if !cfg.VaultEnabled {
		return nil
	}
	key, err := cfg.VaultKeyBytes()
	if err != nil {
		slog.Error("vault key", "err", err)
		os.Exit(5)
	}
	v, err := vault.New(cfg.VaultDir(), key, logger)
	if err != nil {
		slog.Error("init vault", "err", err)
		os.Exit(5)
	}
	return v
}

func newServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

func run() error {
	cfg := loadConfig()
	ensureDataDir(cfg)

	tracker := health.NewTracker(cfg.ErrorWindow, cfg.StaleAfter)
	logger := slog.New(health.NewLogHook(slog.NewTextHandler(os.Stderr, nil), tracker))
	slog.SetDefault(logger)

	db, store := openDatabase(cfg, logger)
	defer db.Close()

	client := bridge.New(cfg.BridgeURL, logger)
	buf := buffer.New(cfg.BufferDir(), int64(cfg.MaxFileSize), client, logger)
	mv := newVault(cfg, logger)
	clock := realClock{}

	ingest := app.NewIngestor(store, buf, clock, app.IngestConfig{
		SelfID:              cfg.SelfID,
		IgnoredIDs:          cfg.IgnoredIDs,
		ListenOutgoing:      cfg.ListenOutgoing,
		BufferAll:           cfg.BufferAll,
		BufferNoForwards:    cfg.BufferNoForwards,
		ProcessSelfDestruct: cfg.ProcessSelfDestruct,
	}, logger)

	correlator := app.NewCorrelator(client, store, buf, mv, app.CorrelatorConfig{
		LogChatID:          cfg.LogChatID,
		IgnoredIDs:         cfg.IgnoredIDs,
		MaxDeletedPerEvent: cfg.MaxDeletedPerEvent,
		LogEdits:           cfg.LogEdits,
		RefetchMissing:     cfg.RefetchMissing,
		DeletedDir:         cfg.DeletedDir(),
	}, logger)

	jan := janitor.New(store, buf, tracker, janitor.Config{
		Interval: cfg.SweepInterval,
		Policy:   cfg.Retention(),
		Logger:   logger,
	})

	h := httpx.New(ingest, correlator, tracker, logger)
	h.Saver = app.NewLinkSaver(client, buf, cfg.LogChatID, logger)
	h.Metrics = jan.MetricsSnapshot
	srv := newServer(cfg, h.Router())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jan.Start(ctx)
	defer jan.Stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.Addr, "pid", os.Getpid())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down", "reason", "signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func main() {
	if err := run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
