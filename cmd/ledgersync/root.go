package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/ledgersync/internal/api"
	"github.com/hyperengineering/ledgersync/internal/config"
	"github.com/hyperengineering/ledgersync/internal/identity"
	"github.com/hyperengineering/ledgersync/internal/ledger"
	"github.com/hyperengineering/ledgersync/internal/ratelimit"
	"github.com/hyperengineering/ledgersync/internal/store"
	"github.com/hyperengineering/ledgersync/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:          "ledgersync",
	Short:        "ledgersync - likes ledger service",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.AddCommand(likesCmd)
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 3. Initialize logger
	slog.SetDefault(newLogger(os.Stdout, cfg.Log))
	slog.Info("configuration loaded", "level", cfg.Log.Level, "tokens", len(cfg.Auth.Tokens))

	// 4. Initialize store (migrations, WAL mode)
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	// 5. Ledger and rate limiter
	likes := ledger.New(db, ledger.Options{
		MaxPerCategory:  cfg.Ledger.MaxPerCategory,
		SnapshotTTL:     time.Duration(cfg.Ledger.SnapshotTTL),
		ConflictRetries: cfg.Ledger.ConflictRetries,
	})
	limiter := ratelimit.New(map[ratelimit.Class]ratelimit.Rule{
		ratelimit.ClassRead:  {Limit: cfg.RateLimit.Read.Limit, Window: time.Duration(cfg.RateLimit.Read.Window)},
		ratelimit.ClassWrite: {Limit: cfg.RateLimit.Write.Limit, Window: time.Duration(cfg.RateLimit.Write.Window)},
	}, nil)

	// 6. Initialize HTTP router
	handler := api.NewHandler(likes, db, Version)
	router := api.NewRouter(handler, api.RouterOptions{
		Auth:           identity.NewStaticTokens(cfg.Auth.Tokens),
		Limiter:        limiter,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})
	slog.Info("router initialized", "cors_origins", len(cfg.CORS.AllowedOrigins))

	// 7. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 8. Background workers
	var wg sync.WaitGroup
	sweeper := worker.NewSweepWorker(time.Duration(cfg.Ledger.SweepInterval), map[string]worker.Sweeper{
		"rate_buckets": limiter,
		"snapshots":    likes,
	})
	startWorker(ctx, &wg, "sweep", sweeper.Run)

	// 9. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// Any error other than ErrServerClosed is a real failure and triggers shutdown.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 10. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 11. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 11a. Stop HTTP server (drains in-flight requests)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 11b. Wait for workers to complete
	wg.Wait()

	// 11c. Close store
	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// newLogger builds the process logger: JSON by default, text when configured.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
