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

	"doraemon/internal/config"
	"doraemon/internal/ingest"
	"doraemon/internal/queue/redisq"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("service", "ingester")
	if err := run(log); err != nil {
		log.Error("ingester exited", "err", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.ValidateIngester(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	q, err := redisq.New(ctx, redisq.Config{
		URL:            cfg.RedisURL,
		AnalysisStream: cfg.AnalysisStream,
		DispatchStream: cfg.DispatchStream,
		Group:          cfg.AnalysisGroup,
		Consumer:       "ingester",
	}, log)
	if err != nil {
		return err
	}
	defer q.Close()

	// Creating the group up front means jobs published before any worker
	// joins are retained for the group rather than skipped.
	if err := q.EnsureGroup(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.IngesterPort,
		Handler:           ingest.NewServer(cfg.IngesterSecret, q, log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("ingester listening", "addr", cfg.IngesterPort)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
