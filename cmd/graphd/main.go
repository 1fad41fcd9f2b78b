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

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"doraemon/internal/config"
	"doraemon/internal/graph/backend"
	"doraemon/internal/graph/cached"
	"doraemon/internal/graph/httpapi"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("service", "graphd")
	if err := run(log); err != nil {
		log.Error("graphd exited", "err", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.ValidateGraph(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := backend.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	cachedStore, err := cached.New(store)
	if err != nil {
		return err
	}

	handler := httpapi.NewServer(cachedStore, log).Handler()
	srv := &http.Server{
		Addr:              cfg.GraphPort,
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("graphd listening", "addr", cfg.GraphPort, "backend", cfg.GraphBackend)

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
