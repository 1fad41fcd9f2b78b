package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"doraemon/internal/analyzer"
	"doraemon/internal/archive"
	"doraemon/internal/config"
	"doraemon/internal/extract/tsx"
	"doraemon/internal/graph/backend"
	"doraemon/internal/queue"
	"doraemon/internal/queue/redisq"
	"doraemon/internal/source"
	"doraemon/internal/source/gitcli"
	"doraemon/internal/source/githubapi"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("service", "worker")
	if err := run(log); err != nil {
		log.Error("worker exited", "err", err)
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

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	consumer := fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])

	q, err := redisq.New(ctx, redisq.Config{
		URL:            cfg.RedisURL,
		AnalysisStream: cfg.AnalysisStream,
		DispatchStream: cfg.DispatchStream,
		Group:          cfg.AnalysisGroup,
		Consumer:       consumer,
	}, log)
	if err != nil {
		return err
	}
	defer q.Close()

	var jobQueue queue.Queue = q
	if cfg.Archive.Enabled {
		archiveStore, err := archive.New(archive.Config{
			Endpoint:  cfg.Archive.Endpoint,
			Region:    cfg.Archive.Region,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Bucket:    cfg.Archive.Bucket,
			UseSSL:    cfg.Archive.UseSSL,
		})
		if err != nil {
			return err
		}
		jobQueue = archive.NewTee(q, archiveStore, log)
	}

	mirror, err := gitcli.NewMirror(cfg.ReposDir)
	if err != nil {
		return err
	}
	src := source.Combine(githubapi.New(cfg.GitHubToken), mirror)

	a := analyzer.New(store, src, tsx.New(log), log,
		analyzer.WithParallelism(cfg.Parallelism))
	w := analyzer.NewWorker(jobQueue, a, log, analyzer.DefaultGrace)

	log.Info("worker starting",
		"consumer", consumer,
		"stream", cfg.AnalysisStream,
		"group", cfg.AnalysisGroup,
		"backend", cfg.GraphBackend)
	return w.Run(ctx)
}
