package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medlit/orchestrator/internal/api/rest"
	"github.com/medlit/orchestrator/internal/broadcast"
	"github.com/medlit/orchestrator/internal/core"
	"github.com/medlit/orchestrator/internal/inference"
	"github.com/medlit/orchestrator/internal/scheduler"
	"github.com/medlit/orchestrator/internal/service"
	"github.com/medlit/orchestrator/internal/shared/config"
	"github.com/medlit/orchestrator/internal/shared/logging"
	"github.com/medlit/orchestrator/internal/storage"
	"github.com/medlit/orchestrator/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	store, err := newJobStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize job store", "error", err)
	}

	registry, err := storage.NewFileModelRegistry(cfg.Registry.Root)
	if err != nil {
		logger.Fatal("Failed to initialize model registry", "error", err)
	}

	hub := broadcast.NewHub(cfg.Broadcast.BufferSize)
	queue := scheduler.NewLeaseQueue(cfg.Queue.LeaseTimeout)
	classifier := inference.NewKeywordClassifier()
	batch := service.NewBatchCoordinator(classifier, cfg.Batch.Concurrency)
	jobs := service.NewJobService(store, queue, registry, cfg.Queue.MaxRetries, logger)

	runners := worker.NewRegistry()
	for kind, runner := range map[core.TaskKind]worker.Runner{
		core.TaskKindTraining:     worker.NewTrainingRunner(cfg.Workers.StepDuration),
		core.TaskKindOptimization: worker.NewOptimizeRunner(cfg.Workers.StepDuration),
		core.TaskKindInference:    worker.NewInferenceRunner(batch),
	} {
		if err := runners.Register(kind, runner); err != nil {
			logger.Fatal("Failed to register runner", "kind", kind, "error", err)
		}
	}

	pool := worker.NewPool(
		queue,
		store,
		registry,
		hub,
		runners,
		cfg.Workers.PoolSize,
		cfg.Queue.HeartbeatInterval,
		logger,
	)
	reaper := scheduler.NewReaper(
		queue,
		store,
		hub,
		cfg.Queue.ReapInterval,
		cfg.Queue.StuckJobTimeout,
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	go reaper.Start(ctx)

	api := rest.NewAPI(jobs, batch, hub, logger)
	server := rest.NewServer(cfg.REST.Addr, api, logger)

	go func() {
		logger.Info("Starting API server", "addr", cfg.REST.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")

	// Stop accepting work before draining HTTP so in-flight requests see a
	// consistent store.
	cancel()
	pool.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("Server stopped")
}

func newJobStore(cfg *config.Config, logger logging.Logger) (core.JobStore, error) {
	if cfg.Database.URL == "" {
		logger.Info("Using in-memory job store")
		return storage.NewInMemoryJobStore(), nil
	}
	logger.Info("Using Postgres job store")
	store, err := storage.NewPostgresJobStore(cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(); err != nil {
		return nil, err
	}
	return store, nil
}
