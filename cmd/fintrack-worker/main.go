package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"fintrack/internal/amqp"
	"fintrack/internal/cache"
	"fintrack/internal/cli"
	"fintrack/internal/log"
	"fintrack/internal/remote"
	"fintrack/internal/services"
	"fintrack/internal/session"
	"fintrack/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, log.ComponentWorker, os.Stdout)

	logger.Info("Starting fintrack-worker",
		"queue", cfg.AMQPQueue,
		"sync_interval", cfg.SyncInterval,
		"max_retries", cfg.MaxTaskRetries)

	// The local store receives the periodic pulls.
	repo := cli.InitSQLite(logger.Logger, cfg.SQLiteDBPath)
	defer repo.Close()

	remoteClient := remote.NewClient(cfg.APIBaseURL, remote.NewHTTPClient(cfg.HTTPTimeout), cfg.HTTPTimeout)
	sessions := session.NewFileStore(cfg.SessionFile)

	// Initialize AMQP client for consuming remote tasks
	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	// Tasks are executed here, so the engine's own remote legs are not queued
	// again; the worker only pulls and pushes with it.
	engine := services.NewSyncEngine(repo, remoteClient, nil)
	caches := cache.NewManager()
	caches.Register(engine.CategoryCache())
	caches.StartCleanup(10 * time.Minute)

	syncWorker := worker.NewSyncWorker(services.NewRemoteLeg(remoteClient), engine, sessions, worker.Config{
		MaxRetries:   cfg.MaxTaskRetries,
		SyncInterval: cfg.SyncInterval,
	})

	ctx, stop, done := cli.GracefulShutdown(logger.Logger, 30*time.Second, func(context.Context) {
		caches.Stop()
		st := caches.Stats()
		logger.Info("Cache usage at shutdown",
			log.FieldComponent, log.ComponentCache,
			"size", st.Size,
			"hits", st.Hits,
			"misses", st.Misses)
	})
	defer stop()
	ctx = log.WithLogger(ctx, logger)

	// On startup, catch up with whatever changed while the worker was down
	logger.Info("Performing startup sync...")
	syncWorker.StartupSync(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return amqpClient.ConsumeTasks(gctx, syncWorker.HandleTaskMessage)
	})
	g.Go(func() error {
		return syncWorker.RunPeriodicSync(gctx)
	})

	err = g.Wait()
	stop()
	<-done
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", log.FieldError, err)
		return
	}
	logger.Info("Worker shutdown complete")
}
