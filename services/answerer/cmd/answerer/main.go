package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"chapterwise/internal/util"
	"chapterwise/pkg/ai"
	"chapterwise/pkg/queue"
	"chapterwise/pkg/store"
	"chapterwise/services/answerer/internal/app"
	"chapterwise/services/answerer/internal/config"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger("answerer", cfg.LogLevel)

	dataStore, err := store.Open(cfg.DatabaseURL, logger)
	if err != nil {
		util.Fatal("failed to open store", "err", err)
	}
	defer dataStore.Close()

	timeout, _ := cfg.Timeout()
	generator, err := ai.NewGenerator(ai.ProviderConfig{
		Provider: cfg.GenerationProvider,
		BaseURL:  cfg.GenerationBaseURL,
		APIKey:   cfg.GenerationAPIKey,
		Model:    cfg.GenerationModel,
		Timeout:  timeout,
	})
	if err != nil {
		util.Fatal("failed to init generator", "err", err)
	}
	worker, err := app.New(app.Config{
		Store:         dataStore,
		Generator:     generator,
		Logger:        logger,
		ContextBudget: cfg.ContextBudget,
	})
	if err != nil {
		util.Fatal("failed to init worker", "err", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancelPing()
	if err != nil {
		util.Fatal("failed to reach redis", "addr", cfg.RedisAddr, "err", err)
	}

	backoff, _ := cfg.Backoff()
	jobs, err := queue.NewGenerationQueue(rdb, queue.Config{
		Stream:     cfg.QueueStream,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: backoff,
		Logger:     logger,
		OnFailed:   worker.OnFailed,
	})
	if err != nil {
		util.Fatal("failed to init queue", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := jobs.Start(ctx, cfg.Concurrency, worker.Handle); err != nil {
		util.Fatal("failed to start consumers", "err", err)
	}
	logger.Info("answerer started", "stream", cfg.QueueStream, "concurrency", cfg.Concurrency, "provider", cfg.GenerationProvider)
	<-ctx.Done()
	jobs.Wait()
	logger.Info("answerer stopped")
}
