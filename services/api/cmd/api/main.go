package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"chapterwise/internal/publishtoken"
	"chapterwise/internal/ratelimit"
	"chapterwise/internal/usertoken"
	"chapterwise/internal/util"
	"chapterwise/pkg/queue"
	"chapterwise/pkg/storage"
	"chapterwise/pkg/store"
	"chapterwise/services/api/internal/app"
	"chapterwise/services/api/internal/config"
	"chapterwise/services/api/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger("api", cfg.LogLevel)

	dataStore, err := store.Open(cfg.DatabaseURL, logger)
	if err != nil {
		util.Fatal("failed to open store", "err", err)
	}
	defer dataStore.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancelPing()
	if err != nil {
		util.Fatal("failed to reach redis", "addr", cfg.RedisAddr, "err", err)
	}

	jobs, err := queue.NewGenerationQueue(rdb, queue.Config{Stream: cfg.QueueStream, Logger: logger})
	if err != nil {
		util.Fatal("failed to init queue", "err", err)
	}
	window, _ := cfg.RateWindow()
	var limiter server.Limiter
	if cfg.QuestionRateLimit > 0 {
		limiter, err = ratelimit.NewFixedWindow(rdb, "chapterwise:ratelimit", cfg.QuestionRateLimit, window)
		if err != nil {
			util.Fatal("failed to init rate limiter", "err", err)
		}
	}
	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		Secret:   cfg.TokenSecret,
		Issuer:   cfg.TokenIssuer,
		Audience: cfg.TokenAudience,
	})
	if err != nil {
		util.Fatal("failed to init token verifier", "err", err)
	}
	proxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		util.Fatal("invalid trustedProxies", "err", err)
	}

	var publishers *publishtoken.Verifier
	if cfg.PublishPublicKeyPath != "" {
		pem, err := publishtoken.ReadKeyFile(cfg.PublishPublicKeyPath)
		if err != nil {
			util.Fatal("failed to read publish key", "err", err)
		}
		publishers, err = publishtoken.NewVerifier(publishtoken.VerifierConfig{PublicKeyPEM: pem, AllowedIssuers: cfg.PublishIssuers})
		if err != nil {
			util.Fatal("failed to init publish verifier", "err", err)
		}
	}
	var archive app.ChapterArchive
	if cfg.ArchiveEndpoint != "" {
		objects, err := storage.NewMinioStore(context.Background(), storage.MinioConfig{
			Endpoint:  cfg.ArchiveEndpoint,
			AccessKey: cfg.ArchiveAccessKey,
			SecretKey: cfg.ArchiveSecretKey,
			Bucket:    cfg.ArchiveBucket,
			UseSSL:    cfg.ArchiveUseSSL,
		})
		if err != nil {
			util.Fatal("failed to init chapter archive", "err", err)
		}
		archive = storage.NewArchive(objects)
	}

	appCore, err := app.New(app.Config{
		Store:             dataStore,
		Queue:             jobs,
		Archive:           archive,
		Logger:            logger,
		MaxQuestionLength: cfg.MaxQuestionLength,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}
	httpServer, err := server.New(server.Config{
		App:            appCore,
		TokenVerifier:  tokenVerifier,
		Publishers:     publishers,
		QuestionLimit:  limiter,
		CORSOrigins:    cfg.CORSOrigins,
		TrustedProxies: proxies,
	})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	grace, _ := cfg.ShutdownGrace()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("api server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
	logger.Info("api server stopped")
}
