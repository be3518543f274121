package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/chalkdrop/chalkdrop/internal/api"
	"github.com/chalkdrop/chalkdrop/internal/config"
	"github.com/chalkdrop/chalkdrop/internal/database"
	"github.com/chalkdrop/chalkdrop/internal/ingest"
	"github.com/chalkdrop/chalkdrop/internal/queue"
	"github.com/chalkdrop/chalkdrop/internal/repository"
	"github.com/chalkdrop/chalkdrop/internal/s3storage"
	"github.com/chalkdrop/chalkdrop/internal/scanner"
	"github.com/chalkdrop/chalkdrop/internal/validation"
	"github.com/chalkdrop/chalkdrop/internal/vault"
	"github.com/chalkdrop/chalkdrop/internal/videohost"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("connect database", zap.Error(err))
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal("ensure schema", zap.Error(err))
	}
	repo := repository.NewResourceRepository(pool)

	store, err := s3storage.New(cfg.S3)
	if err != nil {
		logger.Fatal("init storage", zap.Error(err))
	}
	if err := store.EnsureBucket(ctx); err != nil {
		logger.Fatal("ensure bucket", zap.Error(err))
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer asynqClient.Close()

	engine := scanner.NewClamAVEngine(cfg.Scan.ClamAVAddr, cfg.Scan.AVTimeout)
	host := videohost.NewClient(cfg.Video)
	orchestrator := videohost.NewOrchestrator(host, cfg.Video.PollInterval, cfg.Video.MaxWait, logger)

	svc := ingest.New(
		validation.New(cfg.Limits),
		scanner.New(engine, cfg.Scan, logger),
		vault.NewAllocator("resources"),
		repo,
		store,
		queue.NewClient(asynqClient),
		orchestrator,
		cfg.SignedURLTTL,
		logger,
	)

	srv := api.New(cfg, svc, logger)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}
