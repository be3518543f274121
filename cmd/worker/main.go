package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/chalkdrop/chalkdrop/internal/config"
	"github.com/chalkdrop/chalkdrop/internal/database"
	"github.com/chalkdrop/chalkdrop/internal/repository"
	"github.com/chalkdrop/chalkdrop/internal/s3storage"
	"github.com/chalkdrop/chalkdrop/internal/scanner"
	"github.com/chalkdrop/chalkdrop/internal/videohost"
	"github.com/chalkdrop/chalkdrop/internal/worker"
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

	engine := scanner.NewClamAVEngine(cfg.Scan.ClamAVAddr, cfg.Scan.AVTimeout)
	host := videohost.NewClient(cfg.Video)
	orchestrator := videohost.NewOrchestrator(host, cfg.Video.PollInterval, cfg.Video.MaxWait, logger)

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: cfg.Workers,
	})
	processor := worker.NewProcessor(repo, store, orchestrator,
		scanner.New(engine, cfg.Scan, logger), logger)

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	if err := server.Run(processor.Handler()); err != nil {
		logger.Error("worker stopped", zap.Error(err))
		os.Exit(1)
	}
}
