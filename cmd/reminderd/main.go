// Package main is the standalone reminder scheduler daemon. It shares the
// API server's configuration and database; run it instead of the embedded
// scheduler when passes should survive API deploys.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/stratix-hq/control-plane/internal/cache"
	"github.com/stratix-hq/control-plane/internal/config"
	"github.com/stratix-hq/control-plane/internal/database"
	"github.com/stratix-hq/control-plane/internal/email"
	"github.com/stratix-hq/control-plane/internal/repository"
	"github.com/stratix-hq/control-plane/internal/service"
)

func main() {
	once := flag.Bool("once", false, "run a single pass immediately and exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	var store cache.Cache
	if cfg.Redis.Enabled {
		redis, err := database.NewRedis(cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redis.Close()
		store = cache.NewRedis(redis.Client())
	} else {
		store = cache.NewMemory()
	}

	pool := db.Pool()
	invitationRepo := repository.NewInvitationRepository(pool)
	eventRepo := repository.NewEventRepository(pool)

	gateway := email.NewSMTPGateway(cfg.SMTP)
	dispatcher := service.NewDispatcher(gateway, cfg.SMTP)
	policy := service.PolicyFromConfig(cfg.Engagement)

	scheduler, err := service.NewScheduler(invitationRepo, eventRepo, dispatcher, store, policy, cfg.Scheduler, logger)
	if err != nil {
		log.Fatalf("Failed to configure scheduler: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		result, err := scheduler.RunPass(ctx, nil, true)
		if err != nil {
			log.Fatalf("Pass failed: %v", err)
		}
		logger.Info("one-shot pass finished",
			"processed", result.Processed,
			"resent", result.Resent,
			"reminded", result.Reminded,
			"skipped", result.Skipped,
			"failed", result.Failed,
			"recommended_cancellations", len(result.RecommendedCancellations))
		return
	}

	logger.Info("reminderd started")
	scheduler.Loop(ctx)
	logger.Info("reminderd stopped")
}
