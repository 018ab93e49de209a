// Package main is the entry point for the Stratix control plane API server.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stratix-hq/control-plane/internal/cache"
	"github.com/stratix-hq/control-plane/internal/config"
	"github.com/stratix-hq/control-plane/internal/database"
	"github.com/stratix-hq/control-plane/internal/email"
	"github.com/stratix-hq/control-plane/internal/handler"
	"github.com/stratix-hq/control-plane/internal/middleware"
	"github.com/stratix-hq/control-plane/internal/models"
	"github.com/stratix-hq/control-plane/internal/pkg/response"
	"github.com/stratix-hq/control-plane/internal/repository"
	"github.com/stratix-hq/control-plane/internal/service"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Info("Starting Stratix control plane",
		slog.String("environment", cfg.Server.Environment),
		slog.Int("port", cfg.Server.Port),
	)

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	if err := db.RunMigrations(cfg.Database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Database migrations completed")

	// Cache capability: Redis for multi-process deployments, in-memory for
	// single-node and dev.
	var store cache.Cache
	var redis *database.Redis
	if cfg.Redis.Enabled {
		redis, err = database.NewRedis(cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redis.Close()
		store = cache.NewRedis(redis.Client())
		logger.Info("Connected to Redis")
	} else {
		store = cache.NewMemory()
		logger.Info("Using in-memory cache")
	}

	// Repositories
	pool := db.Pool()
	invitationRepo := repository.NewInvitationRepository(pool)
	batchRepo := repository.NewBatchRepository(pool)
	eventRepo := repository.NewEventRepository(pool)
	orgRepo := repository.NewOrgRepository(pool)
	analyticsRepo := repository.NewAnalyticsRepository(pool)

	// Services
	gateway := email.NewSMTPGateway(cfg.SMTP)
	dispatcher := service.NewDispatcher(gateway, cfg.SMTP)
	policy := service.PolicyFromConfig(cfg.Engagement)

	invitationService := service.NewInvitationService(invitationRepo, eventRepo, orgRepo, dispatcher, policy, logger)
	batchService := service.NewBatchService(invitationRepo, batchRepo, eventRepo, orgRepo, dispatcher, cfg.Scheduler.Concurrency, logger)
	cancelService := service.NewCancelService(invitationRepo, batchRepo, eventRepo, logger)
	analyticsService := service.NewAnalyticsService(analyticsRepo)
	tracker := service.NewTracker(invitationRepo, eventRepo, 256, logger)

	scheduler, err := service.NewScheduler(invitationRepo, eventRepo, dispatcher, store, policy, cfg.Scheduler, logger)
	if err != nil {
		log.Fatalf("Failed to configure scheduler: %v", err)
	}

	// Background workers
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go tracker.Run(ctx)
	go scheduler.Loop(ctx)

	// Router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())
	r.Use(middleware.Metrics())
	r.Use(chimiddleware.Timeout(30 * time.Second))

	invitationHandler := handler.NewInvitationHandler(invitationService, batchService, cancelService)
	analyticsHandler := handler.NewAnalyticsHandler(analyticsService)
	schedulerHandler := handler.NewSchedulerHandler(scheduler)
	webhookHandler := handler.NewWebhookHandler(tracker, cfg.Server.WebhookSecret)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Auth(memberResolver(orgRepo)))
		r.Use(middleware.RateLimit(store, middleware.DefaultRateLimitConfig()))
		r.Mount("/invitations", invitationHandler.Routes())
		r.Mount("/analytics", analyticsHandler.Routes())
		r.Mount("/scheduler", schedulerHandler.Routes())
	})
	r.Mount("/webhooks", webhookHandler.Routes())

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		response.OK(w, map[string]string{"status": "ok"})
	})
	r.Get("/ready", func(w http.ResponseWriter, req *http.Request) {
		if err := db.Ping(req.Context()); err != nil {
			response.Error(w, fmt.Errorf("database not ready: %w", err))
			return
		}
		if redis != nil {
			if err := redis.Ping(req.Context()); err != nil {
				response.Error(w, fmt.Errorf("redis not ready: %w", err))
				return
			}
		}
		response.OK(w, map[string]string{"status": "ready"})
	})
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("HTTP server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

// memberResolver resolves bearer tokens of the form "<org_id>.<user_id>"
// against org membership. Stands in for the platform auth service in
// single-binary deployments; swap in a real resolver behind the same
// middleware.Resolver signature.
func memberResolver(orgs repository.OrgRepository) middleware.Resolver {
	return func(ctx context.Context, token string) (models.Identity, error) {
		parts := strings.SplitN(token, ".", 2)
		if len(parts) != 2 {
			return models.Identity{}, fmt.Errorf("malformed token")
		}
		orgID, err := uuid.Parse(parts[0])
		if err != nil {
			return models.Identity{}, fmt.Errorf("malformed org id: %w", err)
		}
		userID, err := uuid.Parse(parts[1])
		if err != nil {
			return models.Identity{}, fmt.Errorf("malformed user id: %w", err)
		}

		member, err := orgs.GetMember(ctx, orgID, userID)
		if err != nil {
			return models.Identity{}, fmt.Errorf("resolve member: %w", err)
		}
		if member == nil {
			return models.Identity{}, fmt.Errorf("unknown member")
		}

		return models.Identity{OrgID: orgID, ActorID: userID, Role: member.Role}, nil
	}
}
