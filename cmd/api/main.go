package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/halcyonlabs/outreach-engine/internal/config"
	"github.com/halcyonlabs/outreach-engine/internal/domain"
	"github.com/halcyonlabs/outreach-engine/internal/guard"
	"github.com/halcyonlabs/outreach-engine/internal/handler"
	"github.com/halcyonlabs/outreach-engine/internal/idempotency"
	"github.com/halcyonlabs/outreach-engine/internal/infra/postgresql"
	"github.com/halcyonlabs/outreach-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/halcyonlabs/outreach-engine/internal/infra/redis"
	"github.com/halcyonlabs/outreach-engine/internal/observability"
	"github.com/halcyonlabs/outreach-engine/internal/policy"
	"github.com/halcyonlabs/outreach-engine/internal/provider"
	"github.com/halcyonlabs/outreach-engine/internal/queue"
	"github.com/halcyonlabs/outreach-engine/internal/repository"
	"github.com/halcyonlabs/outreach-engine/internal/service"
	"github.com/halcyonlabs/outreach-engine/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer mq.Close()

	metrics := observability.NewMetrics()

	enrollmentRepo := repository.NewGormEnrollmentRepo(db)
	activityRepo := repository.NewGormActivityRepo(db)
	campaignRepo := repository.NewGormCampaignRepo(db)
	contactRepo := repository.NewGormContactRepo(db)
	policyRepo := repository.NewGormPolicyRepo(db)
	callbackRepo := repository.NewGormCallbackRepo(db)

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	idemGuard, err := idempotency.NewRedisGuard(rdb, time.Duration(cfg.IdempotencyTTLSeconds)*time.Second)
	if err != nil {
		logger.Fatal("idempotency guard initialization failed", zap.Error(err))
	}

	publisher := queue.NewRabbitMQPublisher(mq)
	consumer := queue.NewRabbitMQConsumer(mq, cfg.WorkerConcurrency, logger)

	senders := provider.NewRegistry()
	providerEndpoints := map[domain.Channel]string{
		domain.ChannelVoice: cfg.VoiceProviderURL,
		domain.ChannelSMS:   cfg.SMSProviderURL,
		domain.ChannelEmail: cfg.EmailProviderURL,
	}
	for channel, endpoint := range providerEndpoints {
		sender, err := provider.NewHTTPProvider(channel, endpoint)
		if err != nil {
			logger.Fatal("provider initialization failed",
				zap.String("channel", channel.String()),
				zap.Error(err),
			)
		}
		if err := senders.Register(channel, sender); err != nil {
			logger.Fatal("provider registration failed",
				zap.String("channel", channel.String()),
				zap.Error(err),
			)
		}
	}

	resolver, err := policy.NewResolver(policyRepo, logger)
	if err != nil {
		logger.Fatal("policy resolver initialization failed", zap.Error(err))
	}

	evaluator, err := guard.NewEvaluator(activityRepo, logger)
	if err != nil {
		logger.Fatal("guard evaluator initialization failed", zap.Error(err))
	}

	enrollmentService, err := service.NewEnrollmentService(enrollmentRepo, campaignRepo, logger)
	if err != nil {
		logger.Fatal("enrollment service initialization failed", zap.Error(err))
	}
	enrollmentService.SetMetrics(metrics)

	processor, err := service.NewOutcomeProcessor(
		enrollmentRepo, activityRepo, campaignRepo, callbackRepo,
		resolver, publisher, logger,
	)
	if err != nil {
		logger.Fatal("outcome processor initialization failed", zap.Error(err))
	}
	processor.SetMetrics(metrics)

	planner, err := service.NewDispatchPlanner(
		enrollmentRepo, campaignRepo, contactRepo, activityRepo,
		evaluator, publisher,
		time.Duration(cfg.DispatchScanSeconds)*time.Second, cfg.ScanLimit,
		logger,
	)
	if err != nil {
		logger.Fatal("dispatch planner initialization failed", zap.Error(err))
	}
	planner.SetMetrics(metrics)

	ingest, err := service.NewIngestScanner(
		callbackRepo, processor,
		time.Duration(cfg.IngestScanSeconds)*time.Second, cfg.ScanLimit,
		logger,
	)
	if err != nil {
		logger.Fatal("ingest scanner initialization failed", zap.Error(err))
	}

	workers, err := service.NewWorkerService(
		enrollmentRepo, activityRepo, campaignRepo, contactRepo,
		consumer, senders, rateLimiter, cfg.WorkerConcurrency, logger,
	)
	if err != nil {
		logger.Fatal("worker service initialization failed", zap.Error(err))
	}
	workers.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	if err := handler.RegisterEnrollmentRoutes(app, enrollmentService); err != nil {
		logger.Fatal("enrollment routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterWebhookRoutes(app, callbackRepo, idemGuard, logger, metrics); err != nil {
		logger.Fatal("webhook routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterDispatchRoutes(app, planner); err != nil {
		logger.Fatal("dispatch routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterGuardRoutes(app, enrollmentRepo, campaignRepo, contactRepo, evaluator); err != nil {
		logger.Fatal("guard routes registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return planner.Start(gctx)
	})
	g.Go(func() error {
		return ingest.Start(gctx)
	})
	g.Go(func() error {
		return workers.Start(gctx)
	})
	g.Go(func() error {
		logger.Info("outreach-engine api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("service terminated", zap.Error(err))
	}

	logger.Info("outreach-engine stopped")
}
