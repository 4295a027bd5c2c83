package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fleetdesk/fleetdesk-backend/internal/api/rest"
	"github.com/fleetdesk/fleetdesk-backend/internal/infrastructure/cache"
	"github.com/fleetdesk/fleetdesk-backend/internal/infrastructure/config"
	"github.com/fleetdesk/fleetdesk-backend/internal/infrastructure/database"
	"github.com/fleetdesk/fleetdesk-backend/internal/infrastructure/events"
	"github.com/fleetdesk/fleetdesk-backend/internal/infrastructure/repository"
	"github.com/fleetdesk/fleetdesk-backend/internal/realtime"
	bondsvc "github.com/fleetdesk/fleetdesk-backend/internal/service/bond"
	incidentsvc "github.com/fleetdesk/fleetdesk-backend/internal/service/incident"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setting up logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("application failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting fleetdesk backend",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment),
		zap.Int("port", cfg.Server.Port),
	)

	pool, err := database.Connect(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	var limiter cache.RateLimiter = cache.NewLocalRateLimiter()
	var redisPinger rest.Pinger
	if cfg.Redis.URL != "" {
		redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer redisClient.Close()
		limiter = cache.NewRedisRateLimiter(redisClient, logger)
		redisPinger = rest.PingerFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	} else {
		logger.Warn("redis not configured, rate limits are per instance")
	}

	channel := events.NewChannelClient(cfg.Channel, logger)
	if err := channel.Connect(ctx); err != nil {
		// The channel reconnects on its own; the console degrades to
		// last-known projections in the meantime.
		logger.Warn("event channel not reachable at startup", zap.Error(err))
	}
	defer channel.Close()

	session := realtime.NewSession(cfg.Realtime, channel, logger)
	defer session.Close()

	policy, err := bondsvc.NewPolicy(cfg.Bond)
	if err != nil {
		return fmt.Errorf("building bond policy: %w", err)
	}

	incidentRepo := repository.NewIncidentRepository(pool)
	bondRepo := repository.NewBondRepository(pool)
	uow := repository.NewUnitOfWork(pool)

	bondService := bondsvc.NewService(bondRepo, policy, logger)
	incidentService := incidentsvc.NewService(incidentRepo, uow, bondService,
		rest.ContextCapabilities{}, channel, logger)

	handler := rest.NewHandler(rest.Services{
		Incidents: incidentService,
		Bonds:     bondService,
	}, logger)
	health := rest.NewHealthHandler(
		rest.PingerFunc(pool.Ping),
		redisPinger,
		channel,
		cfg.Version,
		logger,
	)
	auth := rest.NewAuthenticator(cfg.Security.JWTSecret)

	router := rest.NewRouter(handler, health, rest.NewRealtimeHandler(session), auth, limiter,
		cfg.Security.RateLimit.RequestsPerSecond, logger)
	server := rest.NewServer(cfg.Server, router, logger)

	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func newLogger(level, environment string) (*zap.Logger, error) {
	var zapCfg zap.Config
	if environment == "development" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	zapCfg.Sampling = nil
	return zapCfg.Build()
}
