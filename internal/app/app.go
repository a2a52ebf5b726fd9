package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/hubex-fl/hubex/internal/auth"
	"github.com/hubex-fl/hubex/internal/config"
	"github.com/hubex-fl/hubex/internal/httpserver"
	"github.com/hubex-fl/hubex/internal/platform"
	"github.com/hubex-fl/hubex/internal/telemetry"
	"github.com/hubex-fl/hubex/pkg/device"
	"github.com/hubex-fl/hubex/pkg/ingest"
	"github.com/hubex-fl/hubex/pkg/pairing"
	"github.com/hubex-fl/hubex/pkg/task"
	"github.com/hubex-fl/hubex/pkg/user"
	"github.com/hubex-fl/hubex/pkg/variable"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the appropriate mode (api or worker).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting hubex",
		"mode", cfg.Mode,
		"listen", cfg.ListenAddr(),
		"caps_enforce", cfg.CapsEnforce,
	)

	// Database
	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	// Redis
	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	// Migrations
	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	// Metrics
	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg)
	case "worker":
		return runWorker(ctx, cfg, logger, db, rdb)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	tokens := auth.NewTokenManager(cfg.SecretKey, cfg.JWTIssuer, cfg.AccessTokenTTL())
	authStore := auth.NewStore(db)
	guard := auth.NewCapabilityGuard(cfg.CapsEnforce, logger)
	rateLimiter := auth.NewRateLimiter(rdb, cfg.RateLimitEnabled, cfg.RateLimitPerMin)

	srv := httpserver.NewServer(httpserver.ServerConfig{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MetricsPath:        cfg.MetricsPath,
	}, logger, db, rdb, metricsReg,
		auth.Principal(tokens, authStore, logger),
		rateLimiter.Middleware,
		guard.Middleware,
	)

	// Domain wiring.
	userStore := user.NewStore(db)
	userHandler := user.NewHandler(logger, userStore, tokens)
	srv.APIRouter.Mount("/auth", userHandler.Routes())

	deviceStore := device.NewStore(db)
	deviceHandler := device.NewHandler(logger, deviceStore, time.Duration(cfg.DeviceActiveWindowSeconds)*time.Second)

	pairingService := pairing.NewService(db, logger)
	pairingHandler := pairing.NewHandler(logger, pairingService)
	srv.APIRouter.Mount("/pairing", pairingHandler.Routes())

	taskService := task.NewService(db, logger)
	taskHandler := task.NewHandler(logger, taskService, deviceStore)
	srv.APIRouter.Mount("/tasks", taskHandler.Routes())

	hub := ingest.NewHub()
	ingestLimiter := ingest.NewRateLimiter(cfg.TelemetryRatePerMin, time.Minute)
	ingestStore := ingest.NewStore(db)
	ingestHandler := ingest.NewHandler(logger, ingestStore, deviceStore, ingestLimiter, hub, tokens, authStore, cfg.WSMaxConnections)
	srv.APIRouter.Post("/telemetry", ingestHandler.HandleIngest)
	srv.APIRouter.Get("/telemetry/recent", ingestHandler.HandleRecent)

	// Device-scoped routes mix registry, task and telemetry views; they are
	// registered flat so the capability map keys match the route patterns.
	srv.APIRouter.Post("/devices/hello", deviceHandler.HandleHello)
	srv.APIRouter.Get("/devices/whoami", deviceHandler.HandleWhoami)
	srv.APIRouter.Get("/devices", deviceHandler.HandleList)
	srv.APIRouter.Get("/devices/{deviceID}", deviceHandler.HandleGet)
	srv.APIRouter.Get("/devices/{deviceID}/telemetry", ingestHandler.HandleDeviceTelemetry)
	srv.APIRouter.Get("/devices/{deviceID}/telemetry/recent", ingestHandler.HandleDeviceTelemetryRecent)
	srv.APIRouter.Get("/devices/{deviceID}/telemetry/ws", ingestHandler.HandleWS)
	srv.APIRouter.Post("/devices/{deviceID}/tasks", taskHandler.HandleCreateForDevice)
	srv.APIRouter.Get("/devices/{deviceID}/tasks", taskHandler.HandleListForDevice)
	srv.APIRouter.Get("/devices/{deviceID}/current-task", taskHandler.HandleCurrentTask)
	srv.APIRouter.Get("/devices/{deviceID}/task-history", taskHandler.HandleTaskHistory)
	srv.APIRouter.Post("/devices/{deviceID}/tasks/{taskID}/cancel", taskHandler.HandleCancel)

	snapshotCache := variable.NewCache(2 * time.Second)
	variableService := variable.NewService(db, rdb, logger, snapshotCache, cfg.DevTools)
	variableHandler := variable.NewHandler(logger, variableService, db)
	srv.APIRouter.Mount("/variables", variableHandler.Routes())

	// The guard matches request paths against the finished router.
	guard.SetRouter(srv.Router)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client) error {
	logger.Info("worker started")
	worker := variable.NewWorker(db, rdb, logger, cfg.EffectWorkerInterval)
	return worker.Run(ctx)
}
