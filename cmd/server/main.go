package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"realtime-service/internal/auth"
	"realtime-service/internal/bridge"
	"realtime-service/internal/client"
	"realtime-service/internal/config"
	"realtime-service/internal/database"
	"realtime-service/internal/gateway"
	"realtime-service/internal/handler"
	"realtime-service/internal/job"
	"realtime-service/internal/metrics"
	"realtime-service/internal/repository"
	"realtime-service/internal/router"
	"realtime-service/internal/service"
)

func main() {
	configPath := pflag.String("config", "configs/config.yaml", "path to the YAML config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logger.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("Realtime Service stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting Realtime Service",
		zap.Int("port", cfg.Server.Port),
		zap.String("env", cfg.Server.Env),
		zap.String("base_path", cfg.Server.BasePath),
		zap.String("directory", cfg.Directory.Source),
		zap.String("bridge", cfg.Bridge.Transport),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewWithLogger(logger)

	rdb, err := database.NewRedis(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer rdb.Close()

	directory, err := newDirectory(cfg, logger, m)
	if err != nil {
		return err
	}

	verifier, closeVerifier, err := newVerifier(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeVerifier()

	store := repository.NewRedisPresenceStore(rdb, cfg.Presence.TTL, cfg.Presence.TypingTTL)
	presence := service.NewPresenceService(store, logger, m)
	queue := service.NewOfflineQueue(cfg.OfflineQueue.MaxLength, cfg.OfflineQueue.MaxAge, logger, m)

	hub := gateway.NewHub(logger)
	gw := gateway.NewGateway(cfg.WebSocket, hub, verifier, auth.NewIdentityResolver(directory, logger), presence, queue, logger, m)

	subscriber, closeTransport, err := newSubscriber(cfg, rdb, bridge.NewRouter(hub, queue, logger, m), logger, m)
	if err != nil {
		return err
	}
	defer closeTransport()

	// the bridge must be live before sockets are accepted
	if err := subscriber.Start(ctx); err != nil {
		return fmt.Errorf("failed to start bridge subscriber: %w", err)
	}
	defer subscriber.Close()

	scheduler := job.NewScheduler(logger)
	if err := scheduler.Every("offline-queue-sweep", cfg.OfflineQueue.SweepInterval, job.NewOfflineQueueSweepJob(queue, logger)); err != nil {
		return err
	}
	if err := scheduler.Every("presence-refresh", cfg.Presence.RefreshInterval, job.NewPresenceRefreshJob(presence, cfg.Presence.RefreshInterval, logger)); err != nil {
		return err
	}
	scheduler.Start()

	r := router.Setup(router.Config{
		Env:            cfg.Server.Env,
		BasePath:       cfg.Server.BasePath,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
		Logger:         logger,
		Metrics:        m,
		Gateway:        gw,
		Health:         handler.NewHealthHandler(store, subscriber, gw),
	})

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Realtime Service started successfully",
			zap.String("address", srv.Addr),
			zap.String("websocket", cfg.Server.BasePath+"/ws"),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("Shutting down server...", zap.String("signal", sig.String()))
	case err := <-serverErr:
		return fmt.Errorf("failed to start server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	// hijacked sockets are not covered by srv.Shutdown
	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.Error("WebSocket connections did not close in time", zap.Error(err))
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("Scheduled jobs did not finish in time", zap.Error(err))
	}

	logger.Info("Server exited gracefully")
	return nil
}

// newDirectory picks where user profiles and memberships come from.
func newDirectory(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (client.UserClient, error) {
	switch cfg.Directory.Source {
	case config.DirectorySourceDatabase:
		db, err := database.NewDirectoryDB(cfg.Directory.DatabaseURL, cfg.Server.Env)
		if err != nil {
			return nil, err
		}
		logger.Info("User directory backed by database")
		return repository.NewDirectoryRepository(db), nil
	default:
		logger.Info("User directory backed by user service",
			zap.String("url", cfg.Services.UserServiceURL))
		return client.NewUserClient(cfg.Services.UserServiceURL, cfg.Services.Timeout, logger, m), nil
	}
}

// newVerifier chains the configured credential checks: the auth service
// first, then the shared secret, then the JWKS endpoint.
func newVerifier(ctx context.Context, cfg *config.Config, logger *zap.Logger) (auth.TokenVerifier, func(), error) {
	var verifiers []auth.TokenVerifier
	closeFn := func() {}

	if cfg.Auth.ServiceURL != "" {
		verifiers = append(verifiers, auth.NewAuthServiceVerifier(cfg.Auth.ServiceURL, cfg.Services.Timeout))
	}
	if cfg.Auth.SecretKey != "" {
		verifiers = append(verifiers, auth.NewJWTVerifier(cfg.Auth.SecretKey, cfg.Auth.Issuer))
	}
	if cfg.Auth.JWKSURL != "" {
		jwks, err := auth.NewJWKSVerifier(ctx, cfg.Auth.JWKSURL, cfg.Auth.Issuer, logger)
		if err != nil {
			return nil, nil, err
		}
		verifiers = append(verifiers, jwks)
		closeFn = jwks.Close
	}

	if len(verifiers) == 0 {
		logger.Warn("No token verifier configured, every handshake will be rejected")
	}
	return auth.NewChainVerifier(logger, verifiers...), closeFn, nil
}

func newSubscriber(cfg *config.Config, rdb *redis.Client, r *bridge.Router, logger *zap.Logger, m *metrics.Metrics) (bridge.Subscriber, func(), error) {
	switch cfg.Bridge.Transport {
	case config.BridgeTransportNATS:
		nc, err := bridge.ConnectNATS(cfg.Bridge, logger, m)
		if err != nil {
			return nil, nil, err
		}
		return bridge.NewNATSSubscriber(nc, r, logger), nc.Close, nil
	default:
		return bridge.NewRedisSubscriber(rdb, r, logger), func() {}, nil
	}
}

func initLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      zapLevel == zapcore.DebugLevel,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return zapConfig.Build()
}
