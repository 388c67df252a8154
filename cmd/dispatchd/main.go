// Command dispatchd serves the transaction dispatch HTTP API in front of a
// REST resource backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/LerianStudio/lib-dispatch/dispatch"
	"github.com/LerianStudio/lib-dispatch/dispatch/backend"
	"github.com/LerianStudio/lib-dispatch/dispatch/backoff"
	"github.com/LerianStudio/lib-dispatch/dispatch/log"
	libHTTP "github.com/LerianStudio/lib-dispatch/dispatch/net/http"
	"github.com/LerianStudio/lib-dispatch/dispatch/net/http/ratelimit"
	"github.com/LerianStudio/lib-dispatch/dispatch/opentelemetry"
	"github.com/LerianStudio/lib-dispatch/dispatch/pooler"
	libRedis "github.com/LerianStudio/lib-dispatch/dispatch/redis"
	"github.com/LerianStudio/lib-dispatch/dispatch/runtime"
	"github.com/LerianStudio/lib-dispatch/dispatch/server"
	"github.com/LerianStudio/lib-dispatch/dispatch/transaction"
	libZap "github.com/LerianStudio/lib-dispatch/dispatch/zap"
	"github.com/gofiber/fiber/v2"
)

const serviceName = "dispatchd"

var errMissingBackendURL = errors.New("config: BACKEND_URL is required")

// Config is the service configuration read from the environment.
type Config struct {
	EnvName        string `env:"ENV_NAME"`
	Version        string `env:"VERSION"`
	LogLevel       string `env:"LOG_LEVEL"`
	ServerAddress  string `env:"SERVER_ADDRESS"`
	BackendURL     string `env:"BACKEND_URL"`
	BackendAPIKey  string `env:"BACKEND_API_KEY"`
	MaxConnections int    `env:"POOL_MAX_CONNECTIONS"`
	MaxIdle        int    `env:"POOL_MAX_IDLE"`
	BatchSize      int    `env:"POOL_BATCH_SIZE"`
	// MaxRetries is read in loadConfig so that an explicit 0 disables retries.
	MaxRetries          int
	FailureThreshold    uint32        `env:"BREAKER_FAILURE_THRESHOLD"`
	RecoveryTimeout     time.Duration `env:"BREAKER_RECOVERY_TIMEOUT_SECONDS"`
	HealthCheckInterval time.Duration `env:"HEALTH_CHECK_INTERVAL_SECONDS"`
	MetricsInterval     time.Duration `env:"METRICS_INTERVAL_SECONDS"`
	CleanupInterval     time.Duration `env:"CLEANUP_INTERVAL_SECONDS"`
	Retention           time.Duration `env:"RETENTION_SECONDS"`
	RedisAddress        string        `env:"REDIS_ADDRESS"`
	RedisPassword       string        `env:"REDIS_PASSWORD"`
	RedisDB             int           `env:"REDIS_DB"`
	SnapshotTTL         time.Duration `env:"REDIS_SNAPSHOT_TTL_SECONDS"`
	RateLimitMax        int           `env:"RATE_LIMIT_MAX"`
	RateLimitWindow     time.Duration `env:"RATE_LIMIT_WINDOW_SECONDS"`
	EnableTelemetry     bool          `env:"ENABLE_TELEMETRY"`
	OtelEndpoint        string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OtelLibraryName     string        `env:"OTEL_LIBRARY_NAME"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run() error {
	dispatch.InitLocalEnvConfig()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	runtime.SetProductionMode(cfg.EnvName == string(libZap.EnvironmentProduction))

	logger, err := libZap.New(libZap.Config{
		Environment:     libZap.Environment(cfg.EnvName),
		Level:           cfg.LogLevel,
		OTelLibraryName: cfg.OtelLibraryName,
		Console:         cfg.EnvName == string(libZap.EnvironmentLocal),
	})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}

	telemetry, err := opentelemetry.InitializeTelemetryWithError(&opentelemetry.TelemetryConfig{
		LibraryName:               cfg.OtelLibraryName,
		ServiceName:               serviceName,
		ServiceVersion:            cfg.Version,
		DeploymentEnv:             cfg.EnvName,
		CollectorExporterEndpoint: cfg.OtelEndpoint,
		EnableTelemetry:           cfg.EnableTelemetry,
		Logger:                    logger,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	ctx := dispatch.ContextWithLogger(context.Background(), logger)

	redisClient, err := connectRedis(ctx, cfg, logger, telemetry)
	if err != nil {
		return err
	}

	pc := poolerConfig(cfg, logger)

	poolerOpts := []pooler.Option{
		pooler.WithLogger(logger),
		pooler.WithMetricsFactory(telemetry.MetricsFactory),
	}

	if redisClient != nil {
		ttl := cfg.SnapshotTTL
		if ttl <= 0 {
			ttl = pc.Retention
		}

		store, err := libRedis.NewSnapshotStore(redisClient, "", ttl)
		if err != nil {
			return fmt.Errorf("snapshot store: %w", err)
		}

		poolerOpts = append(poolerOpts, pooler.WithSnapshotSink(store))
	}

	p, err := pooler.New(pc, poolerOpts...)
	if err != nil {
		return fmt.Errorf("pooler: %w", err)
	}

	tm := libHTTP.NewTelemetryMiddleware(telemetry)
	app := newApp(cfg, p, tm, redisClient, logger)

	sm := server.NewServerManager(telemetry, logger).
		WithHTTPServer(app, cfg.ServerAddress).
		WithWorker(p).
		WithCloser("system metrics", func(context.Context) error {
			tm.Stop()
			return nil
		})

	if redisClient != nil {
		sm = sm.WithCloser("redis", func(context.Context) error {
			return redisClient.Close()
		})
	}

	return dispatch.NewLauncher(
		dispatch.WithLogger(logger),
		dispatch.RunApp("http", sm),
	).RunWithError()
}

func loadConfig() (*Config, error) {
	cfg := &Config{}
	if err := dispatch.SetConfigFromEnvVars(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg.MaxRetries = int(dispatch.GetenvIntOrDefault("POOL_MAX_RETRIES", int64(transaction.DefaultMaxRetries)))

	if cfg.EnvName == "" {
		cfg.EnvName = string(libZap.EnvironmentLocal)
	}

	if cfg.ServerAddress == "" {
		cfg.ServerAddress = ":8080"
	}

	if cfg.OtelLibraryName == "" {
		cfg.OtelLibraryName = "github.com/LerianStudio/lib-dispatch"
	}

	if cfg.BackendURL == "" {
		return nil, errMissingBackendURL
	}

	return cfg, nil
}

func poolerConfig(cfg *Config, logger log.Logger) pooler.Config {
	pc := pooler.DefaultConfig()
	pc.Backend = backend.Config{
		BaseURL: cfg.BackendURL,
		APIKey:  cfg.BackendAPIKey,
		Logger:  logger,
	}

	if cfg.MaxConnections > 0 {
		pc.MaxConnections = cfg.MaxConnections
	}

	if cfg.MaxIdle > 0 {
		pc.MaxIdle = cfg.MaxIdle
	}

	if cfg.BatchSize > 0 {
		pc.BatchSize = cfg.BatchSize
	}

	if cfg.MaxRetries >= 0 {
		pc.MaxRetries = cfg.MaxRetries
	}

	if cfg.FailureThreshold > 0 {
		pc.Breaker.FailureThreshold = cfg.FailureThreshold
	}

	if cfg.RecoveryTimeout > 0 {
		pc.Breaker.RecoveryTimeout = cfg.RecoveryTimeout
	}

	if cfg.HealthCheckInterval > 0 {
		pc.HealthCheckInterval = cfg.HealthCheckInterval
	}

	if cfg.MetricsInterval > 0 {
		pc.MetricsInterval = cfg.MetricsInterval
	}

	if cfg.CleanupInterval > 0 {
		pc.CleanupInterval = cfg.CleanupInterval
	}

	if cfg.Retention > 0 {
		pc.Retention = cfg.Retention
	}

	return pc
}

// connectRedis returns nil without error when REDIS_ADDRESS is unset.
func connectRedis(ctx context.Context, cfg *Config, logger log.Logger, telemetry *opentelemetry.Telemetry) (*libRedis.Client, error) {
	if cfg.RedisAddress == "" {
		logger.Log(ctx, log.LevelInfo, "redis disabled: snapshots and rate limits stay in process")
		return nil, nil
	}

	var client *libRedis.Client

	err := retryStartup(ctx, redisConnectSchedule, logger, "redis", func(ctx context.Context) error {
		var err error

		client, err = libRedis.New(ctx, libRedis.Config{
			Topology: libRedis.Topology{
				Standalone: &libRedis.StandaloneTopology{Address: cfg.RedisAddress},
			},
			Password:       cfg.RedisPassword,
			Options:        libRedis.ConnectionOptions{DB: cfg.RedisDB},
			Logger:         logger,
			MetricsFactory: telemetry.MetricsFactory,
		})

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	return client, nil
}

// redisConnectSchedule is the wait before each retry of the initial redis
// connection.
var redisConnectSchedule = backoff.ExponentialSchedule(500*time.Millisecond, 3)

// retryStartup calls connect once, then once more after each delay in
// schedule, until it succeeds or ctx is done. The last error is returned.
func retryStartup(ctx context.Context, schedule backoff.Schedule, logger log.Logger, name string, connect func(context.Context) error) error {
	err := connect(ctx)

	for retry := 1; err != nil && retry <= len(schedule); retry++ {
		delay := schedule.Delay(retry)

		logger.Log(ctx, log.LevelWarn, "startup connection failed, retrying",
			log.String("dependency", name),
			log.Int("retry", retry),
			log.String("delay", delay.String()),
			log.Err(err),
		)

		if sleepErr := backoff.SleepWithContext(ctx, delay); sleepErr != nil {
			return errors.Join(err, sleepErr)
		}

		err = connect(ctx)
	}

	return err
}

func newApp(cfg *Config, p *pooler.Pooler, tm *libHTTP.TelemetryMiddleware, redisClient *libRedis.Client, logger log.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          libHTTP.FiberErrorHandler,
	})

	app.Use(tm.WithTelemetry(tm.Telemetry, "/health", "/ping", "/version"))
	app.Use(libHTTP.WithHTTPLogging(libHTTP.WithCustomLogger(logger)))

	app.Get("/", libHTTP.Welcome(serviceName, "Resilient transaction dispatch"))
	app.Get("/ping", libHTTP.Ping)
	app.Get("/version", libHTTP.Version)
	app.Get("/health", libHTTP.HealthWithDependencies(libHTTP.DependencyCheck{
		Name:           "backend",
		CircuitBreaker: p.CircuitBreaker(),
		ServiceName:    pooler.BreakerName,
		HealthCheck:    func() bool { return p.PoolStatus().Healthy },
	}))

	limiterCfg := ratelimit.Config{Max: cfg.RateLimitMax, Window: cfg.RateLimitWindow}
	if redisClient != nil {
		limiterCfg.Storage = ratelimit.NewRedisStorage(redisClient, "")
	}

	libHTTP.RegisterRoutes(app, libHTTP.NewTransactionHandler(p), ratelimit.New(limiterCfg))

	return app
}
