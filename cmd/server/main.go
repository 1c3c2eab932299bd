// Command server starts the cco releases HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"cco-releases/internal/api"
	"cco-releases/internal/events"
	"cco-releases/internal/observability/logging"
	"cco-releases/internal/observability/metrics"
	"cco-releases/internal/release"
	"cco-releases/internal/server"
	"cco-releases/internal/storage"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	releasesDir := flag.String("releases-dir", "", "path to the release artifact store")
	uploadKey := flag.String("upload-api-key", "", "API key required for uploads (empty disables uploads)")
	serviceVersion := flag.String("service-version", "", "version reported by the health endpoint")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	uploadLimit := flag.Int("rate-upload-limit", 0, "maximum uploads per window for a single IP")
	uploadWindow := flag.Duration("rate-upload-window", 0, "window for counting uploads")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed upload throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed upload throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis rate limiter operations")
	eventsDriver := flag.String("events-driver", "", "release event queue driver (memory or redis)")
	eventsRedisAddr := flag.String("events-redis-addr", "", "Redis address for the release event stream")
	eventsRedisAddrs := flag.String("events-redis-addrs", "", "comma separated Redis addresses for the release event stream")
	eventsRedisUsername := flag.String("events-redis-username", "", "Redis username for the release event stream")
	eventsRedisPassword := flag.String("events-redis-password", "", "Redis password for the release event stream")
	eventsRedisStream := flag.String("events-redis-stream", "", "Redis stream key for release events")
	eventsRedisGroup := flag.String("events-redis-group", "", "Redis consumer group for release events")
	eventsRedisMasterName := flag.String("events-redis-sentinel-master", "", "Redis sentinel master name for the release event stream")
	eventsRedisPoolSize := flag.Int("events-redis-pool-size", 0, "maximum Redis connections for the release event stream")
	eventsRedisTLSCA := flag.String("events-redis-tls-ca", "", "path to Redis TLS CA certificate for the release event stream")
	eventsRedisTLSCert := flag.String("events-redis-tls-cert", "", "path to Redis TLS client certificate for the release event stream")
	eventsRedisTLSKey := flag.String("events-redis-tls-key", "", "path to Redis TLS client key for the release event stream")
	eventsRedisTLSServerName := flag.String("events-redis-tls-server-name", "", "override Redis TLS server name for the release event stream")
	eventsRedisTLSSkipVerify := flag.Bool("events-redis-tls-skip-verify", false, "skip Redis TLS verification for the release event stream")
	flag.Parse()

	logger := logging.New(logging.Config{Level: resolveLogLevel(*logLevel, os.Getenv("CCO_RELEASES_LOG_LEVEL"))})
	recorder := metrics.Default()

	serverMode := modeValue(*mode, os.Getenv("CCO_RELEASES_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("CCO_RELEASES_ADDR"))

	tlsCertPath := firstNonEmpty(*tlsCert, os.Getenv("CCO_RELEASES_TLS_CERT"))
	tlsKeyPath := firstNonEmpty(*tlsKey, os.Getenv("CCO_RELEASES_TLS_KEY"))

	storeRoot := resolveReleasesDir(*releasesDir, os.Getenv("RELEASES_DIR"))
	store, err := storage.New(storage.Config{
		Root:            storeRoot,
		MaxArtifactSize: release.MaxArtifactSize,
		Logger:          logging.WithComponent(logger, "storage"),
	})
	if err != nil {
		logger.Error("failed to open release store", "error", err)
		os.Exit(1)
	}
	if !store.Available() {
		logger.Warn("releases directory is not accessible, service starts degraded", "releases_dir", storeRoot)
	}

	apiKey := firstNonEmpty(*uploadKey, os.Getenv("UPLOAD_API_KEY"))
	if apiKey == "" {
		logger.Warn("no upload API key configured, uploads are disabled")
	}

	eventsCfg := events.RedisQueueConfig{
		Addr:       firstNonEmpty(*eventsRedisAddr, os.Getenv("CCO_RELEASES_EVENTS_REDIS_ADDR")),
		Addrs:      splitAndTrim(firstNonEmpty(*eventsRedisAddrs, os.Getenv("CCO_RELEASES_EVENTS_REDIS_ADDRS"))),
		Username:   firstNonEmpty(*eventsRedisUsername, os.Getenv("CCO_RELEASES_EVENTS_REDIS_USERNAME")),
		Password:   firstNonEmpty(*eventsRedisPassword, os.Getenv("CCO_RELEASES_EVENTS_REDIS_PASSWORD")),
		Stream:     firstNonEmpty(*eventsRedisStream, os.Getenv("CCO_RELEASES_EVENTS_REDIS_STREAM")),
		Group:      firstNonEmpty(*eventsRedisGroup, os.Getenv("CCO_RELEASES_EVENTS_REDIS_GROUP")),
		MasterName: firstNonEmpty(*eventsRedisMasterName, os.Getenv("CCO_RELEASES_EVENTS_REDIS_SENTINEL_MASTER")),
		PoolSize:   resolveInt(*eventsRedisPoolSize, "CCO_RELEASES_EVENTS_REDIS_POOL_SIZE"),
		TLS: events.RedisTLSConfig{
			CAFile:             firstNonEmpty(*eventsRedisTLSCA, os.Getenv("CCO_RELEASES_EVENTS_REDIS_TLS_CA")),
			CertFile:           firstNonEmpty(*eventsRedisTLSCert, os.Getenv("CCO_RELEASES_EVENTS_REDIS_TLS_CERT")),
			KeyFile:            firstNonEmpty(*eventsRedisTLSKey, os.Getenv("CCO_RELEASES_EVENTS_REDIS_TLS_KEY")),
			ServerName:         firstNonEmpty(*eventsRedisTLSServerName, os.Getenv("CCO_RELEASES_EVENTS_REDIS_TLS_SERVER_NAME")),
			InsecureSkipVerify: resolveBool(*eventsRedisTLSSkipVerify, "CCO_RELEASES_EVENTS_REDIS_TLS_SKIP_VERIFY"),
		},
	}
	queue, err := configureEventQueue(*eventsDriver, eventsCfg, logger)
	if err != nil {
		logger.Error("failed to configure event queue", "error", err)
		os.Exit(1)
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go events.NewWorker(queue, recorder, logging.WithComponent(logger, "events-worker")).Run(workerCtx)

	handler := api.NewHandler(store)
	handler.Events = queue
	handler.Metrics = recorder
	handler.Logger = logging.WithComponent(logger, "api")
	handler.UploadAPIKey = apiKey
	handler.ServiceVersion = firstNonEmpty(*serviceVersion, os.Getenv("VERSION"))

	rateCfg := server.RateLimitConfig{
		GlobalRPS:     resolveFloat(*globalRPS, "CCO_RELEASES_RATE_GLOBAL_RPS"),
		GlobalBurst:   resolveInt(*globalBurst, "CCO_RELEASES_RATE_GLOBAL_BURST"),
		UploadLimit:   resolveInt(*uploadLimit, "CCO_RELEASES_RATE_UPLOAD_LIMIT"),
		UploadWindow:  resolveDuration(*uploadWindow, "CCO_RELEASES_RATE_UPLOAD_WINDOW", time.Minute),
		RedisAddr:     firstNonEmpty(*rateRedisAddr, os.Getenv("CCO_RELEASES_RATE_REDIS_ADDR")),
		RedisPassword: firstNonEmpty(*rateRedisPassword, os.Getenv("CCO_RELEASES_RATE_REDIS_PASSWORD")),
		RedisTimeout:  resolveDuration(*rateRedisTimeout, "CCO_RELEASES_RATE_REDIS_TIMEOUT", 2*time.Second),
	}

	tlsCfg := server.TLSConfig{
		CertFile: tlsCertPath,
		KeyFile:  tlsKeyPath,
	}

	srv, err := server.New(handler, server.Config{
		Addr:      listenAddr,
		TLS:       tlsCfg,
		RateLimit: rateCfg,
		Logger:    logger,
		Metrics:   recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("cco releases API listening", "addr", listenAddr, "mode", serverMode, "releases_dir", storeRoot)
		if tlsCfg.CertFile != "" && tlsCfg.KeyFile != "" {
			logger.Info("TLS enabled", "cert_file", tlsCfg.CertFile)
		}
		logger.Info("metrics endpoint available", "path", "/metrics")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errs:
		logger.Error("server error", "error", err)
	}

	workerCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}

	if closer, ok := queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("failed to close event queue", "error", err)
		}
	}

	logger.Info("server stopped")
}

func configureEventQueue(driver string, cfg events.RedisQueueConfig, logger *slog.Logger) (events.Queue, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		driver = strings.ToLower(strings.TrimSpace(os.Getenv("CCO_RELEASES_EVENTS_DRIVER")))
	}
	switch driver {
	case "redis":
		if len(cfg.Addrs) == 0 && strings.TrimSpace(cfg.Addr) == "" {
			return nil, fmt.Errorf("redis addr is required for the event queue")
		}
		cfg.Logger = logging.WithComponent(logger, "events-queue")
		return events.NewRedisQueue(cfg)
	case "", "memory":
		return events.NewMemoryQueue(128), nil
	default:
		return nil, fmt.Errorf("unsupported event queue driver %q", driver)
	}
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func resolveLogLevel(flagValue, envValue string) string {
	return firstNonEmpty(flagValue, envValue, "info")
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func resolveReleasesDir(flagValue, envValue string) string {
	if value := strings.TrimSpace(flagValue); value != "" {
		return value
	}
	if value := strings.TrimSpace(envValue); value != "" {
		return value
	}
	return "releases"
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
