package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"aprsrelay/internal/bus"
	"aprsrelay/internal/cache"
	"aprsrelay/internal/config"
	"aprsrelay/internal/constants"
	"aprsrelay/internal/database"
	"aprsrelay/internal/metrics"
	"aprsrelay/internal/models"
	"aprsrelay/internal/privacy"
	"aprsrelay/internal/retry"
	"aprsrelay/internal/service"
	"aprsrelay/internal/tracing"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable debug logging, including raw frames")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	envPath    = flag.String("env", ".env", "Path to an optional env file")
	version    = flag.Bool("version", false, "Show version information")
)

type options struct {
	configPath string
	envPath    string
	verbose    bool
}

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("aprsrelay %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := options{configPath: *configPath, envPath: *envPath, verbose: *verbose}
	if err := run(ctx, opts); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context, opts options) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting aprsrelay")

	if err := config.LoadEnvFile(opts.envPath); err != nil {
		return err
	}

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	setLogLevel(logger, cfg.LogLevel, opts.verbose)
	logger.WithFields(privacy.MaskSensitiveFields(logrus.Fields{
		"callsign":  cfg.Callsign,
		"broker":    cfg.Bus.Broker,
		"redis_url": cfg.Cache.RedisURL,
		"database":  cfg.Database.Path,
		"workers":   cfg.Workers,
	})).Info("Configuration loaded")

	tracingManager := tracing.NewTracingManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	registry := metrics.NewRegistry()

	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	checks := map[string]func(context.Context) error{"database": db.Ping}

	ackCache, closeCache, err := newCache(ctx, cfg, logger, registry)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer closeCache()
	if pinger, ok := ackCache.(interface{ Ping(context.Context) error }); ok {
		checks["cache"] = pinger.Ping
	}

	settings := service.SettingsFromConfig(cfg)
	if settings.NoSend {
		logger.Warn("Sending is disabled, packets are only logged")
	}
	if settings.Callsign == "" {
		logger.Warn("No callsign configured, reply-acks are disabled")
	}

	workers := make([]*service.Worker, 0, cfg.Workers)
	sources := make([]statusSource, 0, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		transport := bus.NewMQTT(busConfig(cfg, i), logger)
		defer transport.Close()

		w := service.NewWorker(i, settings, db, ackCache, transport, logger, registry)
		workers = append(workers, w)
		sources = append(sources, w)
	}

	server := NewServer(cfg.Server.Port, registry, sources, checks, logger)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *service.Worker) {
			defer wg.Done()
			w.Run(workerCtx)
		}(w)
	}
	logger.WithField("workers", len(workers)).Info("Relay started")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case runErr = <-serverErrCh:
		logger.Error(runErr)
	}

	stopWorkers()
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && runErr == nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Shutdown completed")
	return runErr
}

func setLogLevel(logger *logrus.Logger, level string, verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", level)
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
}

// openDatabase opens the store, retrying while the file is locked or the
// volume is not mounted yet
func openDatabase(ctx context.Context, cfg *models.Config, logger logrus.FieldLogger) (*database.Database, error) {
	backoffConfig := retry.FromConfig(cfg.Retry)
	backoffConfig.MaxAttempts = constants.DefaultDatabaseRetryAttempts
	backoff := retry.NewBackoff(backoffConfig)

	var db *database.Database
	err := backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(ctx, cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	return db, nil
}

// newCache selects Redis when a URL is configured, the in-process cache
// otherwise
func newCache(ctx context.Context, cfg *models.Config, logger logrus.FieldLogger, registry *metrics.Registry) (service.Cache, func(), error) {
	if cfg.Cache.RedisURL == "" {
		logger.Info("Using in-process acknowledgement cache")
		return cache.NewMemory(registry), func() {}, nil
	}

	cooldown := time.Duration(cfg.Cache.FailureCooldownSec) * time.Second
	r, err := cache.NewRedis(ctx, cfg.Cache.RedisURL, cooldown, logger, registry)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := r.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close cache")
		}
	}
	return r, closeFn, nil
}

// busConfig returns the transport settings of worker n. Each worker gets
// its own client id so the broker keeps one session per worker. Several
// workers share their subscriptions so each frame reaches one worker only.
func busConfig(cfg *models.Config, n int) bus.MQTTConfig {
	shareGroup := ""
	if cfg.Workers > 1 {
		shareGroup = cfg.Bus.ClientID
	}
	return bus.MQTTConfig{
		ShareGroup:     shareGroup,
		Broker:         cfg.Bus.Broker,
		ClientID:       fmt.Sprintf("%s-%d", cfg.Bus.ClientID, n),
		Username:       cfg.Bus.Username,
		Password:       cfg.Bus.Password,
		Prefetch:       cfg.Bus.Prefetch,
		ReceiveTimeout: time.Duration(cfg.Bus.ReceiveTimeoutMs) * time.Millisecond,
		ConnectTimeout: time.Duration(constants.DefaultConnectTimeoutSec) * time.Second,
	}
}
