package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/equitra/swingscan-go/internal/api"
	"github.com/equitra/swingscan-go/internal/cache"
	"github.com/equitra/swingscan-go/internal/config"
	"github.com/equitra/swingscan-go/internal/database"
	"github.com/equitra/swingscan-go/internal/logging"
	"github.com/equitra/swingscan-go/internal/models"
	"github.com/equitra/swingscan-go/internal/services"
	"github.com/equitra/swingscan-go/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env for local development; absence is normal in deployment
	if err := godotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "No .env file loaded: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Telemetry comes up before anything that might emit a span
	if err := telemetry.InitTelemetry(telemetry.TelemetryConfig{
		Enabled:        cfg.Telemetry.Enabled,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		LogLevel:       cfg.Telemetry.LogLevel,
	}); err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetry.Shutdown(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to shutdown telemetry: %v\n", err)
		}
	}()

	// Structured logger for startup and shutdown events
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Logrus logger for the services layer
	logrusLogger := logging.NewServiceLogger(cfg.LogLevel, cfg.Environment)

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	// Retry policies for infrastructure that may still be coming up
	errorRecoveryManager := services.NewErrorRecoveryManager(logrusLogger)
	for name, policy := range services.DefaultRetryPolicies() {
		errorRecoveryManager.RegisterRetryPolicy(name, policy)
	}

	redisClient, err := database.NewRedisConnectionWithRetry(cfg.Redis, errorRecoveryManager)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer redisClient.Close()

	// Every repository statement records a database client span
	pool := database.NewTracedPool(db.Pool)
	marketRepo := database.NewMarketRepository(pool)
	blacklistRepo := database.NewBlacklistRepository(pool)

	ctx := context.Background()

	// The blacklist lives in Redis so membership checks during a scan
	// stay off the database
	blacklistCache := cache.NewRedisBlacklistCache(redisClient.Client, blacklistRepo)
	if err := blacklistCache.LoadFromDatabase(ctx); err != nil {
		logrusLogger.WithError(err).Warn("Blacklist cache load failed, starting empty")
	}

	// Read-side cache for the latest completed run, warmed from the
	// store so restarts do not empty the API
	scanCache := cache.NewRedisScanCache(redisClient.Client, time.Duration(cfg.Screener.CacheTTLSeconds)*time.Second)
	if err := scanCache.WarmCache([]string{"latest"}, func(string) (models.ScanSummary, *models.SelectionResult, error) {
		summary, result, err := marketRepo.LatestScan(ctx)
		if err != nil {
			return models.ScanSummary{}, nil, err
		}
		if summary == nil {
			return models.ScanSummary{}, nil, fmt.Errorf("no completed scan persisted yet")
		}
		return *summary, result, nil
	}); err != nil {
		logrusLogger.WithError(err).Warn("Scan cache warming failed")
	}

	// Scoring and selection validate their configuration on construction
	scorer, err := services.NewScoreEngine(services.DefaultScoreTables(), cfg.Screener.Tiers)
	if err != nil {
		return fmt.Errorf("invalid score configuration: %w", err)
	}
	selector, err := services.NewSelectionEngine(cfg.Screener)
	if err != nil {
		return fmt.Errorf("invalid selection configuration: %w", err)
	}

	advisor := services.NewResourceAdvisor(services.AdvisorConfig{})
	notifier := services.NewNotificationService(cfg.Telegram)

	screener := services.NewScreener(marketRepo, blacklistCache, scorer, selector, advisor, cfg.Screener, logrusLogger)
	screener.SetResultCache(scanCache)
	if notifier.Enabled() {
		screener.SetNotifier(notifier)
	} else {
		logrusLogger.Info("Telegram notifications disabled, no bot token configured")
	}

	retention := services.NewRetentionService(marketRepo, blacklistRepo, logrusLogger)
	retention.Start(cfg.Retention)
	defer retention.Stop()

	// Hit-rate aggregation across both caches, snapshotted to Redis
	cacheAnalytics := services.NewCacheAnalyticsService(redisClient.Client, logrusLogger)
	cacheAnalytics.RegisterSource("scan_results", func() (int64, int64) {
		stats := scanCache.GetStats()
		return stats.Hits, stats.Misses
	})
	cacheAnalytics.RegisterSource("blacklist", func() (int64, int64) {
		stats := blacklistCache.GetStats()
		return stats.Hits, stats.Misses
	})
	reportingCtx, stopReporting := context.WithCancel(ctx)
	defer stopReporting()
	cacheAnalytics.StartPeriodicReporting(reportingCtx, 5*time.Minute)

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))

	api.SetupRoutes(router, cfg, db, redisClient, marketRepo, scanCache, screener, blacklistRepo, blacklistCache, cacheAnalytics, notifier)

	srv := newHTTPServer(cfg.Server.Port, router)

	go func() {
		logger.Info("Application startup",
			"service", cfg.Telemetry.ServiceName,
			"version", cfg.Telemetry.ServiceVersion,
			"port", cfg.Server.Port,
			"event", "startup",
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrusLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Block until SIGINT or SIGTERM arrives
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Application shutdown",
		"service", cfg.Telemetry.ServiceName,
		"event", "shutdown",
		"reason", "signal received",
	)

	// In-flight requests get 30 seconds to drain
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exited", "event", "exit")
	return nil
}

// newHTTPServer builds the server with timeouts that bound slow clients.
func newHTTPServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       15 * time.Second,
	}
}
