package api

import (
	"github.com/gin-gonic/gin"

	"github.com/equitra/swingscan-go/internal/api/handlers"
	"github.com/equitra/swingscan-go/internal/config"
	"github.com/equitra/swingscan-go/internal/database"
	"github.com/equitra/swingscan-go/internal/middleware"
	"github.com/equitra/swingscan-go/internal/services"
)

// SetupRoutes configures all HTTP routes for the application: probe
// endpoints, the public screener read API, and the admin surface for
// on-demand scans and blacklist administration.
//
// Parameters:
//
//	router: Gin engine every route is registered on.
//	cfg: The loaded application configuration.
//	db: The PostgreSQL connection wrapper, used by health checks.
//	redisClient: The Redis connection wrapper, used by health checks.
//	scanStore: Read access to persisted scan runs.
//	scanCache: Hot cache in front of scanStore.
//	runner: The screener that executes on-demand runs.
//	blacklistStore: Persistence for blacklist administration.
//	blacklistRuntime: The in-run blacklist view kept in step with the store.
//	cacheAnalytics: Aggregated cache metrics for the admin surface.
//	notifier: The Telegram notifier, reported by health checks.
func SetupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	db *database.PostgresDB,
	redisClient *database.RedisClient,
	scanStore handlers.ScanStore,
	scanCache handlers.ScanCache,
	runner handlers.ScanRunner,
	blacklistStore handlers.BlacklistStore,
	blacklistRuntime handlers.BlacklistRuntime,
	cacheAnalytics *services.CacheAnalyticsService,
	notifier *services.NotificationService,
) {
	adminMiddleware := middleware.NewAdminMiddleware(cfg.Admin.APIKey)

	// Keep nil connections as nil interfaces so the health handler reports
	// them as unconfigured instead of dereferencing them
	var dbChecker handlers.DependencyChecker
	if db != nil {
		dbChecker = db
	}
	var redisChecker handlers.DependencyChecker
	if redisClient != nil {
		redisChecker = redisClient
	}
	var metricsProvider handlers.CacheMetricsProvider
	if cacheAnalytics != nil {
		metricsProvider = cacheAnalytics
	}

	healthHandler := handlers.NewHealthHandler(dbChecker, redisChecker, notifier, cfg.Telemetry.ServiceVersion)
	screenerHandler := handlers.NewScreenerHandler(scanStore, scanCache, runner)
	blacklistHandler := handlers.NewBlacklistHandler(blacklistStore, blacklistRuntime)
	cacheStatsHandler := handlers.NewCacheStatsHandler(metricsProvider)

	// Probe endpoints with their own lightweight telemetry
	healthGroup := router.Group("/")
	healthGroup.Use(middleware.ProbeTelemetryMiddleware())
	{
		healthGroup.GET("/health", gin.WrapF(healthHandler.HealthCheck))
		healthGroup.HEAD("/health", gin.WrapF(healthHandler.HealthCheck))
		healthGroup.GET("/ready", gin.WrapF(healthHandler.ReadinessCheck))
		healthGroup.GET("/live", gin.WrapF(healthHandler.LivenessCheck))
	}

	// Versioned API surface, every request traced
	v1 := router.Group("/api/v1")
	v1.Use(middleware.TelemetryMiddleware())
	{
		// Screener read API plus the admin-only scan trigger
		screener := v1.Group("/screener")
		{
			screener.GET("/latest", screenerHandler.GetLatestScan)
			screener.GET("/history", screenerHandler.GetScanHistory)
			screener.GET("/status", screenerHandler.GetScanStatus)
			screener.GET("/leaderboards/:indicator", screenerHandler.GetLeaderboard)
			screener.GET("/profiles/:profile", screenerHandler.GetProfile)
			screener.POST("/scan", adminMiddleware.RequireAdminAuth(), screenerHandler.TriggerScan)
		}

		// Blacklist administration (admin only)
		blacklist := v1.Group("/blacklist")
		blacklist.Use(adminMiddleware.RequireAdminAuth())
		{
			blacklist.GET("", blacklistHandler.ListBlacklist)
			blacklist.POST("", blacklistHandler.AddToBlacklist)
			blacklist.DELETE("/:instrument_id", blacklistHandler.RemoveFromBlacklist)
		}

		// Operational metrics (admin only)
		admin := v1.Group("/admin")
		admin.Use(adminMiddleware.RequireAdminAuth())
		{
			admin.GET("/cache-stats", cacheStatsHandler.GetCacheStats)
		}
	}
}
