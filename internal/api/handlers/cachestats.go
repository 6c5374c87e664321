package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/equitra/swingscan-go/internal/services"
)

// CacheMetricsProvider supplies aggregated cache metrics.
type CacheMetricsProvider interface {
	GetMetrics(ctx context.Context) *services.CacheMetrics
}

// CacheStatsHandler serves the admin view of cache hit rates and Redis
// server figures.
type CacheStatsHandler struct {
	metrics CacheMetricsProvider
}

func NewCacheStatsHandler(metrics CacheMetricsProvider) *CacheStatsHandler {
	return &CacheStatsHandler{
		metrics: metrics,
	}
}

// GetCacheStats returns the current cache metrics.
func (h *CacheStatsHandler) GetCacheStats(c *gin.Context) {
	if h.metrics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Cache analytics not configured",
		})
		return
	}

	c.JSON(http.StatusOK, h.metrics.GetMetrics(c.Request.Context()))
}
