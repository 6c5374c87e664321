package services

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// cacheStatsKey is where the periodic reporter persists the latest
// snapshot so hit rates survive a restart.
const cacheStatsKey = "cache:analytics:latest"

// CacheStats summarizes lookup traffic for one cache.
type CacheStats struct {
	Hits        int64     `json:"hits"`
	Misses      int64     `json:"misses"`
	HitRate     float64   `json:"hit_rate"`
	TotalOps    int64     `json:"total_ops"`
	LastUpdated time.Time `json:"last_updated"`
}

// CacheMetrics combines per-cache traffic with server-side Redis figures.
type CacheMetrics struct {
	Overall          CacheStats            `json:"overall"`
	ByCache          map[string]CacheStats `json:"by_cache"`
	RedisInfo        map[string]string     `json:"redis_info,omitempty"`
	MemoryUsageBytes int64                 `json:"memory_usage_bytes"`
	ConnectedClients int64                 `json:"connected_clients"`
	KeyCount         int64                 `json:"key_count"`
}

// CacheStatsSource reports cumulative hit and miss counts for one cache.
// The scan and blacklist caches count their own traffic; sources adapt
// those counters into this shape.
type CacheStatsSource func() (hits, misses int64)

// CacheAnalyticsService aggregates hit rates across the registered
// caches and periodically snapshots them to Redis.
type CacheAnalyticsService struct {
	redisClient redis.Cmdable
	logger      *logrus.Logger
	sources     map[string]CacheStatsSource
	mu          sync.RWMutex
}

// NewCacheAnalyticsService creates a cache analytics service.
func NewCacheAnalyticsService(redisClient redis.Cmdable, logger *logrus.Logger) *CacheAnalyticsService {
	if logger == nil {
		logger = logrus.New()
	}
	return &CacheAnalyticsService{
		redisClient: redisClient,
		logger:      logger,
		sources:     make(map[string]CacheStatsSource),
	}
}

// RegisterSource adds a named cache to the aggregation.
func (s *CacheAnalyticsService) RegisterSource(name string, source CacheStatsSource) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sources[name] = source
}

// Snapshot reads every registered source and returns per-cache stats.
func (s *CacheAnalyticsService) Snapshot() map[string]CacheStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	snapshot := make(map[string]CacheStats, len(s.sources))
	for name, source := range s.sources {
		hits, misses := source()
		snapshot[name] = newCacheStats(hits, misses, now)
	}
	return snapshot
}

// GetMetrics returns the aggregated cache metrics. Server-side Redis
// figures are best effort; a degraded Redis still yields the per-cache
// counters.
func (s *CacheAnalyticsService) GetMetrics(ctx context.Context) *CacheMetrics {
	byCache := s.Snapshot()

	var totalHits, totalMisses int64
	for _, stats := range byCache {
		totalHits += stats.Hits
		totalMisses += stats.Misses
	}

	metrics := &CacheMetrics{
		Overall: newCacheStats(totalHits, totalMisses, time.Now()),
		ByCache: byCache,
	}

	if info, err := s.redisClient.Info(ctx, "memory", "clients", "keyspace").Result(); err == nil {
		metrics.RedisInfo = parseRedisInfo(info)
		if usedMemory, err := strconv.ParseInt(metrics.RedisInfo["used_memory"], 10, 64); err == nil {
			metrics.MemoryUsageBytes = usedMemory
		}
	} else {
		s.logger.WithError(err).Debug("Redis INFO unavailable for cache metrics")
	}

	if clients, err := s.redisClient.ClientList(ctx).Result(); err == nil {
		metrics.ConnectedClients = int64(len(strings.Split(strings.TrimSpace(clients), "\n")))
	}

	if keys, err := s.redisClient.DBSize(ctx).Result(); err == nil {
		metrics.KeyCount = keys
	}

	return metrics
}

// StartPeriodicReporting snapshots cache stats to Redis on the given
// interval until the context is cancelled.
func (s *CacheAnalyticsService) StartPeriodicReporting(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.reportStats(ctx)
			}
		}
	}()
}

// reportStats persists the current snapshot so operators can inspect
// hit rates from Redis directly.
func (s *CacheAnalyticsService) reportStats(ctx context.Context) {
	snapshot := s.Snapshot()
	data, err := json.Marshal(snapshot)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to encode cache stats snapshot")
		return
	}

	if err := s.redisClient.Set(ctx, cacheStatsKey, data, 24*time.Hour).Err(); err != nil {
		s.logger.WithError(err).Warn("Failed to persist cache stats snapshot")
	}
}

func newCacheStats(hits, misses int64, at time.Time) CacheStats {
	stats := CacheStats{
		Hits:        hits,
		Misses:      misses,
		TotalOps:    hits + misses,
		LastUpdated: at,
	}
	if stats.TotalOps > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.TotalOps)
	}
	return stats
}

// parseRedisInfo flattens INFO output into key/value pairs, dropping
// section headers.
func parseRedisInfo(info string) map[string]string {
	result := make(map[string]string)

	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, ":", 2)
		if len(parts) == 2 {
			result[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}

	return result
}
