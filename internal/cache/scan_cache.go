package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/equitra/swingscan-go/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ScanCacheEntry is one cached completed run together with cache metadata.
type ScanCacheEntry struct {
	Summary   models.ScanSummary      `json:"summary"`
	Result    *models.SelectionResult `json:"result"`
	CachedAt  time.Time               `json:"cached_at"`
	ExpiresAt time.Time               `json:"expires_at"`
}

// ScanCacheStats tracks read-side cache performance.
type ScanCacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
}

// RedisScanCache serves the latest completed scan per scope out of Redis so
// API reads stay off the database between runs.
type RedisScanCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
	log    *logrus.Entry

	mu    sync.Mutex
	stats ScanCacheStats
}

// NewRedisScanCache creates a scan result cache with the given entry TTL.
func NewRedisScanCache(redisClient *redis.Client, ttl time.Duration) *RedisScanCache {
	return &RedisScanCache{
		redis:  redisClient,
		ttl:    ttl,
		prefix: "scan_cache:",
		log:    logrus.WithField("component", "scan_cache"),
	}
}

func (c *RedisScanCache) recordHit() {
	c.mu.Lock()
	c.stats.Hits++
	c.mu.Unlock()
}

func (c *RedisScanCache) recordMiss() {
	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
}

// Get returns the cached run for a scope. A payload past its internal
// expiry is still served; the next completed run overwrites it.
func (c *RedisScanCache) Get(scope string) (*ScanCacheEntry, bool) {
	data, err := c.redis.Get(context.Background(), c.prefix+scope).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WithError(err).WithField("scope", scope).Warn("Scan cache read failed")
		}
		c.recordMiss()
		return nil, false
	}

	var entry ScanCacheEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		c.log.WithError(err).WithField("scope", scope).Warn("Malformed scan cache payload")
		c.recordMiss()
		return nil, false
	}

	if time.Now().After(entry.ExpiresAt) {
		c.log.WithField("scope", scope).Debug("Serving expired scan result until the next run")
	}

	c.recordHit()
	return &entry, true
}

// Set stores a completed run for a scope with the configured TTL.
func (c *RedisScanCache) Set(scope string, summary models.ScanSummary, result *models.SelectionResult) {
	now := time.Now()
	entry := ScanCacheEntry{
		Summary:   summary,
		Result:    result,
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		c.log.WithError(err).WithField("scope", scope).Error("Scan cache encode failed")
		return
	}
	if err := c.redis.Set(context.Background(), c.prefix+scope, data, c.ttl).Err(); err != nil {
		c.log.WithError(err).WithField("scope", scope).Error("Scan cache write failed")
		return
	}

	c.mu.Lock()
	c.stats.Sets++
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"scope":      scope,
		"run_id":     summary.RunID,
		"candidates": summary.Candidates,
		"ttl":        c.ttl.String(),
	}).Info("Scan result cached")
}

// GetStats returns a copy of the current counters.
func (c *RedisScanCache) GetStats() ScanCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// LogStats writes the hit rate and counters to the service log.
func (c *RedisScanCache) LogStats() {
	stats := c.GetStats()
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}

	c.log.WithFields(logrus.Fields{
		"hits":     stats.Hits,
		"misses":   stats.Misses,
		"sets":     stats.Sets,
		"hit_rate": fmt.Sprintf("%.2f%%", hitRate),
	}).Info("Scan cache stats")
}

func (c *RedisScanCache) scanKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := c.redis.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

// Clear drops every cached scan result.
func (c *RedisScanCache) Clear() error {
	ctx := context.Background()
	keys, err := c.scanKeys(ctx)
	if err != nil {
		return fmt.Errorf("error scanning cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("error clearing cache: %w", err)
	}
	c.log.WithField("removed", len(keys)).Info("Scan cache cleared")
	return nil
}

// GetCachedScopes lists the scopes that currently have a cached run.
func (c *RedisScanCache) GetCachedScopes() ([]string, error) {
	keys, err := c.scanKeys(context.Background())
	if err != nil {
		return nil, fmt.Errorf("error scanning cache keys: %w", err)
	}

	var scopes []string
	for _, key := range keys {
		if scope := strings.TrimPrefix(key, c.prefix); scope != "" {
			scopes = append(scopes, scope)
		}
	}
	return scopes, nil
}

// WarmCache pre-loads scan results for the given scopes, typically from the
// most recent persisted run at startup. Scopes that are already cached are
// left alone and individual fetch failures are skipped.
func (c *RedisScanCache) WarmCache(scopes []string, fetcher func(string) (models.ScanSummary, *models.SelectionResult, error)) error {
	for _, scope := range scopes {
		if _, cached := c.Get(scope); cached {
			continue
		}

		summary, result, err := fetcher(scope)
		if err != nil {
			c.log.WithError(err).WithField("scope", scope).Warn("Scan cache warm skipped")
			continue
		}

		c.Set(scope, summary, result)
		c.log.WithFields(logrus.Fields{
			"scope":  scope,
			"run_id": summary.RunID,
		}).Info("Scan cache warmed")
	}
	return nil
}
