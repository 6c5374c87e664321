package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/equitra/swingscan-go/internal/database"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// BlacklistCacheEntry is the cached form of one excluded instrument. The
// payload carries its own expiry so staleness is detected even for keys
// written without a Redis TTL.
type BlacklistCacheEntry struct {
	InstrumentID string     `json:"instrument_id"`
	Reason       string     `json:"reason"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (e *BlacklistCacheEntry) expiredBy(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// BlacklistCacheStats is the counter snapshot reported to cache analytics.
type BlacklistCacheStats struct {
	TotalEntries   int64     `json:"total_entries"`
	ExpiredEntries int64     `json:"expired_entries"`
	Hits           int64     `json:"hits"`
	Misses         int64     `json:"misses"`
	Adds           int64     `json:"adds"`
	LastCleanup    time.Time `json:"last_cleanup"`
}

// BlacklistCache is the exclusion set consulted on every screening run and
// edited through the admin API. Lookups answer with the blacklist reason so
// rejections can be reported per instrument.
type BlacklistCache interface {
	IsBlacklisted(instrumentID string) (bool, string)
	Add(instrumentID, reason string, ttl time.Duration)
	Remove(instrumentID string)
	Clear()
	LoadFromDatabase(ctx context.Context) error
	GetBlacklistedInstruments() ([]BlacklistCacheEntry, error)
	ActiveIDs(ctx context.Context) (map[string]string, error)
	GetStats() BlacklistCacheStats
	LogStats()
	Close() error
}

// BlacklistRepository is the slice of the database layer the cache writes
// through. *database.BlacklistRepository satisfies it.
type BlacklistRepository interface {
	AddInstrument(ctx context.Context, instrumentID, reason string, expiresAt *time.Time) (*database.InstrumentBlacklistEntry, error)
	RemoveInstrument(ctx context.Context, instrumentID string) error
	GetAllBlacklisted(ctx context.Context) ([]database.InstrumentBlacklistEntry, error)
}

// RedisBlacklistCache keeps the blacklist in Redis so membership checks stay
// off the database during a scan. Writes go to the repository first and to
// Redis second; a repository failure is logged and the cache write still
// proceeds.
type RedisBlacklistCache struct {
	client redis.Cmdable
	repo   BlacklistRepository
	log    *logrus.Entry
	prefix string

	mu    sync.Mutex
	stats BlacklistCacheStats
}

// NewRedisBlacklistCache wires the cache to a Redis client and an optional
// repository. A nil repository disables persistence; cache writes still work.
func NewRedisBlacklistCache(client redis.Cmdable, repo BlacklistRepository) *RedisBlacklistCache {
	return &RedisBlacklistCache{
		client: client,
		repo:   repo,
		log:    logrus.WithField("component", "blacklist_cache"),
		prefix: "blacklist:",
	}
}

func (rbc *RedisBlacklistCache) key(instrumentID string) string {
	return rbc.prefix + instrumentID
}

func (rbc *RedisBlacklistCache) recordHit() {
	rbc.mu.Lock()
	rbc.stats.Hits++
	rbc.mu.Unlock()
}

func (rbc *RedisBlacklistCache) recordMiss() {
	rbc.mu.Lock()
	rbc.stats.Misses++
	rbc.mu.Unlock()
}

// IsBlacklisted reports whether an instrument is currently excluded and, if
// so, why. Lookup failures count as misses so a Redis outage degrades to an
// unfiltered scan instead of an aborted one.
func (rbc *RedisBlacklistCache) IsBlacklisted(instrumentID string) (bool, string) {
	ctx := context.Background()
	val, err := rbc.client.Get(ctx, rbc.key(instrumentID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			rbc.log.WithError(err).WithField("instrument_id", instrumentID).Warn("Blacklist lookup failed")
		}
		rbc.recordMiss()
		return false, ""
	}

	var entry BlacklistCacheEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		rbc.log.WithError(err).WithField("instrument_id", instrumentID).Warn("Malformed blacklist payload")
		rbc.recordMiss()
		return false, ""
	}

	if entry.expiredBy(time.Now()) {
		rbc.client.Del(ctx, rbc.key(instrumentID))
		rbc.mu.Lock()
		rbc.stats.ExpiredEntries++
		rbc.stats.Misses++
		rbc.mu.Unlock()
		return false, ""
	}

	rbc.recordHit()
	return true, entry.Reason
}

// Add excludes an instrument for the given reason. A ttl of zero or less
// means the exclusion does not expire on its own.
func (rbc *RedisBlacklistCache) Add(instrumentID, reason string, ttl time.Duration) {
	now := time.Now()
	entry := BlacklistCacheEntry{
		InstrumentID: instrumentID,
		Reason:       reason,
		CreatedAt:    now,
	}
	if ttl > 0 {
		expiresAt := now.Add(ttl)
		entry.ExpiresAt = &expiresAt
	}

	ctx := context.Background()
	if rbc.repo != nil {
		if _, err := rbc.repo.AddInstrument(ctx, instrumentID, reason, entry.ExpiresAt); err != nil {
			rbc.log.WithError(err).WithField("instrument_id", instrumentID).Error("Blacklist database write failed")
		}
	}

	if err := rbc.write(ctx, entry, ttl); err != nil {
		rbc.log.WithError(err).WithField("instrument_id", instrumentID).Error("Blacklist cache write failed")
		return
	}

	rbc.mu.Lock()
	rbc.stats.Adds++
	rbc.stats.TotalEntries++
	rbc.mu.Unlock()

	rbc.log.WithFields(logrus.Fields{
		"instrument_id": instrumentID,
		"reason":        reason,
		"ttl":           ttl.String(),
	}).Info("Instrument blacklisted")
}

func (rbc *RedisBlacklistCache) write(ctx context.Context, entry BlacklistCacheEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return rbc.client.Set(ctx, rbc.key(entry.InstrumentID), data, ttl).Err()
}

// Remove lifts the exclusion for an instrument in both the repository and
// the cache.
func (rbc *RedisBlacklistCache) Remove(instrumentID string) {
	ctx := context.Background()
	if rbc.repo != nil {
		if err := rbc.repo.RemoveInstrument(ctx, instrumentID); err != nil {
			rbc.log.WithError(err).WithField("instrument_id", instrumentID).Error("Blacklist database delete failed")
		}
	}

	removed, err := rbc.client.Del(ctx, rbc.key(instrumentID)).Result()
	if err != nil {
		rbc.log.WithError(err).WithField("instrument_id", instrumentID).Error("Blacklist cache delete failed")
		return
	}
	if removed > 0 {
		rbc.mu.Lock()
		rbc.stats.TotalEntries--
		rbc.mu.Unlock()
		rbc.log.WithField("instrument_id", instrumentID).Info("Instrument removed from blacklist")
	}
}

// Clear empties the cache. Database rows are left alone so a later
// LoadFromDatabase can restore the active set.
func (rbc *RedisBlacklistCache) Clear() {
	ctx := context.Background()
	keys, err := rbc.scanKeys(ctx)
	if err != nil {
		rbc.log.WithError(err).Error("Blacklist key scan failed")
		return
	}
	if len(keys) == 0 {
		return
	}

	removed, err := rbc.client.Del(ctx, keys...).Result()
	if err != nil {
		rbc.log.WithError(err).Error("Blacklist clear failed")
		return
	}

	rbc.mu.Lock()
	rbc.stats.TotalEntries = 0
	rbc.mu.Unlock()
	rbc.log.WithField("removed", removed).Info("Blacklist cache cleared")
}

func (rbc *RedisBlacklistCache) scanKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := rbc.client.Scan(ctx, 0, rbc.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

// collectEntries walks every cached key and splits the result into live
// entries and the keys of stale payloads. Unreadable or malformed values
// are skipped; Redis may have expired them mid-walk.
func (rbc *RedisBlacklistCache) collectEntries(ctx context.Context) ([]BlacklistCacheEntry, []string, error) {
	keys, err := rbc.scanKeys(ctx)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	var live []BlacklistCacheEntry
	var stale []string
	for _, key := range keys {
		val, err := rbc.client.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		var entry BlacklistCacheEntry
		if err := json.Unmarshal([]byte(val), &entry); err != nil {
			continue
		}
		if entry.expiredBy(now) {
			stale = append(stale, key)
			continue
		}
		live = append(live, entry)
	}
	return live, stale, nil
}

// GetBlacklistedInstruments returns every live entry. Stale payloads found
// during the walk are evicted.
func (rbc *RedisBlacklistCache) GetBlacklistedInstruments() ([]BlacklistCacheEntry, error) {
	ctx := context.Background()
	live, stale, err := rbc.collectEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to scan blacklist keys: %w", err)
	}
	if len(stale) > 0 {
		rbc.client.Del(ctx, stale...)
	}
	return live, nil
}

// ActiveIDs returns the active blacklist as the id-to-reason map the
// screening pipeline consumes when excluding instruments from a run.
func (rbc *RedisBlacklistCache) ActiveIDs(ctx context.Context) (map[string]string, error) {
	entries, err := rbc.GetBlacklistedInstruments()
	if err != nil {
		return nil, err
	}
	return idReasonMap(entries), nil
}

// CleanupExpired evicts stale payloads in bulk and returns how many were
// removed. It complements per-read eviction for keys written without a
// Redis TTL.
func (rbc *RedisBlacklistCache) CleanupExpired() int {
	ctx := context.Background()
	_, stale, err := rbc.collectEntries(ctx)
	if err != nil {
		rbc.log.WithError(err).Error("Blacklist cleanup scan failed")
		return 0
	}
	if len(stale) == 0 {
		return 0
	}

	rbc.client.Del(ctx, stale...)

	rbc.mu.Lock()
	rbc.stats.ExpiredEntries += int64(len(stale))
	rbc.stats.TotalEntries -= int64(len(stale))
	rbc.stats.LastCleanup = time.Now()
	rbc.mu.Unlock()

	rbc.log.WithField("removed", len(stale)).Info("Expired blacklist entries evicted")
	return len(stale)
}

// LoadFromDatabase replays the active blacklist from the repository into
// Redis, typically at startup. Rows that expired since they were written
// are skipped.
func (rbc *RedisBlacklistCache) LoadFromDatabase(ctx context.Context) error {
	if rbc.repo == nil {
		return fmt.Errorf("database repository not configured")
	}

	rows, err := rbc.repo.GetAllBlacklisted(ctx)
	if err != nil {
		return fmt.Errorf("failed to load blacklist from database: %w", err)
	}

	now := time.Now()
	loaded := 0
	for _, row := range rows {
		var ttl time.Duration
		if row.ExpiresAt != nil {
			ttl = row.ExpiresAt.Sub(now)
			if ttl <= 0 {
				continue
			}
		}

		entry := BlacklistCacheEntry{
			InstrumentID: row.InstrumentID,
			Reason:       row.Reason,
			ExpiresAt:    row.ExpiresAt,
			CreatedAt:    row.CreatedAt,
		}
		if err := rbc.write(ctx, entry, ttl); err != nil {
			rbc.log.WithError(err).WithField("instrument_id", row.InstrumentID).Warn("Blacklist entry not cached")
			continue
		}
		loaded++
	}

	rbc.log.WithFields(logrus.Fields{
		"loaded": loaded,
		"rows":   len(rows),
	}).Info("Blacklist cache warmed from database")
	return nil
}

// GetStats returns a counter snapshot with TotalEntries refreshed from a
// key scan, so drift from out-of-band expiry corrects itself.
func (rbc *RedisBlacklistCache) GetStats() BlacklistCacheStats {
	total := int64(-1)
	if keys, err := rbc.scanKeys(context.Background()); err == nil {
		total = int64(len(keys))
	}

	rbc.mu.Lock()
	defer rbc.mu.Unlock()
	if total >= 0 {
		rbc.stats.TotalEntries = total
	}
	return rbc.stats
}

// LogStats writes the current counters to the service log.
func (rbc *RedisBlacklistCache) LogStats() {
	logBlacklistStats(rbc.log, rbc.GetStats())
}

// Close is a no-op; the Redis client is owned by the caller.
func (rbc *RedisBlacklistCache) Close() error {
	return nil
}

func idReasonMap(entries []BlacklistCacheEntry) map[string]string {
	ids := make(map[string]string, len(entries))
	for _, entry := range entries {
		ids[entry.InstrumentID] = entry.Reason
	}
	return ids
}

func logBlacklistStats(log *logrus.Entry, stats BlacklistCacheStats) {
	log.WithFields(logrus.Fields{
		"total":   stats.TotalEntries,
		"hits":    stats.Hits,
		"misses":  stats.Misses,
		"adds":    stats.Adds,
		"expired": stats.ExpiredEntries,
	}).Info("Blacklist cache stats")
}

// InMemoryBlacklistCache is the fallback exclusion set used when Redis is
// not available, and the fixture of choice in tests. It has no persistence.
type InMemoryBlacklistCache struct {
	mu      sync.Mutex
	entries map[string]*BlacklistCacheEntry
	stats   BlacklistCacheStats
}

func NewInMemoryBlacklistCache() *InMemoryBlacklistCache {
	return &InMemoryBlacklistCache{
		entries: make(map[string]*BlacklistCacheEntry),
	}
}

func (ibc *InMemoryBlacklistCache) IsBlacklisted(instrumentID string) (bool, string) {
	ibc.mu.Lock()
	defer ibc.mu.Unlock()

	entry, ok := ibc.entries[instrumentID]
	if !ok {
		ibc.stats.Misses++
		return false, ""
	}
	if entry.expiredBy(time.Now()) {
		delete(ibc.entries, instrumentID)
		ibc.stats.ExpiredEntries++
		ibc.stats.TotalEntries--
		ibc.stats.Misses++
		return false, ""
	}

	ibc.stats.Hits++
	return true, entry.Reason
}

func (ibc *InMemoryBlacklistCache) Add(instrumentID, reason string, ttl time.Duration) {
	now := time.Now()
	entry := &BlacklistCacheEntry{
		InstrumentID: instrumentID,
		Reason:       reason,
		CreatedAt:    now,
	}
	if ttl > 0 {
		expiresAt := now.Add(ttl)
		entry.ExpiresAt = &expiresAt
	}

	ibc.mu.Lock()
	defer ibc.mu.Unlock()
	if _, exists := ibc.entries[instrumentID]; !exists {
		ibc.stats.TotalEntries++
	}
	ibc.entries[instrumentID] = entry
	ibc.stats.Adds++
}

func (ibc *InMemoryBlacklistCache) Remove(instrumentID string) {
	ibc.mu.Lock()
	defer ibc.mu.Unlock()
	if _, ok := ibc.entries[instrumentID]; ok {
		delete(ibc.entries, instrumentID)
		ibc.stats.TotalEntries--
	}
}

func (ibc *InMemoryBlacklistCache) Clear() {
	ibc.mu.Lock()
	defer ibc.mu.Unlock()
	ibc.entries = make(map[string]*BlacklistCacheEntry)
	ibc.stats.TotalEntries = 0
}

// LoadFromDatabase always fails; the in-memory cache has nothing to load
// from.
func (ibc *InMemoryBlacklistCache) LoadFromDatabase(ctx context.Context) error {
	return fmt.Errorf("database persistence not supported for in-memory cache")
}

func (ibc *InMemoryBlacklistCache) GetBlacklistedInstruments() ([]BlacklistCacheEntry, error) {
	ibc.mu.Lock()
	defer ibc.mu.Unlock()

	now := time.Now()
	var entries []BlacklistCacheEntry
	for _, entry := range ibc.entries {
		if entry.expiredBy(now) {
			continue
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

func (ibc *InMemoryBlacklistCache) ActiveIDs(ctx context.Context) (map[string]string, error) {
	entries, err := ibc.GetBlacklistedInstruments()
	if err != nil {
		return nil, err
	}
	return idReasonMap(entries), nil
}

func (ibc *InMemoryBlacklistCache) GetStats() BlacklistCacheStats {
	ibc.mu.Lock()
	defer ibc.mu.Unlock()
	return ibc.stats
}

func (ibc *InMemoryBlacklistCache) LogStats() {
	logBlacklistStats(logrus.WithField("component", "blacklist_cache"), ibc.GetStats())
}

func (ibc *InMemoryBlacklistCache) Close() error {
	return nil
}
