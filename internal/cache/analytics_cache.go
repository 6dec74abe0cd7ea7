// Package cache provides the read-through Redis layer for session analytics.
// The cache is strictly best-effort: a miss or a Redis failure degrades to the
// database path and never fails the caller.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/config"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/emg"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/persistence"
)

const keyPrefix = "emg:analytics:"

// Summary is the denormalized rollup stored alongside the full analytics so
// list views render without touching the database.
type Summary struct {
	Channels          []string  `json:"channels"`
	TotalChannels     int       `json:"total_channels"`
	OverallCompliance float64   `json:"overall_compliance"`
	ProcessedAt       time.Time `json:"processed_at"`
}

// Payload is the cached representation of one session's analytics.
type Payload struct {
	SessionID    string                           `json:"session_id"`
	CacheVersion string                           `json:"cache_version"`
	Analytics    map[string]*emg.ChannelAnalytics `json:"analytics"`
	Summary      Summary                          `json:"summary"`
	Metadata     *persistence.TechnicalData       `json:"metadata,omitempty"`
}

// AnalyticsCache wraps a Redis client with versioned keys and a fixed TTL.
type AnalyticsCache struct {
	client  *redis.Client
	ttl     time.Duration
	timeout time.Duration
	log     zerolog.Logger
}

// New connects to Redis and verifies connectivity.
func New(cfg config.RedisConfig, logger zerolog.Logger) (*AnalyticsCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewWithClient(client, cfg, logger), nil
}

// NewWithClient wraps an existing client; used by tests with redismock.
func NewWithClient(client *redis.Client, cfg config.RedisConfig, logger zerolog.Logger) *AnalyticsCache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &AnalyticsCache{
		client:  client,
		ttl:     ttl,
		timeout: timeout,
		log:     logger.With().Str("component", "analytics_cache").Logger(),
	}
}

// Key returns the versioned cache key for a session. Bumping the version
// constant in config invalidates every cached payload at once.
func Key(sessionID string) string {
	return keyPrefix + config.AnalyticsCacheVersion + ":" + sessionID
}

// Get returns the cached payload, or (nil, false) on miss. Redis failures are
// logged and reported as misses.
func (c *AnalyticsCache) Get(ctx context.Context, sessionID string) (*Payload, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.client.Get(ctx, Key(sessionID)).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn().Err(err).Str("session_id", sessionID).Msg("cache read failed")
		}
		return nil, false
	}

	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		c.log.Warn().Err(err).Str("session_id", sessionID).Msg("cache payload corrupt, treating as miss")
		return nil, false
	}
	if p.CacheVersion != config.AnalyticsCacheVersion {
		return nil, false
	}
	return &p, true
}

// Set stores a payload. Failures are logged, never propagated.
func (c *AnalyticsCache) Set(ctx context.Context, p *Payload) {
	p.CacheVersion = config.AnalyticsCacheVersion

	data, err := json.Marshal(p)
	if err != nil {
		c.log.Warn().Err(err).Str("session_id", p.SessionID).Msg("cache payload marshal failed")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.client.Set(ctx, Key(p.SessionID), data, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("session_id", p.SessionID).Msg("cache write failed")
	}
}

// Invalidate drops a session's cached payload, e.g. after a recalculation.
func (c *AnalyticsCache) Invalidate(ctx context.Context, sessionID string) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.client.Del(ctx, Key(sessionID)).Err(); err != nil {
		c.log.Warn().Err(err).Str("session_id", sessionID).Msg("cache invalidate failed")
	}
}

// Ping verifies connectivity for the health endpoint.
func (c *AnalyticsCache) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (c *AnalyticsCache) Close() error {
	return c.client.Close()
}

// BuildSummary computes the rollup from per-channel analytics. The overall
// compliance is the mean per-channel good-contraction rate against the
// expected count, capped at 1.
func BuildSummary(analytics map[string]*emg.ChannelAnalytics, expectedPerMuscle int, processedAt time.Time) Summary {
	s := Summary{ProcessedAt: processedAt}
	var complianceSum float64
	var counted int
	for name, a := range analytics {
		s.Channels = append(s.Channels, name)
		if expectedPerMuscle > 0 {
			rate := float64(a.GoodContractionCount) / float64(expectedPerMuscle)
			if rate > 1 {
				rate = 1
			}
			complianceSum += rate
			counted++
		}
	}
	sort.Strings(s.Channels)
	s.TotalChannels = len(s.Channels)
	if counted > 0 {
		s.OverallCompliance = complianceSum / float64(counted)
	}
	return s
}
