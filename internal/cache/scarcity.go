// Package cache holds Redis-backed display caches. Nothing here is
// authoritative: every cached view can be rebuilt from PostgreSQL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"collectible-market/internal/config"
	"collectible-market/internal/model"
)

const scarcityKeyPrefix = "scarcity:"

// ScarcityCache caches per-collection issuance views.
// A nil *ScarcityCache is a valid, always-missing cache.
type ScarcityCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info().Str("addr", cfg.Addr).Msg("Redis connected")
	return client, nil
}

// NewScarcityCache wraps a Redis client.
func NewScarcityCache(client *redis.Client, ttl time.Duration) *ScarcityCache {
	return &ScarcityCache{client: client, ttl: ttl}
}

func scarcityKey(collectionID string) string {
	return scarcityKeyPrefix + collectionID
}

// Get returns the cached view, or false on a miss or any Redis failure.
func (c *ScarcityCache) Get(ctx context.Context, collectionID string) ([]model.ScarcityView, bool) {
	if c == nil {
		return nil, false
	}

	data, err := c.client.Get(ctx, scarcityKey(collectionID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("collection_id", collectionID).Msg("Scarcity cache read failed")
		}
		return nil, false
	}

	var views []model.ScarcityView
	if err := json.Unmarshal(data, &views); err != nil {
		log.Warn().Err(err).Str("collection_id", collectionID).Msg("Discarding corrupt scarcity cache entry")
		return nil, false
	}
	return views, true
}

// Set stores a view for the configured TTL. Failures are logged only.
func (c *ScarcityCache) Set(ctx context.Context, collectionID string, views []model.ScarcityView) {
	if c == nil {
		return
	}

	data, err := json.Marshal(views)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to encode scarcity view")
		return
	}
	if err := c.client.Set(ctx, scarcityKey(collectionID), data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("collection_id", collectionID).Msg("Scarcity cache write failed")
	}
}

// Invalidate drops the cached view of a collection.
func (c *ScarcityCache) Invalidate(ctx context.Context, collectionID string) {
	if c == nil {
		return
	}
	if err := c.client.Del(ctx, scarcityKey(collectionID)).Err(); err != nil {
		log.Warn().Err(err).Str("collection_id", collectionID).Msg("Scarcity cache invalidation failed")
	}
}
