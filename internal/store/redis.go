// Package store provides Redis-based engine snapshot persistence.
// When Redis is unavailable it falls back to an in-memory copy so the
// engine keeps trading without interruption; durability resumes once
// Redis recovers.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"breakout-trading-bot/config"
	"breakout-trading-bot/internal/engine"
	"breakout-trading-bot/internal/logging"

	"github.com/redis/go-redis/v9"
)

const (
	// snapshotKey holds the single engine snapshot record
	snapshotKey = "breakout:engine:snapshot"

	// snapshotTTL keeps stale snapshots from outliving a dead deployment.
	// The engine rewrites the key at least once a minute while running.
	snapshotTTL = 7 * 24 * time.Hour
)

// RedisSnapshotStore persists the engine snapshot record in Redis with an
// in-memory fallback when Redis is unavailable.
type RedisSnapshotStore struct {
	client         *redis.Client
	logger         *logging.Logger
	redisAvailable atomic.Bool

	mu       sync.Mutex
	fallback *engine.SnapshotRecord
}

// NewRedisSnapshotStore creates a snapshot store. A nil client means
// memory-only mode.
func NewRedisSnapshotStore(client *redis.Client, logger *logging.Logger) *RedisSnapshotStore {
	if logger == nil {
		logger = logging.Default()
	}
	s := &RedisSnapshotStore{
		client: client,
		logger: logger.WithComponent("store"),
	}

	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			s.logger.Warn("redis unavailable at startup, using in-memory fallback", "error", err)
			s.redisAvailable.Store(false)
		} else {
			s.logger.Info("redis connected")
			s.redisAvailable.Store(true)
		}
	} else {
		s.logger.Info("no redis client configured, snapshots are in-memory only")
		s.redisAvailable.Store(false)
	}

	return s
}

// NewRedisClient builds a Redis client from config, or nil when disabled
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	if !cfg.Enabled {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// Save writes the snapshot record. The in-memory fallback is always updated
// first, so a Redis outage never loses the latest state for this process.
func (s *RedisSnapshotStore) Save(ctx context.Context, record *engine.SnapshotRecord) error {
	if record == nil {
		return fmt.Errorf("cannot save nil snapshot record")
	}

	s.mu.Lock()
	s.fallback = record
	s.mu.Unlock()

	if s.client == nil {
		return nil
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot record: %w", err)
	}

	if err := s.client.Set(ctx, snapshotKey, data, snapshotTTL).Err(); err != nil {
		if s.redisAvailable.Swap(false) {
			s.logger.Warn("redis write failed, falling back to in-memory snapshot", "error", err)
		}
		// Fallback already holds the record
		return nil
	}

	if !s.redisAvailable.Swap(true) {
		s.logger.Info("redis recovered, snapshot persistence resumed")
	}
	return nil
}

// Load reads the snapshot record. Returns (nil, nil) when no snapshot exists.
func (s *RedisSnapshotStore) Load(ctx context.Context) (*engine.SnapshotRecord, error) {
	if s.client == nil {
		return s.loadFallback(), nil
	}

	data, err := s.client.Get(ctx, snapshotKey).Result()
	if err != nil {
		if err == redis.Nil {
			return s.loadFallback(), nil
		}
		s.redisAvailable.Store(false)
		s.logger.Warn("redis read failed, using in-memory snapshot", "error", err)
		return s.loadFallback(), nil
	}
	s.redisAvailable.Store(true)

	var record engine.SnapshotRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot record: %w", err)
	}

	s.mu.Lock()
	s.fallback = &record
	s.mu.Unlock()

	return &record, nil
}

func (s *RedisSnapshotStore) loadFallback() *engine.SnapshotRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallback
}
