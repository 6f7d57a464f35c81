// Package cache wraps the Redis client used for cross-instance
// distribution: round events go out on a pub/sub channel and the
// current-round snapshot is cached so observers never need shared
// memory with the clock's process. Balances never live here; they
// belong to the ledger's conditional updates in Postgres.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"crashx/internal/config"
	"crashx/internal/game"
	"crashx/internal/logger"
	"crashx/internal/store"
)

const (
	eventsChannel   = "crash:events"
	currentRoundKey = "crash:round:current"
	snapshotTTL     = time.Hour
)

type Service interface {
	GetClient() *redis.Client
	Publish(ctx context.Context, e game.Event)
	SetCurrentRound(ctx context.Context, r store.Round)
	CurrentRound(ctx context.Context) (*store.Round, bool)
	Health() map[string]string
	Close() error
}

type service struct {
	client *redis.Client
}

// New connects to Redis. Returns nil if Redis is unreachable; the game
// still runs, just without cross-instance distribution.
func New(cfg config.RedisConfig) Service {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		logger.Log.Warnw("redis unavailable, running without distribution cache", "error", err)
		return nil
	}

	logger.Log.Infow("redis connected", "address", cfg.Address)
	return &service{client: client}
}

func (s *service) GetClient() *redis.Client {
	return s.client
}

func (s *service) Publish(ctx context.Context, e game.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		logger.Log.Errorw("event marshal failed", "type", e.Type, "error", err)
		return
	}
	if err := s.client.Publish(ctx, eventsChannel, payload).Err(); err != nil {
		logger.Log.Warnw("event publish failed", "type", e.Type, "error", err)
	}
}

func (s *service) SetCurrentRound(ctx context.Context, r store.Round) {
	payload, err := json.Marshal(r)
	if err != nil {
		logger.Log.Errorw("round marshal failed", "round_id", r.ID, "error", err)
		return
	}
	if err := s.client.Set(ctx, currentRoundKey, payload, snapshotTTL).Err(); err != nil {
		logger.Log.Warnw("round snapshot cache failed", "round_id", r.ID, "error", err)
	}
}

func (s *service) CurrentRound(ctx context.Context) (*store.Round, bool) {
	payload, err := s.client.Get(ctx, currentRoundKey).Bytes()
	if err != nil {
		return nil, false
	}
	var r store.Round
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, false
	}
	return &r, true
}

func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	if _, err := s.client.Ping(ctx).Result(); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("redis down: %v", err)
		return stats
	}

	stats["status"] = "up"
	poolStats := s.client.PoolStats()
	stats["hits"] = strconv.FormatUint(uint64(poolStats.Hits), 10)
	stats["misses"] = strconv.FormatUint(uint64(poolStats.Misses), 10)
	stats["timeouts"] = strconv.FormatUint(uint64(poolStats.Timeouts), 10)
	stats["total_conns"] = strconv.FormatUint(uint64(poolStats.TotalConns), 10)
	stats["idle_conns"] = strconv.FormatUint(uint64(poolStats.IdleConns), 10)

	return stats
}

func (s *service) Close() error {
	logger.Log.Info("disconnecting from redis")
	return s.client.Close()
}
