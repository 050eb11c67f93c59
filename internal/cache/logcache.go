package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/akave-ai/tracectrl/internal/config"
	"github.com/akave-ai/tracectrl/internal/model"
)

// LogCache keeps recently read or written logs in Redis. Logs never change
// after they are stored, so entries only expire.
type LogCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewLogCache connects to Redis. It returns nil, nil when no address is configured.
func NewLogCache(ctx context.Context, cfg config.RedisConfig) (*LogCache, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &LogCache{rdb: rdb, ttl: time.Duration(cfg.TTL) * time.Second}, nil
}

func key(clientID int32, id uuid.UUID) string {
	return fmt.Sprintf("log:%d:%s", clientID, id)
}

// Get returns the cached log, or nil, nil on a miss.
func (c *LogCache) Get(ctx context.Context, clientID int32, id uuid.UUID) (*model.Log, error) {
	raw, err := c.rdb.Get(ctx, key(clientID, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var log model.Log
	if err := json.Unmarshal(raw, &log); err != nil {
		return nil, fmt.Errorf("decode cached log: %w", err)
	}
	log.ClientID = clientID
	return &log, nil
}

// Set stores log under its owner and id.
func (c *LogCache) Set(ctx context.Context, log *model.Log) error {
	raw, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("encode log: %w", err)
	}
	return c.rdb.Set(ctx, key(log.ClientID, log.ID), raw, c.ttl).Err()
}

// Ping checks the connection.
func (c *LogCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *LogCache) Close() error {
	return c.rdb.Close()
}
