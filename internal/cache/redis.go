// internal/cache/redis.go
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ConnectRedis opens a client for addr/db and pings it once.
func ConnectRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

const keyPrefix = "game:"

func stateKey(gameID uuid.UUID) string { return keyPrefix + gameID.String() + ":state" }
func lockKey(gameID uuid.UUID) string { return keyPrefix + gameID.String() + ":lock" }
func chatKey(gameID uuid.UUID) string { return keyPrefix + gameID.String() + ":chat" }
func eventsKey(gameID uuid.UUID) string { return keyPrefix + gameID.String() + ":events" }

const eventsPattern = keyPrefix + "*:events"

// gameIDFromChannel extracts the id from "game:{id}:events".
func gameIDFromChannel(channel string) (uuid.UUID, error) {
	rest := strings.TrimPrefix(channel, keyPrefix)
	rest = strings.TrimSuffix(rest, ":events")
	return uuid.Parse(rest)
}
