package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/redis/go-redis/v9"
)

// ChatTail keeps the most recent chat lines of each game for reconnecting
// clients. The durable copy lives in the repository.
type ChatTail struct {
	rdb  *redis.Client
	size int
	ttl  time.Duration
}

func NewChatTail(rdb *redis.Client, size int, ttl time.Duration) *ChatTail {
	return &ChatTail{rdb: rdb, size: size, ttl: ttl}
}

// Push appends msg and trims the list to the configured size.
func (c *ChatTail) Push(ctx context.Context, msg models.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal chat message: %w", err)
	}
	key := chatKey(msg.GameID)
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, int64(-c.size), -1)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to push chat for %s: %w", msg.GameID, err)
	}
	return nil
}

// Recent returns the cached tail, oldest first.
func (c *ChatTail) Recent(ctx context.Context, gameID uuid.UUID) ([]models.ChatMessage, error) {
	raw, err := c.rdb.LRange(ctx, chatKey(gameID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read chat for %s: %w", gameID, err)
	}
	out := make([]models.ChatMessage, 0, len(raw))
	for _, r := range raw {
		var m models.ChatMessage
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Drop deletes the tail once a game is closed.
func (c *ChatTail) Drop(ctx context.Context, gameID uuid.UUID) error {
	return c.rdb.Del(ctx, chatKey(gameID)).Err()
}
