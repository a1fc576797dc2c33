package cache

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisFanout relays game events between server instances over Pub/Sub.
type RedisFanout struct {
	rdb    *redis.Client
	logger *logrus.Logger
}

func NewRedisFanout(rdb *redis.Client, logger *logrus.Logger) *RedisFanout {
	return &RedisFanout{rdb: rdb, logger: logger}
}

// Publish sends payload on the game's event channel.
func (f *RedisFanout) Publish(ctx context.Context, gameID uuid.UUID, payload []byte) error {
	if err := f.rdb.Publish(ctx, eventsKey(gameID), payload).Err(); err != nil {
		return fmt.Errorf("publish event for %s: %w", gameID, err)
	}
	return nil
}

// Run subscribes to every game's event channel and hands each message to
// deliver until ctx is cancelled.
func (f *RedisFanout) Run(ctx context.Context, deliver func(gameID uuid.UUID, payload []byte)) error {
	ps := f.rdb.PSubscribe(ctx, eventsPattern)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", eventsPattern, err)
	}
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			gameID, err := gameIDFromChannel(msg.Channel)
			if err != nil {
				f.logger.WithField("channel", msg.Channel).Warn("ignoring event on malformed channel")
				continue
			}
			deliver(gameID, []byte(msg.Payload))
		}
	}
}
