package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/redis/go-redis/v9"
)

// StateStore keeps the live state blob of each game under a TTL. It is a cache
// in front of the durable log; a miss is never an error.
type StateStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStateStore(rdb *redis.Client, ttl time.Duration) *StateStore {
	return &StateStore{rdb: rdb, ttl: ttl}
}

// Get returns the cached state, or nil when the key is absent or expired.
func (s *StateStore) Get(ctx context.Context, gameID uuid.UUID) (*models.GameState, error) {
	raw, err := s.rdb.Get(ctx, stateKey(gameID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get state %s: %w", gameID, err)
	}
	var st models.GameState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode cached state %s: %w", gameID, err)
	}
	return &st, nil
}

// Put overwrites the cached state and refreshes its TTL.
func (s *StateStore) Put(ctx context.Context, st *models.GameState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state %s: %w", st.GameID, err)
	}
	if err := s.rdb.Set(ctx, stateKey(st.GameID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("put state %s: %w", st.GameID, err)
	}
	return nil
}

// Invalidate drops the cached state so the next reader rebuilds it.
func (s *StateStore) Invalidate(ctx context.Context, gameID uuid.UUID) error {
	if err := s.rdb.Del(ctx, stateKey(gameID)).Err(); err != nil {
		return fmt.Errorf("invalidate state %s: %w", gameID, err)
	}
	return nil
}
