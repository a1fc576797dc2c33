package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/models"
)

const maxChatLength = 500

// Resync is what a reconnecting client needs to catch up in one round trip.
// State is nil until the game has started.
type Resync struct {
	Game  *models.Game         `json:"game"`
	State *models.GameState    `json:"state,omitempty"`
	Chat  []models.ChatMessage `json:"chat"`
	Moves []models.Move        `json:"moves"`
}

// Resync gathers the authoritative game, state and a bounded replay of recent
// moves and chat for a seated player.
func (s *Service) Resync(ctx context.Context, gameID, userID uuid.UUID) (*Resync, error) {
	g, err := s.loadGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if g.Player(userID) == nil {
		return nil, ErrNotSeated
	}
	out := &Resync{Game: g}

	if g.StartedAt != nil {
		if out.State, err = s.stateFor(ctx, g, userID); err != nil {
			return nil, err
		}
		if out.Moves, err = s.history(ctx, g, userID, s.cfg.HistoryTail); err != nil {
			return nil, err
		}
	}
	if out.Chat, err = s.recentChat(ctx, gameID); err != nil {
		return nil, err
	}
	return out, nil
}

// Chat returns the recent chat of a game to one of its seated players.
func (s *Service) Chat(ctx context.Context, gameID, userID uuid.UUID) ([]models.ChatMessage, error) {
	g, err := s.loadGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if g.Player(userID) == nil {
		return nil, ErrNotSeated
	}
	return s.recentChat(ctx, gameID)
}

// recentChat prefers the Redis tail and falls back to the durable copy.
func (s *Service) recentChat(ctx context.Context, gameID uuid.UUID) ([]models.ChatMessage, error) {
	msgs, err := s.chat.Recent(ctx, gameID)
	if err == nil && len(msgs) > 0 {
		return msgs, nil
	}
	if err != nil {
		s.log(gameID).WithError(err).Warn("chat tail unavailable")
	}
	msgs, err = s.repo.RecentChat(ctx, gameID, s.cfg.ChatTail)
	if err != nil {
		return nil, infra("load chat", err)
	}
	return msgs, nil
}

// PostChat stores a chat line from a seated player and announces it.
func (s *Service) PostChat(ctx context.Context, gameID, userID uuid.UUID, body string) (*models.ChatMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("%w: empty message", ErrInvalidChat)
	}
	if len([]rune(body)) > maxChatLength {
		return nil, fmt.Errorf("%w: longer than %d characters", ErrInvalidChat, maxChatLength)
	}
	g, err := s.loadGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if g.Player(userID) == nil {
		return nil, ErrNotSeated
	}

	msg := models.ChatMessage{
		ID:        uuid.New(),
		GameID:    gameID,
		UserID:    userID,
		Body:      body,
		CreatedAt: s.now(),
	}
	if err := s.repo.InsertChat(ctx, msg); err != nil {
		return nil, infra("insert chat", err)
	}
	if err := s.chat.Push(ctx, msg); err != nil {
		s.log(gameID).WithError(err).Warn("failed to push chat tail")
	}
	s.notify(ctx, models.Event{Kind: models.EventChatPosted, GameID: gameID, UserID: userID, Message: msg.ID})
	return &msg, nil
}

// Retryable reports whether err is worth retrying unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrLockHeld) || errors.Is(err, ErrConflict)
}
