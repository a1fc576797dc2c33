package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/models"
)

// InsertChat stores a chat line.
func (r *Repository) InsertChat(ctx context.Context, msg models.ChatMessage) error {
	q := `
		INSERT INTO chat_messages (id, game_id, user_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.pool.Exec(ctx, q, msg.ID, msg.GameID, msg.UserID, msg.Body, msg.CreatedAt); err != nil {
		return fmt.Errorf("insert chat for %s: %w", msg.GameID, err)
	}
	return nil
}

// RecentChat returns the last limit chat lines of a game, oldest first.
func (r *Repository) RecentChat(ctx context.Context, gameID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	q := `
		SELECT id, game_id, user_id, body, created_at FROM (
			SELECT id, game_id, user_id, body, created_at
			FROM chat_messages
			WHERE game_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) tail
		ORDER BY created_at
	`
	rows, err := r.pool.Query(ctx, q, gameID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent chat for %s: %w", gameID, err)
	}
	defer rows.Close()
	var out []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.GameID, &m.UserID, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
