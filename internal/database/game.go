// internal/database/game.go
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/tabletop/internal/models"
)

const gameColumns = `
	id, game_type, status, creator_id, max_players, is_private, passcode_hash,
	options, created_at, started_at, completed_at, cancelled_by, cancel_reason, winners
`

// CreateGame inserts a new game together with its initial seats.
func (r *Repository) CreateGame(ctx context.Context, g *models.Game) error {
	opts, err := encodeOptions(g.Options)
	if err != nil {
		return err
	}
	q := `
		INSERT INTO games (` + gameColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	err = pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, q,
			g.ID, g.GameType, g.Status, g.CreatorID, g.MaxPlayers, g.IsPrivate, g.PasscodeHash,
			opts, g.CreatedAt, g.StartedAt, g.CompletedAt, nullUUID(g.CancelledBy), g.CancelReason, g.Winners,
		); err != nil {
			return err
		}
		return replacePlayersTx(ctx, tx, g)
	})
	if err != nil {
		return fmt.Errorf("insert game %s: %w", g.ID, err)
	}
	return nil
}

// SaveGame writes the mutable game fields and the full seat list.
func (r *Repository) SaveGame(ctx context.Context, g *models.Game) error {
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return saveGameTx(ctx, tx, g)
	})
	if err != nil {
		return fmt.Errorf("save game %s: %w", g.ID, err)
	}
	return nil
}

// StartGame records the IN_PROGRESS transition and the version-0 snapshot in
// one transaction, so recovery always has a base state to replay from.
func (r *Repository) StartGame(ctx context.Context, g *models.Game, initial *models.GameState) error {
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if err := saveGameTx(ctx, tx, g); err != nil {
			return err
		}
		return insertSnapshotTx(ctx, tx, initial)
	})
	if err != nil {
		return fmt.Errorf("start game %s: %w", g.ID, err)
	}
	return nil
}

func saveGameTx(ctx context.Context, tx pgx.Tx, g *models.Game) error {
	q := `
		UPDATE games
		SET status = $2, started_at = $3, completed_at = $4,
		    cancelled_by = $5, cancel_reason = $6, winners = $7
		WHERE id = $1
	`
	tag, err := tx.Exec(ctx, q, g.ID, g.Status, g.StartedAt, g.CompletedAt,
		nullUUID(g.CancelledBy), g.CancelReason, g.Winners)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("game %s does not exist", g.ID)
	}
	return replacePlayersTx(ctx, tx, g)
}

func replacePlayersTx(ctx context.Context, tx pgx.Tx, g *models.Game) error {
	if _, err := tx.Exec(ctx, `DELETE FROM game_players WHERE game_id = $1`, g.ID); err != nil {
		return err
	}
	q := `
		INSERT INTO game_players (game_id, user_id, player_index, seat, is_ready, is_connected, joined_at, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, p := range g.Players {
		if _, err := tx.Exec(ctx, q, g.ID, p.UserID, p.PlayerIndex, p.Seat, p.IsReady, p.IsConnected, p.JoinedAt, p.LastSeen); err != nil {
			return err
		}
	}
	return nil
}

// GetGame loads a game and its seats. A missing game returns nil, nil.
func (r *Repository) GetGame(ctx context.Context, gameID uuid.UUID) (*models.Game, error) {
	q := `SELECT ` + gameColumns + ` FROM games WHERE id = $1`
	g, err := scanGame(r.pool.QueryRow(ctx, q, gameID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get game %s: %w", gameID, err)
	}
	if g.Players, err = r.players(ctx, gameID); err != nil {
		return nil, err
	}
	return g, nil
}

// ListGames returns every game currently in status.
func (r *Repository) ListGames(ctx context.Context, status models.GameStatus) ([]models.Game, error) {
	q := `SELECT ` + gameColumns + ` FROM games WHERE status = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, q, status)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	var games []models.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan game: %w", err)
		}
		games = append(games, *g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	for i := range games {
		if games[i].Players, err = r.players(ctx, games[i].ID); err != nil {
			return nil, err
		}
	}
	return games, nil
}

func (r *Repository) players(ctx context.Context, gameID uuid.UUID) ([]models.GamePlayer, error) {
	q := `
		SELECT user_id, player_index, seat, is_ready, is_connected, joined_at, last_seen
		FROM game_players
		WHERE game_id = $1
		ORDER BY player_index
	`
	rows, err := r.pool.Query(ctx, q, gameID)
	if err != nil {
		return nil, fmt.Errorf("list players for %s: %w", gameID, err)
	}
	defer rows.Close()
	var out []models.GamePlayer
	for rows.Next() {
		var p models.GamePlayer
		if err := rows.Scan(&p.UserID, &p.PlayerIndex, &p.Seat, &p.IsReady, &p.IsConnected, &p.JoinedAt, &p.LastSeen); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanGame(row pgx.Row) (*models.Game, error) {
	var (
		g           models.Game
		opts        []byte
		cancelledBy *uuid.UUID
		startedAt   *time.Time
		completedAt *time.Time
	)
	err := row.Scan(
		&g.ID, &g.GameType, &g.Status, &g.CreatorID, &g.MaxPlayers, &g.IsPrivate, &g.PasscodeHash,
		&opts, &g.CreatedAt, &startedAt, &completedAt, &cancelledBy, &g.CancelReason, &g.Winners,
	)
	if err != nil {
		return nil, err
	}
	g.StartedAt, g.CompletedAt = startedAt, completedAt
	if cancelledBy != nil {
		g.CancelledBy = *cancelledBy
	}
	if len(opts) > 0 {
		if err := json.Unmarshal(opts, &g.Options); err != nil {
			return nil, fmt.Errorf("decode options: %w", err)
		}
	}
	return &g, nil
}

func encodeOptions(opts map[string]any) ([]byte, error) {
	if len(opts) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal game options: %w", err)
	}
	return b, nil
}

func nullUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}
