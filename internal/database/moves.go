package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jason-s-yu/tabletop/internal/models"
)

// ErrDuplicateMove means another writer already committed this move number.
var ErrDuplicateMove = errors.New("move number already committed")

const uniqueViolation = "23505"

// CommitMove appends the move and, when present, the snapshot and game record
// in a single transaction. Either all of it lands or none of it does.
func (r *Repository) CommitMove(ctx context.Context, c models.MoveCommit) error {
	data, err := json.Marshal(c.Move.MoveData)
	if err != nil {
		return fmt.Errorf("failed to marshal move data: %w", err)
	}
	q := `
		INSERT INTO game_moves (game_id, move_number, player_id, player_index, seat, move_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	err = pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, q, c.Move.GameID, c.Move.MoveNumber, c.Move.PlayerID,
			c.Move.PlayerIndex, c.Move.Seat, data, c.Move.CreatedAt); err != nil {
			return err
		}
		if c.Snapshot != nil {
			if err := insertSnapshotTx(ctx, tx, c.Snapshot); err != nil {
				return err
			}
		}
		if c.Game != nil {
			return saveGameTx(ctx, tx, c.Game)
		}
		return nil
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("commit move %d for %s: %w", c.Move.MoveNumber, c.Move.GameID, ErrDuplicateMove)
	}
	if err != nil {
		return fmt.Errorf("commit move %d for %s: %w", c.Move.MoveNumber, c.Move.GameID, err)
	}
	return nil
}

func insertSnapshotTx(ctx context.Context, tx pgx.Tx, st *models.GameState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	q := `
		INSERT INTO game_snapshots (game_id, version, state)
		VALUES ($1, $2, $3)
		ON CONFLICT (game_id, version) DO UPDATE SET state = EXCLUDED.state
	`
	_, err = tx.Exec(ctx, q, st.GameID, st.Version, data)
	return err
}

// LatestSnapshot returns the highest-version snapshot, or nil when none exists.
func (r *Repository) LatestSnapshot(ctx context.Context, gameID uuid.UUID) (*models.GameState, error) {
	q := `
		SELECT state FROM game_snapshots
		WHERE game_id = $1
		ORDER BY version DESC
		LIMIT 1
	`
	var data []byte
	err := r.pool.QueryRow(ctx, q, gameID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot for %s: %w", gameID, err)
	}
	var st models.GameState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode snapshot for %s: %w", gameID, err)
	}
	return &st, nil
}

// MovesSince returns every move numbered above after, oldest first.
func (r *Repository) MovesSince(ctx context.Context, gameID uuid.UUID, after int) ([]models.Move, error) {
	q := `
		SELECT game_id, move_number, player_id, player_index, COALESCE(seat, player_index), move_data, created_at
		FROM game_moves
		WHERE game_id = $1 AND move_number > $2
		ORDER BY move_number
	`
	return r.queryMoves(ctx, q, gameID, after)
}

// RecentMoves returns the last limit moves, oldest first.
func (r *Repository) RecentMoves(ctx context.Context, gameID uuid.UUID, limit int) ([]models.Move, error) {
	q := `
		SELECT * FROM (
			SELECT game_id, move_number, player_id, player_index, COALESCE(seat, player_index), move_data, created_at
			FROM game_moves
			WHERE game_id = $1
			ORDER BY move_number DESC
			LIMIT $2
		) tail
		ORDER BY move_number
	`
	return r.queryMoves(ctx, q, gameID, limit)
}

func (r *Repository) queryMoves(ctx context.Context, q string, args ...any) ([]models.Move, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query moves: %w", err)
	}
	defer rows.Close()
	var out []models.Move
	for rows.Next() {
		var (
			m    models.Move
			data []byte
		)
		if err := rows.Scan(&m.GameID, &m.MoveNumber, &m.PlayerID, &m.PlayerIndex, &m.Seat, &data, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan move: %w", err)
		}
		if err := json.Unmarshal(data, &m.MoveData); err != nil {
			return nil, fmt.Errorf("decode move %d: %w", m.MoveNumber, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
