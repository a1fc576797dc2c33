package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/database"
	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/jason-s-yu/tabletop/internal/rules"
)

// envelope wraps an engine outcome in the shared state header.
func envelope(gameID uuid.UUID, t models.GameType, version int, out rules.Outcome, at time.Time) *models.GameState {
	return &models.GameState{
		GameID:             gameID,
		GameType:           t,
		Version:            version,
		CurrentPlayerIndex: out.NextSeat,
		Phase:              out.Phase,
		Simultaneous:       out.Simultaneous,
		Pending:            out.Pending,
		Terminal:           out.Terminal,
		Winners:            out.Winners,
		LastNotes:          out.Notes,
		Data:               out.Data,
		UpdatedAt:          at,
	}
}

// SubmitMove validates and applies move for userID under the game lock. A
// rejected move changes nothing. Contention surfaces as ErrLockHeld; callers
// retry with backoff. The returned state is the mover's view.
func (s *Service) SubmitMove(ctx context.Context, gameID, userID uuid.UUID, move models.MoveData) (*models.GameState, error) {
	if move.Action == "" {
		return nil, fmt.Errorf("%w: missing action", ErrMalformedMove)
	}

	var (
		eng    rules.Engine
		seat   int
		next   *models.GameState
		events []models.Event
	)
	err := s.withLock(ctx, gameID, func() error {
		g, err := s.loadGame(ctx, gameID)
		if err != nil {
			return err
		}
		switch {
		case g.Status.IsTerminal():
			return ErrGameOver
		case g.Status != models.StatusInProgress:
			return ErrNotStarted
		}
		var ok bool
		if seat, ok = g.SeatOf(userID); !ok {
			return ErrNotSeated
		}
		index := g.Player(userID).PlayerIndex

		st, err := s.loadState(ctx, gameID)
		if err != nil {
			return err
		}
		if st.Terminal {
			return ErrGameOver
		}
		if !st.CanAct(seat) {
			return ErrNotYourTurn
		}

		if eng, err = s.engine(g.GameType); err != nil {
			return err
		}
		if err := eng.Validate(st.Data, seat, move); err != nil {
			return engineErr("validate move", err)
		}
		out, err := eng.Apply(st.Data, seat, move)
		if err != nil {
			return engineErr("apply move", err)
		}

		now := s.now()
		next = envelope(gameID, g.GameType, st.Version+1, out, now)
		commit := models.MoveCommit{Move: models.Move{
			GameID:      gameID,
			PlayerID:    userID,
			PlayerIndex: index,
			Seat:        seat,
			MoveNumber:  next.Version,
			MoveData:    move,
			CreatedAt:   now,
		}}
		if out.Terminal || next.Version%s.cfg.SnapshotEvery == 0 {
			commit.Snapshot = next
		}
		if out.Terminal {
			g.Status = models.StatusCompleted
			g.CompletedAt = &now
			g.Winners = out.Winners
			commit.Game = g
		}

		if err := s.repo.CommitMove(ctx, commit); err != nil {
			if errors.Is(err, database.ErrDuplicateMove) {
				// Someone committed past our cached copy; drop it so the
				// retry rebuilds from the log.
				if err := s.states.Invalidate(ctx, gameID); err != nil {
					s.setBypass(gameID, true)
				}
				return ErrConflict
			}
			return infra("commit move", err)
		}
		s.cachePut(ctx, next)

		s.log(gameID).WithFields(map[string]any{
			"user_id":     userID,
			"move_number": next.Version,
			"action":      move.Action,
		}).Debug("move committed")

		events = append(events,
			models.Event{
				Kind:        models.EventMoveMade,
				GameID:      gameID,
				MoveNumber:  next.Version,
				PlayerIndex: &index,
				Seat:        &seat,
				Notes:       out.Notes,
			},
			stateUpdated(next),
		)
		if out.Terminal {
			events = append(events, gameUpdated(g))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if next.Terminal {
		s.log(gameID).WithField("winners", next.Winners).Info("game completed")
	}
	s.notify(ctx, events...)
	return s.view(eng, next, seat)
}

// engineErr keeps rule rejections as they are and treats anything else from
// an engine as a corrupt payload.
func engineErr(op string, err error) error {
	if rules.IsInvalidMove(err) {
		return err
	}
	return infra(op, err)
}

// view swaps the engine payload of st for what seat may see.
func (s *Service) view(eng rules.Engine, st *models.GameState, seat int) (*models.GameState, error) {
	data, err := eng.View(st.Data, seat)
	if err != nil {
		return nil, infra("render view", err)
	}
	v := *st
	v.Data = data
	return &v, nil
}

// GetState returns the current state as userID's seat sees it. Other seats'
// hidden cards and the shuffle seed are never included.
func (s *Service) GetState(ctx context.Context, gameID, userID uuid.UUID) (*models.GameState, error) {
	g, err := s.loadGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return s.stateFor(ctx, g, userID)
}

func (s *Service) stateFor(ctx context.Context, g *models.Game, userID uuid.UUID) (*models.GameState, error) {
	if g.Player(userID) == nil {
		return nil, ErrNotSeated
	}
	seat, ok := g.SeatOf(userID)
	if !ok {
		return nil, ErrNotStarted
	}
	eng, err := s.engine(g.GameType)
	if err != nil {
		return nil, err
	}
	st, err := s.state(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	return s.view(eng, st, seat)
}

// state returns the authoritative state without taking the game lock. It
// reads the cache and falls back to the latest snapshot plus the log tail.
func (s *Service) state(ctx context.Context, gameID uuid.UUID) (*models.GameState, error) {
	if !s.bypassed(gameID) {
		st, err := s.states.Get(ctx, gameID)
		if err != nil {
			s.log(gameID).WithError(err).Warn("state cache read failed, recovering from log")
		}
		if st != nil {
			return st, nil
		}
	}

	// Only a lock holder may repopulate the cache, otherwise a slow reader
	// could overwrite a newer commit with the state it recovered.
	var st *models.GameState
	err := s.withLock(ctx, gameID, func() error {
		var err error
		if st, err = s.recover(ctx, gameID); err != nil {
			return err
		}
		s.cachePut(ctx, st)
		return nil
	})
	if errors.Is(err, ErrLockHeld) {
		return s.recover(ctx, gameID)
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// loadState is state for a caller that already holds the lock.
func (s *Service) loadState(ctx context.Context, gameID uuid.UUID) (*models.GameState, error) {
	if !s.bypassed(gameID) {
		st, err := s.states.Get(ctx, gameID)
		if err != nil {
			s.log(gameID).WithError(err).Warn("state cache read failed, recovering from log")
		}
		if st != nil {
			return st, nil
		}
	}
	st, err := s.recover(ctx, gameID)
	if err != nil {
		return nil, err
	}
	s.cachePut(ctx, st)
	return st, nil
}

// recover rebuilds the state from the newest snapshot by replaying every
// later move through the engine.
func (s *Service) recover(ctx context.Context, gameID uuid.UUID) (*models.GameState, error) {
	snap, err := s.repo.LatestSnapshot(ctx, gameID)
	if err != nil {
		return nil, infra("load snapshot", err)
	}
	if snap == nil {
		g, err := s.loadGame(ctx, gameID)
		if err != nil {
			return nil, err
		}
		if g.StartedAt == nil {
			return nil, ErrNotStarted
		}
		return nil, infra("load snapshot", fmt.Errorf("started game %s has no snapshot", gameID))
	}

	moves, err := s.repo.MovesSince(ctx, gameID, snap.Version)
	if err != nil {
		return nil, infra("load move log", err)
	}
	if len(moves) == 0 {
		return snap, nil
	}
	eng, err := s.engine(snap.GameType)
	if err != nil {
		return nil, err
	}

	st := snap
	for _, m := range moves {
		if m.MoveNumber != st.Version+1 {
			return nil, infra("replay", fmt.Errorf("move log gap: have version %d, next move %d", st.Version, m.MoveNumber))
		}
		out, err := eng.Apply(st.Data, m.Seat, m.MoveData)
		if err != nil {
			return nil, infra("replay", fmt.Errorf("move %d: %w", m.MoveNumber, err))
		}
		st = envelope(gameID, snap.GameType, m.MoveNumber, out, m.CreatedAt)
	}
	s.log(gameID).WithFields(map[string]any{
		"snapshot": snap.Version,
		"replayed": len(moves),
	}).Info("state recovered from log")
	return st, nil
}

// History returns up to limit of the most recent moves, oldest first, to a
// seated player.
func (s *Service) History(ctx context.Context, gameID, userID uuid.UUID, limit int) ([]models.Move, error) {
	g, err := s.loadGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if g.Player(userID) == nil {
		return nil, ErrNotSeated
	}
	if limit < 1 || limit > 500 {
		limit = s.cfg.HistoryTail
	}
	return s.history(ctx, g, userID, limit)
}

// history loads the log tail and blanks payloads userID may not read yet.
func (s *Service) history(ctx context.Context, g *models.Game, userID uuid.UUID, limit int) ([]models.Move, error) {
	moves, err := s.repo.RecentMoves(ctx, g.ID, limit)
	if err != nil {
		return nil, infra("load history", err)
	}
	eng, err := s.engine(g.GameType)
	if err != nil {
		return nil, err
	}
	secret, ok := eng.(rules.SecretMoves)
	if !ok || g.Status.IsTerminal() {
		return moves, nil
	}
	for i := range moves {
		if moves[i].PlayerID != userID && secret.Secret(moves[i].MoveData) {
			moves[i].MoveData.Payload = nil
		}
	}
	return moves, nil
}
