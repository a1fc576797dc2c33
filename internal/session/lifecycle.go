package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/auth"
	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/jason-s-yu/tabletop/internal/rules"
)

// CreateParams describes a new game.
type CreateParams struct {
	CreatorID  uuid.UUID
	GameType   models.GameType
	MaxPlayers int
	IsPrivate  bool
	Passcode   string
	Options    map[string]any
}

// Create opens a WAITING game with the creator in seat 0, already ready.
// MaxPlayers defaults to the most seats the game allows.
func (s *Service) Create(ctx context.Context, p CreateParams) (*models.Game, error) {
	eng, err := s.engine(p.GameType)
	if err != nil {
		return nil, err
	}
	lo, hi := eng.Seats()
	if p.MaxPlayers == 0 {
		p.MaxPlayers = hi
	}
	if p.MaxPlayers < lo || p.MaxPlayers > hi {
		return nil, fmt.Errorf("%w: %s seats %d-%d players, got %d", ErrInvalidOptions, p.GameType, lo, hi, p.MaxPlayers)
	}
	quorum, err := rules.Options(p.Options).Int("quorum", lo, 1)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if quorum > p.MaxPlayers {
		return nil, fmt.Errorf("%w: quorum %d exceeds %d seats", ErrInvalidOptions, quorum, p.MaxPlayers)
	}

	now := s.now()
	g := &models.Game{
		ID:         uuid.New(),
		GameType:   p.GameType,
		Status:     models.StatusWaiting,
		CreatorID:  p.CreatorID,
		MaxPlayers: p.MaxPlayers,
		IsPrivate:  p.IsPrivate,
		Options:    p.Options,
		CreatedAt:  now,
		Players: []models.GamePlayer{{
			UserID:      p.CreatorID,
			PlayerIndex: 0,
			IsReady:     true,
			JoinedAt:    now,
			LastSeen:    now,
		}},
	}
	if p.IsPrivate {
		if p.Passcode == "" {
			return nil, fmt.Errorf("%w: private games need a passcode", ErrInvalidOptions)
		}
		if g.PasscodeHash, err = auth.HashPasscode(p.Passcode, auth.DefaultHashParams); err != nil {
			return nil, infra("hash passcode", err)
		}
	}
	settleLobby(g, quorum)

	if err := s.repo.CreateGame(ctx, g); err != nil {
		return nil, infra("create game", err)
	}
	s.log(g.ID).WithFields(map[string]any{
		"game_type": g.GameType,
		"user_id":   g.CreatorID,
	}).Info("game created")
	return g, nil
}

// Join seats userID at the lowest free index. Only WAITING games accept
// players; a failed join leaves the game untouched.
func (s *Service) Join(ctx context.Context, gameID, userID uuid.UUID, passcode string) (*models.GamePlayer, error) {
	var (
		seat *models.GamePlayer
		g    *models.Game
	)
	err := s.withLock(ctx, gameID, func() error {
		var err error
		if g, err = s.loadGame(ctx, gameID); err != nil {
			return err
		}
		if g.Player(userID) != nil {
			return ErrAlreadyJoined
		}
		if g.Status != models.StatusWaiting {
			return ErrGameNotJoinable
		}
		if len(g.Players) >= g.MaxPlayers {
			return ErrGameFull
		}
		if g.IsPrivate {
			ok, err := auth.VerifyPasscode(passcode, g.PasscodeHash)
			if err != nil {
				return infra("verify passcode", err)
			}
			if !ok {
				return ErrBadPasscode
			}
		}
		now := s.now()
		g.Players = append(g.Players, models.GamePlayer{
			UserID:      userID,
			PlayerIndex: g.NextFreeIndex(),
			JoinedAt:    now,
			LastSeen:    now,
		})
		if err := s.repo.SaveGame(ctx, g); err != nil {
			return infra("save game", err)
		}
		seat = g.Player(userID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log(gameID).WithFields(map[string]any{
		"user_id":      userID,
		"player_index": seat.PlayerIndex,
	}).Info("player joined")
	s.notify(ctx, gameUpdated(g))
	return seat, nil
}

// Leave unseats userID before the game starts. The creator leaving cancels
// the game.
func (s *Service) Leave(ctx context.Context, gameID, userID uuid.UUID) error {
	var (
		g       *models.Game
		started *models.GameState
	)
	err := s.withLock(ctx, gameID, func() error {
		var err error
		if g, err = s.loadGame(ctx, gameID); err != nil {
			return err
		}
		if g.Player(userID) == nil {
			return ErrNotSeated
		}
		if !inLobby(g) {
			return ErrLobbyClosed
		}
		if userID == g.CreatorID {
			cancelGame(g, userID, "creator left", s.now())
			if err := s.repo.SaveGame(ctx, g); err != nil {
				return infra("save game", err)
			}
			return nil
		}
		kept := g.Players[:0]
		for _, p := range g.Players {
			if p.UserID != userID {
				kept = append(kept, p)
			}
		}
		g.Players = kept
		started, err = s.advanceLobby(ctx, g)
		return err
	})
	if err != nil {
		return err
	}
	s.log(gameID).WithField("user_id", userID).Info("player left")
	s.notifyLobby(ctx, g, started)
	return nil
}

// Cancel closes a game that has not started. Only its creator may do so.
func (s *Service) Cancel(ctx context.Context, gameID, userID uuid.UUID, reason string) error {
	var g *models.Game
	err := s.withLock(ctx, gameID, func() error {
		var err error
		if g, err = s.loadGame(ctx, gameID); err != nil {
			return err
		}
		if g.CreatorID != userID {
			return ErrNotCreator
		}
		if !inLobby(g) {
			return ErrNotCancellable
		}
		cancelGame(g, userID, reason, s.now())
		if err := s.repo.SaveGame(ctx, g); err != nil {
			return infra("save game", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log(gameID).WithFields(map[string]any{"user_id": userID, "reason": reason}).Info("game cancelled")
	s.notifyLobby(ctx, g, nil)
	return nil
}

func cancelGame(g *models.Game, by uuid.UUID, reason string, now time.Time) {
	g.Status = models.StatusCancelled
	g.CancelledBy = by
	g.CancelReason = reason
	g.CompletedAt = &now
}

// SetReady flips userID's ready flag. Reaching quorum moves the game to READY;
// once every seat is ready and the table is large enough the game starts.
func (s *Service) SetReady(ctx context.Context, gameID, userID uuid.UUID, ready bool) (*models.Game, error) {
	var (
		g       *models.Game
		started *models.GameState
	)
	err := s.withLock(ctx, gameID, func() error {
		var err error
		if g, err = s.loadGame(ctx, gameID); err != nil {
			return err
		}
		p := g.Player(userID)
		if p == nil {
			return ErrNotSeated
		}
		if !inLobby(g) {
			return ErrLobbyClosed
		}
		p.IsReady = ready
		started, err = s.advanceLobby(ctx, g)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.notifyLobby(ctx, g, started)
	return g, nil
}

func inLobby(g *models.Game) bool {
	return g.Status == models.StatusWaiting || g.Status == models.StatusReady
}

func quorumOf(g *models.Game, minSeats int) int {
	q, err := rules.Options(g.Options).Int("quorum", minSeats, 1)
	if err != nil {
		return minSeats
	}
	return q
}

// settleLobby sets WAITING or READY from the ready count.
func settleLobby(g *models.Game, quorum int) {
	if g.ReadyCount() >= quorum {
		g.Status = models.StatusReady
	} else {
		g.Status = models.StatusWaiting
	}
}

// advanceLobby re-evaluates the lobby after a seat changed and persists the
// result, starting the game when it is ready to be dealt.
func (s *Service) advanceLobby(ctx context.Context, g *models.Game) (*models.GameState, error) {
	eng, err := s.engine(g.GameType)
	if err != nil {
		return nil, err
	}
	lo, hi := eng.Seats()
	settleLobby(g, quorumOf(g, lo))

	if g.Status != models.StatusReady || !startable(g, lo, hi) {
		if err := s.repo.SaveGame(ctx, g); err != nil {
			return nil, infra("save game", err)
		}
		return nil, nil
	}
	return s.start(ctx, g, eng)
}

// startable reports whether every seat is ready and the table is within the
// game's seat range. Gaps in PlayerIndex do not matter; start closes them.
func startable(g *models.Game, lo, hi int) bool {
	n := len(g.Players)
	return n >= lo && n <= hi && g.ReadyCount() == n
}

// start deals the opening state and records it as the version-0 snapshot in
// the same transaction that flips the game to IN_PROGRESS. Engine seats are
// fixed here, in PlayerIndex order.
func (s *Service) start(ctx context.Context, g *models.Game, eng rules.Engine) (*models.GameState, error) {
	out, err := eng.Initialize(rules.Setup{
		Seats:   len(g.Players),
		Options: g.Options,
		Seed:    s.seed(),
	})
	if rules.IsInvalidMove(err) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if err != nil {
		return nil, infra("initialize game", err)
	}

	now := s.now()
	g.AssignSeats()
	g.Status = models.StatusInProgress
	g.StartedAt = &now
	st := envelope(g.ID, g.GameType, 0, out, now)
	if err := s.repo.StartGame(ctx, g, st); err != nil {
		return nil, infra("start game", err)
	}
	s.cachePut(ctx, st)
	s.log(g.ID).WithFields(map[string]any{
		"game_type": g.GameType,
		"players":   len(g.Players),
	}).Info("game started")
	return st, nil
}

func (s *Service) notifyLobby(ctx context.Context, g *models.Game, started *models.GameState) {
	if g.Status == models.StatusCancelled {
		s.notify(ctx, models.Event{
			Kind:   models.EventCancelled,
			GameID: g.ID,
			UserID: g.CancelledBy,
			Reason: g.CancelReason,
			Status: g.Status,
		})
		return
	}
	events := []models.Event{gameUpdated(g)}
	if started != nil {
		events = append(events, stateUpdated(started))
	}
	s.notify(ctx, events...)
}

// SetConnected records a player's connection state. The disconnect time feeds
// the abandonment watchdog.
func (s *Service) SetConnected(ctx context.Context, gameID, userID uuid.UUID, connected bool) error {
	var (
		g       *models.Game
		changed bool
	)
	err := s.withLock(ctx, gameID, func() error {
		var err error
		if g, err = s.loadGame(ctx, gameID); err != nil {
			return err
		}
		p := g.Player(userID)
		if p == nil {
			return ErrNotSeated
		}
		if g.Status.IsTerminal() || p.IsConnected == connected {
			return nil
		}
		p.IsConnected = connected
		p.LastSeen = s.now()
		changed = true
		if err := s.repo.SaveGame(ctx, g); err != nil {
			return infra("save game", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if changed {
		s.notify(ctx, gameUpdated(g))
	}
	return nil
}

// Abandon closes an IN_PROGRESS game whose players have all disconnected.
func (s *Service) Abandon(ctx context.Context, gameID uuid.UUID) error {
	var g *models.Game
	err := s.withLock(ctx, gameID, func() error {
		var err error
		if g, err = s.loadGame(ctx, gameID); err != nil {
			return err
		}
		if g.Status != models.StatusInProgress || g.ConnectedCount() > 0 {
			return ErrNotAbandonable
		}
		now := s.now()
		g.Status = models.StatusAbandoned
		g.CompletedAt = &now
		if err := s.repo.SaveGame(ctx, g); err != nil {
			return infra("save game", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log(gameID).Info("game abandoned")
	s.notify(ctx, gameUpdated(g))
	return nil
}

// Idle lists IN_PROGRESS games where every player has been disconnected for
// at least grace.
func (s *Service) Idle(ctx context.Context, grace time.Duration) ([]uuid.UUID, error) {
	games, err := s.repo.ListGames(ctx, models.StatusInProgress)
	if err != nil {
		return nil, infra("list games", err)
	}
	cutoff := s.now().Add(-grace)
	var out []uuid.UUID
	for _, g := range games {
		if g.ConnectedCount() > 0 {
			continue
		}
		idle := true
		for _, p := range g.Players {
			if p.LastSeen.After(cutoff) {
				idle = false
				break
			}
		}
		if !idle {
			continue
		}
		// Players driving the game over REST never hold a connection.
		if st, err := s.state(ctx, g.ID); err == nil && st.UpdatedAt.After(cutoff) {
			continue
		}
		out = append(out, g.ID)
	}
	return out, nil
}
