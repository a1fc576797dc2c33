// Package session runs the lifecycle of every game and applies moves to its
// authoritative state.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/cache"
	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/jason-s-yu/tabletop/internal/rules"
	"github.com/sirupsen/logrus"
)

// Repository is the durable side of a game: its record, the append-only move
// log, snapshots and chat. Lookups return nil, nil when nothing exists.
type Repository interface {
	CreateGame(ctx context.Context, g *models.Game) error
	GetGame(ctx context.Context, gameID uuid.UUID) (*models.Game, error)
	SaveGame(ctx context.Context, g *models.Game) error
	ListGames(ctx context.Context, status models.GameStatus) ([]models.Game, error)
	StartGame(ctx context.Context, g *models.Game, initial *models.GameState) error

	CommitMove(ctx context.Context, c models.MoveCommit) error
	MovesSince(ctx context.Context, gameID uuid.UUID, after int) ([]models.Move, error)
	RecentMoves(ctx context.Context, gameID uuid.UUID, limit int) ([]models.Move, error)
	LatestSnapshot(ctx context.Context, gameID uuid.UUID) (*models.GameState, error)

	InsertChat(ctx context.Context, msg models.ChatMessage) error
	RecentChat(ctx context.Context, gameID uuid.UUID, limit int) ([]models.ChatMessage, error)
}

// Notifier receives events once the change they describe is committed.
// Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, ev models.Event)
}

// Deps are the collaborators a Service is built from. Notifier may be nil.
type Deps struct {
	Repo     Repository
	States   *cache.StateStore
	Locks    *cache.Locker
	Chat     *cache.ChatTail
	Engines  *rules.Registry
	Notifier Notifier
	Logger   *logrus.Logger
}

// Config holds the tunables of a Service.
type Config struct {
	// SnapshotEvery is how many committed moves pass between snapshots.
	SnapshotEvery int
	// HistoryTail is how many recent moves a resync replays.
	HistoryTail int
	// ChatTail is how many chat lines a resync replays.
	ChatTail int
}

// Service is the lifecycle controller and move processor.
type Service struct {
	repo     Repository
	states   *cache.StateStore
	locks    *cache.Locker
	chat     *cache.ChatTail
	engines  *rules.Registry
	notifier Notifier
	logger   *logrus.Logger
	cfg      Config

	now  func() time.Time
	seed func() uint64

	// bypass marks games whose cached state could not be written or dropped
	// after a commit. Reads for them go straight to the log until a later
	// write to the cache succeeds.
	bypassMu sync.Mutex
	bypass   map[uuid.UUID]bool
}

func NewService(d Deps, cfg Config) *Service {
	if cfg.SnapshotEvery < 1 {
		cfg.SnapshotEvery = 5
	}
	if cfg.HistoryTail < 1 {
		cfg.HistoryTail = 20
	}
	if cfg.ChatTail < 1 {
		cfg.ChatTail = 50
	}
	logger := d.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		repo:     d.Repo,
		states:   d.States,
		locks:    d.Locks,
		chat:     d.Chat,
		engines:  d.Engines,
		notifier: d.Notifier,
		logger:   logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		seed:     rand.Uint64,
		bypass:   make(map[uuid.UUID]bool),
	}
}

func (s *Service) log(gameID uuid.UUID) *logrus.Entry {
	return s.logger.WithField("game_id", gameID)
}

// withLock runs fn while holding the game's lock. The lock is released on
// every path; a lock that lapsed before release is only logged.
func (s *Service) withLock(ctx context.Context, gameID uuid.UUID, fn func() error) error {
	lk, err := s.locks.Acquire(ctx, gameID)
	if errors.Is(err, cache.ErrLockHeld) {
		return ErrLockHeld
	}
	if err != nil {
		return infra("acquire lock", err)
	}
	defer func() {
		owned, err := lk.Release(context.WithoutCancel(ctx))
		switch {
		case err != nil:
			s.log(gameID).WithError(err).Warn("failed to release game lock")
		case !owned:
			s.log(gameID).Warn("game lock expired before release")
		}
	}()
	return fn()
}

func (s *Service) loadGame(ctx context.Context, gameID uuid.UUID) (*models.Game, error) {
	g, err := s.repo.GetGame(ctx, gameID)
	if err != nil {
		return nil, infra("load game", err)
	}
	if g == nil {
		return nil, ErrGameNotFound
	}
	return g, nil
}

func (s *Service) engine(t models.GameType) (rules.Engine, error) {
	eng, err := s.engines.Get(t)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGameType, t)
	}
	return eng, nil
}

// GetGame returns the lifecycle record of a game.
func (s *Service) GetGame(ctx context.Context, gameID uuid.UUID) (*models.Game, error) {
	return s.loadGame(ctx, gameID)
}

func (s *Service) bypassed(gameID uuid.UUID) bool {
	s.bypassMu.Lock()
	defer s.bypassMu.Unlock()
	return s.bypass[gameID]
}

func (s *Service) setBypass(gameID uuid.UUID, on bool) {
	s.bypassMu.Lock()
	defer s.bypassMu.Unlock()
	if on {
		s.bypass[gameID] = true
	} else {
		delete(s.bypass, gameID)
	}
}

// cachePut writes st after its durable commit. The commit already stands, so
// a failure here only drops the stale key and routes reads to the log.
func (s *Service) cachePut(ctx context.Context, st *models.GameState) {
	err := s.states.Put(ctx, st)
	if err == nil {
		s.setBypass(st.GameID, false)
		return
	}
	entry := s.log(st.GameID).WithError(err).WithField("version", st.Version)
	entry.Warn("failed to cache committed state")
	if err := s.states.Invalidate(ctx, st.GameID); err != nil {
		entry.WithError(err).Error("failed to invalidate cached state, bypassing cache")
	}
	s.setBypass(st.GameID, true)
}

func (s *Service) notify(ctx context.Context, events ...models.Event) {
	if s.notifier == nil {
		return
	}
	for _, ev := range events {
		s.notifier.Notify(ctx, ev)
	}
}

func gameUpdated(g *models.Game) models.Event {
	return models.Event{Kind: models.EventGameUpdated, GameID: g.ID, Status: g.Status}
}

func stateUpdated(st *models.GameState) models.Event {
	return models.Event{Kind: models.EventStateUpdated, GameID: st.GameID, Version: st.Version}
}
