// Package sessiontest provides an in-memory repository for exercising the
// session service without Postgres.
package sessiontest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/database"
	"github.com/jason-s-yu/tabletop/internal/models"
)

// Repo is an in-memory session.Repository. Values are copied on the way in
// and out so callers cannot alias stored records.
type Repo struct {
	mu        sync.Mutex
	games     map[uuid.UUID]*models.Game
	moves     map[uuid.UUID][]models.Move
	snapshots map[uuid.UUID][]models.GameState
	chat      map[uuid.UUID][]models.ChatMessage

	commitErr error
}

// NewRepo returns an empty Repo.
func NewRepo() *Repo {
	return &Repo{
		games:     make(map[uuid.UUID]*models.Game),
		moves:     make(map[uuid.UUID][]models.Move),
		snapshots: make(map[uuid.UUID][]models.GameState),
		chat:      make(map[uuid.UUID][]models.ChatMessage),
	}
}

func (r *Repo) CreateGame(_ context.Context, g *models.Game) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.games[g.ID]; ok {
		return fmt.Errorf("game %s exists", g.ID)
	}
	r.games[g.ID] = g.Clone()
	return nil
}

func (r *Repo) GetGame(_ context.Context, id uuid.UUID) (*models.Game, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.games[id]
	if !ok {
		return nil, nil
	}
	return g.Clone(), nil
}

func (r *Repo) SaveGame(_ context.Context, g *models.Game) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked(g)
}

func (r *Repo) saveLocked(g *models.Game) error {
	if _, ok := r.games[g.ID]; !ok {
		return fmt.Errorf("game %s does not exist", g.ID)
	}
	r.games[g.ID] = g.Clone()
	return nil
}

func (r *Repo) ListGames(_ context.Context, status models.GameStatus) ([]models.Game, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Game
	for _, g := range r.games {
		if g.Status == status {
			out = append(out, *g.Clone())
		}
	}
	return out, nil
}

func (r *Repo) StartGame(_ context.Context, g *models.Game, st *models.GameState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.saveLocked(g); err != nil {
		return err
	}
	r.snapshots[g.ID] = append(r.snapshots[g.ID], *st)
	return nil
}

func (r *Repo) CommitMove(_ context.Context, c models.MoveCommit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitErr != nil {
		return r.commitErr
	}
	id := c.Move.GameID
	log := r.moves[id]
	if len(log) > 0 && log[len(log)-1].MoveNumber >= c.Move.MoveNumber {
		return fmt.Errorf("commit: %w", database.ErrDuplicateMove)
	}
	if c.Game != nil {
		if err := r.saveLocked(c.Game); err != nil {
			return err
		}
	}
	r.moves[id] = append(log, c.Move)
	if c.Snapshot != nil {
		r.snapshots[id] = append(r.snapshots[id], *c.Snapshot)
	}
	return nil
}

func (r *Repo) MovesSince(_ context.Context, id uuid.UUID, after int) ([]models.Move, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Move
	for _, m := range r.moves[id] {
		if m.MoveNumber > after {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *Repo) RecentMoves(_ context.Context, id uuid.UUID, limit int) ([]models.Move, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	log := r.moves[id]
	if len(log) > limit {
		log = log[len(log)-limit:]
	}
	return append([]models.Move(nil), log...), nil
}

func (r *Repo) LatestSnapshot(_ context.Context, id uuid.UUID) (*models.GameState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snaps := r.snapshots[id]
	if len(snaps) == 0 {
		return nil, nil
	}
	sorted := append([]models.GameState(nil), snaps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	st := sorted[len(sorted)-1]
	return &st, nil
}

func (r *Repo) InsertChat(_ context.Context, msg models.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat[msg.GameID] = append(r.chat[msg.GameID], msg)
	return nil
}

func (r *Repo) RecentChat(_ context.Context, id uuid.UUID, limit int) ([]models.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.chat[id]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]models.ChatMessage(nil), msgs...), nil
}

// FailCommits makes every CommitMove return err until called with nil.
func (r *Repo) FailCommits(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commitErr = err
}

// SnapshotVersions lists the versions of every stored snapshot of a game.
func (r *Repo) SnapshotVersions(id uuid.UUID) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, s := range r.snapshots[id] {
		out = append(out, s.Version)
	}
	return out
}

// MoveNumbers lists the logged move numbers of a game in commit order.
func (r *Repo) MoveNumbers(id uuid.UUID) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, m := range r.moves[id] {
		out = append(out, m.MoveNumber)
	}
	return out
}
