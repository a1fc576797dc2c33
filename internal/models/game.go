// internal/models/game.go
package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// GameType identifies which rule engine drives a game.
type GameType string

const (
	GameTypeWar           GameType = "war"
	GameTypeOhHell        GameType = "oh_hell"
	GameTypeSwoop         GameType = "swoop"
	GameTypeTelestrations GameType = "telestrations"
	GameTypeWarInHeaven   GameType = "war_in_heaven"
)

// GameStatus is the lifecycle state of a game session.
type GameStatus string

const (
	StatusWaiting    GameStatus = "waiting"
	StatusReady      GameStatus = "ready"
	StatusInProgress GameStatus = "in_progress"
	StatusCompleted  GameStatus = "completed"
	StatusAbandoned  GameStatus = "abandoned"
	StatusCancelled  GameStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible from s.
func (s GameStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusAbandoned || s == StatusCancelled
}

// Game is the lifecycle record of a single session. It is owned by the session
// service and persisted by the durable repository on every transition.
type Game struct {
	ID         uuid.UUID      `json:"id"`
	GameType   GameType       `json:"gameType"`
	Status     GameStatus     `json:"status"`
	CreatorID  uuid.UUID      `json:"creatorId"`
	MaxPlayers int            `json:"maxPlayers"`
	IsPrivate  bool           `json:"isPrivate"`
	Options    map[string]any `json:"gameOptions,omitempty"`
	Players    []GamePlayer   `json:"players"`

	// PasscodeHash gates joins to private games. Never serialized to clients.
	PasscodeHash string `json:"-"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	CancelledBy  uuid.UUID `json:"cancelledBy,omitempty"`
	CancelReason string    `json:"cancelReason,omitempty"`
	Winners      []int     `json:"winners,omitempty"`
}

// Player returns the seat held by userID, or nil.
func (g *Game) Player(userID uuid.UUID) *GamePlayer {
	for i := range g.Players {
		if g.Players[i].UserID == userID {
			return &g.Players[i]
		}
	}
	return nil
}

// PlayerAt returns the seat with the given player index, or nil.
func (g *Game) PlayerAt(index int) *GamePlayer {
	for i := range g.Players {
		if g.Players[i].PlayerIndex == index {
			return &g.Players[i]
		}
	}
	return nil
}

// PlayerAtSeat returns the player holding engine seat, or nil.
func (g *Game) PlayerAtSeat(seat int) *GamePlayer {
	for i := range g.Players {
		if s := g.Players[i].Seat; s != nil && *s == seat {
			return &g.Players[i]
		}
	}
	return nil
}

// SeatOf returns the engine seat held by userID. ok is false when the user is
// not seated or the game has not started.
func (g *Game) SeatOf(userID uuid.UUID) (seat int, ok bool) {
	p := g.Player(userID)
	if p == nil || p.Seat == nil {
		return -1, false
	}
	return *p.Seat, true
}

// AssignSeats hands out engine seats 0..n-1 in PlayerIndex order, closing any
// gaps left by players who departed the lobby.
func (g *Game) AssignSeats() {
	order := make([]*GamePlayer, len(g.Players))
	for i := range g.Players {
		order[i] = &g.Players[i]
	}
	sort.Slice(order, func(a, b int) bool { return order[a].PlayerIndex < order[b].PlayerIndex })
	for seat, p := range order {
		s := seat
		p.Seat = &s
	}
}

// NextFreeIndex returns the lowest seat index not currently held.
func (g *Game) NextFreeIndex() int {
	taken := make(map[int]bool, len(g.Players))
	for _, p := range g.Players {
		taken[p.PlayerIndex] = true
	}
	idx := 0
	for taken[idx] {
		idx++
	}
	return idx
}

// ReadyCount returns how many seated players are marked ready.
func (g *Game) ReadyCount() int {
	n := 0
	for _, p := range g.Players {
		if p.IsReady {
			n++
		}
	}
	return n
}

// ConnectedCount returns how many seated players currently hold a live connection.
func (g *Game) ConnectedCount() int {
	n := 0
	for _, p := range g.Players {
		if p.IsConnected {
			n++
		}
	}
	return n
}

// Clone returns a deep copy so callers can mutate without aliasing the original.
func (g *Game) Clone() *Game {
	c := *g
	c.Players = append([]GamePlayer(nil), g.Players...)
	for i := range c.Players {
		if s := c.Players[i].Seat; s != nil {
			v := *s
			c.Players[i].Seat = &v
		}
	}
	c.Winners = append([]int(nil), g.Winners...)
	if g.Options != nil {
		c.Options = make(map[string]any, len(g.Options))
		for k, v := range g.Options {
			c.Options[k] = v
		}
	}
	return &c
}
