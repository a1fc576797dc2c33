// internal/models/state.go
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// GameState is the authoritative live state of a game. Data holds the
// engine-specific payload; the remaining fields form the shared envelope that
// the session layer and clients read without knowing the game's rules.
type GameState struct {
	GameID   uuid.UUID `json:"gameId"`
	GameType GameType  `json:"gameType"`

	// Version is the number of moves committed so far. Readers use it to
	// detect a stale copy.
	Version int `json:"version"`

	// CurrentPlayerIndex, Pending and Winners hold engine seats; see
	// GamePlayer.Seat.
	CurrentPlayerIndex int    `json:"currentPlayerIndex"`
	Phase              string `json:"phase"`

	// Simultaneous is true while every seat in Pending may submit independently.
	Simultaneous bool  `json:"simultaneous"`
	Pending      []int `json:"pending,omitempty"`

	Terminal bool  `json:"terminal"`
	Winners  []int `json:"winners,omitempty"`

	// LastNotes is what the engine reported about the move that produced
	// this state, e.g. "trickWinner" or "swooped".
	LastNotes map[string]any `json:"lastNotes,omitempty"`

	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// CanAct reports whether seat may submit a move in the current state.
func (s *GameState) CanAct(seat int) bool {
	if s.Simultaneous {
		for _, p := range s.Pending {
			if p == seat {
				return true
			}
		}
		return false
	}
	return s.CurrentPlayerIndex == seat
}
