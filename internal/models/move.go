package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MoveData is a player's submitted action. Payload is decoded by the rule
// engine for the game's type.
type MoveData struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Move is an immutable entry in a game's durable move log. Seat is the engine
// seat the move was applied for and is what replay feeds back to the engine.
type Move struct {
	GameID      uuid.UUID `json:"gameId"`
	PlayerID    uuid.UUID `json:"playerId"`
	PlayerIndex int       `json:"playerIndex"`
	Seat        int       `json:"seat"`
	MoveNumber  int       `json:"moveNumber"`
	MoveData    MoveData  `json:"moveData"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ChatMessage is a player's chat line within a game.
type ChatMessage struct {
	ID        uuid.UUID `json:"id"`
	GameID    uuid.UUID `json:"gameId"`
	UserID    uuid.UUID `json:"userId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// MoveCommit is everything a single accepted move writes durably. Snapshot
// and Game are nil when unchanged.
type MoveCommit struct {
	Move     Move
	Snapshot *GameState
	Game     *Game
}
