package models

import (
	"time"

	"github.com/google/uuid"
)

// GamePlayer is one seat at a game. PlayerIndex is assigned once at join time
// and is never derived from slice order. Seat is the dense engine seat fixed
// when the game starts; it is what maps a user to their hand or position and
// stays nil in the lobby.
type GamePlayer struct {
	UserID      uuid.UUID `json:"userId"`
	PlayerIndex int       `json:"playerIndex"`
	Seat        *int      `json:"seat,omitempty"`
	IsReady     bool      `json:"isReady"`
	IsConnected bool      `json:"isConnected"`
	JoinedAt    time.Time `json:"joinedAt"`

	// LastSeen is the last time the player's connection state changed.
	LastSeen time.Time `json:"lastSeen"`
}
