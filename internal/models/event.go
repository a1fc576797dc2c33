package models

import "github.com/google/uuid"

// EventKind names a realtime notification.
type EventKind string

const (
	EventStateUpdated   EventKind = "state.updated"
	EventMoveMade       EventKind = "move.made"
	EventCancelled      EventKind = "cancelled"
	EventGameUpdated    EventKind = "game.updated"
	EventChatPosted     EventKind = "chat.posted"
	EventPresenceJoined EventKind = "presence.joined"
	EventPresenceLeft   EventKind = "presence.left"
	EventPresenceSync   EventKind = "presence.sync"
)

// Event is an invalidation signal. It carries identifiers and counters;
// clients re-fetch the game or state they point at. move.made also carries the
// engine's public notes for the move, such as who took a trick.
type Event struct {
	Kind   EventKind `json:"type"`
	GameID uuid.UUID `json:"gameId"`

	Version     int        `json:"version,omitempty"`
	MoveNumber  int        `json:"moveNumber,omitempty"`
	PlayerIndex *int       `json:"playerIndex,omitempty"`
	Status      GameStatus `json:"status,omitempty"`

	UserID  uuid.UUID   `json:"userId,omitzero"`
	Reason  string      `json:"reason,omitempty"`
	Users   []uuid.UUID `json:"users,omitempty"`
	Message uuid.UUID   `json:"messageId,omitzero"`

	Seat  *int           `json:"seat,omitempty"`
	Notes map[string]any `json:"notes,omitempty"`
}
