// internal/rules/engine.go
package rules

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jason-s-yu/tabletop/internal/models"
)

// Setup is everything an engine needs to deal the starting state.
type Setup struct {
	Seats   int
	Options map[string]any
	Seed    uint64
}

// Outcome is the result of initializing or applying a move. The session layer
// copies the turn pointer, phase and terminal flags into the state envelope;
// it never infers them on its own.
type Outcome struct {
	Data []byte

	NextSeat     int
	Phase        string
	Simultaneous bool
	Pending      []int

	Terminal bool
	Winners  []int

	// Notes carries per-move metadata for clients, e.g. "trickWinner" or "swooped".
	Notes map[string]any
}

// Spectator is the seat passed to View for a caller who holds no seat.
const Spectator = -1

// Engine is the capability set every game implements. Apply must be a pure
// function of its inputs: data is never mutated and all randomness is derived
// from state stored inside data, so replaying a log reproduces the same state.
//
// View returns data as seat is allowed to see it. Other seats' hidden cards
// and the shuffle seed never appear in a view.
type Engine interface {
	Type() models.GameType
	Seats() (min, max int)
	Initialize(setup Setup) (Outcome, error)
	Validate(data []byte, seat int, move models.MoveData) error
	Apply(data []byte, seat int, move models.MoveData) (Outcome, error)
	IsTerminal(data []byte) (bool, []int, error)
	View(data []byte, seat int) ([]byte, error)
}

// SecretMoves is implemented by engines whose move payloads stay hidden from
// other seats until the game is over.
type SecretMoves interface {
	Secret(move models.MoveData) bool
}

// InvalidMoveError is a rule rejection with a reason fit for the player.
type InvalidMoveError struct {
	Reason string
}

func (e *InvalidMoveError) Error() string {
	return "invalid move: " + e.Reason
}

// Invalid builds an InvalidMoveError from a format string.
func Invalid(format string, args ...any) error {
	return &InvalidMoveError{Reason: fmt.Sprintf(format, args...)}
}

// IsInvalidMove reports whether err is (or wraps) an InvalidMoveError.
func IsInvalidMove(err error) bool {
	var ime *InvalidMoveError
	return errors.As(err, &ime)
}

// Decode unmarshals an engine state payload.
func Decode[T any](data []byte) (*T, error) {
	var st T
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &st, nil
}

// Encode marshals an engine state payload.
func Encode(st any) ([]byte, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return data, nil
}

// DecodePayload unmarshals a move payload. Only actions that carry a body
// call it, so a missing or null payload is rejected.
func DecodePayload(move models.MoveData, dst any) error {
	if len(move.Payload) == 0 || string(move.Payload) == "null" {
		return Invalid("%s needs a payload", move.Action)
	}
	if err := json.Unmarshal(move.Payload, dst); err != nil {
		return Invalid("malformed %s payload", move.Action)
	}
	return nil
}

// AllSeats returns [0, n).
func AllSeats(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
