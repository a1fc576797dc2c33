package session

import (
	"errors"

	"github.com/jason-s-yu/tabletop/internal/rules"
)

// Kind groups errors by how a caller should recover from them.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation: the request is wrong; resubmit something else.
	KindValidation
	// KindConcurrency: another writer got there first; retry the same request.
	KindConcurrency
	// KindLifecycle: the game is not in a state that allows the request.
	KindLifecycle
	KindNotFound
	// KindInfrastructure: a backing store failed; nothing was committed.
	KindInfrastructure
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConcurrency:
		return "concurrency"
	case KindLifecycle:
		return "lifecycle"
	case KindNotFound:
		return "not_found"
	case KindInfrastructure:
		return "infrastructure"
	}
	return "unknown"
}

var (
	ErrNotYourTurn     = errors.New("not your turn")
	ErrMalformedMove   = errors.New("malformed move")
	ErrUnknownGameType = errors.New("unknown game type")
	ErrInvalidOptions  = errors.New("invalid game options")
	ErrBadPasscode     = errors.New("wrong passcode")
	ErrInvalidChat     = errors.New("invalid chat message")

	ErrLockHeld = errors.New("game is busy")
	ErrConflict = errors.New("move was committed by another writer")

	ErrGameNotJoinable = errors.New("game is not accepting players")
	ErrGameFull        = errors.New("game is full")
	ErrAlreadyJoined   = errors.New("already seated in this game")
	ErrNotCreator      = errors.New("only the creator may do that")
	ErrNotCancellable  = errors.New("game can no longer be cancelled")
	ErrNotSeated       = errors.New("not seated in this game")
	ErrLobbyClosed     = errors.New("game has already started")
	ErrNotStarted      = errors.New("game has not started")
	ErrGameOver        = errors.New("game is over")
	ErrNotAbandonable  = errors.New("game cannot be abandoned")

	ErrGameNotFound = errors.New("game not found")
)

var kinds = map[error]Kind{
	ErrNotYourTurn:     KindValidation,
	ErrMalformedMove:   KindValidation,
	ErrUnknownGameType: KindValidation,
	ErrInvalidOptions:  KindValidation,
	ErrBadPasscode:     KindValidation,
	ErrInvalidChat:     KindValidation,

	ErrLockHeld: KindConcurrency,
	ErrConflict: KindConcurrency,

	ErrGameNotJoinable: KindLifecycle,
	ErrGameFull:        KindLifecycle,
	ErrAlreadyJoined:   KindLifecycle,
	ErrNotCreator:      KindLifecycle,
	ErrNotCancellable:  KindLifecycle,
	ErrNotSeated:       KindLifecycle,
	ErrLobbyClosed:     KindLifecycle,
	ErrNotStarted:      KindLifecycle,
	ErrGameOver:        KindLifecycle,
	ErrNotAbandonable:  KindLifecycle,

	ErrGameNotFound: KindNotFound,
}

// InfraError wraps a failure of Redis, Postgres or an engine payload that
// could not be decoded.
type InfraError struct {
	Op  string
	Err error
}

func (e *InfraError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *InfraError) Unwrap() error { return e.Err }

func infra(op string, err error) error {
	return &InfraError{Op: op, Err: err}
}

// KindOf classifies err. Rule rejections count as validation errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for sentinel, k := range kinds {
		if errors.Is(err, sentinel) {
			return k
		}
	}
	if rules.IsInvalidMove(err) {
		return KindValidation
	}
	var ie *InfraError
	if errors.As(err, &ie) {
		return KindInfrastructure
	}
	return KindUnknown
}
