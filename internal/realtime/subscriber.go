package realtime

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/models"
)

// DefaultBuffer is the outbound queue length of a subscriber.
const DefaultBuffer = 64

// Subscriber is one live connection's view of a game's events. The hub never
// waits on it: when OutChan is full the event is dropped and the client
// catches up on its next fetch.
type Subscriber struct {
	ID      uuid.UUID
	UserID  uuid.UUID
	OutChan chan models.Event

	dropped atomic.Int64
}

func NewSubscriber(userID uuid.UUID, buffer int) *Subscriber {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	return &Subscriber{
		ID:      uuid.New(),
		UserID:  userID,
		OutChan: make(chan models.Event, buffer),
	}
}

// Write queues ev without blocking and reports whether it was queued.
func (s *Subscriber) Write(ev models.Event) bool {
	select {
	case s.OutChan <- ev:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Dropped counts events discarded because the queue was full.
func (s *Subscriber) Dropped() int64 {
	return s.dropped.Load()
}
