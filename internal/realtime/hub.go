// Package realtime fans game events out to connected players, locally and
// across server instances.
package realtime

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/sirupsen/logrus"
)

// Fanout carries encoded events to the other server instances.
type Fanout interface {
	Publish(ctx context.Context, gameID uuid.UUID, payload []byte) error
}

// envelope is the fan-out wire format. Origin lets an instance skip its own
// events when they come back from the broker.
type envelope struct {
	Origin uuid.UUID    `json:"origin"`
	Event  models.Event `json:"event"`
}

// room holds the local connections of one game.
type room struct {
	subs  map[*Subscriber]struct{}
	conns map[uuid.UUID]int
}

// Hub is the session registry: which subscribers are attached to which game.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[uuid.UUID]*room
	origin uuid.UUID
	fanout Fanout
	logger *logrus.Logger
}

// NewHub returns an empty hub. fanout may be nil for a single instance.
func NewHub(fanout Fanout, logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		rooms:  make(map[uuid.UUID]*room),
		origin: uuid.New(),
		fanout: fanout,
		logger: logger,
	}
}

// Membership is a subscriber's attachment to a game.
type Membership struct {
	GameID uuid.UUID
	Sub    *Subscriber

	hub  *Hub
	once sync.Once
}

// Attach registers sub on gameID. The subscriber receives a presence.sync
// listing everyone connected here; a user's first connection is announced
// as presence.joined. The second result is true for that first connection.
func (h *Hub) Attach(ctx context.Context, gameID uuid.UUID, sub *Subscriber) (*Membership, bool) {
	h.mu.Lock()
	r, ok := h.rooms[gameID]
	if !ok {
		r = &room{subs: make(map[*Subscriber]struct{}), conns: make(map[uuid.UUID]int)}
		h.rooms[gameID] = r
	}
	r.subs[sub] = struct{}{}
	r.conns[sub.UserID]++
	first := r.conns[sub.UserID] == 1
	users := r.users()
	h.mu.Unlock()

	sub.Write(models.Event{Kind: models.EventPresenceSync, GameID: gameID, Users: users})
	if first {
		h.Notify(ctx, models.Event{Kind: models.EventPresenceJoined, GameID: gameID, UserID: sub.UserID})
	}
	h.logger.WithFields(logrus.Fields{
		"game_id": gameID,
		"user_id": sub.UserID,
		"conn_id": sub.ID,
	}).Debug("subscriber attached")
	return &Membership{GameID: gameID, Sub: sub, hub: h}, first
}

// Detach releases m. It is safe to call more than once. The second result is
// true when this was the user's last connection to the game.
func (h *Hub) Detach(ctx context.Context, m *Membership) bool {
	last := false
	m.once.Do(func() {
		h.mu.Lock()
		r, ok := h.rooms[m.GameID]
		if ok {
			delete(r.subs, m.Sub)
			r.conns[m.Sub.UserID]--
			if r.conns[m.Sub.UserID] <= 0 {
				delete(r.conns, m.Sub.UserID)
				last = true
			}
			if len(r.subs) == 0 {
				delete(h.rooms, m.GameID)
			}
		}
		h.mu.Unlock()

		if last {
			h.Notify(ctx, models.Event{Kind: models.EventPresenceLeft, GameID: m.GameID, UserID: m.Sub.UserID})
		}
		h.logger.WithFields(logrus.Fields{
			"game_id": m.GameID,
			"user_id": m.Sub.UserID,
			"conn_id": m.Sub.ID,
			"dropped": m.Sub.Dropped(),
		}).Debug("subscriber detached")
	})
	return last
}

// Online lists the users with at least one local connection to gameID.
func (h *Hub) Online(gameID uuid.UUID) []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[gameID]
	if !ok {
		return nil
	}
	return r.users()
}

func (r *room) users() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(r.conns))
	for u := range r.conns {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Notify delivers ev to local subscribers and publishes it for the other
// instances. A failed publish is logged; it never undoes anything.
func (h *Hub) Notify(ctx context.Context, ev models.Event) {
	h.deliver(ev)
	if h.fanout == nil {
		return
	}
	payload, err := json.Marshal(envelope{Origin: h.origin, Event: ev})
	if err != nil {
		h.logger.WithError(err).Error("failed to marshal event")
		return
	}
	if err := h.fanout.Publish(ctx, ev.GameID, payload); err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"game_id": ev.GameID,
			"event":   ev.Kind,
		}).Warn("failed to publish event")
	}
}

// Relay hands an event received from the broker to local subscribers. It is
// the deliver callback of the fan-out subscription.
func (h *Hub) Relay(gameID uuid.UUID, payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		h.logger.WithError(err).WithField("game_id", gameID).Warn("dropping malformed relayed event")
		return
	}
	if env.Origin == h.origin {
		return
	}
	env.Event.GameID = gameID
	h.deliver(env.Event)
}

func (h *Hub) deliver(ev models.Event) {
	h.mu.RLock()
	r, ok := h.rooms[ev.GameID]
	var subs []*Subscriber
	if ok {
		subs = make([]*Subscriber, 0, len(r.subs))
		for s := range r.subs {
			subs = append(subs, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range subs {
		if !s.Write(ev) {
			h.logger.WithFields(logrus.Fields{
				"game_id": ev.GameID,
				"user_id": s.UserID,
				"event":   ev.Kind,
			}).Warn("subscriber queue full, dropped event")
		}
	}
}
