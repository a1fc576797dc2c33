// Package historian closes games that everyone has walked away from.
package historian

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/session"
	"github.com/sirupsen/logrus"
)

// Games is the part of the session service the watchdog drives.
type Games interface {
	Idle(ctx context.Context, grace time.Duration) ([]uuid.UUID, error)
	Abandon(ctx context.Context, gameID uuid.UUID) error
}

// Watchdog periodically abandons IN_PROGRESS games whose players have all
// been disconnected for longer than the grace period.
type Watchdog struct {
	games    Games
	grace    time.Duration
	interval time.Duration
	logger   *logrus.Logger
}

func NewWatchdog(games Games, grace, interval time.Duration, logger *logrus.Logger) *Watchdog {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Watchdog{games: games, grace: grace, interval: interval, logger: logger}
}

// Run sweeps every interval until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.logger.WithFields(logrus.Fields{
		"grace":    w.grace,
		"interval": w.interval,
	}).Info("abandonment watchdog started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns how many games it abandoned.
func (w *Watchdog) Sweep(ctx context.Context) int {
	ids, err := w.games.Idle(ctx, w.grace)
	if err != nil {
		w.logger.WithError(err).Warn("failed to list idle games")
		return 0
	}
	n := 0
	for _, id := range ids {
		err := w.games.Abandon(ctx, id)
		switch {
		case err == nil:
			n++
			w.logger.WithField("game_id", id).Info("marked game abandoned due to inactivity")
		case errors.Is(err, session.ErrNotAbandonable), errors.Is(err, session.ErrLockHeld):
			// someone reconnected or moved since the listing; try again next tick
			w.logger.WithField("game_id", id).WithError(err).Debug("skipped idle game")
		default:
			w.logger.WithField("game_id", id).WithError(err).Warn("failed to abandon game")
		}
	}
	return n
}
