// Package app wires the stores, the session service and the event hub that
// every binary runs on.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/tabletop/internal/cache"
	"github.com/jason-s-yu/tabletop/internal/config"
	"github.com/jason-s-yu/tabletop/internal/database"
	"github.com/jason-s-yu/tabletop/internal/historian"
	"github.com/jason-s-yu/tabletop/internal/realtime"
	"github.com/jason-s-yu/tabletop/internal/rules/catalog"
	"github.com/jason-s-yu/tabletop/internal/session"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// connectTimeout bounds how long startup waits for Redis and Postgres.
const connectTimeout = 30 * time.Second

// App holds the long-lived dependencies of a process.
type App struct {
	Config *config.Config
	Logger *logrus.Logger
	Redis  *redis.Client
	DB     *pgxpool.Pool
	Fanout *cache.RedisFanout
	Hub    *realtime.Hub
	Games  *session.Service
}

// Open connects to Redis and Postgres, applies the schema and builds the
// session service. Both stores are retried until connectTimeout passes.
func Open(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	rdb, err := connect(ctx, logger, "redis", func() (*redis.Client, error) {
		return cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
	})
	if err != nil {
		return nil, err
	}
	pool, err := connect(ctx, logger, "postgres", func() (*pgxpool.Pool, error) {
		return database.Connect(ctx, cfg.DatabaseURL)
	})
	if err != nil {
		rdb.Close()
		return nil, err
	}

	repo := database.NewRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		pool.Close()
		rdb.Close()
		return nil, err
	}

	fanout := cache.NewRedisFanout(rdb, logger)
	hub := realtime.NewHub(fanout, logger)
	games := session.NewService(session.Deps{
		Repo:     repo,
		States:   cache.NewStateStore(rdb, cfg.StateTTL),
		Locks:    cache.NewLocker(rdb, cfg.LockTTL),
		Chat:     cache.NewChatTail(rdb, cfg.ChatTail, cfg.StateTTL),
		Engines:  catalog.Default(),
		Notifier: hub,
		Logger:   logger,
	}, session.Config{
		SnapshotEvery: cfg.SnapshotEvery,
		HistoryTail:   cfg.HistoryTail,
		ChatTail:      cfg.ChatTail,
	})

	return &App{
		Config: cfg,
		Logger: logger,
		Redis:  rdb,
		DB:     pool,
		Fanout: fanout,
		Hub:    hub,
		Games:  games,
	}, nil
}

func connect[T any](ctx context.Context, logger *logrus.Logger, name string, dial func() (T, error)) (T, error) {
	v, err := backoff.Retry(ctx, dial,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(connectTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.WithError(err).WithField("retry_in", next).Warnf("%s not reachable yet", name)
		}),
	)
	if err != nil {
		return v, fmt.Errorf("connect %s: %w", name, err)
	}
	return v, nil
}

// Relay feeds events other instances publish into the local hub until ctx
// is cancelled.
func (a *App) Relay(ctx context.Context) error {
	return a.Fanout.Run(ctx, a.Hub.Relay)
}

// Watchdog returns the abandonment sweeper configured for this process.
func (a *App) Watchdog() *historian.Watchdog {
	return historian.NewWatchdog(a.Games, a.Config.AbandonGrace, a.Config.WatchdogInterval, a.Logger)
}

// Close releases both stores.
func (a *App) Close() {
	a.DB.Close()
	if err := a.Redis.Close(); err != nil {
		a.Logger.WithError(err).Warn("closing redis")
	}
}
