// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/tabletop/internal/app"
	"github.com/jason-s-yu/tabletop/internal/auth"
	"github.com/jason-s-yu/tabletop/internal/config"
	"github.com/jason-s-yu/tabletop/internal/handlers"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownGrace = 10 * time.Second

func main() {
	logger := logrus.New()
	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	logger.SetLevel(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	identity, err := loadIdentity(cfg)
	if err != nil {
		return err
	}

	api := handlers.NewServer(a.Games, a.Hub, identity, logger, handlers.Options{
		AllowedOrigins: cfg.AllowedOrigins,
	})
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Running on %s", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return a.Relay(gctx) })
	if cfg.WatchdogEnabled {
		g.Go(func() error { return a.Watchdog().Run(gctx) })
	}
	return g.Wait()
}

func loadIdentity(cfg *config.Config) (*auth.Identity, error) {
	if cfg.JWTPrivateKeyPath == "" {
		return auth.NewIdentity(cfg.TokenExpiry)
	}
	return auth.LoadIdentity(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.TokenExpiry)
}
