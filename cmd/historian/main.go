// cmd/historian/main.go runs the abandonment sweep as its own process, for
// deployments that start the API servers with WATCHDOG_ENABLED=false.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/tabletop/internal/app"
	"github.com/jason-s-yu/tabletop/internal/config"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	logger.SetLevel(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("startup failed")
	}
	defer a.Close()

	// Abandonment events reach connected clients through the Redis fanout.
	if err := a.Watchdog().Run(ctx); err != nil {
		logger.WithError(err).Error("watchdog stopped")
	}
	logger.Info("historian stopped")
}
