package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/RideTrack/config"
	"github.com/BearBump/RideTrack/pkg/logger"
	"github.com/pkg/errors"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(ctx, os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	lg := logger.Init(logger.Options{
		Level:   cfg.Log.Level,
		Pretty:  cfg.Log.Pretty,
		Service: "ride-tracker",
	})

	if err := RunRideTracker(ctx, cfg, defaultDaemonFactories(), lg); err != nil && !errors.Is(err, context.Canceled) {
		lg.Fatal().Err(err).Msg("ride tracker stopped")
	}
}
