package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MKhiriev/go-activesync-state/internal/config"
	"github.com/MKhiriev/go-activesync-state/internal/logger"
	"github.com/MKhiriev/go-activesync-state/internal/service"
	"github.com/MKhiriev/go-activesync-state/internal/store"
	"github.com/MKhiriev/go-activesync-state/internal/workers"
)

var (
	buildVersion string
	buildDate    string
	buildCommit  string
)

func main() {
	printBuildInfo()

	cfg, err := config.GetStructuredConfig(os.Args[1:])
	if err != nil {
		logger.NewLogger("asyncd").Fatal().Err(err).Msg("error getting configs")
	}

	log := logger.NewLogger("asyncd")
	if cfg.Log.File != "" {
		log = logger.NewFileLogger("asyncd", cfg.Log.File)
	}
	if err := log.SetLevel(cfg.Log.Level); err != nil {
		log.Fatal().Err(err).Msg("error setting log level")
	}

	log.Debug().Any("config", cfg).Msg("received configs")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.WithContext(ctx)

	st, err := store.NewStateStore(ctx, cfg.Storage, log)
	if err != nil {
		log.Fatal().Err(err).Msg("error creating state store")
	}
	defer st.Close()

	// no backend driver is linked into the daemon, it only maintains the store
	services := service.NewServices(st, nil, *cfg, log)

	w := workers.NewWorkers(
		workers.NewStaleSweeper(services.GC, cfg.Workers.SweepInterval, cfg.Workers.StaleAfter, log),
	)

	log.Info().Str("driver", cfg.Storage.Driver).Msg("asyncd started")
	if err := w.Run(ctx); err != nil {
		log.Err(err).Msg("worker failed")
	}
	log.Info().Msg("asyncd stopped")
}

func printBuildInfo() {
	if buildVersion == "" {
		buildVersion = "N/A"
	}

	if buildDate == "" {
		buildDate = "N/A"
	}

	if buildCommit == "" {
		buildCommit = "N/A"
	}

	fmt.Printf("Build version: %s\n", buildVersion)
	fmt.Printf("Build date: %s\n", buildDate)
	fmt.Printf("Build commit: %s\n", buildCommit)
}
