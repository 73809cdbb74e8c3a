package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	flag "github.com/spf13/pflag"

	"lamport/internal/app"
	"lamport/internal/platform/config"
	"lamport/internal/platform/logger"
	"lamport/internal/platform/metrics"
	"lamport/internal/platform/postgres"
)

// main wires high-level dependencies and keeps the process lifecycle small.
// Business logic lives in the internal packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	envFile := flag.String("env-file", ".env", "optional dotenv file loaded before reading the environment")
	seed := flag.Bool("seed", false, "create the lamport counter at LAMPORT_SEED_VALUE if it does not exist, then exit")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return err
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	a, err := app.Build(ctx, cfg, db, m, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if *seed {
		_, err := a.Seed(ctx, cfg.Ledger.SeedValue)
		return err
	}

	log.Info("lamport server started",
		"broker", cfg.Broker.Backend,
		"allocator", cfg.Ledger.Allocator,
		"relays", len(cfg.Relay.RelayURLs()),
	)
	if err := a.Run(ctx, cfg.Server.Addr); err != nil {
		return err
	}
	log.Info("lamport server stopped")
	return nil
}
