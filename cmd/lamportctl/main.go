// Command lamportctl runs membership flows and maintenance tasks against the
// configured database and broker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"lamport/internal/app"
	"lamport/internal/platform/config"
	"lamport/internal/platform/logger"
	"lamport/internal/platform/metrics"
	"lamport/internal/platform/postgres"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	envFile := os.Getenv("LAMPORT_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	// stdout carries command output only
	log := logger.NewWithWriter(cfg.Log, os.Stderr)
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

	a, err := app.Build(ctx, cfg, db, metrics.New(prometheus.NewRegistry()), log)
	if err != nil {
		return err
	}
	defer a.Close()

	c := &cli{
		members:   a.Members,
		timeline:  a.Timeline,
		ops:       a,
		seedValue: cfg.Ledger.SeedValue,
		out:       os.Stdout,
	}
	return c.execute(ctx, args)
}
