// Package app assembles the long-lived components of a lamport process from
// configuration and runs them under one context.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/sync/errgroup"

	"lamport/internal/consumer"
	jwttoken "lamport/internal/jwt_token"
	"lamport/internal/lamportid"
	"lamport/internal/ledger"
	"lamport/internal/membership"
	"lamport/internal/outbox"
	"lamport/internal/outbox/kafka"
	"lamport/internal/outbox/memory"
	"lamport/internal/outbox/redisstream"
	"lamport/internal/platform/config"
	"lamport/internal/platform/httpserver"
	"lamport/internal/platform/metrics"
	redisclient "lamport/internal/platform/redis"
	"lamport/internal/ratelimit"
	"lamport/internal/relay"
	"lamport/internal/timeline"
	"lamport/pkg/platform/tx"
)

// Allocator is a Lamport counter that can also be seeded.
type Allocator interface {
	lamportid.Allocator
	lamportid.Seeder
}

// App holds every long-lived component. Members and Timeline are exported for
// the operator CLI.
type App struct {
	Members  *membership.Service
	Timeline *timeline.PostgresStore

	db        *sql.DB
	redis     *redisclient.Client
	broker    outbox.Broker
	allocator Allocator
	publisher *relay.RelayPublisher
	log       *slog.Logger

	adminToken string
	adminLimit ratelimit.Store
	limits     config.Limits

	eventsLoop *consumer.Loop[timeline.Event]
	relayLoop  *consumer.Loop[relay.Message]
	sweeper    *ledger.Sweeper

	closers []func() error
}

// Build connects to redis and the broker and constructs every component on
// top of db. Close releases what Build opened.
func Build(ctx context.Context, cfg config.Config, db *sql.DB, m *metrics.Metrics, log *slog.Logger) (*App, error) {
	a := &App{db: db, log: log, adminToken: cfg.Auth.AdminToken, limits: cfg.Limits}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	rc, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		a.redis = rc
		a.closers = append(a.closers, rc.Close)
	}
	a.adminLimit = newLimitStore(rc)

	if a.broker, err = newBroker(ctx, cfg, rc, log); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.broker.Close)

	if a.allocator, err = newAllocator(cfg, db, rc, m); err != nil {
		return nil, err
	}

	signer, err := newSigner(cfg.Relay, log)
	if err != nil {
		return nil, err
	}
	a.publisher = relay.NewRelayPublisher(cfg.Relay.RelayURLs(),
		relay.WithRate(cfg.Relay.PublishRate),
		relay.WithTimeout(cfg.Relay.Timeout),
		relay.WithPublisherLogger(log),
	)
	a.closers = append(a.closers, a.publisher.Close)

	producer := outbox.NewProducer(a.broker,
		outbox.WithLogger(log),
		outbox.WithMetrics(m),
	)
	ledgerStore := ledger.NewPostgres(db)
	a.Timeline = timeline.NewPostgres(db)

	a.Members = membership.NewService(a.allocator, membership.NewPostgres(db), ledgerStore, producer,
		jwttoken.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL),
		membership.WithLogger(log),
		membership.WithSchedule(membership.ScheduleFromConfig(cfg.Rewards)),
		membership.WithTxRunner(tx.NewPostgresRunner(db, cfg.Database.TxTimeout)),
		membership.WithTopics(cfg.Broker.EventsTopic, cfg.Broker.RelayTopic),
	)

	a.eventsLoop = consumer.New[timeline.Event](a.broker, cfg.Broker.EventsTopic,
		timeline.NewWriter(a.Timeline, timeline.WithLogger(log)),
		consumer.WithLogger(log),
		consumer.WithMetrics(m),
	)
	a.relayLoop = consumer.New[relay.Message](a.broker, cfg.Broker.RelayTopic,
		relay.NewHandler(signer, a.publisher, relay.WithLogger(log), relay.WithMetrics(m)),
		consumer.WithLogger(log),
		consumer.WithMetrics(m),
	)

	if a.sweeper, err = ledger.NewSweeper(ledgerStore, cfg.Ledger.SweepSchedule,
		ledger.WithSweeperLogger(log),
		ledger.WithSweeperMetrics(m),
	); err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

// Run drives both consumer loops, the sweeper and the HTTP server on addr
// until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context, addr string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.eventsLoop.Run(ctx) })
	g.Go(func() error { return a.relayLoop.Run(ctx) })
	g.Go(func() error { return a.sweeper.Run(ctx) })
	g.Go(func() error {
		return httpserver.Serve(ctx, httpserver.New(addr, a.Router()), a.logger())
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Seed creates the lamport counter at start unless it already exists.
func (a *App) Seed(ctx context.Context, start int64) (bool, error) {
	created, err := a.allocator.Seed(ctx, start)
	if err != nil {
		return false, fmt.Errorf("seed lamport counter: %w", err)
	}
	current, err := a.allocator.Current(ctx)
	if err != nil {
		return created, err
	}
	a.logger().InfoContext(ctx, "lamport counter ready", "created", created, "current", current)
	return created, nil
}

// Sweep runs one ledger expiry purge outside the cron schedule.
func (a *App) Sweep(ctx context.Context) (int64, error) {
	return a.sweeper.SweepOnce(ctx)
}

// Close releases clients in reverse order of construction.
func (a *App) Close() {
	if mem, ok := a.allocator.(*lamportid.MemoryAllocator); ok {
		mem.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger().Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

func (a *App) logger() *slog.Logger {
	if a.log == nil {
		return slog.Default()
	}
	return a.log
}

func newBroker(ctx context.Context, cfg config.Config, rc *redisclient.Client, log *slog.Logger) (outbox.Broker, error) {
	switch cfg.Broker.Backend {
	case "redis":
		if rc == nil {
			return nil, errors.New("redis broker needs REDIS_URL")
		}
		return redisstream.New(rc.Client, redisstream.Config{
			Group:     cfg.Broker.Group,
			Consumer:  cfg.Broker.Consumer,
			BatchSize: int64(cfg.Broker.BatchSize),
			Block:     cfg.Broker.Block,
			ClaimIdle: cfg.Broker.ClaimIdle,
		}, redisstream.WithLogger(log)), nil
	case "kafka":
		b, err := kafka.New(kafka.Config{
			Brokers:   cfg.Broker.KafkaBrokerList(),
			Group:     cfg.Broker.Group,
			ClientID:  cfg.Broker.Consumer,
			BatchSize: cfg.Broker.BatchSize,
			Block:     cfg.Broker.Block,
			ClaimIdle: cfg.Broker.ClaimIdle,
		}, kafka.WithLogger(log))
		if err != nil {
			return nil, err
		}
		if err := b.EnsureTopics(ctx, cfg.Broker.EventsTopic, cfg.Broker.RelayTopic); err != nil {
			_ = b.Close()
			return nil, err
		}
		return b, nil
	case "memory":
		return memory.New(
			memory.WithBatchSize(cfg.Broker.BatchSize),
			memory.WithBlock(cfg.Broker.Block),
			memory.WithClaimIdle(cfg.Broker.ClaimIdle),
		), nil
	}
	return nil, fmt.Errorf("unknown broker backend %q", cfg.Broker.Backend)
}

func newAllocator(cfg config.Config, db *sql.DB, rc *redisclient.Client, m *metrics.Metrics) (Allocator, error) {
	switch cfg.Ledger.Allocator {
	case "postgres":
		return lamportid.NewPostgres(db, lamportid.WithMetrics(m)), nil
	case "redis":
		if rc == nil {
			return nil, errors.New("redis allocator needs REDIS_URL")
		}
		return lamportid.NewRedis(rc.Client, "", lamportid.WithMetrics(m)), nil
	case "memory":
		// Rejected by config.Validate; a Config built in code may still pick it.
		return lamportid.NewMemory(lamportid.WithMetrics(m)), nil
	}
	return nil, fmt.Errorf("unknown lamport allocator %q", cfg.Ledger.Allocator)
}

// newLimitStore shares rate-limit windows through redis when it is configured.
func newLimitStore(rc *redisclient.Client) ratelimit.Store {
	if rc == nil {
		return ratelimit.NewInMemory()
	}
	return ratelimit.NewRedis(rc.Client, "lamport:ratelimit")
}

// newSigner falls back to an ephemeral key when none is configured.
func newSigner(cfg config.Relay, log *slog.Logger) (*relay.Signer, error) {
	secret := cfg.PrivateKey
	if secret == "" {
		secret = nostr.GeneratePrivateKey()
		log.Warn("NOSTR_PRIVATE_KEY not set, signing with an ephemeral key")
	}
	signer, err := relay.NewSigner(secret)
	if err != nil {
		return nil, err
	}
	log.Info("relay signer ready", "pubkey", signer.PublicKey())
	return signer, nil
}
