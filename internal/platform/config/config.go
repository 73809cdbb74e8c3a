package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	platformstrings "lamport/pkg/platform/strings"
)

// Config is the process configuration, decoded from the environment.
type Config struct {
	Server   Server
	Log      Log
	Database Database
	Redis    RedisConfig
	Broker   Broker
	Relay    Relay
	Auth     Auth
	Ledger   Ledger
	Rewards  Rewards
	Limits   Limits
}

// Server captures the HTTP listener for health, metrics and admin routes.
type Server struct {
	Addr string `env:"LAMPORT_OPS_ADDR,default=:9090"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json"`
}

type Database struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS,default=20"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME,default=30m"`
	TxTimeout       time.Duration `env:"DATABASE_TX_TIMEOUT,default=5s"`
}

// RedisConfig configures the shared go-redis client.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE,default=10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS,default=2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT,default=5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT,default=3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT,default=3s"`
}

// Broker selects and tunes the outbox transport.
type Broker struct {
	Backend      string        `env:"BROKER_BACKEND,default=redis"`
	Group        string        `env:"BROKER_GROUP,default=lamport"`
	Consumer     string        `env:"BROKER_CONSUMER"`
	BatchSize    int           `env:"BROKER_BATCH_SIZE,default=10"`
	Block        time.Duration `env:"BROKER_BLOCK,default=2s"`
	ClaimIdle    time.Duration `env:"BROKER_CLAIM_IDLE,default=1m"`
	KafkaBrokers string        `env:"KAFKA_BROKERS,default=localhost:9092"`
	EventsTopic  string        `env:"EVENTS_TOPIC,default=events"`
	RelayTopic   string        `env:"RELAY_TOPIC,default=nostr"`
}

// Relay configures the signing keypair and the relay network endpoints.
type Relay struct {
	PrivateKey  string        `env:"NOSTR_PRIVATE_KEY"`
	URLs        string        `env:"NOSTR_RELAYS"`
	PublishRate float64       `env:"NOSTR_PUBLISH_RATE,default=5"`
	Timeout     time.Duration `env:"NOSTR_PUBLISH_TIMEOUT,default=10s"`
}

type Auth struct {
	JWTSecret string        `env:"JWT_SECRET"`
	Issuer    string        `env:"JWT_ISSUER,default=lamport"`
	TokenTTL  time.Duration `env:"JWT_TTL,default=48h"`

	// AdminToken enables the /admin routes when set.
	AdminToken string `env:"ADMIN_TOKEN"`
}

type Ledger struct {
	SweepSchedule string `env:"LEDGER_SWEEP_SCHEDULE,default=@every 1h"`
	SeedValue     int64  `env:"LAMPORT_SEED_VALUE,default=1"`
	Allocator     string `env:"LAMPORT_ALLOCATOR,default=postgres"`
}

// Limits throttles the admin routes per client IP. A zero limit disables
// throttling.
type Limits struct {
	AdminPerWindow int           `env:"ADMIN_RATE_LIMIT,default=30"`
	AdminWindow    time.Duration `env:"ADMIN_RATE_WINDOW,default=1m"`
}

// Rewards overrides the default reward schedule. Zero keeps the default.
type Rewards struct {
	RegisterEnergy int32 `env:"REWARD_REGISTER_ENERGY"`
	InvitePoints   int32 `env:"REWARD_INVITE_POINTS"`
	InviteEnergy   int32 `env:"REWARD_INVITE_ENERGY"`
	BindingPoints  int32 `env:"REWARD_BINDING_POINTS"`
	BindingEnergy  int32 `env:"REWARD_BINDING_ENERGY"`
	VotePoints     int32 `env:"REWARD_VOTE_POINTS"`
	VoteEnergy     int32 `env:"REWARD_VOTE_ENERGY"`
	ProposalPoints int32 `env:"REWARD_PROPOSAL_POINTS"`
	ProposalEnergy int32 `env:"REWARD_PROPOSAL_ENERGY"`
}

// Load reads an optional dotenv file and decodes the environment into Config.
// A missing envFile is not an error; a malformed one is.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	if cfg.Broker.Consumer == "" {
		host, _ := os.Hostname()
		cfg.Broker.Consumer = host
	}
	return cfg, cfg.Validate()
}

// Validate rejects combinations the process cannot start with.
func (c Config) Validate() error {
	switch c.Broker.Backend {
	case "redis":
		if c.Redis.URL == "" {
			return errors.New("REDIS_URL is required for the redis broker")
		}
	case "kafka":
		if len(c.Broker.KafkaBrokerList()) == 0 {
			return errors.New("KAFKA_BROKERS is required for the kafka broker")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown broker backend %q", c.Broker.Backend)
	}
	switch c.Ledger.Allocator {
	case "postgres":
	case "redis":
		if c.Redis.URL == "" {
			return errors.New("REDIS_URL is required for the redis allocator")
		}
	case "memory":
		// Members live in postgres, so a counter that resets on restart would
		// hand out Lamport IDs that are already taken.
		return errors.New("LAMPORT_ALLOCATOR=memory is only usable with in-memory member stores")
	default:
		return fmt.Errorf("unknown lamport allocator %q", c.Ledger.Allocator)
	}
	if c.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Broker.BatchSize <= 0 {
		return errors.New("BROKER_BATCH_SIZE must be positive")
	}
	if c.Broker.Block <= 0 {
		return errors.New("BROKER_BLOCK must be positive")
	}
	if c.Broker.ClaimIdle <= 0 {
		return errors.New("BROKER_CLAIM_IDLE must be positive")
	}
	return nil
}

// KafkaBrokerList splits KAFKA_BROKERS on commas.
func (b Broker) KafkaBrokerList() []string {
	return platformstrings.SplitList(b.KafkaBrokers, ",")
}

// RelayURLs splits NOSTR_RELAYS on commas.
func (r Relay) RelayURLs() []string {
	return platformstrings.SplitList(r.URLs, ",")
}
