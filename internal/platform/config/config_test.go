package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets keys for the duration of the test so a dotenv file can
// supply them.
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func validConfig() Config {
	return Config{
		Database: Database{URL: "postgres://localhost/lamport"},
		Redis:    RedisConfig{URL: "redis://localhost:6379/0"},
		Broker:   Broker{Backend: "redis", BatchSize: 10, Block: 2 * time.Second, ClaimIdle: time.Minute, KafkaBrokers: "localhost:9092"},
		Auth:     Auth{JWTSecret: "secret"},
		Ledger:   Ledger{Allocator: "postgres"},
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	clearEnv(t, "DATABASE_URL", "REDIS_URL", "JWT_SECRET", "NOSTR_RELAYS",
		"BROKER_BATCH_SIZE", "BROKER_CONSUMER", "REWARD_INVITE_POINTS", "LAMPORT_ALLOCATOR")

	path := filepath.Join(t.TempDir(), ".env")
	content := "DATABASE_URL=postgres://db/lamport\n" +
		"REDIS_URL=redis://cache:6379/1\n" +
		"JWT_SECRET=s3cret\n" +
		"NOSTR_RELAYS=wss://relay.one, wss://relay.two,\n" +
		"BROKER_BATCH_SIZE=25\n" +
		"REWARD_INVITE_POINTS=150\n" +
		"LAMPORT_ALLOCATOR=redis\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://db/lamport", cfg.Database.URL)
	assert.Equal(t, "redis://cache:6379/1", cfg.Redis.URL)
	assert.Equal(t, 25, cfg.Broker.BatchSize)
	assert.Equal(t, int32(150), cfg.Rewards.InvitePoints)
	assert.Equal(t, "redis", cfg.Ledger.Allocator)
	assert.Equal(t, []string{"wss://relay.one", "wss://relay.two"}, cfg.Relay.RelayURLs())
	assert.NotEmpty(t, cfg.Broker.Consumer, "consumer name defaults to the hostname")

	// defaults
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "redis", cfg.Broker.Backend)
	assert.Equal(t, "events", cfg.Broker.EventsTopic)
	assert.Equal(t, "nostr", cfg.Broker.RelayTopic)
	assert.Equal(t, 48*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 5.0, cfg.Relay.PublishRate)
	assert.Equal(t, "@every 1h", cfg.Ledger.SweepSchedule)
	assert.Equal(t, int64(1), cfg.Ledger.SeedValue)
	assert.Equal(t, 30, cfg.Limits.AdminPerWindow)
	assert.Equal(t, time.Minute, cfg.Limits.AdminWindow)
}

func TestLoadWithoutEnvFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/lamport")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("BROKER_CONSUMER", "worker-7")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "worker-7", cfg.Broker.Consumer)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid redis setup", mutate: func(*Config) {}},
		{
			name:   "kafka without redis",
			mutate: func(c *Config) { c.Broker.Backend = "kafka"; c.Redis.URL = "" },
		},
		{
			name:   "memory broker without redis",
			mutate: func(c *Config) { c.Broker.Backend = "memory"; c.Redis.URL = "" },
		},
		{
			name:    "redis broker needs url",
			mutate:  func(c *Config) { c.Redis.URL = "" },
			wantErr: "REDIS_URL is required for the redis broker",
		},
		{
			name:    "kafka needs brokers",
			mutate:  func(c *Config) { c.Broker.Backend = "kafka"; c.Broker.KafkaBrokers = " , " },
			wantErr: "KAFKA_BROKERS is required",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Broker.Backend = "nats" },
			wantErr: `unknown broker backend "nats"`,
		},
		{
			name:    "redis allocator needs url",
			mutate:  func(c *Config) { c.Broker.Backend = "kafka"; c.Redis.URL = ""; c.Ledger.Allocator = "redis" },
			wantErr: "REDIS_URL is required for the redis allocator",
		},
		{
			name:    "unknown allocator",
			mutate:  func(c *Config) { c.Ledger.Allocator = "etcd" },
			wantErr: `unknown lamport allocator "etcd"`,
		},
		{
			name:    "database url required",
			mutate:  func(c *Config) { c.Database.URL = "" },
			wantErr: "DATABASE_URL is required",
		},
		{
			name:    "jwt secret required",
			mutate:  func(c *Config) { c.Auth.JWTSecret = "" },
			wantErr: "JWT_SECRET is required",
		},
		{
			name:    "batch size positive",
			mutate:  func(c *Config) { c.Broker.BatchSize = 0 },
			wantErr: "BROKER_BATCH_SIZE must be positive",
		},
		{
			name:    "block positive",
			mutate:  func(c *Config) { c.Broker.Backend = "memory"; c.Broker.Block = 0 },
			wantErr: "BROKER_BLOCK must be positive",
		},
		{
			name:    "claim idle positive",
			mutate:  func(c *Config) { c.Broker.ClaimIdle = -time.Second },
			wantErr: "BROKER_CLAIM_IDLE must be positive",
		},
		{
			name:    "memory allocator with postgres members",
			mutate:  func(c *Config) { c.Broker.Backend = "memory"; c.Ledger.Allocator = "memory" },
			wantErr: "LAMPORT_ALLOCATOR=memory is only usable with in-memory member stores",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestKafkaBrokerList(t *testing.T) {
	b := Broker{KafkaBrokers: "k1:9092,k2:9092 , ,k3:9092"}
	assert.Equal(t, []string{"k1:9092", "k2:9092", "k3:9092"}, b.KafkaBrokerList())
	assert.Empty(t, Broker{}.KafkaBrokerList())
}
