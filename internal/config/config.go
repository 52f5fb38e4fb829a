package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/0xc0d3d00d/swapcandles/internal/numeric"
)

const (
	StoreFile       = "file"
	StoreMemory     = "memory"
	StorePostgres   = "postgres"
	StoreSQLite     = "sqlite"
	StoreRedis      = "redis"
	StoreClickHouse = "clickhouse"
)

var storeDrivers = map[string]bool{
	StoreFile:       true,
	StoreMemory:     true,
	StorePostgres:   true,
	StoreSQLite:     true,
	StoreRedis:      true,
	StoreClickHouse: true,
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

type Config struct {
	ListenAddress string `env:"ADDR" envDefault:":6969"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	// Chain
	RPCURL        string        `env:"RPC_URL" envDefault:"http://localhost:8545"`
	RPCTimeout    time.Duration `env:"RPC_TIMEOUT" envDefault:"30s"`
	Pairs         []string      `env:"PAIRS" envSeparator:","`
	SwapTopic     string        `env:"SWAP_TOPIC" envDefault:"0xd78ad95fa46c994b6551d0da85fc275fe613ce37657fb8d5e3d130840159d822"`
	StartBlock    uint64        `env:"START_BLOCK" envDefault:"0"`
	BlockRange    uint64        `env:"BLOCK_RANGE" envDefault:"1000"`
	Confirmations uint64        `env:"CONFIRMATIONS" envDefault:"12"`

	// Polling and retries
	PollInterval     time.Duration `env:"POLL_INTERVAL" envDefault:"12s"`
	PollConcurrency  int           `env:"POLL_CONCURRENCY" envDefault:"4"`
	RetryMaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"5"`
	RetryBaseDelay   time.Duration `env:"RETRY_BASE_DELAY" envDefault:"1s"`
	AttemptTimeout   time.Duration `env:"ATTEMPT_TIMEOUT" envDefault:"0s"`
	WarmRestart      bool          `env:"WARM_RESTART" envDefault:"true"`

	// Storage
	StoreDriver      string `env:"STORE_DRIVER" envDefault:"file"`
	DataDir          string `env:"DATA_DIR" envDefault:"./data"`
	ChunkCandleCount int    `env:"CHUNK_CANDLE_COUNT" envDefault:"1024"`
	PostgresDSN      string `env:"POSTGRES_DSN"`
	SQLitePath       string `env:"SQLITE_PATH" envDefault:"./candles.db"`
	RedisURL         string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RedisPassword    string `env:"REDIS_PASSWORD"`
	ClickHouseDSN    string `env:"CLICKHOUSE_DSN"`
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	// Ignore error if .env is missing
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	pairs := cfg.Pairs[:0]
	for _, p := range cfg.Pairs {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			pairs = append(pairs, p)
		}
	}
	cfg.Pairs = pairs

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if len(c.Pairs) == 0 {
		errs = append(errs, errors.New("at least one pair must be configured"))
	}
	seen := make(map[string]bool, len(c.Pairs))
	for _, p := range c.Pairs {
		if err := numeric.ValidatePairAddress(p); err != nil {
			errs = append(errs, err)
		}
		if seen[p] {
			errs = append(errs, fmt.Errorf("pair %s configured twice", p))
		}
		seen[p] = true
	}

	if _, ok := logLevels[c.LogLevel]; !ok {
		errs = append(errs, fmt.Errorf("invalid log level: %s", c.LogLevel))
	}
	if c.RPCURL == "" {
		errs = append(errs, errors.New("rpc url must be set"))
	}
	if c.RPCTimeout <= 0 {
		errs = append(errs, errors.New("rpc timeout must be positive"))
	}
	if c.BlockRange == 0 {
		errs = append(errs, errors.New("block range must be positive"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if c.PollConcurrency < 1 {
		errs = append(errs, errors.New("poll concurrency must be at least 1"))
	}
	if c.RetryMaxAttempts < 1 {
		errs = append(errs, errors.New("retry max attempts must be at least 1"))
	}
	if c.RetryBaseDelay <= 0 {
		errs = append(errs, errors.New("retry base delay must be positive"))
	}
	if c.AttemptTimeout < 0 {
		errs = append(errs, errors.New("attempt timeout must not be negative"))
	}

	if !storeDrivers[c.StoreDriver] {
		errs = append(errs, fmt.Errorf("unknown store driver: %s", c.StoreDriver))
	}
	switch c.StoreDriver {
	case StorePostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for the postgres store"))
		}
	case StoreClickHouse:
		if c.ClickHouseDSN == "" {
			errs = append(errs, errors.New("CLICKHOUSE_DSN is required for the clickhouse store"))
		}
	case StoreFile:
		if c.ChunkCandleCount < 1 {
			errs = append(errs, errors.New("chunk candle count must be at least 1"))
		}
	}

	return errors.Join(errs...)
}

// Level maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) Level() slog.Level {
	if l, ok := logLevels[c.LogLevel]; ok {
		return l
	}
	return slog.LevelInfo
}
