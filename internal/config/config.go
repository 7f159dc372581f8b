// Package config provides application configuration loaded from
// environment variables. Use MustLoad in main() and thread *Config
// through constructors; there is no package-level singleton.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ServerConfig holds HTTP/WS listener settings.
type ServerConfig struct {
	Port         string // e.g. "3000"
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// StoreConfig holds the Ledger's durable Postgres connection settings.
type StoreConfig struct {
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// CacheConfig holds the Redis-backed price cache connection settings.
type CacheConfig struct {
	Addr string
}

// RoundConfig holds the round engine's timing and limit knobs.
type RoundConfig struct {
	RoundPeriod   time.Duration
	BettingWindow time.Duration
	Tick          time.Duration
	MaxCrash      decimal.Decimal
	MaxStakeFiat  decimal.Decimal
	MinStakeFiat  decimal.Decimal
}

// OracleConfig holds the price oracle's upstream and TTL settings.
type OracleConfig struct {
	UpstreamURL    string
	CacheTTL       time.Duration
	FetchTimeout   time.Duration
	Assets         []string
	FallbackPrices map[string]decimal.Decimal
}

// HubConfig holds the broadcast hub's backpressure and liveness knobs.
type HubConfig struct {
	ObserverQueueSize int
	PingInterval      time.Duration
	ReapAfter         time.Duration
}

// Config is the root configuration object for the service.
type Config struct {
	Server ServerConfig
	Store  StoreConfig
	Cache  CacheConfig
	Round  RoundConfig
	Oracle OracleConfig
	Hub    HubConfig
}

// MustLoad loads configuration from the environment, panicking on any
// malformed integer or decimal value so misconfiguration is caught
// immediately at boot. Malformed millisecond durations fall back to their
// defaults (see getDuration).
func MustLoad() *Config {
	cfg, err := load()
	if err != nil {
		panic(fmt.Sprintf("config: failed to load: %v", err))
	}
	return cfg
}

func load() (*Config, error) {
	cfg := &Config{}

	cfg.Server = ServerConfig{
		Port:         getEnv("LISTEN_PORT", "3000"),
		ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
	}

	dsn := os.Getenv("STORE_URI")
	if dsn == "" {
		dsn = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=disable",
			getEnv("PG_USER", "postgres"),
			getEnv("PG_PASSWORD", "postgres"),
			getEnv("PG_HOST", "localhost"),
			getEnv("PG_PORT", "5432"),
			getEnv("PG_DATABASE", "crashdb"),
		)
	}
	maxOpen, err := getInt("STORE_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("STORE_MAX_OPEN_CONNS: %w", err)
	}
	cfg.Store = StoreConfig{
		DSN:             dsn,
		MaxOpenConns:    maxOpen,
		ConnMaxLifetime: getDuration("STORE_CONN_MAX_LIFETIME", 5*time.Minute),
	}

	cfg.Cache = CacheConfig{
		Addr: getEnv("REDIS_URL", "localhost:6379"),
	}

	maxCrash, err := getDecimal("MAX_CRASH", "120.00")
	if err != nil {
		return nil, fmt.Errorf("MAX_CRASH: %w", err)
	}
	maxStake, err := getDecimal("MAX_STAKE_FIAT", "10000")
	if err != nil {
		return nil, fmt.Errorf("MAX_STAKE_FIAT: %w", err)
	}
	minStake, err := getDecimal("MIN_STAKE_FIAT", "0.01")
	if err != nil {
		return nil, fmt.Errorf("MIN_STAKE_FIAT: %w", err)
	}
	cfg.Round = RoundConfig{
		RoundPeriod:   getDuration("ROUND_PERIOD_MS", 10*time.Second),
		BettingWindow: getDuration("BETTING_WINDOW_MS", 3*time.Second),
		Tick:          getDuration("TICK_MS", 100*time.Millisecond),
		MaxCrash:      maxCrash,
		MaxStakeFiat:  maxStake,
		MinStakeFiat:  minStake,
	}

	assets := strings.Split(getEnv("ASSETS", "BTC,ETH"), ",")
	for i := range assets {
		assets[i] = strings.TrimSpace(assets[i])
	}
	fallbackBTC, err := getDecimal("FALLBACK_PRICE_BTC", "60000.00")
	if err != nil {
		return nil, fmt.Errorf("FALLBACK_PRICE_BTC: %w", err)
	}
	fallbackETH, err := getDecimal("FALLBACK_PRICE_ETH", "3000.00")
	if err != nil {
		return nil, fmt.Errorf("FALLBACK_PRICE_ETH: %w", err)
	}
	cfg.Oracle = OracleConfig{
		UpstreamURL:  getEnv("UPSTREAM_URL", "https://api.coingecko.com/api/v3"),
		CacheTTL:     getDuration("CACHE_TTL_MS", 10*time.Second),
		FetchTimeout: getDuration("PRICE_FETCH_TIMEOUT_MS", 5*time.Second),
		Assets:       assets,
		FallbackPrices: map[string]decimal.Decimal{
			"BTC": fallbackBTC,
			"ETH": fallbackETH,
		},
	}

	queueSize, err := getInt("OBSERVER_QUEUE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("OBSERVER_QUEUE_SIZE: %w", err)
	}
	cfg.Hub = HubConfig{
		ObserverQueueSize: queueSize,
		PingInterval:      getDuration("OBSERVER_PING_INTERVAL_MS", 30*time.Second),
		ReapAfter:         getDuration("OBSERVER_REAP_AFTER_MS", 120*time.Second),
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getDecimal(key, defaultVal string) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		v = defaultVal
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid decimal %q", v)
	}
	return d, nil
}

// getDuration parses an env var given in milliseconds (the "-ms"
// suffixed keys). Falls back to defaultVal on any parse error.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(ms) * time.Millisecond
}
