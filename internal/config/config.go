// Package config loads the server configuration: defaults, then an optional
// YAML file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/AccountantBot/coordinator/internal/chain"
	"github.com/AccountantBot/coordinator/internal/models"
	"github.com/AccountantBot/coordinator/internal/tokens"
)

// DefaultPath is tried when no -config flag is given.
const DefaultPath = "configs/config.yaml"

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Chain modes.
const (
	ChainModeRPC  = "rpc"
	ChainModeMock = "mock"
)

// Lock backends.
const (
	LockLocal = "local"
	LockRedis = "redis"
)

type Config struct {
	Log        LogConfig        `yaml:"log"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Chain      ChainConfig      `yaml:"chain"`
	Settlement SettlementConfig `yaml:"settlement"`
	Approvals  ApprovalsConfig  `yaml:"approvals"`
	Allowance  AllowanceConfig  `yaml:"allowance"`
	Lock       LockConfig       `yaml:"lock"`
	Auth       AuthConfig       `yaml:"auth"`
	RateLimit  RateLimitConfig  `yaml:"rateLimit"`
	Tokens     []TokenConfig    `yaml:"tokens"`
}

type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text (colored) or json.
	Format string `yaml:"format"`
}

type ServerConfig struct {
	ListenAddr      string        `yaml:"listenAddr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path"`
	DatabaseURL string `yaml:"databaseUrl"`
}

type ChainConfig struct {
	// Mode is "rpc" for a real node or "mock" for the in-memory chain.
	Mode               string        `yaml:"mode"`
	ChainID            uint64        `yaml:"chainId"`
	RPCURL             string        `yaml:"rpcUrl"`
	SettlementContract string        `yaml:"settlementContract"`
	OperatorKey        string        `yaml:"operatorKey"`
	CallTimeout        time.Duration `yaml:"callTimeout"`
	Breaker            BreakerConfig `yaml:"breaker"`
}

type BreakerConfig struct {
	ConsecutiveFailures uint32        `yaml:"consecutiveFailures"`
	OpenTimeout         time.Duration `yaml:"openTimeout"`
}

type SettlementConfig struct {
	Direction           string        `yaml:"direction"`
	ConfirmationTimeout time.Duration `yaml:"confirmationTimeout"`
	PollInterval        time.Duration `yaml:"pollInterval"`
}

type ApprovalsConfig struct {
	// DefaultThreshold applies to splits that do not set one. 0 = all participants.
	DefaultThreshold int `yaml:"defaultThreshold"`
}

type AllowanceConfig struct {
	MaxRetries      uint64        `yaml:"maxRetries"`
	InitialInterval time.Duration `yaml:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
}

type LockConfig struct {
	Backend   string        `yaml:"backend"`
	RedisAddr string        `yaml:"redisAddr"`
	Prefix    string        `yaml:"prefix"`
	Expiry    time.Duration `yaml:"expiry"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwtSecret"`
	TokenTTL  time.Duration `yaml:"tokenTtl"`
	NonceTTL  time.Duration `yaml:"nonceTtl"`
	// Domain and URI are embedded in Sign-In With Ethereum messages.
	Domain string `yaml:"domain"`
	URI    string `yaml:"uri"`
}

type RateLimitConfig struct {
	// RequestsPerSecond per caller; 0 disables limiting.
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

type TokenConfig struct {
	Address  string `yaml:"address"`
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`
}

// Default returns a configuration that runs locally against the mock chain.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
			Path:   "./data/coordinator.db",
		},
		Chain: ChainConfig{
			Mode:               ChainModeMock,
			ChainID:            tokens.ScrollChainID,
			SettlementContract: "0x000000000000000000000000000000000000dEaD",
			CallTimeout:        15 * time.Second,
			Breaker: BreakerConfig{
				ConsecutiveFailures: 5,
				OpenTimeout:         30 * time.Second,
			},
		},
		Settlement: SettlementConfig{
			Direction:           chain.PayerToParticipants.String(),
			ConfirmationTimeout: 2 * time.Minute,
			PollInterval:        2 * time.Second,
		},
		Allowance: AllowanceConfig{
			MaxRetries:      4,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     2 * time.Second,
		},
		Lock: LockConfig{
			Backend: LockLocal,
			Prefix:  "accountantbot:lock:",
			Expiry:  30 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
			NonceTTL: 5 * time.Minute,
			Domain:   "localhost:8080",
			URI:      "http://localhost:8080",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             20,
		},
	}
}

// Load reads path, or DefaultPath when path is empty. A missing default file
// is not an error; a missing explicit one is.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Keys absent from the file keep their defaults.
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	ApplyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnvOverrides lets deployments inject secrets and endpoints.
func ApplyEnvOverrides(cfg *Config) {
	if v := env("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := env("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := env("LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := env("DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := env("DATABASE_URL"); v != "" {
		cfg.Storage.Driver = DriverPostgres
		cfg.Storage.DatabaseURL = v
	}
	if v := env("CHAIN_MODE"); v != "" {
		cfg.Chain.Mode = v
	}
	if v := env("CHAIN_RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := env("SETTLEMENT_CONTRACT"); v != "" {
		cfg.Chain.SettlementContract = v
	}
	if v := env("OPERATOR_KEY"); v != "" {
		cfg.Chain.OperatorKey = v
	}
	if v := env("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := env("REDIS_ADDR"); v != "" {
		cfg.Lock.Backend = LockRedis
		cfg.Lock.RedisAddr = v
	}
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// Validate reports the first setting that would stop the server from starting.
func (c Config) Validate() error {
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}

	if c.Server.ListenAddr == "" {
		return errors.New("config: server.listenAddr is required")
	}

	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.Path == "" {
			return errors.New("config: storage.path is required for sqlite")
		}
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return errors.New("config: storage.databaseUrl is required for postgres")
		}
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}

	if !common.IsHexAddress(c.Chain.SettlementContract) {
		return fmt.Errorf("config: chain.settlementContract %q is not an address", c.Chain.SettlementContract)
	}
	switch c.Chain.Mode {
	case ChainModeMock:
	case ChainModeRPC:
		if c.Chain.RPCURL == "" {
			return errors.New("config: chain.rpcUrl is required in rpc mode")
		}
		if c.Chain.OperatorKey == "" {
			return errors.New("config: chain.operatorKey is required in rpc mode")
		}
		if len(c.Auth.JWTSecret) < 32 {
			return errors.New("config: auth.jwtSecret must be at least 32 characters in rpc mode")
		}
	default:
		return fmt.Errorf("config: unknown chain mode %q", c.Chain.Mode)
	}

	if _, err := chain.ParseDirection(c.Settlement.Direction); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Settlement.ConfirmationTimeout <= 0 || c.Settlement.PollInterval <= 0 {
		return errors.New("config: settlement timeouts must be positive")
	}
	if c.Approvals.DefaultThreshold < 0 {
		return errors.New("config: approvals.defaultThreshold cannot be negative")
	}

	switch c.Lock.Backend {
	case LockLocal:
	case LockRedis:
		if c.Lock.RedisAddr == "" {
			return errors.New("config: lock.redisAddr is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: unknown lock backend %q", c.Lock.Backend)
	}

	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return errors.New("config: rate limits cannot be negative")
	}
	return nil
}

// Direction returns the parsed settlement direction. Validate has checked it.
func (c Config) Direction() chain.Direction {
	d, _ := chain.ParseDirection(c.Settlement.Direction)
	return d
}

// TokenList returns the configured tokens, or the Scroll defaults when none
// are configured for the Scroll chain.
func (c Config) TokenList() []models.Token {
	if len(c.Tokens) == 0 && c.Chain.ChainID == tokens.ScrollChainID {
		return tokens.DefaultTokens()
	}
	out := make([]models.Token, len(c.Tokens))
	for i, t := range c.Tokens {
		out[i] = models.Token{Address: t.Address, Symbol: t.Symbol, Decimals: t.Decimals, ChainID: c.Chain.ChainID}
	}
	return out
}
