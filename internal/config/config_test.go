package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AccountantBot/coordinator/internal/chain"
	"github.com/AccountantBot/coordinator/internal/tokens"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  listenAddr: ":9090"
settlement:
  direction: participants_to_payer
  confirmationTimeout: 45s
approvals:
  defaultThreshold: 2
tokens:
  - address: "0x06eFdBFf2a14a7c8E15944D1F4A48F9F95F663A4"
    symbol: USDC
    decimals: 6
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listenAddr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Settlement.ConfirmationTimeout != 45*time.Second {
		t.Errorf("confirmationTimeout = %s", cfg.Settlement.ConfirmationTimeout)
	}
	if cfg.Settlement.PollInterval != 2*time.Second {
		t.Errorf("pollInterval should keep its default, got %s", cfg.Settlement.PollInterval)
	}
	if cfg.Direction() != chain.ParticipantsToPayer {
		t.Errorf("direction = %s", cfg.Direction())
	}
	if cfg.Approvals.DefaultThreshold != 2 {
		t.Errorf("defaultThreshold = %d", cfg.Approvals.DefaultThreshold)
	}
	if got := cfg.TokenList(); len(got) != 1 || got[0].ChainID != tokens.ScrollChainID {
		t.Errorf("TokenList = %+v", got)
	}
	if cfg.Storage.Driver != DriverSQLite {
		t.Errorf("storage driver should keep its default, got %q", cfg.Storage.Driver)
	}
}

func TestLoadMissingFiles(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected an error for a missing explicit config file")
	}

	t.Chdir(t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load without a default file failed: %v", err)
	}
	if cfg.Chain.Mode != ChainModeMock {
		t.Errorf("mode = %q, want mock", cfg.Chain.Mode)
	}
	if len(cfg.TokenList()) != len(tokens.DefaultTokens()) {
		t.Errorf("Expected default tokens")
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "server: [")
	if _, err := Load(path); err == nil {
		t.Error("Expected a parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":7000")
	t.Setenv("DATABASE_URL", "postgres://localhost/coordinator")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("CHAIN_MODE", "rpc")
	t.Setenv("CHAIN_RPC_URL", "https://rpc.scroll.io")
	t.Setenv("OPERATOR_KEY", "0xabc")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("LOG_FORMAT", "json")

	cfg := Default()
	ApplyEnvOverrides(&cfg)

	if cfg.Server.ListenAddr != ":7000" {
		t.Errorf("listenAddr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Storage.Driver != DriverPostgres || cfg.Storage.DatabaseURL == "" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("log format = %q", cfg.Log.Format)
	}
	if cfg.Lock.Backend != LockRedis || cfg.Lock.RedisAddr != "localhost:6379" {
		t.Errorf("lock = %+v", cfg.Lock)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
		{"empty listen addr", func(c *Config) { c.Server.ListenAddr = "" }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }},
		{"postgres without url", func(c *Config) { c.Storage.Driver = DriverPostgres }},
		{"bad contract", func(c *Config) { c.Chain.SettlementContract = "contract" }},
		{"unknown chain mode", func(c *Config) { c.Chain.Mode = "fork" }},
		{"rpc without url", func(c *Config) { c.Chain.Mode = ChainModeRPC }},
		{"rpc with short secret", func(c *Config) {
			c.Chain.Mode = ChainModeRPC
			c.Chain.RPCURL = "http://localhost:8545"
			c.Chain.OperatorKey = "0xabc"
			c.Auth.JWTSecret = "short"
		}},
		{"bad direction", func(c *Config) { c.Settlement.Direction = "sideways" }},
		{"zero confirmation timeout", func(c *Config) { c.Settlement.ConfirmationTimeout = 0 }},
		{"negative threshold", func(c *Config) { c.Approvals.DefaultThreshold = -1 }},
		{"redis without addr", func(c *Config) { c.Lock.Backend = LockRedis }},
		{"unknown lock backend", func(c *Config) { c.Lock.Backend = "etcd" }},
		{"negative rate", func(c *Config) { c.RateLimit.RequestsPerSecond = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
