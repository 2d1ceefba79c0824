package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validServer() Config {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	cfg.Exchange.VerifyingContract = "0x0000000000000000000000000000000000000abc"
	return cfg
}

func TestDefaultsValidateForServer(t *testing.T) {
	cfg := validServer()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Limits.Environment = "qa"
	cfg.Gas.Tier = "ludicrous"
	cfg.Exchange.APIKey = "only-key"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil")
	}
	for _, want := range []string{"unknown mode", "unknown environment", "unknown tier", "must all be set together"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestNotionalLimitsPerEnvironment(t *testing.T) {
	tests := []struct {
		env     string
		wantMin string
	}{
		{EnvProduction, "0.1"},
		{EnvStaging, "0.001"},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := Defaults()
			cfg.Limits.Environment = tt.env
			l, err := cfg.NotionalLimits()
			if err != nil {
				t.Fatalf("NotionalLimits: %v", err)
			}
			if l.MinNotional.String() != tt.wantMin || l.MaxNotional.String() != "10" {
				t.Errorf("limits = %s..%s, want %s..10", l.MinNotional, l.MaxNotional, tt.wantMin)
			}
			if l.RateCeilingMultiplier != 10 {
				t.Errorf("ceiling = %d, want 10", l.RateCeilingMultiplier)
			}
		})
	}
}

func TestNotionalLimitsRejectsInvertedBounds(t *testing.T) {
	cfg := Defaults()
	cfg.Limits.Production = NotionalBounds{MinETH: "5", MaxETH: "1"}
	if _, err := cfg.NotionalLimits(); err == nil {
		t.Error("inverted bounds accepted")
	}
}

func TestTokenRegistryNeedsNativePair(t *testing.T) {
	cfg := Defaults()
	cfg.Tokens = cfg.Tokens[2:]
	if _, err := cfg.TokenRegistry(); err == nil {
		t.Error("registry without native tokens accepted")
	}

	d := Defaults()
	reg, err := d.TokenRegistry()
	if err != nil {
		t.Fatalf("TokenRegistry: %v", err)
	}
	if w, ok := reg.Wrapped(); !ok || w.Symbol != "WETH" {
		t.Errorf("Wrapped() = %v, %v", w, ok)
	}
}

func TestPromotionalWallets(t *testing.T) {
	cfg := validServer()
	cfg.Submission.PromotionalWallets = []string{"0x3333333333333333333333333333333333333333"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	got := cfg.PromotionalWallets()
	if len(got) != 1 || got[0].Hex() != "0x3333333333333333333333333333333333333333" {
		t.Errorf("PromotionalWallets() = %v", got)
	}

	cfg.Submission.PromotionalWallets = append(cfg.Submission.PromotionalWallets, "not-a-wallet")
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "promotional wallet") {
		t.Errorf("Validate() = %v, want promotional wallet error", err)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lobot.toml")
	content := `
mode = "watch"

[limits]
environment = "staging"

[refresh]
interval = "3s"

[[tokens]]
address = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"
symbol = "ETH"
decimals = 18
native = true

[[tokens]]
address = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
symbol = "WETH"
decimals = 18
wrapped_native = true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOBOT_LOG_LEVEL", "debug")
	t.Setenv("LOBOT_REFRESH_WALLETS", "0x1111111111111111111111111111111111111111, nope")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "watch" || cfg.LogLevel != "debug" {
		t.Errorf("mode/log_level = %s/%s", cfg.Mode, cfg.LogLevel)
	}
	if cfg.Refresh.Interval.Duration != 3*time.Second {
		t.Errorf("refresh interval = %v", cfg.Refresh.Interval)
	}
	if len(cfg.Tokens) != 2 {
		t.Errorf("tokens = %d, want the file's 2", len(cfg.Tokens))
	}
	if got := cfg.WatchedWallets(); len(got) != 1 {
		t.Errorf("WatchedWallets() = %v, want one valid address", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[exchange]\nbase_ulr = \"x\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "exchange.base_ulr") {
		t.Errorf("Load() = %v, want unknown key error", err)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := validServer()
	cfg.Postgres.DSN = "postgres://app:hunter2@db:5432/lo"
	cfg.Exchange.APISecret = "c2VjcmV0"

	out := RedactedConfig(&cfg)
	if out.Wallet.PrivateKey != redacted || out.Exchange.APISecret != redacted {
		t.Error("secrets left in place")
	}
	if strings.Contains(out.Postgres.DSN, "hunter2") || !strings.Contains(out.Postgres.DSN, "db:5432") {
		t.Errorf("DSN = %q", out.Postgres.DSN)
	}
	out.Notify.Events[0] = "changed"
	if cfg.Notify.Events[0] == "changed" {
		t.Error("redacted copy shares the events slice")
	}
	if cfg.Wallet.PrivateKey == redacted {
		t.Error("original modified")
	}
}
