// Package config defines the limit order service configuration and its
// validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/limitorder/internal/domain"
	"github.com/alanyoungcy/limitorder/internal/engine"
)

// Config is the root configuration. Fields come from a TOML file and may be
// overridden by LOBOT_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Exchange   ExchangeConfig   `toml:"exchange"`
	Limits     LimitsConfig     `toml:"limits"`
	Gas        GasConfig        `toml:"gas"`
	Tokens     []domain.Token   `toml:"tokens"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Refresh    RefreshConfig    `toml:"refresh"`
	Submission SubmissionConfig `toml:"submission"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig locates the signing key. A raw key wins over the encrypted
// file.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ExchangeConfig points at the order service.
type ExchangeConfig struct {
	BaseURL           string   `toml:"base_url"`
	WSURL             string   `toml:"ws_url"`
	ChainID           int64    `toml:"chain_id"`
	VerifyingContract string   `toml:"verifying_contract"`
	APIKey            string   `toml:"api_key"`
	APISecret         string   `toml:"api_secret"`
	APIPassphrase     string   `toml:"api_passphrase"`
	Timeout           duration `toml:"timeout"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
	BreakerFailures   uint32   `toml:"breaker_failures"`
	BreakerTimeout    duration `toml:"breaker_timeout"`
}

// NotionalBounds are decimal ETH amounts.
type NotionalBounds struct {
	MinETH string `toml:"min_eth"`
	MaxETH string `toml:"max_eth"`
}

// LimitsConfig keeps both environments' bounds; Environment picks one.
type LimitsConfig struct {
	Environment string         `toml:"environment"`
	Production  NotionalBounds `toml:"production"`
	Staging     NotionalBounds `toml:"staging"`
	RateCeiling int64          `toml:"rate_ceiling"`
}

// GasConfig selects the price tier for conversion estimates.
type GasConfig struct {
	Tier         string `toml:"tier"`
	WrapGasLimit uint64 `toml:"wrap_gas_limit"`
}

// PostgresConfig holds database connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	MaxConns      int    `toml:"max_conns"`
	MinConns      int    `toml:"min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	Prefix       string   `toml:"prefix"`
	SessionTTL   duration `toml:"session_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
}

// S3Config holds object storage parameters for the archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// RefreshConfig drives the background session refresher.
type RefreshConfig struct {
	Interval duration `toml:"interval"`
	RateTTL  duration `toml:"rate_ttl"`
	Wallets  []string `toml:"wallets"`
}

// SubmissionConfig bounds submission attempts per wallet.
type SubmissionConfig struct {
	LockTTL   duration `toml:"lock_ttl"`
	PerMinute int      `toml:"per_minute"`
	// PromotionalWallets may not place limit orders.
	PromotionalWallets []string `toml:"promotional_wallets"`
}

// ArchiveConfig controls the terminal order archive.
type ArchiveConfig struct {
	RetentionDays int `toml:"retention_days"`
}

// duration decodes TOML strings like "5m" or "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port         int      `toml:"port"`
	CORSOrigins  []string `toml:"cors_origins"`
	ReadTimeout  duration `toml:"read_timeout"`
	WriteTimeout duration `toml:"write_timeout"`
	// APIKey enables bearer authentication on the API when set.
	APIKey string `toml:"api_key"`
	// RequestsPerMinute caps requests per client address; zero disables it.
	RequestsPerMinute int `toml:"requests_per_minute"`
}

// NotifyConfig holds notification channel credentials. Events lists the
// order event types to forward; empty forwards all.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

const (
	EnvProduction = "production"
	EnvStaging    = "staging"
)

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			BaseURL:           "https://limit-order.kyber.network",
			WSURL:             "wss://limit-order.kyber.network/ws",
			ChainID:           1,
			Timeout:           duration{15 * time.Second},
			RequestsPerSecond: 10,
			Burst:             5,
			BreakerFailures:   5,
			BreakerTimeout:    duration{30 * time.Second},
		},
		Limits: LimitsConfig{
			Environment: EnvProduction,
			Production:  NotionalBounds{MinETH: "0.1", MaxETH: "10"},
			Staging:     NotionalBounds{MinETH: "0.001", MaxETH: "10"},
			RateCeiling: engine.DefaultRateCeiling,
		},
		Gas: GasConfig{
			Tier:         string(domain.GasTierStandard),
			WrapGasLimit: 45_000,
		},
		Tokens: []domain.Token{
			{Address: domain.NativeAddress, Symbol: "ETH", Decimals: 18, Native: true},
			{Address: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), Symbol: "WETH", Decimals: 18, WrappedNative: true},
			{Address: common.HexToAddress("0xdeFA4e8a7bcBA345F687a2f1456F5Edd9CE97202"), Symbol: "KNC", Decimals: 18},
			{Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), Symbol: "USDC", Decimals: 6},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "limitorder",
			User:          "limitorder",
			SSLMode:       "disable",
			MaxConns:      10,
			MinConns:      1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			Prefix:       "lobot",
			SessionTTL:   duration{24 * time.Hour},
			StreamMaxLen: 10_000,
		},
		S3: S3Config{
			Region: "us-east-1",
			UseSSL: true,
		},
		Refresh: RefreshConfig{
			Interval: duration{10 * time.Second},
			RateTTL:  duration{5 * time.Minute},
		},
		Submission: SubmissionConfig{
			LockTTL:   duration{5 * time.Minute},
			PerMinute: 10,
		},
		Archive: ArchiveConfig{RetentionDays: 90},
		Server: ServerConfig{
			Port:              8080,
			CORSOrigins:       []string{"http://localhost:3000"},
			ReadTimeout:       duration{15 * time.Second},
			WriteTimeout:      duration{30 * time.Second},
			RequestsPerMinute: 600,
		},
		Notify: NotifyConfig{
			Events: []string{domain.OrderEventAccepted, domain.OrderEventRejected, domain.OrderEventCancelled},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server":  true,
	"watch":   true,
	"archive": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validTiers = map[string]bool{
	string(domain.GasTierSlow):      true,
	string(domain.GasTierStandard):  true,
	string(domain.GasTierFast):      true,
	string(domain.GasTierSuperFast): true,
}

// Validate returns one error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, watch, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Mode == "server" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode server")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
		if !common.IsHexAddress(c.Exchange.VerifyingContract) {
			errs = append(errs, fmt.Sprintf("exchange: verifying_contract %q is not an address", c.Exchange.VerifyingContract))
		}
	}

	if c.Mode != "archive" {
		if c.Exchange.BaseURL == "" {
			errs = append(errs, "exchange: base_url must not be empty")
		}
		if c.Exchange.WSURL == "" {
			errs = append(errs, "exchange: ws_url must not be empty")
		}
	}
	if c.Exchange.ChainID <= 0 {
		errs = append(errs, "exchange: chain_id must be positive")
	}
	k, s, p := c.Exchange.APIKey != "", c.Exchange.APISecret != "", c.Exchange.APIPassphrase != ""
	if (k || s || p) && !(k && s && p) {
		errs = append(errs, "exchange: api_key, api_secret and api_passphrase must all be set together")
	}

	switch c.Limits.Environment {
	case EnvProduction, EnvStaging:
	default:
		errs = append(errs, fmt.Sprintf("limits: unknown environment %q (valid: production, staging)", c.Limits.Environment))
	}
	if _, err := c.NotionalLimits(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Limits.RateCeiling < 1 {
		errs = append(errs, "limits: rate_ceiling must be >= 1")
	}

	for _, w := range c.Submission.PromotionalWallets {
		if !common.IsHexAddress(w) {
			errs = append(errs, fmt.Sprintf("submission: promotional wallet %q is not an address", w))
		}
	}

	if !validTiers[c.Gas.Tier] {
		errs = append(errs, fmt.Sprintf("gas: unknown tier %q", c.Gas.Tier))
	}
	if c.Gas.WrapGasLimit == 0 {
		errs = append(errs, "gas: wrap_gas_limit must be > 0")
	}

	if _, err := c.TokenRegistry(); err != nil {
		errs = append(errs, err.Error())
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.MaxConns < 1 {
		errs = append(errs, "postgres: max_conns must be >= 1")
	}
	if c.Postgres.MinConns < 0 || c.Postgres.MinConns > c.Postgres.MaxConns {
		errs = append(errs, "postgres: min_conns must be between 0 and max_conns")
	}

	if c.Mode != "archive" {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Refresh.Interval.Duration <= 0 {
			errs = append(errs, "refresh: interval must be positive")
		}
	}

	if c.Mode == "archive" {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty for mode archive")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	if c.Mode == "server" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RequestsPerMinute < 0 {
		errs = append(errs, "server: requests_per_minute must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// NotionalLimits returns the engine limits for the configured environment.
func (c *Config) NotionalLimits() (engine.Limits, error) {
	b := c.Limits.Production
	if c.Limits.Environment == EnvStaging {
		b = c.Limits.Staging
	}
	lo, err := domain.ParseAmount(b.MinETH, 18)
	if err != nil {
		return engine.Limits{}, fmt.Errorf("limits: min_eth %q: %w", b.MinETH, err)
	}
	hi, err := domain.ParseAmount(b.MaxETH, 18)
	if err != nil {
		return engine.Limits{}, fmt.Errorf("limits: max_eth %q: %w", b.MaxETH, err)
	}
	if lo.Cmp(hi) > 0 {
		return engine.Limits{}, fmt.Errorf("limits: min_eth %s exceeds max_eth %s", lo, hi)
	}
	return engine.Limits{MinNotional: lo, MaxNotional: hi, RateCeilingMultiplier: c.Limits.RateCeiling}, nil
}

// TokenRegistry builds the registry from the tokens table. Exactly one
// native and one wrapped-native token are required.
func (c *Config) TokenRegistry() (*domain.TokenRegistry, error) {
	var native, wrapped int
	seen := make(map[common.Address]bool, len(c.Tokens))
	for _, t := range c.Tokens {
		if t.Symbol == "" {
			return nil, fmt.Errorf("tokens: %s has no symbol", t.Address.Hex())
		}
		if seen[t.Address] {
			return nil, fmt.Errorf("tokens: %s listed twice", t.Address.Hex())
		}
		seen[t.Address] = true
		if t.Native {
			native++
		}
		if t.WrappedNative {
			wrapped++
		}
	}
	if native != 1 || wrapped != 1 {
		return nil, fmt.Errorf("tokens: need exactly one native and one wrapped_native token, got %d and %d", native, wrapped)
	}
	return domain.NewTokenRegistry(c.Tokens), nil
}

// PromotionalWallets parses submission.promotional_wallets, skipping invalid
// entries.
func (c *Config) PromotionalWallets() []common.Address {
	out := make([]common.Address, 0, len(c.Submission.PromotionalWallets))
	for _, w := range c.Submission.PromotionalWallets {
		if common.IsHexAddress(w) {
			out = append(out, common.HexToAddress(w))
		}
	}
	return out
}

// WatchedWallets parses refresh.wallets, skipping invalid entries.
func (c *Config) WatchedWallets() []common.Address {
	out := make([]common.Address, 0, len(c.Refresh.Wallets))
	for _, w := range c.Refresh.Wallets {
		if common.IsHexAddress(w) {
			out = append(out, common.HexToAddress(w))
		}
	}
	return out
}
