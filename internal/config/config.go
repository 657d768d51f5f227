// Package config defines the top-level configuration for the copy-trading
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// (or YAML) file and then optionally overridden by COPYBOT_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet" yaml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket" yaml:"polymarket"`
	Tracking   TrackingConfig   `toml:"tracking" yaml:"tracking"`
	Sizing     SizingConfig     `toml:"sizing" yaml:"sizing"`
	Risk       RiskConfig       `toml:"risk" yaml:"risk"`
	Execution  ExecutionConfig  `toml:"execution" yaml:"execution"`
	Stream     StreamConfig     `toml:"stream" yaml:"stream"`
	StopLoss   StopLossConfig   `toml:"stoploss" yaml:"stoploss"`
	Paper      PaperConfig      `toml:"paper" yaml:"paper"`
	Settlement SettlementConfig `toml:"settlement" yaml:"settlement"`
	Database   DatabaseConfig   `toml:"database" yaml:"database"`
	Redis      RedisConfig      `toml:"redis" yaml:"redis"`
	S3         S3Config         `toml:"s3" yaml:"s3"`
	Notify     NotifyConfig     `toml:"notify" yaml:"notify"`
	Server     ServerConfig     `toml:"server" yaml:"server"`
	Mode       string           `toml:"mode" yaml:"mode"`
	LogLevel   string           `toml:"log_level" yaml:"log_level"`
}

// WalletConfig holds Ethereum wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key" yaml:"private_key"`
	SafeAddress      string `toml:"safe_address" yaml:"safe_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path" yaml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password" yaml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints, chain parameters and the
// optional L2 API credentials. When the credentials are empty they are
// derived from the wallet at startup.
type PolymarketConfig struct {
	ClobHost          string  `toml:"clob_host" yaml:"clob_host"`
	GammaHost         string  `toml:"gamma_host" yaml:"gamma_host"`
	DataHost          string  `toml:"data_host" yaml:"data_host"`
	WsHost            string  `toml:"ws_host" yaml:"ws_host"`
	ChainID           int     `toml:"chain_id" yaml:"chain_id"`
	SignatureType     int     `toml:"signature_type" yaml:"signature_type"`
	ApiKey            string  `toml:"api_key" yaml:"api_key"`
	ApiSecret         string  `toml:"api_secret" yaml:"api_secret"`
	ApiPassphrase     string  `toml:"api_passphrase" yaml:"api_passphrase"`
	RequestsPerSecond float64 `toml:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `toml:"burst" yaml:"burst"`
}

// TrackingConfig selects the trader to mirror and how often to poll.
type TrackingConfig struct {
	TraderAddress string   `toml:"trader_address" yaml:"trader_address"`
	PollInterval  duration `toml:"poll_interval" yaml:"poll_interval"`
	Lookback      duration `toml:"lookback" yaml:"lookback"`
	BatchLimit    int      `toml:"batch_limit" yaml:"batch_limit"`
	DedupTTL      duration `toml:"dedup_ttl" yaml:"dedup_ttl"`
	Source        string   `toml:"source" yaml:"source"` // "data" or "goldsky"
	GoldskyURL    string   `toml:"goldsky_url" yaml:"goldsky_url"`
	GoldskyAPIKey string   `toml:"goldsky_api_key" yaml:"goldsky_api_key"`
}

// SizingConfig parameterises the order sizer tiers.
type SizingConfig struct {
	BaseNotional      float64 `toml:"base_notional" yaml:"base_notional"`
	MinOrderNotional  float64 `toml:"min_order_notional" yaml:"min_order_notional"`
	MaxOrderNotional  float64 `toml:"max_order_notional" yaml:"max_order_notional"`
	HighConfMin       float64 `toml:"high_conf_min" yaml:"high_conf_min"`
	HighConfMax       float64 `toml:"high_conf_max" yaml:"high_conf_max"`
	HighConfNotional  float64 `toml:"high_conf_notional" yaml:"high_conf_notional"`
	OptimalMin        float64 `toml:"optimal_min" yaml:"optimal_min"`
	OptimalMax        float64 `toml:"optimal_max" yaml:"optimal_max"`
	OptimalMultiplier float64 `toml:"optimal_multiplier" yaml:"optimal_multiplier"`
	HalveFirstFill    bool    `toml:"halve_first_fill" yaml:"halve_first_fill"`
}

// RiskConfig holds portfolio-level limits.
type RiskConfig struct {
	MaxPositions     int     `toml:"max_positions" yaml:"max_positions"`
	MaxExposure      float64 `toml:"max_exposure" yaml:"max_exposure"`
	MaxPerInstrument float64 `toml:"max_per_instrument" yaml:"max_per_instrument"`
}

// ExecutionConfig tunes the liquidity walk and the retry table.
type ExecutionConfig struct {
	BufferFactor     float64  `toml:"buffer_factor" yaml:"buffer_factor"`
	MaxLevelAttempts int      `toml:"max_level_attempts" yaml:"max_level_attempts"`
	NonceRetries     int      `toml:"nonce_retries" yaml:"nonce_retries"`
	EdgeRetries      int      `toml:"edge_retries" yaml:"edge_retries"`
	EdgeBackoff      duration `toml:"edge_backoff" yaml:"edge_backoff"`
	EdgeMaxBackoff   duration `toml:"edge_max_backoff" yaml:"edge_max_backoff"`
	BookFreshness    duration `toml:"book_freshness" yaml:"book_freshness"`
}

// StreamConfig tunes the orderbook websocket.
type StreamConfig struct {
	ReconnectDelay       duration `toml:"reconnect_delay" yaml:"reconnect_delay"`
	MaxReconnectDelay    duration `toml:"max_reconnect_delay" yaml:"max_reconnect_delay"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	PingInterval         duration `toml:"ping_interval" yaml:"ping_interval"`
}

// StopLossConfig controls live position protection.
type StopLossConfig struct {
	Enabled           bool     `toml:"enabled" yaml:"enabled"`
	StopPct           float64  `toml:"stop_pct" yaml:"stop_pct"`
	MinHold           duration `toml:"min_hold" yaml:"min_hold"`
	Markets           []string `toml:"markets" yaml:"markets"` // slug/title substrings; empty matches all
	ReconcileInterval duration `toml:"reconcile_interval" yaml:"reconcile_interval"`
}

// PaperConfig controls the simulated ledger.
type PaperConfig struct {
	StartingBalance  float64 `toml:"starting_balance" yaml:"starting_balance"`
	HistoryLimit     int     `toml:"history_limit" yaml:"history_limit"`
	CapPerInstrument bool    `toml:"cap_per_instrument" yaml:"cap_per_instrument"`
	Store            string  `toml:"store" yaml:"store"` // "sqlite" or "postgres"
	SQLitePath       string  `toml:"sqlite_path" yaml:"sqlite_path"`
}

// SettlementConfig controls paper position settlement.
type SettlementConfig struct {
	Interval      duration `toml:"interval" yaml:"interval"`
	Cooldown      duration `toml:"cooldown" yaml:"cooldown"`
	WinThreshold  float64  `toml:"win_threshold" yaml:"win_threshold"`
	LossThreshold float64  `toml:"loss_threshold" yaml:"loss_threshold"`
	InvertEnabled bool     `toml:"invert_enabled" yaml:"invert_enabled"`
	SumTolerance  float64  `toml:"sum_tolerance" yaml:"sum_tolerance"`
	MinDifference float64  `toml:"min_difference" yaml:"min_difference"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Enabled       bool   `toml:"enabled" yaml:"enabled"`
	DSN           string `toml:"dsn" yaml:"dsn"`
	PoolMaxConns  int    `toml:"pool_max_conns" yaml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns" yaml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations" yaml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled" yaml:"enabled"`
	Addr       string   `toml:"addr" yaml:"addr"`
	Password   string   `toml:"password" yaml:"password"`
	DB         int      `toml:"db" yaml:"db"`
	PoolSize   int      `toml:"pool_size" yaml:"pool_size"`
	MaxRetries int      `toml:"max_retries" yaml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled" yaml:"tls_enabled"`
	BookTTL    duration `toml:"book_ttl" yaml:"book_ttl"`
	LockTTL    duration `toml:"lock_ttl" yaml:"lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled         bool     `toml:"enabled" yaml:"enabled"`
	Endpoint        string   `toml:"endpoint" yaml:"endpoint"`
	Region          string   `toml:"region" yaml:"region"`
	Bucket          string   `toml:"bucket" yaml:"bucket"`
	AccessKey       string   `toml:"access_key" yaml:"access_key"`
	SecretKey       string   `toml:"secret_key" yaml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl" yaml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style" yaml:"force_path_style"`
	Prefix          string   `toml:"prefix" yaml:"prefix"`
	ArchiveInterval duration `toml:"archive_interval" yaml:"archive_interval"`
	RestoreOnStart  bool     `toml:"restore_on_start" yaml:"restore_on_start"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token" yaml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id" yaml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url" yaml:"discord_webhook_url"`
	Events            []string `toml:"events" yaml:"events"`
	BusChannel        string   `toml:"bus_channel" yaml:"bus_channel"`
	BusStream         string   `toml:"bus_stream" yaml:"bus_stream"`
	QueueSize         int      `toml:"queue_size" yaml:"queue_size"` // events buffered ahead of the senders
}

// ServerConfig controls the read-only monitoring API.
type ServerConfig struct {
	Enabled           bool     `toml:"enabled" yaml:"enabled"`
	Addr              string   `toml:"addr" yaml:"addr"`
	APIKey            string   `toml:"api_key" yaml:"api_key"` // empty disables auth
	CORSOrigins       []string `toml:"cors_origins" yaml:"cors_origins"`
	RequestsPerSecond float64  `toml:"requests_per_second" yaml:"requests_per_second"`
	Burst             int      `toml:"burst" yaml:"burst"`
	ReplayWindow      duration `toml:"replay_window" yaml:"replay_window"` // journal replay to new ws subscribers
}

// duration is a wrapper around time.Duration that supports string decoding
// (e.g. "5m", "30s") from both TOML and YAML.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// MinPollInterval is the floor applied to tracking.poll_interval.
const MinPollInterval = 10 * time.Second

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:          "https://clob.polymarket.com",
			GammaHost:         "https://gamma-api.polymarket.com",
			DataHost:          "https://data-api.polymarket.com",
			WsHost:            "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:           137,
			SignatureType:     2,
			RequestsPerSecond: 5,
			Burst:             5,
		},
		Tracking: TrackingConfig{
			PollInterval: duration{30 * time.Second},
			Lookback:     duration{10 * time.Minute},
			BatchLimit:   100,
			DedupTTL:     duration{24 * time.Hour},
			Source:       "data",
		},
		Sizing: SizingConfig{
			BaseNotional:      10,
			MinOrderNotional:  1,
			MaxOrderNotional:  50,
			HighConfMin:       0.90,
			HighConfMax:       0.97,
			HighConfNotional:  5,
			OptimalMin:        0.55,
			OptimalMax:        0.80,
			OptimalMultiplier: 1.5,
			HalveFirstFill:    true,
		},
		Risk: RiskConfig{
			MaxPositions:     10,
			MaxExposure:      500,
			MaxPerInstrument: 100,
		},
		Execution: ExecutionConfig{
			BufferFactor:     1.3,
			MaxLevelAttempts: 3,
			NonceRetries:     3,
			EdgeRetries:      3,
			EdgeBackoff:      duration{2 * time.Second},
			EdgeMaxBackoff:   duration{30 * time.Second},
			BookFreshness:    duration{5 * time.Second},
		},
		Stream: StreamConfig{
			ReconnectDelay:       duration{2 * time.Second},
			MaxReconnectDelay:    duration{60 * time.Second},
			MaxReconnectAttempts: 10,
			PingInterval:         duration{10 * time.Second},
		},
		StopLoss: StopLossConfig{
			Enabled:           true,
			StopPct:           0.10,
			MinHold:           duration{5 * time.Minute},
			ReconcileInterval: duration{time.Minute},
		},
		Paper: PaperConfig{
			StartingBalance:  1000,
			HistoryLimit:     500,
			CapPerInstrument: true,
			Store:            "sqlite",
			SQLitePath:       "copybot.db",
		},
		Settlement: SettlementConfig{
			Interval:      duration{time.Minute},
			Cooldown:      duration{5 * time.Minute},
			WinThreshold:  0.99,
			LossThreshold: 0.01,
			InvertEnabled: true,
			SumTolerance:  0.05,
			MinDifference: 0.5,
		},
		Database: DatabaseConfig{
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			BookTTL:    duration{30 * time.Second},
			LockTTL:    duration{time.Minute},
		},
		S3: S3Config{
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "copybot-data",
			ForcePathStyle:  true,
			Prefix:          "ledger",
			ArchiveInterval: duration{time.Hour},
		},
		Notify: NotifyConfig{
			Events:     []string{"fill", "skip", "fault", "settle", "stoploss"},
			BusChannel: "events",
			BusStream:  "journal",
			QueueSize:  256,
		},
		Server: ServerConfig{
			Addr:              ":8080",
			RequestsPerSecond: 10,
			Burst:             20,
			ReplayWindow:      duration{15 * time.Minute},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"paper":  true,
	"live":   true,
	"status": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found. Poll intervals below the
// floor are clamped rather than rejected.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: paper, live, status)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if mode == "live" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode live")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if c.Polymarket.ClobHost == "" || c.Polymarket.DataHost == "" || c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: clob_host, gamma_host and data_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType < 0 || c.Polymarket.SignatureType > 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 0, 1 or 2, got %d", c.Polymarket.SignatureType))
	}
	ak, as, ap := c.Polymarket.ApiKey != "", c.Polymarket.ApiSecret != "", c.Polymarket.ApiPassphrase != ""
	if (ak || as || ap) && !(ak && as && ap) {
		errs = append(errs, "polymarket: api_key, api_secret, and api_passphrase must all be set together")
	}
	if c.Polymarket.RequestsPerSecond <= 0 {
		errs = append(errs, "polymarket: requests_per_second must be > 0")
	}

	if mode != "status" && c.Tracking.TraderAddress == "" {
		errs = append(errs, "tracking: trader_address must not be empty")
	}
	switch c.Tracking.Source {
	case "data":
	case "goldsky":
		if c.Tracking.GoldskyURL == "" {
			errs = append(errs, "tracking: goldsky_url is required when source is goldsky")
		}
	default:
		errs = append(errs, fmt.Sprintf("tracking: source must be data or goldsky, got %q", c.Tracking.Source))
	}
	if c.Tracking.PollInterval.Duration < MinPollInterval {
		c.Tracking.PollInterval.Duration = MinPollInterval
	}

	s := c.Sizing
	if s.MinOrderNotional <= 0 {
		errs = append(errs, "sizing: min_order_notional must be > 0")
	}
	if s.BaseNotional < s.MinOrderNotional {
		errs = append(errs, "sizing: base_notional must be >= min_order_notional")
	}
	if s.MaxOrderNotional < s.MinOrderNotional {
		errs = append(errs, "sizing: max_order_notional must be >= min_order_notional")
	}
	if s.HighConfMin > s.HighConfMax || s.OptimalMin > s.OptimalMax {
		errs = append(errs, "sizing: band minimums must not exceed maximums")
	}

	if c.Risk.MaxPositions < 1 {
		errs = append(errs, "risk: max_positions must be >= 1")
	}
	if c.Risk.MaxExposure <= 0 || c.Risk.MaxPerInstrument <= 0 {
		errs = append(errs, "risk: max_exposure and max_per_instrument must be > 0")
	}

	if c.Execution.BufferFactor <= 1 {
		errs = append(errs, "execution: buffer_factor must be > 1")
	}
	if c.Execution.MaxLevelAttempts < 1 {
		errs = append(errs, "execution: max_level_attempts must be >= 1")
	}

	if c.StopLoss.Enabled && (c.StopLoss.StopPct <= 0 || c.StopLoss.StopPct >= 1) {
		errs = append(errs, "stoploss: stop_pct must be in (0, 1)")
	}

	if c.Paper.Store != "sqlite" && c.Paper.Store != "postgres" {
		errs = append(errs, fmt.Sprintf("paper: store must be sqlite or postgres, got %q", c.Paper.Store))
	}
	if c.Paper.Store == "postgres" && !c.Database.Enabled {
		errs = append(errs, "paper: store postgres requires database.enabled")
	}
	if c.Paper.StartingBalance < 0 {
		errs = append(errs, "paper: starting_balance must be >= 0")
	}

	if c.Settlement.WinThreshold <= 0.5 || c.Settlement.LossThreshold >= 0.5 {
		errs = append(errs, "settlement: win_threshold must be > 0.5 and loss_threshold < 0.5")
	}

	if c.Database.Enabled && strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, "database: dsn must be set when enabled")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.S3.Enabled && (c.S3.Endpoint == "" || c.S3.Bucket == "") {
		errs = append(errs, "s3: endpoint and bucket must be set when enabled")
	}

	if c.Server.Enabled && c.Server.Addr == "" {
		errs = append(errs, "server: addr must be set when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
