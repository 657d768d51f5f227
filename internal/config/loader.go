package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads a configuration file at path, merges it on top of the built-in
// defaults, applies COPYBOT_* environment variable overrides, and returns the
// final Config. Files ending in .yaml or .yml are decoded as YAML, everything
// else as TOML. The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	default:
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known COPYBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "COPYBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.SafeAddress, "COPYBOT_WALLET_SAFE_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "COPYBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "COPYBOT_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "COPYBOT_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "COPYBOT_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.DataHost, "COPYBOT_POLYMARKET_DATA_HOST")
	setStr(&cfg.Polymarket.WsHost, "COPYBOT_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "COPYBOT_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "COPYBOT_POLYMARKET_SIGNATURE_TYPE")
	setStr(&cfg.Polymarket.ApiKey, "COPYBOT_POLYMARKET_API_KEY")
	setStr(&cfg.Polymarket.ApiSecret, "COPYBOT_POLYMARKET_API_SECRET")
	setStr(&cfg.Polymarket.ApiPassphrase, "COPYBOT_POLYMARKET_API_PASSPHRASE")
	setFloat64(&cfg.Polymarket.RequestsPerSecond, "COPYBOT_POLYMARKET_REQUESTS_PER_SECOND")

	// ── Tracking ──
	setStr(&cfg.Tracking.TraderAddress, "COPYBOT_TRACKING_TRADER_ADDRESS")
	setDuration(&cfg.Tracking.PollInterval, "COPYBOT_TRACKING_POLL_INTERVAL")
	setDuration(&cfg.Tracking.Lookback, "COPYBOT_TRACKING_LOOKBACK")
	setStr(&cfg.Tracking.Source, "COPYBOT_TRACKING_SOURCE")
	setStr(&cfg.Tracking.GoldskyURL, "COPYBOT_TRACKING_GOLDSKY_URL")
	setStr(&cfg.Tracking.GoldskyAPIKey, "COPYBOT_TRACKING_GOLDSKY_API_KEY")

	// ── Sizing / risk ──
	setFloat64(&cfg.Sizing.BaseNotional, "COPYBOT_SIZING_BASE_NOTIONAL")
	setFloat64(&cfg.Sizing.MinOrderNotional, "COPYBOT_SIZING_MIN_ORDER_NOTIONAL")
	setFloat64(&cfg.Sizing.MaxOrderNotional, "COPYBOT_SIZING_MAX_ORDER_NOTIONAL")
	setInt(&cfg.Risk.MaxPositions, "COPYBOT_RISK_MAX_POSITIONS")
	setFloat64(&cfg.Risk.MaxExposure, "COPYBOT_RISK_MAX_EXPOSURE")
	setFloat64(&cfg.Risk.MaxPerInstrument, "COPYBOT_RISK_MAX_PER_INSTRUMENT")

	// ── Stop-loss ──
	setBool(&cfg.StopLoss.Enabled, "COPYBOT_STOPLOSS_ENABLED")
	setFloat64(&cfg.StopLoss.StopPct, "COPYBOT_STOPLOSS_STOP_PCT")
	setDuration(&cfg.StopLoss.MinHold, "COPYBOT_STOPLOSS_MIN_HOLD")
	setStringSlice(&cfg.StopLoss.Markets, "COPYBOT_STOPLOSS_MARKETS")

	// ── Paper ──
	setFloat64(&cfg.Paper.StartingBalance, "COPYBOT_PAPER_STARTING_BALANCE")
	setStr(&cfg.Paper.Store, "COPYBOT_PAPER_STORE")
	setStr(&cfg.Paper.SQLitePath, "COPYBOT_PAPER_SQLITE_PATH")

	// ── Database ──
	setBool(&cfg.Database.Enabled, "COPYBOT_DATABASE_ENABLED")
	setStr(&cfg.Database.DSN, "COPYBOT_DATABASE_DSN")
	setInt(&cfg.Database.PoolMaxConns, "COPYBOT_DATABASE_POOL_MAX_CONNS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "COPYBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "COPYBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "COPYBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "COPYBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "COPYBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "COPYBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "COPYBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "COPYBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "COPYBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "COPYBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "COPYBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "COPYBOT_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "COPYBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "COPYBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "COPYBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "COPYBOT_NOTIFY_EVENTS")
	setInt(&cfg.Notify.QueueSize, "COPYBOT_NOTIFY_QUEUE_SIZE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "COPYBOT_SERVER_ENABLED")
	setStr(&cfg.Server.Addr, "COPYBOT_SERVER_ADDR")
	setStr(&cfg.Server.APIKey, "COPYBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "COPYBOT_SERVER_CORS_ORIGINS")
	setDuration(&cfg.Server.ReplayWindow, "COPYBOT_SERVER_REPLAY_WINDOW")

	// ── Top-level ──
	setStr(&cfg.Mode, "COPYBOT_MODE")
	setStr(&cfg.LogLevel, "COPYBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
