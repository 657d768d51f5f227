package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copybot/internal/config"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_TOMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, "copybot.toml", `
mode = "paper"

[tracking]
trader_address = "0xabc"
poll_interval = "45s"

[sizing]
base_notional = 20.0

[execution]
buffer_factor = 1.5
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0xabc", cfg.Tracking.TraderAddress)
	assert.Equal(t, 45*time.Second, cfg.Tracking.PollInterval.Duration)
	assert.Equal(t, 20.0, cfg.Sizing.BaseNotional)
	assert.Equal(t, 1.5, cfg.Execution.BufferFactor)
	// untouched defaults survive
	assert.Equal(t, 0.99, cfg.Settlement.WinThreshold)
	assert.Contains(t, cfg.Notify.Events, "skip")
	assert.Equal(t, 15*time.Minute, cfg.Server.ReplayWindow.Duration)
	require.NoError(t, cfg.Validate())
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "copybot.yaml", `
mode: paper
tracking:
  trader_address: "0xdef"
  poll_interval: 1m
stoploss:
  stop_pct: 0.2
  markets: ["nba", "election"]
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0xdef", cfg.Tracking.TraderAddress)
	assert.Equal(t, time.Minute, cfg.Tracking.PollInterval.Duration)
	assert.Equal(t, 0.2, cfg.StopLoss.StopPct)
	assert.Equal(t, []string{"nba", "election"}, cfg.StopLoss.Markets)
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeFile(t, "copybot.toml", "mode = \"paper\"\n")
	t.Setenv("COPYBOT_TRACKING_TRADER_ADDRESS", "0xenv")
	t.Setenv("COPYBOT_RISK_MAX_POSITIONS", "3")
	t.Setenv("COPYBOT_NOTIFY_EVENTS", "fill, settle")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0xenv", cfg.Tracking.TraderAddress)
	assert.Equal(t, 3, cfg.Risk.MaxPositions)
	assert.Equal(t, []string{"fill", "settle"}, cfg.Notify.Events)
}

func TestValidate_ClampsPollInterval(t *testing.T) {
	cfg := config.Defaults()
	cfg.Tracking.TraderAddress = "0xabc"
	cfg.Tracking.PollInterval.Duration = time.Second

	require.NoError(t, cfg.Validate())
	assert.Equal(t, config.MinPollInterval, cfg.Tracking.PollInterval.Duration)
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "live"
	cfg.Execution.BufferFactor = 1.0
	cfg.Paper.Store = "mongo"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "wallet: either private_key")
	assert.Contains(t, msg, "tracking: trader_address")
	assert.Contains(t, msg, "execution: buffer_factor")
	assert.Contains(t, msg, "paper: store")
}

func TestRedactedConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Wallet.PrivateKey = "deadbeef"
	cfg.Polymarket.ApiSecret = "secret"
	cfg.Notify.Events = []string{"fill"}
	cfg.Server.APIKey = "dashboard-key"

	red := config.RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "***", red.Polymarket.ApiSecret)
	assert.Equal(t, "", red.Wallet.KeyPassword)

	red.Notify.Events[0] = "changed"
	assert.Equal(t, "fill", cfg.Notify.Events[0])
	assert.Equal(t, "deadbeef", cfg.Wallet.PrivateKey)
}

func TestValidate_TrackingSource(t *testing.T) {
	cfg := config.Defaults()
	cfg.Tracking.TraderAddress = "0xabc"
	cfg.Tracking.Source = "goldsky"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "goldsky_url is required")

	cfg.Tracking.GoldskyURL = "https://api.goldsky.example/subgraphs/orderbook/gn"
	require.NoError(t, cfg.Validate())

	cfg.Tracking.Source = "rpc"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `got "rpc"`)
}
