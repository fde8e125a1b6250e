package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	var cfg Config
	args := []string{"cmd"}

	err := LoadConfig(&cfg, &args)
	require.NoError(t, err)

	require.Equal(t, int64(500), cfg.Escrow.FeeRateBps)
	require.Equal(t, 2, cfg.Escrow.RequiredSignatures)
	require.Equal(t, time.Hour, cfg.Escrow.AutoReleaseInterval)
	require.Equal(t, 10*time.Second, cfg.Market.PollInterval)
	require.Equal(t, 30*time.Second, cfg.Market.CacheTTL)
	require.Equal(t, "0.0.0.0:8080", cfg.Web.Address)
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("ESCROW_FEE_RATE_BPS", "250")
	t.Setenv("MARKET_POLL_INTERVAL", "5s")
	t.Setenv("WEB_ADDRESS", "127.0.0.1:9090")

	var cfg Config
	args := []string{"cmd"}

	err := LoadConfig(&cfg, &args)
	require.NoError(t, err)

	require.Equal(t, int64(250), cfg.Escrow.FeeRateBps)
	require.Equal(t, 5*time.Second, cfg.Market.PollInterval)
	require.Equal(t, "127.0.0.1:9090", cfg.Web.Address)
}

func TestLoadConfigFlagOverridesEnv(t *testing.T) {
	t.Setenv("ESCROW_FEE_RATE_BPS", "250")

	var cfg Config
	args := []string{"cmd", "--escrow-fee-rate-bps=100"}

	err := LoadConfig(&cfg, &args)
	require.NoError(t, err)
	require.Equal(t, int64(100), cfg.Escrow.FeeRateBps)
}

func TestLoadConfigValidation(t *testing.T) {
	t.Setenv("ESCROW_FEE_RATE_BPS", "20000")

	var cfg Config
	args := []string{"cmd"}

	err := LoadConfig(&cfg, &args)
	require.ErrorIs(t, err, ErrConfigValidation)
}

func TestGetSanitizedStripsSecrets(t *testing.T) {
	var cfg Config
	cfg.Blockchain.PrivateKey = "deadbeef"
	cfg.SetDefaults()

	sanitized, ok := cfg.GetSanitized().(Config)
	require.True(t, ok)
	require.Empty(t, sanitized.Blockchain.PrivateKey)
	require.Equal(t, cfg.Web.Address, sanitized.Web.Address)
}
