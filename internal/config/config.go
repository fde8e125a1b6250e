package config

import (
	"time"
)

var BuildVersion = "development"

// Validation tags described here: https://pkg.go.dev/github.com/go-playground/validator/v10
type Config struct {
	Blockchain struct {
		EthNodeAddress string `env:"ETH_NODE_ADDRESS"    flag:"eth-node-address"    validate:"omitempty,url"  desc:"ethereum node url, leave empty to run with the mock settlement gateway"`
		EthLegacyTx    bool   `env:"ETH_NODE_LEGACY_TX"  flag:"eth-node-legacy-tx"  desc:"use it to disable EIP-1559 transactions"`
		PrivateKey     string `env:"WALLET_PRIVATE_KEY"  flag:"wallet-private-key"  validate:"required_with=EthNodeAddress"`
	}
	Environment string `env:"ENVIRONMENT" flag:"environment"`
	Escrow      struct {
		FeeRateBps          int64         `env:"ESCROW_FEE_RATE_BPS"          flag:"escrow-fee-rate-bps"          validate:"omitempty,min=0,max=10000" desc:"platform fee in basis points, charged once at escrow creation"`
		RequiredSignatures  int           `env:"ESCROW_REQUIRED_SIGNATURES"   flag:"escrow-required-signatures"   validate:"omitempty,min=1"           desc:"default signature quorum size"`
		GatewayTimeout      time.Duration `env:"ESCROW_GATEWAY_TIMEOUT"       flag:"escrow-gateway-timeout"       validate:"omitempty"                 desc:"upper bound for a single settlement gateway call"`
		AutoReleaseInterval time.Duration `env:"ESCROW_AUTORELEASE_INTERVAL"  flag:"escrow-autorelease-interval"  validate:"omitempty"                 desc:"interval between auto-release scheduler ticks"`
	}
	Market struct {
		PollInterval     time.Duration `env:"MARKET_POLL_INTERVAL"      flag:"market-poll-interval"      validate:"omitempty"               desc:"per-symbol quote polling interval"`
		FetchTimeout     time.Duration `env:"MARKET_FETCH_TIMEOUT"      flag:"market-fetch-timeout"      validate:"omitempty"               desc:"upper bound for a single upstream quote fetch"`
		CacheTTL         time.Duration `env:"MARKET_CACHE_TTL"          flag:"market-cache-ttl"          validate:"omitempty"               desc:"lifetime of a cached quote"`
		QuoteHistory     int           `env:"MARKET_QUOTE_HISTORY"      flag:"market-quote-history"      validate:"omitempty,min=1"         desc:"recent quotes retained per symbol"`
		MaxSubscriptions int           `env:"MARKET_MAX_SUBSCRIPTIONS"  flag:"market-max-subscriptions"  validate:"omitempty,min=1"         desc:"global cap on symbol subscriptions"`
		EquityURL        string        `env:"MARKET_EQUITY_URL"         flag:"market-equity-url"         validate:"omitempty,url"           desc:"upstream quote endpoint for equities and indices"`
		CryptoURL        string        `env:"MARKET_CRYPTO_URL"         flag:"market-crypto-url"         validate:"omitempty,url"           desc:"upstream quote endpoint for crypto pairs"`
		ForexURL         string        `env:"MARKET_FOREX_URL"          flag:"market-forex-url"          validate:"omitempty,url"           desc:"upstream quote endpoint for forex pairs"`
	}
	Log struct {
		Color          bool   `env:"LOG_COLOR"           flag:"log-color"`
		FolderPath     string `env:"LOG_FOLDER_PATH"     flag:"log-folder-path"     validate:"omitempty,dirpath"  desc:"enables file logging and sets the folder path"`
		IsProd         bool   `env:"LOG_IS_PROD"         flag:"log-is-prod"         validate:""                   desc:"affects the format of the log output"`
		JSON           bool   `env:"LOG_JSON"            flag:"log-json"`
		LevelApp       string `env:"LOG_LEVEL_APP"       flag:"log-level-app"       validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`
		LevelScheduler string `env:"LOG_LEVEL_SCHEDULER" flag:"log-level-scheduler" validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`
		LevelMarket    string `env:"LOG_LEVEL_MARKET"    flag:"log-level-market"    validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`
		LevelEscrow    string `env:"LOG_LEVEL_ESCROW"    flag:"log-level-escrow"    validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`
	}
	Web struct {
		Address   string `env:"WEB_ADDRESS"    flag:"web-address"    validate:"required,hostname_port" desc:"http server address host:port"`
		PublicUrl string `env:"WEB_PUBLIC_URL" flag:"web-public-url" validate:"omitempty,url"          desc:"public url of the service, falls back to web-address if empty"`
	}
}

func (cfg *Config) SetDefaults() {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	// Escrow

	if cfg.Escrow.FeeRateBps == 0 {
		cfg.Escrow.FeeRateBps = 500
	}
	if cfg.Escrow.RequiredSignatures == 0 {
		cfg.Escrow.RequiredSignatures = 2
	}
	if cfg.Escrow.GatewayTimeout == 0 {
		cfg.Escrow.GatewayTimeout = 1 * time.Minute
	}
	if cfg.Escrow.AutoReleaseInterval == 0 {
		cfg.Escrow.AutoReleaseInterval = 1 * time.Hour
	}

	// Market

	if cfg.Market.PollInterval == 0 {
		cfg.Market.PollInterval = 10 * time.Second
	}
	if cfg.Market.FetchTimeout == 0 {
		cfg.Market.FetchTimeout = 5 * time.Second
	}
	if cfg.Market.CacheTTL == 0 {
		cfg.Market.CacheTTL = 30 * time.Second
	}
	if cfg.Market.QuoteHistory == 0 {
		cfg.Market.QuoteHistory = 50
	}
	if cfg.Market.MaxSubscriptions == 0 {
		cfg.Market.MaxSubscriptions = 1000
	}

	// Log

	if cfg.Log.LevelApp == "" {
		cfg.Log.LevelApp = "debug"
	}
	if cfg.Log.LevelScheduler == "" {
		cfg.Log.LevelScheduler = "info"
	}
	if cfg.Log.LevelMarket == "" {
		cfg.Log.LevelMarket = "info"
	}
	if cfg.Log.LevelEscrow == "" {
		cfg.Log.LevelEscrow = "debug"
	}

	// Web

	if cfg.Web.Address == "" {
		cfg.Web.Address = "0.0.0.0:8080"
	}
	if cfg.Web.PublicUrl == "" {
		cfg.Web.PublicUrl = "http://localhost:8080"
	}
}

// GetSanitized returns a copy of the config with sensitive data removed
// explicitly adding each field here to avoid accidentally leaking sensitive data
func (cfg *Config) GetSanitized() interface{} {
	publicCfg := Config{}

	publicCfg.Blockchain.EthLegacyTx = cfg.Blockchain.EthLegacyTx
	publicCfg.Environment = cfg.Environment

	publicCfg.Escrow.FeeRateBps = cfg.Escrow.FeeRateBps
	publicCfg.Escrow.RequiredSignatures = cfg.Escrow.RequiredSignatures
	publicCfg.Escrow.GatewayTimeout = cfg.Escrow.GatewayTimeout
	publicCfg.Escrow.AutoReleaseInterval = cfg.Escrow.AutoReleaseInterval

	publicCfg.Market.PollInterval = cfg.Market.PollInterval
	publicCfg.Market.FetchTimeout = cfg.Market.FetchTimeout
	publicCfg.Market.CacheTTL = cfg.Market.CacheTTL
	publicCfg.Market.QuoteHistory = cfg.Market.QuoteHistory
	publicCfg.Market.MaxSubscriptions = cfg.Market.MaxSubscriptions

	publicCfg.Log.Color = cfg.Log.Color
	publicCfg.Log.FolderPath = cfg.Log.FolderPath
	publicCfg.Log.IsProd = cfg.Log.IsProd
	publicCfg.Log.JSON = cfg.Log.JSON
	publicCfg.Log.LevelApp = cfg.Log.LevelApp
	publicCfg.Log.LevelScheduler = cfg.Log.LevelScheduler
	publicCfg.Log.LevelMarket = cfg.Log.LevelMarket
	publicCfg.Log.LevelEscrow = cfg.Log.LevelEscrow

	publicCfg.Web.Address = cfg.Web.Address
	publicCfg.Web.PublicUrl = cfg.Web.PublicUrl

	return publicCfg
}
