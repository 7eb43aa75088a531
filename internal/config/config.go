package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/liamashdown/whalewatch/internal/secrets"
)

// ChainSource selects the chain-data collaborator
type ChainSource string

const (
	ChainSourceEtherscan ChainSource = "etherscan"
	ChainSourceRPC       ChainSource = "rpc"
)

// Valid alert modes (comma-separated in ALERT_MODE)
var validAlertModes = map[string]bool{
	"log":       true,
	"webhook":   true,
	"discord":   true,
	"smtp":      true,
	"websocket": true,
}

// Config holds all application configuration
type Config struct {
	// Environment
	Environment string
	LogLevel    string

	// Chain data
	ChainSource      ChainSource
	EtherscanBaseURL string
	EtherscanAPIKey  string
	ChainID          int
	RPCURL           string
	ChainRPS         float64
	ChainTimeout     time.Duration

	// Tracked token
	TokenContract string
	TokenSymbol   string
	TokenDecimals int
	TokenRefRate  float64 // quote units per token, 1.0 for a stablecoin

	// Scanning
	ScanIntervalSec int
	ScanLagBlocks   int
	ScanSpanBlocks  int
	DedupeWindow    int
	EventWorkers    int

	// Detection thresholds
	WhaleThresholdETH   float64
	WhaleThresholdToken float64

	// Profiler
	WhaleFloorETH       float64
	MinTransactions     int
	ProfileCacheTTL     time.Duration
	ProfileCacheMaxSize int
	ProfileFetchTimeout time.Duration

	// Price tracking and impact
	PriceIntervalSec    int
	PriceRetention      time.Duration
	PriceVenue          string
	PriceSymbol         string
	BinanceBaseURL      string
	SubgraphURL         string
	SubgraphPoolID      string
	PoolLabel           string
	MarketRPS           float64
	PriceHorizons       []time.Duration
	DirectionHorizon    time.Duration
	DirectionEpsilonPct float64
	MinVolumeSurgePct   float64
	ImpactCacheMaxAge   time.Duration
	ImpactCacheMaxSize  int

	// Alert classification
	CriticalETHThreshold   float64
	CriticalTokenThreshold float64
	HighETHThreshold       float64
	HighTokenThreshold     float64
	MinAlertConfidence     float64
	AlertHistoryMax        int
	EnableExchangeAlerts   bool

	// Delivery
	AlertMode            string // comma-separated: log, webhook, discord, smtp, websocket
	WebhookURLs          []string
	WebhookSecret        string
	WebhookTimeout       time.Duration
	WebhookRetryAttempts int
	WebhookBackoffBase   time.Duration
	DeliveryWorkers      int
	DeliveryQueueSize    int
	DiscordWebhookURLs   []string
	SMTPHost             string
	SMTPPort             int
	SMTPUser             string
	SMTPPassword         string
	SMTPFrom             string
	SMTPTo               []string
	WebsocketURL         string
	WebsocketToken       string

	// Persistence
	DataFile             string
	AlertFile            string
	DashboardMaxPerAsset int
	DashboardMaxAlerts   int
	DatabaseDSN          string
	DatabaseMaxConns     int
	DatabaseMaxIdleTime  time.Duration

	// Health/metrics
	HealthPort int
}

// Load reads configuration from environment variables, falling back to a
// .env file in the working directory
func Load() (*Config, error) {
	// Missing .env is fine
	_ = godotenv.Load()

	var sec secrets.Loader
	cfg := &Config{
		Environment:            getEnv("ENVIRONMENT", "production"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		ChainSource:            ChainSource(getEnv("CHAIN_SOURCE", "etherscan")),
		EtherscanBaseURL:       getEnv("ETHERSCAN_BASE_URL", "https://api.etherscan.io/v2/api"),
		EtherscanAPIKey:        sec.Get("ETHERSCAN_API_KEY", ""),
		ChainID:                getEnvInt("CHAIN_ID", 1),
		RPCURL:                 sec.Get("RPC_URL", ""),
		ChainRPS:               getEnvFloat("CHAIN_RPS", 4.0),
		ChainTimeout:           time.Duration(getEnvInt("CHAIN_TIMEOUT_SEC", 30)) * time.Second,
		TokenContract:          getEnv("TOKEN_CONTRACT", "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		TokenSymbol:            getEnv("TOKEN_SYMBOL", "USDC"),
		TokenDecimals:          getEnvInt("TOKEN_DECIMALS", 6),
		TokenRefRate:           getEnvFloat("TOKEN_REFERENCE_RATE", 1.0),
		ScanIntervalSec:        getEnvInt("SCAN_INTERVAL_SEC", 12),
		ScanLagBlocks:          getEnvInt("SCAN_LAG_BLOCKS", 2),
		ScanSpanBlocks:         getEnvInt("SCAN_SPAN_BLOCKS", 5),
		DedupeWindow:           getEnvInt("DEDUPE_WINDOW", 4096),
		EventWorkers:           getEnvInt("EVENT_WORKERS", 8),
		WhaleThresholdETH:      getEnvFloat("WHALE_THRESHOLD_ETH", 100),
		WhaleThresholdToken:    getEnvFloat("WHALE_THRESHOLD_TOKEN", 100_000),
		WhaleFloorETH:          getEnvFloat("WHALE_FLOOR_ETH", 10),
		MinTransactions:        getEnvInt("MIN_TRANSACTIONS_FOR_PROFILE", 5),
		ProfileCacheTTL:        time.Duration(getEnvInt("PROFILE_CACHE_HOURS", 24)) * time.Hour,
		ProfileCacheMaxSize:    getEnvInt("PROFILE_CACHE_MAX_SIZE", 10_000),
		ProfileFetchTimeout:    time.Duration(getEnvInt("PROFILE_FETCH_TIMEOUT_SEC", 15)) * time.Second,
		PriceIntervalSec:       getEnvInt("PRICE_INTERVAL_SEC", 60),
		PriceRetention:         time.Duration(getEnvInt("PRICE_HISTORY_HOURS", 24)) * time.Hour,
		PriceVenue:             getEnv("PRICE_VENUE", "binance"),
		PriceSymbol:            getEnv("PRICE_SYMBOL", "ETHUSDT"),
		BinanceBaseURL:         getEnv("BINANCE_BASE_URL", "https://api.binance.com/api/v3"),
		SubgraphURL:            getEnv("SUBGRAPH_URL", "https://api.thegraph.com/subgraphs/name/uniswap/uniswap-v3"),
		SubgraphPoolID:         getEnv("SUBGRAPH_POOL_ID", "0x8ad599c3a0ff1de082011efddc58f1908eb6e6d8"),
		PoolLabel:              getEnv("POOL_LABEL", "ETH-USDC-0.3%"),
		MarketRPS:              getEnvFloat("MARKET_RPS", 5.0),
		DirectionHorizon:       time.Duration(getEnvInt("DIRECTION_HORIZON_SEC", 3600)) * time.Second,
		DirectionEpsilonPct:    getEnvFloat("DIRECTION_EPSILON_PCT", 0.5),
		MinVolumeSurgePct:      getEnvFloat("MIN_VOLUME_SURGE_PCT", 5.0),
		ImpactCacheMaxAge:      time.Duration(getEnvInt("IMPACT_CACHE_HOURS", 24)) * time.Hour,
		ImpactCacheMaxSize:     getEnvInt("IMPACT_CACHE_MAX_SIZE", 10_000),
		CriticalETHThreshold:   getEnvFloat("CRITICAL_ETH_THRESHOLD", 500),
		CriticalTokenThreshold: getEnvFloat("CRITICAL_TOKEN_THRESHOLD", 500_000),
		HighETHThreshold:       getEnvFloat("HIGH_ETH_THRESHOLD", 250),
		HighTokenThreshold:     getEnvFloat("HIGH_TOKEN_THRESHOLD", 250_000),
		MinAlertConfidence:     getEnvFloat("MIN_ALERT_CONFIDENCE", 0.6),
		AlertHistoryMax:        getEnvInt("ALERT_HISTORY_MAX", 10_000),
		EnableExchangeAlerts:   getEnvBool("ENABLE_EXCHANGE_ALERTS", true),
		AlertMode:              getEnv("ALERT_MODE", "log"),
		WebhookURLs:            parseCSV(sec.Get("WEBHOOK_URLS", "")),
		WebhookSecret:          sec.Get("WEBHOOK_SIGNATURE_SECRET", ""),
		WebhookTimeout:         time.Duration(getEnvInt("WEBHOOK_TIMEOUT_SEC", 30)) * time.Second,
		WebhookRetryAttempts:   getEnvInt("WEBHOOK_RETRY_ATTEMPTS", 3),
		WebhookBackoffBase:     time.Duration(getEnvInt("WEBHOOK_BACKOFF_BASE_MS", 1000)) * time.Millisecond,
		DeliveryWorkers:        getEnvInt("DELIVERY_WORKERS", 2),
		DeliveryQueueSize:      getEnvInt("DELIVERY_QUEUE_SIZE", 256),
		DiscordWebhookURLs:     parseCSV(sec.Get("DISCORD_WEBHOOK_URLS", "")),
		SMTPHost:               getEnv("SMTP_HOST", ""),
		SMTPPort:               getEnvInt("SMTP_PORT", 587),
		SMTPUser:               getEnv("SMTP_USER", ""),
		SMTPPassword:           sec.Get("SMTP_PASSWORD", ""),
		SMTPFrom:               getEnv("SMTP_FROM", "whalewatch@example.com"),
		SMTPTo:                 parseCSV(getEnv("SMTP_TO", "")),
		WebsocketURL:           getEnv("WEBSOCKET_URL", ""),
		WebsocketToken:         sec.Get("WEBSOCKET_TOKEN", ""),
		DataFile:               getEnv("DATA_FILE", "whale_data.json"),
		AlertFile:              getEnv("ALERT_FILE", "whale_alerts.jsonl"),
		DashboardMaxPerAsset:   getEnvInt("DASHBOARD_MAX_PER_ASSET", 50),
		DashboardMaxAlerts:     getEnvInt("DASHBOARD_MAX_ALERTS", 100),
		DatabaseDSN:            sec.Get("DATABASE_DSN", ""),
		DatabaseMaxConns:       getEnvInt("DATABASE_MAX_CONNS", 10),
		DatabaseMaxIdleTime:    time.Duration(getEnvInt("DATABASE_MAX_IDLE_TIME_MINS", 5)) * time.Minute,
		HealthPort:             getEnvInt("HEALTH_PORT", 8080),
	}

	if err := sec.Err(); err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}

	horizons, err := parseSeconds(getEnv("PRICE_HORIZONS_SEC", "60,300,3600"))
	if err != nil {
		return nil, fmt.Errorf("invalid PRICE_HORIZONS_SEC: %w", err)
	}
	cfg.PriceHorizons = horizons

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	switch c.ChainSource {
	case ChainSourceEtherscan:
		if c.EtherscanAPIKey == "" {
			return fmt.Errorf("ETHERSCAN_API_KEY is required when CHAIN_SOURCE is etherscan (get one at https://etherscan.io/myapikey)")
		}
	case ChainSourceRPC:
		if c.RPCURL == "" {
			return fmt.Errorf("RPC_URL is required when CHAIN_SOURCE is rpc")
		}
	default:
		return fmt.Errorf("invalid CHAIN_SOURCE: %s (must be etherscan or rpc)", c.ChainSource)
	}

	if c.TokenDecimals < 0 || c.TokenDecimals > 36 {
		return fmt.Errorf("TOKEN_DECIMALS out of range: %d", c.TokenDecimals)
	}
	if c.WhaleThresholdETH <= 0 || c.WhaleThresholdToken <= 0 {
		return fmt.Errorf("whale thresholds must be positive")
	}
	if c.HighETHThreshold > c.CriticalETHThreshold || c.HighTokenThreshold > c.CriticalTokenThreshold {
		return fmt.Errorf("high thresholds must not exceed critical thresholds")
	}
	if c.MinAlertConfidence < 0 || c.MinAlertConfidence > 1 {
		return fmt.Errorf("MIN_ALERT_CONFIDENCE must be within [0,1]")
	}
	if c.ScanIntervalSec <= 0 || c.PriceIntervalSec <= 0 {
		return fmt.Errorf("scan and price intervals must be positive")
	}
	if c.EventWorkers < 1 {
		return fmt.Errorf("EVENT_WORKERS must be at least 1")
	}
	if c.ScanLagBlocks < 0 || c.ScanSpanBlocks < 0 {
		return fmt.Errorf("scan lag and span must not be negative")
	}
	if c.WebhookRetryAttempts < 1 {
		return fmt.Errorf("WEBHOOK_RETRY_ATTEMPTS must be at least 1")
	}
	if len(c.PriceHorizons) == 0 {
		return fmt.Errorf("at least one price horizon is required")
	}
	if !slices.Contains(c.PriceHorizons, c.DirectionHorizon) {
		return fmt.Errorf("DIRECTION_HORIZON_SEC (%s) must be one of PRICE_HORIZONS_SEC %v", c.DirectionHorizon, c.PriceHorizons)
	}

	// Validate alert mode (comma-separated list)
	for _, mode := range c.AlertModes() {
		if !validAlertModes[mode] {
			return fmt.Errorf("invalid ALERT_MODE value: %s (valid values: log, webhook, discord, smtp, websocket)", mode)
		}
		switch mode {
		case "webhook":
			if len(c.WebhookURLs) == 0 {
				return fmt.Errorf("WEBHOOK_URLS is required when webhook is in ALERT_MODE")
			}
		case "discord":
			if len(c.DiscordWebhookURLs) == 0 {
				return fmt.Errorf("DISCORD_WEBHOOK_URLS is required when discord is in ALERT_MODE")
			}
		case "smtp":
			if c.SMTPHost == "" || len(c.SMTPTo) == 0 {
				return fmt.Errorf("SMTP_HOST and SMTP_TO are required when smtp is in ALERT_MODE")
			}
		case "websocket":
			if c.WebsocketURL == "" {
				return fmt.Errorf("WEBSOCKET_URL is required when websocket is in ALERT_MODE")
			}
		}
	}

	return nil
}

// AlertModes returns the trimmed, non-empty entries of AlertMode
func (c *Config) AlertModes() []string {
	return parseCSV(c.AlertMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}

func parseCSV(s string) []string {
	var result []string
	for _, item := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func parseSeconds(s string) ([]time.Duration, error) {
	var out []time.Duration
	for _, item := range parseCSV(s) {
		secs, err := strconv.Atoi(item)
		if err != nil {
			return nil, err
		}
		if secs <= 0 {
			return nil, fmt.Errorf("horizon must be positive, got %d", secs)
		}
		out = append(out, time.Duration(secs)*time.Second)
	}
	return out, nil
}
