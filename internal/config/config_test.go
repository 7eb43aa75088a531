package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func loadDefaults(t *testing.T) *Config {
	t.Helper()
	t.Setenv("ETHERSCAN_API_KEY", "test-key")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg := loadDefaults(t)

	if cfg.ChainSource != ChainSourceEtherscan || cfg.EtherscanAPIKey != "test-key" {
		t.Errorf("unexpected chain settings %s %q", cfg.ChainSource, cfg.EtherscanAPIKey)
	}
	if cfg.WhaleThresholdETH != 100 || cfg.WhaleThresholdToken != 100_000 {
		t.Errorf("thresholds = %v/%v", cfg.WhaleThresholdETH, cfg.WhaleThresholdToken)
	}
	want := []time.Duration{time.Minute, 5 * time.Minute, time.Hour}
	if len(cfg.PriceHorizons) != len(want) {
		t.Fatalf("PriceHorizons = %v", cfg.PriceHorizons)
	}
	for i := range want {
		if cfg.PriceHorizons[i] != want[i] {
			t.Errorf("PriceHorizons[%d] = %s, want %s", i, cfg.PriceHorizons[i], want[i])
		}
	}
	if modes := cfg.AlertModes(); len(modes) != 1 || modes[0] != "log" {
		t.Errorf("AlertModes() = %v", modes)
	}
}

func TestLoadRequiresAPIKey(t *testing.T) {
	t.Setenv("ETHERSCAN_API_KEY", "")
	t.Setenv("CHAIN_SOURCE", "etherscan")
	if _, err := Load(); err == nil {
		t.Error("expected error without ETHERSCAN_API_KEY")
	}
}

func TestLoadSecretFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "webhook_secret")
	if err := os.WriteFile(file, []byte("s3cret\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WEBHOOK_SIGNATURE_SECRET_FILE", file)

	cfg := loadDefaults(t)
	if cfg.WebhookSecret != "s3cret" {
		t.Errorf("WebhookSecret = %q", cfg.WebhookSecret)
	}

	t.Setenv("WEBHOOK_SIGNATURE_SECRET_FILE", filepath.Join(t.TempDir(), "missing"))
	if _, err := Load(); err == nil {
		t.Error("expected error for unreadable secret file")
	}
}

func TestLoadDirectionHorizonMismatch(t *testing.T) {
	t.Setenv("ETHERSCAN_API_KEY", "test-key")
	t.Setenv("PRICE_HORIZONS_SEC", "60,300")
	if _, err := Load(); err == nil {
		t.Error("expected error when DIRECTION_HORIZON_SEC is not a price horizon")
	}

	t.Setenv("DIRECTION_HORIZON_SEC", "300")
	if _, err := Load(); err != nil {
		t.Errorf("Load() error = %v", err)
	}
}

func TestLoadWebsocketToken(t *testing.T) {
	t.Setenv("WEBHOOK_SIGNATURE_SECRET", "hmac-key")
	t.Setenv("WEBSOCKET_TOKEN", "ws-token")

	cfg := loadDefaults(t)
	if cfg.WebsocketToken != "ws-token" || cfg.WebhookSecret != "hmac-key" {
		t.Errorf("WebsocketToken = %q, WebhookSecret = %q", cfg.WebsocketToken, cfg.WebhookSecret)
	}
}

func TestLoadBadHorizons(t *testing.T) {
	t.Setenv("ETHERSCAN_API_KEY", "test-key")
	t.Setenv("PRICE_HORIZONS_SEC", "60,abc")
	if _, err := Load(); err == nil {
		t.Error("expected error for malformed horizons")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"rpc without url", func(c *Config) { c.ChainSource = ChainSourceRPC }, true},
		{"rpc with url", func(c *Config) { c.ChainSource = ChainSourceRPC; c.RPCURL = "http://node:8545" }, false},
		{"unknown source", func(c *Config) { c.ChainSource = "ipfs" }, true},
		{"high above critical", func(c *Config) { c.HighETHThreshold = 1000 }, true},
		{"confidence out of range", func(c *Config) { c.MinAlertConfidence = 1.5 }, true},
		{"zero threshold", func(c *Config) { c.WhaleThresholdETH = 0 }, true},
		{"no retry attempts", func(c *Config) { c.WebhookRetryAttempts = 0 }, true},
		{"no event workers", func(c *Config) { c.EventWorkers = 0 }, true},
		{"unknown alert mode", func(c *Config) { c.AlertMode = "log,pager" }, true},
		{"webhook without urls", func(c *Config) { c.AlertMode = "webhook" }, true},
		{"webhook with urls", func(c *Config) { c.AlertMode = "webhook"; c.WebhookURLs = []string{"https://example.com"} }, false},
		{"smtp without recipients", func(c *Config) { c.AlertMode = "smtp"; c.SMTPHost = "mail" }, true},
		{"websocket without url", func(c *Config) { c.AlertMode = "websocket" }, true},
		{"direction horizon not tracked", func(c *Config) { c.DirectionHorizon = 2 * time.Hour }, true},
		{"direction horizon tracked", func(c *Config) { c.DirectionHorizon = 5 * time.Minute }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loadDefaults(t)
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
