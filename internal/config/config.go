package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`
	Server struct {
		Addr                string   `yaml:"addr"`
		Pprof               bool     `yaml:"pprof"`
		ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
		IdleTimeoutSeconds  int      `yaml:"idle_timeout_seconds"`
		AdminAllowCIDRs     []string `yaml:"admin_allow_cidrs"`
	} `yaml:"server"`
	Exchange struct {
		Name           string `yaml:"name"`
		BaseURL        string `yaml:"base_url"`
		APIKey         string `yaml:"-"`
		Secret         string `yaml:"-"`
		RecvWindowMs   int    `yaml:"recv_window_ms"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		Retries        int    `yaml:"retries"`
	} `yaml:"exchange"`
	Trading Trading `yaml:"trading"`
}

// Trading holds everything the evaluation loop and the sequencer read.
type Trading struct {
	Live           bool               `yaml:"live"`
	DryRunBalances map[string]float64 `yaml:"dry_run_balances"`
	CyclesPath     string             `yaml:"cycles_path"`
	LogPath        string             `yaml:"log_path"`
	ExcludedAssets []string           `yaml:"excluded_assets"`

	StartingAmounts       map[string]float64 `yaml:"starting_amounts"`
	DefaultStartingAmount float64            `yaml:"default_starting_amount"`
	MinSurfaceRatePct     float64            `yaml:"min_surface_rate_pct"`
	TakerFeeOverride      *float64           `yaml:"taker_fee_override"`
	DefaultTakerFee       float64            `yaml:"default_taker_fee"`

	RequestsPerSecond int `yaml:"requests_per_second"`
	BookDepth         int `yaml:"book_depth"`
	SettleDelayMs     int `yaml:"settle_delay_ms"`
	StaggerMs         int `yaml:"stagger_ms"`
	RoundPauseMs      int `yaml:"round_pause_ms"`
}

// StartingAmount returns the configured notional for a starting asset.
func (t Trading) StartingAmount(asset string) float64 {
	if v, ok := t.StartingAmounts[asset]; ok && v > 0 {
		return v
	}
	return t.DefaultStartingAmount
}

func (t Trading) SettleDelay() time.Duration { return time.Duration(t.SettleDelayMs) * time.Millisecond }
func (t Trading) Stagger() time.Duration     { return time.Duration(t.StaggerMs) * time.Millisecond }
func (t Trading) RoundPause() time.Duration  { return time.Duration(t.RoundPauseMs) * time.Millisecond }

func defaultConfig() Config {
	var c Config
	c.Logging.Level = "info"
	c.Logging.Pretty = false
	c.Server.Addr = ":9090"
	c.Server.Pprof = false
	c.Server.ReadTimeoutSeconds = 5
	c.Server.WriteTimeoutSeconds = 10
	c.Server.IdleTimeoutSeconds = 60
	c.Server.AdminAllowCIDRs = []string{"127.0.0.0/8", "::1/128"}
	c.Exchange.Name = "bybit"
	c.Exchange.BaseURL = "https://api.bybit.com"
	c.Exchange.RecvWindowMs = 5000
	c.Exchange.TimeoutSeconds = 5
	c.Exchange.Retries = 2
	c.Trading.Live = false
	c.Trading.DryRunBalances = map[string]float64{"USDT": 1000, "USDC": 1000, "BTC": 0.01, "ETH": 0.1}
	c.Trading.CyclesPath = "markets.json"
	c.Trading.LogPath = "trading_logs.txt"
	c.Trading.ExcludedAssets = []string{"EUR"}
	c.Trading.StartingAmounts = map[string]float64{
		"USDT": 100,
		"USDC": 100,
		"BTC":  0.0001,
		"ETH":  0.01,
		"UNI":  16,
		"BETH": 0.045,
	}
	c.Trading.DefaultStartingAmount = 100
	c.Trading.MinSurfaceRatePct = 0
	c.Trading.DefaultTakerFee = 0.001
	c.Trading.RequestsPerSecond = 20
	c.Trading.BookDepth = 20
	c.Trading.SettleDelayMs = 300
	c.Trading.StaggerMs = 200
	c.Trading.RoundPauseMs = 300
	return c
}

// Load reads defaults, then the YAML file named by TRIARB_CONFIG (if any), then env overrides.
// A missing or broken file is ignored; use LoadFile when it must exist.
func Load() Config {
	c := defaultConfig()
	if path := os.Getenv("TRIARB_CONFIG"); path != "" {
		if b, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(b, &c)
		}
	}
	applyEnv(&c)
	return c
}

// LoadFile is Load with an explicit path that must exist and parse.
func LoadFile(path string) (Config, error) {
	c := defaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return c, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(&c); err != nil {
		return c, fmt.Errorf("decode yaml: %w", err)
	}
	applyEnv(&c)
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	t := c.Trading
	if t.RequestsPerSecond <= 0 {
		return fmt.Errorf("trading.requests_per_second must be positive, got %d", t.RequestsPerSecond)
	}
	if t.BookDepth <= 0 {
		return fmt.Errorf("trading.book_depth must be positive, got %d", t.BookDepth)
	}
	if t.DefaultStartingAmount <= 0 {
		return fmt.Errorf("trading.default_starting_amount must be positive, got %v", t.DefaultStartingAmount)
	}
	if t.TakerFeeOverride != nil && (*t.TakerFeeOverride < 0 || *t.TakerFeeOverride >= 1) {
		return fmt.Errorf("trading.taker_fee_override out of range: %v", *t.TakerFeeOverride)
	}
	if t.CyclesPath == "" {
		return fmt.Errorf("trading.cycles_path is empty")
	}
	return nil
}

func applyEnv(c *Config) {
	if v := os.Getenv("TRIARB_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TRIARB_LOG_PRETTY"); v == "1" || v == "true" {
		c.Logging.Pretty = true
	}
	if v := os.Getenv("TRIARB_HTTP_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("TRIARB_PPROF"); v == "1" || v == "true" {
		c.Server.Pprof = true
	}
	if v := os.Getenv("TRIARB_ADMIN_ALLOW_CIDRS"); v != "" {
		c.Server.AdminAllowCIDRs = splitCSV(v)
	}
	if v := os.Getenv("TRIARB_TRADING_LIVE"); v == "1" || v == "true" {
		c.Trading.Live = true
	}
	if v := os.Getenv("TRIARB_CYCLES_PATH"); v != "" {
		c.Trading.CyclesPath = v
	}
	if v := os.Getenv("TRIARB_TRADING_LOG_PATH"); v != "" {
		c.Trading.LogPath = v
	}
	if v := os.Getenv("TRIARB_EXCLUDED_ASSETS"); v != "" {
		c.Trading.ExcludedAssets = splitCSV(v)
	}
	if v := os.Getenv("TRIARB_MIN_SURFACE_RATE_PCT"); v != "" {
		var f float64
		if _, err := fmt.Sscan(v, &f); err == nil {
			c.Trading.MinSurfaceRatePct = f
		}
	}
	if v := os.Getenv("TRIARB_TAKER_FEE"); v != "" {
		var f float64
		if _, err := fmt.Sscan(v, &f); err == nil && f >= 0 {
			c.Trading.TakerFeeOverride = &f
		}
	}
	if v := os.Getenv("TRIARB_REQUESTS_PER_SECOND"); v != "" {
		var n int
		_, _ = fmt.Sscan(v, &n)
		if n > 0 {
			c.Trading.RequestsPerSecond = n
		}
	}
	if v := os.Getenv("TRIARB_SETTLE_DELAY_MS"); v != "" {
		var n int
		if _, err := fmt.Sscan(v, &n); err == nil && n >= 0 {
			c.Trading.SettleDelayMs = n
		}
	}
	// API keys only from env
	if v := os.Getenv("TRIARB_BYBIT_API_KEY"); v != "" {
		c.Exchange.APIKey = v
	}
	if v := os.Getenv("TRIARB_BYBIT_SECRET"); v != "" {
		c.Exchange.Secret = v
	}
	// testnet and mainnet differ only by host
	if v := os.Getenv("TRIARB_BYBIT_BASE_URL"); v != "" {
		c.Exchange.BaseURL = v
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
