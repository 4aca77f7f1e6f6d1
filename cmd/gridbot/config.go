package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vitos/grid_ledger/internal/domain"
	"github.com/vitos/grid_ledger/internal/infrastructure/exchange"
	"github.com/vitos/grid_ledger/internal/infrastructure/logger"
	"github.com/vitos/grid_ledger/internal/usecase"
	"gopkg.in/yaml.v3"
)

const (
	GatewayAlpaca    = "alpaca"
	GatewaySimulated = "simulated"
)

type Config struct {
	Symbol  string `yaml:"symbol"`
	Gateway string `yaml:"gateway"`
	Alpaca  struct {
		KeyIDEnv     string  `yaml:"key_id_env"`
		SecretKeyEnv string  `yaml:"secret_key_env"`
		TradingURL   string  `yaml:"trading_url"`
		DataURL      string  `yaml:"data_url"`
		StreamURL    string  `yaml:"stream_url"`
		Feed         string  `yaml:"feed"`
		Stream       bool    `yaml:"stream"`
		RateLimitRPS float64 `yaml:"rate_limit_rps"`
	} `yaml:"alpaca"`
	Strategy struct {
		ReductionFactor   float64 `yaml:"reduction_factor"`
		Levels            int     `yaml:"levels"`
		StepPct           float64 `yaml:"step_pct"`
		ProfitPct         float64 `yaml:"profit_pct"`
		MinOrderShares    int64   `yaml:"min_order_shares"`
		MaxPositionShares int64   `yaml:"max_position_shares"`
		InitialCash       float64 `yaml:"initial_cash"`
		InitialPrice      float64 `yaml:"initial_price"`
		TimeInForce       string  `yaml:"time_in_force"`
		ExtendedHours     bool    `yaml:"extended_hours"`
	} `yaml:"strategy"`
	Polling struct {
		IntervalMs    int `yaml:"interval_ms"`
		CallTimeoutMs int `yaml:"call_timeout_ms"`
	} `yaml:"polling"`
	Simulation struct {
		InitialCash float64 `yaml:"initial_cash"`
		StartPrice  float64 `yaml:"start_price"`
		PriceFile   string  `yaml:"price_file"`
	} `yaml:"simulation"`
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		TailLines  int    `yaml:"tail_lines"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	if c.Gateway == "" {
		c.Gateway = GatewaySimulated
	}
	if c.Alpaca.KeyIDEnv == "" {
		c.Alpaca.KeyIDEnv = "APCA_API_KEY_ID"
	}
	if c.Alpaca.SecretKeyEnv == "" {
		c.Alpaca.SecretKeyEnv = "APCA_API_SECRET_KEY"
	}
	if c.Strategy.MinOrderShares == 0 {
		c.Strategy.MinOrderShares = 1
	}
	if c.Strategy.TimeInForce == "" {
		c.Strategy.TimeInForce = string(domain.TIFDay)
	}
	if c.Polling.IntervalMs == 0 {
		c.Polling.IntervalMs = 5000
	}
	if c.Polling.CallTimeoutMs == 0 {
		c.Polling.CallTimeoutMs = 10000
	}
	if c.Simulation.InitialCash == 0 {
		c.Simulation.InitialCash = 100000
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "gridbot.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.TailLines == 0 {
		c.Logging.TailLines = 200
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
}

func (c *Config) validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	switch c.Gateway {
	case GatewayAlpaca, GatewaySimulated:
	default:
		return fmt.Errorf("unknown gateway %q", c.Gateway)
	}
	switch domain.TimeInForce(c.Strategy.TimeInForce) {
	case domain.TIFDay, domain.TIFGTC:
	default:
		return fmt.Errorf("unknown time_in_force %q", c.Strategy.TimeInForce)
	}
	if c.Strategy.ExtendedHours && c.Strategy.TimeInForce != string(domain.TIFDay) {
		return fmt.Errorf("extended_hours requires time_in_force day")
	}
	if c.Strategy.MaxPositionShares < 0 {
		return fmt.Errorf("max_position_shares must not be negative")
	}
	if c.Polling.IntervalMs < 0 || c.Polling.CallTimeoutMs < 0 {
		return fmt.Errorf("polling intervals must not be negative")
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 || c.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("log rotation limits must not be negative")
	}
	return usecase.NewAllocationCalculator(c.allocation()).Validate()
}

func (c *Config) allocation() usecase.AllocationParams {
	return usecase.AllocationParams{
		ReductionFactor: c.Strategy.ReductionFactor,
		TotalLevels:     c.Strategy.Levels,
		StepPct:         c.Strategy.StepPct,
		ProfitPct:       c.Strategy.ProfitPct,
		MinOrderShares:  c.Strategy.MinOrderShares,
	}
}

func (c *Config) gridConfig() usecase.GridConfig {
	return usecase.GridConfig{
		Symbol:     c.Symbol,
		Allocation: c.allocation(),
		Orders: usecase.OrderPolicy{
			TimeInForce:   domain.TimeInForce(c.Strategy.TimeInForce),
			ExtendedHours: c.Strategy.ExtendedHours,
		},
		MaxPositionShares: c.Strategy.MaxPositionShares,
		InitialCash:       c.Strategy.InitialCash,
		InitialPrice:      c.Strategy.InitialPrice,
		PollInterval:      time.Duration(c.Polling.IntervalMs) * time.Millisecond,
		CallTimeout:       time.Duration(c.Polling.CallTimeoutMs) * time.Millisecond,
	}
}

func (c *Config) alpacaConfig() (exchange.AlpacaConfig, error) {
	keyID := os.Getenv(c.Alpaca.KeyIDEnv)
	secret := os.Getenv(c.Alpaca.SecretKeyEnv)
	if keyID == "" || secret == "" {
		return exchange.AlpacaConfig{}, fmt.Errorf("alpaca credentials missing: set %s and %s", c.Alpaca.KeyIDEnv, c.Alpaca.SecretKeyEnv)
	}
	return exchange.AlpacaConfig{
		KeyID:             keyID,
		SecretKey:         secret,
		TradingURL:        c.Alpaca.TradingURL,
		DataURL:           c.Alpaca.DataURL,
		StreamURL:         c.Alpaca.StreamURL,
		Feed:              c.Alpaca.Feed,
		RequestsPerSecond: c.Alpaca.RateLimitRPS,
	}, nil
}

func (c *Config) fileLogger() logger.FileConfig {
	return logger.FileConfig{
		Path:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
	}
}
