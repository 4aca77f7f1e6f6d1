package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/vitos/grid_ledger/internal/infrastructure/exchange"
	"github.com/vitos/grid_ledger/internal/infrastructure/logger"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Symbol string `yaml:"symbol"`
	Alpaca struct {
		KeyIDEnv     string `yaml:"key_id_env"`
		SecretKeyEnv string `yaml:"secret_key_env"`
		TradingURL   string `yaml:"trading_url"`
		DataURL      string `yaml:"data_url"`
		Feed         string `yaml:"feed"`
	} `yaml:"alpaca"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envOr(name, fallback string) string {
	if name == "" {
		name = fallback
	}
	return os.Getenv(name)
}

func main() {
	_ = godotenv.Load()

	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	keyID := envOr(cfg.Alpaca.KeyIDEnv, "APCA_API_KEY_ID")
	secret := envOr(cfg.Alpaca.SecretKeyEnv, "APCA_API_SECRET_KEY")
	if len(keyID) < 4 || secret == "" {
		fmt.Println("Alpaca credentials are not set")
		os.Exit(1)
	}

	log, err := logger.NewLogger("warn")
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Testing Alpaca Interaction...\n")
	fmt.Printf("Endpoint: %s\n", cfg.Alpaca.TradingURL)
	fmt.Printf("API Key: %s...\n", keyID[:4])

	adapter := exchange.NewAlpacaAdapter(exchange.AlpacaConfig{
		KeyID:      keyID,
		SecretKey:  secret,
		TradingURL: cfg.Alpaca.TradingURL,
		DataURL:    cfg.Alpaca.DataURL,
		Feed:       cfg.Alpaca.Feed,
	}, log)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	price, err := adapter.GetPrice(ctx, cfg.Symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get price: %v\n", err)
	} else {
		fmt.Printf("✅ Current Price (%s): %.2f\n", cfg.Symbol, price)
	}

	qty, err := adapter.GetPosition(ctx, cfg.Symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get position: %v\n", err)
	} else {
		fmt.Printf("✅ Position (%s): %d shares\n", cfg.Symbol, qty)
	}

	equity, err := adapter.GetAccountEquity(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to get account: %v\n", err)
	} else {
		fmt.Printf("✅ Account equity: %.2f\n", equity)
	}
}
